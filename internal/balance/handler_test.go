package balance

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"lv-walletledger/internal/httputil"
	"lv-walletledger/internal/model"
	"lv-walletledger/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func post(h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	return rec
}

func TestHandlerApplyEntry(t *testing.T) {
	f := newFixture(t, memory.New(), Options{})
	h := NewHandler(f.engine)

	rec := post(h.ApplyEntry, `{"account":{"user_id":"U","currency":"usd","wallet_type":"fiat"},"amount":"100.50","kind":"deposit","idempotency_key":"d1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var acct model.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acct))
	assert.Equal(t, "100.5", acct.Balance.String())

	rec = post(h.ApplyEntry, `{"account":{"user_id":"U","currency":"USD","wallet_type":"FIAT"},"amount":"-200","kind":"WITHDRAWAL","idempotency_key":"w1"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "insufficient_funds", body.Reason)

	rec = post(h.ApplyEntry, `{"account":{"user_id":"U","currency":"USD","wallet_type":"FIAT"},"amount":"0","kind":"DEPOSIT","idempotency_key":"z"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(h.ApplyEntry, `{"account":{"user_id":"U","currency":"USD","wallet_type":"FIAT"},"amount":"7","kind":"DEPOSIT","idempotency_key":"d1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerTransferAndBatch(t *testing.T) {
	f := newFixture(t, memory.New(), Options{})
	h := NewHandler(f.engine)

	rec := post(h.ApplyBatch, `{"entries":[
		{"account":{"user_id":"A","currency":"BTC","wallet_type":"SPOT"},"amount":"1","kind":"DEPOSIT","idempotency_key":"a1"},
		{"account":{"user_id":"B","currency":"BTC","wallet_type":"SPOT"},"amount":"2","kind":"DEPOSIT","idempotency_key":"b1"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = post(h.ApplyTransfer, `{
		"from":{"account":{"user_id":"B","currency":"BTC","wallet_type":"SPOT"},"amount":"-0.5","idempotency_key":"t/out"},
		"to":{"account":{"user_id":"A","currency":"BTC","wallet_type":"SPOT"},"amount":"0.5","idempotency_key":"t/in"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res TransferResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "1.5", res.To.Balance.String())
	assert.Equal(t, "1.5", res.From.Balance.String())
	assert.NotEmpty(t, res.Reference)
}
