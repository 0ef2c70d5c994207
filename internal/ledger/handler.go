package ledger

import (
	"net/http"
	"strconv"

	"lv-walletledger/internal/httputil"
	"lv-walletledger/internal/model"
	"lv-walletledger/internal/walleterr"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type entriesPage struct {
	AccountID string              `json:"account_id"`
	Entries   []model.LedgerEntry `json:"entries"`
	NextAfter int64               `json:"next_after,omitempty"`
}

// Entries serves one page of an account statement. Paging is by sequence:
// ?after=<seq>&limit=<n>.
func (h *Handler) Entries(w http.ResponseWriter, r *http.Request, key model.AccountKey) {
	after, limit, err := pageParams(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	acct, err := h.svc.store.GetAccount(r.Context(), key)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	page := entriesPage{AccountID: acct.ID, Entries: []model.LedgerEntry{}}
	for e, err := range h.svc.EntriesAfter(r.Context(), acct.ID, after) {
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		if len(page.Entries) == limit {
			page.NextAfter = page.Entries[len(page.Entries)-1].Seq
			break
		}
		page.Entries = append(page.Entries, e)
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request, key model.AccountKey) {
	rep, err := h.svc.Verify(r.Context(), key)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rep)
}

func pageParams(r *http.Request) (int64, int, error) {
	q := r.URL.Query()
	var after int64
	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return 0, 0, walleterr.Invalid("invalid after %q", v)
		}
		after = n
	}
	limit := defaultPageSize
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return 0, 0, walleterr.Invalid("invalid limit %q", v)
		}
		limit = min(n, maxPageSize)
	}
	return after, limit, nil
}
