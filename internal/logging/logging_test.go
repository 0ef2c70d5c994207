package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestNewWritesServiceFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info", "wallet-ledger", "test")
	log.Debug("hidden")
	log.Info("entry applied", "account_id", "a1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "wallet-ledger", rec["service"])
	assert.Equal(t, "test", rec["env"])
	assert.Equal(t, "a1", rec["account_id"])
}
