package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"lv-walletledger/internal/walleterr"
)

const maxBodyBytes = 1 << 20

type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func ReadJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return walleterr.Invalid("invalid json: %v", err)
	}
	return nil
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a wallet error onto its HTTP status. Anything unrecognised
// is a 500 with a generic body.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	WriteJSON(w, status, ErrorResponse{Error: msg, Reason: walleterr.Reason(err)})
}

func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, walleterr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, walleterr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, walleterr.ErrDuplicateEntry):
		return http.StatusConflict
	case errors.Is(err, walleterr.ErrInsufficientFunds), errors.Is(err, walleterr.ErrInsufficientReservation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, walleterr.ErrAccountFrozen):
		return http.StatusLocked
	case errors.Is(err, walleterr.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
