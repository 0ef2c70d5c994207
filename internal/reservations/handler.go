package reservations

import (
	"net/http"

	"lv-walletledger/internal/httputil"
	"lv-walletledger/internal/model"
	"lv-walletledger/internal/walleterr"
)

type Handler struct {
	mgr *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{mgr: mgr}
}

func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	ticket, acct, err := h.mgr.Reserve(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"ticket": ticket, "account": acct})
}

func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	acct, err := h.mgr.Release(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acct)
}

func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	acct, err := h.mgr.Settle(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acct)
}

func (h *Handler) Ticket(w http.ResponseWriter, r *http.Request, id string) {
	t, ok := h.mgr.Ticket(id)
	if !ok {
		httputil.WriteError(w, walleterr.ErrNotFound)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

func (h *Handler) Tickets(w http.ResponseWriter, r *http.Request, key model.AccountKey) {
	out := h.mgr.Tickets(key)
	if out == nil {
		out = []Ticket{}
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}
