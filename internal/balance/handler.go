package balance

import (
	"net/http"

	"lv-walletledger/internal/httputil"
	"lv-walletledger/internal/model"
)

type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) ApplyEntry(w http.ResponseWriter, r *http.Request) {
	var d model.Draft
	if err := httputil.ReadJSON(r, &d); err != nil {
		httputil.WriteError(w, err)
		return
	}
	acct, err := h.engine.ApplyEntry(r.Context(), d)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acct)
}

func (h *Handler) ApplyTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From model.Draft `json:"from"`
		To   model.Draft `json:"to"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.engine.ApplyTransfer(r.Context(), req.From, req.To)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) ApplyBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Entries []model.Draft `json:"entries"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	accts, err := h.engine.ApplyBatch(r.Context(), req.Entries...)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, accts)
}
