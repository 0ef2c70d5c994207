package accounts

import (
	"net/http"

	"lv-walletledger/internal/httputil"
	"lv-walletledger/internal/model"
	"lv-walletledger/internal/types"

	"github.com/shopspring/decimal"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request, userID string) {
	accts, err := h.svc.ListByUser(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if accts == nil {
		accts = []model.Account{}
	}
	httputil.WriteJSON(w, http.StatusOK, accts)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request, key model.AccountKey) {
	acct, err := h.svc.Get(r.Context(), key)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acct)
}

// Open provisions the account explicitly. Repeating it is harmless.
func (h *Handler) Open(w http.ResponseWriter, r *http.Request, key model.AccountKey) {
	acct, err := h.svc.GetOrCreate(r.Context(), key)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acct)
}

func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request, key model.AccountKey) {
	var req struct {
		Status string `json:"status"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	acct, err := h.svc.SetStatus(r.Context(), key, types.AccountStatus(req.Status))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acct)
}

func (h *Handler) Retire(w http.ResponseWriter, r *http.Request, key model.AccountKey) {
	acct, err := h.svc.Retire(r.Context(), key)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acct)
}

func (h *Handler) SetAddress(w http.ResponseWriter, r *http.Request, key model.AccountKey, network string) {
	var req struct {
		Address string          `json:"address"`
		Balance decimal.Decimal `json:"balance"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	acct, err := h.svc.SetAddress(r.Context(), key, model.Address{Address: req.Address, Network: network, Balance: req.Balance})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acct)
}
