package httpserver

import (
	"log/slog"
	"net/http"

	"lv-walletledger/internal/accounts"
	"lv-walletledger/internal/balance"
	"lv-walletledger/internal/health"
	"lv-walletledger/internal/httputil"
	"lv-walletledger/internal/ledger"
	"lv-walletledger/internal/metrics"
	"lv-walletledger/internal/model"
	"lv-walletledger/internal/reservations"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type RouterDeps struct {
	AccountsHandler     *accounts.Handler
	LedgerHandler       *ledger.Handler
	BalanceHandler      *balance.Handler
	ReservationsHandler *reservations.Handler
	HealthHandler       *health.Handler
	WSHandler           http.Handler
	MetricsHandler      http.Handler
	MetricsPath         string
	Metrics             *metrics.Metrics
	RateLimiter         *RateLimiter
	InternalToken       string
	Logger              *slog.Logger
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(Observe(d.Metrics, d.Logger))
	if d.RateLimiter != nil {
		r.Use(d.RateLimiter.Middleware)
	}

	r.Get("/health/live", d.HealthHandler.Live)
	r.Get("/health/ready", d.HealthHandler.Ready)
	r.Get("/health/full", d.HealthHandler.Full)
	if d.MetricsHandler != nil && d.MetricsPath != "" {
		r.Method(http.MethodGet, d.MetricsPath, d.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		if d.WSHandler != nil {
			r.Get("/ws", d.WSHandler.ServeHTTP)
		}
		r.Group(func(r chi.Router) {
			r.Use(InternalAuth(d.InternalToken))

			r.Get("/users/{userID}/accounts", func(w http.ResponseWriter, r *http.Request) {
				d.AccountsHandler.List(w, r, chi.URLParam(r, "userID"))
			})
			r.Route("/accounts/{userID}/{currency}/{walletType}", func(r chi.Router) {
				r.Get("/", withAccount(d.AccountsHandler.Get))
				r.Put("/", withAccount(d.AccountsHandler.Open))
				r.Delete("/", withAccount(d.AccountsHandler.Retire))
				r.Put("/status", withAccount(d.AccountsHandler.SetStatus))
				r.Put("/addresses/{network}", withAccount(func(w http.ResponseWriter, r *http.Request, key model.AccountKey) {
					d.AccountsHandler.SetAddress(w, r, key, chi.URLParam(r, "network"))
				}))
				r.Get("/entries", withAccount(d.LedgerHandler.Entries))
				r.Get("/verify", withAccount(d.LedgerHandler.Verify))
				r.Get("/reservations", withAccount(d.ReservationsHandler.Tickets))
			})

			r.Post("/entries", d.BalanceHandler.ApplyEntry)
			r.Post("/transfers", d.BalanceHandler.ApplyTransfer)
			r.Post("/batches", d.BalanceHandler.ApplyBatch)

			r.Post("/reservations", d.ReservationsHandler.Reserve)
			r.Post("/reservations/release", d.ReservationsHandler.Release)
			r.Post("/reservations/settle", d.ReservationsHandler.Settle)
			r.Get("/reservations/{ticketID}", func(w http.ResponseWriter, r *http.Request) {
				d.ReservationsHandler.Ticket(w, r, chi.URLParam(r, "ticketID"))
			})
		})
	})
	return r
}

func withAccount(fn func(http.ResponseWriter, *http.Request, model.AccountKey)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := accounts.ParseKey(chi.URLParam(r, "userID"), chi.URLParam(r, "currency"), chi.URLParam(r, "walletType"))
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		fn(w, r, key)
	}
}
