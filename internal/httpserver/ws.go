package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"lv-walletledger/internal/accounts"
	"lv-walletledger/internal/events"
	"lv-walletledger/internal/model"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPingPeriod = 30 * time.Second
	wsPongWait   = 2 * wsPingPeriod

	typeAccountsSnapshot = "accounts_snapshot"
)

// WSHandler streams one user's balance changes. On connect it sends the
// user's accounts, then every committed entry for that user.
type WSHandler struct {
	bus      *events.Bus
	accounts *accounts.Service
	token    string
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(bus *events.Bus, accountSvc *accounts.Service, token, origin string, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		bus:      bus,
		accounts: accountSvc,
		token:    token,
		log:      logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return allowOrigin(r, origin) },
		},
	}
}

func allowOrigin(r *http.Request, origin string) bool {
	reqOrigin := r.Header.Get("Origin")
	if reqOrigin == "" || origin == "*" {
		return true
	}
	return strings.EqualFold(reqOrigin, origin)
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Browsers cannot set headers on a websocket handshake, so the token may
	// also come as a query parameter.
	token := r.Header.Get("X-Internal-Token")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if !tokenOK(h.token, token) {
		http.Error(w, "invalid internal token", http.StatusUnauthorized)
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	sub := h.bus.Subscribe()
	defer h.bus.Unsubscribe(sub)

	snapshot, err := h.snapshot(r.Context(), userID)
	if err != nil {
		h.log.Warn("ws snapshot failed", "user_id", userID, "error", err)
		return
	}
	if err := h.write(conn, snapshot); err != nil {
		return
	}

	done := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case evt, ok := <-sub:
			if !ok {
				return
			}
			if evt.UserID != userID {
				continue
			}
			if err := h.write(conn, evt); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *WSHandler) snapshot(ctx context.Context, userID string) (events.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	accts, err := h.accounts.ListByUser(ctx, userID)
	if err != nil {
		return events.Event{}, err
	}
	if accts == nil {
		accts = []model.Account{}
	}
	return events.Event{Type: typeAccountsSnapshot, UserID: userID, Data: accts}, nil
}

func (h *WSHandler) write(conn *websocket.Conn, evt events.Event) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(evt)
}
