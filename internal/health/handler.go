package health

import (
	"context"
	"crypto/subtle"
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"lv-walletledger/internal/httputil"
)

const storeTimeout = time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	store       Pinger
	startedAt   time.Time
	storeDriver string
	httpAddr    string
	internalTok string
}

func NewHandler(store Pinger, startedAt time.Time, storeDriver, httpAddr, internalToken string) *Handler {
	start := startedAt.UTC()
	if start.IsZero() {
		start = time.Now().UTC()
	}
	return &Handler{
		store:       store,
		startedAt:   start,
		storeDriver: strings.TrimSpace(storeDriver),
		httpAddr:    strings.TrimSpace(httpAddr),
		internalTok: strings.TrimSpace(internalToken),
	}
}

type liveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	UptimeSec int64  `json:"uptime_sec"`
}

type storeStats struct {
	Driver    string `json:"driver"`
	Reachable bool   `json:"reachable"`
	PingMs    int64  `json:"ping_ms"`
	Error     string `json:"error,omitempty"`
	CheckedAt string `json:"checked_at"`
}

type readinessResponse struct {
	Status    string     `json:"status"`
	Timestamp string     `json:"timestamp"`
	UptimeSec int64      `json:"uptime_sec"`
	Store     storeStats `json:"store"`
}

type fullResponse struct {
	readinessResponse
	HTTPAddr string       `json:"http_addr"`
	Process  processStats `json:"process"`
	Runtime  runtimeStats `json:"runtime"`
	Build    buildStats   `json:"build"`
}

type processStats struct {
	PID      int    `json:"pid"`
	Hostname string `json:"hostname"`
	GoOS     string `json:"go_os"`
	GoArch   string `json:"go_arch"`
}

type runtimeStats struct {
	GoVersion      string `json:"go_version"`
	Goroutines     int    `json:"goroutines"`
	GoMaxProcs     int    `json:"gomaxprocs"`
	HeapAllocBytes uint64 `json:"heap_alloc_bytes"`
	SysBytes       uint64 `json:"sys_bytes"`
	NumGC          uint32 `json:"num_gc"`
}

type buildStats struct {
	MainPath string `json:"main_path"`
	Version  string `json:"version"`
}

func (h *Handler) uptime(now time.Time) time.Duration {
	uptime := now.Sub(h.startedAt)
	if uptime < 0 {
		return 0
	}
	return uptime
}

func secureTokenEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (h *Handler) collectStore(ctx context.Context) storeStats {
	stats := storeStats{Driver: h.storeDriver}
	if h.store == nil {
		stats.Error = "store is not configured"
		stats.CheckedAt = time.Now().UTC().Format(time.RFC3339)
		return stats
	}
	start := time.Now()
	pingCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	err := h.store.Ping(pingCtx)
	cancel()
	stats.PingMs = time.Since(start).Milliseconds()
	stats.CheckedAt = time.Now().UTC().Format(time.RFC3339)
	if err != nil {
		stats.Error = err.Error()
	} else {
		stats.Reachable = true
	}
	return stats
}

func (h *Handler) readiness(ctx context.Context) (readinessResponse, int) {
	now := time.Now().UTC()
	resp := readinessResponse{
		Status:    "ok",
		Timestamp: now.Format(time.RFC3339),
		UptimeSec: int64(h.uptime(now).Seconds()),
		Store:     h.collectStore(ctx),
	}
	if !resp.Store.Reachable {
		resp.Status = "degraded"
		return resp, http.StatusServiceUnavailable
	}
	return resp, http.StatusOK
}

// Live does not touch the store.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	httputil.WriteJSON(w, http.StatusOK, liveResponse{
		Status:    "ok",
		Timestamp: now.Format(time.RFC3339),
		UptimeSec: int64(h.uptime(now).Seconds()),
	})
}

// Ready answers 503 while the store cannot be reached.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	resp, status := h.readiness(r.Context())
	httputil.WriteJSON(w, status, resp)
}

// Full adds process and runtime diagnostics and requires X-Internal-Token.
func (h *Handler) Full(w http.ResponseWriter, r *http.Request) {
	if h.internalTok == "" {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, httputil.ErrorResponse{Error: "internal token is not configured"})
		return
	}
	if !secureTokenEqual(strings.TrimSpace(r.Header.Get("X-Internal-Token")), h.internalTok) {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid internal token"})
		return
	}

	ready, status := h.readiness(r.Context())
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	host, _ := os.Hostname()
	build := buildStats{}
	if info, ok := debug.ReadBuildInfo(); ok && info != nil {
		build.MainPath = strings.TrimSpace(info.Main.Path)
		build.Version = strings.TrimSpace(info.Main.Version)
	}
	httputil.WriteJSON(w, status, fullResponse{
		readinessResponse: ready,
		HTTPAddr:          h.httpAddr,
		Process: processStats{
			PID:      os.Getpid(),
			Hostname: host,
			GoOS:     runtime.GOOS,
			GoArch:   runtime.GOARCH,
		},
		Runtime: runtimeStats{
			GoVersion:      runtime.Version(),
			Goroutines:     runtime.NumGoroutine(),
			GoMaxProcs:     runtime.GOMAXPROCS(0),
			HeapAllocBytes: mem.HeapAlloc,
			SysBytes:       mem.Sys,
			NumGC:          mem.NumGC,
		},
		Build: build,
	})
}
