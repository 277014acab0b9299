package web

import (
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"

	"github.com/b-aragu/organic-sphere/internal/health"
	"github.com/b-aragu/organic-sphere/internal/history"
	"github.com/b-aragu/organic-sphere/internal/observe"
	"github.com/b-aragu/organic-sphere/internal/responder"
	"github.com/b-aragu/organic-sphere/internal/turn"
)

//go:embed static
var staticFiles embed.FS

// defaultTurnsLimit and maxTurnsLimit bound GET /api/turns.
const (
	defaultTurnsLimit = 20
	maxTurnsLimit     = 500
)

// Options wires the handlers. Nil fields disable the routes that need them.
type Options struct {
	Hub       *Hub
	State     func() turn.Snapshot
	History   history.Store
	Responder responder.Responder
	Health    *health.Handler

	// MetricsHandler is served on /metrics.
	MetricsHandler http.Handler

	// Metrics instruments every request. Required.
	Metrics *observe.Metrics
}

// NewHandler returns the HTTP handler of the web surface.
func NewHandler(opts Options) http.Handler {
	mux := http.NewServeMux()

	static, _ := fs.Sub(staticFiles, "static")
	mux.Handle("GET /", http.FileServerFS(static))

	if opts.Hub != nil {
		mux.Handle("GET /ws", opts.Hub)
	}
	if opts.State != nil {
		mux.HandleFunc("GET /api/state", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, opts.State())
		})
	}
	if opts.History != nil {
		mux.HandleFunc("GET /api/turns", listTurns(opts.History))
		mux.HandleFunc("GET /api/turns/{id}", getTurn(opts.History))
	}
	if opts.Responder != nil {
		mux.Handle("POST /api/respond", responder.Handler(opts.Responder))
	}
	if opts.Health != nil {
		opts.Health.Register(mux)
	}
	if opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", opts.MetricsHandler)
	}

	return observe.Middleware(opts.Metrics)(mux)
}

func listTurns(store history.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultTurnsLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = min(n, maxTurnsLimit)
		}
		turns, err := store.Recent(r.Context(), limit)
		if err != nil {
			observe.Logger(r.Context()).Error("web: list turns", "err", err)
			writeError(w, http.StatusInternalServerError, "could not load history")
			return
		}
		if turns == nil {
			turns = []history.Turn{}
		}
		writeJSON(w, http.StatusOK, turns)
	}
}

func getTurn(store history.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid turn id")
			return
		}
		t, err := store.Get(r.Context(), id)
		switch {
		case errors.Is(err, history.ErrNotFound):
			writeError(w, http.StatusNotFound, "turn not found")
		case err != nil:
			observe.Logger(r.Context()).Error("web: get turn", "id", id, "err", err)
			writeError(w, http.StatusInternalServerError, "could not load history")
		default:
			writeJSON(w, http.StatusOK, t)
		}
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
