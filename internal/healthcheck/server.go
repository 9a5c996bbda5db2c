package healthcheck

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/quailyquaily/livia/internal/healthmon"
	"github.com/quailyquaily/livia/internal/taskstore"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type StatusFunc func() healthmon.Status

type RoutesOptions struct {
	Version   string
	AuthToken string
	Status    StatusFunc
	Tasks     taskstore.Reader
	// QueueLen reports the number of events waiting for a worker.
	QueueLen func() int
}

func RegisterRoutes(mux *http.ServeMux, opts RoutesOptions) {
	if mux == nil {
		return
	}
	authToken := strings.TrimSpace(opts.AuthToken)
	started := time.Now()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead:
		default:
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		code := http.StatusOK
		payload := map[string]any{
			"ok":     true,
			"time":   time.Now().Format(time.RFC3339Nano),
			"uptime": time.Since(started).Round(time.Second).String(),
		}
		if v := strings.TrimSpace(opts.Version); v != "" {
			payload["version"] = v
		}
		if opts.Status != nil {
			st := opts.Status()
			payload["monitor"] = st
			if !st.Healthy {
				payload["ok"] = false
				code = http.StatusServiceUnavailable
			}
		}
		if opts.QueueLen != nil {
			payload["queue_len"] = opts.QueueLen()
		}
		if opts.Tasks != nil {
			payload["tasks"] = opts.Tasks.Counts()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if r.Method == http.MethodHead {
			return
		}
		_ = json.NewEncoder(w).Encode(payload)
	})

	if opts.Tasks == nil || authToken == "" {
		return
	}
	reader := opts.Tasks

	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !checkAuth(r, authToken) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		status, ok := taskstore.ParseTaskStatus(r.URL.Query().Get("status"))
		if !ok {
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}
		limit := 20
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = parsed
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"items": reader.List(status, limit)})
	})

	mux.HandleFunc("/tasks/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !checkAuth(r, authToken) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		id := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/tasks/"))
		if id == "" {
			http.Error(w, "missing id", http.StatusBadRequest)
			return
		}
		info, ok := reader.Get(id)
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(info)
	})
}

type ServerOptions struct {
	Listen string
	Routes RoutesOptions
}

// StartServer serves until ctx is done. An empty listen address disables it.
func StartServer(ctx context.Context, logger *slog.Logger, opts ServerOptions) (*http.Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	listen := strings.TrimSpace(opts.Listen)
	if listen == "" {
		return nil, errors.New("empty health listen address")
	}

	mux := http.NewServeMux()
	RegisterRoutes(mux, opts.Routes)

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health_server_error", "addr", listen, "error", err.Error())
		}
	}()

	logger.Info("health_server_start",
		"addr", srv.Addr,
		"tasks_enabled", opts.Routes.Tasks != nil && strings.TrimSpace(opts.Routes.AuthToken) != "",
	)
	return srv, nil
}

func checkAuth(r *http.Request, token string) bool {
	got := strings.TrimSpace(r.Header.Get("Authorization"))
	want := "Bearer " + token
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
