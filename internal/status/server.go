package status

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"humed/pkg/logx"
)

const defaultMetricsAddr = "127.0.0.1:9189"

// contentType matches the Prometheus text exposition format version.
const contentType = "text/plain; version=0.0.4"

// Server exposes the status table over HTTP. It runs independently of the
// listener and worker; a slow scrape never blocks ingestion or delivery.
type Server struct {
	addr  string
	token string
	table *Table
	log   logx.Logger

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

func NewServer(addr, token string, table *Table, log logx.Logger) *Server {
	if addr == "" {
		addr = defaultMetricsAddr
	}
	return &Server{
		addr:  addr,
		token: token,
		table: table,
		log:   log.With(logx.String("component", "metrics")),
	}
}

// Start binds and begins serving in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics: bind %s: %w", s.addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.ln = ln
	s.srv = srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("metrics server stopped", logx.Err(err))
		}
	}()
	s.log.Info("metrics server started", logx.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address. Valid after Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// Stop shuts the server down, waiting for in-flight scrapes up to the
// context deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// handleMetrics serves GET /metrics. The mux registration is an exact path
// so every other path already 404s.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", contentType)
	fmt.Fprint(w, s.table.RenderMetrics())
}

func (s *Server) authorized(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	got, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) == 1
}
