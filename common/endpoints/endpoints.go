package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/twitter/rulecomp/common/stats"
)

// StatusFunc returns a JSON-serializable snapshot served under /admin/status.json.
type StatusFunc func() interface{}

// NewTwitterServer creates an admin server exposing health, metrics and an optional status snapshot.
func NewTwitterServer(addr string, stats stats.StatsReceiver, status StatusFunc) *TwitterServer {
	s := &TwitterServer{
		Addr:   addr,
		Stats:  stats,
		Status: status,
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("/", helpHandler)
	s.mux.HandleFunc("/health", healthHandler)
	s.mux.HandleFunc("/admin/metrics.json", s.statsHandler)
	s.mux.HandleFunc("/admin/status.json", s.statusHandler)
	return s
}

type TwitterServer struct {
	Addr   string
	Stats  stats.StatsReceiver
	Status StatusFunc

	mux *http.ServeMux
	srv *http.Server
}

// Serve blocks serving requests on ln until Shutdown is called.
func (s *TwitterServer) Serve(ln net.Listener) error {
	s.srv = &http.Server{Handler: s.mux}
	log.WithFields(log.Fields{"addr": ln.Addr().String()}).Info("Serving http & stats")
	err := s.srv.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// ListenAndServe binds s.Addr and serves on it.
func (s *TwitterServer) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

func (s *TwitterServer) Shutdown() error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *TwitterServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func helpHandler(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "Common paths: '/health', '/admin/metrics.json', '/admin/status.json'", http.StatusNotImplemented)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "ok")
}

func (s *TwitterServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	pretty := r.URL.Query().Get("pretty") == "true"
	if _, err := io.Copy(w, bytes.NewBuffer(s.Stats.Render(pretty))); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *TwitterServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	if s.Status == nil {
		http.Error(w, "no status available", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(s.Status()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// MakeStatsReceiver returns a latched finagle-style receiver scoped under scope.
func MakeStatsReceiver(scope string) (stats.StatsReceiver, func()) {
	s, cancel := stats.NewCustomStatsReceiver(stats.NewFinagleStatsRegistry, 15*time.Second)
	return s.Scope(scope).Precision(time.Millisecond), cancel
}
