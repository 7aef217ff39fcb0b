package web

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/davecap/coag-sense-tracker/internal/ports"
)

// Server exposes the query interface consumed by the UI layer: current
// session status, the last persisted result set, and the live event stream.
type Server struct {
	hub     *Hub
	results ports.ResultStore
	obs     ports.Observability

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

func NewServer(addr string, hub *Hub, results ports.ResultStore, obs ports.Observability) *Server {
	s := &Server{hub: hub, results: results, obs: obs}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/results", s.handleResults)
	mux.HandleFunc("/ws", hub.HandleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.obs.LogError("web_server_exited", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.hub.Status()
	writeJSON(w, map[string]any{
		"server_ip":             s.hub.serverIP,
		"device_port":           s.hub.devicePort,
		"device_connected":      st.DeviceConnected,
		"transfer_in_progress":  st.TransferInProgress,
		"observations_received": st.ObservationsReceived,
	})
}

func (s *Server) handleResults(w http.ResponseWriter, _ *http.Request) {
	rs, err := s.results.Load()
	if err != nil {
		s.obs.LogError("results_load_failed", err)
		http.Error(w, "failed to load results", http.StatusInternalServerError)
		return
	}
	writeJSON(w, rs)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// LocalIP returns the host's outbound interface address, falling back to
// loopback when the route lookup fails (no packets are actually sent).
func LocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}
