package poct

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/davecap/coag-sense-tracker/internal/domain"
	"github.com/davecap/coag-sense-tracker/internal/ports"
)

// readChunkSize matches the device's exchange pattern: one logical message
// per read-derived chunk, well under 8 KiB.
const readChunkSize = 8192

// ServerConfig holds the device listener's transport parameters.
type ServerConfig struct {
	Port int
	// ReadTimeout bounds each read mid-session. Expiry mid-transfer is a
	// session-fatal failure; the session is closed and aggregated as-is.
	ReadTimeout time.Duration
	// AcceptPoll bounds each Accept wait so the loop can observe shutdown.
	AcceptPoll time.Duration
}

// Server owns the device-facing TCP listener. It services one connection at
// a time; the single physical instrument never opens concurrent sessions.
type Server struct {
	cfg      ServerConfig
	enc      *Encoder
	captures ports.CaptureStore
	events   ports.EventQueue
	agg      ports.Aggregator
	obs      ports.Observability

	mu sync.Mutex
	ln *net.TCPListener
	wg sync.WaitGroup
}

func NewServer(cfg ServerConfig, enc *Encoder, captures ports.CaptureStore, events ports.EventQueue, agg ports.Aggregator, obs ports.Observability) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 120 * time.Second
	}
	if cfg.AcceptPoll <= 0 {
		cfg.AcceptPoll = time.Second
	}
	return &Server{
		cfg:      cfg,
		enc:      enc,
		captures: captures,
		events:   events,
		agg:      agg,
		obs:      obs,
	}
}

// Start binds the listener and launches the device worker. The worker exits
// when ctx is cancelled or Stop closes the listener.
func (s *Server) Start(ctx context.Context) error {
	addr, err := net.ResolveTCPAddr("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return err
	}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return fmt.Errorf("device listener: %w", err)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.obs.LogInfo("poct_listener_started",
		ports.Field{Key: "addr", Value: ln.Addr().String()})

	s.wg.Add(1)
	go s.acceptLoop(ctx, ln)
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop closes the listener and waits for the device worker to exit. Safe to
// call more than once.
func (s *Server) Stop() error {
	s.mu.Lock()
	ln := s.ln
	s.ln = nil
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.wg.Wait()
	return err
}

// acceptLoop is the device worker: it polls Accept with a bounded deadline
// so an idle listener can observe shutdown, then services connections one
// at a time.
func (s *Server) acceptLoop(ctx context.Context, ln *net.TCPListener) {
	defer s.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		if err := ln.SetDeadline(time.Now().Add(s.cfg.AcceptPoll)); err != nil {
			return
		}
		conn, err := ln.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				// Idle poll expiry is the normal shutdown check, not an error.
				continue
			}
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			s.obs.LogError("poct_accept_failed", err)
			continue
		}

		s.handleConnection(conn)
	}
}

// handleConnection runs one full session on the worker goroutine. A fresh
// connection always starts a fresh session from AwaitingHello; there is no
// resume protocol.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	session := NewSession(s.enc, s.captures, s.events, s.agg, s.obs)
	defer session.Close()

	remoteIP := remoteIP(conn)
	s.obs.IncCounter("coag_sessions_total", 1)
	s.obs.SetGauge("coag_device_connected", 1)
	defer s.obs.SetGauge("coag_device_connected", 0)
	s.obs.LogInfo("poct_device_connected",
		ports.Field{Key: "session", Value: session.ID()},
		ports.Field{Key: "remote", Value: remoteIP})
	if !s.events.Enqueue(domain.NewConnectedEvent(remoteIP)) {
		s.obs.IncCounter("coag_events_dropped_total", 1)
	}

	buf := make([]byte, readChunkSize)
	for session.State() != StateClosed {
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
			return
		}
		n, err := conn.Read(buf)
		if err != nil || n == 0 {
			// Peer close ends the session normally; a timeout or any other
			// I/O failure mid-transfer is session-fatal. Either way the
			// deferred Close aggregates whatever was captured. No retry.
			if err != nil && !isPeerClose(err) {
				s.obs.LogError("poct_read_failed", err,
					ports.Field{Key: "session", Value: session.ID()})
			}
			return
		}

		msg := Parse(string(buf[:n]))
		s.obs.IncCounter("coag_frames_total", 1)

		replies, herr := session.Handle(msg)
		for _, reply := range replies {
			if err := s.writeReply(conn, reply); err != nil {
				s.obs.LogError("poct_write_failed", err,
					ports.Field{Key: "session", Value: session.ID()})
				return
			}
		}
		if herr != nil {
			return
		}
	}
}

func (s *Server) writeReply(conn net.Conn, reply string) error {
	if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
		return err
	}
	_, err := conn.Write([]byte(reply))
	return err
}

func remoteIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}

func isPeerClose(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
