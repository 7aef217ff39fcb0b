// Package coagbridge wires the POCT1-A device server, event fan-out, web
// API, and result stores into an embeddable runtime.
package coagbridge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/davecap/coag-sense-tracker/internal/adapters/capture"
	"github.com/davecap/coag-sense-tracker/internal/adapters/exporter"
	"github.com/davecap/coag-sense-tracker/internal/adapters/observability"
	"github.com/davecap/coag-sense-tracker/internal/adapters/queue"
	"github.com/davecap/coag-sense-tracker/internal/adapters/results"
	"github.com/davecap/coag-sense-tracker/internal/app/aggregate"
	"github.com/davecap/coag-sense-tracker/internal/poct"
	"github.com/davecap/coag-sense-tracker/internal/ports"
	"github.com/davecap/coag-sense-tracker/internal/web"
)

// Option customizes the dependencies used by the Bridge.
type Option func(*overrides)

type overrides struct {
	captures      ports.CaptureStore
	resultStore   ports.ResultStore
	eventQueue    ports.EventQueue
	exporter      ports.Exporter
	observability ports.Observability
}

// WithCaptureStore injects a custom capture artifact store.
func WithCaptureStore(s ports.CaptureStore) Option {
	return func(o *overrides) { o.captures = s }
}

// WithResultStore injects a custom ResultSet store.
func WithResultStore(s ports.ResultStore) Option {
	return func(o *overrides) { o.resultStore = s }
}

// WithEventQueue injects a custom hand-off queue implementation.
func WithEventQueue(q ports.EventQueue) Option {
	return func(o *overrides) { o.eventQueue = q }
}

// WithExporter injects a custom readings exporter (replaces the Postgres
// exporter configured via export.conn_string).
func WithExporter(e ports.Exporter) Option {
	return func(o *overrides) { o.exporter = e }
}

// WithObservability plugs in a custom metrics/logging backend.
func WithObservability(obs ports.Observability) Option {
	return func(o *overrides) { o.observability = obs }
}

// Bridge owns the device worker, the serving side, and everything between.
type Bridge struct {
	cfg *Config
	obs ports.Observability

	captures    ports.CaptureStore
	resultStore ports.ResultStore
	eventQueue  ports.EventQueue

	device *poct.Server
	hub    *web.Hub
	webSrv *web.Server

	db         *sql.DB
	metricsSrv *http.Server
	hubDone    chan struct{}
	hubStop    context.CancelFunc
}

// New bootstraps the default adapters (file capture store, file result
// store, bounded event queue, Prometheus/zerolog observability, and the
// Postgres exporter when configured). Options override any dependency.
func New(cfg *Config, opts ...Option) (*Bridge, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var o overrides
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	obs := o.observability
	if obs == nil {
		logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		obs = observability.NewPromObs(logger, nil)
	}

	captureStore := o.captures
	if captureStore == nil {
		var err error
		captureStore, err = capture.NewFileStore(cfg.Captures.Dir)
		if err != nil {
			return nil, err
		}
	}

	resultStore := o.resultStore
	if resultStore == nil {
		var err error
		resultStore, err = results.NewFileStore(cfg.Results.Path)
		if err != nil {
			return nil, err
		}
	}

	eventQueue := o.eventQueue
	if eventQueue == nil {
		eventQueue = queue.NewEventQueue(cfg.Events.QueueSize)
	}

	var (
		db  *sql.DB
		exp = o.exporter
	)
	if exp == nil && cfg.Export.ConnString != "" {
		var err error
		db, err = sql.Open("postgres", cfg.Export.ConnString)
		if err != nil {
			return nil, err
		}
		exp = exporter.NewPostgresExporter(db, cfg.Export.Table)
	}

	agg := aggregate.New(captureStore, resultStore, exp, eventQueue, obs)

	device := poct.NewServer(poct.ServerConfig{
		Port:        cfg.Device.Port,
		ReadTimeout: cfg.Device.ReadTimeout,
		AcceptPoll:  cfg.Device.AcceptPoll,
	}, poct.NewEncoder(), captureStore, eventQueue, agg, obs)

	hub := web.NewHub(eventQueue, resultStore, obs, web.LocalIP(), cfg.Device.Port)
	webSrv := web.NewServer(cfg.Web.Addr, hub, resultStore, obs)

	return &Bridge{
		cfg:         cfg,
		obs:         obs,
		captures:    captureStore,
		resultStore: resultStore,
		eventQueue:  eventQueue,
		device:      device,
		hub:         hub,
		webSrv:      webSrv,
		db:          db,
	}, nil
}

// Start launches the device worker, the event drain loop, the web server,
// and the metrics endpoint. It returns immediately; use Run to block.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.device.Start(ctx); err != nil {
		return err
	}

	hubCtx, cancel := context.WithCancel(context.Background())
	b.hubStop = cancel
	b.hubDone = make(chan struct{})
	go func() {
		b.hub.Run(hubCtx)
		close(b.hubDone)
	}()

	if err := b.webSrv.Start(); err != nil {
		b.hubStop()
		_ = b.device.Stop()
		return err
	}

	b.startMetrics()
	return nil
}

// Run starts the bridge and blocks until ctx is cancelled, then shuts down
// gracefully.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.Shutdown(shutdownCtx)
}

// Shutdown stops the device worker first so the drain loop can flush any
// final events before the serving side goes away.
func (b *Bridge) Shutdown(ctx context.Context) error {
	var errs []error

	if err := b.device.Stop(); err != nil {
		errs = append(errs, err)
	}

	if b.hubStop != nil {
		b.hubStop()
		select {
		case <-b.hubDone:
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
	}

	if err := b.webSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, err)
	}

	if b.metricsSrv != nil {
		if err := b.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}

	if b.db != nil {
		if err := b.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// DeviceAddr returns the device listener address once started.
func (b *Bridge) DeviceAddr() string {
	if addr := b.device.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}

// WebAddr returns the web server address once started.
func (b *Bridge) WebAddr() string {
	if addr := b.webSrv.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (b *Bridge) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	b.metricsSrv = &http.Server{
		Addr:    b.cfg.Metrics.Addr,
		Handler: mux,
	}

	go func() {
		if err := b.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.obs.LogError("metrics_server_exited", err)
		}
	}()
}
