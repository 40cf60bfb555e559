// Package runtime assembles a signbridge node: telemetry, the message bus,
// the event store and whichever recognition, correction and playback
// services the configuration enables, behind one HTTP server for probes and
// metrics.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/varshagowdavg/signbridge/internal/bus"
	"github.com/varshagowdavg/signbridge/internal/capability"
	"github.com/varshagowdavg/signbridge/internal/config"
	"github.com/varshagowdavg/signbridge/internal/emitter"
	"github.com/varshagowdavg/signbridge/internal/eventstore"
	"github.com/varshagowdavg/signbridge/internal/lattice"
	"github.com/varshagowdavg/signbridge/internal/natsserver"
	"github.com/varshagowdavg/signbridge/internal/playback"
	"github.com/varshagowdavg/signbridge/internal/recognize"
	"github.com/varshagowdavg/signbridge/internal/translate"
	"go.opentelemetry.io/otel"
)

const (
	shutdownTimeout = 10 * time.Second
	pruneInterval   = time.Hour
)

type closer struct {
	name  string
	close func(context.Context) error
}

// checker reports readiness of one component on /readyz.
type checker struct {
	name  string
	check func() error
}

type Runtime struct {
	cfg     config.Config
	version string
	logger  *slog.Logger

	telemetry *telemetry
	bus       *bus.Client
	store     *eventstore.Store
	registry  *capability.Registry

	closers []closer
	checks  []checker
	ready   atomic.Bool
	wg      sync.WaitGroup
}

func New(cfg config.Config, version string, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:     cfg,
		version: version,
		logger:  logger,
	}
}

// Start builds every component, serves HTTP and blocks until ctx is done or
// the HTTP server fails. Components are closed in reverse start order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := r.build(ctx); err != nil {
		cancel()
		r.wg.Wait()
		return errors.Join(err, r.shutdown())
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr), slog.String("version", r.version))

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	if err := server.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slogError(err))
	}
	cancelShutdown()
	cancel()
	r.wg.Wait()

	return errors.Join(runErr, r.shutdown())
}

func (r *Runtime) build(ctx context.Context) error {
	tel, err := setupTelemetry(ctx, r.cfg, r.version, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetry = tel
	r.addCloser("telemetry", tel.shutdown)

	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		srv, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			return fmt.Errorf("start embedded nats: %w", err)
		}
		r.addCloser("nats", func(context.Context) error {
			srv.Shutdown()
			return nil
		})
		busCfg.Servers = []string{srv.ClientURL()}
	}

	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	r.bus = client
	r.addCloser("bus", func(context.Context) error {
		client.Close()
		return nil
	})
	r.addCheck("bus", client.Healthy)

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.cfg.Node.ID, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	r.store = store
	r.addCloser("event_store", func(context.Context) error { return store.Close() })
	r.wg.Add(1)
	go r.pruneLoop(ctx)

	corrector, err := r.startCorrector(ctx)
	if err != nil {
		return err
	}
	if err := r.startRecognition(ctx, corrector); err != nil {
		return err
	}
	if err := r.startPlayback(ctx); err != nil {
		return err
	}
	if err := r.startMQTT(ctx); err != nil {
		return err
	}

	registry, err := capability.NewRegistry(ctx, r.cfg.Node, capability.FromConfig(r.cfg), client, r.logger)
	if err != nil {
		return fmt.Errorf("start capability registry: %w", err)
	}
	r.registry = registry
	r.addCloser("capability", func(context.Context) error {
		registry.Close()
		return nil
	})
	r.addCheck("capability", registry.Healthy)
	return nil
}

func (r *Runtime) startCorrector(ctx context.Context) (*lattice.Corrector, error) {
	cfg := r.cfg.Corrector
	if !cfg.Enabled {
		return nil, nil
	}
	dict, err := lattice.LoadDictionary(cfg.DictionaryPath)
	if err != nil {
		return nil, fmt.Errorf("load dictionary: %w", err)
	}
	corrector := lattice.New(dict,
		lattice.WithFanOut(cfg.FanOut),
		lattice.WithMaxLength(cfg.MaxLength),
		lattice.WithFuzzyThreshold(cfg.FuzzyThreshold),
	)
	svc := lattice.NewService(ctx, r.bus, corrector, r.logger)
	if err := svc.Start(); err != nil {
		return nil, fmt.Errorf("start correction service: %w", err)
	}
	r.addCloser("corrector", func(context.Context) error {
		svc.Close()
		return nil
	})
	r.addCheck("corrector", svc.Healthy)
	return corrector, nil
}

func (r *Runtime) startRecognition(ctx context.Context, corrector *lattice.Corrector) error {
	cfg := r.cfg.Recognition
	if !cfg.Enabled {
		return nil
	}
	classifier, err := recognize.NewClassifier(cfg.Classifier)
	if err != nil {
		return fmt.Errorf("create classifier: %w", err)
	}
	table, err := translate.Load(r.cfg.Translation.Path, r.cfg.Translation.Languages)
	if err != nil {
		return err
	}
	metrics, err := recognize.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("recognition metrics: %w", err)
	}
	opts := []recognize.Option{
		recognize.WithTranslations(table),
		recognize.WithEventStore(r.store),
		recognize.WithMetrics(metrics),
	}
	if corrector != nil {
		opts = append(opts, recognize.WithCorrector(corrector))
	}
	svc, err := recognize.NewService(ctx, cfg, r.bus, classifier, r.logger, opts...)
	if err != nil {
		return err
	}
	if err := svc.Start(); err != nil {
		return fmt.Errorf("start recognition service: %w", err)
	}
	r.addCloser("recognition", func(context.Context) error {
		svc.Close()
		return nil
	})
	r.addCheck("recognition", svc.Healthy)
	return nil
}

func (r *Runtime) startPlayback(ctx context.Context) error {
	cfg := r.cfg.Playback
	if !cfg.Enabled {
		return nil
	}
	resolver, err := playback.NewResolver(cfg)
	if err != nil {
		return fmt.Errorf("create resolver: %w", err)
	}
	if v, ok := resolver.(interface{ Validate() []error }); ok {
		for _, problem := range v.Validate() {
			r.logger.Warn("vocabulary problem", slogError(problem))
		}
	}
	loader, err := playback.NewLoader(cfg)
	if err != nil {
		return fmt.Errorf("create loader: %w", err)
	}
	svc, err := playback.NewService(ctx, cfg, r.bus, resolver, loader, playback.LandmarkRenderer{}, r.logger,
		playback.WithStore(r.store))
	if err != nil {
		return err
	}
	if err := svc.Start(); err != nil {
		return fmt.Errorf("start playback service: %w", err)
	}
	r.addCloser("playback", func(context.Context) error {
		svc.Close()
		return nil
	})
	r.addCheck("playback", svc.Healthy)
	return nil
}

func (r *Runtime) startMQTT(ctx context.Context) error {
	cfg := r.cfg.MQTT
	if !cfg.Enabled {
		return nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := emitter.Dial(dialCtx, cfg, r.cfg.Node.ID, r.logger)
	if err != nil {
		return err
	}
	bridge, err := emitter.NewBridge(r.bus, client, cfg.TopicPrefix, r.cfg.Node.ID, r.logger)
	if err != nil {
		client.Close()
		return err
	}
	if err := bridge.Start(); err != nil {
		return fmt.Errorf("start mqtt bridge: %w", err)
	}
	r.addCloser("mqtt", func(context.Context) error {
		bridge.Close()
		return nil
	})
	r.addCheck("mqtt", bridge.Healthy)
	return nil
}

func (r *Runtime) pruneLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.Prune(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("event store prune failed", slogError(err))
			}
		}
	}
}

func (r *Runtime) addCloser(name string, fn func(context.Context) error) {
	r.closers = append(r.closers, closer{name: name, close: fn})
}

func (r *Runtime) addCheck(name string, healthy func() bool) {
	r.checks = append(r.checks, checker{name: name, check: func() error {
		if !healthy() {
			return errors.New("not healthy")
		}
		return nil
	}})
}

// shutdown closes components in reverse order and forgets them.
func (r *Runtime) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		c := r.closers[i]
		if err := c.close(ctx); err != nil {
			r.logger.Error("shutdown error", slog.String("component", c.name), slogError(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// Handler serves /healthz, /readyz and /metrics.
func (r *Runtime) Handler() http.Handler {
	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, probeResult{Status: "ok"})
	})
	router.Get("/readyz", r.handleReady)
	router.Get("/nodes", r.handleNodes)
	if r.telemetry != nil && r.telemetry.metrics != nil {
		router.Handle("/metrics", r.telemetry.metrics)
	}
	return router
}

type probeResult struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	res := probeResult{Status: "ok", Checks: make(map[string]string, len(r.checks)+1)}
	status := http.StatusOK
	if !r.ready.Load() {
		res.Checks["runtime"] = "fail: starting"
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	for _, c := range r.checks {
		if err := c.check(); err != nil {
			res.Checks[c.name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.name] = "ok"
	}
	writeJSON(w, status, res)
}

// handleNodes lists the nodes seen on the bus and what they offer.
func (r *Runtime) handleNodes(w http.ResponseWriter, req *http.Request) {
	if r.registry == nil {
		writeJSON(w, http.StatusServiceUnavailable, probeResult{Status: "fail"})
		return
	}
	filter := func(capability.NodeInfo) bool { return true }
	if name := req.URL.Query().Get("capability"); name != "" {
		filter = capability.WithCapability(name)
	}
	nodes := r.registry.Query(filter)
	if nodes == nil {
		nodes = []capability.NodeInfo{}
	}
	writeJSON(w, http.StatusOK, nodes)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
