package playback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/varshagowdavg/signbridge/internal/bus"
	"github.com/varshagowdavg/signbridge/internal/config"
	"github.com/varshagowdavg/signbridge/internal/eventstore"
	"github.com/varshagowdavg/signbridge/internal/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Service plays sentences requested over the bus. Each session has at most
// one run; a new request for the same session supersedes the running one.
type Service struct {
	cfg       config.PlaybackConfig
	bus       *bus.Client
	resolver  Resolver
	loader    Loader
	renderer  Renderer
	tokenizer *Tokenizer
	store     *eventstore.Store
	metrics   *Metrics
	log       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	subs   []*nats.Subscription
	ready  atomic.Bool
	slots  chan struct{}

	mu   sync.Mutex
	runs map[string]*run
}

type run struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

type ServiceOption func(*Service)

func WithStore(store *eventstore.Store) ServiceOption {
	return func(s *Service) { s.store = store }
}

func WithServiceMetrics(m *Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithTokenizer overrides the tokenizer built from the resolver's vocabulary.
func WithTokenizer(t *Tokenizer) ServiceOption {
	return func(s *Service) { s.tokenizer = t }
}

func NewService(parent context.Context, cfg config.PlaybackConfig, busClient *bus.Client, resolver Resolver, loader Loader, renderer Renderer, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if busClient == nil {
		return nil, errors.New("playback service requires bus client")
	}
	if resolver == nil || loader == nil || renderer == nil {
		return nil, errors.New("playback service requires resolver, loader and renderer")
	}
	maxRuns := cfg.MaxConcurrent
	if maxRuns <= 0 {
		maxRuns = 1
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:      cfg,
		bus:      busClient,
		resolver: resolver,
		loader:   loader,
		renderer: renderer,
		log:      logger.With(slog.String("component", "playback.service")),
		ctx:      ctx,
		cancel:   cancel,
		slots:    make(chan struct{}, maxRuns),
		runs:     make(map[string]*run),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tokenizer == nil {
		vocab, _ := resolver.(Vocabulary)
		s.tokenizer = NewTokenizer(vocab)
	}
	if s.metrics == nil {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			cancel()
			return nil, fmt.Errorf("playback metrics: %w", err)
		}
		s.metrics = m
	}
	return s, nil
}

func (s *Service) Start() error {
	conn := s.bus.Conn()
	handlers := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{protocol.SubjectPlaybackRequest, s.handleRequest},
		{protocol.SubjectPlaybackCancel, s.handleCancel},
		{protocol.SubjectGestureCommandPrefix + ".>", s.handleCommand},
	}
	for _, h := range handlers {
		sub, err := conn.Subscribe(h.subject, h.handler)
		if err != nil {
			s.Close()
			return fmt.Errorf("subscribe %s: %w", h.subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	s.ready.Store(true)
	s.log.Info("playback service ready",
		slog.Int("queue_capacity", s.cfg.QueueCapacity),
		slog.Int("render_workers", s.cfg.RenderWorkers),
		slog.Int("max_concurrent", cap(s.slots)))
	return nil
}

func (s *Service) Close() {
	s.ready.Store(false)
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
	s.cancel()
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s != nil && s.ready.Load()
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.PlaybackRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.log.Warn("failed to decode playback request", slogError(err))
		return
	}
	if _, err := s.Play(req); err != nil {
		s.log.Warn("playback request not started", slog.String("session_id", req.SessionID), slogError(err))
	}
}

func (s *Service) handleCancel(msg *nats.Msg) {
	var req protocol.PlaybackCancel
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.log.Warn("failed to decode playback cancel", slogError(err))
		return
	}
	s.Cancel(req.SessionID)
}

func (s *Service) handleCommand(msg *nats.Msg) {
	var cmd protocol.Command
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		return
	}
	if cmd.Kind != protocol.CommandCancel {
		return
	}
	if cmd.SessionID == "" {
		cmd.SessionID = strings.TrimPrefix(msg.Subject, protocol.SubjectGestureCommandPrefix+".")
	}
	s.Cancel(cmd.SessionID)
}

// Play starts a run for req and returns its ID. Any run already active for
// the session is cancelled first.
func (s *Service) Play(req protocol.PlaybackRequest) (string, error) {
	if req.SessionID == "" {
		return "", errors.New("playback request without session")
	}
	words := req.Words
	if len(words) == 0 {
		words = s.tokenizer.Tokenize(req.Text)
	}
	runID := uuid.NewString()
	if len(words) == 0 {
		s.status(protocol.PlaybackStatus{SessionID: req.SessionID, RunID: runID, WordIndex: -1, State: protocol.PlaybackFinished, Reason: "nothing to play"})
		return runID, nil
	}

	s.Cancel(req.SessionID)

	select {
	case s.slots <- struct{}{}:
	default:
		s.metrics.Runs.Add(s.ctx, 1, metric.WithAttributes(attribute.String("state", protocol.PlaybackRejected)))
		s.status(protocol.PlaybackStatus{SessionID: req.SessionID, RunID: runID, WordIndex: -1, State: protocol.PlaybackRejected, Reason: "too many concurrent runs"})
		return "", fmt.Errorf("rejected: %d runs in progress", cap(s.slots))
	}

	ctx, cancel := context.WithCancel(s.ctx)
	r := &run{id: runID, cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.runs[req.SessionID] = r
	s.mu.Unlock()

	s.wg.Add(1)
	go s.execute(ctx, req.SessionID, r, words)
	return runID, nil
}

// Cancel stops the session's active run, if any, and waits for it to exit.
func (s *Service) Cancel(sessionID string) bool {
	s.mu.Lock()
	r, ok := s.runs[sessionID]
	if ok {
		delete(s.runs, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	r.cancel()
	<-r.done
	return true
}

func (s *Service) execute(ctx context.Context, sessionID string, r *run, words []string) {
	defer s.wg.Done()
	defer func() {
		r.cancel()
		s.forget(sessionID, r)
		<-s.slots
		close(r.done)
	}()

	s.metrics.ActiveRuns.Add(ctx, 1)
	defer s.metrics.ActiveRuns.Add(context.WithoutCancel(ctx), -1)

	log := s.log.With(slog.String("session_id", sessionID), slog.String("run_id", r.id))
	log.Info("playback started", slog.Int("words", len(words)))

	pipeline := NewPipeline(s.resolver, s.loader, s.renderer, log,
		WithQueueCapacity(s.cfg.QueueCapacity),
		WithRenderWorkers(s.cfg.RenderWorkers),
		WithLoadTimeout(time.Duration(s.cfg.LoadTimeoutMS)*time.Millisecond),
		WithMetrics(s.metrics),
		WithStatusFunc(func(st Status) {
			s.status(protocol.PlaybackStatus{
				SessionID: sessionID,
				RunID:     r.id,
				Word:      st.Word,
				WordIndex: st.WordIndex,
				State:     st.State,
				Reason:    st.Reason,
			})
			if st.State == protocol.PlaybackSkipped {
				s.record(sessionID, r.id, eventstore.TypePlaybackSkipped, st)
			}
		}),
	)

	sink := &BusSink{Bus: s.bus, SessionID: sessionID, RunID: r.id}
	sum, err := pipeline.Run(ctx, words, sink)

	final := protocol.PlaybackStatus{SessionID: sessionID, RunID: r.id, WordIndex: -1, State: protocol.PlaybackFinished}
	switch {
	case sum.Cancelled:
		final.State = protocol.PlaybackCancelled
		log.Info("playback cancelled", slog.Int("words", sum.Words), slog.Int("discarded", sum.Discarded))
	case err != nil:
		final.State = protocol.PlaybackCancelled
		final.Reason = err.Error()
		log.Warn("playback aborted", slogError(err))
	default:
		log.Info("playback finished",
			slog.Int("words", sum.Words),
			slog.Int("skipped", sum.Skipped),
			slog.Int("frames", sum.Frames),
			slog.Int("peak_resident", sum.PeakResident))
	}
	s.forget(sessionID, r)
	s.metrics.Runs.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attribute.String("state", final.State)))
	s.status(final)
	s.record(sessionID, r.id, eventstore.TypePlaybackFinished, sum)
}

// forget drops r from the active runs unless a newer run replaced it.
func (s *Service) forget(sessionID string, r *run) {
	s.mu.Lock()
	if s.runs[sessionID] == r {
		delete(s.runs, sessionID)
	}
	s.mu.Unlock()
}

func (s *Service) status(st protocol.PlaybackStatus) {
	st.Timestamp = time.Now().UTC()
	if err := s.bus.PublishJSON(protocol.SubjectPlaybackStatus, st); err != nil {
		s.log.Warn("failed to publish playback status", slogError(err))
	}
}

func (s *Service) record(sessionID, runID, eventType string, payload any) {
	if s.store == nil {
		return
	}
	if err := s.store.Record(context.WithoutCancel(s.ctx), sessionID, eventstore.KindPlayback, runID, eventType, payload); err != nil {
		s.log.Warn("failed to record event", slog.String("type", eventType), slogError(err))
	}
}

// BusSink publishes rendered frames on sign.playback.frame.
type BusSink struct {
	Bus       *bus.Client
	SessionID string
	RunID     string
}

func (b *BusSink) Emit(ctx context.Context, out Output) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.Bus.PublishJSON(protocol.SubjectPlaybackFrame, protocol.PlaybackFrame{
		SessionID:  b.SessionID,
		RunID:      b.RunID,
		Word:       out.Word,
		WordIndex:  out.WordIndex,
		FrameIndex: out.FrameIndex,
		Frame:      out.Frame,
	})
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
