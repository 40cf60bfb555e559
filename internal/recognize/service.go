package recognize

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

	"github.com/nats-io/nats.go"
	"github.com/varshagowdavg/signbridge/internal/bus"
	"github.com/varshagowdavg/signbridge/internal/config"
	"github.com/varshagowdavg/signbridge/internal/eventstore"
	"github.com/varshagowdavg/signbridge/internal/lattice"
	"github.com/varshagowdavg/signbridge/internal/protocol"
	"github.com/varshagowdavg/signbridge/internal/translate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Service runs one recognition Session per session ID on top of the bus.
type Service struct {
	cfg        config.RecognitionConfig
	bus        *bus.Client
	classifier Classifier
	corrector  *lattice.Corrector
	languages  *translate.Table
	store      *eventstore.Store
	metrics    *Metrics
	log        *slog.Logger
	clock      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	subs   []*nats.Subscription
	ready  atomic.Bool

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

// sessionEntry serializes everything done for one session, including the
// publishes of its outcomes, so subscribers see them in state order.
type sessionEntry struct {
	mu      sync.Mutex
	session *Session
	evicted bool
}

type Option func(*Service)

// WithCorrector enables dictionary correction of closed words.
func WithCorrector(c *lattice.Corrector) Option {
	return func(s *Service) { s.corrector = c }
}

func WithTranslations(t *translate.Table) Option {
	return func(s *Service) { s.languages = t }
}

func WithEventStore(store *eventstore.Store) Option {
	return func(s *Service) { s.store = store }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

func NewService(parent context.Context, cfg config.RecognitionConfig, busClient *bus.Client, classifier Classifier, logger *slog.Logger, opts ...Option) (*Service, error) {
	if busClient == nil {
		return nil, errors.New("recognition service requires bus client")
	}
	if classifier == nil {
		return nil, errors.New("recognition service requires a classifier")
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:        cfg,
		bus:        busClient,
		classifier: classifier,
		log:        logger.With(slog.String("component", "recognize.service")),
		clock:      time.Now,
		ctx:        ctx,
		cancel:     cancel,
		sessions:   make(map[string]*sessionEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.languages == nil {
		s.languages = translate.New(nil, nil)
	}
	if s.metrics == nil {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			cancel()
			return nil, fmt.Errorf("recognition metrics: %w", err)
		}
		s.metrics = m
	}
	return s, nil
}

func (s *Service) Start() error {
	conn := s.bus.Conn()
	frameSub, err := conn.Subscribe(protocol.SubjectGestureFramePrefix+".>", s.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe gesture frames: %w", err)
	}
	s.subs = append(s.subs, frameSub)

	commandSub, err := conn.Subscribe(protocol.SubjectGestureCommandPrefix+".>", s.handleCommand)
	if err != nil {
		s.Close()
		return fmt.Errorf("subscribe gesture commands: %w", err)
	}
	s.subs = append(s.subs, commandSub)

	s.wg.Add(1)
	go s.runIdleCheck()

	s.ready.Store(true)
	s.log.Info("recognition service ready",
		slog.Int("stable_frames", s.cfg.StableFrames),
		slog.Float64("confidence_threshold", s.cfg.ConfidenceThreshold),
		slog.Int("clear_delay_ms", s.cfg.ClearDelayMS))
	return nil
}

func (s *Service) Close() {
	s.ready.Store(false)
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s != nil && s.ready.Load()
}

func (s *Service) sessionOptions() SessionOptions {
	return SessionOptions{
		StableFrames:        s.cfg.StableFrames,
		ConfidenceThreshold: s.cfg.ConfidenceThreshold,
		ClearDelay:          time.Duration(s.cfg.ClearDelayMS) * time.Millisecond,
		Alphabet:            s.cfg.Alphabet,
		CommandLabels:       s.cfg.CommandLabels,
		Languages:           s.languages,
	}
}

func (s *Service) entry(sessionID string) *sessionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[sessionID]
	if !ok {
		e = &sessionEntry{session: NewSession(sessionID, s.sessionOptions())}
		s.sessions[sessionID] = e
		s.metrics.ActiveSessions.Add(s.ctx, 1)
	}
	return e
}

// withSession runs fn under the session's lock. An entry evicted while the
// caller waited for the lock is replaced by a fresh one.
func (s *Service) withSession(sessionID string, fn func(*Session)) {
	for {
		e := s.entry(sessionID)
		e.mu.Lock()
		if e.evicted {
			e.mu.Unlock()
			continue
		}
		fn(e.session)
		e.mu.Unlock()
		return
	}
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.GestureFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.log.Warn("failed to decode gesture frame", slogError(err))
		return
	}
	if frame.SessionID == "" {
		frame.SessionID = subjectSession(msg.Subject, protocol.SubjectGestureFramePrefix)
	}
	if frame.SessionID == "" {
		s.log.Warn("gesture frame without session", slog.String("subject", msg.Subject))
		return
	}
	now := s.clock()
	if frame.Timestamp.IsZero() {
		frame.Timestamp = now
	}
	s.metrics.Frames.Add(s.ctx, 1)

	start := time.Now()
	classification, err := s.classifier.Classify(s.ctx, frame)
	s.metrics.ClassifyDuration.Record(s.ctx, time.Since(start).Seconds())
	if err != nil {
		s.metrics.ClassifierErrors.Add(s.ctx, 1)
		s.log.Debug("frame skipped", slog.String("session_id", frame.SessionID), slog.Int("sequence", frame.Sequence), slogError(err))
		return
	}

	s.withSession(frame.SessionID, func(session *Session) {
		s.dispatch(frame.SessionID, session.Frame(classification, now), now)
	})
}

func (s *Service) handleCommand(msg *nats.Msg) {
	var cmd protocol.Command
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		s.log.Warn("failed to decode command", slogError(err))
		return
	}
	if cmd.SessionID == "" {
		cmd.SessionID = subjectSession(msg.Subject, protocol.SubjectGestureCommandPrefix)
	}
	switch cmd.Kind {
	case protocol.CommandSpace, protocol.CommandClear, protocol.CommandSwitchLanguage:
	case protocol.CommandCancel:
		return
	default:
		s.log.Warn("unknown command", slog.String("kind", cmd.Kind), slog.String("session_id", cmd.SessionID))
		return
	}
	if cmd.SessionID == "" {
		return
	}
	now := s.clock()
	s.withSession(cmd.SessionID, func(session *Session) {
		s.dispatch(cmd.SessionID, session.Command(Command{Kind: cmd.Kind, Language: cmd.Language}, now), now)
	})
}

func (s *Service) runIdleCheck() {
	defer s.wg.Done()
	interval := time.Duration(s.cfg.IdleCheckMS) * time.Millisecond
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.checkIdle(s.clock())
		}
	}
}

func (s *Service) checkIdle(now time.Time) {
	ttl := time.Duration(s.cfg.SessionTTLMS) * time.Millisecond

	s.mu.Lock()
	entries := make(map[string]*sessionEntry, len(s.sessions))
	for id, e := range s.sessions {
		entries[id] = e
	}
	s.mu.Unlock()

	var expired []string
	for id, e := range entries {
		e.mu.Lock()
		if !e.evicted {
			if out := e.session.Tick(now); out.Cleared {
				s.dispatch(id, out, now)
			}
			if s.stale(e.session, now, ttl) {
				expired = append(expired, id)
			}
		}
		e.mu.Unlock()
	}
	if len(expired) == 0 {
		return
	}

	// A frame may have reached a session since the scan; only evict entries
	// that are still idle under their own lock.
	evicted := 0
	s.mu.Lock()
	for _, id := range expired {
		e, ok := s.sessions[id]
		if !ok || e != entries[id] {
			continue
		}
		e.mu.Lock()
		if s.stale(e.session, now, ttl) {
			e.evicted = true
			delete(s.sessions, id)
			evicted++
		}
		e.mu.Unlock()
	}
	s.mu.Unlock()
	if evicted > 0 {
		s.metrics.ActiveSessions.Add(s.ctx, -int64(evicted))
		s.log.Debug("evicted idle sessions", slog.Int("count", evicted))
	}
}

func (s *Service) stale(session *Session, now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(session.LastSeen()) > ttl && session.Text() == ""
}

// dispatch publishes and records an outcome. Callers hold the session lock.
func (s *Service) dispatch(sessionID string, out Outcome, now time.Time) {
	if out.Symbol != nil {
		s.metrics.Symbols.Add(s.ctx, 1)
		evt := protocol.SymbolEvent{SessionID: sessionID, Symbol: out.Symbol.Symbol, EmittedAt: out.Symbol.EmittedAt}
		s.publish(protocol.SubjectGestureSymbol, evt)
		s.record(sessionID, eventstore.TypeSymbol, evt)
	}
	if out.Word != nil {
		s.commitWord(sessionID, out.Word, now)
	}
	if out.Cleared {
		if out.Reason == "idle" {
			s.metrics.IdleClears.Add(s.ctx, 1)
		}
		s.record(sessionID, eventstore.TypeTextCleared, map[string]string{"reason": out.Reason})
	}
	if out.TextChanged {
		update := protocol.TextUpdate{
			SessionID: sessionID,
			Text:      out.Text,
			Language:  out.Language,
			Cleared:   out.Cleared,
			Reason:    out.Reason,
			Timestamp: now.UTC(),
		}
		if translated, ok := s.languages.Translate(out.Text, out.Language); ok {
			update.Translation = translated
		}
		s.publish(protocol.SubjectGestureText, update)
	}
}

func (s *Service) commitWord(sessionID string, word lattice.Lattice, now time.Time) {
	raw, rawScore := word.Raw()
	result := lattice.Result{Word: raw, Score: rawScore, Raw: raw, Method: lattice.MethodRaw}
	if s.corrector != nil {
		result = s.corrector.Resolve(s.ctx, word)
	}
	s.metrics.Words.Add(s.ctx, 1, metric.WithAttributes(attribute.String("method", result.Method)))
	commit := protocol.WordCommit{
		SessionID: sessionID,
		Raw:       result.Raw,
		Word:      result.Word,
		Score:     result.Score,
		Method:    result.Method,
		Timestamp: now.UTC(),
	}
	s.publish(protocol.SubjectGestureWord, commit)
	s.record(sessionID, eventstore.TypeWord, commit)
}

func (s *Service) publish(subject string, v any) {
	if err := s.bus.PublishJSON(subject, v); err != nil {
		s.log.Warn("failed to publish", slog.String("subject", subject), slogError(err))
	}
}

func (s *Service) record(sessionID, eventType string, payload any) {
	if s.store == nil {
		return
	}
	if err := s.store.Record(s.ctx, sessionID, eventstore.KindRecognition, "", eventType, payload); err != nil {
		s.log.Warn("failed to record event", slog.String("type", eventType), slogError(err))
	}
}

func subjectSession(subject, prefix string) string {
	return strings.TrimPrefix(strings.TrimPrefix(subject, prefix), ".")
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
