package lattice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/varshagowdavg/signbridge/internal/bus"
	"github.com/varshagowdavg/signbridge/internal/protocol"
)

// Service answers correction requests on the bus.
type Service struct {
	bus       *bus.Client
	corrector *Corrector
	log       *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	sub       *nats.Subscription
	ready     atomic.Bool
}

func NewService(parent context.Context, busClient *bus.Client, corrector *Corrector, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:       busClient,
		corrector: corrector,
		log:       logger.With(slog.String("component", "lattice.service")),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *Service) Start() error {
	if s.bus == nil || s.corrector == nil {
		return errors.New("lattice service requires bus and corrector")
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectCorrectRequest, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe correction requests: %w", err)
	}
	s.sub = sub
	s.ready.Store(true)
	s.log.Info("correction service ready", slog.Int("dictionary_words", s.corrector.Dictionary().Len()))
	return nil
}

func (s *Service) Close() {
	s.ready.Store(false)
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
}

func (s *Service) Healthy() bool {
	return s != nil && s.ready.Load()
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.CorrectionRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.log.Warn("invalid correction request", slogError(err))
		s.reply(msg, protocol.CorrectionResponse{Error: "invalid request"})
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()

	result := s.corrector.Resolve(ctx, Lattice(req.Lattice))
	s.reply(msg, protocol.CorrectionResponse{
		Word:   result.Word,
		Score:  result.Score,
		Raw:    result.Raw,
		Method: result.Method,
	})
}

func (s *Service) reply(msg *nats.Msg, resp protocol.CorrectionResponse) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Warn("failed to marshal correction response", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.log.Warn("failed to respond", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
