package session

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/estate-predictor/backend/internal/metrics"
	"github.com/estate-predictor/backend/internal/prediction"
	"github.com/estate-predictor/backend/pkg/circuitbreaker"
	"github.com/estate-predictor/backend/pkg/logger"
)

// FallbackStore serves from primary while it is healthy and from an
// in-memory store while the breaker around primary is open.
type FallbackStore struct {
	primary  Store
	fallback *MemoryStore
	breaker  *circuitbreaker.Breaker
}

func NewFallbackStore(primary Store, fallback *MemoryStore, cfg circuitbreaker.Config) *FallbackStore {
	if cfg.Logger == nil {
		cfg.Logger = logger.Log
	}
	return &FallbackStore{
		primary:  primary,
		fallback: fallback,
		breaker:  circuitbreaker.New("session-store", cfg),
	}
}

func (s *FallbackStore) Save(ctx context.Context, id string, result *prediction.Result) error {
	err := s.breaker.Execute(ctx, func() error {
		return s.primary.Save(ctx, id, result)
	})
	if err == nil {
		// Drop any copy written while primary was down.
		_ = s.fallback.Clear(ctx, id)
		return nil
	}

	s.degraded("save", err)
	return s.fallback.Save(ctx, id, result)
}

func (s *FallbackStore) Load(ctx context.Context, id string) (*prediction.Result, error) {
	var result *prediction.Result
	err := s.breaker.Execute(ctx, func() error {
		r, err := s.primary.Load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		result = r
		return err
	})
	if err == nil && result != nil {
		return result, nil
	}
	if err != nil {
		s.degraded("load", err)
	}
	return s.fallback.Load(ctx, id)
}

func (s *FallbackStore) Clear(ctx context.Context, id string) error {
	_ = s.fallback.Clear(ctx, id)
	err := s.breaker.Execute(ctx, func() error {
		return s.primary.Clear(ctx, id)
	})
	if err != nil {
		s.degraded("clear", err)
	}
	return nil
}

func (s *FallbackStore) degraded(op string, err error) {
	metrics.SessionFallbacks.Inc()
	logger.Warn("Session store unavailable, using in-memory fallback",
		zap.String("op", op),
		zap.String("breaker", s.breaker.State().String()),
		zap.Error(err))
}
