package provider

import (
	"context"
	"sync"
	"time"

	"investcore/internal/models"
)

// Static returns a fixed result or error, optionally after a delay. It backs
// tests and the memory-store dev mode.
type Static struct {
	mu     sync.Mutex
	result *Result
	err    error
	delay  time.Duration
	calls  int
}

func NewStatic(result *Result, err error) *Static {
	return &Static{result: result, err: err}
}

// Set replaces the result and error returned by later calls.
func (s *Static) Set(result *Result, err error) {
	s.mu.Lock()
	s.result, s.err = result, err
	s.mu.Unlock()
}

func (s *Static) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

func (s *Static) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Static) Optimize(ctx context.Context, portfolioID string, symbols []string) (*Result, error) {
	s.mu.Lock()
	s.calls++
	delay, result, err := s.delay, s.result, s.err
	s.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, ErrEmptyResult
	}
	out := *result
	out.Recommendations = append([]models.Recommendation(nil), result.Recommendations...)
	if err := out.normalize(); err != nil {
		return nil, err
	}
	return &out, nil
}
