package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/desertthunder/whisparr-sync/internal/metrics"
	"github.com/desertthunder/whisparr-sync/internal/shared"
)

var _ Transport = (*BreakerTransport)(nil)

// BreakerTransport wraps a [Transport] with a circuit breaker so that a dead
// server fails fast instead of eating the retry budget of every request.
//
// Only transient transport failures (network errors and 5xx) count against the
// breaker. Client errors and cancelled requests do not.
type BreakerTransport struct {
	next   Transport
	cb     *gobreaker.CircuitBreaker[*APIResponse]
	name   string
	logger *log.Logger
}

// BreakerSettings tunes the breaker. Zero values fall back to the defaults below.
type BreakerSettings struct {
	MaxRequests      uint32        // probes allowed while half-open (default 1)
	Interval         time.Duration // closed-state count reset period (default 1m)
	Timeout          time.Duration // open-state cool-down (default 30s)
	ConsecutiveFails uint32        // consecutive failures that trip the breaker (default 5)
}

// NewBreakerTransport wraps next in a breaker named name.
func NewBreakerTransport(name string, next Transport, s BreakerSettings, logger *log.Logger) *BreakerTransport {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if s.MaxRequests == 0 {
		s.MaxRequests = 1
	}
	if s.Interval == 0 {
		s.Interval = time.Minute
	}
	if s.Timeout == 0 {
		s.Timeout = 30 * time.Second
	}
	if s.ConsecutiveFails == 0 {
		s.ConsecutiveFails = 5
	}

	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	b := &BreakerTransport{next: next, name: name, logger: logger}
	b.cb = gobreaker.NewCircuitBreaker[*APIResponse](gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFails
		},
		IsSuccessful: breakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
	return b
}

// Do forwards req unless the breaker is open, in which case it fails with a
// [*shared.TransportError] wrapping [shared.ErrServiceUnavailable].
func (b *BreakerTransport) Do(ctx context.Context, req Request, result any) (*APIResponse, error) {
	resp, err := b.cb.Execute(func() (*APIResponse, error) {
		return b.next.Do(ctx, req, result)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.logger.Debug("request rejected by circuit breaker", "name", b.name, "method", req.Method, "path", req.Path)
		return nil, &shared.TransportError{
			Method: req.Method,
			URL:    req.Path,
			Err:    fmt.Errorf("%w: %s circuit %v", shared.ErrServiceUnavailable, b.name, err),
		}
	}
	return resp, err
}

// State returns the breaker state name.
func (b *BreakerTransport) State() string {
	return b.cb.State().String()
}

func breakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	return !IsTransient(err)
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
