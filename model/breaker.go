package model

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/finmesh/finmesh/core"
	"github.com/finmesh/finmesh/logging"
)

// Default circuit breaker settings.
const (
	defaultBreakerMaxFailures uint32        = 5
	defaultBreakerTimeout     time.Duration = 30 * time.Second
	defaultBreakerInterval    time.Duration = 60 * time.Second
)

// BreakerOptions configures the circuit breaker wrapping a Model.
type BreakerOptions struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before transitioning to half-open.
	Timeout time.Duration
	// Interval is the cyclic period of the closed state for clearing failure counts.
	Interval time.Duration
	Logger   logging.Logger
}

// BreakerModel wraps a Model with circuit breaker protection. When the
// wrapped model fails repeatedly, the circuit opens and subsequent calls fail
// fast without reaching the provider, preventing retry storms.
type BreakerModel struct {
	inner   Model
	breaker *gobreaker.CircuitBreaker[*Response]
	logger  logging.Logger
}

// NewBreakerModel wraps inner with a circuit breaker. Zero-valued options
// fall back to defaults.
func NewBreakerModel(inner Model, optFns ...func(o *BreakerOptions)) *BreakerModel {
	opts := BreakerOptions{
		MaxFailures: defaultBreakerMaxFailures,
		Timeout:     defaultBreakerTimeout,
		Interval:    defaultBreakerInterval,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = defaultBreakerMaxFailures
	}
	if opts.Timeout == 0 {
		opts.Timeout = defaultBreakerTimeout
	}
	if opts.Interval == 0 {
		opts.Interval = defaultBreakerInterval
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	info := inner.Info()
	cb := gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        "model:" + info.Name,
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    opts.Interval,
		Timeout:     opts.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			opts.Logger.Warn("Circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	return &BreakerModel{inner: inner, breaker: cb, logger: opts.Logger}
}

// Generate routes the call through the circuit breaker. An open circuit is
// surfaced as a not-ready error so callers can distinguish fail-fast
// rejections from provider failures.
func (m *BreakerModel) Generate(ctx context.Context, req Request) (*Response, error) {
	resp, err := m.breaker.Execute(func() (*Response, error) {
		return m.inner.Generate(ctx, req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, core.WrapError(core.KindNotReady, err, "model circuit open: %s", m.inner.Info().Name)
		}
		return nil, err
	}
	return resp, nil
}

// Info returns the wrapped model's metadata.
func (m *BreakerModel) Info() Info { return m.inner.Info() }

// State returns the current circuit breaker state for monitoring.
func (m *BreakerModel) State() gobreaker.State { return m.breaker.State() }

// Counts returns the current circuit breaker failure/success counts.
func (m *BreakerModel) Counts() gobreaker.Counts { return m.breaker.Counts() }

var _ Model = (*BreakerModel)(nil)
