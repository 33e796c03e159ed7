// Package circuitbreaker wraps sony/gobreaker with logging, tracing and
// metrics for the outbound calls the analysis engine depends on (the
// hosted model gateway and the drug reference API). Callers get a fast
// failure while a downstream service is unhealthy instead of a pile of
// hanging requests.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrOpen is returned when the breaker rejects a call without
// attempting it.
var ErrOpen = errors.New("circuit breaker is open")

// Config controls when a breaker trips and how it probes recovery.
type Config struct {
	Name string

	// MaxRequests is the number of probe requests allowed while
	// half-open.
	MaxRequests uint32

	// Interval is the cyclic period for clearing counts while closed.
	Interval time.Duration

	// Timeout is how long the breaker stays open before moving to
	// half-open.
	Timeout time.Duration

	// FailureThreshold trips the breaker on this many consecutive
	// failures before MinRequests calls have been observed.
	FailureThreshold uint32

	// FailureRatio trips the breaker once at least MinRequests calls
	// have been observed and this fraction of them failed.
	FailureRatio float64
	MinRequests  uint32
}

// DefaultConfig returns settings suited to the external HTTP
// dependencies: trip quickly on a burst of failures, probe again after
// half a minute.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		FailureRatio:     0.6,
		MinRequests:      10,
	}
}

// Breaker protects a single downstream dependency.
type Breaker struct {
	name   string
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
	tracer trace.Tracer

	executions   metric.Int64Counter
	rejections   metric.Int64Counter
	stateChanges metric.Int64Counter
}

// New creates a breaker from cfg. A nil logger is replaced with a no-op
// logger so breakers can be constructed in tests without wiring.
func New(cfg Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}

	meter := otel.Meter("circuitbreaker")
	executions, _ := meter.Int64Counter("circuitbreaker_executions_total",
		metric.WithDescription("Calls attempted through the breaker"))
	rejections, _ := meter.Int64Counter("circuitbreaker_rejections_total",
		metric.WithDescription("Calls rejected while the breaker was open"))
	stateChanges, _ := meter.Int64Counter("circuitbreaker_state_changes_total",
		metric.WithDescription("Breaker state transitions"))

	b := &Breaker{
		name:         cfg.Name,
		logger:       logger,
		tracer:       otel.Tracer("circuitbreaker"),
		executions:   executions,
		rejections:   rejections,
		stateChanges: stateChanges,
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return counts.ConsecutiveFailures >= cfg.FailureThreshold
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if b.stateChanges != nil {
				b.stateChanges.Add(context.Background(), 1, metric.WithAttributes(
					attribute.String("breaker", name),
					attribute.String("to", to.String())))
			}
		},
		IsSuccessful: func(err error) bool {
			// A caller hanging up is not a downstream failure and must
			// not trip the breaker.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return b
}

// Execute runs fn through the breaker. While the breaker is open the
// call is rejected with ErrOpen without invoking fn.
func (b *Breaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	ctx, span := b.tracer.Start(ctx, fmt.Sprintf("breaker.%s", b.name),
		trace.WithAttributes(attribute.String("breaker.name", b.name)))
	defer span.End()

	if b.executions != nil {
		b.executions.Add(ctx, 1, metric.WithAttributes(attribute.String("breaker", b.name)))
	}

	result, err := b.cb.Execute(fn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			if b.rejections != nil {
				b.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("breaker", b.name)))
			}
			b.logger.Debug("circuit breaker rejected call", zap.String("breaker", b.name))
			return nil, fmt.Errorf("%w: %s", ErrOpen, b.name)
		}
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return result, nil
}

// ExecuteWithFallback runs fn through the breaker and hands any error,
// including rejection, to fallback instead of returning it.
func (b *Breaker) ExecuteWithFallback(ctx context.Context, fn func() (interface{}, error), fallback func(error) (interface{}, error)) (interface{}, error) {
	result, err := b.Execute(ctx, fn)
	if err != nil && fallback != nil {
		return fallback(err)
	}
	return result, err
}

// State reports the current gobreaker state.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

// IsOpen reports whether calls would currently be rejected.
func (b *Breaker) IsOpen() bool { return b.cb.State() == gobreaker.StateOpen }

// Counts exposes the rolling counters, mainly for health reporting.
func (b *Breaker) Counts() gobreaker.Counts { return b.cb.Counts() }

// Name returns the identifier the breaker was created with.
func (b *Breaker) Name() string { return b.name }

// Manager holds one breaker per downstream dependency.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	logger   *zap.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		breakers: make(map[string]*Breaker),
		logger:   logger,
	}
}

// GetOrCreate returns the breaker registered under cfg.Name, creating
// it on first use.
func (m *Manager) GetOrCreate(cfg Config) *Breaker {
	m.mu.RLock()
	if b, ok := m.breakers[cfg.Name]; ok {
		m.mu.RUnlock()
		return b
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[cfg.Name]; ok {
		return b
	}
	b := New(cfg, m.logger.With(zap.String("breaker", cfg.Name)))
	m.breakers[cfg.Name] = b
	return b
}

// Get returns a registered breaker, or nil when none exists.
func (m *Manager) Get(name string) *Breaker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.breakers[name]
}

// BreakerHealth is one entry in the manager's health report.
type BreakerHealth struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Requests uint32 `json:"requests"`
	Failures uint32 `json:"failures"`
	Healthy  bool   `json:"healthy"`
}

// Health reports every registered breaker, sorted by name so the
// readiness payload is stable.
func (m *Manager) Health() []BreakerHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]BreakerHealth, 0, len(m.breakers))
	for name, b := range m.breakers {
		counts := b.Counts()
		out = append(out, BreakerHealth{
			Name:     name,
			State:    b.State().String(),
			Requests: counts.Requests,
			Failures: counts.TotalFailures,
			Healthy:  b.State() == gobreaker.StateClosed,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
