package resilience

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hyper-light/recall/core/domain"
	"github.com/hyper-light/recall/core/vector"
)

// StoreClient wraps a vector.Store with a circuit breaker and bounded retry.
// All store operations pass through the same wrapper.
//
// Composition rule: an open breaker short-circuits with ErrCircuitOpen
// before any retry loop begins; retries happen only while the breaker is
// closed or half-open. Caller cancellation is never recorded as a backend
// failure, so a caller giving up cannot open the circuit.
type StoreClient struct {
	store   vector.Store
	breaker *Breaker
	policy  RetryPolicy
	logger  *slog.Logger
}

// Health is an observable snapshot of the wrapper state, for health checks.
type Health struct {
	State           CircuitState `json:"state"`
	ConsecutiveFail int          `json:"consecutive_failures"`
	FailureRate     float64      `json:"failure_rate"`
}

// NewStoreClient wraps store with the given breaker configuration and retry
// policy. A nil logger falls back to slog.Default().
func NewStoreClient(store vector.Store, breakerCfg BreakerConfig, policy RetryPolicy, logger *slog.Logger) *StoreClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreClient{
		store:   store,
		breaker: NewBreaker(breakerCfg),
		policy:  policy,
		logger:  logger,
	}
}

// Query searches the backend through the breaker and retry wrapper.
func (c *StoreClient) Query(ctx context.Context, embedding []float32, k int, filter vector.Filter) ([]domain.RankedItem, error) {
	var results []domain.RankedItem
	err := c.call(ctx, "query", func(ctx context.Context) error {
		var err error
		results, err = c.store.Query(ctx, embedding, k, filter)
		return err
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Add indexes chunks through the breaker and retry wrapper.
func (c *StoreClient) Add(ctx context.Context, chunks []domain.Chunk) error {
	return c.call(ctx, "add", func(ctx context.Context) error {
		return c.store.Add(ctx, chunks)
	})
}

// Delete removes chunks through the breaker and retry wrapper.
func (c *StoreClient) Delete(ctx context.Context, ids []string) error {
	return c.call(ctx, "delete", func(ctx context.Context) error {
		return c.store.Delete(ctx, ids)
	})
}

// Get fetches chunks through the breaker and retry wrapper.
func (c *StoreClient) Get(ctx context.Context, ids []string) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	err := c.call(ctx, "get", func(ctx context.Context) error {
		var err error
		chunks, err = c.store.Get(ctx, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// call runs op through the breaker and retry composition.
func (c *StoreClient) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if !c.breaker.Allow() {
		return ErrCircuitOpen
	}

	err := Retry(ctx, c.policy, func() error {
		// Re-check per attempt: a half-open probe failure reopens the
		// circuit mid-loop.
		if !c.breaker.Allow() {
			return ErrCircuitOpen
		}
		attemptErr := c.attempt(ctx, op, fn)
		c.record(attemptErr)
		return attemptErr
	})
	if err != nil {
		c.logger.Warn("store call failed", "op", op, "state", c.breaker.State().String(), "error", err)
	}
	return err
}

// attempt runs one backend call under the per-attempt timeout. A deadline
// that fires while the caller is still waiting is backend slowness, not
// caller cancellation: it is reclassified as transient so the breaker
// counts it and the retry loop gets another attempt. A hung backend must
// not keep the circuit closed forever.
func (c *StoreClient) attempt(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	actx := ctx
	cancel := func() {}
	if c.policy.AttemptTimeout > 0 {
		actx, cancel = context.WithTimeout(ctx, c.policy.AttemptTimeout)
	}
	err := fn(actx)
	cancel()

	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return NewTransient(op, err)
	}
	return err
}

// record feeds the breaker. Caller cancellation and breaker short-circuits
// carry no signal about backend health and are not recorded either way;
// malformed input is the caller's fault, not the backend's. Backend-side
// attempt timeouts arrive here already wrapped as transient and count as
// failures.
func (c *StoreClient) record(err error) {
	switch {
	case err == nil:
		c.breaker.RecordSuccess()
	case IsTransient(err):
		c.breaker.RecordFailure()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	case errors.Is(err, ErrCircuitOpen):
	case errors.Is(err, ErrInvalidQuery),
		errors.Is(err, vector.ErrEmptyEmbedding),
		errors.Is(err, vector.ErrDimensionMismatch):
	default:
		c.breaker.RecordFailure()
	}
}

// State returns the breaker's current state.
func (c *StoreClient) State() CircuitState {
	return c.breaker.State()
}

// Health returns an observable snapshot for health checks.
func (c *StoreClient) Health() Health {
	return Health{
		State:           c.breaker.State(),
		ConsecutiveFail: c.breaker.Failures(),
		FailureRate:     c.breaker.FailureRate(),
	}
}

// Reset forces the breaker closed. Intended for operator use.
func (c *StoreClient) Reset() {
	c.breaker.ForceReset()
}
