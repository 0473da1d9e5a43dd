package resilience

import (
	"context"

	"github.com/parleyvoice/parley/pkg/provider/llm"
)

// GuardedCompletion wraps an llm.Completion with a [Breaker] so that queries
// against a failing backend are rejected immediately instead of burning the
// turn's latency budget on a doomed request.
type GuardedCompletion struct {
	inner   llm.Completion
	breaker *Breaker
}

var _ llm.Completion = (*GuardedCompletion)(nil)

// GuardCompletion wraps c. A nil breaker gets defaults named after the
// backend role.
func GuardCompletion(c llm.Completion, breaker *Breaker) *GuardedCompletion {
	if breaker == nil {
		breaker = NewBreaker(BreakerConfig{Name: "llm"})
	}
	return &GuardedCompletion{inner: c, breaker: breaker}
}

// Query forwards to the wrapped completion through the breaker. While the
// breaker is open it returns [ErrCircuitOpen] without a backend round trip.
func (g *GuardedCompletion) Query(ctx context.Context, text string, opts llm.Options) (string, error) {
	var reply string
	err := g.breaker.Execute(func() error {
		var qerr error
		reply, qerr = g.inner.Query(ctx, text, opts)
		return qerr
	})
	if err != nil {
		return "", err
	}
	return reply, nil
}

// Close closes the wrapped completion.
func (g *GuardedCompletion) Close() error {
	return g.inner.Close()
}

// State exposes the breaker state, for health reporting.
func (g *GuardedCompletion) State() State {
	return g.breaker.State()
}
