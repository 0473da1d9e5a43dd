// Package mock provides a test double for the llm.Completion interface.
package mock

import (
	"context"
	"sync"

	"github.com/parleyvoice/parley/pkg/provider/llm"
)

// QueryCall records a single invocation of Completion.Query.
type QueryCall struct {
	// Text is the utterance passed to Query.
	Text string
	// Opts are the options passed to Query.
	Opts llm.Options
}

// Completion is a mock implementation of llm.Completion.
type Completion struct {
	mu sync.Mutex

	// Reply is returned by every Query call.
	Reply string

	// QueryErr, if non-nil, is returned by Query instead of Reply.
	QueryErr error

	// QueryCalls records every call to Query in order.
	QueryCalls []QueryCall

	// CloseCalls is the number of times Close was called.
	CloseCalls int
}

var _ llm.Completion = (*Completion)(nil)

// Query records the call and returns Reply, QueryErr.
func (c *Completion) Query(ctx context.Context, text string, opts llm.Options) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.QueryCalls = append(c.QueryCalls, QueryCall{Text: text, Opts: opts})
	if c.QueryErr != nil {
		return "", c.QueryErr
	}
	return c.Reply, nil
}

// Close records the call.
func (c *Completion) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCalls++
	return nil
}

// Queries returns a snapshot of all recorded Query calls.
func (c *Completion) Queries() []QueryCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]QueryCall, len(c.QueryCalls))
	copy(out, c.QueryCalls)
	return out
}

// CloseCount returns how many times Close was called.
func (c *Completion) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CloseCalls
}
