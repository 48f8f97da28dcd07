package llm

import (
	"context"
	"fmt"
	"sync"
)

// ScriptEntry defines a single scripted response.
type ScriptEntry struct {
	// Response content (exactly one of Response/Text/Err should be set)
	Response *Response // pre-built response to return
	Text     string    // shorthand: wrapped as a FinishStop response with token usage
	Err      error     // return error from Generate()

	// Test control
	BlockUntilCancelled bool            // block Generate() until ctx is cancelled
	WaitCh              <-chan struct{} // block Generate() until closed, then return normally
	OnBlock             chan<- struct{} // notified when Generate() enters its blocking path
}

// Scripted implements Client with a dual-dispatch mock: per-purpose routing
// for flows where call order across agents is non-deterministic, plus a
// sequential fallback consumed in order for everything else.
type Scripted struct {
	mu         sync.Mutex
	sequential []ScriptEntry
	seqIndex   int
	routes     map[string][]ScriptEntry // purpose → per-purpose script
	routeIndex map[string]int
	captured   []*Request
}

// NewScripted creates a Scripted client with no entries.
func NewScripted() *Scripted {
	return &Scripted{
		routes:     make(map[string][]ScriptEntry),
		routeIndex: make(map[string]int),
	}
}

// AddSequential adds an entry consumed in order for non-routed calls.
func (c *Scripted) AddSequential(entry ScriptEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sequential = append(c.sequential, entry)
}

// AddText is shorthand for AddSequential with a plain text response.
func (c *Scripted) AddText(text string) {
	c.AddSequential(ScriptEntry{Text: text})
}

// AddRouted adds an entry matched by request purpose. Routed entries win
// over sequential ones.
func (c *Scripted) AddRouted(purpose string, entry ScriptEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[purpose] = append(c.routes[purpose], entry)
}

// Generate implements Client.
func (c *Scripted) Generate(ctx context.Context, req *Request) (*Response, error) {
	c.mu.Lock()
	c.captured = append(c.captured, req)
	entry, err := c.nextEntry(req)
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}

	if entry.BlockUntilCancelled {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		<-ctx.Done()
		return nil, NewError(KindOf(ctx.Err()), "generation cancelled", ctx.Err())
	}

	if entry.WaitCh != nil {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		select {
		case <-entry.WaitCh:
			// Released, fall through to the normal response.
		case <-ctx.Done():
			return nil, NewError(KindOf(ctx.Err()), "generation cancelled", ctx.Err())
		}
	}

	if entry.Err != nil {
		return nil, entry.Err
	}

	if entry.Response != nil {
		return entry.Response, nil
	}
	return &Response{
		Text:         entry.Text,
		FinishReason: FinishStop,
		Usage:        Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}, nil
}

// Close implements Client.
func (c *Scripted) Close() error { return nil }

// CallCount returns the total number of Generate() calls made.
func (c *Scripted) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.captured)
}

// Captured returns a copy of all requests seen so far.
func (c *Scripted) Captured() []*Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Request, len(c.captured))
	copy(out, c.captured)
	return out
}

// nextEntry selects the next script entry using dual dispatch.
// Must be called with c.mu held.
func (c *Scripted) nextEntry(req *Request) (*ScriptEntry, error) {
	if req.Purpose != "" {
		if entries, ok := c.routes[req.Purpose]; ok {
			idx := c.routeIndex[req.Purpose]
			if idx < len(entries) {
				c.routeIndex[req.Purpose] = idx + 1
				return &entries[idx], nil
			}
		}
	}

	if c.seqIndex < len(c.sequential) {
		entry := &c.sequential[c.seqIndex]
		c.seqIndex++
		return entry, nil
	}

	return nil, fmt.Errorf("scripted llm: no entry for call %d (purpose %q)", len(c.captured), req.Purpose)
}
