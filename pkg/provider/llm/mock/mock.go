// Package mock is a scripted llm.Provider for feedback and API tests.
//
//	p := mock.NewReplying(`{"encouragement":"أحسنت!"}`, "Al-Ikhlas means sincerity.")
//	resp, _ := p.Complete(ctx, req) // first reply
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hafiz/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// CompleteCall is one recorded Complete invocation.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider answers Complete from, in order of precedence: CompleteFunc, the
// Replies queue, then CompleteResponse and CompleteErr. The zero value
// returns (nil, nil).
type Provider struct {
	mu sync.Mutex

	CompleteFunc     func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// Replies are handed out one per call until the queue is empty.
	Replies []string

	ModelCapabilities llm.ModelCapabilities

	CompleteCalls []CompleteCall
}

// NewReplying returns a provider that answers successive calls with replies.
func NewReplying(replies ...string) *Provider {
	return &Provider{Replies: replies}
}

// Complete records req and answers it.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	fn := p.CompleteFunc
	var scripted *llm.CompletionResponse
	if fn == nil && len(p.Replies) > 0 {
		scripted = &llm.CompletionResponse{Content: p.Replies[0]}
		p.Replies = p.Replies[1:]
	}
	resp, err := p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()

	switch {
	case fn != nil:
		return fn(ctx, req)
	case scripted != nil:
		return scripted, nil
	}
	return resp, err
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CompleteCall, len(p.CompleteCalls))
	copy(out, p.CompleteCalls)
	return out
}

// LastRequest returns the most recent request, or false if there was none.
func (p *Provider) LastRequest() (llm.CompletionRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.CompleteCalls) == 0 {
		return llm.CompletionRequest{}, false
	}
	return p.CompleteCalls[len(p.CompleteCalls)-1].Req, true
}

// Reset forgets recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
}
