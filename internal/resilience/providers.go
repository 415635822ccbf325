package resilience

import (
	"context"

	"github.com/MrWong99/hafiz/pkg/provider/llm"
	"github.com/MrWong99/hafiz/pkg/provider/stt"
)

// LLMFailover is an [llm.Provider] backed by a [Group] of LLM providers.
type LLMFailover struct {
	group *Group[llm.Provider]
}

var _ llm.Provider = (*LLMFailover)(nil)

// NewLLMFailover wraps members, the first being preferred.
func NewLLMFailover(members []Member[llm.Provider], opts ...GroupOption) (*LLMFailover, error) {
	g, err := NewGroup("llm", members, opts...)
	if err != nil {
		return nil, err
	}
	return &LLMFailover{group: g}, nil
}

// Group exposes the underlying group.
func (f *LLMFailover) Group() *Group[llm.Provider] { return f.group }

// Complete asks each healthy member in turn.
func (f *LLMFailover) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Capabilities reports the primary's model, since prompts are sized for it.
func (f *LLMFailover) Capabilities() llm.ModelCapabilities {
	return f.group.Primary().Capabilities()
}

// STTFailover is an [stt.Provider] backed by a [Group] of STT providers.
// Only opening a stream fails over; a session that breaks mid-recitation
// ends that recitation.
type STTFailover struct {
	group *Group[stt.Provider]
}

var _ stt.Provider = (*STTFailover)(nil)

// NewSTTFailover wraps members, the first being preferred.
func NewSTTFailover(members []Member[stt.Provider], opts ...GroupOption) (*STTFailover, error) {
	g, err := NewGroup("stt", members, opts...)
	if err != nil {
		return nil, err
	}
	return &STTFailover{group: g}, nil
}

// Group exposes the underlying group.
func (f *STTFailover) Group() *Group[stt.Provider] { return f.group }

// StartStream opens a session on the first member that accepts it.
func (f *STTFailover) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return Call(ctx, f.group, func(ctx context.Context, p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
