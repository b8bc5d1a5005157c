// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/hiroaki404/trip-ai/internal/llm"
)

// ErrExhausted is returned when the script has no replies left.
var ErrExhausted = errors.New("llmtest: script exhausted")

// Reply is one scripted response. A non-nil Err is returned instead of Content.
type Reply struct {
	Content string
	Err     error
}

// Provider replays replies in order and records every request.
// Respond, when set, is consulted before the script.
type Provider struct {
	mu       sync.Mutex
	replies  []Reply
	requests []llm.ChatRequest

	// Respond lets a test compute replies from the request. Returning
	// ok=false falls through to the script.
	Respond func(req *llm.ChatRequest) (content string, ok bool)
}

// New returns a provider that replies with contents in order.
func New(contents ...string) *Provider {
	p := &Provider{}
	for _, c := range contents {
		p.replies = append(p.replies, Reply{Content: c})
	}
	return p
}

// Push appends replies to the script.
func (p *Provider) Push(replies ...Reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = append(p.replies, replies...)
}

// Chat records req and returns the next reply.
func (p *Provider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	cp := *req
	cp.Messages = append([]llm.Message(nil), req.Messages...)
	p.requests = append(p.requests, cp)
	respond := p.Respond
	p.mu.Unlock()

	if respond != nil {
		if content, ok := respond(&cp); ok {
			return &llm.ChatResponse{Content: content, Model: "scripted"}, nil
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.replies) == 0 {
		return nil, ErrExhausted
	}
	r := p.replies[0]
	p.replies = p.replies[1:]
	if r.Err != nil {
		return nil, r.Err
	}
	return &llm.ChatResponse{Content: r.Content, Model: "scripted", FinishReason: "stop"}, nil
}

// Name returns "scripted".
func (p *Provider) Name() string { return "scripted" }

// Available always returns true.
func (p *Provider) Available() bool { return true }

// Requests returns a copy of every recorded request.
func (p *Provider) Requests() []llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.ChatRequest(nil), p.requests...)
}

// Calls returns the number of Chat calls.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Remaining returns the number of unconsumed replies.
func (p *Provider) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.replies)
}
