// Package llmtest provides a scripted completion provider for tests and
// offline runs.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/richinex/deepresearch/llm"
	"github.com/richinex/deepresearch/model"
)

// ErrScriptExhausted is returned once every scripted reply was consumed.
var ErrScriptExhausted = errors.New("llmtest: script exhausted")

// Reply is one scripted outcome.
type Reply struct {
	Content string
	Usage   model.TokenUsage
	Err     error
}

// Scripted replays replies in order and records every request.
type Scripted struct {
	mu       sync.Mutex
	replies  []Reply
	requests []llm.Request
	fallback *Reply
}

// NewScripted creates a provider that returns replies in order.
func NewScripted(replies ...Reply) *Scripted {
	return &Scripted{replies: replies}
}

// Always makes the provider return r once the script is exhausted.
func (s *Scripted) Always(r Reply) *Scripted {
	s.fallback = &r
	return s
}

// Name implements llm.Provider.
func (s *Scripted) Name() string { return "scripted" }

// Model implements llm.Provider.
func (s *Scripted) Model() string { return "scripted-model" }

// Complete implements llm.Provider.
func (s *Scripted) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	if err := ctx.Err(); err != nil {
		return llm.Response{}, err
	}

	var r Reply
	switch {
	case len(s.replies) > 0:
		r = s.replies[0]
		s.replies = s.replies[1:]
	case s.fallback != nil:
		r = *s.fallback
	default:
		return llm.Response{}, ErrScriptExhausted
	}

	if r.Err != nil {
		return llm.Response{Usage: r.Usage}, r.Err
	}
	return llm.Response{
		Choices: []llm.Choice{{Message: llm.AssistantMessage(r.Content)}},
		Usage:   r.Usage,
	}, nil
}

// Requests returns the requests received so far.
func (s *Scripted) Requests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Request(nil), s.requests...)
}

// Calls returns how many requests were received.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

var _ llm.Provider = (*Scripted)(nil)
