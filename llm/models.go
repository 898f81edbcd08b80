// Package llm provides shared data models for completion providers.
package llm

import "github.com/richinex/deepresearch/model"

// ChatMessage represents a chat message with role and content.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SystemMessage creates a system message.
func SystemMessage(content string) ChatMessage {
	return ChatMessage{Role: "system", Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) ChatMessage {
	return ChatMessage{Role: "user", Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: content}
}

// Request is a single completion request.
type Request struct {
	Messages    []ChatMessage `json:"messages"`
	Model       string        `json:"model,omitempty"`
	Temperature *float32      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// Temperature returns a pointer for Request.Temperature.
func Temperature(t float32) *float32 {
	return &t
}

// Choice is one completion candidate.
type Choice struct {
	Message ChatMessage `json:"message"`
}

// Response is the result of a completion request.
type Response struct {
	Choices []Choice         `json:"choices"`
	Usage   model.TokenUsage `json:"usage"`
}

// Content returns the first choice's message content.
func (r Response) Content() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

func textResponse(content string, usage model.TokenUsage) Response {
	return Response{
		Choices: []Choice{{Message: AssistantMessage(content)}},
		Usage:   usage,
	}
}

// settings resolves per-request overrides against provider defaults.
type settings struct {
	model       string
	maxTokens   int
	temperature float32
}

func (s settings) resolve(req Request) settings {
	out := s
	if req.Model != "" {
		out.model = req.Model
	}
	if req.MaxTokens > 0 {
		out.maxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		out.temperature = *req.Temperature
	}
	return out
}
