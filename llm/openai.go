// OpenAI Provider implementation using go-openai library.
//
// Information Hiding:
// - API endpoint and authentication
// - Request/response format for OpenAI Chat Completions API
// - OpenAI-compatible endpoints share this implementation via base URL

package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/richinex/deepresearch/model"
)

// OpenAIProvider implements the Provider interface for OpenAI and
// OpenAI-compatible endpoints.
type OpenAIProvider struct {
	name     string
	client   *openai.Client
	defaults settings
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(apiKey, model string, maxTokens uint32, temperature float32) *OpenAIProvider {
	return NewOpenAICompatibleProvider("openai", apiKey, "", model, maxTokens, temperature)
}

// NewOpenAICompatibleProvider creates a provider for any endpoint speaking
// the Chat Completions protocol. An empty baseURL uses api.openai.com.
func NewOpenAICompatibleProvider(name, apiKey, baseURL, model string, maxTokens uint32, temperature float32) *OpenAIProvider {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIProvider{
		name:   name,
		client: openai.NewClientWithConfig(config),
		defaults: settings{
			model:       model,
			maxTokens:   int(maxTokens),
			temperature: temperature,
		},
	}
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Model returns the current model.
func (p *OpenAIProvider) Model() string {
	return p.defaults.model
}

// Complete sends a chat completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (Response, error) {
	s := p.defaults.resolve(req)

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Messages:    convertToOpenAIMessages(req.Messages),
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	})
	if err != nil {
		return Response{}, fmt.Errorf("%s chat completion failed: %w", p.name, err)
	}

	out := Response{
		Usage: model.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, c := range resp.Choices {
		out.Choices = append(out.Choices, Choice{Message: ChatMessage{Role: c.Message.Role, Content: c.Message.Content}})
	}
	return out, nil
}

func convertToOpenAIMessages(messages []ChatMessage) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		result[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}
	return result
}

var _ Provider = (*OpenAIProvider)(nil)
