package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

const defaultModel = "gpt-4o-mini"

// openAIChatAPI is the slice of the go-openai client we use, extracted so
// tests can substitute a fake.
type openAIChatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient implements Client on top of the OpenAI Chat Completions API.
// Setting BaseURL in the config makes it work against any OpenAI-compatible
// endpoint. The client does not retry; the batch processor owns retry policy.
type OpenAIClient struct {
	Model string
	api   openAIChatAPI
}

// NewOpenAIClient creates a new OpenAI completion client.
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		Model: defaultModel,
		api:   openai.NewClient(apiKey),
	}
}

// NewOpenAIClientWithBaseURL creates a client against an OpenAI-compatible
// endpoint (vLLM, Ollama's compat API, gateways).
func NewOpenAIClientWithBaseURL(apiKey, baseURL string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &OpenAIClient{
		Model: defaultModel,
		api:   openai.NewClientWithConfig(cfg),
	}
}

// Complete sends a prompt and returns the completion text.
// Rate-limit and server-side failures come back as *TransportError so the
// caller can distinguish them from content-level problems.
func (o *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := o.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", classifyProviderError(err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}

	return resp.Choices[0].Message.Content, nil
}

// CompleteWithSchema sends a prompt and unmarshals the JSON response into the
// provided schema after reply cleanup.
func (o *OpenAIClient) CompleteWithSchema(ctx context.Context, prompt string, schema any) error {
	response, err := o.Complete(ctx, prompt)
	if err != nil {
		return err
	}

	cleaned, err := CleanReply(response)
	if err != nil {
		return fmt.Errorf("failed to clean LLM response: %w", err)
	}

	if err := json.Unmarshal(cleaned, schema); err != nil {
		return fmt.Errorf("failed to unmarshal LLM response: %w", err)
	}

	return nil
}

// classifyProviderError wraps retryable provider failures in TransportError.
// Context cancellation passes through untouched.
func classifyProviderError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500 {
			return &TransportError{Status: apiErr.HTTPStatusCode, Err: err}
		}
		return fmt.Errorf("openai api error: %w", err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &TransportError{Status: reqErr.HTTPStatusCode, Err: err}
	}

	// Anything else at this point is a connection-level failure.
	return &TransportError{Err: err}
}
