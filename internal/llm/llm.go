// Package llm is a thin client for OpenAI-compatible chat-completions
// endpoints (Fireworks in production). Errors returned by the service body
// are surfaced verbatim so callers can record them.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/salogamer2002/voicedesk/config"
)

// Message is one role-tagged turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client generates a completion for a conversation. The research pipeline
// and the notion loop both consume this interface; tests script it.
type Client interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Fireworks talks to the Fireworks chat-completions API.
type Fireworks struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpc       *http.Client
}

// NewFireworks builds a client from config. An override key (per-request
// credentials on the notion service) replaces the configured one.
func NewFireworks(cfg config.LLMConfig, overrideKey string) (*Fireworks, error) {
	key := cfg.APIKey
	if overrideKey != "" {
		key = overrideKey
	}
	if key == "" {
		return nil, fmt.Errorf("llm api key not configured")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.fireworks.ai/inference/v1"
	}
	return &Fireworks{
		apiKey:      key,
		baseURL:     baseURL,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		httpc:       &http.Client{Timeout: timeout},
	}, nil
}

type chatRequest struct {
	Model            string    `json:"model"`
	Messages         []Message `json:"messages"`
	Temperature      float64   `json:"temperature"`
	MaxTokens        int       `json:"max_tokens,omitempty"`
	TopP             float64   `json:"top_p"`
	TopK             int       `json:"top_k"`
	PresencePenalty  float64   `json:"presence_penalty"`
	FrequencyPenalty float64   `json:"frequency_penalty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Chat sends the conversation and returns the generated text.
func (f *Fireworks) Chat(ctx context.Context, messages []Message) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       f.model,
		Messages:    messages,
		Temperature: f.temperature,
		MaxTokens:   f.maxTokens,
		TopP:        1,
		TopK:        40,
	})
	if err != nil {
		return "", fmt.Errorf("marshalling chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building chat request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.apiKey)

	resp, err := f.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading inference response: %w", err)
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decoding inference response (status %d): %w", resp.StatusCode, err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("inference service error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("unexpected inference response (status %d): no choices", resp.StatusCode)
	}
	return out.Choices[0].Message.Content, nil
}
