package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"phinance/internal/logger"
	"phinance/internal/pkg/jsonutil"

	"github.com/go-resty/resty/v2"
)

const defaultBaseURL = "https://api.openai.com/v1"

// OpenAIChatClient speaks the /chat/completions dialect shared by OpenAI,
// DeepSeek, Qwen and Ollama's /v1 endpoint. It never retries: the cascade
// moves on to the next provider instead.
type OpenAIChatClient struct {
	BaseURL      string
	APIKey       string
	Model        string
	Temperature  float64
	ExtraHeaders map[string]string

	http *resty.Client
}

// StatusError is a non-2xx answer from the provider.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status=%d: %s", e.Code, e.Message)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func NewOpenAIChatClient(baseURL, apiKey, model string, headers map[string]string) *OpenAIChatClient {
	c := &OpenAIChatClient{
		BaseURL:      normalizeBaseURL(baseURL),
		APIKey:       apiKey,
		Model:        model,
		Temperature:  0.5,
		ExtraHeaders: headers,
	}
	c.http = resty.New().
		SetBaseURL(c.BaseURL).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		c.http.SetAuthToken(apiKey)
	}
	if len(headers) > 0 {
		c.http.SetHeaders(headers)
	}
	return c
}

// normalizeBaseURL strips a trailing /chat/completions users sometimes paste in.
func normalizeBaseURL(url string) string {
	url = strings.TrimRight(strings.TrimSpace(url), "/")
	if url == "" {
		return defaultBaseURL
	}
	return strings.TrimSuffix(url, "/chat/completions")
}

// Complete sends one chat completion and returns the first choice's content.
func (c *OpenAIChatClient) Complete(ctx context.Context, payload ChatPayload) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if payload.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: payload.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: payload.User})
	body := chatRequest{
		Model:       c.Model,
		Messages:    messages,
		Temperature: c.Temperature,
		MaxTokens:   payload.MaxTokens,
	}
	if payload.ExpectJSON {
		body.ResponseFormat = map[string]string{"type": "json_object"}
	}

	var out chatResponse
	var apiErr chatError
	started := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&apiErr).
		Post("/chat/completions")
	if err != nil {
		return "", err
	}
	logger.Debugf("provider %s answered %d in %s", c.Model, resp.StatusCode(), time.Since(started).Round(time.Millisecond))
	if resp.IsError() {
		msg := strings.TrimSpace(apiErr.Error.Message)
		if msg == "" {
			msg = resp.Status()
		}
		return "", &StatusError{Code: resp.StatusCode(), Message: msg}
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("empty choices")
	}
	return out.Choices[0].Message.Content, nil
}

// OpenAIModelProvider adapts an OpenAIChatClient to ModelProvider.
type OpenAIModelProvider struct {
	id      string
	enabled bool
	client  *OpenAIChatClient
}

func NewOpenAIModelProvider(id string, enabled bool, client *OpenAIChatClient) *OpenAIModelProvider {
	return &OpenAIModelProvider{id: id, enabled: enabled, client: client}
}

func (p *OpenAIModelProvider) ID() string    { return p.id }
func (p *OpenAIModelProvider) Enabled() bool { return p.enabled }

func (p *OpenAIModelProvider) Call(ctx context.Context, payload ChatPayload) (string, error) {
	logger.LogProviderRequest(p.id, payload.TraceID, payload.System, payload.User)
	raw, err := p.client.Complete(ctx, payload)
	if err != nil {
		return "", err
	}
	logger.LogProviderResponse(p.id, payload.TraceID, jsonutil.Pretty(raw))
	return raw, nil
}
