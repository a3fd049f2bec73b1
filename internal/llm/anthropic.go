package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/teemow/inboxtriage/internal/triageerr"
)

const (
	defaultAnthropicURL = "https://api.anthropic.com"
	anthropicVersion    = "2023-06-01"
)

// AnthropicClient calls the Anthropic Messages API.
type AnthropicClient struct {
	baseURL   string
	apiKey    string
	model     string
	maxTokens int
	client    *http.Client
}

// AnthropicOption configures an AnthropicClient.
type AnthropicOption func(*AnthropicClient)

// WithBaseURL points the client at another endpoint.
func WithBaseURL(u string) AnthropicOption {
	return func(c *AnthropicClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) AnthropicOption {
	return func(c *AnthropicClient) { c.client = hc }
}

// WithMaxTokens sets the default response budget.
func WithMaxTokens(n int) AnthropicOption {
	return func(c *AnthropicClient) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// NewAnthropic returns a client for model using apiKey.
// Per-call deadlines come from the caller's context.
func NewAnthropic(apiKey, model string, opts ...AnthropicOption) *AnthropicClient {
	if model == "" {
		model = DefaultModel
	}
	c := &AnthropicClient{
		baseURL:   defaultAnthropicURL,
		apiKey:    apiKey,
		model:     model,
		maxTokens: DefaultMaxTokens,
		client:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *AnthropicClient) Name() string { return ProviderAnthropic }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends req and returns the text of the response.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	payload := anthropicRequest{
		Model:     c.model,
		MaxTokens: req.MaxTokens,
		System:    req.System,
	}
	if payload.MaxTokens <= 0 {
		payload.MaxTokens = c.maxTokens
	}
	for _, m := range req.Messages {
		payload.Messages = append(payload.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	respBody, err := c.post(ctx, body)
	if err != nil {
		return "", err
	}

	var resp anthropicResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", &triageerr.ValidationError{Source: ProviderAnthropic, Reason: "undecodable response", Raw: respBody}
	}
	text := extractText(resp.Content)
	if text == "" {
		return "", &triageerr.ValidationError{Source: ProviderAnthropic, Reason: "empty response", Raw: respBody}
	}
	return text, nil
}

func (c *AnthropicClient) post(ctx context.Context, body []byte) ([]byte, error) {
	const op = "anthropic.messages"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("content-type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &triageerr.ProviderError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &triageerr.ProviderError{Op: op, Code: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		pe := &triageerr.ProviderError{Op: op, Code: resp.StatusCode}
		var apiErr anthropicError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Type != "" {
			pe.Reason = apiErr.Error.Type
			pe.Err = fmt.Errorf("%s", apiErr.Error.Message)
		} else {
			pe.Err = fmt.Errorf("%s", strings.TrimSpace(string(respBody)))
		}
		return nil, pe
	}
	return respBody, nil
}

func extractText(content []anthropicContent) string {
	var parts []string
	for _, c := range content {
		if c.Type == "text" && strings.TrimSpace(c.Text) != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
