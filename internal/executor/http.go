package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/execroute/execroute/internal/httputil"
)

// HTTP invokes a provider over a JSON completion endpoint:
//
//	POST {baseURL}/v1/completion  {"prompt": ..., "max_tokens": ...}
//	-> {"text": ..., "input_tokens": ..., "output_tokens": ...}
//
// Health is probed via GET {baseURL}/health.
type HTTP struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTP creates an HTTP executor. apiKey may be empty for unauthenticated
// backends.
func NewHTTP(name, baseURL, apiKey string) *HTTP {
	return &HTTP{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  httputil.DefaultClient(),
	}
}

// NewHTTPWithClient creates an HTTP executor with a custom client.
func NewHTTPWithClient(name, baseURL, apiKey string, client *http.Client) *HTTP {
	return &HTTP{name: name, baseURL: baseURL, apiKey: apiKey, client: client}
}

func (h *HTTP) Name() string { return h.name }

type httpCompletionRequest struct {
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

type httpCompletionResponse struct {
	Text         string `json:"text"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

func (h *HTTP) Invoke(ctx context.Context, prompt string, maxOutputTokens int) (*Result, error) {
	body, err := json.Marshal(httpCompletionRequest{
		Prompt:    prompt,
		MaxTokens: maxOutputTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/v1/completion", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s error: status=%d body=%s", h.name, resp.StatusCode, string(b))
	}

	var out httpCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	result := &Result{
		Text:         out.Text,
		InputTokens:  out.InputTokens,
		OutputTokens: out.OutputTokens,
	}
	if result.InputTokens == 0 {
		result.InputTokens = estimateTokens(prompt)
	}
	if result.OutputTokens == 0 {
		result.OutputTokens = estimateTokens(out.Text)
	}
	return result, nil
}

func (h *HTTP) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check: status=%d", resp.StatusCode)
	}
	return nil
}
