// Package llmclient adapts ports.Model onto an OpenAI-compatible chat
// completions HTTP API, grounded on the reference shell's internal/llm
// client: same config-from-environment construction, same bearer-auth
// JSON POST, generalized to also honor GenerateRequest's
// ResponseFormat/Temperature/MaxTokens and to report ports.Usage instead
// of a package-private Usage type.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"devengine/internal/ports"
)

// Client is an OpenAI-compatible Model adapter.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// New builds a Client from OPENAI_API_KEY/OPENAI_BASE_URL/OPENAI_MODEL,
// falling back to OPENCLAW_KEY for the API key when OPENAI_API_KEY is
// unset (the CLI's own two-env-var contract, see cmd/devengine).
func New() *Client {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENCLAW_KEY")
	}
	return &Client{
		baseURL:    normalizeBaseURL(os.Getenv("OPENAI_BASE_URL")),
		apiKey:     apiKey,
		model:      os.Getenv("OPENAI_MODEL"),
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// WithModel overrides the model identifier, used by the CLI's --model
// flag.
func (c *Client) WithModel(model string) *Client {
	if model == "" {
		return c
	}
	clone := *c
	clone.model = model
	return &clone
}

func normalizeBaseURL(raw string) string {
	if raw == "" {
		raw = "https://api.openai.com/v1"
	}
	s := strings.TrimRight(raw, "/")
	return strings.TrimSuffix(s, "/chat/completions")
}

type chatRequest struct {
	Model          string    `json:"model"`
	Messages       []chatMsg `json:"messages"`
	Temperature    float64   `json:"temperature,omitempty"`
	MaxTokens      int       `json:"max_tokens,omitempty"`
	ResponseFormat *respFmt  `json:"response_format,omitempty"`
}

type respFmt struct {
	Type string `json:"type"`
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate implements ports.Model.
func (c *Client) Generate(ctx context.Context, req ports.GenerateRequest) (string, error) {
	meta, err := c.GenerateWithMeta(ctx, req)
	if err != nil {
		return "", err
	}
	return meta.Content, nil
}

// GenerateWithMeta implements ports.Model.
func (c *Client) GenerateWithMeta(ctx context.Context, req ports.GenerateRequest) (ports.GenerateMeta, error) {
	temperature := req.Temperature
	if temperature == 0 {
		temperature = ports.DefaultTemperature
	}

	payload := chatRequest{
		Model:       c.model,
		Temperature: temperature,
		MaxTokens:   req.MaxTokens,
		Messages: []chatMsg{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
	}
	if req.ResponseFormat == ports.ResponseFormatJSON {
		payload.ResponseFormat = &respFmt{Type: "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return ports.GenerateMeta{}, fmt.Errorf("llmclient: marshal request: %w", err)
	}

	requestID := uuid.New().String()

	url := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return ports.GenerateMeta{}, fmt.Errorf("llmclient: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("X-Request-Id", requestID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return ports.GenerateMeta{}, fmt.Errorf("llmclient: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ports.GenerateMeta{}, fmt.Errorf("llmclient: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return ports.GenerateMeta{}, fmt.Errorf("llmclient: model API failure HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return ports.GenerateMeta{}, fmt.Errorf("llmclient: unmarshal response: %w", err)
	}
	if chatResp.Error != nil {
		return ports.GenerateMeta{}, fmt.Errorf("llmclient: model API error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return ports.GenerateMeta{}, fmt.Errorf("llmclient: no choices in response")
	}

	return ports.GenerateMeta{
		Content: chatResp.Choices[0].Message.Content,
		Usage: ports.Usage{
			PromptTokens:     chatResp.Usage.PromptTokens,
			CompletionTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:      chatResp.Usage.TotalTokens,
		},
		RequestID: requestID,
	}, nil
}

// GenerateStream is unsupported by this adapter; the chat completions
// API it targets here is called only in non-streaming mode.
func (c *Client) GenerateStream(context.Context, ports.GenerateRequest) (<-chan ports.StreamChunk, error) {
	return nil, ports.ErrStreamingUnsupported
}
