package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/DukeRupert/besttutor/internal/ai"
)

const (
	// APIBaseURL is the base URL for the Anthropic API
	APIBaseURL = "https://api.anthropic.com/v1/messages"

	// APIVersion is the Anthropic API version
	APIVersion = "2023-06-01"

	// DefaultModel is the default Claude model to use
	DefaultModel = "claude-3-5-haiku-20241022"

	// DefaultMaxTokens applies when the request does not set MaxTokens
	DefaultMaxTokens = 2048

	// ProviderName labels metrics and telemetry
	ProviderName = "anthropic"
)

// Config contains configuration for the Anthropic provider
type Config struct {
	APIKey         string
	Model          string
	BaseURL        string // overrides APIBaseURL, used by tests
	ProviderConfig ai.ProviderConfig
}

// Provider implements ai.Generator using Anthropic's Messages API
type Provider struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

var _ ai.Generator = (*Provider)(nil)

// New creates a new Anthropic AI provider
func New(config Config, logger *slog.Logger) (*Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	// Set defaults
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.BaseURL == "" {
		config.BaseURL = APIBaseURL
	}
	config.ProviderConfig = config.ProviderConfig.WithDefaults()

	return &Provider{
		config: config,
		client: &http.Client{Timeout: config.ProviderConfig.RequestTimeout},
		logger: logger.With("component", "ai", "provider", ProviderName),
	}, nil
}

// Generate sends the conversation to Claude. System messages are lifted into
// the system field and the schema is appended to it as a JSON instruction.
func (p *Provider) Generate(ctx context.Context, req ai.Request) (*ai.Response, error) {
	start := time.Now()

	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := p.executeWithRetry(ctx, body)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, content := range resp.Content {
		if content.Type == "text" {
			text.WriteString(content.Text)
		}
	}
	if text.Len() == 0 {
		return nil, &ai.ProviderError{Provider: ProviderName, Message: "no text content in response", Err: ai.EAIUnavailable}
	}
	if resp.StopReason == "refusal" {
		return nil, &ai.ProviderError{Provider: ProviderName, Message: "model refused the request", Err: ai.EAIContentPolicy}
	}

	usage := ai.Usage{
		Provider:     ProviderName,
		Model:        resp.Model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		Duration:     time.Since(start),
	}
	p.logger.DebugContext(ctx, "generation complete",
		"flow", req.Flow,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"duration_ms", usage.Duration.Milliseconds(),
	)

	return &ai.Response{Text: text.String(), Usage: usage}, nil
}

func (p *Provider) buildRequest(req ai.Request) apiRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	out := apiRequest{
		Model:       p.config.Model,
		MaxTokens:   maxTokens,
		System:      buildSystemPrompt(req.System(), req.Schema),
		Temperature: req.Temperature,
	}
	for _, m := range req.Messages {
		if m.Role == ai.RoleSystem {
			continue
		}
		out.Messages = append(out.Messages, apiMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// executeWithRetry executes the request with exponential backoff retry
func (p *Provider) executeWithRetry(ctx context.Context, body []byte) (*apiResponse, error) {
	var lastErr error

	for attempt := 1; attempt <= p.config.ProviderConfig.MaxRetries; attempt++ {
		resp, err := p.executeRequest(ctx, body)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		// Only retry on retryable errors
		if !ai.IsRetryable(err) {
			return nil, err
		}

		// Don't retry if we've exhausted attempts
		if attempt >= p.config.ProviderConfig.MaxRetries {
			break
		}

		// Calculate backoff delay (exponential: base * 2^(attempt-1))
		delay := p.config.ProviderConfig.RetryBaseDelay * time.Duration(1<<(attempt-1))
		p.logger.InfoContext(ctx, "Retrying AI request", "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// executeRequest executes a single HTTP request
func (p *Provider) executeRequest(ctx context.Context, body []byte) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", APIVersion)

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, &ai.ProviderError{Provider: ProviderName, Err: ai.EAITimeout}
		}
		// Network errors are typically retryable
		return nil, &ai.ProviderError{Provider: ProviderName, Message: err.Error(), Err: ai.EAIUnavailable}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ai.ProviderError{Provider: ProviderName, Message: "read response body", Err: ai.EAIUnavailable}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, p.mapHTTPError(resp.StatusCode, bodyBytes)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, &ai.ProviderError{Provider: ProviderName, StatusCode: resp.StatusCode, Message: "unmarshal response", Err: err}
	}

	return &apiResp, nil
}

// mapHTTPError maps HTTP status codes to provider errors
func (p *Provider) mapHTTPError(statusCode int, body []byte) error {
	var errResp apiErrorResponse
	_ = json.Unmarshal(body, &errResp)

	pe := &ai.ProviderError{Provider: ProviderName, StatusCode: statusCode, Message: errResp.Error.Message}
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		pe.Err = ai.EAIUnauthorized
	case http.StatusTooManyRequests:
		pe.Err = ai.EAIRateLimit
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		pe.Err = ai.EAITimeout
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusInternalServerError, 529:
		pe.Err = ai.EAIUnavailable
	default:
		pe.Err = ai.EAIBadRequest
	}
	return pe
}

// API request/response types

type apiRequest struct {
	Model       string       `json:"model"`
	MaxTokens   int          `json:"max_tokens"`
	System      string       `json:"system,omitempty"`
	Messages    []apiMessage `json:"messages"`
	Temperature float64      `json:"temperature,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []apiContentOutput `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      apiUsage           `json:"usage"`
}

type apiContentOutput struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type apiErrorResponse struct {
	Type  string   `json:"type"`
	Error apiError `json:"error"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
