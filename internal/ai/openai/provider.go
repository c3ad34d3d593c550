// Package openai implements ai.Generator over the Chat Completions API and
// ai.SpeechSynthesizer over the Audio Speech API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/besttutor/internal/ai"
)

const (
	// DefaultBaseURL is the API root; endpoints are appended to it
	DefaultBaseURL = "https://api.openai.com/v1"

	DefaultModel    = "gpt-4o-mini"
	DefaultTTSModel = "tts-1"
	DefaultVoice    = "alloy"

	// MaxSpeechInput is the API limit on characters per speech request
	MaxSpeechInput = 4096

	// ProviderName labels metrics and telemetry
	ProviderName = "openai"
)

// Config contains configuration for the OpenAI provider
type Config struct {
	APIKey         string
	Model          string
	TTSModel       string
	Voice          string
	BaseURL        string
	ProviderConfig ai.ProviderConfig
}

// Provider talks to the OpenAI HTTP API.
type Provider struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

var (
	_ ai.Generator         = (*Provider)(nil)
	_ ai.SpeechSynthesizer = (*Provider)(nil)
)

// New creates a new OpenAI provider
func New(config Config, logger *slog.Logger) (*Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.TTSModel == "" {
		config.TTSModel = DefaultTTSModel
	}
	if config.Voice == "" {
		config.Voice = DefaultVoice
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.ProviderConfig = config.ProviderConfig.WithDefaults()

	return &Provider{
		config: config,
		client: &http.Client{Timeout: config.ProviderConfig.RequestTimeout},
		logger: logger.With("component", "ai", "provider", ProviderName),
	}, nil
}

// Generate runs a chat completion. A schema with a JSON body is sent as a
// strict json_schema response format; a name alone requests json_object.
func (p *Provider) Generate(ctx context.Context, req ai.Request) (*ai.Response, error) {
	start := time.Now()

	body, err := json.Marshal(p.buildChatRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	raw, _, err := p.postWithRetry(ctx, "/chat/completions", body)
	if err != nil {
		return nil, err
	}

	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &ai.ProviderError{Provider: ProviderName, Message: "unmarshal response", Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &ai.ProviderError{Provider: ProviderName, Message: "no choices in response", Err: ai.EAIUnavailable}
	}

	choice := resp.Choices[0]
	if choice.Message.Refusal != "" || choice.FinishReason == "content_filter" {
		return nil, &ai.ProviderError{Provider: ProviderName, Message: choice.Message.Refusal, Err: ai.EAIContentPolicy}
	}

	usage := ai.Usage{
		Provider:     ProviderName,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Duration:     time.Since(start),
	}
	p.logger.DebugContext(ctx, "generation complete",
		"flow", req.Flow,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"duration_ms", usage.Duration.Milliseconds(),
	)

	return &ai.Response{Text: choice.Message.Content, Usage: usage}, nil
}

// Synthesize converts text to audio.
func (p *Provider) Synthesize(ctx context.Context, req ai.SpeechRequest) (*ai.Speech, error) {
	if req.Text == "" {
		return nil, &ai.ProviderError{Provider: ProviderName, Message: "speech text is empty", Err: ai.EAIBadRequest}
	}
	start := time.Now()

	input := req.Text
	if len(input) > MaxSpeechInput {
		input = input[:MaxSpeechInput]
	}
	voice := req.Voice
	if voice == "" {
		voice = p.config.Voice
	}
	format := req.Format
	if format == "" {
		format = "mp3"
	}

	body, err := json.Marshal(speechRequest{
		Model:          p.config.TTSModel,
		Input:          input,
		Voice:          voice,
		ResponseFormat: format,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	audio, contentType, err := p.postWithRetry(ctx, "/audio/speech", body)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = "audio/mpeg"
	}

	return &ai.Speech{
		Audio:       audio,
		ContentType: contentType,
		Usage: ai.Usage{
			Provider:    ProviderName,
			Model:       p.config.TTSModel,
			InputTokens: len(input),
			Duration:    time.Since(start),
		},
	}, nil
}

func (p *Provider) buildChatRequest(req ai.Request) chatRequest {
	out := chatRequest{
		Model:       p.config.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	switch {
	case len(req.Schema.JSON) > 0:
		out.ResponseFormat = &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchema{
				Name:        req.Schema.Name,
				Description: req.Schema.Description,
				Schema:      req.Schema.JSON,
				Strict:      true,
			},
		}
	case req.Schema.Name != "":
		out.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return out
}

// postWithRetry posts body to path with exponential backoff on retryable errors.
func (p *Provider) postWithRetry(ctx context.Context, path string, body []byte) ([]byte, string, error) {
	var lastErr error

	for attempt := 1; attempt <= p.config.ProviderConfig.MaxRetries; attempt++ {
		raw, contentType, err := p.post(ctx, path, body)
		if err == nil {
			return raw, contentType, nil
		}

		lastErr = err
		if !ai.IsRetryable(err) || attempt >= p.config.ProviderConfig.MaxRetries {
			break
		}

		delay := p.config.ProviderConfig.RetryBaseDelay * time.Duration(1<<(attempt-1))
		p.logger.InfoContext(ctx, "Retrying AI request", "path", path, "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}

	return nil, "", lastErr
}

func (p *Provider) post(ctx context.Context, path string, body []byte) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, "", &ai.ProviderError{Provider: ProviderName, Err: ai.EAITimeout}
		}
		return nil, "", &ai.ProviderError{Provider: ProviderName, Message: err.Error(), Err: ai.EAIUnavailable}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", &ai.ProviderError{Provider: ProviderName, Message: "read response body", Err: ai.EAIUnavailable}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, "", mapHTTPError(resp.StatusCode, raw)
	}
	return raw, resp.Header.Get("Content-Type"), nil
}

func mapHTTPError(statusCode int, body []byte) error {
	var errResp apiErrorResponse
	_ = json.Unmarshal(body, &errResp)

	pe := &ai.ProviderError{Provider: ProviderName, StatusCode: statusCode, Message: errResp.Error.Message}
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		pe.Err = ai.EAIUnauthorized
	case statusCode == http.StatusTooManyRequests:
		pe.Err = ai.EAIRateLimit
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		pe.Err = ai.EAITimeout
	case statusCode >= 500:
		pe.Err = ai.EAIUnavailable
	case errResp.Error.Code == "content_policy_violation":
		pe.Err = ai.EAIContentPolicy
	default:
		pe.Err = ai.EAIBadRequest
	}
	return pe
}

// API request/response types

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *jsonSchema `json:"json_schema,omitempty"`
}

type jsonSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema"`
	Strict      bool            `json:"strict"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int    `json:"index"`
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Role    string `json:"role"`
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}
