// Package ai is the boundary between tutoring flows and the language model
// providers. Flows build a Request, providers turn it into text, and
// GenerateStructured decodes and validates that text into a typed value.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DukeRupert/besttutor/internal/ratelimit"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Role tags a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the prompt.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Schema describes the JSON document the model should return.
type Schema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	JSON        json.RawMessage `json:"schema,omitempty"`
}

// Request is a single generation call.
//
// Fields tagged json:"-" steer the decorators and are not part of the
// cache key, so identical prompts from different profiles share a cache entry.
type Request struct {
	Flow        string    `json:"flow"`
	Messages    []Message `json:"messages"`
	Schema      Schema    `json:"schema"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`

	ProfileID *uuid.UUID        `json:"-"`
	Limit     ratelimit.Profile `json:"-"` // limiter profile, default when empty
	CacheTTL  time.Duration     `json:"-"` // zero disables the response cache
}

// System returns the concatenated system messages.
func (r Request) System() string {
	var parts []string
	for _, m := range r.Messages {
		if m.Role == RoleSystem {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Usage tracks one call for telemetry and quotas.
type Usage struct {
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Duration     time.Duration `json:"duration"`
	CacheHit     bool          `json:"cache_hit"`
}

// Response is the raw model output.
type Response struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

// Generator produces text for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// SpeechRequest asks for spoken audio of a text.
type SpeechRequest struct {
	Text      string
	Voice     string
	Format    string // mp3 when empty
	ProfileID *uuid.UUID
}

// Speech is synthesized audio.
type Speech struct {
	Audio       []byte
	ContentType string
	Usage       Usage
}

// SpeechSynthesizer turns text into audio.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, req SpeechRequest) (*Speech, error)
}

// ProviderConfig contains common configuration for AI providers
type ProviderConfig struct {
	MaxRetries     int           // Maximum retry attempts for transient errors
	RetryBaseDelay time.Duration // Base delay for exponential backoff
	RequestTimeout time.Duration // Timeout for individual requests
}

// WithDefaults fills zero fields.
func (c ProviderConfig) WithDefaults() ProviderConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	return c
}

// Error codes for AI provider operations
var (
	// EAIRateLimit indicates the API rate limit has been exceeded
	EAIRateLimit = errors.New("ai provider rate limit exceeded")

	// EAIContentPolicy indicates the prompt or output violates content policy
	EAIContentPolicy = errors.New("ai content policy violation")

	// EAITimeout indicates the request timed out
	EAITimeout = errors.New("ai request timed out")

	// EAIUnavailable indicates the AI service is temporarily unavailable
	EAIUnavailable = errors.New("ai service temporarily unavailable")

	// EAIUnauthorized indicates invalid API credentials
	EAIUnauthorized = errors.New("ai provider authentication failed")

	// EAIBadRequest indicates the provider rejected the request
	EAIBadRequest = errors.New("ai provider rejected request")
)

// IsRetryable returns true if the error is a transient error that can be retried
func IsRetryable(err error) bool {
	return errors.Is(err, EAIRateLimit) ||
		errors.Is(err, EAITimeout) ||
		errors.Is(err, EAIUnavailable)
}

// ProviderError is a transport or provider failure.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// SchemaValidationError means the model returned text that did not decode
// into, or validate as, the requested schema.
type SchemaValidationError struct {
	Schema string
	Fields []string
	Err    error
}

func (e *SchemaValidationError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("ai output does not match schema %s: invalid fields %s", e.Schema, strings.Join(e.Fields, ", "))
	}
	return fmt.Sprintf("ai output does not match schema %s: %v", e.Schema, e.Err)
}

func (e *SchemaValidationError) Unwrap() error {
	return e.Err
}

// ErrorCode returns a short label for telemetry.
func ErrorCode(err error) string {
	var schemaErr *SchemaValidationError
	var limitErr *ratelimit.ExceededError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &limitErr):
		return "rate_limited"
	case errors.As(err, &schemaErr):
		return "schema"
	case errors.Is(err, EAIRateLimit):
		return "provider_rate_limit"
	case errors.Is(err, EAITimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, EAIUnavailable):
		return "unavailable"
	case errors.Is(err, EAIUnauthorized):
		return "unauthorized"
	case errors.Is(err, EAIContentPolicy):
		return "content_policy"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

// WrapError wraps an error with context about the AI operation
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("ai %s: %w", operation, err)
}

// ResultObserver is implemented by generators that act on a reply only
// once it is known to decode and validate, such as caching it or counting
// it against a quota.
type ResultObserver interface {
	ObserveResult(ctx context.Context, req Request, resp *Response, err error)
}

// GenerateStructured runs the request and decodes the reply into T, then
// validates it with the struct's validate tags. The verdict is reported to
// g when it implements ResultObserver.
func GenerateStructured[T any](ctx context.Context, g Generator, v *validator.Validate, req Request) (T, Usage, error) {
	var out T

	resp, err := g.Generate(ctx, req)
	if err != nil {
		return out, Usage{}, err
	}

	err = decodeStructured(ctx, v, req.Schema.Name, resp.Text, &out)
	if obs, ok := g.(ResultObserver); ok {
		obs.ObserveResult(ctx, req, resp, err)
	}
	return out, resp.Usage, err
}

func decodeStructured(ctx context.Context, v *validator.Validate, schema, text string, out any) error {
	if err := json.Unmarshal([]byte(ExtractJSON(text)), out); err != nil {
		return &SchemaValidationError{Schema: schema, Err: err}
	}
	if v == nil {
		return nil
	}
	if err := v.StructCtx(ctx, out); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			fields := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				fields = append(fields, fe.Namespace()+":"+fe.Tag())
			}
			return &SchemaValidationError{Schema: schema, Fields: fields, Err: err}
		}
		return &SchemaValidationError{Schema: schema, Err: err}
	}
	return nil
}

// ExtractJSON trims markdown code fences and any prose around the outermost
// JSON object or array.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return text
	}
	closer := byte('}')
	if text[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(text, closer)
	if end < start {
		return text
	}
	return text[start : end+1]
}
