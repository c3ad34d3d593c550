package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/besttutor/internal/ai"
	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/DukeRupert/besttutor/internal/metrics"
	"github.com/DukeRupert/besttutor/internal/repository"
	"github.com/google/uuid"
)

const publishTimeout = 5 * time.Second

// SessionStore persists ai_sessions rows.
type SessionStore interface {
	CreateAISession(ctx context.Context, arg repository.CreateAISessionParams) error
}

// Event is the Pub/Sub payload for one generation.
type Event struct {
	ProfileID    *uuid.UUID `json:"profile_id,omitempty"`
	Flow         string     `json:"flow"`
	Provider     string     `json:"provider"`
	Model        string     `json:"model"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
	DurationMs   int64      `json:"duration_ms"`
	CacheHit     bool       `json:"cache_hit"`
	Success      bool       `json:"success"`
	ErrorCode    string     `json:"error_code,omitempty"`
	At           time.Time  `json:"at"`
}

// Recorder decorates a generator and a speech synthesizer with telemetry.
type Recorder struct {
	gen       ai.Generator
	speech    ai.SpeechSynthesizer
	provider  string
	store     SessionStore
	publisher Publisher
	topic     string
	logger    *slog.Logger

	wg sync.WaitGroup
}

var (
	_ ai.Generator         = (*Recorder)(nil)
	_ ai.SpeechSynthesizer = (*Recorder)(nil)
	_ ai.ResultObserver    = (*Recorder)(nil)
)

// Config wires a Recorder.
type Config struct {
	Provider  string // reported when a failed call carries no usage
	Store     SessionStore
	Publisher Publisher // nil disables publishing
	Topic     string
}

// NewRecorder wraps gen and speech. speech may be nil.
func NewRecorder(gen ai.Generator, speech ai.SpeechSynthesizer, cfg Config, logger *slog.Logger) *Recorder {
	pub := cfg.Publisher
	if pub == nil || cfg.Topic == "" {
		pub = NopPublisher{}
	}
	return &Recorder{
		gen:       gen,
		speech:    speech,
		provider:  cfg.Provider,
		store:     cfg.Store,
		publisher: pub,
		topic:     cfg.Topic,
		logger:    logger.With("component", "telemetry"),
	}
}

// Generate calls through and records the outcome. A successful reply to a
// request with a schema is recorded by ObserveResult instead, once it is
// known whether the reply validated; invalid replies are not counted as
// successful sessions.
func (r *Recorder) Generate(ctx context.Context, req ai.Request) (*ai.Response, error) {
	start := time.Now()
	resp, err := r.gen.Generate(ctx, req)

	if err == nil && req.Schema.Name != "" {
		if resp.Usage.Duration == 0 && !resp.Usage.CacheHit {
			resp.Usage.Duration = time.Since(start)
		}
		return resp, nil
	}

	var usage ai.Usage
	if resp != nil {
		usage = resp.Usage
	}
	r.record(ctx, req.ProfileID, req.Flow, usage, time.Since(start), err)
	return resp, err
}

// ObserveResult records a structured reply with its validation outcome.
func (r *Recorder) ObserveResult(ctx context.Context, req ai.Request, resp *ai.Response, err error) {
	if obs, ok := r.gen.(ai.ResultObserver); ok {
		obs.ObserveResult(ctx, req, resp, err)
	}
	if req.Schema.Name == "" || resp == nil {
		return
	}
	r.record(ctx, req.ProfileID, req.Flow, resp.Usage, resp.Usage.Duration, err)
}

// Synthesize calls through and records the outcome under the speech flow.
func (r *Recorder) Synthesize(ctx context.Context, req ai.SpeechRequest) (*ai.Speech, error) {
	if r.speech == nil {
		return nil, &ai.ProviderError{Provider: r.provider, Message: "no speech provider configured", Err: ai.EAIUnavailable}
	}
	start := time.Now()
	speech, err := r.speech.Synthesize(ctx, req)

	var usage ai.Usage
	if speech != nil {
		usage = speech.Usage
	}
	r.record(ctx, req.ProfileID, "speech", usage, time.Since(start), err)
	return speech, err
}

func (r *Recorder) record(ctx context.Context, profileID *uuid.UUID, flow string, usage ai.Usage, elapsed time.Duration, callErr error) {
	if usage.Provider == "" {
		usage.Provider = r.provider
	}
	if usage.Duration == 0 && !usage.CacheHit {
		usage.Duration = elapsed
	}

	ev := Event{
		ProfileID:    profileID,
		Flow:         flow,
		Provider:     usage.Provider,
		Model:        usage.Model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		DurationMs:   usage.Duration.Milliseconds(),
		CacheHit:     usage.CacheHit,
		Success:      callErr == nil,
		ErrorCode:    ai.ErrorCode(callErr),
		At:           time.Now().UTC(),
	}

	status := "success"
	switch {
	case usage.CacheHit:
		status = "cache_hit"
	case callErr != nil:
		status = ev.ErrorCode
	}
	metrics.AICallsTotal.WithLabelValues(flow, ev.Provider, status).Inc()
	if !usage.CacheHit && callErr == nil {
		metrics.AICallDuration.WithLabelValues(ev.Provider).Observe(usage.Duration.Seconds())
		metrics.AITokensTotal.WithLabelValues("input").Add(float64(usage.InputTokens))
		metrics.AITokensTotal.WithLabelValues("output").Add(float64(usage.OutputTokens))
	}

	if callErr != nil {
		r.logger.WarnContext(ctx, "ai call failed", "flow", flow, "provider", ev.Provider, "error_code", ev.ErrorCode, "error", callErr)
	}

	if r.store != nil {
		// The row backs the free-tier quota, so it is written even when the
		// request context has already been cancelled.
		err := r.store.CreateAISession(context.WithoutCancel(ctx), repository.CreateAISessionParams{
			ProfileID:    domain.ToNullUUID(profileID),
			Flow:         flow,
			Provider:     ev.Provider,
			Model:        ev.Model,
			InputTokens:  int32(ev.InputTokens),
			OutputTokens: int32(ev.OutputTokens),
			DurationMs:   int32(ev.DurationMs),
			CacheHit:     ev.CacheHit,
			Success:      ev.Success,
			ErrorCode:    domain.ToNullString(ev.ErrorCode),
		})
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to record ai session", "flow", flow, "error", err)
		}
	}

	r.publish(ctx, ev)
}

func (r *Recorder) publish(ctx context.Context, ev Event) {
	if _, ok := r.publisher.(NopPublisher); ok {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to encode telemetry event", "error", err)
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		if _, err := r.publisher.Publish(pctx, r.topic, payload); err != nil {
			r.logger.Warn("failed to publish telemetry event", "flow", ev.Flow, "error", err)
		}
	}()
}

// Wait blocks until in-flight publishes finish. main calls it after the
// HTTP server and worker have stopped, before the publisher is closed.
func (r *Recorder) Wait() {
	r.wg.Wait()
}
