package mock

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/besttutor/internal/ai"
)

// ProviderName labels metrics and telemetry
const ProviderName = "mock"

// Provider is a mock AI provider for testing and development
type Provider struct {
	logger *slog.Logger

	mu sync.Mutex

	// Configurable responses for testing, keyed by schema name
	Responses map[string]string
	// GenerateFunc overrides everything else when set
	GenerateFunc func(ctx context.Context, req ai.Request) (*ai.Response, error)
	GenerateError error
	SpeechError   error

	// Call tracking for testing
	GenerateCalls   int
	SynthesizeCalls int
	Requests        []ai.Request
}

var (
	_ ai.Generator         = (*Provider)(nil)
	_ ai.SpeechSynthesizer = (*Provider)(nil)
)

// New creates a new mock AI provider
func New(logger *slog.Logger) *Provider {
	return &Provider{
		logger:    logger,
		Responses: make(map[string]string),
	}
}

// SetResponse sets the canned reply for a schema name.
func (p *Provider) SetResponse(schema, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Responses[schema] = text
}

// Generate returns the configured reply for the request's schema, or a
// canned one that validates for the built-in flows.
func (p *Provider) Generate(ctx context.Context, req ai.Request) (*ai.Response, error) {
	p.mu.Lock()
	p.GenerateCalls++
	p.Requests = append(p.Requests, req)
	fn := p.GenerateFunc
	genErr := p.GenerateError
	text, ok := p.Responses[req.Schema.Name]
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if genErr != nil {
		return nil, genErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ok {
		text = cannedResponses[req.Schema.Name]
	}
	if text == "" {
		text = `{}`
	}

	return &ai.Response{
		Text: text,
		Usage: ai.Usage{
			Provider:     ProviderName,
			Model:        "mock-ai-v1",
			InputTokens:  120,
			OutputTokens: 80,
			Duration:     5 * time.Millisecond,
		},
	}, nil
}

// Synthesize returns a few bytes of fake audio.
func (p *Provider) Synthesize(ctx context.Context, req ai.SpeechRequest) (*ai.Speech, error) {
	p.mu.Lock()
	p.SynthesizeCalls++
	speechErr := p.SpeechError
	p.mu.Unlock()

	if speechErr != nil {
		return nil, speechErr
	}
	return &ai.Speech{
		Audio:       []byte("ID3mock-audio:" + req.Text),
		ContentType: "audio/mpeg",
		Usage: ai.Usage{
			Provider:    ProviderName,
			Model:       "mock-tts-v1",
			InputTokens: len(req.Text),
		},
	}, nil
}

// Calls returns the number of Generate calls so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.GenerateCalls
}

// Reset clears call counters and custom responses for testing
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GenerateCalls = 0
	p.SynthesizeCalls = 0
	p.Requests = nil
	p.Responses = make(map[string]string)
	p.GenerateFunc = nil
	p.GenerateError = nil
	p.SpeechError = nil
}

var cannedResponses = map[string]string{
	"tutor_reply": `{"reply":"Great question! Let's break it into smaller steps. What do you already know about the first part?","follow_up_questions":["Can you explain it in your own words?"]}`,
	"quiz": `{"questions":[
		{"question":"What is 7 x 8?","options":["54","56","64","48"],"correct_index":1,"explanation":"7 x 8 = 56."},
		{"question":"What is 9 x 6?","options":["54","56","45","63"],"correct_index":0,"explanation":"9 x 6 = 54."}]}`,
	"flashcards": `{"cards":[{"front":"Photosynthesis","back":"How plants turn light, water and CO2 into sugar and oxygen."},{"front":"Chlorophyll","back":"The green pigment that captures light."}]}`,
	"learning_path": `{"title":"Path to fractions","milestones":[
		{"title":"Parts of a whole","description":"Understand numerators and denominators.","activities":["Cut a paper pizza into equal slices"],"estimated_minutes":30},
		{"title":"Equivalent fractions","description":"Recognize fractions that name the same amount.","activities":["Fraction strips"],"estimated_minutes":45}]}`,
	"joke":          `{"setup":"Why was the math book sad?","punchline":"It had too many problems."}`,
	"coaching_tips": `{"summary":"Steady progress this week.","tips":[{"title":"Celebrate effort","detail":"Praise the practice, not only the score."}]}`,
	"note_summary":  `{"summary":"Plants convert light energy into chemical energy.","cues":["What does chlorophyll do?","What are the products of photosynthesis?"]}`,
}
