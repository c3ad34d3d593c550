package flows

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/DukeRupert/besttutor/internal/ai"
	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/google/uuid"
)

// MaxSpeechChars is the longest text sent to the speech provider.
const MaxSpeechChars = 4096

// Speech reads a tutor reply aloud. The generator must also implement
// ai.SpeechSynthesizer; telemetry.Recorder and the mock provider do.
func (f *Flows) Speech(ctx context.Context, profileID uuid.UUID, text, voice string) (*ai.Speech, error) {
	const op = "Flows.Speech"

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.Invalid(op, "Text is required")
	}
	if utf8.RuneCountInString(text) > MaxSpeechChars {
		return nil, domain.Invalid(op, "Text is too long to read aloud")
	}

	synth, ok := f.gen.(ai.SpeechSynthesizer)
	if !ok {
		return nil, domain.Errorf(domain.EINTERNAL, op, "Speech is not available")
	}

	speech, err := synth.Synthesize(ctx, ai.SpeechRequest{
		Text:      text,
		Voice:     voice,
		ProfileID: &profileID,
	})
	if err != nil {
		return nil, f.mapError(ctx, op, "speech", err)
	}
	if len(speech.Audio) == 0 {
		return nil, f.mapError(ctx, op, "speech", &ai.ProviderError{Provider: speech.Usage.Provider, Message: "empty audio", Err: ai.EAIUnavailable})
	}
	return speech, nil
}
