package service

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/DukeRupert/besttutor/internal/flows"
	"github.com/DukeRupert/besttutor/internal/storage"
	"github.com/google/uuid"
)

// speechURLExpiry is how long a presigned audio link stays valid.
const speechURLExpiry = time.Hour

// SpeechClip is stored tutor audio.
type SpeechClip struct {
	URL         string
	ContentType string
	Bytes       int
}

// SpeechService reads tutor replies aloud.
type SpeechService interface {
	Speak(ctx context.Context, profileID uuid.UUID, text, voice string) (*SpeechClip, error)
}

type speechService struct {
	flows  *flows.Flows
	store  storage.Storage
	voice  string
	logger *slog.Logger
}

// NewSpeechService creates a speech service. defaultVoice is used when a
// request names none.
func NewSpeechService(f *flows.Flows, store storage.Storage, defaultVoice string, logger *slog.Logger) SpeechService {
	return &speechService{
		flows:  f,
		store:  store,
		voice:  defaultVoice,
		logger: logger.With("component", "speech_service"),
	}
}

func (s *speechService) Speak(ctx context.Context, profileID uuid.UUID, text, voice string) (*SpeechClip, error) {
	const op = "SpeechService.Speak"

	if voice == "" {
		voice = s.voice
	}
	speech, err := s.flows.Speech(ctx, profileID, text, voice)
	if err != nil {
		return nil, err
	}

	contentType := speech.ContentType
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	key := storage.SpeechKey(profileID, contentType)
	if err := s.store.Put(ctx, key, bytes.NewReader(speech.Audio), storage.PutOptions{ContentType: contentType}); err != nil {
		return nil, domain.Internal(err, op, "failed to store audio")
	}

	url, err := s.store.URL(ctx, key, speechURLExpiry)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to link audio")
	}

	s.logger.DebugContext(ctx, "stored speech", "profile_id", profileID, "key", key, "bytes", len(speech.Audio))
	return &SpeechClip{URL: url, ContentType: contentType, Bytes: len(speech.Audio)}, nil
}
