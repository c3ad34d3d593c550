package flows

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DukeRupert/besttutor/internal/ai"
	"github.com/DukeRupert/besttutor/internal/ai/mock"
	"github.com/DukeRupert/besttutor/internal/cache"
	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/DukeRupert/besttutor/internal/ratelimit"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestFlows(t *testing.T) (*Flows, *mock.Provider) {
	t.Helper()
	p := mock.New(discardLogger())
	return New(p, validator.New(validator.WithRequiredStructEnabled()), discardLogger()), p
}

func intPtr(i int) *int { return &i }

// =============================================================================
// Prompts
// =============================================================================

func TestSubjectTitle(t *testing.T) {
	assert.Equal(t, "World History", SubjectTitle("  world HISTORY "))
	assert.Equal(t, "General Studies", SubjectTitle(""))
}

func TestContextFlags(t *testing.T) {
	low := contextFlags("math", domain.TutorOptions{
		GradeLevel:     intPtr(3),
		Confidence:     domain.ConfidenceLow,
		ResponseLength: domain.ResponseLengthBrief,
	})
	assert.Contains(t, low, "Subject: Math.")
	assert.Contains(t, low, "grade 3")
	assert.Contains(t, low, "unsure")
	assert.Contains(t, low, "two or three sentences")

	k := contextFlags("reading", domain.TutorOptions{GradeLevel: intPtr(0), ResponseLength: domain.ResponseLengthDetailed})
	assert.Contains(t, k, "kindergarten")
	assert.Contains(t, k, "step-by-step")
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 5, clamp(0, 5, 1, 20))
	assert.Equal(t, 1, clamp(-3, 5, 1, 20))
	assert.Equal(t, 20, clamp(50, 5, 1, 20))
	assert.Equal(t, 7, clamp(7, 5, 1, 20))
}

// =============================================================================
// Flows
// =============================================================================

func TestTutor(t *testing.T) {
	f, p := newTestFlows(t)
	profileID := uuid.New()

	history := make([]domain.ConversationMessage, 30)
	for i := range history {
		role := domain.MessageRoleUser
		if i%2 == 1 {
			role = domain.MessageRoleAssistant
		}
		history[i] = domain.ConversationMessage{Role: role, Content: "turn"}
	}

	reply, err := f.Tutor(context.Background(), TutorInput{
		ProfileID: profileID,
		Subject:   "science",
		History:   history,
		Message:   "why is the sky blue?",
		Options:   domain.TutorOptions{ResponseLength: domain.ResponseLengthBrief},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, reply.Reply)

	require.Len(t, p.Requests, 1)
	req := p.Requests[0]
	assert.Equal(t, "tutor", req.Flow)
	assert.Equal(t, 250, req.MaxTokens)
	assert.Equal(t, &profileID, req.ProfileID)
	// system + trimmed history + new message
	assert.Len(t, req.Messages, 1+maxHistory+1)
	assert.Equal(t, ai.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "why is the sky blue?", req.Messages[len(req.Messages)-1].Content)
}

func TestTutor_EmptyMessage(t *testing.T) {
	f, p := newTestFlows(t)
	_, err := f.Tutor(context.Background(), TutorInput{Message: "  "})
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
	assert.Zero(t, p.Calls())
}

func TestQuiz(t *testing.T) {
	f, p := newTestFlows(t)

	t.Run("canned questions", func(t *testing.T) {
		questions, err := f.Quiz(context.Background(), QuizInput{Subject: "math", Topic: "multiplication", Count: 1})
		require.NoError(t, err)
		assert.Len(t, questions, 1)
	})

	t.Run("drops questions with out of range answers", func(t *testing.T) {
		p.SetResponse(SchemaQuiz, `{"questions":[
			{"question":"a","options":["x","y"],"correct_index":5,"explanation":""},
			{"question":"b","options":["x","y"],"correct_index":1,"explanation":""}]}`)
		questions, err := f.Quiz(context.Background(), QuizInput{Topic: "t"})
		require.NoError(t, err)
		require.Len(t, questions, 1)
		assert.Equal(t, "b", questions[0].Question)
	})

	t.Run("all questions invalid", func(t *testing.T) {
		p.SetResponse(SchemaQuiz, `{"questions":[{"question":"a","options":["x","y"],"correct_index":2,"explanation":""}]}`)
		_, err := f.Quiz(context.Background(), QuizInput{Topic: "t"})
		assert.Equal(t, domain.EUPSTREAM, domain.ErrorCode(err))
	})

	t.Run("invalid difficulty", func(t *testing.T) {
		_, err := f.Quiz(context.Background(), QuizInput{Topic: "t", Difficulty: "impossible"})
		assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
	})
}

func TestFlashcardsForNotes_ContinuesOnError(t *testing.T) {
	f, p := newTestFlows(t)
	p.GenerateFunc = func(ctx context.Context, req ai.Request) (*ai.Response, error) {
		if req.Messages[1].Content[len(req.Messages[1].Content)-4:] == "FAIL" {
			return nil, &ai.ProviderError{Provider: "mock", Err: ai.EAIUnavailable}
		}
		return &ai.Response{Text: `{"cards":[{"front":"f","back":"b"}]}`}, nil
	}

	notes := []*domain.Note{
		{ID: uuid.New(), Title: "one", Body: "ok"},
		{ID: uuid.New(), Title: "two", Body: "FAIL"},
		{ID: uuid.New(), Title: "three", Body: "ok"},
	}

	results, err := f.FlashcardsForNotes(context.Background(), notes, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].OK())
	assert.Equal(t, notes[0], results[0].Item)
	assert.False(t, results[1].OK())
	assert.Equal(t, domain.EUPSTREAM, domain.ErrorCode(results[1].Err))
	assert.True(t, results[2].OK())
	assert.Len(t, results[2].Value, 1)
}

func TestFlashcards_EmptyNote(t *testing.T) {
	f, _ := newTestFlows(t)
	_, err := f.Flashcards(context.Background(), &domain.Note{}, 5)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestLearningPath_UsesExpensiveLimiter(t *testing.T) {
	f, p := newTestFlows(t)

	path, err := f.LearningPath(context.Background(), LearningPathInput{Subject: "math", Goal: "understand fractions"})
	require.NoError(t, err)
	assert.Len(t, path.Milestones, 2)
	assert.Equal(t, 75, path.TotalMinutes())
	assert.Equal(t, ratelimit.ProfileExpensive, p.Requests[0].Limit)
}

func TestJoke_CachedAcrossProfiles(t *testing.T) {
	p := mock.New(discardLogger())
	reg, err := ratelimit.NewRegistry(ratelimit.DefaultConfigs(), ratelimit.NewMemoryStore(), discardLogger())
	require.NoError(t, err)
	guarded := ai.NewGuarded(p, nil, reg, cache.NewMemory(100), discardLogger())
	f := New(guarded, validator.New(), discardLogger())
	ctx := context.Background()

	first, err := f.Joke(ctx, uuid.New(), "math", intPtr(4))
	require.NoError(t, err)
	second, err := f.Joke(ctx, uuid.New(), "math", intPtr(4))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, p.Calls())

	_, err = f.Joke(ctx, uuid.New(), "science", intPtr(4))
	require.NoError(t, err)
	assert.Equal(t, 2, p.Calls())
	assert.Equal(t, JokeTTL, p.Requests[0].CacheTTL)
}

func TestCoaching(t *testing.T) {
	f, p := newTestFlows(t)
	parentID := uuid.New()

	tips, err := f.Coaching(context.Background(), CoachingInput{
		ParentID:     parentID,
		Student:      domain.StudentStats{Name: "Ada", GradeLevel: intPtr(5), QuizCount: 3, AverageScore: 72},
		RecentTopics: []string{"fractions"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, tips.Tips)
	assert.Contains(t, p.Requests[0].Messages[1].Content, "Ada (grade 5)")
	assert.Contains(t, p.Requests[0].Messages[1].Content, "fractions")
}

func TestSummarizeNote(t *testing.T) {
	f, _ := newTestFlows(t)
	summary, err := f.SummarizeNote(context.Background(), &domain.Note{Subject: "biology", Title: "Plants", Body: "Photosynthesis..."})
	require.NoError(t, err)
	assert.NotEmpty(t, summary.Summary)
	assert.NotEmpty(t, summary.Cues)
}

func TestSpeech(t *testing.T) {
	f, p := newTestFlows(t)
	ctx := context.Background()

	speech, err := f.Speech(ctx, uuid.New(), "  Fractions name parts of a whole. ", "")
	require.NoError(t, err)
	assert.Equal(t, "audio/mpeg", speech.ContentType)
	assert.Contains(t, string(speech.Audio), "Fractions name parts of a whole.")
	assert.Equal(t, 1, p.SynthesizeCalls)

	_, err = f.Speech(ctx, uuid.New(), "   ", "")
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))

	p.SpeechError = &ai.ProviderError{Err: ai.EAIUnavailable}
	_, err = f.Speech(ctx, uuid.New(), "hello", "")
	assert.Equal(t, domain.EUPSTREAM, domain.ErrorCode(err))
}

// =============================================================================
// Error mapping
// =============================================================================

func TestMapError(t *testing.T) {
	f, _ := newTestFlows(t)
	ctx := context.Background()

	err := f.mapError(ctx, "op", "joke", &ratelimit.ExceededError{Limiter: "default", RetryAfter: 3 * time.Second})
	assert.Equal(t, domain.ERATELIMIT, domain.ErrorCode(err))
	assert.Equal(t, 3*time.Second, domain.RetryAfter(err))

	err = f.mapError(ctx, "op", "joke", &ai.ProviderError{Err: ai.EAIContentPolicy})
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))

	err = f.mapError(ctx, "op", "joke", &ai.ProviderError{Err: ai.EAIUnauthorized})
	assert.Equal(t, domain.EUPSTREAM, domain.ErrorCode(err))

	err = f.mapError(ctx, "op", "joke", context.Canceled)
	assert.True(t, errors.Is(err, context.Canceled))
}
