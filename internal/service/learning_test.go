package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/DukeRupert/besttutor/internal/ai"
	"github.com/DukeRupert/besttutor/internal/ai/mock"
	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/DukeRupert/besttutor/internal/flows"
	"github.com/DukeRupert/besttutor/internal/repository"
	"github.com/DukeRupert/besttutor/internal/storage"
	"github.com/DukeRupert/besttutor/internal/worker"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFlows() (*flows.Flows, *mock.Provider) {
	p := mock.New(discardLogger())
	return flows.New(p, NewValidator(), discardLogger()), p
}

// =============================================================================
// Notes
// =============================================================================

func TestNoteService_CRUD(t *testing.T) {
	store := newFakeLearningStore()
	f, _ := newTestFlows()
	svc := NewNoteService(store, f, NewValidator(), discardLogger())
	ctx := context.Background()
	owner := uuid.New()

	note, err := svc.Create(ctx, owner, domain.NoteParams{Subject: " Science ", Title: "Photosynthesis", Body: "Plants use light."})
	require.NoError(t, err)
	assert.Equal(t, "science", note.Subject)
	assert.Equal(t, []string{}, note.Cues)

	got, err := svc.Get(ctx, owner, note.ID)
	require.NoError(t, err)
	assert.Equal(t, note.ID, got.ID)

	_, err = svc.Get(ctx, uuid.New(), note.ID)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err), "other profiles cannot read the note")

	updated, err := svc.Update(ctx, owner, note.ID, domain.NoteParams{Subject: "science", Title: "Photosynthesis II", Cues: []string{"Why green?"}, Body: "More."})
	require.NoError(t, err)
	assert.Equal(t, "Photosynthesis II", updated.Title)
	assert.Equal(t, []string{"Why green?"}, updated.Cues)

	list, err := svc.List(ctx, owner, 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, svc.Delete(ctx, owner, note.ID))
	err = svc.Delete(ctx, owner, note.ID)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestNoteService_CreateValidation(t *testing.T) {
	f, _ := newTestFlows()
	svc := NewNoteService(newFakeLearningStore(), f, NewValidator(), discardLogger())

	_, err := svc.Create(context.Background(), uuid.New(), domain.NoteParams{
		Title: strings.Repeat("x", 201),
		Cues:  []string{strings.Repeat("c", 301)},
	})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "subject")
	assert.Contains(t, verr.Fields, "title")
	assert.Contains(t, verr.Fields, "cues[0]")
}

func TestNoteService_Summarize(t *testing.T) {
	store := newFakeLearningStore()
	f, p := newTestFlows()
	svc := NewNoteService(store, f, NewValidator(), discardLogger())
	ctx := context.Background()
	owner := uuid.New()

	note, err := svc.Create(ctx, owner, domain.NoteParams{
		Subject: "science",
		Title:   "Photosynthesis",
		Cues:    []string{"What does chlorophyll do?", "My own cue"},
		Body:    "Plants use light to make sugar.",
	})
	require.NoError(t, err)

	summarized, err := svc.Summarize(ctx, owner, note.ID)
	require.NoError(t, err)
	assert.Equal(t, "Plants convert light energy into chemical energy.", summarized.Summary)
	assert.Equal(t, []string{
		"What does chlorophyll do?",
		"My own cue",
		"What are the products of photosynthesis?",
	}, summarized.Cues)
	assert.Equal(t, 1, p.Calls())

	empty, err := svc.Create(ctx, owner, domain.NoteParams{Subject: "science", Title: "Blank"})
	require.NoError(t, err)
	_, err = svc.Summarize(ctx, owner, empty.ID)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestNoteService_Flashcards(t *testing.T) {
	store := newFakeLearningStore()
	f, p := newTestFlows()
	svc := NewNoteService(store, f, NewValidator(), discardLogger())
	ctx := context.Background()
	owner := uuid.New()

	a, err := svc.Create(ctx, owner, domain.NoteParams{Subject: "science", Title: "Plants", Body: "Photosynthesis."})
	require.NoError(t, err)
	b, err := svc.Create(ctx, owner, domain.NoteParams{Subject: "science", Title: "Cells", Body: "Chlorophyll lives in chloroplasts."})
	require.NoError(t, err)

	results, err := svc.Flashcards(ctx, owner, []uuid.UUID{a.ID, b.ID, a.ID}, 1)
	require.NoError(t, err)
	require.Len(t, results, 2, "duplicate IDs are collapsed")
	assert.Equal(t, a.ID, results[0].NoteID)
	assert.Equal(t, b.ID, results[1].NoteID)
	for _, r := range results {
		assert.NoError(t, r.Err)
		assert.Len(t, r.Cards, 1)
	}
	assert.Equal(t, 2, p.Calls())

	_, err = svc.Flashcards(ctx, owner, nil, 5)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))

	_, err = svc.Flashcards(ctx, owner, []uuid.UUID{uuid.New()}, 5)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))

	p.GenerateError = ai.EAIUnavailable
	_, err = svc.Flashcards(ctx, owner, []uuid.UUID{a.ID, b.ID}, 5)
	assert.Equal(t, domain.EUPSTREAM, domain.ErrorCode(err), "all notes failing surfaces the error")
}

func TestMergeCues(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, mergeCues([]string{"a", "b"}, []string{"b", "c", "c"}))
	assert.Equal(t, []string{"x"}, mergeCues(nil, []string{"x"}))
}

// =============================================================================
// Quizzes
// =============================================================================

func TestQuizService_GenerateAndSubmit(t *testing.T) {
	store := newFakeLearningStore()
	f, _ := newTestFlows()
	svc := NewQuizService(store, f, NewValidator(), discardLogger())
	ctx := context.Background()
	student := &domain.Profile{ID: uuid.New(), Role: domain.RoleStudent, GradeLevel: intPtr(3)}

	quiz, err := svc.Generate(ctx, student, domain.QuizParams{Subject: "Math", Topic: "multiplication"})
	require.NoError(t, err)
	assert.Equal(t, "math", quiz.Subject)
	assert.Equal(t, domain.DifficultyMedium, quiz.Difficulty)
	require.Len(t, quiz.Questions, 2)

	// Canned answers: question 0 -> 1, question 1 -> 0.
	result, err := svc.Submit(ctx, student.ID, quiz.ID, []int{1, Unanswered})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Score)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, []int{1, -1}, result.Answers)
	assert.InDelta(t, 50.0, result.Percent(), 0.001)

	_, err = svc.Submit(ctx, student.ID, quiz.ID, []int{1, 0, 2})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = svc.Submit(ctx, student.ID, quiz.ID, []int{9})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "answers")

	_, err = svc.Submit(ctx, uuid.New(), quiz.ID, []int{1})
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestQuizService_GenerateValidation(t *testing.T) {
	f, p := newTestFlows()
	svc := NewQuizService(newFakeLearningStore(), f, NewValidator(), discardLogger())
	student := &domain.Profile{ID: uuid.New()}

	_, err := svc.Generate(context.Background(), student, domain.QuizParams{Subject: "math", Topic: "fractions", Difficulty: "impossible", Count: 50})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "difficulty")
	assert.Contains(t, verr.Fields, "count")
	assert.Equal(t, 0, p.Calls(), "invalid requests never reach the provider")
}

// =============================================================================
// Conversations
// =============================================================================

func TestConversationService_Reply(t *testing.T) {
	store := newFakeLearningStore()
	f, p := newTestFlows()
	svc := newConversationService(store, f, discardLogger())
	ctx := context.Background()
	student := &domain.Profile{ID: uuid.New(), Role: domain.RoleStudent, GradeLevel: intPtr(5)}

	conv, err := svc.Start(ctx, student.ID, " Math ", "")
	require.NoError(t, err)
	assert.Equal(t, "math", conv.Subject)
	assert.Equal(t, "Math session", conv.Title)

	turn, err := svc.Reply(ctx, student, conv.ID, "  What is a fraction? ", domain.TutorOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageRoleUser, turn.Student.Role)
	assert.Equal(t, "What is a fraction?", turn.Student.Content)
	assert.Equal(t, domain.MessageRoleAssistant, turn.Tutor.Role)
	assert.NotEmpty(t, turn.Tutor.Content)
	assert.NotEmpty(t, turn.FollowUpQuestions)

	_, messages, err := svc.Get(ctx, student.ID, conv.ID)
	require.NoError(t, err)
	assert.Len(t, messages, 2)

	// The second turn sends the stored history to the provider.
	_, err = svc.Reply(ctx, student, conv.ID, "And a decimal?", domain.TutorOptions{})
	require.NoError(t, err)
	last := p.Requests[len(p.Requests)-1]
	assert.GreaterOrEqual(t, len(last.Messages), 4)

	list, err := svc.List(ctx, student.ID, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].UpdatedAt.After(conv.UpdatedAt), "replies touch the conversation")
}

func TestConversationService_ReplyFailures(t *testing.T) {
	store := newFakeLearningStore()
	f, p := newTestFlows()
	svc := newConversationService(store, f, discardLogger())
	ctx := context.Background()
	student := &domain.Profile{ID: uuid.New()}

	conv, err := svc.Start(ctx, student.ID, "science", "Cells")
	require.NoError(t, err)
	assert.Equal(t, "Cells", conv.Title)

	var verr *domain.ValidationError
	_, err = svc.Reply(ctx, student, conv.ID, "   ", domain.TutorOptions{})
	require.ErrorAs(t, err, &verr)

	_, err = svc.Reply(ctx, student, conv.ID, strings.Repeat("a", MaxMessageLength+1), domain.TutorOptions{})
	require.ErrorAs(t, err, &verr)

	_, err = svc.Reply(ctx, student, conv.ID, "hi", domain.TutorOptions{Confidence: "very"})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "confidence")

	_, err = svc.Reply(ctx, &domain.Profile{ID: uuid.New()}, conv.ID, "hi", domain.TutorOptions{})
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))

	p.GenerateError = ai.EAIUnavailable
	_, err = svc.Reply(ctx, student, conv.ID, "hi", domain.TutorOptions{})
	assert.Equal(t, domain.EUPSTREAM, domain.ErrorCode(err))
	assert.Empty(t, store.messages, "nothing is stored when the tutor fails")

	p.GenerateError = nil
	store.failTx = errors.New("tx aborted")
	_, err = svc.Reply(ctx, student, conv.ID, "hi", domain.TutorOptions{})
	assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))
	assert.Empty(t, store.messages)
}

// =============================================================================
// Speech
// =============================================================================

func TestSpeechService_Speak(t *testing.T) {
	f, p := newTestFlows()
	local, err := storage.NewLocalStorage(t.TempDir(), "http://localhost:8080/files", discardLogger())
	require.NoError(t, err)
	svc := NewSpeechService(f, local, "alloy", discardLogger())
	ctx := context.Background()
	profileID := uuid.New()

	clip, err := svc.Speak(ctx, profileID, "Fractions are parts of a whole.", "")
	require.NoError(t, err)
	assert.Equal(t, "audio/mpeg", clip.ContentType)
	assert.Positive(t, clip.Bytes)
	assert.True(t, strings.HasPrefix(clip.URL, "http://localhost:8080/files/speech/"+profileID.String()+"/"))
	assert.True(t, strings.HasSuffix(clip.URL, ".mp3"))
	assert.Equal(t, 1, p.SynthesizeCalls)

	_, err = svc.Speak(ctx, profileID, " ", "")
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

// =============================================================================
// Dashboard
// =============================================================================

func seedFamily(t *testing.T, store *fakeLearningStore) (parent, kidA, kidB uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	p := store.addProfile(domain.RoleParent, nil, "pat@example.com")
	a := store.addProfile(domain.RoleStudent, &p.ID, "a@example.com")
	b := store.addProfile(domain.RoleStudent, &p.ID, "b@example.com")

	_, err := store.CreateNote(ctx, repository.CreateNoteParams{ProfileID: a.ID, Subject: "math", Title: "Fractions", Body: "Halves and quarters."})
	require.NoError(t, err)
	store.aiSessions[a.ID] = 3

	questions, err := json.Marshal([]domain.QuizQuestion{{Question: "1+1", Options: []string{"1", "2"}, CorrectIndex: 1}})
	require.NoError(t, err)
	quiz, err := store.CreateQuiz(ctx, repository.CreateQuizParams{ProfileID: a.ID, Subject: "math", Topic: "fractions", Difficulty: "easy", Questions: questions})
	require.NoError(t, err)
	_, err = store.CreateQuizResult(ctx, repository.CreateQuizResultParams{QuizID: quiz.ID, ProfileID: a.ID, Score: 1, Total: 1})
	require.NoError(t, err)
	_, err = store.CreateQuizResult(ctx, repository.CreateQuizResultParams{QuizID: quiz.ID, ProfileID: a.ID, Score: 0, Total: 1})
	require.NoError(t, err)
	return p.ID, a.ID, b.ID
}

func TestDashboardService_Overview(t *testing.T) {
	store := newFakeLearningStore()
	f, _ := newTestFlows()
	status := &fakeStatus{statuses: map[uuid.UUID]domain.SubscriptionStatus{}}
	svc := NewDashboardService(store, status, f, discardLogger())
	ctx := context.Background()

	parent, kidA, kidB := seedFamily(t, store)
	status.statuses[kidA] = domain.SubscriptionStatusActive

	stats, err := svc.Overview(ctx, parent)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, kidA, stats[0].ProfileID)
	assert.Equal(t, int64(1), stats[0].NoteCount)
	assert.Equal(t, int64(2), stats[0].QuizCount)
	assert.InDelta(t, 50.0, stats[0].AverageScore, 0.001)
	assert.Equal(t, int64(3), stats[0].AISessionCount)
	assert.NotNil(t, stats[0].LastActiveAt)
	assert.Equal(t, domain.SubscriptionStatusActive, stats[0].Status)
	assert.Equal(t, kidB, stats[1].ProfileID)
	assert.Equal(t, domain.SubscriptionStatusFree, stats[1].Status)

	progress, err := svc.Progress(ctx, parent)
	require.NoError(t, err)
	require.Len(t, progress[0].RecentQuizzes, 2)
	assert.Equal(t, "fractions", progress[0].RecentQuizzes[0].Topic)

	// A student whose stats fail is left out rather than failing the page.
	store.failCounts[kidB] = true
	stats, err = svc.Overview(ctx, parent)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, kidA, stats[0].ProfileID)

	empty, err := svc.Overview(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDashboardService_Coaching(t *testing.T) {
	store := newFakeLearningStore()
	f, p := newTestFlows()
	svc := NewDashboardService(store, &fakeStatus{}, f, discardLogger())
	ctx := context.Background()

	parent, kidA, _ := seedFamily(t, store)
	other := store.addProfile(domain.RoleParent, nil, "sam@example.com")

	tips, err := svc.Coaching(ctx, parent, kidA, "She rushes through homework")
	require.NoError(t, err)
	assert.NotEmpty(t, tips.Tips)
	prompt := p.Requests[len(p.Requests)-1].Messages
	assert.Contains(t, prompt[len(prompt)-1].Content, "fractions")

	_, err = svc.Coaching(ctx, other.ID, kidA, "")
	assert.Equal(t, domain.EFORBIDDEN, domain.ErrorCode(err))

	_, err = svc.Coaching(ctx, parent, parent, "")
	assert.Equal(t, domain.EFORBIDDEN, domain.ErrorCode(err))

	_, err = svc.Coaching(ctx, parent, uuid.New(), "")
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestDashboardService_RequestReport(t *testing.T) {
	store := newFakeLearningStore()
	f, _ := newTestFlows()
	svc := NewDashboardService(store, &fakeStatus{}, f, discardLogger())
	ctx := context.Background()
	parent := uuid.New()

	require.NoError(t, svc.RequestReport(ctx, parent, 0))
	require.Len(t, store.jobs, 1)
	assert.Equal(t, worker.JobTypeProgressReport, store.jobs[0].JobType)

	var payload worker.ProgressReportPayload
	require.NoError(t, json.Unmarshal(store.jobs[0].Payload, &payload))
	assert.Equal(t, parent, payload.ParentID)
	assert.Equal(t, DefaultReportDays, payload.Days)

	err := svc.RequestReport(ctx, parent, MaxReportDays+1)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, store.jobs, 1)
}
