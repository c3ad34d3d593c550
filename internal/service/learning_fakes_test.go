package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/DukeRupert/besttutor/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// =============================================================================
// In-memory store for profiles, notes, quizzes and conversations
// =============================================================================

type fakeLearningStore struct {
	mu            sync.Mutex
	profiles      map[uuid.UUID]repository.Profile
	notes         map[uuid.UUID]repository.Note
	quizzes       map[uuid.UUID]repository.Quiz
	results       []repository.QuizResult
	conversations map[uuid.UUID]repository.Conversation
	messages      []repository.ConversationMessage
	aiSessions    map[uuid.UUID]int64
	jobs          []repository.EnqueueJobParams
	clock         time.Time

	failCounts map[uuid.UUID]bool // CountNotesByProfile fails for these profiles
	failTx     error
}

var (
	_ profileQueries    = (*fakeLearningStore)(nil)
	_ noteQueries       = (*fakeLearningStore)(nil)
	_ quizQueries       = (*fakeLearningStore)(nil)
	_ conversationStore = (*fakeLearningStore)(nil)
	_ dashboardQueries  = (*fakeLearningStore)(nil)
)

func newFakeLearningStore() *fakeLearningStore {
	return &fakeLearningStore{
		profiles:      map[uuid.UUID]repository.Profile{},
		notes:         map[uuid.UUID]repository.Note{},
		quizzes:       map[uuid.UUID]repository.Quiz{},
		conversations: map[uuid.UUID]repository.Conversation{},
		aiSessions:    map[uuid.UUID]int64{},
		failCounts:    map[uuid.UUID]bool{},
		clock:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// tick returns a strictly increasing timestamp so ordering is deterministic.
func (f *fakeLearningStore) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeLearningStore) addProfile(role domain.Role, parent *uuid.UUID, email string) repository.Profile {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.tick()
	p := repository.Profile{
		ID:          uuid.New(),
		Email:       email,
		DisplayName: strings.Split(email, "@")[0],
		Role:        string(role),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if parent != nil {
		p.ParentID = uuid.NullUUID{UUID: *parent, Valid: true}
	}
	f.profiles[p.ID] = p
	return p
}

func (f *fakeLearningStore) InTx(ctx context.Context, fn func(q conversationQueries) error) error {
	if f.failTx != nil {
		return f.failTx
	}
	return fn(f)
}

// ---- profiles ---------------------------------------------------------------

func (f *fakeLearningStore) GetProfileByID(ctx context.Context, id uuid.UUID) (repository.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return repository.Profile{}, sql.ErrNoRows
	}
	return p, nil
}

func (f *fakeLearningStore) GetProfileByAuthUserID(ctx context.Context, authUserID string) (repository.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.profiles {
		if p.AuthUserID.Valid && p.AuthUserID.String == authUserID {
			return p, nil
		}
	}
	return repository.Profile{}, sql.ErrNoRows
}

func (f *fakeLearningStore) GetProfileByEmail(ctx context.Context, email string) (repository.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matches []repository.Profile
	for _, p := range f.profiles {
		if strings.EqualFold(p.Email, email) {
			matches = append(matches, p)
		}
	}
	if len(matches) == 0 {
		return repository.Profile{}, sql.ErrNoRows
	}
	sort.Slice(matches, func(i, j int) bool {
		pi, pj := matches[i].Role == "parent", matches[j].Role == "parent"
		if pi != pj {
			return pi
		}
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})
	return matches[0], nil
}

func (f *fakeLearningStore) CreateProfile(ctx context.Context, arg repository.CreateProfileParams) (repository.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if arg.AuthUserID.Valid {
		for _, p := range f.profiles {
			if p.AuthUserID == arg.AuthUserID {
				return repository.Profile{}, &pgconn.PgError{Code: "23505"}
			}
		}
	}
	now := f.tick()
	p := repository.Profile{
		ID:          uuid.New(),
		AuthUserID:  arg.AuthUserID,
		ParentID:    arg.ParentID,
		Email:       arg.Email,
		DisplayName: arg.DisplayName,
		Role:        arg.Role,
		GradeLevel:  arg.GradeLevel,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	f.profiles[p.ID] = p
	return p, nil
}

func (f *fakeLearningStore) LinkProfileAuthUser(ctx context.Context, arg repository.LinkProfileAuthUserParams) (repository.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[arg.ID]
	if !ok || p.AuthUserID.Valid {
		return repository.Profile{}, sql.ErrNoRows
	}
	p.AuthUserID = arg.AuthUserID
	f.profiles[p.ID] = p
	return p, nil
}

func (f *fakeLearningStore) ListStudentsByParent(ctx context.Context, parentID uuid.UUID) ([]repository.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.Profile
	for _, p := range f.profiles {
		if p.ParentID.Valid && p.ParentID.UUID == parentID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeLearningStore) UpdateProfileDetails(ctx context.Context, arg repository.UpdateProfileDetailsParams) (repository.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[arg.ID]
	if !ok {
		return repository.Profile{}, sql.ErrNoRows
	}
	p.DisplayName = arg.DisplayName
	p.GradeLevel = arg.GradeLevel
	f.profiles[p.ID] = p
	return p, nil
}

func (f *fakeLearningStore) UpdateProfileAvatar(ctx context.Context, arg repository.UpdateProfileAvatarParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.profiles[arg.ID]
	p.AvatarKey = arg.AvatarKey
	f.profiles[arg.ID] = p
	return nil
}

// ---- notes ------------------------------------------------------------------

func (f *fakeLearningStore) CreateNote(ctx context.Context, arg repository.CreateNoteParams) (repository.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.tick()
	n := repository.Note{
		ID:        uuid.New(),
		ProfileID: arg.ProfileID,
		Subject:   arg.Subject,
		Title:     arg.Title,
		Cues:      arg.Cues,
		Body:      arg.Body,
		Summary:   arg.Summary,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.notes[n.ID] = n
	return n, nil
}

func (f *fakeLearningStore) GetNote(ctx context.Context, arg repository.GetNoteParams) (repository.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.notes[arg.ID]
	if !ok || n.ProfileID != arg.ProfileID {
		return repository.Note{}, sql.ErrNoRows
	}
	return n, nil
}

func (f *fakeLearningStore) ListNotesByProfile(ctx context.Context, arg repository.ListNotesByProfileParams) ([]repository.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.Note
	for _, n := range f.notes {
		if n.ProfileID == arg.ProfileID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	start := min(int(arg.Offset), len(out))
	end := min(start+int(arg.Limit), len(out))
	return out[start:end], nil
}

func (f *fakeLearningStore) UpdateNote(ctx context.Context, arg repository.UpdateNoteParams) (repository.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.notes[arg.ID]
	if !ok || n.ProfileID != arg.ProfileID {
		return repository.Note{}, sql.ErrNoRows
	}
	n.Subject, n.Title, n.Cues, n.Body, n.Summary = arg.Subject, arg.Title, arg.Cues, arg.Body, arg.Summary
	n.UpdatedAt = f.tick()
	f.notes[n.ID] = n
	return n, nil
}

func (f *fakeLearningStore) UpdateNoteSummary(ctx context.Context, arg repository.UpdateNoteSummaryParams) (repository.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.notes[arg.ID]
	if !ok || n.ProfileID != arg.ProfileID {
		return repository.Note{}, sql.ErrNoRows
	}
	n.Summary, n.Cues = arg.Summary, arg.Cues
	n.UpdatedAt = f.tick()
	f.notes[n.ID] = n
	return n, nil
}

func (f *fakeLearningStore) DeleteNote(ctx context.Context, arg repository.DeleteNoteParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.notes[arg.ID]
	if !ok || n.ProfileID != arg.ProfileID {
		return 0, nil
	}
	delete(f.notes, arg.ID)
	return 1, nil
}

func (f *fakeLearningStore) CountNotesByProfile(ctx context.Context, profileID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCounts[profileID] {
		return 0, errors.New("connection reset")
	}
	var n int64
	for _, note := range f.notes {
		if note.ProfileID == profileID {
			n++
		}
	}
	return n, nil
}

// ---- quizzes ----------------------------------------------------------------

func (f *fakeLearningStore) CreateQuiz(ctx context.Context, arg repository.CreateQuizParams) (repository.Quiz, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := repository.Quiz{
		ID:         uuid.New(),
		ProfileID:  arg.ProfileID,
		Subject:    arg.Subject,
		Topic:      arg.Topic,
		Difficulty: arg.Difficulty,
		Questions:  arg.Questions,
		CreatedAt:  f.tick(),
	}
	f.quizzes[q.ID] = q
	return q, nil
}

func (f *fakeLearningStore) GetQuiz(ctx context.Context, arg repository.GetQuizParams) (repository.Quiz, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quizzes[arg.ID]
	if !ok || q.ProfileID != arg.ProfileID {
		return repository.Quiz{}, sql.ErrNoRows
	}
	return q, nil
}

func (f *fakeLearningStore) CreateQuizResult(ctx context.Context, arg repository.CreateQuizResultParams) (repository.QuizResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := repository.QuizResult{
		ID:        uuid.New(),
		QuizID:    arg.QuizID,
		ProfileID: arg.ProfileID,
		Score:     arg.Score,
		Total:     arg.Total,
		Answers:   arg.Answers,
		CreatedAt: f.tick(),
	}
	f.results = append(f.results, r)
	return r, nil
}

func (f *fakeLearningStore) GetQuizStatsByProfile(ctx context.Context, profileID uuid.UUID) (repository.GetQuizStatsByProfileRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var row repository.GetQuizStatsByProfileRow
	var sum float64
	for _, r := range f.results {
		if r.ProfileID == profileID && r.Total > 0 {
			row.ResultCount++
			sum += float64(r.Score) * 100 / float64(r.Total)
		}
	}
	if row.ResultCount > 0 {
		row.AveragePercent = sum / float64(row.ResultCount)
	}
	return row, nil
}

func (f *fakeLearningStore) ListRecentQuizResults(ctx context.Context, arg repository.ListRecentQuizResultsParams) ([]repository.ListRecentQuizResultsRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.ListRecentQuizResultsRow
	for i := len(f.results) - 1; i >= 0 && len(out) < int(arg.Limit); i-- {
		r := f.results[i]
		if r.ProfileID != arg.ProfileID {
			continue
		}
		q := f.quizzes[r.QuizID]
		out = append(out, repository.ListRecentQuizResultsRow{QuizResult: r, Subject: q.Subject, Topic: q.Topic})
	}
	return out, nil
}

// ---- conversations ----------------------------------------------------------

func (f *fakeLearningStore) CreateConversation(ctx context.Context, arg repository.CreateConversationParams) (repository.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.tick()
	c := repository.Conversation{
		ID:        uuid.New(),
		ProfileID: arg.ProfileID,
		Subject:   arg.Subject,
		Title:     arg.Title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.conversations[c.ID] = c
	return c, nil
}

func (f *fakeLearningStore) GetConversation(ctx context.Context, arg repository.GetConversationParams) (repository.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conversations[arg.ID]
	if !ok || c.ProfileID != arg.ProfileID {
		return repository.Conversation{}, sql.ErrNoRows
	}
	return c, nil
}

func (f *fakeLearningStore) ListConversationsByProfile(ctx context.Context, arg repository.ListConversationsByProfileParams) ([]repository.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.Conversation
	for _, c := range f.conversations {
		if c.ProfileID == arg.ProfileID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > int(arg.Limit) {
		out = out[:arg.Limit]
	}
	return out, nil
}

func (f *fakeLearningStore) TouchConversation(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.conversations[id]
	c.UpdatedAt = f.tick()
	f.conversations[id] = c
	return nil
}

func (f *fakeLearningStore) CountConversationsByProfile(ctx context.Context, profileID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, c := range f.conversations {
		if c.ProfileID == profileID {
			n++
		}
	}
	return n, nil
}

func (f *fakeLearningStore) CreateConversationMessage(ctx context.Context, arg repository.CreateConversationMessageParams) (repository.ConversationMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := repository.ConversationMessage{
		ID:             uuid.New(),
		ConversationID: arg.ConversationID,
		Role:           arg.Role,
		Content:        arg.Content,
		CreatedAt:      f.tick(),
	}
	f.messages = append(f.messages, m)
	return m, nil
}

func (f *fakeLearningStore) ListConversationMessages(ctx context.Context, arg repository.ListConversationMessagesParams) ([]repository.ConversationMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.ConversationMessage
	for _, m := range f.messages {
		if m.ConversationID == arg.ConversationID {
			out = append(out, m)
		}
	}
	if len(out) > int(arg.Limit) {
		out = out[len(out)-int(arg.Limit):]
	}
	return out, nil
}

// ---- ai sessions and jobs ---------------------------------------------------

func (f *fakeLearningStore) GetAISessionStatsByProfile(ctx context.Context, profileID uuid.NullUUID) (repository.GetAISessionStatsByProfileRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := repository.GetAISessionStatsByProfileRow{SessionCount: f.aiSessions[profileID.UUID]}
	if row.SessionCount > 0 {
		row.LastSessionAt = sql.NullTime{Time: f.clock, Valid: true}
	}
	return row, nil
}

func (f *fakeLearningStore) EnqueueJob(ctx context.Context, arg repository.EnqueueJobParams) (repository.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, arg)
	return repository.Job{ID: uuid.New(), JobType: arg.JobType, Payload: arg.Payload}, nil
}

// =============================================================================
// Subscription status stub
// =============================================================================

type fakeStatus struct {
	statuses map[uuid.UUID]domain.SubscriptionStatus
	err      error
}

func (f *fakeStatus) GetStatus(ctx context.Context, profileID uuid.UUID) (*domain.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	status, ok := f.statuses[profileID]
	if !ok {
		return domain.FreeSubscription(profileID), nil
	}
	return &domain.Subscription{ProfileID: profileID, Status: status}, nil
}
