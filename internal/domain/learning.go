// Package domain contains core business types and interfaces.
//
// This file defines notes, quizzes, conversations and the request options
// that shape tutoring prompts.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Tutoring options
// =============================================================================

// Confidence is how sure the student says they feel about a topic.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// IsValid returns true if the confidence is a recognized value.
func (c Confidence) IsValid() bool {
	return c == ConfidenceLow || c == ConfidenceMedium || c == ConfidenceHigh
}

// ResponseLength controls how long tutor replies should be.
type ResponseLength string

const (
	ResponseLengthBrief    ResponseLength = "brief"
	ResponseLengthStandard ResponseLength = "standard"
	ResponseLengthDetailed ResponseLength = "detailed"
)

// IsValid returns true if the mode is a recognized value.
func (m ResponseLength) IsValid() bool {
	return m == ResponseLengthBrief || m == ResponseLengthStandard || m == ResponseLengthDetailed
}

// Difficulty of generated quiz questions.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// IsValid returns true if the difficulty is a recognized value.
func (d Difficulty) IsValid() bool {
	return d == DifficultyEasy || d == DifficultyMedium || d == DifficultyHard
}

// NormalizeSubject lowercases and trims a subject for use as a key.
func NormalizeSubject(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// =============================================================================
// Notes
// =============================================================================

// Note is a Cornell-style note: cue questions, the note body and a summary.
type Note struct {
	ID        uuid.UUID
	ProfileID uuid.UUID
	Subject   string
	Title     string
	Cues      []string
	Body      string
	Summary   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NoteParams carries the editable fields of a note.
type NoteParams struct {
	Subject string   `json:"subject" validate:"required,max=80"`
	Title   string   `json:"title" validate:"required,max=200"`
	Cues    []string `json:"cues" validate:"max=30,dive,max=300"`
	Body    string   `json:"body" validate:"max=20000"`
	Summary string   `json:"summary" validate:"max=4000"`
}

// Flashcard is a single front/back study card.
type Flashcard struct {
	Front string `json:"front" validate:"required"`
	Back  string `json:"back" validate:"required"`
}

// =============================================================================
// Quizzes
// =============================================================================

// QuizQuestion is a multiple choice question with one correct option.
type QuizQuestion struct {
	Question     string   `json:"question" validate:"required"`
	Options      []string `json:"options" validate:"min=2,max=6,dive,required"`
	CorrectIndex int      `json:"correct_index" validate:"gte=0"`
	Explanation  string   `json:"explanation"`
}

// QuizParams describes a quiz to generate.
type QuizParams struct {
	Subject    string     `json:"subject" validate:"required,max=80"`
	Topic      string     `json:"topic" validate:"required,max=200"`
	Difficulty Difficulty `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	Count      int        `json:"count" validate:"gte=0,lte=20"`
}

// Quiz is a persisted set of generated questions.
type Quiz struct {
	ID         uuid.UUID
	ProfileID  uuid.UUID
	Subject    string
	Topic      string
	Difficulty Difficulty
	Questions  []QuizQuestion
	CreatedAt  time.Time
}

// Score grades answers against the quiz. Unanswered or out of range
// answers count as wrong.
func (q *Quiz) Score(answers []int) int {
	score := 0
	for i, question := range q.Questions {
		if i < len(answers) && answers[i] == question.CorrectIndex {
			score++
		}
	}
	return score
}

// QuizResult records one attempt at a quiz.
type QuizResult struct {
	ID        uuid.UUID
	QuizID    uuid.UUID
	ProfileID uuid.UUID
	Score     int
	Total     int
	Answers   []int
	CreatedAt time.Time
}

// Percent returns the score as a percentage, 0 for an empty quiz.
func (r *QuizResult) Percent() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Score) * 100 / float64(r.Total)
}

// =============================================================================
// Conversations
// =============================================================================

// MessageRole tags a conversation message.
type MessageRole string

const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Conversation is a tutoring chat thread on one subject.
type Conversation struct {
	ID        uuid.UUID
	ProfileID uuid.UUID
	Subject   string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ConversationMessage is one turn of a conversation.
type ConversationMessage struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           MessageRole
	Content        string
	CreatedAt      time.Time
}

// TutorOptions shapes the tutor's system prompt.
type TutorOptions struct {
	GradeLevel     *int
	Confidence     Confidence
	ResponseLength ResponseLength
}

// =============================================================================
// Dashboard
// =============================================================================

// StudentStats summarizes one student's activity for the parent dashboard.
type StudentStats struct {
	ProfileID         uuid.UUID
	Name              string
	GradeLevel        *int
	Status            SubscriptionStatus
	NoteCount         int64
	QuizCount         int64
	AverageScore      float64
	AISessionCount    int64
	ConversationCount int64
	LastActiveAt      *time.Time
}

// RecentQuiz is one graded attempt shown in progress views.
type RecentQuiz struct {
	Subject   string
	Topic     string
	Score     int
	Total     int
	CreatedAt time.Time
}

// Percent returns the score as a percentage, 0 for an empty quiz.
func (q RecentQuiz) Percent() float64 {
	if q.Total == 0 {
		return 0
	}
	return float64(q.Score) * 100 / float64(q.Total)
}

// StudentProgress is a student's stats plus their latest quiz attempts.
type StudentProgress struct {
	Stats         StudentStats
	RecentQuizzes []RecentQuiz
}
