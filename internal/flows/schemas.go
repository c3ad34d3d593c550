package flows

import (
	"encoding/json"

	"github.com/DukeRupert/besttutor/internal/ai"
)

// Schema names double as mock provider keys.
const (
	SchemaTutorReply   = "tutor_reply"
	SchemaQuiz         = "quiz"
	SchemaFlashcards   = "flashcards"
	SchemaLearningPath = "learning_path"
	SchemaJoke         = "joke"
	SchemaCoaching     = "coaching_tips"
	SchemaNoteSummary  = "note_summary"
)

var (
	tutorReplySchema = ai.Schema{
		Name:        SchemaTutorReply,
		Description: "the tutor's reply and up to three follow-up questions",
		JSON: json.RawMessage(`{"type":"object","additionalProperties":false,"required":["reply","follow_up_questions"],
"properties":{"reply":{"type":"string"},"follow_up_questions":{"type":"array","items":{"type":"string"}}}}`),
	}

	quizSchema = ai.Schema{
		Name:        SchemaQuiz,
		Description: "multiple choice questions with options, the zero-based correct_index and an explanation",
		JSON: json.RawMessage(`{"type":"object","additionalProperties":false,"required":["questions"],
"properties":{"questions":{"type":"array","items":{"type":"object","additionalProperties":false,
"required":["question","options","correct_index","explanation"],
"properties":{"question":{"type":"string"},"options":{"type":"array","items":{"type":"string"}},
"correct_index":{"type":"integer"},"explanation":{"type":"string"}}}}}}`),
	}

	flashcardsSchema = ai.Schema{
		Name:        SchemaFlashcards,
		Description: "study cards with a front prompt and a back answer",
		JSON: json.RawMessage(`{"type":"object","additionalProperties":false,"required":["cards"],
"properties":{"cards":{"type":"array","items":{"type":"object","additionalProperties":false,"required":["front","back"],
"properties":{"front":{"type":"string"},"back":{"type":"string"}}}}}}`),
	}

	learningPathSchema = ai.Schema{
		Name:        SchemaLearningPath,
		Description: "a titled, ordered list of milestones with activities and estimated minutes",
		JSON: json.RawMessage(`{"type":"object","additionalProperties":false,"required":["title","milestones"],
"properties":{"title":{"type":"string"},"milestones":{"type":"array","items":{"type":"object","additionalProperties":false,
"required":["title","description","activities","estimated_minutes"],
"properties":{"title":{"type":"string"},"description":{"type":"string"},
"activities":{"type":"array","items":{"type":"string"}},"estimated_minutes":{"type":"integer"}}}}}}`),
	}

	jokeSchema = ai.Schema{
		Name:        SchemaJoke,
		Description: "a setup and a punchline",
		JSON: json.RawMessage(`{"type":"object","additionalProperties":false,"required":["setup","punchline"],
"properties":{"setup":{"type":"string"},"punchline":{"type":"string"}}}`),
	}

	coachingSchema = ai.Schema{
		Name:        SchemaCoaching,
		Description: "a one sentence summary and practical tips for the parent",
		JSON: json.RawMessage(`{"type":"object","additionalProperties":false,"required":["summary","tips"],
"properties":{"summary":{"type":"string"},"tips":{"type":"array","items":{"type":"object","additionalProperties":false,
"required":["title","detail"],"properties":{"title":{"type":"string"},"detail":{"type":"string"}}}}}}`),
	}

	noteSummarySchema = ai.Schema{
		Name:        SchemaNoteSummary,
		Description: "a Cornell summary paragraph and cue questions",
		JSON: json.RawMessage(`{"type":"object","additionalProperties":false,"required":["summary","cues"],
"properties":{"summary":{"type":"string"},"cues":{"type":"array","items":{"type":"string"}}}}`),
	}
)
