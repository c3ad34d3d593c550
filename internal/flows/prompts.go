// Package flows holds the tutoring features built on the ai boundary. Each
// flow builds a prompt, picks a schema and a limiter profile, and returns a
// validated value.
package flows

import (
	"fmt"
	"strings"

	"github.com/DukeRupert/besttutor/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const baseInstructions = `You are BestTutorEver, a patient and encouraging tutor for school-age students.
Guide students toward answers with questions and hints instead of handing over solutions.
Keep explanations accurate and age appropriate. Never include personal data, links or unsafe content.`

// SubjectTitle formats a subject for display, e.g. "world history" -> "World History".
func SubjectTitle(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "General Studies"
	}
	return cases.Title(language.English).String(strings.ToLower(subject))
}

// gradeLabel describes a grade level in words.
func gradeLabel(grade *int) string {
	if grade == nil {
		return ""
	}
	switch g := *grade; {
	case g <= domain.MinGradeLevel:
		return "kindergarten"
	case g > domain.MaxGradeLevel:
		return "grade 12"
	default:
		return fmt.Sprintf("grade %d", g)
	}
}

// readingLevel maps a grade onto a register hint for the model.
func readingLevel(grade *int) string {
	if grade == nil {
		return "Use clear language suitable for a middle school student."
	}
	switch g := *grade; {
	case g <= 2:
		return "Use very short sentences and simple words. Use concrete examples from everyday life."
	case g <= 5:
		return "Use simple sentences and familiar examples."
	case g <= 8:
		return "Use clear language suitable for a middle school student."
	default:
		return "You may use subject vocabulary, but define new terms the first time they appear."
	}
}

// contextFlags renders the per-student options appended to the system prompt.
func contextFlags(subject string, opts domain.TutorOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s.", SubjectTitle(subject))
	if label := gradeLabel(opts.GradeLevel); label != "" {
		fmt.Fprintf(&b, "\nThe student is in %s.", label)
	}
	b.WriteString("\n")
	b.WriteString(readingLevel(opts.GradeLevel))

	switch opts.Confidence {
	case domain.ConfidenceLow:
		b.WriteString("\nThe student feels unsure about this topic. Start from fundamentals, check understanding often and be extra encouraging.")
	case domain.ConfidenceHigh:
		b.WriteString("\nThe student feels confident. Offer challenge questions and connect ideas to related topics.")
	case domain.ConfidenceMedium:
		b.WriteString("\nThe student has some familiarity with the topic. Build on what they know.")
	}

	switch opts.ResponseLength {
	case domain.ResponseLengthBrief:
		b.WriteString("\nKeep replies to two or three sentences.")
	case domain.ResponseLengthDetailed:
		b.WriteString("\nGive thorough, step-by-step explanations with a worked example.")
	default:
		b.WriteString("\nKeep replies to a short paragraph.")
	}
	return b.String()
}

// systemPrompt joins the static instructions with flow specific text.
func systemPrompt(parts ...string) string {
	all := append([]string{baseInstructions}, parts...)
	return strings.Join(all, "\n\n")
}

// clamp bounds n to [lo, hi], using def when n is zero.
func clamp(n, def, lo, hi int) int {
	if n == 0 {
		n = def
	}
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
