// Package report renders parent progress reports.
//
// This package defines a Generator interface implemented by PDFGenerator,
// along with common helpers for formatting and styling reports in the
// BestTutorEver brand style.
package report

import (
	"context"
	"io"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/DukeRupert/besttutor/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// =============================================================================
// Generator Interface
// =============================================================================

// Generator defines the interface for report generators.
type Generator interface {
	// Generate writes the report and returns the number of bytes written.
	Generate(ctx context.Context, data *ProgressReport, w io.Writer) (int64, error)

	// ContentType is the MIME type of the output.
	ContentType() string
}

// ProgressReport is everything a family report shows.
type ProgressReport struct {
	ParentName  string
	GeneratedAt time.Time
	PeriodDays  int
	Students    []domain.StudentProgress
}

// PeriodStart is the earliest activity the report covers.
func (r *ProgressReport) PeriodStart() time.Time {
	return r.GeneratedAt.AddDate(0, 0, -r.PeriodDays)
}

// QuizzesInPeriod returns the attempts inside the report window.
func (r *ProgressReport) QuizzesInPeriod(p domain.StudentProgress) []domain.RecentQuiz {
	start := r.PeriodStart()
	out := make([]domain.RecentQuiz, 0, len(p.RecentQuizzes))
	for _, q := range p.RecentQuizzes {
		if !q.CreatedAt.Before(start) {
			out = append(out, q)
		}
	}
	return out
}

// Totals sums activity across all students.
func (r *ProgressReport) Totals() (notes, quizzes, sessions int64) {
	for _, s := range r.Students {
		notes += s.Stats.NoteCount
		quizzes += s.Stats.QuizCount
		sessions += s.Stats.AISessionCount
	}
	return notes, quizzes, sessions
}

// =============================================================================
// Brand Colors
// =============================================================================

// BrandColors defines the color palette for reports.
var BrandColors = struct {
	Indigo     string // Primary brand color
	Sunshine   string // Accent color
	TextDark   string // Primary text
	TextMuted  string // Secondary text
	Border     string // Borders and dividers
	Background string // Light background
}{
	Indigo:     "#4F46E5",
	Sunshine:   "#FBBF24",
	TextDark:   "#1F2937",
	TextMuted:  "#6B7280",
	Border:     "#E5E7EB",
	Background: "#F9FAFB",
}

// =============================================================================
// Score Bands
// =============================================================================

// ScoreColor returns the display color for a quiz percentage.
func ScoreColor(percent float64) string {
	switch {
	case percent >= 85:
		return "#16A34A" // Green-600
	case percent >= 70:
		return "#2563EB" // Blue-600
	case percent >= 50:
		return "#F59E0B" // Amber-500
	default:
		return "#DC2626" // Red-600
	}
}

// ScoreLabel returns a short, encouraging label for a quiz percentage.
func ScoreLabel(percent float64) string {
	switch {
	case percent >= 85:
		return "Mastered"
	case percent >= 70:
		return "Solid"
	case percent >= 50:
		return "Developing"
	default:
		return "Needs practice"
	}
}

// =============================================================================
// Color Conversion Helpers
// =============================================================================

// HexToRGB converts a hex color string to RGB values.
// Input format: "#RRGGBB" or "RRGGBB"
func HexToRGB(hex string) (r, g, b int) {
	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	if len(hex) != 6 {
		return 0, 0, 0
	}
	return hexToDec(hex[0:2]), hexToDec(hex[2:4]), hexToDec(hex[4:6])
}

func hexToDec(hex string) int {
	val := 0
	for _, c := range hex {
		val *= 16
		switch {
		case c >= '0' && c <= '9':
			val += int(c - '0')
		case c >= 'a' && c <= 'f':
			val += int(c - 'a' + 10)
		case c >= 'A' && c <= 'F':
			val += int(c - 'A' + 10)
		}
	}
	return val
}

// =============================================================================
// Text Formatting Helpers
// =============================================================================

// SubjectLabel title-cases a stored subject key.
func SubjectLabel(subject string) string {
	if subject == "" {
		return "General"
	}
	return cases.Title(language.English).String(subject)
}

// GradeLabel renders a grade level, or "" when unknown.
func GradeLabel(grade *int) string {
	switch {
	case grade == nil:
		return ""
	case *grade == 0:
		return "Kindergarten"
	default:
		return "Grade " + strconv.Itoa(*grade)
	}
}

// TruncateText truncates text to maxLen characters, adding an ellipsis.
func TruncateText(text string, maxLen int) string {
	if utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	runes := []rune(text)
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// FormatDate formats a date for display in reports.
func FormatDate(t time.Time) string {
	return t.Format("January 2, 2006")
}

// FormatDateTime formats a datetime for display in reports.
func FormatDateTime(t time.Time) string {
	return t.Format("January 2, 2006 at 3:04 PM")
}
