package report

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/go-pdf/fpdf"
)

// ContentTypePDF is the MIME type of generated reports.
const ContentTypePDF = "application/pdf"

// =============================================================================
// PDF Generator
// =============================================================================

// PDFGenerator generates family progress reports as PDF.
type PDFGenerator struct {
	// Page dimensions (A4 in mm)
	pageWidth  float64
	pageHeight float64
	margin     float64

	// Content area
	contentWidth float64
}

var _ Generator = (*PDFGenerator)(nil)

// NewPDFGenerator creates a new PDF generator with default settings.
func NewPDFGenerator() *PDFGenerator {
	margin := 15.0
	pageWidth := 210.0
	return &PDFGenerator{
		pageWidth:    pageWidth,
		pageHeight:   297.0,
		margin:       margin,
		contentWidth: pageWidth - (2 * margin),
	}
}

// ContentType returns the output MIME type.
func (g *PDFGenerator) ContentType() string {
	return ContentTypePDF
}

// pdfDoc pairs the document with its UTF-8 to cp1252 translator; the core
// fonts cannot render UTF-8 directly.
type pdfDoc struct {
	*fpdf.Fpdf
	tr func(string) string
}

// Generate creates a PDF report and writes it to the provided writer.
func (g *PDFGenerator) Generate(ctx context.Context, data *ProgressReport, w io.Writer) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	f := fpdf.New("P", "mm", "A4", "")
	pdf := &pdfDoc{Fpdf: f, tr: f.UnicodeTranslatorFromDescriptor("")}

	pdf.SetTitle("Progress Report - "+data.ParentName, true)
	pdf.SetAuthor("BestTutorEver", true)
	pdf.SetCreator("BestTutorEver", true)
	pdf.SetAutoPageBreak(true, 20)
	pdf.SetFooterFunc(func() {
		g.addFooter(pdf, data)
	})

	g.addCoverPage(pdf, data)
	g.addFamilySummary(pdf, data)
	for _, student := range data.Students {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		g.addStudent(pdf, data, student)
	}

	if err := pdf.Error(); err != nil {
		return 0, fmt.Errorf("pdf generation error: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return 0, fmt.Errorf("pdf output error: %w", err)
	}

	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

// =============================================================================
// Cover Page
// =============================================================================

func (g *PDFGenerator) addCoverPage(pdf *pdfDoc, data *ProgressReport) {
	pdf.AddPage()

	r, gr, b := HexToRGB(BrandColors.Indigo)
	pdf.SetFillColor(r, gr, b)
	pdf.Rect(0, 0, g.pageWidth, 70, "F")

	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 30)
	pdf.SetXY(g.margin, 25)
	pdf.Cell(0, 12, "Learning Progress Report")

	pdf.SetFont("Helvetica", "", 14)
	pdf.SetXY(g.margin, 42)
	pdf.Cell(0, 8, pdf.tr(fmt.Sprintf("Prepared for %s", data.ParentName)))

	r, gr, b = HexToRGB(BrandColors.TextDark)
	pdf.SetTextColor(r, gr, b)

	pdf.SetXY(g.margin, 90)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "PERIOD")
	pdf.Ln(10)
	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(0, 7, fmt.Sprintf("%s - %s (%d days)", FormatDate(data.PeriodStart()), FormatDate(data.GeneratedAt), data.PeriodDays))

	pdf.Ln(15)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "STUDENTS")
	pdf.Ln(10)
	pdf.SetFont("Helvetica", "", 12)
	if len(data.Students) == 0 {
		pdf.Cell(0, 7, "No student profiles yet.")
		pdf.Ln(7)
	}
	for _, s := range data.Students {
		line := s.Stats.Name
		if grade := GradeLabel(s.Stats.GradeLevel); grade != "" {
			line += " (" + grade + ")"
		}
		pdf.Cell(0, 7, pdf.tr(line))
		pdf.Ln(7)
	}
}

// =============================================================================
// Family Summary
// =============================================================================

func (g *PDFGenerator) addFamilySummary(pdf *pdfDoc, data *ProgressReport) {
	pdf.AddPage()
	g.addSectionHeader(pdf, "Family Summary")

	notes, quizzes, sessions := data.Totals()
	g.addLabelValue(pdf, "Notes written", fmt.Sprintf("%d", notes))
	g.addLabelValue(pdf, "Quizzes taken", fmt.Sprintf("%d", quizzes))
	g.addLabelValue(pdf, "Tutor sessions", fmt.Sprintf("%d", sessions))
	pdf.Ln(6)

	if len(data.Students) == 0 {
		return
	}

	widths := []float64{60, 22, 22, 30, 46}
	headers := []string{"Student", "Notes", "Quizzes", "Avg score", "Plan"}
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(245, 245, 245)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 8, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 10)
	for _, s := range data.Students {
		st := s.Stats
		pdf.CellFormat(widths[0], 8, pdf.tr(TruncateText(st.Name, 30)), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 8, fmt.Sprintf("%d", st.NoteCount), "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[2], 8, fmt.Sprintf("%d", st.QuizCount), "1", 0, "C", false, 0, "")
		score := "-"
		if st.QuizCount > 0 {
			score = fmt.Sprintf("%.0f%%", st.AverageScore)
		}
		pdf.CellFormat(widths[3], 8, score, "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[4], 8, planLabel(st.Status), "1", 1, "L", false, 0, "")
	}
}

// =============================================================================
// Per-student sections
// =============================================================================

func (g *PDFGenerator) addStudent(pdf *pdfDoc, data *ProgressReport, p domain.StudentProgress) {
	pdf.AddPage()
	st := p.Stats
	g.addSectionHeader(pdf, pdf.tr(st.Name))

	g.addLabelValue(pdf, "Grade", GradeLabel(st.GradeLevel))
	g.addLabelValue(pdf, "Notes", fmt.Sprintf("%d", st.NoteCount))
	g.addLabelValue(pdf, "Conversations", fmt.Sprintf("%d", st.ConversationCount))
	g.addLabelValue(pdf, "Tutor sessions", fmt.Sprintf("%d", st.AISessionCount))
	if st.LastActiveAt != nil {
		g.addLabelValue(pdf, "Last active", FormatDate(*st.LastActiveAt))
	}
	if st.QuizCount > 0 {
		g.addLabelValue(pdf, "Average score", fmt.Sprintf("%.0f%% (%s)", st.AverageScore, ScoreLabel(st.AverageScore)))
	}
	pdf.Ln(6)

	quizzes := data.QuizzesInPeriod(p)
	pdf.SetFont("Helvetica", "B", 11)
	pdf.Cell(0, 8, "Recent quizzes")
	pdf.Ln(10)

	if len(quizzes) == 0 {
		r, gr, b := HexToRGB(BrandColors.TextMuted)
		pdf.SetTextColor(r, gr, b)
		pdf.SetFont("Helvetica", "I", 10)
		pdf.Cell(0, 6, "No quizzes in this period.")
		pdf.Ln(8)
		r, gr, b = HexToRGB(BrandColors.TextDark)
		pdf.SetTextColor(r, gr, b)
		return
	}

	for _, q := range quizzes {
		pct := q.Percent()
		r, gr, b := HexToRGB(ScoreColor(pct))
		pdf.SetFillColor(r, gr, b)
		pdf.CellFormat(4, 7, "", "", 0, "C", true, 0, "")
		pdf.SetFillColor(255, 255, 255)

		pdf.SetFont("Helvetica", "", 10)
		topic := fmt.Sprintf(" %s: %s", SubjectLabel(q.Subject), TruncateText(q.Topic, 50))
		pdf.CellFormat(110, 7, pdf.tr(topic), "", 0, "L", false, 0, "")
		pdf.CellFormat(30, 7, fmt.Sprintf("%d/%d", q.Score, q.Total), "", 0, "C", false, 0, "")
		pdf.CellFormat(36, 7, FormatDate(q.CreatedAt), "", 1, "R", false, 0, "")
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

func (g *PDFGenerator) addSectionHeader(pdf *pdfDoc, title string) {
	r, gr, b := HexToRGB(BrandColors.Indigo)
	pdf.SetDrawColor(r, gr, b)
	pdf.SetLineWidth(0.5)

	pdf.SetFont("Helvetica", "B", 16)
	pdf.SetTextColor(r, gr, b)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)

	pdf.Line(g.margin, pdf.GetY(), g.pageWidth-g.margin, pdf.GetY())
	pdf.Ln(10)

	r, gr, b = HexToRGB(BrandColors.TextDark)
	pdf.SetTextColor(r, gr, b)
}

func (g *PDFGenerator) addLabelValue(pdf *pdfDoc, label, value string) {
	if value == "" {
		return
	}
	pdf.SetFont("Helvetica", "B", 10)
	pdf.Cell(40, 6, label+":")
	pdf.SetFont("Helvetica", "", 10)
	pdf.MultiCell(g.contentWidth-40, 6, pdf.tr(value), "", "L", false)
}

func (g *PDFGenerator) addFooter(pdf *pdfDoc, data *ProgressReport) {
	pdf.SetY(-15)

	r, gr, b := HexToRGB(BrandColors.Border)
	pdf.SetDrawColor(r, gr, b)
	pdf.Line(g.margin, pdf.GetY()-3, g.pageWidth-g.margin, pdf.GetY()-3)

	r, gr, b = HexToRGB(BrandColors.TextMuted)
	pdf.SetTextColor(r, gr, b)
	pdf.SetFont("Helvetica", "", 8)
	pdf.Cell(0, 10, "Generated: "+FormatDateTime(data.GeneratedAt))

	pdf.SetX(-g.margin - 30)
	pdf.CellFormat(30, 10, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "R", false, 0, "")
}

func planLabel(status domain.SubscriptionStatus) string {
	switch status {
	case domain.SubscriptionStatusActive:
		return "Premium"
	case domain.SubscriptionStatusTrialing:
		return "Premium (trial)"
	case domain.SubscriptionStatusPastDue:
		return "Payment due"
	case domain.SubscriptionStatusCanceled:
		return "Canceled"
	default:
		return "Free"
	}
}
