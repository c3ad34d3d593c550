package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

// =============================================================================
// SMTP Email Service Implementation
// =============================================================================

// SMTPEmailService sends emails via SMTP.
//
// This implementation works with:
// - Mailhog (development): No authentication required
// - Any standard SMTP relay with PLAIN auth
//
// Email templates are embedded and rendered with html/template.
type SMTPEmailService struct {
	config    SMTPConfig
	templates *template.Template
	logger    *slog.Logger

	// sendMail is smtp.SendMail; replaced in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

var _ EmailService = (*SMTPEmailService)(nil)

// NewSMTPEmailService creates a new SMTP-based email service.
func NewSMTPEmailService(config SMTPConfig, logger *slog.Logger) (*SMTPEmailService, error) {
	if config.From == "" {
		config.From = DefaultFromEmail
	}
	if config.FromName == "" {
		config.FromName = DefaultFromName
	}

	templates, err := parseTemplates()
	if err != nil {
		return nil, err
	}

	return &SMTPEmailService{
		config:    config,
		templates: templates,
		logger:    logger.With("component", "email"),
		sendMail:  smtp.SendMail,
	}, nil
}

func parseTemplates() (*template.Template, error) {
	templates, err := template.New("email").Funcs(emailTemplateFuncs()).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse email templates: %w", err)
	}
	return templates, nil
}

// =============================================================================
// EmailService Interface Implementation
// =============================================================================

// SendPaymentFailedEmail tells a parent their card was declined.
func (s *SMTPEmailService) SendPaymentFailedEmail(ctx context.Context, to, name string, notice PaymentNotice) error {
	email, err := paymentFailedEmail(s.templates, to, name, notice)
	if err != nil {
		return err
	}
	return s.send(ctx, email)
}

// SendReportReadyEmail links a parent to a generated progress report.
func (s *SMTPEmailService) SendReportReadyEmail(ctx context.Context, to, name, reportURL string, days int) error {
	email, err := reportReadyEmail(s.templates, to, name, reportURL, days)
	if err != nil {
		return err
	}
	return s.send(ctx, email)
}

func paymentFailedEmail(t *template.Template, to, name string, notice PaymentNotice) (Email, error) {
	amount := FormatAmount(notice.AmountDue, notice.Currency)
	data := map[string]any{
		"Name":      name,
		"Amount":    amount,
		"PortalURL": notice.PortalURL,
	}

	htmlBody, err := renderTemplate(t, "payment_failed.html", data)
	if err != nil {
		return Email{}, fmt.Errorf("failed to render payment failed email template: %w", err)
	}

	textBody := fmt.Sprintf(`Hi %s,

We couldn't process your BestTutorEver payment of %s. Your family's premium access stays on while we retry, but please update your payment method:

%s

Thanks,
The BestTutorEver Team
`, name, amount, notice.PortalURL)

	return Email{
		To:       to,
		Subject:  "Your BestTutorEver payment didn't go through",
		HTMLBody: htmlBody,
		TextBody: textBody,
	}, nil
}

func reportReadyEmail(t *template.Template, to, name, reportURL string, days int) (Email, error) {
	data := map[string]any{
		"Name":      name,
		"ReportURL": reportURL,
		"Days":      days,
	}

	htmlBody, err := renderTemplate(t, "report_ready.html", data)
	if err != nil {
		return Email{}, fmt.Errorf("failed to render report ready email template: %w", err)
	}

	textBody := fmt.Sprintf(`Hi %s,

Your progress report covering the last %d days is ready. You can download it here:

%s

Thanks,
The BestTutorEver Team
`, name, days, reportURL)

	return Email{
		To:       to,
		Subject:  "Your family's progress report is ready",
		HTMLBody: htmlBody,
		TextBody: textBody,
	}, nil
}

// =============================================================================
// Internal Methods
// =============================================================================

// send sends an email via SMTP.
func (s *SMTPEmailService) send(ctx context.Context, email Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := buildMessage(s.config, email)
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	// Mailhog needs no auth.
	var auth smtp.Auth
	if s.config.Username != "" && s.config.Password != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	if err := s.sendMail(addr, auth, s.config.From, []string{email.To}, msg); err != nil {
		s.logger.ErrorContext(ctx, "failed to send email", "to", email.To, "subject", email.Subject, "error", err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.InfoContext(ctx, "email sent", "to", email.To, "subject", email.Subject)
	return nil
}

// buildMessage constructs the raw email message with headers.
func buildMessage(config SMTPConfig, email Email) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s <%s>\r\n", config.FromName, config.From)
	fmt.Fprintf(&buf, "To: %s\r\n", email.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", email.Subject)
	buf.WriteString("MIME-Version: 1.0\r\n")

	boundary := "===============BESTTUTOR_BOUNDARY==============="
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	buf.WriteString(email.TextBody)
	buf.WriteString("\r\n")

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	buf.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	buf.WriteString(email.HTMLBody)
	buf.WriteString("\r\n")

	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes()
}

func renderTemplate(t *template.Template, name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// =============================================================================
// Log-only delivery
// =============================================================================

// LogEmailService renders emails and logs them instead of sending. It is
// used when no SMTP host is configured.
type LogEmailService struct {
	templates *template.Template
	logger    *slog.Logger
}

var _ EmailService = (*LogEmailService)(nil)

// NewLogEmailService creates a log-only email service.
func NewLogEmailService(logger *slog.Logger) (*LogEmailService, error) {
	templates, err := parseTemplates()
	if err != nil {
		return nil, err
	}
	return &LogEmailService{templates: templates, logger: logger.With("component", "email")}, nil
}

func (s *LogEmailService) SendPaymentFailedEmail(ctx context.Context, to, name string, notice PaymentNotice) error {
	email, err := paymentFailedEmail(s.templates, to, name, notice)
	if err != nil {
		return err
	}
	s.log(ctx, email)
	return nil
}

func (s *LogEmailService) SendReportReadyEmail(ctx context.Context, to, name, reportURL string, days int) error {
	email, err := reportReadyEmail(s.templates, to, name, reportURL, days)
	if err != nil {
		return err
	}
	s.log(ctx, email)
	return nil
}

func (s *LogEmailService) log(ctx context.Context, email Email) {
	s.logger.InfoContext(ctx, "email not sent (no smtp host)", "to", email.To, "subject", email.Subject, "text", email.TextBody)
}

// =============================================================================
// Template Functions
// =============================================================================

func emailTemplateFuncs() template.FuncMap {
	return template.FuncMap{
		"currentYear": func() int {
			return time.Now().Year()
		},
	}
}
