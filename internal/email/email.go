// Package email sends the transactional emails of BestTutorEver.
//
// This package defines an EmailService interface with implementations for:
// - SMTP (Mailhog in development, any SMTP relay in production)
// - Log-only delivery when no SMTP host is configured
package email

import (
	"context"
	"fmt"
	"strings"
)

// =============================================================================
// Interface Definition
// =============================================================================

// EmailService defines the interface for sending transactional emails.
//
// All methods are context-aware for timeout and cancellation support.
type EmailService interface {
	// SendPaymentFailedEmail tells a parent that a subscription invoice
	// could not be charged and links to the billing portal.
	SendPaymentFailedEmail(ctx context.Context, to, name string, notice PaymentNotice) error

	// SendReportReadyEmail links a parent to their children's progress report.
	SendReportReadyEmail(ctx context.Context, to, name, reportURL string, days int) error
}

// =============================================================================
// Email Data Types
// =============================================================================

// Email represents a single email message.
type Email struct {
	To       string // Recipient email address
	Subject  string // Email subject line
	HTMLBody string // HTML content of the email
	TextBody string // Plain text fallback content
}

// PaymentNotice describes a failed invoice.
type PaymentNotice struct {
	AmountDue int64  // minor units
	Currency  string // ISO 4217, any case
	PortalURL string // where the parent can update their card
}

// FormatAmount renders minor units as "12.50 USD".
func FormatAmount(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	amount := fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
	if currency == "" {
		return amount
	}
	return amount + " " + strings.ToUpper(currency)
}

// =============================================================================
// Configuration Types
// =============================================================================

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host     string // SMTP server hostname (e.g., "localhost" for Mailhog)
	Port     int    // SMTP server port (e.g., 1025 for Mailhog)
	Username string // SMTP authentication username (empty for Mailhog)
	Password string // SMTP authentication password (empty for Mailhog)
	From     string // Default sender email address
	FromName string // Default sender display name
}

// =============================================================================
// Common Constants
// =============================================================================

const (
	// DefaultFromEmail is the default sender email for transactional emails.
	DefaultFromEmail = "noreply@besttutorever.com"

	// DefaultFromName is the default sender display name.
	DefaultFromName = "BestTutorEver"
)
