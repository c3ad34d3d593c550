package email

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sentMail struct {
	addr string
	auth smtp.Auth
	from string
	to   []string
	msg  string
}

func newTestService(t *testing.T, cfg SMTPConfig) (*SMTPEmailService, *[]sentMail) {
	t.Helper()
	svc, err := NewSMTPEmailService(cfg, discardLogger())
	require.NoError(t, err)
	var sent []sentMail
	svc.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		sent = append(sent, sentMail{addr: addr, auth: a, from: from, to: to, msg: string(msg)})
		return nil
	}
	return svc, &sent
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "12.50 USD", FormatAmount(1250, "usd"))
	assert.Equal(t, "0.05 EUR", FormatAmount(5, "EUR"))
	assert.Equal(t, "-3.00", FormatAmount(-300, ""))
}

func TestSendPaymentFailedEmail(t *testing.T) {
	svc, sent := newTestService(t, SMTPConfig{Host: "localhost", Port: 1025})

	err := svc.SendPaymentFailedEmail(context.Background(), "pat@example.com", "Pat", PaymentNotice{
		AmountDue: 1999,
		Currency:  "usd",
		PortalURL: "https://billing.example.com/p/123",
	})
	require.NoError(t, err)
	require.Len(t, *sent, 1)

	m := (*sent)[0]
	assert.Equal(t, "localhost:1025", m.addr)
	assert.Nil(t, m.auth, "no credentials means no auth")
	assert.Equal(t, DefaultFromEmail, m.from)
	assert.Equal(t, []string{"pat@example.com"}, m.to)
	assert.Contains(t, m.msg, "From: BestTutorEver <noreply@besttutorever.com>\r\n")
	assert.Contains(t, m.msg, "Subject: Your BestTutorEver payment didn't go through\r\n")
	assert.Contains(t, m.msg, "19.99 USD")
	assert.Contains(t, m.msg, `href="https://billing.example.com/p/123"`)
	assert.True(t, strings.HasSuffix(m.msg, "--\r\n"))
}

func TestSendReportReadyEmail(t *testing.T) {
	svc, sent := newTestService(t, SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "u", Password: "p", From: "hi@example.com", FromName: "Tutor"})

	err := svc.SendReportReadyEmail(context.Background(), "pat@example.com", "<Pat>", "https://files.example.com/r.pdf", 30)
	require.NoError(t, err)
	require.Len(t, *sent, 1)

	m := (*sent)[0]
	assert.NotNil(t, m.auth)
	assert.Contains(t, m.msg, "From: Tutor <hi@example.com>\r\n")
	assert.Contains(t, m.msg, "last 30 days")
	assert.Contains(t, m.msg, "Hi &lt;Pat&gt;", "html part is escaped")
}

func TestSendFailure(t *testing.T) {
	svc, _ := newTestService(t, SMTPConfig{Host: "localhost", Port: 1025})
	svc.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}

	err := svc.SendReportReadyEmail(context.Background(), "pat@example.com", "Pat", "https://x", 7)
	assert.ErrorContains(t, err, "connection refused")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = svc.SendReportReadyEmail(ctx, "pat@example.com", "Pat", "https://x", 7)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLogEmailService(t *testing.T) {
	svc, err := NewLogEmailService(discardLogger())
	require.NoError(t, err)
	assert.NoError(t, svc.SendPaymentFailedEmail(context.Background(), "pat@example.com", "Pat", PaymentNotice{AmountDue: 100, Currency: "usd"}))
	assert.NoError(t, svc.SendReportReadyEmail(context.Background(), "pat@example.com", "Pat", "https://x", 7))
}
