package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v79"
)

type fakeVerifier struct {
	signature string
}

func (f fakeVerifier) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	if signature != f.signature {
		return stripe.Event{}, errors.New("webhook has invalid signature")
	}
	return stripe.Event{ID: "evt_1", Type: "customer.subscription.updated"}, nil
}

type fakeEvents struct {
	err      error
	handled  []string
	canceled bool
}

func (f *fakeEvents) HandleEvent(ctx context.Context, event stripe.Event) error {
	f.handled = append(f.handled, event.ID)
	f.canceled = ctx.Err() != nil
	return f.err
}

func postWebhook(h *WebhookHandler, signature string, ctx context.Context) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	req := httptest.NewRequest("POST", "/webhooks/stripe", strings.NewReader(`{"id":"evt_1"}`)).WithContext(ctx)
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestWebhookHandler(t *testing.T) {
	tests := []struct {
		name      string
		signature string
		handleErr error
		status    int
		handled   int
	}{
		{"valid event", "t=1,v1=good", nil, http.StatusOK, 1},
		{"bad signature", "t=1,v1=bad", nil, http.StatusBadRequest, 0},
		{"missing signature", "", nil, http.StatusBadRequest, 0},
		{"handler failure asks for redelivery", "t=1,v1=good", errors.New("db down"), http.StatusInternalServerError, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := &fakeEvents{err: tt.handleErr}
			h := NewWebhookHandler(fakeVerifier{signature: "t=1,v1=good"}, events, discardLogger())

			rec := postWebhook(h, tt.signature, context.Background())
			assert.Equal(t, tt.status, rec.Code)
			assert.Len(t, events.handled, tt.handled)
		})
	}
}

func TestWebhookHandler_SurvivesClientDisconnect(t *testing.T) {
	events := &fakeEvents{}
	h := NewWebhookHandler(fakeVerifier{signature: "sig"}, events, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	postWebhook(h, "sig", ctx)

	assert.Len(t, events.handled, 1)
	assert.False(t, events.canceled, "event handling must not inherit the request cancellation")
}

func TestWebhookHandler_BillingNotConfigured(t *testing.T) {
	events := &fakeEvents{}
	h := NewWebhookHandler(nil, events, discardLogger())

	rec := postWebhook(h, "anything", context.Background())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, events.handled)
}
