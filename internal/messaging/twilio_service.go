package messaging

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/shopflowbot/shopflow/internal/models"
	"github.com/shopflowbot/shopflow/internal/twiliowhatsapp"
)

// ErrServiceStopped is returned for sends after Stop has been called.
var ErrServiceStopped = errors.New("messaging service stopped")

// TwilioService implements Service using the Twilio API. Inbound messages
// arrive through the WebhookHandler, which normalizes Twilio's
// form-encoded callback into models.Inbound.
type TwilioService struct {
	client  twiliowhatsapp.Sender
	inbound chan models.Inbound
	done    chan struct{}
	mu      sync.RWMutex
	stopped bool
}

// NewTwilioService creates a TwilioService around the given sender.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{
		client:  client,
		inbound: make(chan models.Inbound, DefaultChannelBufferSize),
		done:    make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient strips the whatsapp: prefix and plus
// sign down to a bare number.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start is a no-op: inbound traffic arrives via the webhook handler.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the service; subsequent sends fail with ErrServiceStopped.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)
	close(s.inbound)
	return nil
}

// SendMessage sends a plain text message via Twilio.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}
	return s.client.SendMessage(ctx, canonicalTo, body)
}

// SendButtons renders the menu as numbered text; the Twilio Go SDK has no
// WhatsApp interactive-button support.
func (s *TwilioService) SendButtons(ctx context.Context, to string, buttons models.ButtonsPayload) error {
	if err := buttons.Validate(); err != nil {
		slog.Error("TwilioService SendButtons invalid payload", "error", err, "to", to)
		return err
	}
	return s.SendMessage(ctx, to, RenderButtonsText(buttons))
}

// Inbound returns the channel of normalized inbound messages.
func (s *TwilioService) Inbound() <-chan models.Inbound {
	return s.inbound
}

// WebhookHandler returns an http.Handler for Twilio's inbound message
// callback. A message with media is normalized to an image message using
// the first media item; anything else becomes a text message.
func (s *TwilioService) WebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseForm(); err != nil {
			slog.Error("Twilio webhook form parse failed", "error", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		from := r.FormValue("From")
		body := r.FormValue("Body")
		numMedia, _ := strconv.Atoi(r.FormValue("NumMedia"))

		var msg models.Message
		if numMedia > 0 {
			msg = models.ImageMessage(r.FormValue("MediaUrl0"), r.FormValue("MediaContentType0"))
		} else {
			msg = models.TextMessage(body)
		}
		if from == "" || msg.Content == "" {
			slog.Debug("Twilio webhook ignored empty payload", "from_set", from != "")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		in := models.Inbound{From: from, Message: msg, Time: time.Now().Unix()}
		slog.Debug("Twilio webhook received message", "from", from, "kind", msg.Kind)

		select {
		case s.inbound <- in:
			w.WriteHeader(http.StatusNoContent)
		case <-time.After(DefaultChannelTimeout):
			slog.Warn("Twilio webhook inbound channel blocked, dropping message", "from", from)
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}
}
