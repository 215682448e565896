package messaging

import (
	"context"
	"log/slog"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/shopflowbot/shopflow/internal/models"
	"github.com/shopflowbot/shopflow/internal/whatsapp"
)

// DefaultChannelTimeout bounds non-blocking channel forwards so a stalled
// consumer drops messages instead of wedging the event handler.
const DefaultChannelTimeout = 1 * time.Second

// WhatsAppService implements Service using the Whatsmeow-based whatsapp
// client. Inbound text, button/list replies, and image messages are
// normalized into models.Inbound; everything else is ignored.
type WhatsAppService struct {
	client   whatsapp.Sender
	waClient *whatsapp.Client // full client for event handling, nil for mocks
	inbound  chan models.Inbound
	done     chan struct{}
}

// NewWhatsAppService creates a WhatsAppService wrapping the given sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	service := &WhatsAppService{
		client:  client,
		inbound: make(chan models.Inbound, DefaultChannelBufferSize),
		done:    make(chan struct{}),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return service
}

// ValidateAndCanonicalizeRecipient strips formatting down to a bare number.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// SendMessage sends a plain text message.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	slog.Debug("WhatsAppService SendMessage invoked", "to", to, "body_length", len(body))
	if err := s.client.SendMessage(ctx, to, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", to)
		return err
	}
	return nil
}

// SendButtons renders the menu as numbered text. Interactive button
// payloads require a WhatsApp business account, so the text menu is the
// portable default; replies with the option number or label both resolve
// through the flow's alias matching.
func (s *WhatsAppService) SendButtons(ctx context.Context, to string, buttons models.ButtonsPayload) error {
	if err := buttons.Validate(); err != nil {
		slog.Error("WhatsAppService SendButtons invalid payload", "error", err, "to", to)
		return err
	}
	return s.SendMessage(ctx, to, RenderButtonsText(buttons))
}

// Start begins background event processing when a full client is available.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")
	if s.waClient != nil {
		go s.handleEvents(ctx)
		slog.Debug("WhatsAppService event handler started")
	} else {
		slog.Debug("WhatsAppService no full client available, skipping event handling")
	}
	return nil
}

// Stop stops background processing, disconnects the client, and closes the
// inbound channel.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService Stop invoked")
	close(s.done)
	close(s.inbound)
	if s.waClient != nil {
		s.waClient.Disconnect()
	}
	return nil
}

// Inbound returns the channel of normalized inbound messages.
func (s *WhatsAppService) Inbound() <-chan models.Inbound {
	return s.inbound
}

// handleEvents registers the whatsmeow event handler and blocks until the
// context is cancelled.
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(v)
		default:
			// Receipts, presence, and connection events are irrelevant to
			// the flow engine.
		}
	})
	slog.Debug("WhatsAppService event handler registered")

	<-ctx.Done()
	slog.Debug("WhatsAppService handleEvents stopping due to context cancellation")
}

// handleIncomingMessage normalizes one whatsmeow message event. Button and
// list replies become text carrying the selected option id; images are
// passed through by URL reference only.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil {
		return
	}
	if evt.Info.IsFromMe {
		return
	}

	var msg models.Message
	switch {
	case evt.Message.Conversation != nil:
		msg = models.TextMessage(evt.Message.GetConversation())
	case evt.Message.ExtendedTextMessage != nil:
		msg = models.TextMessage(evt.Message.ExtendedTextMessage.GetText())
	case evt.Message.ButtonsResponseMessage != nil:
		msg = models.TextMessage(evt.Message.ButtonsResponseMessage.GetSelectedButtonID())
	case evt.Message.ListResponseMessage != nil:
		msg = models.TextMessage(evt.Message.ListResponseMessage.GetSingleSelectReply().GetSelectedRowID())
	case evt.Message.ImageMessage != nil:
		img := evt.Message.ImageMessage
		msg = models.ImageMessage(img.GetURL(), img.GetMimetype())
	default:
		slog.Debug("WhatsAppService ignoring unsupported message type", "from", evt.Info.Sender.String())
		return
	}
	if msg.Content == "" {
		slog.Debug("WhatsAppService ignoring empty message", "from", evt.Info.Sender.String())
		return
	}

	in := models.Inbound{
		From:    evt.Info.Sender.User,
		Message: msg,
		Time:    evt.Info.Timestamp.Unix(),
	}
	slog.Debug("WhatsAppService processing incoming message", "from", in.From, "kind", msg.Kind)

	select {
	case s.inbound <- in:
		slog.Info("WhatsAppService incoming message forwarded", "from", in.From, "kind", msg.Kind)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService inbound channel blocked, dropping message", "from", in.From, "timeout", DefaultChannelTimeout)
	}
}
