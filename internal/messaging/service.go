// Package messaging provides the channel abstraction between the flow
// interpreter and concrete WhatsApp providers, plus the responder that
// turns interpreter directives into outbound sends.
package messaging

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopflowbot/shopflow/internal/models"
)

// Constants for channel service configuration
const (
	// DefaultChannelBufferSize defines the buffer size for inbound channels
	DefaultChannelBufferSize = 100
)

// Service defines a pluggable message delivery abstraction. Implementations
// normalize provider payloads into models.Inbound and send directive output.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a
	// recipient identifier for this provider.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a plain text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// SendButtons sends an interactive button menu. Providers without
	// native button support render a numbered text menu.
	SendButtons(ctx context.Context, to string, buttons models.ButtonsPayload) error

	// Start begins background processing (event handling, webhook intake).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Inbound returns the channel of normalized inbound messages.
	Inbound() <-chan models.Inbound
}

// MenuOptionFormat is the format string for one rendered menu option.
const MenuOptionFormat = "\n%d. %s"

// RenderButtonsText renders a button menu as plain text for providers that
// cannot send interactive buttons: header, body, then numbered options.
func RenderButtonsText(b models.ButtonsPayload) string {
	var sb strings.Builder
	if b.Header != "" {
		sb.WriteString("— " + b.Header + " —\n")
	}
	sb.WriteString(b.Body)
	for i, opt := range b.Options {
		fmt.Fprintf(&sb, MenuOptionFormat, i+1, opt.Label)
	}
	if b.Footer != "" {
		sb.WriteString("\n" + b.Footer)
	}
	return sb.String()
}

// canonicalizePhone strips a leading "whatsapp:" prefix and any non-digit
// characters except a leading plus, returning the bare number.
func canonicalizePhone(recipient string) (string, error) {
	r := strings.TrimSpace(recipient)
	r = strings.TrimPrefix(r, "whatsapp:")
	r = strings.TrimPrefix(r, "+")
	if r == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	for _, c := range r {
		if c < '0' || c > '9' {
			return "", fmt.Errorf("recipient %q contains non-digit characters", recipient)
		}
	}
	return r, nil
}
