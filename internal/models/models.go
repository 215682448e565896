// Package models defines the core data structures for ShopFlow.
//
// It includes the normalized inbound message, the interpreter's response
// directive, and the catalog item types shared across modules.
package models

import (
	"errors"
	"strings"
)

// MessageKind identifies the payload type of a normalized inbound message.
type MessageKind string

const (
	// MessageKindText is a plain text message (button and list replies are
	// normalized to text carrying the selected option id).
	MessageKindText MessageKind = "text"
	// MessageKindImage is an image message passed through by URL reference.
	MessageKindImage MessageKind = "image"
)

// Validation constants for inbound and outbound payloads
const (
	// MaxMessageBodyLength is the maximum allowed length for an outbound message body
	MaxMessageBodyLength = 4096
	// MaxButtonLabelLength is the maximum allowed length for a button label
	MaxButtonLabelLength = 24
	// MaxButtonCount is the maximum number of buttons in one menu
	MaxButtonCount = 10
)

// Error variables for better error handling and testability
var (
	ErrEmptyConversationID = errors.New("conversation id cannot be empty")
	ErrInvalidMessageKind  = errors.New("invalid message kind")
	ErrEmptyMessageContent = errors.New("message content cannot be empty")
	ErrEmptyButtonBody     = errors.New("button menu body cannot be empty")
	ErrNoButtonOptions     = errors.New("button menu requires at least one option")
	ErrButtonLabelTooLong  = errors.New("button label exceeds maximum length")
	ErrTooManyButtons      = errors.New("too many button options")
)

// Message is the provider-independent inbound message handed to the flow
// interpreter. The webhook/channel layer is responsible for producing it.
type Message struct {
	Kind     MessageKind `json:"kind"`
	Content  string      `json:"content"`
	MimeType string      `json:"mime_type,omitempty"`
}

// TextMessage builds a normalized text message.
func TextMessage(content string) Message {
	return Message{Kind: MessageKindText, Content: content}
}

// ImageMessage builds a normalized image message referencing the media URL.
func ImageMessage(url, mimeType string) Message {
	return Message{Kind: MessageKindImage, Content: url, MimeType: mimeType}
}

// IsText reports whether the message is a text message.
func (m Message) IsText() bool { return m.Kind == MessageKindText }

// NormalizedText returns the trimmed, lowercased content for matching.
func (m Message) NormalizedText() string {
	return strings.ToLower(strings.TrimSpace(m.Content))
}

// Validate checks that a message is well formed before interpretation.
func (m Message) Validate() error {
	switch m.Kind {
	case MessageKindText, MessageKindImage:
	default:
		return ErrInvalidMessageKind
	}
	if m.Content == "" {
		return ErrEmptyMessageContent
	}
	return nil
}

// Inbound is a normalized message paired with its sender, as emitted by a
// channel service for the responder to process.
type Inbound struct {
	From    string  `json:"from"`
	Message Message `json:"message"`
	Time    int64   `json:"time"`
}

// ButtonOption is one selectable entry in an interactive button menu.
type ButtonOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// ButtonsPayload describes an interactive button menu to be sent.
type ButtonsPayload struct {
	Body    string         `json:"body"`
	Options []ButtonOption `json:"options"`
	Header  string         `json:"header,omitempty"`
	Footer  string         `json:"footer,omitempty"`
}

// Validate checks button menu constraints before sending.
func (b ButtonsPayload) Validate() error {
	if b.Body == "" {
		return ErrEmptyButtonBody
	}
	if len(b.Options) == 0 {
		return ErrNoButtonOptions
	}
	if len(b.Options) > MaxButtonCount {
		return ErrTooManyButtons
	}
	for _, opt := range b.Options {
		if len(opt.Label) > MaxButtonLabelLength {
			return ErrButtonLabelTooLong
		}
	}
	return nil
}

// ResponseDirective is the interpreter's output: what the channel layer
// should send back for one inbound turn. PreMessage, when set, must be sent
// before Response or Buttons.
type ResponseDirective struct {
	Handled      bool            `json:"handled"`
	PreMessage   string          `json:"pre_message,omitempty"`
	Response     string          `json:"response,omitempty"`
	Buttons      *ButtonsPayload `json:"buttons,omitempty"`
	SessionEnded bool            `json:"session_ended,omitempty"`
}

// Unhandled is the directive for a turn the flow declined to handle.
func Unhandled() ResponseDirective {
	return ResponseDirective{Handled: false}
}
