package messaging

import (
	"context"
	"log/slog"

	"github.com/shopflowbot/shopflow/internal/models"
)

// Interpreter is the narrow view of the flow engine the responder needs.
type Interpreter interface {
	Process(ctx context.Context, conversationID string, msg models.Message) models.ResponseDirective
}

// Responder consumes normalized inbound messages from a channel service,
// runs each through the flow interpreter, and sends the directive output
// back over the same service. PreMessage is always sent before the main
// response or button menu.
type Responder struct {
	service     Service
	interpreter Interpreter
	done        chan struct{}
}

// NewResponder creates a responder wiring a channel service to the
// interpreter.
func NewResponder(service Service, interpreter Interpreter) *Responder {
	return &Responder{
		service:     service,
		interpreter: interpreter,
		done:        make(chan struct{}),
	}
}

// Start begins consuming inbound messages until the context is cancelled
// or Stop is called.
func (r *Responder) Start(ctx context.Context) {
	slog.Debug("Responder starting")
	go func() {
		for {
			select {
			case <-ctx.Done():
				slog.Debug("Responder context cancelled")
				return
			case <-r.done:
				return
			case in, ok := <-r.service.Inbound():
				if !ok {
					slog.Debug("Responder inbound channel closed")
					return
				}
				r.handle(ctx, in)
			}
		}
	}()
}

// Stop halts inbound consumption.
func (r *Responder) Stop() {
	close(r.done)
}

// handle processes one inbound message end to end. Send failures are
// logged, never propagated: a broken send must not take the consumer down.
func (r *Responder) handle(ctx context.Context, in models.Inbound) {
	from, err := r.service.ValidateAndCanonicalizeRecipient(in.From)
	if err != nil {
		slog.Error("Responder rejected inbound sender", "from", in.From, "error", err)
		return
	}

	directive := r.interpreter.Process(ctx, from, in.Message)
	if !directive.Handled {
		slog.Debug("Responder: turn not handled, nothing to send", "from", from)
		return
	}
	if err := r.Deliver(ctx, from, directive); err != nil {
		slog.Error("Responder delivery failed", "from", from, "error", err)
	}
}

// Deliver sends a directive's output: pre-message first, then either the
// plain response or the button menu.
func (r *Responder) Deliver(ctx context.Context, to string, d models.ResponseDirective) error {
	if d.PreMessage != "" {
		if err := r.service.SendMessage(ctx, to, d.PreMessage); err != nil {
			return err
		}
	}
	if d.Buttons != nil {
		return r.service.SendButtons(ctx, to, *d.Buttons)
	}
	if d.Response != "" {
		return r.service.SendMessage(ctx, to, d.Response)
	}
	return nil
}
