package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/shopflowbot/shopflow/internal/catalog"
	"github.com/shopflowbot/shopflow/internal/models"
	"github.com/shopflowbot/shopflow/internal/session"
)

const (
	// StopKeyword cancels any input or image-input step, case-insensitively.
	StopKeyword = "stop"
	// maxStepHops bounds how many chained steps one inbound turn may
	// execute, so a malformed cycle of action steps cannot spin forever.
	maxStepHops = 3
)

// Interpreter walks the flow definition one conversation turn at a time.
// The definition is shared read-only; all mutable state lives in the
// session store.
type Interpreter struct {
	def       *FlowDefinition
	sessions  session.Store
	messages  Messages
	catalog   catalog.Client
	listLimit int
}

// InterpreterOption configures optional interpreter collaborators.
type InterpreterOption func(*Interpreter)

// WithCatalog injects the catalog client used by action steps. Without it,
// actions report a not-configured message instead of failing the turn.
func WithCatalog(c catalog.Client) InterpreterOption {
	return func(it *Interpreter) { it.catalog = c }
}

// WithMessages overrides the message catalog.
func WithMessages(m Messages) InterpreterOption {
	return func(it *Interpreter) { it.messages = m }
}

// WithListLimit sets how many items the listItems action fetches.
func WithListLimit(n int) InterpreterOption {
	return func(it *Interpreter) { it.listLimit = n }
}

// NewInterpreter creates an interpreter over a validated flow definition.
func NewInterpreter(def *FlowDefinition, sessions session.Store, opts ...InterpreterOption) *Interpreter {
	it := &Interpreter{
		def:       def,
		sessions:  sessions,
		messages:  DefaultMessages(),
		listLimit: catalog.DefaultListLimit,
	}
	for _, opt := range opts {
		opt(it)
	}
	slog.Debug("Flow interpreter created", "flow", def.ID, "steps", len(def.Steps), "catalog_set", it.catalog != nil)
	return it
}

// Process interprets one inbound message for a conversation and returns the
// response directive the channel layer should send. Turns for the same
// conversation are serialized through the session store's per-key lock.
func (it *Interpreter) Process(ctx context.Context, conversationID string, msg models.Message) models.ResponseDirective {
	if conversationID == "" {
		slog.Error("Flow Process called without conversation id")
		return models.Unhandled()
	}
	if err := msg.Validate(); err != nil {
		slog.Error("Flow Process rejected malformed message", "conversation", conversationID, "error", err)
		return models.Unhandled()
	}

	var directive models.ResponseDirective
	it.sessions.Do(conversationID, func() {
		directive = it.processLocked(ctx, conversationID, msg)
	})
	slog.Debug("Flow Process completed", "conversation", conversationID, "handled", directive.Handled, "buttons", directive.Buttons != nil)
	return directive
}

func (it *Interpreter) processLocked(ctx context.Context, conversationID string, msg models.Message) models.ResponseDirective {
	sess := it.sessions.Get(conversationID)
	if sess == nil {
		return it.handleNewConversation(ctx, conversationID, msg)
	}

	step, ok := it.def.Step(StepID(sess.CurrentStepID))
	if !ok {
		// Definition changed underneath the session. Discard it and let the
		// next message start over via the trigger.
		slog.Error("Session step not in definition, discarding session", "conversation", conversationID, "step", sess.CurrentStepID)
		it.sessions.Delete(conversationID)
		return models.Unhandled()
	}

	switch st := step.(type) {
	case *TriggerStep:
		return it.handleTrigger(ctx, sess, st, msg)
	case *ChoiceStep:
		return it.handleChoice(ctx, sess, st, msg)
	case *InputStep:
		return it.handleInput(ctx, sess, st, msg)
	case *ImageInputStep:
		return it.handleImageInput(ctx, sess, st, msg)
	case *ActionStep:
		// A session parked on an action step means a previous turn ran out
		// of hop budget; execute the action now.
		result := it.executeAction(ctx, sess, st)
		return it.advance(ctx, sess, Transition{NextStep: st.NextStep}, result, "", maxStepHops)
	case *TerminalStep:
		text := it.messages.Render(st.MessageKey)
		it.sessions.Delete(conversationID)
		return models.ResponseDirective{Handled: true, Response: text, SessionEnded: true}
	}
	slog.Error("Unhandled step variant", "conversation", conversationID, "step", sess.CurrentStepID)
	return models.Unhandled()
}

// handleNewConversation evaluates the initial trigger for a conversation
// without a session. The initial step being a trigger is a load-time
// invariant; a violation here is a configuration bug, not a user error.
func (it *Interpreter) handleNewConversation(ctx context.Context, conversationID string, msg models.Message) models.ResponseDirective {
	step, ok := it.def.Step(it.def.InitialStepID)
	if !ok {
		slog.Error("Initial step missing from definition", "step", it.def.InitialStepID)
		return models.Unhandled()
	}
	trigger, ok := step.(*TriggerStep)
	if !ok {
		slog.Error("Initial step is not a trigger", "step", it.def.InitialStepID)
		return models.Unhandled()
	}
	if !triggerMatches(trigger, msg) {
		slog.Debug("Trigger did not match, no session created", "conversation", conversationID)
		return models.ResponseDirective{Handled: trigger.OnNoMatchHandled}
	}

	sess := it.sessions.CreateSession(conversationID, string(trigger.OnMatch.NextStep))
	it.sessions.Set(conversationID, sess)
	slog.Info("Session created", "conversation", conversationID, "step", sess.CurrentStepID)
	return it.advance(ctx, sess, trigger.OnMatch, "", "", maxStepHops)
}

// handleTrigger handles a session legitimately parked on a trigger step
// (restart flows). A match restarts with a fresh context.
func (it *Interpreter) handleTrigger(ctx context.Context, sess *session.Session, st *TriggerStep, msg models.Message) models.ResponseDirective {
	if !triggerMatches(st, msg) {
		return models.ResponseDirective{Handled: st.OnNoMatchHandled}
	}
	sess.Context = make(map[string]any)
	return it.advance(ctx, sess, st.OnMatch, "", "", maxStepHops)
}

func (it *Interpreter) handleChoice(ctx context.Context, sess *session.Session, st *ChoiceStep, msg models.Message) models.ResponseDirective {
	if !msg.IsText() {
		slog.Debug("Non-text message at choice step", "conversation", sess.ConversationID, "kind", msg.Kind)
		return it.renderInvalidChoice(ctx, sess, st)
	}

	normalized := msg.NormalizedText()
	for _, opt := range st.Options {
		if !optionMatches(opt, normalized) {
			continue
		}
		tr, ok := st.Transitions[opt.ID]
		if !ok {
			// An option without a transition entry is tolerated in the
			// definition and behaves like an unmatched input.
			slog.Warn("Choice option has no transition, treating as no match", "conversation", sess.ConversationID, "option", opt.ID)
			break
		}
		if _, exists := it.def.Step(tr.NextStep); !exists {
			slog.Warn("Choice transition targets unknown step, treating as no match", "conversation", sess.ConversationID, "option", opt.ID, "target", tr.NextStep)
			break
		}
		slog.Debug("Choice matched", "conversation", sess.ConversationID, "option", opt.ID)
		return it.advance(ctx, sess, tr, "", "", maxStepHops)
	}
	return it.renderInvalidChoice(ctx, sess, st)
}

// renderInvalidChoice moves the session to the invalid-choice step and
// re-prompts. Repeating the same invalid input yields the same directive.
func (it *Interpreter) renderInvalidChoice(ctx context.Context, sess *session.Session, st *ChoiceStep) models.ResponseDirective {
	tr := Transition{NextStep: st.OnInvalid.NextStep, MessageKey: st.OnInvalid.MessageKey}
	return it.advance(ctx, sess, tr, "", "", maxStepHops)
}

func (it *Interpreter) handleInput(ctx context.Context, sess *session.Session, st *InputStep, msg models.Message) models.ResponseDirective {
	if isStop(msg) {
		return it.cancel(ctx, sess, st.ContextKey)
	}
	if !msg.IsText() {
		return models.ResponseDirective{
			Handled:  true,
			Response: joinBlank(it.messages.Render("input.text_required"), it.messages.Render(st.PromptKey)),
		}
	}

	if st.ContextKey == ContextKeyProductInput {
		return it.handleProductInput(ctx, sess, st, msg)
	}

	sess.Context[st.ContextKey] = msg.Content
	return it.advance(ctx, sess, Transition{NextStep: st.NextStep}, "", "", maxStepHops)
}

// handleProductInput parses the message into named fields and merges them
// into the staged product record. The session stays on the input step until
// the record is complete and error-free.
func (it *Interpreter) handleProductInput(ctx context.Context, sess *session.Session, st *InputStep, msg models.Message) models.ResponseDirective {
	record := stagedProductFromContext(sess.Context, st.ContextKey)
	fields := ParseFields(msg.Content)

	var errs []string
	if len(fields) == 0 {
		errs = []string{it.messages.Render("product.unparsed")}
	} else {
		record, errs = MergeAndValidate(record, fields)
		sess.Context[st.ContextKey] = record
	}

	if len(errs) > 0 || !record.IsComplete() {
		it.sessions.Set(sess.ConversationID, sess)
		return models.ResponseDirective{Handled: true, Response: it.productReprompt(record, errs)}
	}

	slog.Debug("Staged product complete", "conversation", sess.ConversationID, "name", record.Name)
	return it.advance(ctx, sess, Transition{NextStep: st.NextStep}, "", "", maxStepHops)
}

// productReprompt builds the "current values + missing fields + errors"
// response shown while the staged record is incomplete.
func (it *Interpreter) productReprompt(record StagedProduct, errs []string) string {
	var parts []string
	if len(errs) > 0 {
		parts = append(parts, strings.Join(errs, "\n"))
	}
	if summary := record.Summary(); summary != "" {
		parts = append(parts, it.messages.Render("product.incomplete")+"\n"+summary)
	}
	if missing := record.MissingFields(); len(missing) > 0 {
		parts = append(parts, it.messages.Renderf("product.missing", strings.Join(missing, ", ")))
	}
	return strings.Join(parts, "\n\n")
}

func (it *Interpreter) handleImageInput(ctx context.Context, sess *session.Session, st *ImageInputStep, msg models.Message) models.ResponseDirective {
	if msg.IsText() {
		if isStop(msg) {
			return it.cancel(ctx, sess, st.ContextKey)
		}
		if st.Optional && st.SkipKeyword != "" && msg.NormalizedText() == strings.ToLower(st.SkipKeyword) {
			slog.Debug("Image step skipped", "conversation", sess.ConversationID)
			return it.advance(ctx, sess, Transition{NextStep: st.NextStep}, "", "", maxStepHops)
		}
		return models.ResponseDirective{
			Handled:  true,
			Response: joinBlank(it.messages.Render("image.text_rejected"), it.messages.Render(st.PromptKey)),
		}
	}

	sess.Context[st.ContextKey] = ImageRef{URL: msg.Content, MimeType: msg.MimeType}
	ack := it.messages.Render("image.received")
	return it.advance(ctx, sess, Transition{NextStep: st.NextStep}, ack, "", maxStepHops)
}

// cancel aborts any in-progress input: the staged record, staged image, and
// the step's own context key are cleared and the conversation returns to
// the flow's recovery (intent selection) step with a cancelled header.
func (it *Interpreter) cancel(ctx context.Context, sess *session.Session, stepContextKey string) models.ResponseDirective {
	delete(sess.Context, ContextKeyProductInput)
	delete(sess.Context, ContextKeyProductImage)
	delete(sess.Context, stepContextKey)
	slog.Info("Input cancelled", "conversation", sess.ConversationID)

	if it.def.RecoveryStepID == "" {
		it.sessions.Delete(sess.ConversationID)
		return models.ResponseDirective{Handled: true, Response: it.messages.Render("cancelled"), SessionEnded: true}
	}
	header := it.messages.Render("cancelled")
	return it.advance(ctx, sess, Transition{NextStep: it.def.RecoveryStepID}, "", header, maxStepHops)
}

// advance moves the session along a transition and renders the target
// step's prompt. Action targets execute immediately, chained into the same
// turn, with their result text accumulated into the pre-message.
func (it *Interpreter) advance(ctx context.Context, sess *session.Session, tr Transition, pre, header string, hops int) models.ResponseDirective {
	target, ok := it.def.Step(tr.NextStep)
	if !ok {
		// Configuration bug; degrade to the partial directive rather than
		// crashing the turn. The session is left untouched.
		slog.Error("Transition references unknown step", "conversation", sess.ConversationID, "target", tr.NextStep)
		return models.ResponseDirective{Handled: true, PreMessage: pre, Response: it.messages.Render(tr.MessageKey)}
	}

	if action, isAction := target.(*ActionStep); isAction {
		if hops <= 0 {
			// Hop budget exhausted; park on the action so the next inbound
			// turn executes it instead of looping here.
			slog.Error("Step chain exceeded hop budget, parking on action", "conversation", sess.ConversationID, "step", tr.NextStep)
			sess.CurrentStepID = string(tr.NextStep)
			it.sessions.Set(sess.ConversationID, sess)
			return models.ResponseDirective{Handled: true, PreMessage: pre, Response: it.messages.Render(tr.MessageKey)}
		}
		sess.CurrentStepID = string(tr.NextStep)
		result := it.executeAction(ctx, sess, action)
		return it.advance(ctx, sess, Transition{NextStep: action.NextStep}, joinBlank(pre, result), header, hops-1)
	}

	switch st := target.(type) {
	case *ChoiceStep:
		sess.CurrentStepID = string(tr.NextStep)
		it.sessions.Set(sess.ConversationID, sess)
		return models.ResponseDirective{
			Handled:    true,
			PreMessage: pre,
			Buttons: &models.ButtonsPayload{
				Header:  header,
				Body:    joinBlank(it.messages.Render(tr.MessageKey), it.messages.Render(st.PromptKey)),
				Options: buttonOptions(st),
			},
		}
	case *TerminalStep:
		it.sessions.Delete(sess.ConversationID)
		slog.Info("Session ended at terminal step", "conversation", sess.ConversationID, "step", tr.NextStep)
		return models.ResponseDirective{
			Handled:      true,
			PreMessage:   pre,
			Response:     joinBlank(it.messages.Render(tr.MessageKey), it.messages.Render(st.MessageKey)),
			SessionEnded: true,
		}
	case *InputStep:
		sess.CurrentStepID = string(tr.NextStep)
		it.sessions.Set(sess.ConversationID, sess)
		return models.ResponseDirective{
			Handled:    true,
			PreMessage: pre,
			Response:   joinBlank(it.messages.Render(tr.MessageKey), it.messages.Render(st.PromptKey)),
		}
	case *ImageInputStep:
		sess.CurrentStepID = string(tr.NextStep)
		it.sessions.Set(sess.ConversationID, sess)
		return models.ResponseDirective{
			Handled:    true,
			PreMessage: pre,
			Response:   joinBlank(it.messages.Render(tr.MessageKey), it.messages.Render(st.PromptKey)),
		}
	case *TriggerStep:
		sess.CurrentStepID = string(tr.NextStep)
		it.sessions.Set(sess.ConversationID, sess)
		return models.ResponseDirective{
			Handled:    true,
			PreMessage: pre,
			Response:   it.messages.Render(tr.MessageKey),
		}
	}
	slog.Error("Unhandled step variant in advance", "conversation", sess.ConversationID, "step", tr.NextStep)
	return models.ResponseDirective{Handled: true, PreMessage: pre}
}

// executeAction runs the named collaborator operation synchronously and
// returns a human-readable result. Failures are reported, not retried: the
// session advances past the action either way.
func (it *Interpreter) executeAction(ctx context.Context, sess *session.Session, st *ActionStep) string {
	if it.catalog == nil {
		slog.Warn("Action invoked without catalog client", "conversation", sess.ConversationID, "action", st.Action)
		return it.messages.Render("catalog.not_configured")
	}

	switch st.Action {
	case ActionListItems:
		items, err := it.catalog.ListItems(ctx, it.listLimit)
		if err != nil {
			slog.Error("listItems action failed", "conversation", sess.ConversationID, "error", err)
			return it.messages.Render(catalogErrorKey(err))
		}
		if len(items) == 0 {
			return it.messages.Render("catalog.empty")
		}
		var b strings.Builder
		b.WriteString(it.messages.Render("catalog.list_header"))
		for i, item := range items {
			fmt.Fprintf(&b, "\n%d. %s — %.2f (%d in stock)", i+1, item.Name, item.Price, item.Quantity)
		}
		return b.String()

	case ActionCreateItem:
		record := stagedProductFromContext(sess.Context, ContextKeyProductInput)
		ref, hasImage := imageRefFromContext(sess.Context, ContextKeyProductImage)
		// The staged data is consumed by this attempt whether it succeeds
		// or not; the next add starts clean.
		delete(sess.Context, ContextKeyProductInput)
		delete(sess.Context, ContextKeyProductImage)

		if !record.IsComplete() {
			slog.Error("createItem action reached with incomplete record", "conversation", sess.ConversationID)
			return it.messages.Render("catalog.err.invalid")
		}
		input := catalog.ItemInput{
			GeneratedID: uuid.NewString(),
			Name:        record.Name,
			Price:       *record.Price,
			Quantity:    *record.Quantity,
			Description: record.Description,
		}
		if hasImage {
			input.ImageURL = ref.URL
			input.ImageMime = ref.MimeType
		}
		item, err := it.catalog.CreateItem(ctx, input)
		if err != nil {
			slog.Error("createItem action failed", "conversation", sess.ConversationID, "item_id", input.GeneratedID, "error", err)
			return it.messages.Render(catalogErrorKey(err))
		}
		return it.messages.Renderf("catalog.created", item.Name, item.ID)
	}

	slog.Error("Unknown action kind", "conversation", sess.ConversationID, "action", st.Action)
	return it.messages.Render("catalog.err.unknown")
}

// catalogErrorKey maps a catalog error onto its user-facing message key.
func catalogErrorKey(err error) string {
	switch {
	case errors.Is(err, catalog.ErrUnavailable):
		return "catalog.err.unavailable"
	case errors.Is(err, catalog.ErrUnauthorized):
		return "catalog.err.unauthorized"
	case errors.Is(err, catalog.ErrForbidden):
		return "catalog.err.forbidden"
	case errors.Is(err, catalog.ErrNotFound):
		return "catalog.err.not_found"
	case errors.Is(err, catalog.ErrDuplicateID):
		return "catalog.err.duplicate"
	case errors.Is(err, catalog.ErrInvalidInput), errors.Is(err, catalog.ErrEmptyItemName), errors.Is(err, catalog.ErrEmptyItemID):
		return "catalog.err.invalid"
	case errors.Is(err, catalog.ErrImageUpload):
		return "catalog.err.image"
	case errors.Is(err, catalog.ErrServer):
		return "catalog.err.server"
	default:
		return "catalog.err.unknown"
	}
}

func triggerMatches(st *TriggerStep, msg models.Message) bool {
	if st.TriggerCode == "" {
		return true
	}
	return msg.IsText() && msg.NormalizedText() == strings.ToLower(strings.TrimSpace(st.TriggerCode))
}

func optionMatches(opt ChoiceOption, normalized string) bool {
	if strings.ToLower(opt.ID) == normalized {
		return true
	}
	for _, alias := range opt.Aliases {
		if strings.ToLower(strings.TrimSpace(alias)) == normalized {
			return true
		}
	}
	return false
}

func isStop(msg models.Message) bool {
	return msg.IsText() && msg.NormalizedText() == StopKeyword
}

func buttonOptions(st *ChoiceStep) []models.ButtonOption {
	opts := make([]models.ButtonOption, 0, len(st.Options))
	for _, o := range st.Options {
		opts = append(opts, models.ButtonOption{ID: o.ID, Label: o.Label})
	}
	return opts
}

// joinBlank concatenates non-empty parts with a blank line between them.
func joinBlank(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}
