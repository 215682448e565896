// Package flow implements the declarative conversation flow engine for
// ShopFlow: the step graph definition, the staged-input parser, and the
// interpreter that drives one conversation turn at a time.
package flow

import (
	"errors"
	"fmt"
	"time"
)

// StepID identifies one step in a flow definition.
type StepID string

// Well-known context keys used by the built-in shop flow.
const (
	// ContextKeyProductInput marks the staged product record specialization
	// of the Input step: free text is parsed into named fields and merged
	// across turns instead of being stored verbatim.
	ContextKeyProductInput = "productInput"
	// ContextKeyProductImage holds the staged image reference consumed by
	// the createItem action.
	ContextKeyProductImage = "productImage"
)

// DefaultSessionTimeout applies when a definition does not set one.
const DefaultSessionTimeout = 30 * time.Minute

// Error variables for definition validation failures. These are fatal at
// load time; a definition that fails validation must not serve traffic.
var (
	ErrNoSteps               = errors.New("flow definition has no steps")
	ErrMissingInitialStep    = errors.New("initial step not present in definition")
	ErrInitialNotTrigger     = errors.New("initial step must be a trigger step")
	ErrMissingRecoveryStep   = errors.New("recovery step not present in definition")
	ErrRecoveryNotChoice     = errors.New("recovery step must be a choice step")
	ErrDanglingStepReference = errors.New("step references a step id not in the definition")
	ErrUnknownStepType       = errors.New("unknown step type")
	ErrChoiceWithoutOptions  = errors.New("choice step requires at least one option")
	ErrUnknownAction         = errors.New("unknown action kind")
)

// Transition names the step to move to and an optional message key rendered
// ahead of the target step's own prompt.
type Transition struct {
	NextStep   StepID
	MessageKey string
}

// Step is the closed set of flow step variants. Dispatch is by type switch;
// adding a variant is a compile-time-visible change.
type Step interface {
	isStep()
}

// TriggerStep is the flow entry point. An empty TriggerCode matches every
// message; otherwise the trimmed, lowercased text must equal the code.
type TriggerStep struct {
	TriggerCode      string
	OnMatch          Transition
	OnNoMatchHandled bool
}

// ChoiceOption is one selectable option of a choice step. Matching against
// the option id and aliases is case-insensitive, declaration order wins.
type ChoiceOption struct {
	ID      string
	Label   string
	Aliases []string
}

// InvalidPolicy describes where an unmatched choice input lands.
type InvalidPolicy struct {
	MessageKey string
	NextStep   StepID
}

// ChoiceStep presents a button menu and routes on the selected option.
type ChoiceStep struct {
	PromptKey   string
	Options     []ChoiceOption
	Transitions map[string]Transition
	OnInvalid   InvalidPolicy
}

// InputStep collects free text into the session context under ContextKey.
type InputStep struct {
	PromptKey  string
	ContextKey string
	NextStep   StepID
}

// ImageInputStep collects an image reference. When Optional, the configured
// SkipKeyword advances without storing anything.
type ImageInputStep struct {
	PromptKey   string
	ContextKey  string
	NextStep    StepID
	Optional    bool
	SkipKeyword string
}

// ActionKind names a side-effecting operation on an external collaborator.
type ActionKind string

const (
	// ActionListItems lists catalog items.
	ActionListItems ActionKind = "listItems"
	// ActionCreateItem creates a catalog item from the staged record.
	ActionCreateItem ActionKind = "createItem"
)

// IsValidActionKind checks whether the action kind is supported.
func IsValidActionKind(a ActionKind) bool {
	switch a {
	case ActionListItems, ActionCreateItem:
		return true
	default:
		return false
	}
}

// ActionStep executes a collaborator call and moves on. Actions are chained
// into the triggering turn rather than consuming a turn of their own.
type ActionStep struct {
	Action   ActionKind
	NextStep StepID
}

// TerminalStep ends the flow, optionally rendering a farewell message.
type TerminalStep struct {
	MessageKey string
}

func (*TriggerStep) isStep()    {}
func (*ChoiceStep) isStep()     {}
func (*InputStep) isStep()      {}
func (*ImageInputStep) isStep() {}
func (*ActionStep) isStep()     {}
func (*TerminalStep) isStep()   {}

// FlowDefinition is the immutable step graph loaded once at startup and
// shared read-only by all conversations.
type FlowDefinition struct {
	ID             string
	InitialStepID  StepID
	RecoveryStepID StepID
	SessionTimeout time.Duration
	Steps          map[StepID]Step
}

// Step resolves a step id within the definition.
func (d *FlowDefinition) Step(id StepID) (Step, bool) {
	s, ok := d.Steps[id]
	return s, ok
}

// Validate checks structural integrity: the initial step must be a trigger,
// the recovery step a choice, and every transition target must resolve.
// A choice option without a transitions entry is deliberately allowed; at
// runtime it behaves like an unmatched input.
func (d *FlowDefinition) Validate() error {
	if len(d.Steps) == 0 {
		return ErrNoSteps
	}
	initial, ok := d.Steps[d.InitialStepID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrMissingInitialStep, d.InitialStepID)
	}
	if _, ok := initial.(*TriggerStep); !ok {
		return fmt.Errorf("%w: %q", ErrInitialNotTrigger, d.InitialStepID)
	}
	if d.RecoveryStepID != "" {
		recovery, ok := d.Steps[d.RecoveryStepID]
		if !ok {
			return fmt.Errorf("%w: %q", ErrMissingRecoveryStep, d.RecoveryStepID)
		}
		if _, ok := recovery.(*ChoiceStep); !ok {
			return fmt.Errorf("%w: %q", ErrRecoveryNotChoice, d.RecoveryStepID)
		}
	}

	for id, step := range d.Steps {
		switch st := step.(type) {
		case *TriggerStep:
			if err := d.checkRef(id, st.OnMatch.NextStep); err != nil {
				return err
			}
		case *ChoiceStep:
			if len(st.Options) == 0 {
				return fmt.Errorf("%w: step %q", ErrChoiceWithoutOptions, id)
			}
			for optID, tr := range st.Transitions {
				if err := d.checkRef(id, tr.NextStep); err != nil {
					return fmt.Errorf("option %q: %w", optID, err)
				}
			}
			if err := d.checkRef(id, st.OnInvalid.NextStep); err != nil {
				return err
			}
		case *InputStep:
			if err := d.checkRef(id, st.NextStep); err != nil {
				return err
			}
		case *ImageInputStep:
			if err := d.checkRef(id, st.NextStep); err != nil {
				return err
			}
		case *ActionStep:
			if !IsValidActionKind(st.Action) {
				return fmt.Errorf("%w: step %q action %q", ErrUnknownAction, id, st.Action)
			}
			if err := d.checkRef(id, st.NextStep); err != nil {
				return err
			}
		case *TerminalStep:
			// no outgoing references
		default:
			return fmt.Errorf("%w: step %q", ErrUnknownStepType, id)
		}
	}
	return nil
}

func (d *FlowDefinition) checkRef(from, target StepID) error {
	if target == "" {
		return fmt.Errorf("%w: step %q has an empty target", ErrDanglingStepReference, from)
	}
	if _, ok := d.Steps[target]; !ok {
		return fmt.Errorf("%w: step %q references %q", ErrDanglingStepReference, from, target)
	}
	return nil
}

// ImageRef is the staged image reference stored by an image-input step.
type ImageRef struct {
	URL      string
	MimeType string
}

// DefaultDefinition builds the compiled-in shop flow: trigger gate, intent
// menu, product input, optional image, and the two catalog actions. An
// empty triggerCode makes every first message start a session.
func DefaultDefinition(triggerCode string) *FlowDefinition {
	return &FlowDefinition{
		ID:             "shop",
		InitialStepID:  "start",
		RecoveryStepID: "awaiting_intent",
		SessionTimeout: DefaultSessionTimeout,
		Steps: map[StepID]Step{
			"start": &TriggerStep{
				TriggerCode:      triggerCode,
				OnMatch:          Transition{NextStep: "awaiting_intent", MessageKey: "welcome"},
				OnNoMatchHandled: false,
			},
			"awaiting_intent": &ChoiceStep{
				PromptKey: "intent.prompt",
				Options: []ChoiceOption{
					{ID: "list", Label: "List products", Aliases: []string{"show", "view", "products"}},
					{ID: "add", Label: "Add product", Aliases: []string{"new", "create"}},
					{ID: "done", Label: "Done", Aliases: []string{"exit", "quit", "bye"}},
				},
				Transitions: map[string]Transition{
					"list": {NextStep: "run_list"},
					"add":  {NextStep: "product_input"},
					"done": {NextStep: "goodbye"},
				},
				OnInvalid: InvalidPolicy{MessageKey: "intent.invalid", NextStep: "awaiting_intent"},
			},
			"run_list": &ActionStep{Action: ActionListItems, NextStep: "awaiting_intent"},
			"product_input": &InputStep{
				PromptKey:  "product.prompt",
				ContextKey: ContextKeyProductInput,
				NextStep:   "product_image",
			},
			"product_image": &ImageInputStep{
				PromptKey:   "product.image_prompt",
				ContextKey:  ContextKeyProductImage,
				NextStep:    "run_create",
				Optional:    true,
				SkipKeyword: "skip",
			},
			"run_create": &ActionStep{Action: ActionCreateItem, NextStep: "awaiting_intent"},
			"goodbye":    &TerminalStep{MessageKey: "goodbye"},
		},
	}
}
