package flow

import (
	"errors"
	"testing"
)

func TestDefaultDefinitionIsValid(t *testing.T) {
	if err := DefaultDefinition("shop").Validate(); err != nil {
		t.Fatalf("default definition must validate: %v", err)
	}
	if err := DefaultDefinition("").Validate(); err != nil {
		t.Fatalf("default definition without trigger code must validate: %v", err)
	}
}

func TestValidateRejectsEmptyDefinition(t *testing.T) {
	def := &FlowDefinition{}
	if err := def.Validate(); !errors.Is(err, ErrNoSteps) {
		t.Errorf("expected ErrNoSteps, got %v", err)
	}
}

func TestValidateRejectsMissingInitialStep(t *testing.T) {
	def := &FlowDefinition{
		InitialStepID: "nope",
		Steps: map[StepID]Step{
			"end": &TerminalStep{},
		},
	}
	if err := def.Validate(); !errors.Is(err, ErrMissingInitialStep) {
		t.Errorf("expected ErrMissingInitialStep, got %v", err)
	}
}

func TestValidateRejectsNonTriggerInitialStep(t *testing.T) {
	def := &FlowDefinition{
		InitialStepID: "end",
		Steps: map[StepID]Step{
			"end": &TerminalStep{},
		},
	}
	if err := def.Validate(); !errors.Is(err, ErrInitialNotTrigger) {
		t.Errorf("expected ErrInitialNotTrigger, got %v", err)
	}
}

func TestValidateRejectsDanglingTriggerTarget(t *testing.T) {
	def := &FlowDefinition{
		InitialStepID: "start",
		Steps: map[StepID]Step{
			"start": &TriggerStep{OnMatch: Transition{NextStep: "missing"}},
		},
	}
	if err := def.Validate(); !errors.Is(err, ErrDanglingStepReference) {
		t.Errorf("expected ErrDanglingStepReference, got %v", err)
	}
}

func TestValidateRejectsDanglingChoiceTransition(t *testing.T) {
	def := &FlowDefinition{
		InitialStepID: "start",
		Steps: map[StepID]Step{
			"start": &TriggerStep{OnMatch: Transition{NextStep: "menu"}},
			"menu": &ChoiceStep{
				Options:     []ChoiceOption{{ID: "a", Label: "A"}},
				Transitions: map[string]Transition{"a": {NextStep: "missing"}},
				OnInvalid:   InvalidPolicy{NextStep: "menu"},
			},
		},
	}
	if err := def.Validate(); !errors.Is(err, ErrDanglingStepReference) {
		t.Errorf("expected ErrDanglingStepReference, got %v", err)
	}
}

func TestValidateAllowsOptionWithoutTransition(t *testing.T) {
	// An option with no transitions entry is tolerated; at runtime it
	// behaves like an unmatched input.
	def := &FlowDefinition{
		InitialStepID: "start",
		Steps: map[StepID]Step{
			"start": &TriggerStep{OnMatch: Transition{NextStep: "menu"}},
			"menu": &ChoiceStep{
				Options:     []ChoiceOption{{ID: "a", Label: "A"}, {ID: "b", Label: "B"}},
				Transitions: map[string]Transition{"a": {NextStep: "menu"}},
				OnInvalid:   InvalidPolicy{NextStep: "menu"},
			},
		},
	}
	if err := def.Validate(); err != nil {
		t.Errorf("option without transition must be allowed: %v", err)
	}
}

func TestValidateRejectsChoiceWithoutOptions(t *testing.T) {
	def := &FlowDefinition{
		InitialStepID: "start",
		Steps: map[StepID]Step{
			"start": &TriggerStep{OnMatch: Transition{NextStep: "menu"}},
			"menu":  &ChoiceStep{OnInvalid: InvalidPolicy{NextStep: "menu"}},
		},
	}
	if err := def.Validate(); !errors.Is(err, ErrChoiceWithoutOptions) {
		t.Errorf("expected ErrChoiceWithoutOptions, got %v", err)
	}
}

func TestValidateRejectsUnknownAction(t *testing.T) {
	def := &FlowDefinition{
		InitialStepID: "start",
		Steps: map[StepID]Step{
			"start": &TriggerStep{OnMatch: Transition{NextStep: "act"}},
			"act":   &ActionStep{Action: "frobnicate", NextStep: "start"},
		},
	}
	if err := def.Validate(); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("expected ErrUnknownAction, got %v", err)
	}
}

func TestValidateRejectsMissingRecoveryStep(t *testing.T) {
	def := &FlowDefinition{
		InitialStepID:  "start",
		RecoveryStepID: "missing",
		Steps: map[StepID]Step{
			"start": &TriggerStep{OnMatch: Transition{NextStep: "start"}},
		},
	}
	if err := def.Validate(); !errors.Is(err, ErrMissingRecoveryStep) {
		t.Errorf("expected ErrMissingRecoveryStep, got %v", err)
	}
}

func TestValidateRejectsNonChoiceRecoveryStep(t *testing.T) {
	def := &FlowDefinition{
		InitialStepID:  "start",
		RecoveryStepID: "start",
		Steps: map[StepID]Step{
			"start": &TriggerStep{OnMatch: Transition{NextStep: "start"}},
		},
	}
	if err := def.Validate(); !errors.Is(err, ErrRecoveryNotChoice) {
		t.Errorf("expected ErrRecoveryNotChoice, got %v", err)
	}
}
