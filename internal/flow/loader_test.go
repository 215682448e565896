package flow

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleFlowYAML = `
id: shop
initial_step: start
recovery_step: menu
session_timeout: 45m
steps:
  start:
    type: trigger
    trigger_code: shop
    on_match:
      next_step: menu
      message_key: welcome
    on_no_match:
      handled: false
  menu:
    type: choice
    prompt_key: intent.prompt
    options:
      - id: list
        label: List products
        aliases: [show, view]
      - id: add
        label: Add product
    transitions:
      list:
        next_step: run_list
      add:
        next_step: details
    on_invalid:
      message_key: intent.invalid
      next_step: menu
  run_list:
    type: action
    action: listItems
    next_step: menu
  details:
    type: input
    prompt_key: product.prompt
    context_key: productInput
    next_step: photo
  photo:
    type: image_input
    prompt_key: product.image_prompt
    context_key: productImage
    next_step: run_create
    optional: true
    skip_keyword: skip
  run_create:
    type: action
    action: createItem
    next_step: menu
  goodbye:
    type: terminal
    message_key: goodbye
`

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(sampleFlowYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.ID != "shop" {
		t.Errorf("expected flow id shop, got %q", def.ID)
	}
	if def.SessionTimeout != 45*time.Minute {
		t.Errorf("expected 45m timeout, got %v", def.SessionTimeout)
	}
	if len(def.Steps) != 8 {
		t.Errorf("expected 8 steps, got %d", len(def.Steps))
	}

	step, ok := def.Step("menu")
	if !ok {
		t.Fatal("menu step missing")
	}
	choice, ok := step.(*ChoiceStep)
	if !ok {
		t.Fatalf("menu step has wrong type %T", step)
	}
	if len(choice.Options) != 2 || choice.Options[0].ID != "list" {
		t.Errorf("options not preserved in order: %+v", choice.Options)
	}
	if choice.Options[0].Aliases[0] != "show" {
		t.Errorf("aliases not decoded: %+v", choice.Options[0])
	}
	if choice.OnInvalid.NextStep != "menu" {
		t.Errorf("on_invalid not decoded: %+v", choice.OnInvalid)
	}

	step, _ = def.Step("photo")
	img, ok := step.(*ImageInputStep)
	if !ok {
		t.Fatalf("photo step has wrong type %T", step)
	}
	if !img.Optional || img.SkipKeyword != "skip" {
		t.Errorf("image step fields not decoded: %+v", img)
	}
}

func TestParseDefinitionDefaultsSessionTimeout(t *testing.T) {
	yaml := `
id: minimal
initial_step: start
steps:
  start:
    type: trigger
    on_match:
      next_step: end
  end:
    type: terminal
`
	def, err := ParseDefinition([]byte(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.SessionTimeout != DefaultSessionTimeout {
		t.Errorf("expected default timeout, got %v", def.SessionTimeout)
	}
}

func TestParseDefinitionRejectsBadTimeout(t *testing.T) {
	yaml := `
id: bad
initial_step: start
session_timeout: soon
steps:
  start:
    type: trigger
    on_match: {next_step: start}
`
	if _, err := ParseDefinition([]byte(yaml)); err == nil {
		t.Error("expected error for unparseable session_timeout")
	}
}

func TestParseDefinitionRejectsUnknownStepType(t *testing.T) {
	yaml := `
id: bad
initial_step: start
steps:
  start:
    type: teleport
`
	if _, err := ParseDefinition([]byte(yaml)); !errors.Is(err, ErrUnknownStepType) {
		t.Errorf("expected ErrUnknownStepType, got %v", err)
	}
}

func TestParseDefinitionRejectsDanglingReference(t *testing.T) {
	yaml := `
id: bad
initial_step: start
steps:
  start:
    type: trigger
    on_match: {next_step: nowhere}
`
	if _, err := ParseDefinition([]byte(yaml)); !errors.Is(err, ErrDanglingStepReference) {
		t.Errorf("expected ErrDanglingStepReference, got %v", err)
	}
}

func TestLoadDefinitionFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.yaml")
	if err := os.WriteFile(path, []byte(sampleFlowYAML), 0644); err != nil {
		t.Fatalf("failed to write flow file: %v", err)
	}
	def, err := LoadDefinitionFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.ID != "shop" {
		t.Errorf("expected flow id shop, got %q", def.ID)
	}
}

func TestLoadDefinitionFileMissing(t *testing.T) {
	if _, err := LoadDefinitionFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing flow file")
	}
}
