package flow

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// yamlDefinition is the on-disk flow file schema. Every step carries a type
// tag plus the union of variant fields; conversion to the Step sum type
// happens here so the rest of the engine never sees the file format.
type yamlDefinition struct {
	ID             string              `yaml:"id"`
	InitialStep    string              `yaml:"initial_step"`
	RecoveryStep   string              `yaml:"recovery_step"`
	SessionTimeout string              `yaml:"session_timeout"`
	Steps          map[string]yamlStep `yaml:"steps"`
}

type yamlStep struct {
	Type string `yaml:"type"`

	// trigger
	TriggerCode string          `yaml:"trigger_code"`
	OnMatch     *yamlTransition `yaml:"on_match"`
	OnNoMatch   *yamlOnNoMatch  `yaml:"on_no_match"`

	// choice
	PromptKey   string                    `yaml:"prompt_key"`
	Options     []yamlOption              `yaml:"options"`
	Transitions map[string]yamlTransition `yaml:"transitions"`
	OnInvalid   *yamlTransition           `yaml:"on_invalid"`

	// input / image-input
	ContextKey  string `yaml:"context_key"`
	NextStep    string `yaml:"next_step"`
	Optional    bool   `yaml:"optional"`
	SkipKeyword string `yaml:"skip_keyword"`

	// action
	Action string `yaml:"action"`

	// terminal
	MessageKey string `yaml:"message_key"`
}

type yamlTransition struct {
	NextStep   string `yaml:"next_step"`
	MessageKey string `yaml:"message_key"`
}

type yamlOnNoMatch struct {
	Handled bool `yaml:"handled"`
}

type yamlOption struct {
	ID      string   `yaml:"id"`
	Label   string   `yaml:"label"`
	Aliases []string `yaml:"aliases"`
}

// LoadDefinitionFile reads and validates a flow definition from a YAML
// file. Validation failure is fatal for startup, never deferred to runtime.
func LoadDefinitionFile(path string) (*FlowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow file: %w", err)
	}
	def, err := ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("flow file %s: %w", path, err)
	}
	slog.Info("Flow definition loaded", "path", path, "flow", def.ID, "steps", len(def.Steps))
	return def, nil
}

// ParseDefinition decodes YAML bytes into a validated FlowDefinition.
func ParseDefinition(data []byte) (*FlowDefinition, error) {
	var raw yamlDefinition
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode flow definition: %w", err)
	}

	timeout := DefaultSessionTimeout
	if raw.SessionTimeout != "" {
		d, err := time.ParseDuration(raw.SessionTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid session_timeout %q: %w", raw.SessionTimeout, err)
		}
		timeout = d
	}

	def := &FlowDefinition{
		ID:             raw.ID,
		InitialStepID:  StepID(raw.InitialStep),
		RecoveryStepID: StepID(raw.RecoveryStep),
		SessionTimeout: timeout,
		Steps:          make(map[StepID]Step, len(raw.Steps)),
	}
	for id, ys := range raw.Steps {
		step, err := convertStep(ys)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", id, err)
		}
		def.Steps[StepID(id)] = step
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

func convertStep(ys yamlStep) (Step, error) {
	switch ys.Type {
	case "trigger":
		st := &TriggerStep{TriggerCode: ys.TriggerCode}
		if ys.OnMatch != nil {
			st.OnMatch = Transition{NextStep: StepID(ys.OnMatch.NextStep), MessageKey: ys.OnMatch.MessageKey}
		}
		if ys.OnNoMatch != nil {
			st.OnNoMatchHandled = ys.OnNoMatch.Handled
		}
		return st, nil
	case "choice":
		st := &ChoiceStep{
			PromptKey:   ys.PromptKey,
			Transitions: make(map[string]Transition, len(ys.Transitions)),
		}
		for _, opt := range ys.Options {
			st.Options = append(st.Options, ChoiceOption{ID: opt.ID, Label: opt.Label, Aliases: opt.Aliases})
		}
		for optID, tr := range ys.Transitions {
			st.Transitions[optID] = Transition{NextStep: StepID(tr.NextStep), MessageKey: tr.MessageKey}
		}
		if ys.OnInvalid != nil {
			st.OnInvalid = InvalidPolicy{MessageKey: ys.OnInvalid.MessageKey, NextStep: StepID(ys.OnInvalid.NextStep)}
		}
		return st, nil
	case "input":
		return &InputStep{PromptKey: ys.PromptKey, ContextKey: ys.ContextKey, NextStep: StepID(ys.NextStep)}, nil
	case "image_input":
		return &ImageInputStep{
			PromptKey:   ys.PromptKey,
			ContextKey:  ys.ContextKey,
			NextStep:    StepID(ys.NextStep),
			Optional:    ys.Optional,
			SkipKeyword: ys.SkipKeyword,
		}, nil
	case "action":
		return &ActionStep{Action: ActionKind(ys.Action), NextStep: StepID(ys.NextStep)}, nil
	case "terminal":
		return &TerminalStep{MessageKey: ys.MessageKey}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStepType, ys.Type)
	}
}
