package workflowcore

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// stepTypeAliases maps user-friendly TOML step types to their
// registered tool names, letting workflow files write "llm" instead
// of "batch-llm".
var stepTypeAliases = map[string]string{
	"llm":   "batch-llm",
	"embed": "batch-embedding",
}

// ResolveStepType expands a step type alias to its registered tool
// name, returning typ unchanged if it has no alias.
func ResolveStepType(typ string) string {
	if resolved, ok := stepTypeAliases[typ]; ok {
		return resolved
	}
	return typ
}

// validStepTypes are the step.type values a workflow file may use.
// "function" is special: it executes a user-registered Go function
// instead of a tool from the registry.
var validStepTypes = map[string]bool{
	"map": true, "fetch": true, "llm": true, "embed": true,
	"write": true, "sql": true, "agent": true, "function": true,
}

// InputType is the declared type of a workflow input parameter.
type InputType string

const (
	InputString InputType = "string"
	InputInt    InputType = "int"
	InputFloat  InputType = "float"
	InputBool   InputType = "bool"
)

// InputDef declares one workflow input: its type, whether it must be
// supplied by the caller, and an optional default value.
type InputDef struct {
	Type     InputType `toml:"type"`
	Required bool      `toml:"required"`
	Default  any       `toml:"default"`
}

// WorkflowMeta is the [workflow] section: identity and description.
type WorkflowMeta struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
}

// WorkflowDefinition is a fully parsed and validated workflow file.
type WorkflowDefinition struct {
	Workflow WorkflowMeta
	Inputs   map[string]InputDef
	Steps    map[string]StepDef
}

// rawStepDef mirrors the on-disk shape of a [steps.*] table before
// type/dependency validation.
type rawStepDef struct {
	Type            string         `toml:"type"`
	DependsOn       []string       `toml:"depends_on"`
	Config          map[string]any `toml:"config"`
	Function        *string        `toml:"function"`
	ContinueOnError bool           `toml:"continue_on_error"`
}

type rawWorkflowFile struct {
	Workflow WorkflowMeta          `toml:"workflow"`
	Inputs   map[string]InputDef   `toml:"inputs"`
	Steps    map[string]rawStepDef `toml:"steps"`
}

// ParseError reports a structural or semantic problem found while
// parsing a workflow file, distinct from the I/O or TOML-syntax
// errors toml.DecodeFile itself can return.
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string { return e.Message }

// ParseWorkflowFile reads and validates the workflow TOML file at
// path: every step's type is recognized, every depends_on references
// an existing step, and the dependency graph is acyclic.
func ParseWorkflowFile(path string) (*WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file %s: %w", path, err)
	}
	return ParseWorkflowBytes(data)
}

// ParseWorkflowBytes parses and validates workflow TOML content
// already read into memory.
func ParseWorkflowBytes(data []byte) (*WorkflowDefinition, error) {
	var raw rawWorkflowFile
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, fmt.Errorf("decode workflow toml: %w", err)
	}
	if raw.Workflow.Name == "" {
		return nil, &ParseError{Message: "workflow section missing required 'name' key"}
	}

	steps := make(map[string]StepDef, len(raw.Steps))
	for name, rs := range raw.Steps {
		if rs.Type == "" {
			return nil, &ParseError{Message: fmt.Sprintf("step %s missing required 'type' key", name)}
		}
		if !validStepTypes[rs.Type] {
			return nil, &ParseError{Message: fmt.Sprintf("step %s has unknown type: %s", name, rs.Type)}
		}
		if rs.Type == "function" && (rs.Function == nil || *rs.Function == "") {
			return nil, &ParseError{Message: fmt.Sprintf("step %s has type 'function' but missing required 'function' key", name)}
		}
		steps[name] = StepDef{
			Type:            rs.Type,
			DependsOn:       rs.DependsOn,
			Config:          rs.Config,
			Function:        rs.Function,
			ContinueOnError: rs.ContinueOnError,
		}
	}

	for name, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := steps[dep]; !ok {
				return nil, &ParseError{Message: fmt.Sprintf("step %s depends on unknown step: %s", name, dep)}
			}
		}
	}

	if len(steps) > 0 {
		if cycle := detectCycle(steps); cycle != nil {
			return nil, &CycleDetectedError{Cycle: cycle}
		}
	}

	return &WorkflowDefinition{
		Workflow: raw.Workflow,
		Inputs:   raw.Inputs,
		Steps:    steps,
	}, nil
}
