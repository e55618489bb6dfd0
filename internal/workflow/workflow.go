// ABOUTME: Workflow definition model and validation rules.
// ABOUTME: Definitions are parsed from the markdown workflow library.

// Package workflow reads the markdown workflow library agents execute from.
// Each file describes one workflow: an objective, ordered execution steps
// with tool annotations, expected outputs, and known edge cases.
package workflow

import (
	"strconv"
	"strings"
)

// Step is one ordered action in a workflow. A step names either a connector
// tool or a sub-workflow, never both.
type Step struct {
	Number      int
	Description string
	Tool        string
	WorkflowRef string
	CodeExample string
}

// Definition is a fully parsed workflow document.
type Definition struct {
	Name            string
	Title           string
	Objective       string
	RequiredInputs  []string
	Steps           []Step
	ExpectedOutputs []string
	EdgeCases       []string
	RequiredTools   []string
	LearningNotes   []string
}

// Validate reports structural problems as human-readable strings. An empty
// slice means the definition is executable.
func (d *Definition) Validate() []string {
	var problems []string

	if d.Title == "" {
		problems = append(problems, "missing title heading")
	}
	if strings.TrimSpace(d.Objective) == "" {
		problems = append(problems, "missing Objective section")
	}
	if len(d.Steps) == 0 {
		problems = append(problems, "no execution steps")
	}
	for _, s := range d.Steps {
		if strings.TrimSpace(s.Description) == "" {
			problems = append(problems, stepLabel(s)+" has no description")
		}
		if s.Tool != "" && s.WorkflowRef != "" {
			problems = append(problems, stepLabel(s)+" names both a tool and a workflow")
		}
	}
	if len(d.ExpectedOutputs) == 0 {
		problems = append(problems, "no expected outputs")
	}
	return problems
}

func stepLabel(s Step) string {
	return "step " + strconv.Itoa(s.Number)
}
