package checklist

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/arstatement/internal/shared"
)

//go:embed default_template.yaml
var defaultTemplateYAML []byte

// TemplateStep describes one step before instantiation.
type TemplateStep struct {
	Key          string       `yaml:"key" json:"key" validate:"required,max=64"`
	Phase        Phase        `yaml:"phase" json:"phase" validate:"required,oneof=PRE_CLOSE CUT_OFF RECEIVABLES TAX RECONCILIATION REPORTING CLOSE STATEMENTS"`
	Label        string       `yaml:"label" json:"label" validate:"required,max=200"`
	Description  string       `yaml:"description" json:"description"`
	Enforcement  Enforcement  `yaml:"enforcement" json:"enforcement" validate:"required,oneof=REQUIRED OPTIONAL"`
	Verification Verification `yaml:"verification" json:"verification" validate:"required,oneof=AUTO MANUAL SYSTEM_ACTION"`
}

// Template is an ordered step list.
type Template struct {
	Steps []TemplateStep `yaml:"steps" json:"steps"`
}

// DefaultTemplate returns the built-in template.
func DefaultTemplate() Template {
	tpl, err := ParseTemplate(defaultTemplateYAML)
	if err != nil {
		panic(fmt.Sprintf("checklist: embedded default template: %v", err))
	}
	return tpl
}

// ParseTemplate decodes a YAML or JSON template, either {"steps": [...]} or a bare
// step list, and validates it.
func ParseTemplate(raw []byte) (Template, error) {
	var tpl Template
	if err := yaml.Unmarshal(raw, &tpl); err != nil || len(tpl.Steps) == 0 {
		var steps []TemplateStep
		if listErr := yaml.Unmarshal(raw, &steps); listErr != nil {
			if err == nil {
				err = listErr
			}
			return Template{}, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
		}
		tpl.Steps = steps
	}
	tpl.normalize()
	if err := tpl.Validate(); err != nil {
		return Template{}, err
	}
	return tpl, nil
}

func (t *Template) normalize() {
	for i := range t.Steps {
		s := &t.Steps[i]
		s.Key = strings.TrimSpace(s.Key)
		s.Label = strings.TrimSpace(s.Label)
		s.Phase = Phase(strings.ToUpper(strings.TrimSpace(string(s.Phase))))
		s.Enforcement = Enforcement(strings.ToUpper(strings.TrimSpace(string(s.Enforcement))))
		s.Verification = Verification(strings.ToUpper(strings.TrimSpace(string(s.Verification))))
	}
}

// Validate requires at least one step, known enumerations and unique keys.
func (t Template) Validate() error {
	if len(t.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidTemplate)
	}
	seen := make(map[string]struct{}, len(t.Steps))
	for i, s := range t.Steps {
		if err := shared.ValidateStruct(s); err != nil {
			return fmt.Errorf("%w: step %d: %v", ErrInvalidTemplate, i+1, err)
		}
		if _, dup := seen[s.Key]; dup {
			return fmt.Errorf("%w: duplicate key %q", ErrInvalidTemplate, s.Key)
		}
		seen[s.Key] = struct{}{}
	}
	return nil
}

// Instantiate clones the template into PENDING steps in template order.
func (t Template) Instantiate() []Step {
	steps := make([]Step, 0, len(t.Steps))
	for i, s := range t.Steps {
		steps = append(steps, Step{
			Key:          s.Key,
			Phase:        s.Phase,
			Label:        s.Label,
			Description:  s.Description,
			Enforcement:  s.Enforcement,
			Verification: s.Verification,
			Status:       StepPending,
			SortOrder:    i + 1,
		})
	}
	return steps
}
