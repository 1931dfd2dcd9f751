// Package validate evaluates field-level rules against resume content.
// Rule failures become warnings on the field's record; they surface in
// the UI but never block a save.
package validate

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/capstack/origination/common/logger"
	"github.com/capstack/origination/common/resume"
)

// Rule is one field-level check. Expr is a CEL expression over `value`;
// evaluating to false attaches Warning to the field.
type Rule struct {
	Field   string
	Expr    string
	Warning string
}

type compiledRule struct {
	Rule
	prg cel.Program
}

// Validator holds compiled rules keyed by field id
type Validator struct {
	rules map[string][]compiledRule
	log   *logger.Logger
}

// New compiles the given rules. A rule that fails to compile is a
// configuration error and is reported immediately.
func New(log *logger.Logger, rules ...Rule) (*Validator, error) {
	env, err := cel.NewEnv(cel.Variable("value", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("create cel environment: %w", err)
	}

	v := &Validator{
		rules: make(map[string][]compiledRule),
		log:   log,
	}

	for _, r := range rules {
		ast, issues := env.Compile(r.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("compile rule for %s: %w", r.Field, issues.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("build rule program for %s: %w", r.Field, err)
		}
		v.rules[r.Field] = append(v.rules[r.Field], compiledRule{Rule: r, prg: prg})
	}

	return v, nil
}

// Apply evaluates every matching rule against every valued field and
// appends deduplicated warnings in place. Returns the number of
// warnings added. Evaluation errors are skipped: a rule that cannot
// judge a value has nothing to say about it.
func (v *Validator) Apply(content *resume.Content) int {
	added := 0

	for sectionID, section := range content.Sections {
		for fieldID, rec := range section {
			if rec == nil || rec.Value == nil {
				continue
			}
			for _, rule := range v.rules[fieldID] {
				out, _, err := rule.prg.Eval(map[string]any{"value": rec.Value})
				if err != nil {
					v.log.Debug("validation rule not applicable",
						"section", sectionID, "field", fieldID, "error", err)
					continue
				}
				passed, ok := out.Value().(bool)
				if !ok || passed {
					continue
				}
				if appendWarning(rec, rule.Warning) {
					added++
				}
			}
		}
	}

	return added
}

func appendWarning(rec *resume.FieldRecord, warning string) bool {
	for _, have := range rec.Warnings {
		if have == warning {
			return false
		}
	}
	rec.Warnings = append(rec.Warnings, warning)
	return true
}

// DefaultRules covers the fields underwriting reviews most often
func DefaultRules() []Rule {
	return []Rule{
		{
			Field:   "unitCount",
			Expr:    `!(type(value) == double && value < 0.0)`,
			Warning: "unit count cannot be negative",
		},
		{
			Field:   "yearBuilt",
			Expr:    `!(type(value) == double && (value < 1800.0 || value > 2100.0))`,
			Warning: "year built looks out of range",
		},
		{
			Field:   "occupancyPercent",
			Expr:    `!(type(value) == double && (value < 0.0 || value > 100.0))`,
			Warning: "occupancy must be between 0 and 100",
		},
		{
			Field:   "loanAmount",
			Expr:    `!(type(value) == string && value != "" && !value.matches("^[$]?[0-9][0-9,.]*$"))`,
			Warning: "loan amount is not a recognizable number",
		},
	}
}
