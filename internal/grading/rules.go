// Package grading implements the pure parts of the grade engine: the
// piecewise curving evaluator and the effective-grade resolver. Nothing in
// this package touches the database.
package grading

import (
	"encoding/json"
	"fmt"
)

// Predicate kinds understood by the evaluator.
const (
	PredicateMinGreaterThan = "min_greater_than"
	PredicateAnyWithin      = "any_within"
	PredicateAnyBelow       = "any_below"
	PredicateAlways         = "always"
)

// Formula kinds understood by the evaluator.
const (
	FormulaConstant        = "constant"
	FormulaMean            = "mean"
	FormulaMeanLinearBonus = "mean_linear_bonus"
	FormulaMeanFloored     = "mean_penalty_floored"
	FormulaMeanDropHighest = "mean_drop_highest"
)

// Predicate selects the score sets a rule applies to.
type Predicate struct {
	Kind      string  `json:"kind"`
	Threshold float64 `json:"threshold,omitempty"`
	Lower     float64 `json:"lower,omitempty"`
	Upper     float64 `json:"upper,omitempty"`
}

// Formula computes the curved final score once its rule matched.
type Formula struct {
	Kind    string  `json:"kind"`
	Value   float64 `json:"value,omitempty"`
	Base    float64 `json:"base,omitempty"`
	Slope   float64 `json:"slope,omitempty"`
	Pivot   float64 `json:"pivot,omitempty"`
	Penalty float64 `json:"penalty,omitempty"`
	Floor   float64 `json:"floor,omitempty"`
}

// Rule pairs a predicate with a formula. Rules are evaluated top to bottom
// and the first matching predicate wins; thresholds deliberately overlap, so
// ordering is load-bearing.
type Rule struct {
	Predicate Predicate `json:"predicate"`
	Formula   Formula   `json:"formula"`
}

// DefaultRules returns the standard curving policy applied when a class has
// no policy configuration of its own.
func DefaultRules() []Rule {
	return []Rule{
		{
			Predicate: Predicate{Kind: PredicateMinGreaterThan, Threshold: 9.0},
			Formula:   Formula{Kind: FormulaConstant, Value: 10.0},
		},
		{
			Predicate: Predicate{Kind: PredicateMinGreaterThan, Threshold: 8.0},
			Formula:   Formula{Kind: FormulaMeanLinearBonus, Base: 0.15, Slope: 0.35, Pivot: 8.0},
		},
		{
			Predicate: Predicate{Kind: PredicateMinGreaterThan, Threshold: 7.5},
			Formula:   Formula{Kind: FormulaMean},
		},
		{
			Predicate: Predicate{Kind: PredicateAnyWithin, Lower: 6.0, Upper: 7.5},
			Formula:   Formula{Kind: FormulaMeanFloored, Penalty: 0.3, Floor: 6.0},
		},
		{
			Predicate: Predicate{Kind: PredicateAnyBelow, Threshold: 6.0},
			Formula:   Formula{Kind: FormulaMeanDropHighest},
		},
	}
}

// ParseRules decodes a policy rules document. Callers are expected to fall
// back to the arithmetic mean when parsing fails rather than surfacing the
// error to students.
func ParseRules(raw []byte) ([]Rule, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty rules document")
	}

	var rules []Rule
	if err := json.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("failed to decode rules: %w", err)
	}

	for i, rule := range rules {
		if err := validateRule(rule); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
	}

	return rules, nil
}

func validateRule(rule Rule) error {
	switch rule.Predicate.Kind {
	case PredicateMinGreaterThan, PredicateAnyBelow, PredicateAlways:
	case PredicateAnyWithin:
		if rule.Predicate.Lower > rule.Predicate.Upper {
			return fmt.Errorf("predicate range inverted: [%v, %v]", rule.Predicate.Lower, rule.Predicate.Upper)
		}
	default:
		return fmt.Errorf("unknown predicate kind %q", rule.Predicate.Kind)
	}

	switch rule.Formula.Kind {
	case FormulaConstant, FormulaMean, FormulaMeanLinearBonus, FormulaMeanFloored, FormulaMeanDropHighest:
		return nil
	default:
		return fmt.Errorf("unknown formula kind %q", rule.Formula.Kind)
	}
}
