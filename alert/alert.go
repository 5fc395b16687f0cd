/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package alert evaluates an operator-supplied boolean expression against a
// node's current suspect/neighbor/round counters each time the node's
// failure detector reports a newly suspected peer. It never hardcodes a
// threshold: the expression syntax and supported
// variables follow fbclock/daemon's M/W formulas.
package alert

import (
	"fmt"

	"github.com/Knetic/govaluate"
)

// supportedVariables are the only identifiers an alert rule may reference.
var supportedVariables = []string{"suspects", "neighbors", "round"}

func isSupportedVar(name string) bool {
	for _, v := range supportedVariables {
		if v == name {
			return true
		}
	}
	return false
}

// Rule wraps a parsed boolean expression over {suspects, neighbors, round}.
type Rule struct {
	raw  string
	expr *govaluate.EvaluableExpression
}

// NewRule parses exprStr. An empty exprStr is not itself an error (callers
// should treat a nil *Rule as "alerting disabled"); NewRule rejects any
// variable outside supportedVariables so a typo fails at startup rather
// than silently never firing.
func NewRule(exprStr string) (*Rule, error) {
	if exprStr == "" {
		return nil, nil
	}
	expr, err := govaluate.NewEvaluableExpression(exprStr)
	if err != nil {
		return nil, fmt.Errorf("alert: parsing rule %q: %w", exprStr, err)
	}
	for _, v := range expr.Vars() {
		if !isSupportedVar(v) {
			return nil, fmt.Errorf("alert: unsupported variable %q in rule %q", v, exprStr)
		}
	}
	return &Rule{raw: exprStr, expr: expr}, nil
}

// Evaluate reports whether the rule is truthy for the given counters. A nil
// Rule always evaluates false, so callers can skip the nil-check at call
// sites that already guard on it.
func (r *Rule) Evaluate(suspects, neighbors, round int) (bool, error) {
	if r == nil {
		return false, nil
	}
	params := map[string]interface{}{
		"suspects":  float64(suspects),
		"neighbors": float64(neighbors),
		"round":     float64(round),
	}
	result, err := r.expr.Evaluate(params)
	if err != nil {
		return false, fmt.Errorf("alert: evaluating rule %q: %w", r.raw, err)
	}
	truthy, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("alert: rule %q did not evaluate to a boolean (got %T)", r.raw, result)
	}
	return truthy, nil
}

// String returns the original expression text, for logging.
func (r *Rule) String() string {
	if r == nil {
		return ""
	}
	return r.raw
}
