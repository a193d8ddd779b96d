package submission

import (
	"strconv"
	"strings"

	"github.com/pysugar/hubspot-bridge/internal/feeds"
)

// Rule operators.
const (
	OpIs         = "is"
	OpIsNot      = "isnot"
	OpGreater    = ">"
	OpLess       = "<"
	OpContains   = "contains"
	OpStartsWith = "starts_with"
	OpEndsWith   = "ends_with"
)

// Owner resolves the owner id for an entry, or "" when none applies.
// Conditional rules are evaluated in order and the first match wins.
func Owner(rule feeds.OwnerRule, form *Form, entry *Entry) string {
	switch rule.Mode {
	case feeds.OwnerSelect:
		return rule.OwnerID
	case feeds.OwnerConditional:
		for _, r := range rule.Rules {
			if Match(r.Rule, form, entry) {
				return r.Owner
			}
		}
	}
	return ""
}

// ConditionMet reports whether an entry passes the feed condition. A
// disabled condition, or one without rules, always passes.
func ConditionMet(cond feeds.Condition, form *Form, entry *Entry) bool {
	if !cond.Enabled || len(cond.Rules) == 0 {
		return true
	}
	matchAny := strings.EqualFold(cond.Logic, "any")
	for _, r := range cond.Rules {
		ok := Match(r, form, entry)
		if matchAny && ok {
			return true
		}
		if !matchAny && !ok {
			return false
		}
	}
	return !matchAny
}

// Match evaluates one rule. The source is an entry meta key when the entry
// has one by that name, else a field or input id.
func Match(r feeds.Rule, form *Form, entry *Entry) bool {
	values := sourceValues(r.Source, form, entry)
	if len(values) == 0 {
		values = []string{""}
	}
	if r.Operator == OpIsNot {
		for _, v := range values {
			if compare(v, OpIs, r.Value) {
				return false
			}
		}
		return true
	}
	for _, v := range values {
		if compare(v, r.Operator, r.Value) {
			return true
		}
	}
	return false
}

func sourceValues(source string, form *Form, entry *Entry) []string {
	if v, ok := entry.Meta[source]; ok {
		return []string{v}
	}
	fld, ok := form.field(source)
	if !ok {
		return []string{entry.Values[source]}
	}
	switch {
	case source == fld.ID && fld.Type == TypeMultiSelect:
		return toList(entry.Values[source])
	case source == fld.ID && len(fld.Inputs) > 0:
		return inputValues(fld, entry)
	}
	return []string{stripPrice(fld, entry.Values[source])}
}

// compare applies op to a value. String operators ignore case; > and <
// compare numerically and fail on non-numbers.
func compare(value, op, target string) bool {
	a, b := strings.ToLower(value), strings.ToLower(target)
	switch op {
	case OpIs:
		return a == b
	case OpIsNot:
		return a != b
	case OpContains:
		return b != "" && strings.Contains(a, b)
	case OpStartsWith:
		return strings.HasPrefix(a, b)
	case OpEndsWith:
		return strings.HasSuffix(a, b)
	case OpGreater, OpLess:
		x, err1 := strconv.ParseFloat(strings.TrimSpace(value), 64)
		y, err2 := strconv.ParseFloat(strings.TrimSpace(target), 64)
		if err1 != nil || err2 != nil {
			return false
		}
		if op == OpGreater {
			return x > y
		}
		return x < y
	}
	return false
}
