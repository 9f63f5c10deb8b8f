package workflow

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/randalmurphal/autoflow/internal/automation"
)

// Condition decides whether a step runs.
type Condition func(wctx *Context) bool

// OutputExists is true when the step has recorded an output.
func OutputExists(stepID string) Condition {
	return func(wctx *Context) bool {
		_, ok := wctx.Output(stepID)
		return ok
	}
}

// OutputMatches is true when the JSON path of a step's output equals want.
// Outputs that are not JSON documents are marshalled first.
func OutputMatches(stepID, path, want string) Condition {
	return func(wctx *Context) bool {
		v, ok := wctx.Output(stepID)
		if !ok {
			return false
		}
		r := lookup(v, path)
		return r.Exists() && r.String() == want
	}
}

// OutputTruthy is true when the JSON path of a step's output is truthy.
func OutputTruthy(stepID, path string) Condition {
	return func(wctx *Context) bool {
		v, ok := wctx.Output(stepID)
		if !ok {
			return false
		}
		return lookup(v, path).Bool()
	}
}

// LevelAtLeast is true when the workflow runs at or above the level.
func LevelAtLeast(l automation.Level) Condition {
	return func(wctx *Context) bool { return wctx.Level().AtLeast(l) }
}

// Not negates a condition.
func Not(c Condition) Condition {
	return func(wctx *Context) bool { return !c(wctx) }
}

// All is true when every condition is true.
func All(cs ...Condition) Condition {
	return func(wctx *Context) bool {
		for _, c := range cs {
			if !c(wctx) {
				return false
			}
		}
		return true
	}
}

// ParseCondition parses the textual condition used by task files:
// "<step>" for OutputExists, "<step>.<path> == <value>" for OutputMatches,
// "<step>.<path>" for OutputTruthy. A leading "!" negates.
func ParseCondition(expr string) Condition {
	expr = strings.TrimSpace(expr)
	if rest, ok := strings.CutPrefix(expr, "!"); ok {
		return Not(ParseCondition(rest))
	}
	lhs, rhs, hasEq := strings.Cut(expr, "==")
	lhs = strings.TrimSpace(lhs)
	stepID, path, hasPath := strings.Cut(lhs, ".")
	switch {
	case hasEq && hasPath:
		return OutputMatches(stepID, path, strings.Trim(strings.TrimSpace(rhs), `"'`))
	case hasPath:
		return OutputTruthy(stepID, path)
	default:
		return OutputExists(stepID)
	}
}

func lookup(v any, path string) gjson.Result {
	var doc string
	switch t := v.(type) {
	case string:
		doc = t
	case []byte:
		doc = string(t)
	case json.RawMessage:
		doc = string(t)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return gjson.Result{}
		}
		doc = string(data)
	}
	return gjson.Get(doc, path)
}
