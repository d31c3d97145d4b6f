// Package args converts storagectl flag values into filters and records.
package args

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redbco/redb-storage/pkg/adapter"
	"github.com/redbco/redb-storage/pkg/query"
)

// ParseWhere turns "field:op:value" flags into a conjunction. List
// operators take comma separated values; between takes "low,high"; the
// null checks take no value.
func ParseWhere(flags []string) (query.FilterSet, error) {
	fs := query.FilterSet{}
	for _, flag := range flags {
		expr, err := parseCondition(flag)
		if err != nil {
			return query.FilterSet{}, err
		}
		fs.Conditions = append(fs.Conditions, expr)
	}
	return fs, nil
}

func parseCondition(flag string) (query.Expression, error) {
	field, rest, ok := strings.Cut(flag, ":")
	field = strings.TrimSpace(field)
	if !ok || field == "" {
		return query.Expression{}, fmt.Errorf("invalid condition %q: want field:op[:value]", flag)
	}
	opText, raw, hasValue := strings.Cut(rest, ":")
	op, err := query.ParseOperator(opText)
	if err != nil {
		return query.Expression{}, fmt.Errorf("invalid condition %q: %w", flag, err)
	}

	expr := query.Expression{Field: field, Op: op}
	switch op {
	case query.OpIsNull, query.OpNotNull:
		if hasValue && raw != "" {
			return query.Expression{}, fmt.Errorf("invalid condition %q: %s takes no value", flag, op)
		}
	case query.OpIn, query.OpNotIn:
		values := []any{}
		if raw != "" {
			for _, part := range strings.Split(raw, ",") {
				values = append(values, ParseValue(part))
			}
		}
		expr.Value = values
	case query.OpBetween:
		low, high, ok := strings.Cut(raw, ",")
		if !ok {
			return query.Expression{}, fmt.Errorf("invalid condition %q: between wants low,high", flag)
		}
		expr.Value = query.Range{Low: ParseValue(low), High: ParseValue(high)}
	default:
		if !hasValue {
			return query.Expression{}, fmt.Errorf("invalid condition %q: %s needs a value", flag, op)
		}
		expr.Value = ParseValue(raw)
	}
	return expr, nil
}

// ParseValue reads numbers, booleans, null and quoted strings as JSON and
// keeps anything else as plain text.
func ParseValue(s string) any {
	s = strings.TrimSpace(s)
	var v any
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil || dec.More() {
		return s
	}
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return s
	case map[string]any, []any:
		return s
	}
	return v
}

// ParseRecord decodes a JSON object.
func ParseRecord(data string) (adapter.Record, error) {
	var rec adapter.Record
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("invalid record: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("invalid record: want a JSON object")
	}
	for k, v := range rec {
		if n, ok := v.(json.Number); ok {
			rec[k] = ParseValue(n.String())
		}
	}
	return rec, nil
}

// ParseAssignments turns "field=value" flags into a patch. A flag holding
// a JSON object contributes all of its fields.
func ParseAssignments(flags []string) (adapter.Record, error) {
	patch := adapter.Record{}
	for _, flag := range flags {
		if strings.HasPrefix(strings.TrimSpace(flag), "{") {
			rec, err := ParseRecord(flag)
			if err != nil {
				return nil, err
			}
			for k, v := range rec {
				patch[k] = v
			}
			continue
		}
		field, raw, ok := strings.Cut(flag, "=")
		field = strings.TrimSpace(field)
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid assignment %q: want field=value", flag)
		}
		patch[field] = ParseValue(raw)
	}
	return patch, nil
}
