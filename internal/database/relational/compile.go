package relational

import (
	"fmt"
	"sort"
	"strings"

	"github.com/redbco/redb-storage/pkg/adapter"
	"github.com/redbco/redb-storage/pkg/query"
)

// compiler turns the filter model into a parameterized SQL fragment.
// Values never appear in the SQL text.
type compiler struct {
	dialect  dialect
	idColumn string
	args     []any
}

func newCompiler(d dialect, idColumn string) *compiler {
	return &compiler{dialect: d, idColumn: idColumn}
}

func (c *compiler) bind(v any) string {
	c.args = append(c.args, v)
	return c.dialect.Placeholder(len(c.args))
}

func (c *compiler) column(field string) string {
	if field == adapter.IDField {
		return QuoteIdentifier(c.idColumn)
	}
	return QuoteIdentifier(field)
}

// where compiles a filter set into a WHERE clause, or "" if it is empty.
func (c *compiler) where(fs query.FilterSet) (string, error) {
	pred, err := c.filterSet(fs)
	if err != nil || pred == "" {
		return "", err
	}
	return " WHERE " + pred, nil
}

func (c *compiler) filterSet(fs query.FilterSet) (string, error) {
	var parts []string
	for _, e := range fs.Conditions {
		p, err := c.expression(e)
		if err != nil {
			return "", err
		}
		parts = append(parts, p)
	}

	if len(fs.Or) > 0 {
		alts := make([]string, 0, len(fs.Or))
		for _, alt := range fs.Or {
			p, err := c.filterSet(alt)
			if err != nil {
				return "", err
			}
			if p == "" {
				p = "1 = 1"
			}
			alts = append(alts, "("+p+")")
		}
		parts = append(parts, "("+strings.Join(alts, " OR ")+")")
	}

	return strings.Join(parts, " AND "), nil
}

func (c *compiler) expression(e query.Expression) (string, error) {
	col := c.column(e.Field)

	switch e.Op {
	case query.OpEq:
		return col + " = " + c.bind(e.Value), nil
	case query.OpNeq:
		return col + " <> " + c.bind(e.Value), nil
	case query.OpGt:
		return col + " > " + c.bind(e.Value), nil
	case query.OpGte:
		return col + " >= " + c.bind(e.Value), nil
	case query.OpLt:
		return col + " < " + c.bind(e.Value), nil
	case query.OpLte:
		return col + " <= " + c.bind(e.Value), nil
	case query.OpIn, query.OpNotIn:
		values, err := query.ValuesOf(e.Value)
		if err != nil {
			return "", adapter.NewValidationError(e.Field, err.Error())
		}
		if len(values) == 0 {
			// Nothing is in an empty set; everything is outside it.
			if e.Op == query.OpIn {
				return "1 = 0", nil
			}
			return "1 = 1", nil
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			placeholders[i] = c.bind(v)
		}
		op := "IN"
		if e.Op == query.OpNotIn {
			op = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", col, op, strings.Join(placeholders, ", ")), nil
	case query.OpBetween:
		r, err := query.RangeOf(e.Value)
		if err != nil {
			return "", adapter.NewValidationError(e.Field, err.Error())
		}
		return fmt.Sprintf("(%s >= %s AND %s <= %s)", col, c.bind(r.Low), col, c.bind(r.High)), nil
	case query.OpLike:
		return col + " " + c.dialect.LikeOperator() + " " + c.bind(e.Value), nil
	case query.OpIsNull:
		return col + " IS NULL", nil
	case query.OpNotNull:
		return col + " IS NOT NULL", nil
	}
	return "", adapter.NewValidationError(e.Field, fmt.Sprintf("unknown operator %q", e.Op))
}

func (c *compiler) selectStatement(table string, spec query.Spec) (string, error) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(c.projection(spec.Fields))
	sb.WriteString(" FROM ")
	sb.WriteString(QuoteIdentifier(table))

	where, err := c.where(spec.Filter)
	if err != nil {
		return "", err
	}
	sb.WriteString(where)

	if len(spec.Order) > 0 {
		keys := make([]string, len(spec.Order))
		for i, o := range spec.Order {
			dir := "ASC"
			if o.Direction == query.Desc {
				dir = "DESC"
			}
			keys[i] = c.column(o.Field) + " " + dir
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(keys, ", "))
	}

	if lo := c.dialect.LimitOffset(spec.Limit, spec.Offset); lo != "" {
		sb.WriteString(" ")
		sb.WriteString(lo)
	}
	return sb.String(), nil
}

// projection always includes the identifier column.
func (c *compiler) projection(fields []string) string {
	if len(fields) == 0 {
		return "*"
	}
	cols := []string{QuoteIdentifier(c.idColumn)}
	for _, f := range fields {
		if f == adapter.IDField || f == c.idColumn {
			continue
		}
		cols = append(cols, QuoteIdentifier(f))
	}
	return strings.Join(cols, ", ")
}

func (c *compiler) countStatement(table string, fs query.FilterSet) (string, error) {
	where, err := c.where(fs)
	if err != nil {
		return "", err
	}
	return "SELECT COUNT(*) FROM " + QuoteIdentifier(table) + where, nil
}

func (c *compiler) insertStatement(table string, record adapter.Record) string {
	columns := sortedKeys(record)
	cols := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, k := range columns {
		cols[i] = c.column(k)
		placeholders[i] = c.bind(record[k])
	}

	if len(columns) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s",
			QuoteIdentifier(table), QuoteIdentifier(c.idColumn))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		QuoteIdentifier(table),
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
		QuoteIdentifier(c.idColumn))
}

func (c *compiler) updateStatement(table string, fs query.FilterSet, patch adapter.Record) (string, error) {
	columns := sortedKeys(patch)
	sets := make([]string, 0, len(columns))
	for _, k := range columns {
		sets = append(sets, c.column(k)+" = "+c.bind(patch[k]))
	}
	where, err := c.where(fs)
	if err != nil {
		return "", err
	}
	return "UPDATE " + QuoteIdentifier(table) + " SET " + strings.Join(sets, ", ") + where, nil
}

func (c *compiler) deleteStatement(table string, fs query.FilterSet) (string, error) {
	where, err := c.where(fs)
	if err != nil {
		return "", err
	}
	return "DELETE FROM " + QuoteIdentifier(table) + where, nil
}

func sortedKeys(r adapter.Record) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
