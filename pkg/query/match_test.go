package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture() []map[string]any {
	return []map[string]any{
		{"id": "1", "name": "alpha", "temp": 5, "site": "north"},
		{"id": "2", "name": "beta", "temp": 10, "site": "south"},
		{"id": "3", "name": "gamma", "temp": 15.5, "site": nil},
		{"id": "4", "name": "Alphabet", "temp": 20, "site": "north"},
		{"id": "5", "name": "delta", "temp": 25},
	}
}

func matchingIDs(t *testing.T, fs FilterSet) []string {
	t.Helper()
	n, err := fs.Normalize()
	require.NoError(t, err)

	var ids []string
	for _, rec := range fixture() {
		if n.Match(rec) {
			ids = append(ids, rec["id"].(string))
		}
	}
	return ids
}

func TestMatch_Operators(t *testing.T) {
	tests := []struct {
		name string
		expr Expression
		want []string
	}{
		{"eq", Expression{Field: "temp", Op: OpEq, Value: 10}, []string{"2"}},
		{"eq float vs int", Expression{Field: "temp", Op: OpEq, Value: int64(20)}, []string{"4"}},
		{"neq skips null and missing", Expression{Field: "site", Op: OpNeq, Value: "north"}, []string{"2"}},
		{"gt", Expression{Field: "temp", Op: OpGt, Value: 15}, []string{"3", "4", "5"}},
		{"gte", Expression{Field: "temp", Op: OpGte, Value: 20}, []string{"4", "5"}},
		{"lt", Expression{Field: "temp", Op: OpLt, Value: 10}, []string{"1"}},
		{"lte", Expression{Field: "temp", Op: OpLte, Value: 10}, []string{"1", "2"}},
		{"in", Expression{Field: "name", Op: OpIn, Value: []string{"beta", "delta", "omega"}}, []string{"2", "5"}},
		{"not in", Expression{Field: "name", Op: OpNotIn, Value: []string{"beta", "delta"}}, []string{"1", "3", "4"}},
		{"not in skips null and missing", Expression{Field: "site", Op: OpNotIn, Value: []string{"north"}}, []string{"2"}},
		{"empty not in keeps null", Expression{Field: "site", Op: OpNotIn, Value: []string{}}, []string{"1", "2", "3", "4", "5"}},
		{"between inclusive", Expression{Field: "temp", Op: OpBetween, Value: Range{Low: 10, High: 20}}, []string{"2", "3", "4"}},
		{"like prefix case-insensitive", Expression{Field: "name", Op: OpLike, Value: "alph%"}, []string{"1", "4"}},
		{"like single char", Expression{Field: "name", Op: OpLike, Value: "_eta"}, []string{"2"}},
		{"is null", Expression{Field: "site", Op: OpIsNull}, []string{"3", "5"}},
		{"not null", Expression{Field: "site", Op: OpNotNull}, []string{"1", "2", "4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := matchingIDs(t, FilterSet{Conditions: []Expression{tt.expr}})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatch_OrAlternatives(t *testing.T) {
	fs := FilterSet{
		Conditions: []Expression{{Field: "temp", Op: OpGte, Value: 10}},
		Or: []FilterSet{
			{Conditions: []Expression{{Field: "site", Op: OpEq, Value: "north"}}},
			{Conditions: []Expression{{Field: "name", Op: OpLike, Value: "%mm%"}}},
		},
	}
	assert.Equal(t, []string{"3", "4"}, matchingIDs(t, fs))
}

func TestMatch_EmptyMatchesAll(t *testing.T) {
	assert.Len(t, matchingIDs(t, FilterSet{}), 5)
}

func TestCompare(t *testing.T) {
	now := time.Now()

	c, ok := Compare(now, now.Add(time.Second))
	require.True(t, ok)
	assert.Equal(t, -1, c)

	c, ok = Compare("b", "a")
	require.True(t, ok)
	assert.Equal(t, 1, c)

	_, ok = Compare("1", 1)
	assert.False(t, ok)

	_, ok = Compare(nil, 1)
	assert.False(t, ok)
}

func TestLikeRegexp(t *testing.T) {
	assert.Equal(t, "^abc.*$", LikeRegexp("abc%"))
	assert.Equal(t, `^a\.b.c$`, LikeRegexp("a.b_c"))
	assert.Equal(t, `^\(x\)\+.*$`, LikeRegexp("(x)+%"))

	// Regex metacharacters are literal.
	ids := matchingIDs(t, FilterSet{Conditions: []Expression{{Field: "name", Op: OpLike, Value: "a.pha"}}})
	assert.Empty(t, ids)
}

func TestLikePrefix(t *testing.T) {
	p, ok := LikePrefix("abc%")
	assert.True(t, ok)
	assert.Equal(t, "abc", p)

	for _, pattern := range []string{"%abc", "a%c%", "abc", "%", "a_c%"} {
		_, ok := LikePrefix(pattern)
		assert.False(t, ok, pattern)
	}
}
