// Package drivertest is a conformance suite run against every storage
// driver so that filter semantics, ordering and pagination stay identical
// across backends.
package drivertest

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redbco/redb-storage/pkg/adapter"
	"github.com/redbco/redb-storage/pkg/query"
)

// Harness wires a driver into the suite.
type Harness struct {
	Driver adapter.Driver
	// Reset leaves collection empty and ready for writes with the fields
	// name, temp, site, seq and temperature.
	Reset func(t *testing.T, collection string)
	// SkipLike skips the LIKE case for backends without pattern matching.
	SkipLike bool
}

// Fixture is the dataset the operator tests filter.
func Fixture() []adapter.Record {
	return []adapter.Record{
		{"name": "alpha", "temp": 5, "site": "north"},
		{"name": "beta", "temp": 10, "site": "south"},
		{"name": "gamma", "temp": 15, "site": nil},
		{"name": "alphabet", "temp": 20, "site": "north"},
		{"name": "delta", "temp": 25, "site": "south"},
	}
}

// OperatorCase is one filter and the fixture names it must select.
type OperatorCase struct {
	Name   string
	Filter query.FilterSet
	Want   []string
}

func cond(field string, op query.Operator, value any) query.FilterSet {
	return query.FilterSet{Conditions: []query.Expression{{Field: field, Op: op, Value: value}}}
}

// OperatorCases covers every operator plus OR alternatives.
func OperatorCases() []OperatorCase {
	return []OperatorCase{
		{"eq", cond("temp", query.OpEq, 10), []string{"beta"}},
		{"neq", cond("name", query.OpNeq, "beta"), []string{"alpha", "alphabet", "delta", "gamma"}},
		{"gt", cond("temp", query.OpGt, 15), []string{"alphabet", "delta"}},
		{"gte", cond("temp", query.OpGte, 15), []string{"alphabet", "delta", "gamma"}},
		{"lt", cond("temp", query.OpLt, 10), []string{"alpha"}},
		{"lte", cond("temp", query.OpLte, 10), []string{"alpha", "beta"}},
		{"in", cond("name", query.OpIn, []string{"beta", "delta", "omega"}), []string{"beta", "delta"}},
		{"not in", cond("name", query.OpNotIn, []string{"beta", "delta"}), []string{"alpha", "alphabet", "gamma"}},
		{"neq skips null", cond("site", query.OpNeq, "north"), []string{"beta", "delta"}},
		{"not in skips null", cond("site", query.OpNotIn, []string{"north"}), []string{"beta", "delta"}},
		{"between inclusive", cond("temp", query.OpBetween, query.Range{Low: 10, High: 20}), []string{"alphabet", "beta", "gamma"}},
		{"like prefix", cond("name", query.OpLike, "alph%"), []string{"alpha", "alphabet"}},
		{"is null", cond("site", query.OpIsNull, nil), []string{"gamma"}},
		{"not null", cond("site", query.OpNotNull, nil), []string{"alpha", "alphabet", "beta", "delta"}},
		{"or alternatives", query.FilterSet{
			Conditions: []query.Expression{{Field: "temp", Op: query.OpGte, Value: 10}},
			Or: []query.FilterSet{
				cond("site", query.OpEq, "north"),
				cond("name", query.OpIn, []string{"gamma"}),
			},
		}, []string{"alphabet", "gamma"}},
	}
}

// Run executes the whole suite.
func Run(t *testing.T, h Harness) {
	t.Run("Operators", func(t *testing.T) { testOperators(t, h) })
	t.Run("Pagination", func(t *testing.T) { testPagination(t, h) })
	t.Run("SensorsScenario", func(t *testing.T) { testSensors(t, h) })
	t.Run("UpdateCountDelete", func(t *testing.T) { testUpdateCountDelete(t, h) })
	t.Run("InsertIDAndProjection", func(t *testing.T) { testInsertID(t, h) })
	t.Run("InvalidSpec", func(t *testing.T) { testInvalid(t, h) })
}

func ctx(t *testing.T) context.Context {
	c, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return c
}

func seed(t *testing.T, h Harness, collection string, records []adapter.Record) {
	t.Helper()
	h.Reset(t, collection)
	for _, r := range records {
		res, err := h.Driver.Insert(ctx(t), collection, r.Clone())
		require.NoError(t, err)
		require.NotEmpty(t, res.InsertedID)
	}
}

func names(records []adapter.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		if s, ok := r["name"].(string); ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// Num converts numeric record values for comparison.
func Num(t *testing.T, v any) float64 {
	t.Helper()
	f, ok := query.ToFloat(v)
	require.True(t, ok, "value %v (%T) is not numeric", v, v)
	return f
}

func testOperators(t *testing.T, h Harness) {
	const collection = "readings"
	seed(t, h, collection, Fixture())

	for _, tc := range OperatorCases() {
		t.Run(tc.Name, func(t *testing.T) {
			if tc.Name == "like prefix" && h.SkipLike {
				t.Skip("backend has no pattern matching")
			}
			got, err := h.Driver.QueryMany(ctx(t), collection, query.Spec{Filter: tc.Filter})
			require.NoError(t, err)
			assert.Equal(t, tc.Want, names(got))

			n, err := h.Driver.Count(ctx(t), collection, tc.Filter)
			require.NoError(t, err)
			assert.Equal(t, int64(len(tc.Want)), n)
		})
	}
}

func testPagination(t *testing.T, h Harness) {
	const collection = "pages"
	records := make([]adapter.Record, 0, 7)
	for i := 1; i <= 7; i++ {
		records = append(records, adapter.Record{"seq": i})
	}
	seed(t, h, collection, records)

	page := func(limit, offset int, dir query.Direction) []float64 {
		got, err := h.Driver.QueryMany(ctx(t), collection, query.Spec{
			Order:  []query.Order{{Field: "seq", Direction: dir}},
			Limit:  limit,
			Offset: offset,
		})
		require.NoError(t, err)
		out := make([]float64, len(got))
		for i, r := range got {
			out[i] = Num(t, r["seq"])
		}
		return out
	}

	assert.Equal(t, []float64{3, 4, 5}, page(3, 2, query.Asc))
	assert.Equal(t, []float64{6, 7}, page(3, 5, query.Asc))
	assert.Equal(t, []float64{7, 6}, page(2, 0, query.Desc))
	assert.Equal(t, []float64{2, 1}, page(0, 5, query.Desc))
	assert.Empty(t, page(3, 10, query.Asc))
}

func testSensors(t *testing.T, h Harness) {
	const collection = "sensors"
	seed(t, h, collection, []adapter.Record{
		{"temperature": 20},
		{"temperature": 21},
		{"temperature": 22},
	})

	got, err := h.Driver.QueryMany(ctx(t), collection, query.Spec{
		Filter: cond("temperature", query.OpGt, 20),
		Order:  []query.Order{{Field: "temperature", Direction: query.Desc}},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 22.0, Num(t, got[0]["temperature"]))
	assert.Equal(t, 21.0, Num(t, got[1]["temperature"]))
}

func testUpdateCountDelete(t *testing.T, h Harness) {
	const collection = "readings"
	seed(t, h, collection, Fixture())

	res, err := h.Driver.Update(ctx(t), collection, cond("site", query.OpEq, "north"), adapter.Record{"site": "east"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Affected)

	n, err := h.Driver.Count(ctx(t), collection, cond("site", query.OpEq, "east"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	res, err = h.Driver.Delete(ctx(t), collection, cond("temp", query.OpLt, 10))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Affected)

	res, err = h.Driver.Delete(ctx(t), collection, query.FilterSet{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Affected)

	n, err = h.Driver.Count(ctx(t), collection, query.FilterSet{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testInsertID(t *testing.T, h Harness) {
	const collection = "readings"
	h.Reset(t, collection)

	res, err := h.Driver.Insert(ctx(t), collection, adapter.Record{"name": "solo", "temp": 1})
	require.NoError(t, err)
	require.NotEmpty(t, res.InsertedID)

	got, err := h.Driver.QueryMany(ctx(t), collection, query.Spec{
		Filter: cond(adapter.IDField, query.OpEq, res.InsertedID),
		Fields: []string{"name"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, res.InsertedID, got[0].ID())
	assert.Equal(t, "solo", got[0]["name"])
	assert.NotContains(t, got[0], "temp")
}

func testInvalid(t *testing.T, h Harness) {
	_, err := h.Driver.QueryMany(ctx(t), "readings", query.Spec{Limit: -1})
	assert.True(t, adapter.IsValidationError(err))

	_, err = h.Driver.Count(ctx(t), "readings", cond("temp", query.OpBetween, 3))
	assert.True(t, adapter.IsValidationError(err))
}
