package firestore

import (
	"context"
	"testing"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redbco/redb-storage/pkg/adapter"
	"github.com/redbco/redb-storage/pkg/query"
)

func compileSet(t *testing.T, fs query.FilterSet) (compiled, error) {
	t.Helper()
	fs, err := fs.Normalize()
	require.NoError(t, err)
	return compiler{}.filterSet(fs)
}

func single(field string, op query.Operator, value any) query.FilterSet {
	return query.FilterSet{Conditions: []query.Expression{{Field: field, Op: op, Value: value}}}
}

func TestCompileExpression(t *testing.T) {
	prop := func(path, op string, v any) firestore.PropertyFilter {
		return firestore.PropertyFilter{Path: path, Operator: op, Value: v}
	}

	tests := []struct {
		name   string
		filter query.FilterSet
		want   firestore.EntityFilter
	}{
		{"eq", single("a", query.OpEq, 1), prop("a", "==", 1)},
		{"neq", single("a", query.OpNeq, "x"), prop("a", "!=", "x")},
		{"gt", single("a", query.OpGt, 1), prop("a", ">", 1)},
		{"gte", single("a", query.OpGte, 1), prop("a", ">=", 1)},
		{"lt", single("a", query.OpLt, 1), prop("a", "<", 1)},
		{"lte", single("a", query.OpLte, 1), prop("a", "<=", 1)},
		{"in", single("a", query.OpIn, []int{1, 2}), prop("a", "in", []any{1, 2})},
		{"not in", single("a", query.OpNotIn, []string{"x"}), prop("a", "not-in", []any{"x"})},
		{"between", single("a", query.OpBetween, query.Range{Low: 1, High: 5}), firestore.AndFilter{Filters: []firestore.EntityFilter{
			prop("a", ">=", 1), prop("a", "<=", 5),
		}}},
		{"like prefix", single("a", query.OpLike, "abc%"), firestore.AndFilter{Filters: []firestore.EntityFilter{
			prop("a", ">=", "abc"), prop("a", "<", "abc"+prefixUpperBound),
		}}},
		{"is null", single("a", query.OpIsNull, nil), prop("a", "==", nil)},
		{"not null", single("a", query.OpNotNull, nil), prop("a", "!=", nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := compileSet(t, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.filter)
		})
	}
}

func TestCompileLikeUnsupported(t *testing.T) {
	for _, pattern := range []string{"%abc", "a_c%", "abc", "%"} {
		_, err := compileSet(t, single("a", query.OpLike, pattern))
		assert.True(t, adapter.IsUnsupported(err), pattern)
	}
}

func TestCompileConstantOutcomes(t *testing.T) {
	got, err := compileSet(t, query.FilterSet{})
	require.NoError(t, err)
	assert.True(t, got.always)

	got, err = compileSet(t, single("a", query.OpIn, []any{}))
	require.NoError(t, err)
	assert.True(t, got.never)

	got, err = compileSet(t, single("a", query.OpNotIn, []any{}))
	require.NoError(t, err)
	assert.True(t, got.always)

	// An impossible alternative is dropped from the disjunction.
	got, err = compileSet(t, query.FilterSet{Or: []query.FilterSet{
		single("a", query.OpIn, []any{}),
		single("b", query.OpEq, 1),
	}})
	require.NoError(t, err)
	assert.Equal(t, firestore.PropertyFilter{Path: "b", Operator: "==", Value: 1}, got.filter)

	// A trivially true alternative satisfies the disjunction.
	got, err = compileSet(t, query.FilterSet{
		Conditions: []query.Expression{{Field: "c", Op: query.OpGt, Value: 0}},
		Or: []query.FilterSet{
			single("a", query.OpNotIn, []any{}),
			single("b", query.OpEq, 1),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, firestore.PropertyFilter{Path: "c", Operator: ">", Value: 0}, got.filter)
}

func TestCompileOr(t *testing.T) {
	got, err := compileSet(t, query.FilterSet{
		Conditions: []query.Expression{{Field: "t", Op: query.OpGte, Value: 10}},
		Or: []query.FilterSet{
			single("site", query.OpEq, "north"),
			single("name", query.OpIn, []string{"gamma"}),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, firestore.AndFilter{Filters: []firestore.EntityFilter{
		firestore.PropertyFilter{Path: "t", Operator: ">=", Value: 10},
		firestore.OrFilter{Filters: []firestore.EntityFilter{
			firestore.PropertyFilter{Path: "site", Operator: "==", Value: "north"},
			firestore.PropertyFilter{Path: "name", Operator: "in", Value: []any{"gamma"}},
		}},
	}}, got.filter)
}

func TestCompileIDUsesDocumentPath(t *testing.T) {
	got, err := compileSet(t, single(adapter.IDField, query.OpEq, "abc"))
	require.NoError(t, err)
	f, ok := got.filter.(firestore.PropertyFilter)
	require.True(t, ok)
	assert.Equal(t, firestore.DocumentID, f.Path)
}

func TestToNotification(t *testing.T) {
	doc := &firestore.DocumentSnapshot{Ref: &firestore.DocumentRef{ID: "doc-1"}}

	n, ok := toNotification("c", firestore.DocumentChange{Kind: firestore.DocumentRemoved, Doc: doc}, query.FilterSet{})
	require.True(t, ok)
	assert.Equal(t, adapter.ChangeDelete, n.Type)
	assert.Equal(t, "doc-1", n.DocumentID)

	n, ok = toNotification("c", firestore.DocumentChange{Kind: firestore.DocumentAdded, Doc: doc}, query.FilterSet{})
	require.True(t, ok)
	assert.Equal(t, adapter.ChangeInsert, n.Type)
	assert.Equal(t, "doc-1", n.Payload.ID())

	filter, err := query.Where(map[string]any{"site": "north"}).Normalize()
	require.NoError(t, err)
	_, ok = toNotification("c", firestore.DocumentChange{Kind: firestore.DocumentModified, Doc: doc}, filter)
	assert.False(t, ok)
}

func TestSubscriptionFilterMatchesQuerySemantics(t *testing.T) {
	records := []map[string]any{
		{"id": "1", "name": "Alpha", "site": "north"},
		{"id": "2", "name": "alpha", "site": "south"},
		{"id": "3", "name": "Alphabet"},
		{"id": "4", "name": 7, "site": "north"},
	}

	tests := []struct {
		name   string
		filter query.FilterSet
		want   []string
	}{
		{"like prefix is case-sensitive", single("name", query.OpLike, "Alp%"), []string{"1", "3"}},
		{"like lower prefix", single("name", query.OpLike, "alp%"), []string{"2"}},
		{"neq skips missing", single("site", query.OpNeq, "north"), []string{"2"}},
		{"or with like", query.FilterSet{Or: []query.FilterSet{
			single("name", query.OpLike, "alp%"),
			single("site", query.OpEq, "north"),
		}}, []string{"1", "2", "4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, err := tt.filter.Normalize()
			require.NoError(t, err)

			var got []string
			for _, r := range records {
				if matches(fs, r) {
					got = append(got, r["id"].(string))
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubscribeRejectsNonPrefixLike(t *testing.T) {
	for _, pattern := range []string{"%pha", "a_c%", "%"} {
		t.Run(pattern, func(t *testing.T) {
			l, err := (&Driver{}).Subscribe(context.Background(), "c", single("name", query.OpLike, pattern), func(adapter.Notification) {})
			assert.Nil(t, l)
			assert.True(t, adapter.IsUnsupported(err), "got %v", err)
		})
	}
}
