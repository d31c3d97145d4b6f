package mongodb

import (
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/redbco/redb-storage/pkg/adapter"
)

// toRecord converts a decoded document into a Record with "_id" exposed as
// the string "id" field.
func toRecord(doc bson.M) adapter.Record {
	rec := make(adapter.Record, len(doc))
	for k, v := range doc {
		if k == mongoIDField {
			rec[adapter.IDField] = idString(v)
			continue
		}
		rec[k] = convertValue(v)
	}
	return rec
}

// toDocument prepares a record for writing. A caller supplied "id" becomes
// "_id".
func toDocument(rec adapter.Record) bson.D {
	doc := make(bson.D, 0, len(rec))
	if id, ok := rec[adapter.IDField]; ok && id != nil {
		doc = append(doc, bson.E{Key: mongoIDField, Value: toDocumentID(id)})
	}
	for _, k := range sortedKeys(rec) {
		if k == adapter.IDField {
			continue
		}
		doc = append(doc, bson.E{Key: k, Value: rec[k]})
	}
	return doc
}

func idString(v any) string {
	switch x := v.(type) {
	case bson.ObjectID:
		return x.Hex()
	case string:
		return x
	case nil:
		return ""
	}
	return adapter.Record{adapter.IDField: convertValue(v)}.ID()
}

func convertValue(v any) any {
	switch x := v.(type) {
	case bson.M:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = convertValue(val)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(x))
		for _, e := range x {
			out[e.Key] = convertValue(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = convertValue(val)
		}
		return out
	case bson.ObjectID:
		return x.Hex()
	case bson.DateTime:
		return x.Time().UTC()
	case bson.Decimal128:
		return x.String()
	case bson.Binary:
		return x.Data
	case int32:
		return int64(x)
	case bson.Timestamp:
		return fmt.Sprintf("%d:%d", x.T, x.I)
	}
	return v
}

func sortedKeys(rec adapter.Record) []string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
