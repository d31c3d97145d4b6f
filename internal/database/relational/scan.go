package relational

import (
	"database/sql"

	"github.com/redbco/redb-storage/pkg/adapter"
)

// scanRecords reads every row into a Record. The identifier column is
// exposed as the "id" field in string form.
func scanRecords(rows *sql.Rows, idColumn string) ([]adapter.Record, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	records := make([]adapter.Record, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		rec := make(adapter.Record, len(columns))
		for i, col := range columns {
			v := normalizeValue(values[i])
			if col == idColumn {
				if v != nil {
					rec[adapter.IDField] = adapter.Record{adapter.IDField: v}.ID()
				}
				continue
			}
			rec[col] = v
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// normalizeValue converts driver specific representations into record scalars.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	}
	return v
}
