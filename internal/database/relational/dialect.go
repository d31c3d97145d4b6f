package relational

import (
	"fmt"
	"strings"

	"github.com/redbco/redb-storage/pkg/dbcapabilities"
)

// dialect captures the SQL differences between the supported engines.
type dialect interface {
	Type() dbcapabilities.DatabaseType
	DriverName() string
	Placeholder(n int) string
	LikeOperator() string
	LimitOffset(limit, offset int) string
}

// QuoteIdentifier quotes a table or column name.
func QuoteIdentifier(name string) string {
	// Replace any existing quotes with double quotes to escape them
	name = strings.ReplaceAll(name, `"`, `""`)
	return `"` + name + `"`
}

type postgresDialect struct{}

func (postgresDialect) Type() dbcapabilities.DatabaseType { return dbcapabilities.PostgreSQL }

// DriverName is the name registered by github.com/jackc/pgx/v5/stdlib.
func (postgresDialect) DriverName() string { return "pgx" }

func (postgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

// LikeOperator keeps pattern matching case-insensitive on every backend.
func (postgresDialect) LikeOperator() string { return "ILIKE" }

func (postgresDialect) LimitOffset(limit, offset int) string {
	var parts []string
	if limit > 0 {
		parts = append(parts, fmt.Sprintf("LIMIT %d", limit))
	}
	if offset > 0 {
		parts = append(parts, fmt.Sprintf("OFFSET %d", offset))
	}
	return strings.Join(parts, " ")
}

type sqliteDialect struct{}

func (sqliteDialect) Type() dbcapabilities.DatabaseType { return dbcapabilities.SQLite }

// DriverName is the name registered by modernc.org/sqlite.
func (sqliteDialect) DriverName() string { return "sqlite" }

func (sqliteDialect) Placeholder(int) string { return "?" }

// LikeOperator is case-insensitive for ASCII in SQLite.
func (sqliteDialect) LikeOperator() string { return "LIKE" }

func (sqliteDialect) LimitOffset(limit, offset int) string {
	switch {
	case limit > 0 && offset > 0:
		return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
	case limit > 0:
		return fmt.Sprintf("LIMIT %d", limit)
	case offset > 0:
		// SQLite only accepts OFFSET after a LIMIT clause.
		return fmt.Sprintf("LIMIT -1 OFFSET %d", offset)
	}
	return ""
}

func dialectFor(dbType dbcapabilities.DatabaseType) (dialect, bool) {
	switch dbType {
	case dbcapabilities.PostgreSQL:
		return postgresDialect{}, true
	case dbcapabilities.SQLite:
		return sqliteDialect{}, true
	}
	return nil, false
}
