package relational

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "modernc.org/sqlite"             // registers the "sqlite" database/sql driver

	"github.com/redbco/redb-storage/internal/database"
	"github.com/redbco/redb-storage/pkg/adapter"
	"github.com/redbco/redb-storage/pkg/dbcapabilities"
)

// Adapter implements adapter.DatabaseAdapter for one SQL engine.
type Adapter struct {
	dialect dialect
}

// NewPostgresAdapter creates an adapter for PostgreSQL through pgx.
func NewPostgresAdapter() adapter.DatabaseAdapter {
	return &Adapter{dialect: postgresDialect{}}
}

// NewSQLiteAdapter creates an adapter for SQLite through modernc.org/sqlite.
func NewSQLiteAdapter() adapter.DatabaseAdapter {
	return &Adapter{dialect: sqliteDialect{}}
}

// Type returns the database type identifier.
func (a *Adapter) Type() dbcapabilities.DatabaseType {
	return a.dialect.Type()
}

// Capabilities returns the capabilities metadata.
func (a *Adapter) Capabilities() dbcapabilities.Capability {
	return dbcapabilities.MustGet(a.dialect.Type())
}

// Connect opens a database/sql pool and pings it.
func (a *Adapter) Connect(ctx context.Context, config adapter.ConnectionConfig) (adapter.Driver, error) {
	dbType := a.dialect.Type()
	if config.ConnectionString == "" {
		return nil, adapter.NewConfigurationError(dbType, "connectionString", "a DSN is required")
	}

	dsn := config.ConnectionString
	memory := false
	if dbType == dbcapabilities.SQLite {
		dsn, memory = sqliteDSN(dsn)
	}

	log := database.NewDatabaseLogger(config.Logger, string(dbType), config.Address())
	log.LogConnectionAttempt()

	db, err := sql.Open(a.dialect.DriverName(), dsn)
	if err != nil {
		log.LogConnectionFailure(err)
		return nil, adapter.NewConnectionError(dbType, config.Address(), err)
	}

	maxOpen := config.MaxOpenConns
	if memory {
		// Every connection to :memory: is a separate database.
		maxOpen = 1
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen)
	}
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, config.GetConnectTimeout())
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		log.LogConnectionFailure(err)
		return nil, adapter.NewConnectionError(dbType, config.Address(), err)
	}
	log.LogConnectionSuccess()

	return &Driver{
		UnsupportedSubscriber: adapter.UnsupportedSubscriber{DBType: dbType},
		db:                    db,
		dialect:               a.dialect,
		idColumn:              config.GetIDColumn(),
		address:               config.Address(),
		log:                   log,
	}, nil
}

// sqliteDSN adds the operational pragmas to file databases and reports
// whether the DSN points at an in-memory database.
func sqliteDSN(dsn string) (string, bool) {
	memory := strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
	if memory || strings.Contains(dsn, "_pragma=") {
		return dsn, memory
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	return dsn + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", false
}
