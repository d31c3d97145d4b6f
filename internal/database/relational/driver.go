package relational

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/redbco/redb-storage/internal/database"
	"github.com/redbco/redb-storage/pkg/adapter"
	"github.com/redbco/redb-storage/pkg/dbcapabilities"
	"github.com/redbco/redb-storage/pkg/query"
)

// Driver implements adapter.Driver over database/sql. Subscriptions are not
// available: the embedded UnsupportedSubscriber rejects them.
type Driver struct {
	adapter.UnsupportedSubscriber

	db       *sql.DB
	dialect  dialect
	idColumn string
	address  string
	log      *database.DatabaseLogger
}

// Type returns the database type identifier.
func (d *Driver) Type() dbcapabilities.DatabaseType { return d.dialect.Type() }

// Capabilities returns the capabilities metadata.
func (d *Driver) Capabilities() dbcapabilities.Capability {
	return dbcapabilities.MustGet(d.dialect.Type())
}

// DB exposes the underlying pool for schema setup by callers.
func (d *Driver) DB() *sql.DB { return d.db }

// Ping verifies the database is reachable.
func (d *Driver) Ping(ctx context.Context) error {
	start := time.Now()
	err := d.db.PingContext(ctx)
	return d.log.ObserveOperation("", "ping", start, d.classify("ping", "", err))
}

// Insert writes one row and returns its identifier.
func (d *Driver) Insert(ctx context.Context, table string, record adapter.Record) (adapter.WriteResult, error) {
	start := time.Now()
	c := newCompiler(d.dialect, d.idColumn)
	stmt := c.insertStatement(table, record)

	var id any
	err := d.db.QueryRowContext(ctx, stmt, c.args...).Scan(&id)
	if err = d.log.ObserveOperation(table, "insert", start, d.classify("insert", table, err)); err != nil {
		return adapter.WriteResult{}, err
	}
	return adapter.WriteResult{InsertedID: adapter.Record{adapter.IDField: normalizeValue(id)}.ID(), Affected: 1}, nil
}

// QueryMany returns the rows matching spec.
func (d *Driver) QueryMany(ctx context.Context, table string, spec query.Spec) ([]adapter.Record, error) {
	start := time.Now()
	spec, err := spec.Normalize()
	if err != nil {
		return nil, err
	}
	c := newCompiler(d.dialect, d.idColumn)
	stmt, err := c.selectStatement(table, spec)
	if err != nil {
		return nil, err
	}

	records, err := d.query(ctx, stmt, c.args...)
	if err = d.log.ObserveOperation(table, "query", start, d.classify("query", table, err)); err != nil {
		return nil, err
	}
	return records, nil
}

// Count returns the number of rows matching filter.
func (d *Driver) Count(ctx context.Context, table string, filter query.FilterSet) (int64, error) {
	start := time.Now()
	filter, err := filter.Normalize()
	if err != nil {
		return 0, err
	}
	c := newCompiler(d.dialect, d.idColumn)
	stmt, err := c.countStatement(table, filter)
	if err != nil {
		return 0, err
	}

	var n int64
	err = d.db.QueryRowContext(ctx, stmt, c.args...).Scan(&n)
	if err = d.log.ObserveOperation(table, "count", start, d.classify("count", table, err)); err != nil {
		return 0, err
	}
	return n, nil
}

// Update applies patch to every row matching filter.
func (d *Driver) Update(ctx context.Context, table string, filter query.FilterSet, patch adapter.Record) (adapter.WriteResult, error) {
	start := time.Now()
	filter, err := filter.Normalize()
	if err != nil {
		return adapter.WriteResult{}, err
	}
	patch = patch.Clone()
	delete(patch, adapter.IDField)
	if len(patch) == 0 {
		return adapter.WriteResult{}, adapter.NewValidationError("", "update patch is empty")
	}

	c := newCompiler(d.dialect, d.idColumn)
	stmt, err := c.updateStatement(table, filter, patch)
	if err != nil {
		return adapter.WriteResult{}, err
	}
	return d.exec(ctx, table, "update", start, stmt, c.args)
}

// Delete removes every row matching filter. An empty filter deletes all rows.
func (d *Driver) Delete(ctx context.Context, table string, filter query.FilterSet) (adapter.WriteResult, error) {
	start := time.Now()
	filter, err := filter.Normalize()
	if err != nil {
		return adapter.WriteResult{}, err
	}
	c := newCompiler(d.dialect, d.idColumn)
	stmt, err := c.deleteStatement(table, filter)
	if err != nil {
		return adapter.WriteResult{}, err
	}
	return d.exec(ctx, table, "delete", start, stmt, c.args)
}

// RawQuery runs a statement verbatim. Statements that return no rows yield
// an empty result.
func (d *Driver) RawQuery(ctx context.Context, statement string, args ...any) ([]adapter.Record, error) {
	start := time.Now()
	records, err := d.query(ctx, statement, args...)
	if err = d.log.ObserveOperation("", "raw_query", start, d.classify("raw_query", "", err)); err != nil {
		return nil, err
	}
	return records, nil
}

// Close closes the pool.
func (d *Driver) Close() error {
	err := d.db.Close()
	d.log.LogDisconnection(err)
	return err
}

func (d *Driver) exec(ctx context.Context, table, op string, start time.Time, stmt string, args []any) (adapter.WriteResult, error) {
	res, err := d.db.ExecContext(ctx, stmt, args...)
	var affected int64
	if err == nil {
		affected, err = res.RowsAffected()
	}
	if err = d.log.ObserveOperation(table, op, start, d.classify(op, table, err)); err != nil {
		return adapter.WriteResult{}, err
	}
	return adapter.WriteResult{Affected: affected}, nil
}

func (d *Driver) query(ctx context.Context, stmt string, args ...any) ([]adapter.Record, error) {
	rows, err := d.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows, d.idColumn)
}

// classify maps driver errors onto the adapter error taxonomy.
func (d *Driver) classify(op, table string, err error) error {
	if err == nil {
		return nil
	}
	dbType := d.dialect.Type()

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
		return adapter.NewNotFoundError(dbType, "table", table)
	}
	if strings.Contains(err.Error(), "no such table") {
		return adapter.NewNotFoundError(dbType, "table", table)
	}

	var (
		connectErr *pgconn.ConnectError
		netErr     net.Error
	)
	if errors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), "database is closed") {
		return adapter.NewConnectionError(dbType, d.address, fmt.Errorf("%w: %v", adapter.ErrConnectionClosed, err))
	}
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &connectErr) || errors.As(err, &netErr) {
		return adapter.NewConnectionError(dbType, d.address, err)
	}

	wrapped := adapter.WrapError(dbType, op, err)
	if dbErr, ok := wrapped.(*adapter.DatabaseError); ok && table != "" && error(dbErr) != err {
		dbErr.WithContext("table", table)
	}
	return wrapped
}
