// Package hybrid runs a primary store with an asynchronously replicated
// secondary used as a read fallback.
//
// Writes go to the primary synchronously. After a successful primary write
// the same write is handed to a non-blocking worker pool and applied to the
// secondary on a context detached from the caller. Replication failures are
// logged, counted and recorded but never reach the writer, and nothing
// reconciles the stores afterwards.
package hybrid

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/redbco/redb-storage/internal/metrics"
	"github.com/redbco/redb-storage/pkg/adapter"
	"github.com/redbco/redb-storage/pkg/logger"
	"github.com/redbco/redb-storage/pkg/query"
)

// State is the coordinator state observed by the most recent operation.
type State string

const (
	// StatePrimaryOnly means no secondary is configured.
	StatePrimaryOnly State = "primary_only"
	// StateHybridActive means the primary served the last operation.
	StateHybridActive State = "hybrid_active"
	// StatePrimaryDegraded means the primary failed the last operation.
	StatePrimaryDegraded State = "primary_degraded"
)

var allStates = []string{string(StatePrimaryOnly), string(StateHybridActive), string(StatePrimaryDegraded)}

// Operation names a write kind.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// WriteOp is a write replayable against either store.
type WriteOp struct {
	Operation  Operation
	Collection string
	// Record is the inserted record or the update patch.
	Record adapter.Record
	Filter query.FilterSet
}

func (op WriteOp) apply(ctx context.Context, d adapter.Driver) (adapter.WriteResult, error) {
	switch op.Operation {
	case OpInsert:
		return d.Insert(ctx, op.Collection, op.Record)
	case OpUpdate:
		return d.Update(ctx, op.Collection, op.Filter, op.Record)
	case OpDelete:
		return d.Delete(ctx, op.Collection, op.Filter)
	}
	return adapter.WriteResult{}, fmt.Errorf("unknown write operation %q", op.Operation)
}

// Options tunes replication.
type Options struct {
	// Workers bounds concurrent secondary writes. Submissions beyond it
	// are rejected and recorded as failures.
	Workers int
	// Timeout bounds each secondary write.
	Timeout time.Duration
	// ShutdownGrace bounds how long Close waits for pending replications.
	ShutdownGrace time.Duration
	// Recorder receives failed replications. Defaults to a 256 entry Ring.
	Recorder FailureRecorder
	Logger   *logger.Logger
}

// Coordinator routes operations between a primary and an optional
// secondary driver. It does not own the drivers.
type Coordinator struct {
	primary   adapter.Driver
	secondary adapter.Driver
	pool      *ants.Pool
	opts      Options
	log       *logger.Logger

	mu    sync.RWMutex
	state State

	closeOnce sync.Once
	closeErr  error
}

// New creates a coordinator. secondary may be nil, in which case every
// operation goes to the primary only.
func New(primary, secondary adapter.Driver, opts Options) (*Coordinator, error) {
	if primary == nil {
		return nil, errors.New("primary driver is required")
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 5 * time.Second
	}
	if opts.Recorder == nil {
		opts.Recorder = NewRing(256)
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}

	c := &Coordinator{
		primary:   primary,
		secondary: secondary,
		opts:      opts,
		log:       opts.Logger,
		state:     StatePrimaryOnly,
	}

	if secondary != nil {
		pool, err := ants.NewPool(opts.Workers,
			ants.WithNonblocking(true),
			ants.WithPanicHandler(func(v any) {
				c.log.Errorf("Replication worker panic: %v", v)
			}))
		if err != nil {
			return nil, fmt.Errorf("failed to create replication pool: %w", err)
		}
		c.pool = pool
		c.state = StateHybridActive
	}
	metrics.SetHybridState(string(c.state), allStates)
	return c, nil
}

// Primary returns the authoritative driver.
func (c *Coordinator) Primary() adapter.Driver { return c.primary }

// Secondary returns the fallback driver or nil.
func (c *Coordinator) Secondary() adapter.Driver { return c.secondary }

// Recorder returns the failure recorder.
func (c *Coordinator) Recorder() FailureRecorder { return c.opts.Recorder }

// LastState reports the state observed by the most recent operation.
func (c *Coordinator) LastState() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Coordinator) observe(primaryErr error) {
	state := StatePrimaryOnly
	if c.secondary != nil {
		state = StateHybridActive
		if primaryErr != nil {
			state = StatePrimaryDegraded
		}
	}

	c.mu.Lock()
	changed := c.state != state
	c.state = state
	c.mu.Unlock()

	if changed {
		metrics.SetHybridState(string(state), allStates)
		c.log.Infof("Hybrid coordinator state changed to %s", state)
	}
}

// Write applies op to the primary. On success the op is replicated to the
// secondary in the background; inserts are replicated with the id the
// primary assigned.
func (c *Coordinator) Write(ctx context.Context, op WriteOp) (adapter.WriteResult, error) {
	res, err := op.apply(ctx, c.primary)
	if isCallerError(ctx, err) {
		return res, err
	}
	c.observe(err)
	if err != nil || c.secondary == nil {
		return res, err
	}

	replica := op
	if op.Operation == OpInsert {
		replica.Record = op.Record.Clone()
		if replica.Record == nil {
			replica.Record = adapter.Record{}
		}
		replica.Record[adapter.IDField] = res.InsertedID
	}
	c.replicate(ctx, replica)
	return res, nil
}

func (c *Coordinator) replicate(ctx context.Context, op WriteOp) {
	backend := string(c.secondary.Type())
	detached := context.WithoutCancel(ctx)

	err := c.pool.Submit(func() {
		rctx, cancel := context.WithTimeout(detached, c.opts.Timeout)
		defer cancel()

		_, err := op.apply(rctx, c.secondary)
		metrics.ReplicationsTotal.WithLabelValues(backend, metrics.Outcome(err)).Inc()
		if err != nil {
			c.recordFailure(detached, op, err)
		}
	})
	if err != nil {
		metrics.ReplicationsTotal.WithLabelValues(backend, "rejected").Inc()
		c.recordFailure(detached, op, fmt.Errorf("replication not scheduled: %w", err))
	}
}

func (c *Coordinator) recordFailure(ctx context.Context, op WriteOp, cause error) {
	backend := string(c.secondary.Type())
	metrics.ReplicationFailuresTotal.WithLabelValues(backend, string(op.Operation)).Inc()

	rerr := &adapter.ReplicationError{
		DatabaseType: c.secondary.Type(),
		Operation:    string(op.Operation),
		Collection:   op.Collection,
		Cause:        cause,
	}
	f := Failure{
		Time:       time.Now(),
		Backend:    backend,
		Operation:  op.Operation,
		Collection: op.Collection,
		DocumentID: op.Record.ID(),
		Record:     op.Record,
		Error:      rerr.Error(),
		Err:        rerr,
	}
	if op.Operation != OpInsert {
		f.Filter = describeFilter(op.Filter)
	}

	c.log.Warnf("%v", rerr)

	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.opts.Recorder.Record(rctx, f); err != nil {
		c.log.Errorf("Failed to record replication failure: %v", err)
	}
}

// Read runs fn against the primary. When the primary fails fn is retried on
// the secondary and degraded is true. If both fail the primary error is
// returned with the secondary failure attached.
func (c *Coordinator) Read(ctx context.Context, operation string, fn func(context.Context, adapter.Driver) error) (degraded bool, err error) {
	err = fn(ctx, c.primary)
	if isCallerError(ctx, err) {
		return false, err
	}
	c.observe(err)
	if err == nil || c.secondary == nil {
		return false, err
	}

	c.log.Warnf("Primary %s failed, reading from secondary %s: %v", operation, c.secondary.Type(), err)
	if serr := fn(ctx, c.secondary); serr != nil {
		return false, fmt.Errorf("%w (secondary fallback failed: %v)", err, serr)
	}
	metrics.DegradedReadsTotal.WithLabelValues(operation).Inc()
	return true, nil
}

// QueryMany reads through Read.
func (c *Coordinator) QueryMany(ctx context.Context, collection string, spec query.Spec) ([]adapter.Record, bool, error) {
	var records []adapter.Record
	degraded, err := c.Read(ctx, "query", func(ctx context.Context, d adapter.Driver) error {
		var err error
		records, err = d.QueryMany(ctx, collection, spec)
		return err
	})
	return records, degraded, err
}

// Count reads through Read.
func (c *Coordinator) Count(ctx context.Context, collection string, filter query.FilterSet) (int64, bool, error) {
	var n int64
	degraded, err := c.Read(ctx, "count", func(ctx context.Context, d adapter.Driver) error {
		var err error
		n, err = d.Count(ctx, collection, filter)
		return err
	})
	return n, degraded, err
}

// Close stops accepting replications and waits up to ShutdownGrace for
// pending ones. Replications still running afterwards are abandoned.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		if c.pool == nil {
			return
		}
		if err := c.pool.ReleaseTimeout(c.opts.ShutdownGrace); err != nil {
			c.log.Warnf("Pending replications abandoned after %s: %v", c.opts.ShutdownGrace, err)
			c.closeErr = fmt.Errorf("replication shutdown: %w", err)
		}
	})
	return c.closeErr
}

// isCallerError reports errors that say nothing about the primary's health:
// invalid input and a cancelled caller context.
func isCallerError(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	return adapter.IsValidationError(err) || ctx.Err() != nil
}

func describeFilter(f query.FilterSet) string {
	if f.IsEmpty() {
		return "*"
	}
	parts := make([]string, 0, len(f.Conditions)+1)
	for _, e := range f.Conditions {
		parts = append(parts, e.String())
	}
	if len(f.Or) > 0 {
		alts := make([]string, 0, len(f.Or))
		for _, alt := range f.Or {
			alts = append(alts, "("+describeFilter(alt)+")")
		}
		parts = append(parts, "("+strings.Join(alts, " OR ")+")")
	}
	return strings.Join(parts, " AND ")
}
