package drivertest

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redbco/redb-storage/pkg/adapter"
	"github.com/redbco/redb-storage/pkg/dbcapabilities"
	"github.com/redbco/redb-storage/pkg/query"
)

// Memory is an in-process adapter.Driver evaluating filters with
// query.Match. It reports the capabilities of the database type it stands
// in for, so a Memory posing as SQLite refuses Subscribe. Fail injects an
// error into every subsequent call.
type Memory struct {
	dbType dbcapabilities.DatabaseType

	mu          sync.Mutex
	collections map[string][]adapter.Record
	nextID      int
	err         error
	calls       map[string]int
	sinks       map[int]memorySink
	nextSink    int
	closed      bool
}

type memorySink struct {
	collection string
	filter     query.FilterSet
	sink       adapter.Sink
}

// NewMemory returns an empty store posing as dbType.
func NewMemory(dbType dbcapabilities.DatabaseType) *Memory {
	return &Memory{
		dbType:      dbType,
		collections: make(map[string][]adapter.Record),
		calls:       make(map[string]int),
		sinks:       make(map[int]memorySink),
	}
}

// Fail makes every later operation return err. Fail(nil) heals the store.
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls reports how often operation was invoked, failed calls included.
func (m *Memory) Calls(operation string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[operation]
}

// Records returns a copy of the stored records of collection.
func (m *Memory) Records(collection string) []adapter.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]adapter.Record, 0, len(m.collections[collection]))
	for _, r := range m.collections[collection] {
		out = append(out, r.Clone())
	}
	return out
}

// Drop removes collection.
func (m *Memory) Drop(collection string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, collection)
}

func (m *Memory) begin(operation string) error {
	m.calls[operation]++
	if m.closed {
		return adapter.NewConnectionError(m.dbType, "memory", adapter.ErrConnectionClosed)
	}
	return m.err
}

func (m *Memory) Type() dbcapabilities.DatabaseType { return m.dbType }

func (m *Memory) Capabilities() dbcapabilities.Capability {
	return dbcapabilities.MustGet(m.dbType)
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.begin("ping")
}

func (m *Memory) Insert(ctx context.Context, collection string, record adapter.Record) (adapter.WriteResult, error) {
	m.mu.Lock()
	if err := m.begin("insert"); err != nil {
		m.mu.Unlock()
		return adapter.WriteResult{}, err
	}
	rec := record.Clone()
	if rec == nil {
		rec = adapter.Record{}
	}
	id := rec.ID()
	if id == "" {
		m.nextID++
		id = strconv.Itoa(m.nextID)
	}
	for _, existing := range m.collections[collection] {
		if existing.ID() == id {
			m.mu.Unlock()
			return adapter.WriteResult{}, adapter.WrapError(m.dbType, "insert", errDuplicate(id))
		}
	}
	rec[adapter.IDField] = id
	m.collections[collection] = append(m.collections[collection], rec)
	sinks := m.sinksFor(collection)
	m.mu.Unlock()

	m.notify(sinks, adapter.ChangeInsert, collection, rec)
	return adapter.WriteResult{InsertedID: id}, nil
}

func (m *Memory) QueryMany(ctx context.Context, collection string, spec query.Spec) ([]adapter.Record, error) {
	spec, err := spec.Normalize()
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("query"); err != nil {
		return nil, err
	}

	var out []adapter.Record
	for _, r := range m.collections[collection] {
		if spec.Filter.Match(r) {
			out = append(out, r.Clone())
		}
	}
	sortRecords(out, spec.Order)

	if spec.Offset >= len(out) {
		return []adapter.Record{}, nil
	}
	out = out[spec.Offset:]
	if spec.Limit > 0 && spec.Limit < len(out) {
		out = out[:spec.Limit]
	}
	if len(spec.Fields) > 0 {
		for i, r := range out {
			p := adapter.Record{adapter.IDField: r[adapter.IDField]}
			for _, f := range spec.Fields {
				if v, ok := r[f]; ok {
					p[f] = v
				}
			}
			out[i] = p
		}
	}
	return out, nil
}

func (m *Memory) Count(ctx context.Context, collection string, filter query.FilterSet) (int64, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("count"); err != nil {
		return 0, err
	}
	var n int64
	for _, r := range m.collections[collection] {
		if filter.Match(r) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Update(ctx context.Context, collection string, filter query.FilterSet, patch adapter.Record) (adapter.WriteResult, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return adapter.WriteResult{}, err
	}
	m.mu.Lock()
	if err := m.begin("update"); err != nil {
		m.mu.Unlock()
		return adapter.WriteResult{}, err
	}
	var changed []adapter.Record
	for _, r := range m.collections[collection] {
		if !filter.Match(r) {
			continue
		}
		for k, v := range patch {
			if k != adapter.IDField {
				r[k] = v
			}
		}
		changed = append(changed, r.Clone())
	}
	sinks := m.sinksFor(collection)
	m.mu.Unlock()

	for _, r := range changed {
		m.notify(sinks, adapter.ChangeUpdate, collection, r)
	}
	return adapter.WriteResult{Affected: int64(len(changed))}, nil
}

func (m *Memory) Delete(ctx context.Context, collection string, filter query.FilterSet) (adapter.WriteResult, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return adapter.WriteResult{}, err
	}
	m.mu.Lock()
	if err := m.begin("delete"); err != nil {
		m.mu.Unlock()
		return adapter.WriteResult{}, err
	}
	var kept, removed []adapter.Record
	for _, r := range m.collections[collection] {
		if filter.Match(r) {
			removed = append(removed, r)
		} else {
			kept = append(kept, r)
		}
	}
	m.collections[collection] = kept
	sinks := m.sinksFor(collection)
	m.mu.Unlock()

	for _, r := range removed {
		m.notify(sinks, adapter.ChangeDelete, collection, adapter.Record{adapter.IDField: r[adapter.IDField]})
	}
	return adapter.WriteResult{Affected: int64(len(removed))}, nil
}

// Subscribe delivers changes synchronously from the writing goroutine.
func (m *Memory) Subscribe(ctx context.Context, collection string, filter query.FilterSet, sink adapter.Sink) (adapter.Listener, error) {
	if !m.Capabilities().SupportsPush {
		return adapter.UnsupportedSubscriber{DBType: m.dbType}.Subscribe(ctx, collection, filter, sink)
	}
	filter, err := filter.Normalize()
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("subscribe"); err != nil {
		return nil, err
	}
	m.nextSink++
	key := m.nextSink
	m.sinks[key] = memorySink{collection: collection, filter: filter, sink: sink}
	return adapter.ListenerFunc(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.sinks, key)
	}), nil
}

// Listeners reports the number of running listeners.
func (m *Memory) Listeners() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sinks)
}

// Emit pushes n to every listener on n.Collection, bypassing filters.
func (m *Memory) Emit(n adapter.Notification) {
	m.mu.Lock()
	sinks := m.sinksFor(n.Collection)
	m.mu.Unlock()
	for _, s := range sinks {
		s.sink(n)
	}
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.sinks = make(map[int]memorySink)
	return nil
}

func (m *Memory) sinksFor(collection string) []memorySink {
	var out []memorySink
	for _, s := range m.sinks {
		if s.collection == collection {
			out = append(out, s)
		}
	}
	return out
}

func (m *Memory) notify(sinks []memorySink, typ adapter.ChangeType, collection string, rec adapter.Record) {
	for _, s := range sinks {
		if typ != adapter.ChangeDelete && !s.filter.Match(rec) {
			continue
		}
		s.sink(adapter.Notification{
			Type:       typ,
			Collection: collection,
			DocumentID: rec.ID(),
			Payload:    rec.Clone(),
			Timestamp:  time.Now(),
		})
	}
}

func sortRecords(records []adapter.Record, order []query.Order) {
	if len(order) == 0 {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		for _, o := range order {
			a, b := records[i][o.Field], records[j][o.Field]
			c, ok := query.Compare(a, b)
			if !ok {
				// nulls first ascending
				switch {
				case a == nil && b != nil:
					c = -1
				case a != nil && b == nil:
					c = 1
				default:
					continue
				}
			}
			if c == 0 {
				continue
			}
			if o.Direction == query.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

type errDuplicate string

func (e errDuplicate) Error() string { return "duplicate id " + string(e) }
