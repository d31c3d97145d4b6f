package hybrid

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/redbco/redb-storage/pkg/adapter"
)

// Failure describes one secondary write that did not happen.
type Failure struct {
	Time       time.Time      `json:"time"`
	Backend    string         `json:"backend"`
	Operation  Operation      `json:"operation"`
	Collection string         `json:"collection"`
	DocumentID string         `json:"documentId,omitempty"`
	Filter     string         `json:"filter,omitempty"`
	Record     adapter.Record `json:"record,omitempty"`
	Error      string         `json:"error"`
	// Err is the *adapter.ReplicationError behind Error. It is not journaled.
	Err error `json:"-"`
}

// FailureRecorder keeps failed replications for later inspection. Nothing
// replays them.
type FailureRecorder interface {
	Record(ctx context.Context, f Failure) error
	// Recent returns up to n failures, newest first.
	Recent(ctx context.Context, n int) ([]Failure, error)
}

// Ring is an in-memory FailureRecorder holding the last size failures.
type Ring struct {
	mu    sync.Mutex
	buf   []Failure
	next  int
	count int
}

// NewRing creates a ring of the given capacity (minimum 1).
func NewRing(size int) *Ring {
	if size < 1 {
		size = 1
	}
	return &Ring{buf: make([]Failure, size)}
}

func (r *Ring) Record(_ context.Context, f Failure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = f
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
	return nil
}

func (r *Ring) Recent(_ context.Context, n int) ([]Failure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]Failure, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, r.buf[(r.next-i+len(r.buf))%len(r.buf)])
	}
	return out, nil
}

// RedisJournal appends failures to a capped Redis stream.
type RedisJournal struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// NewRedisJournal writes to stream, trimming it to maxLen entries when
// maxLen is positive.
func NewRedisJournal(client redis.UniversalClient, stream string, maxLen int64) *RedisJournal {
	return &RedisJournal{client: client, stream: stream, maxLen: maxLen}
}

func (j *RedisJournal) Record(ctx context.Context, f Failure) error {
	values := map[string]interface{}{
		"time":       f.Time.UTC().Format(time.RFC3339Nano),
		"backend":    f.Backend,
		"operation":  string(f.Operation),
		"collection": f.Collection,
		"documentId": f.DocumentID,
		"filter":     f.Filter,
		"error":      f.Error,
	}
	if f.Record != nil {
		data, err := json.Marshal(f.Record)
		if err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
		values["record"] = string(data)
	}

	err := j.client.XAdd(ctx, &redis.XAddArgs{
		Stream: j.stream,
		MaxLen: j.maxLen,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append to %s: %w", j.stream, err)
	}
	return nil
}

func (j *RedisJournal) Recent(ctx context.Context, n int) ([]Failure, error) {
	if n <= 0 {
		n = 100
	}
	msgs, err := j.client.XRevRangeN(ctx, j.stream, "+", "-", int64(n)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", j.stream, err)
	}
	out := make([]Failure, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, failureFromValues(msg.Values))
	}
	return out, nil
}

func failureFromValues(values map[string]interface{}) Failure {
	str := func(k string) string {
		s, _ := values[k].(string)
		return s
	}
	f := Failure{
		Backend:    str("backend"),
		Operation:  Operation(str("operation")),
		Collection: str("collection"),
		DocumentID: str("documentId"),
		Filter:     str("filter"),
		Error:      str("error"),
	}
	if t, err := time.Parse(time.RFC3339Nano, str("time")); err == nil {
		f.Time = t
	}
	if raw := str("record"); raw != "" {
		var rec adapter.Record
		if json.Unmarshal([]byte(raw), &rec) == nil {
			f.Record = rec
		}
	}
	return f
}

// StreamLength reports the number of journal entries.
func (j *RedisJournal) StreamLength(ctx context.Context) (int64, error) {
	n, err := j.client.XLen(ctx, j.stream).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read length of %s: %w", j.stream, err)
	}
	return n, nil
}
