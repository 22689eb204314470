package tests

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"taxi/internal/history"
	"taxi/internal/ingest"
	"taxi/internal/store"
)

// ──────────────────────────────────────────────
// IN-MEMORY STORE
// ──────────────────────────────────────────────

type memoryWatcher struct {
	node   string
	sub    *store.Subscription
	filter func(store.Snapshot) store.Snapshot
}

// MemoryStore is an in-memory implementation of store.Store. Writes notify
// watchers synchronously with a full filtered snapshot, matching the
// delivery contract of the Redis-backed store.
type MemoryStore struct {
	mu       sync.RWMutex
	nodes    map[string]map[string]json.RawMessage
	watchers []*memoryWatcher

	// Counters for verification
	PutCallCount    int32
	GetCallCount    int32
	DeleteCallCount int32

	// Error injection
	PutError    error
	GetError    error
	QueryError  error
	WatchError  error
	DeleteError error
}

var _ store.Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[string]map[string]json.RawMessage),
	}
}

// Seed writes a document without notifying watchers. Test setup only.
func (m *MemoryStore) Seed(node, key string, doc any) {
	data, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nodes[node] == nil {
		m.nodes[node] = make(map[string]json.RawMessage)
	}
	m.nodes[node][key] = data
}

func (m *MemoryStore) Put(ctx context.Context, node, key string, doc any) error {
	atomic.AddInt32(&m.PutCallCount, 1)
	if m.PutError != nil {
		return m.PutError
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.nodes[node] == nil {
		m.nodes[node] = make(map[string]json.RawMessage)
	}
	m.nodes[node][key] = data
	m.mu.Unlock()

	m.notify(node)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, node, key string, out any) (bool, error) {
	atomic.AddInt32(&m.GetCallCount, 1)
	if m.GetError != nil {
		return false, m.GetError
	}

	m.mu.RLock()
	raw, ok := m.nodes[node][key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, store.ErrInvalidDocument
	}
	return true, nil
}

func (m *MemoryStore) GetNode(ctx context.Context, node string) (store.Snapshot, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked(node), nil
}

func (m *MemoryStore) Query(ctx context.Context, node, field, value string) (store.Snapshot, error) {
	if m.QueryError != nil {
		return nil, m.QueryError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterByField(m.snapshotLocked(node), field, value), nil
}

func (m *MemoryStore) Watch(ctx context.Context, node string) (*store.Subscription, error) {
	return m.watch(node, func(snap store.Snapshot) store.Snapshot { return snap })
}

func (m *MemoryStore) WatchKey(ctx context.Context, node, key string) (*store.Subscription, error) {
	return m.watch(node, func(snap store.Snapshot) store.Snapshot {
		out := store.Snapshot{}
		if raw, ok := snap[key]; ok {
			out[key] = raw
		}
		return out
	})
}

func (m *MemoryStore) WatchQuery(ctx context.Context, node, field, value string) (*store.Subscription, error) {
	return m.watch(node, func(snap store.Snapshot) store.Snapshot {
		return filterByField(snap, field, value)
	})
}

func (m *MemoryStore) DeleteNode(ctx context.Context, node string) error {
	atomic.AddInt32(&m.DeleteCallCount, 1)
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	delete(m.nodes, node)
	m.mu.Unlock()
	m.notify(node)
	return nil
}

func (m *MemoryStore) watch(node string, filter func(store.Snapshot) store.Snapshot) (*store.Subscription, error) {
	if m.WatchError != nil {
		return nil, m.WatchError
	}

	sub := store.NewSubscription(nil)
	w := &memoryWatcher{node: node, sub: sub, filter: filter}

	m.mu.Lock()
	m.watchers = append(m.watchers, w)
	initial := filter(m.snapshotLocked(node))
	m.mu.Unlock()

	sub.Deliver(initial)
	return sub, nil
}

// notify pushes the current node snapshot to every live watcher of that
// node and prunes closed ones.
func (m *MemoryStore) notify(node string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshotLocked(node)
	kept := m.watchers[:0]
	for _, w := range m.watchers {
		select {
		case <-w.sub.Done():
			continue
		default:
		}
		if w.node == node {
			w.sub.Deliver(w.filter(snap))
		}
		kept = append(kept, w)
	}
	m.watchers = kept
}

func (m *MemoryStore) snapshotLocked(node string) store.Snapshot {
	out := store.Snapshot{}
	for key, raw := range m.nodes[node] {
		out[key] = raw
	}
	return out
}

func filterByField(snap store.Snapshot, field, value string) store.Snapshot {
	out := store.Snapshot{}
	for key, raw := range snap {
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		var got string
		if err := json.Unmarshal(doc[field], &got); err != nil {
			continue
		}
		if got == value {
			out[key] = raw
		}
	}
	return out
}

// ──────────────────────────────────────────────
// CAPTURING EVENT PUBLISHER
// ──────────────────────────────────────────────

// CapturePublisher records every published event for test assertions.
type CapturePublisher struct {
	mu     sync.Mutex
	events []ingest.Event

	PublishCallCount int32
	PublishError     error
}

var _ ingest.Publisher = (*CapturePublisher)(nil)

// NewCapturePublisher creates a new capturing publisher.
func NewCapturePublisher() *CapturePublisher {
	return &CapturePublisher{}
}

func (p *CapturePublisher) Publish(ctx context.Context, ev ingest.Event) error {
	atomic.AddInt32(&p.PublishCallCount, 1)
	if p.PublishError != nil {
		return p.PublishError
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *CapturePublisher) Close() error { return nil }

// EventTypes returns the types of all captured events in publish order.
func (p *CapturePublisher) EventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, len(p.events))
	for i, ev := range p.events {
		types[i] = ev.Type
	}
	return types
}

// Events returns a copy of all captured events.
func (p *CapturePublisher) Events() []ingest.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ingest.Event(nil), p.events...)
}

// ──────────────────────────────────────────────
// IN-MEMORY RIDE HISTORY RECORDER
// ──────────────────────────────────────────────

// MemoryRecorder stores ride history records in memory.
type MemoryRecorder struct {
	mu      sync.Mutex
	records []history.RideRecord

	RecordCallCount int32
	RecordError     error
}

var _ history.Recorder = (*MemoryRecorder)(nil)

// NewMemoryRecorder creates a new in-memory ride history recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) Record(ctx context.Context, rec history.RideRecord) error {
	atomic.AddInt32(&r.RecordCallCount, 1)
	if r.RecordError != nil {
		return r.RecordError
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

// Records returns a copy of all recorded rides.
func (r *MemoryRecorder) Records() []history.RideRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]history.RideRecord(nil), r.records...)
}

// ──────────────────────────────────────────────
// TEST CLOCK
// ──────────────────────────────────────────────

// fixedClock returns a clock frozen at t.
func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
