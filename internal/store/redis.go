package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	docKeyPrefix   = "doc:"
	indexKeyPrefix = "idx:"
	channelPrefix  = "store:"
	deleteEventKey = "*" // published when a whole node is cleared
)

// RedisStore implements Store on a Redis backend. Each node is a hash of
// key -> JSON document; change notifications fan out over pub/sub; the
// single-predicate query is served by index sets maintained on every write.
type RedisStore struct {
	client  *redis.Client
	indexes map[string][]string // node -> indexed top-level JSON fields
}

var _ Store = (*RedisStore)(nil)

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithIndex registers an equality index on a top-level JSON field of a
// node. Queries are only served for registered fields.
func WithIndex(node, field string) RedisOption {
	return func(s *RedisStore) {
		s.indexes[node] = append(s.indexes[node], field)
	}
}

// NewRedisStore creates a Redis-backed store adapter.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:  client,
		indexes: make(map[string][]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func docKey(node string) string { return docKeyPrefix + node }

func indexKey(node, field, value string) string {
	return fmt.Sprintf("%s%s:%s:%s", indexKeyPrefix, node, field, value)
}

func channelFor(node string) string { return channelPrefix + node }

// Put overwrites the document at node/key and maintains index sets for the
// node's registered fields. The read-update-publish sequence is not atomic;
// the design accepts last-write-wins on the whole record.
func (s *RedisStore) Put(ctx context.Context, node, key string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", node, key, err)
	}

	if fields := s.indexes[node]; len(fields) > 0 {
		if err := s.reindex(ctx, node, key, data, fields); err != nil {
			return err
		}
	}

	if err := s.client.HSet(ctx, docKey(node), key, data).Err(); err != nil {
		return fmt.Errorf("%w: put %s/%s: %v", ErrUnavailable, node, key, err)
	}
	if err := s.client.Publish(ctx, channelFor(node), key).Err(); err != nil {
		return fmt.Errorf("%w: notify %s: %v", ErrUnavailable, node, err)
	}
	return nil
}

// reindex moves the key between index sets when an indexed field changes.
func (s *RedisStore) reindex(ctx context.Context, node, key string, data []byte, fields []string) error {
	newVals, err := topLevelStrings(data, fields)
	if err != nil {
		return fmt.Errorf("%w: %s/%s: %v", ErrInvalidDocument, node, key, err)
	}

	old, err := s.client.HGet(ctx, docKey(node), key).Bytes()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("%w: read %s/%s for reindex: %v", ErrUnavailable, node, key, err)
	}
	var oldVals map[string]string
	if len(old) > 0 {
		// A previously stored document that no longer decodes is dropped
		// from the indexes rather than failing the write.
		oldVals, _ = topLevelStrings(old, fields)
	}

	for _, field := range fields {
		oldVal, hadOld := oldVals[field]
		newVal, hasNew := newVals[field]
		if hadOld && (!hasNew || oldVal != newVal) {
			if err := s.client.SRem(ctx, indexKey(node, field, oldVal), key).Err(); err != nil {
				return fmt.Errorf("%w: reindex %s/%s: %v", ErrUnavailable, node, key, err)
			}
		}
		if hasNew {
			if err := s.client.SAdd(ctx, indexKey(node, field, newVal), key).Err(); err != nil {
				return fmt.Errorf("%w: reindex %s/%s: %v", ErrUnavailable, node, key, err)
			}
		}
	}
	return nil
}

// topLevelStrings extracts the string values of the named top-level fields.
func topLevelStrings(data []byte, fields []string) (map[string]string, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(fields))
	for _, field := range fields {
		raw, ok := m[field]
		if !ok {
			continue
		}
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			// Non-string indexed value; skip rather than fail the write.
			continue
		}
		out[field] = v
	}
	return out, nil
}

// Get reads the document at node/key into out.
func (s *RedisStore) Get(ctx context.Context, node, key string, out any) (bool, error) {
	data, err := s.client.HGet(ctx, docKey(node), key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: get %s/%s: %v", ErrUnavailable, node, key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("%w: %s/%s: %v", ErrInvalidDocument, node, key, err)
	}
	return true, nil
}

// GetNode reads every document under a node.
func (s *RedisStore) GetNode(ctx context.Context, node string) (Snapshot, error) {
	all, err := s.client.HGetAll(ctx, docKey(node)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: read node %s: %v", ErrUnavailable, node, err)
	}
	snap := make(Snapshot, len(all))
	for key, data := range all {
		snap[key] = json.RawMessage(data)
	}
	return snap, nil
}

// Query returns the documents whose indexed field equals value.
func (s *RedisStore) Query(ctx context.Context, node, field, value string) (Snapshot, error) {
	if !s.indexed(node, field) {
		return nil, fmt.Errorf("%w: %s.%s", ErrNotIndexed, node, field)
	}
	keys, err := s.client.SMembers(ctx, indexKey(node, field, value)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: query %s.%s: %v", ErrUnavailable, node, field, err)
	}
	snap := make(Snapshot, len(keys))
	if len(keys) == 0 {
		return snap, nil
	}
	vals, err := s.client.HMGet(ctx, docKey(node), keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: query %s.%s: %v", ErrUnavailable, node, field, err)
	}
	for i, v := range vals {
		data, ok := v.(string)
		if !ok {
			continue // index member without a document; skip
		}
		snap[keys[i]] = json.RawMessage(data)
	}
	return snap, nil
}

func (s *RedisStore) indexed(node, field string) bool {
	for _, f := range s.indexes[node] {
		if f == field {
			return true
		}
	}
	return false
}

// Watch subscribes to the full contents of a node.
func (s *RedisStore) Watch(ctx context.Context, node string) (*Subscription, error) {
	return s.watch(ctx, node, func(ctx context.Context) (Snapshot, error) {
		return s.GetNode(ctx, node)
	}, nil)
}

// WatchKey subscribes to a single document within a node.
func (s *RedisStore) WatchKey(ctx context.Context, node, key string) (*Subscription, error) {
	load := func(ctx context.Context) (Snapshot, error) {
		data, err := s.client.HGet(ctx, docKey(node), key).Bytes()
		if err == redis.Nil {
			return Snapshot{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: get %s/%s: %v", ErrUnavailable, node, key, err)
		}
		return Snapshot{key: json.RawMessage(data)}, nil
	}
	relevant := func(changedKey string) bool {
		return changedKey == key || changedKey == deleteEventKey
	}
	return s.watch(ctx, node, load, relevant)
}

// WatchQuery subscribes to the equality-filtered view of a node.
func (s *RedisStore) WatchQuery(ctx context.Context, node, field, value string) (*Subscription, error) {
	if !s.indexed(node, field) {
		return nil, fmt.Errorf("%w: %s.%s", ErrNotIndexed, node, field)
	}
	return s.watch(ctx, node, func(ctx context.Context) (Snapshot, error) {
		return s.Query(ctx, node, field, value)
	}, nil)
}

// watch wires a pub/sub listener to a snapshot loader. The initial snapshot
// is delivered immediately; afterwards every (relevant) change to the node
// triggers a reload. Snapshots arrive in the store's commit order for the
// node, coalesced when the consumer lags.
func (s *RedisStore) watch(ctx context.Context, node string, load func(context.Context) (Snapshot, error), relevant func(string) bool) (*Subscription, error) {
	pubsub := s.client.Subscribe(ctx, channelFor(node))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: watch %s: %v", ErrUnavailable, node, err)
	}

	sub := NewSubscription(func() { _ = pubsub.Close() })

	go func() {
		if snap, err := load(ctx); err == nil {
			sub.Deliver(snap)
		}
		msgs := pubsub.Channel()
		for {
			select {
			case <-sub.Done():
				return
			case <-ctx.Done():
				sub.Close()
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				if relevant != nil && !relevant(msg.Payload) {
					continue
				}
				snap, err := load(ctx)
				if err != nil {
					continue // transient store failure; next change retries
				}
				sub.Deliver(snap)
			}
		}
	}()

	return sub, nil
}

// DeleteNode removes every document and index under a node and notifies
// watchers. Intended for the administrative reset only.
func (s *RedisStore) DeleteNode(ctx context.Context, node string) error {
	if err := s.client.Del(ctx, docKey(node)).Err(); err != nil {
		return fmt.Errorf("%w: delete node %s: %v", ErrUnavailable, node, err)
	}

	// Drop the node's index sets.
	pattern := indexKeyPrefix + node + ":*"
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("%w: delete index %s: %v", ErrUnavailable, iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%w: scan indexes for %s: %v", ErrUnavailable, node, err)
	}

	if err := s.client.Publish(ctx, channelFor(node), deleteEventKey).Err(); err != nil {
		return fmt.Errorf("%w: notify %s: %v", ErrUnavailable, node, err)
	}
	return nil
}
