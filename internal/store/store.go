// Package store abstracts the key-addressed, eventually-consistent document
// store shared by every actor. The substrate offers point reads and writes,
// a single equality-predicate query, and push subscriptions that deliver a
// full node snapshot on every change. There are no multi-document
// transactions and no compare-and-swap; every correctness property is
// reconstructed above this layer.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// Well-known nodes of the shared document tree.
const (
	NodeLocations    = "locations"
	NodeCalls        = "calls"
	NodeTransactions = "transactions"
	NodeUsers        = "users"
)

var (
	// ErrUnavailable is returned when the store cannot be reached. The
	// operation is treated as not applied; every write in this design is a
	// whole-record overwrite and therefore safe to retry.
	ErrUnavailable = errors.New("store unavailable")

	// ErrNotIndexed is returned when an equality query names a field the
	// node has no index for.
	ErrNotIndexed = errors.New("field not indexed")

	// ErrInvalidDocument is returned when a stored document does not decode
	// into the expected shape.
	ErrInvalidDocument = errors.New("invalid document")
)

// Snapshot maps document keys within a node to their raw JSON contents.
type Snapshot map[string]json.RawMessage

// Store is the shared store adapter consumed by every registry.
type Store interface {
	// Put overwrites the whole document at node/key. Last write wins.
	Put(ctx context.Context, node, key string, doc any) error

	// Get reads the document at node/key into out. The second return value
	// reports whether the document exists; absence is not an error.
	Get(ctx context.Context, node, key string, out any) (bool, error)

	// GetNode reads every document under a node.
	GetNode(ctx context.Context, node string) (Snapshot, error)

	// Query returns the documents under node whose top-level field equals
	// value. This is the substrate's single supported predicate.
	Query(ctx context.Context, node, field, value string) (Snapshot, error)

	// Watch subscribes to a node; the full node snapshot is delivered on
	// every change, starting with the current contents.
	Watch(ctx context.Context, node string) (*Subscription, error)

	// WatchKey subscribes to a single document; snapshots contain at most
	// that one key, and an empty snapshot means the document is absent.
	WatchKey(ctx context.Context, node, key string) (*Subscription, error)

	// WatchQuery subscribes to the equality-filtered view of a node.
	WatchQuery(ctx context.Context, node, field, value string) (*Subscription, error)

	// DeleteNode removes every document under a node. Administrative use
	// only.
	DeleteNode(ctx context.Context, node string) error
}

// Subscription is the handle on a snapshot stream. Dropping the
// subscription via Close stops further deliveries deterministically and
// releases the underlying listener.
type Subscription struct {
	ch      chan Snapshot
	done    chan struct{}
	closeFn func()
	once    sync.Once
}

// NewSubscription creates a subscription handle. closeFn, if non-nil, is
// invoked exactly once when the subscription is closed.
func NewSubscription(closeFn func()) *Subscription {
	return &Subscription{
		ch:      make(chan Snapshot, 1),
		done:    make(chan struct{}),
		closeFn: closeFn,
	}
}

// Snapshots is the stream of node snapshots. Deliveries coalesce: if the
// consumer lags, intermediate snapshots are replaced by the latest one,
// which is safe because every snapshot is the full state.
func (s *Subscription) Snapshots() <-chan Snapshot { return s.ch }

// Done is closed when the subscription is closed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close stops the subscription. Idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.closeFn != nil {
			s.closeFn()
		}
	})
}

// Deliver offers a snapshot to the consumer without ever blocking the
// producer: a stale undelivered snapshot is replaced by the newer one.
func (s *Subscription) Deliver(snap Snapshot) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.ch <- snap:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- snap:
	default:
	}
}
