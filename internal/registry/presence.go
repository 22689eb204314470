// Package registry implements the presence and call registries on top of
// the shared store adapter. All filtering is read-side: the store retains
// stale records indefinitely, and every reader reconstructs the live view
// from full snapshots.
package registry

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"go.uber.org/zap"

	"taxi/internal/domain"
	"taxi/internal/geo"
	"taxi/internal/observability"
	"taxi/internal/store"
)

// Clock supplies the current time; overridable in tests.
type Clock func() time.Time

// PresenceRegistry publishes and reads actor location+capability records.
type PresenceRegistry struct {
	store    store.Store
	log      *zap.Logger
	now      Clock
	liveness time.Duration
}

// NewPresenceRegistry creates a presence registry with the default
// 5-minute liveness window.
func NewPresenceRegistry(st store.Store, logger *zap.Logger) *PresenceRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PresenceRegistry{
		store:    st,
		log:      logger,
		now:      time.Now,
		liveness: domain.PresenceLiveness,
	}
}

// WithClock overrides the registry's time source. Test hook.
func (r *PresenceRegistry) WithClock(c Clock) *PresenceRegistry {
	r.now = c
	return r
}

// WithLiveness overrides the liveness window.
func (r *PresenceRegistry) WithLiveness(d time.Duration) *PresenceRegistry {
	if d > 0 {
		r.liveness = d
	}
	return r
}

// Publish overwrites the caller's presence record. The record is stamped
// with the publish time; each actor owns exactly its own key, so the
// last-write-wins overwrite is safe.
func (r *PresenceRegistry) Publish(ctx context.Context, rec domain.PresenceRecord) error {
	if rec.ActorID == "" {
		return ErrInvalidActorID
	}
	if !rec.Role.Valid() {
		return ErrInvalidRole
	}
	if !validLocation(rec.Latitude, rec.Longitude) {
		return ErrInvalidLocation
	}
	if rec.AvailableSeats < 0 {
		return ErrInvalidSeats
	}

	rec.LastUpdated = r.now()
	if err := r.store.Put(ctx, store.NodeLocations, rec.ActorID, rec); err != nil {
		return err
	}
	observability.PresencePublishes.Inc()
	return nil
}

// PresenceStream is a live, restartable view of matching presence records.
type PresenceStream struct {
	sub *store.Subscription
	ch  chan []domain.PresenceRecord
}

// Updates emits the filtered presence set on every store change.
func (s *PresenceStream) Updates() <-chan []domain.PresenceRecord { return s.ch }

// Close stops the stream and releases the store listener.
func (s *PresenceStream) Close() { s.sub.Close() }

// Subscribe returns a stream of presence snapshots for the target role.
// Every emitted snapshot discards records of other roles, records outside
// the liveness window relative to receive time, and, when a region is
// given, records outside it. Absent or undecodable records are omitted,
// never surfaced as errors.
func (r *PresenceRegistry) Subscribe(ctx context.Context, targetRole domain.Role, region *geo.Region) (*PresenceStream, error) {
	if !targetRole.Valid() {
		return nil, ErrInvalidRole
	}

	sub, err := r.store.Watch(ctx, store.NodeLocations)
	if err != nil {
		return nil, err
	}

	stream := &PresenceStream{
		sub: sub,
		ch:  make(chan []domain.PresenceRecord, 1),
	}

	go func() {
		for {
			select {
			case <-sub.Done():
				return
			case snap := <-sub.Snapshots():
				offer(stream.ch, r.filterSnapshot(snap, targetRole, region))
			}
		}
	}()

	return stream, nil
}

// Active returns a one-shot filtered view of the presence node.
func (r *PresenceRegistry) Active(ctx context.Context, targetRole domain.Role, region *geo.Region) ([]domain.PresenceRecord, error) {
	if !targetRole.Valid() {
		return nil, ErrInvalidRole
	}
	snap, err := r.store.GetNode(ctx, store.NodeLocations)
	if err != nil {
		return nil, err
	}
	return r.filterSnapshot(snap, targetRole, region), nil
}

func (r *PresenceRegistry) filterSnapshot(snap store.Snapshot, targetRole domain.Role, region *geo.Region) []domain.PresenceRecord {
	now := r.now()
	out := make([]domain.PresenceRecord, 0, len(snap))
	for key, raw := range snap {
		var rec domain.PresenceRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			r.log.Warn("dropping undecodable presence record", zap.String("actor_id", key), zap.Error(err))
			continue
		}
		if rec.Role != targetRole {
			continue
		}
		if !rec.LiveAt(now, r.liveness) {
			continue
		}
		if region != nil && !region.Contains(rec.Latitude, rec.Longitude) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActorID < out[j].ActorID })
	return out
}

// offer pushes v into a capacity-1 channel, replacing any undelivered
// value. Snapshots are full state, so coalescing loses nothing.
func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
