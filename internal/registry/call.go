package registry

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"go.uber.org/zap"

	"taxi/internal/domain"
	"taxi/internal/ingest"
	"taxi/internal/observability"
	"taxi/internal/store"
)

// callStatusField is the indexed JSON field the store filters calls on.
const callStatusField = "status"

// CallRegistry manages the lifecycle of ride requests. Both the staleness
// filter on listings and the claim discipline live here; the store only
// contributes a single equality predicate.
type CallRegistry struct {
	store     store.Store
	log       *zap.Logger
	events    ingest.Publisher
	now       Clock
	staleness time.Duration
}

// NewCallRegistry creates a call registry with the default 12-hour
// staleness window. events may be nil.
func NewCallRegistry(st store.Store, logger *zap.Logger, events ingest.Publisher) *CallRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallRegistry{
		store:     st,
		log:       logger,
		events:    events,
		now:       time.Now,
		staleness: domain.CallStaleness,
	}
}

// WithClock overrides the registry's time source. Test hook.
func (r *CallRegistry) WithClock(c Clock) *CallRegistry {
	r.now = c
	return r
}

// WithStaleness overrides the staleness window.
func (r *CallRegistry) WithStaleness(d time.Duration) *CallRegistry {
	if d > 0 {
		r.staleness = d
	}
	return r
}

// OpenCall publishes a new Open call. Fails only on invalid input or store
// unavailability.
func (r *CallRegistry) OpenCall(ctx context.Context, call domain.Call) error {
	if call.CallID == "" {
		return ErrInvalidCallID
	}
	if call.InitiatorID == "" {
		return ErrInvalidActorID
	}
	if call.OfferPrice <= 0 {
		return ErrInvalidPrice
	}
	if call.PassengerCount <= 0 {
		return ErrInvalidPassengerCount
	}
	if !validLocation(call.PickupLat, call.PickupLng) {
		return ErrInvalidLocation
	}
	if call.Status != "" && call.Status != domain.CallStatusOpen {
		return ErrCallNotOpen
	}

	call.Status = domain.CallStatusOpen
	call.InitiatorRole = domain.RoleCustomer
	if call.CreatedAt.IsZero() {
		call.CreatedAt = r.now()
	}

	if err := r.store.Put(ctx, store.NodeCalls, call.CallID, call); err != nil {
		return err
	}
	observability.CallsOpened.Inc()
	r.publish(ctx, ingest.Event{Type: ingest.EventCallOpened, ActorID: call.InitiatorID, CallID: call.CallID, Price: call.OfferPrice})
	return nil
}

// CallStream is a live, restartable view of the open-call listing.
type CallStream struct {
	sub *store.Subscription
	ch  chan []domain.Call
}

// Updates emits the filtered open-call set on every store change.
func (s *CallStream) Updates() <-chan []domain.Call { return s.ch }

// Close stops the stream and releases the store listener.
func (s *CallStream) Close() { s.sub.Close() }

// ListOpenCalls subscribes to the store's Status=Open view and applies the
// staleness window client-side before emitting. The store keeps serving
// yesterday's calls; the window is what keeps them out of sight.
func (r *CallRegistry) ListOpenCalls(ctx context.Context) (*CallStream, error) {
	sub, err := r.store.WatchQuery(ctx, store.NodeCalls, callStatusField, string(domain.CallStatusOpen))
	if err != nil {
		return nil, err
	}

	stream := &CallStream{
		sub: sub,
		ch:  make(chan []domain.Call, 1),
	}

	go func() {
		for {
			select {
			case <-sub.Done():
				return
			case snap := <-sub.Snapshots():
				calls := r.filterOpen(snap)
				observability.OpenCalls.Set(float64(len(calls)))
				offer(stream.ch, calls)
			}
		}
	}()

	return stream, nil
}

// OpenCallsSnapshot returns a one-shot filtered open-call listing.
func (r *CallRegistry) OpenCallsSnapshot(ctx context.Context) ([]domain.Call, error) {
	snap, err := r.store.Query(ctx, store.NodeCalls, callStatusField, string(domain.CallStatusOpen))
	if err != nil {
		return nil, err
	}
	return r.filterOpen(snap), nil
}

func (r *CallRegistry) filterOpen(snap store.Snapshot) []domain.Call {
	now := r.now()
	out := make([]domain.Call, 0, len(snap))
	for key, raw := range snap {
		var call domain.Call
		if err := json.Unmarshal(raw, &call); err != nil {
			r.log.Warn("dropping undecodable call", zap.String("call_id", key), zap.Error(err))
			continue
		}
		if call.Status != domain.CallStatusOpen {
			continue
		}
		if call.StaleAt(now, r.staleness) {
			continue
		}
		out = append(out, call)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ClaimCall attempts to become the sole acceptor of an Open call. This is
// a read-then-conditionally-write, not an atomic compare-and-swap: two
// claimants racing within the read-write gap can both observe Open and both
// write, and the last write determines the stored acceptor. The next
// subscription update corrects the loser. Returns whether the claim was
// applied from this caller's point of view.
func (r *CallRegistry) ClaimCall(ctx context.Context, callID, claimantID, newTransactionID string) (bool, error) {
	if callID == "" {
		return false, ErrInvalidCallID
	}
	if claimantID == "" {
		return false, ErrInvalidActorID
	}

	var call domain.Call
	found, err := r.store.Get(ctx, store.NodeCalls, callID, &call)
	if err != nil {
		return false, err
	}
	if !found || call.Status != domain.CallStatusOpen {
		observability.Claims.WithLabelValues("lost").Inc()
		return false, nil
	}

	call.Status = domain.CallStatusAccepted
	call.AcceptedBy = claimantID
	call.TransactionID = newTransactionID
	if err := r.store.Put(ctx, store.NodeCalls, callID, call); err != nil {
		return false, err
	}

	observability.Claims.WithLabelValues("won").Inc()
	r.publish(ctx, ingest.Event{Type: ingest.EventCallClaimed, ActorID: claimantID, CallID: callID, TransactionID: newTransactionID})
	return true, nil
}

// CallWatch is a point subscription on one call.
type CallWatch struct {
	sub *store.Subscription
	ch  chan *domain.Call
}

// Updates emits the call on every change; nil means the document is absent.
func (w *CallWatch) Updates() <-chan *domain.Call { return w.ch }

// Close stops the watch and releases the store listener.
func (w *CallWatch) Close() { w.sub.Close() }

// ObserveCall subscribes to exactly one call, deliberately bypassing the
// open-call listing filter. Used once a flow has committed to a call ID.
func (r *CallRegistry) ObserveCall(ctx context.Context, callID string) (*CallWatch, error) {
	if callID == "" {
		return nil, ErrInvalidCallID
	}

	sub, err := r.store.WatchKey(ctx, store.NodeCalls, callID)
	if err != nil {
		return nil, err
	}

	watch := &CallWatch{
		sub: sub,
		ch:  make(chan *domain.Call, 1),
	}

	go func() {
		for {
			select {
			case <-sub.Done():
				return
			case snap := <-sub.Snapshots():
				raw, ok := snap[callID]
				if !ok {
					offer(watch.ch, (*domain.Call)(nil))
					continue
				}
				var call domain.Call
				if err := json.Unmarshal(raw, &call); err != nil {
					r.log.Warn("dropping undecodable call", zap.String("call_id", callID), zap.Error(err))
					continue
				}
				offer(watch.ch, &call)
			}
		}
	}()

	return watch, nil
}

// GetCall reads one call; absence yields (nil, nil).
func (r *CallRegistry) GetCall(ctx context.Context, callID string) (*domain.Call, error) {
	if callID == "" {
		return nil, ErrInvalidCallID
	}
	var call domain.Call
	found, err := r.store.Get(ctx, store.NodeCalls, callID, &call)
	if err != nil || !found {
		return nil, err
	}
	return &call, nil
}

// CancelCall transitions a call to Cancelled. Idempotent: cancelling an
// absent or already-terminal call is a no-op.
func (r *CallRegistry) CancelCall(ctx context.Context, callID string) error {
	if callID == "" {
		return ErrInvalidCallID
	}

	var call domain.Call
	found, err := r.store.Get(ctx, store.NodeCalls, callID, &call)
	if err != nil {
		return err
	}
	if !found || !call.Status.CanTransitionTo(domain.CallStatusCancelled) {
		return nil
	}

	call.Status = domain.CallStatusCancelled
	if err := r.store.Put(ctx, store.NodeCalls, callID, call); err != nil {
		return err
	}
	r.publish(ctx, ingest.Event{Type: ingest.EventCallCancelled, CallID: callID})
	return nil
}

// CompleteCall transitions an Accepted call to Completed. A no-op unless
// the state machine permits it.
func (r *CallRegistry) CompleteCall(ctx context.Context, callID string) error {
	if callID == "" {
		return ErrInvalidCallID
	}

	var call domain.Call
	found, err := r.store.Get(ctx, store.NodeCalls, callID, &call)
	if err != nil {
		return err
	}
	if !found || !call.Status.CanTransitionTo(domain.CallStatusCompleted) {
		return nil
	}

	call.Status = domain.CallStatusCompleted
	return r.store.Put(ctx, store.NodeCalls, callID, call)
}

// FindActiveCall scans for the caller's own in-flight, non-stale call:
// customers match as initiator, drivers as acceptor. Used to resume a
// session after a restart. Returns (nil, nil) when there is none.
func (r *CallRegistry) FindActiveCall(ctx context.Context, actorID string, role domain.Role) (*domain.Call, error) {
	if actorID == "" {
		return nil, ErrInvalidActorID
	}
	if !role.Valid() {
		return nil, ErrInvalidRole
	}

	snap, err := r.store.GetNode(ctx, store.NodeCalls)
	if err != nil {
		return nil, err
	}

	now := r.now()
	for key, raw := range snap {
		var call domain.Call
		if err := json.Unmarshal(raw, &call); err != nil {
			r.log.Warn("dropping undecodable call", zap.String("call_id", key), zap.Error(err))
			continue
		}
		mine := call.InitiatorID == actorID
		if role == domain.RoleDriver {
			mine = call.AcceptedBy == actorID
		}
		if mine && call.Active() && !call.StaleAt(now, r.staleness) {
			return &call, nil
		}
	}
	return nil, nil
}

func (r *CallRegistry) publish(ctx context.Context, ev ingest.Event) {
	if r.events == nil {
		return
	}
	if err := r.events.Publish(ctx, ev); err != nil {
		r.log.Warn("event publish failed", zap.String("type", ev.Type), zap.Error(err))
	}
}
