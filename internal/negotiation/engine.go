// Package negotiation implements the bilateral offer/accept state machine
// that converges two independent clients on a single price. Every mutation
// is a whole-record optimistic overwrite: the engine re-reads, applies the
// transition if still valid, and writes back, accepting the documented
// last-write-wins race window.
package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"taxi/internal/domain"
	"taxi/internal/history"
	"taxi/internal/ingest"
	"taxi/internal/observability"
	"taxi/internal/rating"
	"taxi/internal/store"
)

var (
	// ErrInvalidTransactionID is returned when a transaction ID is empty.
	ErrInvalidTransactionID = errors.New("invalid transaction id")

	// ErrInvalidPrice is returned when an offered price is not positive.
	ErrInvalidPrice = errors.New("invalid price")

	// ErrTransactionNotFound is returned when the transaction does not
	// exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrNotParticipant is returned when the acting actor is neither the
	// driver nor the customer of the transaction.
	ErrNotParticipant = errors.New("actor is not a transaction participant")

	// ErrNegotiationClosed is returned when acting on a Completed or
	// Cancelled transaction.
	ErrNegotiationClosed = errors.New("negotiation closed")

	// ErrNotAgreed is returned when completing a transaction whose price
	// has not been agreed.
	ErrNotAgreed = errors.New("price not agreed")
)

// Engine drives Transactions through the offer/accept protocol.
type Engine struct {
	store   store.Store
	log     *zap.Logger
	events  ingest.Publisher
	history history.Recorder
	ratings *rating.Aggregator
	now     func() time.Time
}

// NewEngine creates a negotiation engine. events and recorder may be nil;
// the aggregator is required for Complete.
func NewEngine(st store.Store, logger *zap.Logger, events ingest.Publisher, recorder history.Recorder, ratings *rating.Aggregator) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:   st,
		log:     logger,
		events:  events,
		history: recorder,
		ratings: ratings,
		now:     time.Now,
	}
}

// CreateTransaction upserts the whole transaction record by ID. The same
// primitive creates the record at claim time and applies every subsequent
// state change, because the substrate has no field-level patch with
// enforced preconditions.
func (e *Engine) CreateTransaction(ctx context.Context, tx domain.Transaction) error {
	if tx.TransactionID == "" {
		return ErrInvalidTransactionID
	}
	if tx.Status == "" {
		tx.Status = domain.TransactionNegotiating
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = e.now()
	}
	return e.store.Put(ctx, store.NodeTransactions, tx.TransactionID, tx)
}

// MakeOffer proposes a new price. The proposer's acceptance flag is set and
// the counterpart's is reset: a changed price invalidates any prior
// acceptance. An offer re-opens an Agreed negotiation but is rejected once
// the transaction is Completed or Cancelled.
func (e *Engine) MakeOffer(ctx context.Context, transactionID, proposerID string, price float64) error {
	if price <= 0 {
		return ErrInvalidPrice
	}

	tx, err := e.load(ctx, transactionID)
	if err != nil {
		return err
	}
	if tx.Status.Terminal() {
		return ErrNegotiationClosed
	}
	role, ok := tx.RoleOf(proposerID)
	if !ok {
		return ErrNotParticipant
	}

	tx.Price = price
	tx.Status = domain.TransactionNegotiating
	tx.DriverAcceptedPrice = role == domain.RoleDriver
	tx.CustomerAcceptedPrice = role == domain.RoleCustomer

	if err := e.store.Put(ctx, store.NodeTransactions, tx.TransactionID, tx); err != nil {
		return err
	}

	observability.Offers.Inc()
	e.publish(ctx, ingest.Event{Type: ingest.EventOfferMade, ActorID: proposerID, CallID: tx.CallID, TransactionID: tx.TransactionID, Price: price})
	return nil
}

// AcceptCurrentOffer marks the accepter's agreement with the current price,
// leaving the other flag untouched. When both flags are true the
// transaction becomes Agreed and the price freezes. Acceptance is
// idempotent within one price epoch: re-applying it cannot change the
// outcome. Accepting an already Agreed transaction is a no-op; accepting a
// Completed or Cancelled one is an error.
func (e *Engine) AcceptCurrentOffer(ctx context.Context, transactionID, accepterID string) error {
	tx, err := e.load(ctx, transactionID)
	if err != nil {
		return err
	}
	if tx.Status.Terminal() {
		return ErrNegotiationClosed
	}
	if tx.Status == domain.TransactionAgreed {
		return nil
	}
	role, ok := tx.RoleOf(accepterID)
	if !ok {
		return ErrNotParticipant
	}

	if role == domain.RoleDriver {
		tx.DriverAcceptedPrice = true
	} else {
		tx.CustomerAcceptedPrice = true
	}

	agreed := tx.BothAccepted()
	if agreed {
		tx.Status = domain.TransactionAgreed
	}

	if err := e.store.Put(ctx, store.NodeTransactions, tx.TransactionID, tx); err != nil {
		return err
	}

	if agreed {
		observability.Agreements.Inc()
		e.log.Info("price agreed",
			zap.String("transaction_id", tx.TransactionID),
			zap.String("call_id", tx.CallID),
			zap.Float64("price", tx.Price),
		)
		e.publish(ctx, ingest.Event{Type: ingest.EventDealAgreed, CallID: tx.CallID, TransactionID: tx.TransactionID, Price: tx.Price})
		e.recordHistory(ctx, tx)
	}
	return nil
}

// recordHistory writes the agreed-ride snapshot. Best-effort: a history
// failure never unwinds the agreement.
func (e *Engine) recordHistory(ctx context.Context, tx domain.Transaction) {
	if e.history == nil {
		return
	}

	rec := history.RideRecord{
		TransactionID:  tx.TransactionID,
		CustomerID:     tx.CustomerID,
		DriverID:       tx.DriverID,
		Price:          tx.Price,
		RecordedAt:     e.now(),
		OriginalCallID: tx.CallID,
	}
	if tx.CallID != "" {
		var call domain.Call
		if found, err := e.store.Get(ctx, store.NodeCalls, tx.CallID, &call); err == nil && found {
			rec.StartLat = call.PickupLat
			rec.StartLng = call.PickupLng
			rec.DestLat = call.DestLat
			rec.DestLng = call.DestLng
		}
	}

	if err := e.history.Record(ctx, rec); err != nil {
		e.log.Warn("ride history record failed", zap.String("transaction_id", tx.TransactionID), zap.Error(err))
	}
}

// TransactionWatch is a scoped point subscription on one transaction.
type TransactionWatch struct {
	sub *store.Subscription
	ch  chan *domain.Transaction
}

// Updates emits the transaction on every change; nil means the document is
// absent.
func (w *TransactionWatch) Updates() <-chan *domain.Transaction { return w.ch }

// Close stops the watch and releases the store listener.
func (w *TransactionWatch) Close() { w.sub.Close() }

// ObserveTransaction subscribes to one transaction, gated by the
// subscriber's active call: an inbound update whose call ID disagrees with
// scopeCallID is a scoping violation and is dropped and logged rather than
// applied. Pass an empty scopeCallID to disable the gate.
func (e *Engine) ObserveTransaction(ctx context.Context, transactionID, scopeCallID string) (*TransactionWatch, error) {
	if transactionID == "" {
		return nil, ErrInvalidTransactionID
	}

	sub, err := e.store.WatchKey(ctx, store.NodeTransactions, transactionID)
	if err != nil {
		return nil, err
	}

	watch := &TransactionWatch{
		sub: sub,
		ch:  make(chan *domain.Transaction, 1),
	}

	go func() {
		for {
			select {
			case <-sub.Done():
				return
			case snap := <-sub.Snapshots():
				raw, ok := snap[transactionID]
				if !ok {
					deliver(watch.ch, nil)
					continue
				}
				var tx domain.Transaction
				if err := json.Unmarshal(raw, &tx); err != nil {
					e.log.Warn("dropping undecodable transaction", zap.String("transaction_id", transactionID), zap.Error(err))
					continue
				}
				if scopeCallID != "" && tx.CallID != "" && tx.CallID != scopeCallID {
					observability.ScopeMismatches.Inc()
					e.log.Warn("dropping transaction update with mismatched call scope",
						zap.String("transaction_id", transactionID),
						zap.String("expected_call_id", scopeCallID),
						zap.String("got_call_id", tx.CallID),
					)
					continue
				}
				deliver(watch.ch, &tx)
			}
		}
	}()

	return watch, nil
}

// Cancel transitions the transaction to Cancelled from any non-terminal
// state. Idempotent: cancelling an absent or already-terminal transaction
// is a no-op.
func (e *Engine) Cancel(ctx context.Context, transactionID string) error {
	if transactionID == "" {
		return ErrInvalidTransactionID
	}

	var tx domain.Transaction
	found, err := e.store.Get(ctx, store.NodeTransactions, transactionID, &tx)
	if err != nil {
		return err
	}
	if !found || tx.Status.Terminal() {
		return nil
	}

	tx.Status = domain.TransactionCancelled
	return e.store.Put(ctx, store.NodeTransactions, tx.TransactionID, tx)
}

// Ratings carries each party's rating of the other for completion.
type Ratings struct {
	ByDriver   float64 // the driver's rating of the customer
	ByCustomer float64 // the customer's rating of the driver
}

// Complete records both ratings through the rating aggregator and then
// transitions the transaction to Completed. This is the terminal success
// path; it is rejected unless the price has been agreed.
func (e *Engine) Complete(ctx context.Context, transactionID string, ratings Ratings) error {
	tx, err := e.load(ctx, transactionID)
	if err != nil {
		return err
	}
	if tx.Status.Terminal() {
		return ErrNegotiationClosed
	}
	if tx.Status != domain.TransactionAgreed {
		return ErrNotAgreed
	}

	if _, err := e.ratings.SubmitRating(ctx, transactionID, domain.RoleDriver, ratings.ByDriver); err != nil {
		return err
	}
	if _, err := e.ratings.SubmitRating(ctx, transactionID, domain.RoleCustomer, ratings.ByCustomer); err != nil {
		return err
	}

	// Re-read: the aggregator wrote both ratings onto the record.
	tx, err = e.load(ctx, transactionID)
	if err != nil {
		return err
	}
	tx.Status = domain.TransactionCompleted
	if err := e.store.Put(ctx, store.NodeTransactions, tx.TransactionID, tx); err != nil {
		return err
	}

	e.publish(ctx, ingest.Event{Type: ingest.EventRideCompleted, CallID: tx.CallID, TransactionID: tx.TransactionID, Price: tx.Price})
	return nil
}

func (e *Engine) load(ctx context.Context, transactionID string) (domain.Transaction, error) {
	if transactionID == "" {
		return domain.Transaction{}, ErrInvalidTransactionID
	}
	var tx domain.Transaction
	found, err := e.store.Get(ctx, store.NodeTransactions, transactionID, &tx)
	if err != nil {
		return domain.Transaction{}, err
	}
	if !found {
		return domain.Transaction{}, ErrTransactionNotFound
	}
	return tx, nil
}

func (e *Engine) publish(ctx context.Context, ev ingest.Event) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, ev); err != nil {
		e.log.Warn("event publish failed", zap.String("type", ev.Type), zap.Error(err))
	}
}

// deliver pushes v into a capacity-1 channel, replacing any undelivered
// value.
func deliver(ch chan *domain.Transaction, v *domain.Transaction) {
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
