package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taxi/internal/app"
	"taxi/internal/config"
	"taxi/internal/domain"
	"taxi/internal/logging"
	"taxi/internal/negotiation"
	"taxi/internal/rating"
	"taxi/internal/registry"
	"taxi/internal/store"
)

// The simulator plays one customer and one driver against a live Redis
// store: publish presence, open a call, claim it, haggle to an agreed
// price, complete the ride and exchange ratings. It exercises the same
// code paths real actor clients use.
func main() {
	cfg := config.Load()

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nil)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()

	sharedStore := store.NewRedisStore(redisClient, store.WithIndex(store.NodeCalls, "status"))
	presence := registry.NewPresenceRegistry(sharedStore, logger).WithLiveness(cfg.Engine.PresenceLiveness)
	calls := registry.NewCallRegistry(sharedStore, logger, nil).WithStaleness(cfg.Engine.CallStaleness)
	ratings := rating.NewAggregator(sharedStore, logger)
	engine := negotiation.NewEngine(sharedStore, logger, nil, nil, ratings)

	customerID := uuid.NewString()
	driverID := uuid.NewString()

	// Both actors go online.
	if err := presence.Publish(ctx, domain.PresenceRecord{
		ActorID:        customerID,
		Role:           domain.RoleCustomer,
		Latitude:       41.2995,
		Longitude:      69.2401,
		PassengerCount: 2,
		PaymentMethods: []domain.PaymentMethod{domain.PaymentMethodCash},
	}); err != nil {
		logger.Fatal("customer presence", zap.Error(err))
	}
	if err := presence.Publish(ctx, domain.PresenceRecord{
		ActorID:        driverID,
		Role:           domain.RoleDriver,
		Latitude:       41.3111,
		Longitude:      69.2797,
		AvailableSeats: 3,
		PaymentMethods: []domain.PaymentMethod{domain.PaymentMethodCash, domain.PaymentMethodClick},
	}); err != nil {
		logger.Fatal("driver presence", zap.Error(err))
	}

	// Customer requests a ride at 50.
	callID := uuid.NewString()
	call := domain.Call{
		CallID:         callID,
		InitiatorID:    customerID,
		PickupLat:      41.2995,
		PickupLng:      69.2401,
		DestLat:        41.3275,
		DestLng:        69.2817,
		PassengerCount: 2,
		OfferPrice:     50,
	}
	if err := calls.OpenCall(ctx, call); err != nil {
		logger.Fatal("open call", zap.Error(err))
	}
	logger.Info("call opened", zap.String("call_id", callID), zap.Float64("offer", call.OfferPrice))

	// The customer side runs concurrently: it watches its own call, and
	// once a driver claims, it follows the negotiation and accepts any
	// counter-offer at or below its ceiling.
	done := make(chan error, 1)
	go func() { done <- runCustomer(ctx, calls, engine, logger, customerID, callID, 60) }()

	// Driver side: find the open call and claim it.
	open, err := calls.OpenCallsSnapshot(ctx)
	if err != nil {
		logger.Fatal("list open calls", zap.Error(err))
	}
	var target *domain.Call
	for i := range open {
		if open[i].CallID == callID {
			target = &open[i]
			break
		}
	}
	if target == nil {
		logger.Fatal("call not visible to driver", zap.String("call_id", callID))
	}

	txID := uuid.NewString()
	won, err := calls.ClaimCall(ctx, callID, driverID, txID)
	if err != nil {
		logger.Fatal("claim call", zap.Error(err))
	}
	if !won {
		logger.Fatal("lost the claim race with nobody else running")
	}
	logger.Info("call claimed", zap.String("driver_id", driverID), zap.String("transaction_id", txID))

	// Opening the negotiation implicitly accepts the customer's price on
	// their behalf; the driver has not agreed yet.
	if err := engine.CreateTransaction(ctx, domain.Transaction{
		TransactionID:         txID,
		CallID:                callID,
		CustomerID:            customerID,
		DriverID:              driverID,
		Price:                 target.OfferPrice,
		CustomerAcceptedPrice: true,
		DriverAcceptedPrice:   false,
	}); err != nil {
		logger.Fatal("create transaction", zap.Error(err))
	}

	// Driver counters at 60, then accepts whatever the state settles on
	// after the customer reacts.
	if err := engine.MakeOffer(ctx, txID, driverID, 60); err != nil {
		logger.Fatal("driver counter-offer", zap.Error(err))
	}
	logger.Info("driver countered", zap.Float64("price", 60))

	watch, err := engine.ObserveTransaction(ctx, txID, callID)
	if err != nil {
		logger.Fatal("observe transaction", zap.Error(err))
	}
	defer watch.Close()

	agreed := false
	for !agreed {
		select {
		case <-ctx.Done():
			logger.Fatal("timed out waiting for agreement")
		case tx := <-watch.Updates():
			if tx == nil {
				continue
			}
			switch {
			case tx.Status == domain.TransactionAgreed:
				logger.Info("deal agreed", zap.Float64("price", tx.Price))
				agreed = true
			case tx.CustomerAcceptedPrice && !tx.DriverAcceptedPrice:
				if err := engine.AcceptCurrentOffer(ctx, txID, driverID); err != nil {
					logger.Fatal("driver accept", zap.Error(err))
				}
			}
		}
	}

	if err := <-done; err != nil {
		logger.Fatal("customer script failed", zap.Error(err))
	}

	// Ride over: both sides rate each other and the deal is closed out.
	if err := engine.Complete(ctx, txID, negotiation.Ratings{ByDriver: 5, ByCustomer: 4}); err != nil {
		logger.Fatal("complete", zap.Error(err))
	}
	if err := calls.CompleteCall(ctx, callID); err != nil {
		logger.Fatal("complete call", zap.Error(err))
	}

	custRating, _ := ratings.GetRating(ctx, customerID)
	drvRating, _ := ratings.GetRating(ctx, driverID)
	logger.Info("ride completed",
		zap.Float64("customer_rating", custRating),
		zap.Float64("driver_rating", drvRating),
	)
}

// runCustomer follows the call until a driver claims it, then tracks the
// negotiation and accepts the first counter-offer at or below ceiling.
func runCustomer(ctx context.Context, calls *registry.CallRegistry, engine *negotiation.Engine, logger *zap.Logger, customerID, callID string, ceiling float64) error {
	callWatch, err := calls.ObserveCall(ctx, callID)
	if err != nil {
		return err
	}
	defer callWatch.Close()

	var txID string
	for txID == "" {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-callWatch.Updates():
			if c != nil && c.Status == domain.CallStatusAccepted && c.TransactionID != "" {
				txID = c.TransactionID
				logger.Info("customer sees claim", zap.String("transaction_id", txID))
			}
		}
	}

	watch, err := engine.ObserveTransaction(ctx, txID, callID)
	if err != nil {
		return err
	}
	defer watch.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tx := <-watch.Updates():
			if tx == nil {
				continue
			}
			if tx.Status == domain.TransactionAgreed {
				return nil
			}
			if tx.DriverAcceptedPrice && !tx.CustomerAcceptedPrice {
				if tx.Price <= ceiling {
					logger.Info("customer accepts", zap.Float64("price", tx.Price))
					if err := engine.AcceptCurrentOffer(ctx, txID, customerID); err != nil {
						return err
					}
				} else {
					logger.Info("customer counters", zap.Float64("price", ceiling))
					if err := engine.MakeOffer(ctx, txID, customerID, ceiling); err != nil {
						return err
					}
				}
			}
		}
	}
}
