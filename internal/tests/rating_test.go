package tests

import (
	"context"
	"errors"
	"testing"

	"taxi/internal/domain"
	"taxi/internal/rating"
	"taxi/internal/store"
)

func seedRatedTransaction(st *MemoryStore) {
	st.Seed(store.NodeTransactions, "tx-1", domain.Transaction{
		TransactionID: "tx-1",
		CallID:        "call-1",
		CustomerID:    "customer-1",
		DriverID:      "driver-1",
		Price:         50,
		Status:        domain.TransactionAgreed,
	})
}

func TestSubmitRating_Validation(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	seedRatedTransaction(st)
	agg := rating.NewAggregator(st, nil)

	if _, err := agg.SubmitRating(ctx, "tx-1", domain.RoleDriver, 0); !errors.Is(err, rating.ErrInvalidRating) {
		t.Errorf("expected ErrInvalidRating for 0, got %v", err)
	}
	if _, err := agg.SubmitRating(ctx, "tx-1", domain.RoleDriver, 6); !errors.Is(err, rating.ErrInvalidRating) {
		t.Errorf("expected ErrInvalidRating for 6, got %v", err)
	}
	if _, err := agg.SubmitRating(ctx, "tx-1", "Inspector", 4); !errors.Is(err, rating.ErrInvalidRaterRole) {
		t.Errorf("expected ErrInvalidRaterRole, got %v", err)
	}
	if _, err := agg.SubmitRating(ctx, "no-such-tx", domain.RoleDriver, 4); !errors.Is(err, rating.ErrTransactionNotFound) {
		t.Errorf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestSubmitRating_FoldsIntoAggregate(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	seedRatedTransaction(st)
	agg := rating.NewAggregator(st, nil)

	// First rating replaces the assumed 5.0 baseline outright.
	avg, err := agg.SubmitRating(ctx, "tx-1", domain.RoleDriver, 4)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if avg != 4.0 {
		t.Errorf("expected average 4.0 after first rating, got %v", avg)
	}

	st.Seed(store.NodeTransactions, "tx-2", domain.Transaction{
		TransactionID: "tx-2",
		CustomerID:    "customer-1",
		DriverID:      "driver-2",
		Status:        domain.TransactionAgreed,
	})
	avg, err = agg.SubmitRating(ctx, "tx-2", domain.RoleDriver, 2)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if avg != 3.0 {
		t.Errorf("expected average 3.0 after 4 and 2, got %v", avg)
	}

	var stored domain.RatingAggregate
	found, err := st.Get(ctx, store.NodeUsers, "customer-1/rating", &stored)
	if err != nil || !found {
		t.Fatalf("expected stored aggregate, found=%v err=%v", found, err)
	}
	if stored.Average != 3.0 || stored.Count != 2 {
		t.Errorf("expected {3.0, 2}, got %+v", stored)
	}
}

func TestSubmitRating_WritesOntoTransaction(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	seedRatedTransaction(st)
	agg := rating.NewAggregator(st, nil)

	if _, err := agg.SubmitRating(ctx, "tx-1", domain.RoleDriver, 4); err != nil {
		t.Fatalf("driver rates customer: %v", err)
	}
	if _, err := agg.SubmitRating(ctx, "tx-1", domain.RoleCustomer, 5); err != nil {
		t.Fatalf("customer rates driver: %v", err)
	}

	var tx domain.Transaction
	if _, err := st.Get(ctx, store.NodeTransactions, "tx-1", &tx); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if tx.CustomerRating != 4 || tx.DriverRating != 5 {
		t.Errorf("expected cust=4 drv=5 on the record, got cust=%v drv=%v", tx.CustomerRating, tx.DriverRating)
	}
}

func TestGetRating_DefaultsToFive(t *testing.T) {
	agg := rating.NewAggregator(NewMemoryStore(), nil)
	avg, err := agg.GetRating(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if avg != domain.DefaultRatingAverage {
		t.Errorf("expected default %v, got %v", domain.DefaultRatingAverage, avg)
	}
}

func TestAggregator_StoreUnavailable(t *testing.T) {
	st := NewMemoryStore()
	st.GetError = store.ErrUnavailable
	agg := rating.NewAggregator(st, nil)

	if _, err := agg.SubmitRating(context.Background(), "tx-1", domain.RoleDriver, 4); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}
