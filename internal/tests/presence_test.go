package tests

import (
	"context"
	"errors"
	"testing"
	"time"

	"taxi/internal/domain"
	"taxi/internal/geo"
	"taxi/internal/registry"
	"taxi/internal/store"
)

func TestPresencePublish_Validation(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewPresenceRegistry(NewMemoryStore(), nil)

	tests := []struct {
		name    string
		rec     domain.PresenceRecord
		wantErr error
	}{
		{
			name:    "missing actor id",
			rec:     domain.PresenceRecord{Role: domain.RoleDriver, Latitude: 41.3, Longitude: 69.2},
			wantErr: registry.ErrInvalidActorID,
		},
		{
			name:    "unknown role",
			rec:     domain.PresenceRecord{ActorID: "a1", Role: "Dispatcher", Latitude: 41.3, Longitude: 69.2},
			wantErr: registry.ErrInvalidRole,
		},
		{
			name:    "latitude out of range",
			rec:     domain.PresenceRecord{ActorID: "a1", Role: domain.RoleDriver, Latitude: 91, Longitude: 69.2},
			wantErr: registry.ErrInvalidLocation,
		},
		{
			name:    "negative seats",
			rec:     domain.PresenceRecord{ActorID: "a1", Role: domain.RoleDriver, Latitude: 41.3, Longitude: 69.2, AvailableSeats: -1},
			wantErr: registry.ErrInvalidSeats,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := reg.Publish(ctx, tt.rec); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestPresencePublish_StampsLastUpdated(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := registry.NewPresenceRegistry(st, nil).WithClock(fixedClock(now))

	rec := domain.PresenceRecord{
		ActorID:   "driver-1",
		Role:      domain.RoleDriver,
		Latitude:  41.3,
		Longitude: 69.2,
		// A stale client-side timestamp must be overwritten.
		LastUpdated: now.Add(-time.Hour),
	}
	if err := reg.Publish(ctx, rec); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	var stored domain.PresenceRecord
	found, err := st.Get(ctx, store.NodeLocations, "driver-1", &stored)
	if err != nil || !found {
		t.Fatalf("expected stored record, found=%v err=%v", found, err)
	}
	if !stored.LastUpdated.Equal(now) {
		t.Errorf("expected last_updated %v, got %v", now, stored.LastUpdated)
	}
}

func TestPresenceActive_FiltersStaleAndRole(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := registry.NewPresenceRegistry(st, nil).WithClock(fixedClock(now))

	st.Seed(store.NodeLocations, "driver-fresh", domain.PresenceRecord{
		ActorID: "driver-fresh", Role: domain.RoleDriver,
		Latitude: 41.3, Longitude: 69.2,
		LastUpdated: now.Add(-time.Minute),
	})
	st.Seed(store.NodeLocations, "driver-stale", domain.PresenceRecord{
		ActorID: "driver-stale", Role: domain.RoleDriver,
		Latitude: 41.3, Longitude: 69.2,
		LastUpdated: now.Add(-10 * time.Minute),
	})
	st.Seed(store.NodeLocations, "customer-fresh", domain.PresenceRecord{
		ActorID: "customer-fresh", Role: domain.RoleCustomer,
		Latitude: 41.3, Longitude: 69.2,
		LastUpdated: now.Add(-time.Minute),
	})

	records, err := reg.Active(ctx, domain.RoleDriver, nil)
	if err != nil {
		t.Fatalf("active failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].ActorID != "driver-fresh" {
		t.Errorf("expected driver-fresh, got %s", records[0].ActorID)
	}
}

func TestPresenceActive_RegionFilter(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := registry.NewPresenceRegistry(st, nil).WithClock(fixedClock(now))

	// Tashkent center and a driver roughly 270km away in Samarkand.
	st.Seed(store.NodeLocations, "driver-near", domain.PresenceRecord{
		ActorID: "driver-near", Role: domain.RoleDriver,
		Latitude: 41.3111, Longitude: 69.2797,
		LastUpdated: now,
	})
	st.Seed(store.NodeLocations, "driver-far", domain.PresenceRecord{
		ActorID: "driver-far", Role: domain.RoleDriver,
		Latitude: 39.6542, Longitude: 66.9597,
		LastUpdated: now,
	})

	region := &geo.Region{CenterLat: 41.2995, CenterLng: 69.2401, RadiusKm: 10}
	records, err := reg.Active(ctx, domain.RoleDriver, region)
	if err != nil {
		t.Fatalf("active failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].ActorID != "driver-near" {
		t.Errorf("expected driver-near, got %s", records[0].ActorID)
	}
}

func TestPresenceSubscribe_DeliversUpdates(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	reg := registry.NewPresenceRegistry(st, nil)

	stream, err := reg.Subscribe(ctx, domain.RoleDriver, nil)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer stream.Close()

	// Initial snapshot is empty.
	select {
	case records := <-stream.Updates():
		if len(records) != 0 {
			t.Fatalf("expected empty initial snapshot, got %d records", len(records))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for initial snapshot")
	}

	if err := reg.Publish(ctx, domain.PresenceRecord{
		ActorID: "driver-1", Role: domain.RoleDriver,
		Latitude: 41.3, Longitude: 69.2,
	}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case records := <-stream.Updates():
			if len(records) == 1 && records[0].ActorID == "driver-1" {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for presence update")
		}
	}
}

func TestPresenceSubscribe_InvalidRole(t *testing.T) {
	reg := registry.NewPresenceRegistry(NewMemoryStore(), nil)
	if _, err := reg.Subscribe(context.Background(), "Nobody", nil); !errors.Is(err, registry.ErrInvalidRole) {
		t.Errorf("expected ErrInvalidRole, got %v", err)
	}
}
