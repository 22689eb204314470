package store

import (
	"encoding/json"
	"testing"
)

func TestTopLevelStrings(t *testing.T) {
	data := []byte(`{"status":"Open","offer_price":50,"accepted_by":"","nested":{"status":"x"}}`)

	got, err := topLevelStrings(data, []string{"status", "offer_price", "missing", "accepted_by"})
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if got["status"] != "Open" {
		t.Errorf("expected status Open, got %q", got["status"])
	}
	// Non-string and absent fields are skipped, not errors.
	if _, ok := got["offer_price"]; ok {
		t.Error("expected numeric field to be skipped")
	}
	if _, ok := got["missing"]; ok {
		t.Error("expected absent field to be skipped")
	}
	// Empty strings are still index values.
	if v, ok := got["accepted_by"]; !ok || v != "" {
		t.Errorf("expected empty string value, got %q ok=%v", v, ok)
	}

	if _, err := topLevelStrings([]byte("not json"), []string{"status"}); err == nil {
		t.Error("expected error for malformed document")
	}
}

func TestSubscription_DeliverCoalesces(t *testing.T) {
	sub := NewSubscription(nil)

	first := Snapshot{"a": json.RawMessage(`1`)}
	second := Snapshot{"a": json.RawMessage(`2`)}
	third := Snapshot{"a": json.RawMessage(`3`)}

	// Nobody is reading: only the newest snapshot survives.
	sub.Deliver(first)
	sub.Deliver(second)
	sub.Deliver(third)

	select {
	case snap := <-sub.Snapshots():
		if string(snap["a"]) != "3" {
			t.Errorf("expected latest snapshot, got %s", snap["a"])
		}
	default:
		t.Fatal("expected a pending snapshot")
	}

	select {
	case snap := <-sub.Snapshots():
		t.Errorf("expected no further snapshots, got %v", snap)
	default:
	}
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	closed := 0
	sub := NewSubscription(func() { closed++ })

	sub.Close()
	sub.Close()

	if closed != 1 {
		t.Errorf("expected closeFn to run once, ran %d times", closed)
	}
	select {
	case <-sub.Done():
	default:
		t.Error("expected Done to be closed")
	}

	// Delivery after close is a silent no-op.
	sub.Deliver(Snapshot{})
	select {
	case <-sub.Snapshots():
		t.Error("expected no delivery after close")
	default:
	}
}
