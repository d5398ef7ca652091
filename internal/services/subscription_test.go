package services

import (
	"context"
	"testing"
	"time"

	"tiin-vpn-bot/internal/tariffs"
)

func TestExtendSubscriptionStacks(t *testing.T) {
	store := newFakeStore()
	user, _ := store.GetOrCreateUser(42)
	monthly, _ := tariffs.Get("monthly_30d")
	settled := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// No subscription yet: starts from the settlement time.
	until, err := ExtendSubscription(store, user, monthly, settled)
	if err != nil {
		t.Fatal(err)
	}
	if want := settled.AddDate(0, 0, 30); !until.Equal(want) {
		t.Fatalf("first extension = %v, want %v", until, want)
	}

	// Renewing while active stacks on the current end, not on now.
	until2, err := ExtendSubscription(store, user, monthly, settled.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if want := until.AddDate(0, 0, 30); !until2.Equal(want) {
		t.Fatalf("stacked extension = %v, want %v", until2, want)
	}

	// Monotonic: every extension moves the end forward.
	if !until2.After(until) {
		t.Error("extension did not move subscription forward")
	}
}

func TestExtendSubscriptionAfterLapse(t *testing.T) {
	store := newFakeStore()
	user, _ := store.GetOrCreateUser(43)
	weekly, _ := tariffs.Get("weekly_7d")

	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	user.SubscriptionUntil = &old
	store.SetSubscriptionUntil(user.ID, old)

	settled := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	until, err := ExtendSubscription(store, user, weekly, settled)
	if err != nil {
		t.Fatal(err)
	}
	// Expired subscriptions restart from settlement, no credit for the gap.
	if want := settled.AddDate(0, 0, 7); !until.Equal(want) {
		t.Fatalf("post-lapse extension = %v, want %v", until, want)
	}

	stored, _ := store.UserByID(user.ID)
	if stored.SubscriptionUntil == nil || !stored.SubscriptionUntil.Equal(until) {
		t.Error("extension not persisted")
	}
}

func TestTrialProvisionOncePerProtocol(t *testing.T) {
	// Covered here rather than in a separate file since it rides the same
	// fakes.
	machine, store, backend, _ := newTestMachine(nil)
	prov := machine.Prov
	ctx := context.Background()

	if err := prov.ProvisionTrial(ctx, 100, backend.protocol); err != nil {
		t.Fatalf("first trial: %v", err)
	}
	if err := prov.ProvisionTrial(ctx, 100, backend.protocol); err == nil {
		t.Fatal("second trial allowed")
	}
	if backend.calls != 1 {
		t.Errorf("backend calls = %d, want 1", backend.calls)
	}
	keys, _ := store.KeysByUser(1)
	if len(keys) != 1 {
		t.Fatalf("keys = %d, want 1", len(keys))
	}
	if keys[0].PaymentID != nil {
		t.Error("trial key should not reference a payment")
	}
}
