package services

import (
	"context"
	"errors"
	"testing"

	"tiin-vpn-bot/internal/db"
)

var awgMeta = EventMeta{TgID: "100", Tariff: "monthly_30d", VPNType: "amneziawg"}

func TestApplyGatewayStatusPaid(t *testing.T) {
	machine, store, backend, _ := newTestMachine(nil)

	outcome, err := machine.ApplyGatewayStatus(context.Background(), "pay-1", "succeeded", awgMeta)
	if err != nil {
		t.Fatalf("ApplyGatewayStatus: %v", err)
	}
	if outcome != db.PaymentPaid {
		t.Fatalf("outcome = %q, want %q", outcome, db.PaymentPaid)
	}
	if status, _ := store.PaymentStatus("pay-1"); status != db.PaymentPaid {
		t.Errorf("stored status = %q, want paid", status)
	}
	if backend.calls != 1 {
		t.Errorf("backend calls = %d, want 1", backend.calls)
	}
	keys, _ := store.KeysByUser(1)
	if len(keys) != 1 {
		t.Fatalf("keys = %d, want 1", len(keys))
	}
	if keys[0].PaymentID == nil || *keys[0].PaymentID != "pay-1" {
		t.Errorf("key not linked to payment: %+v", keys[0])
	}
	user, _ := store.UserByID(1)
	if user.SubscriptionUntil == nil {
		t.Fatal("subscription not extended")
	}
}

func TestDuplicateEventProvisionsOnce(t *testing.T) {
	machine, store, backend, _ := newTestMachine(nil)
	ctx := context.Background()

	if _, err := machine.ApplyGatewayStatus(ctx, "pay-1", "succeeded", awgMeta); err != nil {
		t.Fatalf("first event: %v", err)
	}
	userBefore, _ := store.UserByID(1)
	untilBefore := *userBefore.SubscriptionUntil

	for i := 0; i < 3; i++ {
		outcome, err := machine.ApplyGatewayStatus(ctx, "pay-1", "succeeded", awgMeta)
		if err != nil {
			t.Fatalf("redelivery %d: %v", i, err)
		}
		if outcome != OutcomeDuplicate {
			t.Fatalf("redelivery %d outcome = %q, want duplicate", i, outcome)
		}
	}

	if backend.calls != 1 {
		t.Errorf("backend calls = %d, want exactly 1", backend.calls)
	}
	keys, _ := store.KeysByUser(1)
	if len(keys) != 1 {
		t.Errorf("keys = %d, want 1", len(keys))
	}
	userAfter, _ := store.UserByID(1)
	if !userAfter.SubscriptionUntil.Equal(untilBefore) {
		t.Errorf("subscription moved on duplicate: %v -> %v", untilBefore, userAfter.SubscriptionUntil)
	}
}

func TestPaidIsTerminal(t *testing.T) {
	machine, store, _, _ := newTestMachine(nil)
	ctx := context.Background()

	if _, err := machine.ApplyGatewayStatus(ctx, "pay-1", "succeeded", awgMeta); err != nil {
		t.Fatal(err)
	}
	outcome, err := machine.ApplyGatewayStatus(ctx, "pay-1", "canceled", awgMeta)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeDuplicate {
		t.Errorf("outcome = %q, want duplicate", outcome)
	}
	if status, _ := store.PaymentStatus("pay-1"); status != db.PaymentPaid {
		t.Errorf("paid regressed to %q", status)
	}
}

func TestCanceledEvent(t *testing.T) {
	machine, store, backend, bot := newTestMachine(nil)

	outcome, err := machine.ApplyGatewayStatus(context.Background(), "pay-1", "canceled", awgMeta)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != db.PaymentCanceled {
		t.Fatalf("outcome = %q, want canceled", outcome)
	}
	if status, _ := store.PaymentStatus("pay-1"); status != db.PaymentCanceled {
		t.Errorf("stored status = %q", status)
	}
	if backend.calls != 0 {
		t.Errorf("backend called on cancellation")
	}
	if bot.count() == 0 {
		t.Error("user not notified about cancellation")
	}
}

func TestFailedNormalizesToCanceled(t *testing.T) {
	machine, store, _, _ := newTestMachine(nil)
	if _, err := machine.ApplyGatewayStatus(context.Background(), "pay-1", "failed", awgMeta); err != nil {
		t.Fatal(err)
	}
	if status, _ := store.PaymentStatus("pay-1"); status != db.PaymentCanceled {
		t.Errorf("stored status = %q, want canceled", status)
	}
}

func TestUnknownPaymentIgnored(t *testing.T) {
	machine, store, backend, _ := newTestMachine(nil)

	outcome, err := machine.ApplyGatewayStatus(context.Background(), "no-such-payment", "succeeded", awgMeta)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeIgnored {
		t.Errorf("outcome = %q, want ignored", outcome)
	}
	if backend.calls != 0 {
		t.Error("backend called for unknown payment")
	}
	if status, _ := store.PaymentStatus("pay-1"); status != db.PaymentPending {
		t.Errorf("unrelated payment touched: %q", status)
	}
}

func TestUnknownStatusIsNoChange(t *testing.T) {
	machine, _, backend, _ := newTestMachine(nil)

	outcome, err := machine.ApplyGatewayStatus(context.Background(), "pay-1", "waiting_for_capture", awgMeta)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeNoChange {
		t.Errorf("outcome = %q, want no_change", outcome)
	}
	if backend.calls != 0 {
		t.Error("backend called for non-terminal status")
	}
}

func TestProvisionFailureLeavesPending(t *testing.T) {
	machine, store, backend, bot := newTestMachine(errors.New("panel down"))
	ctx := context.Background()

	outcome, err := machine.ApplyGatewayStatus(ctx, "pay-1", "succeeded", awgMeta)
	if err != nil {
		t.Fatalf("business failure must not surface as server error: %v", err)
	}
	if outcome != OutcomeProvisionFailed {
		t.Fatalf("outcome = %q, want provision_failed", outcome)
	}
	if status, _ := store.PaymentStatus("pay-1"); status != db.PaymentPending {
		t.Errorf("status = %q, want still pending", status)
	}
	if keys, _ := store.KeysByUser(1); len(keys) != 0 {
		t.Errorf("key persisted despite backend failure")
	}
	if bot.count() == 0 {
		t.Error("user not told about the failure")
	}

	// Backend recovers; a redelivery completes the payment.
	backend.err = nil
	outcome, err = machine.ApplyGatewayStatus(ctx, "pay-1", "succeeded", awgMeta)
	if err != nil || outcome != db.PaymentPaid {
		t.Fatalf("retry: outcome=%q err=%v", outcome, err)
	}
	if keys, _ := store.KeysByUser(1); len(keys) != 1 {
		t.Errorf("retry did not persist the key")
	}
}

func TestStorageFaultSurfaces(t *testing.T) {
	machine, store, _, _ := newTestMachine(nil)
	store.failSetStatus = true

	if _, err := machine.ApplyGatewayStatus(context.Background(), "pay-1", "canceled", awgMeta); err == nil {
		t.Fatal("expected storage error")
	}
}
