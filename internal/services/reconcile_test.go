package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"tiin-vpn-bot/internal/db"
)

type fakeGateway struct {
	statuses map[string]string
}

func (g *fakeGateway) GetPayment(ctx context.Context, id string) (*GatewayPayment, error) {
	status, ok := g.statuses[id]
	if !ok {
		return nil, errors.New("gateway: not found")
	}
	return &GatewayPayment{ID: id, Status: status, Metadata: awgMeta}, nil
}

func TestReconcileSettlesLostWebhook(t *testing.T) {
	machine, store, backend, _ := newTestMachine(nil)
	gw := &fakeGateway{statuses: map[string]string{"pay-1": "succeeded"}}

	ReconcilePendingPayments(context.Background(), machine, gw, 10*time.Minute)

	if status, _ := store.PaymentStatus("pay-1"); status != db.PaymentPaid {
		t.Errorf("status = %q, want paid", status)
	}
	if backend.calls != 1 {
		t.Errorf("backend calls = %d, want 1", backend.calls)
	}
}

func TestReconcileSkipsFreshAndSettled(t *testing.T) {
	machine, store, backend, _ := newTestMachine(nil)
	// A payment created moments ago must not be polled yet.
	store.CreatePayment(&db.Payment{
		YooKassaID: "pay-fresh",
		UserID:     1,
		Tariff:     "monthly_30d",
		Status:     db.PaymentPending,
		CreatedAt:  nowFunc(),
	})
	gw := &fakeGateway{statuses: map[string]string{
		"pay-1":     "canceled",
		"pay-fresh": "succeeded",
	}}

	ReconcilePendingPayments(context.Background(), machine, gw, 10*time.Minute)

	if status, _ := store.PaymentStatus("pay-1"); status != db.PaymentCanceled {
		t.Errorf("stale payment status = %q, want canceled", status)
	}
	if status, _ := store.PaymentStatus("pay-fresh"); status != db.PaymentPending {
		t.Errorf("fresh payment status = %q, want untouched pending", status)
	}
	if backend.calls != 0 {
		t.Errorf("backend calls = %d, want 0", backend.calls)
	}

	// Second sweep after settlement is a no-op.
	ReconcilePendingPayments(context.Background(), machine, gw, 10*time.Minute)
	if status, _ := store.PaymentStatus("pay-1"); status != db.PaymentCanceled {
		t.Errorf("settled payment flipped to %q", status)
	}
}

func TestReconcileToleratesGatewayErrors(t *testing.T) {
	machine, store, _, _ := newTestMachine(nil)
	gw := &fakeGateway{statuses: map[string]string{}} // every poll errors

	ReconcilePendingPayments(context.Background(), machine, gw, 10*time.Minute)

	if status, _ := store.PaymentStatus("pay-1"); status != db.PaymentPending {
		t.Errorf("status = %q, want pending", status)
	}
}
