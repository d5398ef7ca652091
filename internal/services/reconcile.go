package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tiin-vpn-bot/internal/logger"
)

// PaymentGateway is the polling side of the gateway; *YooKassaClient
// implements it.
type PaymentGateway interface {
	GetPayment(ctx context.Context, id string) (*GatewayPayment, error)
}

// ReconcilePendingPayments sweeps payments that have been pending for longer
// than minAge, asks the gateway for their real status and replays it through
// the same state machine the webhook uses. Lost webhooks are the only reason
// a settled payment would still be pending here, and the machine's dedup
// gate makes the replay safe even if the webhook races the sweep.
func ReconcilePendingPayments(ctx context.Context, machine *PaymentMachine, gw PaymentGateway, minAge time.Duration) {
	cutoff := nowFunc().Add(-minAge)
	pending, err := machine.Store.PendingPaymentsBefore(cutoff)
	if err != nil {
		logger.Error("reconcile: listing pending payments failed", zap.Error(err))
		return
	}
	if len(pending) == 0 {
		return
	}
	logger.Info("reconciling stale pending payments", zap.Int("count", len(pending)))

	for _, pay := range pending {
		gp, err := gw.GetPayment(ctx, pay.YooKassaID)
		if err != nil {
			logger.Warn("reconcile: gateway poll failed",
				zap.String("payment_id", pay.YooKassaID), zap.Error(err))
			continue
		}
		outcome, err := machine.ApplyGatewayStatus(ctx, pay.YooKassaID, gp.Status, gp.Metadata)
		if err != nil {
			logger.Error("reconcile: state machine storage fault",
				zap.String("payment_id", pay.YooKassaID), zap.Error(err))
			continue
		}
		if outcome != OutcomeNoChange {
			logger.Info("reconciled payment",
				zap.String("payment_id", pay.YooKassaID), zap.String("outcome", outcome))
		}
	}
}
