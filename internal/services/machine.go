package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"tiin-vpn-bot/internal/db"
	"tiin-vpn-bot/internal/logger"
	"tiin-vpn-bot/internal/vpn"
)

// Outcomes of one gateway event against the state machine.
const (
	OutcomeIgnored         = "ignored"    // unknown or unresolvable payment id
	OutcomeDuplicate       = "duplicate"  // payment already terminal
	OutcomeNoChange        = "no_change"  // normalized status equals stored status
	OutcomePaid            = "paid"
	OutcomeCanceled        = "canceled"
	OutcomeProvisionFailed = "provision_failed" // payment left pending for retry
)

// EventMeta is the untrusted-but-necessary metadata bag echoed back by the
// gateway. It selects the protocol and carries the chat id for fallback
// notifications; the authoritative user/tariff come from the stored payment.
type EventMeta struct {
	TgID    string `json:"tg_id"`
	Tariff  string `json:"tariff"`
	VPNType string `json:"vpn_type"`
}

// PaymentMachine is the idempotent core: it transitions a payment's status
// at most once and triggers provisioning exactly once per successful
// payment. The terminal-status check is the load-bearing dedup gate and
// always runs before any side effect.
type PaymentMachine struct {
	Store Store
	Prov  *Provisioner
	Bot   Messenger
}

// normalizeStatus folds the gateway's raw status into the 3-state enum.
func normalizeStatus(raw string) string {
	switch raw {
	case "succeeded":
		return db.PaymentPaid
	case "canceled", "failed":
		return db.PaymentCanceled
	default:
		return db.PaymentPending
	}
}

// ApplyGatewayStatus drives one payment through the state machine. A non-nil
// error means a storage fault the caller should surface as a server error;
// every business outcome (including a provisioning failure, which leaves the
// payment pending) returns nil so the gateway is acknowledged.
func (m *PaymentMachine) ApplyGatewayStatus(ctx context.Context, paymentID, rawStatus string, meta EventMeta) (string, error) {
	current, err := m.Store.PaymentStatus(paymentID)
	if err != nil {
		return "", fmt.Errorf("lookup payment %s: %w", paymentID, err)
	}
	if current == "" {
		logger.Warn("gateway event for unknown payment", zap.String("payment_id", paymentID))
		return OutcomeIgnored, nil
	}

	// Dedup gate: terminal statuses never transition again.
	if current == db.PaymentPaid || current == db.PaymentCanceled {
		logger.Info("duplicate gateway event ignored",
			zap.String("payment_id", paymentID), zap.String("status", current))
		return OutcomeDuplicate, nil
	}

	newStatus := normalizeStatus(rawStatus)
	if newStatus == current {
		return OutcomeNoChange, nil
	}

	// The row answered the status probe above, so absence here is a
	// data-consistency fault, not garbage input.
	pay, err := m.Store.PaymentByID(paymentID)
	if err != nil {
		logger.Error("payment row vanished after status check",
			zap.String("payment_id", paymentID), zap.Error(err))
		return "", fmt.Errorf("load payment %s: %w", paymentID, err)
	}

	if newStatus == db.PaymentPaid {
		protocol := vpn.Protocol(meta.VPNType)
		if protocol == "" {
			protocol = vpn.ProtocolAmneziaWG
		}
		if err := m.Prov.ProcessPaid(ctx, pay, protocol); err != nil {
			// Deliberately leave the payment pending so a redelivery or an
			// operator can reconcile; the user hears about it either way.
			logger.Error("provisioning failed, payment left pending",
				zap.String("payment_id", paymentID), zap.Error(err))
			if errors.Is(err, vpn.ErrCapacityExceeded) {
				logger.NotifyAdmin("Панель " + string(protocol) + " переполнена, платёж " + paymentID + " ждёт ручной обработки")
			}
			m.notifyStatus(pay, meta, "⚠️ Возникла ошибка при создании VPN конфига.\nПлатёж ID: "+paymentID+"\n\nОбратитесь в поддержку.")
			return OutcomeProvisionFailed, nil
		}
	}

	if err := m.Store.SetPaymentStatus(paymentID, newStatus); err != nil {
		return "", fmt.Errorf("persist status of payment %s: %w", paymentID, err)
	}
	logger.Info("payment status updated",
		zap.String("payment_id", paymentID), zap.String("status", newStatus))

	// The paid path already delivered the credential; only cancellation
	// warrants its own notice.
	if newStatus == db.PaymentCanceled {
		m.notifyStatus(pay, meta, "❌ Платёж не прошёл\n\n💳 ID платежа: "+paymentID+"\n\nПопробуйте ещё раз или обратитесь в поддержку.")
	}
	return newStatus, nil
}

// notifyStatus resolves the chat id from the stored payment, falling back
// to the metadata bag, and sends a best-effort message.
func (m *PaymentMachine) notifyStatus(pay *db.Payment, meta EventMeta, text string) {
	var chatID int64
	if user, err := m.Store.UserByID(pay.UserID); err == nil {
		chatID = user.TelegramID
	} else if id, perr := strconv.ParseInt(meta.TgID, 10, 64); perr == nil {
		chatID = id
	}
	sendText(m.Bot, chatID, text)
}
