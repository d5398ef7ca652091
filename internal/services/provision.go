package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tiin-vpn-bot/internal/db"
	"tiin-vpn-bot/internal/logger"
	"tiin-vpn-bot/internal/tariffs"
	"tiin-vpn-bot/internal/vpn"
)

// ErrTrialAlreadyUsed is returned when a user requests a second trial for
// the same protocol family.
var ErrTrialAlreadyUsed = errors.New("trial already activated for this protocol")

// Provisioner turns a settled payment (or a trial request) into exactly one
// usable credential: ledger extension, backend call, key persistence,
// delivery — in that order, so the worst partial failure is an extended
// subscription without a key yet, which a retry repairs.
type Provisioner struct {
	Store    Store
	Backends map[vpn.Protocol]vpn.Backend
	Bot      Messenger
}

// clientName derives a deterministic backend client name from the user and
// payment, so re-running the same payment is traceable and upsert-friendly.
func clientName(telegramID int64, paymentID string) string {
	prefix := paymentID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("tg_%d_%s", telegramID, prefix)
}

// ProcessPaid runs the provisioning sequence for a pending→paid transition.
// Any error leaves the payment untouched (still pending) for the caller.
func (p *Provisioner) ProcessPaid(ctx context.Context, pay *db.Payment, protocol vpn.Protocol) error {
	tariff, ok := tariffs.Get(pay.Tariff)
	if !ok {
		return fmt.Errorf("unknown tariff %q on payment %s", pay.Tariff, pay.YooKassaID)
	}
	backend, ok := p.Backends[protocol]
	if !ok {
		return fmt.Errorf("no backend for protocol %q on payment %s", protocol, pay.YooKassaID)
	}
	user, err := p.Store.UserByID(pay.UserID)
	if err != nil {
		return fmt.Errorf("load user %d: %w", pay.UserID, err)
	}

	// 1. Ledger first: the computed expiry is embedded into the credential.
	until, err := ExtendSubscription(p.Store, user, tariff, pay.CreatedAt)
	if err != nil {
		return fmt.Errorf("extend subscription: %w", err)
	}

	// 2-3. Backend call. Capacity exhaustion is surfaced as-is so the
	// operator alert can name it.
	cred, err := backend.Provision(ctx, vpn.ProvisionRequest{
		Name:        clientName(user.TelegramID, pay.YooKassaID),
		TelegramID:  user.TelegramID,
		ExpiresAt:   until,
		Extension:   tariff.Duration(),
		DeviceLimit: tariff.DeviceLimit,
	})
	if err != nil {
		return fmt.Errorf("provision %s client: %w", protocol, err)
	}

	// 4. Persist, upserting on (user, backend client id).
	paymentID := pay.YooKassaID
	key := &db.VPNKey{
		UserID:          user.ID,
		PaymentID:       &paymentID,
		ClientID:        cred.ClientID,
		ClientName:      cred.ClientName,
		ClientIP:        cred.Address,
		ClientPublicKey: cred.PublicKey,
		Config:          cred.Config,
		ExpiresAt:       cred.ExpiresAt,
		Protocol:        string(cred.Protocol),
	}
	if err := p.Store.UpsertVPNKey(key); err != nil {
		return fmt.Errorf("persist vpn key: %w", err)
	}

	// 5. Delivery is best-effort: the credential is already valid and
	// retrievable via the configs listing.
	if err := DeliverCredential(p.Bot, user.TelegramID, cred, tariff); err != nil {
		logger.Error("credential delivery failed",
			zap.String("payment_id", pay.YooKassaID),
			zap.Int64("telegram_id", user.TelegramID),
			zap.Error(err))
		p.notifySupport(user.TelegramID)
	}
	return nil
}

// ProvisionTrial issues the free 24h credential, at most once per protocol
// per user.
func (p *Provisioner) ProvisionTrial(ctx context.Context, telegramID int64, protocol vpn.Protocol) error {
	backend, ok := p.Backends[protocol]
	if !ok {
		return fmt.Errorf("no backend for protocol %q", protocol)
	}
	user, err := p.Store.GetOrCreateUser(telegramID)
	if err != nil {
		return err
	}
	if protocol == vpn.ProtocolAmneziaWG && user.AWGTrialActivated ||
		protocol == vpn.ProtocolVLESS && user.VLESSTrialActivated {
		return ErrTrialAlreadyUsed
	}

	trial := tariffs.TrialTariff()
	name := fmt.Sprintf("test-%d-%s", telegramID, uuid.NewString()[:8])
	cred, err := backend.Provision(ctx, vpn.ProvisionRequest{
		Name:        name,
		TelegramID:  telegramID,
		ExpiresAt:   nowFunc().Add(trial.Duration()),
		Extension:   trial.Duration(),
		DeviceLimit: trial.DeviceLimit,
	})
	if err != nil {
		return fmt.Errorf("provision trial %s client: %w", protocol, err)
	}

	key := &db.VPNKey{
		UserID:          user.ID,
		ClientID:        cred.ClientID,
		ClientName:      cred.ClientName,
		ClientIP:        cred.Address,
		ClientPublicKey: cred.PublicKey,
		Config:          cred.Config,
		ExpiresAt:       cred.ExpiresAt,
		Protocol:        string(cred.Protocol),
	}
	if err := p.Store.UpsertVPNKey(key); err != nil {
		return fmt.Errorf("persist trial key: %w", err)
	}
	if err := p.Store.SetTrialActivated(user.ID, string(protocol)); err != nil {
		return fmt.Errorf("mark trial activated: %w", err)
	}

	if err := DeliverCredential(p.Bot, telegramID, cred, trial); err != nil {
		logger.Error("trial delivery failed", zap.Int64("telegram_id", telegramID), zap.Error(err))
		p.notifySupport(telegramID)
	}
	return nil
}

func (p *Provisioner) notifySupport(telegramID int64) {
	msg := "⚠️ Конфиг создан, но отправить его не удалось. Откройте «Мои конфиги» или напишите в поддержку."
	sendText(p.Bot, telegramID, msg)
}
