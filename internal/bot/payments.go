package bot

import (
	"context"
	"fmt"
	"time"

	"tiin-vpn-bot/internal/db"
	"tiin-vpn-bot/internal/services"
	"tiin-vpn-bot/internal/tariffs"
)

// CreatePendingPayment registers the payment at the gateway and mirrors it
// locally as pending, keyed by the gateway's payment id. The local row must
// exist before the confirmation URL is handed out: the webhook may beat the
// user back.
func (h *Handler) CreatePendingPayment(ctx context.Context, telegramID int64, username string, tariff tariffs.Tariff, vpnType string) (paymentURL string, err error) {
	user, err := h.Store.GetOrCreateUser(telegramID)
	if err != nil {
		return "", err
	}
	isRenew := user.SubscriptionUntil != nil && user.SubscriptionUntil.After(time.Now())

	gp, err := h.Gateway.CreatePayment(ctx, services.PaymentRequest{
		TelegramID:  telegramID,
		Username:    username,
		TariffID:    tariff.ID,
		VPNType:     vpnType,
		Description: fmt.Sprintf("VPN «%s» для пользователя %d", tariff.Name, telegramID),
		Amount:      tariff.Price,
		IsRenew:     isRenew,
	})
	if err != nil {
		return "", fmt.Errorf("create gateway payment: %w", err)
	}

	pay := &db.Payment{
		YooKassaID: gp.ID,
		UserID:     user.ID,
		Tariff:     tariff.ID,
		Amount:     tariff.Price,
		Status:     db.PaymentPending,
	}
	if err := h.Store.CreatePayment(pay); err != nil {
		return "", fmt.Errorf("persist pending payment: %w", err)
	}
	return gp.Confirmation.ConfirmationURL, nil
}
