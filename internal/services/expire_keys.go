package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"tiin-vpn-bot/internal/db"
	"tiin-vpn-bot/internal/logger"
	"tiin-vpn-bot/internal/vpn"
)

// DisableExpiredVPNKeys sweeps keys whose expiry passed, disables the peer
// on the wg-easy panel and marks the row. VLESS clients enforce their own
// expiry on the panel side, so those rows are only flagged locally.
func DisableExpiredVPNKeys(ctx context.Context, store *db.Store, awg *vpn.AmneziaWGClient, bot Messenger) {
	keys, err := store.ExpiredActiveKeys(nowFunc())
	if err != nil {
		logger.Error("expiry sweep: listing keys failed", zap.Error(err))
		return
	}
	for _, key := range keys {
		if key.Protocol == db.ProtocolAmneziaWG && awg != nil {
			if err := awg.DisableClient(ctx, key.ClientID); err != nil {
				logger.Error("expiry sweep: disabling panel client failed",
					zap.String("client_id", key.ClientID), zap.Error(err))
				logger.NotifyAdmin(fmt.Sprintf("Не удалось отключить истёкший конфиг %s (key id %d): %v", key.ClientName, key.ID, err))
				continue
			}
		}
		if err := store.SetKeyDisabled(key.ID); err != nil {
			logger.Error("expiry sweep: marking key disabled failed",
				zap.Uint("key_id", key.ID), zap.Error(err))
			continue
		}
		if user, err := store.UserByID(key.UserID); err == nil {
			sendText(bot, user.TelegramID, "Ваша подписка завершена, для продления воспользуйтесь ботом")
		}
		logger.Info("disabled expired key",
			zap.Uint("key_id", key.ID), zap.String("client_name", key.ClientName))
	}
}
