package services

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"tiin-vpn-bot/internal/db"
	"tiin-vpn-bot/internal/logger"
)

// NotifyExpiringSubscriptions warns users whose keys expire within
// daysBefore days, once per key.
func NotifyExpiringSubscriptions(store *db.Store, bot Messenger, daysBefore int) {
	now := nowFunc()
	keys, err := store.ExpiringKeys(now, now.AddDate(0, 0, daysBefore))
	if err != nil {
		logger.Error("expiring sweep: listing keys failed", zap.Error(err))
		return
	}
	for _, key := range keys {
		user, err := store.UserByID(key.UserID)
		if err != nil {
			logger.Warn("expiring sweep: user lookup failed",
				zap.Uint("key_id", key.ID), zap.Error(err))
			continue
		}
		days := int(key.ExpiresAt.Sub(now).Hours()/24) + 1
		msg := fmt.Sprintf("⏳ Ваша подписка истекает через %d дн. Продлить можно в разделе «Тарифы».", days)
		if _, err := bot.Send(tgbotapi.NewMessage(user.TelegramID, msg)); err != nil {
			logger.Warn("expiring sweep: notification failed",
				zap.Int64("telegram_id", user.TelegramID), zap.Error(err))
			continue
		}
		if err := store.SetKeyNotifiedExpiring(key.ID); err != nil {
			logger.Error("expiring sweep: flag update failed",
				zap.Uint("key_id", key.ID), zap.Error(err))
		}
	}
}
