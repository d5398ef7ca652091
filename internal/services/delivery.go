package services

import (
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"tiin-vpn-bot/internal/logger"
	"tiin-vpn-bot/internal/tariffs"
	"tiin-vpn-bot/internal/vpn"
)

// nowFunc is a seam for tests.
var nowFunc = time.Now

// DeliverCredential ships a freshly issued credential to the user, shaped
// by protocol: a .conf document for the WireGuard family, a QR plus the
// copyable link for VLESS. Fire-and-forget relative to provisioning — the
// caller only logs a failure.
func DeliverCredential(bot Messenger, chatID int64, cred *vpn.Credential, tariff tariffs.Tariff) error {
	switch cred.Protocol {
	case vpn.ProtocolAmneziaWG:
		return deliverAmneziaWG(bot, chatID, cred, tariff)
	case vpn.ProtocolVLESS:
		return deliverVLESS(bot, chatID, cred, tariff)
	default:
		return fmt.Errorf("unknown protocol %q", cred.Protocol)
	}
}

func deliverAmneziaWG(bot Messenger, chatID int64, cred *vpn.Credential, tariff tariffs.Tariff) error {
	caption := fmt.Sprintf(
		"✅ Ваш VPN готов!\n\n🔑 Тариф: %s\n⏱ Активен до: %s\n\n"+
			"📱 Инструкция:\n1. Установите AmneziaVPN\n2. Импортируйте файл\n3. Подключитесь",
		tariff.Name, formatExpiry(cred.ExpiresAt))
	if cred.Address != nil {
		caption = fmt.Sprintf("%s\n\n🌐 IP: %s", caption, *cred.Address)
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
		Name:  fmt.Sprintf("%s_amneziawg.conf", cred.ClientName),
		Bytes: []byte(cred.Config),
	})
	doc.Caption = caption
	if _, err := bot.Send(doc); err == nil {
		return nil
	} else {
		logger.Warn("awg document delivery failed, falling back to text", zap.Error(err))
	}

	// Fallback: the raw config as monospace text.
	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("🔐 AmneziaWG конфиг:\n\n<code>%s</code>", cred.Config))
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := bot.Send(msg)
	return err
}

func deliverVLESS(bot Messenger, chatID int64, cred *vpn.Credential, tariff tariffs.Tariff) error {
	caption := fmt.Sprintf(
		"✅ Ваш VPN готов!\n\n🔑 Тариф: %s\n⏱ Активен до: %s\n\n"+
			"📱 Отсканируйте QR или скопируйте ссылку из следующего сообщения",
		tariff.Name, formatExpiry(cred.ExpiresAt))

	png, err := qrcode.Encode(cred.Config, qrcode.Medium, 256)
	if err == nil {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "vless_qr.png", Bytes: png})
		photo.Caption = caption
		if _, err := bot.Send(photo); err != nil {
			logger.Warn("vless qr delivery failed, falling back to text", zap.Error(err))
		}
	} else {
		logger.Warn("vless qr encode failed", zap.Error(err))
	}

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("🔑 Ключ-конфиг\n\n<code>%s</code>\n\nСкопируйте ссылку и вставьте в приложение", cred.Config))
	msg.ParseMode = tgbotapi.ModeHTML
	_, err = bot.Send(msg)
	return err
}

func formatExpiry(t *time.Time) string {
	if t == nil {
		return "∞"
	}
	return t.Format("02.01.2006 15:04")
}

// sendText delivers a plain best-effort message; errors are only logged.
func sendText(bot Messenger, chatID int64, text string) {
	if bot == nil || chatID == 0 {
		return
	}
	if _, err := bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		logger.Warn("notification delivery failed", zap.Int64("telegram_id", chatID), zap.Error(err))
	}
}
