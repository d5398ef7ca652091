package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"tiin-vpn-bot/internal/db"
	"tiin-vpn-bot/internal/logger"
	"tiin-vpn-bot/internal/services"
	"tiin-vpn-bot/internal/tariffs"
	"tiin-vpn-bot/internal/vpn"
)

// AdminHandler is implemented by the admin command router; kept as an
// interface so the bot package does not import admin.
type AdminHandler interface {
	HandleCommand(update *tgbotapi.Update)
}

// Admin routes /admin_* commands when set.
var adminRouter AdminHandler

func SetAdminRouter(r AdminHandler) { adminRouter = r }

func (h *Handler) HandleUpdate(update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		h.handleCallback(update.CallbackQuery)
		return
	}
	if update.Message == nil || update.Message.From == nil {
		return
	}

	telegramID := update.Message.From.ID
	chatID := update.Message.Chat.ID
	text := update.Message.Text

	// Register the user on any message.
	if _, err := h.Store.GetOrCreateUser(telegramID); err != nil {
		logger.Error("user registration failed", zap.Int64("telegram_id", telegramID), zap.Error(err))
	}

	cmd := text
	if fields := strings.Fields(text); len(fields) > 0 {
		cmd = fields[0]
	}
	if h.limiter.IsLimited(telegramID, cmd) {
		h.reply(chatID, telegramID, "Пожалуйста, не так быстро! Подождите пару секунд...")
		return
	}

	if telegramID == h.AdminID && strings.HasPrefix(text, "/admin_") {
		if adminRouter != nil {
			adminRouter.HandleCommand(&update)
		}
		return
	}

	switch {
	case strings.HasPrefix(text, "/start"):
		h.reply(chatID, telegramID,
			"Добро пожаловать! 👋\n\nЗдесь вы можете купить VPN на протоколах AmneziaWG и VLESS.\n"+
				"Выберите тариф через «"+btnTariffs+"» или попробуйте бесплатно: «"+btnTrial+"».")
	case text == btnTariffs || strings.HasPrefix(text, "/buy"):
		h.sendTariffs(chatID)
	case text == btnConfigs || strings.HasPrefix(text, "/configs"):
		h.sendConfigs(chatID, telegramID)
	case text == btnTrial || strings.HasPrefix(text, "/trial"):
		h.sendTrialOffer(chatID, telegramID)
	case text == btnHowTo || strings.HasPrefix(text, "/howto"):
		h.reply(chatID, telegramID,
			"📖 Инструкция\n\nAmneziaWG: установите AmneziaVPN, импортируйте полученный .conf файл.\n"+
				"VLESS: установите v2rayTun или Streisand, отсканируйте QR или вставьте ссылку vless://...")
	case text == btnSupport || strings.HasPrefix(text, "/support"):
		h.reply(chatID, telegramID, "Поддержка: напишите вашему администратору.")
	case strings.HasPrefix(text, "/help"):
		h.reply(chatID, telegramID, `Доступные команды:
/buy — Купить VPN
/configs — Мои конфиги
/trial — Пробный период на 24 часа
/howto — Инструкция по подключению
/support — Связаться с поддержкой
/help — Показать эту справку

Покупка: выберите тариф и протокол, оплатите по ссылке — бот пришлёт конфиг автоматически.`)
	default:
		h.reply(chatID, telegramID, "Неизвестная команда. Используйте /help для списка всех возможностей.")
	}
}

func (h *Handler) handleCallback(cb *tgbotapi.CallbackQuery) {
	data := cb.Data
	chatID := cb.Message.Chat.ID
	telegramID := cb.From.ID

	switch {
	case strings.HasPrefix(data, "buy_"):
		tariffID := strings.TrimPrefix(data, "buy_")
		tariff, ok := tariffs.Get(tariffID)
		if !ok {
			h.answer(cb.ID, "Тариф не найден")
			return
		}
		msg := tgbotapi.NewMessage(chatID, "Тариф «"+tariff.Name+"». Выберите протокол:")
		msg.ReplyMarkup = protocolKeyboard(tariffID)
		h.Bot.Send(msg)
		h.answer(cb.ID, "")

	case strings.HasPrefix(data, "payawg_"):
		h.startPurchase(cb, strings.TrimPrefix(data, "payawg_"), db.ProtocolAmneziaWG)

	case strings.HasPrefix(data, "payvless_"):
		h.startPurchase(cb, strings.TrimPrefix(data, "payvless_"), db.ProtocolVLESS)

	case data == "trial_awg":
		h.startTrial(cb, chatID, telegramID, vpn.ProtocolAmneziaWG)

	case data == "trial_vless":
		h.startTrial(cb, chatID, telegramID, vpn.ProtocolVLESS)
	}
}

func (h *Handler) startPurchase(cb *tgbotapi.CallbackQuery, tariffID, vpnType string) {
	chatID := cb.Message.Chat.ID
	telegramID := cb.From.ID
	tariff, ok := tariffs.Get(tariffID)
	if !ok {
		h.answer(cb.ID, "Тариф не найден")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	url, err := h.CreatePendingPayment(ctx, telegramID, cb.From.UserName, tariff, vpnType)
	if err != nil {
		logger.Error("payment creation failed",
			zap.Int64("telegram_id", telegramID), zap.String("tariff", tariffID), zap.Error(err))
		h.answer(cb.ID, "Не удалось создать платёж, попробуйте позже")
		return
	}
	msg := tgbotapi.NewMessage(chatID,
		"💳 Тариф «"+tariff.Name+"»\n\nОплатите по ссылке, конфиг придёт автоматически после оплаты:\n"+url)
	h.Bot.Send(msg)
	h.answer(cb.ID, "Платёж создан")
}

func (h *Handler) startTrial(cb *tgbotapi.CallbackQuery, chatID, telegramID int64, protocol vpn.Protocol) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	err := h.Prov.ProvisionTrial(ctx, telegramID, protocol)
	switch {
	case err == nil:
		h.answer(cb.ID, "Пробный конфиг выдан")
	case errors.Is(err, services.ErrTrialAlreadyUsed):
		h.answer(cb.ID, "Пробный период уже использован")
	default:
		logger.Error("trial provisioning failed",
			zap.Int64("telegram_id", telegramID), zap.String("protocol", string(protocol)), zap.Error(err))
		h.answer(cb.ID, "Не удалось создать пробный конфиг, попробуйте позже")
		h.reply(chatID, telegramID, "⚠️ Не удалось создать пробный конфиг. Попробуйте позже или напишите в поддержку.")
	}
}

func (h *Handler) sendTariffs(chatID int64) {
	var b strings.Builder
	b.WriteString("💳 Тарифы:\n\n")
	for _, t := range tariffs.List() {
		b.WriteString(fmt.Sprintf("• %s — %d₽\n  %s\n", t.Name, t.Price, t.Description))
	}
	msg := tgbotapi.NewMessage(chatID, b.String())
	msg.ReplyMarkup = tariffKeyboard()
	h.Bot.Send(msg)
}

func (h *Handler) sendConfigs(chatID, telegramID int64) {
	user, err := h.Store.GetOrCreateUser(telegramID)
	if err != nil {
		h.reply(chatID, telegramID, "Ошибка, попробуйте позже.")
		return
	}
	keys, err := h.Store.KeysByUser(user.ID)
	if err != nil {
		logger.Error("configs listing failed", zap.Int64("telegram_id", telegramID), zap.Error(err))
		h.reply(chatID, telegramID, "Ошибка, попробуйте позже.")
		return
	}

	sent := 0
	for _, key := range keys {
		if key.Disabled {
			continue
		}
		expiry := "∞"
		if key.ExpiresAt != nil {
			expiry = key.ExpiresAt.Format("02.01.2006 15:04")
		}
		switch key.Protocol {
		case db.ProtocolAmneziaWG:
			doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
				Name:  key.ClientName + "_amneziawg.conf",
				Bytes: []byte(key.Config),
			})
			doc.Caption = "🔐 AmneziaWG · до " + expiry
			h.Bot.Send(doc)
		case db.ProtocolVLESS:
			msg := tgbotapi.NewMessage(chatID, "🔐 VLESS · до "+expiry+"\n\n<code>"+key.Config+"</code>")
			msg.ParseMode = tgbotapi.ModeHTML
			h.Bot.Send(msg)
		}
		sent++
	}
	if sent == 0 {
		h.reply(chatID, telegramID, "У вас нет активных конфигов. Для покупки откройте «"+btnTariffs+"».")
	}
}

func (h *Handler) sendTrialOffer(chatID, telegramID int64) {
	user, err := h.Store.GetOrCreateUser(telegramID)
	if err != nil {
		h.reply(chatID, telegramID, "Ошибка, попробуйте позже.")
		return
	}
	if user.AWGTrialActivated && user.VLESSTrialActivated {
		h.reply(chatID, telegramID, "Пробный период уже использован для обоих протоколов.")
		return
	}
	msg := tgbotapi.NewMessage(chatID, "🎁 Бесплатный доступ на 24 часа. Выберите протокол:")
	msg.ReplyMarkup = trialKeyboard(user.AWGTrialActivated, user.VLESSTrialActivated)
	h.Bot.Send(msg)
}

func (h *Handler) reply(chatID, telegramID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = mainKeyboard(telegramID == h.AdminID)
	h.Bot.Send(msg)
}

func (h *Handler) answer(callbackID, text string) {
	h.Bot.Request(tgbotapi.NewCallback(callbackID, text))
}
