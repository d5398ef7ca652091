package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tiin-vpn-bot/internal/tariffs"
)

const (
	btnTariffs = "💳 Тарифы"
	btnConfigs = "🔑 Мои конфиги"
	btnTrial   = "🎁 Пробный период"
	btnHowTo   = "📖 Инструкция"
	btnSupport = "🆘 Поддержка"
)

func mainKeyboard(isAdmin bool) tgbotapi.ReplyKeyboardMarkup {
	if isAdmin {
		return tgbotapi.NewReplyKeyboard(
			tgbotapi.NewKeyboardButtonRow(
				tgbotapi.NewKeyboardButton(btnTariffs),
				tgbotapi.NewKeyboardButton(btnConfigs),
			),
			tgbotapi.NewKeyboardButtonRow(
				tgbotapi.NewKeyboardButton("/admin_stats"),
				tgbotapi.NewKeyboardButton("/admin_payments"),
				tgbotapi.NewKeyboardButton("/admin_backup"),
			),
		)
	}
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnTariffs),
			tgbotapi.NewKeyboardButton(btnConfigs),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnTrial),
			tgbotapi.NewKeyboardButton(btnHowTo),
			tgbotapi.NewKeyboardButton(btnSupport),
		),
	)
}

// tariffKeyboard lists the purchasable tariffs, one inline button each.
func tariffKeyboard() tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, t := range tariffs.List() {
		label := fmt.Sprintf("%s · %d₽", t.Name, t.Price)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, "buy_"+t.ID),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// protocolKeyboard offers the two backend families for a chosen tariff.
func protocolKeyboard(tariffID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("AmneziaWG", "payawg_"+tariffID),
			tgbotapi.NewInlineKeyboardButtonData("VLESS", "payvless_"+tariffID),
		),
	)
}

// trialKeyboard offers the protocols still available for a free trial.
func trialKeyboard(awgUsed, vlessUsed bool) tgbotapi.InlineKeyboardMarkup {
	var row []tgbotapi.InlineKeyboardButton
	if !awgUsed {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("AmneziaWG (24ч)", "trial_awg"))
	}
	if !vlessUsed {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("VLESS (24ч)", "trial_vless"))
	}
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(row...))
}
