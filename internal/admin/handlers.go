package admin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tiin-vpn-bot/internal/db"
	"tiin-vpn-bot/internal/logger"
	"tiin-vpn-bot/internal/services"
)

// Handler routes /admin_* commands. Wired into the bot loop through the
// bot.AdminHandler interface.
type Handler struct {
	Bot         *tgbotapi.BotAPI
	Store       *db.Store
	Machine     *services.PaymentMachine
	Gateway     services.PaymentGateway
	AdminID     int64
	DatabaseURL string
}

func (h *Handler) HandleCommand(update *tgbotapi.Update) {
	if update.Message == nil || update.Message.From.ID != h.AdminID {
		return
	}
	cmd := update.Message.Command()
	switch cmd {
	case "admin_stats":
		h.handleStats(update)
	case "admin_payments":
		h.handlePayments(update)
	case "admin_user":
		h.handleUser(update)
	case "admin_key":
		h.handleKey(update)
	case "admin_retry":
		h.handleRetry(update)
	case "admin_backends":
		h.handleBackends(update)
	case "admin_backup":
		h.handleBackup(update)
	case "admin_restore":
		h.handleRestore(update)
	}
	logger.LogAdminAction(h.AdminID, cmd, update.Message.Text)
}

func (h *Handler) handleStats(update *tgbotapi.Update) {
	now := time.Now()
	users := h.Store.CountUsers()
	activeKeys := h.Store.CountActiveKeys(now)
	todayPayments := h.Store.SumPayments(now.Truncate(24*time.Hour), now)
	monthPayments := h.Store.SumPayments(now.AddDate(0, 0, -30), now)
	allPayments := h.Store.SumPayments(time.Time{}, now)
	msg := fmt.Sprintf(
		"Пользователей: %d\nАктивных конфигов: %d\nПлатежи: сегодня: %d₽, месяц: %d₽, всего: %d₽",
		users, activeKeys, todayPayments, monthPayments, allPayments)
	h.Bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, msg))
}

func (h *Handler) handlePayments(update *tgbotapi.Update) {
	// Пример: /admin_payments 2026-01-01 2026-01-31
	args := strings.Fields(update.Message.CommandArguments())
	var from, to time.Time
	var err error
	if len(args) == 2 {
		from, err = time.Parse("2006-01-02", args[0])
		if err != nil {
			h.Bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Неверный формат даты (from)"))
			return
		}
		to, err = time.Parse("2006-01-02", args[1])
		if err != nil {
			h.Bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Неверный формат даты (to)"))
			return
		}
	} else {
		from = time.Now().AddDate(0, 0, -30)
		to = time.Now()
	}
	payments := h.Store.PaymentsBetween(from, to)
	if len(payments) == 0 {
		h.Bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Платежей за период нет"))
		return
	}
	var sb strings.Builder
	for _, p := range payments {
		sb.WriteString(fmt.Sprintf("ID: %s, User: %d, Тариф: %s, %d₽, %s\n",
			p.YooKassaID, p.UserID, p.Tariff, p.Amount, p.Status))
	}
	h.Bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, sb.String()))
}

func (h *Handler) handleUser(update *tgbotapi.Update) {
	args := strings.Fields(update.Message.CommandArguments())
	if len(args) < 1 {
		h.Bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Укажите telegram ID пользователя"))
		return
	}
	telegramID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		h.Bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Некорректный telegram ID"))
		return
	}
	user, err := h.Store.FindUser(telegramID)
	if err != nil {
		h.Bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Пользователь не найден"))
		return
	}
	until := "нет"
	if user.SubscriptionUntil != nil {
		until = user.SubscriptionUntil.Format("02.01.2006 15:04")
	}
	keys, _ := h.Store.KeysByUser(user.ID)
	msg := fmt.Sprintf("User #%d (tg %d)\nПодписка до: %s\nКонфигов: %d\nТриалы: awg=%v vless=%v",
		user.ID, user.TelegramID, until, len(keys), user.AWGTrialActivated, user.VLESSTrialActivated)
	h.Bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, msg))
}

func (h *Handler) handleKey(update *tgbotapi.Update) {
	args := strings.Fields(update.Message.CommandArguments())
	if len(args) < 1 {
		h.Bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Укажите ID конфига"))
		return
	}
	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		h.Bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Некорректный ID"))
		return
	}
	key, err := h.Store.FindKey(uint(id))
	if err != nil {
		h.Bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Конфиг не найден"))
		return
	}
	expiry := "∞"
	if key.ExpiresAt != nil {
		expiry = key.ExpiresAt.Format("02.01.2006 15:04")
	}
	msg := fmt.Sprintf("Key #%d\nПротокол: %s\nКлиент: %s (%s)\nДо: %s\nОтключён: %v",
		key.ID, key.Protocol, key.ClientName, key.ClientID, expiry, key.Disabled)
	h.Bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, msg))
}

// handleRetry re-polls a stuck payment at the gateway and replays its status
// through the state machine. Safe to run repeatedly: terminal payments come
// back as duplicates.
func (h *Handler) handleRetry(update *tgbotapi.Update) {
	args := strings.Fields(update.Message.CommandArguments())
	if len(args) < 1 {
		h.Bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Использование: /admin_retry <payment_id>"))
		return
	}
	paymentID := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	gp, err := h.Gateway.GetPayment(ctx, paymentID)
	if err != nil {
		h.Bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Ошибка запроса к шлюзу: "+err.Error()))
		return
	}
	outcome, err := h.Machine.ApplyGatewayStatus(ctx, paymentID, gp.Status, gp.Metadata)
	if err != nil {
		h.Bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Ошибка обработки: "+err.Error()))
		return
	}
	h.Bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID,
		fmt.Sprintf("Платёж %s: статус шлюза %q, результат: %s", paymentID, gp.Status, outcome)))
}

func (h *Handler) handleBackends(update *tgbotapi.Update) {
	statuses := services.GetBackendStatuses()
	if len(statuses) == 0 {
		h.Bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Панели ещё не проверялись"))
		return
	}
	msg := "Статус панелей:\n"
	for _, s := range statuses {
		msg += fmt.Sprintf("%s: %s, последняя проверка: %s\n",
			s.Name, s.Status, s.LastChecked.Format("02.01 15:04"))
	}
	h.Bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, msg))
}

func (h *Handler) handleBackup(update *tgbotapi.Update) {
	backupDir := "backups"
	os.MkdirAll(backupDir, 0o755)
	filename := filepath.Join(backupDir, "backup_"+time.Now().Format("20060102_150405")+".dump")
	if err := BackupDatabase(filename, h.DatabaseURL); err != nil {
		h.Bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Ошибка резервного копирования: "+err.Error()))
		return
	}
	file := tgbotapi.NewDocument(update.Message.Chat.ID, tgbotapi.FilePath(filename))
	file.Caption = "Резервная копия БД успешно создана"
	h.Bot.Send(file)
	_ = os.Remove(filename)
}

func (h *Handler) handleRestore(update *tgbotapi.Update) {
	backupDir := "backups"
	args := strings.Fields(update.Message.CommandArguments())
	if len(args) < 1 {
		h.Bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Укажите имя файла для восстановления"))
		return
	}
	filename := filepath.Join(backupDir, args[0])
	if err := RestoreDatabase(filename, h.DatabaseURL); err != nil {
		h.Bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Ошибка восстановления: "+err.Error()))
		return
	}
	h.Bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Восстановление успешно завершено из файла: "+args[0]))
}
