package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"tiin-vpn-bot/internal/db"
	"tiin-vpn-bot/internal/logger"
	"tiin-vpn-bot/internal/services"
)

// Handler is the Telegram presentation layer: it owns the update loop and
// turns messages and button presses into service calls.
type Handler struct {
	Bot     *tgbotapi.BotAPI
	Store   *db.Store
	Prov    *services.Provisioner
	Gateway *services.YooKassaClient
	AdminID int64

	limiter *RateLimiter
}

func NewHandler(bot *tgbotapi.BotAPI, store *db.Store, prov *services.Provisioner, gw *services.YooKassaClient, adminID int64) *Handler {
	return &Handler{
		Bot:     bot,
		Store:   store,
		Prov:    prov,
		Gateway: gw,
		AdminID: adminID,
		limiter: NewRateLimiter(adminID),
	}
}

// Run blocks on the long-poll loop until the updates channel closes.
func (h *Handler) Run() {
	logger.Info("bot started", zap.String("username", h.Bot.Self.UserName))

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := h.Bot.GetUpdatesChan(u)

	for update := range updates {
		h.HandleUpdate(update)
	}
}
