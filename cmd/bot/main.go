package main

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/robfig/cron/v3"

	"tiin-vpn-bot/config"
	"tiin-vpn-bot/internal/admin"
	"tiin-vpn-bot/internal/bot"
	"tiin-vpn-bot/internal/db"
	"tiin-vpn-bot/internal/logger"
	"tiin-vpn-bot/internal/services"
	"tiin-vpn-bot/internal/vpn"
)

func main() {
	config.LoadConfig()

	store, err := db.InitStore(config.AppCfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}

	botapi, err := tgbotapi.NewBotAPI(config.AppCfg.BotToken)
	if err != nil {
		log.Fatalf("Failed to create bot: %v", err)
	}
	logger.InitNotifier(botapi, config.AppCfg.AdminTelegramID)

	// VPN backends.
	awg := vpn.NewAmneziaWGClient(config.AppCfg.AmneziaWGAPIURL, config.AppCfg.AmneziaWGPassword)
	xui := vpn.NewXUIClient(config.AppCfg.XUIHost, config.AppCfg.XUIUsername, config.AppCfg.XUIPassword)
	vless := &vpn.VLESSBackend{
		Client:    xui,
		InboundID: config.AppCfg.VLESSInboundID,
		Link: vpn.LinkParams{
			Domain:    config.AppCfg.VLESSDomain,
			Port:      config.AppCfg.VLESSPort,
			Path:      config.AppCfg.VLESSPath,
			PublicKey: config.AppCfg.VLESSPublicKey,
			ShortID:   config.AppCfg.VLESSShortID,
			SNI:       config.AppCfg.VLESSSNI,
		},
	}
	backends := map[vpn.Protocol]vpn.Backend{
		vpn.ProtocolAmneziaWG: awg,
		vpn.ProtocolVLESS:     vless,
	}

	// Payment path.
	gateway := services.NewYooKassaClient(config.AppCfg.YooKassaShopID, config.AppCfg.YooKassaSecret)
	prov := &services.Provisioner{Store: store, Backends: backends, Bot: botapi}
	machine := &services.PaymentMachine{Store: store, Prov: prov, Bot: botapi}

	adminHandler := &admin.Handler{
		Bot:         botapi,
		Store:       store,
		Machine:     machine,
		Gateway:     gateway,
		AdminID:     config.AppCfg.AdminTelegramID,
		DatabaseURL: config.AppCfg.DatabaseURL,
	}
	bot.SetAdminRouter(adminHandler)

	panels := map[vpn.Protocol]services.Pinger{
		vpn.ProtocolAmneziaWG: awg,
		vpn.ProtocolVLESS:     xui,
	}

	// Background jobs.
	c := cron.New()
	c.AddFunc("@every 5m", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
		defer cancel()
		services.ReconcilePendingPayments(ctx, machine, gateway, 10*time.Minute)
	})
	c.AddFunc("@every 1m", func() {
		services.UpdateBackendStatuses(context.Background(), panels)
	})
	c.AddFunc("30 3 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		services.DisableExpiredVPNKeys(ctx, store, awg, botapi)
	})
	c.AddFunc("0 10 * * *", func() {
		services.NotifyExpiringSubscriptions(store, botapi, 3)
	})
	c.AddFunc("0 3 * * *", func() {
		admin.AutoBackupDatabase(config.AppCfg.DatabaseURL)
	})
	c.Start()

	// Payment webhook + health endpoint.
	var cidrs []string
	if config.AppCfg.WebhookAllowedCIDRs != "" {
		cidrs = strings.Split(config.AppCfg.WebhookAllowedCIDRs, ",")
	}
	webhook := services.NewWebhookServer(machine, config.AppCfg.YooKassaShopID, config.AppCfg.YooKassaSecret, cidrs)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/webhook/yookassa", webhook)
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		log.Printf("Webhook server listening on %s", config.AppCfg.WebhookAddr)
		if err := http.ListenAndServe(config.AppCfg.WebhookAddr, mux); err != nil {
			log.Fatalf("Webhook server error: %v", err)
		}
	}()

	// Telegram long polling.
	handler := bot.NewHandler(botapi, store, prov, gateway, config.AppCfg.AdminTelegramID)
	handler.Run()
}
