package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	BotToken        string
	AdminTelegramID int64

	DatabaseURL string

	YooKassaShopID string
	YooKassaSecret string
	// Comma-separated CIDRs allowed to call the webhook. Empty means the
	// default YooKassa subnets.
	WebhookAllowedCIDRs string
	WebhookAddr         string

	AmneziaWGAPIURL   string
	AmneziaWGPassword string

	XUIHost     string
	XUIUsername string
	XUIPassword string

	VLESSInboundID int
	VLESSDomain    string
	VLESSPort      int
	VLESSPath      string
	VLESSPublicKey string
	VLESSShortID   string
	VLESSSNI       string
}

var AppCfg AppConfig

func LoadConfig() {
	err := godotenv.Load()
	if err != nil {
		log.Println(".env file not found, relying on environment variables")
	}

	AppCfg.BotToken = os.Getenv("BOT_TOKEN")
	AppCfg.AdminTelegramID = getInt64("ADMIN_TELEGRAM_ID")
	AppCfg.DatabaseURL = os.Getenv("DATABASE_URL")
	AppCfg.YooKassaShopID = os.Getenv("YOOKASSA_SHOP_ID")
	AppCfg.YooKassaSecret = os.Getenv("YOOKASSA_SECRET_KEY")
	AppCfg.WebhookAllowedCIDRs = os.Getenv("WEBHOOK_ALLOWED_CIDRS")
	AppCfg.WebhookAddr = getDefault("WEBHOOK_ADDR", ":8080")

	AppCfg.AmneziaWGAPIURL = getDefault("AMNEZIA_WG_API_URL", "http://localhost:51821")
	AppCfg.AmneziaWGPassword = os.Getenv("AMNEZIA_WG_API_PASSWORD")

	AppCfg.XUIHost = os.Getenv("XUI_HOST")
	AppCfg.XUIUsername = os.Getenv("XUI_USERNAME")
	AppCfg.XUIPassword = os.Getenv("XUI_PASSWORD")

	AppCfg.VLESSInboundID = int(getInt64("VLESS_INBOUND_ID"))
	AppCfg.VLESSDomain = os.Getenv("VLESS_DOMAIN")
	AppCfg.VLESSPort = int(getInt64("VLESS_PORT"))
	AppCfg.VLESSPath = getDefault("VLESS_PATH", "/")
	AppCfg.VLESSPublicKey = os.Getenv("VLESS_PBK")
	AppCfg.VLESSShortID = os.Getenv("VLESS_SID")
	AppCfg.VLESSSNI = os.Getenv("VLESS_SNI")

	if AppCfg.BotToken == "" || AppCfg.AdminTelegramID == 0 ||
		AppCfg.YooKassaShopID == "" || AppCfg.YooKassaSecret == "" ||
		AppCfg.DatabaseURL == "" {
		log.Fatal("Critical environment variables are missing. Bot will exit.")
	}
}

func getDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt64(key string) int64 {
	v, _ := strconv.ParseInt(os.Getenv(key), 10, 64)
	return v
}
