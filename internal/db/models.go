package db

import "time"

// Protocol values stored on VPNKey rows.
const (
	ProtocolAmneziaWG = "amneziawg"
	ProtocolVLESS     = "vless"
)

// Payment statuses. pending is the only non-terminal state.
const (
	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PaymentCanceled = "canceled"
)

type User struct {
	ID                  uint  `gorm:"primaryKey"`
	TelegramID          int64 `gorm:"uniqueIndex"`
	SubscriptionUntil   *time.Time
	AWGTrialActivated   bool `gorm:"default:false"`
	VLESSTrialActivated bool `gorm:"default:false"`
}

// Payment is keyed by the YooKassa payment id: the gateway generates it and
// the webhook references it, so nothing local ever mints one.
type Payment struct {
	YooKassaID string `gorm:"primaryKey"`
	UserID     uint
	Tariff     string
	Amount     int
	Status     string
	CreatedAt  time.Time
}

// VPNKey is one issued credential. Re-provisioning the same backend client
// updates the row instead of duplicating it.
type VPNKey struct {
	ID               uint    `gorm:"primaryKey"`
	UserID           uint    `gorm:"uniqueIndex:idx_user_client"`
	PaymentID        *string // nil for trial keys
	ClientID         string  `gorm:"uniqueIndex:idx_user_client"`
	ClientName       string
	ClientIP         *string
	ClientPublicKey  *string
	Config           string
	ExpiresAt        *time.Time
	Protocol         string
	Disabled         bool `gorm:"default:false"`
	NotifiedExpiring bool `gorm:"default:false"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
