// Package services holds the payment state machine, the provisioning
// orchestrator and the jobs around them. External collaborators (storage,
// backends, the bot API) enter through narrow interfaces so the state
// machine can run against doubles in tests.
package services

import (
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tiin-vpn-bot/internal/db"
)

// Store is the slice of the credential store the payment path needs.
// *db.Store implements it.
type Store interface {
	GetOrCreateUser(telegramID int64) (*db.User, error)
	UserByID(id uint) (*db.User, error)
	SetSubscriptionUntil(userID uint, until time.Time) error
	SetTrialActivated(userID uint, protocol string) error

	CreatePayment(p *db.Payment) error
	PaymentStatus(yooKassaID string) (string, error)
	PaymentByID(yooKassaID string) (*db.Payment, error)
	SetPaymentStatus(yooKassaID, status string) error
	PendingPaymentsBefore(cutoff time.Time) ([]db.Payment, error)

	UpsertVPNKey(key *db.VPNKey) error
	KeysByUser(userID uint) ([]db.VPNKey, error)
}

// Messenger is the part of the Telegram bot API used for delivery.
// *tgbotapi.BotAPI implements it.
type Messenger interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}
