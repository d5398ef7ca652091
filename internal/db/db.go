package db

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store wraps the gorm handle. It is passed around explicitly so the
// payment state machine can run against a fake in tests.
type Store struct {
	db *gorm.DB
}

func InitStore(dsn string) (*Store, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := gdb.AutoMigrate(&User{}, &Payment{}, &VPNKey{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: gdb}, nil
}

// --- users ---

func (s *Store) GetOrCreateUser(telegramID int64) (*User, error) {
	var user User
	err := s.db.Where(&User{TelegramID: telegramID}).FirstOrCreate(&user, User{TelegramID: telegramID}).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) UserByID(id uint) (*User, error) {
	var user User
	if err := s.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) SetSubscriptionUntil(userID uint, until time.Time) error {
	return s.db.Model(&User{}).Where("id = ?", userID).Update("subscription_until", until).Error
}

func (s *Store) SetTrialActivated(userID uint, protocol string) error {
	column := "awg_trial_activated"
	if protocol == ProtocolVLESS {
		column = "vless_trial_activated"
	}
	return s.db.Model(&User{}).Where("id = ?", userID).Update(column, true).Error
}

// --- payments ---

func (s *Store) CreatePayment(p *Payment) error {
	return s.db.Create(p).Error
}

// PaymentStatus returns "" with a nil error when the payment id is unknown;
// a non-nil error always means a storage failure.
func (s *Store) PaymentStatus(yooKassaID string) (string, error) {
	var pay Payment
	err := s.db.Select("status").Where("yoo_kassa_id = ?", yooKassaID).First(&pay).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return pay.Status, nil
}

func (s *Store) PaymentByID(yooKassaID string) (*Payment, error) {
	var pay Payment
	if err := s.db.Where("yoo_kassa_id = ?", yooKassaID).First(&pay).Error; err != nil {
		return nil, err
	}
	return &pay, nil
}

func (s *Store) SetPaymentStatus(yooKassaID, status string) error {
	return s.db.Model(&Payment{}).Where("yoo_kassa_id = ?", yooKassaID).Update("status", status).Error
}

// PendingPaymentsBefore lists payments still pending that were created
// before the cutoff. Used by the reconciliation sweep.
func (s *Store) PendingPaymentsBefore(cutoff time.Time) ([]Payment, error) {
	var pays []Payment
	err := s.db.Where("status = ? AND created_at < ?", PaymentPending, cutoff).Find(&pays).Error
	return pays, err
}

// --- vpn keys ---

// UpsertVPNKey inserts a key row or, when the (user, client) pair already
// exists, refreshes the credential in place.
func (s *Store) UpsertVPNKey(key *VPNKey) error {
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "client_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"payment_id", "client_name", "client_ip", "client_public_key",
			"config", "expires_at", "protocol", "disabled", "notified_expiring", "updated_at",
		}),
	}).Create(key).Error
}

func (s *Store) KeysByUser(userID uint) ([]VPNKey, error) {
	var keys []VPNKey
	err := s.db.Where("user_id = ?", userID).Order("created_at desc").Find(&keys).Error
	return keys, err
}

func (s *Store) KeyByPayment(paymentID string) (*VPNKey, error) {
	var key VPNKey
	if err := s.db.Where("payment_id = ?", paymentID).First(&key).Error; err != nil {
		return nil, err
	}
	return &key, nil
}

// ExpiredActiveKeys lists keys past their expiry that have not been
// disabled yet.
func (s *Store) ExpiredActiveKeys(now time.Time) ([]VPNKey, error) {
	var keys []VPNKey
	err := s.db.Where("disabled = false AND expires_at IS NOT NULL AND expires_at < ?", now).Find(&keys).Error
	return keys, err
}

// ExpiringKeys lists keys expiring within the window that were not warned
// about yet.
func (s *Store) ExpiringKeys(now, until time.Time) ([]VPNKey, error) {
	var keys []VPNKey
	err := s.db.Where(
		"disabled = false AND notified_expiring = false AND expires_at IS NOT NULL AND expires_at > ? AND expires_at <= ?",
		now, until).Find(&keys).Error
	return keys, err
}

func (s *Store) SetKeyDisabled(id uint) error {
	return s.db.Model(&VPNKey{}).Where("id = ?", id).Update("disabled", true).Error
}

func (s *Store) SetKeyNotifiedExpiring(id uint) error {
	return s.db.Model(&VPNKey{}).Where("id = ?", id).Update("notified_expiring", true).Error
}

// --- admin queries ---

func (s *Store) CountUsers() int {
	var count int64
	s.db.Model(&User{}).Count(&count)
	return int(count)
}

func (s *Store) CountActiveKeys(now time.Time) int {
	var count int64
	s.db.Model(&VPNKey{}).Where("disabled = false AND (expires_at IS NULL OR expires_at > ?)", now).Count(&count)
	return int(count)
}

func (s *Store) SumPayments(from, to time.Time) int {
	var sum *int
	s.db.Model(&Payment{}).Where("status = ? AND created_at >= ? AND created_at <= ?", PaymentPaid, from, to).
		Select("sum(amount)").Scan(&sum)
	if sum == nil {
		return 0
	}
	return *sum
}

func (s *Store) PaymentsBetween(from, to time.Time) []Payment {
	var pays []Payment
	s.db.Where("created_at >= ? AND created_at <= ?", from, to).Order("created_at desc").Find(&pays)
	return pays
}

func (s *Store) FindUser(telegramID int64) (*User, error) {
	var user User
	if err := s.db.Where("telegram_id = ?", telegramID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) FindKey(id uint) (*VPNKey, error) {
	var key VPNKey
	if err := s.db.First(&key, id).Error; err != nil {
		return nil, err
	}
	return &key, nil
}
