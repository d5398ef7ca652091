package services

import (
	"time"

	"tiin-vpn-bot/internal/db"
	"tiin-vpn-bot/internal/tariffs"
)

// ExtendSubscription pushes the user's paid-until timestamp out by the
// tariff's duration. A still-active subscription stacks on its current end;
// an absent or expired one restarts from the settlement time, so renewing
// early is never penalized.
func ExtendSubscription(store Store, user *db.User, tariff tariffs.Tariff, settledAt time.Time) (time.Time, error) {
	if settledAt.IsZero() {
		settledAt = time.Now()
	}
	base := settledAt
	if user.SubscriptionUntil != nil && user.SubscriptionUntil.After(settledAt) {
		base = *user.SubscriptionUntil
	}
	until := base.Add(tariff.Duration())
	if err := store.SetSubscriptionUntil(user.ID, until); err != nil {
		return time.Time{}, err
	}
	user.SubscriptionUntil = &until
	return until, nil
}
