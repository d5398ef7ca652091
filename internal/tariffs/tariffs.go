// Package tariffs holds the static purchasable plan catalog. It is
// configuration, not persisted state.
package tariffs

import "time"

type Tariff struct {
	ID          string
	Name        string
	Price       int // rubles
	Days        int
	Hours       int
	DeviceLimit int
	Trial       bool
	Description string
}

// Duration is the validity period the subscription ledger adds on payment.
func (t Tariff) Duration() time.Duration {
	return time.Duration(t.Days)*24*time.Hour + time.Duration(t.Hours)*time.Hour
}

var catalog = map[string]Tariff{
	"test_24h": {
		ID:          "test_24h",
		Name:        "Тестовый — 24 часа",
		Price:       0,
		Hours:       24,
		DeviceLimit: 1,
		Trial:       true,
		Description: "Персональный цифровой доступ на 24 часа",
	},
	"trial_1d": {
		ID:          "trial_1d",
		Name:        "Пробный — 1 день",
		Price:       10,
		Days:        1,
		DeviceLimit: 10,
		Description: "Персональный цифровой доступ на 1 день",
	},
	"weekly_7d": {
		ID:          "weekly_7d",
		Name:        "Неделя — 7 дней",
		Price:       50,
		Days:        7,
		DeviceLimit: 10,
		Description: "Персональный цифровой доступ на неделю",
	},
	"monthly_30d": {
		ID:          "monthly_30d",
		Name:        "Месяц — 30 дней",
		Price:       199,
		Days:        30,
		DeviceLimit: 10,
		Description: "Персональный цифровой доступ на 30 дней (самый выгодный)",
	},
	"standard_3m": {
		ID:          "standard_3m",
		Name:        "Стандарт — 3 месяца",
		Price:       499,
		Days:        90,
		DeviceLimit: 10,
		Description: "Персональный цифровой доступ на 90 дней",
	},
}

// order of tariffs in menus
var order = []string{"test_24h", "trial_1d", "weekly_7d", "monthly_30d", "standard_3m"}

func Get(id string) (Tariff, bool) {
	t, ok := catalog[id]
	return t, ok
}

// List returns purchasable tariffs in menu order, skipping the trial.
func List() []Tariff {
	var out []Tariff
	for _, id := range order {
		t := catalog[id]
		if t.Trial {
			continue
		}
		out = append(out, t)
	}
	return out
}

// TrialTariff returns the free test plan.
func TrialTariff() Tariff {
	return catalog["test_24h"]
}
