package services

import (
	"context"
	"sync"
	"time"

	"tiin-vpn-bot/internal/logger"
	"tiin-vpn-bot/internal/vpn"
)

type BackendStatus struct {
	Name        string
	Status      string
	LastChecked time.Time
}

// Pinger is what a panel client must expose to be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

var (
	statusMu     sync.RWMutex
	lastStatuses []BackendStatus
)

// GetBackendStatuses returns the last probe results for /stats.
func GetBackendStatuses() []BackendStatus {
	statusMu.RLock()
	defer statusMu.RUnlock()
	out := make([]BackendStatus, len(lastStatuses))
	copy(out, lastStatuses)
	return out
}

// UpdateBackendStatuses probes every registered panel and alerts the admin
// about the ones that are down.
func UpdateBackendStatuses(ctx context.Context, panels map[vpn.Protocol]Pinger) {
	statuses := make([]BackendStatus, 0, len(panels))
	for protocol, panel := range panels {
		s := BackendStatus{Name: string(protocol), LastChecked: nowFunc()}
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := panel.Ping(probeCtx); err != nil {
			s.Status = "❌ offline"
			logger.NotifyAdmin("Панель " + string(protocol) + " недоступна: " + err.Error())
		} else {
			s.Status = "✅ online"
		}
		cancel()
		statuses = append(statuses, s)
	}
	statusMu.Lock()
	lastStatuses = statuses
	statusMu.Unlock()
}
