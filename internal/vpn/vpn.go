// Package vpn holds the provisioning backend clients: the AmneziaWG
// (wg-easy style) control plane and the 3x-ui panel. Both satisfy Backend
// so the payment orchestrator dispatches by protocol instead of branching
// on strings.
package vpn

import (
	"context"
	"errors"
	"time"
)

type Protocol string

const (
	ProtocolAmneziaWG Protocol = "amneziawg"
	ProtocolVLESS     Protocol = "vless"
)

// ErrCapacityExceeded is returned when the backend refuses to create
// another client because its ceiling is reached. Callers surface it
// distinctly so operators can expand capacity instead of retrying blindly.
var ErrCapacityExceeded = errors.New("vpn backend: maximum number of clients reached")

// ProvisionRequest describes one credential to issue or extend.
type ProvisionRequest struct {
	Name        string
	TelegramID  int64
	ExpiresAt   time.Time
	Extension   time.Duration // applied instead of ExpiresAt when the client already exists
	DeviceLimit int
}

// Credential is the result of a successful provisioning call.
type Credential struct {
	Protocol   Protocol
	ClientID   string
	ClientName string
	Address    *string
	PublicKey  *string
	Config     string // .conf text for AmneziaWG, connection link for VLESS
	ExpiresAt  *time.Time
}

type Backend interface {
	Protocol() Protocol
	Provision(ctx context.Context, req ProvisionRequest) (*Credential, error)
}
