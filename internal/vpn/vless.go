package vpn

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/uuid"
)

// LinkParams are the per-protocol connection fields of the VLESS/Reality
// inbound, taken from configuration.
type LinkParams struct {
	Domain      string
	Port        int
	Path        string // spiderX
	PublicKey   string
	ShortID     string
	SNI         string
	Fingerprint string
}

// BuildVLESSLink deterministically renders the reality connection string
// for a client uuid. The same inputs always produce the same link.
func BuildVLESSLink(clientUUID, name string, p LinkParams) string {
	fp := p.Fingerprint
	if fp == "" {
		fp = "chrome"
	}
	return fmt.Sprintf(
		"vless://%s@%s:%d?type=tcp&security=reality&pbk=%s&fp=%s&sni=%s&sid=%s&spx=%s&flow=xtls-rprx-vision#%s",
		clientUUID, p.Domain, p.Port,
		url.QueryEscape(p.PublicKey), fp,
		url.QueryEscape(p.SNI), url.QueryEscape(p.ShortID),
		url.QueryEscape(p.Path), url.QueryEscape(name),
	)
}

// VLESSBackend provisions clients on a 3x-ui inbound and renders the
// connection link as the deliverable config.
type VLESSBackend struct {
	Client    *XUIClient
	InboundID int
	Link      LinkParams
}

func (b *VLESSBackend) Protocol() Protocol { return ProtocolVLESS }

func (b *VLESSBackend) Provision(ctx context.Context, req ProvisionRequest) (*Credential, error) {
	clientUUID, expiresAt, err := b.Client.CreateOrExtendClient(ctx, VLESSClientSpec{
		InboundID:   b.InboundID,
		Name:        req.Name,
		TelegramID:  req.TelegramID,
		UUID:        uuid.NewString(),
		ExpiresAt:   req.ExpiresAt,
		Extension:   req.Extension,
		TrafficGB:   0, // unbounded
		DeviceLimit: req.DeviceLimit,
	})
	if err != nil {
		return nil, err
	}
	link := BuildVLESSLink(clientUUID, req.Name, b.Link)
	expiry := expiresAt
	return &Credential{
		Protocol:   ProtocolVLESS,
		ClientID:   clientUUID,
		ClientName: req.Name,
		Config:     link,
		ExpiresAt:  &expiry,
	}, nil
}
