package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const yooKassaAPI = "https://api.yookassa.ru/v3/payments"

// YooKassaClient is a thin client for the two payment-gateway calls the bot
// makes: creating a payment with a redirect confirmation and polling one by
// id during reconciliation.
type YooKassaClient struct {
	ShopID     string
	Secret     string
	HTTPClient *http.Client
}

func NewYooKassaClient(shopID, secret string) *YooKassaClient {
	return &YooKassaClient{
		ShopID:     shopID,
		Secret:     secret,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// GatewayPayment is the subset of the gateway's payment object the bot reads.
type GatewayPayment struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Confirmation struct {
		ConfirmationURL string `json:"confirmation_url"`
	} `json:"confirmation"`
	Metadata EventMeta `json:"metadata"`
}

// PaymentRequest carries what the gateway needs to register a payment. The
// metadata bag is echoed back in the webhook and lets the handler pick the
// protocol without a DB lookup.
type PaymentRequest struct {
	TelegramID  int64
	Username    string
	TariffID    string
	VPNType     string
	Description string
	Amount      int // rubles
	IsRenew     bool
}

// CreatePayment registers a payment and returns its gateway id and the
// confirmation URL the user must visit.
func (c *YooKassaClient) CreatePayment(ctx context.Context, pr PaymentRequest) (*GatewayPayment, error) {
	body := map[string]interface{}{
		"amount":       map[string]string{"value": fmt.Sprintf("%d.00", pr.Amount), "currency": "RUB"},
		"confirmation": map[string]string{"type": "redirect", "return_url": "https://t.me"},
		"capture":      true,
		"description":  pr.Description,
		"metadata": map[string]string{
			"tg_id":    fmt.Sprintf("%d", pr.TelegramID),
			"tariff":   pr.TariffID,
			"vpn_type": pr.VPNType,
			"username": pr.Username,
			"is_renew": fmt.Sprintf("%t", pr.IsRenew),
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, yooKassaAPI, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", uuid.NewString())
	req.SetBasicAuth(c.ShopID, c.Secret)

	return c.doPayment(req)
}

// GetPayment polls the current state of a payment, used by the pending
// reconciler when a webhook never arrived.
func (c *YooKassaClient) GetPayment(ctx context.Context, id string) (*GatewayPayment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, yooKassaAPI+"/"+id, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.ShopID, c.Secret)
	return c.doPayment(req)
}

func (c *YooKassaClient) doPayment(req *http.Request) (*GatewayPayment, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("yookassa %s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, snippet)
	}
	var gp GatewayPayment
	if err := json.NewDecoder(resp.Body).Decode(&gp); err != nil {
		return nil, fmt.Errorf("decode yookassa response: %w", err)
	}
	return &gp, nil
}
