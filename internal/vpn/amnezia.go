package vpn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// AmneziaWGClient talks to the wg-easy style web UI API of an AmneziaWG
// node. The API is guarded by a password-for-cookie session; the cookie is
// cached and refreshed lazily so every call can be made without an explicit
// login step.
type AmneziaWGClient struct {
	baseURL    string
	password   string
	httpClient *http.Client

	mu      sync.Mutex
	session *http.Cookie
}

// WGClient is one peer as reported by the control plane.
type WGClient struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Enabled   bool   `json:"enabled"`
	Address   string `json:"address"`
	PublicKey string `json:"publicKey"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func NewAmneziaWGClient(baseURL, password string) *AmneziaWGClient {
	return &AmneziaWGClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		password: password,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *AmneziaWGClient) Protocol() Protocol { return ProtocolAmneziaWG }

// Login exchanges the shared password for a session cookie.
func (c *AmneziaWGClient) Login(ctx context.Context) error {
	body, _ := json.Marshal(map[string]string{"password": c.password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/session", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("amnezia login returned status %d", resp.StatusCode)
	}
	for _, ck := range resp.Cookies() {
		if ck.Name == "connect.sid" {
			c.mu.Lock()
			c.session = ck
			c.mu.Unlock()
			return nil
		}
	}
	return fmt.Errorf("amnezia login: no session cookie in response")
}

func (c *AmneziaWGClient) ensureSession(ctx context.Context) error {
	c.mu.Lock()
	have := c.session != nil
	c.mu.Unlock()
	if have {
		return nil
	}
	return c.Login(ctx)
}

func (c *AmneziaWGClient) do(ctx context.Context, method, path string, payload interface{}) (*http.Response, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.Lock()
	req.AddCookie(c.session)
	c.mu.Unlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	return resp, nil
}

// CreateClient registers a new peer and returns its id, assigned address
// and public key. A backend-side client ceiling surfaces as
// ErrCapacityExceeded.
func (c *AmneziaWGClient) CreateClient(ctx context.Context, name string) (*WGClient, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/wireguard/client", map[string]string{"name": name})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusInternalServerError {
		respBody, _ := io.ReadAll(resp.Body)
		if strings.Contains(string(respBody), "Maximum number of clients reached") {
			return nil, ErrCapacityExceeded
		}
		return nil, fmt.Errorf("amnezia create client: %s", string(respBody))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("amnezia create client returned status %d", resp.StatusCode)
	}

	// The control plane does not always echo the created object, so the
	// fresh peer is located by name in the client list.
	clients, err := c.ListClients(ctx)
	if err != nil {
		return nil, err
	}
	for i := range clients {
		if clients[i].Name == name {
			return &clients[i], nil
		}
	}
	return nil, fmt.Errorf("amnezia client %q not found after creation", name)
}

// GetConfig fetches the client configuration text for delivery. An empty
// body is treated as failure.
func (c *AmneziaWGClient) GetConfig(ctx context.Context, clientID string) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/wireguard/client/"+clientID+"/configuration", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("amnezia get config returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("amnezia get config: empty configuration for client %s", clientID)
	}
	return string(data), nil
}

func (c *AmneziaWGClient) ListClients(ctx context.Context) ([]WGClient, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/wireguard/client", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("amnezia list clients returned status %d", resp.StatusCode)
	}
	var clients []WGClient
	if err := json.NewDecoder(resp.Body).Decode(&clients); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return clients, nil
}

// Administrative lifecycle operations; not on the payment path.

func (c *AmneziaWGClient) EnableClient(ctx context.Context, clientID string) error {
	return c.simplePost(ctx, "/api/wireguard/client/"+clientID+"/enable")
}

func (c *AmneziaWGClient) DisableClient(ctx context.Context, clientID string) error {
	return c.simplePost(ctx, "/api/wireguard/client/"+clientID+"/disable")
}

func (c *AmneziaWGClient) RenameClient(ctx context.Context, clientID, newName string) error {
	resp, err := c.do(ctx, http.MethodPut, "/api/wireguard/client/"+clientID+"/name", map[string]string{"name": newName})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("amnezia rename client returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *AmneziaWGClient) DeleteClient(ctx context.Context, clientID string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/api/wireguard/client/"+clientID, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("amnezia delete client returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *AmneziaWGClient) simplePost(ctx context.Context, path string) error {
	resp, err := c.do(ctx, http.MethodPost, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("amnezia %s returned status %d", path, resp.StatusCode)
	}
	return nil
}

// Ping checks that the control plane answers at all. Used by the health
// probe job.
func (c *AmneziaWGClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/session", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Provision runs the payment-critical create-then-fetch sequence.
func (c *AmneziaWGClient) Provision(ctx context.Context, req ProvisionRequest) (*Credential, error) {
	created, err := c.CreateClient(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	config, err := c.GetConfig(ctx, created.ID)
	if err != nil {
		return nil, err
	}
	expires := req.ExpiresAt
	return &Credential{
		Protocol:   ProtocolAmneziaWG,
		ClientID:   created.ID,
		ClientName: req.Name,
		Address:    &created.Address,
		PublicKey:  &created.PublicKey,
		Config:     config,
		ExpiresAt:  &expires,
	}, nil
}
