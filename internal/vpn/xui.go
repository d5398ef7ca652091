package vpn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxPlausibleExpiry guards the read-modify-write extension against a
// corrupt stored expiry absurdly far in the future: anything beyond this
// horizon is reset to "now" before extending.
const maxPlausibleExpiry = 10 * 365 * 24 * time.Hour

// XUIClient manages a 3x-ui panel. Clients are not REST resources of their
// own: they live inside an inbound's settings JSON and are read-modified-
// written as a batch.
type XUIClient struct {
	host       string
	username   string
	password   string
	httpClient *http.Client

	mu       sync.Mutex
	loggedIn bool
}

type Inbound struct {
	ID       int    `json:"id"`
	Remark   string `json:"remark"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
	Settings string `json:"settings"`
	Enable   bool   `json:"enable"`
}

type InboundSettings struct {
	Clients []ClientEntry `json:"clients"`
}

// ClientEntry is one client record embedded in an inbound.
type ClientEntry struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	LimitIP    int    `json:"limitIp"`
	TotalGB    int64  `json:"totalGB"`
	ExpiryTime int64  `json:"expiryTime"` // unix millis, 0 = unbounded
	Enable     bool   `json:"enable"`
	TelegramID int64  `json:"tgId"`
	SubID      string `json:"subId"`
	Flow       string `json:"flow,omitempty"`
	Reset      int    `json:"reset"`
}

type apiResponse struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Obj     json.RawMessage `json:"obj"`
}

func NewXUIClient(host, username, password string) *XUIClient {
	jar, _ := cookiejar.New(nil)
	return &XUIClient{
		host:     strings.TrimRight(host, "/"),
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
		},
	}
}

// Login exchanges the panel credentials for a session cookie kept in the
// client's jar.
func (c *XUIClient) Login(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	var result apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("xui login failed: %s", result.Msg)
	}
	c.mu.Lock()
	c.loggedIn = true
	c.mu.Unlock()
	return nil
}

func (c *XUIClient) ensureLogin(ctx context.Context) error {
	c.mu.Lock()
	ok := c.loggedIn
	c.mu.Unlock()
	if ok {
		return nil
	}
	return c.Login(ctx)
}

func (c *XUIClient) ListInbounds(ctx context.Context) ([]Inbound, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/panel/api/inbounds/list", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	var result apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("xui list inbounds failed: %s", result.Msg)
	}
	var inbounds []Inbound
	if err := json.Unmarshal(result.Obj, &inbounds); err != nil {
		return nil, fmt.Errorf("decode inbounds: %w", err)
	}
	return inbounds, nil
}

func (c *XUIClient) postClients(ctx context.Context, path string, inboundID int, clients []ClientEntry) error {
	settings, err := json.Marshal(InboundSettings{Clients: clients})
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	payload, err := json.Marshal(map[string]interface{}{
		"id":       inboundID,
		"settings": string(settings),
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	var result apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("xui %s failed: %s", path, result.Msg)
	}
	return nil
}

// VLESSClientSpec describes the client to create or extend inside an
// inbound.
type VLESSClientSpec struct {
	InboundID   int
	Name        string
	TelegramID  int64
	UUID        string
	ExpiresAt   time.Time     // used for a new client
	Extension   time.Duration // applied to the stored expiry when the client exists
	TrafficGB   int64
	DeviceLimit int
}

// CreateOrExtendClient upserts a client keyed by the Telegram id. An
// existing client keeps its uuid and gets its expiry pushed out from
// max(stored, now); a fresh one is inserted with the spec's expiry. The
// read-modify-write is not atomic on the panel side; provisioning per user
// is serialized upstream by the payment dedup gate.
func (c *XUIClient) CreateOrExtendClient(ctx context.Context, spec VLESSClientSpec) (clientUUID string, expiresAt time.Time, err error) {
	if err := c.ensureLogin(ctx); err != nil {
		return "", time.Time{}, err
	}
	inbounds, err := c.ListInbounds(ctx)
	if err != nil {
		return "", time.Time{}, err
	}

	var inbound *Inbound
	for i := range inbounds {
		if inbounds[i].ID == spec.InboundID {
			inbound = &inbounds[i]
			break
		}
	}
	if inbound == nil {
		return "", time.Time{}, fmt.Errorf("xui inbound %d not found", spec.InboundID)
	}

	var settings InboundSettings
	if err := json.Unmarshal([]byte(inbound.Settings), &settings); err != nil {
		return "", time.Time{}, fmt.Errorf("decode inbound settings: %w", err)
	}

	now := time.Now()
	for _, entry := range settings.Clients {
		if entry.TelegramID != spec.TelegramID {
			continue
		}
		entry.ExpiryTime = extendedExpiry(entry.ExpiryTime, spec.Extension, now)
		entry.LimitIP = spec.DeviceLimit
		entry.TotalGB = spec.TrafficGB
		entry.Enable = true
		if err := c.postClients(ctx, "/panel/api/inbounds/updateClient/"+entry.ID, spec.InboundID, []ClientEntry{entry}); err != nil {
			return "", time.Time{}, err
		}
		return entry.ID, time.UnixMilli(entry.ExpiryTime), nil
	}

	entry := ClientEntry{
		ID:         spec.UUID,
		Email:      spec.Name,
		LimitIP:    spec.DeviceLimit,
		TotalGB:    spec.TrafficGB,
		ExpiryTime: spec.ExpiresAt.UnixMilli(),
		Enable:     true,
		TelegramID: spec.TelegramID,
		SubID:      strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		Flow:       "xtls-rprx-vision",
	}
	if err := c.postClients(ctx, "/panel/api/inbounds/addClient", spec.InboundID, []ClientEntry{entry}); err != nil {
		return "", time.Time{}, err
	}
	return entry.ID, spec.ExpiresAt, nil
}

// extendedExpiry pushes an expiry in unix millis out by d, counting from
// whichever of the stored expiry and now is later. A stored value beyond
// the plausible horizon is treated as corrupt and reset to now first.
func extendedExpiry(currentMillis int64, d time.Duration, now time.Time) int64 {
	base := now
	if current := time.UnixMilli(currentMillis); current.After(now) {
		if current.After(now.Add(maxPlausibleExpiry)) {
			base = now
		} else {
			base = current
		}
	}
	return base.Add(d).UnixMilli()
}

// Ping checks panel reachability for the health probe job.
func (c *XUIClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/login", nil)
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
