package services

import (
	"crypto/hmac"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"tiin-vpn-bot/internal/logger"
)

// defaultYooKassaSubnets are the gateway's published webhook source ranges.
var defaultYooKassaSubnets = []string{
	"185.71.76.0/27",
	"185.71.77.0/27",
	"77.75.153.0/25",
	"77.75.154.128/25",
}

// webhookEvent is the gateway's notification envelope, reduced to the fields
// the state machine consumes.
type webhookEvent struct {
	Event  string `json:"event"`
	Object struct {
		ID       string    `json:"id"`
		Status   string    `json:"status"`
		Metadata EventMeta `json:"metadata"`
	} `json:"object"`
}

// WebhookServer authenticates gateway notifications and feeds them to the
// PaymentMachine. After authentication it answers 200 for every processed
// event, successful or not — a non-200 only makes the gateway redeliver an
// event we have already decided about.
type WebhookServer struct {
	Machine  *PaymentMachine
	ShopID   string
	Secret   string
	allowNet []*net.IPNet
}

// NewWebhookServer parses the allowlist; empty cidrs means the default
// YooKassa subnets. Malformed entries are skipped with a warning rather than
// failing startup.
func NewWebhookServer(machine *PaymentMachine, shopID, secret string, cidrs []string) *WebhookServer {
	if len(cidrs) == 0 {
		cidrs = defaultYooKassaSubnets
	}
	s := &WebhookServer{Machine: machine, ShopID: shopID, Secret: secret}
	for _, c := range cidrs {
		_, ipNet, err := net.ParseCIDR(strings.TrimSpace(c))
		if err != nil {
			logger.Warn("skipping malformed webhook CIDR", zap.String("cidr", c), zap.Error(err))
			continue
		}
		s.allowNet = append(s.allowNet, ipNet)
	}
	return s
}

func (s *WebhookServer) ipAllowed(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range s.allowNet {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// checkBasicAuth compares the supplied credentials against the shop id and
// secret in constant time.
func (s *WebhookServer) checkBasicAuth(r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := hmac.Equal([]byte(user), []byte(s.ShopID))
	passOK := hmac.Equal([]byte(pass), []byte(s.Secret))
	return userOK && passOK
}

// ServeHTTP handles POST /webhook/yookassa. Contract: 405 for other methods,
// 403 before authentication succeeds, 400 only for an unparsable body, 500
// only for a storage fault, 200 for everything else.
func (s *WebhookServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.ipAllowed(r.RemoteAddr) {
		logger.Warn("webhook from unlisted address", zap.String("remote", r.RemoteAddr))
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if !s.checkBasicAuth(r) {
		logger.Warn("webhook with bad credentials", zap.String("remote", r.RemoteAddr))
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		logger.Warn("unparsable webhook body", zap.Error(err))
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	// A parsable envelope without a payment id is acknowledged and dropped:
	// redelivery cannot fix it.
	if event.Object.ID == "" {
		logger.Warn("webhook event without payment id", zap.String("event", event.Event))
		writeOutcome(w, OutcomeIgnored)
		return
	}

	outcome, err := s.Machine.ApplyGatewayStatus(r.Context(), event.Object.ID, event.Object.Status, event.Object.Metadata)
	if err != nil {
		logger.Error("webhook processing storage fault",
			zap.String("payment_id", event.Object.ID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeOutcome(w, outcome)
}

func writeOutcome(w http.ResponseWriter, outcome string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": outcome})
}
