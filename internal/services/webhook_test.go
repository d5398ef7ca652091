package services

import (
	"net/http/httptest"
	"strings"
	"testing"

	"tiin-vpn-bot/internal/db"
)

const (
	testShopID = "shop-123"
	testSecret = "sk-test"
)

func newTestServer(machineErr bool) (*WebhookServer, *fakeStore, *fakeBackend) {
	machine, store, backend, _ := newTestMachine(nil)
	store.failSetStatus = machineErr
	// 203.0.113.0/24 stands in for the gateway's ranges.
	return NewWebhookServer(machine, testShopID, testSecret, []string{"203.0.113.0/24"}), store, backend
}

func postEvent(srv *WebhookServer, remoteAddr, user, pass, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/webhook/yookassa", strings.NewReader(body))
	req.RemoteAddr = remoteAddr
	if user != "" {
		req.SetBasicAuth(user, pass)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

const succeededEvent = `{"event":"payment.succeeded","object":{"id":"pay-1","status":"succeeded","metadata":{"tg_id":"100","tariff":"monthly_30d","vpn_type":"amneziawg"}}}`

func TestWebhookHappyPath(t *testing.T) {
	srv, store, backend := newTestServer(false)

	w := postEvent(srv, "203.0.113.10:5555", testShopID, testSecret, succeededEvent)
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"paid"`) {
		t.Errorf("body = %s", w.Body.String())
	}
	if status, _ := store.PaymentStatus("pay-1"); status != db.PaymentPaid {
		t.Errorf("stored status = %q", status)
	}
	if backend.calls != 1 {
		t.Errorf("backend calls = %d", backend.calls)
	}
}

func TestWebhookRejectsNonPost(t *testing.T) {
	srv, _, _ := newTestServer(false)
	req := httptest.NewRequest("GET", "/webhook/yookassa", nil)
	req.RemoteAddr = "203.0.113.10:5555"
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != 405 {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestWebhookRejectsUnlistedIP(t *testing.T) {
	srv, store, backend := newTestServer(false)

	w := postEvent(srv, "198.51.100.7:443", testShopID, testSecret, succeededEvent)
	if w.Code != 403 {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if status, _ := store.PaymentStatus("pay-1"); status != db.PaymentPending {
		t.Errorf("state changed despite rejected source: %q", status)
	}
	if backend.calls != 0 {
		t.Error("backend called despite rejected source")
	}
}

func TestWebhookRejectsBadCredentials(t *testing.T) {
	srv, store, _ := newTestServer(false)

	for _, tc := range []struct{ user, pass string }{
		{"", ""},
		{testShopID, "wrong"},
		{"wrong", testSecret},
	} {
		w := postEvent(srv, "203.0.113.10:5555", tc.user, tc.pass, succeededEvent)
		if w.Code != 403 {
			t.Errorf("user=%q pass=%q: status = %d, want 403", tc.user, tc.pass, w.Code)
		}
	}
	if status, _ := store.PaymentStatus("pay-1"); status != db.PaymentPending {
		t.Errorf("state changed despite rejected credentials: %q", status)
	}
}

func TestWebhookBadJSON(t *testing.T) {
	srv, store, _ := newTestServer(false)

	w := postEvent(srv, "203.0.113.10:5555", testShopID, testSecret, "{not json")
	if w.Code != 400 {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if status, _ := store.PaymentStatus("pay-1"); status != db.PaymentPending {
		t.Errorf("state changed on unparsable body: %q", status)
	}
}

func TestWebhookMissingPaymentID(t *testing.T) {
	srv, _, _ := newTestServer(false)

	w := postEvent(srv, "203.0.113.10:5555", testShopID, testSecret, `{"event":"payment.succeeded","object":{}}`)
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200 (acknowledged drop)", w.Code)
	}
	if !strings.Contains(w.Body.String(), OutcomeIgnored) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestWebhookUnknownPaymentReturns200(t *testing.T) {
	srv, _, _ := newTestServer(false)

	event := `{"event":"payment.succeeded","object":{"id":"ghost","status":"succeeded"}}`
	w := postEvent(srv, "203.0.113.10:5555", testShopID, testSecret, event)
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), OutcomeIgnored) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestWebhookStorageFaultReturns500(t *testing.T) {
	srv, _, _ := newTestServer(true)

	event := `{"event":"payment.canceled","object":{"id":"pay-1","status":"canceled"}}`
	w := postEvent(srv, "203.0.113.10:5555", testShopID, testSecret, event)
	if w.Code != 500 {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestWebhookDefaultAllowlist(t *testing.T) {
	srv := NewWebhookServer(nil, testShopID, testSecret, nil)

	for addr, want := range map[string]bool{
		"185.71.76.5:443":    true,
		"77.75.153.100:1234": true,
		"77.75.154.200:1234": true,
		"8.8.8.8:443":        false,
		"77.75.154.1:443":    false, // below the /25 of the last range
	} {
		if got := srv.ipAllowed(addr); got != want {
			t.Errorf("ipAllowed(%s) = %v, want %v", addr, got, want)
		}
	}
}

func TestWebhookEndToEnd(t *testing.T) {
	srv, store, backend := newTestServer(false)

	// Gateway redelivers the same success three times; one credential.
	for i := 0; i < 3; i++ {
		if w := postEvent(srv, "203.0.113.10:5555", testShopID, testSecret, succeededEvent); w.Code != 200 {
			t.Fatalf("delivery %d: status = %d", i, w.Code)
		}
	}
	if backend.calls != 1 {
		t.Errorf("backend calls = %d, want 1", backend.calls)
	}
	keys, _ := store.KeysByUser(1)
	if len(keys) != 1 {
		t.Errorf("keys = %d, want 1", len(keys))
	}

	// A late cancellation cannot claw back the paid state.
	late := `{"event":"payment.canceled","object":{"id":"pay-1","status":"canceled"}}`
	if w := postEvent(srv, "203.0.113.10:5555", testShopID, testSecret, late); w.Code != 200 {
		t.Fatalf("late cancel: status = %d", w.Code)
	}
	if status, _ := store.PaymentStatus("pay-1"); status != db.PaymentPaid {
		t.Errorf("status regressed to %q", status)
	}
}
