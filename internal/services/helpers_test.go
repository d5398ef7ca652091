package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tiin-vpn-bot/internal/db"
	"tiin-vpn-bot/internal/vpn"
)

// fakeStore is an in-memory Store for exercising the payment path without
// a database.
type fakeStore struct {
	mu       sync.Mutex
	users    map[uint]*db.User
	byTg     map[int64]uint
	payments map[string]*db.Payment
	keys     []db.VPNKey
	nextID   uint

	failSetStatus bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[uint]*db.User),
		byTg:     make(map[int64]uint),
		payments: make(map[string]*db.Payment),
		nextID:   1,
	}
}

func (s *fakeStore) GetOrCreateUser(telegramID int64) (*db.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byTg[telegramID]; ok {
		u := *s.users[id]
		return &u, nil
	}
	u := &db.User{ID: s.nextID, TelegramID: telegramID}
	s.nextID++
	s.users[u.ID] = u
	s.byTg[telegramID] = u.ID
	out := *u
	return &out, nil
}

func (s *fakeStore) UserByID(id uint) (*db.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, errors.New("user not found")
	}
	out := *u
	return &out, nil
}

func (s *fakeStore) SetSubscriptionUntil(userID uint, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return errors.New("user not found")
	}
	t := until
	u.SubscriptionUntil = &t
	return nil
}

func (s *fakeStore) SetTrialActivated(userID uint, protocol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return errors.New("user not found")
	}
	switch protocol {
	case db.ProtocolAmneziaWG:
		u.AWGTrialActivated = true
	case db.ProtocolVLESS:
		u.VLESSTrialActivated = true
	}
	return nil
}

func (s *fakeStore) CreatePayment(p *db.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.payments[p.YooKassaID] = &cp
	return nil
}

func (s *fakeStore) PaymentStatus(yooKassaID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[yooKassaID]
	if !ok {
		return "", nil
	}
	return p.Status, nil
}

func (s *fakeStore) PaymentByID(yooKassaID string) (*db.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[yooKassaID]
	if !ok {
		return nil, errors.New("payment not found")
	}
	out := *p
	return &out, nil
}

func (s *fakeStore) SetPaymentStatus(yooKassaID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSetStatus {
		return errors.New("storage down")
	}
	p, ok := s.payments[yooKassaID]
	if !ok {
		return errors.New("payment not found")
	}
	p.Status = status
	return nil
}

func (s *fakeStore) PendingPaymentsBefore(cutoff time.Time) ([]db.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []db.Payment
	for _, p := range s.payments {
		if p.Status == db.PaymentPending && p.CreatedAt.Before(cutoff) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *fakeStore) UpsertVPNKey(key *db.VPNKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.keys {
		if s.keys[i].UserID == key.UserID && s.keys[i].ClientID == key.ClientID {
			id := s.keys[i].ID
			s.keys[i] = *key
			s.keys[i].ID = id
			return nil
		}
	}
	cp := *key
	cp.ID = uint(len(s.keys) + 1)
	s.keys = append(s.keys, cp)
	return nil
}

func (s *fakeStore) KeysByUser(userID uint) ([]db.VPNKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []db.VPNKey
	for _, k := range s.keys {
		if k.UserID == userID {
			out = append(out, k)
		}
	}
	return out, nil
}

// fakeBackend counts provisioning calls and can be told to fail.
type fakeBackend struct {
	protocol vpn.Protocol
	calls    int
	err      error
}

func (b *fakeBackend) Protocol() vpn.Protocol { return b.protocol }

func (b *fakeBackend) Provision(ctx context.Context, req vpn.ProvisionRequest) (*vpn.Credential, error) {
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	exp := req.ExpiresAt
	return &vpn.Credential{
		Protocol:   b.protocol,
		ClientID:   fmt.Sprintf("client-%s", req.Name),
		ClientName: req.Name,
		Config:     "config-for-" + req.Name,
		ExpiresAt:  &exp,
	}, nil
}

// fakeBot records every outgoing chattable.
type fakeBot struct {
	mu   sync.Mutex
	sent []tgbotapi.Chattable
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, c)
	return tgbotapi.Message{}, nil
}

func (b *fakeBot) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

// newTestMachine wires a machine over fakes with one pending payment for
// user tg 100 on the monthly tariff.
func newTestMachine(backendErr error) (*PaymentMachine, *fakeStore, *fakeBackend, *fakeBot) {
	store := newFakeStore()
	user, _ := store.GetOrCreateUser(100)
	store.CreatePayment(&db.Payment{
		YooKassaID: "pay-1",
		UserID:     user.ID,
		Tariff:     "monthly_30d",
		Amount:     199,
		Status:     db.PaymentPending,
		CreatedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	backend := &fakeBackend{protocol: vpn.ProtocolAmneziaWG, err: backendErr}
	bot := &fakeBot{}
	prov := &Provisioner{
		Store:    store,
		Backends: map[vpn.Protocol]vpn.Backend{vpn.ProtocolAmneziaWG: backend},
		Bot:      bot,
	}
	return &PaymentMachine{Store: store, Prov: prov, Bot: bot}, store, backend, bot
}
