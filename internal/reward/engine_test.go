package reward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/farmyield/backend/internal/model"
	"github.com/farmyield/backend/internal/reputation"
	"github.com/farmyield/backend/internal/store"
)

// mockStore implements store.Store with in-memory maps. Only the methods
// the reward engine touches are fully implemented; all others panic.
type mockStore struct {
	mu      sync.Mutex
	users   map[string]*model.User
	payouts map[string]*model.RewardPayout
	rewards map[string]string // report ID -> tx signature
}

func newMockStore() *mockStore {
	return &mockStore{
		users:   make(map[string]*model.User),
		payouts: make(map[string]*model.RewardPayout),
		rewards: make(map[string]string),
	}
}

func (m *mockStore) ListDuePayouts(_ context.Context, maxAttempts, limit int) ([]*model.RewardPayout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*model.RewardPayout
	for _, p := range m.payouts {
		if p.Status == model.PayoutPending && p.Attempts < maxAttempts {
			cp := *p
			due = append(due, &cp)
		}
		if len(due) == limit {
			break
		}
	}
	return due, nil
}

func (m *mockStore) UpdateRewardPayout(_ context.Context, payout *model.RewardPayout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *payout
	m.payouts[payout.ID] = &cp
	return nil
}

func (m *mockStore) SetReportReward(_ context.Context, reportID, txSignature string, _ float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rewards[reportID] = txSignature
	return nil
}

func (m *mockStore) GetUser(_ context.Context, wallet string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[wallet]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *mockStore) UpdateUser(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *user
	m.users[user.WalletAddress] = &cp
	return nil
}

func (m *mockStore) payout(id string) *model.RewardPayout {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.payouts[id]
	return &cp
}

// Unused store.Store methods.
func (m *mockStore) CreateUser(context.Context, *model.User) error { panic("not implemented") }
func (m *mockStore) ListTopUsers(context.Context, string, int) ([]*model.User, error) {
	panic("not implemented")
}
func (m *mockStore) CreateReport(context.Context, *model.Report) error { panic("not implemented") }
func (m *mockStore) GetReport(context.Context, string) (*model.Report, error) {
	panic("not implemented")
}
func (m *mockStore) GetReportByCode(context.Context, string) (*model.Report, error) {
	panic("not implemented")
}
func (m *mockStore) ListReports(context.Context, store.ReportFilter) ([]*model.Report, int, error) {
	panic("not implemented")
}
func (m *mockStore) ListReportsByWallet(context.Context, string) ([]*model.Report, error) {
	panic("not implemented")
}
func (m *mockStore) AggregateVerifiedReports(context.Context) ([]*store.CropAggregate, error) {
	panic("not implemented")
}
func (m *mockStore) RecordVote(context.Context, *model.Report, *model.Vote) error {
	panic("not implemented")
}
func (m *mockStore) ListVotesByReport(context.Context, string) ([]*model.Vote, error) {
	panic("not implemented")
}
func (m *mockStore) CreateRewardPayout(context.Context, *model.RewardPayout) error {
	panic("not implemented")
}
func (m *mockStore) GetPayoutBySignature(context.Context, string) (*model.RewardPayout, error) {
	panic("not implemented")
}
func (m *mockStore) ListPayoutsByWallet(context.Context, string) ([]*model.RewardPayout, error) {
	panic("not implemented")
}

// mockLedger records transfers and can be told to fail.
type mockLedger struct {
	mu        sync.Mutex
	transfers int
	fail      error
}

func (l *mockLedger) Transfer(_ context.Context, wallet string, _ float64, reference string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return "", l.fail
	}
	l.transfers++
	return fmt.Sprintf("sig-%s-%d", reference, l.transfers), nil
}

func (l *mockLedger) transferCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transfers
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(testWriter{t}, nil))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func seedPayout(ms *mockStore, id string) {
	now := time.Now().UTC()
	ms.payouts[id] = &model.RewardPayout{
		ID:        id,
		ReportID:  "report-" + id,
		Wallet:    "farmer-wallet",
		Amount:    0.01,
		Status:    model.PayoutPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	ms.users["farmer-wallet"] = &model.User{
		WalletAddress:   "farmer-wallet",
		TotalReports:    2,
		VerifiedReports: 1,
		JoinedAt:        now,
		LastActive:      now,
	}
}

func TestDispatchSendsPendingPayout(t *testing.T) {
	ms := newMockStore()
	ml := &mockLedger{}
	seedPayout(ms, "p1")

	engine := NewEngine(ms, ml, reputation.DefaultWeights(), 5, testLogger(t))
	sent := engine.DispatchDue(context.Background())
	if sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}

	p := ms.payout("p1")
	if p.Status != model.PayoutSent {
		t.Errorf("payout status = %s, want sent", p.Status)
	}
	if p.TxSignature == "" {
		t.Error("payout missing tx signature")
	}
	if got := ms.rewards["report-p1"]; got != p.TxSignature {
		t.Errorf("report reward signature = %q, want %q", got, p.TxSignature)
	}

	user := ms.users["farmer-wallet"]
	if user.TotalEarned != 0.01 {
		t.Errorf("totalEarned = %v, want 0.01", user.TotalEarned)
	}
	if user.ReputationScore <= 0 {
		t.Errorf("reputation = %d, want > 0", user.ReputationScore)
	}
}

func TestDispatchRetriesFailedTransfer(t *testing.T) {
	ms := newMockStore()
	ml := &mockLedger{fail: errors.New("rpc unavailable")}
	seedPayout(ms, "p1")

	engine := NewEngine(ms, ml, reputation.DefaultWeights(), 5, testLogger(t))
	ctx := context.Background()

	if sent := engine.DispatchDue(ctx); sent != 0 {
		t.Fatalf("sent = %d, want 0", sent)
	}
	p := ms.payout("p1")
	if p.Status != model.PayoutPending {
		t.Errorf("payout status = %s, want pending after first failure", p.Status)
	}
	if p.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", p.Attempts)
	}
	if p.LastError == "" {
		t.Error("last error not recorded")
	}

	// Transfer recovers; the payout goes out on the next pass.
	ml.fail = nil
	if sent := engine.DispatchDue(ctx); sent != 1 {
		t.Fatalf("sent = %d, want 1 after recovery", sent)
	}
	if p := ms.payout("p1"); p.Status != model.PayoutSent {
		t.Errorf("payout status = %s, want sent", p.Status)
	}
}

func TestDispatchMarksExhaustedPayoutFailed(t *testing.T) {
	ms := newMockStore()
	ml := &mockLedger{fail: errors.New("rpc unavailable")}
	seedPayout(ms, "p1")

	engine := NewEngine(ms, ml, reputation.DefaultWeights(), 3, testLogger(t))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		engine.DispatchDue(ctx)
	}

	p := ms.payout("p1")
	if p.Status != model.PayoutFailed {
		t.Errorf("payout status = %s, want failed", p.Status)
	}
	if p.Attempts != 3 {
		t.Errorf("attempts = %d, want 3 (stops at max)", p.Attempts)
	}
	if ml.transferCount() != 0 {
		t.Errorf("transfers = %d, want 0", ml.transferCount())
	}
}

func TestRunDrainsOnTick(t *testing.T) {
	ms := newMockStore()
	ml := &mockLedger{}
	seedPayout(ms, "p1")
	seedPayout(ms, "p2")

	engine := NewEngine(ms, ml, reputation.DefaultWeights(), 5, testLogger(t))
	engine.SetTickInterval(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = engine.Run(ctx)

	if got := ml.transferCount(); got != 2 {
		t.Errorf("transfers = %d, want 2", got)
	}
	for _, id := range []string{"p1", "p2"} {
		if p := ms.payout(id); p.Status != model.PayoutSent {
			t.Errorf("payout %s status = %s, want sent", id, p.Status)
		}
	}
}
