package verify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/farmyield/backend/internal/model"
	"github.com/farmyield/backend/internal/reputation"
	"github.com/farmyield/backend/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockStore implements store.Store with in-memory maps. Only the methods
// the verification engine touches are fully implemented; all others panic.
type mockStore struct {
	mu      sync.Mutex
	users   map[string]*model.User
	reports map[string]*model.Report
	votes   map[string][]*model.Vote // keyed by report ID
	payouts []*model.RewardPayout

	failPayoutEnqueue error
}

func newMockStore() *mockStore {
	return &mockStore{
		users:   make(map[string]*model.User),
		reports: make(map[string]*model.Report),
		votes:   make(map[string][]*model.Vote),
	}
}

func (m *mockStore) GetReport(_ context.Context, id string) (*model.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockStore) RecordVote(_ context.Context, report *model.Report, vote *model.Vote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.reports[report.ID]
	if !ok {
		return store.ErrNotFound
	}
	for _, v := range m.votes[report.ID] {
		if v.VoterWallet == vote.VoterWallet {
			return store.ErrDuplicateVote
		}
	}
	if cur.Version != report.Version {
		return store.ErrVersionConflict
	}
	m.votes[report.ID] = append(m.votes[report.ID], vote)
	cp := *report
	cp.Version++
	m.reports[report.ID] = &cp
	report.Version++
	return nil
}

func (m *mockStore) ListVotesByReport(_ context.Context, reportID string) ([]*model.Vote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.Vote(nil), m.votes[reportID]...), nil
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

func (m *mockStore) CreateRewardPayout(_ context.Context, payout *model.RewardPayout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPayoutEnqueue != nil {
		return m.failPayoutEnqueue
	}
	m.payouts = append(m.payouts, payout)
	return nil
}

func (m *mockStore) pendingPayouts() []*model.RewardPayout {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.RewardPayout(nil), m.payouts...)
}

// Unused store.Store methods.
func (m *mockStore) CreateUser(context.Context, *model.User) error { panic("not implemented") }
func (m *mockStore) ListTopUsers(context.Context, string, int) ([]*model.User, error) {
	panic("not implemented")
}
func (m *mockStore) CreateReport(context.Context, *model.Report) error { panic("not implemented") }
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
func (m *mockStore) ListDuePayouts(context.Context, int, int) ([]*model.RewardPayout, error) {
	panic("not implemented")
}
func (m *mockStore) UpdateRewardPayout(context.Context, *model.RewardPayout) error {
	panic("not implemented")
}
func (m *mockStore) SetReportReward(context.Context, string, string, float64) error {
	panic("not implemented")
}
func (m *mockStore) GetPayoutBySignature(context.Context, string) (*model.RewardPayout, error) {
	panic("not implemented")
}
func (m *mockStore) ListPayoutsByWallet(context.Context, string) ([]*model.RewardPayout, error) {
	panic("not implemented")
}

func newTestEngine(t *testing.T) (*Engine, *mockStore) {
	t.Helper()
	ms := newMockStore()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	return NewEngine(ms, DefaultConfig(), reputation.DefaultWeights(), logger), ms
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func seedReport(ms *mockStore, id, wallet string) {
	now := time.Now().UTC()
	ms.reports[id] = &model.Report{
		ID:           id,
		Code:         "RPT-1714650000000-TESTCODE1",
		FarmerWallet: wallet,
		CropType:     model.CropWheat,
		Status:       model.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	ms.users[wallet] = &model.User{
		WalletAddress: wallet,
		Username:      "Farmer_test",
		TotalReports:  1,
		JoinedAt:      now,
		LastActive:    now,
	}
}

func TestThirdApprovalVerifiesReport(t *testing.T) {
	engine, ms := newTestEngine(t)
	seedReport(ms, "r1", "farmer-wallet")
	ctx := context.Background()

	res, err := engine.CastVote(ctx, "r1", "voter-a", model.VoteApprove, "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, res.Status)
	assert.Equal(t, 1, res.ApproveVotes)

	res, err = engine.CastVote(ctx, "r1", "voter-b", model.VoteApprove, "looks right")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, res.Status)

	res, err = engine.CastVote(ctx, "r1", "voter-c", model.VoteApprove, "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusVerified, res.Status)
	assert.Equal(t, 3, res.ApproveVotes)

	rpt := ms.reports["r1"]
	assert.Equal(t, model.StatusVerified, rpt.Status)
	assert.Equal(t, "voter-c", rpt.Verification.VerifiedBy)
	require.NotNil(t, rpt.Verification.VerifiedAt)

	payouts := ms.pendingPayouts()
	require.Len(t, payouts, 1)
	assert.Equal(t, "r1", payouts[0].ReportID)
	assert.Equal(t, "farmer-wallet", payouts[0].Wallet)
	assert.Equal(t, 0.01, payouts[0].Amount)
	assert.Equal(t, model.PayoutPending, payouts[0].Status)

	owner := ms.users["farmer-wallet"]
	assert.Equal(t, 1, owner.VerifiedReports)
	assert.Greater(t, owner.ReputationScore, 0)
}

func TestThirdRejectionRejectsReport(t *testing.T) {
	engine, ms := newTestEngine(t)
	seedReport(ms, "r1", "farmer-wallet")
	ctx := context.Background()

	for i, voter := range []string{"voter-a", "voter-b"} {
		res, err := engine.CastVote(ctx, "r1", voter, model.VoteReject, "")
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, res.Status)
		assert.Equal(t, i+1, res.RejectVotes)
	}

	res, err := engine.CastVote(ctx, "r1", "voter-c", model.VoteReject, "fake photo")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, res.Status)

	rpt := ms.reports["r1"]
	assert.Equal(t, model.StatusRejected, rpt.Status)
	assert.Equal(t, "Community rejected", rpt.Verification.RejectionReason)
	assert.Empty(t, ms.pendingPayouts(), "rejection must not enqueue a payout")
}

func TestDuplicateVoteLeavesTalliesUnchanged(t *testing.T) {
	engine, ms := newTestEngine(t)
	seedReport(ms, "r1", "farmer-wallet")
	ctx := context.Background()

	_, err := engine.CastVote(ctx, "r1", "voter-a", model.VoteApprove, "")
	require.NoError(t, err)

	_, err = engine.CastVote(ctx, "r1", "voter-a", model.VoteReject, "")
	assert.ErrorIs(t, err, ErrDuplicateVote)

	rpt := ms.reports["r1"]
	assert.Equal(t, 1, rpt.Verification.ApproveCount)
	assert.Equal(t, 0, rpt.Verification.RejectCount)
}

func TestVoteOnProcessedReportFails(t *testing.T) {
	engine, ms := newTestEngine(t)
	seedReport(ms, "r1", "farmer-wallet")
	ctx := context.Background()

	for _, voter := range []string{"voter-a", "voter-b", "voter-c"} {
		_, err := engine.CastVote(ctx, "r1", voter, model.VoteApprove, "")
		require.NoError(t, err)
	}

	_, err := engine.CastVote(ctx, "r1", "voter-d", model.VoteApprove, "")
	assert.ErrorIs(t, err, ErrAlreadyProcessed)

	_, err = engine.CastVote(ctx, "r1", "voter-e", model.VoteReject, "")
	assert.ErrorIs(t, err, ErrAlreadyProcessed)

	assert.Len(t, ms.pendingPayouts(), 1, "only one payout per report")
}

func TestInputValidation(t *testing.T) {
	engine, ms := newTestEngine(t)
	seedReport(ms, "r1", "farmer-wallet")
	ctx := context.Background()

	_, err := engine.CastVote(ctx, "r1", "voter-a", "maybe", "")
	assert.ErrorIs(t, err, ErrInvalidChoice)

	_, err = engine.CastVote(ctx, "r1", "", model.VoteApprove, "")
	assert.ErrorIs(t, err, ErrMissingVoter)

	_, err = engine.CastVote(ctx, "missing", "voter-a", model.VoteApprove, "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPayoutEnqueueFailureNotSurfacedToVoter(t *testing.T) {
	engine, ms := newTestEngine(t)
	seedReport(ms, "r1", "farmer-wallet")
	ms.failPayoutEnqueue = fmt.Errorf("disk full")
	ctx := context.Background()

	for _, voter := range []string{"voter-a", "voter-b"} {
		_, err := engine.CastVote(ctx, "r1", voter, model.VoteApprove, "")
		require.NoError(t, err)
	}
	res, err := engine.CastVote(ctx, "r1", "voter-c", model.VoteApprove, "")
	require.NoError(t, err, "enqueue failure must not fail the vote")
	assert.Equal(t, model.StatusVerified, res.Status)
	assert.Equal(t, model.StatusVerified, ms.reports["r1"].Status)
	assert.Empty(t, ms.pendingPayouts())
}

func TestConcurrentVotesProduceOneTransition(t *testing.T) {
	engine, ms := newTestEngine(t)
	seedReport(ms, "r1", "farmer-wallet")
	ctx := context.Background()

	const voters = 10
	var wg sync.WaitGroup
	errs := make([]error, voters)
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.CastVote(ctx, "r1", fmt.Sprintf("voter-%d", i), model.VoteApprove, "")
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyProcessed)
		}
	}
	assert.Equal(t, 3, accepted, "exactly threshold votes land before the transition")

	rpt := ms.reports["r1"]
	assert.Equal(t, model.StatusVerified, rpt.Status)
	assert.Equal(t, 3, rpt.Verification.ApproveCount)
	assert.Len(t, ms.pendingPayouts(), 1, "exactly one payout enqueued")
}
