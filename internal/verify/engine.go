// Package verify implements the community verification voting engine.
// Votes accumulate on pending reports; crossing the approve threshold
// verifies the report and enqueues a reward payout, crossing the reject
// threshold rejects it. Both transitions are terminal.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/farmyield/backend/internal/model"
	"github.com/farmyield/backend/internal/reputation"
	"github.com/farmyield/backend/internal/store"
	"github.com/google/uuid"
)

// Guard violations reported synchronously to the voter.
var (
	ErrInvalidChoice    = errors.New(`vote must be "approve" or "reject"`)
	ErrMissingVoter     = errors.New("voter wallet is required")
	ErrAlreadyProcessed = errors.New("report already processed")
	ErrDuplicateVote    = errors.New("already voted on this report")
)

// rejectionReason is recorded when the community rejects a report.
const rejectionReason = "Community rejected"

// casRetries bounds re-reads after losing a version race to another
// process. In-process callers are already serialized per report.
const casRetries = 3

// Config holds the engine's tunables.
type Config struct {
	ApproveThreshold int
	RejectThreshold  int
	RewardAmount     float64
}

// DefaultConfig returns the standard three-vote thresholds and the 0.01
// token reward.
func DefaultConfig() Config {
	return Config{
		ApproveThreshold: 3,
		RejectThreshold:  3,
		RewardAmount:     0.01,
	}
}

// Result is the outcome of a successfully recorded vote.
type Result struct {
	ReportCode   string
	Status       model.ReportStatus
	ApproveVotes int
	RejectVotes  int
}

// Engine applies votes to reports and drives status transitions.
type Engine struct {
	store   store.Store
	cfg     Config
	weights reputation.Weights
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[string]*reportLock
}

type reportLock struct {
	mu   sync.Mutex
	refs int
}

// NewEngine creates a verification engine.
func NewEngine(s store.Store, cfg Config, weights reputation.Weights, logger *slog.Logger) *Engine {
	return &Engine{
		store:   s,
		cfg:     cfg,
		weights: weights,
		logger:  logger,
		locks:   make(map[string]*reportLock),
	}
}

// lockReport serializes vote application per report within this process.
// Entries are refcounted so the lock map does not grow with report count.
func (e *Engine) lockReport(id string) func() {
	e.mu.Lock()
	l, ok := e.locks[id]
	if !ok {
		l = &reportLock{}
		e.locks[id] = l
	}
	l.refs++
	e.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		e.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(e.locks, id)
		}
		e.mu.Unlock()
	}
}

// CastVote records a vote by voterWallet on the given report and applies
// any resulting status transition. At most one transition and one reward
// payout ever occur per report: callers are serialized per report in
// process, and the store write is guarded by the report version across
// processes.
func (e *Engine) CastVote(ctx context.Context, reportID, voterWallet string, choice model.VoteChoice, comment string) (*Result, error) {
	if !model.ValidVoteChoice(choice) {
		return nil, ErrInvalidChoice
	}
	if voterWallet == "" {
		return nil, ErrMissingVoter
	}

	unlock := e.lockReport(reportID)
	defer unlock()

	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		res, err := e.castVoteOnce(ctx, reportID, voterWallet, choice, comment)
		if errors.Is(err, store.ErrVersionConflict) {
			lastErr = err
			continue
		}
		return res, err
	}
	return nil, fmt.Errorf("casting vote on %s: %w", reportID, lastErr)
}

func (e *Engine) castVoteOnce(ctx context.Context, reportID, voterWallet string, choice model.VoteChoice, comment string) (*Result, error) {
	rpt, err := e.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}

	if rpt.Status != model.StatusPending {
		return nil, ErrAlreadyProcessed
	}

	votes, err := e.store.ListVotesByReport(ctx, reportID)
	if err != nil {
		return nil, fmt.Errorf("listing votes for %s: %w", reportID, err)
	}
	for _, v := range votes {
		if v.VoterWallet == voterWallet {
			return nil, ErrDuplicateVote
		}
	}

	now := time.Now().UTC()
	vote := &model.Vote{
		ReportID:    reportID,
		VoterWallet: voterWallet,
		Choice:      choice,
		Comment:     comment,
		VotedAt:     now,
	}

	if choice == model.VoteApprove {
		rpt.Verification.ApproveCount++
	} else {
		rpt.Verification.RejectCount++
	}

	// A single vote increments exactly one counter, so at most one of
	// these guards can fire. Approve is checked first regardless.
	verified := false
	switch {
	case rpt.Verification.ApproveCount >= e.cfg.ApproveThreshold:
		rpt.Status = model.StatusVerified
		rpt.Verification.VerifiedBy = voterWallet
		rpt.Verification.VerifiedAt = &now
		verified = true
	case rpt.Verification.RejectCount >= e.cfg.RejectThreshold:
		rpt.Status = model.StatusRejected
		rpt.Verification.RejectionReason = rejectionReason
	}

	if err := e.store.RecordVote(ctx, rpt, vote); err != nil {
		if errors.Is(err, store.ErrDuplicateVote) {
			return nil, ErrDuplicateVote
		}
		return nil, err
	}

	if verified {
		e.onVerified(ctx, rpt)
	}

	return &Result{
		ReportCode:   rpt.Code,
		Status:       rpt.Status,
		ApproveVotes: rpt.Verification.ApproveCount,
		RejectVotes:  rpt.Verification.RejectCount,
	}, nil
}

// onVerified applies the post-transition side effects: owner stats and the
// durable reward enqueue. The transition is already committed, so failures
// here are logged rather than surfaced to the voter.
func (e *Engine) onVerified(ctx context.Context, rpt *model.Report) {
	user, err := e.store.GetUser(ctx, rpt.FarmerWallet)
	switch {
	case err != nil:
		e.logger.Error("loading report owner after verification",
			"report_id", rpt.ID, "wallet", rpt.FarmerWallet, "error", err)
	default:
		user.VerifiedReports++
		user.ReputationScore = reputation.Score(e.weights,
			user.TotalReports, user.VerifiedReports, user.TotalEarned)
		if err := e.store.UpdateUser(ctx, user); err != nil {
			e.logger.Error("updating owner stats after verification",
				"report_id", rpt.ID, "wallet", rpt.FarmerWallet, "error", err)
		}
	}

	now := time.Now().UTC()
	payout := &model.RewardPayout{
		ID:        uuid.New().String(),
		ReportID:  rpt.ID,
		Wallet:    rpt.FarmerWallet,
		Amount:    e.cfg.RewardAmount,
		Status:    model.PayoutPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateRewardPayout(ctx, payout); err != nil {
		e.logger.Error("enqueueing reward payout",
			"report_id", rpt.ID, "wallet", rpt.FarmerWallet, "error", err)
		return
	}

	e.logger.Info("report verified",
		"report_id", rpt.ID,
		"report_code", rpt.Code,
		"verified_by", rpt.Verification.VerifiedBy,
		"payout_id", payout.ID,
	)
}
