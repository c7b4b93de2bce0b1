// Package reward drains the reward payout outbox and executes transfers
// through the treasury ledger. Delivery is at-least-once with a bounded
// attempt count; a report stays verified whether or not its reward ever
// lands.
package reward

import (
	"context"
	"log/slog"
	"time"

	"github.com/farmyield/backend/internal/model"
	"github.com/farmyield/backend/internal/reputation"
	"github.com/farmyield/backend/internal/store"
)

// Ledger executes an on-chain transfer from the treasury to a wallet and
// returns the transaction signature.
type Ledger interface {
	Transfer(ctx context.Context, wallet string, amount float64, reference string) (string, error)
}

// Engine is the background payout worker.
type Engine struct {
	store        store.Store
	ledger       Ledger
	weights      reputation.Weights
	maxAttempts  int
	batchSize    int
	tickInterval time.Duration
	logger       *slog.Logger
}

// NewEngine creates a reward engine. maxAttempts bounds how often a payout
// is retried before being marked failed.
func NewEngine(s store.Store, l Ledger, weights reputation.Weights, maxAttempts int, logger *slog.Logger) *Engine {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Engine{
		store:        s,
		ledger:       l,
		weights:      weights,
		maxAttempts:  maxAttempts,
		batchSize:    50,
		tickInterval: 30 * time.Second,
		logger:       logger,
	}
}

// SetTickInterval overrides the default tick interval (for testing).
func (e *Engine) SetTickInterval(d time.Duration) {
	e.tickInterval = d
}

// Run starts a ticker loop that drains due payouts on each tick. It blocks
// until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	// Run once immediately on start so payouts left over from a previous
	// run are picked up without waiting a full tick.
	e.DispatchDue(ctx)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("reward engine shutting down")
			return ctx.Err()
		case <-ticker.C:
			e.DispatchDue(ctx)
		}
	}
}

// DispatchDue processes one batch of pending payouts. It returns the
// number of payouts that were sent successfully.
func (e *Engine) DispatchDue(ctx context.Context) int {
	due, err := e.store.ListDuePayouts(ctx, e.maxAttempts, e.batchSize)
	if err != nil {
		e.logger.Error("listing due payouts", "error", err)
		return 0
	}

	sent := 0
	for _, p := range due {
		if err := e.dispatch(ctx, p); err != nil {
			e.logger.Error("dispatching payout",
				"payout_id", p.ID,
				"report_id", p.ReportID,
				"wallet", p.Wallet,
				"attempts", p.Attempts,
				"error", err,
			)
			continue
		}
		sent++
	}

	if len(due) > 0 {
		e.logger.Info("payout batch complete", "due", len(due), "sent", sent)
	}
	return sent
}

// dispatch executes a single payout. On transfer failure the attempt count
// is bumped; the row stays pending until maxAttempts is exhausted, then it
// is marked failed and left for operator inspection.
func (e *Engine) dispatch(ctx context.Context, p *model.RewardPayout) error {
	sig, err := e.ledger.Transfer(ctx, p.Wallet, p.Amount, p.ReportID)
	if err != nil {
		p.Attempts++
		p.LastError = err.Error()
		if p.Attempts >= e.maxAttempts {
			p.Status = model.PayoutFailed
		}
		if uerr := e.store.UpdateRewardPayout(ctx, p); uerr != nil {
			e.logger.Error("recording payout failure", "payout_id", p.ID, "error", uerr)
		}
		return err
	}

	p.Status = model.PayoutSent
	p.TxSignature = sig
	p.Attempts++
	p.LastError = ""
	if err := e.store.UpdateRewardPayout(ctx, p); err != nil {
		// The transfer went through; a retry would double-pay. Log loudly
		// and leave reconciliation to the operator.
		e.logger.Error("payout sent but not recorded",
			"payout_id", p.ID, "tx_signature", sig, "error", err)
		return nil
	}

	if err := e.store.SetReportReward(ctx, p.ReportID, sig, p.Amount); err != nil {
		e.logger.Error("recording reward on report",
			"payout_id", p.ID, "report_id", p.ReportID, "error", err)
	}

	e.creditEarnings(ctx, p)

	e.logger.Info("reward sent",
		"payout_id", p.ID,
		"report_id", p.ReportID,
		"wallet", p.Wallet,
		"amount", p.Amount,
		"tx_signature", sig,
	)
	return nil
}

// creditEarnings adds the payout amount to the farmer's lifetime earnings
// and recomputes their reputation.
func (e *Engine) creditEarnings(ctx context.Context, p *model.RewardPayout) {
	user, err := e.store.GetUser(ctx, p.Wallet)
	if err != nil {
		e.logger.Error("loading user for earnings credit",
			"payout_id", p.ID, "wallet", p.Wallet, "error", err)
		return
	}
	user.TotalEarned += p.Amount
	user.ReputationScore = reputation.Score(e.weights,
		user.TotalReports, user.VerifiedReports, user.TotalEarned)
	if err := e.store.UpdateUser(ctx, user); err != nil {
		e.logger.Error("updating user earnings",
			"payout_id", p.ID, "wallet", p.Wallet, "error", err)
	}
}
