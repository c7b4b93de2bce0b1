package store

import (
	"context"
	"errors"

	"github.com/farmyield/backend/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrDuplicateVote is returned when a vote for the same (report, wallet)
// pair already exists. The votes table primary key is the storage-level
// backstop behind the engine's application-level check.
var ErrDuplicateVote = errors.New("wallet already voted on this report")

// ErrVersionConflict is returned when a report write loses an optimistic
// concurrency race and must be retried against fresh state.
var ErrVersionConflict = errors.New("report was modified concurrently")

// ReportFilter narrows ListReports. Zero values mean "no filter".
type ReportFilter struct {
	Status   model.ReportStatus
	CropType model.CropType
	Province string
	District string
	Wallet   string
	Limit    int
	Page     int // 1-based
}

// CropAggregate is a per-district, per-crop rollup of verified reports
// used by the map endpoint.
type CropAggregate struct {
	District      string
	CropType      model.CropType
	TotalQuantity float64
	AvgPrice      float64
	ReportCount   int
	Latitude      float64
	Longitude     float64
}

// Store defines the persistence interface for the FarmYield backend.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, wallet string) (*model.User, error)
	UpdateUser(ctx context.Context, user *model.User) error
	ListTopUsers(ctx context.Context, sortBy string, limit int) ([]*model.User, error)

	// Reports
	CreateReport(ctx context.Context, report *model.Report) error
	GetReport(ctx context.Context, id string) (*model.Report, error)
	GetReportByCode(ctx context.Context, code string) (*model.Report, error)
	ListReports(ctx context.Context, filter ReportFilter) ([]*model.Report, int, error)
	ListReportsByWallet(ctx context.Context, wallet string) ([]*model.Report, error)
	AggregateVerifiedReports(ctx context.Context) ([]*CropAggregate, error)

	// Votes. RecordVote atomically inserts the vote and writes the
	// report's updated verification state, guarded by the report's
	// version counter.
	RecordVote(ctx context.Context, report *model.Report, vote *model.Vote) error
	ListVotesByReport(ctx context.Context, reportID string) ([]*model.Vote, error)

	// Reward payouts
	CreateRewardPayout(ctx context.Context, payout *model.RewardPayout) error
	ListDuePayouts(ctx context.Context, maxAttempts, limit int) ([]*model.RewardPayout, error)
	UpdateRewardPayout(ctx context.Context, payout *model.RewardPayout) error
	SetReportReward(ctx context.Context, reportID, txSignature string, amount float64) error
	GetPayoutBySignature(ctx context.Context, txSignature string) (*model.RewardPayout, error)
	ListPayoutsByWallet(ctx context.Context, wallet string) ([]*model.RewardPayout, error)
}
