package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/farmyield/backend/internal/model"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrationsFS embed.FS

const timeFormat = "2006-01-02 15:04:05"

// SQLiteStore implements Store backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens a SQLite database at the given path and runs migrations.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename to ensure order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		data, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("execute migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

// --- Users ---

func (s *SQLiteStore) CreateUser(ctx context.Context, user *model.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (wallet_address, username, district, province, total_reports, verified_reports, total_earned, reputation_score, joined_at, last_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.WalletAddress, user.Username, user.District, user.Province,
		user.TotalReports, user.VerifiedReports, user.TotalEarned, user.ReputationScore,
		user.JoinedAt.UTC().Format(timeFormat), user.LastActive.UTC().Format(timeFormat))
	return err
}

const userColumns = `wallet_address, username, district, province, total_reports, verified_reports, total_earned, reputation_score, joined_at, last_active`

func (s *SQLiteStore) GetUser(ctx context.Context, wallet string) (*model.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE wallet_address = ?`, wallet))
}

func (s *SQLiteStore) UpdateUser(ctx context.Context, user *model.User) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET username = ?, district = ?, province = ?, total_reports = ?,
		 verified_reports = ?, total_earned = ?, reputation_score = ?, last_active = ?
		 WHERE wallet_address = ?`,
		user.Username, user.District, user.Province, user.TotalReports,
		user.VerifiedReports, user.TotalEarned, user.ReputationScore,
		user.LastActive.UTC().Format(timeFormat), user.WalletAddress)
	return err
}

// ListTopUsers returns users ordered by the given leaderboard field:
// "reputation", "reports", or "earnings".
func (s *SQLiteStore) ListTopUsers(ctx context.Context, sortBy string, limit int) ([]*model.User, error) {
	orderCol := "reputation_score"
	switch sortBy {
	case "reports":
		orderCol = "total_reports"
	case "earnings":
		orderCol = "total_earned"
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY `+orderCol+` DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanUser(row scannable) (*model.User, error) {
	var u model.User
	var joinedAt, lastActive string
	err := row.Scan(&u.WalletAddress, &u.Username, &u.District, &u.Province,
		&u.TotalReports, &u.VerifiedReports, &u.TotalEarned, &u.ReputationScore,
		&joinedAt, &lastActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.JoinedAt, _ = time.Parse(timeFormat, joinedAt)
	u.LastActive, _ = time.Parse(timeFormat, lastActive)
	return &u, nil
}

// --- Reports ---

const reportColumns = `id, code, farmer_wallet, crop_type, quantity_value, quantity_unit,
	latitude, longitude, district, province, village,
	soil_type, irrigation, fertilizer, harvest_date, market_price,
	images, status, approve_count, reject_count, verified_by, verified_at, rejection_reason,
	reward_tx_signature, reward_amount, version, created_at, updated_at`

func (s *SQLiteStore) CreateReport(ctx context.Context, r *model.Report) error {
	imagesJSON, err := json.Marshal(r.Images)
	if err != nil {
		return fmt.Errorf("marshal images: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reports (`+reportColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Code, r.FarmerWallet, string(r.CropType), r.Quantity.Value, string(r.Quantity.Unit),
		r.Location.Latitude, r.Location.Longitude, r.Location.District, r.Location.Province, r.Location.Village,
		r.Metadata.SoilType, r.Metadata.Irrigation, r.Metadata.Fertilizer,
		nullTime(r.Metadata.HarvestDate), r.Metadata.MarketPrice,
		string(imagesJSON), string(r.Status),
		r.Verification.ApproveCount, r.Verification.RejectCount,
		r.Verification.VerifiedBy, nullTime(r.Verification.VerifiedAt), r.Verification.RejectionReason,
		r.Blockchain.RewardTxSignature, r.Blockchain.RewardAmount, r.Version,
		r.CreatedAt.UTC().Format(timeFormat), r.UpdatedAt.UTC().Format(timeFormat))
	return err
}

func (s *SQLiteStore) GetReport(ctx context.Context, id string) (*model.Report, error) {
	return scanReport(s.db.QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE id = ?`, id))
}

func (s *SQLiteStore) GetReportByCode(ctx context.Context, code string) (*model.Report, error) {
	return scanReport(s.db.QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE code = ?`, code))
}

func (s *SQLiteStore) ListReports(ctx context.Context, filter ReportFilter) ([]*model.Report, int, error) {
	where, args := reportFilterClause(filter)

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reports`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	listArgs := append(append([]interface{}{}, args...), limit, (page-1)*limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reportColumns+` FROM reports`+where+` ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	reports, err := scanReportRows(rows)
	return reports, total, err
}

func reportFilterClause(filter ReportFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.CropType != "" {
		conds = append(conds, "crop_type = ?")
		args = append(args, string(filter.CropType))
	}
	if filter.Province != "" {
		conds = append(conds, "province = ?")
		args = append(args, filter.Province)
	}
	if filter.District != "" {
		conds = append(conds, "district = ?")
		args = append(args, filter.District)
	}
	if filter.Wallet != "" {
		conds = append(conds, "farmer_wallet = ?")
		args = append(args, filter.Wallet)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *SQLiteStore) ListReportsByWallet(ctx context.Context, wallet string) ([]*model.Report, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE farmer_wallet = ? ORDER BY created_at DESC`,
		wallet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReportRows(rows)
}

// AggregateVerifiedReports rolls up verified reports by district and crop
// for the map view. The representative coordinates are those of the first
// report in each group.
func (s *SQLiteStore) AggregateVerifiedReports(ctx context.Context) ([]*CropAggregate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT district, crop_type, SUM(quantity_value), AVG(market_price), COUNT(*),
		        MIN(latitude), MIN(longitude)
		 FROM reports WHERE status = 'verified'
		 GROUP BY district, crop_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var aggs []*CropAggregate
	for rows.Next() {
		var a CropAggregate
		var cropType string
		var avgPrice sql.NullFloat64
		if err := rows.Scan(&a.District, &cropType, &a.TotalQuantity, &avgPrice,
			&a.ReportCount, &a.Latitude, &a.Longitude); err != nil {
			return nil, err
		}
		a.CropType = model.CropType(cropType)
		a.AvgPrice = avgPrice.Float64
		aggs = append(aggs, &a)
	}
	return aggs, rows.Err()
}

func scanReport(row scannable) (*model.Report, error) {
	var r model.Report
	var cropType, unit, imagesJSON, status string
	var harvestDate, verifiedAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&r.ID, &r.Code, &r.FarmerWallet, &cropType, &r.Quantity.Value, &unit,
		&r.Location.Latitude, &r.Location.Longitude, &r.Location.District, &r.Location.Province, &r.Location.Village,
		&r.Metadata.SoilType, &r.Metadata.Irrigation, &r.Metadata.Fertilizer, &harvestDate, &r.Metadata.MarketPrice,
		&imagesJSON, &status, &r.Verification.ApproveCount, &r.Verification.RejectCount,
		&r.Verification.VerifiedBy, &verifiedAt, &r.Verification.RejectionReason,
		&r.Blockchain.RewardTxSignature, &r.Blockchain.RewardAmount, &r.Version,
		&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.CropType = model.CropType(cropType)
	r.Quantity.Unit = model.QuantityUnit(unit)
	_ = json.Unmarshal([]byte(imagesJSON), &r.Images)
	r.Status = model.ReportStatus(status)
	r.Metadata.HarvestDate = parseNullTime(harvestDate)
	r.Verification.VerifiedAt = parseNullTime(verifiedAt)
	r.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	r.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
	return &r, nil
}

func scanReportRows(rows *sql.Rows) ([]*model.Report, error) {
	var reports []*model.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// --- Votes ---

// RecordVote inserts the vote and persists the report's verification state
// in one transaction. The report UPDATE is guarded by the version counter:
// if another writer got there first the transaction rolls back with
// ErrVersionConflict and the caller must re-read the report.
func (s *SQLiteStore) RecordVote(ctx context.Context, r *model.Report, v *model.Vote) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO votes (report_id, voter_wallet, choice, comment, voted_at)
		 VALUES (?, ?, ?, ?, ?)`,
		v.ReportID, v.VoterWallet, string(v.Choice), v.Comment,
		v.VotedAt.UTC().Format(timeFormat))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateVote
		}
		return fmt.Errorf("insert vote: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE reports SET status = ?, approve_count = ?, reject_count = ?,
		 verified_by = ?, verified_at = ?, rejection_reason = ?,
		 version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		string(r.Status), r.Verification.ApproveCount, r.Verification.RejectCount,
		r.Verification.VerifiedBy, nullTime(r.Verification.VerifiedAt), r.Verification.RejectionReason,
		time.Now().UTC().Format(timeFormat), r.ID, r.Version)
	if err != nil {
		return fmt.Errorf("update report verification: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit vote: %w", err)
	}
	r.Version++
	return nil
}

func (s *SQLiteStore) ListVotesByReport(ctx context.Context, reportID string) ([]*model.Vote, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT report_id, voter_wallet, choice, comment, voted_at
		 FROM votes WHERE report_id = ? ORDER BY voted_at`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var votes []*model.Vote
	for rows.Next() {
		var v model.Vote
		var choice, votedAt string
		if err := rows.Scan(&v.ReportID, &v.VoterWallet, &choice, &v.Comment, &votedAt); err != nil {
			return nil, err
		}
		v.Choice = model.VoteChoice(choice)
		v.VotedAt, _ = time.Parse(timeFormat, votedAt)
		votes = append(votes, &v)
	}
	return votes, rows.Err()
}

// --- Reward Payouts ---

const payoutColumns = `id, report_id, wallet, amount, status, tx_signature, attempts, last_error, created_at, updated_at`

func (s *SQLiteStore) CreateRewardPayout(ctx context.Context, p *model.RewardPayout) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reward_payouts (`+payoutColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ReportID, p.Wallet, p.Amount, string(p.Status), p.TxSignature,
		p.Attempts, p.LastError,
		p.CreatedAt.UTC().Format(timeFormat), p.UpdatedAt.UTC().Format(timeFormat))
	return err
}

func (s *SQLiteStore) ListDuePayouts(ctx context.Context, maxAttempts, limit int) ([]*model.RewardPayout, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+payoutColumns+` FROM reward_payouts
		 WHERE status = 'pending' AND attempts < ?
		 ORDER BY created_at LIMIT ?`, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPayoutRows(rows)
}

func (s *SQLiteStore) UpdateRewardPayout(ctx context.Context, p *model.RewardPayout) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reward_payouts SET status = ?, tx_signature = ?, attempts = ?, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		string(p.Status), p.TxSignature, p.Attempts, p.LastError,
		time.Now().UTC().Format(timeFormat), p.ID)
	return err
}

// SetReportReward records the completed reward transfer on the report.
// Only the reward engine writes these fields, so no version guard is needed.
func (s *SQLiteStore) SetReportReward(ctx context.Context, reportID, txSignature string, amount float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reports SET reward_tx_signature = ?, reward_amount = ?, updated_at = ? WHERE id = ?`,
		txSignature, amount, time.Now().UTC().Format(timeFormat), reportID)
	return err
}

func (s *SQLiteStore) GetPayoutBySignature(ctx context.Context, txSignature string) (*model.RewardPayout, error) {
	return scanPayout(s.db.QueryRowContext(ctx,
		`SELECT `+payoutColumns+` FROM reward_payouts WHERE tx_signature = ?`, txSignature))
}

func (s *SQLiteStore) ListPayoutsByWallet(ctx context.Context, wallet string) ([]*model.RewardPayout, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+payoutColumns+` FROM reward_payouts WHERE wallet = ? ORDER BY created_at DESC LIMIT 100`,
		wallet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPayoutRows(rows)
}

func scanPayout(row scannable) (*model.RewardPayout, error) {
	var p model.RewardPayout
	var status, createdAt, updatedAt string
	err := row.Scan(&p.ID, &p.ReportID, &p.Wallet, &p.Amount, &status, &p.TxSignature,
		&p.Attempts, &p.LastError, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Status = model.PayoutStatus(status)
	p.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	p.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
	return &p, nil
}

func scanPayoutRows(rows *sql.Rows) ([]*model.RewardPayout, error) {
	var payouts []*model.RewardPayout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}

// --- Helpers ---

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeFormat), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, _ := time.Parse(timeFormat, s.String)
	return &t
}
