package model

import "time"

// CropType enumerates the crops a farmer can report.
type CropType string

const (
	CropWheat     CropType = "wheat"
	CropRice      CropType = "rice"
	CropCotton    CropType = "cotton"
	CropSugarcane CropType = "sugarcane"
	CropMaize     CropType = "maize"
	CropMango     CropType = "mango"
	CropPotato    CropType = "potato"
	CropOnion     CropType = "onion"
	CropOther     CropType = "other"
)

// ValidCropType reports whether t is a known crop type.
func ValidCropType(t CropType) bool {
	switch t {
	case CropWheat, CropRice, CropCotton, CropSugarcane, CropMaize,
		CropMango, CropPotato, CropOnion, CropOther:
		return true
	}
	return false
}

// QuantityUnit enumerates the units a quantity can be reported in.
type QuantityUnit string

const (
	UnitKg     QuantityUnit = "kg"
	UnitTons   QuantityUnit = "tons"
	UnitMaunds QuantityUnit = "maunds"
	UnitAcres  QuantityUnit = "acres"
)

// ValidQuantityUnit reports whether u is a known unit.
func ValidQuantityUnit(u QuantityUnit) bool {
	switch u {
	case UnitKg, UnitTons, UnitMaunds, UnitAcres:
		return true
	}
	return false
}

// ReportStatus tracks a report through its verification lifecycle.
// Transitions are pending -> verified and pending -> rejected; both are
// terminal. Flagged is set by moderation outside the voting subsystem and
// is likewise terminal for voting purposes.
type ReportStatus string

const (
	StatusPending  ReportStatus = "pending"
	StatusVerified ReportStatus = "verified"
	StatusRejected ReportStatus = "rejected"
	StatusFlagged  ReportStatus = "flagged"
)

// VoteChoice is the closed two-variant vote enumeration.
type VoteChoice string

const (
	VoteApprove VoteChoice = "approve"
	VoteReject  VoteChoice = "reject"
)

// ValidVoteChoice reports whether c is a known vote choice.
func ValidVoteChoice(c VoteChoice) bool {
	return c == VoteApprove || c == VoteReject
}

// PayoutStatus tracks a reward payout through the outbox.
type PayoutStatus string

const (
	PayoutPending PayoutStatus = "pending"
	PayoutSent    PayoutStatus = "sent"
	PayoutFailed  PayoutStatus = "failed"
)

// Quantity is a reported crop quantity.
type Quantity struct {
	Value float64
	Unit  QuantityUnit
}

// Location is a geotagged report position with an optional address.
type Location struct {
	Latitude  float64
	Longitude float64
	District  string
	Province  string
	Village   string
}

// Metadata holds optional agronomic details attached to a report.
type Metadata struct {
	SoilType    string
	Irrigation  string
	Fertilizer  string
	HarvestDate *time.Time
	MarketPrice float64 // price per unit, 0 when not provided
}

// Image is an uploaded report photo pinned to IPFS.
type Image struct {
	CID        string    `json:"cid"`
	URL        string    `json:"url"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Verification is the voting sub-state embedded in a report.
type Verification struct {
	ApproveCount    int
	RejectCount     int
	VerifiedBy      string
	VerifiedAt      *time.Time
	RejectionReason string
}

// Blockchain holds the reward fields populated asynchronously after
// verification.
type Blockchain struct {
	RewardTxSignature string
	RewardAmount      float64
}

// Report is a geotagged crop report submitted by a farmer.
type Report struct {
	ID           string // opaque UUID
	Code         string // human-readable RPT-... code, assigned once
	FarmerWallet string // immutable after creation
	CropType     CropType
	Quantity     Quantity
	Location     Location
	Metadata     Metadata
	Images       []Image // stored as JSON in DB
	Status       ReportStatus
	Verification Verification
	Blockchain   Blockchain
	Version      int64 // optimistic concurrency counter
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Vote is a single community vote on a report. At most one vote per
// (report, wallet) pair ever exists.
type Vote struct {
	ReportID    string
	VoterWallet string
	Choice      VoteChoice
	Comment     string
	VotedAt     time.Time
}

// User is the per-wallet aggregate. TotalReports and VerifiedReports are
// monotonically non-decreasing; ReputationScore is derived from the
// counters and never mutated independently.
type User struct {
	WalletAddress   string
	Username        string
	District        string
	Province        string
	TotalReports    int
	VerifiedReports int
	TotalEarned     float64
	ReputationScore int
	JoinedAt        time.Time
	LastActive      time.Time
}

// RewardPayout is a durable outbox row for a reward owed to a farmer.
// Rows are created when a report transitions to verified and drained by
// the reward engine with at-least-once semantics.
type RewardPayout struct {
	ID          string
	ReportID    string
	Wallet      string
	Amount      float64
	Status      PayoutStatus
	TxSignature string
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
