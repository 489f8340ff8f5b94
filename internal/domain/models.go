// Package domain contains the core types shared across the reconciliation
// pipeline. The domain layer is pure: no database, HTTP, or logging
// dependencies.
package domain

import (
	"strings"
	"time"
)

// DateLayout is the canonical wire format for business dates (file dates,
// snapshot dates, sold dates). Timestamps are Unix seconds.
const DateLayout = "2006-01-02"

// PositionStatus tracks the lifecycle of a reconciled position.
type PositionStatus string

const (
	// PositionActive - present in the latest custodian file
	PositionActive PositionStatus = "active"
	// PositionSold - absent from a newer file for the same portfolio
	PositionSold PositionStatus = "sold"
	// PositionSuperseded - replaced by a regenerated record
	PositionSuperseded PositionStatus = "superseded"
)

// SoldReasonNotInBankFile marks positions inferred sold because they
// disappeared from the custodian file.
const SoldReasonNotInBankFile = "not_in_bank_file"

// Position is one line of a custodian position file, enriched over time.
// Identity is the UniqueKey derived by the key generator; everything else
// is updated in place on every re-import while the position is present.
type Position struct {
	UniqueKey      string                 `json:"unique_key"`
	BankID         string                 `json:"bank_id"`
	PortfolioCode  string                 `json:"portfolio_code"`
	AccountNumber  string                 `json:"account_number"`
	OwnerID        string                 `json:"owner_id"`
	ISIN           string                 `json:"isin,omitempty"`
	PositionNumber string                 `json:"position_number,omitempty"`
	InstrumentCode string                 `json:"instrument_code,omitempty"`
	SecurityName   string                 `json:"security_name"`
	AssetClass     string                 `json:"asset_class"`
	SecurityType   string                 `json:"security_type"`
	Currency       string                 `json:"currency"`
	Quantity       float64                `json:"quantity"`
	MarketPrice    float64                `json:"market_price"`
	MarketValue    float64                `json:"market_value"`
	CostPrice      *float64               `json:"cost_price,omitempty"`
	SnapshotDate   string                 `json:"snapshot_date"`
	FileDate       string                 `json:"file_date"`
	SourceFile     string                 `json:"source_file,omitempty"`
	BankData       map[string]interface{} `json:"bank_data,omitempty"`

	Status     PositionStatus `json:"status"`
	IsLatest   bool           `json:"is_latest"`
	SoldAt     string         `json:"sold_at,omitempty"`
	SoldReason string         `json:"sold_reason,omitempty"`
	CreatedAt  int64          `json:"created_at"`
	UpdatedAt  int64          `json:"updated_at"`
}

// IsCash reports whether the position is a cash line. Custodians flag cash
// either via security type or asset class, never consistently.
func (p Position) IsCash() bool {
	switch strings.ToLower(p.SecurityType) {
	case "cash", "cash_account", "liquidity":
		return true
	}
	switch strings.ToLower(p.AssetClass) {
	case "cash", "liquidity", "cash_equivalent":
		return true
	}
	return false
}

// Batch is one parsed custodian file: an ordered list of normalized
// positions plus file-level identity. Produced by the upstream parser.
type Batch struct {
	BankID     string     `json:"bank_id"`
	FileDate   string     `json:"file_date"`
	SourceFile string     `json:"source_file,omitempty"`
	Positions  []Position `json:"positions"`
}

// GroupKey identifies a (bank, portfolio) reconciliation scope. Sold
// detection and redemption scans never cross group boundaries.
type GroupKey struct {
	BankID        string
	PortfolioCode string
}

// BatchContext carries the per-group accumulator state through the
// pipeline stages. Explicit and scoped: no ambient shared collections.
type BatchContext struct {
	Group         GroupKey
	OwnerID       string
	AccountID     string
	FileDate      string
	TriggeredBy   string
	ProcessedKeys map[string]bool // unique keys seen in this batch
	PresentISINs  map[string]bool // ISINs present in this batch
}

// NewBatchContext creates an empty context for one (bank, portfolio) group.
func NewBatchContext(group GroupKey, fileDate, triggeredBy string) *BatchContext {
	return &BatchContext{
		Group:         group,
		FileDate:      fileDate,
		TriggeredBy:   triggeredBy,
		ProcessedKeys: make(map[string]bool),
		PresentISINs:  make(map[string]bool),
	}
}

// PositionError records a single failed position without aborting the batch.
type PositionError struct {
	PortfolioCode string `json:"portfolio_code"`
	ISIN          string `json:"isin,omitempty"`
	Error         string `json:"error"`
}

// BatchResult is the structured outcome of one import run. A run with
// skips or per-position errors is still a completed run; callers must be
// able to distinguish "completed" from "zero problems".
type BatchResult struct {
	RunID       string          `json:"run_id"`
	BankID      string          `json:"bank_id"`
	FileDate    string          `json:"file_date"`
	SourceFile  string          `json:"source_file,omitempty"`
	TriggeredBy string          `json:"triggered_by,omitempty"`
	Created     int             `json:"created"`
	Updated     int             `json:"updated"`
	Unchanged   int             `json:"unchanged"`
	Skipped     int             `json:"skipped"`
	Sold        int             `json:"sold"`
	Unmapped    []string        `json:"unmapped_codes"`
	Errors      []PositionError `json:"errors"`
	ElapsedMS   int64           `json:"elapsed_ms"`
}

// Merge folds a per-group result into the batch-level aggregate.
func (r *BatchResult) Merge(other BatchResult) {
	r.Created += other.Created
	r.Updated += other.Updated
	r.Unchanged += other.Unchanged
	r.Skipped += other.Skipped
	r.Sold += other.Sold
	r.Unmapped = append(r.Unmapped, other.Unmapped...)
	r.Errors = append(r.Errors, other.Errors...)
}

// Clean reports whether the run completed without skips or errors.
func (r *BatchResult) Clean() bool {
	return r.Skipped == 0 && len(r.Unmapped) == 0 && len(r.Errors) == 0
}

// Account is the internal representation of a client's custodial account.
// Read-only to the reconciliation core.
type Account struct {
	ID                    string  `json:"id"`
	AccountNumber         string  `json:"account_number"`
	BankID                string  `json:"bank_id"`
	OwnerID               string  `json:"owner_id"`
	RelationshipManagerID string  `json:"relationship_manager_id,omitempty"`
	AuthorizedOverdraft   float64 `json:"authorized_overdraft"`
	Active                bool    `json:"active"`
}

// UserRole distinguishes alert recipients.
type UserRole string

const (
	RoleAdmin               UserRole = "admin"
	RoleRelationshipManager UserRole = "rm"
	RoleClient              UserRole = "client"
)

// User is an alert recipient.
type User struct {
	ID     string   `json:"id"`
	Email  string   `json:"email"`
	Role   UserRole `json:"role"`
	Active bool     `json:"active"`
}

// Product is an internal product record matched by ISIN during enrichment.
type Product struct {
	ID             string                 `json:"id"`
	ISIN           string                 `json:"isin"`
	Name           string                 `json:"name"`
	AssetClass     string                 `json:"asset_class,omitempty"`
	ProductType    string                 `json:"product_type,omitempty"`
	Classification map[string]interface{} `json:"classification,omitempty"`
}

// AllocationStatus tracks the lifecycle of a client allocation.
type AllocationStatus string

const (
	AllocationActive   AllocationStatus = "active"
	AllocationRedeemed AllocationStatus = "redeemed"
)

// AllocationSource records how the allocation came to exist.
type AllocationSource string

const (
	SourceBankAuto AllocationSource = "bank_auto"
	SourceManual   AllocationSource = "manual"
)

// Allocation is a client's claim on a specific product, derived from
// observed positions.
type Allocation struct {
	ID                 string           `json:"id"`
	ProductID          string           `json:"product_id"`
	ClientID           string           `json:"client_id"`
	BankAccountID      string           `json:"bank_account_id,omitempty"`
	NominalInvested    float64          `json:"nominal_invested"`
	PurchasePrice      float64          `json:"purchase_price"`
	Status             AllocationStatus `json:"status"`
	Source             AllocationSource `json:"source"`
	LastSeenInBankFile string           `json:"last_seen_in_bank_file,omitempty"`
	RedeemedAt         string           `json:"redeemed_at,omitempty"`
	CreatedAt          int64            `json:"created_at"`
	UpdatedAt          int64            `json:"updated_at"`
}

// PortfolioSnapshot is an immutable-per-day aggregate of one portfolio's
// positions. Re-running the same (portfolio, date) overwrites it.
type PortfolioSnapshot struct {
	OwnerID       string             `json:"owner_id"`
	BankID        string             `json:"bank_id"`
	PortfolioCode string             `json:"portfolio_code"`
	SnapshotDate  string             `json:"snapshot_date"`
	TotalValue    float64            `json:"total_value"`
	CashBalance   float64            `json:"cash_balance"`
	Breakdown     map[string]float64 `json:"breakdown"`
	CreatedAt     int64              `json:"created_at"`
}

// RiskProfile holds per-account allocation limits. Accounts without a
// profile are exempt from breach evaluation - no default limits exist.
type RiskProfile struct {
	AccountID         string  `json:"account_id"`
	MaxCashPct        float64 `json:"max_cash_pct"`
	MaxBondsPct       float64 `json:"max_bonds_pct"`
	MaxEquitiesPct    float64 `json:"max_equities_pct"`
	MaxAlternativePct float64 `json:"max_alternative_pct"`
}

// AlertEventType identifies a risk alert family.
type AlertEventType string

const (
	EventAllocationBreach      AlertEventType = "allocation_breach"
	EventUnauthorizedOverdraft AlertEventType = "unauthorized_overdraft"
)

// Alert is a dedupable live-condition flag, not a permanent audit record.
type Alert struct {
	ID         string                 `json:"id"`
	EventType  AlertEventType         `json:"event_type"`
	MatchKey   string                 `json:"match_key"`
	Title      string                 `json:"title"`
	Message    string                 `json:"message"`
	Recipients []string               `json:"recipients"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  int64                  `json:"created_at"`
}

// Breach is one allocation category exceeding its configured maximum.
type Breach struct {
	Category   string  `json:"category"`
	CurrentPct float64 `json:"current_pct"`
	LimitPct   float64 `json:"limit_pct"`
}

// ParseDate parses a canonical business date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}
