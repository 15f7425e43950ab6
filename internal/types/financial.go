package types

import "time"

// =============================================================================
// FINANCIAL FACTS (SAP-style actuals and commitments)
// =============================================================================

// CommitmentRecord is a purchase-order-level financial obligation (planned
// spend). Uniqueness: (PONumber, POLineNr).
type CommitmentRecord struct {
	ID                string
	PONumber          string
	POLineNr          int
	PODate            *time.Time
	Vendor            string
	VendorDescription string
	ProjectID         string
	ProjectNr         string
	WBSElement        string
	PONetAmount       float64
	TotalAmount       float64
	Currency          string
	POStatus          string
	TaxAmount         float64
	CostCenter        string
	Description       string
	CreatedAt         time.Time
}

// ActualRecord is a posted financial transaction (realized spend).
// Uniqueness: FIDocNo.
type ActualRecord struct {
	ID           string
	FIDocNo      string
	PostingDate  *time.Time
	DocumentDate *time.Time
	Vendor       string
	ProjectID    string
	ProjectNr    string
	WBSElement   string
	Amount       float64
	Currency     string
	DocumentType string
	CostCenter   string
	Description  string
	PersonnelNr  string
	CreatedAt    time.Time
}

// VarianceStatus classifies actual spend against planned spend.
type VarianceStatus string

const (
	VarianceUnder VarianceStatus = "under"
	VarianceOn    VarianceStatus = "on"
	VarianceOver  VarianceStatus = "over"
)

// VarianceFact is a derived per-project or per-(project, WBS) comparison of
// commitments against actuals.
type VarianceFact struct {
	ProjectID       string
	ProjectName     string
	WBSElement      string // empty for project-level facts
	TotalCommitment float64
	TotalActual     float64
	Variance        float64
	VariancePct     float64
	Status          VarianceStatus
	ComputedAt      time.Time
}

// AlertSeverity grades threshold crossings.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// ThresholdRule declares when a variance triggers an alert.
// At most one active alert per (scope, rule) within Cooldown.
type ThresholdRule struct {
	ID             string
	OrganizationID string
	Name           string
	Scope          string // "organization" or "project"
	ProjectID      string // set when Scope == "project"
	ThresholdPct   float64
	Severity       AlertSeverity
	Channels       []string
	Recipients     []string
	Cooldown       time.Duration
	Enabled        bool
	CreatedAt      time.Time
}

// AlertStatus follows the monotonic chain new -> acknowledged -> resolved.
type AlertStatus string

const (
	AlertNew          AlertStatus = "new"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// VarianceAlert is a persisted threshold crossing.
type VarianceAlert struct {
	ID             string
	RuleID         string
	ProjectID      string
	WBSElement     string
	VariancePct    float64
	VarianceAmount float64
	Severity       AlertSeverity
	Status         AlertStatus
	AcknowledgedBy string
	ResolvedBy     string
	CreatedAt      time.Time
	AcknowledgedAt *time.Time
	ResolvedAt     *time.Time
}

// CanTransitionAlert reports whether an alert status change is legal.
// Backward transitions are disallowed.
func CanTransitionAlert(from, to AlertStatus) bool {
	switch from {
	case AlertNew:
		return to == AlertAcknowledged
	case AlertAcknowledged:
		return to == AlertResolved
	default:
		return false
	}
}

// =============================================================================
// IMPORT AUDIT
// =============================================================================

// ImportType distinguishes the two bulk-import pipelines.
type ImportType string

const (
	ImportActuals     ImportType = "actuals"
	ImportCommitments ImportType = "commitments"
)

// ImportStatus is the terminal state of an import run.
type ImportStatus string

const (
	ImportCompleted ImportStatus = "completed"
	ImportPartial   ImportStatus = "partial"
	ImportFailed    ImportStatus = "failed"
)

// ImportError describes one failed input row.
type ImportError struct {
	Row   int    `json:"row"`
	Field string `json:"field"`
	Value string `json:"value"`
	Error string `json:"error"`
}

// ImportResult is the outcome of a bulk import.
// Invariant: Total == SuccessCount + DuplicateCount + ErrorCount where
// ErrorCount counts affected input rows, each at most once.
type ImportResult struct {
	Success        bool          `json:"success"`
	ImportID       string        `json:"import_id"`
	Total          int           `json:"total"`
	SuccessCount   int           `json:"success_count"`
	DuplicateCount int           `json:"duplicate_count"`
	ErrorCount     int           `json:"error_count"`
	Errors         []ImportError `json:"errors"`
	Status         ImportStatus  `json:"status"`
	Message        string        `json:"message"`
}

// ImportAuditEntry is one append-only row per import run.
type ImportAuditEntry struct {
	ImportID       string
	UserID         string
	ImportType     ImportType
	Total          int
	SuccessCount   int
	DuplicateCount int
	ErrorCount     int
	Status         ImportStatus
	Errors         []ImportError
	StartedAt      time.Time
	FinishedAt     time.Time
}
