package fleetvuln

// ScanDiff is the set difference of two scans of the same device, keyed by
// external ID.
type ScanDiff struct {
	// identity of the scans compared
	LastScanID     string `json:"last_scan_id"`
	PreviousScanID string `json:"previous_scan_id"`

	// present previously, gone now
	Fixed []FindingBrief `json:"fixed"`
	// present now, absent previously
	New []FindingBrief `json:"new"`
	// present in both
	Unchanged []FindingBrief `json:"unchanged"`

	// per-bucket counts keyed by severity
	Counts DiffCounts `json:"counts"`
}

// DiffCounts breaks each diff bucket down by severity.
type DiffCounts struct {
	Fixed     map[Severity]int `json:"fixed"`
	New       map[Severity]int `json:"new"`
	Unchanged map[Severity]int `json:"unchanged"`
}

// RiskLevel grades a proposed version move.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// VersionComparison is the what-if result for moving a device to a target
// version.
type VersionComparison struct {
	Hostname       string `json:"hostname"`
	CurrentVersion string `json:"current_version"`
	TargetVersion  string `json:"target_version"`

	// the device's recorded last scan and the hypothetical scan at the
	// target version
	Current *ScanSummary `json:"current"`
	Target  *ScanSummary `json:"target"`

	// findings resolved and introduced by the move
	Fixed      []FindingBrief `json:"fixed"`
	Introduced []FindingBrief `json:"introduced"`

	RiskLevel RiskLevel `json:"risk_level"`
	// 0 (safe) through 100
	RiskScore int    `json:"risk_score"`
	Narrative string `json:"narrative"`
}
