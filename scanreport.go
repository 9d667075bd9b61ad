package fleetvuln

import "time"

// ScanRequest describes one device position to assess.
type ScanRequest struct {
	// the platform to enumerate candidates for
	Platform Platform `json:"platform"`
	// the running software version, raw. parsed once per scan
	Version string `json:"version"`
	// hardware model. empty disables the hardware filter
	HardwareModel string `json:"hardware_model,omitempty"`
	// taxonomy labels observed on the device. empty disables the feature
	// filter
	Features []string `json:"features,omitempty"`
	// severities to keep. empty keeps all
	SeverityFilter []Severity `json:"severity_filter,omitempty"`
	// pagination over the combined finding sequence. zero Limit means no
	// pagination
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Validate checks the request before any store work happens.
func (r *ScanRequest) Validate() error {
	const op = `scanrequest validate`
	if _, err := ParsePlatform(string(r.Platform)); err != nil {
		return err
	}
	if _, err := ParseVersion(r.Version); err != nil {
		return &Error{Op: op, Kind: ErrInvalid, Message: "unparseable device version: " + r.Version, Inner: err}
	}
	if r.Limit < 0 || r.Offset < 0 {
		return &Error{Op: op, Kind: ErrInvalid, Message: "negative limit or offset"}
	}
	return nil
}

// ScanSummary is the compact record of one scan, small enough to hang two of
// off every device row.
type ScanSummary struct {
	// unique ID of the scan. addresses the full ScanReport in the store
	ScanID    string    `json:"scan_id"`
	Timestamp time.Time `json:"timestamp"`

	// the device position that was scanned
	Platform      Platform `json:"platform"`
	Version       string   `json:"version"`
	HardwareModel string   `json:"hardware_model,omitempty"`

	// match counts split by record kind
	TotalBugs            int `json:"total_bugs"`
	BugCriticalHigh      int `json:"bug_critical_high"`
	TotalAdvisories      int `json:"total_psirts"`
	AdvisoryCriticalHigh int `json:"psirt_critical_high"`

	// candidates dropped by each filter stage
	HardwareFiltered int `json:"hardware_filtered_count"`
	FeatureFiltered  int `json:"feature_filtered_count"`

	// store read time for the candidate enumeration
	QueryTimeMS int64 `json:"query_time_ms"`
}

// ScanReport is the full result body for one scan, stored addressable by
// scan_id.
//
// Critical and High findings carry full detail; Medium and below are
// collapsed to identity and a first-sentence summary.
type ScanReport struct {
	ScanSummary

	// candidates enumerated for the platform before any filter ran
	TotalChecked int `json:"total_checked"`
	// candidates surviving the version filter
	VersionMatches int `json:"version_matches"`

	CriticalHigh []Finding      `json:"critical_high"`
	MediumLow    []FindingBrief `json:"medium_low"`
}

// Finding is a matched vulnerability reported with full detail.
type Finding struct {
	ExternalID string   `json:"external_id"`
	Kind       VulnKind `json:"kind"`
	Severity   Severity `json:"severity"`
	Headline   string   `json:"headline"`
	Summary    string   `json:"summary"`
	// the raw affected-versions expression, echoed for auditability
	AffectedVersions string `json:"affected_versions"`
	FixedVersion     string `json:"fixed_version,omitempty"`
	AdvisoryURL      string `json:"url,omitempty"`
	Labels           []string `json:"labels,omitempty"`
	// why the version filter matched this record
	Reason string `json:"reason"`
	// true when the record had no labels and survived the feature filter on
	// the conservative clause. a manual-review indicator
	Unlabeled bool `json:"unlabeled,omitempty"`
}

// FindingBrief is a matched vulnerability collapsed for the medium-and-below
// partition and for comparison output.
type FindingBrief struct {
	ExternalID string   `json:"external_id"`
	Kind       VulnKind `json:"kind"`
	Severity   Severity `json:"severity"`
	Headline   string   `json:"headline"`
	// first sentence of the record summary
	Summary   string `json:"summary"`
	Unlabeled bool   `json:"unlabeled,omitempty"`
}

// Findings flattens the report back into one sequence, critical partition
// first. Useful for diffing two reports.
func (r *ScanReport) Findings() []FindingBrief {
	out := make([]FindingBrief, 0, len(r.CriticalHigh)+len(r.MediumLow))
	for i := range r.CriticalHigh {
		f := &r.CriticalHigh[i]
		out = append(out, FindingBrief{
			ExternalID: f.ExternalID,
			Kind:       f.Kind,
			Severity:   f.Severity,
			Headline:   f.Headline,
			Summary:    f.Summary,
			Unlabeled:  f.Unlabeled,
		})
	}
	out = append(out, r.MediumLow...)
	return out
}
