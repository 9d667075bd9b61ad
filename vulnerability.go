package fleetvuln

import "time"

// VulnKind distinguishes the two record populations in the store.
type VulnKind string

const (
	// KindBug is a vendor bug-tracker record (CSCxx...).
	KindBug VulnKind = "bug"
	// KindAdvisory is a published security advisory (cisco-sa-...).
	KindAdvisory VulnKind = "advisory"
)

// LabelsSource records how a vulnerability's labels were produced.
type LabelsSource string

const (
	// LabelsTraining means the labels came from the curated training corpus.
	LabelsTraining LabelsSource = "training"
	// LabelsLLM means the labels were written back by the label predictor.
	LabelsLLM LabelsSource = "llm"
	// LabelsManual means an operator set the labels by hand.
	LabelsManual LabelsSource = "manual"
	// LabelsImported means the labels arrived in an offline update package.
	LabelsImported LabelsSource = "imported"
)

// Vulnerability is one bug or advisory record.
type Vulnerability struct {
	// unique ID of this vulnerability. this is created by the store on insert
	// and used for persistence and index rows
	ID string `json:"id"`
	// the vendor-assigned identifier, e.g. "CSCwx12345" or "cisco-sa-...".
	// unique across the store
	ExternalID string `json:"external_id"`
	// bug or advisory
	Kind VulnKind `json:"kind"`
	// the platform this record applies to
	Platform Platform `json:"platform"`
	// hardware model this record is scoped to. empty means it applies to any
	// hardware on the platform
	HardwareModel string `json:"hardware_model,omitempty"`
	// vendor severity, 1 (Critical) through 6 (Enhancement)
	Severity Severity `json:"severity"`
	// one-line title
	Headline string `json:"headline"`
	// free-form description. input to the label predictor
	Summary string `json:"summary"`
	// tracker status, e.g. "Fixed", "Open"
	Status string `json:"status,omitempty"`
	// link to the vendor advisory page
	AdvisoryURL string `json:"url,omitempty"`
	// the affected-versions expression, raw text plus parsed projection
	AffectedVersions VersionExpr `json:"affected_versions"`
	// first version carrying the fix, if published
	FixedVersion *Version `json:"fixed_version,omitempty"`
	// taxonomy labels naming the device features this record implicates
	Labels []string `json:"labels,omitempty"`
	// where the labels came from
	LabelsSource LabelsSource `json:"labels_source,omitempty"`
	// confidence attached to the labels when they were written. zero means
	// unset and reads as authoritative (1.0)
	LabelsConfidence float64 `json:"labels_confidence,omitempty"`

	Created  time.Time `json:"created_at"`
	Modified time.Time `json:"last_modified"`
}

// Unlabeled reports whether the record has no taxonomy labels. Unlabeled
// records survive the feature filter and are flagged for manual review in
// scan output.
func (v *Vulnerability) Unlabeled() bool {
	return len(v.Labels) == 0
}

// Validate checks the fields the store refuses to persist without.
func (v *Vulnerability) Validate() error {
	const op = `vulnerability validate`
	switch {
	case v.ExternalID == "":
		return &Error{Op: op, Kind: ErrInvalid, Message: "missing external id"}
	case v.Kind != KindBug && v.Kind != KindAdvisory:
		return &Error{Op: op, Kind: ErrInvalid, Message: "kind must be bug or advisory"}
	case v.Platform == "":
		return &Error{Op: op, Kind: ErrInvalid, Message: "missing platform"}
	}
	if _, err := ParsePlatform(string(v.Platform)); err != nil {
		return err
	}
	return v.AffectedVersions.Validate()
}
