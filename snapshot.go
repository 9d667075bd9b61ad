package fleetvuln

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// DeviceSnapshot is the feature-extraction result for one device, produced
// by a Collector run or read from a file in air-gapped installations.
type DeviceSnapshot struct {
	// extractor-assigned identifier, e.g. "snapshot-20260801-143000"
	SnapshotID  string    `json:"snapshot_id"`
	Platform    Platform  `json:"platform"`
	ExtractedAt time.Time `json:"extracted_at"`

	// taxonomy labels whose detection rules matched
	FeaturesPresent []string `json:"features_present"`
	FeatureCount    int      `json:"feature_count"`
	// how many detection rules ran
	TotalChecked int `json:"total_checked"`

	ExtractorVersion string `json:"extractor_version"`

	// present when the extractor could read them
	Version       string `json:"version,omitempty"`
	HardwareModel string `json:"hardware_model,omitempty"`
}

// ParseSnapshot decodes and validates a snapshot document.
//
// A zero feature_count is filled in from the feature list; a nonzero one
// that disagrees with the list is rejected.
func ParseSnapshot(r io.Reader) (*DeviceSnapshot, error) {
	const op = `parse snapshot`
	var s DeviceSnapshot
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return nil, &Error{Op: op, Kind: ErrInvalid, Message: "malformed snapshot document", Inner: err}
	}
	if s.SnapshotID == "" {
		return nil, &Error{Op: op, Kind: ErrInvalid, Message: "missing snapshot_id"}
	}
	p, err := ParsePlatform(string(s.Platform))
	if err != nil {
		return nil, err
	}
	s.Platform = p
	switch {
	case s.FeatureCount == 0:
		s.FeatureCount = len(s.FeaturesPresent)
	case s.FeatureCount != len(s.FeaturesPresent):
		return nil, &Error{
			Op:      op,
			Kind:    ErrInvalid,
			Message: fmt.Sprintf("feature_count %d disagrees with %d listed features", s.FeatureCount, len(s.FeaturesPresent)),
		}
	}
	return &s, nil
}
