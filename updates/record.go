package updates

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fleetvuln/fleetvuln"
	"github.com/fleetvuln/fleetvuln/taxonomy"
)

// Record is one line of the package's JSONL payload. The shape is tolerant:
// identifiers, kind, and versions all have more than one accepted spelling in
// the wild.
type Record struct {
	// exactly one of these identifies the record
	BugID      string `json:"bug_id,omitempty"`
	AdvisoryID string `json:"advisory_id,omitempty"`

	// the first non-empty spelling wins
	Kind     string `json:"kind,omitempty"`
	VulnType string `json:"vuln_type,omitempty"`
	Type     string `json:"type,omitempty"`

	Platform string `json:"platform"`
	Headline string `json:"headline,omitempty"`
	Summary  string `json:"summary,omitempty"`

	AffectedVersions versionsField `json:"affected_versions,omitempty"`
	FixedVersion     string        `json:"fixed_version,omitempty"`
	Severity         severityField `json:"severity,omitempty"`

	Labels        []string `json:"labels,omitempty"`
	HardwareModel string   `json:"hardware_model,omitempty"`
}

// VersionsField accepts a string or an array of strings; the array form is
// joined with spaces before expression parsing.
type versionsField string

func (v *versionsField) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '[' {
		var parts []string
		if err := json.Unmarshal(b, &parts); err != nil {
			return err
		}
		*v = versionsField(strings.Join(parts, " "))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*v = versionsField(s)
	return nil
}

func (v versionsField) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(v))
}

// SeverityField accepts the numeric 1 through 6 form or a severity name.
type severityField fleetvuln.Severity

func (s *severityField) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		sev, err := fleetvuln.ParseSeverity(fmt.Sprintf("%d", int(v)))
		if err != nil {
			return err
		}
		*s = severityField(sev)
	case string:
		sev, err := fleetvuln.ParseSeverity(v)
		if err != nil {
			return err
		}
		*s = severityField(sev)
	default:
		return fmt.Errorf("severity must be a number or a name, got %T", raw)
	}
	return nil
}

func (s severityField) MarshalJSON() ([]byte, error) {
	return json.Marshal(uint(s))
}

// Vulnerability projects the record into a store row. Unknown taxonomy labels
// don't fail the record: they're reported as a warning and the row goes in
// unlabeled, where scan output flags it for review.
func (r *Record) vulnerability() (*fleetvuln.Vulnerability, []string, error) {
	var warnings []string

	var externalID string
	var kindHint fleetvuln.VulnKind
	switch {
	case r.BugID != "" && r.AdvisoryID != "":
		return nil, nil, fmt.Errorf("record carries both bug_id %q and advisory_id %q", r.BugID, r.AdvisoryID)
	case r.BugID != "":
		externalID, kindHint = r.BugID, fleetvuln.KindBug
	case r.AdvisoryID != "":
		externalID, kindHint = r.AdvisoryID, fleetvuln.KindAdvisory
	default:
		return nil, nil, fmt.Errorf("record carries neither bug_id nor advisory_id")
	}

	kindName := r.Kind
	if kindName == "" {
		kindName = r.VulnType
	}
	if kindName == "" {
		kindName = r.Type
	}
	var kind fleetvuln.VulnKind
	switch strings.ToLower(kindName) {
	case "bug":
		kind = fleetvuln.KindBug
	case "psirt", "advisory":
		kind = fleetvuln.KindAdvisory
	case "":
		return nil, nil, fmt.Errorf("record %s carries no kind", externalID)
	default:
		return nil, nil, fmt.Errorf("record %s: unknown kind %q", externalID, kindName)
	}
	if kind != kindHint {
		warnings = append(warnings, fmt.Sprintf("%s: kind %q disagrees with the identifier field", externalID, kindName))
	}

	platform, err := fleetvuln.ParsePlatform(r.Platform)
	if err != nil {
		return nil, nil, fmt.Errorf("record %s: %w", externalID, err)
	}

	labels := r.Labels
	tax := taxonomy.For(platform)
	for _, l := range r.Labels {
		if !tax.Has(l) {
			warnings = append(warnings, fmt.Sprintf("%s: unknown label %q for %s, importing unlabeled", externalID, l, platform))
			labels = nil
			break
		}
	}

	v := &fleetvuln.Vulnerability{
		ExternalID:       externalID,
		Kind:             kind,
		Platform:         platform,
		HardwareModel:    r.HardwareModel,
		Severity:         fleetvuln.Severity(r.Severity),
		Headline:         r.Headline,
		Summary:          r.Summary,
		AffectedVersions: fleetvuln.ParseExpression(string(r.AffectedVersions)),
		Labels:           labels,
		LabelsSource:     fleetvuln.LabelsImported,
	}
	if r.FixedVersion != "" {
		fixed, err := fleetvuln.ParseVersion(r.FixedVersion)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: unparseable fixed_version %q", externalID, r.FixedVersion))
		} else {
			v.FixedVersion = &fixed
		}
	}
	if err := v.Validate(); err != nil {
		return nil, nil, err
	}
	return v, warnings, nil
}

// NewRecord projects a store row back into the package shape, for export.
func newRecord(v *fleetvuln.Vulnerability) Record {
	r := Record{
		Kind:             string(v.Kind),
		Platform:         string(v.Platform),
		Headline:         v.Headline,
		Summary:          v.Summary,
		AffectedVersions: versionsField(v.AffectedVersions.Raw),
		Severity:         severityField(v.Severity),
		Labels:           v.Labels,
		HardwareModel:    v.HardwareModel,
	}
	switch v.Kind {
	case fleetvuln.KindBug:
		r.BugID = v.ExternalID
	default:
		r.AdvisoryID = v.ExternalID
	}
	if v.FixedVersion != nil {
		r.FixedVersion = v.FixedVersion.String()
	}
	return r
}
