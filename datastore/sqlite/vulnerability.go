package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/fleetvuln/fleetvuln"
	"github.com/fleetvuln/fleetvuln/datastore"
)

// VulnColumns is the SELECT list matching scanVulnerability.
const vulnColumns = `
	id, external_id, kind, platform, hardware_model, severity,
	headline, summary, status, advisory_url,
	affected_versions_raw, pattern_kind, version_min, version_max,
	explicit_json, fixed_version, labels_json, labels_source,
	labels_confidence, created_at, last_modified`

const (
	insertVulnerability = `
INSERT INTO vulnerability (
	external_id, kind, platform, hardware_model, severity,
	headline, summary, status, advisory_url,
	affected_versions_raw, pattern_kind, version_min, version_max,
	explicit_json, fixed_version, labels_json, labels_source,
	labels_confidence, created_at, last_modified
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`

	insertVersionIndex = `
INSERT OR IGNORE INTO version_index (vuln_id, normalized_version) VALUES (?, ?);`

	insertLabelIndex = `
INSERT OR IGNORE INTO label_index (vuln_id, label) VALUES (?, ?);`
)

// InsertVulnerability implements [datastore.VulnerabilityStore].
func (s *Store) InsertVulnerability(ctx context.Context, v *fleetvuln.Vulnerability) (id string, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()
	if err := v.Validate(); err != nil {
		return "", err
	}

	now := time.Now()
	created, modified := v.Created, v.Modified
	if created.IsZero() {
		created = now
	}
	if modified.IsZero() {
		modified = created
	}
	labels, err := json.Marshal(orEmpty(v.Labels))
	if err != nil {
		return "", err
	}
	explicit, err := json.Marshal(orEmpty(v.AffectedVersions.List))
	if err != nil {
		return "", err
	}

	var rowid int64
	err = s.write(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, insertVulnerability,
			v.ExternalID, string(v.Kind), string(v.Platform), v.HardwareModel, int64(v.Severity),
			v.Headline, v.Summary, v.Status, v.AdvisoryURL,
			v.AffectedVersions.Raw, string(v.AffectedVersions.Kind),
			nullVersion(v.AffectedVersions.Min), nullVersion(v.AffectedVersions.Max),
			string(explicit), nullVersion(v.FixedVersion),
			string(labels), string(v.LabelsSource),
			v.LabelsConfidence, created.UnixNano(), modified.UnixNano(),
		)
		if err != nil {
			return err
		}
		rowid, err = res.LastInsertId()
		if err != nil {
			return err
		}
		for _, ver := range v.AffectedVersions.List {
			if _, err := tx.ExecContext(ctx, insertVersionIndex, rowid, ver.String()); err != nil {
				return err
			}
		}
		for _, l := range v.Labels {
			if _, err := tx.ExecContext(ctx, insertLabelIndex, rowid, l); err != nil {
				return err
			}
		}
		return nil
	})
	switch {
	case err == nil:
	case isConstraint(err):
		return "", &fleetvuln.Error{
			Op:      `insert vulnerability`,
			Kind:    fleetvuln.ErrConflict,
			Message: fmt.Sprintf("external id %q already present", v.ExternalID),
			Inner:   err,
		}
	default:
		return "", err
	}
	return strconv.FormatInt(rowid, 10), nil
}

const (
	updateLabels = `
UPDATE vulnerability
SET labels_json = ?, labels_source = ?, labels_confidence = 0, last_modified = ?
WHERE id = ?;`

	deleteLabelIndex = `
DELETE FROM label_index WHERE vuln_id = ?;`
)

// UpdateVulnerabilityLabels implements [datastore.VulnerabilityStore].
//
// Labels arriving through this path are treated as authoritative: the stored
// confidence is reset alongside them.
func (s *Store) UpdateVulnerabilityLabels(ctx context.Context, vulnID string, labels []string, source fleetvuln.LabelsSource) (err error) {
	ctx, done := s.method(ctx, &err)
	defer done()
	rowid, err := strconv.ParseInt(vulnID, 10, 64)
	if err != nil {
		return &fleetvuln.Error{Op: `update labels`, Kind: fleetvuln.ErrInvalid, Message: "malformed vulnerability id: " + vulnID, Inner: err}
	}
	buf, err := json.Marshal(orEmpty(labels))
	if err != nil {
		return err
	}
	return s.write(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, updateLabels, string(buf), string(source), time.Now().UnixNano(), rowid)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &fleetvuln.Error{Op: `update labels`, Kind: fleetvuln.ErrNotFound, Message: "no vulnerability with id " + vulnID}
		}
		if _, err := tx.ExecContext(ctx, deleteLabelIndex, rowid); err != nil {
			return err
		}
		for _, l := range labels {
			if _, err := tx.ExecContext(ctx, insertLabelIndex, rowid, l); err != nil {
				return err
			}
		}
		return nil
	})
}

const queryByPlatform = `
SELECT` + vulnColumns + `
FROM vulnerability
WHERE platform = ?
ORDER BY severity ASC, external_id ASC;`

// QueryByPlatform implements [datastore.VulnerabilityStore].
func (s *Store) QueryByPlatform(ctx context.Context, platform fleetvuln.Platform) datastore.Iter[*fleetvuln.Vulnerability] {
	return func(yield func(*fleetvuln.Vulnerability, error) bool) {
		var err error
		ctx, done := s.method(ctx, &err)
		defer done()
		var rows *sql.Rows
		rows, err = s.db.QueryContext(ctx, queryByPlatform, string(platform))
		if err != nil {
			yield(nil, err)
			return
		}
		defer rows.Close()
		for rows.Next() {
			var v *fleetvuln.Vulnerability
			v, err = scanVulnerability(rows)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(v, nil) {
				return
			}
		}
		if err = rows.Err(); err != nil {
			yield(nil, err)
		}
	}
}

const queryByAdvisory = `
SELECT` + vulnColumns + `
FROM vulnerability
WHERE external_id = ? AND platform = ?;`

// QueryByAdvisory implements [datastore.VulnerabilityStore].
func (s *Store) QueryByAdvisory(ctx context.Context, externalID string, platform fleetvuln.Platform) (v *fleetvuln.Vulnerability, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()
	rows, err := s.db.QueryContext(ctx, queryByAdvisory, externalID, string(platform))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	v, err = scanVulnerability(rows)
	if err != nil {
		return nil, err
	}
	return v, rows.Err()
}

// ScanVulnerability reconstructs a record from a row in vulnColumns order.
func scanVulnerability(rows *sql.Rows) (*fleetvuln.Vulnerability, error) {
	var (
		v                  fleetvuln.Vulnerability
		rowid              int64
		kind, platform     string
		patternKind        string
		vmin, vmax, fixed  sql.NullString
		explicit, labels   string
		source             string
		created, modified  int64
	)
	err := rows.Scan(
		&rowid, &v.ExternalID, &kind, &platform, &v.HardwareModel, &v.Severity,
		&v.Headline, &v.Summary, &v.Status, &v.AdvisoryURL,
		&v.AffectedVersions.Raw, &patternKind, &vmin, &vmax,
		&explicit, &fixed, &labels, &source,
		&v.LabelsConfidence, &created, &modified,
	)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	v.ID = strconv.FormatInt(rowid, 10)
	v.Kind = fleetvuln.VulnKind(kind)
	v.Platform = fleetvuln.Platform(platform)
	v.AffectedVersions.Kind = fleetvuln.PatternKind(patternKind)
	v.LabelsSource = fleetvuln.LabelsSource(source)
	v.Created = time.Unix(0, created)
	v.Modified = time.Unix(0, modified)
	if v.AffectedVersions.Min, err = parseNullVersion(vmin); err != nil {
		return nil, err
	}
	if v.AffectedVersions.Max, err = parseNullVersion(vmax); err != nil {
		return nil, err
	}
	if v.FixedVersion, err = parseNullVersion(fixed); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(explicit), &v.AffectedVersions.List); err != nil {
		return nil, fmt.Errorf("explicit list: %w", err)
	}
	if len(v.AffectedVersions.List) == 0 {
		v.AffectedVersions.List = nil
	}
	if err := json.Unmarshal([]byte(labels), &v.Labels); err != nil {
		return nil, fmt.Errorf("labels: %w", err)
	}
	if len(v.Labels) == 0 {
		v.Labels = nil
	}
	return &v, nil
}

// NullVersion renders an optional version for a nullable column.
func nullVersion(v *fleetvuln.Version) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.String(), Valid: true}
}

// ParseNullVersion is the inverse of nullVersion.
func parseNullVersion(ns sql.NullString) (*fleetvuln.Version, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	v, err := fleetvuln.ParseVersion(ns.String)
	if err != nil {
		return nil, fmt.Errorf("stored version %q: %w", ns.String, err)
	}
	return &v, nil
}

// OrEmpty keeps JSON columns as "[]" instead of "null".
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
