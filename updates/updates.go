// Package updates reads and writes offline vulnerability update packages.
//
// A package is a zip archive holding a manifest and a JSONL payload, produced
// on a connected system and walked across an air gap. Apply is tolerant per
// record and strict per package: a malformed record is skipped and reported,
// a bad payload hash aborts the whole package.
package updates

import (
	"archive/zip"
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/quay/zlog"

	"github.com/fleetvuln/fleetvuln"
	"github.com/fleetvuln/fleetvuln/datastore"
)

// Package member names and the manifest schema this package understands.
const (
	ManifestName  = `manifest.json`
	DataName      = `labeled_update.jsonl`
	SchemaVersion = `1.0`
)

// Manifest is the package's self-description.
type Manifest struct {
	SchemaVersion string    `json:"schema_version"`
	Created       time.Time `json:"created"`
	// payload member name
	File string `json:"file"`
	// hex sha256 of the payload member
	SHA256      string `json:"sha256"`
	Description string `json:"description,omitempty"`
	RecordCount int    `json:"record_count"`
}

// Report is the outcome of applying one package.
type Report struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	// per-record failures, one per skipped record
	Errors []string `json:"errors,omitempty"`
	// non-fatal oddities, e.g. unknown labels
	Warnings []string `json:"warnings,omitempty"`
}

// Opts tunes Apply.
type Opts struct {
	// SkipVerify disables the payload hash check. For operator use when a
	// manifest was regenerated by hand.
	SkipVerify bool
}

// Apply reads a package from the ReaderAt and applies every record to the
// store: new external IDs are inserted, known ones have their labels
// replaced when the incoming labels differ. Applying the same package twice
// changes nothing.
func Apply(ctx context.Context, store datastore.VulnerabilityStore, r io.ReaderAt, size int64, opts Opts) (*Report, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "updates/Apply")
	const op = `update apply`

	z, err := zip.NewReader(r, size)
	if err != nil {
		return nil, &fleetvuln.Error{Op: op, Kind: fleetvuln.ErrInvalid, Message: "not a zip archive", Inner: err}
	}
	m, err := readManifest(z)
	if err != nil {
		return nil, err
	}
	payload := m.File
	if payload == "" {
		payload = DataName
	}

	if !opts.SkipVerify {
		if err := verify(z, payload, m.SHA256); err != nil {
			return nil, err
		}
	} else {
		zlog.Warn(ctx).Msg("payload hash check skipped")
	}

	f, err := z.Open(payload)
	if err != nil {
		return nil, &fleetvuln.Error{Op: op, Kind: fleetvuln.ErrInvalid, Message: "missing payload " + payload, Inner: err}
	}
	defer f.Close()

	report := &Report{}
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	line := 0
	for s.Scan() {
		line++
		raw := s.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			report.skip(line, err)
			continue
		}
		v, warnings, err := rec.vulnerability()
		if err != nil {
			report.skip(line, err)
			continue
		}
		report.Warnings = append(report.Warnings, warnings...)
		if err := applyOne(ctx, store, v, report); err != nil {
			return nil, err
		}
	}
	if err := s.Err(); err != nil {
		return nil, &fleetvuln.Error{Op: op, Kind: fleetvuln.ErrInvalid, Message: "truncated payload", Inner: err}
	}
	if m.RecordCount != 0 && line != m.RecordCount {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("manifest promised %d records, payload carried %d", m.RecordCount, line))
	}

	applyCounter.WithLabelValues("inserted").Add(float64(report.Inserted))
	applyCounter.WithLabelValues("updated").Add(float64(report.Updated))
	applyCounter.WithLabelValues("skipped").Add(float64(report.Skipped))
	zlog.Info(ctx).
		Int("inserted", report.Inserted).
		Int("updated", report.Updated).
		Int("skipped", report.Skipped).
		Msg("update package applied")
	return report, nil
}

// ApplyFile is Apply reading from a file on disk.
func ApplyFile(ctx context.Context, store datastore.VulnerabilityStore, name string, opts Opts) (*Report, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return Apply(ctx, store, f, fi.Size(), opts)
}

// ApplyOne routes one record: insert when new, label update when the labels
// changed, nothing otherwise. Store failures are fatal to the batch; a dead
// store invalidates everything after it anyway.
func applyOne(ctx context.Context, store datastore.VulnerabilityStore, v *fleetvuln.Vulnerability, report *Report) error {
	existing, err := store.QueryByAdvisory(ctx, v.ExternalID, v.Platform)
	if err != nil {
		return err
	}
	if existing == nil {
		if _, err := store.InsertVulnerability(ctx, v); err != nil {
			return err
		}
		report.Inserted++
		return nil
	}
	if slices.Equal(existing.Labels, v.Labels) {
		return nil
	}
	if err := store.UpdateVulnerabilityLabels(ctx, existing.ID, v.Labels, fleetvuln.LabelsImported); err != nil {
		return err
	}
	report.Updated++
	return nil
}

func (r *Report) skip(line int, err error) {
	r.Skipped++
	r.Errors = append(r.Errors, fmt.Sprintf("line %d: %v", line, err))
}

func readManifest(z *zip.Reader) (*Manifest, error) {
	const op = `update apply`
	f, err := z.Open(ManifestName)
	if err != nil {
		return nil, &fleetvuln.Error{Op: op, Kind: fleetvuln.ErrInvalid, Message: "missing " + ManifestName, Inner: err}
	}
	defer f.Close()
	var m Manifest
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return nil, &fleetvuln.Error{Op: op, Kind: fleetvuln.ErrInvalid, Message: "malformed " + ManifestName, Inner: err}
	}
	if m.SchemaVersion != SchemaVersion {
		return nil, &fleetvuln.Error{
			Op:      op,
			Kind:    fleetvuln.ErrInvalid,
			Message: fmt.Sprintf("unsupported schema_version %q", m.SchemaVersion),
		}
	}
	return &m, nil
}

// Verify hashes the payload member and compares against the manifest.
func verify(z *zip.Reader, payload, want string) error {
	const op = `update verify`
	f, err := z.Open(payload)
	if err != nil {
		return &fleetvuln.Error{Op: op, Kind: fleetvuln.ErrInvalid, Message: "missing payload " + payload, Inner: err}
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	got := hex.EncodeToString(h.Sum(nil))
	if !hexEqual(got, want) {
		return &fleetvuln.Error{
			Op:      op,
			Kind:    fleetvuln.ErrIntegrity,
			Message: fmt.Sprintf("payload sha256 %s does not match manifest %s", got, want),
		}
	}
	return nil
}

func hexEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	ab, err := hex.DecodeString(a)
	if err != nil {
		return false
	}
	bb, err := hex.DecodeString(b)
	if err != nil {
		return false
	}
	return slices.Equal(ab, bb)
}

// Export writes the store's records for the given platforms as a package,
// the inverse of Apply. Intended for seeding air-gapped installations from a
// connected one.
func Export(ctx context.Context, store datastore.VulnerabilityStore, w io.Writer, platforms []fleetvuln.Platform, description string) (*Manifest, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "updates/Export")

	// Spool the payload so the manifest can be written first.
	spool, err := os.CreateTemp("", "fleetvuln-export.*.jsonl")
	if err != nil {
		return nil, err
	}
	defer func() {
		name := spool.Name()
		if err := os.Remove(name); err != nil {
			zlog.Warn(ctx).Str("filename", name).Err(err).Msg("unable to remove spool file")
		}
		if err := spool.Close(); err != nil {
			zlog.Warn(ctx).Str("filename", name).Err(err).Msg("error closing spool file")
		}
	}()

	h := sha256.New()
	enc := json.NewEncoder(io.MultiWriter(spool, h))
	count := 0
	for _, p := range platforms {
		var iterErr error
		store.QueryByPlatform(ctx, p)(func(v *fleetvuln.Vulnerability, err error) bool {
			if err != nil {
				iterErr = err
				return false
			}
			if iterErr = enc.Encode(newRecord(v)); iterErr != nil {
				return false
			}
			count++
			return true
		})
		if iterErr != nil {
			return nil, iterErr
		}
	}

	m := &Manifest{
		SchemaVersion: SchemaVersion,
		Created:       time.Now().UTC(),
		File:          DataName,
		SHA256:        hex.EncodeToString(h.Sum(nil)),
		Description:   description,
		RecordCount:   count,
	}

	z := zip.NewWriter(w)
	mf, err := z.Create(ManifestName)
	if err != nil {
		return nil, err
	}
	if err := json.NewEncoder(mf).Encode(m); err != nil {
		return nil, err
	}
	df, err := z.Create(DataName)
	if err != nil {
		return nil, err
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if _, err := io.Copy(df, spool); err != nil {
		return nil, err
	}
	if err := z.Close(); err != nil {
		return nil, err
	}
	zlog.Info(ctx).Int("records", count).Msg("update package exported")
	return m, nil
}
