package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/quay/zlog"

	"github.com/fleetvuln/fleetvuln"
)

const (
	insertScanResult = `
INSERT INTO scan_result (scan_id, device_id, body_json, at) VALUES (?, ?, ?, ?);`

	rotateScanSlots = `
UPDATE device
SET previous_scan_id = last_scan_id, last_scan_id = ?
WHERE id = ?;`
)

// InsertScanResult implements [datastore.ScanStore].
//
// The report write and the slot rotation are one transaction, so a reader
// never observes a device pointing at a scan row that isn't there. Callers
// serializing scans of the same device should hold the device's key lock
// around this call; the store only guarantees the write itself is atomic.
func (s *Store) InsertScanResult(ctx context.Context, deviceID string, report *fleetvuln.ScanReport) (err error) {
	ctx, done := s.method(ctx, &err)
	defer done()
	rowid, err := strconv.ParseInt(deviceID, 10, 64)
	if err != nil {
		return &fleetvuln.Error{Op: `insert scan result`, Kind: fleetvuln.ErrInvalid, Message: "malformed device id: " + deviceID, Inner: err}
	}
	if report.ScanID == "" {
		return &fleetvuln.Error{Op: `insert scan result`, Kind: fleetvuln.ErrInvalid, Message: "report missing scan id"}
	}
	body, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return s.write(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, insertScanResult,
			report.ScanID, rowid, string(body), report.Timestamp.UnixNano()); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, rotateScanSlots, report.ScanID, rowid)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &fleetvuln.Error{Op: `insert scan result`, Kind: fleetvuln.ErrNotFound, Message: "no device with id " + deviceID}
		}
		return nil
	})
}

const selectScanBody = `
SELECT body_json FROM scan_result WHERE scan_id = ?;`

// ScanResult implements [datastore.ScanStore].
func (s *Store) ScanResult(ctx context.Context, scanID string) (r *fleetvuln.ScanReport, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()
	var body string
	err = s.db.QueryRowContext(ctx, selectScanBody, scanID).Scan(&body)
	switch {
	case err == nil:
	case err == sql.ErrNoRows:
		return nil, &fleetvuln.Error{Op: `scan result`, Kind: fleetvuln.ErrNotFound, Message: "no scan " + scanID}
	default:
		return nil, err
	}
	r = new(fleetvuln.ScanReport)
	if err := json.Unmarshal([]byte(body), r); err != nil {
		return nil, fmt.Errorf("body: %w", err)
	}
	return r, nil
}

// ScanSummary fetches the summary portion of a stored report. An empty ID
// resolves to nil, matching an empty rotation slot.
func (s *Store) scanSummary(ctx context.Context, scanID string) (*fleetvuln.ScanSummary, error) {
	if scanID == "" {
		return nil, nil
	}
	var body string
	err := s.db.QueryRowContext(ctx, selectScanBody, scanID).Scan(&body)
	switch {
	case err == nil:
	case err == sql.ErrNoRows:
		// The slot points nowhere. The schema's foreign keys should make
		// this unreachable.
		return nil, fmt.Errorf("dangling scan pointer %q", scanID)
	default:
		return nil, err
	}
	sum := new(fleetvuln.ScanSummary)
	if err := json.Unmarshal([]byte(body), sum); err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	return sum, nil
}

// Rotation leaves behind rows no slot points at. GC deletes those, keeping
// the newest keep rows per device regardless of reference.
const gcScanResults = `
DELETE FROM scan_result
WHERE scan_id IN (
	SELECT s.scan_id
	FROM scan_result s
	JOIN device d ON d.id = s.device_id
	WHERE s.scan_id IS NOT COALESCE(d.last_scan_id, '')
	  AND s.scan_id IS NOT COALESCE(d.previous_scan_id, '')
	  AND s.scan_id NOT IN (
		SELECT n.scan_id FROM scan_result n
		WHERE n.device_id = s.device_id
		ORDER BY n.at DESC
		LIMIT ?
	)
);`

// GC implements [datastore.ScanStore].
func (s *Store) GC(ctx context.Context, keep int) (n int64, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()
	if keep < 2 {
		// Never collect below the two rotation slots.
		keep = 2
	}
	err = s.write(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, gcScanResults, keep)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	zlog.Debug(ctx).Int64("removed", n).Int("keep", keep).Msg("scan gc done")
	return n, nil
}
