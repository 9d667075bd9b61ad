package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/doug-martin/goqu/v8"
	_ "github.com/doug-martin/goqu/v8/dialect/sqlite3" // register the dialect
	"github.com/quay/zlog"

	"github.com/fleetvuln/fleetvuln"
	"github.com/fleetvuln/fleetvuln/datastore"
)

// DeviceColumns is the SELECT list matching scanDevice.
const deviceColumns = `
	id, external_id, hostname, ip, location, device_type, source,
	platform, version, hardware_model, features_json,
	discovery_status, discovery_error, discovered_at,
	last_scan_id, previous_scan_id`

const (
	selectDeviceID = `
SELECT id FROM device WHERE hostname = ? AND ip = ?;`

	insertDeviceStub = `
INSERT INTO device (external_id, hostname, ip, location, device_type, source)
VALUES (?, ?, ?, ?, ?, ?);`

	updateDeviceStub = `
UPDATE device
SET external_id = ?, location = ?, device_type = ?, source = ?
WHERE id = ?;`
)

// UpsertDeviceStub implements [datastore.DeviceStore].
func (s *Store) UpsertDeviceStub(ctx context.Context, stub *fleetvuln.DeviceStub) (id string, created bool, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()
	if err := stub.Validate(); err != nil {
		return "", false, err
	}
	var rowid int64
	err = s.write(ctx, func(ctx context.Context, tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, selectDeviceID, stub.Hostname, stub.IP).Scan(&rowid)
		switch {
		case err == nil:
			_, err := tx.ExecContext(ctx, updateDeviceStub,
				stub.ExternalID, stub.Location, stub.DeviceType, string(stub.Source), rowid)
			return err
		case err == sql.ErrNoRows:
			res, err := tx.ExecContext(ctx, insertDeviceStub,
				stub.ExternalID, stub.Hostname, stub.IP, stub.Location, stub.DeviceType, string(stub.Source))
			if err != nil {
				return err
			}
			rowid, err = res.LastInsertId()
			created = true
			return err
		default:
			return err
		}
	})
	if err != nil {
		return "", false, err
	}
	return strconv.FormatInt(rowid, 10), created, nil
}

const (
	recordDiscovery = `
UPDATE device
SET platform = ?, version = ?, hardware_model = ?, features_json = ?,
	discovery_status = ?, discovery_error = '', discovered_at = ?
WHERE id = ?;`

	recordDiscoveryFailure = `
UPDATE device
SET discovery_status = ?, discovery_error = ?, discovered_at = ?
WHERE id = ?;`
)

// UpdateDiscovery implements [datastore.DeviceStore].
func (s *Store) UpdateDiscovery(ctx context.Context, deviceID string, snap *fleetvuln.DeviceSnapshot, status fleetvuln.DiscoveryStatus, discoveryErr string) (err error) {
	ctx, done := s.method(ctx, &err)
	defer done()
	rowid, err := strconv.ParseInt(deviceID, 10, 64)
	if err != nil {
		return &fleetvuln.Error{Op: `update discovery`, Kind: fleetvuln.ErrInvalid, Message: "malformed device id: " + deviceID, Inner: err}
	}
	now := time.Now().UnixNano()
	return s.write(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var res sql.Result
		var err error
		if status == fleetvuln.DiscoverySuccess && snap != nil {
			features, err := json.Marshal(orEmpty(snap.FeaturesPresent))
			if err != nil {
				return err
			}
			res, err = tx.ExecContext(ctx, recordDiscovery,
				string(snap.Platform), snap.Version, snap.HardwareModel, string(features),
				string(status), now, rowid)
			if err != nil {
				return err
			}
		} else {
			res, err = tx.ExecContext(ctx, recordDiscoveryFailure,
				string(status), discoveryErr, now, rowid)
			if err != nil {
				return err
			}
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &fleetvuln.Error{Op: `update discovery`, Kind: fleetvuln.ErrNotFound, Message: "no device with id " + deviceID}
		}
		return nil
	})
}

const getDevice = `
SELECT` + deviceColumns + `
FROM device
WHERE hostname = ? AND ip = ?;`

// GetDevice implements [datastore.DeviceStore].
func (s *Store) GetDevice(ctx context.Context, hostname, ip string) (d *fleetvuln.Device, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()
	rows, err := s.db.QueryContext(ctx, getDevice, hostname, ip)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, &fleetvuln.Error{
			Op:      `get device`,
			Kind:    fleetvuln.ErrNotFound,
			Message: fmt.Sprintf("no device %s (%s)", hostname, ip),
		}
	}
	d, lastID, prevID, err := scanDevice(rows)
	if err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if d.LastScan, err = s.scanSummary(ctx, lastID); err != nil {
		return nil, err
	}
	if d.PreviousScan, err = s.scanSummary(ctx, prevID); err != nil {
		return nil, err
	}
	return d, nil
}

// ListDevices implements [datastore.DeviceStore].
//
// The WHERE clause is assembled dynamically from whichever filter fields are
// set, so the query is built with goqu instead of a SQL const.
func (s *Store) ListDevices(ctx context.Context, filter datastore.DeviceFilter) (ds []*fleetvuln.Device, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()
	exps := []goqu.Expression{}
	if len(filter.Platforms) > 0 {
		ps := make([]string, len(filter.Platforms))
		for i, p := range filter.Platforms {
			ps[i] = string(p)
		}
		exps = append(exps, goqu.Ex{"platform": ps})
	}
	if len(filter.IDs) > 0 {
		ids := make([]int64, 0, len(filter.IDs))
		for _, raw := range filter.IDs {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, &fleetvuln.Error{Op: `list devices`, Kind: fleetvuln.ErrInvalid, Message: "malformed device id: " + raw, Inner: err}
			}
			ids = append(ids, id)
		}
		exps = append(exps, goqu.Ex{"id": ids})
	}
	if filter.Status != "" {
		exps = append(exps, goqu.Ex{"discovery_status": string(filter.Status)})
	}
	query, args, err := goqu.Dialect("sqlite3").
		From("device").
		Select(
			"id", "external_id", "hostname", "ip", "location", "device_type", "source",
			"platform", "version", "hardware_model", "features_json",
			"discovery_status", "discovery_error", "discovered_at",
			"last_scan_id", "previous_scan_id",
		).
		Where(exps...).
		Order(goqu.I("hostname").Asc(), goqu.I("ip").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	type slot struct {
		d            *fleetvuln.Device
		lastID, prev string
	}
	var slots []slot
	for rows.Next() {
		d, lastID, prevID, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot{d, lastID, prevID})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, sl := range slots {
		if sl.d.LastScan, err = s.scanSummary(ctx, sl.lastID); err != nil {
			return nil, err
		}
		if sl.d.PreviousScan, err = s.scanSummary(ctx, sl.prev); err != nil {
			return nil, err
		}
		ds = append(ds, sl.d)
	}
	return ds, nil
}

const deleteDevice = `
DELETE FROM device WHERE hostname = ? AND ip = ?;`

// DeleteDevice implements [datastore.DeviceStore].
func (s *Store) DeleteDevice(ctx context.Context, hostname, ip string) (err error) {
	ctx, done := s.method(ctx, &err)
	defer done()
	return s.write(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// The device row references its scan rows, so clear the pointers
		// before the cascade runs.
		if _, err := tx.ExecContext(ctx,
			`UPDATE device SET last_scan_id = NULL, previous_scan_id = NULL WHERE hostname = ? AND ip = ?;`,
			hostname, ip); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, deleteDevice, hostname, ip)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &fleetvuln.Error{
				Op:      `delete device`,
				Kind:    fleetvuln.ErrNotFound,
				Message: fmt.Sprintf("no device %s (%s)", hostname, ip),
			}
		}
		return nil
	})
}

const markStale = `
UPDATE device
SET discovery_status = ?
WHERE discovery_status = ? AND discovered_at > 0 AND discovered_at < ?;`

// MarkStale implements [datastore.DeviceStore].
func (s *Store) MarkStale(ctx context.Context, olderThan time.Time) (n int64, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()
	err = s.write(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, markStale,
			string(fleetvuln.DiscoveryStale), string(fleetvuln.DiscoverySuccess), olderThan.UnixNano())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if n > 0 {
		zlog.Info(ctx).Int64("devices", n).Msg("marked stale")
	}
	return n, err
}

// ScanDevice reconstructs a device from a row in deviceColumns order. The
// scan-slot pointers come back as raw IDs for the caller to resolve.
func scanDevice(rows *sql.Rows) (*fleetvuln.Device, string, string, error) {
	var (
		d                fleetvuln.Device
		rowid            int64
		source, platform string
		status           string
		features         string
		discovered       int64
		lastID, prevID   sql.NullString
	)
	err := rows.Scan(
		&rowid, &d.ExternalID, &d.Hostname, &d.IP, &d.Location, &d.DeviceType, &source,
		&platform, &d.Version, &d.HardwareModel, &features,
		&status, &d.DiscoveryError, &discovered,
		&lastID, &prevID,
	)
	if err != nil {
		return nil, "", "", fmt.Errorf("scan: %w", err)
	}
	d.ID = strconv.FormatInt(rowid, 10)
	d.Source = fleetvuln.DeviceSource(source)
	d.Platform = fleetvuln.Platform(platform)
	d.DiscoveryStatus = fleetvuln.DiscoveryStatus(status)
	if discovered != 0 {
		d.DiscoveredAt = time.Unix(0, discovered)
	}
	if err := json.Unmarshal([]byte(features), &d.Features); err != nil {
		return nil, "", "", fmt.Errorf("features: %w", err)
	}
	if len(d.Features) == 0 {
		d.Features = nil
	}
	return &d, lastID.String, prevID.String, nil
}
