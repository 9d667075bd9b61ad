// Package datastore holds the persistence interfaces the engine's components
// consume.
//
// The concrete implementation lives in the sqlite subpackage; components take
// the narrowest interface that covers their needs so tests can hand them
// small fakes.
package datastore

import (
	"context"
	"time"

	"github.com/fleetvuln/fleetvuln"
)

// Iter is an iterator function that accepts a callback 'yield' to handle each
// iterator item. The consumer can signal the iterator to break by returning
// false. The iterator itself reports an error through the yield callback if
// the iteration cannot continue or was interrupted unexpectedly.
type Iter[T any] func(yield func(T, error) bool)

// VulnerabilityStore is the interface for reading and writing vulnerability
// records.
type VulnerabilityStore interface {
	// InsertVulnerability persists a new record along with its version-index
	// and label-index rows in one transaction, returning the assigned ID.
	// Inserting an external ID that's already present reports a
	// conflict-kind error.
	InsertVulnerability(ctx context.Context, v *fleetvuln.Vulnerability) (string, error)
	// UpdateVulnerabilityLabels atomically replaces a record's labels and its
	// label-index rows.
	UpdateVulnerabilityLabels(ctx context.Context, vulnID string, labels []string, source fleetvuln.LabelsSource) error
	// QueryByPlatform streams the platform's records ordered by severity
	// ascending, then external ID. The ordering is the scan engine's
	// determinism guarantee.
	QueryByPlatform(ctx context.Context, platform fleetvuln.Platform) Iter[*fleetvuln.Vulnerability]
	// QueryByAdvisory fetches one record by external ID and platform. A miss
	// is not an error: the record pointer is nil. This is the label
	// predictor's tier-1 cache read.
	QueryByAdvisory(ctx context.Context, externalID string, platform fleetvuln.Platform) (*fleetvuln.Vulnerability, error)
}

// DeviceFilter narrows [DeviceStore.ListDevices]. Zero fields don't
// constrain.
type DeviceFilter struct {
	// keep devices on any of these platforms
	Platforms []fleetvuln.Platform
	// keep devices with any of these store IDs
	IDs []string
	// keep devices in this discovery state
	Status fleetvuln.DiscoveryStatus
}

// DeviceStore is the interface for the device inventory.
type DeviceStore interface {
	// UpsertDeviceStub inserts the inventory identity when (hostname, ip) is
	// new and refreshes the stub fields when it isn't. Discovered fields are
	// never touched. The bool reports whether a row was created.
	UpsertDeviceStub(ctx context.Context, stub *fleetvuln.DeviceStub) (string, bool, error)
	// UpdateDiscovery replaces a device's discovered state. Success installs
	// the snapshot's fields and clears any recorded error; failure records
	// the error and leaves prior discovered fields in place. Re-running is
	// idempotent.
	UpdateDiscovery(ctx context.Context, deviceID string, snap *fleetvuln.DeviceSnapshot, status fleetvuln.DiscoveryStatus, discoveryErr string) error
	// GetDevice fetches a device by its identity pair, scan slots included.
	// Absent devices report a notfound-kind error.
	GetDevice(ctx context.Context, hostname, ip string) (*fleetvuln.Device, error)
	// ListDevices fetches devices matching the filter, ordered by hostname
	// then ip.
	ListDevices(ctx context.Context, filter DeviceFilter) ([]*fleetvuln.Device, error)
	// DeleteDevice removes a device and its scan results.
	DeleteDevice(ctx context.Context, hostname, ip string) error
	// MarkStale flips successfully-discovered devices whose discovery
	// predates the cutoff to the stale state, removing them from the
	// bulk-scan target set. It reports how many rows changed.
	MarkStale(ctx context.Context, olderThan time.Time) (int64, error)
}

// ScanStore persists scan bodies and owns the device scan-slot rotation.
type ScanStore interface {
	// InsertScanResult writes the report body and rotates the device's scan
	// slots in one transaction: last becomes previous, the new scan becomes
	// last.
	InsertScanResult(ctx context.Context, deviceID string, report *fleetvuln.ScanReport) error
	// ScanResult fetches a full report by scan ID. Absent reports a
	// notfound-kind error.
	ScanResult(ctx context.Context, scanID string) (*fleetvuln.ScanReport, error)
	// GC removes scan rows that are not referenced by any device slot,
	// keeping the newest keep rows per device. It reports how many rows were
	// removed.
	GC(ctx context.Context, keep int) (int64, error)
}

// Store aggregates all interface types.
type Store interface {
	VulnerabilityStore
	DeviceStore
	ScanStore

	// Initialized reports whether the store contains vulnerability records.
	Initialized(ctx context.Context) (bool, error)
	// Close releases held resources.
	Close() error
}
