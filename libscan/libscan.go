// Package libscan is the embedding surface of the engine: one value owning
// the store, the scan engine, the label predictor, and the orchestrator, with
// methods mirroring the operations a transport exposes.
package libscan

import (
	"context"
	"io"
	"time"

	"github.com/quay/zlog"

	"github.com/fleetvuln/fleetvuln"
	"github.com/fleetvuln/fleetvuln/datastore"
	"github.com/fleetvuln/fleetvuln/datastore/sqlite"
	"github.com/fleetvuln/fleetvuln/embedxport"
	"github.com/fleetvuln/fleetvuln/exampleindex"
	"github.com/fleetvuln/fleetvuln/internal/orchestrator"
	"github.com/fleetvuln/fleetvuln/internal/scanner"
	"github.com/fleetvuln/fleetvuln/libscan/driver"
	"github.com/fleetvuln/fleetvuln/llm"
	"github.com/fleetvuln/fleetvuln/llm/azure"
	"github.com/fleetvuln/fleetvuln/llm/llamaserver"
	"github.com/fleetvuln/fleetvuln/predictor"
	"github.com/fleetvuln/fleetvuln/updates"
)

// Libscan exports methods for scanning devices against the vulnerability
// store and predicting taxonomy labels for unlabeled records.
type Libscan struct {
	store     *sqlite.Store
	engine    *scanner.Engine
	predictor *predictor.Predictor
	orch      *orchestrator.Orchestrator
}

// New constructs a Libscan instance. The context bounds the lifetime of
// background work (bulk scan jobs); cancel it before Close.
func New(ctx context.Context, opts *Opts) (*Libscan, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "libscan/New")
	if err := opts.parse(ctx); err != nil {
		return nil, err
	}

	store, err := sqlite.Open(ctx, opts.DBPath)
	if err != nil {
		return nil, err
	}
	ok, err := store.Initialized(ctx)
	if err != nil {
		store.Close()
		return nil, err
	}
	if !ok {
		zlog.Warn(ctx).Msg("vulnerability store is empty; scans will find nothing until an update package is applied")
	}

	l := &Libscan{
		store:  store,
		engine: scanner.New(store, opts.Scanner),
	}

	var embedder driver.Embedder
	var index *exampleindex.Index
	if opts.LLMBackend != "" {
		if opts.EmbedderAddr != "" {
			e, err := embedxport.New(opts.EmbedderAddr, opts.Client)
			if err != nil {
				store.Close()
				return nil, err
			}
			// A dead embedder at startup is a deployment problem, not
			// something to discover one degraded prediction at a time.
			if err := e.Check(ctx); err != nil {
				store.Close()
				return nil, err
			}
			embedder = e
		}
		if opts.IndexPath != "" {
			index, err = exampleindex.LoadFile(ctx, opts.IndexPath)
			if err != nil {
				store.Close()
				return nil, err
			}
			zlog.Info(ctx).Int("examples", index.Len()).Msg("example index loaded")
		}

		var backend driver.LLMBackend
		switch opts.LLMBackend {
		case BackendAzure:
			backend, err = azure.New(opts.Azure)
		case BackendLlamaServer:
			backend, err = llamaserver.New(opts.LlamaAddr, opts.Client)
		}
		if err != nil {
			store.Close()
			return nil, err
		}
		backend = llm.Limit(backend, opts.LLMRate)
		l.predictor = predictor.New(store, embedder, backend, index, opts.Predictor)
	}

	l.orch = orchestrator.New(ctx, store, l.engine, opts.Collector, opts.Inventory, opts.Orchestrator)
	zlog.Info(ctx).Msg("libscan initialized")
	return l, nil
}

// Close releases the store. Cancel the construction context first so no job
// is mid-write.
func (l *Libscan) Close() error {
	return l.store.Close()
}

// Scan assesses one device position without touching the device table.
func (l *Libscan) Scan(ctx context.Context, req *fleetvuln.ScanRequest) (*fleetvuln.ScanReport, error) {
	return l.engine.Scan(ctx, req)
}

// Predict runs the three-tier label prediction for one record summary.
func (l *Libscan) Predict(ctx context.Context, req predictor.Request) (*fleetvuln.LabelPrediction, error) {
	if l.predictor == nil {
		return nil, &fleetvuln.Error{
			Op:      `predict`,
			Kind:    fleetvuln.ErrUnavailable,
			Message: "no llm backend configured",
		}
	}
	return l.predictor.Predict(ctx, req)
}

// BulkScan starts a job over the discovered fleet, optionally narrowed by
// platform or device ID, and returns its initial status.
func (l *Libscan) BulkScan(ctx context.Context, platforms []fleetvuln.Platform, ids []string) (*fleetvuln.JobStatus, error) {
	return l.orch.BulkScan(ctx, platforms, ids)
}

// JobStatus polls a bulk scan job.
func (l *Libscan) JobStatus(id string) (*fleetvuln.JobStatus, error) {
	return l.orch.JobStatus(id)
}

// CancelJob stops a running job from starting new device scans.
func (l *Libscan) CancelJob(id string) error {
	return l.orch.CancelJob(id)
}

// Discover runs live discovery against one device.
func (l *Libscan) Discover(ctx context.Context, hostname, ip string, creds driver.Credentials) (*fleetvuln.Device, error) {
	return l.orch.Discover(ctx, hostname, ip, creds)
}

// AcceptSnapshot installs an externally produced snapshot as a device's
// discovery state.
func (l *Libscan) AcceptSnapshot(ctx context.Context, hostname, ip string, snap *fleetvuln.DeviceSnapshot) (*fleetvuln.Device, error) {
	return l.orch.AcceptSnapshot(ctx, hostname, ip, snap)
}

// SyncInventory seeds and refreshes the device table from the configured
// inventory source.
func (l *Libscan) SyncInventory(ctx context.Context) (created, total int, err error) {
	return l.orch.SyncInventory(ctx)
}

// AddDevice registers a device by hand, outside any inventory sync.
func (l *Libscan) AddDevice(ctx context.Context, stub *fleetvuln.DeviceStub) (string, bool, error) {
	if stub.Source == "" {
		stub.Source = fleetvuln.DeviceManual
	}
	return l.store.UpsertDeviceStub(ctx, stub)
}

// GetDevice fetches one device, scan slots included.
func (l *Libscan) GetDevice(ctx context.Context, hostname, ip string) (*fleetvuln.Device, error) {
	return l.store.GetDevice(ctx, hostname, ip)
}

// ListDevices enumerates the inventory.
func (l *Libscan) ListDevices(ctx context.Context, filter datastore.DeviceFilter) ([]*fleetvuln.Device, error) {
	return l.store.ListDevices(ctx, filter)
}

// DeleteDevice removes a device and its scan history.
func (l *Libscan) DeleteDevice(ctx context.Context, hostname, ip string) error {
	return l.store.DeleteDevice(ctx, hostname, ip)
}

// MarkStale ages out devices whose discovery predates the cutoff.
func (l *Libscan) MarkStale(ctx context.Context, olderThan time.Time) (int64, error) {
	return l.orch.MarkStale(ctx, olderThan)
}

// CompareScans diffs a device's two recorded scans.
func (l *Libscan) CompareScans(ctx context.Context, hostname, ip string) (*fleetvuln.ScanDiff, error) {
	return l.orch.CompareScans(ctx, hostname, ip)
}

// CompareVersions grades moving a device to a target version.
func (l *Libscan) CompareVersions(ctx context.Context, hostname, ip, target string) (*fleetvuln.VersionComparison, error) {
	return l.orch.CompareVersions(ctx, hostname, ip, target)
}

// ApplyUpdate applies an offline update package from a file.
func (l *Libscan) ApplyUpdate(ctx context.Context, path string, skipVerify bool) (*updates.Report, error) {
	return updates.ApplyFile(ctx, l.store, path, updates.Opts{SkipVerify: skipVerify})
}

// ExportUpdate writes the store's records for the given platforms as an
// update package.
func (l *Libscan) ExportUpdate(ctx context.Context, w io.Writer, platforms []fleetvuln.Platform, description string) (*updates.Manifest, error) {
	return updates.Export(ctx, l.store, w, platforms, description)
}

// ScanResult fetches a stored scan report by ID.
func (l *Libscan) ScanResult(ctx context.Context, scanID string) (*fleetvuln.ScanReport, error) {
	return l.store.ScanResult(ctx, scanID)
}

// GC removes scan rows outside every device's slots and retention window.
func (l *Libscan) GC(ctx context.Context, keep int) (int64, error) {
	return l.store.GC(ctx, keep)
}
