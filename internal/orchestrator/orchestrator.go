// Package orchestrator drives multi-device workflows: inventory sync,
// device discovery, bulk scan jobs, and the comparison queries.
//
// The orchestrator is the engine's only producer of parallelism. Bulk scans
// fan out over a semaphore-bounded worker pool; one device's failure is
// recorded and the job continues. Scan-slot rotations for a device are
// serialized with a per-device key lock so concurrent scans can't interleave
// their writes.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/quay/zlog"
	"golang.org/x/sync/semaphore"

	"github.com/fleetvuln/fleetvuln"
	"github.com/fleetvuln/fleetvuln/datastore"
	"github.com/fleetvuln/fleetvuln/internal/keylock"
	"github.com/fleetvuln/fleetvuln/internal/scanner"
	"github.com/fleetvuln/fleetvuln/libscan/driver"
)

// Defaults for Opts fields left zero.
const (
	DefaultWorkers         = 8
	DefaultCollectDeadline = 30 * time.Second
)

// Opts tunes an Orchestrator.
type Opts struct {
	// parallel scans per bulk job
	Workers int
	// per-device deadline for a Collector call
	CollectDeadline time.Duration
}

func (o *Opts) parse() {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.CollectDeadline <= 0 {
		o.CollectDeadline = DefaultCollectDeadline
	}
}

// Orchestrator coordinates the store, the scan engine, and the device-facing
// collaborators. Construct with [New]; safe for concurrent use.
type Orchestrator struct {
	store     datastore.Store
	engine    *scanner.Engine
	collector driver.Collector
	inventory driver.InventorySource
	locks     *keylock.Set
	opts      Opts

	// root is the lifetime context bulk jobs run under, so a job outlives
	// the request that started it.
	root context.Context

	jobs *registry
}

// New constructs an Orchestrator. The context bounds the lifetime of every
// bulk job; cancel it to stop accepting and running jobs. Collector and
// inventory may be nil when the deployment is snapshot-only.
func New(ctx context.Context, store datastore.Store, engine *scanner.Engine, collector driver.Collector, inventory driver.InventorySource, opts Opts) *Orchestrator {
	opts.parse()
	return &Orchestrator{
		store:     store,
		engine:    engine,
		collector: collector,
		inventory: inventory,
		locks:     keylock.New(),
		opts:      opts,
		root:      ctx,
		jobs:      newRegistry(),
	}
}

// SyncInventory seeds and refreshes the device table from the inventory
// directory. Existing devices keep their discovered state; only the stub
// fields refresh. Reports how many devices were newly created.
func (o *Orchestrator) SyncInventory(ctx context.Context) (created, total int, err error) {
	ctx = zlog.ContextWithValues(ctx, "component", "internal/orchestrator/Orchestrator.SyncInventory")
	if o.inventory == nil {
		return 0, 0, &fleetvuln.Error{Op: `sync inventory`, Kind: fleetvuln.ErrUnavailable, Message: "no inventory source configured"}
	}
	stubs, err := o.inventory.List(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("inventory list: %w", err)
	}
	for i := range stubs {
		stub := stubs[i]
		if stub.Source == "" {
			stub.Source = fleetvuln.DeviceDirectory
		}
		_, isNew, err := o.store.UpsertDeviceStub(ctx, &stub)
		if err != nil {
			return created, total, err
		}
		total++
		if isNew {
			created++
		}
	}
	zlog.Info(ctx).Int("created", created).Int("total", total).Msg("inventory synced")
	return created, total, nil
}

// Discover runs the Collector against a device and records the outcome.
//
// Idempotent: re-running replaces prior discovery state. A transport or
// parse failure is recorded on the device row and returned; the device
// remains queryable but leaves the bulk-scan target set.
func (o *Orchestrator) Discover(ctx context.Context, hostname, ip string, creds driver.Credentials) (*fleetvuln.Device, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "internal/orchestrator/Orchestrator.Discover", "device", hostname)
	if o.collector == nil {
		return nil, &fleetvuln.Error{Op: `discover`, Kind: fleetvuln.ErrUnavailable, Message: "no collector configured"}
	}
	d, err := o.store.GetDevice(ctx, hostname, ip)
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, o.opts.CollectDeadline)
	snap, cerr := o.collector.Collect(cctx, ip, creds)
	cancel()
	if cerr == nil && snap.Version == "" {
		cerr = fmt.Errorf("snapshot %s carries no software version", snap.SnapshotID)
	}
	if cerr != nil {
		discoveryCounter.WithLabelValues("failed").Inc()
		zlog.Info(ctx).Err(cerr).Msg("discovery failed")
		if serr := o.store.UpdateDiscovery(ctx, d.ID, nil, fleetvuln.DiscoveryFailed, cerr.Error()); serr != nil {
			return nil, serr
		}
		d, err := o.store.GetDevice(ctx, hostname, ip)
		if err != nil {
			return nil, err
		}
		return d, fmt.Errorf("discovery: %w", cerr)
	}

	discoveryCounter.WithLabelValues("success").Inc()
	if err := o.store.UpdateDiscovery(ctx, d.ID, snap, fleetvuln.DiscoverySuccess, ""); err != nil {
		return nil, err
	}
	return o.store.GetDevice(ctx, hostname, ip)
}

// AcceptSnapshot installs an externally produced snapshot as the device's
// discovery state, skipping the Collector. This is the air-gapped path.
func (o *Orchestrator) AcceptSnapshot(ctx context.Context, hostname, ip string, snap *fleetvuln.DeviceSnapshot) (*fleetvuln.Device, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "internal/orchestrator/Orchestrator.AcceptSnapshot", "device", hostname)
	if snap.Version == "" {
		return nil, &fleetvuln.Error{
			Op:      `accept snapshot`,
			Kind:    fleetvuln.ErrInvalid,
			Message: fmt.Sprintf("snapshot %s carries no software version", snap.SnapshotID),
		}
	}
	d, err := o.store.GetDevice(ctx, hostname, ip)
	if err != nil {
		return nil, err
	}
	if err := o.store.UpdateDiscovery(ctx, d.ID, snap, fleetvuln.DiscoverySuccess, ""); err != nil {
		return nil, err
	}
	zlog.Info(ctx).Str("snapshot", snap.SnapshotID).Msg("snapshot accepted")
	return o.store.GetDevice(ctx, hostname, ip)
}

// ScanDevice scans one discovered device and rotates its scan slots. The
// rotation happens under the device's key lock.
func (o *Orchestrator) ScanDevice(ctx context.Context, d *fleetvuln.Device) (*fleetvuln.ScanReport, error) {
	if !d.Scannable() {
		return nil, &fleetvuln.Error{
			Op:      `scan device`,
			Kind:    fleetvuln.ErrInvalid,
			Message: fmt.Sprintf("device %s (%s) has no usable discovery", d.Hostname, d.IP),
		}
	}
	report, err := o.engine.Scan(ctx, &fleetvuln.ScanRequest{
		Platform:      d.Platform,
		Version:       d.Version,
		HardwareModel: d.HardwareModel,
		Features:      d.Features,
	})
	if err != nil {
		return nil, err
	}
	// The lock covers only the rotation write, not the scan.
	if err := o.locks.Lock(ctx, d.ID); err != nil {
		return nil, err
	}
	defer o.locks.Unlock(d.ID)
	if err := o.store.InsertScanResult(ctx, d.ID, report); err != nil {
		return nil, err
	}
	return report, nil
}

// BulkScan starts a job scanning every discovered device matching the
// optional platform set and device-ID list, and returns its job ID
// immediately. Poll with [Orchestrator.JobStatus].
func (o *Orchestrator) BulkScan(ctx context.Context, platforms []fleetvuln.Platform, ids []string) (*fleetvuln.JobStatus, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "internal/orchestrator/Orchestrator.BulkScan")
	devices, err := o.store.ListDevices(ctx, datastore.DeviceFilter{
		Platforms: platforms,
		IDs:       ids,
		Status:    fleetvuln.DiscoverySuccess,
	})
	if err != nil {
		return nil, err
	}
	targets := devices[:0]
	for _, d := range devices {
		if d.Scannable() {
			targets = append(targets, d)
		}
	}

	j := o.jobs.create(o.root, len(targets))
	zlog.Info(ctx).
		Stringer("job", j.id).
		Int("targets", len(targets)).
		Msg("bulk scan started")
	go o.runJob(j, targets)
	st := j.snapshot()
	return &st, nil
}

// RunJob is the job body. It fans the targets out over the worker pool and
// finalizes the job record when the pool drains.
func (o *Orchestrator) runJob(j *job, targets []*fleetvuln.Device) {
	ctx := zlog.ContextWithValues(j.ctx, "component", "internal/orchestrator/Orchestrator.runJob", "job", j.id.String())
	// The job context gates admission only. An admitted scan runs on the
	// orchestrator's root context so canceling the job can't abort its
	// store writes mid-flight; process shutdown still can.
	sctx := zlog.ContextWithValues(o.root, "component", "internal/orchestrator/Orchestrator.runJob", "job", j.id.String())
	jobGauge.Inc()
	defer jobGauge.Dec()

	sem := semaphore.NewWeighted(int64(o.opts.Workers))
	for _, d := range targets {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Canceled: everything not yet started is recorded as skipped.
			j.record(fleetvuln.BulkResult{
				Hostname: d.Hostname, IP: d.IP,
				Err: fmt.Sprintf("not started: %v", context.Cause(ctx)),
			}, false)
			continue
		}
		go func(d *fleetvuln.Device) {
			defer sem.Release(1)
			report, err := o.ScanDevice(sctx, d)
			if err != nil {
				zlog.Info(sctx).Err(err).Str("device", d.Hostname).Msg("device scan failed")
				j.record(fleetvuln.BulkResult{Hostname: d.Hostname, IP: d.IP, Err: err.Error()}, false)
				return
			}
			sum := report.ScanSummary
			j.record(fleetvuln.BulkResult{Hostname: d.Hostname, IP: d.IP, Summary: &sum}, true)
		}(d)
	}
	// Drain the pool; in-flight scans run to completion even on cancel.
	if err := sem.Acquire(context.Background(), int64(o.opts.Workers)); err != nil {
		panic("unreachable: " + err.Error())
	}
	j.finish()
	st := j.snapshot()
	zlog.Info(ctx).
		Str("state", string(st.State)).
		Int("completed", st.Completed).
		Int("failed", st.Failed).
		Msg("bulk scan finished")
}

// JobStatus returns a point-in-time snapshot of the job.
func (o *Orchestrator) JobStatus(id string) (*fleetvuln.JobStatus, error) {
	j, err := o.jobs.get(id)
	if err != nil {
		return nil, err
	}
	st := j.snapshot()
	return &st, nil
}

// CancelJob stops a running job from starting new scans. In-flight scans
// complete and their results are kept.
func (o *Orchestrator) CancelJob(id string) error {
	j, err := o.jobs.get(id)
	if err != nil {
		return err
	}
	j.stop()
	return nil
}

// WaitJob blocks until the job finishes or the context is done.
func (o *Orchestrator) WaitJob(ctx context.Context, id string) (*fleetvuln.JobStatus, error) {
	j, err := o.jobs.get(id)
	if err != nil {
		return nil, err
	}
	select {
	case <-j.done:
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
	st := j.snapshot()
	return &st, nil
}

// MarkStale ages out devices whose discovery predates the cutoff.
func (o *Orchestrator) MarkStale(ctx context.Context, olderThan time.Time) (int64, error) {
	return o.store.MarkStale(ctx, olderThan)
}
