package orchestrator

import (
	"context"
	"fmt"

	"github.com/quay/zlog"

	"github.com/fleetvuln/fleetvuln"
)

// CompareScans diffs the device's two scan slots, keyed by external ID.
// Requires both slots populated, so at least two scans must have run.
func (o *Orchestrator) CompareScans(ctx context.Context, hostname, ip string) (*fleetvuln.ScanDiff, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "internal/orchestrator/Orchestrator.CompareScans", "device", hostname)
	d, err := o.store.GetDevice(ctx, hostname, ip)
	if err != nil {
		return nil, err
	}
	if d.LastScan == nil || d.PreviousScan == nil {
		return nil, &fleetvuln.Error{
			Op:      `compare scans`,
			Kind:    fleetvuln.ErrInvalid,
			Message: fmt.Sprintf("device %s needs two recorded scans to compare", hostname),
		}
	}
	last, err := o.store.ScanResult(ctx, d.LastScan.ScanID)
	if err != nil {
		return nil, err
	}
	prev, err := o.store.ScanResult(ctx, d.PreviousScan.ScanID)
	if err != nil {
		return nil, err
	}

	diff := &fleetvuln.ScanDiff{
		LastScanID:     d.LastScan.ScanID,
		PreviousScanID: d.PreviousScan.ScanID,
	}
	diff.Fixed, diff.New, diff.Unchanged = diffFindings(prev.Findings(), last.Findings())
	diff.Counts = fleetvuln.DiffCounts{
		Fixed:     countBySeverity(diff.Fixed),
		New:       countBySeverity(diff.New),
		Unchanged: countBySeverity(diff.Unchanged),
	}
	zlog.Debug(ctx).
		Int("fixed", len(diff.Fixed)).
		Int("new", len(diff.New)).
		Int("unchanged", len(diff.Unchanged)).
		Msg("scan diff")
	return diff, nil
}

// CompareVersions answers the what-if: which findings would moving the device
// to the target version fix or introduce. The target scan is hypothetical and
// never rotates into the device's slots.
func (o *Orchestrator) CompareVersions(ctx context.Context, hostname, ip, target string) (*fleetvuln.VersionComparison, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "internal/orchestrator/Orchestrator.CompareVersions", "device", hostname)
	d, err := o.store.GetDevice(ctx, hostname, ip)
	if err != nil {
		return nil, err
	}
	if d.LastScan == nil {
		return nil, &fleetvuln.Error{
			Op:      `compare versions`,
			Kind:    fleetvuln.ErrInvalid,
			Message: fmt.Sprintf("device %s has no recorded scan", hostname),
		}
	}
	current, err := o.store.ScanResult(ctx, d.LastScan.ScanID)
	if err != nil {
		return nil, err
	}
	targetReport, err := o.engine.Scan(ctx, &fleetvuln.ScanRequest{
		Platform:      current.Platform,
		Version:       target,
		HardwareModel: current.HardwareModel,
		Features:      d.Features,
	})
	if err != nil {
		return nil, err
	}

	cmp := &fleetvuln.VersionComparison{
		Hostname:       d.Hostname,
		CurrentVersion: current.Version,
		TargetVersion:  target,
		Current:        &current.ScanSummary,
		Target:         &targetReport.ScanSummary,
	}
	var unchanged []fleetvuln.FindingBrief
	cmp.Fixed, cmp.Introduced, unchanged = diffFindings(current.Findings(), targetReport.Findings())
	grade(cmp, len(unchanged))
	return cmp, nil
}

// Grade fills the risk fields from the diff. New critical exposure dominates;
// a strict shrink with no new criticals is low risk; anything else is a
// judgment call left at medium.
func grade(cmp *fleetvuln.VersionComparison, unchanged int) {
	var critDelta, newCritical int
	for i := range cmp.Introduced {
		if cmp.Introduced[i].Severity == fleetvuln.Critical {
			newCritical++
			critDelta++
		}
	}
	for i := range cmp.Fixed {
		if cmp.Fixed[i].Severity == fleetvuln.Critical {
			critDelta--
		}
	}
	currentTotal := len(cmp.Fixed) + unchanged
	targetTotal := len(cmp.Introduced) + unchanged

	switch {
	case critDelta > 0:
		cmp.RiskLevel = fleetvuln.RiskHigh
		cmp.RiskScore = min(100, 60+10*critDelta)
	case targetTotal < currentTotal && newCritical == 0:
		cmp.RiskLevel = fleetvuln.RiskLow
		cmp.RiskScore = max(5, 25-2*(currentTotal-targetTotal))
	default:
		cmp.RiskLevel = fleetvuln.RiskMedium
		cmp.RiskScore = min(59, 40+3*len(cmp.Introduced))
	}
	cmp.Narrative = fmt.Sprintf(
		"moving %s from %s to %s fixes %d finding(s) and introduces %d (%d critical); exposure goes from %d to %d known issue(s)",
		cmp.Hostname, cmp.CurrentVersion, cmp.TargetVersion,
		len(cmp.Fixed), len(cmp.Introduced), newCritical,
		currentTotal, targetTotal,
	)
}

// DiffFindings computes the set difference of two finding sequences by
// external ID. Unchanged entries take the "after" side's copy.
func diffFindings(before, after []fleetvuln.FindingBrief) (gone, added, kept []fleetvuln.FindingBrief) {
	seen := make(map[string]struct{}, len(before))
	for i := range before {
		seen[before[i].ExternalID] = struct{}{}
	}
	inAfter := make(map[string]struct{}, len(after))
	for i := range after {
		f := after[i]
		inAfter[f.ExternalID] = struct{}{}
		if _, ok := seen[f.ExternalID]; ok {
			kept = append(kept, f)
		} else {
			added = append(added, f)
		}
	}
	for i := range before {
		if _, ok := inAfter[before[i].ExternalID]; !ok {
			gone = append(gone, before[i])
		}
	}
	return gone, added, kept
}

func countBySeverity(fs []fleetvuln.FindingBrief) map[fleetvuln.Severity]int {
	m := make(map[fleetvuln.Severity]int, len(fs))
	for i := range fs {
		m[fs[i].Severity]++
	}
	return m
}
