// Package scanner turns one device position into a scan report.
//
// A scan enumerates the platform's vulnerability records and runs them
// through a filter cascade: version match, hardware scope, feature
// intersection, then the caller's severity filter. Survivors are grouped by
// severity partition, paginated, and summarized. The whole operation is
// read-only; concurrent scans share nothing but the store's MVCC snapshots.
package scanner

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quay/zlog"

	"github.com/fleetvuln/fleetvuln"
	"github.com/fleetvuln/fleetvuln/datastore"
)

// Opts tunes an Engine.
type Opts struct {
	// DropUnlabeled switches the feature filter's policy for records with
	// no labels from keep-and-flag to drop. Keep-and-flag is the default:
	// an unlabeled record can't be proven non-applicable.
	DropUnlabeled bool
}

// Engine runs scans against a vulnerability store.
type Engine struct {
	store datastore.VulnerabilityStore
	opts  Opts
}

// New constructs an Engine.
func New(store datastore.VulnerabilityStore, opts Opts) *Engine {
	return &Engine{store: store, opts: opts}
}

// Scan produces the report for one (platform, version, hardware, features)
// position.
//
// Output is deterministic given identical inputs and an unchanged store,
// modulo the scan ID and timestamps: candidates are processed in the store's
// stable severity-then-ID order and every filter is pure.
func (e *Engine) Scan(ctx context.Context, req *fleetvuln.ScanRequest) (*fleetvuln.ScanReport, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "internal/scanner/Engine.Scan")
	if err := req.Validate(); err != nil {
		return nil, err
	}
	deviceVersion, err := fleetvuln.ParseVersion(req.Version)
	if err != nil {
		// Validate parsed it once already.
		panic("unreachable: " + err.Error())
	}

	var sevFilter map[fleetvuln.Severity]struct{}
	if len(req.SeverityFilter) > 0 {
		sevFilter = make(map[fleetvuln.Severity]struct{}, len(req.SeverityFilter))
		for _, s := range req.SeverityFilter {
			sevFilter[s] = struct{}{}
		}
	}
	features := make(map[string]struct{}, len(req.Features))
	for _, f := range req.Features {
		features[f] = struct{}{}
	}

	report := &fleetvuln.ScanReport{
		ScanSummary: fleetvuln.ScanSummary{
			ScanID:        uuid.NewString(),
			Timestamp:     time.Now(),
			Platform:      req.Platform,
			Version:       req.Version,
			HardwareModel: req.HardwareModel,
		},
	}

	start := time.Now()
	var iterErr error
	e.store.QueryByPlatform(ctx, req.Platform)(func(v *fleetvuln.Vulnerability, err error) bool {
		if err != nil {
			iterErr = err
			return false
		}
		report.TotalChecked++

		// Stage 1: version.
		affected, reason := v.AffectedVersions.Affected(deviceVersion, v.FixedVersion)
		if !affected {
			return true
		}
		report.VersionMatches++

		// Stage 2: hardware scope. Records with no hardware model apply to
		// the whole platform and always pass.
		if req.HardwareModel != "" && v.HardwareModel != "" && v.HardwareModel != req.HardwareModel {
			report.HardwareFiltered++
			return true
		}

		// Stage 3: feature intersection.
		var unlabeled bool
		if len(features) > 0 {
			switch {
			case v.Unlabeled():
				if e.opts.DropUnlabeled {
					report.FeatureFiltered++
					return true
				}
				unlabeled = true
			case !intersects(v.Labels, features):
				report.FeatureFiltered++
				return true
			}
		}

		// Stage 4: the caller's severity filter.
		if sevFilter != nil {
			if _, ok := sevFilter[v.Severity]; !ok {
				return true
			}
		}

		collect(report, v, reason, unlabeled)
		return true
	})
	if iterErr != nil {
		return nil, iterErr
	}
	report.QueryTimeMS = time.Since(start).Milliseconds()

	summarize(report)
	paginate(report, req.Limit, req.Offset)

	filteredCounter.WithLabelValues("hardware").Add(float64(report.HardwareFiltered))
	filteredCounter.WithLabelValues("feature").Add(float64(report.FeatureFiltered))
	scanCounter.Inc()
	zlog.Debug(ctx).
		Str("scan_id", report.ScanID).
		Int("checked", report.TotalChecked).
		Int("matches", report.VersionMatches).
		Int("critical_high", len(report.CriticalHigh)).
		Int("medium_low", len(report.MediumLow)).
		Msg("scan done")
	return report, nil
}

// Collect projects a surviving candidate into the report: full detail for
// the critical partition, collapsed for everything below.
func collect(report *fleetvuln.ScanReport, v *fleetvuln.Vulnerability, reason string, unlabeled bool) {
	if v.Severity.CriticalOrHigh() {
		var fixed string
		if v.FixedVersion != nil {
			fixed = v.FixedVersion.String()
		}
		report.CriticalHigh = append(report.CriticalHigh, fleetvuln.Finding{
			ExternalID:       v.ExternalID,
			Kind:             v.Kind,
			Severity:         v.Severity,
			Headline:         v.Headline,
			Summary:          v.Summary,
			AffectedVersions: v.AffectedVersions.Raw,
			FixedVersion:     fixed,
			AdvisoryURL:      v.AdvisoryURL,
			Labels:           v.Labels,
			Reason:           reason,
			Unlabeled:        unlabeled,
		})
		return
	}
	report.MediumLow = append(report.MediumLow, fleetvuln.FindingBrief{
		ExternalID: v.ExternalID,
		Kind:       v.Kind,
		Severity:   v.Severity,
		Headline:   v.Headline,
		Summary:    firstSentence(v.Summary),
		Unlabeled:  unlabeled,
	})
}

// Summarize fills the kind-partitioned counts from the collected findings.
func summarize(report *fleetvuln.ScanReport) {
	for i := range report.CriticalHigh {
		f := &report.CriticalHigh[i]
		switch f.Kind {
		case fleetvuln.KindBug:
			report.TotalBugs++
			report.BugCriticalHigh++
		default:
			report.TotalAdvisories++
			report.AdvisoryCriticalHigh++
		}
	}
	for i := range report.MediumLow {
		switch report.MediumLow[i].Kind {
		case fleetvuln.KindBug:
			report.TotalBugs++
		default:
			report.TotalAdvisories++
		}
	}
}

// Paginate applies limit/offset across the flattened finding sequence,
// critical partition first. Counts are left alone; they describe the whole
// result set.
func paginate(report *fleetvuln.ScanReport, limit, offset int) {
	if limit <= 0 && offset <= 0 {
		return
	}
	nCrit := len(report.CriticalHigh)
	total := nCrit + len(report.MediumLow)
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	report.CriticalHigh = report.CriticalHigh[min(offset, nCrit):min(end, nCrit)]
	report.MediumLow = report.MediumLow[min(max(offset-nCrit, 0), len(report.MediumLow)):max(end-nCrit, 0)]
}

func intersects(labels []string, features map[string]struct{}) bool {
	for _, l := range labels {
		if _, ok := features[l]; ok {
			return true
		}
	}
	return false
}

// FirstSentence trims a summary down to its first sentence for the
// collapsed partition.
func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '!', '?':
			if i+1 == len(s) || s[i+1] == ' ' || s[i+1] == '\n' {
				return s[:i+1]
			}
		case '\n':
			return s[:i]
		}
	}
	return s
}
