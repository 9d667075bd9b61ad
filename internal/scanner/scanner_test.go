package scanner

import (
	"context"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/quay/zlog"

	"github.com/fleetvuln/fleetvuln"
	"github.com/fleetvuln/fleetvuln/datastore"
)

// sliceStore serves a fixed record set in the store's contractual order:
// severity ascending, external ID breaking ties.
type sliceStore struct {
	recs []*fleetvuln.Vulnerability
}

func (s *sliceStore) InsertVulnerability(context.Context, *fleetvuln.Vulnerability) (string, error) {
	panic("not used")
}

func (s *sliceStore) UpdateVulnerabilityLabels(context.Context, string, []string, fleetvuln.LabelsSource) error {
	panic("not used")
}

func (s *sliceStore) QueryByAdvisory(context.Context, string, fleetvuln.Platform) (*fleetvuln.Vulnerability, error) {
	panic("not used")
}

func (s *sliceStore) QueryByPlatform(_ context.Context, platform fleetvuln.Platform) datastore.Iter[*fleetvuln.Vulnerability] {
	recs := make([]*fleetvuln.Vulnerability, 0, len(s.recs))
	for _, v := range s.recs {
		if v.Platform == platform {
			recs = append(recs, v)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Severity != recs[j].Severity {
			return recs[i].Severity < recs[j].Severity
		}
		return recs[i].ExternalID < recs[j].ExternalID
	})
	return func(yield func(*fleetvuln.Vulnerability, error) bool) {
		for _, v := range recs {
			if !yield(v, nil) {
				return
			}
		}
	}
}

func rec(externalID string, kind fleetvuln.VulnKind, sev fleetvuln.Severity, expr string, labels ...string) *fleetvuln.Vulnerability {
	return &fleetvuln.Vulnerability{
		ExternalID:       externalID,
		Kind:             kind,
		Platform:         fleetvuln.IOSXE,
		Severity:         sev,
		Headline:         externalID + " headline",
		Summary:          "First sentence. Second sentence.",
		AffectedVersions: fleetvuln.ParseExpression(expr),
		Labels:           labels,
	}
}

func scanCtx(t *testing.T) context.Context {
	t.Helper()
	return zlog.Test(context.Background(), t)
}

func TestExactVersionMatch(t *testing.T) {
	store := &sliceStore{recs: []*fleetvuln.Vulnerability{
		rec("CSCwx00001", fleetvuln.KindBug, fleetvuln.High, "17.10.1", "MGMT_SSH_HTTP"),
	}}
	e := New(store, Opts{})

	got, err := e.Scan(scanCtx(t), &fleetvuln.ScanRequest{Platform: fleetvuln.IOSXE, Version: "17.10.1"})
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalBugs != 1 || got.BugCriticalHigh != 1 {
		t.Errorf("summary: %+v", got.ScanSummary)
	}
	if len(got.CriticalHigh) != 1 || got.CriticalHigh[0].ExternalID != "CSCwx00001" {
		t.Errorf("findings: %+v", got.CriticalHigh)
	}
	if got.TotalChecked != 1 || got.VersionMatches != 1 {
		t.Errorf("counters: %+v", got)
	}

	t.Run("NormalizedEquality", func(t *testing.T) {
		// Leading zeros are a formatting artifact, not a different version.
		got, err := e.Scan(scanCtx(t), &fleetvuln.ScanRequest{Platform: fleetvuln.IOSXE, Version: "17.10.01"})
		if err != nil {
			t.Fatal(err)
		}
		if got.TotalBugs != 1 {
			t.Errorf("summary: %+v", got.ScanSummary)
		}
	})
}

func TestOpenLaterWithinTrain(t *testing.T) {
	store := &sliceStore{recs: []*fleetvuln.Vulnerability{
		rec("CSCwx00002", fleetvuln.KindBug, fleetvuln.Medium, "17.10.3 and later"),
	}}
	e := New(store, Opts{})

	type testcase struct {
		Version string
		Matches int
	}
	for _, tc := range []testcase{
		{"17.10.3", 1},
		{"17.10.2", 0},
		{"17.10.5", 1},
		{"17.11.0", 0}, // later train, out of scope
	} {
		t.Run(tc.Version, func(t *testing.T) {
			got, err := e.Scan(scanCtx(t), &fleetvuln.ScanRequest{Platform: fleetvuln.IOSXE, Version: tc.Version})
			if err != nil {
				t.Fatal(err)
			}
			if got.VersionMatches != tc.Matches {
				t.Errorf("got %d matches, want %d", got.VersionMatches, tc.Matches)
			}
		})
	}
}

func TestFixOverride(t *testing.T) {
	fixed := fleetvuln.Version{Major: 17, Minor: 10, Patch: 7}
	r := rec("CSCwx00002", fleetvuln.KindBug, fleetvuln.Medium, "17.10.3 and later")
	r.FixedVersion = &fixed
	e := New(&sliceStore{recs: []*fleetvuln.Vulnerability{r}}, Opts{})

	got, err := e.Scan(scanCtx(t), &fleetvuln.ScanRequest{Platform: fleetvuln.IOSXE, Version: "17.10.7"})
	if err != nil {
		t.Fatal(err)
	}
	if got.VersionMatches != 0 {
		t.Error("fixed version still matched")
	}
	got, err = e.Scan(scanCtx(t), &fleetvuln.ScanRequest{Platform: fleetvuln.IOSXE, Version: "17.10.6"})
	if err != nil {
		t.Fatal(err)
	}
	if got.VersionMatches != 1 {
		t.Error("pre-fix version did not match")
	}
}

func TestHardwareFilter(t *testing.T) {
	a := rec("CSCwx00010", fleetvuln.KindBug, fleetvuln.High, "17.10.1")
	a.HardwareModel = "Cat9300"
	b := rec("CSCwx00011", fleetvuln.KindBug, fleetvuln.High, "17.10.1")
	b.HardwareModel = "Cat9300"
	c := rec("CSCwx00012", fleetvuln.KindBug, fleetvuln.High, "17.10.1")
	e := New(&sliceStore{recs: []*fleetvuln.Vulnerability{a, b, c}}, Opts{})

	got, err := e.Scan(scanCtx(t), &fleetvuln.ScanRequest{
		Platform: fleetvuln.IOSXE, Version: "17.10.1", HardwareModel: "Cat9500",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.HardwareFiltered != 2 {
		t.Errorf("hardware_filtered_count = %d, want 2", got.HardwareFiltered)
	}
	if len(got.CriticalHigh) != 1 || got.CriticalHigh[0].ExternalID != "CSCwx00012" {
		t.Errorf("findings: %+v", got.CriticalHigh)
	}

	t.Run("NoRequestHardware", func(t *testing.T) {
		got, err := e.Scan(scanCtx(t), &fleetvuln.ScanRequest{Platform: fleetvuln.IOSXE, Version: "17.10.1"})
		if err != nil {
			t.Fatal(err)
		}
		if got.HardwareFiltered != 0 || len(got.CriticalHigh) != 3 {
			t.Errorf("filter ran without request hardware: %+v", got.ScanSummary)
		}
	})
}

func TestFeatureFilter(t *testing.T) {
	store := &sliceStore{recs: []*fleetvuln.Vulnerability{
		rec("CSCwx00020", fleetvuln.KindBug, fleetvuln.High, "17.10.1", "ROUTING_BGP"),
		rec("CSCwx00021", fleetvuln.KindBug, fleetvuln.High, "17.10.1", "WLC_CAPWAP"),
		rec("CSCwx00022", fleetvuln.KindBug, fleetvuln.High, "17.10.1"), // unlabeled
	}}
	req := &fleetvuln.ScanRequest{
		Platform: fleetvuln.IOSXE, Version: "17.10.1",
		Features: []string{"ROUTING_BGP", "MGMT_SSH_HTTP"},
	}

	got, err := New(store, Opts{}).Scan(scanCtx(t), req)
	if err != nil {
		t.Fatal(err)
	}
	if got.FeatureFiltered != 1 {
		t.Errorf("feature_filtered_count = %d, want 1", got.FeatureFiltered)
	}
	var ids []string
	var unlabeled []bool
	for _, f := range got.CriticalHigh {
		ids = append(ids, f.ExternalID)
		unlabeled = append(unlabeled, f.Unlabeled)
	}
	if want := []string{"CSCwx00020", "CSCwx00022"}; !cmp.Equal(ids, want) {
		t.Error(cmp.Diff(ids, want))
	}
	// The unlabeled record survives on the conservative clause, flagged.
	if want := []bool{false, true}; !cmp.Equal(unlabeled, want) {
		t.Error(cmp.Diff(unlabeled, want))
	}

	t.Run("DropPolicy", func(t *testing.T) {
		got, err := New(store, Opts{DropUnlabeled: true}).Scan(scanCtx(t), req)
		if err != nil {
			t.Fatal(err)
		}
		if got.FeatureFiltered != 2 || len(got.CriticalHigh) != 1 {
			t.Errorf("got: %+v", got.ScanSummary)
		}
	})
}

func TestSeverityFilterAndPartitions(t *testing.T) {
	store := &sliceStore{recs: []*fleetvuln.Vulnerability{
		rec("CSCwx00030", fleetvuln.KindBug, fleetvuln.Critical, "17.10.1"),
		rec("cisco-sa-a", fleetvuln.KindAdvisory, fleetvuln.High, "17.10.1"),
		rec("CSCwx00031", fleetvuln.KindBug, fleetvuln.Medium, "17.10.1"),
		rec("cisco-sa-b", fleetvuln.KindAdvisory, fleetvuln.Low, "17.10.1"),
	}}
	e := New(store, Opts{})

	got, err := e.Scan(scanCtx(t), &fleetvuln.ScanRequest{Platform: fleetvuln.IOSXE, Version: "17.10.1"})
	if err != nil {
		t.Fatal(err)
	}
	want := fleetvuln.ScanSummary{
		TotalBugs: 2, BugCriticalHigh: 1,
		TotalAdvisories: 2, AdvisoryCriticalHigh: 1,
	}
	ignore := cmpopts.IgnoreFields(fleetvuln.ScanSummary{},
		"ScanID", "Timestamp", "Platform", "Version", "QueryTimeMS")
	if !cmp.Equal(got.ScanSummary, want, ignore) {
		t.Error(cmp.Diff(got.ScanSummary, want, ignore))
	}
	// Medium and below come back collapsed to the first sentence.
	if len(got.MediumLow) != 2 || got.MediumLow[0].Summary != "First sentence." {
		t.Errorf("collapsed partition: %+v", got.MediumLow)
	}

	t.Run("Filter", func(t *testing.T) {
		got, err := e.Scan(scanCtx(t), &fleetvuln.ScanRequest{
			Platform: fleetvuln.IOSXE, Version: "17.10.1",
			SeverityFilter: []fleetvuln.Severity{fleetvuln.Critical, fleetvuln.Medium},
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(got.CriticalHigh) != 1 || len(got.MediumLow) != 1 {
			t.Errorf("got: %d critical/high, %d medium/low", len(got.CriticalHigh), len(got.MediumLow))
		}
	})
}

func TestPagination(t *testing.T) {
	store := &sliceStore{recs: []*fleetvuln.Vulnerability{
		rec("CSCwx00040", fleetvuln.KindBug, fleetvuln.Critical, "17.10.1"),
		rec("CSCwx00041", fleetvuln.KindBug, fleetvuln.High, "17.10.1"),
		rec("CSCwx00042", fleetvuln.KindBug, fleetvuln.Medium, "17.10.1"),
		rec("CSCwx00043", fleetvuln.KindBug, fleetvuln.Low, "17.10.1"),
	}}
	e := New(store, Opts{})

	type testcase struct {
		Name          string
		Limit, Offset int
		WantIDs       []string
	}
	table := []testcase{
		{Name: "FirstPage", Limit: 2, WantIDs: []string{"CSCwx00040", "CSCwx00041"}},
		{Name: "Straddle", Limit: 2, Offset: 1, WantIDs: []string{"CSCwx00041", "CSCwx00042"}},
		{Name: "Tail", Limit: 10, Offset: 3, WantIDs: []string{"CSCwx00043"}},
		{Name: "PastEnd", Limit: 2, Offset: 10, WantIDs: nil},
	}
	for _, tc := range table {
		t.Run(tc.Name, func(t *testing.T) {
			got, err := e.Scan(scanCtx(t), &fleetvuln.ScanRequest{
				Platform: fleetvuln.IOSXE, Version: "17.10.1",
				Limit: tc.Limit, Offset: tc.Offset,
			})
			if err != nil {
				t.Fatal(err)
			}
			var ids []string
			for _, f := range got.Findings() {
				ids = append(ids, f.ExternalID)
			}
			if !cmp.Equal(ids, tc.WantIDs) {
				t.Error(cmp.Diff(ids, tc.WantIDs))
			}
			// Counts describe the whole result set, not the page.
			if got.TotalBugs != 4 {
				t.Errorf("total_bugs = %d", got.TotalBugs)
			}
		})
	}
}

func TestDeterminism(t *testing.T) {
	store := &sliceStore{recs: []*fleetvuln.Vulnerability{
		rec("CSCwx00050", fleetvuln.KindBug, fleetvuln.High, "17.10.x"),
		rec("CSCwx00051", fleetvuln.KindBug, fleetvuln.High, "17.10.1 and earlier"),
		rec("cisco-sa-c", fleetvuln.KindAdvisory, fleetvuln.Medium, "17.9 and later"),
	}}
	e := New(store, Opts{})
	req := &fleetvuln.ScanRequest{Platform: fleetvuln.IOSXE, Version: "17.10.1", Features: []string{"SYS_NTP"}}

	a, err := e.Scan(scanCtx(t), req)
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Scan(scanCtx(t), req)
	if err != nil {
		t.Fatal(err)
	}
	ignore := cmpopts.IgnoreFields(fleetvuln.ScanSummary{}, "ScanID", "Timestamp", "QueryTimeMS")
	if !cmp.Equal(a, b, ignore) {
		t.Error(cmp.Diff(a, b, ignore))
	}
}

func TestFirstSentence(t *testing.T) {
	type testcase struct{ In, Want string }
	for _, tc := range []testcase{
		{"One. Two.", "One."},
		{"Version 17.9.1 crashes. Fixed later.", "Version 17.9.1 crashes."},
		{"No terminator", "No terminator"},
		{"Line one\nline two", "Line one"},
		{"Really? Yes.", "Really?"},
	} {
		if got := firstSentence(tc.In); got != tc.Want {
			t.Errorf("%q: got %q, want %q", tc.In, got, tc.Want)
		}
	}
}
