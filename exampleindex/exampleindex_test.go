package exampleindex

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/quay/zlog"

	"github.com/fleetvuln/fleetvuln"
)

// vec pads a short prefix out to a full-width vector so tests stay readable.
func vec(prefix ...float32) []float32 {
	v := make([]float32, 8)
	copy(v, prefix)
	return v
}

func testExamples() []Example {
	return []Example{
		{ExternalID: "CSCwx00001", Platform: fleetvuln.IOSXE, Labels: []string{"MGMT_SSH_HTTP"}, Summary: "ssh crash", Vector: vec(1, 0)},
		{ExternalID: "CSCwx00002", Platform: fleetvuln.IOSXE, Labels: []string{"ROUTING_BGP"}, Summary: "bgp flap", Vector: vec(0.9, 0.1)},
		{ExternalID: "CSCwx00003", Platform: fleetvuln.IOSXE, Labels: []string{"SYS_NTP"}, Summary: "ntp drift", Vector: vec(0, 1)},
		{ExternalID: "CSCnx00004", Platform: fleetvuln.NXOS, Labels: []string{"NXAPI_HTTP"}, Summary: "nxapi dos", Vector: vec(1, 0)},
	}
}

func TestSearch(t *testing.T) {
	idx, err := New(Metadata{Dim: 8}, testExamples())
	if err != nil {
		t.Fatal(err)
	}

	got := idx.Search(vec(1, 0), fleetvuln.IOSXE, 2)
	if len(got) != 2 {
		t.Fatalf("got %d matches", len(got))
	}
	if got[0].ExternalID != "CSCwx00001" || got[1].ExternalID != "CSCwx00002" {
		t.Errorf("order: %s, %s", got[0].ExternalID, got[1].ExternalID)
	}
	if got[0].Similarity < 0.999 {
		t.Errorf("identical vector similarity %f", got[0].Similarity)
	}
	if got[0].Similarity < got[1].Similarity {
		t.Error("results not sorted best-first")
	}

	t.Run("PlatformFilter", func(t *testing.T) {
		got := idx.Search(vec(1, 0), fleetvuln.NXOS, 5)
		if len(got) != 1 || got[0].ExternalID != "CSCnx00004" {
			t.Errorf("got: %+v", got)
		}
	})

	t.Run("Orthogonal", func(t *testing.T) {
		// NX-OS has no example along this axis.
		got := idx.Search(vec(0, 0, 1), fleetvuln.NXOS, 5)
		if len(got) != 0 {
			t.Errorf("got: %+v", got)
		}
	})

	t.Run("WrongWidth", func(t *testing.T) {
		if got := idx.Search([]float32{1}, fleetvuln.IOSXE, 5); got != nil {
			t.Errorf("got: %+v", got)
		}
	})
}

func TestRoundTrip(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	var buf bytes.Buffer
	meta := Metadata{
		SchemaVersion: "1.1.0",
		EmbedderModel: "all-MiniLM-L6-v2",
		ModelVersion:  "adapter-7",
	}
	if err := Store(&buf, meta, testExamples()); err != nil {
		t.Fatal(err)
	}
	idx, err := Load(ctx, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Len() != 4 {
		t.Errorf("got %d examples", idx.Len())
	}
	got := idx.Metadata()
	if got.EmbedderModel != meta.EmbedderModel || got.Dim != 8 || got.Count != 4 {
		t.Errorf("metadata: %+v", got)
	}
	m := idx.Search(vec(0, 1), fleetvuln.IOSXE, 1)
	if len(m) != 1 || m[0].ExternalID != "CSCwx00003" {
		t.Errorf("got: %+v", m)
	}
	if !cmp.Equal(m[0].Labels, []string{"SYS_NTP"}) {
		t.Error(cmp.Diff(m[0].Labels, []string{"SYS_NTP"}))
	}
}

func TestSchemaGate(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	var buf bytes.Buffer
	if err := Store(&buf, Metadata{SchemaVersion: "2.0.0"}, testExamples()); err != nil {
		t.Fatal(err)
	}
	_, err := Load(ctx, &buf)
	if !errors.Is(err, fleetvuln.ErrInvalid) {
		t.Errorf("got: %v, want invalid", err)
	}
}

func TestVectorWidthMismatch(t *testing.T) {
	ex := testExamples()
	ex[1].Vector = []float32{1, 2}
	if _, err := New(Metadata{Dim: 8}, ex); !errors.Is(err, fleetvuln.ErrInvalid) {
		t.Errorf("got: %v, want invalid", err)
	}
}
