package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/fleetvuln/fleetvuln"
	"github.com/fleetvuln/fleetvuln/libscan/driver"
	"github.com/fleetvuln/fleetvuln/taxonomy"
)

func TestBuildPrompt(t *testing.T) {
	tax := taxonomy.For(fleetvuln.IOSXE)
	examples := []fleetvuln.RetrievedExample{
		{ExternalID: "CSCwx00001", Labels: []string{"WEB_UI", "MGMT_SSH_HTTP"}, Summary: "web ui crash", Similarity: 0.91},
	}
	p := BuildPrompt(tax, "device reloads when SNMP polled", examples)

	for _, want := range []string{
		"Platform: IOS-XE",
		"MGMT_SNMP: SNMP agent enabled, any version",
		"Description: web ui crash",
		"Labels: MGMT_SSH_HTTP, WEB_UI",
		"device reloads when SNMP polled",
		`{"labels": ["LABEL", ...], "confidence": 0.0}`,
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	// Byte-identical across calls.
	if again := BuildPrompt(tax, "device reloads when SNMP polled", examples); p != again {
		t.Error("prompt not deterministic")
	}
}

func TestParseAnswer(t *testing.T) {
	type testcase struct {
		Name  string
		Reply string
		Want  driver.LabelAnswer
		Err   bool
	}
	table := []testcase{
		{
			Name:  "Bare",
			Reply: `{"labels": ["MGMT_SNMP"], "confidence": 0.82}`,
			Want:  driver.LabelAnswer{Labels: []string{"MGMT_SNMP"}, Confidence: 0.82},
		},
		{
			Name:  "Fenced",
			Reply: "Sure! Here's the answer:\n```json\n{\"labels\": [\"SEC_CoPP\", \"MGMT_SNMP\"], \"confidence\": 0.9}\n```\nLet me know",
			Want:  driver.LabelAnswer{Labels: []string{"SEC_CoPP", "MGMT_SNMP"}, Confidence: 0.9},
		},
		{
			Name:  "ClampHigh",
			Reply: `{"labels": ["SYS_NTP"], "confidence": 3}`,
			Want:  driver.LabelAnswer{Labels: []string{"SYS_NTP"}, Confidence: 1},
		},
		{
			Name:  "NoObject",
			Reply: "I can't help with that.",
			Err:   true,
		},
		{
			Name:  "Garbage",
			Reply: `{"labels": "MGMT_SNMP"}`,
			Err:   true,
		},
	}
	for _, tc := range table {
		t.Run(tc.Name, func(t *testing.T) {
			got, err := ParseAnswer(tc.Reply)
			if (err != nil) != tc.Err {
				t.Fatalf("err: %v", err)
			}
			if err != nil {
				return
			}
			if !cmp.Equal(got, tc.Want) {
				t.Error(cmp.Diff(got, tc.Want))
			}
		})
	}
}

type countingBackend struct {
	calls int
}

func (c *countingBackend) Predict(_ context.Context, _ string) (driver.LabelAnswer, error) {
	c.calls++
	return driver.LabelAnswer{Confidence: 1}, nil
}

func TestLimit(t *testing.T) {
	b := &countingBackend{}
	lim := Limit(b, 1000)
	for i := 0; i < 3; i++ {
		if _, err := lim.Predict(context.Background(), "p"); err != nil {
			t.Fatal(err)
		}
	}
	if b.calls != 3 {
		t.Errorf("got %d calls", b.calls)
	}

	t.Run("DeadlineWins", func(t *testing.T) {
		slow := Limit(b, 0.001)
		// Burn the burst token, then the next call must wait ~1000s.
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if _, err := slow.Predict(ctx, "p"); err != nil {
			t.Fatal(err)
		}
		_, err := slow.Predict(ctx, "p")
		if err == nil || errors.Is(err, context.Canceled) {
			t.Errorf("got: %v", err)
		}
	})

	t.Run("Unwrapped", func(t *testing.T) {
		if got := Limit(b, 0); got != driver.LLMBackend(b) {
			t.Error("zero rps should return the backend unwrapped")
		}
	})
}
