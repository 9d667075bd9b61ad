// Package taxonomy holds the per-platform vocabularies of device-observable
// feature labels.
//
// A label names something a feature extractor can verify against device
// configuration or show-command output, like "MGMT_SSH_HTTP". Vulnerability
// records carry label sets, devices report which labels were observed, and
// the scan feature filter intersects the two. The label predictor feeds the
// same vocabulary into its prompts, so every platform's table doubles as the
// authoritative list of what the predictor may answer with.
//
// The tables are fixed at build time and read-only afterward.
package taxonomy

import (
	"sort"

	"github.com/fleetvuln/fleetvuln"
)

// Taxonomy is the label vocabulary for one platform.
type Taxonomy struct {
	platform fleetvuln.Platform
	desc     map[string]string
	order    []string
}

// For returns the taxonomy for a platform, or nil when the platform has
// none. All methods are nil-safe, so callers may chain without checking.
func For(p fleetvuln.Platform) *Taxonomy {
	switch p {
	case fleetvuln.IOSXE:
		return iosxe
	case fleetvuln.IOSXR:
		return iosxr
	case fleetvuln.ASA:
		return asa
	case fleetvuln.FTD:
		return ftd
	case fleetvuln.NXOS:
		return nxos
	}
	return nil
}

// Platform reports which platform the taxonomy describes.
func (t *Taxonomy) Platform() fleetvuln.Platform {
	if t == nil {
		return ""
	}
	return t.platform
}

// Has reports whether the label is a member of the vocabulary.
func (t *Taxonomy) Has(label string) bool {
	if t == nil {
		return false
	}
	_, ok := t.desc[label]
	return ok
}

// Description returns the one-line description for a label.
func (t *Taxonomy) Description(label string) (string, bool) {
	if t == nil {
		return "", false
	}
	d, ok := t.desc[label]
	return d, ok
}

// Labels returns the vocabulary in sorted order. The slice is a copy.
func (t *Taxonomy) Labels() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Len reports the vocabulary size.
func (t *Taxonomy) Len() int {
	if t == nil {
		return 0
	}
	return len(t.order)
}

func build(p fleetvuln.Platform, tables ...map[string]string) *Taxonomy {
	t := &Taxonomy{platform: p, desc: make(map[string]string)}
	for _, tbl := range tables {
		for label, d := range tbl {
			t.desc[label] = d
		}
	}
	t.order = make([]string, 0, len(t.desc))
	for label := range t.desc {
		t.order = append(t.order, label)
	}
	sort.Strings(t.order)
	return t
}
