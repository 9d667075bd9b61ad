package fleetvuln

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type versionTestcase struct {
	Name string
	In   string
	Want Version
	Err  bool
}

func (tc versionTestcase) ParseTest(t *testing.T) {
	got, err := ParseVersion(tc.In)
	if tc.Err {
		t.Logf("%q → %v", tc.In, err)
		if err == nil {
			t.Errorf("expected parse of %q to fail, got %v", tc.In, got)
		}
		return
	}
	if err != nil {
		t.Fatal(err)
	}
	t.Logf("%q → %v", tc.In, got)
	if !cmp.Equal(tc.Want, got) {
		t.Error(cmp.Diff(tc.Want, got))
	}
}

func (tc versionTestcase) RoundTripTest(t *testing.T) {
	if tc.Err {
		t.SkipNow()
	}
	first, err := ParseVersion(tc.In)
	if err != nil {
		t.Fatal(err)
	}
	second, err := ParseVersion(first.String())
	if err != nil {
		t.Fatal(err)
	}
	t.Logf("%q → %v → %v", tc.In, first, second)
	if !cmp.Equal(first, second) {
		t.Error(cmp.Diff(first, second))
	}
}

var versiontt = []versionTestcase{
	{
		Name: "Simple",
		In:   "17.10.1",
		Want: Version{Major: 17, Minor: 10, Patch: 1},
	},
	{
		Name: "LeadingZeros",
		In:   "17.03.05",
		Want: Version{Major: 17, Minor: 3, Patch: 5},
	},
	{
		Name: "Suffix",
		In:   "17.9.1a",
		Want: Version{Major: 17, Minor: 9, Patch: 1, Suffix: "a"},
	},
	{
		Name: "UppercaseSuffix",
		In:   "17.9.1A",
		Want: Version{Major: 17, Minor: 9, Patch: 1, Suffix: "a"},
	},
	{
		Name: "Partial",
		In:   "17.10",
		Want: Version{Major: 17, Minor: 10},
	},
	{
		Name: "MajorOnly",
		In:   "17",
		Want: Version{Major: 17},
	},
	{
		Name: "Parenthesized",
		In:   "9.3(5)",
		Want: Version{Major: 9, Minor: 3, Patch: 5},
	},
	{
		Name: "ParenthesizedSuffix",
		In:   "15.2(4)M",
		Want: Version{Major: 15, Minor: 2, Patch: 4, Suffix: "m"},
	},
	{
		Name: "Whitespace",
		In:   "  17.10.1  ",
		Want: Version{Major: 17, Minor: 10, Patch: 1},
	},
	{
		Name: "Empty",
		In:   "",
		Err:  true,
	},
	{
		Name: "Word",
		In:   "latest",
		Err:  true,
	},
	{
		Name: "TooManyComponents",
		In:   "9.16.4.8",
		Err:  true,
	},
	{
		Name: "SuffixMidComponent",
		In:   "17.9a.1",
		Err:  true,
	},
	{
		Name: "BareDot",
		In:   ".",
		Err:  true,
	},
}

func TestVersionParse(t *testing.T) {
	for _, tc := range versiontt {
		t.Run(tc.Name, tc.ParseTest)
	}
}

func TestVersionRoundTrip(t *testing.T) {
	for _, tc := range versiontt {
		t.Run(tc.Name, tc.RoundTripTest)
	}
}

func TestVersionCompare(t *testing.T) {
	testcases := []struct {
		Name string
		A, B string
		Want int
	}{
		{Name: "Equal", A: "17.10.1", B: "17.10.1", Want: 0},
		{Name: "EqualAfterNormalize", A: "17.03.05", B: "17.3.5", Want: 0},
		{Name: "PatchLess", A: "17.10.1", B: "17.10.2", Want: -1},
		{Name: "MinorGreater", A: "17.11.0", B: "17.10.9", Want: 1},
		{Name: "MajorLess", A: "16.12.5", B: "17.1.1", Want: -1},
		{Name: "SuffixAfterBare", A: "17.9.1", B: "17.9.1a", Want: -1},
		{Name: "SuffixOrder", A: "17.9.1a", B: "17.9.1b", Want: -1},
		{Name: "PartialPadsZero", A: "17.10", B: "17.10.0", Want: 0},
	}
	for _, tc := range testcases {
		t.Run(tc.Name, func(t *testing.T) {
			a, err := ParseVersion(tc.A)
			if err != nil {
				t.Fatal(err)
			}
			b, err := ParseVersion(tc.B)
			if err != nil {
				t.Fatal(err)
			}
			if got := a.Compare(b); got != tc.Want {
				t.Errorf("Compare(%v, %v) = %d, want %d", a, b, got, tc.Want)
			}
			if got := b.Compare(a); got != -tc.Want {
				t.Errorf("Compare(%v, %v) = %d, want %d", b, a, got, -tc.Want)
			}
		})
	}
}

func TestSameTrain(t *testing.T) {
	testcases := []struct {
		Name string
		A, B string
		Want bool
	}{
		{Name: "SamePatchDiffers", A: "17.10.1", B: "17.10.5", Want: true},
		{Name: "SuffixIgnored", A: "17.9.1", B: "17.9.1a", Want: true},
		{Name: "MinorDiffers", A: "17.10.1", B: "17.11.1", Want: false},
		{Name: "MajorDiffers", A: "16.10.1", B: "17.10.1", Want: false},
	}
	for _, tc := range testcases {
		t.Run(tc.Name, func(t *testing.T) {
			a, err := ParseVersion(tc.A)
			if err != nil {
				t.Fatal(err)
			}
			b, err := ParseVersion(tc.B)
			if err != nil {
				t.Fatal(err)
			}
			if got := a.SameTrain(b); got != tc.Want {
				t.Errorf("SameTrain(%v, %v) = %v, want %v", a, b, got, tc.Want)
			}
		})
	}
}

func TestVersionMarshal(t *testing.T) {
	for _, tc := range versiontt {
		if tc.Err {
			continue
		}
		t.Run(tc.Name, func(t *testing.T) {
			b, err := tc.Want.MarshalText()
			if err != nil {
				t.Error(err)
			}
			var got Version
			if err := got.UnmarshalText(b); err != nil {
				t.Error(err)
			}
			t.Logf("%v → %q → %v", tc.Want, string(b), got)
			if !cmp.Equal(tc.Want, got) {
				t.Error(cmp.Diff(tc.Want, got))
			}
		})
	}
}
