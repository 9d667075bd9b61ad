package fleetvuln

import (
	"testing"
)

func TestParseSeverity(t *testing.T) {
	testcases := []struct {
		In   string
		Want Severity
		Err  bool
	}{
		{In: "1", Want: Critical},
		{In: "2", Want: High},
		{In: "3", Want: Medium},
		{In: "4", Want: Low},
		{In: "5", Want: Cosmetic},
		{In: "6", Want: Enhancement},
		{In: "Critical", Want: Critical},
		{In: "critical", Want: Critical},
		{In: "HIGH", Want: High},
		{In: "Medium", Want: Medium},
		{In: "low", Want: Low},
		{In: "0", Err: true},
		{In: "7", Err: true},
		{In: "", Err: true},
		{In: "Severe", Err: true},
	}
	for _, tc := range testcases {
		t.Run(tc.In, func(t *testing.T) {
			got, err := ParseSeverity(tc.In)
			t.Logf("%q → %v, %v", tc.In, got, err)
			if tc.Err {
				if err == nil {
					t.Errorf("expected parse of %q to fail", tc.In)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.Want {
				t.Errorf("got: %v, want: %v", got, tc.Want)
			}
		})
	}
}

func TestSeverityRoundTrip(t *testing.T) {
	for sev := Unknown; sev <= Enhancement; sev++ {
		b, err := sev.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		var got Severity
		if err := got.UnmarshalText(b); err != nil {
			t.Fatal(err)
		}
		if got != sev {
			t.Errorf("%v round-tripped to %v", sev, got)
		}
	}
}

func TestParsePlatform(t *testing.T) {
	testcases := []struct {
		In   string
		Want Platform
		Err  bool
	}{
		{In: "IOS-XE", Want: IOSXE},
		{In: "ios-xe", Want: IOSXE},
		{In: "IOSXE", Want: IOSXE},
		{In: "IOS_XR", Want: IOSXR},
		{In: "asa", Want: ASA},
		{In: "FTD", Want: FTD},
		{In: "nx-os", Want: NXOS},
		{In: "NXOS", Want: NXOS},
		{In: "JunOS", Err: true},
		{In: "", Err: true},
	}
	for _, tc := range testcases {
		t.Run(tc.In, func(t *testing.T) {
			got, err := ParsePlatform(tc.In)
			if tc.Err {
				if err == nil {
					t.Errorf("expected parse of %q to fail, got %v", tc.In, got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.Want {
				t.Errorf("got: %v, want: %v", got, tc.Want)
			}
		})
	}
}
