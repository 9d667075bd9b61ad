package fleetvuln

import (
	"bytes"
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
)

// Severity is the vendor-assigned severity of a vulnerability.
//
// It follows the bug-tracker convention: 1 is the most severe and 6 the
// least, with 0 reserved for records that arrive without one.
type Severity uint

//go:generate stringer -type=Severity

const (
	Unknown Severity = iota
	Critical
	High
	Medium
	Low
	Cosmetic
	Enhancement
)

// CriticalOrHigh reports whether the severity lands in the top partition of
// scan output.
func (s Severity) CriticalOrHigh() bool {
	return s == Critical || s == High
}

func (s *Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	// This depends on the contents of severity_string.go.
	i := bytes.Index([]byte(_Severity_name), b)
	if i == -1 {
		return fmt.Errorf("unknown severity %q", string(b))
	}
	idx := uint8(i)
	for n, off := range _Severity_index {
		if idx == off {
			*s = Severity(n)
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", string(b))
}

func (s Severity) Value() (driver.Value, error) {
	return int64(s), nil
}

func (s *Severity) Scan(i interface{}) error {
	switch v := i.(type) {
	case []byte:
		return s.UnmarshalText(v)
	case string:
		return s.UnmarshalText([]byte(v))
	case int64:
		if v >= int64(len(_Severity_index)-1) {
			return fmt.Errorf("unable to scan Severity from enum %d", v)
		}
		*s = Severity(v)
	default:
		return fmt.Errorf("unable to scan Severity from type %T", i)
	}
	return nil
}

// ParseSeverity interprets the severity field of an update record.
//
// Both spellings in the wild are accepted: a digit 1 through 6, or one of the
// names "Critical", "High", "Medium", "Low" (case-insensitive), which map to
// 1 through 4.
func ParseSeverity(s string) (Severity, error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return Unknown, fmt.Errorf("empty severity")
	}
	if n, err := strconv.Atoi(t); err == nil {
		if n < int(Critical) || n > int(Enhancement) {
			return Unknown, fmt.Errorf("severity %d out of range", n)
		}
		return Severity(n), nil
	}
	for sev := Critical; sev <= Low; sev++ {
		if strings.EqualFold(t, sev.String()) {
			return sev, nil
		}
	}
	return Unknown, fmt.Errorf("unknown severity %q", s)
}
