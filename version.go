package fleetvuln

import (
	"strconv"
	"strings"
)

// Version is a normalized network-OS software version.
//
// It's an ordered tuple of three numeric components plus an optional
// lexicographic suffix, e.g. "17.9.1a" is (17, 9, 1, "a"). Parsing strips
// leading zeros per component, so "17.03.05" and "17.3.5" normalize to the
// same Version. Components absent from the input compare as zero.
type Version struct {
	Major  int
	Minor  int
	Patch  int
	Suffix string
}

// ParseVersion normalizes a raw version string.
//
// Parenthesized release notation ("9.3(5)") is canonicalized to dotted form
// before splitting. A suffix is only recognized on the final component and
// must start with a letter. Anything else reports [ErrUnparseableVersion].
func ParseVersion(raw string) (Version, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Version{}, ErrUnparseableVersion
	}
	// Parenthesized release notation: "9.3(5)" is "9.3.5", "15.2(4)M"
	// is "15.2.4M".
	s = strings.ReplaceAll(s, "(", ".")
	s = strings.ReplaceAll(s, ")", "")
	s = strings.Trim(s, ".")
	parts := strings.Split(s, ".")
	if len(parts) == 0 || len(parts) > 3 {
		return Version{}, ErrUnparseableVersion
	}

	var v Version
	for i, p := range parts {
		num, suf, ok := splitComponent(p)
		if !ok || num == "" {
			return Version{}, ErrUnparseableVersion
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return Version{}, ErrUnparseableVersion
		}
		if suf != "" {
			// Only the last component may carry a suffix.
			if i != len(parts)-1 {
				return Version{}, ErrUnparseableVersion
			}
			v.Suffix = strings.ToLower(suf)
		}
		switch i {
		case 0:
			v.Major = n
		case 1:
			v.Minor = n
		case 2:
			v.Patch = n
		}
	}
	return v, nil
}

// SplitComponent divides a dotted component into its leading digits and
// trailing suffix. The suffix must begin with a letter and contain only
// letters and digits.
func splitComponent(p string) (num, suffix string, ok bool) {
	i := 0
	for i < len(p) && p[i] >= '0' && p[i] <= '9' {
		i++
	}
	num, suffix = p[:i], p[i:]
	if suffix == "" {
		return num, "", true
	}
	c := suffix[0] | 0x20
	if c < 'a' || c > 'z' {
		return "", "", false
	}
	for j := 1; j < len(suffix); j++ {
		c := suffix[j] | 0x20
		if (c < 'a' || c > 'z') && (suffix[j] < '0' || suffix[j] > '9') {
			return "", "", false
		}
	}
	return num, suffix, true
}

// Compare returns an integer describing the relationship of two Versions.
//
// The result will be 0 if v==x, -1 if v < x, and +1 if v > x. Numeric
// components are compared in order; the suffix is compared lexicographically
// only after all numeric components are equal, with the empty suffix ordering
// first ("17.9.1" < "17.9.1a").
func (v Version) Compare(x Version) int {
	switch {
	case v.Major != x.Major:
		return sign(v.Major - x.Major)
	case v.Minor != x.Minor:
		return sign(v.Minor - x.Minor)
	case v.Patch != x.Patch:
		return sign(v.Patch - x.Patch)
	}
	return strings.Compare(v.Suffix, x.Suffix)
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

// SameTrain reports whether both versions belong to the same release train,
// that is, whether their (major, minor) prefixes are equal.
func (v Version) SameTrain(x Version) bool {
	return v.Major == x.Major && v.Minor == x.Minor
}

// Train is the "major.minor" prefix, used in match reasons and logs.
func (v Version) Train() string {
	var b strings.Builder
	b.Write(strconv.AppendInt(nil, int64(v.Major), 10))
	b.WriteByte('.')
	b.Write(strconv.AppendInt(nil, int64(v.Minor), 10))
	return b.String()
}

func (v Version) String() string {
	var b strings.Builder
	s := make([]byte, 0, 8)
	b.Write(strconv.AppendInt(s, int64(v.Major), 10))
	b.WriteByte('.')
	b.Write(strconv.AppendInt(s, int64(v.Minor), 10))
	b.WriteByte('.')
	b.Write(strconv.AppendInt(s, int64(v.Patch), 10))
	b.WriteString(v.Suffix)
	return b.String()
}

// MarshalText implements [encoding.TextMarshaler].
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := ParseVersion(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// VersionSort returns a function suitable for passing to [sort.Slice] or
// [sort.SliceStable].
func VersionSort(vs []Version) func(int, int) bool {
	return func(i, j int) bool { return vs[i].Compare(vs[j]) == -1 }
}
