package fleetvuln

import (
	"fmt"
	"strings"
	"unicode"
)

// PatternKind discriminates the parsed interpretation of an affected-versions
// expression.
type PatternKind string

const (
	// PatternExplicit is an enumerated list of affected versions.
	PatternExplicit PatternKind = "explicit"
	// PatternWildcard matches every version on one release train ("17.10.x").
	PatternWildcard PatternKind = "wildcard"
	// PatternOpenLater matches a version and everything after it on the same
	// release train ("17.10.3 and later").
	PatternOpenLater PatternKind = "open_later"
	// PatternOpenEarlier matches a version and everything before it
	// ("17.10.3 and earlier").
	PatternOpenEarlier PatternKind = "open_earlier"
	// PatternMajorWildcard matches a version and everything after it, crossing
	// release trains ("17.10 and later").
	PatternMajorWildcard PatternKind = "major_wildcard"
	// PatternUnknown is the fallback for expressions fitting no other kind.
	// It never matches a version.
	PatternUnknown PatternKind = "unknown"
)

// VersionExpr is the parsed projection of an affected-versions expression.
//
// Raw always preserves the source text. Which of Min, Max, and List are
// populated depends on Kind:
//
//   - PatternExplicit: List is non-empty and Min/Max are its extrema.
//   - PatternWildcard, PatternOpenLater, PatternMajorWildcard: Min is set.
//   - PatternOpenEarlier: Max is set.
//   - PatternUnknown: only Raw.
type VersionExpr struct {
	Min  *Version
	Max  *Version
	List []Version
	Raw  string
	Kind PatternKind
}

// ParseExpression classifies a raw affected-versions expression.
//
// It never reports an error: an expression that fits no recognized shape
// comes back as PatternUnknown with the raw text preserved, and versions
// inside it that fail [ParseVersion] degrade the whole expression the same
// way.
func ParseExpression(raw string) VersionExpr {
	e := VersionExpr{Raw: raw, Kind: PatternUnknown}
	s := strings.TrimSpace(raw)
	if s == "" {
		return e
	}

	if p, ok := trimSuffixFold(s, "and later"); ok {
		return laterExpr(e, p)
	}
	if p, ok := trimSuffixFold(s, "or later"); ok {
		return laterExpr(e, p)
	}
	if p, ok := trimSuffixFold(s, "and earlier"); ok {
		return earlierExpr(e, p)
	}
	if p, ok := trimSuffixFold(s, "or earlier"); ok {
		return earlierExpr(e, p)
	}

	if parts := strings.Split(s, "."); len(parts) == 3 {
		switch strings.TrimSpace(parts[2]) {
		case "x", "X", "*":
			v, err := ParseVersion(parts[0] + "." + parts[1])
			if err == nil {
				e.Kind = PatternWildcard
				e.Min = &v
				return e
			}
		}
	}

	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || unicode.IsSpace(r)
	})
	list := make([]Version, 0, len(fields))
	for _, f := range fields {
		v, err := ParseVersion(f)
		if err != nil {
			return e
		}
		list = append(list, v)
	}
	if len(list) == 0 {
		return e
	}
	e.Kind = PatternExplicit
	e.List = list
	min, max := list[0], list[0]
	for _, v := range list[1:] {
		if v.Compare(min) < 0 {
			min = v
		}
		if v.Compare(max) > 0 {
			max = v
		}
	}
	e.Min, e.Max = &min, &max
	return e
}

func laterExpr(e VersionExpr, prefix string) VersionExpr {
	v, err := ParseVersion(prefix)
	if err != nil {
		return e
	}
	e.Min = &v
	if countComponents(prefix) >= 3 {
		e.Kind = PatternOpenLater
	} else {
		e.Kind = PatternMajorWildcard
	}
	return e
}

func earlierExpr(e VersionExpr, prefix string) VersionExpr {
	v, err := ParseVersion(prefix)
	if err != nil {
		return e
	}
	e.Max = &v
	e.Kind = PatternOpenEarlier
	return e
}

// trimSuffixFold removes an ASCII case-insensitive suffix and any whitespace
// preceding it.
func trimSuffixFold(s, suffix string) (string, bool) {
	if len(s) < len(suffix) || !strings.EqualFold(s[len(s)-len(suffix):], suffix) {
		return s, false
	}
	return strings.TrimSpace(s[:len(s)-len(suffix)]), true
}

// countComponents reports how many dotted components the expression names,
// after parenthesized release notation is canonicalized the same way
// [ParseVersion] does it.
func countComponents(s string) int {
	s = strings.ReplaceAll(s, "(", ".")
	s = strings.ReplaceAll(s, ")", "")
	s = strings.Trim(strings.TrimSpace(s), ".")
	if s == "" {
		return 0
	}
	return len(strings.Split(s, "."))
}

const malformedExprReason = "affected-versions expression is malformed; no version match attempted"

// Affected reports whether a device at version v falls inside the expression.
//
// A fixed version, when present, overrides a positive match for any device at
// or past it. The reason string is human-readable and echoed into scan
// findings for auditability.
func (e *VersionExpr) Affected(v Version, fixed *Version) (bool, string) {
	var affected bool
	var reason string
	switch e.Kind {
	case PatternExplicit:
		for _, want := range e.List {
			if v.Compare(want) == 0 {
				affected, reason = true, fmt.Sprintf("version %v is listed as affected", v)
				break
			}
		}
		if !affected {
			return false, fmt.Sprintf("version %v is not in the affected list", v)
		}
	case PatternWildcard:
		if e.Min == nil {
			return false, malformedExprReason
		}
		if !v.SameTrain(*e.Min) {
			return false, fmt.Sprintf("version %v is outside the %s train", v, e.Min.Train())
		}
		affected, reason = true, fmt.Sprintf("version %v is on the affected %s train", v, e.Min.Train())
	case PatternOpenLater:
		if e.Min == nil {
			return false, malformedExprReason
		}
		switch {
		case !v.SameTrain(*e.Min):
			return false, fmt.Sprintf("version %v is outside the %s train", v, e.Min.Train())
		case v.Compare(*e.Min) < 0:
			return false, fmt.Sprintf("version %v predates %v", v, *e.Min)
		}
		affected, reason = true, fmt.Sprintf("version %v is %v or later on the %s train", v, *e.Min, e.Min.Train())
	case PatternOpenEarlier:
		if e.Max == nil {
			return false, malformedExprReason
		}
		if v.Compare(*e.Max) > 0 {
			return false, fmt.Sprintf("version %v postdates %v", v, *e.Max)
		}
		affected, reason = true, fmt.Sprintf("version %v is %v or earlier", v, *e.Max)
	case PatternMajorWildcard:
		if e.Min == nil {
			return false, malformedExprReason
		}
		if v.Compare(*e.Min) < 0 {
			return false, fmt.Sprintf("version %v predates %v", v, *e.Min)
		}
		affected, reason = true, fmt.Sprintf("version %v is %v or later", v, *e.Min)
	default:
		return false, "affected versions not understood; no version match attempted"
	}
	if fixed != nil && v.Compare(*fixed) >= 0 {
		return false, fmt.Sprintf("fixed in %v", *fixed)
	}
	return affected, reason
}

// Validate checks the structural invariants of the expression, returning an
// invalid-kind [Error] when a kind is missing its required fields.
func (e *VersionExpr) Validate() error {
	const op = `versionexpr validate`
	switch e.Kind {
	case PatternExplicit:
		if len(e.List) == 0 {
			return &Error{Op: op, Kind: ErrInvalid, Message: "explicit pattern with empty version list"}
		}
	case PatternWildcard, PatternOpenLater, PatternMajorWildcard:
		if e.Min == nil {
			return &Error{Op: op, Kind: ErrInvalid, Message: fmt.Sprintf("%v pattern without a minimum version", e.Kind)}
		}
	case PatternOpenEarlier:
		if e.Max == nil {
			return &Error{Op: op, Kind: ErrInvalid, Message: "open_earlier pattern without a maximum version"}
		}
	case PatternUnknown:
	default:
		return &Error{Op: op, Kind: ErrInvalid, Message: fmt.Sprintf("unrecognized pattern kind %q", e.Kind)}
	}
	return nil
}
