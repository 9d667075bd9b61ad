package fleetvuln

import (
	"fmt"
	"strings"
)

// Platform names a network operating system family.
type Platform string

// Supported platforms.
const (
	IOSXE Platform = "IOS-XE"
	IOSXR Platform = "IOS-XR"
	ASA   Platform = "ASA"
	FTD   Platform = "FTD"
	NXOS  Platform = "NX-OS"
)

// Platforms returns the supported platforms in a stable order.
func Platforms() []Platform {
	return []Platform{IOSXE, IOSXR, ASA, FTD, NXOS}
}

// ParsePlatform maps a raw platform string onto a [Platform].
//
// Matching is case-insensitive and tolerant of the separator ("ios-xe",
// "IOS_XE", and "iosxe" all map to [IOSXE]). Unrecognized input reports an
// invalid-kind [Error].
func ParsePlatform(s string) (Platform, error) {
	key := strings.ToUpper(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, "_", "-")
	switch key {
	case "IOS-XE", "IOSXE":
		return IOSXE, nil
	case "IOS-XR", "IOSXR":
		return IOSXR, nil
	case "ASA":
		return ASA, nil
	case "FTD":
		return FTD, nil
	case "NX-OS", "NXOS":
		return NXOS, nil
	}
	return "", &Error{
		Op:      `parse platform`,
		Kind:    ErrInvalid,
		Message: fmt.Sprintf("unknown platform %q", s),
	}
}
