package fleetvuln

import "time"

// DeviceSource records how a device entered the inventory.
type DeviceSource string

const (
	// DeviceDirectory means the device was seeded by an inventory sync.
	DeviceDirectory DeviceSource = "directory"
	// DeviceManual means an operator added the device by hand.
	DeviceManual DeviceSource = "manual"
)

// DiscoveryStatus is the device lifecycle state.
//
// Pending devices have never been discovered (or are queued for
// re-discovery), Success devices carry usable platform facts, Failed devices
// recorded a transport or parse error, and Stale devices aged out without
// activity. Only Success devices participate in bulk scans.
type DiscoveryStatus string

const (
	DiscoveryPending DiscoveryStatus = "pending"
	DiscoverySuccess DiscoveryStatus = "success"
	DiscoveryFailed  DiscoveryStatus = "failed"
	DiscoveryStale   DiscoveryStatus = "stale"
)

// DeviceStub is the inventory-facing identity of a device, before any
// discovery has run. Identity is the (hostname, ip) pair.
type DeviceStub struct {
	// identifier assigned by the upstream directory, if any
	ExternalID string `json:"external_id,omitempty"`
	// management hostname
	Hostname string `json:"hostname"`
	// management address
	IP string `json:"ip"`
	// free-form site or rack location
	Location string `json:"location,omitempty"`
	// directory device class, e.g. "switch", "firewall"
	DeviceType string `json:"device_type,omitempty"`
	// how the device entered the inventory
	Source DeviceSource `json:"source"`
}

// Device is a DeviceStub plus everything discovery and scanning have learned.
type Device struct {
	DeviceStub

	// unique ID of this device. created by the store on insert
	ID string `json:"id"`
	// discovered fields. meaningful only when DiscoveryStatus is success
	Platform      Platform `json:"platform,omitempty"`
	Version       string   `json:"version,omitempty"`
	HardwareModel string   `json:"hardware_model,omitempty"`
	Features      []string `json:"features,omitempty"`

	DiscoveryStatus DiscoveryStatus `json:"discovery_status"`
	// error string recorded when discovery failed
	DiscoveryError string    `json:"discovery_error,omitempty"`
	DiscoveredAt   time.Time `json:"discovered_at,omitempty"`

	// rotation slots. LastScan is the most recent successful scan,
	// PreviousScan the one it demoted
	LastScan     *ScanSummary `json:"last_scan,omitempty"`
	PreviousScan *ScanSummary `json:"previous_scan,omitempty"`
}

// Scannable reports whether the device can be a bulk-scan target.
func (d *Device) Scannable() bool {
	return d.DiscoveryStatus == DiscoverySuccess && d.Platform != "" && d.Version != ""
}

// Validate checks the identity fields the store refuses to persist without.
func (d *DeviceStub) Validate() error {
	const op = `device validate`
	switch {
	case d.Hostname == "":
		return &Error{Op: op, Kind: ErrInvalid, Message: "missing hostname"}
	case d.IP == "":
		return &Error{Op: op, Kind: ErrInvalid, Message: "missing ip"}
	}
	return nil
}
