// Package types defines the domain model shared by all presence-mon components.
//
// # Persisted Enum Mappings
//
// DeviceOperationMode and AlertType are persisted as integers. The mappings
// below are part of the on-disk format and must never be reordered:
//
//	DeviceOperationMode: UNAUTHORIZED=0, AUTHORIZED=1, ALWAYS_ON=2
//	AlertType:           NETWORK_DOWN=0, DEVICE_DOWN=1, DEVICE_UNAUTHORIZED=2
//
// The matching lookup tables are seeded by db/migrate and exist only so that
// foreign keys keep hand-written SQL honest.
package types

import (
	"fmt"
	"strings"
	"time"
)

// DeviceOperationMode controls which alerting rules apply to a device.
type DeviceOperationMode int

const (
	// ModeUnauthorized marks a device that is not expected on the network.
	// Every appearance opens an unauthorized-device alert.
	ModeUnauthorized DeviceOperationMode = 0

	// ModeAuthorized marks a device that may come and go freely.
	ModeAuthorized DeviceOperationMode = 1

	// ModeAlwaysOn marks a device that must stay online. Disappearing past
	// the network's alerting delay opens a device-down alert.
	ModeAlwaysOn DeviceOperationMode = 2
)

// String returns the canonical name used in JSON and logs.
func (m DeviceOperationMode) String() string {
	switch m {
	case ModeUnauthorized:
		return "UNAUTHORIZED"
	case ModeAuthorized:
		return "AUTHORIZED"
	case ModeAlwaysOn:
		return "ALWAYS_ON"
	default:
		return fmt.Sprintf("DeviceOperationMode(%d)", int(m))
	}
}

// ParseDeviceOperationMode converts a canonical name back to a mode.
func ParseDeviceOperationMode(s string) (DeviceOperationMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "UNAUTHORIZED":
		return ModeUnauthorized, nil
	case "AUTHORIZED":
		return ModeAuthorized, nil
	case "ALWAYS_ON":
		return ModeAlwaysOn, nil
	default:
		return 0, fmt.Errorf("unknown device operation mode: %q", s)
	}
}

// MarshalJSON encodes the mode as its canonical name.
func (m DeviceOperationMode) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts the canonical name.
func (m *DeviceOperationMode) UnmarshalJSON(data []byte) error {
	parsed, err := ParseDeviceOperationMode(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// =============================================================================
// NETWORK
// =============================================================================

// Network is a monitored network, identified by its unique name.
// A network is created automatically the first time a snapshot references it.
type Network struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	// AlertingDelay is the number of seconds of silence tolerated before the
	// network (or an always-on device) is declared down.
	AlertingDelay int `json:"alerting_delay"`

	// EmailAddress is the notification recipient. When empty, alert state
	// still changes but no mail is sent.
	EmailAddress string `json:"email_address,omitempty"`

	// ActiveAlertID points at the open network-level alert, if any.
	ActiveAlertID *int64 `json:"active_alert_id,omitempty"`

	// Configuration is an opaque JSON blob reserved for per-network settings.
	Configuration string `json:"configuration"`

	// ReportingIntervalEMA is a smoothed estimate, in seconds, of the gap
	// between consecutive snapshots from this network.
	ReportingIntervalEMA int `json:"reporting_interval_ema"`

	// BackOnlineTime records when the last network-down alert was closed.
	BackOnlineTime *time.Time `json:"back_online_time,omitempty"`
}

// DefaultAlertingDelay is applied to networks created on first sighting.
const DefaultAlertingDelay = 300

// =============================================================================
// DEVICE
// =============================================================================

// Device is a device sighted on a network, identified by (network, MAC).
type Device struct {
	ID        int64  `json:"id"`
	NetworkID int64  `json:"network_id"`
	Name      string `json:"name,omitempty"`

	// MAC is stored upper-case; unique within a network.
	MAC string `json:"mac"`

	// IP is the address from the most recent sighting. DHCP churn makes
	// this freely mutable.
	IP string `json:"ip,omitempty"`

	Mode      DeviceOperationMode `json:"mode"`
	Online    bool                `json:"online"`
	FirstSeen time.Time           `json:"first_seen"`
	LastSeen  time.Time           `json:"last_seen"`

	// ActiveAlertID points at the open device-level alert, if any.
	ActiveAlertID *int64 `json:"active_alert_id,omitempty"`
}

// BasicInfo returns a short identifier for logs.
func (d *Device) BasicInfo() string {
	if d.IP == "" {
		return d.MAC
	}
	return d.MAC + " (" + d.IP + ")"
}

// =============================================================================
// STATUS HISTORY
// =============================================================================

// StatusHistoryEntry records one online/offline transition for a device.
// Entries are append-only and written only when the online state actually
// flips; a refresh of an already-online device writes nothing.
type StatusHistoryEntry struct {
	ID        int64     `json:"id"`
	NetworkID int64     `json:"network_id"`
	DeviceID  int64     `json:"device_id"`
	IP        string    `json:"ip,omitempty"`
	Online    bool      `json:"online"`
	Timestamp time.Time `json:"timestamp"`
}

// =============================================================================
// INBOUND SNAPSHOT
// =============================================================================

// Snapshot is one inbound "who is online" message for a network.
// Devices listed are exactly the ones currently visible.
type Snapshot struct {
	Hostname  string           `json:"hostname"`
	Timestamp time.Time        `json:"timestamp"`
	Devices   []SnapshotDevice `json:"devices"`
}

// SnapshotDevice is one visible device inside a snapshot.
type SnapshotDevice struct {
	IP  string `json:"ip"`
	MAC string `json:"mac"`
}
