// Package types - alert records and alert type mapping.
package types

import (
	"fmt"
	"strings"
	"time"
)

// AlertType classifies an alert. Persisted as an integer; see package doc.
type AlertType int

const (
	// AlertNetworkDown - the network stopped reporting snapshots.
	AlertNetworkDown AlertType = 0

	// AlertDeviceDown - an always-on device disappeared past the threshold.
	AlertDeviceDown AlertType = 1

	// AlertDeviceUnauthorized - an unauthorized device was sighted.
	AlertDeviceUnauthorized AlertType = 2
)

// String returns the canonical name used in JSON, logs and notifications.
func (t AlertType) String() string {
	switch t {
	case AlertNetworkDown:
		return "NETWORK_DOWN"
	case AlertDeviceDown:
		return "DEVICE_DOWN"
	case AlertDeviceUnauthorized:
		return "DEVICE_UNAUTHORIZED"
	default:
		return fmt.Sprintf("AlertType(%d)", int(t))
	}
}

// ParseAlertType converts a canonical name back to an alert type.
func ParseAlertType(s string) (AlertType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NETWORK_DOWN":
		return AlertNetworkDown, nil
	case "DEVICE_DOWN":
		return AlertDeviceDown, nil
	case "DEVICE_UNAUTHORIZED":
		return AlertDeviceUnauthorized, nil
	default:
		return 0, fmt.Errorf("unknown alert type: %q", s)
	}
}

// MarshalJSON encodes the alert type as its canonical name.
func (t AlertType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON accepts the canonical name.
func (t *AlertType) UnmarshalJSON(data []byte) error {
	parsed, err := ParseAlertType(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Alert is one alert record. DeviceID nil means the alert is network-level.
//
// Invariant: for a given (network, device) key at most one alert row has
// ClosedAt == nil at any instant. Rows are opened and closed only through
// the alert lifecycle manager and are never deleted.
type Alert struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	NetworkID int64     `json:"network_id"`
	DeviceID  *int64    `json:"device_id,omitempty"`
	Type      AlertType `json:"type"`
	Message   string    `json:"message,omitempty"`

	// ClosedAt is nil while the alert is open.
	ClosedAt *time.Time `json:"closed_at,omitempty"`
}

// Open reports whether the alert is still open.
func (a *Alert) Open() bool {
	return a.ClosedAt == nil
}

// SubjectKey returns the (network, device) key string used in logs.
func (a *Alert) SubjectKey() string {
	if a.DeviceID == nil {
		return fmt.Sprintf("network=%d", a.NetworkID)
	}
	return fmt.Sprintf("network=%d device=%d", a.NetworkID, *a.DeviceID)
}
