// Package testutil provides testing utilities and fixtures.
//
// Fixtures use functional options for customization:
//
//	network := testutil.FixtureNetwork()
//	network := testutil.FixtureNetwork(func(n *types.Network) {
//		n.AlertingDelay = 60
//	})
package testutil

import (
	"io"
	"log/slog"
	"time"

	"github.com/netwatch-io/presence-mon/pkg/types"
)

// NewTestLogger returns a logger that discards all output.
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// FixtureTime is the base timestamp fixtures are pinned to, so tests that
// compare times stay deterministic.
var FixtureTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// =============================================================================
// NETWORK FIXTURES
// =============================================================================

// FixtureNetwork creates a test network with sensible defaults.
func FixtureNetwork(overrides ...func(*types.Network)) *types.Network {
	network := &types.Network{
		ID:            1,
		Name:          "test-network",
		FirstSeen:     FixtureTime.Add(-24 * time.Hour),
		LastSeen:      FixtureTime,
		AlertingDelay: types.DefaultAlertingDelay,
		EmailAddress:  "ops@example.com",
	}

	for _, override := range overrides {
		override(network)
	}

	return network
}

// FixtureStaleNetwork creates a network that stopped reporting long ago.
func FixtureStaleNetwork(overrides ...func(*types.Network)) *types.Network {
	return FixtureNetwork(append([]func(*types.Network){
		func(n *types.Network) {
			n.LastSeen = FixtureTime.Add(-time.Hour)
		},
	}, overrides...)...)
}

// =============================================================================
// DEVICE FIXTURES
// =============================================================================

// FixtureDevice creates an authorized, online test device.
func FixtureDevice(overrides ...func(*types.Device)) *types.Device {
	device := &types.Device{
		ID:        1,
		NetworkID: 1,
		Name:      "test-device",
		MAC:       "AA:BB:CC:DD:EE:FF",
		IP:        "192.168.1.100",
		Mode:      types.ModeAuthorized,
		Online:    true,
		FirstSeen: FixtureTime.Add(-24 * time.Hour),
		LastSeen:  FixtureTime,
	}

	for _, override := range overrides {
		override(device)
	}

	return device
}

// FixtureUnauthorizedDevice creates a freshly sighted unauthorized device.
func FixtureUnauthorizedDevice(overrides ...func(*types.Device)) *types.Device {
	return FixtureDevice(append([]func(*types.Device){
		func(d *types.Device) {
			d.Mode = types.ModeUnauthorized
			d.FirstSeen = FixtureTime
		},
	}, overrides...)...)
}

// FixtureAlwaysOnDevice creates an always-on device.
func FixtureAlwaysOnDevice(overrides ...func(*types.Device)) *types.Device {
	return FixtureDevice(append([]func(*types.Device){
		func(d *types.Device) {
			d.Mode = types.ModeAlwaysOn
		},
	}, overrides...)...)
}

// =============================================================================
// ALERT FIXTURES
// =============================================================================

// FixtureAlert creates an open network-level alert.
func FixtureAlert(overrides ...func(*types.Alert)) *types.Alert {
	alert := &types.Alert{
		ID:        1,
		Timestamp: FixtureTime,
		NetworkID: 1,
		Type:      types.AlertNetworkDown,
	}

	for _, override := range overrides {
		override(alert)
	}

	return alert
}

// FixtureDeviceAlert creates an open device-level alert.
func FixtureDeviceAlert(deviceID int64, overrides ...func(*types.Alert)) *types.Alert {
	return FixtureAlert(append([]func(*types.Alert){
		func(a *types.Alert) {
			a.Type = types.AlertDeviceDown
			a.DeviceID = &deviceID
		},
	}, overrides...)...)
}
