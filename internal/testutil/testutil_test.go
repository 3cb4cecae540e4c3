package testutil

import (
	"testing"
	"time"

	"github.com/netwatch-io/presence-mon/pkg/types"
)

func TestFixtureNetwork(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		network := FixtureNetwork()
		if network.Name == "" {
			t.Error("expected network to have Name")
		}
		if network.AlertingDelay != types.DefaultAlertingDelay {
			t.Errorf("expected default alerting delay, got %d", network.AlertingDelay)
		}
	})

	t.Run("with overrides", func(t *testing.T) {
		network := FixtureNetwork(func(n *types.Network) {
			n.Name = "warehouse"
			n.AlertingDelay = 60
		})
		if network.Name != "warehouse" {
			t.Errorf("expected name 'warehouse', got %s", network.Name)
		}
		if network.AlertingDelay != 60 {
			t.Errorf("expected alerting delay 60, got %d", network.AlertingDelay)
		}
	})

	t.Run("stale variant", func(t *testing.T) {
		network := FixtureStaleNetwork()
		if FixtureTime.Sub(network.LastSeen) < 30*time.Minute {
			t.Error("expected stale network to have old last-seen")
		}
	})
}

func TestFixtureDevice(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		device := FixtureDevice()
		if device.MAC == "" {
			t.Error("expected device to have MAC")
		}
		if device.Mode != types.ModeAuthorized {
			t.Errorf("expected mode AUTHORIZED, got %s", device.Mode)
		}
		if !device.Online {
			t.Error("expected device online")
		}
	})

	t.Run("unauthorized variant", func(t *testing.T) {
		device := FixtureUnauthorizedDevice()
		if device.Mode != types.ModeUnauthorized {
			t.Errorf("expected mode UNAUTHORIZED, got %s", device.Mode)
		}
	})

	t.Run("always-on variant", func(t *testing.T) {
		device := FixtureAlwaysOnDevice(func(d *types.Device) {
			d.Online = false
		})
		if device.Mode != types.ModeAlwaysOn {
			t.Errorf("expected mode ALWAYS_ON, got %s", device.Mode)
		}
		if device.Online {
			t.Error("override should have marked device offline")
		}
	})
}

func TestFixtureAlert(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		alert := FixtureAlert()
		if alert.Type != types.AlertNetworkDown {
			t.Errorf("expected NETWORK_DOWN, got %s", alert.Type)
		}
		if !alert.Open() {
			t.Error("expected fixture alert to be open")
		}
	})

	t.Run("device variant", func(t *testing.T) {
		alert := FixtureDeviceAlert(42)
		if alert.DeviceID == nil || *alert.DeviceID != 42 {
			t.Error("expected device id 42")
		}
		if alert.Type != types.AlertDeviceDown {
			t.Errorf("expected DEVICE_DOWN, got %s", alert.Type)
		}
	})
}
