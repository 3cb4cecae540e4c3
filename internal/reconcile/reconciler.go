// Package reconcile turns inbound network snapshots into device state
// transitions, status history and unauthorized-device alerts.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/netwatch-io/presence-mon/internal/config"
	"github.com/netwatch-io/presence-mon/internal/netlock"
	"github.com/netwatch-io/presence-mon/pkg/types"
)

// Store defines the storage operations the reconciler needs.
type Store interface {
	GetOrCreateNetwork(ctx context.Context, name string, seen time.Time) (*types.Network, error)
	SaveNetwork(ctx context.Context, n *types.Network) error
	ListDevices(ctx context.Context, networkID int64) ([]types.Device, error)
	CreateDevice(ctx context.Context, d *types.Device) error
	SaveDevice(ctx context.Context, d *types.Device) error

	// GetCurrentlyOnlineDeviceIDs returns devices whose latest history entry
	// has online=true: the online set as of the previous reconciliation.
	GetCurrentlyOnlineDeviceIDs(ctx context.Context, networkID int64) (map[int64]bool, error)
	AppendHistory(ctx context.Context, h *types.StatusHistoryEntry) error
}

// AlertOpener opens alerts. Only unauthorized-device alerts originate here;
// closing is deliberately left to the threshold evaluator.
type AlertOpener interface {
	Open(ctx context.Context, alertType types.AlertType, network *types.Network, device *types.Device, message string) (*types.Alert, error)
}

// Reconciler consumes one parsed snapshot at a time.
type Reconciler struct {
	store  Store
	alerts AlertOpener
	locks  *netlock.Locker
	logger *slog.Logger
}

// New creates a reconciler.
func New(store Store, alerts AlertOpener, locks *netlock.Locker, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		alerts: alerts,
		locks:  locks,
		logger: logger.With("component", "reconciler"),
	}
}

// Reconcile diffs one snapshot against known device state for the named
// network. The whole call runs under the network's lock; a single device's
// failure is logged and does not abort its siblings.
func (r *Reconciler) Reconcile(ctx context.Context, networkName string, snap types.Snapshot) error {
	r.locks.Lock(networkName)
	defer r.locks.Unlock(networkName)

	ts := snap.Timestamp.UTC()

	network, err := r.store.GetOrCreateNetwork(ctx, networkName, ts)
	if err != nil {
		return err
	}

	r.updateReportingEMA(network, ts)
	network.LastSeen = ts
	if err := r.store.SaveNetwork(ctx, network); err != nil {
		return fmt.Errorf("updating network %s: %w", networkName, err)
	}

	knownDevices, err := r.store.ListDevices(ctx, network.ID)
	if err != nil {
		return fmt.Errorf("listing devices for %s: %w", networkName, err)
	}
	previouslyOnline, err := r.store.GetCurrentlyOnlineDeviceIDs(ctx, network.ID)
	if err != nil {
		return fmt.Errorf("loading online set for %s: %w", networkName, err)
	}

	knownByMAC := make(map[string]*types.Device, len(knownDevices))
	for i := range knownDevices {
		knownByMAC[knownDevices[i].MAC] = &knownDevices[i]
	}

	processed := make(map[int64]bool)

	for _, reported := range snap.Devices {
		mac := strings.ToUpper(strings.TrimSpace(reported.MAC))
		if mac == "" {
			r.logger.Warn("device with missing MAC address reported",
				"network", network.Name, "ip", reported.IP)
			continue
		}

		device, known := knownByMAC[mac]
		if !known {
			if err := r.handleNewDevice(ctx, network, mac, reported.IP, ts); err != nil {
				r.logger.Error("processing new device failed",
					"network", network.Name, "mac", mac, "error", err)
			}
			continue
		}

		processed[device.ID] = true
		if err := r.handleKnownDevice(ctx, network, device, reported.IP, ts, previouslyOnline[device.ID]); err != nil {
			r.logger.Error("processing device failed",
				"network", network.Name, "mac", mac, "error", err)
		}
	}

	for i := range knownDevices {
		device := &knownDevices[i]
		if processed[device.ID] {
			continue
		}
		if err := r.handleAbsentDevice(ctx, network, device, ts, previouslyOnline[device.ID]); err != nil {
			r.logger.Error("processing absent device failed",
				"network", network.Name, "mac", device.MAC, "error", err)
		}
	}

	return nil
}

// handleNewDevice creates a first-sighted device as unauthorized, opens the
// unauthorized-device alert and records its first history entry.
func (r *Reconciler) handleNewDevice(ctx context.Context, network *types.Network, mac, ip string, ts time.Time) error {
	device := &types.Device{
		NetworkID: network.ID,
		MAC:       mac,
		IP:        ip,
		Mode:      types.ModeUnauthorized,
		Online:    true,
		FirstSeen: ts,
		LastSeen:  ts,
	}
	if err := r.store.CreateDevice(ctx, device); err != nil {
		return err
	}

	r.logger.Info("new device detected",
		"network", network.Name, "device", device.BasicInfo())

	if _, err := r.alerts.Open(ctx, types.AlertDeviceUnauthorized, network, device, "device detected for the first time"); err != nil {
		r.logger.Error("opening unauthorized alert failed",
			"network", network.Name, "device", device.BasicInfo(), "error", err)
	}

	return r.store.AppendHistory(ctx, &types.StatusHistoryEntry{
		NetworkID: network.ID,
		DeviceID:  device.ID,
		IP:        ip,
		Online:    true,
		Timestamp: ts,
	})
}

// handleKnownDevice refreshes a sighted device and records the online
// transition when the device was previously offline.
func (r *Reconciler) handleKnownDevice(ctx context.Context, network *types.Network, device *types.Device, ip string, ts time.Time, wasOnline bool) error {
	device.IP = ip
	device.Online = true
	device.LastSeen = ts

	if device.Mode == types.ModeUnauthorized && device.ActiveAlertID == nil {
		// Open persists the device along with the new active alert id.
		if _, err := r.alerts.Open(ctx, types.AlertDeviceUnauthorized, network, device, "device was seen before"); err != nil {
			r.logger.Error("opening unauthorized alert failed",
				"network", network.Name, "device", device.BasicInfo(), "error", err)
			if err := r.store.SaveDevice(ctx, device); err != nil {
				return err
			}
		}
	} else {
		if err := r.store.SaveDevice(ctx, device); err != nil {
			return err
		}
	}

	if wasOnline {
		// Already online: an idempotent refresh, no history row.
		r.logger.Debug("device still online",
			"network", network.Name, "device", device.BasicInfo())
		return nil
	}

	if device.Mode == types.ModeUnauthorized {
		r.logger.Info("unauthorized device is online",
			"network", network.Name, "device", device.BasicInfo())
	} else {
		r.logger.Info("device came online",
			"network", network.Name, "device", device.BasicInfo())
	}

	return r.store.AppendHistory(ctx, &types.StatusHistoryEntry{
		NetworkID: network.ID,
		DeviceID:  device.ID,
		IP:        ip,
		Online:    true,
		Timestamp: ts,
	})
}

// handleAbsentDevice marks a device missing from the snapshot as offline.
// Alert handling for gone devices belongs to the evaluator, not here.
func (r *Reconciler) handleAbsentDevice(ctx context.Context, network *types.Network, device *types.Device, ts time.Time, wasOnline bool) error {
	device.Online = false
	if err := r.store.SaveDevice(ctx, device); err != nil {
		return err
	}

	if !wasOnline {
		return nil
	}

	r.logger.Info("device went offline",
		"network", network.Name, "device", device.BasicInfo())

	return r.store.AppendHistory(ctx, &types.StatusHistoryEntry{
		NetworkID: network.ID,
		DeviceID:  device.ID,
		IP:        device.IP, // last known address
		Online:    false,
		Timestamp: ts,
	})
}

// updateReportingEMA folds the gap since the previous snapshot into the
// network's reporting-interval estimate. Gaps are capped so an outage does
// not wreck the average.
func (r *Reconciler) updateReportingEMA(network *types.Network, ts time.Time) {
	if network.LastSeen.IsZero() || !ts.After(network.LastSeen) {
		return
	}
	gap := ts.Sub(network.LastSeen)
	if gap > config.MaxObservedGap {
		gap = config.MaxObservedGap
	}
	seconds := int(gap / time.Second)
	if seconds <= 0 {
		return
	}
	if network.ReportingIntervalEMA == 0 {
		network.ReportingIntervalEMA = seconds
		return
	}
	w := config.ReportingEMAWeight
	network.ReportingIntervalEMA = ((w-1)*network.ReportingIntervalEMA + seconds) / w
}
