// Package worker provides the background threshold evaluator.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/netwatch-io/presence-mon/internal/config"
	"github.com/netwatch-io/presence-mon/internal/netlock"
	"github.com/netwatch-io/presence-mon/pkg/types"
)

// EvaluatorStore defines the storage interface for the evaluator worker.
type EvaluatorStore interface {
	ListNetworks(ctx context.Context) ([]types.Network, error)

	// GetNetwork returns a network by ID, or (nil, nil) when it no longer
	// exists.
	GetNetwork(ctx context.Context, id int64) (*types.Network, error)

	ListDevices(ctx context.Context, networkID int64) ([]types.Device, error)

	// GetLatestHistoryEntry returns the most recent status history row for a
	// device, or (nil, nil) when the device has no history yet.
	GetLatestHistoryEntry(ctx context.Context, deviceID int64) (*types.StatusHistoryEntry, error)
}

// AlertManager is the alert lifecycle surface the evaluator drives.
type AlertManager interface {
	Open(ctx context.Context, alertType types.AlertType, network *types.Network, device *types.Device, message string) (*types.Alert, error)
	Close(ctx context.Context, network *types.Network, device *types.Device, message string) (*types.Alert, error)
}

// EvaluatorWorkerConfig holds configuration for the evaluator worker.
type EvaluatorWorkerConfig struct {
	// Interval between evaluation runs.
	Interval time.Duration

	// InitialDelay before the first run, so a freshly restarted server does
	// not declare every network down before the first snapshots arrive.
	InitialDelay time.Duration
}

// DefaultEvaluatorWorkerConfig returns sensible defaults.
func DefaultEvaluatorWorkerConfig() EvaluatorWorkerConfig {
	return EvaluatorWorkerConfig{
		Interval:     config.DefaultEvaluatorInterval,
		InitialDelay: config.DefaultEvaluatorInitialDelay,
	}
}

// EvaluatorWorker walks all networks on a fixed schedule and reconciles
// alert state against each network's alerting delay.
type EvaluatorWorker struct {
	store  EvaluatorStore
	alerts AlertManager
	locks  *netlock.Locker
	config EvaluatorWorkerConfig
	logger *slog.Logger
	stopCh chan struct{}
	now    func() time.Time
}

// NewEvaluatorWorker creates a new evaluator worker.
func NewEvaluatorWorker(store EvaluatorStore, alerts AlertManager, locks *netlock.Locker, cfg EvaluatorWorkerConfig, logger *slog.Logger) *EvaluatorWorker {
	return &EvaluatorWorker{
		store:  store,
		alerts: alerts,
		locks:  locks,
		config: cfg,
		logger: logger.With("component", "evaluator_worker"),
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
}

// Start begins the evaluator worker in a goroutine.
func (w *EvaluatorWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop signals the worker to stop.
func (w *EvaluatorWorker) Stop() {
	close(w.stopCh)
}

func (w *EvaluatorWorker) run(ctx context.Context) {
	w.logger.Info("evaluator worker started",
		"interval", w.config.Interval,
		"initial_delay", w.config.InitialDelay,
	)

	if w.config.InitialDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-time.After(w.config.InitialDelay):
		}
	}

	w.runOnce(ctx)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("evaluator worker stopping (context cancelled)")
			return
		case <-w.stopCh:
			w.logger.Info("evaluator worker stopping (stop signal)")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *EvaluatorWorker) runOnce(ctx context.Context) {
	start := w.now()

	networks, err := w.store.ListNetworks(ctx)
	if err != nil {
		w.logger.Error("failed to list networks", "error", err)
		return
	}
	if len(networks) == 0 {
		w.logger.Debug("no networks to evaluate")
		return
	}

	for i := range networks {
		name := networks[i].Name
		w.locks.Lock(name)
		err := w.evaluateNetworkLocked(ctx, networks[i].ID)
		w.locks.Unlock(name)
		if err != nil {
			// One network's failure must not abort the others.
			w.logger.Error("network evaluation failed",
				"network", name, "error", err)
		}
	}

	w.logger.Debug("evaluation complete",
		"networks", len(networks),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// evaluateNetworkLocked re-reads the network row and applies the alerting
// policy to it. The caller holds the network's lock; the listing in runOnce
// happened outside it, so the listed copy may already be stale against a
// snapshot that won the lock first. Evaluating that copy would open a false
// network alert and write the stale row back over the fresh one.
func (w *EvaluatorWorker) evaluateNetworkLocked(ctx context.Context, networkID int64) error {
	network, err := w.store.GetNetwork(ctx, networkID)
	if err != nil {
		return err
	}
	if network == nil {
		return nil
	}
	return w.evaluateNetwork(ctx, network)
}

// evaluateNetwork applies the alerting policy to one network and its devices.
func (w *EvaluatorWorker) evaluateNetwork(ctx context.Context, network *types.Network) error {
	now := w.now().UTC()
	delay := time.Duration(network.AlertingDelay) * time.Second
	alertingThreshold := now.Add(-delay)
	closureThreshold := alertingThreshold.Add(closureMargin(delay))

	if network.LastSeen.Before(alertingThreshold) {
		// Network is down. Device state is unknowable without snapshots, so
		// device evaluation is skipped entirely.
		if network.ActiveAlertID == nil {
			w.logger.Warn("network stopped reporting",
				"network", network.Name, "last_seen", network.LastSeen)
			if _, err := w.alerts.Open(ctx, types.AlertNetworkDown, network, nil, ""); err != nil {
				return err
			}
		}
		return nil
	}

	if network.ActiveAlertID != nil {
		w.logger.Info("network is reporting again", "network", network.Name)
		if _, err := w.alerts.Close(ctx, network, nil, ""); err != nil {
			return err
		}
	}

	devices, err := w.store.ListDevices(ctx, network.ID)
	if err != nil {
		return err
	}

	for i := range devices {
		device := &devices[i]
		if err := w.evaluateDevice(ctx, network, device, alertingThreshold, closureThreshold); err != nil {
			w.logger.Error("device evaluation failed",
				"network", network.Name, "device", device.BasicInfo(), "error", err)
		}
	}

	return nil
}

func (w *EvaluatorWorker) evaluateDevice(ctx context.Context, network *types.Network, device *types.Device, alertingThreshold, closureThreshold time.Time) error {
	switch device.Mode {
	case types.ModeUnauthorized:
		// An unauthorized device that disappeared is no longer interesting.
		if device.ActiveAlertID != nil && device.LastSeen.Before(alertingThreshold) {
			w.logger.Info("unauthorized device disappeared",
				"network", network.Name, "device", device.BasicInfo())
			_, err := w.alerts.Close(ctx, network, device, "")
			return err
		}

	case types.ModeAuthorized:
		// Leftover alert from a previous mode.
		if device.ActiveAlertID != nil {
			_, err := w.alerts.Close(ctx, network, device, "device is now authorized")
			return err
		}

	case types.ModeAlwaysOn:
		if device.LastSeen.Before(alertingThreshold) && device.ActiveAlertID == nil {
			w.logger.Warn("always-on device is down",
				"network", network.Name, "device", device.BasicInfo())
			_, err := w.alerts.Open(ctx, types.AlertDeviceDown, network, device, "")
			return err
		}
		if device.ActiveAlertID != nil && device.Online {
			// Close only after the device has stayed up past the hysteresis
			// margin, so boundary timing does not flap the alert.
			latest, err := w.store.GetLatestHistoryEntry(ctx, device.ID)
			if err != nil {
				return err
			}
			if latest != nil && latest.Online && latest.Timestamp.Before(closureThreshold) {
				w.logger.Info("always-on device recovered",
					"network", network.Name, "device", device.BasicInfo())
				_, err := w.alerts.Close(ctx, network, device, "")
				return err
			}
		}
	}

	return nil
}

// closureMargin is the hysteresis added on top of the alerting threshold
// before an open device alert may close: a tenth of the alerting delay,
// never more than MaxClosureMargin.
func closureMargin(delay time.Duration) time.Duration {
	margin := delay / config.ClosureMarginDivisor
	if margin > config.MaxClosureMargin {
		margin = config.MaxClosureMargin
	}
	return margin
}
