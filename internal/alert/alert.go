// Package alert implements the alert lifecycle manager.
//
// Open and Close are the only writers of alert rows and of the active-alert
// pointers on networks and devices. The reconciler, the evaluator and the
// API all go through this package, which is what keeps the
// at-most-one-open-alert-per-subject invariant enforceable.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/netwatch-io/presence-mon/pkg/types"
)

// ErrAlertOpen is returned by Open when the subject already has an open
// alert. This indicates a consistency bug or a race, not a normal condition.
var ErrAlertOpen = errors.New("alert already open")

// ErrNoOpenAlert is returned by Close when the subject has no open alert.
var ErrNoOpenAlert = errors.New("no open alert")

// Store defines the storage operations the manager needs.
type Store interface {
	// GetLatestAlert returns the most recent alert for a (network, device)
	// key, open or closed; nil deviceID selects the network-level key.
	GetLatestAlert(ctx context.Context, networkID int64, deviceID *int64) (*types.Alert, error)
	CreateAlert(ctx context.Context, a *types.Alert) error
	CloseAlert(ctx context.Context, id int64, closedAt time.Time) error
	SaveNetwork(ctx context.Context, n *types.Network) error
	SaveDevice(ctx context.Context, d *types.Device) error
}

// Notifier delivers one notification. Failures are logged by the manager and
// never roll back persisted alert state.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Manager opens and closes alerts and drives notification.
type Manager struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager creates an alert lifecycle manager.
func NewManager(store Store, notifier Notifier, logger *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		notifier: notifier,
		logger:   logger.With("component", "alert_manager"),
		now:      time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Open creates a new alert for the given subject and points the subject's
// active-alert id at it. device nil means the alert is network-level.
// Returns ErrAlertOpen when the subject already has an open alert.
func (m *Manager) Open(ctx context.Context, alertType types.AlertType, network *types.Network, device *types.Device, message string) (*types.Alert, error) {
	var deviceID *int64
	if device != nil {
		deviceID = &device.ID
	}

	latest, err := m.store.GetLatestAlert(ctx, network.ID, deviceID)
	if err != nil {
		return nil, fmt.Errorf("looking up latest alert: %w", err)
	}
	if latest != nil && latest.Open() {
		return nil, fmt.Errorf("%w: %s (alert %d)", ErrAlertOpen, latest.SubjectKey(), latest.ID)
	}

	a := &types.Alert{
		Timestamp: m.now().UTC(),
		NetworkID: network.ID,
		DeviceID:  deviceID,
		Type:      alertType,
		Message:   message,
	}
	if err := m.store.CreateAlert(ctx, a); err != nil {
		return nil, err
	}

	if device != nil {
		device.ActiveAlertID = &a.ID
		if err := m.store.SaveDevice(ctx, device); err != nil {
			return nil, fmt.Errorf("recording active alert on device: %w", err)
		}
	} else {
		network.ActiveAlertID = &a.ID
		if err := m.store.SaveNetwork(ctx, network); err != nil {
			return nil, fmt.Errorf("recording active alert on network: %w", err)
		}
	}

	m.logger.Info("alert opened",
		"alert_id", a.ID,
		"type", alertType.String(),
		"network", network.Name,
		"subject", a.SubjectKey(),
	)

	m.notify(ctx, network, device, a, false)
	return a, nil
}

// Close closes the open alert for the given subject, clears the subject's
// active-alert id and appends the open duration to the outgoing message.
// Returns ErrNoOpenAlert when the subject has no open alert.
func (m *Manager) Close(ctx context.Context, network *types.Network, device *types.Device, message string) (*types.Alert, error) {
	var deviceID *int64
	if device != nil {
		deviceID = &device.ID
	}

	latest, err := m.store.GetLatestAlert(ctx, network.ID, deviceID)
	if err != nil {
		return nil, fmt.Errorf("looking up latest alert: %w", err)
	}
	if latest == nil || !latest.Open() {
		key := fmt.Sprintf("network=%d", network.ID)
		if deviceID != nil {
			key = fmt.Sprintf("network=%d device=%d", network.ID, *deviceID)
		}
		return nil, fmt.Errorf("%w: %s", ErrNoOpenAlert, key)
	}

	closedAt := m.now().UTC()
	if err := m.store.CloseAlert(ctx, latest.ID, closedAt); err != nil {
		return nil, err
	}
	latest.ClosedAt = &closedAt

	duration := closedAt.Sub(latest.Timestamp).Truncate(time.Second)
	if message == "" {
		latest.Message = fmt.Sprintf("alert was open for %s", duration)
	} else {
		latest.Message = fmt.Sprintf("%s (alert was open for %s)", message, duration)
	}

	if device != nil {
		device.ActiveAlertID = nil
		if err := m.store.SaveDevice(ctx, device); err != nil {
			return nil, fmt.Errorf("clearing active alert on device: %w", err)
		}
	} else {
		network.ActiveAlertID = nil
		if latest.Type == types.AlertNetworkDown {
			network.BackOnlineTime = &closedAt
		}
		if err := m.store.SaveNetwork(ctx, network); err != nil {
			return nil, fmt.Errorf("clearing active alert on network: %w", err)
		}
	}

	m.logger.Info("alert closed",
		"alert_id", latest.ID,
		"type", latest.Type.String(),
		"network", network.Name,
		"subject", latest.SubjectKey(),
		"open_for", duration,
	)

	m.notify(ctx, network, device, latest, true)
	return latest, nil
}

// notify composes and dispatches the notification for an alert transition.
// The alert state is already committed; a delivery failure is logged only.
func (m *Manager) notify(ctx context.Context, network *types.Network, device *types.Device, a *types.Alert, closed bool) {
	if network.EmailAddress == "" {
		m.logger.Debug("no notification recipient configured", "network", network.Name)
		return
	}

	subject := composeSubject(network, device, closed)
	body := composeBody(a)

	if err := m.notifier.Send(ctx, network.EmailAddress, subject, body); err != nil {
		m.logger.Error("notification delivery failed",
			"alert_id", a.ID,
			"recipient", network.EmailAddress,
			"error", err,
		)
	}
}

func composeSubject(network *types.Network, device *types.Device, closed bool) string {
	state := "triggered"
	if closed {
		state = "closed"
	}
	if device != nil {
		return fmt.Sprintf("[presence-mon] %s / %s: alert %s", network.Name, device.BasicInfo(), state)
	}
	return fmt.Sprintf("[presence-mon] %s: alert %s", network.Name, state)
}

func composeBody(a *types.Alert) string {
	when := a.Timestamp
	if a.ClosedAt != nil {
		when = *a.ClosedAt
	}
	body := fmt.Sprintf("Time: %s\nType: %s\nAlert ID: %d\n",
		when.Format("2006-01-02 15:04:05"), a.Type.String(), a.ID)
	if a.Message != "" {
		body += "Message: " + a.Message + "\n"
	}
	return body
}
