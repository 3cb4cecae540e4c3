// Package service contains the business logic behind the HTTP API.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/netwatch-io/presence-mon/internal/config"
	"github.com/netwatch-io/presence-mon/internal/store"
	"github.com/netwatch-io/presence-mon/pkg/types"
)

// ErrNotFound is returned for lookups of entities that do not exist.
var ErrNotFound = fmt.Errorf("not found")

// Service provides read and management operations over the store.
type Service struct {
	store  *store.Store
	logger *slog.Logger
}

// NewService creates a new service.
func NewService(st *store.Store, logger *slog.Logger) *Service {
	return &Service{
		store:  st,
		logger: logger.With("component", "service"),
	}
}

// Store returns the underlying store for direct access.
func (s *Service) Store() *store.Store {
	return s.store
}

// =============================================================================
// NETWORK OPERATIONS
// =============================================================================

// NetworkSummary pairs a network with its device counts.
type NetworkSummary struct {
	types.Network
	DeviceCount int64 `json:"device_count"`
	OnlineCount int64 `json:"online_count"`
}

// ListNetworks returns all networks with device counts.
func (s *Service) ListNetworks(ctx context.Context) ([]NetworkSummary, error) {
	networks, err := s.store.ListNetworks(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]NetworkSummary, 0, len(networks))
	for _, n := range networks {
		total, online, err := s.store.CountDevices(ctx, n.ID)
		if err != nil {
			return nil, fmt.Errorf("counting devices for network %d: %w", n.ID, err)
		}
		summaries = append(summaries, NetworkSummary{
			Network:     n,
			DeviceCount: total,
			OnlineCount: online,
		})
	}
	return summaries, nil
}

// GetNetwork returns one network by id.
func (s *Service) GetNetwork(ctx context.Context, id int64) (*types.Network, error) {
	n, err := s.store.GetNetwork(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, ErrNotFound
	}
	return n, nil
}

// UpdateNetworkRequest carries the operator-editable network fields. Nil
// fields are left unchanged.
type UpdateNetworkRequest struct {
	AlertingDelay *int    `json:"alerting_delay"`
	EmailAddress  *string `json:"email_address"`
	Configuration *string `json:"configuration"`
}

// UpdateNetwork applies an operator edit to a network.
func (s *Service) UpdateNetwork(ctx context.Context, id int64, req UpdateNetworkRequest) (*types.Network, error) {
	n, err := s.GetNetwork(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.AlertingDelay != nil {
		if *req.AlertingDelay < config.MinAlertingDelay {
			return nil, fmt.Errorf("alerting delay must be at least %d seconds", config.MinAlertingDelay)
		}
		n.AlertingDelay = *req.AlertingDelay
	}
	if req.EmailAddress != nil {
		n.EmailAddress = *req.EmailAddress
	}
	if req.Configuration != nil {
		n.Configuration = *req.Configuration
	}

	if err := s.store.SaveNetwork(ctx, n); err != nil {
		return nil, fmt.Errorf("saving network: %w", err)
	}

	s.logger.Info("network updated", "network", n.Name, "id", n.ID)
	return n, nil
}

// =============================================================================
// DEVICE OPERATIONS
// =============================================================================

// ListDevices returns all devices on a network.
func (s *Service) ListDevices(ctx context.Context, networkID int64) ([]types.Device, error) {
	if _, err := s.GetNetwork(ctx, networkID); err != nil {
		return nil, err
	}
	return s.store.ListDevices(ctx, networkID)
}

// GetDevice returns one device by id.
func (s *Service) GetDevice(ctx context.Context, id int64) (*types.Device, error) {
	d, err := s.store.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrNotFound
	}
	return d, nil
}

// SetDeviceMode changes a device's operation mode. Closing a leftover alert
// after authorization is the evaluator's job and happens on its next tick.
func (s *Service) SetDeviceMode(ctx context.Context, id int64, mode types.DeviceOperationMode) (*types.Device, error) {
	d, err := s.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}

	if d.Mode == mode {
		return d, nil
	}

	old := d.Mode
	d.Mode = mode
	if err := s.store.SaveDevice(ctx, d); err != nil {
		return nil, fmt.Errorf("saving device: %w", err)
	}

	s.logger.Info("device mode changed",
		"device", d.BasicInfo(), "from", old.String(), "to", mode.String())
	return d, nil
}

// RenameDevice sets a device's display name.
func (s *Service) RenameDevice(ctx context.Context, id int64, name string) (*types.Device, error) {
	d, err := s.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}

	d.Name = name
	if err := s.store.SaveDevice(ctx, d); err != nil {
		return nil, fmt.Errorf("saving device: %w", err)
	}
	return d, nil
}

// DeviceHistory returns the most recent status transitions for a device,
// newest first.
func (s *Service) DeviceHistory(ctx context.Context, id int64, limit int) ([]types.StatusHistoryEntry, error) {
	if _, err := s.GetDevice(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > config.MaxPaginationLimit {
		limit = config.DefaultPaginationLimit
	}
	return s.store.ListHistory(ctx, id, limit)
}

// =============================================================================
// ALERT OPERATIONS
// =============================================================================

// ListAlerts returns recent alerts, optionally restricted to open ones or to
// one network.
func (s *Service) ListAlerts(ctx context.Context, filter store.AlertFilter) ([]types.Alert, error) {
	if filter.Limit <= 0 || filter.Limit > config.MaxPaginationLimit {
		filter.Limit = config.DefaultPaginationLimit
	}
	return s.store.ListAlerts(ctx, filter)
}
