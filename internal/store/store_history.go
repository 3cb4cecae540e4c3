package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/netwatch-io/presence-mon/pkg/types"
)

// =============================================================================
// STATUS HISTORY
// =============================================================================

const historyColumns = `id, network_id, device_id, COALESCE(ip_address, ''),
	online, timestamp`

// AppendHistory inserts one status transition row.
func (s *Store) AppendHistory(ctx context.Context, h *types.StatusHistoryEntry) error {
	var ip any
	if h.IP != "" {
		ip = h.IP
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO device_status_history (network_id, device_id, ip_address, online, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`,
		h.NetworkID, h.DeviceID, ip, h.Online, h.Timestamp.UTC(),
	).Scan(&h.ID)
	if err != nil {
		return fmt.Errorf("append history for device %d: %w", h.DeviceID, err)
	}
	return nil
}

// GetCurrentlyOnlineDeviceIDs returns the IDs of devices on a network whose
// latest history entry has online=true. This is the "previously online" set
// the reconciler diffs snapshots against.
func (s *Store) GetCurrentlyOnlineDeviceIDs(ctx context.Context, networkID int64) (map[int64]bool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (device_id) device_id, online
		FROM device_status_history
		WHERE network_id = $1
		ORDER BY device_id, timestamp DESC, id DESC
	`, networkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	online := make(map[int64]bool)
	for rows.Next() {
		var deviceID int64
		var isOnline bool
		if err := rows.Scan(&deviceID, &isOnline); err != nil {
			return nil, err
		}
		if isOnline {
			online[deviceID] = true
		}
	}
	return online, rows.Err()
}

// GetLatestHistoryEntry returns the most recent history row for a device,
// or nil if the device has no history yet.
func (s *Store) GetLatestHistoryEntry(ctx context.Context, deviceID int64) (*types.StatusHistoryEntry, error) {
	var h types.StatusHistoryEntry
	err := s.pool.QueryRow(ctx, `
		SELECT `+historyColumns+` FROM device_status_history
		WHERE device_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`, deviceID).Scan(
		&h.ID, &h.NetworkID, &h.DeviceID, &h.IP, &h.Online, &h.Timestamp,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// ListHistory returns the newest history rows for a device, newest-first.
func (s *Store) ListHistory(ctx context.Context, deviceID int64, limit int) ([]types.StatusHistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+historyColumns+` FROM device_status_history
		WHERE device_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT $2
	`, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []types.StatusHistoryEntry
	for rows.Next() {
		var h types.StatusHistoryEntry
		if err := rows.Scan(
			&h.ID, &h.NetworkID, &h.DeviceID, &h.IP, &h.Online, &h.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, h)
	}
	return entries, rows.Err()
}
