package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/netwatch-io/presence-mon/pkg/types"
)

// =============================================================================
// DEVICES
// =============================================================================

const deviceColumns = `id, network_id, COALESCE(name, ''), mac_address,
	COALESCE(ip_address, ''), device_operation_mode_id, online,
	first_seen, last_seen, active_alert_id`

func scanDevice(row pgx.Row) (*types.Device, error) {
	var d types.Device
	err := row.Scan(
		&d.ID, &d.NetworkID, &d.Name, &d.MAC,
		&d.IP, &d.Mode, &d.Online,
		&d.FirstSeen, &d.LastSeen, &d.ActiveAlertID,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDevice retrieves a device by ID.
func (s *Store) GetDevice(ctx context.Context, id int64) (*types.Device, error) {
	return scanDevice(s.pool.QueryRow(ctx, `
		SELECT `+deviceColumns+` FROM device WHERE id = $1
	`, id))
}

// GetDeviceByMAC retrieves a device by its (network, MAC) identity.
// MAC comparison is case-insensitive; devices are stored upper-case.
func (s *Store) GetDeviceByMAC(ctx context.Context, networkID int64, mac string) (*types.Device, error) {
	return scanDevice(s.pool.QueryRow(ctx, `
		SELECT `+deviceColumns+` FROM device
		WHERE network_id = $1 AND mac_address = $2
	`, networkID, strings.ToUpper(mac)))
}

// ListDevices returns all devices on a network ordered by MAC.
func (s *Store) ListDevices(ctx context.Context, networkID int64) ([]types.Device, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+deviceColumns+` FROM device
		WHERE network_id = $1
		ORDER BY mac_address
	`, networkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []types.Device
	for rows.Next() {
		var d types.Device
		if err := rows.Scan(
			&d.ID, &d.NetworkID, &d.Name, &d.MAC,
			&d.IP, &d.Mode, &d.Online,
			&d.FirstSeen, &d.LastSeen, &d.ActiveAlertID,
		); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// CreateDevice inserts a new device and fills in its assigned ID.
func (s *Store) CreateDevice(ctx context.Context, d *types.Device) error {
	var name, ip any
	if d.Name != "" {
		name = d.Name
	}
	if d.IP != "" {
		ip = d.IP
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO device (network_id, name, mac_address, ip_address,
			device_operation_mode_id, online, first_seen, last_seen, active_alert_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`,
		d.NetworkID, name, strings.ToUpper(d.MAC), ip,
		d.Mode, d.Online, d.FirstSeen.UTC(), d.LastSeen.UTC(), d.ActiveAlertID,
	).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("create device %s: %w", d.MAC, err)
	}
	return nil
}

// SaveDevice persists the mutable fields of a device.
func (s *Store) SaveDevice(ctx context.Context, d *types.Device) error {
	var name, ip any
	if d.Name != "" {
		name = d.Name
	}
	if d.IP != "" {
		ip = d.IP
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE device
		SET name = $2, ip_address = $3, device_operation_mode_id = $4,
			online = $5, last_seen = $6, active_alert_id = $7
		WHERE id = $1
	`,
		d.ID, name, ip, d.Mode,
		d.Online, d.LastSeen.UTC(), d.ActiveAlertID,
	)
	if err != nil {
		return fmt.Errorf("save device %d: %w", d.ID, err)
	}
	return nil
}

// CountDevices returns total and online device counts for a network.
func (s *Store) CountDevices(ctx context.Context, networkID int64) (total, online int64, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE online)
		FROM device WHERE network_id = $1
	`, networkID).Scan(&total, &online)
	return total, online, err
}
