package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/netwatch-io/presence-mon/pkg/types"
)

// =============================================================================
// ALERTS
// =============================================================================

const alertColumns = `id, timestamp, network_id, device_id, alert_type_id,
	COALESCE(message, ''), closure_timestamp`

func scanAlert(row pgx.Row) (*types.Alert, error) {
	var a types.Alert
	err := row.Scan(
		&a.ID, &a.Timestamp, &a.NetworkID, &a.DeviceID,
		&a.Type, &a.Message, &a.ClosedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAlert retrieves an alert by ID.
func (s *Store) GetAlert(ctx context.Context, id int64) (*types.Alert, error) {
	return scanAlert(s.pool.QueryRow(ctx, `
		SELECT `+alertColumns+` FROM alert WHERE id = $1
	`, id))
}

// GetLatestAlert returns the most recent alert for a (network, device) key,
// open or closed. A nil deviceID selects the network-level key.
func (s *Store) GetLatestAlert(ctx context.Context, networkID int64, deviceID *int64) (*types.Alert, error) {
	if deviceID == nil {
		return scanAlert(s.pool.QueryRow(ctx, `
			SELECT `+alertColumns+` FROM alert
			WHERE network_id = $1 AND device_id IS NULL
			ORDER BY timestamp DESC, id DESC
			LIMIT 1
		`, networkID))
	}
	return scanAlert(s.pool.QueryRow(ctx, `
		SELECT `+alertColumns+` FROM alert
		WHERE network_id = $1 AND device_id = $2
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`, networkID, *deviceID))
}

// CreateAlert inserts a new open alert and fills in its assigned ID.
func (s *Store) CreateAlert(ctx context.Context, a *types.Alert) error {
	var message any
	if a.Message != "" {
		message = a.Message
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO alert (timestamp, network_id, device_id, alert_type_id, message)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`,
		a.Timestamp.UTC(), a.NetworkID, a.DeviceID, a.Type, message,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("create alert for %s: %w", a.SubjectKey(), err)
	}
	return nil
}

// CloseAlert stamps the closure timestamp on an alert row.
func (s *Store) CloseAlert(ctx context.Context, id int64, closedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE alert SET closure_timestamp = $2
		WHERE id = $1 AND closure_timestamp IS NULL
	`, id, closedAt.UTC())
	if err != nil {
		return fmt.Errorf("close alert %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("close alert %d: no open row", id)
	}
	return nil
}

// ListAlerts returns recent alerts, optionally filtered to open ones or to a
// single network. Results are newest-first.
func (s *Store) ListAlerts(ctx context.Context, filter AlertFilter) ([]types.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alert WHERE TRUE`
	args := []any{}
	if filter.OpenOnly {
		query += ` AND closure_timestamp IS NULL`
	}
	if filter.NetworkID != 0 {
		args = append(args, filter.NetworkID)
		query += fmt.Sprintf(" AND network_id = $%d", len(args))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY timestamp DESC, id DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []types.Alert
	for rows.Next() {
		var a types.Alert
		if err := rows.Scan(
			&a.ID, &a.Timestamp, &a.NetworkID, &a.DeviceID,
			&a.Type, &a.Message, &a.ClosedAt,
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// AlertFilter narrows ListAlerts results.
type AlertFilter struct {
	OpenOnly  bool
	NetworkID int64
	Limit     int
}
