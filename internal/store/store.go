// Package store provides database access for the presence-mon server.
//
// # Design
//
// The store uses raw SQL with pgx. Every query states its columns explicitly;
// pgx.ErrNoRows is translated to a (nil, nil) return so callers can distinguish
// "not found" from real failures without sentinel comparisons of their own.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/netwatch-io/presence-mon/pkg/types"
)

// Store provides database operations.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new store with the given connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewFromURL creates a new store by connecting to the given database URL.
func NewFromURL(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping tests database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Pool returns the underlying connection pool for advanced operations.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// =============================================================================
// NETWORKS
// =============================================================================

const networkColumns = `id, name, first_seen, last_seen, alerting_delay,
	COALESCE(email_address, ''), active_alert_id, configuration,
	reporting_interval_ema, back_online_time`

func scanNetwork(row pgx.Row) (*types.Network, error) {
	var n types.Network
	err := row.Scan(
		&n.ID, &n.Name, &n.FirstSeen, &n.LastSeen, &n.AlertingDelay,
		&n.EmailAddress, &n.ActiveAlertID, &n.Configuration,
		&n.ReportingIntervalEMA, &n.BackOnlineTime,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// GetNetwork retrieves a network by ID.
func (s *Store) GetNetwork(ctx context.Context, id int64) (*types.Network, error) {
	return scanNetwork(s.pool.QueryRow(ctx, `
		SELECT `+networkColumns+` FROM network WHERE id = $1
	`, id))
}

// GetNetworkByName retrieves a network by its unique name.
func (s *Store) GetNetworkByName(ctx context.Context, name string) (*types.Network, error) {
	return scanNetwork(s.pool.QueryRow(ctx, `
		SELECT `+networkColumns+` FROM network WHERE name = $1
	`, name))
}

// GetOrCreateNetwork returns the network with the given name, creating it
// with default settings on first sighting. Concurrent callers racing on the
// same name both end up with the same row.
func (s *Store) GetOrCreateNetwork(ctx context.Context, name string, seen time.Time) (*types.Network, error) {
	n, err := scanNetwork(s.pool.QueryRow(ctx, `
		INSERT INTO network (name, first_seen, last_seen, alerting_delay)
		VALUES ($1, $2, $2, $3)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING `+networkColumns+`
	`, name, seen.UTC(), types.DefaultAlertingDelay))
	if err != nil {
		return nil, fmt.Errorf("get or create network %q: %w", name, err)
	}
	return n, nil
}

// ListNetworks returns all networks ordered by name.
func (s *Store) ListNetworks(ctx context.Context) ([]types.Network, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+networkColumns+` FROM network ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var networks []types.Network
	for rows.Next() {
		var n types.Network
		if err := rows.Scan(
			&n.ID, &n.Name, &n.FirstSeen, &n.LastSeen, &n.AlertingDelay,
			&n.EmailAddress, &n.ActiveAlertID, &n.Configuration,
			&n.ReportingIntervalEMA, &n.BackOnlineTime,
		); err != nil {
			return nil, err
		}
		networks = append(networks, n)
	}
	return networks, rows.Err()
}

// SaveNetwork persists the mutable fields of a network.
func (s *Store) SaveNetwork(ctx context.Context, n *types.Network) error {
	var email any
	if n.EmailAddress != "" {
		email = n.EmailAddress
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE network
		SET last_seen = $2, alerting_delay = $3, email_address = $4,
			active_alert_id = $5, configuration = $6,
			reporting_interval_ema = $7, back_online_time = $8
		WHERE id = $1
	`,
		n.ID, n.LastSeen.UTC(), n.AlertingDelay, email,
		n.ActiveAlertID, n.Configuration,
		n.ReportingIntervalEMA, n.BackOnlineTime,
	)
	if err != nil {
		return fmt.Errorf("save network %d: %w", n.ID, err)
	}
	return nil
}
