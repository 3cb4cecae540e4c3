// Package config provides configuration loading plus shared constants.
//
// The constants below centralize hardcoded values so they are easy to find,
// modify, and test.
package config

import "time"

// Evaluator scheduling defaults.
const (
	// DefaultEvaluatorInterval is how often the threshold evaluator runs.
	DefaultEvaluatorInterval = 20 * time.Second

	// DefaultEvaluatorInitialDelay is how long the evaluator waits after
	// startup before its first run.
	DefaultEvaluatorInitialDelay = 30 * time.Second
)

// Hysteresis bounds for alert closure.
const (
	// MaxClosureMargin caps the extra time a device must stay online past the
	// alerting threshold before its alert is closed.
	MaxClosureMargin = 30 * time.Second

	// ClosureMarginDivisor - the margin is alertingDelay/ClosureMarginDivisor,
	// capped at MaxClosureMargin.
	ClosureMarginDivisor = 10
)

// Reporting interval smoothing.
const (
	// ReportingEMAWeight - each observed snapshot gap contributes 1 part in
	// ReportingEMAWeight to the network's reporting-interval EMA.
	ReportingEMAWeight = 4

	// MaxObservedGap caps a single observed snapshot gap so that long outages
	// do not wreck the EMA.
	MaxObservedGap = time.Hour
)

// Transport defaults.
const (
	// DefaultMQTTConnectTimeout is the timeout for the initial broker connect.
	DefaultMQTTConnectTimeout = 10 * time.Second

	// MQTTQoS - snapshots are delivered at-least-once.
	MQTTQoS = 1
)

// Notification delivery.
const (
	// SMTPDialTimeout bounds the SMTP connection attempt.
	SMTPDialTimeout = 10 * time.Second

	// NotifyRateLimit is the sustained notification rate (per second).
	NotifyRateLimit = 1

	// NotifyBurst is the notification burst allowance.
	NotifyBurst = 5
)

// Database connection configuration.
const (
	// DatabasePingTimeout is the timeout for database connectivity checks.
	DatabasePingTimeout = 5 * time.Second

	// RedisConnectionTimeout is the timeout for Redis connectivity checks.
	RedisConnectionTimeout = 5 * time.Second
)

// Cache TTLs for API response caching.
const (
	// CacheTTLNetworkList is the TTL for the network list.
	CacheTTLNetworkList = 30 * time.Second

	// CacheTTLDeviceList is the TTL for per-network device lists.
	CacheTTLDeviceList = 15 * time.Second

	// CacheTTLAlertList is the TTL for alert lists.
	CacheTTLAlertList = 10 * time.Second
)

// Network policy bounds.
const (
	// MinAlertingDelay is the smallest alerting delay an operator may set,
	// in seconds. Anything shorter flaps on normal snapshot cadence.
	MinAlertingDelay = 30
)

// Pagination defaults for API list endpoints.
const (
	// DefaultPaginationLimit is the default number of items returned
	// when no limit is specified.
	DefaultPaginationLimit = 50

	// MaxPaginationLimit is the maximum number of items that can be
	// requested in a single API call.
	MaxPaginationLimit = 500
)
