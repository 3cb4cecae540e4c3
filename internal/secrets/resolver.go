// Package secrets resolves secret references found in configuration values.
//
// A reference is a plain string with one of these forms:
//
//	literal          used verbatim
//	env://NAME       value of the environment variable NAME
//	file:///path     trimmed contents of the file
//	op://vault/item/field  field from a 1Password Connect vault
//
// The op:// scheme needs OP_CONNECT_HOST and OP_CONNECT_TOKEN in the
// environment.
package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/1Password/connect-sdk-go/connect"
)

// Resolver resolves secret references. Resolved values are cached for the
// lifetime of the process.
type Resolver struct {
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]string

	// newClient is swapped out in tests.
	newClient func() (connect.Client, error)
	client    connect.Client
}

// NewResolver creates a resolver.
func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{
		logger:    logger.With("component", "secrets"),
		cache:     make(map[string]string),
		newClient: connectClientFromEnv,
	}
}

// Resolve turns one reference into its secret value. Plain strings pass
// through unchanged.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	scheme, rest, ok := strings.Cut(ref, "://")
	if !ok {
		return ref, nil
	}

	r.mu.Lock()
	if v, hit := r.cache[ref]; hit {
		r.mu.Unlock()
		return v, nil
	}
	r.mu.Unlock()

	var value string
	var err error
	switch scheme {
	case "env":
		value, err = resolveEnv(rest)
	case "file":
		value, err = resolveFile(rest)
	case "op":
		value, err = r.resolveOnePassword(ctx, rest)
	default:
		// Unknown scheme: the value just happens to contain "://".
		return ref, nil
	}
	if err != nil {
		return "", fmt.Errorf("resolving %s reference: %w", scheme, err)
	}

	r.logger.Debug("secret resolved", "scheme", scheme)

	r.mu.Lock()
	r.cache[ref] = value
	r.mu.Unlock()
	return value, nil
}

func resolveEnv(name string) (string, error) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("environment variable %s is not set", name)
	}
	return v, nil
}

func resolveFile(path string) (string, error) {
	// file:///etc/secret keeps its leading slash after the scheme is cut.
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// resolveOnePassword looks up vault/item/field through the Connect API.
func (r *Resolver) resolveOnePassword(_ context.Context, rest string) (string, error) {
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", fmt.Errorf("malformed op reference %q, want op://vault/item/field", rest)
	}
	vaultTitle, itemTitle, fieldLabel := parts[0], parts[1], parts[2]

	client, err := r.connectClient()
	if err != nil {
		return "", err
	}

	vaults, err := client.GetVaultsByTitle(vaultTitle)
	if err != nil {
		return "", fmt.Errorf("looking up vault %q: %w", vaultTitle, err)
	}
	if len(vaults) == 0 {
		return "", fmt.Errorf("vault %q not found", vaultTitle)
	}

	item, err := client.GetItemByTitle(itemTitle, vaults[0].ID)
	if err != nil {
		return "", fmt.Errorf("looking up item %q: %w", itemTitle, err)
	}

	for _, field := range item.Fields {
		if field.Label == fieldLabel || field.ID == fieldLabel {
			return field.Value, nil
		}
	}
	return "", fmt.Errorf("field %q not found on item %q", fieldLabel, itemTitle)
}

func (r *Resolver) connectClient() (connect.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}
	client, err := r.newClient()
	if err != nil {
		return nil, err
	}
	r.client = client
	return client, nil
}

func connectClientFromEnv() (connect.Client, error) {
	host := os.Getenv("OP_CONNECT_HOST")
	token := os.Getenv("OP_CONNECT_TOKEN")
	if host == "" || token == "" {
		return nil, fmt.Errorf("OP_CONNECT_HOST and OP_CONNECT_TOKEN must be set for op:// references")
	}
	return connect.NewClientWithUserAgent(host, token, "presence-mon"), nil
}
