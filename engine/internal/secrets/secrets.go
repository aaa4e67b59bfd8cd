// Package secrets resolves secret references in engine configuration.
//
// A configured value is one of:
//
//	op://item/field          field of an item in the default 1Password vault
//	op://vault/item/field    field of an item in the named vault
//	env:NAME                 environment variable NAME
//	anything else            used literally
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/1Password/connect-sdk-go/connect"
	"github.com/1Password/connect-sdk-go/onepassword"
)

const (
	onePasswordScheme = "op://"
	envScheme         = "env:"
)

var (
	// ErrNotConfigured is returned for op:// references without a Connect client.
	ErrNotConfigured = errors.New("1Password connect is not configured")

	// ErrNotFound is returned when a referenced item, field or variable is missing.
	ErrNotFound = errors.New("secret not found")

	// ErrInvalidReference is returned for malformed op:// references.
	ErrInvalidReference = errors.New("invalid secret reference")
)

// ItemSource is the subset of the 1Password Connect client the resolver uses.
type ItemSource interface {
	GetItemsByTitle(title string, vaultQuery string) ([]onepassword.Item, error)
	GetItem(itemQuery string, vaultQuery string) (*onepassword.Item, error)
}

// OnePasswordConfig holds 1Password Connect settings.
type OnePasswordConfig struct {
	Host    string `yaml:"host"`
	Token   string `yaml:"token"`
	VaultID string `yaml:"vault_id"`
}

// Resolver resolves secret references, caching 1Password lookups.
type Resolver struct {
	items        ItemSource
	defaultVault string
	logger       *slog.Logger
	lookupEnv    func(string) (string, bool)

	mu    sync.RWMutex
	cache map[string]string
}

// NewResolver creates a resolver. When cfg has no host or token, op://
// references fail with ErrNotConfigured.
func NewResolver(cfg OnePasswordConfig, logger *slog.Logger) *Resolver {
	var items ItemSource
	if cfg.Host != "" && cfg.Token != "" {
		items = connect.NewClientWithUserAgent(cfg.Host, cfg.Token, "hamon-engine")
	}
	return NewResolverWithSource(items, cfg.VaultID, logger)
}

// NewResolverWithSource creates a resolver over an item source.
func NewResolverWithSource(items ItemSource, defaultVault string, logger *slog.Logger) *Resolver {
	return &Resolver{
		items:        items,
		defaultVault: defaultVault,
		logger:       logger.With("component", "secrets"),
		lookupEnv:    os.LookupEnv,
		cache:        make(map[string]string),
	}
}

// Resolve returns the value a reference points to.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, envScheme):
		name := strings.TrimPrefix(ref, envScheme)
		v, ok := r.lookupEnv(name)
		if !ok {
			return "", fmt.Errorf("%w: environment variable %s", ErrNotFound, name)
		}
		return v, nil
	case strings.HasPrefix(ref, onePasswordScheme):
		return r.resolveOnePassword(ctx, ref)
	default:
		return ref, nil
	}
}

// ResolveAll resolves every pointer in place, stopping at the first error.
func (r *Resolver) ResolveAll(ctx context.Context, values ...*string) error {
	for _, v := range values {
		if v == nil || *v == "" {
			continue
		}
		resolved, err := r.Resolve(ctx, *v)
		if err != nil {
			return err
		}
		*v = resolved
	}
	return nil
}

func (r *Resolver) resolveOnePassword(ctx context.Context, ref string) (string, error) {
	r.mu.RLock()
	if v, ok := r.cache[ref]; ok {
		r.mu.RUnlock()
		return v, nil
	}
	r.mu.RUnlock()

	if r.items == nil {
		return "", ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	vault, item, field, err := parseReference(ref, r.defaultVault)
	if err != nil {
		return "", err
	}

	items, err := r.items.GetItemsByTitle(item, vault)
	if err != nil {
		return "", fmt.Errorf("looking up item %s: %w", item, err)
	}
	if len(items) == 0 {
		return "", fmt.Errorf("%w: item %s", ErrNotFound, item)
	}
	full, err := r.items.GetItem(items[0].ID, vault)
	if err != nil {
		return "", fmt.Errorf("getting item %s: %w", item, err)
	}

	for _, f := range full.Fields {
		if f.Label == field || f.ID == field {
			r.mu.Lock()
			r.cache[ref] = f.Value
			r.mu.Unlock()
			r.logger.Debug("resolved secret", "item", item, "field", field)
			return f.Value, nil
		}
	}
	return "", fmt.Errorf("%w: field %s of item %s", ErrNotFound, field, item)
}

func parseReference(ref, defaultVault string) (vault, item, field string, err error) {
	parts := strings.Split(strings.TrimPrefix(ref, onePasswordScheme), "/")
	for _, p := range parts {
		if p == "" {
			return "", "", "", fmt.Errorf("%w: %s", ErrInvalidReference, ref)
		}
	}
	switch len(parts) {
	case 2:
		if defaultVault == "" {
			return "", "", "", fmt.Errorf("%w: %s names no vault and no default vault is set", ErrInvalidReference, ref)
		}
		return defaultVault, parts[0], parts[1], nil
	case 3:
		return parts[0], parts[1], parts[2], nil
	default:
		return "", "", "", fmt.Errorf("%w: %s", ErrInvalidReference, ref)
	}
}
