// Package secrets holds credentials that can be rotated without a restart,
// such as the bearer token the Gateway presents on pushed events.
package secrets

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
)

// KeyInboundToken is the bearer token required on pushed events.
const KeyInboundToken = "inbound_token"

// Loader retrieves secrets from a source.
type Loader func() (map[string]string, error)

// Vault holds secret values in memory and supports atomic reloading.
type Vault struct {
	mu     sync.RWMutex
	values map[string]string
	loader Loader
}

// NewVault creates a Vault, calling the loader once to populate initial values.
func NewVault(loader Loader) (*Vault, error) {
	vals, err := loader()
	if err != nil {
		return nil, fmt.Errorf("initial secret load: %w", err)
	}
	return &Vault{values: vals, loader: loader}, nil
}

// Get returns the secret for key, or an empty string if not found.
func (v *Vault) Get(key string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.values[key]
}

// Getter returns a func reading key on every call, for consumers that must
// observe reloads.
func (v *Vault) Getter(key string) func() string {
	return func() string { return v.Get(key) }
}

// Keys returns the sorted names of the loaded secrets.
func (v *Vault) Keys() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Sorted(maps.Keys(v.values))
}

// Redacted returns a masked form of the secret for logging: the first two
// characters followed by ****, or **** alone for short values.
func (v *Vault) Redacted(key string) string {
	s := v.Get(key)
	switch {
	case s == "":
		return ""
	case len(s) <= 4:
		return "****"
	default:
		return s[:2] + "****"
	}
}

// Reload calls the loader and swaps in the new values atomically.
// If the loader returns an error, existing values are preserved.
func (v *Vault) Reload() error {
	newVals, err := v.loader()
	if err != nil {
		return fmt.Errorf("reload secrets: %w", err)
	}
	v.mu.Lock()
	v.values = newVals
	v.mu.Unlock()
	return nil
}

// Static returns a Loader with fixed values, typically from the config file.
// Empty values are omitted.
func Static(values map[string]string) Loader {
	return func() (map[string]string, error) {
		out := make(map[string]string, len(values))
		for k, val := range values {
			if val != "" {
				out[k] = val
			}
		}
		return out, nil
	}
}

// EnvLoader maps secret keys to environment variable names. Unset
// variables are omitted.
func EnvLoader(vars map[string]string) Loader {
	return func() (map[string]string, error) {
		out := make(map[string]string, len(vars))
		for key, name := range vars {
			if val := os.Getenv(name); val != "" {
				out[key] = val
			}
		}
		return out, nil
	}
}

// FileLoader reads each key from a file, trimming surrounding whitespace.
// Missing files are omitted so a mounted secret may appear later.
func FileLoader(paths map[string]string) Loader {
	return func() (map[string]string, error) {
		out := make(map[string]string, len(paths))
		for key, path := range paths {
			if path == "" {
				continue
			}
			data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied secret path
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					continue
				}
				return nil, fmt.Errorf("read secret %s: %w", key, err)
			}
			if val := strings.TrimSpace(string(data)); val != "" {
				out[key] = val
			}
		}
		return out, nil
	}
}

// Chain merges loaders in order; later loaders override earlier ones.
func Chain(loaders ...Loader) Loader {
	return func() (map[string]string, error) {
		out := make(map[string]string)
		for _, l := range loaders {
			vals, err := l()
			if err != nil {
				return nil, err
			}
			maps.Copy(out, vals)
		}
		return out, nil
	}
}
