package cred

import (
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/teranos/pulsed/am"
	"github.com/teranos/pulsed/errors"
)

// Factory builds a Provider from configuration
type Factory func(cfg am.CredConfig) (Provider, error)

// Registration describes one credential provider available at startup
type Registration struct {
	Name string
	// MinVersion is the minimum daemon version (semver constraint) the
	// provider requires; empty means any.
	MinVersion string
	New        Factory
}

// Registry holds the credential providers selectable at startup
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Registration
	version   string // daemon version
}

// NewRegistry creates a registry validating providers against the daemon version
func NewRegistry(daemonVersion string) *Registry {
	return &Registry{
		providers: make(map[string]Registration),
		version:   daemonVersion,
	}
}

// Register adds a provider. Returns an error on name conflict or if the
// provider requires a newer daemon.
func (r *Registry) Register(reg Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if reg.Name == "" {
		return errors.New("provider name must not be empty")
	}
	if reg.New == nil {
		return errors.Newf("provider %s has no factory", reg.Name)
	}
	if _, exists := r.providers[reg.Name]; exists {
		return errors.Newf("credential provider already registered: %s", reg.Name)
	}

	if reg.MinVersion != "" {
		constraint, err := semver.NewConstraint(">= " + reg.MinVersion)
		if err != nil {
			return errors.Wrapf(err, "bad min version for provider %s", reg.Name)
		}
		current, err := semver.NewVersion(r.version)
		if err != nil {
			return errors.Wrapf(err, "bad daemon version %q", r.version)
		}
		if !constraint.Check(current) {
			return errors.Newf("provider %s requires daemon >= %s, have %s",
				reg.Name, reg.MinVersion, r.version)
		}
	}

	r.providers[reg.Name] = reg
	return nil
}

// Create instantiates the named provider from configuration. An empty name
// selects "none".
func (r *Registry) Create(name string, cfg am.CredConfig) (Provider, error) {
	if name == "" {
		name = "none"
	}

	r.mu.RLock()
	reg, ok := r.providers[name]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.Newf("unknown credential provider: %s (registered: %v)", name, r.List())
	}
	return reg.New(cfg)
}

// List returns registered provider names in sorted order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry with the built-in providers
func DefaultRegistry(daemonVersion string) (*Registry, error) {
	r := NewRegistry(daemonVersion)

	if err := r.Register(Registration{Name: "none", New: newNoneProvider}); err != nil {
		return nil, err
	}
	if err := r.Register(Registration{Name: "command", New: newCommandProvider}); err != nil {
		return nil, err
	}
	return r, nil
}
