package alert

import (
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/teranos/pulsed/am"
	"github.com/teranos/pulsed/errors"
)

// Factory builds a Notifier from configuration
type Factory func(cfg am.AlertConfig, logger *zap.SugaredLogger) (Notifier, error)

// Registration describes one alert backend available at startup
type Registration struct {
	Name string
	// MinVersion is the minimum daemon version (semver constraint) the
	// backend requires; empty means any.
	MinVersion string
	New        Factory
}

// Registry holds the alert backends selectable at startup
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Registration
	version  string // daemon version
}

// NewRegistry creates a registry validating backends against the daemon version
func NewRegistry(daemonVersion string) *Registry {
	return &Registry{
		backends: make(map[string]Registration),
		version:  daemonVersion,
	}
}

// Register adds a backend. Returns an error on name conflict or if the
// backend requires a newer daemon.
func (r *Registry) Register(reg Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if reg.Name == "" {
		return errors.New("backend name must not be empty")
	}
	if reg.New == nil {
		return errors.Newf("backend %s has no factory", reg.Name)
	}
	if _, exists := r.backends[reg.Name]; exists {
		return errors.Newf("alert backend already registered: %s", reg.Name)
	}

	if reg.MinVersion != "" {
		constraint, err := semver.NewConstraint(">= " + reg.MinVersion)
		if err != nil {
			return errors.Wrapf(err, "bad min version for backend %s", reg.Name)
		}
		current, err := semver.NewVersion(r.version)
		if err != nil {
			return errors.Wrapf(err, "bad daemon version %q", r.version)
		}
		if !constraint.Check(current) {
			return errors.Newf("backend %s requires daemon >= %s, have %s",
				reg.Name, reg.MinVersion, r.version)
		}
	}

	r.backends[reg.Name] = reg
	return nil
}

// Create instantiates the named backend from configuration
func (r *Registry) Create(name string, cfg am.AlertConfig, logger *zap.SugaredLogger) (Notifier, error) {
	r.mu.RLock()
	reg, ok := r.backends[name]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.Newf("unknown alert backend: %s (registered: %v)", name, r.List())
	}
	return reg.New(cfg, logger)
}

// List returns registered backend names in sorted order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry with the built-in backends
func DefaultRegistry(daemonVersion string) (*Registry, error) {
	r := NewRegistry(daemonVersion)

	if err := r.Register(Registration{Name: "log", New: newLogNotifier}); err != nil {
		return nil, err
	}
	if err := r.Register(Registration{Name: "telegram", New: newTelegramNotifier}); err != nil {
		return nil, err
	}
	return r, nil
}
