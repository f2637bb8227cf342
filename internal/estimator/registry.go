package estimator

import (
	"sync"
	"time"

	"github.com/fleetfuel/fleetfuel-core/internal/config"
	"github.com/fleetfuel/fleetfuel-core/internal/eventbus"
	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

// Registry owns one Coordinator per truck, created lazily on first reading.
// It is the ingest worker pool's entry point into the estimation core.
type Registry struct {
	mu           sync.RWMutex
	coordinators map[string]*Coordinator
	cfg          *config.Config
	bus          *eventbus.Bus
}

// NewRegistry builds an empty registry against the given configuration and
// event bus.
func NewRegistry(cfg *config.Config, bus *eventbus.Bus) *Registry {
	return &Registry{
		coordinators: make(map[string]*Coordinator),
		cfg:          cfg,
		bus:          bus,
	}
}

// GetOrCreate returns the truck's Coordinator, creating one from its
// configured TankSpec on first call. Returns false if no TankSpec is
// registered for this truck.
func (r *Registry) GetOrCreate(truckID string) (*Coordinator, bool) {
	r.mu.RLock()
	c, ok := r.coordinators[truckID]
	r.mu.RUnlock()
	if ok {
		return c, true
	}

	spec, ok := r.cfg.TankSpecFor(truckID)
	if !ok {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.coordinators[truckID]; ok {
		return c, true
	}
	c = New(*spec, r.cfg, r.bus)
	r.coordinators[truckID] = c
	return c, true
}

// Register installs an already-constructed Coordinator (used when restoring
// from a checkpoint at startup).
func (r *Registry) Register(c *Coordinator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.coordinators[c.TruckID()] = c
}

// Snapshots returns every truck's current read-model, keyed by truck ID.
func (r *Registry) Snapshots() map[string]models.TruckSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]models.TruckSnapshot, len(r.coordinators))
	for id, c := range r.coordinators {
		out[id] = c.Snapshot()
	}
	return out
}

// Get returns the truck's Coordinator if one has already been created.
// Unlike GetOrCreate it never creates one: operator commands act on
// trucks that are already known, not on-demand.
func (r *Registry) Get(truckID string) (*Coordinator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.coordinators[truckID]
	return c, ok
}

// Snapshot returns one truck's current read-model.
func (r *Registry) Snapshot(truckID string) (models.TruckSnapshot, bool) {
	r.mu.RLock()
	c, ok := r.coordinators[truckID]
	r.mu.RUnlock()
	if !ok {
		return models.TruckSnapshot{}, false
	}
	return c.Snapshot(), true
}

// Sweep marks every truck whose last reading is older than staleWindow as
// OFFLINE. This is the only path that ever assigns the OFFLINE activity
// state: it depends on the absence of a reading, not the content of one,
// so it cannot be derived inside Process.
func (r *Registry) Sweep(now time.Time, staleWindow time.Duration) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.coordinators {
		c.markOfflineIfStale(now, staleWindow)
	}
}
