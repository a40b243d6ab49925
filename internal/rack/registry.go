package rack

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// WorkerStopper tears down the automation worker of a rack.
// automation.Engine satisfies it.
type WorkerStopper interface {
	StopRack(rackID string) bool
}

// Registry caches rack metadata and answers the ingress activity check
// without touching the database.
type Registry struct {
	repo    Repository
	stopper WorkerStopper
	logger  Logger

	mu    sync.RWMutex
	cache map[string]*Rack

	onDeleteMu sync.RWMutex
	onDelete   func(rackID string)
}

// NewRegistry creates a rack registry. stopper may be nil.
func NewRegistry(repo Repository, stopper WorkerStopper) *Registry {
	return &Registry{
		repo:    repo,
		stopper: stopper,
		logger:  noopLogger{},
		cache:   make(map[string]*Rack),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetOnDelete registers fn to run after a rack is deleted and its worker
// has stopped. Ingress uses it to drop per-rack state.
func (r *Registry) SetOnDelete(fn func(rackID string)) {
	r.onDeleteMu.Lock()
	r.onDelete = fn
	r.onDeleteMu.Unlock()
}

// RefreshCache reloads every rack from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	racks, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading racks: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache = make(map[string]*Rack, len(racks))
	for i := range racks {
		r.cache[racks[i].ID] = racks[i].Clone()
	}

	r.logger.Info("rack cache refreshed", "count", len(racks))
	return nil
}

// IsActive reports whether readings for rackID should be processed.
// Unknown racks are active.
func (r *Registry) IsActive(rackID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rk, ok := r.cache[rackID]
	return !ok || rk.IsActive
}

// Get returns a copy of the cached rack.
func (r *Registry) Get(id string) (*Rack, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rk, ok := r.cache[id]
	if !ok {
		return nil, ErrRackNotFound
	}
	return rk.Clone(), nil
}

// List returns every known rack ordered by ID.
func (r *Registry) List() []Rack {
	r.mu.RLock()
	racks := make([]Rack, 0, len(r.cache))
	for _, rk := range r.cache {
		racks = append(racks, *rk.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(racks, func(i, j int) bool { return racks[i].ID < racks[j].ID })
	return racks
}

// Create validates, persists and caches a new rack.
func (r *Registry) Create(ctx context.Context, rk *Rack) error {
	if err := Validate(rk); err != nil {
		return err
	}
	if err := r.repo.Create(ctx, rk); err != nil {
		return err
	}

	r.mu.Lock()
	r.cache[rk.ID] = rk.Clone()
	r.mu.Unlock()

	r.logger.Info("rack created", "id", rk.ID, "active", rk.IsActive)
	if !rk.IsActive {
		r.stopWorker(rk.ID)
	}
	return nil
}

// Update persists new metadata for an existing rack. Deactivating a rack
// stops its automation worker.
func (r *Registry) Update(ctx context.Context, rk *Rack) error {
	if err := Validate(rk); err != nil {
		return err
	}

	r.mu.RLock()
	existing, ok := r.cache[rk.ID]
	if ok {
		rk.CreatedAt = existing.CreatedAt
	}
	r.mu.RUnlock()

	if err := r.repo.Update(ctx, rk); err != nil {
		return err
	}

	r.mu.Lock()
	r.cache[rk.ID] = rk.Clone()
	r.mu.Unlock()

	r.logger.Info("rack updated", "id", rk.ID, "active", rk.IsActive)
	if !rk.IsActive {
		r.stopWorker(rk.ID)
	}
	return nil
}

// SetActive flips the active flag of an existing rack.
func (r *Registry) SetActive(ctx context.Context, id string, active bool) (*Rack, error) {
	rk, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	rk.IsActive = active
	if err := r.Update(ctx, rk); err != nil {
		return nil, err
	}
	return rk.Clone(), nil
}

// Delete removes a rack record and stops its worker. Later readings for
// the rack are processed again since unknown racks are active.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.cache, id)
	r.mu.Unlock()

	r.logger.Info("rack deleted", "id", id)
	r.stopWorker(id)

	r.onDeleteMu.RLock()
	fn := r.onDelete
	r.onDeleteMu.RUnlock()
	if fn != nil {
		fn(id)
	}
	return nil
}

func (r *Registry) stopWorker(id string) {
	if r.stopper == nil {
		return
	}
	if r.stopper.StopRack(id) {
		r.logger.Info("rack worker stopped", "rack_id", id)
	}
}
