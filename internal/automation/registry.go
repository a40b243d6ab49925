package automation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry and Engine.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides rule management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups, so
// the per-reading rule load does not touch the database.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by the CRUD methods. Registry satisfies RuleStore.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*AutomationRule // Cached rules by ID
	cacheMu sync.RWMutex               // Protects cache
	logger  Logger

	cooldowns CooldownForgetter // optional; cleared on delete
}

// NewRegistry creates a new rule registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*AutomationRule),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetCooldownForgetter makes DeleteRule clear the deleted rule's cooldown.
func (r *Registry) SetCooldownForgetter(f CooldownForgetter) {
	r.cooldowns = f
}

// RefreshCache reloads all rules from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	rules, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*AutomationRule, len(rules))
	for i := range rules {
		r.cache[rules[i].ID] = rules[i].DeepCopy()
	}

	r.logger.Info("rule cache refreshed", "count", len(rules))
	return nil
}

// GetRule retrieves a rule by ID.
// The returned rule is a deep copy; callers can safely modify it.
func (r *Registry) GetRule(_ context.Context, id string) (*AutomationRule, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}
	return nil, ErrRuleNotFound
}

// ListRules returns deep copies of every rule, or of one rack's rules when
// rackID is non-empty, in evaluation order.
func (r *Registry) ListRules(_ context.Context, rackID string) ([]AutomationRule, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	rules := make([]AutomationRule, 0, len(r.cache))
	for _, rule := range r.cache {
		if rackID != "" && rule.RackID != rackID {
			continue
		}
		rules = append(rules, *rule.DeepCopy())
	}
	sortRules(rules)
	return rules, nil
}

// ListRulesForRack implements RuleStore.
func (r *Registry) ListRulesForRack(ctx context.Context, rackID string) ([]AutomationRule, error) {
	return r.ListRules(ctx, rackID)
}

// UpdateLastTriggered implements RuleStore. The repository write happens
// first; the cache only advances once it succeeds.
func (r *Registry) UpdateLastTriggered(ctx context.Context, id string, ts time.Time) error {
	if err := r.repo.UpdateLastTriggered(ctx, id, ts); err != nil {
		return err
	}

	ts = ts.UTC().Truncate(time.Millisecond)
	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		if cached.LastTriggeredAt == nil || cached.LastTriggeredAt.Before(ts) {
			cached.LastTriggeredAt = &ts
		}
	}
	r.cacheMu.Unlock()
	return nil
}

// sortRules orders rules by rack, then (created_at, id), matching the DB query.
func sortRules(rules []AutomationRule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].RackID != rules[j].RackID {
			return rules[i].RackID < rules[j].RackID
		}
		if !rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].CreatedAt.Before(rules[j].CreatedAt)
		}
		return rules[i].ID < rules[j].ID
	})
}

// CreateRule applies boundary defaults, validates, persists, and caches a
// new rule.
func (r *Registry) CreateRule(ctx context.Context, rule *AutomationRule) error {
	ApplyDefaults(rule)
	rule.LastTriggeredAt = nil

	if err := ValidateRule(rule); err != nil {
		return err
	}

	if err := r.repo.Create(ctx, rule); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[rule.ID] = rule.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("rule created", "id", rule.ID, "rack_id", rule.RackID, "name", rule.Name)
	return nil
}

// UpdateRule validates, persists, and updates the cached rule. The
// engine-owned LastTriggeredAt and the original CreatedAt are preserved.
func (r *Registry) UpdateRule(ctx context.Context, rule *AutomationRule) error {
	ApplyDefaults(rule)

	if err := ValidateRule(rule); err != nil {
		return err
	}

	r.cacheMu.RLock()
	existing, ok := r.cache[rule.ID]
	if ok {
		rule.CreatedAt = existing.CreatedAt
		rule.LastTriggeredAt = existing.DeepCopy().LastTriggeredAt
	}
	r.cacheMu.RUnlock()

	if err := r.repo.Update(ctx, rule); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[rule.ID] = rule.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("rule updated", "id", rule.ID, "rack_id", rule.RackID, "name", rule.Name)
	return nil
}

// DeleteRule removes a rule from persistence and cache.
func (r *Registry) DeleteRule(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	// The rule is gone either way; a stale cooldown entry only costs memory.
	if r.cooldowns != nil {
		if err := r.cooldowns.Forget(ctx, id); err != nil {
			r.logger.Warn("clearing rule cooldown failed", "id", id, "error", err)
		}
	}

	r.logger.Info("rule deleted", "id", id)
	return nil
}

// GetRuleCount returns the number of cached rules.
func (r *Registry) GetRuleCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}
