package policy

import (
	"context"
	"sync"
	"time"

	"github.com/sentinelops/sentinel/pkg/errors"
	"github.com/sentinelops/sentinel/pkg/logging"
)

var (
	errMinScoreRange         = errors.E(errors.KindInvalidInput, "policy.Validate", "min_score must be within [0,100]")
	errNegativeCriticalLimit = errors.E(errors.KindInvalidInput, "policy.Validate", "max_critical_vulns must be >= 0")
	errNegativeHighLimit     = errors.E(errors.KindInvalidInput, "policy.Validate", "max_high_vulns must be >= 0")
)

// Store is the persistence boundary for the policy singleton. Load returns a
// KindNotFound error when no document has been written yet; the manager
// recovers with the default policy rather than surfacing the absence.
type Store interface {
	LoadPolicy(ctx context.Context) (*Policy, error)
	SavePolicy(ctx context.Context, p *Policy) error
}

// Actor is the caller identity consulted before a policy mutation.
// Evaluation and reads require no privilege.
type Actor interface {
	Name() string
	IsElevated() bool
}

// Manager owns the policy singleton. All reads and replaces go through its
// lock so evaluation always sees a complete, self-consistent snapshot; the
// lock scope is limited to the read/replace itself.
type Manager struct {
	store  Store
	logger logging.Logger

	mu      sync.RWMutex
	current *Policy
}

// NewManager creates a policy manager backed by the given store. A nil store
// keeps the singleton purely in memory.
func NewManager(store Store, logger logging.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logging.OrNop(logger),
	}
}

// Get returns a copy of the current policy, loading it from the store on
// first access and falling back to (and persisting) the default document
// when none exists.
func (m *Manager) Get(ctx context.Context) (*Policy, error) {
	m.mu.RLock()
	if m.current != nil {
		p := *m.current
		m.mu.RUnlock()
		return &p, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-check: another caller may have loaded while we waited.
	if m.current != nil {
		p := *m.current
		return &p, nil
	}

	loaded, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	m.current = loaded

	p := *m.current
	return &p, nil
}

func (m *Manager) load(ctx context.Context) (*Policy, error) {
	if m.store == nil {
		return Default(), nil
	}

	p, err := m.store.LoadPolicy(ctx)
	if err == nil {
		return p, nil
	}
	if !errors.IsNotFound(err) {
		return nil, errors.Wrap(err, "policy.Get")
	}

	// Configuration absence is recovered locally, never surfaced.
	m.logger.Info("no policy document found, creating defaults")
	def := Default()
	if saveErr := m.store.SavePolicy(ctx, def); saveErr != nil {
		m.logger.Warn("persist default policy: %v", saveErr)
	}
	return def, nil
}

// Update atomically replaces the policy document. Partial updates are not
// supported. Only an elevated actor may replace the document.
func (m *Manager) Update(ctx context.Context, actor Actor, p *Policy) (*Policy, error) {
	if actor == nil || !actor.IsElevated() {
		return nil, errors.E(errors.KindAuthorization, "policy.Update", "elevated privilege required")
	}
	if p == nil {
		return nil, errors.E(errors.KindInvalidInput, "policy.Update", "policy document required")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	next := *p
	next.UpdatedAt = time.Now().UTC()
	next.UpdatedBy = actor.Name()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SavePolicy(ctx, &next); err != nil {
			return nil, errors.Wrap(err, "policy.Update")
		}
	}
	m.current = &next

	m.logger.Info("policy replaced by %s (min_score=%d auto_block=%v)",
		next.UpdatedBy, next.MinScore, next.AutoBlock)

	out := next
	return &out, nil
}
