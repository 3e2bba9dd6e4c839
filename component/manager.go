package component

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/timemerge/errors"
)

// managed tracks one component, its lifecycle state and its private child
// context. The manager owns the context so it can cancel components
// individually during shutdown; components only ever see it as a Start
// parameter.
type managed struct {
	component  LifecycleComponent
	state      State
	cancel     context.CancelFunc
	startOrder int
	lastError  error
}

// Manager drives a set of components through Initialize, Start and Stop.
// Components start in registration order and stop in reverse, so consumers
// shut down before the things they consume from.
type Manager struct {
	mu     sync.Mutex
	items  []*managed
	byName map[string]*managed
	logger *slog.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		byName: make(map[string]*managed),
		logger: logger,
	}
}

// Register adds a component. Names must be unique.
func (m *Manager) Register(c LifecycleComponent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := c.Meta().Name
	if _, exists := m.byName[name]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("component %q already registered", name),
			"Manager", "Register", "register component")
	}
	mc := &managed{component: c, state: StateCreated, startOrder: len(m.items)}
	m.items = append(m.items, mc)
	m.byName[name] = mc
	return nil
}

// InitializeAll initializes every component in registration order, stopping
// at the first failure.
func (m *Manager) InitializeAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, mc := range m.items {
		name := mc.component.Meta().Name
		if err := mc.component.Initialize(); err != nil {
			mc.state = StateFailed
			mc.lastError = err
			return errors.Wrap(err, "Manager", "InitializeAll",
				fmt.Sprintf("initialize %s", name))
		}
		mc.state = StateInitialized
		m.logger.Debug("component initialized", "component", name)
	}
	return nil
}

// StartAll starts every initialized component in registration order. Each
// component receives its own child context so it can be cancelled
// individually.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, mc := range m.items {
		name := mc.component.Meta().Name
		if mc.state != StateInitialized {
			return errors.WrapInvalid(
				fmt.Errorf("component %q is %s, want initialized", name, mc.state),
				"Manager", "StartAll", "check component state")
		}
		childCtx, cancel := context.WithCancel(ctx)
		if err := mc.component.Start(childCtx); err != nil {
			cancel()
			mc.state = StateFailed
			mc.lastError = err
			return errors.Wrap(err, "Manager", "StartAll",
				fmt.Sprintf("start %s", name))
		}
		mc.cancel = cancel
		mc.state = StateStarted
		m.logger.Info("component started", "component", name)
	}
	return nil
}

// StopAll stops started components in reverse start order, cancelling each
// component's context first. All components are attempted; the first error
// is returned.
func (m *Manager) StopAll(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for i := len(m.items) - 1; i >= 0; i-- {
		mc := m.items[i]
		if mc.state != StateStarted {
			continue
		}
		name := mc.component.Meta().Name
		if mc.cancel != nil {
			mc.cancel()
			mc.cancel = nil
		}
		if err := mc.component.Stop(timeout); err != nil {
			mc.state = StateFailed
			mc.lastError = err
			m.logger.Error("component stop failed", "component", name, "error", err)
			if firstErr == nil {
				firstErr = errors.Wrap(err, "Manager", "StopAll",
					fmt.Sprintf("stop %s", name))
			}
			continue
		}
		mc.state = StateStopped
		m.logger.Info("component stopped", "component", name)
	}
	return firstErr
}

// State returns the lifecycle state of a named component.
func (m *Manager) State(name string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mc, ok := m.byName[name]
	if !ok {
		return StateCreated, false
	}
	return mc.state, true
}

// Components returns the managed components in registration order.
func (m *Manager) Components() []LifecycleComponent {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]LifecycleComponent, len(m.items))
	for i, mc := range m.items {
		out[i] = mc.component
	}
	return out
}
