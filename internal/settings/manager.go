package settings

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/kevin-cantwell/docsql/internal/logging"
)

// Manager owns the live settings. It is safe for concurrent use.
type Manager struct {
	logger   *slog.Logger
	store    Store
	levels   *logging.Levels
	console  *logging.Console
	defaults State

	mu    sync.RWMutex
	state State

	broker broker

	saveCh    chan struct{}
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithLevels keeps levels in sync with LoggingOptions.MinLevels and the
// debug flag.
func WithLevels(levels *logging.Levels) Option {
	return func(m *Manager) { m.levels = levels }
}

// WithConsole keeps the console's retention in sync with
// consoleLogRetention.
func WithConsole(console *logging.Console) Option {
	return func(m *Manager) { m.console = console }
}

// Open loads persisted settings from store and merges them over the
// defaults. Persisted keys that no longer exist are dropped.
func Open(ctx context.Context, store Store, opts ...Option) (*Manager, error) {
	m := &Manager{
		logger:   slog.Default(),
		store:    store,
		defaults: Defaults(),
		saveCh:   make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "settings")
	m.state = m.defaults.Clone()

	if store == nil {
		m.store = &MemoryStore{}
	}
	persisted, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if persisted != nil {
		m.merge(*persisted)
	}
	m.apply()

	go m.saveLoop()
	return m, nil
}

func (m *Manager) merge(p State) {
	for name, on := range p.Features {
		if _, ok := m.state.Features[name]; !ok {
			m.logger.Warn("dropping unknown persisted feature", "feature", name)
			continue
		}
		m.state.Features[name] = on
	}
	for name, v := range p.GeneralSettings {
		def, ok := m.defaults.GeneralSettings[name]
		if !ok {
			m.logger.Warn("dropping unknown persisted setting", "setting", name)
			continue
		}
		norm, err := coerce(name, def, v)
		if err != nil {
			m.logger.Warn("dropping persisted setting", "setting", name, "error", err)
			continue
		}
		m.state.GeneralSettings[name] = norm
	}
	maps.Copy(m.state.HeadingOpened, p.HeadingOpened)
	if p.LoggingOptions.MinLevels != nil {
		m.state.LoggingOptions.MinLevels = cloneMap(p.LoggingOptions.MinLevels)
	}
	m.state.GeneralSettings[KeySettingsVersion] = float64(CurrentVersion)
}

// State returns a copy of the current settings.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

// HasValue reports whether name is a general setting.
func (m *Manager) HasValue(name string) bool {
	_, ok := m.defaults.GeneralSettings[name]
	return ok
}

// HasFeature reports whether name is a feature flag.
func (m *Manager) HasFeature(name string) bool {
	_, ok := m.defaults.Features[name]
	return ok
}

// GetValue returns a general setting. Numbers are float64.
func (m *Manager) GetValue(name string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.state.GeneralSettings[name]
	if !ok {
		return nil, &KeyError{Kind: "setting", Name: name}
	}
	return v, nil
}

// MustGet is GetValue for names known to exist. It panics otherwise.
func (m *Manager) MustGet(name string) any {
	v, err := m.GetValue(name)
	if err != nil {
		panic(err)
	}
	return v
}

// Get returns a general setting as a T.
func Get[T any](m *Manager, name string) (T, error) {
	var zero T
	v, err := m.GetValue(name)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("setting %q is %s, not %T", name, kindName(v), zero)
	}
	return t, nil
}

// SetValue changes a general setting. The value must have the same kind as
// the setting's default.
func (m *Manager) SetValue(name string, v any) error {
	def, ok := m.defaults.GeneralSettings[name]
	if !ok {
		return &KeyError{Kind: "setting", Name: name}
	}
	norm, err := coerce(name, def, v)
	if err != nil {
		return err
	}

	m.mu.Lock()
	old := m.state.GeneralSettings[name]
	m.state.GeneralSettings[name] = norm
	m.mu.Unlock()

	m.changed([]Change{{Key: "general." + name, Old: old, New: norm}})
	return nil
}

// IsFeatureEnabled reports whether a feature flag is on.
func (m *Manager) IsFeatureEnabled(name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	on, ok := m.state.Features[name]
	if !ok {
		return false, &KeyError{Kind: "feature", Name: name}
	}
	return on, nil
}

// ToggleFeature sets a feature flag and returns its new value.
func (m *Manager) ToggleFeature(name string, enabled bool) (bool, error) {
	if !m.HasFeature(name) {
		return false, &KeyError{Kind: "feature", Name: name}
	}
	m.mu.Lock()
	old := m.state.Features[name]
	m.state.Features[name] = enabled
	m.mu.Unlock()

	m.changed([]Change{{Key: "features." + name, Old: old, New: enabled}})
	return enabled, nil
}

// ToggleDebug flips the debug flag and returns its new value.
func (m *Manager) ToggleDebug() bool {
	m.mu.Lock()
	old := m.state.Features[FeatureDebug]
	m.state.Features[FeatureDebug] = !old
	m.mu.Unlock()

	m.changed([]Change{{Key: "features." + FeatureDebug, Old: old, New: !old}})
	return !old
}

// UpdateSettings merges p into the current settings. Maps are merged key by
// key so unmentioned siblings keep their values; LoggingOptions.MinLevels is
// replaced as a whole. The update is all or nothing: an unknown key or a
// value of the wrong kind rejects it entirely.
func (m *Manager) UpdateSettings(p Partial) (State, error) {
	general := make(map[string]any, len(p.GeneralSettings))
	for name, v := range p.GeneralSettings {
		def, ok := m.defaults.GeneralSettings[name]
		if !ok {
			return State{}, &KeyError{Kind: "setting", Name: name}
		}
		norm, err := coerce(name, def, v)
		if err != nil {
			return State{}, err
		}
		general[name] = norm
	}
	for name := range p.Features {
		if !m.HasFeature(name) {
			return State{}, &KeyError{Kind: "feature", Name: name}
		}
	}
	if p.LoggingOptions != nil {
		for component, lvl := range p.LoggingOptions.MinLevels {
			if _, err := logging.ParseLevel(lvl); err != nil {
				return State{}, fmt.Errorf("logging component %q: %w", component, err)
			}
		}
	}

	var changes []Change
	m.mu.Lock()
	for _, name := range sortedKeys(p.Features) {
		if old := m.state.Features[name]; old != p.Features[name] {
			changes = append(changes, Change{Key: "features." + name, Old: old, New: p.Features[name]})
		}
		m.state.Features[name] = p.Features[name]
	}
	for _, name := range sortedKeys(general) {
		if old := m.state.GeneralSettings[name]; old != general[name] {
			changes = append(changes, Change{Key: "general." + name, Old: old, New: general[name]})
		}
		m.state.GeneralSettings[name] = general[name]
	}
	for _, name := range sortedKeys(p.HeadingOpened) {
		if old, ok := m.state.HeadingOpened[name]; !ok || old != p.HeadingOpened[name] {
			changes = append(changes, Change{Key: "headingOpened." + name, Old: old, New: p.HeadingOpened[name]})
		}
		m.state.HeadingOpened[name] = p.HeadingOpened[name]
	}
	if p.LoggingOptions != nil {
		next := cloneMap(p.LoggingOptions.MinLevels)
		if old := m.state.LoggingOptions.MinLevels; !reflect.DeepEqual(old, next) {
			changes = append(changes, Change{Key: "logging.minLevels", Old: old, New: cloneMap(next)})
		}
		m.state.LoggingOptions.MinLevels = next
	}
	out := m.state.Clone()
	m.mu.Unlock()

	m.changed(changes)
	return out, nil
}

// Subscribe returns changes whose key matches pattern (path.Match syntax),
// e.g. "features.*" or "general.renderFormat". The channel closes when ctx
// is done.
func (m *Manager) Subscribe(ctx context.Context, pattern string) <-chan Change {
	return m.broker.subscribe(ctx, pattern)
}

// ReRenderDelay returns the reRenderDelay setting as a duration.
func (m *Manager) ReRenderDelay() time.Duration {
	ms, err := Get[float64](m, KeyReRenderDelay)
	if err != nil || ms < 0 {
		return 0
	}
	return time.Duration(ms * float64(time.Millisecond))
}

// changed publishes changes, re-applies logging settings and schedules a
// save.
func (m *Manager) changed(changes []Change) {
	m.apply()
	for _, c := range changes {
		if _, dropped := m.broker.publish(c); dropped > 0 {
			m.logger.Warn("slow settings subscriber missed a change", "key", c.Key, "dropped", dropped)
		}
		m.logger.Debug("setting changed", "key", c.Key, "value", c.New)
	}
	m.scheduleSave()
}

func (m *Manager) apply() {
	m.mu.RLock()
	minLevels := cloneMap(m.state.LoggingOptions.MinLevels)
	debug := m.state.Features[FeatureDebug]
	retention, _ := m.state.GeneralSettings[KeyConsoleLogRetention].(float64)
	m.mu.RUnlock()

	if m.levels != nil {
		if err := m.levels.Set(minLevels, debug); err != nil {
			m.logger.Warn("invalid logging options", "error", err)
			m.levels.SetDebug(debug)
		}
	}
	if m.console != nil {
		m.console.SetRetention(int(retention))
	}
}

func (m *Manager) scheduleSave() {
	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

func (m *Manager) saveLoop() {
	defer close(m.done)
	for {
		select {
		case <-m.saveCh:
			m.save()
		case <-m.quit:
			select {
			case <-m.saveCh:
				m.save()
			default:
			}
			return
		}
	}
}

func (m *Manager) save() {
	st := m.State()
	if err := m.store.Save(context.Background(), st); err != nil {
		m.logger.Error("failed to save settings", "error", err)
	}
}

// Close writes any pending change and stops the background saver.
func (m *Manager) Close(ctx context.Context) error {
	m.closeOnce.Do(func() { close(m.quit) })
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
