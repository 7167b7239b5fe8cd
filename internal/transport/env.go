package transport

import (
	"log/slog"
	"sync"
)

// EnvEvent is a change in the host environment's visibility or network state.
type EnvEvent int

const (
	EnvVisible EnvEvent = iota
	EnvHidden
	EnvOnline
	EnvOffline
)

func (e EnvEvent) String() string {
	switch e {
	case EnvVisible:
		return "visible"
	case EnvHidden:
		return "hidden"
	case EnvOnline:
		return "online"
	case EnvOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Environment reports whether the host is foregrounded and online, and
// notifies watchers when either changes.
type Environment interface {
	Visible() bool
	Online() bool
	Watch(fn func(EnvEvent)) (unwatch func())
}

// StaticEnvironment is always visible and online.
type StaticEnvironment struct{}

func (StaticEnvironment) Visible() bool { return true }

func (StaticEnvironment) Online() bool { return true }

func (StaticEnvironment) Watch(func(EnvEvent)) (unwatch func()) { return func() {} }

// ManualEnvironment is toggled programmatically, e.g. from the operator API.
type ManualEnvironment struct {
	mu       sync.Mutex
	visible  bool
	online   bool
	watchers listenerSet[EnvEvent]
	logger   *slog.Logger
}

// NewManualEnvironment returns a visible, online environment.
func NewManualEnvironment(logger *slog.Logger) *ManualEnvironment {
	if logger == nil {
		logger = slog.Default()
	}
	return &ManualEnvironment{visible: true, online: true, logger: logger}
}

func (m *ManualEnvironment) Visible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visible
}

func (m *ManualEnvironment) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *ManualEnvironment) Watch(fn func(EnvEvent)) (unwatch func()) {
	return m.watchers.add(fn)
}

// SetVisible toggles visibility and notifies watchers on change.
func (m *ManualEnvironment) SetVisible(v bool) {
	m.mu.Lock()
	changed := m.visible != v
	m.visible = v
	m.mu.Unlock()
	if !changed {
		return
	}
	if v {
		m.watchers.emit(m.logger, "env", EnvVisible)
	} else {
		m.watchers.emit(m.logger, "env", EnvHidden)
	}
}

// SetOnline toggles connectivity and notifies watchers on change.
func (m *ManualEnvironment) SetOnline(v bool) {
	m.mu.Lock()
	changed := m.online != v
	m.online = v
	m.mu.Unlock()
	if !changed {
		return
	}
	if v {
		m.watchers.emit(m.logger, "env", EnvOnline)
	} else {
		m.watchers.emit(m.logger, "env", EnvOffline)
	}
}
