//go:build no_automation

package automation

import (
	"log/slog"

	"vidaa-home/internal/bridge"
)

// ScriptMeta holds the metadata carried in a script's header comment.
type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Script is a single automation script loaded from disk.
type Script struct {
	ID       string     `json:"id"`
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"`
	FilePath string     `json:"-"`
}

// Controller is the bridge surface scripts drive.
type Controller interface {
	Command(name string, payload []byte) error
	Wake(name string) error
	Devices() []bridge.DeviceInfo
	State(name string) map[string]any
	Events() *bridge.EventBus
}

// Manager is a no-op stub when automation is disabled.
type Manager struct{}

// NewManager returns a nil manager when automation is disabled.
func NewManager(_ string) (*Manager, error) { return nil, nil }

// List returns nil.
func (m *Manager) List() ([]*Script, error) { return nil, nil }

// Get returns nil.
func (m *Manager) Get(_ string) (*Script, error) { return nil, nil }

// Engine is a no-op stub when automation is disabled.
type Engine struct{}

// NewEngine returns a no-op engine when automation is disabled.
func NewEngine(_ Controller, _ *Manager, _ *slog.Logger) *Engine {
	return &Engine{}
}

// Start is a no-op.
func (e *Engine) Start() {}

// Stop is a no-op.
func (e *Engine) Stop() {}

// Reload is a no-op.
func (e *Engine) Reload() {}
