//go:build !no_automation

package automation

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// validScriptID checks that a script ID is safe to use as a filename component.
func validScriptID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	if strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return false
	}
	return true
}

// Manager loads automation scripts from a directory on disk. Scripts are
// plain .lua files managed by the user; there is no write path here.
type Manager struct {
	dir string
	mu  sync.RWMutex
}

// NewManager creates a new script manager rooted at dir.
// It ensures the directory exists.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scripts dir: %w", err)
	}
	return &Manager{dir: dir}, nil
}

// List returns all scripts found in the directory.
func (m *Manager) List() ([]*Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read scripts dir: %w", err)
	}

	var scripts []*Script
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lua") {
			continue
		}
		s, err := m.parseFile(filepath.Join(m.dir, e.Name()))
		if err != nil {
			continue // skip unreadable scripts
		}
		scripts = append(scripts, s)
	}
	return scripts, nil
}

// Get returns a single script by ID (filename stem).
func (m *Manager) Get(id string) (*Script, error) {
	if !validScriptID(id) {
		return nil, fmt.Errorf("invalid script id: %q", id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	path := filepath.Join(m.dir, id+".lua")
	return m.parseFile(path)
}

// parseFile reads a .lua script file and splits the optional metadata
// header from the code. A script without a header runs enabled under its
// filename; the header exists to name, describe, or disable it:
//
//	-- {"name":"Movie night","description":"...","enabled":true}
func (m *Manager) parseFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	s := &Script{
		ID:       strings.TrimSuffix(filepath.Base(path), ".lua"),
		FilePath: path,
	}
	s.Meta.Name = s.ID
	s.Meta.Enabled = true

	lines := strings.Split(string(data), "\n")

	rest := lines
	if len(lines) > 0 && strings.HasPrefix(lines[0], "-- {") {
		jsonStr := strings.TrimPrefix(lines[0], "-- ")
		if err := json.Unmarshal([]byte(jsonStr), &s.Meta); err != nil {
			slog.Warn("script metadata parse error", "file", path, "err", err)
		}
		rest = lines[1:]
	}

	// Trim leading empty lines from Lua code
	for len(rest) > 0 && strings.TrimSpace(rest[0]) == "" {
		rest = rest[1:]
	}
	s.LuaCode = strings.Join(rest, "\n")

	return s, nil
}
