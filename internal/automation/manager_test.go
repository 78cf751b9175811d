//go:build !no_automation

package automation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "scripts")
	m, err := NewManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestManagerListEmpty(t *testing.T) {
	m := newTestManager(t)
	scripts, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(scripts) != 0 {
		t.Errorf("list count = %d, want 0", len(scripts))
	}
}

func TestManagerList(t *testing.T) {
	m := newTestManager(t)

	for _, id := range []string{"alpha", "beta", "gamma"} {
		writeScript(t, m.dir, id, `tv.log("`+id+`")`)
	}
	// Neither of these should show up in the listing.
	if err := os.WriteFile(filepath.Join(m.dir, "notes.txt"), []byte("not a script"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(m.dir, "archive.lua"), 0o755); err != nil {
		t.Fatal(err)
	}

	scripts, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(scripts) != 3 {
		t.Fatalf("list count = %d, want 3", len(scripts))
	}
}

func TestManagerGetNotFound(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Get("nonexistent")
	if err == nil {
		t.Error("expected error, got nil")
	}
}

func TestManagerGetInvalidID(t *testing.T) {
	m := newTestManager(t)

	for _, id := range []string{"", ".", "..", "../etc/passwd", "a/b", `a\b`} {
		if _, err := m.Get(id); err == nil {
			t.Errorf("Get(%q) succeeded, want error", id)
		}
	}
}

func TestParseScriptFile(t *testing.T) {
	dir := t.TempDir()
	content := `-- {"name":"Movie night","description":"Dim the volume after 22:00","enabled":true}

tv.on("tv_state", {device="living_room"}, function(event)
    tv.set_volume("living_room", 10)
end)
`
	path := filepath.Join(dir, "movie_night.lua")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m := &Manager{dir: dir}
	s, err := m.parseFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if s.ID != "movie_night" {
		t.Errorf("id = %q, want movie_night", s.ID)
	}
	if s.Meta.Name != "Movie night" {
		t.Errorf("name = %q, want Movie night", s.Meta.Name)
	}
	if s.Meta.Description != "Dim the volume after 22:00" {
		t.Errorf("description = %q", s.Meta.Description)
	}
	if !s.Meta.Enabled {
		t.Error("enabled = false, want true")
	}
	if strings.Contains(s.LuaCode, "-- {") {
		t.Errorf("lua_code still contains header: %q", s.LuaCode)
	}
	if !strings.HasPrefix(s.LuaCode, `tv.on("tv_state"`) {
		t.Errorf("lua_code = %q, want to start at the handler", s.LuaCode)
	}
}

func TestParseScriptFileNoHeader(t *testing.T) {
	dir := t.TempDir()
	content := `tv.send_key("living_room", "KEY_POWER")`
	path := filepath.Join(dir, "plain.lua")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m := &Manager{dir: dir}
	s, err := m.parseFile(path)
	if err != nil {
		t.Fatal(err)
	}

	// A headerless script runs enabled under its filename.
	if s.Meta.Name != "plain" {
		t.Errorf("name = %q, want plain", s.Meta.Name)
	}
	if !s.Meta.Enabled {
		t.Error("enabled = false, want true")
	}
	if s.LuaCode != content {
		t.Errorf("lua_code = %q, want %q", s.LuaCode, content)
	}
}

func TestParseScriptFileDisabled(t *testing.T) {
	dir := t.TempDir()
	content := `-- {"name":"Parked","enabled":false}
tv.log("never")
`
	path := filepath.Join(dir, "parked.lua")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m := &Manager{dir: dir}
	s, err := m.parseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.Meta.Enabled {
		t.Error("enabled = true, want false")
	}
}

func TestParseScriptFilePartialHeader(t *testing.T) {
	dir := t.TempDir()
	content := `-- {"description":"only a description"}
tv.log("hi")
`
	path := filepath.Join(dir, "partial.lua")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m := &Manager{dir: dir}
	s, err := m.parseFile(path)
	if err != nil {
		t.Fatal(err)
	}

	// Fields absent from the header keep their defaults.
	if s.Meta.Name != "partial" {
		t.Errorf("name = %q, want partial", s.Meta.Name)
	}
	if !s.Meta.Enabled {
		t.Error("enabled = false, want true")
	}
	if s.Meta.Description != "only a description" {
		t.Errorf("description = %q", s.Meta.Description)
	}
}

func TestParseScriptFileBadHeader(t *testing.T) {
	dir := t.TempDir()
	content := `-- {broken json
tv.log("still loads")
`
	path := filepath.Join(dir, "broken.lua")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m := &Manager{dir: dir}
	s, err := m.parseFile(path)
	if err != nil {
		t.Fatal(err)
	}

	// The malformed header is dropped and the defaults stand.
	if s.Meta.Name != "broken" {
		t.Errorf("name = %q, want broken", s.Meta.Name)
	}
	if !s.Meta.Enabled {
		t.Error("enabled = false, want true")
	}
	if !strings.Contains(s.LuaCode, `tv.log("still loads")`) {
		t.Errorf("lua_code = %q", s.LuaCode)
	}
}
