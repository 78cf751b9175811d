//go:build !no_automation

package automation

// ScriptMeta holds the metadata carried in a script's header comment.
type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Script is a single automation script loaded from disk.
type Script struct {
	ID       string     `json:"id"` // filename stem (no .lua)
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"` // raw Lua source (without header)
	FilePath string     `json:"-"`        // absolute path on disk
}
