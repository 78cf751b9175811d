package vidaa

import (
	"encoding/json"
	"strings"
)

// App is one launchable TV application. Records from the device app
// list carry whatever identifier the installed catalog uses.
type App struct {
	ID   string `json:"appId"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// UnmarshalJSON accepts appId as either a JSON string or a bare number;
// both appear in the wild depending on firmware build.
func (a *App) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID   json.RawMessage `json:"appId"`
		Name string          `json:"name"`
		URL  string          `json:"url"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	a.Name = raw.Name
	a.URL = raw.URL
	id := strings.Trim(string(raw.ID), `"`)
	if id == "null" {
		id = ""
	}
	a.ID = id
	return nil
}

// builtinApps are well-known catalog entries, usable without querying
// the device. Identifiers vary by model and region; the live app list
// wins for anything not covered here.
var builtinApps = map[string]App{
	"netflix": {ID: "1", Name: "Netflix", URL: "netflix"},
	"youtube": {ID: "3", Name: "YouTube", URL: "youtube"},
	"amazon":  {ID: "2", Name: "Prime Video", URL: "amazon"},
	"prime":   {ID: "2", Name: "Prime Video", URL: "amazon"},
	"disney":  {ID: "295", Name: "Disney+", URL: "https://cd-dmgz.bamgrid.com/bbd/hisense_tv/index.html"},
	"disney+": {ID: "295", Name: "Disney+", URL: "https://cd-dmgz.bamgrid.com/bbd/hisense_tv/index.html"},
	"tubi":    {ID: "216", Name: "tubi", URL: "https://ott-hisense.tubitv.com"},
}

// BuiltinApp looks up a well-known app by friendly name.
func BuiltinApp(name string) (App, bool) {
	app, ok := builtinApps[normalizeName(name)]
	return app, ok
}

// BuiltinAppNames returns the friendly names of the built-in catalog.
func BuiltinAppNames() []string {
	names := make([]string, 0, len(builtinApps))
	for name := range builtinApps {
		names = append(names, name)
	}
	return names
}

// findApp matches an app by name, case-insensitively, in a device list.
func findApp(apps []App, name string) (App, bool) {
	for _, app := range apps {
		if strings.EqualFold(app.Name, name) {
			return app, true
		}
	}
	return App{}, false
}
