package vidaa

import (
	"encoding/json"
	"testing"
)

// Firmware revisions disagree on whether appId is a string or a number.
func TestAppUnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want App
	}{
		{
			"string id",
			`{"appId": "1", "name": "Netflix", "url": "netflix"}`,
			App{ID: "1", Name: "Netflix", URL: "netflix"},
		},
		{
			"numeric id",
			`{"appId": 216, "name": "tubi", "url": "https://ott-hisense.tubitv.com"}`,
			App{ID: "216", Name: "tubi", URL: "https://ott-hisense.tubitv.com"},
		},
		{
			"missing id",
			`{"name": "Browser"}`,
			App{Name: "Browser"},
		},
		{
			"null id",
			`{"appId": null, "name": "Browser"}`,
			App{Name: "Browser"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got App
			if err := json.Unmarshal([]byte(tt.raw), &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got != tt.want {
				t.Errorf("app = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestBuiltinApp(t *testing.T) {
	app, ok := BuiltinApp("Netflix")
	if !ok {
		t.Fatal("netflix missing from catalog")
	}
	if app.ID != "1" {
		t.Errorf("netflix id = %q, want 1", app.ID)
	}

	if _, ok := BuiltinApp("PRIME"); !ok {
		t.Error("prime lookup should be case-insensitive")
	}
	if _, ok := BuiltinApp("no-such-app"); ok {
		t.Error("unknown app resolved")
	}
}

func TestFindApp(t *testing.T) {
	apps := []App{
		{ID: "7", Name: "ARD Mediathek"},
		{ID: "9", Name: "Browser"},
	}
	if app, ok := findApp(apps, "browser"); !ok || app.ID != "9" {
		t.Errorf("findApp(browser) = %+v, %v", app, ok)
	}
	if _, ok := findApp(apps, "zdf"); ok {
		t.Error("missing app resolved")
	}
}
