package credentials

import "testing"

// Reference tuple captured from a real pairing session (logcat).
const (
	refDeviceID  = "56:b8:88:4e:f7:19"
	refTimestamp = 1766974704
	refClientID  = "56:b8:88:4e:f7:19$his$256DBF_vidaacommon_001"
	refUsername  = "his$6239759786168176024"
	refPassword  = "C3BA44782E18ABF4892AC44D79A622D2"
)

func TestGenerateReferenceVector(t *testing.T) {
	creds := Generate(refDeviceID, DefaultBrand, Modern, refTimestamp)

	if creds.ClientID != refClientID {
		t.Errorf("client_id = %q, want %q", creds.ClientID, refClientID)
	}
	if creds.Username != refUsername {
		t.Errorf("username = %q, want %q", creds.Username, refUsername)
	}
	if creds.Password != refPassword {
		t.Errorf("password = %q, want %q", creds.Password, refPassword)
	}
}

func TestGenerateDeterministic(t *testing.T) {
	a := Generate(refDeviceID, DefaultBrand, Modern, refTimestamp)
	b := Generate(refDeviceID, DefaultBrand, Modern, refTimestamp)
	if a != b {
		t.Errorf("repeated generate differs: %+v vs %+v", a, b)
	}
}

func TestGenerateFlatMAC(t *testing.T) {
	// A flat 12-hex identifier must normalize to the colon form before the
	// race hash, producing identical credentials.
	flat := Generate("56b8884ef719", DefaultBrand, Modern, refTimestamp)
	colon := Generate(refDeviceID, DefaultBrand, Modern, refTimestamp)
	if flat != colon {
		t.Errorf("flat MAC credentials = %+v, want %+v", flat, colon)
	}
}

func TestGenerateLegacyUsername(t *testing.T) {
	creds := Generate(refDeviceID, DefaultBrand, Legacy, refTimestamp)
	if creds.Username != "his$1766974704" {
		t.Errorf("legacy username = %q, want %q", creds.Username, "his$1766974704")
	}
}

func TestGenerateMiddleMatchesModernUsername(t *testing.T) {
	middle := Generate(refDeviceID, DefaultBrand, Middle, refTimestamp)
	modern := Generate(refDeviceID, DefaultBrand, Modern, refTimestamp)

	// Middle shares the XOR'd username with Modern but uses the old value
	// suffix, so the password must differ.
	if middle.Username != modern.Username {
		t.Errorf("middle username = %q, want %q", middle.Username, modern.Username)
	}
	if middle.Password == modern.Password {
		t.Error("middle and modern passwords should differ")
	}
	if middle.ClientID != modern.ClientID {
		t.Errorf("client_id should not depend on generation: %q vs %q", middle.ClientID, modern.ClientID)
	}
}

func TestGenerateStatic(t *testing.T) {
	creds := GenerateStatic(refDeviceID)
	if creds.ClientID != "56B8884EF719$vidaa_common" {
		t.Errorf("client_id = %q, want %q", creds.ClientID, "56B8884EF719$vidaa_common")
	}
	if creds.Username != StaticUsername {
		t.Errorf("username = %q, want %q", creds.Username, StaticUsername)
	}
	if creds.Password != StaticPassword {
		t.Errorf("password = %q, want %q", creds.Password, StaticPassword)
	}
}

func TestNormalizeMAC(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"56b8884ef719", "56:b8:88:4e:f7:19"},
		{"56B8884EF719", "56:B8:88:4E:F7:19"},
		{"56:b8:88:4e:f7:19", "56:b8:88:4e:f7:19"},
		{"56-b8-88-4e-f7-19", "56-b8-88-4e-f7-19"}, // separators present, untouched
		{"short", "short"},
	}
	for _, tt := range tests {
		if got := NormalizeMAC(tt.in); got != tt.want {
			t.Errorf("NormalizeMAC(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFlattenMAC(t *testing.T) {
	if got := FlattenMAC("56:b8:88:4e:f7:19"); got != "56b8884ef719" {
		t.Errorf("FlattenMAC = %q, want %q", got, "56b8884ef719")
	}
	if got := FlattenMAC("56-b8-88-4e-f7-19"); got != "56b8884ef719" {
		t.Errorf("FlattenMAC = %q, want %q", got, "56b8884ef719")
	}
}

func TestFallbackOrder(t *testing.T) {
	want := []Generation{Modern, Middle, Legacy}
	got := FallbackOrder()
	if len(got) != len(want) {
		t.Fatalf("fallback order length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("fallback[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestParseGeneration(t *testing.T) {
	tests := []struct {
		in   string
		want Generation
	}{
		{"legacy", Legacy},
		{"middle", Middle},
		{"modern", Modern},
		{"MODERN", Modern},
		{"", Modern},
		{"bogus", Modern},
	}
	for _, tt := range tests {
		if got := ParseGeneration(tt.in); got != tt.want {
			t.Errorf("ParseGeneration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestGenerationString(t *testing.T) {
	for _, g := range FallbackOrder() {
		if ParseGeneration(g.String()) != g {
			t.Errorf("round trip failed for %v (%q)", g, g.String())
		}
	}
}
