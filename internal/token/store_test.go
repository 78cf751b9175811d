package token

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	fs, err := NewFileStore(filepath.Join(dir, "tokens.json"))
	if err != nil {
		t.Fatal(err)
	}
	bs, err := NewBoltStore(filepath.Join(dir, "tokens.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { bs.Close() })

	return map[string]Store{"file": fs, "bolt": bs}
}

func sampleRecord(now time.Time) *Record {
	rec := &Record{
		DeviceID:        "56:b8:88:4e:f7:19",
		AccessToken:     "access-abc",
		RefreshToken:    "refresh-def",
		ClientID:        "56:b8:88:4e:f7:19$his$256DBF_vidaacommon_001",
		MQTTUsername:    "his$6239759786168176024",
		UUID:            "56:b8:88:4e:f7:19",
		Host:            "192.168.1.50",
		Port:            36669,
		AuthMethod:      "modern",
		ProtocolVersion: 3290,
		Model:           "HU50A6800",
		Name:            "Living Room TV",
	}
	rec.Stamp(now, DefaultAccessTTL, DefaultRefreshTTL)
	return rec
}

func TestSaveAndGet(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			rec := sampleRecord(time.Now())
			if err := s.Save(rec); err != nil {
				t.Fatal(err)
			}

			got, err := s.Get(rec.DeviceID, "", 0)
			if err != nil {
				t.Fatal(err)
			}
			if got.AccessToken != rec.AccessToken {
				t.Errorf("access token = %q, want %q", got.AccessToken, rec.AccessToken)
			}
			if got.RefreshToken != rec.RefreshToken {
				t.Errorf("refresh token = %q, want %q", got.RefreshToken, rec.RefreshToken)
			}
			if got.ClientID != rec.ClientID {
				t.Errorf("client id = %q, want %q", got.ClientID, rec.ClientID)
			}
			if got.AuthMethod != "modern" {
				t.Errorf("auth method = %q, want %q", got.AuthMethod, "modern")
			}
			if got.AccessExpiresAt != rec.AccessExpiresAt {
				t.Errorf("access expiry = %d, want %d", got.AccessExpiresAt, rec.AccessExpiresAt)
			}
		})
	}
}

func TestGetNotFound(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get("aa:bb:cc:dd:ee:ff", "192.168.1.99", 36669)
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get() error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestGetLegacyKeyFallback(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			// Older releases keyed records by "host:port" or bare host.
			legacy := sampleRecord(time.Now())
			legacy.DeviceID = "192.168.1.50:36669"
			if err := s.Save(legacy); err != nil {
				t.Fatal(err)
			}

			got, err := s.Get("", "192.168.1.50", 36669)
			if err != nil {
				t.Fatalf("host:port fallback: %v", err)
			}
			if got.AccessToken != legacy.AccessToken {
				t.Errorf("access token = %q, want %q", got.AccessToken, legacy.AccessToken)
			}

			bare := sampleRecord(time.Now())
			bare.DeviceID = "192.168.1.60"
			bare.Host = "192.168.1.60"
			if err := s.Save(bare); err != nil {
				t.Fatal(err)
			}
			if _, err := s.Get("", "192.168.1.60", 36669); err != nil {
				t.Fatalf("bare host fallback: %v", err)
			}
		})
	}
}

func TestSaveRemovesLegacyEntry(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			legacy := sampleRecord(time.Now())
			legacy.DeviceID = "192.168.1.50:36669"
			if err := s.Save(legacy); err != nil {
				t.Fatal(err)
			}

			// Re-pairing the same TV under its real device ID must leave
			// exactly one record behind.
			rec := sampleRecord(time.Now())
			if err := s.Save(rec); err != nil {
				t.Fatal(err)
			}

			list, err := s.List()
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 1 {
				t.Fatalf("list count = %d, want 1", len(list))
			}
			if list[0].DeviceID != rec.DeviceID {
				t.Errorf("device id = %q, want %q", list[0].DeviceID, rec.DeviceID)
			}
		})
	}
}

func TestMigrateKey(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			legacy := sampleRecord(time.Now())
			legacy.DeviceID = "192.168.1.50:36669"
			if err := s.Save(legacy); err != nil {
				t.Fatal(err)
			}

			if err := s.MigrateKey("192.168.1.50:36669", "56:b8:88:4e:f7:19"); err != nil {
				t.Fatal(err)
			}

			got, err := s.Get("56:b8:88:4e:f7:19", "", 0)
			if err != nil {
				t.Fatal(err)
			}
			if got.DeviceID != "56:b8:88:4e:f7:19" {
				t.Errorf("device id = %q, want migrated id", got.DeviceID)
			}

			list, _ := s.List()
			if len(list) != 1 {
				t.Fatalf("list count = %d, want 1 after migration", len(list))
			}

			// Migrating a missing key is a no-op.
			if err := s.MigrateKey("10.0.0.1:36669", "aa:bb:cc:dd:ee:ff"); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestDelete(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			rec := sampleRecord(time.Now())
			if err := s.Save(rec); err != nil {
				t.Fatal(err)
			}

			if err := s.Delete("", rec.Host, rec.Port); err != nil {
				t.Fatal(err)
			}
			// Deleting by host misses: the record is keyed by device ID.
			if _, err := s.Get(rec.DeviceID, "", 0); err != nil {
				t.Fatal("delete by host removed a device-keyed record")
			}

			if err := s.Delete(rec.DeviceID, "", 0); err != nil {
				t.Fatal(err)
			}
			if _, err := s.Get(rec.DeviceID, "", 0); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get() after delete error = %v, want ErrNotFound", err)
			}

			// Deleting a missing record is a no-op.
			if err := s.Delete(rec.DeviceID, "", 0); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestClear(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, id := range []string{"aa:aa:aa:aa:aa:01", "aa:aa:aa:aa:aa:02"} {
				rec := sampleRecord(time.Now())
				rec.DeviceID = id
				if err := s.Save(rec); err != nil {
					t.Fatal(err)
				}
			}

			if err := s.Clear(); err != nil {
				t.Fatal(err)
			}
			list, err := s.List()
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 0 {
				t.Fatalf("list count = %d, want 0 after clear", len(list))
			}
		})
	}
}

func TestStatusFlags(t *testing.T) {
	now := time.Unix(1766974704, 0)
	hour := int64(3600)

	tests := []struct {
		name string
		rec  *Record
		want Status
	}{
		{
			name: "no token",
			rec:  nil,
			want: Status{NeedsReauth: true},
		},
		{
			name: "both valid",
			rec: &Record{
				AccessExpiresAt:  now.Unix() + hour,
				RefreshExpiresAt: now.Unix() + 24*hour,
			},
			want: Status{
				HasToken: true, AccessValid: true, RefreshValid: true,
				AccessExpiresIn: hour, RefreshExpiresIn: 24 * hour,
			},
		},
		{
			name: "access expired refresh valid",
			rec: &Record{
				AccessExpiresAt:  now.Unix() - 1,
				RefreshExpiresAt: now.Unix() + hour,
			},
			want: Status{
				HasToken: true, RefreshValid: true,
				RefreshExpiresIn: hour, NeedsRefresh: true,
			},
		},
		{
			name: "both expired",
			rec: &Record{
				AccessExpiresAt:  now.Unix() - 2*hour,
				RefreshExpiresAt: now.Unix() - hour,
			},
			want: Status{HasToken: true, NeedsReauth: true},
		},
		{
			name: "access inside safety buffer",
			rec: &Record{
				AccessExpiresAt:  now.Unix() + 299,
				RefreshExpiresAt: now.Unix() + hour,
			},
			want: Status{
				HasToken: true, RefreshValid: true,
				AccessExpiresIn: 299, RefreshExpiresIn: hour, NeedsRefresh: true,
			},
		},
		{
			name: "access just outside safety buffer",
			rec: &Record{
				AccessExpiresAt:  now.Unix() + 301,
				RefreshExpiresAt: now.Unix() + hour,
			},
			want: Status{
				HasToken: true, AccessValid: true, RefreshValid: true,
				AccessExpiresIn: 301, RefreshExpiresIn: hour,
			},
		},
		{
			name: "no refresh token stored",
			rec: &Record{
				AccessExpiresAt: now.Unix() + hour,
			},
			want: Status{
				HasToken: true, AccessValid: true, AccessExpiresIn: hour,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := statusOf(tt.rec, now)
			if got != tt.want {
				t.Errorf("statusOf() = %+v, want %+v", got, tt.want)
			}
			if got.NeedsRefresh && got.NeedsReauth {
				t.Error("NeedsRefresh and NeedsReauth both set")
			}
			if got.AccessValid && (got.NeedsRefresh || got.NeedsReauth) {
				t.Error("valid access token flagged for refresh or reauth")
			}
		})
	}
}

func TestStamp(t *testing.T) {
	now := time.Unix(1766974704, 0)

	rec := &Record{AccessToken: "a", RefreshToken: "r"}
	rec.Stamp(now, DefaultAccessTTL, DefaultRefreshTTL)
	if rec.AccessExpiresAt != now.Add(DefaultAccessTTL).Unix() {
		t.Errorf("access expiry = %d, want %d", rec.AccessExpiresAt, now.Add(DefaultAccessTTL).Unix())
	}
	if rec.RefreshExpiresAt != now.Add(DefaultRefreshTTL).Unix() {
		t.Errorf("refresh expiry = %d, want %d", rec.RefreshExpiresAt, now.Add(DefaultRefreshTTL).Unix())
	}

	noRefresh := &Record{AccessToken: "a"}
	noRefresh.Stamp(now, DefaultAccessTTL, DefaultRefreshTTL)
	if noRefresh.RefreshExpiresAt != 0 || noRefresh.RefreshIssuedAt != 0 {
		t.Errorf("refresh times = (%d, %d), want zero without refresh token",
			noRefresh.RefreshIssuedAt, noRefresh.RefreshExpiresAt)
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}

	// Corrupt storage reads as empty, never as an error.
	if _, err := s.Get("56:b8:88:4e:f7:19", "", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() on corrupt file error = %v, want ErrNotFound", err)
	}

	rec := sampleRecord(time.Now())
	if err := s.Save(rec); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(rec.DeviceID, "", 0); err != nil {
		t.Fatalf("Get() after recovery save: %v", err)
	}
}

func TestFileStorePersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")

	first, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	rec := sampleRecord(time.Now())
	if err := first.Save(rec); err != nil {
		t.Fatal(err)
	}

	second, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	got, err := second.Get(rec.DeviceID, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if got.AccessToken != rec.AccessToken {
		t.Errorf("access token = %q, want %q", got.AccessToken, rec.AccessToken)
	}
}
