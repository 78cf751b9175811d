// Package token persists per-TV authentication tokens with expiry
// bookkeeping. Records are keyed by device ID; entries written by older
// releases under "host:port" or bare-host keys are still readable and
// are migrated to the device ID on the next save.
package token

import (
	"errors"
	"fmt"
	"time"
)

// Token lifetimes are not announced by the firmware; these defaults
// match the rotation periods observed on current VIDAA builds.
const (
	DefaultAccessTTL  = 7 * 24 * time.Hour
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

// ExpiryBuffer treats a token as expired this long before its nominal
// expiry, so a refresh never races the firmware clock.
const ExpiryBuffer = 300 * time.Second

// ErrNotFound is returned when no token is stored for a device.
var ErrNotFound = errors.New("token not found")

// Record is one device's stored authentication material. JSON field
// names match the tokens.json layout of earlier releases so existing
// files load unchanged.
type Record struct {
	DeviceID         string `json:"device_id"`
	AccessToken      string `json:"access_token,omitempty"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	AccessIssuedAt   int64  `json:"access_token_time,omitempty"`
	AccessExpiresAt  int64  `json:"access_token_expires_at,omitempty"`
	RefreshIssuedAt  int64  `json:"refresh_token_time,omitempty"`
	RefreshExpiresAt int64  `json:"refresh_token_expires_at,omitempty"`

	ClientID     string `json:"client_id,omitempty"`
	MQTTUsername string `json:"mqtt_username,omitempty"`
	UUID         string `json:"uuid,omitempty"`
	Host         string `json:"host,omitempty"`
	Port         int    `json:"port,omitempty"`

	AuthMethod      string `json:"auth_method,omitempty"`
	ProtocolVersion int    `json:"protocol_version,omitempty"`
	Model           string `json:"model,omitempty"`
	SWVersion       string `json:"sw_version,omitempty"`
	Name            string `json:"name,omitempty"`
}

// Stamp sets issue and expiry times for the record's current token
// pair. A record without a refresh token gets no refresh expiry.
func (r *Record) Stamp(now time.Time, accessTTL, refreshTTL time.Duration) {
	r.AccessIssuedAt = now.Unix()
	r.AccessExpiresAt = now.Add(accessTTL).Unix()
	if r.RefreshToken != "" {
		r.RefreshIssuedAt = now.Unix()
		r.RefreshExpiresAt = now.Add(refreshTTL).Unix()
	} else {
		r.RefreshIssuedAt = 0
		r.RefreshExpiresAt = 0
	}
}

// Status is the expiry bookkeeping for one device. Exactly one of
// "valid", NeedsRefresh, NeedsReauth holds at any instant.
type Status struct {
	HasToken         bool  `json:"has_token"`
	AccessValid      bool  `json:"access_valid"`
	RefreshValid     bool  `json:"refresh_valid"`
	AccessExpiresIn  int64 `json:"access_expires_in"`
	RefreshExpiresIn int64 `json:"refresh_expires_in"`
	NeedsRefresh     bool  `json:"needs_refresh"`
	NeedsReauth      bool  `json:"needs_reauth"`
}

// Store defines the token persistence interface.
type Store interface {
	// Get looks up a record by device ID, falling back to the legacy
	// "host:port" and bare-host keys when the device ID is absent.
	// Returns ErrNotFound when no key matches.
	Get(deviceID, host string, port int) (*Record, error)

	// Save writes rec under its device ID. Any legacy host:port entry
	// for the same device is removed in the same write, so a device
	// never holds more than one record.
	Save(rec *Record) error

	// Status reports validity and expiry bookkeeping. A missing record
	// reports NeedsReauth.
	Status(deviceID, host string, port int) Status

	// Delete removes the record found by the same lookup as Get.
	Delete(deviceID, host string, port int) error

	// MigrateKey renames a legacy entry to its device ID.
	MigrateKey(oldKey, deviceID string) error

	// List returns all stored records.
	List() ([]*Record, error)

	// Clear removes every record.
	Clear() error

	Close() error
}

// lookupKeys is the key fallback order shared by both store backends.
func lookupKeys(deviceID, host string, port int) []string {
	var keys []string
	if deviceID != "" {
		keys = append(keys, deviceID)
	}
	if host != "" {
		keys = append(keys, fmt.Sprintf("%s:%d", host, port), host)
	}
	return keys
}

func lookupName(deviceID, host string, port int) string {
	if deviceID != "" {
		return deviceID
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// expired reports whether a unix expiry has passed, applying the safety
// buffer. A zero expiry counts as expired.
func expired(expiresAt int64, now time.Time) bool {
	if expiresAt == 0 {
		return true
	}
	return now.After(time.Unix(expiresAt, 0).Add(-ExpiryBuffer))
}

// statusOf derives the Status flags from a record at a given instant.
// rec may be nil (no stored token).
func statusOf(rec *Record, now time.Time) Status {
	if rec == nil {
		return Status{NeedsReauth: true}
	}

	accessValid := !expired(rec.AccessExpiresAt, now)
	refreshValid := !expired(rec.RefreshExpiresAt, now)

	return Status{
		HasToken:         true,
		AccessValid:      accessValid,
		RefreshValid:     refreshValid,
		AccessExpiresIn:  max(0, rec.AccessExpiresAt-now.Unix()),
		RefreshExpiresIn: max(0, rec.RefreshExpiresAt-now.Unix()),
		NeedsRefresh:     !accessValid && refreshValid,
		NeedsReauth:      !accessValid && !refreshValid,
	}
}
