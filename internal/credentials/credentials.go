// Package credentials derives MQTT connection identities for VIDAA TVs.
//
// The derivation was reverse engineered from the vendor mobile app. Three
// incompatible algorithm revisions exist across TV firmware; Generation
// selects between them. All digests are uppercased before use because the
// TV firmware compares credentials case-sensitively.
package credentials

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"
)

// Derivation constants captured from the vendor app.
const (
	pattern         = "38D65DC30F45109A369A86FCE866A85B"
	valueSuffixNew  = "h!i@s#$v%i^d&a*a" // Modern firmware
	valueSuffixOld  = "h*i&s%e!r^v0i1c9" // Legacy and Middle firmware
	timeXORConstant = 0x5698_1477_2b03_a968

	operationCommon = "vidaacommon"
)

// Static fallback identity accepted by the oldest firmware revisions.
const (
	StaticUsername = "hisenseservice"
	StaticPassword = "multimqttservice"
)

// DefaultBrand is the brand seed the vendor app uses for Hisense sets.
const DefaultBrand = "his"

// Generation selects one of the three credential derivation algorithms.
type Generation int

const (
	Legacy Generation = iota
	Middle
	Modern
)

// String returns the persisted name of the generation.
func (g Generation) String() string {
	switch g {
	case Legacy:
		return "legacy"
	case Middle:
		return "middle"
	case Modern:
		return "modern"
	default:
		return "unknown"
	}
}

// ParseGeneration maps a persisted generation name back to its value.
// Unrecognized names map to Modern, the optimistic default.
func ParseGeneration(s string) Generation {
	switch strings.ToLower(s) {
	case "legacy":
		return Legacy
	case "middle":
		return Middle
	default:
		return Modern
	}
}

// FallbackOrder returns the generations in the order connection attempts
// should try them: newest first.
func FallbackOrder() []Generation {
	return []Generation{Modern, Middle, Legacy}
}

// Credentials is one MQTT identity for a TV broker connection.
type Credentials struct {
	ClientID string
	Username string
	Password string
}

// Generate derives the MQTT credentials for a device identifier, brand and
// generation at the given Unix timestamp in seconds. The function is pure:
// identical inputs always produce identical output.
//
// The device identifier keeps its original case. A flat 12-hex identifier
// is normalized to colon-delimited form first, and the case-sensitive race
// hash is computed over the normalized form.
func Generate(deviceID, brand string, gen Generation, timestamp int64) Credentials {
	uuid := NormalizeMAC(deviceID)

	race := upperMD5(pattern + "$" + uuid)[:6]
	clientID := uuid + "$" + brand + "$" + race + "_" + operationCommon + "_001"

	// Legacy firmware expects the raw timestamp; Middle and Modern XOR it.
	var username string
	if gen == Legacy {
		username = brand + "$" + strconv.FormatInt(timestamp, 10)
	} else {
		username = brand + "$" + strconv.FormatUint(uint64(timestamp)^timeXORConstant, 10)
	}

	suffix := valueSuffixOld
	if gen == Modern {
		suffix = valueSuffixNew
	}
	value := brand + strconv.Itoa(digitSum(timestamp)%10) + suffix
	valueHash := upperMD5(value)[:6]

	password := upperMD5(strconv.FormatInt(timestamp, 10) + "$" + valueHash)

	return Credentials{ClientID: clientID, Username: username, Password: password}
}

// GenerateStatic returns the fixed credential set some older models accept
// without the dynamic derivation. Used as a last resort after every
// generation has failed.
func GenerateStatic(deviceID string) Credentials {
	flat := strings.ToUpper(FlattenMAC(deviceID))
	return Credentials{
		ClientID: flat + "$vidaa_common",
		Username: StaticUsername,
		Password: StaticPassword,
	}
}

// NormalizeMAC converts a flat 12-hex identifier to colon-delimited form.
// Identifiers that already contain separators pass through unchanged, case
// preserved either way.
func NormalizeMAC(id string) string {
	if strings.ContainsAny(id, ":-") || len(id) != 12 {
		return id
	}
	var b strings.Builder
	for i := 0; i < len(id); i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(id[i : i+2])
	}
	return b.String()
}

// FlattenMAC strips colon and dash separators from an identifier.
func FlattenMAC(id string) string {
	return strings.NewReplacer(":", "", "-", "").Replace(id)
}

func upperMD5(s string) string {
	sum := md5.Sum([]byte(s))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func digitSum(n int64) int {
	if n < 0 {
		n = -n
	}
	total := 0
	for n > 0 {
		total += int(n % 10)
		n /= 10
	}
	return total
}
