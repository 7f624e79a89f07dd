// Package cookie contains the pure parsing and preservation logic for
// JD-style session cookies ("CK"). No I/O happens here.
package cookie

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

const (
	// FieldName is the panel env entry name that marks a credential record.
	FieldName = "JD_COOKIE"

	keyPrefix = "pt_key="
	pinPrefix = "pt_pin="
)

// Credential is one logical account credential extracted from a panel
// record. Pin identifies the account across panels; Key is the rotating
// secret. Remarks is carried verbatim when the credential is copied to
// another panel.
type Credential struct {
	Pin      string
	Key      string
	Value    string
	Remarks  string
	Enabled  bool
	RemoteID json.RawMessage
}

// Parse extracts the pt_key and pt_pin fields from a raw cookie value
// and rebuilds the canonical "pt_key=..;pt_pin=..;" form. It returns
// ok=false when either field is missing; a malformed value never yields
// a partial credential.
func Parse(raw string) (Credential, bool) {
	var key, pin string
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if key == "" && strings.Contains(part, keyPrefix) {
			key = part
		}
		if pin == "" && strings.Contains(part, pinPrefix) {
			pin = part
		}
	}
	if key == "" || pin == "" {
		return Credential{}, false
	}
	return Credential{
		Pin:   NormalizePin(pin),
		Key:   key,
		Value: key + ";" + pin + ";",
	}, true
}

// NormalizePin strips the pt_pin= prefix and surrounding separators
// from a pin, in either raw ("pt_pin=user;") or bare ("user") form.
func NormalizePin(pin string) string {
	pin = strings.TrimSpace(pin)
	pin = strings.ReplaceAll(pin, pinPrefix, "")
	return strings.Trim(pin, ";")
}

// IsPreserved reports whether pin names an account exempt from deletion
// during reconciliation. Both sides are normalized before the exact,
// case-sensitive comparison. An empty pin is never preserved.
func IsPreserved(pin string, preserved []string) bool {
	pin = NormalizePin(pin)
	if pin == "" {
		return false
	}
	for _, p := range preserved {
		if NormalizePin(p) == pin {
			return true
		}
	}
	return false
}

// SetHash returns the change-detection hash for a credential set: the
// sha256 of the JSON-encoded, sorted cookie values. Insertion order
// does not affect the result.
func SetHash(values []string) string {
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	data, _ := json.Marshal(sorted)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
