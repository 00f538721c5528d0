package logging

import (
	"encoding/hex"
	"log/slog"
	"slices"
	"strings"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// Keys emitted verbatim. Anything else passed through MaskField is redacted.
var allowedKeys = []string{
	"amount",
	"buyer",
	"code",
	"component",
	"env",
	"error",
	"merchant",
	"message",
	"method",
	"operation",
	"outcome",
	"path",
	"reputation",
	"requestid",
	"service",
	"severity",
	"status",
	"timestamp",
	"txid",
}

// IsAllowlisted reports whether key may be logged without redaction.
func IsAllowlisted(key string) bool {
	_, found := slices.BinarySearch(allowedKeys, strings.ToLower(strings.TrimSpace(key)))
	return found
}

// RedactionAllowlist returns a sorted copy of the allowlisted keys.
func RedactionAllowlist() []string {
	return slices.Clone(allowedKeys)
}

// MaskValue redacts any non-empty value.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField returns value under key unless the key is not allowlisted, in
// which case the value is redacted. Key casing is preserved.
func MaskField(key, value string) slog.Attr {
	if IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, MaskValue(value))
}

// MaskAddress keeps the first and last two bytes of an account so log lines
// stay correlatable without exposing the full identifier.
func MaskAddress(key string, addr [20]byte) slog.Attr {
	if IsAllowlisted(key) {
		return slog.String(key, "0x"+hex.EncodeToString(addr[:]))
	}
	return slog.String(key, "0x"+hex.EncodeToString(addr[:2])+"…"+hex.EncodeToString(addr[18:]))
}
