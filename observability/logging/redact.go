package logging

import (
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// sensitiveKeys are attribute names whose values never reach the log output.
// The handler masks them regardless of which package emitted the record.
var sensitiveKeys = map[string]struct{}{
	"authorization": {},
	"passphrase":    {},
	"private_key":   {},
	"secret":        {},
	"signature":     {},
	"token":         {},
}

// IsSensitive reports whether values logged under key must be masked.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	_, ok := sensitiveKeys[normalized]
	return ok
}

// SensitiveKeys returns a sorted copy of the masked log keys. Tests use this
// to ensure secrets stay out of the log stream.
func SensitiveKeys() []string {
	keys := make([]string, 0, len(sensitiveKeys))
	for key := range sensitiveKeys {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskSensitive rewrites the attribute with the redaction placeholder when
// its key is sensitive and its value is non-empty.
func MaskSensitive(attr slog.Attr) slog.Attr {
	if !IsSensitive(attr.Key) {
		return attr
	}
	if strings.TrimSpace(attr.Value.String()) == "" {
		return attr
	}
	return slog.String(attr.Key, RedactedValue)
}
