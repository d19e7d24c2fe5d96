package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces the value of attributes whose key names a credential.
const RedactedValue = "[redacted]"

var secretKeys = map[string]struct{}{
	"api_key":        {},
	"apikey":         {},
	"access_key":     {},
	"secret_key":     {},
	"password":       {},
	"redis_password": {},
	"authorization":  {},
	"token":          {},
}

// redactAttr masks credential-looking attributes before they reach a sink.
func redactAttr(attr slog.Attr) slog.Attr {
	if _, ok := secretKeys[strings.ToLower(attr.Key)]; ok && attr.Value.Kind() != slog.KindGroup {
		if attr.Value.String() != "" {
			attr.Value = slog.StringValue(RedactedValue)
		}
	}
	return attr
}
