package log

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// maxPayloadBytes caps []byte values, which are usually MQTT payloads.
const maxPayloadBytes = 512

const redacted = "***"

// toFields converts logr-style arguments into zap fields. A zap.Field or
// an error may stand on its own; everything else is read as key/value
// pairs. An unpaired trailing value is kept under "arg#N" and a non-string
// key under "invalid_key_N".
func toFields(args ...any) []zap.Field {
	if len(args) == 0 {
		return nil
	}

	fields := make([]zap.Field, 0, len(args)/2+1)
	for i := 0; i < len(args); {
		switch v := args[i].(type) {
		case zap.Field:
			fields = append(fields, v)
			i++
			continue
		case error:
			fields = append(fields, zap.Error(v))
			i++
			continue
		}

		if i == len(args)-1 {
			fields = append(fields, zap.Any(fmt.Sprintf("arg#%d", i), args[i]))
			break
		}

		key, val := args[i], args[i+1]
		i += 2
		name, ok := key.(string)
		if !ok {
			fields = append(fields, zap.Any(fmt.Sprintf("invalid_key_%d", i/2), map[string]any{"key": key, "value": val}))
			continue
		}
		fields = append(fields, field(name, val))
	}
	return fields
}

func field(key string, val any) zap.Field {
	if sensitive(key) {
		return zap.String(key, redacted)
	}

	switch v := val.(type) {
	case string:
		return zap.String(key, v)
	case bool:
		return zap.Bool(key, v)
	case int:
		return zap.Int(key, v)
	case int32:
		return zap.Int32(key, v)
	case int64:
		return zap.Int64(key, v)
	case uint32:
		return zap.Uint32(key, v)
	case uint64:
		return zap.Uint64(key, v)
	case float64:
		return zap.Float64(key, v)
	case time.Duration:
		return zap.Duration(key, v)
	case time.Time:
		return zap.Time(key, v)
	case error:
		return zap.NamedError(key, v)
	case []byte:
		if len(v) > maxPayloadBytes {
			return zap.String(key, fmt.Sprintf("%s...(%d bytes)", v[:maxPayloadBytes], len(v)))
		}
		return zap.ByteString(key, v)
	case []string:
		return zap.Strings(key, v)
	case fmt.Stringer:
		return zap.Stringer(key, v)
	default:
		return zap.Any(key, v)
	}
}

// sensitive matches keys that may carry broker or storage credentials.
func sensitive(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "password") || strings.Contains(k, "secret")
}
