package log

import (
	"time"

	"go.uber.org/zap"
)

// Field is a typed key/value pair attached to an entry.
type Field = zap.Field

func Any(key string, val any) Field { return zap.Any(key, val) }

func Bool(key string, val bool) Field { return zap.Bool(key, val) }

func Duration(key string, val time.Duration) Field { return zap.Duration(key, val) }

func Float64(key string, val float64) Field { return zap.Float64(key, val) }

func Int(key string, val int) Field { return zap.Int(key, val) }

func Int64(key string, val int64) Field { return zap.Int64(key, val) }

func String(key string, val string) Field { return zap.String(key, val) }

func Strings(key string, val []string) Field { return zap.Strings(key, val) }

func Time(key string, val time.Time) Field { return zap.Time(key, val) }

// Error logs err under the "error" key. A nil error adds nothing.
func Error(err error) Field { return zap.Error(err) }

func ErrorWithKey(key string, err error) Field { return zap.NamedError(key, err) }
