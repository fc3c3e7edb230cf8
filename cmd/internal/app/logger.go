package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates the process logger and installs it as the slog default.
//
// format is "json", "pretty" or "auto"; auto picks JSON in production and the
// pretty text handler otherwise.
func NewLogger(level, format string, production bool) *slog.Logger {
	log := newLogger(os.Stdout, level, format, production)
	slog.SetDefault(log)
	return log
}

func newLogger(w io.Writer, level, format string, production bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLogLevel(level),
		AddSource:   true,
		ReplaceAttr: redactSecrets,
	}

	var h slog.Handler
	switch resolveLogFormat(format, production) {
	case "pretty":
		h = newPrettyHandler(w, opts, colorEnabled(w))
	default:
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h)
}

// redacted replaces credential values in log output.
const redacted = "[REDACTED]"

// redactSecrets masks attributes whose key names a credential. Passwords,
// hashes, reset and remember-me tokens, session ids and cookies never reach
// the log sink.
func redactSecrets(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		return a
	}
	if isSecretKey(a.Key) {
		return slog.String(a.Key, redacted)
	}
	return a
}

func isSecretKey(key string) bool {
	k := strings.ToLower(key)
	switch k {
	case "password", "password_hash", "hash", "token", "reset_token", "remember_me_token",
		"session_id", "sid", "cookie", "secret", "session_secret", "authorization":
		return true
	}
	return strings.HasSuffix(k, "_password") || strings.HasSuffix(k, "_token") || strings.HasSuffix(k, "_secret")
}

func resolveLogFormat(format string, production bool) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return "json"
	case "pretty", "text":
		return "pretty"
	default:
		if production {
			return "json"
		}
		return "pretty"
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// colorEnabled reports whether w is a terminal and NO_COLOR is unset.
func colorEnabled(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
