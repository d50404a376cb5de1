package httpapi

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// zlog is the HTTP layer logger; nop until SetLogger is called.
var zlog = zerolog.Nop()

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = l.With().Str("component", "http").Logger() }

// LogLevel controls per-request logging.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch s {
	case "off":
		return LevelOff
	case "error":
		return LevelError
	case "info", "":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// defaultLogLevel is read once from TEXTGEN_HTTP_LOG.
var defaultLogLevel = parseLevel(os.Getenv("TEXTGEN_HTTP_LOG"))

// requestLogLevel lets a client raise or silence logging for one request via
// ?log=<level> or the X-Log-Level header.
func requestLogLevel(r *http.Request) LogLevel {
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// logEvent returns an event tagged with the request id, or nil when lvl is off.
// zerolog treats a nil event as a no-op.
func logEvent(lvl LogLevel, r *http.Request) *zerolog.Event {
	var ev *zerolog.Event
	switch lvl {
	case LevelError:
		ev = zlog.Error()
	case LevelInfo:
		ev = zlog.Info()
	case LevelDebug:
		ev = zlog.Debug()
	default:
		return nil
	}
	if r != nil {
		ev = ev.Str("path", r.URL.Path)
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			ev = ev.Str("request_id", rid)
		}
	}
	return ev
}

// logEnd logs the outcome of a command request. At LevelError only failures
// are logged.
func logEnd(r *http.Request, lvl LogLevel, status int, start time.Time, err error) {
	if lvl == LevelOff || (err == nil && lvl < LevelInfo) {
		return
	}
	ev := logEvent(lvl, r).Int("status", status).Dur("dur", time.Since(start))
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("request end")
}
