package httpapi

import (
	"bytes"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// zlog is the structured logger of the HTTP layer; silent until SetLogger.
var zlog = zerolog.Nop()

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = l }

// loggingLineWriter logs complete NDJSON lines at debug level.
type loggingLineWriter struct {
	buf []byte
	rid string
}

func (lw *loggingLineWriter) Write(p []byte) (int, error) {
	lw.buf = append(lw.buf, p...)
	for {
		idx := bytes.IndexByte(lw.buf, '\n')
		if idx < 0 {
			break
		}
		if idx > 0 {
			zlog.Debug().Str("request_id", lw.rid).Str("line", string(lw.buf[:idx])).Msg("stream>")
		}
		lw.buf = lw.buf[idx+1:]
	}
	return len(p), nil
}

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch s {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// defaultLogLevel is read once from LLAMAGEN_LOG_REQUESTS.
var defaultLogLevel = parseLevel(os.Getenv("LLAMAGEN_LOG_REQUESTS"))

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

// requestLog carries the per-request logging decision of one handler.
type requestLog struct {
	lvl   LogLevel
	rid   string
	path  string
	model string
	start time.Time
}

func newRequestLog(r *http.Request, model string) *requestLog {
	rl := &requestLog{lvl: requestLogLevel(r), rid: middleware.GetReqID(r.Context()), path: r.URL.Path, model: model, start: time.Now()}
	if rl.lvl >= LevelInfo {
		zlog.Info().Str("path", rl.path).Str("model", model).Str("request_id", rl.rid).Msg("generation start")
	}
	return rl
}

// end logs the outcome. Errors are logged from LevelError, successes from LevelInfo.
func (rl *requestLog) end(status int, err error) {
	if rl.lvl == LevelOff || (err == nil && rl.lvl < LevelInfo) {
		return
	}
	ev := zlog.Info()
	if err != nil {
		ev = zlog.Warn().Err(err)
	}
	ev.Str("path", rl.path).Str("model", rl.model).Str("request_id", rl.rid).Int("status", status).Dur("dur", time.Since(rl.start)).Msg("generation end")
}

func (rl *requestLog) debug() bool { return rl.lvl >= LevelDebug }
