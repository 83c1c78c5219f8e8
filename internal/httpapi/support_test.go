package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{"": LevelOff, "off": LevelOff, "error": LevelError, "info": LevelInfo, "debug": LevelDebug, "loud": LevelInfo}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q)=%v, want %v", in, got, want)
		}
	}
}

func TestRequestLogLevel(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/completion?log=1", nil)
	if requestLogLevel(r) != LevelDebug {
		t.Fatalf("log=1 should enable debug")
	}
	r = httptest.NewRequest(http.MethodPost, "/completion", nil)
	r.Header.Set("X-Log-Level", "error")
	if requestLogLevel(r) != LevelError {
		t.Fatalf("header level ignored")
	}
	r = httptest.NewRequest(http.MethodPost, "/completion?log=info", nil)
	r.Header.Set("X-Log-Level", "debug")
	if requestLogLevel(r) != LevelInfo {
		t.Fatalf("query should win over header")
	}
}

func TestLoggingLineWriterSplitsLines(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf).Level(zerolog.DebugLevel))
	defer SetLogger(zerolog.Nop())
	lw := &loggingLineWriter{rid: "r1"}
	if _, err := lw.Write([]byte("{\"delta\":\"a\"}\n{\"del")); err != nil { t.Fatalf("write: %v", err) }
	if n := strings.Count(buf.String(), "\n"); n != 1 || !strings.Contains(buf.String(), `"request_id":"r1"`) {
		t.Fatalf("want one complete line logged, got %q", buf.String())
	}
	if _, err := lw.Write([]byte("ta\":\"b\"}\n")); err != nil { t.Fatalf("write: %v", err) }
	if n := strings.Count(buf.String(), "\n"); n != 2 {
		t.Fatalf("second line not logged: %q", buf.String())
	}
}

func TestJoinContextsCancelsOnEither(t *testing.T) {
	a, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	b, cancelB := context.WithCancel(context.Background())
	ctx, cancel := joinContexts(a, b)
	defer cancel()
	cancelB()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("joined context not canceled by b")
	}
}

func TestGenerationContextTimeout(t *testing.T) {
	SetRequestTimeout(10 * time.Millisecond)
	defer SetRequestTimeout(0)
	r := httptest.NewRequest(http.MethodPost, "/completion", nil)
	ctx, cancel := generationContext(r)
	defer cancel()
	if _, ok := ctx.Deadline(); !ok {
		t.Fatalf("expected a deadline")
	}
	<-ctx.Done()
}

func TestBaseContextCancelsGeneration(t *testing.T) {
	base, stop := context.WithCancel(context.Background())
	SetBaseContext(base)
	defer SetBaseContext(nil)
	ctx, cancel := generationContext(httptest.NewRequest(http.MethodPost, "/completion", nil))
	defer cancel()
	stop()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("shutdown did not reach the generation context")
	}
}

func TestStatusRecorderFlushes(t *testing.T) {
	rr := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rr, status: http.StatusOK}
	sr.WriteHeader(http.StatusAccepted)
	sr.Flush()
	if sr.status != http.StatusAccepted || !rr.Flushed {
		t.Fatalf("status=%d flushed=%v", sr.status, rr.Flushed)
	}
}

func TestMountSwagger_NoOp(t *testing.T) {
	r := chi.NewRouter()
	// Should be a no-op and not panic
	MountSwagger(r)
}
