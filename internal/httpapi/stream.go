package httpapi

import (
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"

	"llamagen/internal/completion"
)

// pump copies the events of st to the response through write. Headers are
// held back until the first event, so a completion that fails before
// producing anything can still be answered with an error status. started
// reports whether the streaming response was begun.
func pump(w http.ResponseWriter, st *completion.Stream, contentType string, write func(completion.Event) error) (res completion.Result, started bool) {
	ev, ok := <-st.Events()
	if !ok {
		return st.Result(), false
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	for {
		if err := write(ev); err != nil {
			// Client went away; stop generating.
			st.Close()
			break
		}
		if flusher != nil {
			flusher.Flush()
		}
		if ev, ok = <-st.Events(); !ok {
			break
		}
	}
	return st.Result(), true
}

// writeSSE writes one server-sent event carrying v as JSON.
func writeSSE(w http.ResponseWriter, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
		return err
	}
	streamedEventsTotal.WithLabelValues("sse").Inc()
	return nil
}

func writeSSEDone(w http.ResponseWriter) {
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// writeResult answers a finished completion: the wire result on success,
// the mapped status with the same body on failure.
func writeResult(w http.ResponseWriter, res completion.Result) int {
	status := http.StatusOK
	if res.Err != nil {
		status = statusFor(res.Err)
	}
	writeJSON(w, status, res.Response())
	return status
}
