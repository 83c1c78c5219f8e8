package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// handleJob godoc
// @Summary      Poll an async job
// @Tags         jobs
// @Produce      json
// @Param        id   path      string  true  "job id"
// @Success      200  {object}  types.JobResponse
// @Failure      404  {object}  types.ErrorResponse
// @Router       /jobs/{id} [get]
func (s *server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	j, ok := s.svc.Job(id)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "job not found: "+id, "")
		return
	}
	writeJSON(w, http.StatusOK, j.Snapshot())
}

// cancelWait bounds how long DELETE /jobs/{id} waits for the job to settle.
const cancelWait = 5 * time.Second

// handleCancelJob godoc
// @Summary      Cancel an async job
// @Tags         jobs
// @Produce      json
// @Param        id   path      string  true  "job id"
// @Success      202  {object}  types.JobResponse
// @Failure      404  {object}  types.ErrorResponse
// @Router       /jobs/{id} [delete]
func (s *server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	j, ok := s.svc.Job(id)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "job not found: "+id, "")
		return
	}
	j.Cancel()
	select {
	case <-j.Done():
	case <-r.Context().Done():
	case <-time.After(cancelWait):
	}
	writeJSON(w, http.StatusAccepted, j.Snapshot())
}
