package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"curio-backend/internal/domain/job"
	apperrors "curio-backend/internal/errors"
	"curio-backend/internal/repository"
)

func (rt *Router) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.queue.Stats(r.Context())
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	rt.respond(w, http.StatusOK, struct {
		job.Stats
		Total int `json:"total"`
	}{stats, stats.Total()})
}

func (rt *Router) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.JobFilter{
		Status: job.Status(q.Get("status")),
		Phase:  job.Phase(q.Get("phase")),
		NodeID: q.Get("nodeId"),
	}
	result, err := rt.queue.ListJobs(r.Context(), filter, pageFrom(r))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	rt.respond(w, http.StatusOK, result)
}

// handleJobsForNode returns the node's most recent job, or null when
// the node never entered the queue.
func (rt *Router) handleJobsForNode(w http.ResponseWriter, r *http.Request) {
	jobs, err := rt.queue.GetJobsForNode(r.Context(), chi.URLParam(r, "nodeID"))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	var latest *job.Job
	if len(jobs) > 0 {
		latest = jobs[0]
	}
	rt.respond(w, http.StatusOK, struct {
		Job     *job.Job `json:"job"`
		History int      `json:"history"`
	}{latest, len(jobs)})
}

func (rt *Router) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	j, err := rt.queue.Retry(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	rt.respond(w, http.StatusOK, j)
}

func (rt *Router) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	j, err := rt.queue.Cancel(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	rt.respond(w, http.StatusOK, j)
}

// handleClearQueue removes settled completed jobs. olderThan is an
// optional Go duration; absent, everything completed goes.
func (rt *Router) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	cutoff := time.Now()
	if v := r.URL.Query().Get("olderThan"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			rt.fail(w, r, apperrors.Validation(apperrors.CodeSchemaValidationFailed, "malformed olderThan duration").
				WithContext("olderThan", v).
				WithCause(err).
				Build())
			return
		}
		cutoff = cutoff.Add(-d)
	}
	cleared, err := rt.queue.ClearCompleted(r.Context(), cutoff)
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	rt.respond(w, http.StatusOK, map[string]any{"cleared": cleared})
}
