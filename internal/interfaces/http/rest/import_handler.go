package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"curio-backend/internal/service/importer"
)

type importRequest struct {
	URL          string `json:"url" validate:"required"`
	ForceRefresh bool   `json:"forceRefresh"`
	Priority     int    `json:"priority" validate:"min=0,max=100"`
	SkipPhase2   bool   `json:"skipPhase2"`
}

func (req importRequest) options() importer.Options {
	return importer.Options{
		ForceRefresh:   req.ForceRefresh,
		CreateQueueJob: !req.SkipPhase2,
		Priority:       req.Priority,
	}
}

func (rt *Router) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := rt.decode(r, &req); err != nil {
		rt.fail(w, r, err)
		return
	}

	result, err := rt.importer.Import(r.Context(), req.URL, req.options())
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if result.Cached {
		status = http.StatusOK
	}
	rt.respond(w, status, result)
}

type batchImportRequest struct {
	URLs         []string `json:"urls" validate:"required,min=1,max=50,dive,required"`
	ForceRefresh bool     `json:"forceRefresh"`
	SkipPhase2   bool     `json:"skipPhase2"`
}

type batchStartedResponse struct {
	BatchID   string `json:"batchId"`
	ItemCount int    `json:"itemCount"`
	Status    string `json:"status"`
}

func (rt *Router) handleBatchImport(w http.ResponseWriter, r *http.Request) {
	var req batchImportRequest
	if err := rt.decode(r, &req); err != nil {
		rt.fail(w, r, err)
		return
	}

	opts := importer.DefaultOptions()
	opts.ForceRefresh = req.ForceRefresh
	opts.CreateQueueJob = !req.SkipPhase2

	batch, err := rt.importer.StartBatch(r.Context(), req.URLs, opts)
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	rt.respond(w, http.StatusAccepted, batchStartedResponse{
		BatchID:   batch.ID,
		ItemCount: len(batch.Items),
		Status:    string(batch.Status),
	})
}

func (rt *Router) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := rt.importer.GetBatch(chi.URLParam(r, "batchID"))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	rt.respond(w, http.StatusOK, batch)
}

func (rt *Router) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := rt.importer.CancelBatch(chi.URLParam(r, "batchID"))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	rt.respond(w, http.StatusOK, batch)
}
