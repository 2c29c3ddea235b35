package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"shortgen/internal/domain"
	"shortgen/pkg/zip"
)

func (a *App) JobsGet(w http.ResponseWriter, r *http.Request) {
	job, err := a.Store.Jobs.GetByID(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toJobView(job))
}

func (a *App) JobsEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	job, err := a.Store.Jobs.GetByID(ctx, chi.URLParam(r, "job_id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	events, err := a.Store.Events.ListByJob(ctx, job.ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if events == nil {
		events = []domain.JobEvent{}
	}
	a.json(w, http.StatusOK, map[string]any{"items": events})
}

func (a *App) JobsArtifacts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	job, err := a.Store.Jobs.GetByID(ctx, chi.URLParam(r, "job_id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	artifacts, err := a.Store.Artifacts.ListByJob(ctx, job.ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": toArtifactViews(artifacts)})
}

// JobsBundle streams a zip with the job, its artifact manifest and its event log.
func (a *App) JobsBundle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	job, err := a.Store.Jobs.GetByID(ctx, chi.URLParam(r, "job_id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	artifacts, err := a.Store.Artifacts.ListByJob(ctx, job.ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	events, err := a.Store.Events.ListByJob(ctx, job.ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	modified := job.UpdatedAt
	if modified.IsZero() {
		modified = time.Now()
	}
	var entries []zip.Entry
	for _, doc := range []struct {
		name string
		v    any
	}{
		{"job.json", toJobView(job)},
		{"artifacts.json", toArtifactViews(artifacts)},
		{"events.json", events},
	} {
		data, err := json.MarshalIndent(doc.v, "", "  ")
		if err != nil {
			a.fail(w, r, err)
			return
		}
		entries = append(entries, zip.Entry{Name: doc.name, Data: data, Modified: modified})
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="job-%s.zip"`, job.ID))
	w.WriteHeader(http.StatusOK)
	if err := zip.Write(w, entries); err != nil {
		a.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("write job bundle")
	}
}
