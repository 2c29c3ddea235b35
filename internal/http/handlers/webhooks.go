package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"shortgen/internal/pipeline"
)

const maxNotificationBytes = 1 << 20

// ClipWebhook receives provider notifications on signed callback addresses.
// The notification is applied in the background; providers get 202 as soon
// as the address checks out.
func (a *App) ClipWebhook(w http.ResponseWriter, r *http.Request) {
	scene, err := strconv.Atoi(chi.URLParam(r, "scene_index"))
	if err != nil || scene < 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid scene index")
		return
	}
	target := pipeline.CallbackTarget{
		Provider:   chi.URLParam(r, "provider"),
		ProjectID:  chi.URLParam(r, "project_id"),
		JobID:      chi.URLParam(r, "job_id"),
		SceneIndex: scene,
	}
	if !a.Signer.Verify(target, r.URL.Query().Get("sig")) {
		a.error(w, http.StatusUnauthorized, "unauthorized", "invalid callback signature")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxNotificationBytes))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}

	n := pipeline.Notification{Target: target, Header: r.Header.Clone(), Body: body}
	log := a.Logger.With().Str("job_id", target.JobID).Int("scene_index", scene).Str("provider", target.Provider).Logger()
	err = a.Tasks.Submit("webhook:"+target.JobID, func(ctx context.Context) {
		res, err := a.Gateway.Handle(ctx, n)
		if err != nil {
			log.Error().Err(err).Msg("apply clip notification")
			return
		}
		log.Info().Str("resolution", string(res)).Msg("clip notification applied")
	})
	if err != nil {
		log.Error().Err(err).Msg("queue clip notification")
		a.error(w, http.StatusServiceUnavailable, "unavailable", "try again later")
		return
	}
	a.json(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
