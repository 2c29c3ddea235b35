package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"shortgen/internal/domain"
	"shortgen/internal/domain/jsoncfg"
	"shortgen/internal/providers/video"
)

// Notification is one provider callback as received by the HTTP layer. The
// target has already been authenticated against its signature.
type Notification struct {
	Target CallbackTarget
	Header http.Header
	Body   []byte
}

// Gateway turns asynchronous clip notifications into job continuations.
type Gateway struct {
	store    domain.Store
	clips    *video.Registry
	resolver *ClipResolver
	logger   zerolog.Logger
}

// NewGateway builds the webhook gateway over resolver.
func NewGateway(store domain.Store, clips *video.Registry, resolver *ClipResolver, logger zerolog.Logger) *Gateway {
	return &Gateway{store: store, clips: clips, resolver: resolver, logger: logger}
}

// Handle parses the notification with the addressed provider and applies it.
func (g *Gateway) Handle(ctx context.Context, n Notification) (Resolution, error) {
	provider, err := g.clips.Get(n.Target.Provider)
	if err != nil {
		return ResolutionIgnored, err
	}
	cp, ok := provider.(video.CallbackProvider)
	if !ok {
		return ResolutionIgnored, fmt.Errorf("%w: provider %s does not deliver callbacks", domain.ErrInvalidInput, provider.Name())
	}
	status, err := cp.ParseNotification(n.Header, n.Body)
	if err != nil {
		return ResolutionIgnored, err
	}
	return g.Apply(ctx, n.Target, status)
}

// Apply resolves the addressed scene. Notifications for unknown or terminal
// jobs and for scenes that are no longer pending are benign no-ops.
func (g *Gateway) Apply(ctx context.Context, target CallbackTarget, status *video.ClipStatus) (Resolution, error) {
	log := g.logger.With().Str("job_id", target.JobID).Int("scene_index", target.SceneIndex).Str("provider", target.Provider).Logger()

	job, err := g.store.Jobs.GetByID(ctx, target.JobID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Info().Msg("notification for unknown job ignored")
		return ResolutionIgnored, nil
	}
	if err != nil {
		return ResolutionIgnored, err
	}
	if job.ProjectID != target.ProjectID {
		log.Warn().Str("project_id", target.ProjectID).Msg("notification project does not match job")
		return ResolutionIgnored, nil
	}
	if job.Status.Terminal() {
		log.Info().Str("status", string(job.Status)).Msg("notification for finished job ignored")
		return ResolutionIgnored, nil
	}

	pending, err := g.store.Artifacts.Get(ctx, domain.SceneArtifact(job.ID, domain.ArtifactVideoClipPending, target.SceneIndex))
	if errors.Is(err, domain.ErrNotFound) {
		log.Info().Msg("notification for resolved scene ignored")
		return ResolutionIgnored, nil
	}
	if err != nil {
		return ResolutionIgnored, err
	}
	if handle := jsoncfg.String(pending.Metadata, "handle"); handle != "" && status.Handle != "" && handle != status.Handle {
		log.Warn().Str("handle", status.Handle).Str("pending_handle", handle).Msg("notification for superseded request ignored")
		return ResolutionIgnored, nil
	}
	return g.resolver.Apply(ctx, job, pending, status, "webhook")
}
