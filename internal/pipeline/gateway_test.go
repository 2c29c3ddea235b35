package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"shortgen/internal/domain"
	"shortgen/internal/providers/video"
)

func startCallbackJob(t *testing.T, target float64) (*harness, *stubCallback, *domain.Job) {
	t.Helper()
	stub := newStubCallback(0)
	h := newHarness(t, stub, Config{})
	_, job := h.newJob(target)
	if err := h.run(job, ""); err != nil {
		t.Fatalf("run: %v", err)
	}
	return h, stub, job
}

func TestGatewaySuccessCompletesJob(t *testing.T) {
	h, _, job := startCallbackJob(t, 6)
	ctx := context.Background()

	res, err := h.gateway.Apply(ctx, h.target(job, 0), succeeded(0))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res != ResolutionCompleted {
		t.Fatalf("resolution %s, want completed", res)
	}
	got := h.job(job.ID)
	if got.Status != domain.JobStatusCompleted {
		t.Fatalf("job not completed: %+v", got)
	}
	if n := h.count(job.ID, domain.ArtifactVideoClipPending); n != 0 {
		t.Fatalf("pending clip left behind")
	}
	clip := h.artifact(domain.SceneArtifact(job.ID, domain.ArtifactVideoClip, 0))
	if !strings.HasPrefix(clip.FileURL, "mem://") {
		t.Fatalf("clip not rehosted: %s", clip.FileURL)
	}
	if clip.Metadata["source"] != "webhook" || clip.Metadata["handle"] != "h-0" {
		t.Fatalf("unexpected clip metadata: %v", clip.Metadata)
	}
	if n := h.count(job.ID, domain.ArtifactFinalVideo); n != 1 {
		t.Fatalf("final video artifacts: %d", n)
	}
}

func TestGatewayFailureFailsJob(t *testing.T) {
	h, _, job := startCallbackJob(t, 12)
	ctx := context.Background()

	status := &video.ClipStatus{Handle: "h-1", State: video.StateFailed, Error: "content policy"}
	res, err := h.gateway.Apply(ctx, h.target(job, 1), status)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res != ResolutionFailed {
		t.Fatalf("resolution %s, want failed", res)
	}
	got := h.job(job.ID)
	if got.Status != domain.JobStatusFailed || got.CurrentStep != domain.StageVideoClipGeneration {
		t.Fatalf("unexpected job state: %+v", got)
	}
	if !strings.Contains(got.ErrorMessage, "content policy") {
		t.Fatalf("error message %q lacks provider reason", got.ErrorMessage)
	}
	if _, err := h.store.Artifacts.Get(ctx, domain.SceneArtifact(job.ID, domain.ArtifactVideoClipPending, 1)); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("failed scene still pending: %v", err)
	}
	ev := h.lastEvent(job.ID)
	if ev.Type != domain.EventStepFailed || ev.Data["scene_index"] != 1 || ev.Data["source"] != "webhook" {
		t.Fatalf("unexpected failure event: %+v", ev)
	}

	// Late notifications for the failed job are ignored.
	res, err = h.gateway.Apply(ctx, h.target(job, 0), succeeded(0))
	if err != nil || res != ResolutionIgnored {
		t.Fatalf("late notification: res=%s err=%v", res, err)
	}
}

func TestGatewayDuplicateNotificationIsNoop(t *testing.T) {
	h, stub, job := startCallbackJob(t, 12)
	ctx := context.Background()

	if res, err := h.gateway.Apply(ctx, h.target(job, 0), succeeded(0)); err != nil || res != ResolutionCompleted {
		t.Fatalf("first delivery: res=%s err=%v", res, err)
	}
	before, _ := h.store.Events.ListByJob(ctx, job.ID)
	res, err := h.gateway.Apply(ctx, h.target(job, 0), succeeded(0))
	if err != nil || res != ResolutionIgnored {
		t.Fatalf("duplicate delivery: res=%s err=%v", res, err)
	}
	after, _ := h.store.Events.ListByJob(ctx, job.ID)
	if len(after) != len(before) {
		t.Fatalf("duplicate emitted %d events", len(after)-len(before))
	}
	if n := h.count(job.ID, domain.ArtifactVideoClip); n != 1 {
		t.Fatalf("clips: %d, want 1", n)
	}
	if n := len(stub.scenesSubmitted()); n != 2 {
		t.Fatalf("duplicate caused resubmission: %d", n)
	}
	if got := h.job(job.ID); got.Status != domain.JobStatusRunning {
		t.Fatalf("job should wait for scene 1: %+v", got)
	}
}

func TestGatewayIgnoresUnknownTargets(t *testing.T) {
	h, _, job := startCallbackJob(t, 12)
	_, other := h.newJob(12)
	ctx := context.Background()

	tests := []struct {
		name   string
		target CallbackTarget
		status *video.ClipStatus
	}{
		{"unknown job", CallbackTarget{Provider: "stub-callback", ProjectID: job.ProjectID, JobID: "missing"}, succeeded(0)},
		{"project mismatch", CallbackTarget{Provider: "stub-callback", ProjectID: other.ProjectID, JobID: job.ID}, succeeded(0)},
		{"scene never submitted", h.target(job, 7), succeeded(7)},
		{"superseded handle", h.target(job, 0), &video.ClipStatus{Handle: "stale", State: video.StateSucceeded, MediaURL: clipMedia}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := h.gateway.Apply(ctx, tc.target, tc.status)
			if err != nil {
				t.Fatalf("apply: %v", err)
			}
			if res != ResolutionIgnored {
				t.Fatalf("resolution %s, want ignored", res)
			}
		})
	}
	if n := h.count(job.ID, domain.ArtifactVideoClipPending); n != 2 {
		t.Fatalf("ignored notifications touched pending clips: %d", n)
	}
}

func TestGatewayProgressKeepsPending(t *testing.T) {
	h, _, job := startCallbackJob(t, 6)
	ctx := context.Background()

	status := &video.ClipStatus{Handle: "h-0", State: video.StateRunning, Progress: 0.4}
	res, err := h.gateway.Apply(ctx, h.target(job, 0), status)
	if err != nil || res != ResolutionProgress {
		t.Fatalf("progress: res=%s err=%v", res, err)
	}
	if n := h.count(job.ID, domain.ArtifactVideoClipPending); n != 1 {
		t.Fatalf("pending clip removed by progress update")
	}
	if ev := h.lastEvent(job.ID); ev.Type != domain.EventStepProgress || ev.Data["state"] != "running" {
		t.Fatalf("unexpected progress event: %+v", ev)
	}
}

func TestGatewayHandleParsesProviderBody(t *testing.T) {
	h, _, job := startCallbackJob(t, 6)
	ctx := context.Background()

	body := []byte(`{"id":"h-0","status":"completed","video_url":"` + clipMedia + `"}`)
	res, err := h.gateway.Handle(ctx, Notification{Target: h.target(job, 0), Body: body})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res != ResolutionCompleted {
		t.Fatalf("resolution %s, want completed", res)
	}

	_, err = h.gateway.Handle(ctx, Notification{Target: h.target(job, 0), Body: []byte(`{"id":"h-0"}`)})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for body without status, got %v", err)
	}

	bad := h.target(job, 0)
	bad.Provider = "unknown"
	if _, err := h.gateway.Handle(ctx, Notification{Target: bad, Body: body}); !errors.Is(err, domain.ErrMisconfigured) {
		t.Fatalf("expected ErrMisconfigured for unknown provider, got %v", err)
	}
}

func TestGatewayRejectsPollingProvider(t *testing.T) {
	h := newHarness(t, fastPolling(), Config{})
	_, job := h.newJob(6)
	target := CallbackTarget{Provider: video.SyntheticPollingName, ProjectID: job.ProjectID, JobID: job.ID}
	_, err := h.gateway.Handle(context.Background(), Notification{Target: target, Body: []byte(`{"id":"x","status":"done"}`)})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
