package pipeline

import (
	"context"
	"reflect"
	"testing"
	"time"

	"shortgen/internal/domain"
	"shortgen/internal/providers/text"
	"shortgen/internal/providers/video"
)

// plainProvider supports neither polling nor callbacks.
type plainProvider struct{}

func (plainProvider) Name() string { return "plain" }

func (plainProvider) Submit(ctx context.Context, req video.ClipRequest) (*video.Submission, error) {
	return &video.Submission{Handle: "plain"}, nil
}

func (plainProvider) Status(ctx context.Context, handle string) (*video.ClipStatus, error) {
	return &video.ClipStatus{Handle: handle, State: video.StateRunning}, nil
}

func TestCallbackClipsRespectConcurrencyCeiling(t *testing.T) {
	stub := newStubCallback(3)
	h := newHarness(t, stub, Config{})
	_, job := h.newJob(30)
	ctx := context.Background()

	assertPending := func(step string, want int) {
		t.Helper()
		if n := h.count(job.ID, domain.ArtifactVideoClipPending); n != want {
			t.Fatalf("%s: %d pending clips, want %d", step, n, want)
		}
	}

	if err := h.run(job, ""); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := stub.scenesSubmitted(); !reflect.DeepEqual(got, []int{0, 1, 2}) {
		t.Fatalf("submitted %v, want [0 1 2]", got)
	}
	assertPending("first run", 3)
	got := h.job(job.ID)
	if got.Status != domain.JobStatusRunning || got.CurrentStep != domain.StageVideoClipGeneration {
		t.Fatalf("yielded job should stay running at the clip stage: %+v", got)
	}

	// Move the in-flight slot from scene 2 to scene 3 so scenes 0, 1 and 3 are pending.
	moved := h.artifact(domain.SceneArtifact(job.ID, domain.ArtifactVideoClipPending, 2))
	if _, err := h.store.Artifacts.Delete(ctx, moved.Key()); err != nil {
		t.Fatalf("delete pending: %v", err)
	}
	moved.ID = ""
	moved.SceneIndex = domain.IntPtr(3)
	moved.Metadata["handle"] = "h-3"
	if _, err := h.store.Artifacts.Upsert(ctx, moved); err != nil {
		t.Fatalf("seed pending: %v", err)
	}

	if err := h.run(job, domain.StageVideoClipGeneration); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if got := stub.scenesSubmitted(); len(got) != 3 {
		t.Fatalf("scene 2 submitted past the ceiling: %v", got)
	}
	assertPending("halted rerun", 3)

	res, err := h.gateway.Apply(ctx, h.target(job, 0), succeeded(0))
	if err != nil || res != ResolutionCompleted {
		t.Fatalf("complete scene 0: res=%s err=%v", res, err)
	}
	if got := stub.scenesSubmitted(); !reflect.DeepEqual(got, []int{0, 1, 2, 2}) {
		t.Fatalf("submitted %v, want scene 2 resubmitted after a slot freed", got)
	}
	assertPending("after scene 0", 3)

	for _, tc := range []struct{ scene, pending int }{{1, 3}, {2, 2}, {3, 1}} {
		if _, err := h.gateway.Apply(ctx, h.target(job, tc.scene), succeeded(tc.scene)); err != nil {
			t.Fatalf("complete scene %d: %v", tc.scene, err)
		}
		assertPending("after completing a scene", tc.pending)
	}
	if got := stub.scenesSubmitted(); !reflect.DeepEqual(got, []int{0, 1, 2, 2, 4}) {
		t.Fatalf("submitted %v, want scene 4 once a slot freed", got)
	}
	if _, err := h.gateway.Apply(ctx, h.target(job, 4), succeeded(4)); err != nil {
		t.Fatalf("complete scene 4: %v", err)
	}

	final := h.job(job.ID)
	if final.Status != domain.JobStatusCompleted {
		t.Fatalf("job not completed: %+v", final)
	}
	if n := h.count(job.ID, domain.ArtifactVideoClip); n != 5 {
		t.Fatalf("clips: %d, want 5", n)
	}
	assertPending("completed", 0)
}

func TestCallbackClipsUnlimitedSubmitsAll(t *testing.T) {
	stub := newStubCallback(0)
	h := newHarness(t, stub, Config{})
	_, job := h.newJob(24)

	if err := h.run(job, ""); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := stub.scenesSubmitted(); !reflect.DeepEqual(got, []int{0, 1, 2, 3}) {
		t.Fatalf("submitted %v", got)
	}
	pending := h.artifact(domain.SceneArtifact(job.ID, domain.ArtifactVideoClipPending, 1))
	if pending.Metadata["provider"] != "stub-callback" || pending.Metadata["handle"] != "h-1" {
		t.Fatalf("unexpected pending metadata: %v", pending.Metadata)
	}
	if _, err := time.Parse(time.RFC3339Nano, pending.Metadata["submitted_at"].(string)); err != nil {
		t.Fatalf("submitted_at: %v", err)
	}

	// A second run while everything is in flight submits nothing new.
	if err := h.run(job, domain.StageVideoClipGeneration); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if n := len(stub.scenesSubmitted()); n != 4 {
		t.Fatalf("pending scenes resubmitted: %d submissions", n)
	}
}

func TestCallbackURLIsSigned(t *testing.T) {
	stub := newStubCallback(1)
	h := newHarness(t, stub, Config{})
	_, job := h.newJob(12)
	if err := h.run(job, ""); err != nil {
		t.Fatalf("run: %v", err)
	}
	stub.mu.Lock()
	req := stub.submitted[0]
	stub.mu.Unlock()
	want := h.signer.URL(h.target(job, 0))
	if req.CallbackURL != want {
		t.Fatalf("callback url %q, want %q", req.CallbackURL, want)
	}
	if req.Duration < 4 || req.Duration > 8 || req.AspectRatio != "9:16" {
		t.Fatalf("unexpected clip request: %+v", req)
	}
}

func TestPollingTimeoutFailsJob(t *testing.T) {
	h := newHarness(t, stuckPolling{policy: video.PollPolicy{Interval: time.Millisecond, Timeout: 20 * time.Millisecond}}, Config{})
	_, job := h.newJob(12)

	err := h.run(job, "")
	if k := domain.KindOf(err); k != domain.KindTimeout {
		t.Fatalf("kind %s, want timeout (err %v)", k, err)
	}
	got := h.job(job.ID)
	if got.Status != domain.JobStatusFailed || got.CurrentStep != domain.StageVideoClipGeneration {
		t.Fatalf("unexpected job state: %+v", got)
	}
	if n := h.count(job.ID, domain.ArtifactVideoClip); n != 0 {
		t.Fatalf("timed out clip persisted: %d", n)
	}
}

func TestUnsupportedProviderIsMisconfigured(t *testing.T) {
	h := newHarness(t, plainProvider{}, Config{})
	_, job := h.newJob(12)

	err := h.run(job, "")
	if k := domain.KindOf(err); k != domain.KindState {
		t.Fatalf("kind %s, want state (err %v)", k, err)
	}
	if got := h.job(job.ID); got.CurrentStep != domain.StageVideoClipGeneration {
		t.Fatalf("failed at %s", got.CurrentStep)
	}
}

// fixedSceneCount asks the inner completer for n scenes regardless of the brief.
type fixedSceneCount struct {
	inner text.Completer
	n     string
}

func (f fixedSceneCount) Name() string { return f.inner.Name() }

func (f fixedSceneCount) Complete(ctx context.Context, req text.CompletionRequest) (*text.Completion, error) {
	if req.Task == text.TaskScenePlan {
		vars := make(map[string]string, len(req.Vars))
		for k, v := range req.Vars {
			vars[k] = v
		}
		vars["scene_count"] = f.n
		req.Vars = vars
	}
	return f.inner.Complete(ctx, req)
}

func TestReplanIgnoresClipsOutsideNewPlan(t *testing.T) {
	h, stub, job := startCallbackJob(t, 22)
	ctx := context.Background()
	if got := stub.scenesSubmitted(); !reflect.DeepEqual(got, []int{0, 1, 2, 3}) {
		t.Fatalf("submitted scenes %v, want 0..3", got)
	}
	for _, scene := range []int{0, 2, 3} {
		if _, err := h.gateway.Apply(ctx, h.target(job, scene), succeeded(scene)); err != nil {
			t.Fatalf("apply scene %d: %v", scene, err)
		}
	}
	w := newTestWatchdog(t, h, nil)
	h.advance(35 * time.Minute)
	if report, err := w.Sweep(ctx); err != nil || report.TimedOut != 1 {
		t.Fatalf("sweep: %+v err=%v", report, err)
	}
	if got := h.job(job.ID); got.Status != domain.JobStatusFailed {
		t.Fatalf("job not failed after timeout: %+v", got)
	}

	h.text.inner = fixedSceneCount{inner: h.text.inner, n: "3"}
	if err := h.run(job, domain.StageScenePlanning); err != nil {
		t.Fatalf("resume: %v", err)
	}
	got := h.job(job.ID)
	if got.Status != domain.JobStatusRunning || got.CurrentStep != domain.StageVideoClipGeneration {
		t.Fatalf("job should wait for scene 1: %+v", got)
	}
	if _, err := h.store.Artifacts.Get(ctx, domain.SceneArtifact(job.ID, domain.ArtifactVideoClip, 3)); err == nil {
		t.Fatalf("clip for scene 3 survived the re-plan")
	}
	if n := h.count(job.ID, domain.ArtifactVideoClip); n != 2 {
		t.Fatalf("clips after re-plan: %d, want 2", n)
	}
	if n := h.count(job.ID, domain.ArtifactVideoClipPending); n != 1 {
		t.Fatalf("pending after re-plan: %d, want 1", n)
	}

	if _, err := h.gateway.Apply(ctx, h.target(job, 1), succeeded(1)); err != nil {
		t.Fatalf("apply scene 1: %v", err)
	}
	if got := h.job(job.ID); got.Status != domain.JobStatusCompleted {
		t.Fatalf("job not completed: %+v", got)
	}
	if n := h.count(job.ID, domain.ArtifactFinalVideo); n != 1 {
		t.Fatalf("final video artifacts: %d", n)
	}
}

func TestTallyClipsCountsPlanScenesOnly(t *testing.T) {
	h := newHarness(t, newStubCallback(0), Config{})
	_, job := h.newJob(12)
	ctx := context.Background()
	put := func(typ domain.ArtifactType, scene int) {
		idx := scene
		if _, err := h.store.Artifacts.Upsert(ctx, &domain.Artifact{JobID: job.ID, ProjectID: job.ProjectID, Type: typ, SceneIndex: &idx, FileURL: "mem://x"}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	put(domain.ArtifactVideoClip, 0)
	put(domain.ArtifactVideoClip, 5)
	put(domain.ArtifactVideoClipPending, 1)
	put(domain.ArtifactVideoClipPending, 7)
	plan := &domain.ScenePlan{Scenes: []domain.Scene{{Index: 0}, {Index: 1}}}

	completed, pending, err := tallyClips(ctx, h.store.Artifacts, job.ID, plan)
	if err != nil || completed != 1 || pending != 1 {
		t.Fatalf("tally = %d, %d, %v; want 1, 1", completed, pending, err)
	}
	removed, err := pruneClips(ctx, h.store.Artifacts, job.ID, plan)
	if err != nil || removed != 2 {
		t.Fatalf("prune = %d, %v; want 2", removed, err)
	}
	if n := h.count(job.ID, domain.ArtifactVideoClip) + h.count(job.ID, domain.ArtifactVideoClipPending); n != 2 {
		t.Fatalf("artifacts left: %d, want 2", n)
	}
}
