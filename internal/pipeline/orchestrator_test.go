package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"shortgen/internal/domain"
	"shortgen/internal/lock"
	"shortgen/internal/providers"
	"shortgen/internal/providers/text"
	"shortgen/internal/providers/video"
)

func fastPolling() *video.SyntheticPolling {
	return video.NewSyntheticPolling(video.PollPolicy{Interval: time.Millisecond, Timeout: time.Second}, 2)
}

func TestRunCompletesAllStages(t *testing.T) {
	h := newHarness(t, fastPolling(), Config{})
	_, job := h.newJob(30)

	if err := h.run(job, ""); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := h.job(job.ID)
	if got.Status != domain.JobStatusCompleted || got.Progress != 100 || got.CurrentStep != domain.StageCompleted {
		t.Fatalf("unexpected job state: %+v", got)
	}
	if got.StartedAt == nil || got.FinishedAt == nil {
		t.Fatalf("expected started_at and finished_at to be set")
	}
	for _, typ := range []domain.ArtifactType{domain.ArtifactScript, domain.ArtifactScenePlan, domain.ArtifactVoiceover, domain.ArtifactFinalVideo} {
		if n := h.count(job.ID, typ); n != 1 {
			t.Fatalf("expected one %s artifact, got %d", typ, n)
		}
	}
	if n := h.count(job.ID, domain.ArtifactVideoClip); n != 5 {
		t.Fatalf("expected 5 clips, got %d", n)
	}

	plan, err := decodePlan(h.artifact(domain.JobArtifact(job.ID, domain.ArtifactScenePlan)))
	if err != nil {
		t.Fatalf("decode plan: %v", err)
	}
	if plan.TotalDuration != 30 {
		t.Fatalf("plan total %v, want 30", plan.TotalDuration)
	}
	clip := h.artifact(domain.SceneArtifact(job.ID, domain.ArtifactVideoClip, 2))
	if !strings.HasPrefix(clip.FileURL, "mem://jobs/"+job.ID+"/clips/scene-02") {
		t.Fatalf("clip not rehosted: %s", clip.FileURL)
	}

	events, err := h.store.Events.ListByJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	started := map[domain.Stage]bool{}
	last := 0
	for _, ev := range events {
		if ev.Progress < last {
			t.Fatalf("progress went backwards at %q: %d < %d", ev.Message, ev.Progress, last)
		}
		last = ev.Progress
		if ev.Type == domain.EventStepStarted {
			started[ev.Step] = true
		}
	}
	for _, stage := range domain.Stages() {
		if stage.Runnable() && !started[stage] {
			t.Fatalf("no step_started event for %s", stage)
		}
	}
	if ev := h.lastEvent(job.ID); ev.Type != domain.EventStepFinished || ev.Step != domain.StageCompleted {
		t.Fatalf("unexpected last event: %+v", ev)
	}
}

func TestRunOnCompletedJobIsNoop(t *testing.T) {
	h := newHarness(t, fastPolling(), Config{})
	_, job := h.newJob(12)
	if err := h.run(job, ""); err != nil {
		t.Fatalf("run: %v", err)
	}
	before, _ := h.store.Events.ListByJob(context.Background(), job.ID)

	if err := h.run(job, domain.StageScriptGeneration); err != nil {
		t.Fatalf("second run: %v", err)
	}
	after, _ := h.store.Events.ListByJob(context.Background(), job.ID)
	if len(after) != len(before) {
		t.Fatalf("completed job emitted %d new events", len(after)-len(before))
	}
	if n := h.text.count(text.TaskScript); n != 1 {
		t.Fatalf("script generated %d times", n)
	}
}

func TestResumeSkipsCheckpointedStages(t *testing.T) {
	tests := []struct {
		stage       domain.Stage
		wantScripts int
		wantPlans   int
		wantSpeech  int
	}{
		{domain.StageInitialization, 2, 2, 2},
		{domain.StageScriptGeneration, 2, 2, 2},
		{domain.StageScenePlanning, 1, 2, 2},
		{domain.StageVoiceoverGeneration, 1, 1, 2},
		{domain.StageVideoClipGeneration, 1, 1, 1},
		{domain.StageVideoAssembly, 1, 1, 1},
	}
	for _, tc := range tests {
		t.Run(string(tc.stage), func(t *testing.T) {
			h := newHarness(t, fastPolling(), Config{})
			_, job := h.newJob(18)
			if err := h.run(job, ""); err != nil {
				t.Fatalf("first run: %v", err)
			}
			ctx := context.Background()
			if err := h.store.Jobs.MarkFailed(ctx, job.ID, tc.stage, "injected"); err != nil {
				t.Fatalf("mark failed: %v", err)
			}

			if err := h.run(job, ""); err != nil {
				t.Fatalf("resume: %v", err)
			}
			got := h.job(job.ID)
			if got.Status != domain.JobStatusCompleted {
				t.Fatalf("job not completed after resume: %+v", got)
			}
			if got.ResumeCount != 1 {
				t.Fatalf("resume_count %d, want 1", got.ResumeCount)
			}
			if got.ErrorMessage != "" {
				t.Fatalf("error message not cleared: %q", got.ErrorMessage)
			}
			if n := h.text.count(text.TaskScript); n != tc.wantScripts {
				t.Fatalf("scripts: got %d, want %d", n, tc.wantScripts)
			}
			if n := h.text.count(text.TaskScenePlan); n != tc.wantPlans {
				t.Fatalf("scene plans: got %d, want %d", n, tc.wantPlans)
			}
			if n := h.speech.count(); n != tc.wantSpeech {
				t.Fatalf("voiceovers: got %d, want %d", n, tc.wantSpeech)
			}
			if n := h.count(job.ID, domain.ArtifactVideoClip); n != 3 {
				t.Fatalf("clips: got %d, want 3", n)
			}
		})
	}
}

func TestStageFailureRecordsStageAndKind(t *testing.T) {
	h := newHarness(t, fastPolling(), Config{})
	_, job := h.newJob(24)
	h.text.setFail(text.TaskScenePlan, providers.Terminal("counting-text", "model refused"))

	err := h.run(job, "")
	var se *domain.StageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StageError, got %v", err)
	}
	if se.Stage != domain.StageScenePlanning {
		t.Fatalf("failed stage %s, want scene_planning", se.Stage)
	}
	if k := domain.KindOf(err); k != domain.KindTerminal {
		t.Fatalf("kind %s, want terminal", k)
	}

	got := h.job(job.ID)
	if got.Status != domain.JobStatusFailed || got.CurrentStep != domain.StageScenePlanning {
		t.Fatalf("unexpected job state: %+v", got)
	}
	if !strings.Contains(got.ErrorMessage, "scene_planning failed") || !strings.Contains(got.ErrorMessage, "model refused") {
		t.Fatalf("unexpected error message: %q", got.ErrorMessage)
	}
	ev := h.lastEvent(job.ID)
	if ev.Type != domain.EventStepFailed || ev.Level != domain.LevelError {
		t.Fatalf("unexpected last event: %+v", ev)
	}
	if ev.Data["error_kind"] != string(domain.KindTerminal) || ev.Data["stage"] != string(domain.StageScenePlanning) {
		t.Fatalf("unexpected failure data: %v", ev.Data)
	}

	h.text.setFail(text.TaskScenePlan, nil)
	if err := h.run(job, ""); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if n := h.text.count(text.TaskScript); n != 1 {
		t.Fatalf("script regenerated on resume: %d calls", n)
	}
	if got := h.job(job.ID); got.Status != domain.JobStatusCompleted || got.ResumeCount != 1 {
		t.Fatalf("unexpected job after resume: %+v", got)
	}
}

func TestInvalidBriefFailsInitialization(t *testing.T) {
	h := newHarness(t, fastPolling(), Config{})
	ctx := context.Background()
	p := &domain.Project{Title: "Square", Brief: domain.Brief{Topic: "tide pools", TargetDuration: 30, AspectRatio: "3:2"}}
	if err := h.store.Projects.Create(ctx, p); err != nil {
		t.Fatalf("create project: %v", err)
	}
	job := &domain.Job{ProjectID: p.ID}
	if err := h.store.Jobs.Create(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	err := h.run(job, "")
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if got := h.job(job.ID); got.Status != domain.JobStatusFailed || got.CurrentStep != domain.StageInitialization {
		t.Fatalf("unexpected job state: %+v", got)
	}
	if n := h.text.count(text.TaskScript); n != 0 {
		t.Fatalf("script generated for invalid brief")
	}
}

func TestRunRejectsInvalidRequestsWithoutMutation(t *testing.T) {
	h := newHarness(t, fastPolling(), Config{})
	_, job := h.newJob(30)
	_, other := h.newJob(30)
	before := h.job(job.ID)

	tests := []struct {
		name     string
		req      RunRequest
		notFound bool
	}{
		{"missing ids", RunRequest{}, false},
		{"unknown job", RunRequest{ProjectID: job.ProjectID, JobID: "missing"}, true},
		{"project mismatch", RunRequest{ProjectID: other.ProjectID, JobID: job.ID}, false},
		{"resume at completed", RunRequest{ProjectID: job.ProjectID, JobID: job.ID, ResumeStep: domain.StageCompleted}, false},
		{"unknown stage", RunRequest{ProjectID: job.ProjectID, JobID: job.ID, ResumeStep: "rendering"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := h.orch.Run(context.Background(), tc.req)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			if tc.notFound && !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("expected ErrNotFound in %v", err)
			}
		})
	}
	after := h.job(job.ID)
	if after.Status != before.Status || after.CurrentStep != before.CurrentStep || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("job mutated by rejected requests: before %+v after %+v", before, after)
	}
	if events, _ := h.store.Events.ListByJob(context.Background(), job.ID); len(events) != 0 {
		t.Fatalf("rejected requests emitted %d events", len(events))
	}
}

func TestResumeLimit(t *testing.T) {
	h := newHarness(t, fastPolling(), Config{MaxResumes: 2})
	_, job := h.newJob(30)
	h.text.setFail(text.TaskScript, providers.Terminal("counting-text", "down"))

	for i := 0; i < 3; i++ {
		if err := h.run(job, ""); domain.KindOf(err) != domain.KindTerminal {
			t.Fatalf("run %d: expected terminal failure, got %v", i, err)
		}
	}
	if got := h.job(job.ID); got.ResumeCount != 2 {
		t.Fatalf("resume_count %d, want 2", got.ResumeCount)
	}

	err := h.run(job, "")
	if !errors.Is(err, domain.ErrResumeLimitExceeded) {
		t.Fatalf("expected ErrResumeLimitExceeded, got %v", err)
	}
	if n := h.text.count(text.TaskScript); n != 3 {
		t.Fatalf("refused resume still called the provider: %d calls", n)
	}
	got := h.job(job.ID)
	if got.Status != domain.JobStatusFailed || got.ResumeCount != 2 {
		t.Fatalf("unexpected job after refusal: %+v", got)
	}
	if ev := h.lastEvent(job.ID); ev.Type != domain.EventStepFailed || ev.Data["max_resumes"] != 2 {
		t.Fatalf("unexpected refusal event: %+v", ev)
	}
}

func TestMissingCheckpointResumesEarlier(t *testing.T) {
	h := newHarness(t, fastPolling(), Config{})
	_, job := h.newJob(18)
	if err := h.run(job, ""); err != nil {
		t.Fatalf("run: %v", err)
	}
	ctx := context.Background()
	if _, err := h.store.Artifacts.Delete(ctx, domain.JobArtifact(job.ID, domain.ArtifactScenePlan)); err != nil {
		t.Fatalf("delete plan: %v", err)
	}
	if err := h.store.Jobs.MarkFailed(ctx, job.ID, domain.StageVideoAssembly, "injected"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	if err := h.run(job, ""); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if n := h.text.count(text.TaskScenePlan); n != 2 {
		t.Fatalf("scene plan not regenerated: %d calls", n)
	}
	if n := h.text.count(text.TaskScript); n != 1 {
		t.Fatalf("script regenerated: %d calls", n)
	}
	if n := h.count(job.ID, domain.ArtifactScenePlan); n != 1 {
		t.Fatalf("scene plan artifacts: %d", n)
	}
	if got := h.job(job.ID); got.Status != domain.JobStatusCompleted {
		t.Fatalf("job not completed: %+v", got)
	}
}

func TestRunRefusesBusyJob(t *testing.T) {
	h := newHarness(t, fastPolling(), Config{})
	_, job := h.newJob(30)
	lease, ok, err := h.locker.TryAcquire(context.Background(), lock.JobKey(job.ID), time.Minute)
	if err != nil || !ok {
		t.Fatalf("hold job lock: ok=%v err=%v", ok, err)
	}
	defer lease.Release(context.Background())

	err = h.run(job, "")
	if !errors.Is(err, domain.ErrJobBusy) {
		t.Fatalf("expected ErrJobBusy, got %v", err)
	}
	if got := h.job(job.ID); got.Status != domain.JobStatusPending {
		t.Fatalf("busy run mutated job: %+v", got)
	}
}

func TestCancelledRunLeavesJobRunning(t *testing.T) {
	h := newHarness(t, stuckPolling{policy: video.PollPolicy{Interval: time.Millisecond, Timeout: time.Minute}}, Config{})
	_, job := h.newJob(12)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(50*time.Millisecond, cancel)

	err := h.orch.Run(ctx, RunRequest{ProjectID: job.ProjectID, JobID: job.ID})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	got := h.job(job.ID)
	if got.Status != domain.JobStatusRunning || got.CurrentStep != domain.StageVideoClipGeneration {
		t.Fatalf("unexpected job after cancel: %+v", got)
	}
	if ev := h.lastEvent(job.ID); ev.Level != domain.LevelWarn {
		t.Fatalf("expected warn event for interruption, got %+v", ev)
	}
}
