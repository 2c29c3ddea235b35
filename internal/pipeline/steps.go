package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"shortgen/internal/domain"
	"shortgen/internal/domain/jsoncfg"
	"shortgen/internal/providers/assembly"
	"shortgen/internal/providers/callguard"
	"shortgen/internal/providers/speech"
	"shortgen/internal/providers/text"
	"shortgen/internal/providers/video"
	"shortgen/internal/storage"
)

// Outcome is what a stage reports back to the orchestrator.
type Outcome struct {
	// Yield suspends the job at this stage without failing it.
	Yield bool
	// Data is attached to the step_finished event.
	Data map[string]any
}

// Step executes one pipeline stage.
type Step interface {
	Stage() domain.Stage
	Execute(ctx context.Context, st *RunState) (Outcome, error)
	// Restore loads the stage's persisted output into st and reports
	// whether the checkpoint exists.
	Restore(ctx context.Context, st *RunState) (bool, error)
}

// RunState is the working set of one run. Stages fill it either by
// executing or by restoring their checkpoint.
type RunState struct {
	Project   *domain.Project
	Job       *domain.Job
	Brief     domain.Brief
	Script    *text.ScriptPayload
	Plan      *domain.ScenePlan
	Voiceover *domain.Artifact

	report func(ctx context.Context, fraction float64, message string, data map[string]any)
}

// Report records progress within the running stage.
func (st *RunState) Report(ctx context.Context, fraction float64, message string, data map[string]any) {
	if st.report != nil {
		st.report(ctx, fraction, message, data)
	}
}

// StepDeps are the collaborators shared by the bundled stages.
type StepDeps struct {
	Store     domain.Store
	Text      text.Completer
	Speech    speech.Synthesizer
	Clips     *video.Registry
	Assembler assembly.Assembler
	Media     *storage.Rehoster
	Guards    *callguard.Set
	Signer    *CallbackSigner
	Events    *Emitter
	Logger    zerolog.Logger
	Now       Clock
}

// NewSteps returns the stages in canonical order.
func NewSteps(d StepDeps) []Step {
	if d.Now == nil {
		d.Now = time.Now
	}
	deps := &d
	return []Step{
		initStep{deps},
		scriptStep{deps},
		sceneStep{deps},
		voiceoverStep{deps},
		&ClipStage{deps: deps},
		assemblyStep{deps},
	}
}

func mediaKey(jobID, name string) string {
	return "jobs/" + jobID + "/" + name
}

func (d *StepDeps) persist(ctx context.Context, st *RunState, t domain.ArtifactType, fileURL string, meta map[string]any) (*domain.Artifact, error) {
	a := &domain.Artifact{
		JobID:     st.Job.ID,
		ProjectID: st.Job.ProjectID,
		Type:      t,
		FileURL:   fileURL,
		Metadata:  meta,
	}
	if _, err := d.Store.Artifacts.Upsert(ctx, a); err != nil {
		return nil, fmt.Errorf("persist %s: %w", t, err)
	}
	return a, nil
}

// checkpoint loads a singleton artifact; a missing one is not an error.
func (d *StepDeps) checkpoint(ctx context.Context, jobID string, t domain.ArtifactType) (*domain.Artifact, error) {
	a, err := d.Store.Artifacts.Get(ctx, domain.JobArtifact(jobID, t))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s checkpoint: %w", t, err)
	}
	return a, nil
}

func (d *StepDeps) complete(ctx context.Context, req text.CompletionRequest) (*text.Completion, error) {
	return callguard.Do(ctx, d.Guards.For(d.Text.Name()), func(ctx context.Context) (*text.Completion, error) {
		return d.Text.Complete(ctx, req)
	})
}

type initStep struct{ d *StepDeps }

func (s initStep) Stage() domain.Stage { return domain.StageInitialization }

func (s initStep) Execute(ctx context.Context, st *RunState) (Outcome, error) {
	if err := jsoncfg.ValidateBrief(st.Brief); err != nil {
		return Outcome{}, err
	}
	provider, err := s.d.Clips.Active()
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Data: map[string]any{
		"scene_count":   SceneCountFor(st.Brief.TargetDuration),
		"clip_provider": provider.Name(),
	}}, nil
}

// Restore always succeeds; the brief is re-derived from the project.
func (s initStep) Restore(ctx context.Context, st *RunState) (bool, error) {
	return true, nil
}

type scriptStep struct{ d *StepDeps }

func (s scriptStep) Stage() domain.Stage { return domain.StageScriptGeneration }

const scriptSystemPrompt = `You write narration for vertical short-form videos. Reply with a JSON object {"title","hook","lines","cta"}. Keep lines short and spoken.`

func (s scriptStep) Execute(ctx context.Context, st *RunState) (Outcome, error) {
	b := st.Brief
	prompt := fmt.Sprintf("Topic: %s\nLanguage: %s\nLength: about %.0f seconds of narration.", b.Topic, b.Language, b.TargetDuration)
	if b.Style != "" {
		prompt += "\nStyle: " + b.Style
	}
	c, err := s.d.complete(ctx, text.CompletionRequest{
		Task:        text.TaskScript,
		System:      scriptSystemPrompt,
		Prompt:      prompt,
		Temperature: 0.8,
		Vars: map[string]string{
			"topic":           b.Topic,
			"language":        b.Language,
			"style":           b.Style,
			"target_duration": strconv.FormatFloat(b.TargetDuration, 'f', -1, 64),
		},
	})
	if err != nil {
		return Outcome{}, err
	}
	script, err := text.DecodeJSON[text.ScriptPayload](c.Text)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: script reply: %v", domain.ErrProviderFailure, err)
	}
	narration := script.Narration()
	if narration == "" {
		return Outcome{}, fmt.Errorf("%w: script reply has no narration", domain.ErrProviderFailure)
	}

	raw, _ := json.MarshalIndent(script, "", "  ")
	url, err := s.d.Media.Backend().Store(ctx, mediaKey(st.Job.ID, "script.json"), raw, "application/json")
	if err != nil {
		return Outcome{}, fmt.Errorf("store script: %w", err)
	}
	meta, err := jsoncfg.ToMetadata(script)
	if err != nil {
		return Outcome{}, err
	}
	words := len(strings.Fields(narration))
	meta["narration"] = narration
	meta["word_count"] = words
	meta["provider"] = c.Provider
	meta["model"] = c.Model
	if _, err := s.d.persist(ctx, st, domain.ArtifactScript, url, meta); err != nil {
		return Outcome{}, err
	}
	st.Script = &script
	return Outcome{Data: map[string]any{"title": script.Title, "word_count": words}}, nil
}

func (s scriptStep) Restore(ctx context.Context, st *RunState) (bool, error) {
	a, err := s.d.checkpoint(ctx, st.Job.ID, domain.ArtifactScript)
	if err != nil || a == nil {
		return false, err
	}
	var script text.ScriptPayload
	if err := jsoncfg.FromMetadata(a.Metadata, &script); err != nil {
		return false, fmt.Errorf("%w: script checkpoint: %v", domain.ErrInconsistentState, err)
	}
	if script.Narration() == "" {
		return false, nil
	}
	st.Script = &script
	return true, nil
}

type sceneStep struct{ d *StepDeps }

func (s sceneStep) Stage() domain.Stage { return domain.StageScenePlanning }

const sceneSystemPrompt = `You storyboard vertical short-form videos. Reply with a JSON object {"scenes":[{"prompt","duration"}]} where each prompt describes one visual shot and duration is in seconds.`

func (s sceneStep) Execute(ctx context.Context, st *RunState) (Outcome, error) {
	b := st.Brief
	count := SceneCountFor(b.TargetDuration)
	scriptJSON, _ := json.Marshal(st.Script)
	c, err := s.d.complete(ctx, text.CompletionRequest{
		Task:   text.TaskScenePlan,
		System: sceneSystemPrompt,
		Prompt: fmt.Sprintf("Split this script into %d scenes totalling %.0f seconds, each between %.0f and %.0f seconds, framed %s.\n%s",
			count, b.TargetDuration, jsoncfg.MinSceneDuration, jsoncfg.MaxSceneDuration, b.AspectRatio, scriptJSON),
		Temperature: 0.6,
		Vars: map[string]string{
			"scene_count":     strconv.Itoa(count),
			"script":          string(scriptJSON),
			"style":           b.Style,
			"topic":           b.Topic,
			"aspect_ratio":    b.AspectRatio,
			"target_duration": strconv.FormatFloat(b.TargetDuration, 'f', -1, 64),
		},
	})
	if err != nil {
		return Outcome{}, err
	}
	proposal, err := text.DecodeJSON[text.ScenePlanPayload](c.Text)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: scene plan reply: %v", domain.ErrProviderFailure, err)
	}
	if len(proposal.Scenes) == 0 {
		return Outcome{}, fmt.Errorf("%w: scene plan reply has no scenes", domain.ErrProviderFailure)
	}

	proposed := make([]float64, len(proposal.Scenes))
	for i, sc := range proposal.Scenes {
		proposed[i] = sc.Duration
	}
	durations, err := NormalizeDurations(proposed, b.TargetDuration)
	if err != nil {
		return Outcome{}, err
	}
	plan := domain.ScenePlan{Scenes: make([]domain.Scene, len(durations))}
	for i, d := range durations {
		plan.Scenes[i] = domain.Scene{Index: i, Prompt: strings.TrimSpace(proposal.Scenes[i].Prompt), Duration: d}
		plan.TotalDuration += d
	}
	plan.TotalDuration = math.Round(plan.TotalDuration*100) / 100

	raw, _ := json.MarshalIndent(plan, "", "  ")
	url, err := s.d.Media.Backend().Store(ctx, mediaKey(st.Job.ID, "scene_plan.json"), raw, "application/json")
	if err != nil {
		return Outcome{}, fmt.Errorf("store scene plan: %w", err)
	}
	meta, err := jsoncfg.ToMetadata(plan)
	if err != nil {
		return Outcome{}, err
	}
	meta["provider"] = c.Provider
	meta["model"] = c.Model
	if _, err := s.d.persist(ctx, st, domain.ArtifactScenePlan, url, meta); err != nil {
		return Outcome{}, err
	}
	st.Plan = &plan
	stale, err := pruneClips(ctx, s.d.Store.Artifacts, st.Job.ID, &plan)
	if err != nil {
		return Outcome{}, fmt.Errorf("prune clips outside the new plan: %w", err)
	}
	data := map[string]any{"scene_count": plan.SceneCount(), "total_duration": plan.TotalDuration}
	if stale > 0 {
		data["pruned_clips"] = stale
	}
	return Outcome{Data: data}, nil
}

func (s sceneStep) Restore(ctx context.Context, st *RunState) (bool, error) {
	a, err := s.d.checkpoint(ctx, st.Job.ID, domain.ArtifactScenePlan)
	if err != nil || a == nil {
		return false, err
	}
	plan, err := decodePlan(a)
	if err != nil {
		return false, err
	}
	if plan.SceneCount() == 0 {
		return false, nil
	}
	st.Plan = plan
	return true, nil
}

func decodePlan(a *domain.Artifact) (*domain.ScenePlan, error) {
	var plan domain.ScenePlan
	if err := jsoncfg.FromMetadata(a.Metadata, &plan); err != nil {
		return nil, fmt.Errorf("%w: scene plan checkpoint: %v", domain.ErrInconsistentState, err)
	}
	return &plan, nil
}

type voiceoverStep struct{ d *StepDeps }

func (s voiceoverStep) Stage() domain.Stage { return domain.StageVoiceoverGeneration }

func (s voiceoverStep) Execute(ctx context.Context, st *RunState) (Outcome, error) {
	synth := s.d.Speech
	req := speech.SpeechRequest{Text: st.Script.Narration(), Voice: st.Brief.Voice, Language: st.Brief.Language}
	audio, err := callguard.Do(ctx, s.d.Guards.For(synth.Name()), func(ctx context.Context) (*speech.Speech, error) {
		return synth.Synthesize(ctx, req)
	})
	if err != nil {
		return Outcome{}, err
	}
	if len(audio.Audio) == 0 {
		return Outcome{}, fmt.Errorf("%w: %s returned no audio", domain.ErrProviderFailure, synth.Name())
	}
	url, err := s.d.Media.Backend().Store(ctx, mediaKey(st.Job.ID, "voiceover"+extensionFor(audio.ContentType)), audio.Audio, audio.ContentType)
	if err != nil {
		return Outcome{}, fmt.Errorf("store voiceover: %w", err)
	}
	a, err := s.d.persist(ctx, st, domain.ArtifactVoiceover, url, map[string]any{
		"duration":     audio.Duration,
		"content_type": audio.ContentType,
		"provider":     synth.Name(),
		"voice":        st.Brief.Voice,
	})
	if err != nil {
		return Outcome{}, err
	}
	st.Voiceover = a
	return Outcome{Data: map[string]any{"duration": audio.Duration}}, nil
}

func (s voiceoverStep) Restore(ctx context.Context, st *RunState) (bool, error) {
	a, err := s.d.checkpoint(ctx, st.Job.ID, domain.ArtifactVoiceover)
	if err != nil || a == nil || a.FileURL == "" {
		return false, err
	}
	st.Voiceover = a
	return true, nil
}

type assemblyStep struct{ d *StepDeps }

func (s assemblyStep) Stage() domain.Stage { return domain.StageVideoAssembly }

func (s assemblyStep) Execute(ctx context.Context, st *RunState) (Outcome, error) {
	artifacts, err := s.d.Store.Artifacts.ListByJob(ctx, st.Job.ID)
	if err != nil {
		return Outcome{}, err
	}
	byScene := make(map[int]domain.Artifact)
	for _, a := range artifacts {
		if a.Type == domain.ArtifactVideoClip {
			byScene[a.SceneIndexOrDefault()] = a
		}
	}
	clips := make([]assembly.ClipInput, 0, st.Plan.SceneCount())
	for _, sc := range st.Plan.Scenes {
		a, ok := byScene[sc.Index]
		if !ok || a.FileURL == "" {
			return Outcome{}, fmt.Errorf("%w: clip for scene %d is missing", domain.ErrInconsistentState, sc.Index)
		}
		clips = append(clips, assembly.ClipInput{SceneIndex: sc.Index, URL: a.FileURL, Duration: sc.Duration})
	}

	asm := s.d.Assembler
	req := assembly.AssemblyRequest{
		JobID:        st.Job.ID,
		ProjectID:    st.Job.ProjectID,
		Title:        st.Project.Title,
		AspectRatio:  st.Brief.AspectRatio,
		VoiceoverURL: st.Voiceover.FileURL,
		Clips:        clips,
	}
	out, err := callguard.Do(ctx, s.d.Guards.For(asm.Name()), func(ctx context.Context) (*assembly.Assembly, error) {
		return asm.Assemble(ctx, req)
	})
	if err != nil {
		return Outcome{}, err
	}
	url, err := s.d.Media.Backend().Store(ctx, mediaKey(st.Job.ID, "final"+extensionFor(out.ContentType)), out.Data, out.ContentType)
	if err != nil {
		return Outcome{}, fmt.Errorf("store final video: %w", err)
	}
	if _, err := s.d.persist(ctx, st, domain.ArtifactFinalVideo, url, map[string]any{
		"duration":     out.Duration,
		"content_type": out.ContentType,
		"assembler":    asm.Name(),
		"scene_count":  len(clips),
	}); err != nil {
		return Outcome{}, err
	}
	return Outcome{Data: map[string]any{"file_url": url, "duration": out.Duration}}, nil
}

func (s assemblyStep) Restore(ctx context.Context, st *RunState) (bool, error) {
	a, err := s.d.checkpoint(ctx, st.Job.ID, domain.ArtifactFinalVideo)
	return a != nil, err
}

func extensionFor(contentType string) string {
	switch strings.ToLower(contentType) {
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/mpeg":
		return ".mp3"
	case "video/mp4":
		return ".mp4"
	case "application/json":
		return ".json"
	default:
		return ".bin"
	}
}
