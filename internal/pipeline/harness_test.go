package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"shortgen/internal/adapter/memstore"
	"shortgen/internal/domain"
	"shortgen/internal/lock"
	"shortgen/internal/providers/assembly"
	"shortgen/internal/providers/callguard"
	"shortgen/internal/providers/speech"
	"shortgen/internal/providers/text"
	"shortgen/internal/providers/video"
	"shortgen/internal/storage"
)

var clipMedia = storage.DataURL("video/mp4", []byte("clip"))

type memBackend struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBackend() *memBackend {
	return &memBackend{objects: make(map[string][]byte)}
}

func (m *memBackend) Store(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return "mem://" + key, nil
}

func (m *memBackend) IsDurable(url string) bool {
	return strings.HasPrefix(url, "mem://")
}

type countingCompleter struct {
	mu    sync.Mutex
	inner text.Completer
	calls map[text.Task]int
	fail  map[text.Task]error
}

func (c *countingCompleter) Name() string { return "counting-text" }

func (c *countingCompleter) Complete(ctx context.Context, req text.CompletionRequest) (*text.Completion, error) {
	c.mu.Lock()
	c.calls[req.Task]++
	err := c.fail[req.Task]
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.inner.Complete(ctx, req)
}

func (c *countingCompleter) count(task text.Task) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[task]
}

func (c *countingCompleter) setFail(task text.Task, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.fail, task)
		return
	}
	c.fail[task] = err
}

type countingSynth struct {
	mu    sync.Mutex
	inner speech.Synthesizer
	calls int
	fail  error
}

func (s *countingSynth) Name() string { return "counting-speech" }

func (s *countingSynth) Synthesize(ctx context.Context, req speech.SpeechRequest) (*speech.Speech, error) {
	s.mu.Lock()
	s.calls++
	err := s.fail
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.inner.Synthesize(ctx, req)
}

func (s *countingSynth) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// stubCallback is a callback provider whose outcomes the test controls.
type stubCallback struct {
	mu          sync.Mutex
	limit       int
	submitted   []video.ClipRequest
	statuses    map[string]*video.ClipStatus
	statusCalls int
}

func newStubCallback(limit int) *stubCallback {
	return &stubCallback{limit: limit, statuses: make(map[string]*video.ClipStatus)}
}

func (s *stubCallback) Name() string { return "stub-callback" }

func (s *stubCallback) ConcurrencyLimit() int { return s.limit }

func (s *stubCallback) Submit(ctx context.Context, req video.ClipRequest) (*video.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, req)
	return &video.Submission{Handle: fmt.Sprintf("h-%d", req.SceneIndex)}, nil
}

func (s *stubCallback) Status(ctx context.Context, handle string) (*video.ClipStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusCalls++
	if st, ok := s.statuses[handle]; ok {
		return st, nil
	}
	return &video.ClipStatus{Handle: handle, State: video.StateRunning}, nil
}

func (s *stubCallback) ParseNotification(header http.Header, body []byte) (*video.ClipStatus, error) {
	return video.DecodeNotification(body)
}

func (s *stubCallback) setStatus(handle string, st *video.ClipStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[handle] = st
}

func (s *stubCallback) scenesSubmitted() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.submitted))
	for i, r := range s.submitted {
		out[i] = r.SceneIndex
	}
	return out
}

func (s *stubCallback) statusCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusCalls
}

// stuckPolling never finishes a clip.
type stuckPolling struct {
	policy video.PollPolicy
}

func (p stuckPolling) Name() string                 { return "stuck-polling" }
func (p stuckPolling) PollPolicy() video.PollPolicy { return p.policy }

func (p stuckPolling) Submit(ctx context.Context, req video.ClipRequest) (*video.Submission, error) {
	return &video.Submission{Handle: "stuck", SubmittedAt: time.Now()}, nil
}

func (p stuckPolling) Status(ctx context.Context, handle string) (*video.ClipStatus, error) {
	return &video.ClipStatus{Handle: handle, State: video.StateRunning}, nil
}

type recordingRunner struct {
	mu   sync.Mutex
	reqs []RunRequest
}

func (r *recordingRunner) Run(ctx context.Context, req RunRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return nil
}

type harness struct {
	t        *testing.T
	store    domain.Store
	text     *countingCompleter
	speech   *countingSynth
	clips    *video.Registry
	media    *memBackend
	locker   *lock.Memory
	signer   *CallbackSigner
	guards   *callguard.Set
	events   *Emitter
	orch     *Orchestrator
	resolver *ClipResolver
	gateway  *Gateway

	mu  sync.Mutex
	now time.Time
}

func newHarness(t *testing.T, provider video.Provider, cfg Config) *harness {
	t.Helper()
	h := &harness{t: t, now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	logger := zerolog.Nop()
	h.store = memstore.New().WithClock(h.clock).Repositories()
	h.text = &countingCompleter{inner: text.NewSyntheticCompleter(), calls: map[text.Task]int{}, fail: map[text.Task]error{}}
	h.speech = &countingSynth{inner: speech.NewSyntheticSynthesizer()}
	h.clips = video.NewRegistry()
	h.clips.Register(provider)
	h.media = newMemBackend()
	h.locker = lock.NewMemory()
	signer, err := NewCallbackSigner("http://callbacks.test", "test-secret")
	if err != nil {
		t.Fatalf("NewCallbackSigner: %v", err)
	}
	h.signer = signer
	h.guards = callguard.NewSet(callguard.Policy{MaxTries: 1}, logger)
	h.events = NewEmitter(h.store.Events, logger)
	rehoster := storage.NewRehoster(h.media, nil)

	steps := NewSteps(StepDeps{
		Store:     h.store,
		Text:      h.text,
		Speech:    h.speech,
		Clips:     h.clips,
		Assembler: assembly.NewManifestAssembler(),
		Media:     rehoster,
		Guards:    h.guards,
		Signer:    signer,
		Events:    h.events,
		Logger:    logger,
		Now:       h.clock,
	})
	if cfg.LockWait == 0 {
		cfg.LockWait = 50 * time.Millisecond
	}
	orch, err := NewOrchestrator(h.store, h.locker, steps, h.events, cfg, logger)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	h.orch = orch
	h.resolver = NewClipResolver(h.store, rehoster, h.events, orch, logger).WithClock(h.clock)
	h.gateway = NewGateway(h.store, h.clips, h.resolver, logger)
	return h
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	h.now = h.now.Add(d)
	h.mu.Unlock()
}

func (h *harness) newJob(target float64) (*domain.Project, *domain.Job) {
	h.t.Helper()
	ctx := context.Background()
	p := &domain.Project{Title: "Tide pools", Brief: domain.Brief{Topic: "tide pools", TargetDuration: target, Language: "en", Style: "macro"}}
	if err := h.store.Projects.Create(ctx, p); err != nil {
		h.t.Fatalf("create project: %v", err)
	}
	j := &domain.Job{ProjectID: p.ID}
	if err := h.store.Jobs.Create(ctx, j); err != nil {
		h.t.Fatalf("create job: %v", err)
	}
	return p, j
}

func (h *harness) run(job *domain.Job, resume domain.Stage) error {
	return h.orch.Run(context.Background(), RunRequest{ProjectID: job.ProjectID, JobID: job.ID, ResumeStep: resume})
}

func (h *harness) job(id string) *domain.Job {
	h.t.Helper()
	j, err := h.store.Jobs.GetByID(context.Background(), id)
	if err != nil {
		h.t.Fatalf("get job: %v", err)
	}
	return j
}

func (h *harness) count(jobID string, t domain.ArtifactType) int {
	h.t.Helper()
	n, err := h.store.Artifacts.CountByType(context.Background(), jobID, t)
	if err != nil {
		h.t.Fatalf("count %s: %v", t, err)
	}
	return n
}

func (h *harness) artifact(key domain.ArtifactKey) *domain.Artifact {
	h.t.Helper()
	a, err := h.store.Artifacts.Get(context.Background(), key)
	if err != nil {
		h.t.Fatalf("get %s: %v", key, err)
	}
	return a
}

func (h *harness) lastEvent(jobID string) domain.JobEvent {
	h.t.Helper()
	events, err := h.store.Events.ListByJob(context.Background(), jobID)
	if err != nil || len(events) == 0 {
		h.t.Fatalf("no events for %s: %v", jobID, err)
	}
	return events[len(events)-1]
}

func (h *harness) target(job *domain.Job, scene int) CallbackTarget {
	return CallbackTarget{Provider: "stub-callback", ProjectID: job.ProjectID, JobID: job.ID, SceneIndex: scene}
}

func succeeded(scene int) *video.ClipStatus {
	return &video.ClipStatus{Handle: fmt.Sprintf("h-%d", scene), State: video.StateSucceeded, MediaURL: clipMedia, Progress: 1}
}
