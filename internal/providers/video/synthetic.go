package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"shortgen/internal/providers"
	"shortgen/internal/storage"
)

const (
	SyntheticPollingName  = "synthetic-polling"
	SyntheticCallbackName = "synthetic-callback"
)

// syntheticClip is a placeholder media payload standing in for an mp4.
func syntheticClip(req ClipRequest) string {
	body := fmt.Sprintf("synthetic clip job=%s scene=%d duration=%.2f prompt=%q", req.JobID, req.SceneIndex, req.Duration, req.Prompt)
	return storage.DataURL("video/mp4", []byte(body))
}

type syntheticJob struct {
	req   ClipRequest
	at    time.Time
	polls int
}

// SyntheticPolling completes every clip after a fixed number of polls.
type SyntheticPolling struct {
	mu     sync.Mutex
	policy PollPolicy
	after  int
	jobs   map[string]*syntheticJob
}

// NewSyntheticPolling finishes each clip after pollsToComplete status calls.
func NewSyntheticPolling(policy PollPolicy, pollsToComplete int) *SyntheticPolling {
	if pollsToComplete < 1 {
		pollsToComplete = 1
	}
	return &SyntheticPolling{policy: policy, after: pollsToComplete, jobs: make(map[string]*syntheticJob)}
}

func (s *SyntheticPolling) Name() string { return SyntheticPollingName }

func (s *SyntheticPolling) PollPolicy() PollPolicy { return s.policy }

func (s *SyntheticPolling) Submit(ctx context.Context, req ClipRequest) (*Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	handle := "sp-" + uuid.NewString()
	now := time.Now()
	s.mu.Lock()
	s.jobs[handle] = &syntheticJob{req: req, at: now}
	s.mu.Unlock()
	return &Submission{Handle: handle, SubmittedAt: now}, nil
}

func (s *SyntheticPolling) Status(ctx context.Context, handle string) (*ClipStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[handle]
	if !ok {
		return nil, providers.Terminal(SyntheticPollingName, "unknown handle %s", handle)
	}
	job.polls++
	if job.polls < s.after {
		return &ClipStatus{Handle: handle, State: StateRunning, Progress: float64(job.polls) / float64(s.after)}, nil
	}
	return &ClipStatus{Handle: handle, State: StateSucceeded, MediaURL: syntheticClip(job.req), Progress: 1}, nil
}

// SyntheticCallback accepts clips and, after a delay, posts a completion
// notification to the request's callback URL. Status reports success once
// the delay has elapsed so the watchdog can reconcile lost notifications.
type SyntheticCallback struct {
	mu     sync.Mutex
	limit  int
	delay  time.Duration
	notify bool
	client *http.Client
	logger zerolog.Logger
	jobs   map[string]*syntheticJob
	now    func() time.Time
}

type SyntheticCallbackOptions struct {
	ConcurrencyLimit int
	Delay            time.Duration
	// Notify enables the outbound webhook; off in tests that drive the gateway directly.
	Notify     bool
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// NewSyntheticCallback builds the callback provider from opts.
func NewSyntheticCallback(opts SyntheticCallbackOptions) *SyntheticCallback {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SyntheticCallback{
		limit:  opts.ConcurrencyLimit,
		delay:  opts.Delay,
		notify: opts.Notify,
		client: client,
		logger: opts.Logger,
		jobs:   make(map[string]*syntheticJob),
		now:    time.Now,
	}
}

func (s *SyntheticCallback) Name() string { return SyntheticCallbackName }

func (s *SyntheticCallback) ConcurrencyLimit() int { return s.limit }

func (s *SyntheticCallback) Submit(ctx context.Context, req ClipRequest) (*Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	handle := "sc-" + uuid.NewString()
	now := s.now()
	s.mu.Lock()
	s.jobs[handle] = &syntheticJob{req: req, at: now}
	s.mu.Unlock()

	if s.notify && req.CallbackURL != "" {
		time.AfterFunc(s.delay, func() { s.deliver(handle, req) })
	}
	return &Submission{Handle: handle, SubmittedAt: now}, nil
}

func (s *SyntheticCallback) deliver(handle string, req ClipRequest) {
	body, _ := json.Marshal(Notification{ID: handle, Status: string(StateSucceeded), VideoURL: syntheticClip(req), Progress: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.CallbackURL, bytes.NewReader(body))
	if err != nil {
		s.logger.Error().Err(err).Str("handle", handle).Msg("synthetic callback request")
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.logger.Warn().Err(err).Str("handle", handle).Msg("synthetic callback delivery failed")
		return
	}
	_ = resp.Body.Close()
	s.logger.Debug().Str("handle", handle).Int("status", resp.StatusCode).Msg("synthetic callback delivered")
}

func (s *SyntheticCallback) Status(ctx context.Context, handle string) (*ClipStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[handle]
	if !ok {
		return nil, providers.Terminal(SyntheticCallbackName, "unknown handle %s", handle)
	}
	if s.now().Sub(job.at) < s.delay {
		return &ClipStatus{Handle: handle, State: StateRunning}, nil
	}
	return &ClipStatus{Handle: handle, State: StateSucceeded, MediaURL: syntheticClip(job.req), Progress: 1}, nil
}

func (s *SyntheticCallback) ParseNotification(header http.Header, body []byte) (*ClipStatus, error) {
	return DecodeNotification(body)
}

var (
	_ PollingProvider  = (*SyntheticPolling)(nil)
	_ CallbackProvider = (*SyntheticCallback)(nil)
)
