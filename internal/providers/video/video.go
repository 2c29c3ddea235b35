// Package video defines the clip generation collaborators. Providers come in
// two variants: polling providers are waited on inside the clip stage, and
// callback providers notify the webhook gateway when a clip is done.
package video

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"shortgen/internal/domain"
)

type ClipRequest struct {
	JobID       string
	ProjectID   string
	SceneIndex  int
	Prompt      string
	Duration    float64
	AspectRatio string
	// CallbackURL is set for callback providers only.
	CallbackURL string
}

type Submission struct {
	Handle      string
	SubmittedAt time.Time
}

// State is the provider-reported lifecycle of one clip request.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

type ClipStatus struct {
	Handle   string
	State    State
	MediaURL string
	Error    string
	// Progress is the provider's completion estimate in [0,1] when known.
	Progress float64
}

// Terminal reports whether the status resolves the clip.
func (s ClipStatus) Terminal() bool {
	return s.State == StateSucceeded || s.State == StateFailed
}

type Provider interface {
	Name() string
	Submit(ctx context.Context, req ClipRequest) (*Submission, error)
	Status(ctx context.Context, handle string) (*ClipStatus, error)
}

// PollPolicy bounds how a polling provider is waited on.
type PollPolicy struct {
	Interval time.Duration
	Timeout  time.Duration
}

type PollingProvider interface {
	Provider
	PollPolicy() PollPolicy
}

type CallbackProvider interface {
	Provider
	// ConcurrencyLimit caps in-flight requests per job; 0 means unlimited.
	ConcurrencyLimit() int
	ParseNotification(header http.Header, body []byte) (*ClipStatus, error)
}

// Registry resolves clip providers by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	active    string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds p under its name. The first registered provider becomes
// active until SetActive is called.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := strings.ToLower(p.Name())
	r.providers[name] = p
	if r.active == "" {
		r.active = name
	}
}

func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown clip provider %q", domain.ErrMisconfigured, name)
	}
	return p, nil
}

func (r *Registry) SetActive(name string) error {
	if _, err := r.Get(name); err != nil {
		return err
	}
	r.mu.Lock()
	r.active = strings.ToLower(name)
	r.mu.Unlock()
	return nil
}

// Active returns the provider new clip requests are sent to.
func (r *Registry) Active() (Provider, error) {
	r.mu.RLock()
	active := r.active
	r.mu.RUnlock()
	if active == "" {
		return nil, fmt.Errorf("%w: no clip provider registered", domain.ErrMisconfigured)
	}
	return r.Get(active)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Notification is the JSON body shared by the bundled callback providers.
type Notification struct {
	ID       string  `json:"id"`
	Status   string  `json:"status"`
	VideoURL string  `json:"video_url,omitempty"`
	Error    string  `json:"error,omitempty"`
	Progress float64 `json:"progress,omitempty"`
}

// ParseStatus maps provider status words onto State.
func ParseStatus(raw string) State {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "succeeded", "success", "completed", "complete", "done":
		return StateSucceeded
	case "failed", "failure", "error", "cancelled", "canceled":
		return StateFailed
	case "running", "processing", "in_progress", "generating":
		return StateRunning
	default:
		return StateQueued
	}
}

func (n Notification) ClipStatus() *ClipStatus {
	return &ClipStatus{
		Handle:   n.ID,
		State:    ParseStatus(n.Status),
		MediaURL: n.VideoURL,
		Error:    n.Error,
		Progress: n.Progress,
	}
}

// DecodeNotification parses a Notification body.
func DecodeNotification(body []byte) (*ClipStatus, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("%w: notification body: %v", domain.ErrInvalidInput, err)
	}
	if strings.TrimSpace(n.Status) == "" {
		return nil, fmt.Errorf("%w: notification status is required", domain.ErrInvalidInput)
	}
	st := n.ClipStatus()
	if st.State == StateSucceeded && st.MediaURL == "" {
		return nil, fmt.Errorf("%w: succeeded notification without video_url", domain.ErrInvalidInput)
	}
	return st, nil
}
