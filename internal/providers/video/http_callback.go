package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"shortgen/internal/providers"
)

const HTTPCallbackName = "http-callback"

// HTTPCallbackOptions configures a generic JSON clip API:
//
//	POST {base}/clips        {prompt, duration, aspect_ratio, callback_url} -> {id}
//	GET  {base}/clips/{id}   -> Notification
//
// Completion webhooks carry a Notification body.
type HTTPCallbackOptions struct {
	BaseURL          string
	APIKey           string
	ConcurrencyLimit int
	HTTPClient       *http.Client
}

type HTTPCallback struct {
	baseURL string
	apiKey  string
	limit   int
	client  *http.Client
}

type submitPayload struct {
	Prompt      string  `json:"prompt"`
	Duration    float64 `json:"duration"`
	AspectRatio string  `json:"aspect_ratio,omitempty"`
	CallbackURL string  `json:"callback_url"`
	Reference   string  `json:"reference,omitempty"`
}

// NewHTTPCallback validates opts and builds the provider client.
func NewHTTPCallback(opts HTTPCallbackOptions) (*HTTPCallback, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("clip provider base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, err
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPCallback{baseURL: base, apiKey: strings.TrimSpace(opts.APIKey), limit: opts.ConcurrencyLimit, client: client}, nil
}

func (h *HTTPCallback) Name() string { return HTTPCallbackName }

func (h *HTTPCallback) ConcurrencyLimit() int { return h.limit }

func (h *HTTPCallback) Submit(ctx context.Context, req ClipRequest) (*Submission, error) {
	body, err := json.Marshal(submitPayload{
		Prompt:      req.Prompt,
		Duration:    req.Duration,
		AspectRatio: req.AspectRatio,
		CallbackURL: req.CallbackURL,
		Reference:   req.JobID,
	})
	if err != nil {
		return nil, providers.Terminal(HTTPCallbackName, "encode request: %v", err)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := h.do(ctx, http.MethodPost, h.baseURL+"/clips", body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, providers.Terminal(HTTPCallbackName, "submit response without id")
	}
	return &Submission{Handle: out.ID, SubmittedAt: time.Now()}, nil
}

func (h *HTTPCallback) Status(ctx context.Context, handle string) (*ClipStatus, error) {
	var n Notification
	if err := h.do(ctx, http.MethodGet, h.baseURL+"/clips/"+url.PathEscape(handle), nil, &n); err != nil {
		return nil, err
	}
	if n.ID == "" {
		n.ID = handle
	}
	return n.ClipStatus(), nil
}

func (h *HTTPCallback) ParseNotification(header http.Header, body []byte) (*ClipStatus, error) {
	return DecodeNotification(body)
}

func (h *HTTPCallback) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return providers.Terminal(HTTPCallbackName, "build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return providers.Wrap(HTTPCallbackName, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return providers.Wrap(HTTPCallbackName, err)
	}
	if resp.StatusCode >= 300 {
		return providers.FromResponse(HTTPCallbackName, resp, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return providers.Transient(HTTPCallbackName, "decode response: %v", err)
	}
	return nil
}

var _ CallbackProvider = (*HTTPCallback)(nil)
