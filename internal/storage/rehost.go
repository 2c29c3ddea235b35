package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// MaxMediaBytes caps a single downloaded media file.
const MaxMediaBytes = 512 << 20

// ErrNotDownloadable marks references the rehoster cannot fetch.
var ErrNotDownloadable = errors.New("storage: media reference is not downloadable")

// Rehoster copies third-party media into a Backend so artifacts never keep
// expiring provider URLs.
type Rehoster struct {
	backend Backend
	client  *http.Client
}

// NewRehoster stores media in backend, fetching remote sources with client.
func NewRehoster(backend Backend, client *http.Client) *Rehoster {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Rehoster{backend: backend, client: client}
}

// Backend returns the storage media is copied into.
func (r *Rehoster) Backend() Backend {
	return r.backend
}

// Rehost returns ref unchanged when it is already durable, otherwise it
// fetches the media and stores it under key. http(s) and base64 data URLs
// are supported.
func (r *Rehoster) Rehost(ctx context.Context, ref, key string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: empty reference", ErrNotDownloadable)
	}
	if r.backend.IsDurable(ref) {
		return ref, nil
	}
	data, contentType, err := r.fetch(ctx, ref)
	if err != nil {
		return "", err
	}
	return r.backend.Store(ctx, key, data, contentType)
}

func (r *Rehoster) fetch(ctx context.Context, ref string) ([]byte, string, error) {
	if strings.HasPrefix(ref, "data:") {
		return decodeDataURL(ref)
	}
	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, "", fmt.Errorf("%w: %q", ErrNotDownloadable, ref)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("storage: download media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("storage: download media: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxMediaBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("storage: read media: %w", err)
	}
	if len(data) > MaxMediaBytes {
		return nil, "", fmt.Errorf("storage: media exceeds %d bytes", MaxMediaBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// decodeDataURL handles data:[<mediatype>][;base64],<data>.
func decodeDataURL(ref string) ([]byte, string, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return nil, "", fmt.Errorf("%w: malformed data url", ErrNotDownloadable)
	}
	contentType := meta
	isBase64 := false
	if strings.HasSuffix(meta, ";base64") {
		isBase64 = true
		contentType = strings.TrimSuffix(meta, ";base64")
	}
	if contentType == "" {
		contentType = "text/plain"
	}
	if !isBase64 {
		decoded, err := url.PathUnescape(payload)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrNotDownloadable, err)
		}
		return []byte(decoded), contentType, nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrNotDownloadable, err)
	}
	return data, contentType, nil
}

// DataURL encodes data as a base64 data URL.
func DataURL(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
