// Package storage turns generated bytes into stable URLs the pipeline can
// keep in artifacts.
package storage

import (
	"context"
	"strings"
)

// Backend is durable media storage.
type Backend interface {
	// Store persists data under key and returns a stable URL for it.
	Store(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// IsDurable reports whether url already points into this backend.
	IsDurable(url string) bool
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}

func hasURLPrefix(url, base string) bool {
	base = strings.TrimRight(base, "/")
	return base != "" && strings.HasPrefix(url, base+"/")
}
