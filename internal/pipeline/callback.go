package pipeline

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// CallbackPathPrefix is where clip providers deliver notifications.
const CallbackPathPrefix = "/v1/webhooks/clips"

// CallbackTarget is the identity encoded in a callback address.
type CallbackTarget struct {
	Provider   string
	ProjectID  string
	JobID      string
	SceneIndex int
}

// Path is the canonical signed path of the target.
func (t CallbackTarget) Path() string {
	return fmt.Sprintf("%s/%s/%s/%s/%d",
		CallbackPathPrefix,
		url.PathEscape(t.Provider),
		url.PathEscape(t.ProjectID),
		url.PathEscape(t.JobID),
		t.SceneIndex,
	)
}

// CallbackSigner issues and checks HMAC-SHA256 signed callback addresses.
type CallbackSigner struct {
	baseURL string
	secret  []byte
}

// NewCallbackSigner signs callback URLs rooted at baseURL.
func NewCallbackSigner(baseURL, secret string) (*CallbackSigner, error) {
	if secret == "" {
		return nil, fmt.Errorf("callback signer: secret is required")
	}
	return &CallbackSigner{baseURL: strings.TrimRight(baseURL, "/"), secret: []byte(secret)}, nil
}

// Sign returns the hex signature of path.
func (s *CallbackSigner) Sign(path string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(path))
	return hex.EncodeToString(mac.Sum(nil))
}

// URL returns the absolute callback address for target.
func (s *CallbackSigner) URL(target CallbackTarget) string {
	path := target.Path()
	return s.baseURL + path + "?sig=" + s.Sign(path)
}

// Verify reports whether sig matches the target's canonical path.
func (s *CallbackSigner) Verify(target CallbackTarget, sig string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(sig))
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(s.Sign(target.Path()))
	return hmac.Equal(got, want)
}
