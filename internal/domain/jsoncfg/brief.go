package jsoncfg

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"shortgen/internal/domain"
)

var allowedAspectRatios = map[string]struct{}{
	"9:16": {},
	"1:1":  {},
	"4:5":  {},
	"16:9": {},
}

const (
	// DefaultAspectRatio is the vertical short-form format.
	DefaultAspectRatio = "9:16"
	// DefaultLanguage is applied when the brief omits a language tag.
	DefaultLanguage = "en"
	// DefaultTargetDuration is used when the brief omits a target length.
	DefaultTargetDuration = 30.0
	// MinSceneDuration and MaxSceneDuration bound every planned scene.
	MinSceneDuration = 4.0
	MaxSceneDuration = 8.0
	// MaxTargetDuration caps the length of a single short.
	MaxTargetDuration = 180.0
)

// NormalizeBrief applies server defaults to a brief.
func NormalizeBrief(b *domain.Brief) {
	if b == nil {
		return
	}
	b.Topic = strings.TrimSpace(b.Topic)
	if b.TargetDuration <= 0 {
		b.TargetDuration = DefaultTargetDuration
	}
	if strings.TrimSpace(b.AspectRatio) == "" {
		b.AspectRatio = DefaultAspectRatio
	}
	if strings.TrimSpace(b.Language) == "" {
		b.Language = DefaultLanguage
	}
	if tag, err := language.Parse(b.Language); err == nil {
		b.Language = tag.String()
	}
}

// ValidateBrief ensures the brief can be planned into scenes of bounded length.
func ValidateBrief(b domain.Brief) error {
	if b.Topic == "" {
		return fmt.Errorf("%w: topic is required", domain.ErrInvalidInput)
	}
	if b.TargetDuration < MinSceneDuration || b.TargetDuration > MaxTargetDuration {
		return fmt.Errorf("%w: target_duration_seconds must be between %.0f and %.0f", domain.ErrInvalidInput, MinSceneDuration, MaxTargetDuration)
	}
	if _, ok := allowedAspectRatios[b.AspectRatio]; !ok {
		return fmt.Errorf("%w: aspect_ratio must be one of 9:16, 1:1, 4:5, 16:9", domain.ErrInvalidInput)
	}
	if _, err := language.Parse(b.Language); err != nil {
		return fmt.Errorf("%w: language %q is not a valid BCP 47 tag", domain.ErrInvalidInput, b.Language)
	}
	return nil
}

// MustMarshal encodes v and panics on failure; used for values built in code.
func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("json marshal: %w", err))
	}
	return b
}

// ToMetadata converts a struct into the opaque artifact metadata shape.
func ToMetadata(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return out, nil
}

// FromMetadata decodes artifact metadata into out.
func FromMetadata(meta map[string]any, out any) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	return nil
}

// String returns a string metadata value or "" when absent.
func String(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}
