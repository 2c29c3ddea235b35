// Package text generates scripts and scene plans through a text completion
// collaborator.
package text

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Task names what a completion is for. Synthetic completers key off it; HTTP
// completers only see the rendered prompts.
type Task string

const (
	TaskScript    Task = "script"
	TaskScenePlan Task = "scene_plan"
)

type CompletionRequest struct {
	Task        Task
	System      string
	Prompt      string
	Temperature float64
	// Vars carries the structured inputs the prompt was rendered from.
	Vars map[string]string
}

type Completion struct {
	Text     string
	Model    string
	Provider string
}

type Completer interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// DecodeJSON parses a model reply that should be a JSON object, tolerating
// markdown code fences around it.
func DecodeJSON[T any](raw string) (T, error) {
	var out T
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end < start {
		return out, errors.New("no json object in completion")
	}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &out); err != nil {
		return out, fmt.Errorf("decode completion: %w", err)
	}
	return out, nil
}

// ScriptPayload is the JSON shape a script completion must return.
type ScriptPayload struct {
	Title        string   `json:"title"`
	Hook         string   `json:"hook"`
	Lines        []string `json:"lines"`
	CallToAction string   `json:"cta"`
}

// Narration joins the spoken parts of the script.
func (p ScriptPayload) Narration() string {
	parts := make([]string, 0, len(p.Lines)+2)
	if s := strings.TrimSpace(p.Hook); s != "" {
		parts = append(parts, s)
	}
	for _, l := range p.Lines {
		if s := strings.TrimSpace(l); s != "" {
			parts = append(parts, s)
		}
	}
	if s := strings.TrimSpace(p.CallToAction); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, " ")
}

// SceneProposal is one scene as proposed by the model, before normalization.
type SceneProposal struct {
	Prompt   string  `json:"prompt"`
	Duration float64 `json:"duration"`
}

// ScenePlanPayload is the JSON shape a scene plan completion must return.
type ScenePlanPayload struct {
	Scenes []SceneProposal `json:"scenes"`
}
