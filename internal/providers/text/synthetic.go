package text

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const syntheticProviderName = "synthetic"

// SyntheticCompleter produces deterministic scripts and scene plans from the
// request vars. It needs no network and backs local runs and tests.
type SyntheticCompleter struct{}

// NewSyntheticCompleter returns the offline completer.
func NewSyntheticCompleter() *SyntheticCompleter {
	return &SyntheticCompleter{}
}

func (s *SyntheticCompleter) Name() string {
	return syntheticProviderName
}

func (s *SyntheticCompleter) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var payload any
	switch req.Task {
	case TaskScript:
		payload = syntheticScript(req.Vars)
	case TaskScenePlan:
		payload = syntheticScenePlan(req.Vars)
	default:
		return nil, fmt.Errorf("synthetic completer: unsupported task %q", req.Task)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Completion{Text: string(raw), Model: "synthetic-1", Provider: syntheticProviderName}, nil
}

func syntheticScript(vars map[string]string) ScriptPayload {
	topic := strings.TrimSpace(vars["topic"])
	if topic == "" {
		topic = "something worth knowing"
	}
	tag, err := language.Parse(vars["language"])
	if err != nil {
		tag = language.English
	}
	title := cases.Title(tag).String(topic)
	return ScriptPayload{
		Title: title,
		Hook:  fmt.Sprintf("You have never seen %s like this.", topic),
		Lines: []string{
			fmt.Sprintf("Here is the one thing most people miss about %s.", topic),
			"It starts small, almost invisible.",
			"Then it changes everything around it.",
			fmt.Sprintf("That is why %s matters right now.", topic),
		},
		CallToAction: "Follow for more in under a minute.",
	}
}

// syntheticScenePlan proposes deliberately uneven durations so the planner's
// normalization always has work to do.
func syntheticScenePlan(vars map[string]string) ScenePlanPayload {
	n, err := strconv.Atoi(vars["scene_count"])
	if err != nil || n < 1 {
		n = 1
	}
	var script ScriptPayload
	_ = json.Unmarshal([]byte(vars["script"]), &script)
	beats := append([]string{script.Hook}, script.Lines...)
	beats = append(beats, script.CallToAction)

	style := strings.TrimSpace(vars["style"])
	if style == "" {
		style = "cinematic"
	}
	out := ScenePlanPayload{Scenes: make([]SceneProposal, n)}
	for i := 0; i < n; i++ {
		beat := strings.TrimSpace(beats[i%len(beats)])
		if beat == "" {
			beat = vars["topic"]
		}
		out.Scenes[i] = SceneProposal{
			Prompt:   fmt.Sprintf("%s shot, vertical framing: %s", style, beat),
			Duration: float64(3 + i%3),
		}
	}
	return out
}

var _ Completer = (*SyntheticCompleter)(nil)
