// Package assembly stitches clips and the voiceover into the final video.
// Rendering itself is an external concern; the bundled assembler emits an
// edit manifest describing the cut.
package assembly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
)

type ClipInput struct {
	SceneIndex int     `json:"scene_index"`
	URL        string  `json:"url"`
	Duration   float64 `json:"duration"`
}

type AssemblyRequest struct {
	JobID        string
	ProjectID    string
	Title        string
	AspectRatio  string
	VoiceoverURL string
	Clips        []ClipInput
}

type Assembly struct {
	Data        []byte
	ContentType string
	Duration    float64
}

type Assembler interface {
	Name() string
	Assemble(ctx context.Context, req AssemblyRequest) (*Assembly, error)
}

// Manifest is the edit decision list produced by ManifestAssembler.
type Manifest struct {
	Version     int     `json:"version"`
	JobID       string  `json:"job_id"`
	Title       string  `json:"title,omitempty"`
	AspectRatio string  `json:"aspect_ratio"`
	Audio       string  `json:"audio"`
	Timeline    []Cut   `json:"timeline"`
	Duration    float64 `json:"duration"`
}

type Cut struct {
	SceneIndex int     `json:"scene_index"`
	Source     string  `json:"source"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
}

type ManifestAssembler struct{}

// NewManifestAssembler returns an assembler that writes a JSON manifest.
func NewManifestAssembler() *ManifestAssembler {
	return &ManifestAssembler{}
}

func (m *ManifestAssembler) Name() string {
	return "manifest"
}

// Assemble requires a contiguous run of clips starting at scene 0 so a
// partial cut is never produced.
func (m *ManifestAssembler) Assemble(ctx context.Context, req AssemblyRequest) (*Assembly, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.Clips) == 0 {
		return nil, errors.New("assembly: no clips")
	}
	if req.VoiceoverURL == "" {
		return nil, errors.New("assembly: voiceover is required")
	}
	clips := append([]ClipInput(nil), req.Clips...)
	sort.Slice(clips, func(i, j int) bool { return clips[i].SceneIndex < clips[j].SceneIndex })

	manifest := Manifest{Version: 1, JobID: req.JobID, Title: req.Title, AspectRatio: req.AspectRatio, Audio: req.VoiceoverURL}
	cursor := 0.0
	for i, c := range clips {
		if c.SceneIndex != i {
			return nil, fmt.Errorf("assembly: missing clip for scene %d", i)
		}
		if c.URL == "" {
			return nil, fmt.Errorf("assembly: clip %d has no media", i)
		}
		end := math.Round((cursor+c.Duration)*100) / 100
		manifest.Timeline = append(manifest.Timeline, Cut{SceneIndex: i, Source: c.URL, Start: cursor, End: end})
		cursor = end
	}
	manifest.Duration = cursor
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, err
	}
	return &Assembly{Data: data, ContentType: "application/json", Duration: cursor}, nil
}

var _ Assembler = (*ManifestAssembler)(nil)
