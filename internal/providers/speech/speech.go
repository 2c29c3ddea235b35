// Package speech synthesizes the voiceover track.
package speech

import (
	"bytes"
	"context"
	"encoding/binary"
	"strings"
)

type SpeechRequest struct {
	Text     string
	Voice    string
	Language string
}

type Speech struct {
	Audio       []byte
	ContentType string
	// Duration is the audio length in seconds.
	Duration float64
}

type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, req SpeechRequest) (*Speech, error)
}

const (
	syntheticSampleRate = 8000
	wordsPerSecond      = 2.5
)

// SyntheticSynthesizer renders silence whose length follows the narration at
// a typical speaking rate.
type SyntheticSynthesizer struct{}

// NewSyntheticSynthesizer returns the offline synthesizer.
func NewSyntheticSynthesizer() *SyntheticSynthesizer {
	return &SyntheticSynthesizer{}
}

func (s *SyntheticSynthesizer) Name() string {
	return "synthetic"
}

func (s *SyntheticSynthesizer) Synthesize(ctx context.Context, req SpeechRequest) (*Speech, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	words := len(strings.Fields(req.Text))
	seconds := float64(words) / wordsPerSecond
	if seconds < 1 {
		seconds = 1
	}
	return &Speech{
		Audio:       silentWAV(seconds),
		ContentType: "audio/wav",
		Duration:    seconds,
	}, nil
}

// silentWAV encodes an 8-bit mono PCM WAV of the given length.
func silentWAV(seconds float64) []byte {
	samples := int(seconds * syntheticSampleRate)
	var buf bytes.Buffer
	buf.Grow(44 + samples)
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+samples))
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(syntheticSampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(syntheticSampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(8))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(samples))
	// 0x80 is silence for unsigned 8-bit PCM.
	buf.Write(bytes.Repeat([]byte{0x80}, samples))
	return buf.Bytes()
}

var _ Synthesizer = (*SyntheticSynthesizer)(nil)
