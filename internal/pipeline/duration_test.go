package pipeline

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"shortgen/internal/domain"
)

func TestNormalizeDurationsScalesUniformProposal(t *testing.T) {
	got, err := NormalizeDurations([]float64{3, 3, 3, 3, 3}, 30)
	if err != nil {
		t.Fatalf("NormalizeDurations: %v", err)
	}
	for i, d := range got {
		if d != 6 {
			t.Fatalf("scene %d: got %v, want 6 (all %v)", i, d, got)
		}
	}
}

func TestNormalizeDurationsCases(t *testing.T) {
	tests := []struct {
		name     string
		proposed []float64
		target   float64
	}{
		{"uneven", []float64{3, 4, 5, 3, 4}, 30},
		{"one huge scene", []float64{1, 1, 40}, 20},
		{"zero proposal", []float64{0, 0, 0, 0}, 24},
		{"negative proposal", []float64{-2, 5, 5}, 18},
		{"all at minimum", []float64{9, 1, 5}, 12},
		{"all at maximum", []float64{2, 2}, 16},
		{"single scene", []float64{10}, 7.5},
		{"fractional target", []float64{5, 6, 7}, 17.33},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeDurations(tc.proposed, tc.target)
			if err != nil {
				t.Fatalf("NormalizeDurations: %v", err)
			}
			assertBoundedPlan(t, got, len(tc.proposed), tc.target)
		})
	}
}

func TestNormalizeDurationsRejectsUnreachableTargets(t *testing.T) {
	tests := []struct {
		name     string
		proposed []float64
		target   float64
	}{
		{"no scenes", nil, 30},
		{"too short for scene count", []float64{5, 5, 5}, 10},
		{"too long for scene count", []float64{5, 5, 5, 5, 5}, 50},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NormalizeDurations(tc.proposed, tc.target)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestNormalizeDurationsRandomProposals(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 500; iter++ {
		n := 1 + rng.Intn(12)
		target := math.Round((float64(n)*4+rng.Float64()*float64(n)*4)*100) / 100
		proposed := make([]float64, n)
		for i := range proposed {
			proposed[i] = rng.Float64() * 15
		}
		got, err := NormalizeDurations(proposed, target)
		if err != nil {
			t.Fatalf("iter %d (n=%d target=%v): %v", iter, n, target, err)
		}
		assertBoundedPlan(t, got, n, target)
	}
}

func assertBoundedPlan(t *testing.T, got []float64, n int, target float64) {
	t.Helper()
	if len(got) != n {
		t.Fatalf("got %d durations, want %d", len(got), n)
	}
	total := 0.0
	for i, d := range got {
		if d < 4-1e-9 || d > 8+1e-9 {
			t.Fatalf("scene %d duration %v outside [4,8] (all %v)", i, d, got)
		}
		total += d
	}
	if math.Abs(total-target) > 0.01+1e-9 {
		t.Fatalf("total %v, want %v (all %v)", total, target, got)
	}
}

func TestSceneCountFor(t *testing.T) {
	tests := []struct {
		target float64
		want   int
	}{
		{30, 5},
		{4, 1},
		{180, 30},
		{10, 2},
		{17, 3},
		{60, 10},
	}
	for _, tc := range tests {
		if got := SceneCountFor(tc.target); got != tc.want {
			t.Fatalf("SceneCountFor(%v) = %d, want %d", tc.target, got, tc.want)
		}
	}
}
