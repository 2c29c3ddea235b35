package pipeline

import (
	"fmt"
	"math"
	"sort"

	"shortgen/internal/domain"
	"shortgen/internal/domain/jsoncfg"
)

const (
	// spreadThreshold is the residual above which it is spread evenly.
	spreadThreshold = 0.1
	// sumTolerance is how far the normalized total may drift from the target.
	sumTolerance = 0.01
)

// NormalizeDurations rescales proposed scene durations so every scene lies
// within [MinSceneDuration, MaxSceneDuration] and the total equals target
// to the centisecond. Targets that no bounded plan of len(proposed) scenes
// can reach are rejected.
func NormalizeDurations(proposed []float64, target float64) ([]float64, error) {
	n := len(proposed)
	if n == 0 {
		return nil, fmt.Errorf("%w: scene plan has no scenes", domain.ErrInvalidInput)
	}
	lo, hi := jsoncfg.MinSceneDuration, jsoncfg.MaxSceneDuration
	if target < float64(n)*lo {
		return nil, fmt.Errorf("%w: target %.2fs is shorter than %d scenes of at least %.0fs", domain.ErrInvalidInput, target, n, lo)
	}
	if target > float64(n)*hi {
		return nil, fmt.Errorf("%w: target %.2fs is longer than %d scenes of at most %.0fs", domain.ErrInvalidInput, target, n, hi)
	}

	out := make([]float64, n)
	total := 0.0
	for _, d := range proposed {
		if d > 0 {
			total += d
		}
	}
	for i, d := range proposed {
		if total <= 0 {
			out[i] = target / float64(n)
			continue
		}
		out[i] = math.Max(d, 0) * target / total
	}
	clampAll(out, lo, hi)

	if residual := target - sum(out); math.Abs(residual) > spreadThreshold {
		share := residual / float64(n)
		for i := range out {
			out[i] += share
		}
		clampAll(out, lo, hi)
	}

	if residual := target - sum(out); math.Abs(residual) > sumTolerance {
		i := longest(out)
		out[i] = clamp(out[i]+residual, lo, hi)
	}

	spreadResidual(out, target, lo, hi)
	return roundCentis(out, target, lo, hi), nil
}

// spreadResidual hands whatever clamping left over to scenes that still have
// headroom, longest first.
func spreadResidual(out []float64, target, lo, hi float64) {
	residual := target - sum(out)
	if math.Abs(residual) <= sumTolerance {
		return
	}
	for _, i := range byLength(out) {
		if residual > 0 {
			room := hi - out[i]
			step := math.Min(room, residual)
			out[i] += step
			residual -= step
		} else {
			room := out[i] - lo
			step := math.Min(room, -residual)
			out[i] -= step
			residual += step
		}
		if math.Abs(residual) <= sumTolerance/2 {
			return
		}
	}
}

// roundCentis rounds to centiseconds and repairs the rounding drift one
// centisecond at a time so the total stays exact.
func roundCentis(out []float64, target, lo, hi float64) []float64 {
	cs := make([]int64, len(out))
	var total int64
	for i, d := range out {
		cs[i] = int64(math.Round(d * 100))
		total += cs[i]
	}
	want := int64(math.Round(target * 100))
	loCS, hiCS := int64(lo*100), int64(hi*100)
	order := byLength(out)
	for total != want {
		moved := false
		for _, i := range order {
			if total == want {
				break
			}
			if total < want && cs[i] < hiCS {
				cs[i]++
				total++
				moved = true
			} else if total > want && cs[i] > loCS {
				cs[i]--
				total--
				moved = true
			}
		}
		if !moved {
			break
		}
	}
	res := make([]float64, len(cs))
	for i, v := range cs {
		res[i] = float64(v) / 100
	}
	return res
}

// SceneCountFor picks how many scenes a target duration is split into,
// aiming at six-second scenes.
func SceneCountFor(target float64) int {
	lo, hi := jsoncfg.MinSceneDuration, jsoncfg.MaxSceneDuration
	n := int(math.Round(target / 6))
	minScenes := int(math.Ceil(target / hi))
	maxScenes := int(math.Floor(target / lo))
	if n < minScenes {
		n = minScenes
	}
	if n > maxScenes {
		n = maxScenes
	}
	if n < 1 {
		n = 1
	}
	return n
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clampAll(vals []float64, lo, hi float64) {
	for i := range vals {
		vals[i] = clamp(vals[i], lo, hi)
	}
}

func sum(vals []float64) float64 {
	total := 0.0
	for _, v := range vals {
		total += v
	}
	return total
}

// longest returns the index of the longest value, first on ties.
func longest(vals []float64) int {
	best := 0
	for i, v := range vals {
		if v > vals[best] {
			best = i
		}
	}
	return best
}

func byLength(vals []float64) []int {
	idx := make([]int, len(vals))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return vals[idx[a]] > vals[idx[b]] })
	return idx
}
