package domain

import "math"

// encoding/json rejects NaN and Inf outright, and the per-pixel metrics
// legitimately produce both (flat curves, empty regions, masked sweep rows).
// Types carrying such values marshal them as null and read null back as NaN.

func jsonFloat(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func floatFromJSON(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

func jsonFloats(vs []float64) []*float64 {
	if vs == nil {
		return nil
	}
	out := make([]*float64, len(vs))
	for i, v := range vs {
		out[i] = jsonFloat(v)
	}
	return out
}

func floatsFromJSON(ps []*float64) []float64 {
	if ps == nil {
		return nil
	}
	out := make([]float64, len(ps))
	for i, p := range ps {
		out[i] = floatFromJSON(p)
	}
	return out
}
