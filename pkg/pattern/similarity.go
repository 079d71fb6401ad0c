package pattern

import "math"

// Similarity computes how alike two feature vectors are.
//
// Implementations must return a value in [0.0, 1.0] where 1.0 means
// identical and 0.0 means unrelated. The substrate uses similarity for
// merge-candidate search, hierarchy clustering, and interference; it never
// computes similarity itself.
type Similarity interface {
	ComputeFromFeatures(a, b FeatureVector) float64
}

// CosineSimilarity is the stock Similarity implementation.
//
// Cosine similarity naturally lands in [-1, 1]; negative values are
// clamped to 0 since anti-correlated features carry no associative signal
// here. Mismatched or empty vectors score 0.
type CosineSimilarity struct{}

// ComputeFromFeatures returns the clamped cosine similarity of a and b.
func (CosineSimilarity) ComputeFromFeatures(a, b FeatureVector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1 // absorb floating-point drift
	}
	return sim
}

// ContextSimilarity compares two named-weight context profiles.
//
// The score is the cosine similarity over the union of dimension names,
// clamped to [0, 1]. Profiles with no shared dimensions score 0.
func ContextSimilarity(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for k, va := range a {
		normA += va * va
		if vb, ok := b[k]; ok {
			dot += va * vb
		}
	}
	for _, vb := range b {
		normB += vb * vb
	}
	if normA == 0 || normB == 0 || dot == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}
