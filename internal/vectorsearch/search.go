// Package vectorsearch finds past experiments whose feature vectors are
// closest to a new batch.
package vectorsearch

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/nvandessel/carbon-oracle/internal/models"
	"github.com/nvandessel/carbon-oracle/internal/vecmath"
)

// Candidate is a searchable vector.
type Candidate struct {
	ID     string
	Vector []float64
}

// SearchResult pairs a candidate ID with its similarity score.
type SearchResult struct {
	ID    string
	Score float64
}

// Metric scores two vectors; higher means more similar.
type Metric func(a, b []float64) float64

// Metric names accepted by MetricByName.
const (
	MetricEuclidean = "euclidean"
	MetricCosine    = "cosine"
)

// MetricByName resolves a metric name. The empty name selects Proximity.
func MetricByName(name string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", MetricEuclidean:
		return Proximity, nil
	case MetricCosine:
		return Cosine, nil
	}
	return nil, fmt.Errorf("unknown similarity metric %q (want %s or %s)", name, MetricEuclidean, MetricCosine)
}

// Cosine compares direction only. On standardized features this ranks
// batches by the shape of their deviation from the average run rather than
// its size.
func Cosine(a, b []float64) float64 {
	return vecmath.CosineSimilarity(a, b)
}

// Proximity maps Euclidean distance d to 1/(1+d), so identical vectors score 1.
// Returns 0 for vectors of different length.
func Proximity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return 1 / (1 + math.Sqrt(sum))
}

// BruteForceSearch finds the topK candidates scoring highest against query.
// Returns results sorted by descending score; ties keep candidate order.
func BruteForceSearch(query []float64, candidates []Candidate, topK int, metric Metric) []SearchResult {
	if len(query) == 0 || len(candidates) == 0 || topK <= 0 {
		return nil
	}

	results := make([]SearchResult, 0, len(candidates))
	for _, c := range candidates {
		results = append(results, SearchResult{
			ID:    c.ID,
			Score: metric(query, c.Vector),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if topK > len(results) {
		topK = len(results)
	}
	return results[:topK]
}

// Match is a past experiment and its similarity to the query batch.
type Match struct {
	Experiment models.Experiment
	Score      float64
}

// SimilarExperiments ranks past experiments by metric over their
// standardized feature vectors; a nil metric means Proximity. Features live
// on very different scales (pH around 8, temperature around 800), so every
// dimension is z-scored against the past experiments before comparison.
func SimilarExperiments(query models.ExtractedFeatures, past []models.Experiment, k int, metric Metric) []Match {
	if len(past) == 0 || k <= 0 {
		return nil
	}
	if metric == nil {
		metric = Proximity
	}

	rows := make([][]float64, len(past))
	for i, exp := range past {
		v := exp.Features.Vector()
		rows[i] = v[:]
	}
	scaler := vecmath.FitScaler(rows)

	// Candidates are keyed by position so duplicate or empty ids still resolve.
	candidates := make([]Candidate, len(past))
	for i := range past {
		candidates[i] = Candidate{ID: strconv.Itoa(i), Vector: scaler.Transform(rows[i])}
	}

	q := query.Vector()
	results := BruteForceSearch(scaler.Transform(q[:]), candidates, k, metric)

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		i, _ := strconv.Atoi(r.ID)
		matches = append(matches, Match{Experiment: past[i], Score: r.Score})
	}
	return matches
}
