// Package stats provides a small set of statistical helpers: Pearson
// correlation between two aligned series (grounded on
// original_source/functions.c's ca_stats_correlation; used by
// ts-compact --corr after compaction and by the query server's CORR
// command) and k-means clustering of points (grounded on original_source/base/k-means.h's
// Kmeans struct and cluster loop). Both are reimplemented on top of
// gonum rather than by hand, since the teacher's example pack already
// depends on gonum.org/v1/gonum for exactly this kind of numeric work.
package stats

import (
	"errors"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrLengthMismatch is returned when Correlation is given series of
// different lengths.
var ErrLengthMismatch = errors.New("stats: series must have equal length")

// Correlation returns the sample Pearson correlation coefficient
// between a and b, equivalent to original_source/functions.c's
// ca_stats_correlation (covariance over the product of the two
// standard deviations) but delegated to gonum.org/v1/gonum/stat.
func Correlation(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrLengthMismatch
	}
	if len(a) < 2 {
		return 0, nil
	}
	weights := make([]float64, len(a))
	floats.AddConst(1, weights)
	return stat.Correlation(a, b, weights), nil
}

// Clustering holds the result of a k-means run: one center per cluster
// and the assigned cluster index for every input point.
type Clustering struct {
	Centers    [][]float64
	Assignment []int
}

// KMeans clusters points into k groups, mirroring
// original_source/base/k-means.h's Kmeans lifecycle (randomize centers,
// alternate reassignment and recentering until stable or maxIter is
// reached) using gonum.org/v1/gonum/floats for the vector arithmetic.
// points must be non-empty and every point must have the same
// dimensionality; k must be at least 1 and at most len(points).
func KMeans(points [][]float64, k int, maxIter int, rng *rand.Rand) (Clustering, error) {
	if len(points) == 0 {
		return Clustering{}, errors.New("stats: no points to cluster")
	}
	if k < 1 || k > len(points) {
		return Clustering{}, errors.New("stats: k out of range")
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	dim := len(points[0])
	centers := make([][]float64, k)
	perm := rng.Perm(len(points))
	for i := 0; i < k; i++ {
		centers[i] = append([]float64(nil), points[perm[i]]...)
	}

	assignment := make([]int, len(points))

	for iter := 0; iter < maxIter; iter++ {
		changed := false

		for pi, p := range points {
			best, bestDist := 0, distanceSq(p, centers[0])
			for ci := 1; ci < k; ci++ {
				d := distanceSq(p, centers[ci])
				if d < bestDist {
					best, bestDist = ci, d
				}
			}
			if assignment[pi] != best {
				assignment[pi] = best
				changed = true
			}
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for i := range sums {
			sums[i] = make([]float64, dim)
		}
		for pi, p := range points {
			ci := assignment[pi]
			floats.Add(sums[ci], p)
			counts[ci]++
		}
		for ci := range centers {
			if counts[ci] == 0 {
				continue
			}
			floats.Scale(1/float64(counts[ci]), sums[ci])
			centers[ci] = sums[ci]
		}

		if !changed && iter > 0 {
			break
		}
	}

	return Clustering{Centers: centers, Assignment: assignment}, nil
}

func distanceSq(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
