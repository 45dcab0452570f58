package stats

import (
	"math"
	"math/rand"
	"testing"
)

func TestCorrelation_PerfectPositive(t *testing.T) {
	c, err := Correlation([]float64{0, 1, 2, 3}, []float64{0, 1, 2, 3})
	if err != nil {
		t.Fatalf("Correlation: %v", err)
	}
	if math.Abs(c-1.0) > 1e-9 {
		t.Fatalf("expected +1.0, got %v", c)
	}
}

func TestCorrelation_PerfectNegative(t *testing.T) {
	c, err := Correlation([]float64{0, 1, 2, 3}, []float64{3, 2, 1, 0})
	if err != nil {
		t.Fatalf("Correlation: %v", err)
	}
	if math.Abs(c-(-1.0)) > 1e-9 {
		t.Fatalf("expected -1.0, got %v", c)
	}
}

func TestCorrelation_ExactInverse(t *testing.T) {
	c, err := Correlation([]float64{1, 0, 0, 1}, []float64{0, 1, 1, 0})
	if err != nil {
		t.Fatalf("Correlation: %v", err)
	}
	if math.Abs(c-(-1.0)) > 1e-9 {
		t.Fatalf("expected -1.0 for exact inverse, got %v", c)
	}
}

func TestCorrelation_LengthMismatch(t *testing.T) {
	_, err := Correlation([]float64{1, 2}, []float64{1, 2, 3})
	if err != ErrLengthMismatch {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestCorrelation_TooShortReturnsZero(t *testing.T) {
	c, err := Correlation([]float64{1}, []float64{1})
	if err != nil {
		t.Fatalf("Correlation: %v", err)
	}
	if c != 0 {
		t.Fatalf("expected 0 for series shorter than 2, got %v", c)
	}
}

func TestKMeans_SeparatesObviousClusters(t *testing.T) {
	points := [][]float64{
		{0, 0}, {0.1, 0.1}, {-0.1, 0},
		{10, 10}, {10.1, 9.9}, {9.9, 10},
	}
	rng := rand.New(rand.NewSource(42))
	result, err := KMeans(points, 2, 20, rng)
	if err != nil {
		t.Fatalf("KMeans: %v", err)
	}
	if len(result.Centers) != 2 {
		t.Fatalf("expected 2 centers, got %d", len(result.Centers))
	}
	// The first three points must share a cluster, distinct from the last three.
	a := result.Assignment[0]
	for i := 1; i < 3; i++ {
		if result.Assignment[i] != a {
			t.Fatalf("expected points 0-2 in the same cluster, got %v", result.Assignment)
		}
	}
	b := result.Assignment[3]
	if b == a {
		t.Fatalf("expected the two groups in different clusters, got %v", result.Assignment)
	}
	for i := 4; i < 6; i++ {
		if result.Assignment[i] != b {
			t.Fatalf("expected points 3-5 in the same cluster, got %v", result.Assignment)
		}
	}
}

func TestKMeans_KOutOfRange(t *testing.T) {
	points := [][]float64{{0, 0}, {1, 1}}
	if _, err := KMeans(points, 0, 10, nil); err == nil {
		t.Fatal("expected error for k=0")
	}
	if _, err := KMeans(points, 3, 10, nil); err == nil {
		t.Fatal("expected error for k > len(points)")
	}
}

func TestKMeans_NoPoints(t *testing.T) {
	if _, err := KMeans(nil, 1, 10, nil); err == nil {
		t.Fatal("expected error for empty points")
	}
}
