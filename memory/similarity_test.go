package memory_test

import (
	"math"
	"testing"

	"github.com/sentrahq/memory-go-sdk/memory"
)

func TestCosineSimilarity_Identity(t *testing.T) {
	v := []float32{0.3, -0.7, 0.2, 0.9}
	sim := memory.CosineSimilarity(v, v)
	if math.Abs(sim-1.0) > 1e-9 {
		t.Errorf("similarity(v, v) = %v, want 1.0", sim)
	}
}

func TestCosineSimilarity_ZeroVector(t *testing.T) {
	v := []float32{0.3, -0.7, 0.2}
	zero := []float32{0, 0, 0}

	if sim := memory.CosineSimilarity(v, zero); sim != 0 {
		t.Errorf("similarity(v, zero) = %v, want 0.0", sim)
	}
	if sim := memory.CosineSimilarity(zero, zero); sim != 0 {
		t.Errorf("similarity(zero, zero) = %v, want 0.0", sim)
	}
}

func TestCosineSimilarity_Orthogonal(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	if sim := memory.CosineSimilarity(a, b); math.Abs(sim) > 1e-9 {
		t.Errorf("similarity(a, b) = %v, want 0.0", sim)
	}
}

func TestCosineSimilarity_Opposite(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{-1, -2, -3}
	if sim := memory.CosineSimilarity(a, b); math.Abs(sim+1.0) > 1e-6 {
		t.Errorf("similarity(a, -a) = %v, want -1.0", sim)
	}
}

func TestCosineSimilarity_DimensionMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on mismatched vector lengths")
		}
	}()
	memory.CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3})
}
