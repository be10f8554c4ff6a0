package utils

import (
	"math"
	"testing"
)

func TestNormalizeL2(t *testing.T) {
	out := NormalizeL2([]float32{3, 4})
	var sum float64
	for _, v := range out {
		sum += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(sum)-1.0) > 1e-5 {
		t.Errorf("norm = %v, want 1", math.Sqrt(sum))
	}
}

func TestNormalizeL2_ZeroVector(t *testing.T) {
	out := NormalizeL2([]float32{0, 0, 0})
	for i, v := range out {
		if v != 0 {
			t.Errorf("out[%d] = %v, want 0", i, v)
		}
		if math.IsNaN(float64(v)) {
			t.Fatalf("out[%d] is NaN", i)
		}
	}
}

func TestNormalizeL2_ScaleInvariant(t *testing.T) {
	a := NormalizeL2([]float32{1, 2, 3})
	b := NormalizeL2([]float32{10, 20, 30})
	for i := range a {
		if math.Abs(float64(a[i]-b[i])) > 1e-5 {
			t.Errorf("index %d: %v != %v", i, a[i], b[i])
		}
	}
}
