package vectors

import (
	"math"
	"math/rand"
	"testing"
)

func TestHalfRoundTripExactValues(t *testing.T) {
	tests := []struct {
		name string
		f    float32
	}{
		{"zero", 0},
		{"one", 1},
		{"minus one", -1},
		{"half", 0.5},
		{"quarter", 0.25},
		{"two", 2},
		{"small power", 0.0009765625}, // 2^-10
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := HalfToFloat32(Float32ToHalf(tc.f))
			if got != tc.f {
				t.Errorf("round trip of %v = %v; want exact", tc.f, got)
			}
		})
	}
}

func TestHalfRoundTripRelativeError(t *testing.T) {
	// binary16 has 11 significand bits, so relative error is bounded by 2^-11.
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		f := float32(rng.Float64()*2 - 1)
		got := HalfToFloat32(Float32ToHalf(f))
		if f == 0 {
			continue
		}
		relErr := math.Abs(float64(got-f) / float64(f))
		if relErr > 1.0/2048 {
			t.Fatalf("round trip of %v = %v; relative error %g too large", f, got, relErr)
		}
	}
}

func TestHalfSpecials(t *testing.T) {
	if got := HalfToFloat32(Float32ToHalf(float32(math.Inf(1)))); !math.IsInf(float64(got), 1) {
		t.Errorf("+Inf round trip = %v", got)
	}
	if got := HalfToFloat32(Float32ToHalf(float32(math.Inf(-1)))); !math.IsInf(float64(got), -1) {
		t.Errorf("-Inf round trip = %v", got)
	}
	if got := HalfToFloat32(Float32ToHalf(float32(math.NaN()))); !math.IsNaN(float64(got)) {
		t.Errorf("NaN round trip = %v", got)
	}
	// 65504 is the largest finite half value; anything bigger overflows to Inf.
	if got := HalfToFloat32(Float32ToHalf(70000)); !math.IsInf(float64(got), 1) {
		t.Errorf("70000 should overflow to +Inf, got %v", got)
	}
}

func TestQuantizeHalfPreservesCosineSimilarity(t *testing.T) {
	// The precision round-trip property: cosine similarity against a fixed
	// reference vector must stay within 1e-3 of the full precision value.
	rng := rand.New(rand.NewSource(7))
	dim := 512

	reference := make([]float32, dim)
	for i := range reference {
		reference[i] = float32(rng.NormFloat64())
	}
	Normalize(reference)

	for trial := 0; trial < 20; trial++ {
		v := make([]float32, dim)
		for i := range v {
			v[i] = float32(rng.NormFloat64())
		}
		Normalize(v)

		before := CosineSimilarity(v, reference)

		half := make([]float32, dim)
		copy(half, v)
		QuantizeHalf(half)

		after := CosineSimilarity(half, reference)
		if math.Abs(after-before) > 1e-3 {
			t.Fatalf("trial %d: cosine drifted from %f to %f after half quantization", trial, before, after)
		}
	}
}

func TestQuantizeHalfIdempotent(t *testing.T) {
	v := []float32{0.123, -0.456, 0.789}
	QuantizeHalf(v)
	w := append([]float32(nil), v...)
	QuantizeHalf(w)
	for i := range v {
		if v[i] != w[i] {
			t.Errorf("component %d changed on second quantization: %v vs %v", i, v[i], w[i])
		}
	}
}
