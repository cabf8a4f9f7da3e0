package vecmath

import (
	"errors"
	"math"
	"slices"
	"testing"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a    []float32
		b    []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"scaled", []float32{1, 0}, []float32{5, 0}, 1},
		{"diagonal", []float32{1, 1}, []float32{1, 0}, 1 / math.Sqrt2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Cosine(tt.a, tt.b)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosine_Errors(t *testing.T) {
	if _, err := Cosine([]float32{0, 0}, []float32{1, 0}); !errors.Is(err, ErrDegenerateVector) {
		t.Errorf("expected ErrDegenerateVector, got %v", err)
	}
	if _, err := Cosine([]float32{1}, []float32{1, 0}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
	if _, err := Cosine(nil, nil); !errors.Is(err, ErrDegenerateVector) {
		t.Errorf("expected ErrDegenerateVector for empty vectors, got %v", err)
	}
}

func TestUsable(t *testing.T) {
	tests := []struct {
		name string
		v    []float32
		want bool
	}{
		{"unit", []float32{1, 0}, true},
		{"zero", []float32{0, 0}, false},
		{"empty", nil, false},
		{"NaN", []float32{float32(math.NaN()), 1}, false},
		{"Inf", []float32{float32(math.Inf(-1)), 1}, false},
	}
	for _, tt := range tests {
		if got := Usable(tt.v); got != tt.want {
			t.Errorf("%s: Usable() = %v, want %v", tt.name, got, tt.want)
		}
	}

	nan := []float32{float32(math.NaN()), 0}
	if _, err := Cosine(nan, []float32{1, 0}); !errors.Is(err, ErrDegenerateVector) {
		t.Errorf("expected ErrDegenerateVector for NaN input, got %v", err)
	}
}

func TestMean(t *testing.T) {
	got, err := Mean([][]float32{{1, 0}, {0, 1}, {2, 2}})
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{1, 1}
	if !slices.Equal(got, want) {
		t.Errorf("Mean() = %v, want %v", got, want)
	}

	if _, err := Mean(nil); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
	if _, err := Mean([][]float32{{1, 2}, {1}}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestClone(t *testing.T) {
	v := []float32{1, 2, 3}
	c := Clone(v)
	c[0] = 9
	if v[0] != 1 {
		t.Error("Clone shares backing array")
	}
}
