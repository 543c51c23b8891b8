package vecmath

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a    []float64
		b    []float64
		want float64
	}{
		{
			name: "identical vectors",
			a:    []float64{1, 2, 3},
			b:    []float64{1, 2, 3},
			want: 1.0,
		},
		{
			name: "orthogonal vectors",
			a:    []float64{1, 0},
			b:    []float64{0, 1},
			want: 0.0,
		},
		{
			name: "opposite vectors",
			a:    []float64{1, 2, 3},
			b:    []float64{-1, -2, -3},
			want: -1.0,
		},
		{
			name: "different lengths",
			a:    []float64{1, 2},
			b:    []float64{1, 2, 3},
			want: 0.0,
		},
		{
			name: "empty vectors",
			a:    []float64{},
			b:    []float64{},
			want: 0.0,
		},
		{
			name: "nil vectors",
			a:    nil,
			b:    nil,
			want: 0.0,
		},
		{
			name: "zero magnitude vector",
			a:    []float64{0, 0, 0},
			b:    []float64{1, 2, 3},
			want: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMeanStd(t *testing.T) {
	mean, std := MeanStd([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if math.Abs(mean-5) > 1e-12 || math.Abs(std-2) > 1e-12 {
		t.Errorf("MeanStd() = (%v, %v), want (5, 2)", mean, std)
	}

	mean, std = MeanStd(nil)
	if mean != 0 || std != 0 {
		t.Errorf("MeanStd(nil) = (%v, %v), want zeros", mean, std)
	}

	mean, std = MeanStd([]float64{812.5})
	if mean != 812.5 || std != 0 {
		t.Errorf("MeanStd(single) = (%v, %v), want (812.5, 0)", mean, std)
	}

	mean, std = MeanStd([]float64{3, 3, 3})
	if mean != 3 || std != 0 {
		t.Errorf("MeanStd(constant) = (%v, %v), want (3, 0)", mean, std)
	}
}

func TestScaler(t *testing.T) {
	rows := [][]float64{{1, 10}, {3, 10}}
	s := FitScaler(rows)

	got := s.Transform([]float64{3, 10})
	if math.Abs(got[0]-1) > 1e-9 {
		t.Errorf("standardized column 0 = %v, want 1", got[0])
	}
	if got[1] != 0 {
		t.Errorf("constant column = %v, want 0", got[1])
	}

	if got := s.Transform([]float64{2, 10, 7}); got[2] != 7 {
		t.Errorf("column beyond the fit = %v, want passthrough 7", got[2])
	}
	if got := FitScaler(nil).Transform([]float64{4}); got[0] != 4 {
		t.Errorf("empty scaler = %v, want passthrough", got)
	}
}
