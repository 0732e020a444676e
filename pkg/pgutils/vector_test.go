package pgutils

import (
	"strings"
	"testing"
)

func TestFormatVector(t *testing.T) {
	tests := []struct {
		name string
		v    []float32
		want string
	}{
		{"nil", nil, "[]"},
		{"empty", []float32{}, "[]"},
		{"single", []float32{0.5}, "[0.5]"},
		{"integers stay bare", []float32{1, 2, 3}, "[1,2,3]"},
		{"negative and zero", []float32{-0.5, 0, 0.5}, "[-0.5,0,0.5]"},
		{"embedding sample", []float32{0.123, -0.456, 0.789}, "[0.123,-0.456,0.789]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatVector(tt.v); got != tt.want {
				t.Errorf("FormatVector(%v) = %q, want %q", tt.v, got, tt.want)
			}
		})
	}
}

func TestFormatVectorFullDimension(t *testing.T) {
	v := make([]float32, 384)
	for i := range v {
		v[i] = float32(i) * 0.01
	}

	got := FormatVector(v)

	if !strings.HasPrefix(got, "[") || !strings.HasSuffix(got, "]") {
		t.Fatalf("literal not bracketed: %.20s...", got)
	}
	if n := strings.Count(got, ","); n != 383 {
		t.Errorf("expected 383 separators, got %d", n)
	}
}
