package mathutil

import "testing"

func TestClampInt(t *testing.T) {
	tests := []struct {
		value, min, max, want int
	}{
		{5, 0, 10, 5},
		{-5, 0, 10, 0},
		{15, 0, 10, 10},
		{0, 0, 10, 0},
		{10, 0, 10, 10},
		{7, 5, 5, 5},
		{-15, -10, -1, -10},
	}

	for _, tt := range tests {
		if got := ClampInt(tt.value, tt.min, tt.max); got != tt.want {
			t.Errorf("ClampInt(%d, %d, %d) = %d, want %d", tt.value, tt.min, tt.max, got, tt.want)
		}
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		name                  string
		limit, def, max, want int
	}{
		{"in range", 50, 20, 100, 50},
		{"zero uses default", 0, 20, 100, 20},
		{"negative uses default", -3, 20, 100, 20},
		{"above max is capped", 500, 20, 100, 100},
		{"exactly max", 100, 20, 100, 100},
		{"minimum useful value", 1, 20, 100, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClampLimit(tt.limit, tt.def, tt.max); got != tt.want {
				t.Errorf("ClampLimit(%d, %d, %d) = %d, want %d", tt.limit, tt.def, tt.max, got, tt.want)
			}
		})
	}
}
