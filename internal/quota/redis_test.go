package quota

import "testing"

func TestParseInt64(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want int64
	}{
		{"valid", "42", 42},
		{"zero", "0", 0},
		{"negative", "-7", -7},
		{"missing field", nil, 0},
		{"malformed", "12abc", 0},
		{"empty string", "", 0},
		{"non-string", 42, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseInt64(tt.in); got != tt.want {
				t.Errorf("parseInt64(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}
