package domain

import "testing"

func TestCursorLess(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"same length lexical", "100", "101", true},
		{"same length equal", "101", "101", false},
		{"same length greater", "102", "101", false},
		{"shorter is older", "99", "100", true},
		{"longer is newer", "100", "99", false},
		{"empty is older than anything", "", "1", true},
		{"nothing is older than empty", "1", "", false},
		{"large snowflake ids", "1385030381435506688", "1385030381435506689", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CursorLess(tt.a, tt.b); got != tt.want {
				t.Errorf("CursorLess(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
