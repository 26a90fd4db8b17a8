package auth

import "testing"

func TestGenerateCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := GenerateCode()
		if err != nil {
			t.Fatalf("GenerateCode() error: %v", err)
		}
		if !IsCodeFormat(code) {
			t.Fatalf("GenerateCode() = %q, want 6 digits", code)
		}
		seen[code] = true
	}
	// 50 draws from a million values; a handful of repeats would mean the
	// generator is not random.
	if len(seen) < 45 {
		t.Errorf("GenerateCode() produced only %d distinct codes out of 50", len(seen))
	}
}

func TestIsCodeFormat(t *testing.T) {
	tests := map[string]bool{
		"123456":  true,
		"000000":  true,
		"12345":   false,
		"1234567": false,
		"12a456":  false,
		"":        false,
		" 12345":  false,
	}
	for in, want := range tests {
		if got := IsCodeFormat(in); got != want {
			t.Errorf("IsCodeFormat(%q) = %v, want %v", in, got, want)
		}
	}
}
