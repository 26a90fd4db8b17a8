package auth

import (
	"strings"
	"testing"
)

func TestHasher(t *testing.T) {
	// Cost 4 is bcrypt's minimum and keeps the test fast.
	h := Hasher{Cost: 4}

	hash, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash() error: %v", err)
	}
	if !strings.HasPrefix(hash, "$2a$04$") {
		t.Errorf("Hash() = %q, expected bcrypt cost 4 prefix", hash)
	}
	if !h.Matches("correct horse battery staple", hash) {
		t.Error("Matches() = false for the original secret")
	}
	if h.Matches("wrong", hash) {
		t.Error("Matches() = true for a wrong secret")
	}
	if h.Matches("anything", "not-a-bcrypt-hash") {
		t.Error("Matches() = true for a malformed hash")
	}
}

func TestHasherCosts(t *testing.T) {
	if Passwords.Cost != 12 {
		t.Errorf("Passwords.Cost = %d, want 12", Passwords.Cost)
	}
	if Codes.Cost != 10 {
		t.Errorf("Codes.Cost = %d, want 10", Codes.Cost)
	}
}

func TestGenerateApprovalToken(t *testing.T) {
	tok, err := GenerateApprovalToken()
	if err != nil {
		t.Fatalf("GenerateApprovalToken() error: %v", err)
	}
	if len(tok) != ApprovalTokenBytes*2 {
		t.Errorf("token length = %d, want %d", len(tok), ApprovalTokenBytes*2)
	}

	tok2, _ := GenerateApprovalToken()
	if tok == tok2 {
		t.Error("GenerateApprovalToken() returned the same token twice")
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"valid", "Bearer abc.def.ghi", "abc.def.ghi", false},
		{"extra whitespace", "Bearer   abc  ", "abc", false},
		{"empty header", "", "", true},
		{"wrong scheme", "Basic dXNlcjpwYXNz", "", true},
		{"lowercase scheme", "bearer abc", "", true},
		{"no token", "Bearer ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractBearerToken(tt.header)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExtractBearerToken(%q) error = %v, wantErr %v", tt.header, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ExtractBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}
