package validation

import (
	"testing"
)

func TestIsValidUserID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"alice", true},
		{"user_42", true},
		{"a-b-c", true},
		{"", false},
		{"has space", false},
		{"emoji😀", false},
		{string(make([]byte, 65)), false},
	}
	for _, tt := range tests {
		if got := IsValidUserID(tt.id); got != tt.valid {
			t.Errorf("IsValidUserID(%q) = %v, want %v", tt.id, got, tt.valid)
		}
	}
}

func TestIsValidResourceID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"trd_0123456789abcdef01234567", true},
		{"ord_0123456789abcdef01234567", true},
		{"trd_short", false},
		{"0123456789abcdef01234567", false},
		{"TRD_0123456789abcdef01234567", false},
	}
	for _, tt := range tests {
		if got := IsValidResourceID(tt.id); got != tt.valid {
			t.Errorf("IsValidResourceID(%q) = %v, want %v", tt.id, got, tt.valid)
		}
	}
}

func TestValidAmount(t *testing.T) {
	tests := []struct {
		amount string
		valid  bool
	}{
		{"100", true},
		{"5.20", true},
		{"0.0001", true},
		{"", true}, // empty is handled by Required
		{"0", false},
		{"0.00", false},
		{"-5", false},
		{"1.2.3", false},
		{".5", false},
		{"5.", false},
		{"abc", false},
	}
	for _, tt := range tests {
		err := ValidAmount("amount", tt.amount)()
		if tt.valid && err != nil {
			t.Errorf("ValidAmount(%q) unexpected error: %v", tt.amount, err)
		}
		if !tt.valid && err == nil {
			t.Errorf("ValidAmount(%q) expected error, got nil", tt.amount)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  hello\x00world  ", 100); got != "helloworld" {
		t.Errorf("SanitizeString = %q", got)
	}
	if got := SanitizeString("abcdef", 3); got != "abc" {
		t.Errorf("SanitizeString length cap = %q", got)
	}
}

func TestValidate_CollectsErrors(t *testing.T) {
	errs := Validate(
		Required("buyer_id", ""),
		ValidAmount("amount", "-1"),
	)
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(errs))
	}
	if errs.Error() == "" {
		t.Error("expected non-empty error string")
	}
}
