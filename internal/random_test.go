package internal

import "testing"

func TestNewOTPLengthAndCharset(t *testing.T) {
	for _, digits := range []int{6, 8, 10} {
		otp, err := NewOTP(digits)
		if err != nil {
			t.Fatalf("NewOTP(%d) failed: %v", digits, err)
		}
		if len(otp) != digits {
			t.Fatalf("expected %d digits, got %q", digits, otp)
		}
		for _, c := range otp {
			if c < '0' || c > '9' {
				t.Fatalf("non-digit %q in otp %q", c, otp)
			}
		}
	}
}

func TestNewOTPRejectsInvalidLength(t *testing.T) {
	for _, digits := range []int{0, 5, 11} {
		if _, err := NewOTP(digits); err == nil {
			t.Fatalf("expected rejection for %d digits", digits)
		}
	}
}

func TestRedactEmail(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"sarah@example.com", "s***h@example.com"},
		{"al@example.com", "a***@example.com"},
		{"a@example.com", "a***@example.com"},
		{"no-at-sign", "no-at-sign"},
		{"@example.com", "@example.com"},
	}
	for _, tc := range cases {
		if got := RedactEmail(tc.in); got != tc.want {
			t.Fatalf("RedactEmail(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
