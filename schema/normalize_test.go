package schema

import (
	"errors"
	"testing"
)

func TestNormalizeTarget(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"plain-http", "http://example.com", "http://example.com", true},
		{"plain-https", "https://example.com/admin", "https://example.com/admin", true},
		{"no-scheme", "example.com", "https://example.com", true},
		{"no-scheme-path", "example.com/login", "https://example.com/login", true},
		{"upper-host", "HTTP://EXAMPLE.COM/Path", "http://example.com/Path", true},
		{"port", "http://example.com:8080", "http://example.com:8080", true},
		{"query", "http://example.com/?q=1", "http://example.com/?q=1", true},
		{"spaces", "  http://example.com  ", "http://example.com", true},
		{"empty", "", "", false},
		{"only-spaces", "   ", "", false},
		{"ftp", "ftp://example.com", "", false},
		{"no-host", "http://", "", false},
	}

	for _, tc := range cases {
		got, err := NormalizeTarget(tc.in)
		if tc.ok && err != nil {
			t.Fatalf("case %q expected ok, got error: %v", tc.name, err)
		}
		if !tc.ok {
			if err == nil {
				t.Fatalf("case %q expected error, got %q", tc.name, got)
			}
			if !errors.Is(err, ErrInvalidTarget) {
				t.Fatalf("case %q expected ErrInvalidTarget, got %v", tc.name, err)
			}
			continue
		}
		if got != tc.want {
			t.Fatalf("case %q got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestSafeDirName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"http://example.com", "http_example_com"},
		{"https://example.com/admin", "https_example_com_admin"},
		{"http://10.0.0.1:8080", "http_10_0_0_1:8080"},
		{"https://sub.example.com/a/b", "https_sub_example_com_a_b"},
	}
	for _, tc := range cases {
		if got := SafeDirName(tc.in); got != tc.want {
			t.Fatalf("SafeDirName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
