package uid

import "testing"

func TestNewProducesValidUIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		u := New()
		if len(u) != Length {
			t.Fatalf("expected length %d, got %d (%q)", Length, len(u), u)
		}
		if !IsValid(u) {
			t.Fatalf("generated UID %q is not valid", u)
		}
		if seen[u] {
			t.Fatalf("duplicate UID generated: %q", u)
		}
		seen[u] = true
	}
}

func TestIsValid(t *testing.T) {
	cases := []struct {
		in    string
		valid bool
	}{
		{"a1234567890", true},
		{"AbCdEfGhIjK", true},
		{"1bcdefghijk", false}, // must start with a letter
		{"abc", false},
		{"abcdefghijkl", false}, // too long
		{"abcdefghij!", false},
		{"", false},
	}
	for _, c := range cases {
		if got := IsValid(c.in); got != c.valid {
			t.Errorf("IsValid(%q) = %v, want %v", c.in, got, c.valid)
		}
	}
}
