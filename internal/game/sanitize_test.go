package game

import "testing"

func TestSanitizeInput(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"hello there", "hello there"},
		{"tabs\tbecome\tspaces", "tabs become spaces"},
		{"bell\x07 and escape\x1b stripped", "bell and escape stripped"},
		{"zero​width", "zerowidth"},
		{"wide　space", "wide space"},
		{"", ""},
	}
	for _, c := range cases {
		if got := sanitizeInput(c.in); got != c.want {
			t.Fatalf("sanitizeInput(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
