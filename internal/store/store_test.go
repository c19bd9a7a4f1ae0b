package store

import "testing"

func TestSlugify(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Test Artist", "test-artist"},
		{"AC/DC", "ac-dc"},
		{"Sigur Rós", "sigur-r-s"},
		{"  The  Band  ", "the-band"},
		{"blink-182", "blink-182"},
		{"!!!", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Slugify(tc.in); got != tc.want {
			t.Errorf("Slugify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
