package logger

import "testing"

func TestNewHonorsLevel(t *testing.T) {
	log, err := New("production", "warn")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if log.Core().Enabled(-1) {
		t.Fatalf("debug enabled at warn level")
	}
	if _, err := New("development", "loud"); err == nil {
		t.Fatalf("expected invalid level error")
	}
}

func TestMaskEmail(t *testing.T) {
	cases := map[string]string{
		"john.doe@example.com": "joh***@example.com",
		"al@example.com":       "al***@example.com",
		"":                     "",
		"nodomain":             "***",
	}
	for in, want := range cases {
		if got := MaskEmail(in); got != want {
			t.Fatalf("MaskEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
