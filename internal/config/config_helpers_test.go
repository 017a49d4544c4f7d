package config

import (
	"os"
	"path/filepath"
	"testing"
)

// validConfig returns a normalized config used by validation tests.
func validConfig() Config {
	cfg := Config{}
	Normalize(&cfg)
	return cfg
}

func writeConfig(t *testing.T, dir, payload string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}
