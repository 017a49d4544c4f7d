package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const defaultConfig = `version: 1
storage:
  dsn: "mailpace.duckdb"

quota:
  backend: file
  dir: "quota"
  lock_timeout: 60s
  poll_interval: 10ms
  file_mode: "0600"
  dir_mode: "0700"

dispatch:
  pause_check_every: 50
  server_backoff: 30s
  max_server_wait: 30m
  worker_delay: 1s
  poll_interval: 10s

mailer:
  mode: log
  unsubscribe_url: "https://example.com/unsubscribe/MESSAGE_ID"
  web_view_url: "https://example.com/view/MESSAGE_ID"
  open_track_url: "https://example.com/open/MESSAGE_ID"

log:
  env: development
  level: info

metrics:
  listen_addr: ":9090"
`

// Scaffold writes a starter config file at path, refusing to overwrite.
func Scaffold(path string) error {
	if path == "" {
		return fmt.Errorf("config path is required")
	}
	if info, err := os.Stat(path); err == nil {
		if info.IsDir() {
			return fmt.Errorf("config path %q is a directory", path)
		}
		return fmt.Errorf("config file already exists at %q", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
