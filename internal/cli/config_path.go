package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"mailpace/internal/app"
	"mailpace/internal/config"
)

// resolveConfigPath normalizes a config path or finds it from CWD.
func resolveConfigPath(configPath string) (string, error) {
	if strings.TrimSpace(configPath) == "" {
		return config.FindConfigPath("")
	}
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}
	return abs, nil
}

// openApp is replaced in tests to inject dependencies.
var openApp = app.Open

// loadApp resolves and loads the config, then opens the app it describes.
func loadApp(ctx context.Context, configPath string) (*app.App, error) {
	resolved, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(resolved)
	if err != nil {
		return nil, err
	}
	return openApp(ctx, cfg, app.Options{})
}
