// Package file stores each quota series in its own file and coordinates
// access with advisory flock(2) locks, so separate processes sharing a
// directory see one consistent series per key.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"mailpace/internal/backend"
	"mailpace/internal/timeseries"
)

const (
	// DefaultFileMode is applied to series files and the bootstrap lock.
	DefaultFileMode fs.FileMode = 0o600
	// DefaultDirMode is applied to directories created under Dir.
	DefaultDirMode fs.FileMode = 0o700

	bootstrapName = ".bootstrap.lock"
)

// ErrInvalidKey reports a key that would escape the storage directory.
var ErrInvalidKey = errors.New("invalid series key")

// Config configures a file backend.
type Config struct {
	Dir      string
	FileMode fs.FileMode
	DirMode  fs.FileMode
	Options  backend.Options
}

// Backend keeps series under Dir, one file per key.
type Backend struct {
	dir       string
	fileMode  fs.FileMode
	dirMode   fs.FileMode
	opts      backend.Options
	bootstrap string
}

// New prepares the storage directory and returns a Backend.
func New(cfg Config) (*Backend, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("file backend: dir is required")
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = DefaultFileMode
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = DefaultDirMode
	}
	if err := os.MkdirAll(cfg.Dir, cfg.DirMode); err != nil {
		return nil, fmt.Errorf("create quota dir: %w", err)
	}
	return &Backend{
		dir:       cfg.Dir,
		fileMode:  cfg.FileMode,
		dirMode:   cfg.DirMode,
		opts:      cfg.Options.Normalize(),
		bootstrap: filepath.Join(cfg.Dir, bootstrapName),
	}, nil
}

// Path returns the file that backs key.
func (b *Backend) Path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == "." || clean == ".." ||
		strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == bootstrapName {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(b.dir, clean), nil
}

// Exclusive locks the series file for key, hands fn the parsed series and
// rewrites the file when fn succeeds.
func (b *Backend) Exclusive(ctx context.Context, key string, fn func(series *timeseries.Series) error) error {
	path, err := b.ensure(ctx, key)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open series %s: %w", key, err)
	}
	defer f.Close()
	if err := backend.Poll(ctx, b.opts, key, func() (bool, error) { return tryLock(f, lockExclusive) }); err != nil {
		return err
	}
	defer unlock(f)

	series, err := readSeries(f)
	if err != nil {
		return fmt.Errorf("read series %s: %w", key, err)
	}
	if err := fn(&series); err != nil {
		return err
	}
	if err := writeSeries(f, series); err != nil {
		return fmt.Errorf("write series %s: %w", key, err)
	}
	return nil
}

// Shared takes a shared lock on the series file for key and hands fn the
// parsed series.
func (b *Backend) Shared(ctx context.Context, key string, fn func(series timeseries.Series) error) error {
	path, err := b.ensure(ctx, key)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open series %s: %w", key, err)
	}
	defer f.Close()
	if err := backend.Poll(ctx, b.opts, key, func() (bool, error) { return tryLock(f, lockShared) }); err != nil {
		return err
	}
	defer unlock(f)

	series, err := readSeries(f)
	if err != nil {
		return fmt.Errorf("read series %s: %w", key, err)
	}
	return fn(series)
}

// ensure creates the series file for key under the bootstrap lock so that
// concurrent first use never races on directory or file creation.
func (b *Backend) ensure(ctx context.Context, key string) (string, error) {
	path, err := b.Path(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	lock, err := os.OpenFile(b.bootstrap, os.O_RDWR|os.O_CREATE, b.fileMode)
	if err != nil {
		return "", fmt.Errorf("open bootstrap lock: %w", err)
	}
	defer lock.Close()
	if err := backend.Poll(ctx, b.opts, bootstrapName, func() (bool, error) { return tryLock(lock, lockExclusive) }); err != nil {
		return "", err
	}
	defer unlock(lock)

	if err := os.MkdirAll(filepath.Dir(path), b.dirMode); err != nil {
		return "", fmt.Errorf("create series dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, b.fileMode)
	switch {
	case err == nil:
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("close series %s: %w", key, err)
		}
		// Creation mode is filtered by umask.
		if err := os.Chmod(path, b.fileMode); err != nil {
			return "", fmt.Errorf("chmod series %s: %w", key, err)
		}
	case errors.Is(err, fs.ErrExist):
	default:
		return "", fmt.Errorf("create series %s: %w", key, err)
	}
	return path, nil
}

func readSeries(f *os.File) (timeseries.Series, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return timeseries.Parse(string(data)), nil
}

func writeSeries(f *os.File, series timeseries.Series) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt([]byte(series.Format()), 0); err != nil {
		return err
	}
	return nil
}
