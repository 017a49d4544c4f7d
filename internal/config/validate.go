package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Validate checks a normalized config for correctness.
func Validate(cfg *Config) error {
	var collector issueCollector

	if cfg.Version != 1 {
		collector.add("version", fmt.Sprintf("unsupported version %d", cfg.Version))
	}
	if strings.TrimSpace(cfg.Storage.DSN) == "" {
		collector.add("storage.dsn", "is required")
	}
	validateQuota(cfg, collector.add)
	validateDispatch(cfg, collector.add)
	validateMailer(cfg, collector.add)
	validateLog(cfg, collector.add)

	return collector.err()
}

// validateQuota checks backend selection and lock tuning.
func validateQuota(cfg *Config, add issueAdder) {
	switch cfg.Quota.Backend {
	case BackendFile:
		if strings.TrimSpace(cfg.Quota.Dir) == "" {
			add("quota.dir", "is required when backend is file")
		}
	case BackendMemory, BackendDuckDB:
	case BackendRedis:
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			add("redis.addr", "is required when backend is redis")
		}
		if cfg.Redis.LockTTL < 0 {
			add("redis.lock_ttl", "must be >= 0")
		}
	default:
		add("quota.backend", "must be one of file, memory, duckdb, redis")
	}
	if cfg.Quota.LockTimeout <= 0 {
		add("quota.lock_timeout", "must be > 0")
	}
	if cfg.Quota.PollInterval <= 0 {
		add("quota.poll_interval", "must be > 0")
	}
	if _, err := ParseMode(cfg.Quota.FileMode); err != nil {
		add("quota.file_mode", err.Error())
	}
	if _, err := ParseMode(cfg.Quota.DirMode); err != nil {
		add("quota.dir_mode", err.Error())
	}
}

// validateDispatch checks worker tuning.
func validateDispatch(cfg *Config, add issueAdder) {
	if cfg.Dispatch.PauseCheckEvery < 1 {
		add("dispatch.pause_check_every", "must be >= 1")
	}
	if cfg.Dispatch.ServerBackoff <= 0 {
		add("dispatch.server_backoff", "must be > 0")
	}
	if cfg.Dispatch.MaxServerWait < cfg.Dispatch.ServerBackoff {
		add("dispatch.max_server_wait", "must be >= server_backoff")
	}
	if cfg.Dispatch.WorkerDelay < 0 {
		add("dispatch.worker_delay", "must be >= 0")
	}
	if cfg.Dispatch.PollInterval <= 0 {
		add("dispatch.poll_interval", "must be > 0")
	}
}

// validateMailer checks the transport mode.
func validateMailer(cfg *Config, add issueAdder) {
	switch cfg.Mailer.Mode {
	case MailerLog, MailerSMTP:
	default:
		add("mailer.mode", "must be one of log, smtp")
	}
}

// validateLog checks logger settings.
func validateLog(cfg *Config, add issueAdder) {
	switch cfg.Log.Env {
	case "development", "production":
	default:
		add("log.env", "must be one of development, production")
	}
	if level := strings.TrimSpace(cfg.Log.Level); level != "" {
		if _, err := zapcore.ParseLevel(level); err != nil {
			add("log.level", fmt.Sprintf("unknown level %q", level))
		}
	}
}

// ParseMode reads an octal permission string such as "0600".
func ParseMode(value string) (os.FileMode, error) {
	parsed, err := strconv.ParseUint(strings.TrimSpace(value), 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid octal mode %q", value)
	}
	if parsed > 0o777 {
		return 0, fmt.Errorf("mode %q has bits outside 0777", value)
	}
	return os.FileMode(parsed), nil
}
