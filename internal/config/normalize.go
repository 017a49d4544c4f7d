package config

import (
	"strings"
	"time"
)

// Defaults applied by Normalize.
const (
	DefaultDSN             = "mailpace.duckdb"
	DefaultQuotaDir        = "quota"
	DefaultLockTimeout     = 60 * time.Second
	DefaultLockPoll        = 10 * time.Millisecond
	DefaultFileMode        = "0600"
	DefaultDirMode         = "0700"
	DefaultRedisPrefix     = "mailpace:quota:"
	DefaultPauseCheckEvery = 50
	DefaultServerBackoff   = 30 * time.Second
	DefaultMaxServerWait   = 30 * time.Minute
	DefaultWorkerDelay     = time.Second
	DefaultCampaignPoll    = 10 * time.Second
	DefaultListenAddr      = ":9090"
)

// Normalize fills unset fields with defaults and canonicalizes enums.
func Normalize(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if strings.TrimSpace(cfg.Storage.DSN) == "" {
		cfg.Storage.DSN = DefaultDSN
	}

	cfg.Quota.Backend = strings.ToLower(strings.TrimSpace(cfg.Quota.Backend))
	if cfg.Quota.Backend == "" {
		cfg.Quota.Backend = BackendFile
	}
	if strings.TrimSpace(cfg.Quota.Dir) == "" {
		cfg.Quota.Dir = DefaultQuotaDir
	}
	if cfg.Quota.LockTimeout == 0 {
		cfg.Quota.LockTimeout = DefaultLockTimeout
	}
	if cfg.Quota.PollInterval == 0 {
		cfg.Quota.PollInterval = DefaultLockPoll
	}
	if cfg.Quota.FileMode == "" {
		cfg.Quota.FileMode = DefaultFileMode
	}
	if cfg.Quota.DirMode == "" {
		cfg.Quota.DirMode = DefaultDirMode
	}

	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = DefaultRedisPrefix
	}

	if cfg.Dispatch.PauseCheckEvery == 0 {
		cfg.Dispatch.PauseCheckEvery = DefaultPauseCheckEvery
	}
	if cfg.Dispatch.ServerBackoff == 0 {
		cfg.Dispatch.ServerBackoff = DefaultServerBackoff
	}
	if cfg.Dispatch.MaxServerWait == 0 {
		cfg.Dispatch.MaxServerWait = DefaultMaxServerWait
	}
	if cfg.Dispatch.WorkerDelay == 0 {
		cfg.Dispatch.WorkerDelay = DefaultWorkerDelay
	}
	if cfg.Dispatch.PollInterval == 0 {
		cfg.Dispatch.PollInterval = DefaultCampaignPoll
	}

	cfg.Mailer.Mode = strings.ToLower(strings.TrimSpace(cfg.Mailer.Mode))
	if cfg.Mailer.Mode == "" {
		cfg.Mailer.Mode = MailerLog
	}

	cfg.Log.Env = strings.ToLower(strings.TrimSpace(cfg.Log.Env))
	if cfg.Log.Env == "" {
		cfg.Log.Env = "development"
	}

	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = DefaultListenAddr
	}
}
