package config

import "time"

// Config describes the mailpace YAML configuration.
type Config struct {
	Version  int            `yaml:"version"`
	Storage  StorageConfig  `yaml:"storage"`
	Quota    QuotaConfig    `yaml:"quota"`
	Redis    RedisConfig    `yaml:"redis"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Mailer   MailerConfig   `yaml:"mailer"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// StorageConfig points at the relational store.
type StorageConfig struct {
	DSN string `yaml:"dsn"`
}

// Quota backends.
const (
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendDuckDB = "duckdb"
	BackendRedis  = "redis"
)

// QuotaConfig selects and tunes the quota series backend.
type QuotaConfig struct {
	Backend      string        `yaml:"backend"`
	Dir          string        `yaml:"dir"`
	LockTimeout  time.Duration `yaml:"lock_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	FileMode     string        `yaml:"file_mode"`
	DirMode      string        `yaml:"dir_mode"`
}

// RedisConfig connects the redis quota backend.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	DB       int           `yaml:"db"`
	Password string        `yaml:"password"`
	Prefix   string        `yaml:"prefix"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

// DispatchConfig tunes campaign workers.
type DispatchConfig struct {
	PauseCheckEvery int           `yaml:"pause_check_every"`
	ServerBackoff   time.Duration `yaml:"server_backoff"`
	MaxServerWait   time.Duration `yaml:"max_server_wait"`
	WorkerDelay     time.Duration `yaml:"worker_delay"`
	PollInterval    time.Duration `yaml:"poll_interval"`
}

// Mailer modes.
const (
	MailerLog  = "log"
	MailerSMTP = "smtp"
)

// MailerConfig selects the transport used for sending servers and the
// public link templates.
type MailerConfig struct {
	Mode           string `yaml:"mode"`
	UnsubscribeURL string `yaml:"unsubscribe_url"`
	WebViewURL     string `yaml:"web_view_url"`
	OpenTrackURL   string `yaml:"open_track_url"`
}

// LogConfig selects the logger flavor.
type LogConfig struct {
	Env   string `yaml:"env"`
	Level string `yaml:"level"`
}

// MetricsConfig configures the daemon's HTTP listener.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}
