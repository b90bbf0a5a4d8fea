package config

// Config is the root configuration structure for scangate.
// Serialised to ~/.scangate/config.json.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"  json:"database"`
	Runs      RunsConfig      `mapstructure:"runs"      json:"runs"`
	Tools     ToolsConfig     `mapstructure:"tools"     json:"tools"`
	Retention RetentionConfig `mapstructure:"retention" json:"retention"`
	Server    ServerConfig    `mapstructure:"server"    json:"server"`
	Notify    NotifyConfig    `mapstructure:"notify"    json:"notify"`
}

// DatabaseConfig controls the storage backend.
type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "mysql".
	Driver string `mapstructure:"driver" json:"driver"`
	// Path is the SQLite file path (expanded at runtime).
	Path string `mapstructure:"path"   json:"path"`
	// DSN is the MySQL data source name (used when Driver == "mysql").
	DSN string `mapstructure:"dsn"    json:"dsn"`
}

// RunsConfig bounds run and adapter concurrency.
type RunsConfig struct {
	// MaxConcurrentRuns is the global limit on simultaneously running scans.
	MaxConcurrentRuns int `mapstructure:"max_concurrent_runs" json:"max_concurrent_runs"`
	// DefaultFanout caps how many tool adapters run in parallel within one
	// run. Profiles may lower this, never raise it.
	DefaultFanout int `mapstructure:"default_fanout" json:"default_fanout"`
	// RunTimeoutSec is the default wall-clock budget for a whole run.
	RunTimeoutSec int `mapstructure:"run_timeout_sec" json:"run_timeout_sec"`
	// AdapterTimeoutSec is the default per-tool budget, independent of the
	// run budget.
	AdapterTimeoutSec int `mapstructure:"adapter_timeout_sec" json:"adapter_timeout_sec"`
	// AllowedRoots restricts which filesystem locations may be scanned.
	// Empty means any absolute path that exists.
	AllowedRoots []string `mapstructure:"allowed_roots" json:"allowed_roots"`
}

// ToolsConfig controls where tool binaries live and isolation behaviour.
type ToolsConfig struct {
	// BinDir is the directory where tool binaries are installed.
	BinDir string `mapstructure:"bin_dir"       json:"bin_dir"`
	// PreferDocker forces docker execution even when local binaries are present.
	PreferDocker bool `mapstructure:"prefer_docker" json:"prefer_docker"`
	// ScratchDir is the parent for per-adapter throwaway work directories.
	// Empty means the OS temp dir.
	ScratchDir string `mapstructure:"scratch_dir" json:"scratch_dir"`
}

// RetentionConfig controls the background purge of terminal runs.
type RetentionConfig struct {
	// Days is how long terminal runs and their findings are kept (default 90).
	Days int `mapstructure:"days" json:"days"`
	// SweepExpr is the cron expression for the retention sweep.
	SweepExpr string `mapstructure:"sweep_expr" json:"sweep_expr"`
}

// ServerConfig controls the persistent server daemon.
type ServerConfig struct {
	// Port is the localhost HTTP port the server listens on (default: 6090).
	Port int `mapstructure:"port" json:"port"`
}

// NotifyConfig holds the outbound notification channels.
type NotifyConfig struct {
	Webhook WebhookNotifyConfig `mapstructure:"webhook" json:"webhook"`
	Slack   SlackNotifyConfig   `mapstructure:"slack"   json:"slack"`
	// MinSeverity limits finding notifications; gate events always send.
	MinSeverity string `mapstructure:"min_severity" json:"min_severity"`
}

// WebhookNotifyConfig configures the generic HTTP notification channel.
type WebhookNotifyConfig struct {
	URL string `mapstructure:"url" json:"url"`
	// Secret enables HMAC-SHA256 payload signing when non-empty.
	Secret string `mapstructure:"secret" json:"secret"`
}

// SlackNotifyConfig configures the Slack incoming-webhook channel.
type SlackNotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url" json:"webhook_url"`
}
