package config

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings ("100ms", "15s", "2m"). Empty durations
// fall back to the defaults listed on each field.
type Config struct {
	Logging       LoggingConfig       `json:"logging"`
	ADB           ADBConfig           `json:"adb"`
	Dispatch      DispatchConfig      `json:"dispatch"`
	Generator     GeneratorConfig     `json:"generator"`
	Storage       *StorageConfig      `json:"storage,omitempty"`
	Telegram      *TelegramConfig     `json:"telegram,omitempty"`
	Observability ObservabilityConfig `json:"observability"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards log records at or above MinLevel to the
// telegram chat configured under telegram.chat_id.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// ADBConfig configures the device driver. Devices are the dispatch workers,
// in round-robin order.
type ADBConfig struct {
	Path    string   `json:"path"`
	Devices []string `json:"devices"`

	CommandTimeout      string `json:"command_timeout,omitempty"`        // default 10s
	OpenTimeout         string `json:"open_timeout,omitempty"`           // default 15s
	WaitAfterOpen       string `json:"wait_after_open,omitempty"`        // default 15s
	WaitAfterFirstEnter string `json:"wait_after_first_enter,omitempty"` // default 10s
	StepPause           string `json:"step_pause,omitempty"`             // default 1s

	BusinessPackage string   `json:"business_package,omitempty"`
	LauncherPackage string   `json:"launcher_package,omitempty"`
	ResetPackages   []string `json:"reset_packages,omitempty"`
}

type DispatchConfig struct {
	DelayMin     string `json:"delay_min"`               // default 10s
	DelayMax     string `json:"delay_max"`               // default 15s
	SettleDelay  string `json:"settle_delay,omitempty"`  // default 3s
	PollInterval string `json:"poll_interval,omitempty"` // default 100ms

	// Schedule triggers unattended runs of LinksFile: a cron expression
	// ("0 9 * * 1-5", "@daily") or an interval ("90m", "02:30").
	Schedule  string `json:"schedule,omitempty"`
	LinksFile string `json:"links_file,omitempty"`
	Timezone  string `json:"timezone,omitempty"`
}

type GeneratorConfig struct {
	BaseURL          string   `json:"base_url,omitempty"`
	CountryPrefix    string   `json:"country_prefix,omitempty"`
	AddressDelimiter string   `json:"address_delimiter,omitempty"`
	AddressHint      string   `json:"address_hint,omitempty"`
	MonetaryMarkers  []string `json:"monetary_markers,omitempty"`
}

// StorageConfig enables run history.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./hermes.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type TelegramConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// ChatID receives run announcements and forwarded log records.
	ChatID      int64  `json:"chat_id"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// ObservabilityConfig controls the HTTP server exposing /metrics and
// /debug/pprof/.
//
// Prefer a loopback Addr. A non-loopback Addr needs a Token or an explicit
// AllowInsecure.
type ObservabilityConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default 127.0.0.1:9464
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout string `json:"read_timeout,omitempty"`
	IdleTimeout string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}

// Default is the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		ADB:     ADBConfig{Path: "adb"},
		Dispatch: DispatchConfig{
			DelayMin:     "10s",
			DelayMax:     "15s",
			SettleDelay:  "3s",
			PollInterval: "100ms",
		},
	}
}
