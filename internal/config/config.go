// Package config loads the confsync client's own tuning knobs
// ("ClientOptions", spec §6's configuration-knob table), grounded on the
// teacher's internal/config/config.go: viper + mapstructure, env override
// via AutomaticEnv, defaults registered up front.
package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ClientOptions holds every recognized configuration knob from spec §6's
// table, plus the identity fields a client needs to address the Config
// Service and meta server.
type ClientOptions struct {
	AppID      string `mapstructure:"app_id"`
	Cluster    string `mapstructure:"cluster"`
	LocalIP    string `mapstructure:"local_ip"`
	DataCenter string `mapstructure:"data_center"`

	MetaServerURL string `mapstructure:"meta_server_url"`

	RefreshInterval              time.Duration `mapstructure:"refresh_interval"`
	LongPollingInitialDelay      time.Duration `mapstructure:"long_polling_initial_delay"`
	LoadConfigQPS                float64       `mapstructure:"load_config_qps"`
	LongPollQPS                  float64       `mapstructure:"long_poll_qps"`
	OnErrorRetryInterval         time.Duration `mapstructure:"on_error_retry_interval"`
	LongPollReadTimeout          time.Duration `mapstructure:"long_poll_read_timeout"`
	NotificationServerHoldTimeout time.Duration `mapstructure:"notification_server_hold_timeout"`

	CacheDir string `mapstructure:"cache_dir"`

	Log LogOptions `mapstructure:"log"`
}

// LogOptions mirrors pkg/logger.Config's mapstructure-facing fields.
type LogOptions struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

func setDefaults(v *viper.Viper) {
	// Every key needs a default, even an empty one: Unmarshal only consults
	// the environment for keys viper already knows.
	v.SetDefault("app_id", "")
	v.SetDefault("local_ip", "")
	v.SetDefault("data_center", "")
	v.SetDefault("cluster", "default")
	v.SetDefault("meta_server_url", "http://localhost:8080")

	v.SetDefault("refresh_interval", 5*time.Minute)
	v.SetDefault("long_polling_initial_delay", 2*time.Second)
	v.SetDefault("load_config_qps", 2.0)
	v.SetDefault("long_poll_qps", 2.0)
	v.SetDefault("on_error_retry_interval", time.Second)
	v.SetDefault("long_poll_read_timeout", 90*time.Second)
	v.SetDefault("notification_server_hold_timeout", 60*time.Second)

	v.SetDefault("cache_dir", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.filename", "")
	v.SetDefault("log.max_size_mb", 0)
	v.SetDefault("log.max_backups", 0)
	v.SetDefault("log.max_age_days", 0)
	v.SetDefault("log.compress", false)
}

// Load reads ClientOptions from configPath (if non-empty and present)
// layered under environment variables (CONFSYNC_* prefix, "." replaced
// with "_") and the defaults above, matching the teacher's
// LoadConfig/AutomaticEnv pattern.
func Load(configPath string) (*ClientOptions, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("confsync")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}

	var opts ClientOptions
	if err := v.Unmarshal(&opts); err != nil {
		return nil, err
	}
	return &opts, nil
}
