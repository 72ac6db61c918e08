// Package config loads process settings from a YAML file, a .env file and
// STATIONDNA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/himanishpuri/StationDNA/pkg/stationdna"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/alert"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/cloud"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "STATIONDNA"

type Settings struct {
	LogLevel   string `mapstructure:"log_level"`
	DBPath     string `mapstructure:"db_path"`
	TempDir    string `mapstructure:"temp_dir"`
	FFmpegPath string `mapstructure:"ffmpeg_path"`

	Server   ServerSettings   `mapstructure:"server"`
	Monitor  MonitorSettings  `mapstructure:"monitor"`
	ACRCloud ACRCloudSettings `mapstructure:"acrcloud"`
	MQTT     MQTTSettings     `mapstructure:"mqtt"`
}

type ServerSettings struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type MonitorSettings struct {
	CaptureIntervalSeconds     int     `mapstructure:"capture_interval_seconds"`
	CaptureDurationSeconds     int     `mapstructure:"capture_duration_seconds"`
	OverlapSeconds             int     `mapstructure:"overlap_seconds"`
	MaxRetryAttempts           int     `mapstructure:"max_retry_attempts"`
	RetryDelaySeconds          int     `mapstructure:"retry_delay_seconds"`
	HealthCheckIntervalSeconds int     `mapstructure:"health_check_interval_seconds"`
	MaxConsecutiveFailures     int     `mapstructure:"max_consecutive_failures"`
	ConfidenceThreshold        float64 `mapstructure:"confidence_threshold"`
	EnableHybridDetection      bool    `mapstructure:"enable_hybrid_detection"`
	FFmpegTimeoutSeconds       int     `mapstructure:"ffmpeg_timeout_seconds"`
	SampleRate                 int     `mapstructure:"sample_rate"`
	MinHashThreshold           int     `mapstructure:"min_hash_threshold"`
	IndexRefreshSeconds        int     `mapstructure:"index_refresh_seconds"`
	AlertDedupMinutes          int     `mapstructure:"alert_dedup_minutes"`
}

type ACRCloudSettings struct {
	Host              string            `mapstructure:"host"`
	AccessKey         string            `mapstructure:"access_key"`
	AccessSecret      string            `mapstructure:"access_secret"`
	RequestsPerMinute int               `mapstructure:"requests_per_minute"`
	RequestsPerDay    int               `mapstructure:"requests_per_day"`
	TimeoutSeconds    int               `mapstructure:"timeout_seconds"`
	DefaultPRO        string            `mapstructure:"default_pro"`
	PROOverrides      map[string]string `mapstructure:"pro_overrides"`
}

type MQTTSettings struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         int    `mapstructure:"qos"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("db_path", "stationdna.sqlite3")
	v.SetDefault("temp_dir", os.TempDir())
	v.SetDefault("ffmpeg_path", "ffmpeg")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("monitor.capture_interval_seconds", 30)
	v.SetDefault("monitor.capture_duration_seconds", 20)
	v.SetDefault("monitor.overlap_seconds", 5)
	v.SetDefault("monitor.max_retry_attempts", 3)
	v.SetDefault("monitor.retry_delay_seconds", 5)
	v.SetDefault("monitor.health_check_interval_seconds", 300)
	v.SetDefault("monitor.max_consecutive_failures", 5)
	v.SetDefault("monitor.confidence_threshold", 0.8)
	v.SetDefault("monitor.enable_hybrid_detection", true)
	v.SetDefault("monitor.ffmpeg_timeout_seconds", 30)
	v.SetDefault("monitor.sample_rate", 11025)
	v.SetDefault("monitor.min_hash_threshold", 5)
	v.SetDefault("monitor.index_refresh_seconds", 300)
	v.SetDefault("monitor.alert_dedup_minutes", 15)

	v.SetDefault("acrcloud.host", "")
	v.SetDefault("acrcloud.access_key", "")
	v.SetDefault("acrcloud.access_secret", "")
	v.SetDefault("acrcloud.requests_per_minute", 10)
	v.SetDefault("acrcloud.requests_per_day", 1000)
	v.SetDefault("acrcloud.timeout_seconds", 15)
	v.SetDefault("acrcloud.default_pro", cloud.DefaultPRO)
	v.SetDefault("acrcloud.pro_overrides", map[string]string{})

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "stationdna")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", alert.DefaultTopicPrefix)
	v.SetDefault("mqtt.qos", 1)
}

// Load reads settings. A non-empty path must name a readable config file;
// otherwise stationdna.yaml is looked up in the working directory and
// $HOME/.config/stationdna. envFiles default to .env; missing ones are skipped.
func Load(path string, envFiles ...string) (*Settings, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("stationdna")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "stationdna"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return s, nil
}

// Validate checks ranges that can be judged without the network.
func (s *Settings) Validate() error {
	var errs []error
	if s.Server.Port <= 0 || s.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", s.Server.Port))
	}
	if err := s.MonitorConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if s.ACRCloud.AccessKey != "" && (s.ACRCloud.Host == "" || s.ACRCloud.AccessSecret == "") {
		errs = append(errs, errors.New("acrcloud.host and acrcloud.access_secret are required with an access key"))
	}
	if s.MQTT.QoS < 0 || s.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos %d must be 0, 1 or 2", s.MQTT.QoS))
	}
	return errors.Join(errs...)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (s *Settings) MonitorConfig() stationdna.MonitorConfig {
	m := s.Monitor
	mc := stationdna.DefaultMonitorConfig()
	mc.CaptureInterval = seconds(m.CaptureIntervalSeconds)
	mc.CaptureDuration = seconds(m.CaptureDurationSeconds)
	mc.Overlap = seconds(m.OverlapSeconds)
	mc.MaxRetryAttempts = m.MaxRetryAttempts
	mc.RetryDelay = seconds(m.RetryDelaySeconds)
	mc.HealthCheckInterval = seconds(m.HealthCheckIntervalSeconds)
	mc.MaxConsecutiveFailures = m.MaxConsecutiveFailures
	mc.ConfidenceThreshold = m.ConfidenceThreshold
	mc.EnableHybridDetection = m.EnableHybridDetection
	mc.FFmpegTimeout = seconds(m.FFmpegTimeoutSeconds)
	if m.SampleRate > 0 {
		mc.SampleRate = m.SampleRate
	}
	if m.MinHashThreshold > 0 {
		mc.MinHashThreshold = m.MinHashThreshold
	}
	if m.IndexRefreshSeconds > 0 {
		mc.IndexRefreshInterval = seconds(m.IndexRefreshSeconds)
	}
	if m.AlertDedupMinutes > 0 {
		mc.AlertDedupTTL = time.Duration(m.AlertDedupMinutes) * time.Minute
	}
	return mc
}

// CloudConfig reports false when no credentials are configured.
func (s *Settings) CloudConfig() (cloud.Config, bool) {
	a := s.ACRCloud
	if a.AccessKey == "" {
		return cloud.Config{}, false
	}
	return cloud.Config{
		Host:              a.Host,
		AccessKey:         a.AccessKey,
		AccessSecret:      a.AccessSecret,
		Timeout:           seconds(a.TimeoutSeconds),
		RequestsPerMinute: a.RequestsPerMinute,
		RequestsPerDay:    a.RequestsPerDay,
		MaxRetries:        2,
		PROOverrides:      a.PROOverrides,
		DefaultPRO:        a.DefaultPRO,
	}, true
}

// MQTTConfig reports false when no broker is configured.
func (s *Settings) MQTTConfig() (alert.MQTTConfig, bool) {
	m := s.MQTT
	if m.Broker == "" {
		return alert.MQTTConfig{}, false
	}
	return alert.MQTTConfig{
		Broker:      m.Broker,
		ClientID:    m.ClientID,
		Username:    m.Username,
		Password:    m.Password,
		TopicPrefix: m.TopicPrefix,
		QoS:         byte(m.QoS),
	}, true
}
