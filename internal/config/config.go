package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration. Environment variables provide
// defaults; an optional YAML file (RECLAIM_CONFIG) overlays them.
type Config struct {
	// Runtime identifies the host platform and drives the provider
	// fallback order when no stored connection is usable.
	Runtime struct {
		OS string `yaml:"os"` // "ios" or "android"
	} `yaml:"runtime"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	// Database is the optional observation archive. Empty Host disables it.
	Database struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Database string `yaml:"database"`
		SSLMode  string `yaml:"sslmode"`
	} `yaml:"database"`

	// MQTT is the optional trigger-event publisher. Empty Broker disables it.
	MQTT struct {
		Broker   string `yaml:"broker"`
		ClientID string `yaml:"client_id"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		QoS      byte   `yaml:"qos"`
		Topic    string `yaml:"topic"`
	} `yaml:"mqtt"`

	// Garmin configures the companion-bridge REST client.
	Garmin struct {
		BridgeURL string `yaml:"bridge_url"`
		APIKey    string `yaml:"api_key"`
	} `yaml:"garmin"`

	Monitor MonitorConfig `yaml:"monitor"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Duration wraps time.Duration so YAML overlays can use "30s"/"5m" strings.
type Duration time.Duration

// UnmarshalYAML parses Go duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MonitorConfig holds trigger thresholds and polling cadences. Cadences are
// fixed by design at this layer; they are configurable for tests and
// deployments, not exposed to end users.
type MonitorConfig struct {
	HeartRateSpikeBPM   float64 `yaml:"heart_rate_spike_bpm"`
	HighStressLevel     float64 `yaml:"high_stress_level"`
	LowActivityStepGoal int     `yaml:"low_activity_step_goal"`

	// Low-activity checks only count inside [ActivityWindowStartHour,
	// ActivityWindowEndHour) local time.
	ActivityWindowStartHour int `yaml:"activity_window_start_hour"`
	ActivityWindowEndHour   int `yaml:"activity_window_end_hour"`

	HeartRatePollInterval Duration `yaml:"heart_rate_poll_interval"`
	StressPollInterval    Duration `yaml:"stress_poll_interval"`
	SleepPollInterval     Duration `yaml:"sleep_poll_interval"`
	ActivityPollInterval  Duration `yaml:"activity_poll_interval"`

	// SleepEndLookback bounds the trailing sleep read; SleepEndFreshness is
	// how recently a session must have ended to count as "just ended".
	SleepEndLookback  Duration `yaml:"sleep_end_lookback"`
	SleepEndFreshness Duration `yaml:"sleep_end_freshness"`
}

// Load reads configuration from environment variables, then overlays the
// YAML file named by RECLAIM_CONFIG when set.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Runtime.OS = getEnv("RECLAIM_OS", "android")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.Database.Host = getEnv("DB_HOST", "")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "reclaim")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "reclaim-monitor")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1
	cfg.MQTT.Topic = getEnv("MQTT_TRIGGER_TOPIC", "reclaim/triggers")

	cfg.Garmin.BridgeURL = getEnv("GARMIN_BRIDGE_URL", "http://localhost:8180")
	cfg.Garmin.APIKey = getEnv("GARMIN_BRIDGE_API_KEY", "")

	cfg.Monitor = DefaultMonitorConfig()

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if path := os.Getenv("RECLAIM_CONFIG"); path != "" {
		if err := overlayFile(cfg, path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// DefaultMonitorConfig returns the stock thresholds and cadences.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		HeartRateSpikeBPM:       100,
		HighStressLevel:         70,
		LowActivityStepGoal:     3000,
		ActivityWindowStartHour: 14,
		ActivityWindowEndHour:   18,
		HeartRatePollInterval:   Duration(time.Minute),
		StressPollInterval:      Duration(time.Minute),
		SleepPollInterval:       Duration(5 * time.Minute),
		ActivityPollInterval:    Duration(time.Hour),
		SleepEndLookback:        Duration(72 * time.Hour),
		SleepEndFreshness:       Duration(10 * time.Minute),
	}
}

func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
