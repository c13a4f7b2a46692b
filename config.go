package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/soaska/botpulse/internal/health"
	"github.com/soaska/botpulse/internal/logger"
)

const configPath = "config.yml"

type config struct {
	Logging logger.Config  `yaml:"logging"`
	Data    DataConfig     `yaml:"data"`
	Windows health.Windows `yaml:"windows"`

	API         APIConfig         `yaml:"api"`
	Redis       RedisConfig       `yaml:"redis"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	GeoIP       GeoIPConfig       `yaml:"geoip"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

type DataConfig struct {
	DatasetPath     string `yaml:"dataset_path"`
	IdentityPath    string `yaml:"identity_path"`
	DiagnosticsPath string `yaml:"diagnostics_path"`
}

type APIConfig struct {
	Listen         string   `yaml:"listen"`
	APIKey         string   `yaml:"api_key"`
	CORSOrigins    []string `yaml:"cors_origins"`
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type TelegramConfig struct {
	Enabled  bool    `yaml:"enabled"`
	BotToken string  `yaml:"bot_token"`
	AdminIDs []int64 `yaml:"admin_ids"`
}

type GeoIPConfig struct {
	Path string `yaml:"path"`
}

type MaintenanceConfig struct {
	Interval      time.Duration `yaml:"interval"`
	BackupDir     string        `yaml:"backup_dir"`
	RetentionDays int           `yaml:"retention_days"`
	EvictAfter    time.Duration `yaml:"evict_after"`
}

var cfg *config

func loadConfig() error {
	// Initialize with defaults
	cfg = &config{
		Logging: logger.Config{
			Level: "info",
		},
		Data: DataConfig{
			DatasetPath:     "./data/dataset.json",
			IdentityPath:    "./data/identity.json",
			DiagnosticsPath: "./data/diagnostics.db",
		},
		Windows: health.DefaultWindows(),
		API: APIConfig{
			Listen: ":8080",
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
		},
		Telegram: TelegramConfig{
			Enabled: false,
		},
		Maintenance: MaintenanceConfig{
			Interval:      time.Hour,
			BackupDir:     "./data/backups",
			RetentionDays: 14,
			EvictAfter:    72 * time.Hour,
		},
	}

	// Load from file if exists
	f, err := os.Open(configPath)
	if err == nil {
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	// Override with environment variables
	applyEnvOverrides()

	return nil
}

func applyEnvOverrides() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DATASET_PATH"); v != "" {
		cfg.Data.DatasetPath = v
	}
	if v := os.Getenv("IDENTITY_PATH"); v != "" {
		cfg.Data.IdentityPath = v
	}
	if v := os.Getenv("DIAGNOSTICS_PATH"); v != "" {
		cfg.Data.DiagnosticsPath = v
	}

	if v := os.Getenv("ACTIVE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Windows.Active = d
		}
	}
	if v := os.Getenv("HEARTBEAT_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Windows.Heartbeat = d
		}
	}

	// API
	if v := os.Getenv("API_LISTEN"); v != "" {
		cfg.API.Listen = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.API.APIKey = v
	}

	// Redis
	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}

	// Telegram
	if v := os.Getenv("TELEGRAM_ENABLED"); v != "" {
		cfg.Telegram.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}

	// GeoIP
	if v := os.Getenv("GEOIP_PATH"); v != "" {
		cfg.GeoIP.Path = v
	}

	// Maintenance
	if v := os.Getenv("MAINTENANCE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Maintenance.Interval = d
		}
	}
	if v := os.Getenv("EVICT_AFTER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Maintenance.EvictAfter = d
		}
	}
	if v := os.Getenv("RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			cfg.Maintenance.RetentionDays = days
		}
	}
}
