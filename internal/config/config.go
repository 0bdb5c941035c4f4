package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the recognized configuration surface of the coordinator.
type Config struct {
	Mode      string        `mapstructure:"mode"`
	Port      int           `mapstructure:"port"`
	Secret    string        `mapstructure:"secret"`
	StorePath string        `mapstructure:"store_path"`
	ReadLimit int64         `mapstructure:"read_limit"`

	PingPeriod time.Duration `mapstructure:"ping_period"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`

	RoomCodeLength   int    `mapstructure:"room_code_length"`
	RoomCodeAlphabet string `mapstructure:"room_code_alphabet"`

	DefaultMaxParticipants int  `mapstructure:"default_max_participants"`
	MaxParticipantsCap     int  `mapstructure:"max_participants_cap"`
	WaitingRoomDefault     bool `mapstructure:"waiting_room_default"`

	GracePeriod  time.Duration `mapstructure:"grace_period"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	ReapInterval time.Duration `mapstructure:"reap_interval"`

	ChatRateLimit  int           `mapstructure:"chat_rate_limit"`
	ChatRateWindow time.Duration `mapstructure:"chat_rate_window"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "dev-secret-change-me")
	v.SetDefault("store_path", "coordinator.db")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("token_ttl", "168h")
	v.SetDefault("room_code_length", 6)
	v.SetDefault("room_code_alphabet", "ABCDEFGHJKLMNPQRSTUVWXYZ23456789")
	v.SetDefault("default_max_participants", 8)
	v.SetDefault("max_participants_cap", 32)
	v.SetDefault("waiting_room_default", false)
	v.SetDefault("grace_period", "30s")
	v.SetDefault("idle_timeout", "10m")
	v.SetDefault("reap_interval", "2m")
	v.SetDefault("chat_rate_limit", 20)
	v.SetDefault("chat_rate_window", "10s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Grace: %s | Idle: %s\n", cfg.Mode, cfg.Port, cfg.GracePeriod, cfg.IdleTimeout)
	return &cfg, nil
}
