package config

import (
	"fmt"
	"log"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Environment    string `env:"ENV" env-default:"development"`
	DBDSN          string `env:"DB_DSN" env-required:"true"`
	MigrationsPath string `env:"MIGRATIONS_PATH" env-default:"migrations"`
	RedisAddr      string `env:"REDIS_ADDR"`     // пусто - локальные блокировки
	TelegramToken  string `env:"TELEGRAM_TOKEN"` // пусто - уведомления в лог

	Schedule ScheduleConfig
	Lock     LockConfig
}

type ScheduleConfig struct {
	SlotGranularity time.Duration `env:"SLOT_GRANULARITY" env-default:"30m"`
	Horizon         time.Duration `env:"SCHEDULE_HORIZON" env-default:"168h"`
	RefreshInterval time.Duration `env:"REFRESH_INTERVAL" env-default:"1h"`
}

type LockConfig struct {
	Wait time.Duration `env:"LOCK_WAIT" env-default:"5s"`
	TTL  time.Duration `env:"LOCK_TTL" env-default:"30s"`
}

func Load() (*Config, error) {
	// Пытаемся загрузить .env файл (игнорируем ошибку, если файла нет)
	if err := godotenv.Load(".env"); err != nil {
		log.Println("⚠️  No .env file found, using environment variables")
	} else {
		log.Println("✅ Loaded configuration from .env file")
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBDSN == "" {
		return fmt.Errorf("DB_DSN is required but not set")
	}
	if c.Schedule.SlotGranularity <= 0 {
		return fmt.Errorf("SLOT_GRANULARITY must be positive, got %s", c.Schedule.SlotGranularity)
	}
	if c.Schedule.Horizon < c.Schedule.SlotGranularity {
		return fmt.Errorf("SCHEDULE_HORIZON %s is shorter than SLOT_GRANULARITY %s", c.Schedule.Horizon, c.Schedule.SlotGranularity)
	}
	if c.Schedule.RefreshInterval <= 0 {
		return fmt.Errorf("REFRESH_INTERVAL must be positive, got %s", c.Schedule.RefreshInterval)
	}
	if c.Lock.Wait <= 0 {
		return fmt.Errorf("LOCK_WAIT must be positive, got %s", c.Lock.Wait)
	}
	if c.Lock.TTL <= c.Lock.Wait {
		return fmt.Errorf("LOCK_TTL %s must exceed LOCK_WAIT %s", c.Lock.TTL, c.Lock.Wait)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
