package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ScheduleConfig tunes the background delivery jobs.
type ScheduleConfig struct {
	GenerateCron      string        `mapstructure:"generateCron"`
	GenerateOnStartup bool          `mapstructure:"generateOnStartup"`
	ProgressInterval  time.Duration `mapstructure:"progressInterval"`
	BatchSize         int           `mapstructure:"batchSize"`
	Workers           int           `mapstructure:"workers"`
	JobTimeout        time.Duration `mapstructure:"jobTimeout"`
	GenerateTimeout   time.Duration `mapstructure:"generateTimeout"`
	EnabledJobs       []string      `mapstructure:"enabledJobs"`
}

func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		GenerateCron:      "0 0 * * *",
		GenerateOnStartup: true,
		ProgressInterval:  time.Minute,
		BatchSize:         100,
		Workers:           4,
		JobTimeout:        30 * time.Second,
		GenerateTimeout:   15 * time.Minute,
	}
}

type ScheduleConfigHolder struct {
	current atomic.Value // holds ScheduleConfig
}

// NewStaticScheduleConfigHolder wraps a fixed config; used by tools and tests.
func NewStaticScheduleConfigHolder(cfg ScheduleConfig) (*ScheduleConfigHolder, error) {
	if err := ValidateScheduleConfig(cfg); err != nil {
		return nil, err
	}
	holder := &ScheduleConfigHolder{}
	holder.current.Store(cfg)
	return holder, nil
}

func NewScheduleConfigHolder(log *zap.Logger) (*ScheduleConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.schedule")

	v := viper.New()

	v.SetConfigName("schedule")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/mealdelivery")
	v.AddConfigPath(".")

	v.SetEnvPrefix("MEALDELIVERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultScheduleConfig()
	v.SetDefault("schedule.generateCron", defaults.GenerateCron)
	v.SetDefault("schedule.generateOnStartup", defaults.GenerateOnStartup)
	v.SetDefault("schedule.progressInterval", defaults.ProgressInterval)
	v.SetDefault("schedule.batchSize", defaults.BatchSize)
	v.SetDefault("schedule.workers", defaults.Workers)
	v.SetDefault("schedule.jobTimeout", defaults.JobTimeout)
	v.SetDefault("schedule.generateTimeout", defaults.GenerateTimeout)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg ScheduleConfig
	if err := v.UnmarshalKey("schedule", &cfg); err != nil {
		return nil, err
	}
	if err := ValidateScheduleConfig(cfg); err != nil {
		return nil, err
	}

	holder := &ScheduleConfigHolder{}
	holder.current.Store(cfg)

	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ScheduleConfig
		if err := v.UnmarshalKey("schedule", &updated); err != nil {
			log.Warn("schedule config reload failed", zap.Error(err))
			return
		}
		if err := ValidateScheduleConfig(updated); err != nil {
			log.Warn("invalid schedule config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("schedule config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *ScheduleConfigHolder) Get() ScheduleConfig {
	return h.current.Load().(ScheduleConfig)
}

func ValidateScheduleConfig(cfg ScheduleConfig) error {
	if strings.TrimSpace(cfg.GenerateCron) == "" {
		return errors.New("schedule.generateCron cannot be empty")
	}
	if _, err := cron.ParseStandard(cfg.GenerateCron); err != nil {
		return fmt.Errorf("schedule.generateCron: %w", err)
	}
	if cfg.ProgressInterval <= 0 {
		return errors.New("schedule.progressInterval must be positive")
	}
	if cfg.JobTimeout < 0 || cfg.GenerateTimeout < 0 {
		return errors.New("schedule.jobTimeout and schedule.generateTimeout cannot be negative")
	}
	if cfg.BatchSize < 0 || cfg.Workers < 0 {
		return errors.New("schedule.batchSize and schedule.workers cannot be negative")
	}
	return nil
}
