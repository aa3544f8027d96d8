package scheduler

import (
	"time"

	"github.com/smallbiznis/mealdelivery/internal/config"
)

// Config controls scheduler triggers, batch sizes and the delivery calendar.
type Config struct {
	GenerateCron       string
	GenerateOnStartup  bool
	ProgressInterval   time.Duration
	BatchSize          int
	Workers            int
	JobTimeout         time.Duration
	GenerateTimeout    time.Duration
	EnabledJobs        []string
	Location           *time.Location
	PlaceholderAddress string
}

func DefaultConfig() Config {
	return Config{
		GenerateCron:       "0 0 * * *",
		GenerateOnStartup:  true,
		ProgressInterval:   time.Minute,
		BatchSize:          100,
		Workers:            4,
		JobTimeout:         30 * time.Second,
		GenerateTimeout:    15 * time.Minute,
		Location:           time.UTC,
		PlaceholderAddress: config.DefaultPlaceholderAddress,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.GenerateCron == "" {
		c.GenerateCron = defaults.GenerateCron
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = defaults.ProgressInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = defaults.GenerateTimeout
	}
	if c.Location == nil {
		c.Location = defaults.Location
	}
	if c.PlaceholderAddress == "" {
		c.PlaceholderAddress = defaults.PlaceholderAddress
	}
	return c
}

// withSchedule overlays the hot-reloadable part of the configuration.
func (c Config) withSchedule(sc config.ScheduleConfig) Config {
	c.GenerateCron = sc.GenerateCron
	c.GenerateOnStartup = sc.GenerateOnStartup
	c.ProgressInterval = sc.ProgressInterval
	c.BatchSize = sc.BatchSize
	c.Workers = sc.Workers
	c.JobTimeout = sc.JobTimeout
	c.GenerateTimeout = sc.GenerateTimeout
	c.EnabledJobs = sc.EnabledJobs
	return c
}

func ProvideConfig(cfg config.Config, holder *config.ScheduleConfigHolder) (Config, error) {
	loc, err := cfg.Delivery.Location()
	if err != nil {
		return Config{}, err
	}
	out := Config{
		Location:           loc,
		PlaceholderAddress: cfg.Delivery.Placeholder(),
	}
	if holder != nil {
		out = out.withSchedule(holder.Get())
	}
	return out.withDefaults(), nil
}
