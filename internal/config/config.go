package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration of the micro-grid simulator.
type Config struct {
	DBPath   string        `mapstructure:"db_path"`
	LogLevel string        `mapstructure:"log_level"`
	Seed     int64         `mapstructure:"seed"`
	Storage  StorageConfig `mapstructure:"storage"`
	HTTP     HTTPConfig    `mapstructure:"http"`
	Timers   TimerConfig   `mapstructure:"timers"`
	Tariff   TariffConfig  `mapstructure:"tariff"`
	Plant    PlantConfig   `mapstructure:"plant"`
	Market   MarketConfig  `mapstructure:"market"`
	Houses   int           `mapstructure:"houses"`
}

// StorageConfig selects the key-value backend.
type StorageConfig struct {
	Backend       string `mapstructure:"backend"` // sqlite or redis
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
}

type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

// TimerConfig holds the periods of the simulation loops.
type TimerConfig struct {
	Refresh          time.Duration `mapstructure:"refresh"`
	Market           time.Duration `mapstructure:"market"`
	Replacements     time.Duration `mapstructure:"replacements"`
	ReplacementDelay time.Duration `mapstructure:"replacement_delay"`
}

// RateConfig is one side (buy or sell) of the pool tariff in THB/kWh.
type RateConfig struct {
	Fixed   float64 `mapstructure:"fixed"`
	Peak    float64 `mapstructure:"peak"`
	OffPeak float64 `mapstructure:"off_peak"`
}

type TariffConfig struct {
	PeakStart     string     `mapstructure:"peak_start"` // HH:mm
	PeakEnd       string     `mapstructure:"peak_end"`   // HH:mm
	Buy           RateConfig `mapstructure:"buy"`
	Sell          RateConfig `mapstructure:"sell"`
	EnforceSpread bool       `mapstructure:"enforce_spread"`
}

type PlantConfig struct {
	TotalCapacityKW    float64 `mapstructure:"total_capacity_kw"`
	MaxProductionKW    float64 `mapstructure:"max_production_kw"`
	PeakHour           int     `mapstructure:"peak_hour"`
	BatteryCapacityKWh float64 `mapstructure:"battery_capacity_kwh"`
	ReserveThreshold   float64 `mapstructure:"reserve_threshold"` // percent
	BatteryStepScale   float64 `mapstructure:"battery_step_scale"`
	MinOfferKWh        float64 `mapstructure:"min_offer_kwh"`
}

type MarketConfig struct {
	MaxEntries        int     `mapstructure:"max_entries"`
	MinEntries        int     `mapstructure:"min_entries"`
	AddOfferProb      float64 `mapstructure:"add_offer_prob"`
	AddRequestProb    float64 `mapstructure:"add_request_prob"`
	RemoveOfferProb   float64 `mapstructure:"remove_offer_prob"`
	RemoveRequestProb float64 `mapstructure:"remove_request_prob"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	v.SetDefault("db_path", filepath.Join(home, ".microgrid", "microgrid.db"))
	v.SetDefault("log_level", "info")
	v.SetDefault("seed", 0)
	v.SetDefault("houses", 12)

	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_prefix", "microgrid")

	v.SetDefault("http.port", 8080)

	v.SetDefault("timers.refresh", 3*time.Second)
	v.SetDefault("timers.market", 5*time.Second)
	v.SetDefault("timers.replacements", 250*time.Millisecond)
	v.SetDefault("timers.replacement_delay", 1500*time.Millisecond)

	v.SetDefault("tariff.peak_start", "09:00")
	v.SetDefault("tariff.peak_end", "22:00")
	v.SetDefault("tariff.buy.fixed", 4.0)
	v.SetDefault("tariff.buy.peak", 4.5)
	v.SetDefault("tariff.buy.off_peak", 2.8)
	v.SetDefault("tariff.sell.fixed", 4.6)
	v.SetDefault("tariff.sell.peak", 5.5)
	v.SetDefault("tariff.sell.off_peak", 3.2)
	v.SetDefault("tariff.enforce_spread", true)

	v.SetDefault("plant.total_capacity_kw", 100.0)
	v.SetDefault("plant.max_production_kw", 45.0)
	v.SetDefault("plant.peak_hour", 12)
	v.SetDefault("plant.battery_capacity_kwh", 200.0)
	v.SetDefault("plant.reserve_threshold", 60.0)
	v.SetDefault("plant.battery_step_scale", 0.005)
	v.SetDefault("plant.min_offer_kwh", 5.0)

	v.SetDefault("market.max_entries", 15)
	v.SetDefault("market.min_entries", 3)
	v.SetDefault("market.add_offer_prob", 0.3)
	v.SetDefault("market.add_request_prob", 0.3)
	v.SetDefault("market.remove_offer_prob", 0.15)
	v.SetDefault("market.remove_request_prob", 0.15)
}

// Load reads the config file (optional) and MICROGRID_* environment
// variables on top of the defaults. An empty cfgFile searches
// $HOME/.microgrid/config.yaml.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".microgrid"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("microgrid")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with every default applied.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	switch c.Storage.Backend {
	case "sqlite":
		if c.DBPath == "" {
			return errors.New("db_path is required for the sqlite backend")
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			return errors.New("storage.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Houses <= 0 {
		return errors.New("houses must be positive")
	}
	if c.Timers.Refresh <= 0 || c.Timers.Market <= 0 || c.Timers.Replacements <= 0 {
		return errors.New("timer periods must be positive")
	}
	if c.Timers.ReplacementDelay < 0 {
		return errors.New("timers.replacement_delay must not be negative")
	}

	if _, err := time.Parse("15:04", c.Tariff.PeakStart); err != nil {
		return fmt.Errorf("tariff.peak_start: %w", err)
	}
	if _, err := time.Parse("15:04", c.Tariff.PeakEnd); err != nil {
		return fmt.Errorf("tariff.peak_end: %w", err)
	}
	for name, r := range map[string]RateConfig{"buy": c.Tariff.Buy, "sell": c.Tariff.Sell} {
		if r.Fixed <= 0 || r.Peak <= 0 || r.OffPeak <= 0 {
			return fmt.Errorf("tariff.%s rates must be positive", name)
		}
	}
	if c.Tariff.EnforceSpread {
		if c.Tariff.Sell.Fixed < c.Tariff.Buy.Fixed ||
			c.Tariff.Sell.Peak < c.Tariff.Buy.Peak ||
			c.Tariff.Sell.OffPeak < c.Tariff.Buy.OffPeak {
			return errors.New("tariff: sell rates must not be below buy rates (set tariff.enforce_spread=false to allow)")
		}
	}

	p := c.Plant
	if p.BatteryCapacityKWh <= 0 || p.TotalCapacityKW <= 0 || p.MaxProductionKW < 0 {
		return errors.New("plant capacities must be positive")
	}
	if p.PeakHour < 0 || p.PeakHour > 23 {
		return errors.New("plant.peak_hour must be within 0-23")
	}
	if p.ReserveThreshold < 0 || p.ReserveThreshold > 100 {
		return errors.New("plant.reserve_threshold must be within 0-100")
	}
	if p.MinOfferKWh <= 0 {
		return errors.New("plant.min_offer_kwh must be positive")
	}

	m := c.Market
	if m.MaxEntries <= 0 || m.MinEntries < 0 || m.MinEntries > m.MaxEntries {
		return errors.New("market entry bounds are inconsistent")
	}
	for _, prob := range []float64{m.AddOfferProb, m.AddRequestProb, m.RemoveOfferProb, m.RemoveRequestProb} {
		if prob < 0 || prob > 1 {
			return errors.New("market probabilities must be within 0-1")
		}
	}
	return nil
}
