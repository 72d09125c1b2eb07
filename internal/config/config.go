package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/raine/ewaste-quote/internal/ewaste"
	"github.com/raine/ewaste-quote/internal/modelstore"
	"github.com/raine/ewaste-quote/internal/pricing"
	"github.com/spf13/viper"
)

const (
	AppName     = "ewaste-quote"
	EnvFileName = "config.env"
	EnvPrefix   = "EWASTE"
)

// Config holds the settings shared by the commands.
type Config struct {
	LogLevel string
	LogFile  string

	Pricing pricing.Params

	ModelDir     string
	ModelMaxAge  time.Duration
	ModelTimeout time.Duration

	// CacheDBPath enables the detection cache when set.
	CacheDBPath string
	CacheMaxAge time.Duration

	Workers      int
	GeminiAPIKey string
}

// LoadEnvFile loads KEY=value pairs from the file named by EWASTE_ENV_FILE,
// or from config.env in the user's config directory. Variables already set in
// the environment win. A missing file is not an error; the returned path is
// empty when nothing was loaded.
func LoadEnvFile() (string, error) {
	path := os.Getenv(EnvPrefix + "_ENV_FILE")
	if path == "" {
		configBase, err := os.UserConfigDir()
		if err != nil {
			return "", nil
		}
		path = filepath.Join(configBase, AppName, EnvFileName)
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to load %s: %w", path, err)
	}
	return path, nil
}

// Load reads the settings file named by EWASTE_CONFIG, if any, with EWASTE_*
// environment overrides.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(EnvPrefix + "_CONFIG"))
}

// LoadFile reads settings from path (yaml, json or toml; empty means none)
// with EWASTE_* environment overrides, e.g. EWASTE_PRICING_MARKET_RATE or
// EWASTE_PRICING_BASE_PRICES_LAPTOP.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("pricing.weight_rate", pricing.DefaultWeightRate)
	v.SetDefault("pricing.market_rate", pricing.DefaultMarketRate)
	v.SetDefault("models.dir", modelstore.DefaultDir())
	v.SetDefault("models.max_age", modelstore.DefaultMaxAge)
	v.SetDefault("models.timeout", modelstore.DefaultTimeout)
	v.SetDefault("cache.db_path", "")
	v.SetDefault("cache.max_age", 30*24*time.Hour)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("gemini.api_key", "")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	params, err := pricingParams(v)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		LogLevel:     v.GetString("log.level"),
		LogFile:      v.GetString("log.file"),
		Pricing:      params,
		ModelDir:     v.GetString("models.dir"),
		ModelMaxAge:  v.GetDuration("models.max_age"),
		ModelTimeout: v.GetDuration("models.timeout"),
		CacheDBPath:  v.GetString("cache.db_path"),
		CacheMaxAge:  v.GetDuration("cache.max_age"),
		Workers:      v.GetInt("pipeline.workers"),
		GeminiAPIKey: v.GetString("gemini.api_key"),
	}
	if cfg.GeminiAPIKey == "" {
		cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("pipeline.workers must be at least 1, got %d", cfg.Workers)
	}
	return cfg, nil
}

func pricingParams(v *viper.Viper) (pricing.Params, error) {
	prices := make(map[string]float64)
	for key := range v.GetStringMap("pricing.base_prices") {
		prices[key] = v.GetFloat64("pricing.base_prices." + key)
	}
	// Env overrides are only visible to viper when asked for by name.
	for _, c := range ewaste.Categories {
		key := "pricing.base_prices." + strings.ToLower(string(c))
		if v.IsSet(key) {
			prices[string(c)] = v.GetFloat64(key)
		}
	}

	override, err := pricing.TableFromMap(prices)
	if err != nil {
		return pricing.Params{}, err
	}
	params := pricing.Params{
		Table:      pricing.DefaultTable().Merge(override),
		WeightRate: v.GetFloat64("pricing.weight_rate"),
		MarketRate: v.GetFloat64("pricing.market_rate"),
	}
	if err := params.Validate(); err != nil {
		return pricing.Params{}, fmt.Errorf("invalid pricing settings: %w", err)
	}
	return params, nil
}
