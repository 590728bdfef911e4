package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Athlete   AthleteConfig   `yaml:"athlete"`
	Providers ProvidersConfig `yaml:"providers"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Cache     CacheConfig     `yaml:"cache"`
	Brief     BriefConfig     `yaml:"brief"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Storage   StorageConfig   `yaml:"storage"`
}

// AthleteConfig holds athlete-specific settings
type AthleteConfig struct {
	RestingHR      float64 `yaml:"resting_hr"`
	MaxHR          float64 `yaml:"max_hr"`
	ThresholdHR    float64 `yaml:"threshold_hr"`
	Gender         string  `yaml:"gender"`
	SleepNeedHours float64 `yaml:"sleep_need_hours"`
}

// ProvidersConfig holds credentials for the three activity sources
type ProvidersConfig struct {
	Coaching CoachingConfig `yaml:"coaching"`
	Social   SocialConfig   `yaml:"social"`
	Device   DeviceConfig   `yaml:"device"`
}

type CoachingConfig struct {
	BaseURL   string `yaml:"base_url"`
	AthleteID string `yaml:"athlete_id"`
	APIKey    string `yaml:"api_key"`
}

// SocialConfig holds OAuth app credentials for the social platform
type SocialConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

type DeviceConfig struct {
	FitDir string `yaml:"fit_dir"`
}

// ScoringConfig holds the tunable weights of every score
type ScoringConfig struct {
	DedupTolerance time.Duration   `yaml:"dedup_tolerance"`
	Stress         StressWeights   `yaml:"stress"`
	Recovery       RecoveryWeights `yaml:"recovery"`
	Alert          AlertConfig     `yaml:"alert"`
}

// StressWeights are per-component penalty caps; their sum is the maximum acute stress.
type StressWeights struct {
	HRV             float64 `yaml:"hrv"`
	RHR             float64 `yaml:"rhr"`
	RecoveryDeficit float64 `yaml:"recovery_deficit"`
	TrainingLoad    float64 `yaml:"training_load"`
	SleepDisruption float64 `yaml:"sleep_disruption"`
}

type RecoveryWeights struct {
	HRV   float64 `yaml:"hrv"`
	RHR   float64 `yaml:"rhr"`
	Sleep float64 `yaml:"sleep"`
	Form  float64 `yaml:"form"`
}

// AlertConfig bounds the personalized stress threshold
type AlertConfig struct {
	Default float64 `yaml:"default"`
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
}

type PipelineConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	IllnessInterval time.Duration `yaml:"illness_interval"`
	HistoryDays     int           `yaml:"history_days"`
	MinBaselineDays int           `yaml:"min_baseline_days"`
	Baselines       Windows       `yaml:"baselines"`
}

// Windows are baseline lengths in days
type Windows struct {
	HRV         int `yaml:"hrv"`
	RHR         int `yaml:"rhr"`
	Sleep       int `yaml:"sleep"`
	Respiratory int `yaml:"respiratory"`
}

// CacheConfig holds per-kind freshness windows
type CacheConfig struct {
	Samples    time.Duration `yaml:"samples"`
	Sleep      time.Duration `yaml:"sleep"`
	Activities time.Duration `yaml:"activities"`
	Records    time.Duration `yaml:"records"`
}

type BriefConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	RedisAddr string        `yaml:"redis_addr"`
	TTL       time.Duration `yaml:"ttl"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// ErrNoConfig is returned when the config file doesn't exist
var ErrNoConfig = errors.New("config file not found")

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Athlete: AthleteConfig{
			RestingHR:      50,
			MaxHR:          185,
			ThresholdHR:    165,
			Gender:         "male",
			SleepNeedHours: 8,
		},
		Providers: ProvidersConfig{
			Coaching: CoachingConfig{BaseURL: "https://intervals.icu/api/v1"},
		},
		Scoring: ScoringConfig{
			DedupTolerance: 90 * time.Minute,
			Stress: StressWeights{
				HRV:             15,
				RHR:             15,
				RecoveryDeficit: 30,
				TrainingLoad:    30,
				SleepDisruption: 10,
			},
			Recovery: RecoveryWeights{
				HRV:   0.40,
				RHR:   0.25,
				Sleep: 0.20,
				Form:  0.15,
			},
			Alert: AlertConfig{Default: 60, Min: 40, Max: 70},
		},
		Pipeline: PipelineConfig{
			Timeout:         8 * time.Second,
			IllnessInterval: 6 * time.Hour,
			HistoryDays:     42,
			MinBaselineDays: 3,
			Baselines:       Windows{HRV: 30, RHR: 30, Sleep: 14, Respiratory: 30},
		},
		Cache: CacheConfig{
			Samples:    15 * time.Minute,
			Sleep:      time.Hour,
			Activities: 15 * time.Minute,
			Records:    time.Hour,
		},
		Brief: BriefConfig{TTL: 24 * time.Hour},
		Server: ServerConfig{
			Addr: "127.0.0.1:8642",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads ~/.readiness/config.yaml over the defaults and applies
// READINESS_* environment overrides.
func Load() (*Config, error) {
	path, err := getConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads the configuration from path. A missing file yields ErrNoConfig.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNoConfig
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.ApplyEnv(os.LookupEnv)
	cfg.Normalize()
	return &cfg, nil
}

// ApplyEnv overrides secrets and addresses from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("READINESS_COACHING_API_KEY", &c.Providers.Coaching.APIKey)
	str("READINESS_COACHING_ATHLETE_ID", &c.Providers.Coaching.AthleteID)
	str("READINESS_SOCIAL_CLIENT_ID", &c.Providers.Social.ClientID)
	str("READINESS_SOCIAL_CLIENT_SECRET", &c.Providers.Social.ClientSecret)
	str("READINESS_BRIEF_ENDPOINT", &c.Brief.Endpoint)
	str("READINESS_REDIS_ADDR", &c.Brief.RedisAddr)
	str("READINESS_SERVER_ADDR", &c.Server.Addr)
	str("READINESS_LOG_LEVEL", &c.Logging.Level)
	str("READINESS_DB_PATH", &c.Storage.DBPath)

	if v, ok := lookup("READINESS_PIPELINE_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			c.Pipeline.Timeout = d
		}
	}
	if v, ok := lookup("READINESS_SLEEP_NEED_HOURS"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Athlete.SleepNeedHours = f
		}
	}
}

// Normalize replaces out-of-range values with safe defaults.
func (c *Config) Normalize() {
	d := DefaultConfig()

	if c.Athlete.SleepNeedHours < 4 || c.Athlete.SleepNeedHours > 12 {
		c.Athlete.SleepNeedHours = d.Athlete.SleepNeedHours
	}
	if c.Athlete.RestingHR <= 0 {
		c.Athlete.RestingHR = d.Athlete.RestingHR
	}
	if c.Athlete.MaxHR <= c.Athlete.RestingHR {
		c.Athlete.MaxHR = d.Athlete.MaxHR
	}
	if c.Athlete.ThresholdHR <= c.Athlete.RestingHR || c.Athlete.ThresholdHR >= c.Athlete.MaxHR {
		c.Athlete.ThresholdHR = c.Athlete.RestingHR + 0.85*(c.Athlete.MaxHR-c.Athlete.RestingHR)
	}
	if c.Scoring.DedupTolerance < 15*time.Minute || c.Scoring.DedupTolerance > 6*time.Hour {
		c.Scoring.DedupTolerance = d.Scoring.DedupTolerance
	}

	s := &c.Scoring.Stress
	if s.HRV < 0 || s.RHR < 0 || s.RecoveryDeficit < 0 || s.TrainingLoad < 0 || s.SleepDisruption < 0 ||
		s.HRV+s.RHR+s.RecoveryDeficit+s.TrainingLoad+s.SleepDisruption <= 0 {
		*s = d.Scoring.Stress
	}
	r := &c.Scoring.Recovery
	if r.HRV < 0 || r.RHR < 0 || r.Sleep < 0 || r.Form < 0 || r.HRV+r.RHR+r.Sleep+r.Form <= 0 {
		*r = d.Scoring.Recovery
	}

	a := &c.Scoring.Alert
	if a.Min <= 0 || a.Max > 100 || a.Min >= a.Max {
		a.Min, a.Max = d.Scoring.Alert.Min, d.Scoring.Alert.Max
	}
	if a.Default < a.Min || a.Default > a.Max {
		a.Default = d.Scoring.Alert.Default
	}

	if c.Pipeline.Timeout <= 0 {
		c.Pipeline.Timeout = d.Pipeline.Timeout
	}
	if c.Pipeline.IllnessInterval <= 0 {
		c.Pipeline.IllnessInterval = d.Pipeline.IllnessInterval
	}
	if c.Pipeline.HistoryDays < 42 {
		c.Pipeline.HistoryDays = d.Pipeline.HistoryDays
	}
	if c.Pipeline.MinBaselineDays <= 0 {
		c.Pipeline.MinBaselineDays = d.Pipeline.MinBaselineDays
	}
	w := &c.Pipeline.Baselines
	if w.HRV <= 0 {
		w.HRV = d.Pipeline.Baselines.HRV
	}
	if w.RHR <= 0 {
		w.RHR = d.Pipeline.Baselines.RHR
	}
	if w.Sleep <= 0 {
		w.Sleep = d.Pipeline.Baselines.Sleep
	}
	if w.Respiratory <= 0 {
		w.Respiratory = d.Pipeline.Baselines.Respiratory
	}

	if c.Cache.Samples <= 0 {
		c.Cache.Samples = d.Cache.Samples
	}
	if c.Cache.Sleep <= 0 {
		c.Cache.Sleep = d.Cache.Sleep
	}
	if c.Cache.Activities <= 0 {
		c.Cache.Activities = d.Cache.Activities
	}
	if c.Cache.Records <= 0 {
		c.Cache.Records = d.Cache.Records
	}
	if c.Brief.TTL <= 0 {
		c.Brief.TTL = d.Brief.TTL
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		c.Logging.Format = d.Logging.Format
	}
}

// Save writes the configuration to ~/.readiness/config.yaml
func Save(cfg *Config) error {
	path, err := getConfigPath()
	if err != nil {
		return err
	}
	return SaveFile(path, cfg)
}

// SaveFile writes the configuration to path
func SaveFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// CreateExample creates an example config file if none exists
func CreateExample() error {
	path, err := getConfigPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil {
		return nil // Config exists, don't overwrite
	}

	example := DefaultConfig()
	example.Providers.Coaching.AthleteID = "YOUR_ATHLETE_ID"
	example.Providers.Coaching.APIKey = "YOUR_API_KEY"
	example.Providers.Social.ClientID = "YOUR_CLIENT_ID"
	example.Providers.Social.ClientSecret = "YOUR_CLIENT_SECRET"

	return Save(&example)
}

// Validate checks that at least one activity provider is usable.
func (c *Config) Validate() error {
	if !c.HasCoaching() && !c.HasSocial() && c.Providers.Device.FitDir == "" {
		return errors.New("no activity provider configured - set providers.coaching, providers.social or providers.device")
	}

	if c.Athlete.ThresholdHR > 0 && c.Athlete.MaxHR > 0 && c.Athlete.ThresholdHR >= c.Athlete.MaxHR {
		return fmt.Errorf("athlete.threshold_hr (%v) must be less than athlete.max_hr (%v)", c.Athlete.ThresholdHR, c.Athlete.MaxHR)
	}

	if c.Athlete.Gender != "" && c.Athlete.Gender != "male" && c.Athlete.Gender != "female" {
		return fmt.Errorf("athlete.gender must be \"male\" or \"female\", got %q", c.Athlete.Gender)
	}

	return nil
}

// HasCoaching reports whether coaching-platform credentials are filled in
func (c *Config) HasCoaching() bool {
	p := c.Providers.Coaching
	return p.APIKey != "" && p.APIKey != "YOUR_API_KEY" && p.AthleteID != "" && p.AthleteID != "YOUR_ATHLETE_ID"
}

// HasSocial reports whether social-platform OAuth credentials are filled in
func (c *Config) HasSocial() bool {
	p := c.Providers.Social
	return p.ClientID != "" && p.ClientID != "YOUR_CLIENT_ID" && p.ClientSecret != "" && p.ClientSecret != "YOUR_CLIENT_SECRET"
}

// SleepNeed returns the configured nightly sleep need
func (c *Config) SleepNeed() time.Duration {
	return time.Duration(c.Athlete.SleepNeedHours * float64(time.Hour))
}

// getConfigPath returns the path to the config file
func getConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// GetConfigDir returns the path to the config directory
func GetConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".readiness"), nil
}
