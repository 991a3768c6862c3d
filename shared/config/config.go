package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	YouTube    YouTubeConfig    `yaml:"youtube"`
	Sampler    SamplerConfig    `yaml:"sampler"`
	Email      EmailConfig      `yaml:"email"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Schedule   string           `yaml:"schedule"`
}

// YouTubeConfig selects API-key access when APIKey is set, otherwise OAuth
// with a cached token file.
type YouTubeConfig struct {
	APIKey            string  `yaml:"api_key" env:"YOUTUBE_API_KEY"`
	ClientID          string  `yaml:"client_id" env:"GOOGLE_CLIENT_ID"`
	ClientSecret      string  `yaml:"client_secret" env:"GOOGLE_CLIENT_SECRET"`
	TokenFile         string  `yaml:"token_file"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	MaxRetries        int     `yaml:"max_retries"`
}

type SamplerConfig struct {
	Tiers               []TierConfig       `yaml:"tiers"`
	TimeWindows         []TimeWindowConfig `yaml:"time_windows"`
	Keywords            []string           `yaml:"keywords"`
	Quota               QuotaConfig        `yaml:"quota"`
	MaxResultsPerSearch int                `yaml:"max_results_per_search"`
	MaxDetailsPerSearch int                `yaml:"max_details_per_search"`
	MaxDurationSeconds  int                `yaml:"max_duration_seconds"`
	RelevanceLanguage   string             `yaml:"relevance_language"`
	TierPriority        string             `yaml:"tier_priority"`
	CrossTierAssignment bool               `yaml:"cross_tier_assignment"`
	Seed                uint64             `yaml:"seed"`
	DataDir             string             `yaml:"data_dir"`
	ExportDir           string             `yaml:"export_dir"`
	DatasetName         string             `yaml:"dataset_name"`
}

// QuotaConfig describes the daily API budget and the per-call cost model.
type QuotaConfig struct {
	DailyLimit int    `yaml:"daily_limit"`
	Reserve    int    `yaml:"reserve"`
	SearchCost int    `yaml:"search_cost"`
	DetailCost int    `yaml:"detail_cost"`
	Timezone   string `yaml:"timezone"`
}

// TierConfig is a view-count bucket. A nil MaxViews leaves the tier unbounded
// above.
type TierConfig struct {
	Name        string `yaml:"name"`
	MinViews    int64  `yaml:"min_views"`
	MaxViews    *int64 `yaml:"max_views"`
	TargetCount int    `yaml:"target_count"`
	SearchOrder string `yaml:"search_order"`
	TimeWindows []int  `yaml:"time_windows"`
}

// Contains reports whether views falls in [MinViews, MaxViews).
func (t TierConfig) Contains(views int64) bool {
	if views < t.MinViews {
		return false
	}
	return t.MaxViews == nil || views < *t.MaxViews
}

// AllowsWindow reports whether the tier may search the window with the given
// lookback. An empty TimeWindows list allows every window.
func (t TierConfig) AllowsWindow(daysBack int) bool {
	if len(t.TimeWindows) == 0 {
		return true
	}
	for _, d := range t.TimeWindows {
		if d == daysBack {
			return true
		}
	}
	return false
}

type TimeWindowConfig struct {
	DaysBack int     `yaml:"days_back"`
	Weight   float64 `yaml:"weight"`
}

type EmailConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SMTPServer string `yaml:"smtp_server"`
	SMTPPort   int    `yaml:"smtp_port"`
	Username   string `yaml:"username" env:"EMAIL_USERNAME"`
	Password   string `yaml:"password" env:"EMAIL_PASSWORD"`
	FromEmail  string `yaml:"from_email"`
	ToEmail    string `yaml:"to_email"`
}

type MonitoringConfig struct {
	HealthPort int `yaml:"health_port"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

const (
	PriorityDeclaration = "declaration"
	PriorityDeficit     = "deficit"
)

func Load() (*Config, error) {
	_ = godotenv.Load()

	configFile := os.Getenv("CONFIG_FILE")
	if configFile == "" {
		configFile = "config.yaml"
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configFile, err)
	}

	if cfg.YouTube.APIKey == "" {
		cfg.YouTube.APIKey = os.Getenv("YOUTUBE_API_KEY")
	}
	if cfg.YouTube.ClientID == "" {
		cfg.YouTube.ClientID = os.Getenv("GOOGLE_CLIENT_ID")
	}
	if cfg.YouTube.ClientSecret == "" {
		cfg.YouTube.ClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	}
	if cfg.Email.Username == "" {
		cfg.Email.Username = os.Getenv("EMAIL_USERNAME")
	}
	if cfg.Email.Password == "" {
		cfg.Email.Password = os.Getenv("EMAIL_PASSWORD")
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if err := cfg.validateCredentials(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML and fills defaults. It does not read the environment.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.YouTube.TokenFile == "" {
		c.YouTube.TokenFile = "youtube_token.json"
	}
	if c.YouTube.RequestsPerSecond <= 0 {
		c.YouTube.RequestsPerSecond = 2 // matches the old 0.5s pause between calls
	}
	if c.YouTube.MaxRetries <= 0 {
		c.YouTube.MaxRetries = 3
	}

	s := &c.Sampler
	if len(s.Tiers) == 0 {
		s.Tiers = DefaultTiers()
	}
	if len(s.TimeWindows) == 0 {
		s.TimeWindows = DefaultTimeWindows()
	}
	if len(s.Keywords) == 0 {
		s.Keywords = DefaultKeywords()
	}
	if s.Quota.DailyLimit == 0 {
		s.Quota.DailyLimit = 10000
	}
	if s.Quota.Reserve == 0 {
		s.Quota.Reserve = 200
	}
	if s.Quota.SearchCost == 0 {
		s.Quota.SearchCost = 100
	}
	if s.Quota.DetailCost == 0 {
		s.Quota.DetailCost = 1
	}
	if s.Quota.Timezone == "" {
		s.Quota.Timezone = "America/Los_Angeles" // YouTube quota resets at Pacific midnight
	}
	if s.MaxResultsPerSearch <= 0 || s.MaxResultsPerSearch > 50 {
		s.MaxResultsPerSearch = 50
	}
	if s.MaxDetailsPerSearch <= 0 {
		s.MaxDetailsPerSearch = 20
	}
	if s.MaxDurationSeconds == 0 {
		s.MaxDurationSeconds = 60
	}
	if s.RelevanceLanguage == "" {
		s.RelevanceLanguage = "en"
	}
	if s.TierPriority == "" {
		s.TierPriority = PriorityDeclaration
	}
	if s.DataDir == "" {
		s.DataDir = "data"
	}
	if s.ExportDir == "" {
		s.ExportDir = "space_video_patterns"
	}
	if s.DatasetName == "" {
		s.DatasetName = "space_videos_patterns"
	}
	for i := range s.Tiers {
		if s.Tiers[i].SearchOrder == "" {
			s.Tiers[i].SearchOrder = "relevance"
		}
	}

	if c.Monitoring.HealthPort == 0 {
		c.Monitoring.HealthPort = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Schedule == "" {
		c.Schedule = "0 10 0 * * *" // ten minutes after the quota reset
	}
}

// Location returns the time zone the quota day is accounted in.
func (q QuotaConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid quota timezone %q: %w", q.Timezone, err)
	}
	return loc, nil
}

// TotalTarget is the sum of all tier targets.
func (s SamplerConfig) TotalTarget() int {
	total := 0
	for _, t := range s.Tiers {
		total += t.TargetCount
	}
	return total
}

func (c *Config) validate() error {
	return c.Sampler.Validate()
}

func (c *Config) validateCredentials() error {
	if c.YouTube.APIKey == "" && (c.YouTube.ClientID == "" || c.YouTube.ClientSecret == "") {
		return fmt.Errorf("YouTube credentials are required (set YOUTUBE_API_KEY, or GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET)")
	}
	if c.Email.Enabled {
		if c.Email.Username == "" || c.Email.Password == "" {
			return fmt.Errorf("email username and password are required when email is enabled (set EMAIL_USERNAME and EMAIL_PASSWORD)")
		}
		if c.Email.SMTPServer == "" || c.Email.ToEmail == "" {
			return fmt.Errorf("email.smtp_server and email.to_email are required when email is enabled")
		}
	}
	return nil
}

// Validate checks the sampling plan for internal consistency.
func (s SamplerConfig) Validate() error {
	if len(s.Tiers) == 0 {
		return fmt.Errorf("at least one tier is required")
	}
	seen := make(map[string]bool, len(s.Tiers))
	for _, t := range s.Tiers {
		if t.Name == "" {
			return fmt.Errorf("tier name is required")
		}
		if strings.Contains(t.Name, "|") {
			return fmt.Errorf("tier %q: name must not contain '|'", t.Name)
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate tier name %q", t.Name)
		}
		seen[t.Name] = true
		if t.TargetCount <= 0 {
			return fmt.Errorf("tier %q: target_count must be positive", t.Name)
		}
		if t.MinViews < 0 {
			return fmt.Errorf("tier %q: min_views must not be negative", t.Name)
		}
		if t.MaxViews != nil && *t.MaxViews <= t.MinViews {
			return fmt.Errorf("tier %q: max_views must be greater than min_views", t.Name)
		}
		for _, d := range t.TimeWindows {
			if !s.hasWindow(d) {
				return fmt.Errorf("tier %q: time window %d days is not configured", t.Name, d)
			}
		}
	}

	if len(s.TimeWindows) == 0 {
		return fmt.Errorf("at least one time window is required")
	}
	for _, w := range s.TimeWindows {
		if w.DaysBack <= 0 {
			return fmt.Errorf("time window days_back must be positive (got %d)", w.DaysBack)
		}
		if w.Weight < 0 {
			return fmt.Errorf("time window %d: weight must not be negative", w.DaysBack)
		}
	}

	if len(s.Keywords) == 0 {
		return fmt.Errorf("at least one keyword is required")
	}
	for _, k := range s.Keywords {
		if strings.TrimSpace(k) == "" || strings.Contains(k, "|") {
			return fmt.Errorf("invalid keyword %q", k)
		}
	}

	q := s.Quota
	if q.DailyLimit <= 0 {
		return fmt.Errorf("quota.daily_limit must be positive")
	}
	if q.Reserve < 0 || q.Reserve >= q.DailyLimit {
		return fmt.Errorf("quota.reserve must be between 0 and daily_limit")
	}
	if q.SearchCost <= 0 || q.DetailCost < 0 {
		return fmt.Errorf("quota costs must be positive (search_cost=%d, detail_cost=%d)", q.SearchCost, q.DetailCost)
	}
	if _, err := q.Location(); err != nil {
		return err
	}

	if s.TierPriority != PriorityDeclaration && s.TierPriority != PriorityDeficit {
		return fmt.Errorf("tier_priority must be %q or %q", PriorityDeclaration, PriorityDeficit)
	}
	return nil
}

func (s SamplerConfig) hasWindow(daysBack int) bool {
	for _, w := range s.TimeWindows {
		if w.DaysBack == daysBack {
			return true
		}
	}
	return false
}
