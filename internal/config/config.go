package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/brogergvhs/noveld/internal/downloader"
	"github.com/brogergvhs/noveld/internal/endpoints"
	"github.com/brogergvhs/noveld/internal/fetch"
	"github.com/brogergvhs/noveld/internal/output"
	"github.com/brogergvhs/noveld/internal/state"

	"gopkg.in/yaml.v3"
)

const (
	minWorkers = 1
	maxWorkers = 16
)

type Endpoint struct {
	Name     string            `yaml:"name"`
	URL      string            `yaml:"url"`
	Dialect  string            `yaml:"dialect,omitempty"`
	Batch    bool              `yaml:"batch,omitempty"`
	BatchURL string            `yaml:"batch_url,omitempty"`
	Token    string            `yaml:"token,omitempty"`
	Params   map[string]string `yaml:"params,omitempty"`
}

type Batch struct {
	Enabled        bool   `yaml:"enabled"`
	Name           string `yaml:"name"`
	MaxSize        int    `yaml:"max_size"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Token          string `yaml:"token,omitempty"`
}

type Registry struct {
	URL   string `yaml:"url,omitempty"`
	Token string `yaml:"token,omitempty"`
}

type Proxy struct {
	Enabled            bool   `yaml:"enabled"`
	Domain             string `yaml:"domain,omitempty"`
	FallbackToOriginal bool   `yaml:"fallback_to_original"`
}

type Config struct {
	Output         string  `yaml:"output"`
	Format         string  `yaml:"format"`
	StatusFile     string  `yaml:"status_file"`
	Workers        int     `yaml:"workers"`
	MaxRounds      int     `yaml:"max_rounds"`
	RoundDelayMS   int     `yaml:"round_delay_ms"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RateLimit      float64 `yaml:"rate_limit"`
	Debug          bool    `yaml:"debug"`

	UserAgent        string `yaml:"user_agent"`
	FakeUserAgent    bool   `yaml:"fake_user_agent"`
	Cookie           string `yaml:"cookie"`
	CloudflareBypass bool   `yaml:"cloudflare_bypass"`
	MetadataURL      string `yaml:"metadata_url"`

	Endpoints []Endpoint `yaml:"endpoints"`
	Batch     Batch      `yaml:"batch"`
	Registry  Registry   `yaml:"registry"`
	Proxy     Proxy      `yaml:"proxy"`
}

type Options struct {
	IgnoreConfig bool
	Debug        bool
	Output       string
	Format       string
	Workers      int
	MaxRounds    int
	UserAgent    string
	RateLimit    float64
	NoBatch      bool
}

func DefaultConfig() *Config {
	return &Config{
		Output:         ".",
		Format:         output.FormatTXT,
		StatusFile:     state.DefaultFile,
		Workers:        4,
		MaxRounds:      5,
		RoundDelayMS:   1000,
		TimeoutSeconds: 15,
		Endpoints: []Endpoint{
			{
				Name:    "snssdk",
				URL:     "https://novel.snssdk.com/api/novel/book/reader/full/v1/?device_platform=android&parent_id=0&aid=2329&platform_id=1&group_id={chapter_id}&item_id={chapter_id}",
				Dialect: string(endpoints.DialectDefault),
			},
		},
		Batch: Batch{
			Name:           string(endpoints.DialectQyuing),
			MaxSize:        fetch.DefaultBatchSize,
			TimeoutSeconds: 10,
		},
		Proxy: Proxy{FallbackToOriginal: true},
	}
}

func SaveYAML(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func loadYAML(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	c := DefaultConfig()
	c.Endpoints = nil
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, err
	}
	if len(c.Endpoints) == 0 {
		c.Endpoints = DefaultConfig().Endpoints
	}

	return c, nil
}

func LoadMerged(opts Options) (*Config, string, error) {
	if opts.IgnoreConfig {
		cfg := DefaultConfig()
		mergeConfig(cfg, opts)
		normalizeDefaults(cfg)
		return cfg, "(ignored config)", nil
	}

	activePath, err := ActiveConfigPath()
	if err == ErrNoConfig || activePath == "" {
		cfg := DefaultConfig()
		mergeConfig(cfg, opts)
		normalizeDefaults(cfg)
		return cfg, "(default config in memory)\nRun `noveld config init` to create an actual config\n", nil
	}
	if err != nil {
		return nil, "", err
	}

	cfg, err := loadYAML(activePath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config %s: %w", activePath, err)
	}

	mergeConfig(cfg, opts)
	normalizeDefaults(cfg)

	return cfg, activePath, nil
}

func mergeConfig(c *Config, o Options) {
	if o.Output != "" {
		c.Output = o.Output
	}
	if o.Format != "" {
		c.Format = o.Format
	}
	if o.Workers != 0 {
		c.Workers = o.Workers
	}
	if o.MaxRounds != 0 {
		c.MaxRounds = o.MaxRounds
	}
	if o.UserAgent != "" {
		c.UserAgent = o.UserAgent
	}
	if o.RateLimit != 0 {
		c.RateLimit = o.RateLimit
	}
	if o.Debug {
		c.Debug = true
	}
	if o.NoBatch {
		c.Batch.Enabled = false
		for i := range c.Endpoints {
			c.Endpoints[i].Batch = false
		}
	}
}

func normalizeDefaults(c *Config) {
	if c.Output == "" {
		c.Output = "."
	}
	if c.Format == "" {
		c.Format = output.FormatTXT
	}
	c.Format = strings.ToLower(c.Format)
	if c.StatusFile == "" {
		c.StatusFile = state.DefaultFile
	}
	c.Workers = max(minWorkers, min(maxWorkers, c.Workers))
	if c.MaxRounds <= 0 {
		c.MaxRounds = 5
	}
	if c.RoundDelayMS < 0 {
		c.RoundDelayMS = 0
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 15
	}
	if c.RateLimit < 0 {
		c.RateLimit = 0
	}
	if c.Batch.MaxSize <= 0 {
		c.Batch.MaxSize = fetch.DefaultBatchSize
	}
	if c.Batch.TimeoutSeconds <= 0 {
		c.Batch.TimeoutSeconds = 10
	}
}

// Descriptors turns the configured endpoints into validated descriptors.
// An endpoint is batch-capable when flagged directly or when batch mode is
// enabled and it carries the batch name.
func (c *Config) Descriptors() ([]endpoints.Descriptor, error) {
	out := make([]endpoints.Descriptor, 0, len(c.Endpoints))
	for _, e := range c.Endpoints {
		dialect, err := endpoints.ParseDialect(e.Dialect)
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", e.Name, err)
		}

		d := endpoints.Descriptor{
			Name:          e.Name,
			URLTemplate:   e.URL,
			Dialect:       dialect,
			SupportsBatch: e.Batch || (c.Batch.Enabled && e.Name == c.Batch.Name),
			BatchURL:      e.BatchURL,
			Token:         e.Token,
			Params:        e.Params,
		}
		if d.SupportsBatch {
			d.BatchToken = c.Batch.Token
		}
		out = append(out, d)
	}

	if err := endpoints.ValidateAll(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Acquisition is the resolved, immutable settings of one run.
type Acquisition struct {
	Endpoints    []endpoints.Descriptor
	Fetch        fetch.Options
	Download     downloader.Options
	BatchSize    int
	BatchTimeout time.Duration
	Proxy        Proxy
	StatusFile   string
	Format       string
}

// ClientTimeout bounds any request on the shared client. It must not cut
// below the per-request timeouts of chapter or batch fetches.
func (a Acquisition) ClientTimeout() time.Duration {
	return max(a.Fetch.Timeout, a.BatchTimeout)
}

func (c *Config) Acquisition() (Acquisition, error) {
	if _, err := output.NewWriter(c.Format); err != nil {
		return Acquisition{}, err
	}

	eps, err := c.Descriptors()
	if err != nil {
		return Acquisition{}, err
	}

	fo := fetch.DefaultOptions()
	fo.Timeout = time.Duration(c.TimeoutSeconds) * time.Second

	return Acquisition{
		Endpoints: eps,
		Fetch:     fo,
		Download: downloader.Options{
			Workers:    c.Workers,
			MaxRounds:  c.MaxRounds,
			RoundDelay: time.Duration(c.RoundDelayMS) * time.Millisecond,
			RateLimit:  c.RateLimit,
		},
		BatchSize:    c.Batch.MaxSize,
		BatchTimeout: time.Duration(c.Batch.TimeoutSeconds) * time.Second,
		Proxy:        c.Proxy,
		StatusFile:   c.StatusFile,
		Format:       c.Format,
	}, nil
}

func (c *Config) Print() {
	fmt.Printf(" -output: %s\n", c.Output)
	fmt.Printf(" -format: %s\n", c.Format)
	fmt.Printf(" -status_file: %s\n", c.StatusFile)
	fmt.Printf(" -workers: %d\n", c.Workers)
	fmt.Printf(" -max_rounds: %d\n", c.MaxRounds)
	fmt.Printf(" -round_delay_ms: %d\n", c.RoundDelayMS)
	fmt.Printf(" -timeout_seconds: %d\n", c.TimeoutSeconds)
	if c.RateLimit > 0 {
		fmt.Printf(" -rate_limit: %.2f/s\n", c.RateLimit)
	}
	if c.Debug {
		fmt.Printf(" -debug: %t\n", c.Debug)
	}
	if c.UserAgent != "" {
		fmt.Printf(" -user_agent: %s\n", c.UserAgent)
	}
	if c.FakeUserAgent {
		fmt.Printf(" -fake_user_agent: %t\n", c.FakeUserAgent)
	}
	if c.CloudflareBypass {
		fmt.Printf(" -cloudflare_bypass: %t\n", c.CloudflareBypass)
	}
	if c.MetadataURL != "" {
		fmt.Printf(" -metadata_url: %s\n", c.MetadataURL)
	}
	for _, e := range c.Endpoints {
		dialect := e.Dialect
		if dialect == "" {
			dialect = string(endpoints.DialectDefault)
		}
		fmt.Printf(" -endpoint: %s [%s] %s\n", e.Name, dialect, e.URL)
	}
	if c.Batch.Enabled {
		fmt.Printf(" -batch: %s (max %d, %ds)\n", c.Batch.Name, c.Batch.MaxSize, c.Batch.TimeoutSeconds)
	}
	if c.Registry.URL != "" {
		fmt.Printf(" -registry: %s\n", c.Registry.URL)
	}
	if c.Proxy.Enabled {
		fmt.Printf(" -proxy: %s (fallback_to_original=%t)\n", c.Proxy.Domain, c.Proxy.FallbackToOriginal)
	}
}
