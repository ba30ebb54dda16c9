package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when neither --config nor CONFIG_PATH is set.
const DefaultPath = "config.yaml"

// Supported rendering engines.
const (
	EngineChrome = "chrome"
	EngineBasic  = "basic"
)

// PaperSize is a page size in inches.
type PaperSize struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// Config holds every setting of the service. It is loaded once at startup
// and treated as read-only afterwards.
type Config struct {
	Server struct {
		Host         string        `yaml:"host"`
		Port         string        `yaml:"port"`
		Prefork      bool          `yaml:"prefork"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`

	Service struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"service"`

	Limits struct {
		MaxBodyBytes int `yaml:"max_body_bytes"`
		MaxHTMLBytes int `yaml:"max_html_bytes"`
		MaxPDFBytes  int `yaml:"max_pdf_bytes"`
	} `yaml:"limits"`

	Logger struct {
		File       string `yaml:"file"`
		Level      string `yaml:"level"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logger"`

	PDF struct {
		Engine          string               `yaml:"engine"`
		DefaultFilename string               `yaml:"default_filename"`
		DefaultPaper    string               `yaml:"default_paper"`
		PaperSizes      map[string]PaperSize `yaml:"paper_sizes"`
		DefaultMargin   float64              `yaml:"default_margin"`
		TimeoutSecs     int                  `yaml:"timeout_secs"`
		StripScripts    bool                 `yaml:"strip_scripts"`
		BaseStyles      bool                 `yaml:"base_styles"`
		ChromePath      string               `yaml:"chrome_path"`
		ChromeNoSandbox bool                 `yaml:"chrome_no_sandbox"`
		ChromePoolSize  int                  `yaml:"chrome_pool_size"`
		UserDataDir     string               `yaml:"user_data_dir"`
	} `yaml:"pdf"`

	CORS struct {
		AllowOrigins string `yaml:"allow_origins"`
	} `yaml:"cors"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
		Monitor bool   `yaml:"monitor"`
	} `yaml:"metrics"`
}

// Addr returns the listen address built from host and port.
func (c Config) Addr() string {
	port := c.Server.Port
	if port != "" && !strings.HasPrefix(port, ":") {
		port = ":" + port
	}
	return c.Server.Host + port
}

// RenderTimeout is the wall-clock bound of a single render.
func (c Config) RenderTimeout() time.Duration {
	return time.Duration(c.PDF.TimeoutSecs) * time.Second
}

// Default returns a configuration that works without a config file.
func Default() Config {
	var cfg Config
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = ":5000"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 60 * time.Second

	cfg.Service.Name = "PDF Generation API"
	cfg.Service.Version = "1.0.0"

	cfg.Limits.MaxBodyBytes = 12 * 1024 * 1024
	cfg.Limits.MaxHTMLBytes = 10 * 1024 * 1024
	cfg.Limits.MaxPDFBytes = 50 * 1024 * 1024

	cfg.Logger.Level = "info"
	cfg.Logger.MaxSizeMB = 10
	cfg.Logger.MaxBackups = 3
	cfg.Logger.MaxAgeDays = 7

	cfg.PDF.Engine = EngineChrome
	cfg.PDF.DefaultFilename = "report_{{.Timestamp}}"
	cfg.PDF.DefaultPaper = "A4"
	cfg.PDF.PaperSizes = DefaultPaperSizes()
	cfg.PDF.DefaultMargin = 0.4
	cfg.PDF.TimeoutSecs = 30
	cfg.PDF.StripScripts = true
	cfg.PDF.BaseStyles = true
	cfg.PDF.ChromeNoSandbox = true

	cfg.CORS.AllowOrigins = "*"

	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"
	return cfg
}

// DefaultPaperSizes returns the built-in paper table in inches.
func DefaultPaperSizes() map[string]PaperSize {
	return map[string]PaperSize{
		"A3":     {Width: 11.69, Height: 16.54},
		"A4":     {Width: 8.27, Height: 11.69},
		"A5":     {Width: 5.83, Height: 8.27},
		"LETTER": {Width: 8.5, Height: 11},
		"LEGAL":  {Width: 8.5, Height: 14},
	}
}

// Load reads the file named by CONFIG_PATH (or DefaultPath) and panics on
// invalid settings.
func Load() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = DefaultPath
	}
	return LoadFrom(path)
}

// LoadFrom reads the given file on top of Default, applies environment
// overrides and panics if the result is invalid. A missing file is not an
// error.
func LoadFrom(path string) Config {
	cfg, err := Read(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Read is the non-panicking variant of LoadFrom.
func Read(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	// Allow common container env var to override chrome_path.
	if c.PDF.ChromePath == "" {
		if v := os.Getenv("CHROME_BIN"); v != "" {
			c.PDF.ChromePath = v
		}
	}
}

func (c *Config) normalize() {
	c.PDF.Engine = strings.ToLower(strings.TrimSpace(c.PDF.Engine))
	c.PDF.DefaultPaper = strings.ToUpper(c.PDF.DefaultPaper)
	if len(c.PDF.PaperSizes) > 0 {
		sizes := make(map[string]PaperSize, len(c.PDF.PaperSizes))
		for name, size := range c.PDF.PaperSizes {
			sizes[strings.ToUpper(name)] = size
		}
		c.PDF.PaperSizes = sizes
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Limits.MaxBodyBytes <= 0:
		return errors.New("limits.max_body_bytes must be positive")
	case c.Limits.MaxHTMLBytes <= 0:
		return errors.New("limits.max_html_bytes must be positive")
	case c.Limits.MaxPDFBytes <= 0:
		return errors.New("limits.max_pdf_bytes must be positive")
	case c.PDF.TimeoutSecs <= 0:
		return errors.New("pdf.timeout_secs must be positive")
	case c.PDF.ChromePoolSize < 0:
		return errors.New("pdf.chrome_pool_size must not be negative")
	case c.PDF.DefaultMargin < 0 || c.PDF.DefaultMargin > 2:
		return errors.New("pdf.default_margin must be between 0 and 2 inches")
	case c.PDF.Engine != EngineChrome && c.PDF.Engine != EngineBasic:
		return fmt.Errorf("pdf.engine %q is not supported", c.PDF.Engine)
	}
	if _, ok := c.PDF.PaperSizes[c.PDF.DefaultPaper]; !ok {
		return fmt.Errorf("pdf.default_paper %q is not in pdf.paper_sizes", c.PDF.DefaultPaper)
	}
	for name, size := range c.PDF.PaperSizes {
		if size.Width <= 0 || size.Height <= 0 {
			return fmt.Errorf("pdf.paper_sizes.%s must have positive dimensions", name)
		}
	}
	return nil
}
