// Package config loads the server configuration.
//
// Precedence, highest wins: command-line flags, SLIDE_MCP_* environment
// variables, the JSONC config file, defaults. The config file is selected with
// --config or SLIDE_MCP_CONFIG; without either no file is read.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/tailscale/hujson"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "SLIDE_MCP_"

var (
	ErrInvalidConfig      = errors.New("invalid config")
	ErrConfigFileNotFound = errors.New("config file not found")
)

// Config holds all configuration options.
type Config struct {
	// DataDir is the root all storage paths are relative to.
	DataDir string `json:"data_dir"`

	// MapperAddress is the URL template of the storage mapper service, with
	// {slide_id} as placeholder. Empty resolves ids inside DataDir.
	MapperAddress        string `json:"mapper_address,omitempty"`
	MapperTimeoutSeconds int    `json:"mapper_timeout_seconds"`

	MaxReturnedRegionSize            int64 `json:"max_returned_region_size"`
	MaxThumbnailSize                 int   `json:"max_thumbnail_size"`
	ImageHandleCacheSize             int   `json:"image_handle_cache_size"`
	InactiveHistoImageTimeoutSeconds int   `json:"inactive_histo_image_timeout_seconds"`

	// DecodeWorkers bounds concurrent decodes; 0 uses all CPUs.
	DecodeWorkers int `json:"decode_workers"`

	// TileSize is the tile edge reported by the single-image backend.
	TileSize int `json:"tile_size"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	// Telemetry selects the exporter: none, stdout or otlp.
	Telemetry    string `json:"telemetry"`
	OTLPEndpoint string `json:"otlp_endpoint,omitempty"`

	OCRLanguage string `json:"ocr_language"`

	// Source is the config file that was loaded, if any.
	Source string `json:"-"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		DataDir:                          ".",
		MapperTimeoutSeconds:             10,
		MaxReturnedRegionSize:            25_000_000,
		MaxThumbnailSize:                 500,
		ImageHandleCacheSize:             50,
		InactiveHistoImageTimeoutSeconds: 600,
		TileSize:                         256,
		LogLevel:                         "info",
		LogFormat:                        "text",
		Telemetry:                        "none",
		OCRLanguage:                      "eng",
	}
}

// IdleTimeout returns the handle idle timeout.
func (c Config) IdleTimeout() time.Duration {
	return time.Duration(c.InactiveHistoImageTimeoutSeconds) * time.Second
}

// MapperTimeout returns the per-request timeout of the mapper service.
func (c Config) MapperTimeout() time.Duration {
	return time.Duration(c.MapperTimeoutSeconds) * time.Second
}

// setting is one option settable from environment and flags.
type setting struct {
	key   string
	usage string
	set   func(c *Config, v string) error
}

func str(p func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*p(c) = v
		return nil
	}
}

func integer(p func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*p(c) = n
		return nil
	}
}

var settings = []setting{
	{"data_dir", "root directory of slide files", str(func(c *Config) *string { return &c.DataDir })},
	{"mapper_address", "storage mapper URL template containing {slide_id}", str(func(c *Config) *string { return &c.MapperAddress })},
	{"mapper_timeout_seconds", "timeout of one mapper request", integer(func(c *Config) *int { return &c.MapperTimeoutSeconds })},
	{"max_returned_region_size", "maximum pixels of one region", func(c *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		c.MaxReturnedRegionSize = n
		return nil
	}},
	{"max_thumbnail_size", "maximum thumbnail edge", integer(func(c *Config) *int { return &c.MaxThumbnailSize })},
	{"image_handle_cache_size", "maximum number of open slides", integer(func(c *Config) *int { return &c.ImageHandleCacheSize })},
	{"inactive_histo_image_timeout_seconds", "close slides idle for this long", integer(func(c *Config) *int { return &c.InactiveHistoImageTimeoutSeconds })},
	{"decode_workers", "concurrent decodes, 0 for all CPUs", integer(func(c *Config) *int { return &c.DecodeWorkers })},
	{"tile_size", "tile edge of single-image slides", integer(func(c *Config) *int { return &c.TileSize })},
	{"log_level", "debug, info, warn or error", str(func(c *Config) *string { return &c.LogLevel })},
	{"log_format", "text or json", str(func(c *Config) *string { return &c.LogFormat })},
	{"telemetry", "none, stdout or otlp", str(func(c *Config) *string { return &c.Telemetry })},
	{"otlp_endpoint", "OTLP gRPC endpoint", str(func(c *Config) *string { return &c.OTLPEndpoint })},
	{"ocr_language", "tesseract language of label text", str(func(c *Config) *string { return &c.OCRLanguage })},
}

func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

func envName(key string) string {
	return EnvPrefix + strings.ToUpper(key)
}

// NewFlagSet returns the flags understood by Load.
func NewFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringP("config", "c", "", "JSONC config file")
	for _, s := range settings {
		fs.String(flagName(s.key), "", s.usage)
	}
	return fs
}

// LoadInput holds the inputs for Load.
type LoadInput struct {
	Args []string          // command-line arguments, without the program name
	Env  map[string]string // environment variables
}

// Load builds the configuration and returns it with the positional arguments
// left after flag parsing.
func Load(in LoadInput) (Config, []string, error) {
	fs := NewFlagSet("slide-mcp")
	fs.SetOutput(new(bytes.Buffer))
	if err := fs.Parse(in.Args); err != nil {
		return Config{}, nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	cfg := Default()

	path, _ := fs.GetString("config")
	if path == "" {
		path = in.Env[envName("config")]
	}
	if path != "" {
		if err := loadFile(&cfg, path); err != nil {
			return Config{}, nil, err
		}
		cfg.Source = path
	}

	for _, s := range settings {
		if v, ok := in.Env[envName(s.key)]; ok && v != "" {
			if err := s.set(&cfg, v); err != nil {
				return Config{}, nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, envName(s.key), err)
			}
		}
	}

	var flagErr error
	fs.Visit(func(f *flag.Flag) {
		if flagErr != nil || f.Name == "config" {
			return
		}
		for _, s := range settings {
			if flagName(s.key) == f.Name {
				if err := s.set(&cfg, f.Value.String()); err != nil {
					flagErr = fmt.Errorf("%w: --%s: %w", ErrInvalidConfig, f.Name, err)
				}
				return
			}
		}
	})
	if flagErr != nil {
		return Config{}, nil, flagErr
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, nil, err
	}
	return cfg, fs.Args(), nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		}
		return fmt.Errorf("%w %s: %w", ErrInvalidConfig, path, err)
	}

	// Standardize JSONC to JSON
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("%w %s: invalid JSONC: %w", ErrInvalidConfig, path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("%w %s: %w", ErrInvalidConfig, path, err)
	}
	return nil
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.DataDir != "", "data_dir must not be empty")
	check(c.MapperAddress == "" || strings.Contains(c.MapperAddress, "{slide_id}"),
		"mapper_address %q lacks {slide_id}", c.MapperAddress)
	check(c.MapperTimeoutSeconds > 0, "mapper_timeout_seconds must be positive")
	check(c.MaxReturnedRegionSize > 0, "max_returned_region_size must be positive")
	check(c.MaxThumbnailSize > 0, "max_thumbnail_size must be positive")
	check(c.ImageHandleCacheSize > 0, "image_handle_cache_size must be positive")
	check(c.InactiveHistoImageTimeoutSeconds > 0, "inactive_histo_image_timeout_seconds must be positive")
	check(c.DecodeWorkers >= 0, "decode_workers must not be negative")
	check(c.TileSize > 0, "tile_size must be positive")
	check(oneOf(c.LogLevel, "debug", "info", "warn", "error"), "unknown log_level %q", c.LogLevel)
	check(oneOf(c.LogFormat, "text", "json"), "unknown log_format %q", c.LogFormat)
	check(oneOf(c.Telemetry, "none", "stdout", "otlp"), "unknown telemetry exporter %q", c.Telemetry)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// Environ returns the process environment as a map.
func Environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
