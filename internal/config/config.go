// ABOUTME: Configuration for the heapgrok command line tool
// ABOUTME: Loads a YAML file and .env, applies HEAPGROK_* overrides and builds component options

package config

import (
	"io/fs"
	"math/bits"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/prateek/heapgrok/decoder"
	"github.com/prateek/heapgrok/internal/logging"
	"github.com/prateek/heapgrok/memimage"
	"github.com/prateek/heapgrok/space"
	"github.com/prateek/heapgrok/walker"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "HEAPGROK_"

// Image locates the memory image. Format "raw" maps a flat file at Base;
// anything else is sniffed by the image format registry.
type Image struct {
	Path      string `yaml:"path"`
	Format    string `yaml:"format"`
	Base      uint64 `yaml:"base"`
	WordSize  uint64 `yaml:"word_size"`
	BigEndian bool   `yaml:"big_endian"`
}

// Walk configures traversal
type Walk struct {
	MaxDepth int      `yaml:"max_depth"`
	Workers  int      `yaml:"workers"`
	Policy   string   `yaml:"policy"`
	Skip     []string `yaml:"skip"`
}

// Range assigns a span of addresses to a space
type Range struct {
	Base  uint64 `yaml:"base"`
	Size  uint64 `yaml:"size"`
	Space string `yaml:"space"`
}

// Log configures the logger
type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Config is the tool configuration
type Config struct {
	Catalog     string  `yaml:"catalog"`
	Image       Image   `yaml:"image"`
	PageSize    uint64  `yaml:"page_size"`
	SmiShift    uint    `yaml:"smi_shift"`
	MaxElements int     `yaml:"max_elements"`
	Walk        Walk    `yaml:"walk"`
	Ranges      []Range `yaml:"ranges"`
	Log         Log     `yaml:"log"`
}

// Default returns the configuration used when no file sets a value
func Default() *Config {
	return &Config{
		PageSize:    space.DefaultPageSize,
		MaxElements: decoder.DefaultMaxElements,
		Walk:        Walk{MaxDepth: -1, Policy: walker.Continue.String()},
		Log:         Log{Level: "info"},
	}
}

// Load reads .env from the working directory if present, then the YAML file
// at path (skipped when path is empty), then environment overrides
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs error
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}
	uintVar := func(name string, dst *uint64) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			n, err := strconv.ParseUint(v, 0, 64)
			if err != nil {
				errs = multierr.Append(errs, errors.Wrapf(err, "%s%s", EnvPrefix, name))
				return
			}
			*dst = n
		}
	}
	intVar := func(name string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = multierr.Append(errs, errors.Wrapf(err, "%s%s", EnvPrefix, name))
				return
			}
			*dst = n
		}
	}

	str("CATALOG", &c.Catalog)
	str("IMAGE", &c.Image.Path)
	str("IMAGE_FORMAT", &c.Image.Format)
	uintVar("IMAGE_BASE", &c.Image.Base)
	uintVar("PAGE_SIZE", &c.PageSize)
	intVar("MAX_ELEMENTS", &c.MaxElements)
	intVar("MAX_DEPTH", &c.Walk.MaxDepth)
	intVar("WORKERS", &c.Walk.Workers)
	str("POLICY", &c.Walk.Policy)
	str("LOG_LEVEL", &c.Log.Level)
	return errs
}

// Validate reports every problem with the configuration
func (c *Config) Validate() error {
	var errs error
	if c.Catalog == "" {
		errs = multierr.Append(errs, errors.New("catalog path is required"))
	}
	if c.Image.Path == "" {
		errs = multierr.Append(errs, errors.New("image path is required"))
	}
	if c.Image.Format == "raw" && c.Image.WordSize != 0 && c.Image.WordSize != 4 && c.Image.WordSize != 8 {
		errs = multierr.Append(errs, errors.Errorf("image word size %d is not 4 or 8", c.Image.WordSize))
	}
	if c.PageSize == 0 || bits.OnesCount64(c.PageSize) != 1 {
		errs = multierr.Append(errs, errors.Errorf("page size 0x%x is not a power of two", c.PageSize))
	}
	if c.SmiShift != 0 && c.SmiShift != 1 && c.SmiShift != 32 {
		errs = multierr.Append(errs, errors.Errorf("smi shift %d is not 1 or 32", c.SmiShift))
	}
	if c.MaxElements <= 0 {
		errs = multierr.Append(errs, errors.Errorf("max elements %d must be positive", c.MaxElements))
	}
	if c.Walk.Workers < 0 {
		errs = multierr.Append(errs, errors.Errorf("workers %d must not be negative", c.Walk.Workers))
	}
	if _, err := walker.ParsePolicy(c.Walk.Policy); err != nil {
		errs = multierr.Append(errs, err)
	}
	for i, r := range c.Ranges {
		if r.Size == 0 || r.Space == "" {
			errs = multierr.Append(errs, errors.Errorf("range %d needs a size and a space", i))
		}
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

// Logger builds the configured logger
func (c *Config) Logger() (*zap.Logger, error) {
	return logging.New(c.Log.Level, c.Log.Development)
}

// RawParams returns the machine parameters for a raw image
func (c *Config) RawParams() memimage.Params {
	return memimage.Params{
		BigEndian: c.Image.BigEndian,
		WordSize:  c.Image.WordSize,
		PageSize:  c.PageSize,
	}
}

// ResolverOptions returns the space resolver options
func (c *Config) ResolverOptions() []space.Option {
	opts := []space.Option{space.WithPageSize(c.PageSize)}
	for _, r := range c.Ranges {
		opts = append(opts, space.WithRange(memimage.Address(r.Base), r.Size, r.Space))
	}
	return opts
}

// DecoderOptions returns the decoder options for an image with the given
// word size. The resolver is supplied by the caller.
func (c *Config) DecoderOptions(wordSize uint64, log *zap.Logger) []decoder.Option {
	if log == nil {
		log = zap.NewNop()
	}
	tagging := decoder.DefaultTagging(wordSize)
	if c.SmiShift != 0 {
		tagging.SmiShift = c.SmiShift
	}
	return []decoder.Option{
		decoder.WithTagging(tagging),
		decoder.WithMaxElements(c.MaxElements),
		decoder.WithLogger(log),
	}
}

// WalkerOptions returns the walker options
func (c *Config) WalkerOptions(log *zap.Logger) ([]walker.Option, error) {
	policy, err := walker.ParsePolicy(c.Walk.Policy)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	opts := []walker.Option{
		walker.WithMaxDepth(c.Walk.MaxDepth),
		walker.WithPolicy(policy),
		walker.WithLogger(log),
	}
	if c.Walk.Workers > 0 {
		opts = append(opts, walker.WithWorkers(c.Walk.Workers))
	}
	if len(c.Walk.Skip) > 0 {
		opts = append(opts, walker.WithSkipFields(c.Walk.Skip...))
	}
	return opts, nil
}
