package lexgo

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/lexgo/internal/segment"
)

// Config is the flat, file-friendly form of the collection options.
// Zero values keep the defaults.
//
//	dirs: [/mnt/ssd1/products, /mnt/ssd2/products]
//	compression: lz4
//	merge_factor: 10
//	cache_bytes: 33554432
//	refresh_interval: 2s
//	default_lang: en
//	default_operator: or
//	broadcast:
//	  any: [title, body]
//	log_level: info
type Config struct {
	Dirs     []string `yaml:"dirs"`
	ReadOnly bool     `yaml:"read_only"`

	PrimaryKey      string        `yaml:"primary_key"`
	Compression     string        `yaml:"compression"`
	FlushBytes      int64         `yaml:"flush_bytes"`
	AutoMerge       *bool         `yaml:"auto_merge"`
	MergeFactor     int           `yaml:"merge_factor"`
	MaxSegmentBytes int64         `yaml:"max_segment_bytes"`
	LazyMergeEvery  int           `yaml:"lazy_merge_every"`
	LazyMergeSleep  time.Duration `yaml:"lazy_merge_sleep"`
	LockTimeout     time.Duration `yaml:"lock_timeout"`

	MemoryLimitBytes     int64 `yaml:"memory_limit_bytes"`
	MaxBackgroundWorkers int64 `yaml:"max_background_workers"`
	IOLimitBytesPerSec   int64 `yaml:"io_limit_bytes_per_sec"`
	BufferBudgetBytes    int64 `yaml:"buffer_budget_bytes"`
	TransferParallelism  int   `yaml:"transfer_parallelism"`

	CacheBytes      int64               `yaml:"cache_bytes"`
	MaxWindow       int                 `yaml:"max_window"`
	RefreshInterval time.Duration       `yaml:"refresh_interval"`
	IdleInterval    time.Duration       `yaml:"idle_interval"`
	DefaultLang     string              `yaml:"default_lang"`
	DefaultOperator string              `yaml:"default_operator"`
	DefaultFields   []string            `yaml:"default_fields"`
	Broadcast       map[string][]string `yaml:"broadcast"`
	MaxExpansion    int                 `yaml:"max_expansion"`
	RandomScanLimit int                 `yaml:"random_scan_limit"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// LoadConfig decodes a YAML configuration. Unknown keys are rejected.
func LoadConfig(r io.Reader) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer func() { _ = f.Close() }()
	return LoadConfig(f)
}

// Validate checks the enumerated values.
func (c Config) Validate() error {
	if _, err := c.compression(); err != nil {
		return err
	}
	if _, err := c.operator(); err != nil {
		return err
	}
	if _, err := c.logger(); err != nil {
		return err
	}
	return nil
}

func (c Config) compression() (Compression, error) {
	if c.Compression == "" {
		return CompressionZSTD, nil
	}
	comp, err := segment.ParseCompression(c.Compression)
	if err != nil {
		return 0, fmt.Errorf("%w: compression: %w", ErrInvalidConfig, err)
	}
	return comp, nil
}

func (c Config) operator() (Operator, error) {
	switch strings.ToLower(c.DefaultOperator) {
	case "", "and":
		return OperatorAnd, nil
	case "or":
		return OperatorOr, nil
	}
	return 0, fmt.Errorf("%w: default_operator %q", ErrInvalidConfig, c.DefaultOperator)
}

// logger returns nil when no level is configured.
func (c Config) logger() (*Logger, error) {
	if c.LogLevel == "" {
		return nil, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return nil, fmt.Errorf("%w: log_level: %w", ErrInvalidConfig, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text":
		return NewTextLogger(level), nil
	case "json":
		return NewJSONLogger(level), nil
	}
	return nil, fmt.Errorf("%w: log_format %q", ErrInvalidConfig, c.LogFormat)
}

// WithConfig applies a Config. Options after it override its values; zero
// values in cfg leave earlier options untouched.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		if err := cfg.Validate(); err != nil {
			o.err = err
			return
		}
		o.dirs = append(o.dirs, cfg.Dirs...)
		o.readOnly = o.readOnly || cfg.ReadOnly

		if cfg.PrimaryKey != "" {
			o.primaryKey = cfg.PrimaryKey
		}
		if cfg.Compression != "" {
			o.compression, _ = cfg.compression()
		}
		setIf(&o.flushBytes, cfg.FlushBytes)
		if cfg.AutoMerge != nil {
			o.autoMerge = *cfg.AutoMerge
		}
		setIf(&o.mergeFactor, cfg.MergeFactor)
		setIf(&o.maxSegmentBytes, cfg.MaxSegmentBytes)
		setIf(&o.lazyMergeEvery, cfg.LazyMergeEvery)
		setIf(&o.lazyMergeSleep, cfg.LazyMergeSleep)
		setIf(&o.lockTimeout, cfg.LockTimeout)

		setIf(&o.memoryLimit, cfg.MemoryLimitBytes)
		setIf(&o.maxWorkers, cfg.MaxBackgroundWorkers)
		setIf(&o.ioLimit, cfg.IOLimitBytesPerSec)
		setIf(&o.bufferBudget, cfg.BufferBudgetBytes)
		setIf(&o.transferLimit, cfg.TransferParallelism)

		setIf(&o.cacheBytes, cfg.CacheBytes)
		setIf(&o.maxWindow, cfg.MaxWindow)
		setIf(&o.refreshInterval, cfg.RefreshInterval)
		setIf(&o.idleInterval, cfg.IdleInterval)
		setIf(&o.defaultLang, cfg.DefaultLang)
		if cfg.DefaultOperator != "" {
			o.defaultOp, _ = cfg.operator()
		}
		if len(cfg.DefaultFields) > 0 {
			o.defaultFields = cfg.DefaultFields
		}
		if len(cfg.Broadcast) > 0 {
			o.broadcast = cfg.Broadcast
		}
		setIf(&o.maxExpansion, cfg.MaxExpansion)
		setIf(&o.randomScanLimit, cfg.RandomScanLimit)

		if l, _ := cfg.logger(); l != nil {
			o.logger = l
		}
	}
}

func setIf[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}
