package engine

import (
	"log/slog"

	"github.com/hupe1980/lexgo/analysis"
	"github.com/hupe1980/lexgo/internal/resource"
)

// Context is the explicit state shared by the components of one collection.
type Context struct {
	Logger    *slog.Logger
	Resources *resource.Controller
	Buffers   *resource.BufferPool
	Analyzer  analysis.Analyzer
	Metrics   MetricsObserver
}

// Config configures NewContext. Zero values select defaults.
type Config struct {
	Logger       *slog.Logger
	Resources    resource.Config
	BufferBudget int64
	Analyzer     analysis.Analyzer
	Metrics      MetricsObserver
}

// DefaultBufferBudget bounds the read buffers held by idle query sessions.
const DefaultBufferBudget = 64 << 20

// NewContext builds a context, filling in defaults for unset fields.
func NewContext(cfg Config) *Context {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	budget := cfg.BufferBudget
	if budget <= 0 {
		budget = DefaultBufferBudget
	}
	an := cfg.Analyzer
	if an == nil {
		an = analysis.NewStandard()
	}
	var m MetricsObserver = NoopMetricsObserver{}
	if cfg.Metrics != nil {
		m = cfg.Metrics
	}
	return &Context{
		Logger:    logger,
		Resources: resource.NewController(cfg.Resources),
		Buffers:   resource.NewBufferPool(budget),
		Analyzer:  an,
		Metrics:   m,
	}
}

// Background returns a context with a discarding logger and default
// resources. Tests and tools use it.
func Background() *Context {
	return NewContext(Config{})
}

// With returns a shallow copy whose logger carries the given attributes.
func (c *Context) With(args ...any) *Context {
	cp := *c
	cp.Logger = c.Logger.With(args...)
	return &cp
}
