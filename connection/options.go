package connection

import (
	"time"

	"go.uber.org/zap"

	"github.com/xmidt-org/sallust"
)

// Default knob values, matching spec.md §5's timeout table.
const (
	DefaultGracePeriod           = 600 * time.Second
	DefaultRateLimitWindow       = 60 * time.Second
	DefaultRateLimitMaxCommands  = 30
	DefaultDiversityWindow       = 10 * time.Second
	DefaultDiversityThreshold    = 5
)

// Options configures a Manager, following the functional-default
// accessor pattern device/options.go uses throughout the teacher
// package (o.xxx() methods that fall back to a Default* constant).
type Options struct {
	GracePeriod          time.Duration
	RateLimitWindow      time.Duration
	RateLimitMaxCommands int
	DiversityWindow      time.Duration
	DiversityThreshold   int

	Logger *zap.Logger
}

func (o *Options) gracePeriod() time.Duration {
	if o != nil && o.GracePeriod > 0 {
		return o.GracePeriod
	}
	return DefaultGracePeriod
}

func (o *Options) rateLimitWindow() time.Duration {
	if o != nil && o.RateLimitWindow > 0 {
		return o.RateLimitWindow
	}
	return DefaultRateLimitWindow
}

func (o *Options) rateLimitMaxCommands() int {
	if o != nil && o.RateLimitMaxCommands > 0 {
		return o.RateLimitMaxCommands
	}
	return DefaultRateLimitMaxCommands
}

func (o *Options) diversityWindow() time.Duration {
	if o != nil && o.DiversityWindow > 0 {
		return o.DiversityWindow
	}
	return DefaultDiversityWindow
}

func (o *Options) diversityThreshold() int {
	if o != nil && o.DiversityThreshold > 0 {
		return o.DiversityThreshold
	}
	return DefaultDiversityThreshold
}

func (o *Options) logger() *zap.Logger {
	if o != nil && o.Logger != nil {
		return o.Logger
	}
	return sallust.Default()
}
