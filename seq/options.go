package seq

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ceyewan/bank-kit/clog"
	"github.com/ceyewan/bank-kit/internal/failinject"
)

// Options holds the optional dependencies of an Allocator or a Store.
type Options struct {
	logger     clog.Logger
	clock      func() time.Time
	registerer prometheus.Registerer
	faults     *failinject.Injector
	strategies []Strategy
}

// Option configures an Allocator or a Store.
type Option func(*Options)

// WithLogger injects the logger; defaults to clog.Namespace("seq").
func WithLogger(logger clog.Logger) Option {
	return func(o *Options) {
		o.logger = logger
	}
}

// WithClock replaces time.Now for the timestamp fallback.
func WithClock(clock func() time.Time) Option {
	return func(o *Options) {
		o.clock = clock
	}
}

// WithMetrics registers the allocator metrics on reg.
// Without it the metrics live on a private registry.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *Options) {
		o.registerer = reg
	}
}

// WithFailpoints makes a store consult faults before every backend call.
func WithFailpoints(faults *failinject.Injector) Option {
	return func(o *Options) {
		o.faults = faults
	}
}

// WithStrategies replaces the default tier chain. Intended for tests and
// for callers that want to insert their own tier.
func WithStrategies(strategies ...Strategy) Option {
	return func(o *Options) {
		o.strategies = strategies
	}
}

func parseOptions(opts []Option) *Options {
	result := &Options{
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(result)
	}
	if result.logger == nil {
		result.logger = clog.Namespace("seq")
	}
	return result
}
