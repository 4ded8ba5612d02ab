package engine

import (
	"log/slog"

	"github.com/MrWong99/radiogate/internal/observe"
)

// Option configures a [Core] or an [Engine] during construction.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *observe.Metrics
}

// WithLogger sets the logger. The default is [slog.Default] with a
// component attribute.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records routing metrics to m. Without it no metrics are
// recorded.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default().With(slog.String("component", "engine"))}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
