package resilience

import (
	"context"
	"log/slog"

	"github.com/MrWong99/radiogate/pkg/provider/classifier"
)

// ClassifierFailover implements [classifier.Engine] over several classifier
// endpoints. Listen opens the session on the first endpoint whose breaker
// admits the call and that accepts it. A running session is never moved to
// another endpoint; a stream that breaks mid-run ends the session as usual.
type ClassifierFailover struct {
	group *Group[classifier.Engine]
	log   *slog.Logger
}

// Compile-time interface assertion.
var _ classifier.Engine = (*ClassifierFailover)(nil)

// NewClassifierFailover returns a failover with primary as the preferred
// endpoint.
func NewClassifierFailover(primaryName string, primary classifier.Engine, cfg BreakerConfig) *ClassifierFailover {
	cfg = cfg.withDefaults()
	g := NewGroup[classifier.Engine](cfg)
	g.Add(primaryName, primary)
	return &ClassifierFailover{group: g, log: cfg.Logger}
}

// AddFallback registers another endpoint, tried after those added before it.
func (f *ClassifierFailover) AddFallback(name string, e classifier.Engine) {
	f.group.Add(name, e)
}

// States reports the breaker state of every endpoint.
func (f *ClassifierFailover) States() map[string]State { return f.group.States() }

// Listen implements [classifier.Engine].
func (f *ClassifierFailover) Listen(ctx context.Context, cfg classifier.Config) (classifier.SessionHandle, error) {
	sess, name, err := Do(f.group, func(e classifier.Engine) (classifier.SessionHandle, error) {
		return e.Listen(ctx, cfg)
	})
	if err != nil {
		return nil, err
	}
	f.log.Info("classifier session opened", slog.String("endpoint", name))
	return sess, nil
}
