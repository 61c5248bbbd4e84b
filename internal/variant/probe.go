package variant

import (
	"context"
	"fmt"
	"iter"

	"golang.org/x/time/rate"
)

// DefaultMaxVariants bounds a probe against asset servers that answer every
// path.
const DefaultMaxVariants = 50

// Loader attempts to load one variant's thumbnail. A nil error means the
// variant exists.
type Loader interface {
	Load(ctx context.Context, variant string) error
}

type LoaderFunc func(ctx context.Context, variant string) error

func (f LoaderFunc) Load(ctx context.Context, variant string) error { return f(ctx, variant) }

// Name returns the identifier of face variant n of baseSku.
func Name(baseSku string, n int) string {
	return fmt.Sprintf("%s-f%d", baseSku, n)
}

type Probe struct {
	loader  Loader
	limiter *rate.Limiter
	max     int
}

type Option func(*Probe)

// WithMax caps the number of variants probed. Values below 1 are ignored.
func WithMax(n int) Option {
	return func(p *Probe) {
		if n > 0 {
			p.max = n
		}
	}
}

// WithRate paces probes to rps requests per second. A non-positive rps
// disables pacing.
func WithRate(rps float64) Option {
	return func(p *Probe) {
		if rps > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			p.limiter = nil
		}
	}
}

func NewProbe(loader Loader, opts ...Option) *Probe {
	p := &Probe{loader: loader, max: DefaultMaxVariants}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Seq lazily yields baseSku-f1, baseSku-f2, ... for as long as each variant
// loads. Each probe starts only after the previous one succeeded; the
// sequence ends at the first failed load, after the configured maximum, or
// when ctx is done. Ranging over it again restarts from f1.
func (p *Probe) Seq(ctx context.Context, baseSku string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for n := 1; n <= p.max; n++ {
			if ctx.Err() != nil {
				return
			}
			if p.limiter != nil {
				if err := p.limiter.Wait(ctx); err != nil {
					return
				}
			}
			name := Name(baseSku, n)
			if err := p.loader.Load(ctx, name); err != nil {
				return
			}
			if !yield(name) {
				return
			}
		}
	}
}

// Discover collects the whole sequence. If ctx is cancelled before the probe
// terminates on its own, ctx's error is returned and the partial set is
// discarded.
func (p *Probe) Discover(ctx context.Context, baseSku string) ([]string, error) {
	variants := []string{}
	for v := range p.Seq(ctx, baseSku) {
		variants = append(variants, v)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return variants, nil
}
