package objpool

import "time"

type options struct {
	shards int
	expiry time.Duration
}

// Option configures a Pool at construction.
type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

// WithShards sets the number of independent shards. Defaults to 8,
// matching spec.md §4.6's default level count.
func WithShards(n int) Option {
	return optionFunc(func(o *options) {
		if n > 0 {
			o.shards = n
		}
	})
}

// WithExpiry sets the generational eviction interval. A value <= 0
// disables eviction entirely (instances are recycled indefinitely).
// Defaults to 0 (disabled); callers that want spec.md §4.6's background
// sweep must opt in explicitly.
func WithExpiry(d time.Duration) Option {
	return optionFunc(func(o *options) {
		o.expiry = d
	})
}

func resolveOptions(opts []Option) *options {
	o := &options{
		shards: defaultShards,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.apply(o)
	}
	return o
}
