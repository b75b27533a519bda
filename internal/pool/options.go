package pool

// options holds configuration for a Pool, resolved from Option values. The
// functional-options shape — unexported options struct, exported With...
// constructors returning an opaque interface, a resolve function applying
// defaults then overrides while skipping nils — is modeled directly on
// eventloop/options.go's loopOptions/LoopOption/resolveLoopOptions.
type options struct {
	workers    int
	queueSize  int
}

// Option configures a Pool at construction.
type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

// WithWorkers sets the fixed number of worker goroutines. Defaults to 8,
// matching spec.md §4.3's default pool size.
func WithWorkers(n int) Option {
	return optionFunc(func(o *options) {
		if n > 0 {
			o.workers = n
		}
	})
}

// WithQueueSize sets the bounded capacity of each worker's local task
// queue.
func WithQueueSize(n int) Option {
	return optionFunc(func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	})
}

func resolveOptions(opts []Option) *options {
	o := &options{
		workers:   8,
		queueSize: 1024,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.apply(o)
	}
	return o
}
