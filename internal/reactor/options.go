package reactor

// options configures a Server at construction, modeled on
// eventloop/options.go's functional-options shape (see pool/options.go for
// the same pattern applied to the worker pool).
type options struct {
	threads    int
	maxRequest int
	readBuf    int
}

// Option configures a Server.
type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

// WithThreads sets the worker pool size backing the reactor's callback
// dispatch. Defaults to 8, matching spec.md §6's init(..., threads=8, ...).
func WithThreads(n int) Option {
	return optionFunc(func(o *options) {
		if n > 0 {
			o.threads = n
		}
	})
}

// WithMaxRequest bounds the number of simultaneously tracked connections'
// worth of queued dispatch work. Defaults to 8192, matching spec.md §6's
// init(..., maxRequest=8192).
func WithMaxRequest(n int) Option {
	return optionFunc(func(o *options) {
		if n > 0 {
			o.maxRequest = n
		}
	})
}

// WithReadBufferSize sets the initial per-connection read buffer capacity.
func WithReadBufferSize(n int) Option {
	return optionFunc(func(o *options) {
		if n > 0 {
			o.readBuf = n
		}
	})
}

func resolveOptions(opts []Option) *options {
	o := &options{
		threads:    8,
		maxRequest: 8192,
		readBuf:    4096,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.apply(o)
	}
	return o
}
