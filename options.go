package plist

import "log/slog"

const (
	DefaultMaxDepth   = 512
	DefaultMaxObjects = 1 << 20
	DefaultCacheSize  = 4096
)

type Option func(*Options)

// Options controls a single decode call.
type Options struct {
	// MaxDepth bounds container nesting. Zero or less disables the check.
	MaxDepth int
	// MaxObjects bounds the number of nodes in the decoded tree. An object
	// referenced from several places counts once per reference, whether it
	// is decoded again or reused from the cache.
	MaxObjects int
	// CacheSize is the number of decoded objects kept for reuse by later
	// references to the same index. Zero disables the cache.
	CacheSize int
	// TruncatedTrailer honours only the low 32 bits of the trailer's object
	// count, top object and offset table fields.
	TruncatedTrailer bool
	Debug            bool
	Logger           *slog.Logger
}

func defaultOptions() *Options {
	return &Options{
		MaxDepth:   DefaultMaxDepth,
		MaxObjects: DefaultMaxObjects,
		CacheSize:  DefaultCacheSize,
	}
}

func applyOptions(opts []Option) *Options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func WithMaxDepth(depth int) Option {
	return func(o *Options) {
		o.MaxDepth = depth
	}
}

func WithMaxObjects(n int) Option {
	return func(o *Options) {
		o.MaxObjects = n
	}
}

func WithCacheSize(n int) Option {
	return func(o *Options) {
		o.CacheSize = n
	}
}

// WithTruncatedTrailer reads the 64-bit trailer fields the way older decoders
// do, keeping only their low 32 bits.
func WithTruncatedTrailer() Option {
	return func(o *Options) {
		o.TruncatedTrailer = true
	}
}

// WithDebug logs the trailer and offset table at debug level.
func WithDebug() Option {
	return func(o *Options) {
		o.Debug = true
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}
