package mirrordb

import (
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/hupe1980/mirrordb/codec"
	"github.com/hupe1980/mirrordb/local"
	"github.com/hupe1980/mirrordb/remote"
)

type options struct {
	codec             codec.Codec
	metricsCollector  MetricsCollector
	logger            *Logger
	storeFactory      local.StoreFactory
	transport         remote.Transport
	clientID          string
	limiter           *rate.Limiter
	queryDefaults     QueryConfig
	collectionConfigs map[string]QueryConfig
	quickfindShards   int
}

// Option configures HybridDB constructor behavior.
type Option func(*options)

// WithCodec configures the codec used for wire bodies and file-backed stores.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithStoreFactory configures how per-collection storage adapters are built.
// The default keeps all collections in memory.
//
// Example with the append-only log store:
//
//	db, _ := mirrordb.New(transport,
//	    mirrordb.WithStoreFactory(func(ctx context.Context, name string) (store.Store, error) {
//	        return store.NewLog(store.LogPath("./data", name))
//	    }))
func WithStoreFactory(f local.StoreFactory) Option {
	return func(o *options) {
		o.storeFactory = f
	}
}

// WithClientID appends a client identifier to every remote request for auth
// and telemetry correlation.
func WithClientID(id string) Option {
	return func(o *options) {
		o.clientID = id
	}
}

// WithRateLimit throttles outgoing remote requests to r requests per second
// with the given burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(o *options) {
		o.limiter = rate.NewLimiter(r, burst)
	}
}

// WithQueryDefaults sets the global query configuration layer. Per-collection
// and per-call layers override it field-wise.
func WithQueryDefaults(cfg QueryConfig) Option {
	return func(o *options) {
		o.queryDefaults = cfg
	}
}

// WithCollectionConfig sets the query configuration layer for one collection.
func WithCollectionConfig(collection string, cfg QueryConfig) Option {
	return func(o *options) {
		if o.collectionConfigs == nil {
			o.collectionConfigs = make(map[string]QueryConfig)
		}
		o.collectionConfigs[collection] = cfg
	}
}

// WithQuickfindShards configures the shard count of the quickfind partition.
// Both ends of the protocol must agree on it.
func WithQuickfindShards(n int) Option {
	return func(o *options) {
		o.quickfindShards = n
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &mirrordb.BasicMetricsCollector{}
//	db, _ := mirrordb.New(transport, mirrordb.WithMetricsCollector(metrics))
//	// ... use db ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := mirrordb.NewJSONLogger(slog.LevelInfo)
//	db, _ := mirrordb.New(transport, mirrordb.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		codec:            codec.Default,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}
