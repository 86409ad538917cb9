package mirrordb

// QueryConfig controls hybrid query behavior. Fields are tri-state: nil
// inherits from the next outer layer (per-call over per-collection over
// global defaults).
type QueryConfig struct {
	// Interim delivers the local result immediately and corrects it when the
	// remote answers. Default true.
	Interim *bool

	// CacheFind reconciles remote find results into the local collection.
	// Default true.
	CacheFind *bool

	// CacheFindOne caches remote findOne results locally. Default true.
	CacheFindOne *bool

	// Shortcut skips the remote call on findOne when a local match exists.
	// Default false.
	Shortcut *bool

	// UseLocalOnRemoteError falls back to the local result when the remote is
	// unreachable. Only consulted when Interim is false. Default true.
	UseLocalOnRemoteError *bool

	// Quickfind enables the shard-hash handshake instead of a full query.
	// Default false.
	Quickfind *bool
}

// Bool builds a QueryConfig pointer field.
func Bool(v bool) *bool { return &v }

// merge overlays inner on top of c; inner wins wherever it is set.
func (c QueryConfig) merge(inner QueryConfig) QueryConfig {
	out := c
	if inner.Interim != nil {
		out.Interim = inner.Interim
	}
	if inner.CacheFind != nil {
		out.CacheFind = inner.CacheFind
	}
	if inner.CacheFindOne != nil {
		out.CacheFindOne = inner.CacheFindOne
	}
	if inner.Shortcut != nil {
		out.Shortcut = inner.Shortcut
	}
	if inner.UseLocalOnRemoteError != nil {
		out.UseLocalOnRemoteError = inner.UseLocalOnRemoteError
	}
	if inner.Quickfind != nil {
		out.Quickfind = inner.Quickfind
	}
	return out
}

// queryConfig is a fully resolved configuration.
type queryConfig struct {
	interim               bool
	cacheFind             bool
	cacheFindOne          bool
	shortcut              bool
	useLocalOnRemoteError bool
	quickfind             bool
}

func resolveConfig(layers ...QueryConfig) queryConfig {
	merged := QueryConfig{}
	for _, layer := range layers {
		merged = merged.merge(layer)
	}
	out := queryConfig{
		interim:               true,
		cacheFind:             true,
		cacheFindOne:          true,
		useLocalOnRemoteError: true,
	}
	if merged.Interim != nil {
		out.interim = *merged.Interim
	}
	if merged.CacheFind != nil {
		out.cacheFind = *merged.CacheFind
	}
	if merged.CacheFindOne != nil {
		out.cacheFindOne = *merged.CacheFindOne
	}
	if merged.Shortcut != nil {
		out.shortcut = *merged.Shortcut
	}
	if merged.UseLocalOnRemoteError != nil {
		out.useLocalOnRemoteError = *merged.UseLocalOnRemoteError
	}
	if merged.Quickfind != nil {
		out.quickfind = *merged.Quickfind
	}
	return out
}
