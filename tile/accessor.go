package tile

import (
	"context"
	"fmt"

	"github.com/gridstore/gridstore"
	"github.com/gridstore/gridstore/pkg/storage"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const DefaultCacheSize = 4096

// An Accessor loads decoded tiles.  Loads are idempotent per tile
// file: the process-wide LRU holds decoded pairs and concurrent loads
// of the same key coalesce to one read.
type Accessor struct {
	engine storage.Engine
	cache  *lru.Cache[string, Pair]
	group  singleflight.Group
	logger *zap.Logger
	hits   prometheus.Counter
	misses prometheus.Counter
}

type AccessorOption func(*accessorConfig)

type accessorConfig struct {
	size       int
	logger     *zap.Logger
	registerer prometheus.Registerer
}

func WithCacheSize(n int) AccessorOption {
	return func(c *accessorConfig) { c.size = n }
}

func WithLogger(logger *zap.Logger) AccessorOption {
	return func(c *accessorConfig) { c.logger = logger }
}

func WithRegisterer(r prometheus.Registerer) AccessorOption {
	return func(c *accessorConfig) { c.registerer = r }
}

func NewAccessor(engine storage.Engine, opts ...AccessorOption) (*Accessor, error) {
	config := accessorConfig{
		size:       DefaultCacheSize,
		logger:     zap.NewNop(),
		registerer: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(&config)
	}
	cache, err := lru.New[string, Pair](config.size)
	if err != nil {
		return nil, err
	}
	factory := promauto.With(config.registerer)
	return &Accessor{
		engine: engine,
		cache:  cache,
		logger: config.logger,
		hits: factory.NewCounter(prometheus.CounterOpts{
			Name: "tile_cache_hits_total",
			Help: "Number of tile loads served from the cache.",
		}),
		misses: factory.NewCounter(prometheus.CounterOpts{
			Name: "tile_cache_misses_total",
			Help: "Number of tile loads that went to storage.",
		}),
	}, nil
}

// Load returns the decoded tile pair stored at dataURI, plus the
// var-values tile at varURI if non-nil.  For fixed-sized attributes
// the data tile holds the cell values; for var-sized attributes it
// holds the offsets.
func (a *Accessor) Load(ctx context.Context, dataURI, varURI *storage.URI) (Pair, error) {
	key := dataURI.String()
	if pair, ok := a.cache.Get(key); ok {
		a.hits.Inc()
		return pair, nil
	}
	v, err, _ := a.group.Do(key, func() (interface{}, error) {
		if pair, ok := a.cache.Get(key); ok {
			return pair, nil
		}
		pair, err := a.fetch(ctx, dataURI, varURI)
		if err != nil {
			return Pair{}, err
		}
		a.cache.Add(key, pair)
		a.misses.Inc()
		return pair, nil
	})
	if err != nil {
		return Pair{}, err
	}
	return v.(Pair), nil
}

func (a *Accessor) fetch(ctx context.Context, dataURI, varURI *storage.URI) (Pair, error) {
	data, err := a.readTile(ctx, dataURI)
	if err != nil {
		return Pair{}, err
	}
	pair := Pair{Data: &Tile{Bytes: data}}
	if varURI != nil {
		values, err := a.readTile(ctx, varURI)
		if err != nil {
			return Pair{}, err
		}
		pair.Var = &Tile{Bytes: values}
	}
	a.logger.Debug("loaded tile", zap.String("uri", dataURI.String()))
	return pair, nil
}

func (a *Accessor) readTile(ctx context.Context, u *storage.URI) ([]byte, error) {
	b, err := storage.Get(ctx, a.engine, u)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", u, err, gridstore.ErrIO)
	}
	decoded, err := Decode(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", u, err)
	}
	return decoded, nil
}
