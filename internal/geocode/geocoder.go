package geocode

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/snarg/dispatch-intel/internal/metrics"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"
)

const (
	providerTimeout  = 5 * time.Second
	providerParallel = 2
	redisKeyPrefix   = "geocode:"
	negativeSentinel = "__none__"
)

// Options configures a Geocoder.
type Options struct {
	// Jurisdiction is appended to queries that don't already mention it
	// ("Indianapolis, IN").
	Jurisdiction string
	// CacheTTL bounds positive cache entries (default 24h).
	CacheTTL time.Duration
	// NegativeTTL bounds not-found entries (default 1h).
	NegativeTTL time.Duration
	// LocalCacheSize bounds the in-process cache (default 4096).
	LocalCacheSize int
}

func (o *Options) defaults() {
	if o.CacheTTL <= 0 {
		o.CacheTTL = 24 * time.Hour
	}
	if o.NegativeTTL <= 0 {
		o.NegativeTTL = time.Hour
	}
	if o.LocalCacheSize <= 0 {
		o.LocalCacheSize = 4096
	}
}

// guardedProvider wraps a Provider with a circuit breaker and a concurrency
// cap of 2 in-flight requests.
type guardedProvider struct {
	provider Provider
	breaker  *gobreaker.CircuitBreaker
	sem      chan struct{}
}

// Geocoder resolves addresses with provider fallback and two cache tiers:
// an in-process TTL cache and redis. Negative results are cached with a
// shorter TTL so unresolvable transcripts don't hammer providers.
type Geocoder struct {
	providers []*guardedProvider
	local     *ttlCache
	rdb       *redis.Client
	group     singleflight.Group
	opts      Options
	log       zerolog.Logger
}

// New builds a Geocoder over providers tried in order. rdb may be nil
// (in-process cache only).
func New(providers []Provider, rdb *redis.Client, opts Options, log zerolog.Logger) *Geocoder {
	opts.defaults()

	guarded := make([]*guardedProvider, 0, len(providers))
	for _, p := range providers {
		guarded = append(guarded, &guardedProvider{
			provider: p,
			breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:    p.Name(),
				Timeout: 30 * time.Second,
				ReadyToTrip: func(c gobreaker.Counts) bool {
					return c.ConsecutiveFailures >= 5
				},
			}),
			sem: make(chan struct{}, providerParallel),
		})
	}

	return &Geocoder{
		providers: guarded,
		local:     newTTLCache(opts.LocalCacheSize),
		rdb:       rdb,
		opts:      opts,
		log:       log.With().Str("component", "geocoder").Logger(),
	}
}

// Geocode resolves an address. Returns (nil, nil) when no provider can
// resolve it; the negative result is cached.
func (g *Geocoder) Geocode(ctx context.Context, address string) (*Location, error) {
	key := g.Normalize(address)
	if key == "" {
		return nil, nil
	}

	if loc, negative, ok := g.local.get(key); ok {
		metrics.GeocodeLookupsTotal.WithLabelValues("cached").Inc()
		if negative {
			return nil, nil
		}
		return loc, nil
	}
	if loc, negative, ok := g.redisGet(ctx, key); ok {
		metrics.GeocodeLookupsTotal.WithLabelValues("cached").Inc()
		if negative {
			g.local.put(key, nil, g.opts.NegativeTTL)
			return nil, nil
		}
		g.local.put(key, loc, g.opts.CacheTTL)
		return loc, nil
	}

	// Singleflight collapses concurrent lookups for the same address into
	// one provider call.
	v, err, _ := g.group.Do(key, func() (any, error) {
		return g.resolve(ctx, key)
	})
	if err != nil {
		metrics.GeocodeLookupsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	loc, _ := v.(*Location)
	if loc == nil {
		metrics.GeocodeLookupsTotal.WithLabelValues("miss").Inc()
	} else {
		metrics.GeocodeLookupsTotal.WithLabelValues("hit").Inc()
	}
	return loc, nil
}

// Normalize lowercases, collapses whitespace, and appends the default
// jurisdiction when the query doesn't already carry it.
func (g *Geocoder) Normalize(address string) string {
	a := strings.ToLower(strings.Join(strings.Fields(address), " "))
	if a == "" {
		return ""
	}
	if g.opts.Jurisdiction != "" {
		j := strings.ToLower(g.opts.Jurisdiction)
		city, _, _ := strings.Cut(j, ",")
		if !strings.Contains(a, strings.TrimSpace(city)) {
			a = a + ", " + j
		}
	}
	return a
}

func (g *Geocoder) resolve(ctx context.Context, key string) (*Location, error) {
	var lastErr error
	for _, gp := range g.providers {
		loc, err := g.callProvider(ctx, gp, key)
		if err != nil {
			lastErr = err
			g.log.Warn().Err(err).Str("provider", gp.provider.Name()).Str("query", key).
				Msg("geocode provider failed")
			continue
		}
		if loc == nil {
			continue
		}
		g.cache(ctx, key, loc)
		return loc, nil
	}

	if lastErr != nil && IsTransient(lastErr) {
		// Don't poison the cache on outages.
		return nil, lastErr
	}
	g.cacheNegative(ctx, key)
	return nil, nil
}

// callProvider runs one guarded provider call with a single retry on
// transient failure.
func (g *Geocoder) callProvider(ctx context.Context, gp *guardedProvider, query string) (*Location, error) {
	select {
	case gp.sem <- struct{}{}:
		defer func() { <-gp.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	attempt := func() (*Location, error) {
		callCtx, cancel := context.WithTimeout(ctx, providerTimeout)
		defer cancel()
		v, err := gp.breaker.Execute(func() (any, error) {
			return gp.provider.Geocode(callCtx, query)
		})
		if err != nil {
			return nil, err
		}
		loc, _ := v.(*Location)
		return loc, nil
	}

	loc, err := attempt()
	if err != nil && IsTransient(err) {
		loc, err = attempt()
	}
	return loc, err
}

func (g *Geocoder) cache(ctx context.Context, key string, loc *Location) {
	g.local.put(key, loc, g.opts.CacheTTL)
	if g.rdb == nil {
		return
	}
	data, err := json.Marshal(loc)
	if err != nil {
		return
	}
	if err := g.rdb.Set(ctx, redisKeyPrefix+key, data, g.opts.CacheTTL).Err(); err != nil {
		g.log.Warn().Err(err).Msg("redis cache write failed")
	}
}

func (g *Geocoder) cacheNegative(ctx context.Context, key string) {
	g.local.put(key, nil, g.opts.NegativeTTL)
	if g.rdb == nil {
		return
	}
	if err := g.rdb.Set(ctx, redisKeyPrefix+key, negativeSentinel, g.opts.NegativeTTL).Err(); err != nil {
		g.log.Warn().Err(err).Msg("redis cache write failed")
	}
}

func (g *Geocoder) redisGet(ctx context.Context, key string) (loc *Location, negative, ok bool) {
	if g.rdb == nil {
		return nil, false, false
	}
	val, err := g.rdb.Get(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		if err != redis.Nil {
			g.log.Warn().Err(err).Msg("redis cache read failed")
		}
		return nil, false, false
	}
	if val == negativeSentinel {
		return nil, true, true
	}
	var l Location
	if err := json.Unmarshal([]byte(val), &l); err != nil {
		return nil, false, false
	}
	return &l, false, true
}
