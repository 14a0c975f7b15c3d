package geocode

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func nominatimStub(t *testing.T, hits *atomic.Int64, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

const oneResult = `[{"lat":"39.7391","lon":"-86.1698","display_name":"1555 S Harding St, Indianapolis, IN"}]`

func TestGeocode_ProviderHitAndCache(t *testing.T) {
	var hits atomic.Int64
	srv := nominatimStub(t, &hits, http.StatusOK, oneResult)

	g := New([]Provider{NewHTTPProvider("test", srv.URL, time.Second)}, nil,
		Options{Jurisdiction: "Indianapolis, IN"}, zerolog.Nop())

	loc, err := g.Geocode(context.Background(), "1555 South Harding Street")
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if loc == nil || loc.Lat != 39.7391 || loc.Lng != -86.1698 {
		t.Fatalf("Location = %+v", loc)
	}

	// Second call must come from the in-process cache.
	if _, err := g.Geocode(context.Background(), "1555  south harding STREET"); err != nil {
		t.Fatalf("Geocode (cached): %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("provider hits = %d, want 1 (cache miss on normalized repeat)", hits.Load())
	}
}

func TestGeocode_FallbackProvider(t *testing.T) {
	var primaryHits, fallbackHits atomic.Int64
	primary := nominatimStub(t, &primaryHits, http.StatusNotFound, "")
	fallback := nominatimStub(t, &fallbackHits, http.StatusOK, oneResult)

	g := New([]Provider{
		NewHTTPProvider("primary", primary.URL, time.Second),
		NewHTTPProvider("fallback", fallback.URL, time.Second),
	}, nil, Options{}, zerolog.Nop())

	loc, err := g.Geocode(context.Background(), "1555 South Harding Street")
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if loc == nil {
		t.Fatal("fallback provider result expected")
	}
	if fallbackHits.Load() != 1 {
		t.Errorf("fallback hits = %d, want 1", fallbackHits.Load())
	}
}

func TestGeocode_TransientRetry(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, oneResult)
	}))
	defer srv.Close()

	g := New([]Provider{NewHTTPProvider("flaky", srv.URL, time.Second)}, nil,
		Options{}, zerolog.Nop())

	loc, err := g.Geocode(context.Background(), "1555 South Harding Street")
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if loc == nil {
		t.Fatal("retry after 5xx should succeed")
	}
	if hits.Load() != 2 {
		t.Errorf("provider hits = %d, want 2 (one retry)", hits.Load())
	}
}

func TestGeocode_NegativeCaching(t *testing.T) {
	var hits atomic.Int64
	srv := nominatimStub(t, &hits, http.StatusOK, `[]`)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	g := New([]Provider{NewHTTPProvider("test", srv.URL, time.Second)}, rdb,
		Options{}, zerolog.Nop())

	for i := 0; i < 3; i++ {
		loc, err := g.Geocode(context.Background(), "nowhere special lane")
		if err != nil {
			t.Fatalf("Geocode: %v", err)
		}
		if loc != nil {
			t.Fatalf("Location = %+v, want nil", loc)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("provider hits = %d, want 1 (negative result cached)", hits.Load())
	}
}

func TestGeocode_RedisSharedAcrossInstances(t *testing.T) {
	var hits atomic.Int64
	srv := nominatimStub(t, &hits, http.StatusOK, oneResult)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	provider := NewHTTPProvider("test", srv.URL, time.Second)

	g1 := New([]Provider{provider}, rdb, Options{}, zerolog.Nop())
	if _, err := g1.Geocode(context.Background(), "1555 South Harding Street"); err != nil {
		t.Fatalf("Geocode: %v", err)
	}

	// Fresh instance, empty local cache: must hit redis, not the provider.
	g2 := New([]Provider{provider}, rdb, Options{}, zerolog.Nop())
	loc, err := g2.Geocode(context.Background(), "1555 South Harding Street")
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if loc == nil {
		t.Fatal("redis cache hit expected")
	}
	if hits.Load() != 1 {
		t.Errorf("provider hits = %d, want 1", hits.Load())
	}
}

func TestNormalize(t *testing.T) {
	g := New(nil, nil, Options{Jurisdiction: "Indianapolis, IN"}, zerolog.Nop())

	cases := []struct {
		in, want string
	}{
		{"1555  South Harding Street", "1555 south harding street, indianapolis, in"},
		{"720 Eskenazi Ave, Indianapolis", "720 eskenazi ave, indianapolis"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := g.Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTTLCache_EvictsOldest(t *testing.T) {
	c := newTTLCache(2)
	c.put("a", &Location{Lat: 1}, time.Minute)
	c.put("b", &Location{Lat: 2}, time.Minute)
	c.put("c", &Location{Lat: 3}, time.Minute)

	if c.len() != 2 {
		t.Fatalf("len = %d, want 2", c.len())
	}
	if _, _, ok := c.get("a"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, _, ok := c.get("c"); !ok {
		t.Error("newest entry missing")
	}
}
