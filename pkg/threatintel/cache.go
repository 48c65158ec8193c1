/*
Package threatintel maintains a process-local, periodically-refreshed
cache of threat-intel indicators (malicious sha256/md5 hashes, domains,
and IPs) queried by the static engine (spec.md §4.2 step 7). The feed
fetch is wrapped in a circuit breaker; a slow or failing upstream feed
leaves the last good snapshot in place (empty until the first successful
fetch) rather than blocking analysis.
*/
package threatintel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/cuemby/vigil/pkg/log"
)

// RefreshInterval is how often the cache asynchronously refreshes itself.
const RefreshInterval = 15 * time.Minute

// Indicators is one immutable snapshot of known-bad values.
type Indicators struct {
	SHA256  map[string]string // hash -> classification
	MD5     map[string]string
	Domains map[string]string
	IPs     map[string]string
}

func emptyIndicators() *Indicators {
	return &Indicators{
		SHA256:  map[string]string{},
		MD5:     map[string]string{},
		Domains: map[string]string{},
		IPs:     map[string]string{},
	}
}

// Fetcher retrieves the current indicator set from an upstream feed.
type Fetcher interface {
	Fetch(ctx context.Context) (*Indicators, error)
}

// Cache holds an atomically-swapped *Indicators snapshot, refreshed on a
// timer in the background. Reads never block on network I/O.
type Cache struct {
	current atomic.Pointer[Indicators]
	fetcher Fetcher
	breaker *gobreaker.CircuitBreaker[*Indicators]

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Cache backed by fetcher, starting empty until the first
// refresh succeeds.
func New(fetcher Fetcher) *Cache {
	c := &Cache{
		fetcher: fetcher,
		stopCh:  make(chan struct{}),
	}
	c.current.Store(emptyIndicators())

	c.breaker = gobreaker.NewCircuitBreaker[*Indicators](gobreaker.Settings{
		Name:        "threatintel-feed",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithComponent("threatintel").Warn().
				Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})

	return c
}

// Start launches the background refresh loop. Call Stop to end it.
func (c *Cache) Start(ctx context.Context) {
	c.refresh(ctx)

	go func() {
		ticker := time.NewTicker(RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.refresh(ctx)
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the background refresh loop.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Cache) refresh(ctx context.Context) {
	snapshot, err := c.breaker.Execute(func() (*Indicators, error) {
		return c.fetcher.Fetch(ctx)
	})
	if err != nil {
		log.WithComponent("threatintel").Warn().Err(err).Msg("feed refresh failed, keeping prior snapshot")
		return
	}
	c.current.Store(snapshot)
}

// LookupSHA256 reports whether hash is a known indicator and its
// classification. Misses do not block analysis (spec.md §4.2 step 7).
func (c *Cache) LookupSHA256(hash string) (classification string, hit bool) {
	v, ok := c.current.Load().SHA256[hash]
	return v, ok
}

// LookupMD5 reports whether hash is a known indicator.
func (c *Cache) LookupMD5(hash string) (classification string, hit bool) {
	v, ok := c.current.Load().MD5[hash]
	return v, ok
}

// LookupDomain reports whether domain is a known indicator.
func (c *Cache) LookupDomain(domain string) (classification string, hit bool) {
	v, ok := c.current.Load().Domains[domain]
	return v, ok
}

// LookupIP reports whether ip is a known indicator.
func (c *Cache) LookupIP(ip string) (classification string, hit bool) {
	v, ok := c.current.Load().IPs[ip]
	return v, ok
}
