package momentum

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultRefreshInterval = 300 * time.Second
	DefaultRetryInterval   = 30 * time.Second
)

type Refresher interface {
	Refresh(ctx context.Context, symbol string, lookbackDays int) (Sample, bool)
}

// Cache holds the latest sample for one symbol and refreshes it when it is
// absent or older than the refresh interval. Concurrent callers share a
// single in-flight refresh. After an unavailable result, no new refresh is
// attempted until the retry interval has passed.
type Cache struct {
	source   Refresher
	symbol   string
	lookback int
	interval time.Duration
	retry    time.Duration
	now      func() time.Time

	group singleflight.Group

	mu       sync.Mutex
	sample   *Sample
	lastMiss time.Time
}

func NewCache(source Refresher, symbol string, lookbackDays int, interval, retry time.Duration) *Cache {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if retry < 0 {
		retry = 0
	}
	return &Cache{
		source:   source,
		symbol:   symbol,
		lookback: lookbackDays,
		interval: interval,
		retry:    retry,
		now:      time.Now,
	}
}

// Get returns a sample no older than the refresh interval, refreshing
// synchronously when needed. ok is false when no momentum is available.
func (c *Cache) Get(ctx context.Context) (Sample, bool) {
	now := c.now()

	c.mu.Lock()
	if c.sample != nil && c.sample.Age(now) <= c.interval {
		sample := *c.sample
		c.mu.Unlock()
		return sample, true
	}
	if c.sample == nil && !c.lastMiss.IsZero() && now.Sub(c.lastMiss) < c.retry {
		c.mu.Unlock()
		return Sample{}, false
	}
	c.mu.Unlock()

	v, _, _ := c.group.Do(c.symbol, func() (any, error) {
		c.mu.Lock()
		if c.sample != nil && c.sample.Age(c.now()) <= c.interval {
			sample := *c.sample
			c.mu.Unlock()
			return sample, nil
		}
		c.mu.Unlock()

		sample, ok := c.source.Refresh(ctx, c.symbol, c.lookback)

		c.mu.Lock()
		defer c.mu.Unlock()
		if !ok {
			c.sample = nil
			c.lastMiss = c.now()
			return nil, nil
		}
		c.sample = &sample
		c.lastMiss = time.Time{}
		return sample, nil
	})

	sample, ok := v.(Sample)
	return sample, ok
}

// Latest returns the cached sample without refreshing it.
func (c *Cache) Latest() (Sample, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sample == nil {
		return Sample{}, false
	}
	return *c.sample, true
}
