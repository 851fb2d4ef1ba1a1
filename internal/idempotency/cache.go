// Package idempotency implements wire-compatible request de-duplication.
//
// Each key is either in flight (owned by exactly one request) or complete
// (carrying the captured 2xx response until the TTL lapses). TTL arithmetic
// uses the virtual clock, so accelerated and manual modes shrink the
// effective window in tests.
package idempotency

import (
	"sync"
	"time"

	"github.com/PaperTiger/server/internal/clock"
)

// TTLSeconds is how long completed entries remain replayable (24h virtual).
const TTLSeconds int64 = 24 * 60 * 60

// Response is the captured result of the owning request.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// Outcome reports what a Begin call observed for a key.
type Outcome int

const (
	// OutcomeNew means the caller owns the key and must Complete or Abort it.
	OutcomeNew Outcome = iota
	// OutcomeInFlight means another request holds the key right now.
	OutcomeInFlight
	// OutcomeCached means a completed response is available for replay.
	OutcomeCached
)

type state int

const (
	stateInFlight state = iota
	stateComplete
)

type entry struct {
	state     state
	response  *Response
	expiresAt int64 // virtual seconds; only meaningful once complete
}

// Cache is the process-wide idempotency cache.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	clock   *clock.Clock

	stopSweep chan struct{}
	sweepDone chan struct{}
	sweepOnce sync.Once
}

// NewCache creates a cache bound to the virtual clock.
func NewCache(clk *clock.Clock) *Cache {
	return &Cache{
		entries:   make(map[string]*entry),
		clock:     clk,
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
}

// Begin resolves the state of a key. For OutcomeNew the key transitions to
// in flight and the caller is obligated to call Complete or Abort.
func (c *Cache) Begin(key string) (Outcome, *Response) {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if ok {
		switch e.state {
		case stateInFlight:
			return OutcomeInFlight, nil
		case stateComplete:
			if now < e.expiresAt {
				return OutcomeCached, e.response
			}
			// expired; fall through and reclaim the key
		}
	}

	c.entries[key] = &entry{state: stateInFlight}
	return OutcomeNew, nil
}

// Complete stores the captured response for replay until the TTL lapses.
func (c *Cache) Complete(key string, resp *Response) {
	expires := c.clock.Now() + TTLSeconds

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &entry{
		state:     stateComplete,
		response:  resp,
		expiresAt: expires,
	}
}

// Abort releases an in-flight key so a retry can own it. Completed entries
// are left alone.
func (c *Cache) Abort(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && e.state == stateInFlight {
		delete(c.entries, key)
	}
}

// Sweep removes expired completed entries and returns how many it dropped.
func (c *Cache) Sweep() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for key, e := range c.entries {
		if e.state == stateComplete && now >= e.expiresAt {
			delete(c.entries, key)
			dropped++
		}
	}
	return dropped
}

// Len reports the number of live entries, in-flight included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// StartSweeper runs Sweep on the given wall-clock interval until Stop.
func (c *Cache) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		defer close(c.sweepDone)
		for {
			select {
			case <-c.stopSweep:
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

// Stop shuts down the background sweeper if it was started.
func (c *Cache) Stop() {
	c.sweepOnce.Do(func() {
		close(c.stopSweep)
	})
}
