// Package clock provides the process-wide virtual time source.
//
// Every time-dependent component (billing, idempotency TTLs, event
// timestamps, webhook retry delays) reads through the same Clock so that
// tests can fast-forward thirty days of billing in milliseconds.
package clock

import (
	"fmt"
	"sync"
	"time"
)

// Mode selects how the clock derives the current time.
type Mode string

const (
	// ModeReal returns wall-clock seconds.
	ModeReal Mode = "real"
	// ModeAccelerated returns wall-clock time scaled by a multiplier since
	// the mode was set, plus any manual offset.
	ModeAccelerated Mode = "accelerated"
	// ModeManual freezes time; it advances only via Advance.
	ModeManual Mode = "manual"
)

// Clock is a three-mode monotonic second counter. All operations are
// serialized through a single mutex so the (start, offset, mode, multiplier)
// tuple is never observed torn.
type Clock struct {
	mu         sync.Mutex
	mode       Mode
	start      int64 // wall-clock seconds when the current mode was set
	offset     int64 // seconds added via Advance
	multiplier int64 // acceleration factor, >= 1
}

// New creates a clock in real mode.
func New() *Clock {
	return &Clock{
		mode:       ModeReal,
		start:      time.Now().Unix(),
		multiplier: 1,
	}
}

// Now returns the current virtual time in seconds.
func (c *Clock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now()
}

// now computes the current time; caller must hold the lock.
func (c *Clock) now() int64 {
	switch c.mode {
	case ModeAccelerated:
		return c.start + (time.Now().Unix()-c.start)*c.multiplier + c.offset
	case ModeManual:
		return c.start + c.offset
	default:
		return time.Now().Unix()
	}
}

// Advance adds delta seconds to the clock offset. It is permitted in manual
// and accelerated modes; in real mode it is rejected so wall time can never
// drift from the host.
func (c *Clock) Advance(delta int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == ModeReal {
		return 0, fmt.Errorf("clock: cannot advance in %s mode", ModeReal)
	}
	if delta < 0 {
		return 0, fmt.Errorf("clock: advance delta must be non-negative, got %d", delta)
	}
	c.offset += delta
	return c.now(), nil
}

// SetMode switches the time regime. The start point is reset to wall-clock
// now and the offset is zeroed. A multiplier below 1 is treated as 1.
func (c *Clock) SetMode(mode Mode, multiplier int64) error {
	switch mode {
	case ModeReal, ModeAccelerated, ModeManual:
	default:
		return fmt.Errorf("clock: unknown mode %q", mode)
	}
	if multiplier < 1 {
		multiplier = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = mode
	c.start = time.Now().Unix()
	c.offset = 0
	c.multiplier = multiplier
	return nil
}

// Reset zeroes the offset and restarts the mode epoch, keeping the current
// mode and multiplier.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = time.Now().Unix()
	c.offset = 0
}

// Mode returns the active mode.
func (c *Clock) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Multiplier returns the acceleration factor.
func (c *Clock) Multiplier() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.multiplier
}
