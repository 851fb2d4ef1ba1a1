package chaos

import "time"

// bufferedEvent pairs an event label with its deferred delivery.
type bufferedEvent struct {
	id      string
	deliver func()
}

// QueueEvent routes one materialized event through the event chaos layer.
// With no event chaos active, delivery runs immediately on the caller's
// goroutine. Otherwise the event joins the buffer; a one-shot timer
// scheduled at the first queued event flushes the whole window.
func (c *Coordinator) QueueEvent(eventID string, deliver func()) {
	c.mu.Lock()

	active := c.events.OutOfOrder || c.events.DuplicateRate > 0 || c.events.BufferWindow > 0
	if !active {
		c.mu.Unlock()
		deliver()
		return
	}

	c.buffer = append(c.buffer, bufferedEvent{id: eventID, deliver: deliver})
	if c.flushTimer == nil {
		window := c.events.BufferWindow
		if window <= 0 {
			// reorder/duplicate without an explicit window still needs a
			// flush point; use a minimal batching delay
			window = 10 * time.Millisecond
		}
		c.flushTimer = time.AfterFunc(window, c.FlushEvents)
	}
	c.mu.Unlock()
}

// FlushEvents forces immediate delivery of the buffered window: optionally
// shuffled, optionally duplicated, then handed to each deliver function in
// buffer order.
func (c *Coordinator) FlushEvents() {
	c.mu.Lock()

	batch := c.buffer
	c.buffer = nil
	if c.flushTimer != nil {
		c.flushTimer.Stop()
		c.flushTimer = nil
	}

	if len(batch) == 0 {
		c.mu.Unlock()
		return
	}

	if c.events.OutOfOrder && len(batch) > 1 {
		c.rng.Shuffle(len(batch), func(i, j int) {
			batch[i], batch[j] = batch[j], batch[i]
		})
		c.stats.EventsReordered += int64(len(batch))
	}

	if c.events.DuplicateRate > 0 {
		expanded := make([]bufferedEvent, 0, len(batch)+1)
		for _, ev := range batch {
			expanded = append(expanded, ev)
			if c.rng.Float64() < c.events.DuplicateRate {
				expanded = append(expanded, ev)
				c.stats.EventsDuplicated++
			}
		}
		batch = expanded
	}

	log := c.log
	c.mu.Unlock()

	log.Debug().Int("events", len(batch)).Msg("chaos: flushing event buffer")
	for _, ev := range batch {
		ev.deliver()
	}
}

// BufferedEvents reports the number of events awaiting flush.
func (c *Coordinator) BufferedEvents() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}
