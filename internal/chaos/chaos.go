// Package chaos is the central authority for injected failures: payment
// declines, event delivery disorder, and API-level faults. All draws come
// from a single seedable source so tests can pin outcomes.
package chaos

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// PaymentPolicy controls simulated card declines.
type PaymentPolicy struct {
	// FailureRate in [0,1): global probability that a payment is declined.
	FailureRate float64
	// DeclineCodes is the pool drawn from uniformly when a payment fails.
	DeclineCodes []string
	// DeclineWeights, when set, replaces the uniform draw with weighted
	// sampling over the permitted codes.
	DeclineWeights map[string]float64
}

// EventPolicy controls event delivery disorder.
type EventPolicy struct {
	OutOfOrder    bool
	DuplicateRate float64
	BufferWindow  time.Duration
}

// APIPolicy controls API-level fault bands. A single uniform draw maps
// sequentially onto the timeout, rate-limit and error bands.
type APIPolicy struct {
	TimeoutRate   float64
	TimeoutMS     int
	RateLimitRate float64
	ErrorRate     float64
	// Endpoints overrides the global bands for specific request paths.
	Endpoints map[string]APIPolicy
}

// APIKind is the outcome family of an API chaos decision.
type APIKind int

const (
	APIOK APIKind = iota
	APITimeout
	APIRateLimit
	APIServerError
)

// APIDecision is the verdict for one request.
type APIDecision struct {
	Kind      APIKind
	TimeoutMS int
}

// Stats are the decision counters readable for test assertions.
type Stats struct {
	PaymentsSucceeded int64 `json:"payments_succeeded"`
	PaymentsFailed    int64 `json:"payments_failed"`
	EventsReordered   int64 `json:"events_reordered"`
	EventsDuplicated  int64 `json:"events_duplicated"`
	APITimeouts       int64 `json:"api_timeouts"`
	APIRateLimits     int64 `json:"api_rate_limits"`
	APIErrors         int64 `json:"api_errors"`
}

// Coordinator owns all chaos state. Methods are safe for concurrent use.
type Coordinator struct {
	mu  sync.Mutex
	rng *rand.Rand
	log zerolog.Logger

	payment   PaymentPolicy
	events    EventPolicy
	api       APIPolicy
	overrides map[string]string // customer id -> forced decline code

	buffer     []bufferedEvent
	flushTimer *time.Timer

	stats Stats
}

// New creates a coordinator with chaos disabled and a time-seeded source.
func New(log zerolog.Logger) *Coordinator {
	return NewWithSeed(log, time.Now().UnixNano())
}

// NewWithSeed pins the random source, for deterministic tests.
func NewWithSeed(log zerolog.Logger, seed int64) *Coordinator {
	return &Coordinator{
		rng:       rand.New(rand.NewSource(seed)),
		log:       log,
		payment:   PaymentPolicy{DeclineCodes: []string{"card_declined"}},
		overrides: make(map[string]string),
	}
}

// SetPaymentPolicy validates and installs the payment chaos policy. Codes
// outside the pre-declared decline set are rejected.
func (c *Coordinator) SetPaymentPolicy(p PaymentPolicy) error {
	if p.FailureRate < 0 || p.FailureRate >= 1 {
		return fmt.Errorf("chaos: payment failure_rate %v outside [0,1)", p.FailureRate)
	}
	for _, code := range p.DeclineCodes {
		if !KnownDeclineCode(code) {
			return fmt.Errorf("chaos: unknown decline code %q", code)
		}
	}
	for code, w := range p.DeclineWeights {
		if !KnownDeclineCode(code) {
			return fmt.Errorf("chaos: unknown decline code %q in weights", code)
		}
		if w < 0 {
			return fmt.Errorf("chaos: negative weight for decline code %q", code)
		}
	}
	if len(p.DeclineCodes) == 0 {
		p.DeclineCodes = []string{"card_declined"}
	}

	c.mu.Lock()
	c.payment = p
	c.mu.Unlock()
	return nil
}

// SetEventPolicy installs the event chaos policy.
func (c *Coordinator) SetEventPolicy(p EventPolicy) error {
	if p.DuplicateRate < 0 || p.DuplicateRate >= 1 {
		return fmt.Errorf("chaos: event duplicate_rate %v outside [0,1)", p.DuplicateRate)
	}
	c.mu.Lock()
	c.events = p
	c.mu.Unlock()
	return nil
}

// SetAPIPolicy installs the API chaos policy.
func (c *Coordinator) SetAPIPolicy(p APIPolicy) error {
	for _, rate := range []float64{p.TimeoutRate, p.RateLimitRate, p.ErrorRate} {
		if rate < 0 || rate >= 1 {
			return fmt.Errorf("chaos: api rate %v outside [0,1)", rate)
		}
	}
	if p.TimeoutMS <= 0 {
		p.TimeoutMS = 5000
	}
	c.mu.Lock()
	c.api = p
	c.mu.Unlock()
	return nil
}

// SimulateFailure forces every payment for a customer to decline with the
// given code until cleared. Customer overrides take precedence over the
// global failure rate.
func (c *Coordinator) SimulateFailure(customerID, code string) error {
	if !KnownDeclineCode(code) {
		return fmt.Errorf("chaos: unknown decline code %q", code)
	}
	c.mu.Lock()
	c.overrides[customerID] = code
	c.mu.Unlock()
	return nil
}

// ClearSimulatedFailure removes a per-customer override.
func (c *Coordinator) ClearSimulatedFailure(customerID string) {
	c.mu.Lock()
	delete(c.overrides, customerID)
	c.mu.Unlock()
}

// ShouldPaymentFail decides one payment attempt. It returns the decline
// code when the payment should fail.
func (c *Coordinator) ShouldPaymentFail(customerID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if code, ok := c.overrides[customerID]; ok {
		c.stats.PaymentsFailed++
		return code, true
	}

	if c.payment.FailureRate > 0 && c.rng.Float64() < c.payment.FailureRate {
		c.stats.PaymentsFailed++
		return c.pickDeclineCode(), true
	}

	c.stats.PaymentsSucceeded++
	return "", false
}

// pickDeclineCode draws a code; caller must hold the lock.
func (c *Coordinator) pickDeclineCode() string {
	if len(c.payment.DeclineWeights) > 0 {
		total := 0.0
		for _, code := range c.payment.DeclineCodes {
			total += c.payment.DeclineWeights[code]
		}
		if total > 0 {
			draw := c.rng.Float64() * total
			for _, code := range c.payment.DeclineCodes {
				draw -= c.payment.DeclineWeights[code]
				if draw < 0 {
					return code
				}
			}
		}
	}
	return c.payment.DeclineCodes[c.rng.Intn(len(c.payment.DeclineCodes))]
}

// ShouldAPIFail decides the fate of one API request. Endpoint-specific
// overrides are consulted before the global bands.
func (c *Coordinator) ShouldAPIFail(path string) APIDecision {
	c.mu.Lock()
	defer c.mu.Unlock()

	policy := c.api
	if override, ok := c.api.Endpoints[path]; ok {
		policy = override
		if policy.TimeoutMS <= 0 {
			policy.TimeoutMS = c.api.TimeoutMS
		}
	}
	if policy.TimeoutMS <= 0 {
		policy.TimeoutMS = 5000
	}

	draw := c.rng.Float64()
	switch {
	case policy.TimeoutRate > 0 && draw < policy.TimeoutRate:
		c.stats.APITimeouts++
		return APIDecision{Kind: APITimeout, TimeoutMS: policy.TimeoutMS}
	case policy.RateLimitRate > 0 && draw < policy.TimeoutRate+policy.RateLimitRate:
		c.stats.APIRateLimits++
		return APIDecision{Kind: APIRateLimit}
	case policy.ErrorRate > 0 && draw < policy.TimeoutRate+policy.RateLimitRate+policy.ErrorRate:
		c.stats.APIErrors++
		return APIDecision{Kind: APIServerError}
	default:
		return APIDecision{Kind: APIOK}
	}
}

// GetStats returns a snapshot of the decision counters.
func (c *Coordinator) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Policies returns the currently installed policies.
func (c *Coordinator) Policies() (PaymentPolicy, EventPolicy, APIPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.payment, c.events, c.api
}

// Reset restores default policies and clears overrides, counters, and any
// buffered events (which are dropped, not delivered).
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.payment = PaymentPolicy{DeclineCodes: []string{"card_declined"}}
	c.events = EventPolicy{}
	c.api = APIPolicy{}
	c.overrides = make(map[string]string)
	c.stats = Stats{}
	c.buffer = nil
	if c.flushTimer != nil {
		c.flushTimer.Stop()
		c.flushTimer = nil
	}
}
