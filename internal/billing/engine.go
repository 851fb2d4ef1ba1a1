// Package billing advances subscriptions on the virtual clock: invoicing,
// payment attempts through the chaos coordinator, dunning retries, and the
// past_due transition.
package billing

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/PaperTiger/server/internal/chaos"
	"github.com/PaperTiger/server/internal/clock"
	"github.com/PaperTiger/server/internal/metrics"
	"github.com/PaperTiger/server/internal/store"
	"github.com/PaperTiger/server/internal/telemetry"
)

// intervalSeconds maps a price or plan recurrence interval to its length.
var intervalSeconds = map[string]int64{
	"day":   86_400,
	"week":  604_800,
	"month": 2_592_000,
	"year":  31_536_000,
}

// retryDelays drives dunning: seconds until the next payment attempt,
// keyed by the attempt count just recorded. Attempts past the table's end
// reuse the final delay.
var retryDelays = map[int64]int64{
	1: 86_400,
	2: 259_200,
	3: 432_000,
}

const (
	maxRetryDelay = 604_800
	// pastDueAttempts is the attempt count at which a subscription
	// transitions to past_due.
	pastDueAttempts = 4
	// settlementDelay is how long charge funds stay pending.
	settlementDelay = 172_800
)

// RetryDelay returns the dunning delay in seconds after the given attempt.
func RetryDelay(attemptCount int64) int64 {
	if d, ok := retryDelays[attemptCount]; ok {
		return d
	}
	return maxRetryDelay
}

// ChargeFee computes the processing fee for a charge amount: 2.9% + 30.
func ChargeFee(amount int64) int64 {
	return int64(math.Round(float64(amount)*0.029)) + 30
}

// IntervalSeconds returns the length of a billing interval, or false for an
// unknown interval name.
func IntervalSeconds(interval string) (int64, bool) {
	d, ok := intervalSeconds[interval]
	return d, ok
}

// Engine is the billing worker. In real and accelerated clock modes it polls
// every second of wall time; in manual mode callers drive it through
// ProcessBilling after advancing the clock.
type Engine struct {
	subscriptions *store.Store
	prices        *store.Store
	plans         *store.Store
	invoices      *store.Store
	invoiceitems  *store.Store
	intents       *store.Store
	charges       *store.Store
	transactions  *store.Store

	clock   *clock.Clock
	chaos   *chaos.Coordinator
	bus     *telemetry.Bus
	log     zerolog.Logger
	metrics *metrics.Metrics

	pollDisabled bool

	runMu     sync.Mutex
	stop      chan struct{}
	done      chan struct{}
	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewEngine wires the billing worker. Call Start to begin polling.
func NewEngine(reg *store.Registry, clk *clock.Clock, coord *chaos.Coordinator, bus *telemetry.Bus, log zerolog.Logger, m *metrics.Metrics, pollDisabled bool) *Engine {
	return &Engine{
		subscriptions: reg.Table("subscriptions"),
		prices:        reg.Table("prices"),
		plans:         reg.Table("plans"),
		invoices:      reg.Table("invoices"),
		invoiceitems:  reg.Table("invoiceitems"),
		intents:       reg.Table("payment_intents"),
		charges:       reg.Table("charges"),
		transactions:  reg.Table("balance_transactions"),
		clock:         clk,
		chaos:         coord,
		bus:           bus,
		log:           log.With().Str("component", "billing").Logger(),
		metrics:       m,
		pollDisabled:  pollDisabled,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start launches the poll loop. When polling is disabled by config the
// engine only serves manual ProcessBilling calls. Repeated calls are no-ops.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		e.started.Store(true)
		if e.pollDisabled {
			close(e.done)
			return
		}
		go e.loop()
	})
}

func (e *Engine) loop() {
	defer close(e.done)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			if e.clock.Mode() == clock.ModeManual {
				continue
			}
			e.ProcessBilling()
		}
	}
}

// Close stops the poll loop and waits for it to exit. Closing an engine
// that was never started returns immediately.
func (e *Engine) Close() error {
	e.stopOnce.Do(func() { close(e.stop) })
	if !e.started.Load() {
		return nil
	}
	<-e.done
	return nil
}

// ProcessBilling runs one billing cycle over all eligible subscriptions and
// returns the number processed. A subscription is eligible when it is active
// and its current period has ended. Per-subscription failures are logged and
// do not abort the cycle.
func (e *Engine) ProcessBilling() int {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	start := time.Now()
	now := e.clock.Now()
	processed := 0

	for _, sub := range e.subscriptions.Snapshot() {
		if sub.GetString("status") != "active" {
			continue
		}
		if sub.GetInt64("current_period_end") > now {
			continue
		}
		if err := e.processSubscription(sub); err != nil {
			e.log.Error().Err(err).Str("subscription", sub.ID()).Msg("billing cycle failed")
			continue
		}
		processed++
	}

	e.metrics.ObserveBillingCycle(processed, time.Since(start))
	return processed
}

// PayInvoice runs one manual chaos-backed payment attempt for an invoice,
// the same path a billing cycle takes minus period advancement. It returns
// the updated invoice, the decline code on failure, and whether the payment
// succeeded.
func (e *Engine) PayInvoice(invoice store.Resource) (store.Resource, string, bool) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	now := e.clock.Now()
	customerID := invoice.GetString("customer")
	amount := invoice.GetInt64("amount_remaining")
	if amount == 0 {
		amount = invoice.GetInt64("amount_due") - invoice.GetInt64("amount_paid")
	}
	currency := invoice.GetString("currency")

	if code, fail := e.chaos.ShouldPaymentFail(customerID); fail {
		invoice, _ = e.recordFailure(invoice, amount, currency, customerID, code, now)
		return invoice, code, false
	}
	return e.recordSuccess(invoice, amount, currency, customerID, now), "", true
}

// processSubscription runs the billing state machine for one subscription.
func (e *Engine) processSubscription(sub store.Resource) error {
	amount, currency, interval, intervalCount, err := e.resolveTerms(sub)
	if err != nil {
		return err
	}

	now := e.clock.Now()
	customerID := sub.GetString("customer")
	invoice, created := e.selectInvoice(sub, amount, currency, now)
	if created {
		e.bus.Emit("invoice.created", invoice)
	}

	if code, fail := e.chaos.ShouldPaymentFail(customerID); fail {
		invoice, attempts := e.recordFailure(invoice, amount, currency, customerID, code, now)
		e.log.Warn().
			Str("subscription", sub.ID()).
			Str("invoice", invoice.ID()).
			Str("decline_code", code).
			Int64("attempt_count", attempts).
			Msg("billing payment declined")

		if attempts >= pastDueAttempts && sub.GetString("status") != "past_due" {
			sub["status"] = "past_due"
			sub = e.subscriptions.Update(sub)
			e.bus.Emit("subscription.updated", sub)
			e.metrics.ObservePastDue()
			e.log.Warn().Str("subscription", sub.ID()).Msg("subscription past due")
		}
		return nil
	}

	invoice = e.recordSuccess(invoice, amount, currency, customerID, now)

	oldEnd := sub.GetInt64("current_period_end")
	sub["current_period_start"] = oldEnd
	sub["current_period_end"] = oldEnd + intervalSeconds[interval]*intervalCount
	sub["latest_invoice"] = invoice.ID()
	sub = e.subscriptions.Update(sub)
	e.bus.Emit("subscription.updated", sub)

	e.log.Info().
		Str("subscription", sub.ID()).
		Str("invoice", invoice.ID()).
		Int64("amount", amount).
		Msg("billing cycle succeeded")
	return nil
}

// resolveTerms derives amount, currency, and recurrence from the first
// subscription item's price, falling back to the attached plan.
func (e *Engine) resolveTerms(sub store.Resource) (amount int64, currency, interval string, intervalCount int64, err error) {
	if price, ok := e.firstItemPrice(sub); ok {
		amount = price.GetInt64("unit_amount")
		currency = price.GetString("currency")
		interval, intervalCount = recurrence(price)
		if _, ok := intervalSeconds[interval]; !ok {
			return 0, "", "", 0, fmt.Errorf("price %s has unknown interval %q", price.ID(), interval)
		}
		return amount, currency, interval, intervalCount, nil
	}

	planID := sub.GetString("plan")
	if planID == "" {
		return 0, "", "", 0, fmt.Errorf("no priced item and no plan")
	}
	plan, ok := e.plans.Get(planID)
	if !ok {
		return 0, "", "", 0, fmt.Errorf("no such plan: %s", planID)
	}
	amount = plan.GetInt64("amount")
	currency = plan.GetString("currency")
	interval, intervalCount = recurrence(plan)
	if _, ok := intervalSeconds[interval]; !ok {
		return 0, "", "", 0, fmt.Errorf("plan %s has unknown interval %q", planID, interval)
	}
	return amount, currency, interval, intervalCount, nil
}

// firstItemPrice resolves the subscription's first item to a price record.
// Items may be inline (a list of maps) or a wrapped {data: [...]} list, and
// the price may be an id reference or an embedded object.
func (e *Engine) firstItemPrice(sub store.Resource) (store.Resource, bool) {
	items, ok := sub["items"]
	if !ok {
		return nil, false
	}

	var list []any
	switch v := items.(type) {
	case []any:
		list = v
	case map[string]any:
		list, _ = v["data"].([]any)
	}
	if len(list) == 0 {
		return nil, false
	}

	item, ok := list[0].(map[string]any)
	if !ok {
		return nil, false
	}
	switch price := item["price"].(type) {
	case string:
		res, ok := e.prices.Get(price)
		return res, ok
	case map[string]any:
		if id, _ := price["id"].(string); id != "" {
			if res, ok := e.prices.Get(id); ok {
				return res, true
			}
		}
		return store.Resource(price), true
	}
	return nil, false
}

// recurrence reads interval and interval_count from a price (nested under
// recurring) or a plan (top level).
func recurrence(res store.Resource) (string, int64) {
	interval := res.GetString("interval")
	count := res.GetInt64("interval_count")
	if rec, ok := res["recurring"].(map[string]any); ok {
		nested := store.Resource(rec)
		if v := nested.GetString("interval"); v != "" {
			interval = v
		}
		if v := nested.GetInt64("interval_count"); v != 0 {
			count = v
		}
	}
	if count <= 0 {
		count = 1
	}
	return interval, count
}

// selectInvoice reuses the subscription's open invoice when one exists,
// otherwise creates a draft invoice plus its line item. Reports whether a
// new invoice was created.
func (e *Engine) selectInvoice(sub store.Resource, amount int64, currency string, now int64) (store.Resource, bool) {
	for _, inv := range e.invoices.Snapshot() {
		if inv.GetString("subscription") == sub.ID() && inv.GetString("status") == "open" {
			return inv, false
		}
	}

	invoice := e.invoices.Insert(store.Resource{
		"id":                store.NewID("in"),
		"object":            "invoice",
		"created":           now,
		"customer":          sub.GetString("customer"),
		"subscription":      sub.ID(),
		"status":            "draft",
		"currency":          currency,
		"amount_due":        amount,
		"amount_paid":       int64(0),
		"amount_remaining":  amount,
		"attempt_count":     int64(0),
		"billing_reason":    "subscription_cycle",
		"period_start":      sub.GetInt64("current_period_start"),
		"period_end":        sub.GetInt64("current_period_end"),
		"auto_advance":      true,
		"collection_method": "charge_automatically",
		"paid":              false,
		"livemode":          false,
	})

	e.invoiceitems.Insert(store.Resource{
		"id":           store.NewID("ii"),
		"object":       "invoiceitem",
		"created":      now,
		"customer":     sub.GetString("customer"),
		"subscription": sub.ID(),
		"invoice":      invoice.ID(),
		"amount":       amount,
		"currency":     currency,
		"period": map[string]any{
			"start": sub.GetInt64("current_period_start"),
			"end":   sub.GetInt64("current_period_end"),
		},
	})

	return invoice, true
}

// recordSuccess writes the successful attempt: intent, charge, balance
// transaction, and invoice settlement, emitting their lifecycle events.
func (e *Engine) recordSuccess(invoice store.Resource, amount int64, currency, customerID string, now int64) store.Resource {
	intent := e.intents.Insert(store.Resource{
		"id":       store.NewID("pi"),
		"object":   "payment_intent",
		"created":  now,
		"amount":   amount,
		"currency": currency,
		"customer": customerID,
		"invoice":  invoice.ID(),
		"status":   "succeeded",
		"livemode": false,
	})
	e.bus.Emit("payment_intent.created", intent)
	e.bus.Emit("payment_intent.succeeded", intent)

	charge := e.charges.Insert(store.Resource{
		"id":             store.NewID("ch"),
		"object":         "charge",
		"created":        now,
		"amount":         amount,
		"currency":       currency,
		"customer":       customerID,
		"invoice":        invoice.ID(),
		"payment_intent": intent.ID(),
		"status":         "succeeded",
		"captured":       true,
		"paid":           true,
		"livemode":       false,
	})
	txn := e.transactions.Insert(NewChargeBalanceTransaction(charge, now))
	charge["balance_transaction"] = txn.ID()
	charge = e.charges.Update(charge)
	e.bus.Emit("charge.succeeded", charge)
	e.metrics.ObservePayment("", false)

	invoice["status"] = "paid"
	invoice["paid"] = true
	invoice["amount_paid"] = invoice.GetInt64("amount_paid") + amount
	invoice["amount_remaining"] = int64(0)
	invoice["charge"] = charge.ID()
	invoice["payment_intent"] = intent.ID()
	invoice = e.invoices.Update(invoice)
	e.bus.Emit("invoice.finalized", invoice)
	e.bus.Emit("invoice.paid", invoice)
	e.bus.Emit("invoice.payment_succeeded", invoice)
	return invoice
}

// recordFailure writes the declined attempt and advances the invoice's
// dunning counters, returning the new attempt count.
func (e *Engine) recordFailure(invoice store.Resource, amount int64, currency, customerID, code string, now int64) (store.Resource, int64) {
	message := chaos.DeclineMessage(code)

	intent := e.intents.Insert(store.Resource{
		"id":       store.NewID("pi"),
		"object":   "payment_intent",
		"created":  now,
		"amount":   amount,
		"currency": currency,
		"customer": customerID,
		"invoice":  invoice.ID(),
		"status":   "requires_payment_method",
		"last_payment_error": map[string]any{
			"code":    code,
			"message": message,
			"type":    "card_error",
		},
		"livemode": false,
	})
	e.bus.Emit("payment_intent.created", intent)
	e.bus.Emit("payment_intent.payment_failed", intent)

	charge := e.charges.Insert(store.Resource{
		"id":              store.NewID("ch"),
		"object":          "charge",
		"created":         now,
		"amount":          amount,
		"currency":        currency,
		"customer":        customerID,
		"invoice":         invoice.ID(),
		"payment_intent":  intent.ID(),
		"status":          "failed",
		"captured":        false,
		"paid":            false,
		"failure_code":    code,
		"failure_message": message,
		"livemode":        false,
	})
	e.bus.Emit("charge.failed", charge)
	e.metrics.ObservePayment(code, true)

	attempts := invoice.GetInt64("attempt_count") + 1
	invoice["status"] = "open"
	invoice["attempt_count"] = attempts
	invoice["next_payment_attempt"] = now + RetryDelay(attempts)
	invoice["charge"] = charge.ID()
	invoice["payment_intent"] = intent.ID()
	invoice = e.invoices.Update(invoice)
	e.bus.Emit("invoice.payment_failed", invoice)
	return invoice, attempts
}

// NewChargeBalanceTransaction builds the pending settlement record for a
// successful charge. Fee is 2.9% + 30, funds clear after two days.
func NewChargeBalanceTransaction(charge store.Resource, now int64) store.Resource {
	amount := charge.GetInt64("amount")
	fee := ChargeFee(amount)
	return store.Resource{
		"id":           store.NewID("txn"),
		"object":       "balance_transaction",
		"created":      now,
		"amount":       amount,
		"fee":          fee,
		"net":          amount - fee,
		"currency":     charge.GetString("currency"),
		"status":       "pending",
		"available_on": now + settlementDelay,
		"type":         "charge",
		"source":       charge.ID(),
	}
}

// NewRefundBalanceTransaction builds the immediately-available reversal
// record for a refund. The fee reversal is proportional to the refunded
// share of the original charge.
func NewRefundBalanceTransaction(refund, charge store.Resource, now int64) store.Resource {
	refundAmount := refund.GetInt64("amount")
	originalAmount := charge.GetInt64("amount")
	originalFee := ChargeFee(originalAmount)

	var fee int64
	if originalAmount > 0 {
		fee = -int64(math.Round(float64(originalFee) * float64(refundAmount) / float64(originalAmount)))
	}
	return store.Resource{
		"id":           store.NewID("txn"),
		"object":       "balance_transaction",
		"created":      now,
		"amount":       -refundAmount,
		"fee":          fee,
		"net":          -refundAmount - fee,
		"currency":     refund.GetString("currency"),
		"status":       "available",
		"available_on": now,
		"type":         "refund",
		"source":       refund.ID(),
	}
}
