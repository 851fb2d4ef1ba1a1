package resources

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/PaperTiger/server/internal/apierror"
	"github.com/PaperTiger/server/internal/billing"
	"github.com/PaperTiger/server/internal/chaos"
	"github.com/PaperTiger/server/internal/clock"
	"github.com/PaperTiger/server/internal/param"
	"github.com/PaperTiger/server/internal/store"
	"github.com/PaperTiger/server/internal/telemetry"
	"github.com/PaperTiger/server/pkg/responders"
)

// Transitions serves the non-CRUD state transitions. Each one is a normal
// write against the stores with its own lifecycle events.
type Transitions struct {
	reg     *store.Registry
	clock   *clock.Clock
	chaos   *chaos.Coordinator
	bus     *telemetry.Bus
	billing *billing.Engine
}

// NewTransitions wires the transition handlers.
func NewTransitions(reg *store.Registry, clk *clock.Clock, coord *chaos.Coordinator, bus *telemetry.Bus, engine *billing.Engine) *Transitions {
	return &Transitions{reg: reg, clock: clk, chaos: coord, bus: bus, billing: engine}
}

// AttachPaymentMethod handles POST /v1/payment_methods/{id}/attach.
func (t *Transitions) AttachPaymentMethod(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	methods := t.reg.Table("payment_methods")
	pm, ok := methods.Get(id)
	if !ok {
		apierror.NotFound(w, "payment_method", id)
		return
	}

	params := param.FromContext(r.Context())
	customerID, _ := params["customer"].(string)
	if customerID == "" {
		apierror.InvalidParam(w, "Missing required param: customer.", "customer")
		return
	}
	if _, ok := t.reg.Table("customers").Get(customerID); !ok {
		apierror.NotFound(w, "customer", customerID)
		return
	}

	pm["customer"] = customerID
	stored := methods.Update(pm)
	t.bus.Emit("payment_method.attached", stored)
	responders.JSON(w, http.StatusOK, stored)
}

// DetachPaymentMethod handles POST /v1/payment_methods/{id}/detach.
func (t *Transitions) DetachPaymentMethod(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	methods := t.reg.Table("payment_methods")
	pm, ok := methods.Get(id)
	if !ok {
		apierror.NotFound(w, "payment_method", id)
		return
	}
	if pm.GetString("customer") == "" {
		apierror.InvalidRequest(w, "The payment method you are trying to detach is not attached to a customer.")
		return
	}

	delete(pm, "customer")
	stored := methods.Update(pm)
	t.bus.Emit("payment_method.detached", stored)
	responders.JSON(w, http.StatusOK, stored)
}

// ConfirmPaymentIntent handles POST /v1/payment_intents/{id}/confirm. The
// outcome is decided by payment chaos; success settles the intent and mints
// a charge, a decline returns 402 with the card error.
func (t *Transitions) ConfirmPaymentIntent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	intents := t.reg.Table("payment_intents")
	intent, ok := intents.Get(id)
	if !ok {
		apierror.NotFound(w, "payment_intent", id)
		return
	}
	switch intent.GetString("status") {
	case "succeeded":
		apierror.InvalidRequest(w, "This PaymentIntent has already succeeded.")
		return
	case "canceled":
		apierror.InvalidRequest(w, "This PaymentIntent has been canceled.")
		return
	}

	now := t.clock.Now()
	customerID := intent.GetString("customer")

	if code, fail := t.chaos.ShouldPaymentFail(customerID); fail {
		message := chaos.DeclineMessage(code)
		intent["status"] = "requires_payment_method"
		intent["last_payment_error"] = map[string]any{
			"code":    code,
			"message": message,
			"type":    "card_error",
		}
		stored := intents.Update(intent)
		t.bus.Emit("payment_intent.payment_failed", stored)
		apierror.CardError(w, code, message)
		return
	}

	charge := t.reg.Table("charges").Insert(store.Resource{
		"id":             store.NewID("ch"),
		"object":         "charge",
		"created":        now,
		"amount":         intent.GetInt64("amount"),
		"currency":       intent.GetString("currency"),
		"customer":       customerID,
		"payment_intent": intent.ID(),
		"status":         "succeeded",
		"captured":       true,
		"paid":           true,
		"livemode":       false,
	})
	txn := t.reg.Table("balance_transactions").Insert(billing.NewChargeBalanceTransaction(charge, now))
	charge["balance_transaction"] = txn.ID()
	charge = t.reg.Table("charges").Update(charge)

	intent["status"] = "succeeded"
	intent["latest_charge"] = charge.ID()
	delete(intent, "last_payment_error")
	stored := intents.Update(intent)

	t.bus.Emit("payment_intent.succeeded", stored)
	t.bus.Emit("charge.succeeded", charge)
	responders.JSON(w, http.StatusOK, stored)
}

// CancelPaymentIntent handles POST /v1/payment_intents/{id}/cancel.
func (t *Transitions) CancelPaymentIntent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	intents := t.reg.Table("payment_intents")
	intent, ok := intents.Get(id)
	if !ok {
		apierror.NotFound(w, "payment_intent", id)
		return
	}
	if intent.GetString("status") == "succeeded" {
		apierror.InvalidRequest(w, "You cannot cancel this PaymentIntent because it has a status of succeeded.")
		return
	}

	intent["status"] = "canceled"
	intent["canceled_at"] = t.clock.Now()
	stored := intents.Update(intent)
	t.bus.Emit("payment_intent.canceled", stored)
	responders.JSON(w, http.StatusOK, stored)
}

// CreateRefund handles POST /v1/refunds. It replaces the generic create so
// the charge flips to refunded and the reversal balance transaction is
// written.
func (t *Transitions) CreateRefund(w http.ResponseWriter, r *http.Request) {
	params := param.FromContext(r.Context())
	chargeID, _ := params["charge"].(string)
	if chargeID == "" {
		apierror.InvalidParam(w, "Missing required param: charge.", "charge")
		return
	}

	charges := t.reg.Table("charges")
	charge, ok := charges.Get(chargeID)
	if !ok {
		apierror.NotFound(w, "charge", chargeID)
		return
	}
	if charge.GetString("status") != "succeeded" {
		apierror.InvalidRequest(w, "Charge "+chargeID+" has not succeeded.")
		return
	}

	amount := charge.GetInt64("amount") - charge.GetInt64("amount_refunded")
	if raw, ok := params["amount"]; ok {
		requested := store.Resource{"amount": raw}.GetInt64("amount")
		if requested <= 0 || requested > amount {
			apierror.InvalidParam(w, "Refund amount exceeds the refundable amount of the charge.", "amount")
			return
		}
		amount = requested
	}

	now := t.clock.Now()
	refund := t.reg.Table("refunds").Insert(store.Resource{
		"id":       store.NewID("re"),
		"object":   "refund",
		"created":  now,
		"charge":   chargeID,
		"amount":   amount,
		"currency": charge.GetString("currency"),
		"status":   "succeeded",
		"reason":   params["reason"],
	})

	txn := t.reg.Table("balance_transactions").Insert(billing.NewRefundBalanceTransaction(refund, charge, now))
	refund["balance_transaction"] = txn.ID()
	refund = t.reg.Table("refunds").Update(refund)

	refunded := charge.GetInt64("amount_refunded") + amount
	charge["amount_refunded"] = refunded
	charge["refunded"] = refunded >= charge.GetInt64("amount")
	charge = charges.Update(charge)

	t.bus.Emit("charge.refunded", charge)
	responders.JSON(w, http.StatusOK, refund)
}

// PayInvoice handles POST /v1/invoices/{id}/pay via the billing engine's
// chaos-backed attempt path.
func (t *Transitions) PayInvoice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	invoice, ok := t.reg.Table("invoices").Get(id)
	if !ok {
		apierror.NotFound(w, "invoice", id)
		return
	}
	if invoice.GetString("status") == "paid" {
		apierror.InvalidRequest(w, "Invoice "+id+" is already paid.")
		return
	}

	paid, code, ok := t.billing.PayInvoice(invoice)
	if !ok {
		apierror.CardError(w, code, chaos.DeclineMessage(code))
		return
	}
	responders.JSON(w, http.StatusOK, paid)
}

// CompleteCheckoutSession handles POST /v1/checkout/sessions/{id}/complete.
func (t *Transitions) CompleteCheckoutSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sessions := t.reg.Table("checkout_sessions")
	session, ok := sessions.Get(id)
	if !ok {
		apierror.NotFound(w, "checkout.session", id)
		return
	}
	if session.GetString("status") == "complete" {
		apierror.InvalidRequest(w, "This Checkout Session is already complete.")
		return
	}

	session["status"] = "complete"
	session["payment_status"] = "paid"
	stored := sessions.Update(session)
	t.bus.Emit("checkout.session.completed", stored)
	responders.JSON(w, http.StatusOK, stored)
}
