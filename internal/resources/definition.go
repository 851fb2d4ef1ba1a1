// Package resources exposes the uniform CRUD surface over the stores plus
// the handful of non-CRUD state transitions (attach, confirm, refund, pay).
package resources

import "github.com/PaperTiger/server/internal/store"

// Definition parameterizes the generic handler family for one resource type.
type Definition struct {
	// Object is the wire object name, e.g. "customer".
	Object string
	// Plural is the URL collection segment, e.g. "customers".
	Plural string
	// Table names the backing store.
	Table string
	// Required params must be present on create.
	Required []string
	// Immutable fields are dropped from update payloads in addition to
	// id, object, and created.
	Immutable []string
	// Filters lists query params usable as equality filters on list.
	Filters []string
	// Defaults are merged into new resources before caller fields.
	Defaults map[string]any
	// SoftDeleteStatus, when set, turns delete into a status transition
	// instead of physical removal.
	SoftDeleteStatus string
	// ReadOnly restricts the resource to retrieve and list.
	ReadOnly bool
}

// Definitions enumerates every resource served through the generic
// dispatch. Checkout sessions are included here but routed under the
// two-segment /v1/checkout/sessions path.
func Definitions() []Definition {
	return []Definition{
		{
			Object: "customer", Plural: "customers", Table: "customers",
			Filters:  []string{"email"},
			Defaults: map[string]any{"balance": int64(0), "currency": "usd", "delinquent": false},
		},
		{
			Object: "product", Plural: "products", Table: "products",
			Required: []string{"name"},
			Defaults: map[string]any{"active": true},
		},
		{
			Object: "price", Plural: "prices", Table: "prices",
			Required: []string{"currency"},
			Filters:  []string{"product", "currency"},
			Defaults: map[string]any{"active": true, "type": "recurring"},
		},
		{
			Object: "plan", Plural: "plans", Table: "plans",
			Required: []string{"currency", "interval"},
			Filters:  []string{"product"},
			Defaults: map[string]any{"active": true, "interval_count": int64(1)},
		},
		{
			Object: "subscription", Plural: "subscriptions", Table: "subscriptions",
			Required:         []string{"customer"},
			Filters:          []string{"customer", "status"},
			SoftDeleteStatus: "canceled",
			Defaults:         map[string]any{"status": "active", "cancel_at_period_end": false},
		},
		{
			Object: "subscription_item", Plural: "subscription_items", Table: "subscription_items",
			Required:  []string{"subscription"},
			Immutable: []string{"subscription"},
			Filters:   []string{"subscription"},
		},
		{
			Object: "invoice", Plural: "invoices", Table: "invoices",
			Filters:  []string{"customer", "subscription", "status"},
			Defaults: map[string]any{"status": "draft", "paid": false, "attempt_count": int64(0)},
		},
		{
			Object: "invoiceitem", Plural: "invoiceitems", Table: "invoiceitems",
			Required: []string{"customer"},
			Filters:  []string{"customer", "invoice"},
		},
		{
			Object: "payment_method", Plural: "payment_methods", Table: "payment_methods",
			Required: []string{"type"},
			Filters:  []string{"customer", "type"},
		},
		{
			Object: "payment_intent", Plural: "payment_intents", Table: "payment_intents",
			Required: []string{"amount", "currency"},
			Filters:  []string{"customer"},
			Defaults: map[string]any{"status": "requires_payment_method", "capture_method": "automatic"},
		},
		{
			Object: "setup_intent", Plural: "setup_intents", Table: "setup_intents",
			Filters:  []string{"customer"},
			Defaults: map[string]any{"status": "requires_payment_method"},
		},
		{
			Object: "charge", Plural: "charges", Table: "charges",
			Required: []string{"amount", "currency"},
			Filters:  []string{"customer", "payment_intent"},
			Defaults: map[string]any{"status": "succeeded", "captured": true, "paid": true, "refunded": false},
		},
		{
			Object: "refund", Plural: "refunds", Table: "refunds",
			Filters: []string{"charge"},
		},
		{
			Object: "token", Plural: "tokens", Table: "tokens",
			Defaults: map[string]any{"used": false},
		},
		{
			Object: "coupon", Plural: "coupons", Table: "coupons",
			Required: []string{"duration"},
			Defaults: map[string]any{"valid": true},
		},
		{
			Object: "checkout.session", Plural: "sessions", Table: "checkout_sessions",
			Defaults: map[string]any{"status": "open", "payment_status": "unpaid"},
		},
		{
			Object: "balance_transaction", Plural: "balance_transactions", Table: "balance_transactions",
			Filters:  []string{"type", "source"},
			ReadOnly: true,
		},
		{
			Object: "event", Plural: "events", Table: "events",
			Filters:  []string{"type"},
			ReadOnly: true,
		},
	}
}

// immutable reports whether field may not be overwritten on update.
func (d Definition) immutable(field string) bool {
	switch field {
	case "id", "object", "created":
		return true
	}
	for _, f := range d.Immutable {
		if f == field {
			return true
		}
	}
	return false
}

// filterFor builds the equality filter for the given params, or nil when no
// declared filter param is present.
func (d Definition) filterFor(params map[string]any) func(store.Resource) bool {
	var wanted []struct{ field, value string }
	for _, field := range d.Filters {
		if v, ok := params[field].(string); ok && v != "" {
			wanted = append(wanted, struct{ field, value string }{field, v})
		}
	}
	if len(wanted) == 0 {
		return nil
	}
	return func(res store.Resource) bool {
		for _, w := range wanted {
			if res.GetString(w.field) != w.value {
				return false
			}
		}
		return true
	}
}
