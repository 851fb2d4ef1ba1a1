package store

import "sort"

// Registry owns one store per resource type and the prefix table the
// hydrator uses for reverse lookup. It is the single source of truth for id
// shapes: every resource type must be enumerated here.
type Registry struct {
	byTable  map[string]*Store
	byPrefix map[string]*Store
	byObject map[string]*Store
}

// tableDef enumerates every resource type: table name, object tag, id prefix.
var tableDefs = []struct {
	table  string
	object string
	prefix string
}{
	{"customers", "customer", "cus"},
	{"subscriptions", "subscription", "sub"},
	{"subscription_items", "subscription_item", "si"},
	{"invoices", "invoice", "in"},
	{"invoiceitems", "invoiceitem", "ii"},
	{"payment_methods", "payment_method", "pm"},
	{"payment_intents", "payment_intent", "pi"},
	{"setup_intents", "setup_intent", "seti"},
	{"charges", "charge", "ch"},
	{"refunds", "refund", "re"},
	{"products", "product", "prod"},
	{"prices", "price", "price"},
	{"plans", "plan", "plan"},
	{"coupons", "coupon", "coup"},
	{"tokens", "token", "tok"},
	{"balance_transactions", "balance_transaction", "txn"},
	{"events", "event", "evt"},
	{"checkout_sessions", "checkout.session", "cs"},
	{"webhook_endpoints", "webhook_endpoint", "we"},
	{"webhook_deliveries", "webhook_delivery", "whd"},
}

// NewRegistry builds stores for every known resource type.
func NewRegistry() *Registry {
	r := &Registry{
		byTable:  make(map[string]*Store, len(tableDefs)),
		byPrefix: make(map[string]*Store, len(tableDefs)),
		byObject: make(map[string]*Store, len(tableDefs)),
	}
	for _, def := range tableDefs {
		s := New(def.table, def.object, def.prefix)
		r.byTable[def.table] = s
		r.byPrefix[def.prefix] = s
		r.byObject[def.object] = s
	}
	return r
}

// Table returns the store by plural table name, or nil.
func (r *Registry) Table(name string) *Store {
	return r.byTable[name]
}

// ByPrefix returns the store owning ids with the given prefix, or nil.
func (r *Registry) ByPrefix(prefix string) *Store {
	return r.byPrefix[prefix]
}

// ByObject returns the store by object tag, or nil.
func (r *Registry) ByObject(object string) *Store {
	return r.byObject[object]
}

// Lookup resolves an id through the prefix table. Unknown prefixes are not
// an error; they simply fail to resolve.
func (r *Registry) Lookup(id string) (Resource, bool) {
	s := r.byPrefix[Prefix(id)]
	if s == nil {
		return nil, false
	}
	return s.Get(id)
}

// All returns every store in table-name order.
func (r *Registry) All() []*Store {
	names := make([]string, 0, len(r.byTable))
	for name := range r.byTable {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*Store, 0, len(names))
	for _, name := range names {
		out = append(out, r.byTable[name])
	}
	return out
}

// ClearAll flushes every store. Global fixtures survive.
func (r *Registry) ClearAll() {
	for _, s := range r.byTable {
		s.Clear()
	}
}
