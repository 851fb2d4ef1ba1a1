package hydrate

import (
	"reflect"
	"testing"

	"github.com/PaperTiger/server/internal/store"
)

func registryWithFixtures(t *testing.T) *store.Registry {
	t.Helper()
	reg := store.NewRegistry()

	reg.Table("customers").Insert(store.Resource{
		"id":             "cus_alice",
		"object":         "customer",
		"created":        int64(100),
		"email":          "alice@example.com",
		"default_source": "pm_card",
	})
	reg.Table("payment_methods").Insert(store.Resource{
		"id":      "pm_card",
		"object":  "payment_method",
		"created": int64(90),
		"type":    "card",
	})
	reg.Table("invoices").Insert(store.Resource{
		"id":       "in_1",
		"object":   "invoice",
		"created":  int64(200),
		"customer": "cus_alice",
	})
	return reg
}

func TestHydrate_SinglePath(t *testing.T) {
	reg := registryWithFixtures(t)
	invoice, _ := reg.Table("invoices").Get("in_1")

	got := Hydrate(invoice, []string{"customer"}, reg)

	cust, ok := got["customer"].(map[string]any)
	if !ok {
		t.Fatalf("customer = %T, want expanded map", got["customer"])
	}
	if cust["email"] != "alice@example.com" {
		t.Errorf("customer.email = %v", cust["email"])
	}

	// The input snapshot is untouched.
	if _, isString := invoice["customer"].(string); !isString {
		t.Error("Hydrate mutated its input")
	}
}

func TestHydrate_NestedPath(t *testing.T) {
	reg := registryWithFixtures(t)
	invoice, _ := reg.Table("invoices").Get("in_1")

	got := Hydrate(invoice, []string{"customer.default_source"}, reg)

	cust := got["customer"].(map[string]any)
	source, ok := cust["default_source"].(map[string]any)
	if !ok {
		t.Fatalf("default_source = %T, want expanded map", cust["default_source"])
	}
	if source["type"] != "card" {
		t.Errorf("default_source.type = %v", source["type"])
	}
}

func TestHydrate_UnknownReferenceLeftAsString(t *testing.T) {
	reg := registryWithFixtures(t)
	reg.Table("invoices").Insert(store.Resource{
		"id":       "in_2",
		"object":   "invoice",
		"created":  int64(300),
		"customer": "cus_missing",
		"source":   "zzz_unknownprefix",
	})
	invoice, _ := reg.Table("invoices").Get("in_2")

	got := Hydrate(invoice, []string{"customer", "source", "absent_field"}, reg)

	if got["customer"] != "cus_missing" {
		t.Errorf("missing reference replaced: %v", got["customer"])
	}
	if got["source"] != "zzz_unknownprefix" {
		t.Errorf("unknown prefix replaced: %v", got["source"])
	}
}

func TestHydrate_Idempotent(t *testing.T) {
	reg := registryWithFixtures(t)
	invoice, _ := reg.Table("invoices").Get("in_1")
	paths := []string{"customer", "customer.default_source"}

	once := Hydrate(invoice, paths, reg)
	twice := Hydrate(once, paths, reg)

	if !reflect.DeepEqual(map[string]any(once), map[string]any(twice)) {
		t.Error("hydrate(hydrate(x)) != hydrate(x)")
	}
}

func TestHydrate_ListElements(t *testing.T) {
	reg := registryWithFixtures(t)
	sub := store.Resource{
		"id":      "sub_1",
		"object":  "subscription",
		"created": int64(10),
		"items":   []any{"si_a"},
	}
	reg.Table("subscription_items").Insert(store.Resource{
		"id":      "si_a",
		"object":  "subscription_item",
		"created": int64(5),
		"price":   "price_p",
	})
	reg.Table("prices").Insert(store.Resource{
		"id":          "price_p",
		"object":      "price",
		"created":     int64(1),
		"unit_amount": int64(2000),
	})
	reg.Table("subscriptions").Insert(sub)
	stored, _ := reg.Table("subscriptions").Get("sub_1")

	got := Hydrate(stored, []string{"items.price"}, reg)

	items := got["items"].([]any)
	item, ok := items[0].(map[string]any)
	if !ok {
		t.Fatalf("items[0] = %T, want expanded map", items[0])
	}
	price, ok := item["price"].(map[string]any)
	if !ok {
		t.Fatalf("items[0].price = %T, want expanded map", item["price"])
	}
	if store.Int64(price["unit_amount"]) != 2000 {
		t.Errorf("unit_amount = %v", price["unit_amount"])
	}
}
