package resources

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/PaperTiger/server/internal/billing"
	"github.com/PaperTiger/server/internal/chaos"
	"github.com/PaperTiger/server/internal/clock"
	"github.com/PaperTiger/server/internal/param"
	"github.com/PaperTiger/server/internal/store"
	"github.com/PaperTiger/server/internal/telemetry"
)

type env struct {
	router *chi.Mux
	reg    *store.Registry
	clk    *clock.Clock
	chaos  *chaos.Coordinator
	types  *[]string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	reg := store.NewRegistry()
	clk := clock.New()
	if err := clk.SetMode(clock.ModeManual, 1); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	coord := chaos.NewWithSeed(zerolog.Nop(), 3)
	bus := telemetry.NewBus(zerolog.Nop())

	var emitted []string
	bus.Subscribe(func(sig telemetry.Signal) {
		emitted = append(emitted, sig.Type)
	})

	engine := billing.NewEngine(reg, clk, coord, bus, zerolog.Nop(), nil, true)
	transitions := NewTransitions(reg, clk, coord, bus, engine)

	r := chi.NewRouter()
	r.Use(param.Middleware)
	for _, def := range Definitions() {
		h := NewHandler(def, reg, clk, bus, zerolog.Nop())
		switch def.Plural {
		case "sessions":
			r.Route("/v1/checkout/sessions", func(r chi.Router) {
				h.Mount(r)
				r.Post("/{id}/complete", transitions.CompleteCheckoutSession)
			})
		case "payment_methods":
			r.Route("/v1/payment_methods", func(r chi.Router) {
				h.Mount(r)
				r.Post("/{id}/attach", transitions.AttachPaymentMethod)
				r.Post("/{id}/detach", transitions.DetachPaymentMethod)
			})
		case "payment_intents":
			r.Route("/v1/payment_intents", func(r chi.Router) {
				h.Mount(r)
				r.Post("/{id}/confirm", transitions.ConfirmPaymentIntent)
				r.Post("/{id}/cancel", transitions.CancelPaymentIntent)
			})
		case "invoices":
			r.Route("/v1/invoices", func(r chi.Router) {
				h.Mount(r)
				r.Post("/{id}/pay", transitions.PayInvoice)
			})
		case "refunds":
			r.Route("/v1/refunds", func(r chi.Router) {
				r.Get("/", h.List)
				r.Get("/{id}", h.Retrieve)
				r.Post("/", transitions.CreateRefund)
			})
		default:
			r.Route("/v1/"+def.Plural, h.Mount)
		}
	}

	return &env{router: r, reg: reg, clk: clk, chaos: coord, types: &emitted}
}

func (e *env) do(t *testing.T, method, target string, form url.Values) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var body map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s %s: response is not JSON: %v\n%s", method, target, err, w.Body.String())
		}
	}
	return w, body
}

func errType(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	s, _ := e["type"].(string)
	return s
}

func TestCustomerCRUD(t *testing.T) {
	e := newEnv(t)

	w, created := e.do(t, "POST", "/v1/customers", url.Values{
		"email": {"ada@example.com"},
		"name":  {"Ada"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("create status = %d: %v", w.Code, created)
	}
	id, _ := created["id"].(string)
	if !strings.HasPrefix(id, "cus_") || len(id) != len("cus_")+16 {
		t.Fatalf("id = %q, want cus_ plus 16 hex chars", id)
	}
	if created["object"] != "customer" {
		t.Errorf("object = %v, want customer", created["object"])
	}
	if created["livemode"] != false {
		t.Errorf("livemode = %v, want false", created["livemode"])
	}
	if created["email"] != "ada@example.com" {
		t.Errorf("email = %v", created["email"])
	}

	w, got := e.do(t, "GET", "/v1/customers/"+id, nil)
	if w.Code != http.StatusOK || got["id"] != id {
		t.Fatalf("retrieve status = %d body = %v", w.Code, got)
	}

	w, updated := e.do(t, "POST", "/v1/customers/"+id, url.Values{"name": {"Ada L."}})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d", w.Code)
	}
	if updated["name"] != "Ada L." {
		t.Errorf("name = %v, want Ada L.", updated["name"])
	}
	if updated["email"] != "ada@example.com" {
		t.Errorf("update should not clobber email, got %v", updated["email"])
	}

	w, deleted := e.do(t, "DELETE", "/v1/customers/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	if deleted["deleted"] != true || deleted["id"] != id {
		t.Errorf("delete body = %v", deleted)
	}

	w, missing := e.do(t, "GET", "/v1/customers/"+id, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("retrieve after delete status = %d", w.Code)
	}
	if errType(missing) != "invalid_request_error" {
		t.Errorf("error type = %q", errType(missing))
	}
	msg, _ := missing["error"].(map[string]any)["message"].(string)
	if msg != "No such customer: '"+id+"'" {
		t.Errorf("message = %q", msg)
	}
}

func TestCreateMissingRequiredParam(t *testing.T) {
	e := newEnv(t)
	w, body := e.do(t, "POST", "/v1/products", url.Values{"description": {"no name"}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	detail, _ := body["error"].(map[string]any)
	if detail["param"] != "name" {
		t.Errorf("param = %v, want name", detail["param"])
	}
}

func TestUpdateIgnoresImmutables(t *testing.T) {
	e := newEnv(t)
	_, created := e.do(t, "POST", "/v1/customers", url.Values{"email": {"x@y.z"}})
	id := created["id"].(string)

	_, updated := e.do(t, "POST", "/v1/customers/"+id, url.Values{
		"id":      {"cus_hijacked"},
		"object":  {"invoice"},
		"created": {"1"},
		"name":    {"kept"},
	})
	if updated["id"] != id {
		t.Errorf("id changed to %v", updated["id"])
	}
	if updated["object"] != "customer" {
		t.Errorf("object changed to %v", updated["object"])
	}
	if updated["name"] != "kept" {
		t.Errorf("name = %v", updated["name"])
	}
}

func TestSubscriptionItemSubscriptionImmutable(t *testing.T) {
	e := newEnv(t)
	_, item := e.do(t, "POST", "/v1/subscription_items", url.Values{"subscription": {"sub_one"}})
	id := item["id"].(string)

	_, updated := e.do(t, "POST", "/v1/subscription_items/"+id, url.Values{"subscription": {"sub_two"}})
	if updated["subscription"] != "sub_one" {
		t.Errorf("subscription = %v, want sub_one", updated["subscription"])
	}
}

func TestSubscriptionDeleteIsSoft(t *testing.T) {
	e := newEnv(t)
	_, sub := e.do(t, "POST", "/v1/subscriptions", url.Values{"customer": {"cus_soft"}})
	id := sub["id"].(string)

	w, canceled := e.do(t, "DELETE", "/v1/subscriptions/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	if canceled["status"] != "canceled" {
		t.Errorf("status = %v, want canceled", canceled["status"])
	}

	w, got := e.do(t, "GET", "/v1/subscriptions/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("canceled subscription should remain retrievable, status = %d", w.Code)
	}
	if got["status"] != "canceled" {
		t.Errorf("retrieved status = %v", got["status"])
	}
}

func TestListFilterAndPagination(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < 15; i++ {
		form := url.Values{"customer": {"cus_filter"}}
		if i%3 == 0 {
			form.Set("customer", "cus_other")
		}
		e.do(t, "POST", "/v1/subscriptions", form)
	}

	w, body := e.do(t, "GET", "/v1/subscriptions?customer=cus_filter&limit=4", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	data, _ := body["data"].([]any)
	if len(data) != 4 {
		t.Fatalf("page size = %d, want 4", len(data))
	}
	if body["has_more"] != true {
		t.Error("has_more should be true")
	}
	for _, item := range data {
		res := item.(map[string]any)
		if res["customer"] != "cus_filter" {
			t.Errorf("filter leaked customer %v", res["customer"])
		}
	}

	last := data[len(data)-1].(map[string]any)["id"].(string)
	w, next := e.do(t, "GET", "/v1/subscriptions?customer=cus_filter&limit=100&starting_after="+last, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("second page status = %d", w.Code)
	}
	nextData, _ := next["data"].([]any)
	if len(nextData) != 6 {
		t.Errorf("second page size = %d, want 6", len(nextData))
	}
	if next["has_more"] != false {
		t.Error("has_more on final page should be false")
	}
}

func TestListRejectsBadLimit(t *testing.T) {
	e := newEnv(t)
	w, body := e.do(t, "GET", "/v1/customers?limit=abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if errType(body) != "invalid_request_error" {
		t.Errorf("error type = %q", errType(body))
	}
}

func TestRetrieveWithExpand(t *testing.T) {
	e := newEnv(t)
	_, cust := e.do(t, "POST", "/v1/customers", url.Values{"email": {"ex@a.b"}})
	custID := cust["id"].(string)
	_, sub := e.do(t, "POST", "/v1/subscriptions", url.Values{"customer": {custID}})
	subID := sub["id"].(string)

	_, plain := e.do(t, "GET", "/v1/subscriptions/"+subID, nil)
	if _, isString := plain["customer"].(string); !isString {
		t.Fatalf("customer should be an id string without expand, got %T", plain["customer"])
	}

	_, expanded := e.do(t, "GET", "/v1/subscriptions/"+subID+"?expand[]=customer", nil)
	embedded, ok := expanded["customer"].(map[string]any)
	if !ok {
		t.Fatalf("customer should be expanded, got %T", expanded["customer"])
	}
	if embedded["email"] != "ex@a.b" {
		t.Errorf("expanded email = %v", embedded["email"])
	}
}

func TestPaymentMethodAttachDetach(t *testing.T) {
	e := newEnv(t)
	_, cust := e.do(t, "POST", "/v1/customers", url.Values{"email": {"pm@a.b"}})
	custID := cust["id"].(string)
	_, pm := e.do(t, "POST", "/v1/payment_methods", url.Values{"type": {"card"}})
	pmID := pm["id"].(string)

	w, attached := e.do(t, "POST", "/v1/payment_methods/"+pmID+"/attach", url.Values{"customer": {custID}})
	if w.Code != http.StatusOK {
		t.Fatalf("attach status = %d: %v", w.Code, attached)
	}
	if attached["customer"] != custID {
		t.Errorf("customer = %v, want %v", attached["customer"], custID)
	}

	w, _ = e.do(t, "POST", "/v1/payment_methods/"+pmID+"/attach", url.Values{"customer": {"cus_nope"}})
	if w.Code != http.StatusNotFound {
		t.Errorf("attach to unknown customer status = %d, want 404", w.Code)
	}

	w, detached := e.do(t, "POST", "/v1/payment_methods/"+pmID+"/detach", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("detach status = %d", w.Code)
	}
	if _, has := detached["customer"]; has {
		t.Errorf("customer should be removed, got %v", detached["customer"])
	}

	w, _ = e.do(t, "POST", "/v1/payment_methods/"+pmID+"/detach", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("double detach status = %d, want 400", w.Code)
	}
}

func TestConfirmPaymentIntent(t *testing.T) {
	e := newEnv(t)
	_, intent := e.do(t, "POST", "/v1/payment_intents", url.Values{
		"amount": {"2000"}, "currency": {"usd"}, "customer": {"cus_pi"},
	})
	id := intent["id"].(string)

	w, confirmed := e.do(t, "POST", "/v1/payment_intents/"+id+"/confirm", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("confirm status = %d: %v", w.Code, confirmed)
	}
	if confirmed["status"] != "succeeded" {
		t.Errorf("status = %v, want succeeded", confirmed["status"])
	}
	if e.reg.Table("charges").Count() != 1 {
		t.Errorf("charges = %d, want 1", e.reg.Table("charges").Count())
	}
	if e.reg.Table("balance_transactions").Count() != 1 {
		t.Errorf("balance_transactions = %d, want 1", e.reg.Table("balance_transactions").Count())
	}

	w, again := e.do(t, "POST", "/v1/payment_intents/"+id+"/confirm", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("double confirm status = %d, want 400: %v", w.Code, again)
	}
}

func TestConfirmPaymentIntentDeclined(t *testing.T) {
	e := newEnv(t)
	if err := e.chaos.SimulateFailure("cus_declined", "card_declined"); err != nil {
		t.Fatalf("SimulateFailure: %v", err)
	}
	_, intent := e.do(t, "POST", "/v1/payment_intents", url.Values{
		"amount": {"500"}, "currency": {"usd"}, "customer": {"cus_declined"},
	})
	id := intent["id"].(string)

	w, body := e.do(t, "POST", "/v1/payment_intents/"+id+"/confirm", nil)
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("confirm status = %d, want 402: %v", w.Code, body)
	}
	detail, _ := body["error"].(map[string]any)
	if detail["type"] != "card_error" || detail["code"] != "card_declined" {
		t.Errorf("error detail = %v", detail)
	}

	stored, _ := e.reg.Table("payment_intents").Get(id)
	if stored.GetString("status") != "requires_payment_method" {
		t.Errorf("status = %q, want requires_payment_method", stored.GetString("status"))
	}
}

func TestCancelPaymentIntent(t *testing.T) {
	e := newEnv(t)
	_, intent := e.do(t, "POST", "/v1/payment_intents", url.Values{
		"amount": {"100"}, "currency": {"usd"},
	})
	id := intent["id"].(string)

	w, canceled := e.do(t, "POST", "/v1/payment_intents/"+id+"/cancel", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", w.Code)
	}
	if canceled["status"] != "canceled" {
		t.Errorf("status = %v, want canceled", canceled["status"])
	}
}

func TestRefundFlow(t *testing.T) {
	e := newEnv(t)
	_, charge := e.do(t, "POST", "/v1/charges", url.Values{
		"amount": {"2000"}, "currency": {"usd"},
	})
	chargeID := charge["id"].(string)

	w, refund := e.do(t, "POST", "/v1/refunds", url.Values{
		"charge": {chargeID}, "amount": {"500"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("refund status = %d: %v", w.Code, refund)
	}
	if !strings.HasPrefix(refund["id"].(string), "re_") {
		t.Errorf("refund id = %v", refund["id"])
	}

	stored, _ := e.reg.Table("charges").Get(chargeID)
	if stored.Bool("refunded") {
		t.Error("partial refund should not flip refunded")
	}
	if got := stored.GetInt64("amount_refunded"); got != 500 {
		t.Errorf("amount_refunded = %d, want 500", got)
	}

	w, _ = e.do(t, "POST", "/v1/refunds", url.Values{"charge": {chargeID}})
	if w.Code != http.StatusOK {
		t.Fatalf("remainder refund status = %d", w.Code)
	}
	stored, _ = e.reg.Table("charges").Get(chargeID)
	if !stored.Bool("refunded") {
		t.Error("full refund should flip refunded")
	}

	w, body := e.do(t, "POST", "/v1/refunds", url.Values{"charge": {chargeID}, "amount": {"1"}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("over-refund status = %d, want 400: %v", w.Code, body)
	}

	txns := e.reg.Table("balance_transactions").Snapshot()
	if len(txns) != 2 {
		t.Fatalf("balance_transactions = %d, want 2", len(txns))
	}
	for _, txn := range txns {
		if txn.GetString("type") != "refund" {
			t.Errorf("txn type = %q, want refund", txn.GetString("type"))
		}
		if txn.GetString("status") != "available" {
			t.Errorf("txn status = %q, want available", txn.GetString("status"))
		}
	}
}

func TestPayInvoiceEndpoint(t *testing.T) {
	e := newEnv(t)
	invoice := e.reg.Table("invoices").Insert(store.Resource{
		"id": store.NewID("in"), "object": "invoice", "created": e.clk.Now(),
		"customer": "cus_inv", "status": "open", "currency": "usd",
		"amount_due": int64(900), "amount_remaining": int64(900),
	})

	w, paid := e.do(t, "POST", "/v1/invoices/"+invoice.ID()+"/pay", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("pay status = %d: %v", w.Code, paid)
	}
	if paid["status"] != "paid" {
		t.Errorf("status = %v, want paid", paid["status"])
	}

	w, body := e.do(t, "POST", "/v1/invoices/"+invoice.ID()+"/pay", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("pay again status = %d, want 400: %v", w.Code, body)
	}
}

func TestCheckoutSessionComplete(t *testing.T) {
	e := newEnv(t)
	w, session := e.do(t, "POST", "/v1/checkout/sessions", url.Values{"customer": {"cus_cs"}})
	if w.Code != http.StatusOK {
		t.Fatalf("create session status = %d", w.Code)
	}
	id := session["id"].(string)
	if !strings.HasPrefix(id, "cs_") {
		t.Errorf("session id = %q", id)
	}
	if session["status"] != "open" || session["payment_status"] != "unpaid" {
		t.Errorf("defaults = %v / %v", session["status"], session["payment_status"])
	}

	w, completed := e.do(t, "POST", "/v1/checkout/sessions/"+id+"/complete", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("complete status = %d", w.Code)
	}
	if completed["status"] != "complete" || completed["payment_status"] != "paid" {
		t.Errorf("completed = %v / %v", completed["status"], completed["payment_status"])
	}

	w, _ = e.do(t, "POST", "/v1/checkout/sessions/"+id+"/complete", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("double complete status = %d, want 400", w.Code)
	}
}

func TestReadOnlyResourcesRejectWrites(t *testing.T) {
	e := newEnv(t)
	w, _ := e.do(t, "POST", "/v1/events", url.Values{"type": {"fake"}})
	if w.Code == http.StatusOK {
		t.Error("events should not accept create")
	}
	w, _ = e.do(t, "POST", "/v1/balance_transactions", url.Values{"amount": {"1"}})
	if w.Code == http.StatusOK {
		t.Error("balance_transactions should not accept create")
	}
}

func TestLifecycleEventsEmitted(t *testing.T) {
	e := newEnv(t)
	_, cust := e.do(t, "POST", "/v1/customers", url.Values{"email": {"ev@a.b"}})
	id := cust["id"].(string)
	e.do(t, "POST", "/v1/customers/"+id, url.Values{"name": {"n"}})
	e.do(t, "DELETE", "/v1/customers/"+id, nil)

	want := []string{"customer.created", "customer.updated", "customer.deleted"}
	got := *e.types
	if len(got) != len(want) {
		t.Fatalf("emitted %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("signal[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
