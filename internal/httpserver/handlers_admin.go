package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/PaperTiger/server/internal/apierror"
	"github.com/PaperTiger/server/internal/chaos"
	"github.com/PaperTiger/server/internal/clock"
	"github.com/PaperTiger/server/internal/snapshot"
	"github.com/PaperTiger/server/internal/store"
	"github.com/PaperTiger/server/pkg/responders"
)

// adminHandlers serves the /_config surface. Bodies are plain JSON; this
// side of the server is not part of the emulated wire contract.
type adminHandlers struct {
	deps Deps
}

func (a adminHandlers) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	if r.Body == nil {
		return true
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(into); err != nil && !errors.Is(err, io.EOF) {
		apierror.InvalidRequest(w, "Invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// registerWebhook handles POST /_config/webhooks/{id}.
func (a adminHandlers) registerWebhook(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL           string   `json:"url"`
		Secret        string   `json:"secret"`
		EnabledEvents []string `json:"enabled_events"`
	}
	if !a.decode(w, r, &body) {
		return
	}
	if body.URL == "" {
		apierror.InvalidParam(w, "Missing required param: url.", "url")
		return
	}
	if body.Secret == "" {
		apierror.InvalidParam(w, "Missing required param: secret.", "secret")
		return
	}

	events := make([]any, 0, len(body.EnabledEvents))
	for _, ev := range body.EnabledEvents {
		events = append(events, ev)
	}

	endpoint := store.Resource{
		"id":      chi.URLParam(r, "id"),
		"object":  "webhook_endpoint",
		"created": a.deps.Clock.Now(),
		"url":     body.URL,
		"secret":  body.Secret,
		"status":  "enabled",
	}
	if len(events) > 0 {
		endpoint["enabled_events"] = events
	}
	stored := a.deps.Registry.Table("webhook_endpoints").Insert(endpoint)
	responders.JSON(w, http.StatusOK, stored)
}

// deleteWebhook handles DELETE /_config/webhooks/{id}.
func (a adminHandlers) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !a.deps.Registry.Table("webhook_endpoints").Delete(id) {
		apierror.NotFound(w, "webhook_endpoint", id)
		return
	}
	responders.JSON(w, http.StatusOK, map[string]any{"deleted": true, "id": id})
}

// flushData handles DELETE /_config/data: every store is cleared, global
// fixtures survive.
func (a adminHandlers) flushData(w http.ResponseWriter, r *http.Request) {
	a.deps.Registry.ClearAll()
	responders.JSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// getTime handles GET /_config/time.
func (a adminHandlers) getTime(w http.ResponseWriter, r *http.Request) {
	responders.JSON(w, http.StatusOK, map[string]any{
		"now":        a.deps.Clock.Now(),
		"mode":       string(a.deps.Clock.Mode()),
		"multiplier": a.deps.Clock.Multiplier(),
	})
}

// advanceTime handles POST /_config/time/advance. The units are additive.
func (a adminHandlers) advanceTime(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Seconds int64 `json:"seconds"`
		Minutes int64 `json:"minutes"`
		Hours   int64 `json:"hours"`
		Days    int64 `json:"days"`
	}
	if !a.decode(w, r, &body) {
		return
	}

	delta := body.Seconds + body.Minutes*60 + body.Hours*3600 + body.Days*86400
	now, err := a.deps.Clock.Advance(delta)
	if err != nil {
		apierror.InvalidRequest(w, err.Error())
		return
	}
	responders.JSON(w, http.StatusOK, map[string]any{"now": now})
}

// setTimeMode handles POST /_config/time/mode.
func (a adminHandlers) setTimeMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode       string `json:"mode"`
		Multiplier int64  `json:"multiplier"`
	}
	if !a.decode(w, r, &body) {
		return
	}
	if err := a.deps.Clock.SetMode(clock.Mode(body.Mode), body.Multiplier); err != nil {
		apierror.InvalidRequest(w, err.Error())
		return
	}
	a.getTime(w, r)
}

// chaosPolicyBody is the JSON shape shared by GET and POST /_config/chaos.
type chaosPolicyBody struct {
	Payment *struct {
		FailureRate    float64            `json:"failure_rate"`
		DeclineCodes   []string           `json:"decline_codes"`
		DeclineWeights map[string]float64 `json:"decline_weights"`
	} `json:"payment,omitempty"`
	Event *struct {
		OutOfOrder     bool    `json:"out_of_order"`
		DuplicateRate  float64 `json:"duplicate_rate"`
		BufferWindowMS int64   `json:"buffer_window_ms"`
	} `json:"event,omitempty"`
	API *struct {
		TimeoutRate   float64 `json:"timeout_rate"`
		TimeoutMS     int     `json:"timeout_ms"`
		RateLimitRate float64 `json:"rate_limit_rate"`
		ErrorRate     float64 `json:"error_rate"`
	} `json:"api,omitempty"`
}

// getChaos handles GET /_config/chaos.
func (a adminHandlers) getChaos(w http.ResponseWriter, r *http.Request) {
	payment, event, api := a.deps.Chaos.Policies()
	responders.JSON(w, http.StatusOK, map[string]any{
		"payment": map[string]any{
			"failure_rate":    payment.FailureRate,
			"decline_codes":   payment.DeclineCodes,
			"decline_weights": payment.DeclineWeights,
		},
		"event": map[string]any{
			"out_of_order":     event.OutOfOrder,
			"duplicate_rate":   event.DuplicateRate,
			"buffer_window_ms": event.BufferWindow.Milliseconds(),
		},
		"api": map[string]any{
			"timeout_rate":    api.TimeoutRate,
			"timeout_ms":      api.TimeoutMS,
			"rate_limit_rate": api.RateLimitRate,
			"error_rate":      api.ErrorRate,
		},
	})
}

// setChaos handles POST /_config/chaos. Sections are applied independently;
// the first invalid section aborts with 400.
func (a adminHandlers) setChaos(w http.ResponseWriter, r *http.Request) {
	var body chaosPolicyBody
	if !a.decode(w, r, &body) {
		return
	}

	if body.Payment != nil {
		err := a.deps.Chaos.SetPaymentPolicy(chaos.PaymentPolicy{
			FailureRate:    body.Payment.FailureRate,
			DeclineCodes:   body.Payment.DeclineCodes,
			DeclineWeights: body.Payment.DeclineWeights,
		})
		if err != nil {
			apierror.InvalidRequest(w, err.Error())
			return
		}
	}
	if body.Event != nil {
		err := a.deps.Chaos.SetEventPolicy(chaos.EventPolicy{
			OutOfOrder:    body.Event.OutOfOrder,
			DuplicateRate: body.Event.DuplicateRate,
			BufferWindow:  time.Duration(body.Event.BufferWindowMS) * time.Millisecond,
		})
		if err != nil {
			apierror.InvalidRequest(w, err.Error())
			return
		}
	}
	if body.API != nil {
		err := a.deps.Chaos.SetAPIPolicy(chaos.APIPolicy{
			TimeoutRate:   body.API.TimeoutRate,
			TimeoutMS:     body.API.TimeoutMS,
			RateLimitRate: body.API.RateLimitRate,
			ErrorRate:     body.API.ErrorRate,
		})
		if err != nil {
			apierror.InvalidRequest(w, err.Error())
			return
		}
	}
	a.getChaos(w, r)
}

// resetChaos handles POST /_config/chaos/reset.
func (a adminHandlers) resetChaos(w http.ResponseWriter, r *http.Request) {
	a.deps.Chaos.Reset()
	responders.JSON(w, http.StatusOK, map[string]any{"reset": true})
}

// chaosStats handles GET /_config/chaos/stats.
func (a adminHandlers) chaosStats(w http.ResponseWriter, r *http.Request) {
	responders.JSON(w, http.StatusOK, a.deps.Chaos.GetStats())
}

// flushEvents handles POST /_config/chaos/flush_events.
func (a adminHandlers) flushEvents(w http.ResponseWriter, r *http.Request) {
	a.deps.Chaos.FlushEvents()
	responders.JSON(w, http.StatusOK, map[string]any{"flushed": true})
}

// simulateFailure handles POST /_config/payments/simulate_failure. An empty
// code clears the customer's override.
func (a adminHandlers) simulateFailure(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Customer string `json:"customer"`
		Code     string `json:"code"`
	}
	if !a.decode(w, r, &body) {
		return
	}
	if body.Customer == "" {
		apierror.InvalidParam(w, "Missing required param: customer.", "customer")
		return
	}
	if body.Code == "" {
		a.deps.Chaos.ClearSimulatedFailure(body.Customer)
		responders.JSON(w, http.StatusOK, map[string]any{"customer": body.Customer, "cleared": true})
		return
	}
	if err := a.deps.Chaos.SimulateFailure(body.Customer, body.Code); err != nil {
		apierror.InvalidRequest(w, err.Error())
		return
	}
	responders.JSON(w, http.StatusOK, map[string]any{"customer": body.Customer, "code": body.Code})
}

// runBilling handles POST /_config/billing/run.
func (a adminHandlers) runBilling(w http.ResponseWriter, r *http.Request) {
	processed := a.deps.Billing.ProcessBilling()
	responders.JSON(w, http.StatusOK, map[string]any{"processed": processed})
}

// saveSnapshot handles POST /_config/snapshot/save.
func (a adminHandlers) saveSnapshot(w http.ResponseWriter, r *http.Request) {
	if a.deps.SnapshotDir == "" {
		apierror.InvalidRequest(w, "Snapshots are not configured; set snapshot.dir.")
		return
	}
	if err := snapshot.Save(a.deps.SnapshotDir, a.deps.Registry, a.deps.Logger); err != nil {
		apierror.InvalidRequest(w, err.Error())
		return
	}
	responders.JSON(w, http.StatusOK, map[string]any{"saved": true})
}

// loadSnapshot handles POST /_config/snapshot/load.
func (a adminHandlers) loadSnapshot(w http.ResponseWriter, r *http.Request) {
	if a.deps.SnapshotDir == "" {
		apierror.InvalidRequest(w, "Snapshots are not configured; set snapshot.dir.")
		return
	}
	if err := snapshot.Load(a.deps.SnapshotDir, a.deps.Registry, a.deps.Logger); err != nil {
		apierror.InvalidRequest(w, err.Error())
		return
	}
	responders.JSON(w, http.StatusOK, map[string]any{"loaded": true})
}

// health is a plain liveness probe.
func (a adminHandlers) health(w http.ResponseWriter, r *http.Request) {
	responders.JSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
