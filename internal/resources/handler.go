package resources

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/PaperTiger/server/internal/apierror"
	"github.com/PaperTiger/server/internal/clock"
	"github.com/PaperTiger/server/internal/hydrate"
	"github.com/PaperTiger/server/internal/param"
	"github.com/PaperTiger/server/internal/store"
	"github.com/PaperTiger/server/internal/telemetry"
	"github.com/PaperTiger/server/pkg/responders"
)

// Handler serves the five generic operations for one resource definition.
type Handler struct {
	def   Definition
	store *store.Store
	reg   *store.Registry
	clock *clock.Clock
	bus   *telemetry.Bus
	log   zerolog.Logger
}

// NewHandler binds a definition to its store and collaborators.
func NewHandler(def Definition, reg *store.Registry, clk *clock.Clock, bus *telemetry.Bus, log zerolog.Logger) *Handler {
	return &Handler{
		def:   def,
		store: reg.Table(def.Table),
		reg:   reg,
		clock: clk,
		bus:   bus,
		log:   log,
	}
}

// Mount attaches the operation routes on a collection subrouter.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/{id}", h.Retrieve)
	if h.def.ReadOnly {
		return
	}
	r.Post("/", h.Create)
	r.Post("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
}

// Create validates required params, fills identity fields, and inserts.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	params := param.FromContext(r.Context())

	for _, field := range h.def.Required {
		if _, ok := params[field]; !ok {
			apierror.InvalidParam(w, "Missing required param: "+field+".", field)
			return
		}
	}

	res := store.Resource{
		"object":   h.def.Object,
		"created":  h.clock.Now(),
		"livemode": false,
	}
	for k, v := range h.def.Defaults {
		res[k] = v
	}
	for k, v := range params {
		if k == "expand" {
			continue
		}
		res[k] = v
	}
	if res.GetString("id") == "" {
		res["id"] = store.NewID(h.store.IDPrefix())
	}

	stored := h.store.Insert(res)
	h.bus.Emit(h.def.Object+".created", stored)

	responders.JSON(w, http.StatusOK, h.hydrated(stored, params))
}

// Retrieve fetches one resource, applying hydration.
func (h *Handler) Retrieve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, ok := h.store.Get(id)
	if !ok {
		apierror.NotFound(w, h.def.Object, id)
		return
	}
	responders.JSON(w, http.StatusOK, h.hydrated(res, param.FromContext(r.Context())))
}

// Update overlays mutable fields onto the stored resource. Explicit nils
// remove fields.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, ok := h.store.Get(id)
	if !ok {
		apierror.NotFound(w, h.def.Object, id)
		return
	}

	params := param.FromContext(r.Context())
	for k, v := range params {
		if k == "expand" || h.def.immutable(k) {
			continue
		}
		if v == nil {
			delete(res, k)
			continue
		}
		res[k] = v
	}

	stored := h.store.Update(res)
	h.bus.Emit(h.def.Object+".updated", stored)

	responders.JSON(w, http.StatusOK, h.hydrated(stored, params))
}

// Delete removes the resource, or transitions its status for soft-delete
// resources such as subscriptions.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, ok := h.store.Get(id)
	if !ok {
		apierror.NotFound(w, h.def.Object, id)
		return
	}

	if h.def.SoftDeleteStatus != "" {
		res["status"] = h.def.SoftDeleteStatus
		res["canceled_at"] = h.clock.Now()
		stored := h.store.Update(res)
		h.bus.Emit(h.def.Object+".deleted", stored)
		responders.JSON(w, http.StatusOK, stored)
		return
	}

	h.store.Delete(id)
	h.bus.Emit(h.def.Object+".deleted", res)
	responders.JSON(w, http.StatusOK, map[string]any{
		"deleted": true,
		"id":      id,
		"object":  h.def.Object,
	})
}

// List serves a cursor page with optional equality filters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	params := param.FromContext(r.Context())

	limit := -1
	if raw, ok := params["limit"].(string); ok {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			apierror.InvalidParam(w, "Invalid integer: "+raw, "limit")
			return
		}
		limit = parsed
	}

	opts := store.ListOptions{
		Limit:  limit,
		Filter: h.def.filterFor(params),
	}
	if v, ok := params["starting_after"].(string); ok {
		opts.StartingAfter = v
	}
	if v, ok := params["ending_before"].(string); ok {
		opts.EndingBefore = v
	}

	page := h.store.List(opts)

	if paths := param.ExpandFromParams(params); len(paths) != 0 {
		trimmed := trimDataPrefix(paths)
		for i, res := range page.Data {
			page.Data[i] = hydrate.Hydrate(res, trimmed, h.reg)
		}
	}

	responders.JSON(w, http.StatusOK, page)
}

// hydrated applies expand paths from the request params.
func (h *Handler) hydrated(res store.Resource, params map[string]any) store.Resource {
	paths := param.ExpandFromParams(params)
	if len(paths) == 0 {
		return res
	}
	return hydrate.Hydrate(res, paths, h.reg)
}

// trimDataPrefix rewrites list-style expand paths (data.customer) into
// per-item paths (customer). Paths without the prefix pass through.
func trimDataPrefix(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if len(p) > 5 && p[:5] == "data." {
			out = append(out, p[5:])
			continue
		}
		out = append(out, p)
	}
	return out
}
