package kitchen

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/telemetry"
	"github.com/appetiteclub/expo/pkg/enums/kitchenstatus"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const MaxBodyBytes = 1 << 20

// HandlerDeps groups what the HTTP surface needs from the service.
type HandlerDeps struct {
	Engine      *Engine
	Store       ItemStore
	Views       *Materializer
	Broadcaster *Broadcaster
	Metrics     *Metrics
	Config      *apt.Config
	Logger      apt.Logger
}

type Handler struct {
	engine      *Engine
	store       ItemStore
	views       *Materializer
	broadcaster *Broadcaster
	metrics     *Metrics
	logger      apt.Logger
	config      *apt.Config
	tlm         *telemetry.HTTP
}

func NewHandler(deps HandlerDeps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Handler{
		engine:      deps.Engine,
		store:       deps.Store,
		views:       deps.Views,
		broadcaster: deps.Broadcaster,
		metrics:     deps.Metrics,
		logger:      logger,
		config:      deps.Config,
		tlm:         telemetry.NewHTTP(),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/items", func(r chi.Router) {
		r.Get("/{id}", h.GetItem)
		r.Patch("/{id}/status", h.UpdateItemStatus)
		r.Patch("/{id}/urgent", h.MarkUrgent)
		r.Post("/{id}/recall", h.RecallItem)
	})

	r.Post("/orders/{id}/complete", h.CompleteOrder)

	r.Route("/views", func(r chi.Router) {
		r.Get("/orders", h.OrderCards)
		r.Get("/stations/{station}", h.StationView)
		r.Get("/menu-items", h.MenuItems)
		r.Get("/recent", h.RecentlyFulfilled)
	})

	r.Get("/stations", h.Stations)
	r.Get("/events", h.StreamEvents)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
}

func (h *Handler) log(r *http.Request) apt.Logger {
	return h.logger.With("request_id", apt.RequestIDFrom(r.Context()))
}

func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetItem")
	defer finish()
	log := h.log(r)

	id, ok := parseID(w, r, "Invalid item ID")
	if !ok {
		return
	}

	item, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, log, err, "Could not get item")
		return
	}

	apt.Respond(w, http.StatusOK, item, nil)
}

type statusPayload struct {
	Status         string `json:"status"`
	ExpectedStatus string `json:"expected_status"`
	ActorID        string `json:"actor_id"`
}

func (h *Handler) UpdateItemStatus(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.UpdateItemStatus")
	defer finish()
	log := h.log(r)

	id, ok := parseID(w, r, "Invalid item ID")
	if !ok {
		return
	}

	var payload statusPayload
	if !decodeBody(w, r, &payload) {
		return
	}

	target := kitchenstatus.ByName(payload.Status)
	if target == nil {
		apt.RespondError(w, http.StatusBadRequest, "Invalid status")
		return
	}

	req := StatusUpdate{ItemID: id, Target: *target, ActorID: payload.ActorID}
	if payload.ExpectedStatus != "" {
		expected := kitchenstatus.ByName(payload.ExpectedStatus)
		if expected == nil {
			apt.RespondError(w, http.StatusBadRequest, "Invalid expected status")
			return
		}
		req.Expected = expected
	}

	result, err := h.engine.UpdateItemStatus(r.Context(), req)
	if err != nil {
		h.respondError(w, log, err, "Could not update item status")
		return
	}

	apt.Respond(w, http.StatusOK, result, nil)
}

type urgentPayload struct {
	Urgent  *bool  `json:"urgent"`
	ActorID string `json:"actor_id"`
}

func (h *Handler) MarkUrgent(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.MarkUrgent")
	defer finish()
	log := h.log(r)

	id, ok := parseID(w, r, "Invalid item ID")
	if !ok {
		return
	}

	var payload urgentPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	if payload.Urgent == nil {
		apt.RespondError(w, http.StatusBadRequest, "Missing urgent flag")
		return
	}

	item, err := h.engine.MarkUrgent(r.Context(), id, *payload.Urgent, payload.ActorID)
	if err != nil {
		h.respondError(w, log, err, "Could not mark item")
		return
	}

	apt.Respond(w, http.StatusOK, item, nil)
}

type actorPayload struct {
	ActorID string `json:"actor_id"`
}

func (h *Handler) RecallItem(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.RecallItem")
	defer finish()
	log := h.log(r)

	id, ok := parseID(w, r, "Invalid item ID")
	if !ok {
		return
	}

	var payload actorPayload
	if !decodeBody(w, r, &payload) {
		return
	}

	item, err := h.engine.Recall(r.Context(), id, payload.ActorID)
	if err != nil {
		h.respondError(w, log, err, "Could not recall item")
		return
	}

	apt.Respond(w, http.StatusOK, item, nil)
}

func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CompleteOrder")
	defer finish()
	log := h.log(r)

	id, ok := parseID(w, r, "Invalid order ID")
	if !ok {
		return
	}

	var payload actorPayload
	if !decodeBody(w, r, &payload) {
		return
	}

	report, err := h.engine.CompleteOrder(r.Context(), id, payload.ActorID)
	if err != nil {
		h.respondError(w, log, err, "Could not complete order")
		return
	}

	apt.Respond(w, http.StatusOK, report, nil)
}

func (h *Handler) OrderCards(w http.ResponseWriter, r *http.Request) {
	h.materialize(w, r, "Handler.OrderCards", ViewRequest{Kind: ViewOrders})
}

func (h *Handler) StationView(w http.ResponseWriter, r *http.Request) {
	h.materialize(w, r, "Handler.StationView", ViewRequest{Kind: ViewStation, Station: chi.URLParam(r, "station")})
}

func (h *Handler) MenuItems(w http.ResponseWriter, r *http.Request) {
	h.materialize(w, r, "Handler.MenuItems", ViewRequest{Kind: ViewMenuItems, Station: r.URL.Query().Get("station")})
}

func (h *Handler) RecentlyFulfilled(w http.ResponseWriter, r *http.Request) {
	req := ViewRequest{Kind: ViewRecent}
	if raw := r.URL.Query().Get("minutes"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes <= 0 {
			apt.RespondError(w, http.StatusBadRequest, "Invalid minutes")
			return
		}
		req.MinutesAgo = minutes
	}
	h.materialize(w, r, "Handler.RecentlyFulfilled", req)
}

func (h *Handler) materialize(w http.ResponseWriter, r *http.Request, name string, req ViewRequest) {
	w, r, finish := h.tlm.Start(w, r, name)
	defer finish()
	log := h.log(r)

	view, err := h.views.Materialize(r.Context(), req)
	if err != nil {
		h.respondError(w, log, err, "Could not build view")
		return
	}

	apt.Respond(w, http.StatusOK, view, nil)
}

func (h *Handler) Stations(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.Stations")
	defer finish()
	log := h.log(r)

	stations, err := h.views.CourseTypes(r.Context())
	if err != nil {
		h.respondError(w, log, err, "Could not list stations")
		return
	}

	apt.Respond(w, http.StatusOK, map[string]interface{}{
		"stations": stations,
	}, nil)
}

// respondError maps engine errors to HTTP statuses. Unexpected errors are
// logged and reported as 500 with a generic message.
func (h *Handler) respondError(w http.ResponseWriter, log apt.Logger, err error, fallback string) {
	var transition *InvalidTransitionError
	switch {
	case errors.Is(err, ErrNotFound):
		apt.RespondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &transition):
		apt.RespondError(w, http.StatusUnprocessableEntity, transition.Error())
	case errors.Is(err, ErrNotRecallable):
		apt.RespondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrConflict):
		apt.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrWindowExpired):
		apt.RespondError(w, http.StatusGone, err.Error())
	case errors.Is(err, ErrInvalidView), errors.Is(err, ErrInvalidItem):
		apt.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		log.Errorf("%s: %v", fallback, err)
		apt.RespondError(w, http.StatusInternalServerError, fallback)
	}
}

func parseID(w http.ResponseWriter, r *http.Request, msg string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apt.RespondError(w, http.StatusBadRequest, msg)
		return uuid.Nil, false
	}
	return id, true
}

// decodeBody reads an optional JSON body into dst. An empty body leaves dst
// untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		apt.RespondError(w, http.StatusBadRequest, "Could not read request body")
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		apt.RespondError(w, http.StatusBadRequest, "Invalid JSON payload")
		return false
	}
	return true
}
