package racks

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Handler exposes rack ledger endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers rack routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/racks", func(r chi.Router) {
		r.Post("/", h.create)
		r.Post("/transfer", h.transfer)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Put("/", h.update)
			r.Delete("/", h.delete)
			r.Post("/reserve", h.reserve)
			r.Post("/release", h.release)
			r.Post("/items", h.addItem)
			r.Post("/items/remove", h.removeItem)
			r.Post("/temperature", h.temperature)
			r.Get("/alerts", h.alerts)
			r.Put("/zones/{code}", h.upsertZone)
			r.Post("/zones/{code}/items", h.addZoneItem)
			r.Post("/zones/{code}/items/remove", h.removeZoneItem)
		})
	})
}

type createRequest struct {
	Code     string      `json:"code" validate:"required,max=32"`
	Name     string      `json:"name" validate:"required,max=128"`
	Location string      `json:"location"`
	Category string      `json:"category"`
	Type     string      `json:"type"`
	Tags     []string    `json:"tags"`
	Capacity int64       `json:"capacity" validate:"required,gt=0"`
	Alerts   AlertConfig `json:"alerts"`
}

type updateRequest struct {
	Name     *string      `json:"name" validate:"omitempty,min=1,max=128"`
	Location *string      `json:"location"`
	Category *string      `json:"category"`
	Type     *string      `json:"type"`
	Tags     []string     `json:"tags"`
	Capacity *int64       `json:"capacity" validate:"omitempty,gt=0"`
	Alerts   *AlertConfig `json:"alerts"`
	Active   *bool        `json:"active"`
}

type quantityRequest struct {
	Quantity int64 `json:"quantity" validate:"required,gt=0"`
}

type itemRequest struct {
	Item       int64  `json:"item" validate:"required,gt=0"`
	Quantity   int64  `json:"quantity" validate:"required,gt=0"`
	PurchaseID string `json:"purchaseId"`
}

type transferRequest struct {
	FromRack int64 `json:"fromRack" validate:"required,gt=0"`
	ToRack   int64 `json:"toRack" validate:"required,gt=0,nefield=FromRack"`
	Item     int64 `json:"item" validate:"required,gt=0"`
	Quantity int64 `json:"quantity" validate:"required,gt=0"`
}

type temperatureRequest struct {
	Celsius *float64 `json:"celsius" validate:"required"`
}

type zoneRequest struct {
	Name     string `json:"name"`
	Capacity int64  `json:"capacity" validate:"gte=0"`
}

type rackResponse struct {
	ID                  int64       `json:"id"`
	Store               int64       `json:"store"`
	Code                string      `json:"code"`
	Name                string      `json:"name"`
	Location            string      `json:"location,omitempty"`
	Category            string      `json:"category,omitempty"`
	Type                string      `json:"type,omitempty"`
	Tags                []string    `json:"tags,omitempty"`
	Capacity            int64       `json:"capacity"`
	CurrentOccupancy    int64       `json:"currentOccupancy"`
	ReservedSpace       int64       `json:"reservedSpace"`
	AvailableSpace      int64       `json:"availableSpace"`
	OccupancyPercentage float64     `json:"occupancyPercentage"`
	Items               []Item      `json:"items"`
	Zones               []Zone      `json:"zones,omitempty"`
	Alerts              AlertConfig `json:"alertConfig"`
	ActiveAlerts        []Alert     `json:"activeAlerts,omitempty"`
	Temperature         *float64    `json:"temperature,omitempty"`
	LastStockEntry      *time.Time  `json:"lastStockEntry,omitempty"`
	Active              bool        `json:"active"`
	UpdatedAt           time.Time   `json:"updatedAt"`
	Version             int64       `json:"version"`
}

func toResponse(r Rack) rackResponse {
	return rackResponse{
		ID:                  r.ID,
		Store:               r.StoreID,
		Code:                r.Code,
		Name:                r.Name,
		Location:            r.Location,
		Category:            r.Category,
		Type:                r.Type,
		Tags:                r.Tags,
		Capacity:            r.Capacity,
		CurrentOccupancy:    r.CurrentOccupancy,
		ReservedSpace:       r.ReservedSpace,
		AvailableSpace:      r.AvailableSpace(),
		OccupancyPercentage: r.OccupancyPercentage(),
		Items:               nonNil(r.Items),
		Zones:               r.Zones,
		Alerts:              r.Alerts,
		ActiveAlerts:        r.CheckAlerts(),
		Temperature:         r.Temperature,
		LastStockEntry:      r.LastStockEntry,
		Active:              r.Active,
		UpdatedAt:           r.UpdatedAt,
		Version:             r.Version,
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req createRequest
	if !h.decode(w, r, &req) {
		return
	}
	rack, err := h.service.CreateRack(r.Context(), actor, CreateInput{
		Code: req.Code, Name: req.Name, Location: req.Location, Category: req.Category,
		Type: req.Type, Tags: req.Tags, Capacity: req.Capacity, Alerts: req.Alerts,
	})
	h.respond(w, r, http.StatusCreated, rack, err)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	rack, err := h.service.GetRack(r.Context(), actor, id)
	h.respond(w, r, http.StatusOK, rack, err)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if !h.decode(w, r, &req) {
		return
	}
	rack, err := h.service.UpdateRack(r.Context(), actor, id, UpdateInput{
		Name: req.Name, Location: req.Location, Category: req.Category, Type: req.Type,
		Tags: req.Tags, Capacity: req.Capacity, Alerts: req.Alerts, Active: req.Active,
	})
	h.respond(w, r, http.StatusOK, rack, err)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteRack(r.Context(), actor, id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req quantityRequest
	if !h.decode(w, r, &req) {
		return
	}
	rack, err := h.service.ReserveSpace(r.Context(), actor, id, req.Quantity)
	h.respond(w, r, http.StatusOK, rack, err)
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req quantityRequest
	if !h.decode(w, r, &req) {
		return
	}
	rack, err := h.service.ReleaseReservedSpace(r.Context(), actor, id, req.Quantity)
	h.respond(w, r, http.StatusOK, rack, err)
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req itemRequest
	if !h.decode(w, r, &req) {
		return
	}
	rack, err := h.service.AddItem(r.Context(), actor, id, req.Item, req.Quantity, req.PurchaseID)
	h.respond(w, r, http.StatusOK, rack, err)
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req itemRequest
	if !h.decode(w, r, &req) {
		return
	}
	rack, err := h.service.RemoveItem(r.Context(), actor, id, req.Item, req.Quantity)
	h.respond(w, r, http.StatusOK, rack, err)
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}
	from, to, err := h.service.Transfer(r.Context(), actor, req.FromRack, req.ToRack, req.Item, req.Quantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]rackResponse{"from": toResponse(from), "to": toResponse(to)})
}

func (h *Handler) temperature(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req temperatureRequest
	if !h.decode(w, r, &req) {
		return
	}
	rack, _, err := h.service.RecordTemperature(r.Context(), actor, id, *req.Celsius)
	h.respond(w, r, http.StatusOK, rack, err)
}

func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	alerts, err := h.service.Alerts(r.Context(), actor, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"alerts": nonNil(alerts)})
}

func (h *Handler) upsertZone(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req zoneRequest
	if !h.decode(w, r, &req) {
		return
	}
	rack, err := h.service.UpsertZone(r.Context(), actor, id, chi.URLParam(r, "code"), req.Name, req.Capacity)
	h.respond(w, r, http.StatusOK, rack, err)
}

func (h *Handler) addZoneItem(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req itemRequest
	if !h.decode(w, r, &req) {
		return
	}
	rack, err := h.service.AddZoneItem(r.Context(), actor, id, chi.URLParam(r, "code"), req.Item, req.Quantity, req.PurchaseID)
	h.respond(w, r, http.StatusOK, rack, err)
}

func (h *Handler) removeZoneItem(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req itemRequest
	if !h.decode(w, r, &req) {
		return
	}
	rack, err := h.service.RemoveZoneItem(r.Context(), actor, id, chi.URLParam(r, "code"), req.Item, req.Quantity)
	h.respond(w, r, http.StatusOK, rack, err)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok || !actor.Valid() {
		httpx.RespondError(w, errNoActor)
		return shared.Actor{}, false
	}
	return actor, true
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (shared.Actor, int64, bool) {
	actor, ok := h.actor(w, r)
	if !ok {
		return shared.Actor{}, 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.Validation("racks: invalid rack id"))
		return shared.Actor{}, 0, false
	}
	return actor, id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, shared.Validation("racks: invalid request body").Wrap(err))
		return false
	}
	if err := shared.ValidateStruct(h.validator, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, rack Rack, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, status, toResponse(rack))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var domainErr *shared.Error
	if !errors.As(err, &domainErr) {
		h.logger.Error("rack request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
