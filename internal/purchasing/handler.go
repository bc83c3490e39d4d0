package purchasing

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

const maxBodyBytes = 1 << 20

// Handler exposes the purchase workflow over JSON.
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

// MountRoutes registers purchase routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/purchases", func(r chi.Router) {
		r.Post("/", h.create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Delete("/", h.delete)
			r.Post("/cancel", h.cancel)
			r.Patch("/lines/{lineID}", h.updateLine)
			r.Put("/payment-status", h.updatePaymentStatus)
			r.Put("/fulfillment-status", h.updateFulfillmentStatus)
			r.Post("/complete-po", h.completeStage(StagePO))
			r.Post("/complete-pi", h.completeStage(StagePI))
			r.Post("/complete-invoice", h.completeStage(StageInvoice))
			r.Post("/complete-fulfillment", h.completeFulfillment)
			r.Post("/complete-stock-entry", h.completeStockEntry)
			r.Post("/complete-rack-assignment", h.completeRackAssignment)
			r.Post("/complete-workflow", h.completeWorkflow)
			r.Post("/transfer", h.transfer)
		})
	})
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
	p, err := h.service.Create(r.Context(), actor, req.input())
	h.respond(w, r, http.StatusCreated, p, nil, err)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	p, err := h.service.Get(r.Context(), actor, id)
	h.respond(w, r, http.StatusOK, p, nil, err)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	p, err := h.service.Cancel(r.Context(), actor, id)
	h.respond(w, r, http.StatusOK, p, nil, err)
}

func (h *Handler) updateLine(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	lineID, err := uuid.Parse(chi.URLParam(r, "lineID"))
	if err != nil {
		httpx.RespondError(w, shared.Validation("purchasing: invalid line id"))
		return
	}
	var req lineUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.service.UpdateLine(r.Context(), actor, id, lineID, req.input())
	h.respond(w, r, http.StatusOK, p, nil, err)
}

func (h *Handler) updatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.service.UpdatePaymentStatus(r.Context(), actor, id, PaymentStatus(req.Status))
	h.respond(w, r, http.StatusOK, p, nil, err)
}

func (h *Handler) updateFulfillmentStatus(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.service.UpdateFulfillmentStatus(r.Context(), actor, id, FulfillmentStatus(req.Status))
	h.respond(w, r, http.StatusOK, p, nil, err)
}

func (h *Handler) completeStage(stage Stage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := h.target(w, r)
		if !ok {
			return
		}
		var req stageRequest
		if !h.decodeOptional(w, r, &req) {
			return
		}
		in := *req.input()
		var (
			p   Purchase
			err error
		)
		switch stage {
		case StagePO:
			p, err = h.service.CompletePO(r.Context(), actor, id, in)
		case StagePI:
			p, err = h.service.CompletePI(r.Context(), actor, id, in)
		default:
			p, err = h.service.CompleteInvoice(r.Context(), actor, id, in)
		}
		h.respond(w, r, http.StatusOK, p, nil, err)
	}
}

func (h *Handler) completeFulfillment(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req fulfillmentRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	p, err := h.service.CompleteFulfillment(r.Context(), actor, id, *req.input())
	h.respond(w, r, http.StatusOK, p, nil, err)
}

func (h *Handler) completeStockEntry(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req stockEntryRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	p, err := h.service.CompleteStockEntry(r.Context(), actor, id, *req.input())
	h.respond(w, r, http.StatusOK, p, nil, err)
}

func (h *Handler) completeRackAssignment(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req rackAssignmentRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	p, err := h.service.CompleteRackAssignment(r.Context(), actor, id, *req.input())
	h.respond(w, r, http.StatusOK, p, nil, err)
}

func (h *Handler) completeWorkflow(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req workflowRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, stages, err := h.service.CompleteWorkflow(r.Context(), actor, id, req.input())
	h.respond(w, r, http.StatusOK, p, stages, err)
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.service.TransferLineStock(r.Context(), actor, id, req.LineID, req.FromRack, req.ToRack, req.Quantity)
	h.respond(w, r, http.StatusOK, p, nil, err)
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
		httpx.RespondError(w, shared.Validation("purchasing: invalid purchase id"))
		return shared.Actor{}, 0, false
	}
	return actor, id, true
}

// decodeOptional accepts an empty body as the zero request.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, target any) bool {
	return h.decodeBody(w, r, target, true)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	return h.decodeBody(w, r, target, false)
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, target any, optional bool) bool {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		httpx.RespondError(w, shared.Validation("purchasing: unreadable body").Wrap(err))
		return false
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		if optional {
			return true
		}
		httpx.RespondError(w, shared.Validation("purchasing: request body is required"))
		return false
	}
	canonical, err := canonicalizeJSON(raw)
	if err != nil {
		httpx.RespondError(w, err)
		return false
	}
	dec := json.NewDecoder(bytes.NewReader(canonical))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		httpx.RespondError(w, shared.Validation("purchasing: invalid request body").Wrap(err))
		return false
	}
	if err := shared.ValidateStruct(h.validator, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, p Purchase, stages []Stage, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := toResponse(p)
	resp.CompletedStages = stages
	body, err := expandJSON(resp)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, status, json.RawMessage(body))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var domainErr *shared.Error
	if !errors.As(err, &domainErr) {
		h.logger.Error("purchase request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
