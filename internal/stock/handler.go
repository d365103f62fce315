package stock

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/dukaan-erp/dukaan-erp/internal/platform/httpx"
	"github.com/dukaan-erp/dukaan-erp/internal/shared"
)

// Handler wires HTTP endpoints for the stock module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validate  *validator.Validate
	valuation singleflight.Group
}

// NewHandler constructs the stock handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/items", h.handleCreateItem)
	r.Get("/items", h.handleListItems)
	r.Get("/items/{id}", h.handleGetItem)
	r.Get("/items/{id}/batches", h.handleListBatches)
	r.Get("/items/{id}/movements", h.handleMovements)
	r.Post("/items/{id}/receive", h.handleReceive)
	r.Post("/items/{id}/consume", h.handleConsume)
	r.Post("/batches/{id}/damage", h.handleDamage)
	r.Post("/batches/{id}/expire", h.handleExpire)
	r.Get("/batches/expiring", h.handleExpiringSoon)
	r.Get("/valuation", h.handleValuation)
}

type itemRequest struct {
	SKU           string `json:"sku" validate:"required"`
	Name          string `json:"name" validate:"required"`
	Unit          string `json:"unit"`
	CostingMethod string `json:"costing_method" validate:"required,oneof=average fifo lifo"`
	TaxRate       string `json:"tax_rate"`
}

type itemResponse struct {
	ID            int64  `json:"id"`
	SKU           string `json:"sku"`
	Name          string `json:"name"`
	Unit          string `json:"unit,omitempty"`
	Qty           string `json:"qty"`
	AvgCost       string `json:"avg_cost"`
	CostingMethod string `json:"costing_method"`
	TaxRate       string `json:"tax_rate"`
}

func toItemResponse(i Item) itemResponse {
	return itemResponse{
		ID:            i.ID,
		SKU:           i.SKU,
		Name:          i.Name,
		Unit:          i.Unit,
		Qty:           i.Qty.String(),
		AvgCost:       i.AvgCost.StringFixed(4),
		CostingMethod: string(i.CostingMethod),
		TaxRate:       i.TaxRate.String(),
	}
}

func (h *Handler) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	taxRate := decimal.Zero
	if req.TaxRate != "" {
		var err error
		if taxRate, err = decimal.NewFromString(req.TaxRate); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "tax_rate is not a decimal")
			return
		}
	}
	item, err := h.service.CreateItem(r.Context(), Item{
		SKU:           req.SKU,
		Name:          req.Name,
		Unit:          req.Unit,
		CostingMethod: CostingMethod(req.CostingMethod),
		TaxRate:       taxRate,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateItem) {
			httpx.Problem(w, http.StatusConflict, "Duplicate Item", "an item with this sku already exists")
			return
		}
		h.logger.Error("create item", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toItemResponse(item))
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toItemResponse(item))
}

func (h *Handler) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListItems(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]itemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toItemResponse(item))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleListBatches(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	batches, err := h.service.ListBatches(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batches)
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	total, err := h.service.CountMovements(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	meta := shared.NewPagination(page, perPage, total)
	movements, err := h.service.Movements(r.Context(), id, meta.PerPage, (meta.Page-1)*meta.PerPage)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if movements == nil {
		movements = []Movement{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"movements":  movements,
		"pagination": meta,
	})
}

type receiveRequest struct {
	SupplierID *int64 `json:"supplier_id"`
	Number     string `json:"number"`
	Qty        string `json:"qty" validate:"required"`
	UnitCost   string `json:"unit_cost" validate:"required"`
	MfgDate    string `json:"mfg_date" validate:"required"`
	ExpiryDate string `json:"expiry_date"`
	RefID      string `json:"ref_id"`
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req receiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	qty, err := decimal.NewFromString(req.Qty)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "qty is not a decimal")
		return
	}
	unitCost, err := decimal.NewFromString(req.UnitCost)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_cost is not a decimal")
		return
	}
	mfgDate, err := time.Parse("2006-01-02", req.MfgDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "mfg_date must be YYYY-MM-DD")
		return
	}
	var expiry *time.Time
	if req.ExpiryDate != "" {
		parsed, err := time.Parse("2006-01-02", req.ExpiryDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expiry_date must be YYYY-MM-DD")
			return
		}
		expiry = &parsed
	}
	batch, err := h.service.Receive(r.Context(), ReceiveInput{
		ItemID:     id,
		SupplierID: req.SupplierID,
		Number:     req.Number,
		Qty:        qty,
		UnitCost:   unitCost,
		MfgDate:    mfgDate,
		ExpiryDate: expiry,
		RefID:      req.RefID,
		ActorID:    actorID(r),
	})
	if err != nil {
		h.respondStockError(w, "receive", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, batch)
}

type consumeRequest struct {
	Qty   string `json:"qty" validate:"required"`
	Type  string `json:"type" validate:"required,oneof=sale adjustment return damage"`
	RefID string `json:"ref_id"`
}

func (h *Handler) handleConsume(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req consumeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	qty, err := decimal.NewFromString(req.Qty)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "qty is not a decimal")
		return
	}
	draws, err := h.service.Consume(r.Context(), ConsumeInput{
		ItemID:  id,
		Qty:     qty,
		Type:    MovementType(req.Type),
		RefID:   req.RefID,
		ActorID: actorID(r),
	})
	if err != nil {
		h.respondStockError(w, "consume", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"draws": draws})
}

type damageRequest struct {
	Qty   string `json:"qty" validate:"required"`
	RefID string `json:"ref_id"`
}

func (h *Handler) handleDamage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req damageRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	qty, err := decimal.NewFromString(req.Qty)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "qty is not a decimal")
		return
	}
	if err := h.service.MarkDamaged(r.Context(), id, qty, req.RefID, actorID(r)); err != nil {
		h.respondStockError(w, "damage", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleExpire(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.MarkExpired(r.Context(), id, actorID(r)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleExpiringSoon(w http.ResponseWriter, r *http.Request) {
	batches, err := h.service.ExpiringSoon(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batches)
}

func (h *Handler) handleValuation(w http.ResponseWriter, r *http.Request) {
	// Concurrent valuation requests share one computation.
	result, err, _ := h.valuation.Do("valuation", func() (any, error) {
		return h.service.Valuation(r.Context())
	})
	if err != nil {
		h.logger.Error("compile valuation", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) respondStockError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidUnitCost):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", "this reference was already processed")
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be numeric")
		return 0, false
	}
	return id, true
}

// actorID resolves the acting user from the request; zero when the
// caller did not supply one.
func actorID(r *http.Request) int64 {
	raw := r.Header.Get("X-Actor-ID")
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
