package tax

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/dukaan-erp/dukaan-erp/internal/platform/httpx"
)

// Defaults supplies organisation-level GST figures used when a
// request does not carry its own.
type Defaults struct {
	SellerState string
	RatePercent decimal.Decimal
}

// Handler exposes the tax splitter over HTTP for billing screens.
type Handler struct {
	logger   *slog.Logger
	defaults Defaults
	validate *validator.Validate
}

// NewHandler constructs the tax handler.
func NewHandler(logger *slog.Logger, defaults Defaults) *Handler {
	return &Handler{logger: logger, defaults: defaults, validate: validator.New()}
}

// MountRoutes registers tax routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/split", h.handleSplit)
}

type splitRequest struct {
	TaxableAmount string `json:"taxable_amount" validate:"required"`
	RatePercent   string `json:"rate_percent"`
	SellerState   string `json:"seller_state"`
	BuyerState    string `json:"buyer_state" validate:"required"`
}

func (h *Handler) handleSplit(w http.ResponseWriter, r *http.Request) {
	var req splitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	taxable, err := decimal.NewFromString(req.TaxableAmount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "taxable_amount is not a decimal")
		return
	}
	rate := h.defaults.RatePercent
	if req.RatePercent != "" {
		if rate, err = decimal.NewFromString(req.RatePercent); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "rate_percent is not a decimal")
			return
		}
	}
	sellerState := req.SellerState
	if sellerState == "" {
		sellerState = h.defaults.SellerState
	}

	split, err := ComputeSplit(taxable, rate, sellerState, req.BuyerState)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		h.logger.Error("compute tax split", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, split)
}
