package party

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/dukaan-erp/dukaan-erp/internal/platform/httpx"
)

// FaultRecorder counts consistency faults surfaced to callers.
type FaultRecorder interface {
	AddIntegrityFaults(source string, count int)
}

// Handler wires HTTP endpoints for the party module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	faults   FaultRecorder
	validate *validator.Validate
}

// NewHandler constructs the party handler.
func NewHandler(logger *slog.Logger, service *Service, faults FaultRecorder) *Handler {
	return &Handler{logger: logger, service: service, faults: faults, validate: validator.New()}
}

// MountRoutes registers party routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/parties", h.handleCreateParty)
	r.Get("/parties", h.handleListParties)
	r.Get("/parties/{id}", h.handleGetParty)
	r.Get("/parties/{id}/statement", h.handleStatement)
	r.Get("/parties/{id}/credit", h.handleCreditAvailable)
}

type partyRequest struct {
	Name           string `json:"name" validate:"required"`
	Kind           string `json:"kind" validate:"required,oneof=CUSTOMER SUPPLIER"`
	StateCode      string `json:"state_code" validate:"required"`
	CreditLimit    string `json:"credit_limit"`
	OpeningBalance string `json:"opening_balance"`
}

type partyResponse struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Kind           string `json:"kind"`
	StateCode      string `json:"state_code"`
	CreditLimit    string `json:"credit_limit"`
	OpeningBalance string `json:"opening_balance"`
	Balance        string `json:"balance"`
}

func toPartyResponse(p Party) partyResponse {
	return partyResponse{
		ID:             p.ID,
		Name:           p.Name,
		Kind:           string(p.Kind),
		StateCode:      p.StateCode,
		CreditLimit:    p.CreditLimit.StringFixed(2),
		OpeningBalance: p.OpeningBalance.StringFixed(2),
		Balance:        p.Balance.StringFixed(2),
	}
}

func (h *Handler) handleCreateParty(w http.ResponseWriter, r *http.Request) {
	var req partyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	limit, opening := decimal.Zero, decimal.Zero
	var err error
	if req.CreditLimit != "" {
		if limit, err = decimal.NewFromString(req.CreditLimit); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "credit_limit is not a decimal")
			return
		}
	}
	if req.OpeningBalance != "" {
		if opening, err = decimal.NewFromString(req.OpeningBalance); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "opening_balance is not a decimal")
			return
		}
	}
	created, err := h.service.CreateParty(r.Context(), Party{
		Name:           req.Name,
		Kind:           Kind(req.Kind),
		StateCode:      req.StateCode,
		CreditLimit:    limit,
		OpeningBalance: opening,
	})
	if err != nil {
		h.logger.Error("create party", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPartyResponse(created))
}

func (h *Handler) handleGetParty(w http.ResponseWriter, r *http.Request) {
	id, ok := partyID(w, r)
	if !ok {
		return
	}
	p, err := h.service.GetParty(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPartyResponse(p))
}

func (h *Handler) handleListParties(w http.ResponseWriter, r *http.Request) {
	parties, err := h.service.ListParties(r.Context(), Kind(r.URL.Query().Get("kind")))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]partyResponse, 0, len(parties))
	for _, p := range parties {
		out = append(out, toPartyResponse(p))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleStatement(w http.ResponseWriter, r *http.Request) {
	id, ok := partyID(w, r)
	if !ok {
		return
	}
	stmt, err := h.service.Statement(r.Context(), id)
	switch {
	case err == nil:
		httpx.JSON(w, http.StatusOK, stmt)
	case errors.Is(err, ErrConsistencyFault):
		// Surface the divergence instead of hiding the statement.
		h.logger.Error("party consistency fault", slog.Int64("party_id", id), slog.Any("error", err))
		if h.faults != nil {
			h.faults.AddIntegrityFaults("party", 1)
		}
		httpx.JSON(w, http.StatusConflict, map[string]any{
			"statement": stmt,
			"fault":     err.Error(),
		})
	default:
		httpx.RespondError(w, err)
	}
}

func (h *Handler) handleCreditAvailable(w http.ResponseWriter, r *http.Request) {
	id, ok := partyID(w, r)
	if !ok {
		return
	}
	available, enforced, err := h.service.CreditAvailable(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"enforced":  enforced,
		"available": available.StringFixed(2),
	})
}

func partyID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "party id must be numeric")
		return 0, false
	}
	return id, true
}
