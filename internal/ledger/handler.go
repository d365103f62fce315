package ledger

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

	"github.com/dukaan-erp/dukaan-erp/internal/ledger/reports"
	"github.com/dukaan-erp/dukaan-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the ledger module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	tbGroup  singleflight.Group
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/accounts", h.handleCreateAccount)
	r.Get("/accounts", h.handleListAccounts)
	r.Get("/accounts/{code}", h.handleGetAccount)
	r.Post("/accounts/{code}/deactivate", h.handleDeactivateAccount)
	r.Post("/entries", h.handlePostEntry)
	r.Get("/entries/{id}", h.handleGetEntry)
	r.Post("/entries/{id}/reverse", h.handleReverseEntry)
	r.Get("/trial-balance", h.handleTrialBalance)
}

type accountRequest struct {
	Code           string `json:"code" validate:"required"`
	Name           string `json:"name" validate:"required"`
	Type           string `json:"type" validate:"required"`
	Group          string `json:"group"`
	OpeningBalance string `json:"opening_balance"`
}

type accountResponse struct {
	Code           string `json:"code"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	Group          string `json:"group,omitempty"`
	OpeningBalance string `json:"opening_balance"`
	Balance        string `json:"balance"`
	NaturalBalance string `json:"natural_balance"`
	Active         bool   `json:"active"`
}

func toAccountResponse(a Account) accountResponse {
	return accountResponse{
		Code:           a.Code,
		Name:           a.Name,
		Type:           string(a.Type),
		Group:          a.Group,
		OpeningBalance: a.OpeningBalance.StringFixed(2),
		Balance:        a.Balance.StringFixed(2),
		NaturalBalance: reports.Natural(string(a.Type), a.Balance).StringFixed(2),
		Active:         a.Active,
	}
}

func (h *Handler) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	opening := decimal.Zero
	if req.OpeningBalance != "" {
		var err error
		opening, err = decimal.NewFromString(req.OpeningBalance)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "opening_balance is not a decimal")
			return
		}
	}
	account, err := h.service.CreateAccount(r.Context(), Account{
		Code:           req.Code,
		Name:           req.Name,
		Type:           AccountType(req.Type),
		Group:          req.Group,
		OpeningBalance: opening,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateAccount) {
			httpx.Problem(w, http.StatusConflict, "Duplicate Account", "an account with this code already exists")
			return
		}
		h.logger.Error("create account", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toAccountResponse(account))
}

func (h *Handler) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.GetAccount(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAccountResponse(account))
}

func (h *Handler) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	var (
		accounts []Account
		err      error
	)
	switch {
	case r.URL.Query().Get("type") != "":
		accounts, err = h.service.ListAccountsByType(r.Context(), AccountType(r.URL.Query().Get("type")))
	case r.URL.Query().Get("group") != "":
		accounts, err = h.service.ListAccountsByGroup(r.Context(), r.URL.Query().Get("group"))
	default:
		accounts, err = h.service.ListAccounts(r.Context())
	}
	if err != nil {
		h.logger.Error("list accounts", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]accountResponse, 0, len(accounts))
	for _, account := range accounts {
		out = append(out, toAccountResponse(account))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleDeactivateAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeactivateAccount(r.Context(), chi.URLParam(r, "code"), actorID(r)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type postEntryRequest struct {
	Date      string            `json:"date" validate:"required"`
	Narration string            `json:"narration"`
	RefType   string            `json:"ref_type"`
	RefID     string            `json:"ref_id"`
	Lines     []postLineRequest `json:"lines" validate:"required,min=2,dive"`
}

type postLineRequest struct {
	AccountCode string `json:"account_code" validate:"required"`
	Debit       string `json:"debit"`
	Credit      string `json:"credit"`
	PartyID     *int64 `json:"party_id"`
	Narration   string `json:"narration"`
}

func (h *Handler) handlePostEntry(w http.ResponseWriter, r *http.Request) {
	var req postEntryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date must be YYYY-MM-DD")
		return
	}
	input := PostingInput{
		Date:      date,
		Narration: req.Narration,
		ActorID:   actorID(r),
	}
	if req.RefType != "" {
		input.Reference = &Reference{Type: req.RefType, ID: req.RefID}
	}
	for i, line := range req.Lines {
		debit, credit := decimal.Zero, decimal.Zero
		if line.Debit != "" {
			if debit, err = decimal.NewFromString(line.Debit); err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "line "+strconv.Itoa(i+1)+": debit is not a decimal")
				return
			}
		}
		if line.Credit != "" {
			if credit, err = decimal.NewFromString(line.Credit); err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "line "+strconv.Itoa(i+1)+": credit is not a decimal")
				return
			}
		}
		input.Lines = append(input.Lines, PostingLine{
			AccountCode: line.AccountCode,
			Debit:       debit,
			Credit:      credit,
			PartyID:     line.PartyID,
			Narration:   line.Narration,
		})
	}

	entry, err := h.service.Post(r.Context(), input)
	if err != nil {
		h.respondPostError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"id":    entry.ID,
		"total": entry.Total.StringFixed(2),
	})
}

func (h *Handler) respondPostError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnbalancedEntry):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unbalanced Entry", "total debits must equal total credits")
	case errors.Is(err, ErrInvalidEntry):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrAccountNotFound):
		httpx.Problem(w, http.StatusNotFound, "Account Not Found", err.Error())
	case errors.Is(err, ErrInactiveAccount):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Inactive Account", err.Error())
	default:
		h.logger.Error("post entry", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func (h *Handler) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "entry id must be numeric")
		return
	}
	entry, err := h.service.GetEntry(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) handleReverseEntry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "entry id must be numeric")
		return
	}
	var body struct {
		Narration string `json:"narration"`
	}
	_ = httpx.DecodeJSON(r, &body)
	entry, err := h.service.Reverse(r.Context(), id, actorID(r), body.Narration)
	if err != nil {
		h.respondPostError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"id": entry.ID})
}

func (h *Handler) handleTrialBalance(w http.ResponseWriter, r *http.Request) {
	asOf := time.Now().UTC()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "as_of must be YYYY-MM-DD")
			return
		}
		// Include everything posted on the cutoff day.
		asOf = parsed.Add(24*time.Hour - time.Nanosecond)
	}

	// Concurrent report requests for the same cutoff share one compile.
	key := asOf.Format("2006-01-02")
	result, err, _ := h.tbGroup.Do(key, func() (any, error) {
		balances, err := h.service.BalancesAsOf(r.Context(), asOf)
		if err != nil {
			return nil, err
		}
		input := make([]reports.AccountBalance, 0, len(balances))
		for _, b := range balances {
			input = append(input, reports.AccountBalance{
				Code:    b.Code,
				Name:    b.Name,
				Type:    string(b.Type),
				Group:   b.Group,
				Balance: b.Balance,
			})
		}
		return reports.NewTrialBalanceView(reports.BuildTrialBalance(input)), nil
	})
	if err != nil {
		h.logger.Error("compile trial balance", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
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
