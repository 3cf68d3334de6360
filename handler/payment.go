package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/emreis/sanalpos/entity"
	"github.com/emreis/sanalpos/infra/apperr"
	"github.com/emreis/sanalpos/infra/middle"
	"github.com/emreis/sanalpos/infra/response"
	"github.com/emreis/sanalpos/orchestrator"
)

// PaymentHandler serves the authenticated merchant payment API
type PaymentHandler struct {
	orch     *orchestrator.Orchestrator
	validate *validator.Validate
}

// NewPaymentHandler creates the payment handler
func NewPaymentHandler(orch *orchestrator.Orchestrator, validate *validator.Validate) *PaymentHandler {
	return &PaymentHandler{orch: orch, validate: validate}
}

func statusCodeFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindConflict:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

type binRequest struct {
	BIN      string  `json:"bin" validate:"required,min=6"`
	Amount   float64 `json:"amount" validate:"required,gt=0"`
	Currency string  `json:"currency" validate:"required"`
	Company  string  `json:"company"`
}

// QueryBin handles POST /api/payment/bin
func (h *PaymentHandler) QueryBin(w http.ResponseWriter, r *http.Request) {
	var req binRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = response.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"success": false, "error": "invalid request body",
		})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		_ = response.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"success": false, "error": err.Error(),
		})
		return
	}

	result, err := h.orch.QueryBin(r.Context(), req.Company, req.BIN, req.Amount, entity.Currency(req.Currency))
	if err != nil {
		_ = response.WriteJSON(w, statusCodeFor(err), map[string]any{
			"success": false, "error": apperr.MessageOf(err),
		})
		return
	}

	_ = response.WriteJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"bank":         result.Bank,
		"bankCode":     result.BankCode,
		"cardType":     result.CardType,
		"cardFamily":   result.CardFamily,
		"brand":        result.Brand,
		"country":      result.Country,
		"pos":          result.POS,
		"installments": result.Installments,
	})
}

type payRequest struct {
	POSID       string                       `json:"posId"`
	Amount      float64                      `json:"amount" validate:"required,gt=0"`
	Currency    string                       `json:"currency" validate:"required"`
	Installment int                          `json:"installment"`
	Card        orchestrator.CardRequest     `json:"card" validate:"required"`
	Customer    orchestrator.CustomerRequest `json:"customer"`
	ExternalID  string                       `json:"externalId"`
	Company     string                       `json:"company"`
}

// Pay handles POST /api/payment/pay
func (h *PaymentHandler) Pay(w http.ResponseWriter, r *http.Request) {
	var req payRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = response.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"status": false, "error": "invalid request body",
		})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		_ = response.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"status": false, "error": err.Error(),
		})
		return
	}

	if req.Customer.IP == "" {
		req.Customer.IP = middle.GetClientIP(r)
	}

	result, err := h.orch.CreatePayment(r.Context(), orchestrator.CreatePaymentRequest{
		Company:     req.Company,
		POSID:       req.POSID,
		Amount:      req.Amount,
		Currency:    entity.Currency(req.Currency),
		Installment: req.Installment,
		Card:        req.Card,
		Customer:    req.Customer,
		ExternalID:  req.ExternalID,
	})
	if err != nil {
		_ = response.WriteJSON(w, statusCodeFor(err), map[string]any{
			"status": false, "error": apperr.MessageOf(err),
		})
		return
	}

	_ = response.WriteJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"transactionId": result.TransactionID,
		"formUrl":       result.FormURL,
	})
}

// Get handles GET /api/payment/{id}
func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")

	tx, err := h.orch.TransactionStatus(r.Context(), txID)
	if err != nil {
		_ = response.WriteJSON(w, statusCodeFor(err), map[string]any{
			"status": false, "error": apperr.MessageOf(err),
		})
		return
	}

	_ = response.WriteJSON(w, http.StatusOK, map[string]any{
		"status":      true,
		"transaction": tx,
	})
}
