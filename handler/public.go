package handler

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/emreis/sanalpos/entity"
	"github.com/emreis/sanalpos/infra/apperr"
	"github.com/emreis/sanalpos/orchestrator"
)

// PublicHandler serves the browser- and bank-facing payment routes
type PublicHandler struct {
	orch *orchestrator.Orchestrator
}

// NewPublicHandler creates the public handler
func NewPublicHandler(orch *orchestrator.Orchestrator) *PublicHandler {
	return &PublicHandler{orch: orch}
}

// Form handles GET /payment/{id}/form: the auto-submitting ACS redirect
func (h *PublicHandler) Form(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")

	doc, err := h.orch.PaymentForm(r.Context(), txID)
	if err != nil {
		code := http.StatusBadRequest
		if apperr.IsNotFound(err) {
			code = http.StatusNotFound
		}
		writeHTML(w, code, errorPage(apperr.MessageOf(err)))
		return
	}

	writeHTML(w, http.StatusOK, doc)
}

// Callback handles POST /payment/{id}/callback. It always answers with a
// human-readable result page; the page posts the structured outcome to the
// parent window for iframe integrators.
func (h *PublicHandler) Callback(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")

	if err := r.ParseForm(); err != nil {
		writeHTML(w, http.StatusBadRequest, errorPage("malformed callback payload"))
		return
	}

	tx, err := h.orch.ProcessCallback(r.Context(), txID, r.PostForm)
	if tx == nil {
		writeHTML(w, http.StatusNotFound, errorPage(apperr.MessageOf(err)))
		return
	}

	writeHTML(w, http.StatusOK, resultPage(tx))
}

func writeHTML(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

type resultPayload struct {
	TransactionID string          `json:"transactionId"`
	Status        string          `json:"status"`
	Success       bool            `json:"success"`
	Code          string          `json:"code,omitempty"`
	Message       string          `json:"message,omitempty"`
	Amount        float64         `json:"amount"`
	Currency      entity.Currency `json:"currency"`
}

func resultPage(tx *entity.Transaction) string {
	payload := resultPayload{
		TransactionID: tx.ID,
		Status:        string(tx.Status),
		Success:       tx.Status == entity.StatusSuccess,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
	}
	if tx.Result != nil {
		payload.Code = tx.Result.Code
		payload.Message = tx.Result.Message
	}

	data, _ := json.Marshal(payload)

	heading := "Ödeme başarısız"
	if payload.Success {
		heading = "Ödeme başarılı"
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<title>Ödeme Sonucu</title>
	<meta charset="utf-8">
</head>
<body>
	<div style="text-align: center; margin-top: 50px;">
		<h2>%s</h2>
		<p>%s</p>
	</div>
	<script>
		window.parent.postMessage({type:'payment_result', data:%s}, '*');
	</script>
</body>
</html>`, html.EscapeString(heading), html.EscapeString(payload.Message), data)
}

func errorPage(message string) string {
	if message == "" {
		message = "payment could not be processed"
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<title>Ödeme Sonucu</title>
	<meta charset="utf-8">
</head>
<body>
	<div style="text-align: center; margin-top: 50px;">
		<h2>Ödeme başarısız</h2>
		<p>%s</p>
	</div>
	<script>
		window.parent.postMessage({type:'payment_result', data:{success:false, message:%q}}, '*');
	</script>
</body>
</html>`, html.EscapeString(message), message)
}
