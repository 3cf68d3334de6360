package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emreis/sanalpos/binlookup"
	"github.com/emreis/sanalpos/entity"
	"github.com/emreis/sanalpos/infra/apperr"
	"github.com/emreis/sanalpos/infra/crypto"
	"github.com/emreis/sanalpos/infra/middle"
	"github.com/emreis/sanalpos/orchestrator"
	"github.com/emreis/sanalpos/provider"
	"github.com/emreis/sanalpos/store"
)

// stubAdapter approves everything; enough to exercise the HTTP surface
type stubAdapter struct {
	provider.Base
}

func newStubAdapter(deps provider.Deps) provider.Provider {
	return &stubAdapter{Base: provider.NewBase("stub", deps)}
}

func (s *stubAdapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{ThreeD: true}
}

func (s *stubAdapter) Initialize(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) error {
	tx.Secure = entity.SecureBundle{Provider: "stub", FormData: map[string]string{"k": "v"}}
	return s.Transactions.SaveSecure(ctx, tx)
}

func (s *stubAdapter) FormHTML(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) (string, error) {
	return "<html><body>acs redirect</body></html>", nil
}

func (s *stubAdapter) ProcessCallback(ctx context.Context, tx *entity.Transaction, term *entity.Terminal, fields url.Values) error {
	if fields.Get("mdstatus") != "1" {
		return apperr.WithCode(apperr.KindProvider, fields.Get("mdstatus"), "3D verification failed")
	}
	return s.ProcessProvision(ctx, tx, term)
}

func (s *stubAdapter) ProcessProvision(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) error {
	now := time.Now().UTC()
	tx.Status = entity.StatusSuccess
	tx.CompletedAt = &now
	tx.Result = &entity.Result{Success: true, Code: "00", Message: "Approved"}
	if err := s.Transactions.SaveSecure(ctx, tx); err != nil {
		return err
	}
	return s.Transactions.ClearCVV(ctx, tx.ID)
}

func (s *stubAdapter) DirectPayment(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) error {
	return s.NotSupported("direct")
}

func (s *stubAdapter) Refund(ctx context.Context, tx, original *entity.Transaction, term *entity.Terminal) error {
	return s.NotSupported("refund")
}

func (s *stubAdapter) Cancel(ctx context.Context, tx, original *entity.Transaction, term *entity.Terminal) error {
	return s.NotSupported("cancel")
}

func (s *stubAdapter) Status(ctx context.Context, term *entity.Terminal, orderID string) (map[string]string, error) {
	return nil, s.NotSupported("status")
}

func (s *stubAdapter) History(ctx context.Context, term *entity.Terminal, orderID string) (map[string]string, error) {
	return nil, s.NotSupported("history")
}

func (s *stubAdapter) PreAuth(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) error {
	return s.NotSupported("pre-auth")
}

func (s *stubAdapter) PostAuth(ctx context.Context, tx, preAuthTx *entity.Transaction, term *entity.Terminal) error {
	return s.NotSupported("post-auth")
}

func testRouter(t *testing.T) (*chi.Mux, *store.MemoryTransactionStore) {
	t.Helper()
	cipher := crypto.NewFieldCipher("test-key")
	terminals := store.NewMemoryTerminalStore(cipher)
	transactions := store.NewMemoryTransactionStore(cipher)

	registry := provider.NewRegistry()
	registry.Register("stub", newStubAdapter)

	term := &entity.Terminal{
		Company:     "acme",
		Name:        "stub terminal",
		BankCode:    entity.BankGaranti,
		Provider:    "stub",
		Currencies:  []entity.Currency{entity.CurrencyTRY},
		Status:      true,
		Credentials: entity.Credentials{MerchantID: "M1"},
	}
	require.NoError(t, terminals.Create(context.Background(), term))

	resolver := binlookup.ResolverFunc(func(ctx context.Context, bin string) (*entity.BINInfo, error) {
		return &entity.BINInfo{Bank: "Garanti", BankCode: "garanti", Type: "credit", Country: "tr"}, nil
	})

	orch := orchestrator.New(terminals, transactions, binlookup.NewCache(resolver), registry, "https://pay.example.com")

	payments := NewPaymentHandler(orch, validator.New())
	public := NewPublicHandler(orch)

	r := chi.NewRouter()
	r.Route("/payment", func(r chi.Router) {
		r.Get("/{id}/form", public.Form)
		r.Post("/{id}/callback", public.Callback)
	})
	r.Route("/api/payment", func(r chi.Router) {
		r.Use(middle.APIKeyMiddleware())
		r.Post("/bin", payments.QueryBin)
		r.Post("/pay", payments.Pay)
		r.Get("/{id}", payments.Get)
	})
	return r, transactions
}

const payBody = `{
	"amount": 150.00,
	"currency": "try",
	"installment": 1,
	"company": "acme",
	"card": {"holder": "John Doe", "number": "4282209004348016", "expiry": "03/28", "cvv": "358"}
}`

func TestPayFlowOverHTTP(t *testing.T) {
	r, _ := testRouter(t)

	// create
	req := httptest.NewRequest(http.MethodPost, "/api/payment/pay", strings.NewReader(payBody))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"transactionId"`)
	assert.Contains(t, rec.Body.String(), `"formUrl"`)

	txID := extractJSONField(t, rec.Body.String(), "transactionId")

	// form
	req = httptest.NewRequest(http.MethodGet, "/payment/"+txID+"/form", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "acs redirect")

	// callback
	form := url.Values{}
	form.Set("mdstatus", "1")
	req = httptest.NewRequest(http.MethodPost, "/payment/"+txID+"/callback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "payment_result")
	assert.Contains(t, rec.Body.String(), `"success":true`)

	// status projection
	req = httptest.NewRequest(http.MethodGet, "/api/payment/"+txID, nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"masked":"4282 20** **** 8016"`)
	assert.NotContains(t, body, "4282209004348016", "clear pan never leaks")
	assert.NotContains(t, body, `"cvv"`, "cvv never serializes")
	assert.NotContains(t, body, `"holder"`, "encrypted card fields never serialize")
}

func TestPayValidation(t *testing.T) {
	r, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/payment/pay", strings.NewReader(`{"amount": 0}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":false`)
}

func TestGetUnknownTransaction(t *testing.T) {
	r, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/payment/missing", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCallbackUnknownTransactionEmitsPage(t *testing.T) {
	r, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/payment/missing/callback", strings.NewReader("a=b"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "payment_result", "bank callbacks are never dropped silently")
}

func TestFormForPendingTransaction(t *testing.T) {
	r, transactions := testRouter(t)

	tx := &entity.Transaction{
		TerminalID: "t", Company: "acme", Amount: 10, Currency: entity.CurrencyTRY,
		Card: entity.Card{Holder: "a", Number: "4282209004348016", Expiry: "03/28", CVV: "358"},
	}
	require.NoError(t, transactions.Create(context.Background(), tx))

	req := httptest.NewRequest(http.MethodGet, "/payment/"+tx.ID+"/form", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
}

func TestQueryBinEndpoint(t *testing.T) {
	r, _ := testRouter(t)

	body := `{"bin": "428220", "amount": 150, "currency": "try", "company": "acme"}`
	req := httptest.NewRequest(http.MethodPost, "/api/payment/bin", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"bankCode":"garanti"`)
	assert.Contains(t, rec.Body.String(), `"installments"`)
}

func extractJSONField(t *testing.T, body, field string) string {
	t.Helper()
	marker := `"` + field + `":"`
	idx := strings.Index(body, marker)
	require.GreaterOrEqual(t, idx, 0, "field %s not in %s", field, body)
	rest := body[idx+len(marker):]
	end := strings.Index(rest, `"`)
	require.GreaterOrEqual(t, end, 0)
	return rest[:end]
}
