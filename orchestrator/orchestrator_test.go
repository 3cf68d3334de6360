package orchestrator

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emreis/sanalpos/binlookup"
	"github.com/emreis/sanalpos/entity"
	"github.com/emreis/sanalpos/infra/apperr"
	"github.com/emreis/sanalpos/infra/crypto"
	"github.com/emreis/sanalpos/provider"
	"github.com/emreis/sanalpos/store"
)

// fakeAdapter is a scriptable provider used to drive the state machine
type fakeAdapter struct {
	provider.Base
	script *fakeScript
}

type fakeScript struct {
	failInit       bool
	denyCallback   bool
	initCalls      int
	provisionCalls int
	lastTxID       string
}

func newFakeFactory(script *fakeScript) provider.Factory {
	return func(deps provider.Deps) provider.Provider {
		return &fakeAdapter{Base: provider.NewBase("fake", deps), script: script}
	}
}

func (f *fakeAdapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{ThreeD: true, Refund: true, Cancel: true}
}

func (f *fakeAdapter) Initialize(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) error {
	f.script.initCalls++
	f.script.lastTxID = tx.ID
	if f.script.failInit {
		return apperr.WithCode(apperr.KindProvider, "E001", "enrollment rejected")
	}
	tx.Secure = entity.SecureBundle{
		Provider: "fake",
		FormData: map[string]string{"gate": "https://acs.example/challenge"},
	}
	return f.Transactions.SaveSecure(ctx, tx)
}

func (f *fakeAdapter) FormHTML(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) (string, error) {
	if len(tx.Secure.FormData) == 0 {
		return "", apperr.New(apperr.KindState, "fake: no form data")
	}
	return "<html>form</html>", nil
}

func (f *fakeAdapter) ProcessCallback(ctx context.Context, tx *entity.Transaction, term *entity.Terminal, fields url.Values) error {
	if fields.Get("mdstatus") != "1" {
		return apperr.WithCode(apperr.KindProvider, fields.Get("mdstatus"), "3D verification failed")
	}
	return f.ProcessProvision(ctx, tx, term)
}

func (f *fakeAdapter) ProcessProvision(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) error {
	f.script.provisionCalls++
	if f.script.denyCallback {
		return apperr.WithCode(apperr.KindProvider, "12", "Red-Kart hatali")
	}
	now := time.Now().UTC()
	tx.Status = entity.StatusSuccess
	tx.CompletedAt = &now
	tx.Result = &entity.Result{Success: true, Code: "00", Message: "Approved", AuthCode: "A1", RefNumber: "R1"}
	if err := f.Transactions.SaveSecure(ctx, tx); err != nil {
		return err
	}
	return f.Transactions.ClearCVV(ctx, tx.ID)
}

func (f *fakeAdapter) DirectPayment(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) error {
	return f.NotSupported("direct payment")
}

func (f *fakeAdapter) Refund(ctx context.Context, tx, original *entity.Transaction, term *entity.Terminal) error {
	now := time.Now().UTC()
	tx.Status = entity.StatusSuccess
	tx.CompletedAt = &now
	tx.Result = &entity.Result{Success: true, Code: "00", Message: "Approved"}
	return f.Transactions.SaveSecure(ctx, tx)
}

func (f *fakeAdapter) Cancel(ctx context.Context, tx, original *entity.Transaction, term *entity.Terminal) error {
	return f.Refund(ctx, tx, original, term)
}

func (f *fakeAdapter) Status(ctx context.Context, term *entity.Terminal, orderID string) (map[string]string, error) {
	return map[string]string{"status": "ok"}, nil
}

func (f *fakeAdapter) History(ctx context.Context, term *entity.Terminal, orderID string) (map[string]string, error) {
	return nil, f.NotSupported("history")
}

func (f *fakeAdapter) PreAuth(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) error {
	return f.NotSupported("pre-auth")
}

func (f *fakeAdapter) PostAuth(ctx context.Context, tx, preAuthTx *entity.Transaction, term *entity.Terminal) error {
	return f.NotSupported("post-auth")
}

type fixture struct {
	orch         *Orchestrator
	terminals    *store.MemoryTerminalStore
	transactions *store.MemoryTransactionStore
	script       *fakeScript
	terminal     *entity.Terminal
}

func newFixture(t *testing.T, binInfo *entity.BINInfo) *fixture {
	t.Helper()
	cipher := crypto.NewFieldCipher("test-key")
	terminals := store.NewMemoryTerminalStore(cipher)
	transactions := store.NewMemoryTransactionStore(cipher)

	script := &fakeScript{}
	registry := provider.NewRegistry()
	registry.Register("fake", newFakeFactory(script))

	resolver := binlookup.ResolverFunc(func(ctx context.Context, bin string) (*entity.BINInfo, error) {
		if binInfo == nil {
			return nil, apperr.New(apperr.KindNotFound, "bin not found")
		}
		return binInfo, nil
	})

	term := &entity.Terminal{
		Company:    "acme",
		Name:       "fake terminal",
		BankCode:   entity.BankGaranti,
		Provider:   "fake",
		Currencies: []entity.Currency{entity.CurrencyTRY, entity.CurrencyUSD},
		Status:     true,
		Installment: entity.InstallmentConfig{
			Enabled:   true,
			MaxCount:  6,
			MinAmount: 100,
		},
		Credentials: entity.Credentials{MerchantID: "M1", TerminalID: "T1", Password: "pw"},
	}
	require.NoError(t, terminals.Create(context.Background(), term))

	orch := New(terminals, transactions, binlookup.NewCache(resolver), registry, "https://pay.example.com")
	return &fixture{orch: orch, terminals: terminals, transactions: transactions, script: script, terminal: term}
}

func payRequest() CreatePaymentRequest {
	return CreatePaymentRequest{
		Company:     "acme",
		Amount:      150.00,
		Currency:    entity.CurrencyTRY,
		Installment: 1,
		Card: CardRequest{
			Holder: "John Doe",
			Number: "4282209004348016",
			Expiry: "03/28",
			CVV:    "358",
		},
		Customer: CustomerRequest{Name: "John Doe", Email: "john@example.com", IP: "10.0.0.1"},
	}
}

func TestCreatePaymentMovesToProcessing(t *testing.T) {
	f := newFixture(t, &entity.BINInfo{BankCode: "garanti", Country: "tr", Type: "credit"})

	result, err := f.orch.CreatePayment(context.Background(), payRequest())
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example.com/payment/"+result.TransactionID+"/form", result.FormURL)

	tx, err := f.transactions.FindByID(context.Background(), result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusProcessing, tx.Status)
	assert.Equal(t, "garanti", tx.BIN.BankCode)
	assert.Equal(t, 1, f.script.initCalls)
}

func TestCreatePaymentInitFailurePersistsResult(t *testing.T) {
	f := newFixture(t, &entity.BINInfo{Country: "tr"})
	f.script.failInit = true

	_, err := f.orch.CreatePayment(context.Background(), payRequest())
	require.Error(t, err)
	assert.Equal(t, apperr.KindProvider, apperr.KindOf(err))

	tx, err := f.transactions.FindByID(context.Background(), f.script.lastTxID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusFailed, tx.Status)
	require.NotNil(t, tx.Result)
	assert.False(t, tx.Result.Success)
	assert.Equal(t, "E001", tx.Result.Code)
	assert.Equal(t, "enrollment rejected", tx.Result.Message)
}

func TestCreatePaymentCurrencyGating(t *testing.T) {
	f := newFixture(t, &entity.BINInfo{Country: "tr"})

	req := payRequest()
	req.Currency = entity.CurrencyUSD
	_, err := f.orch.CreatePayment(context.Background(), req)
	assert.True(t, apperr.IsValidation(err))
}

func TestCreatePaymentValidatesCard(t *testing.T) {
	f := newFixture(t, nil)

	req := payRequest()
	req.Card.CVV = ""
	_, err := f.orch.CreatePayment(context.Background(), req)
	assert.True(t, apperr.IsValidation(err))
}

func TestPaymentFormRequiresProcessing(t *testing.T) {
	f := newFixture(t, &entity.BINInfo{Country: "tr"})

	result, err := f.orch.CreatePayment(context.Background(), payRequest())
	require.NoError(t, err)

	doc, err := f.orch.PaymentForm(context.Background(), result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, "<html>form</html>", doc)

	// after finalization the form can no longer be served
	fields := url.Values{}
	fields.Set("mdstatus", "1")
	_, err = f.orch.ProcessCallback(context.Background(), result.TransactionID, fields)
	require.NoError(t, err)

	_, err = f.orch.PaymentForm(context.Background(), result.TransactionID)
	assert.Equal(t, apperr.KindState, apperr.KindOf(err))
}

func TestCallbackApprovalFinalizes(t *testing.T) {
	f := newFixture(t, &entity.BINInfo{Country: "tr"})

	result, err := f.orch.CreatePayment(context.Background(), payRequest())
	require.NoError(t, err)

	fields := url.Values{}
	fields.Set("mdstatus", "1")
	tx, err := f.orch.ProcessCallback(context.Background(), result.TransactionID, fields)
	require.NoError(t, err)

	assert.Equal(t, entity.StatusSuccess, tx.Status)
	require.NotNil(t, tx.Result)
	assert.True(t, tx.Result.Success)
	assert.Empty(t, tx.Card.CVV, "cvv is zeroized on success")
	assert.Equal(t, 1, f.script.provisionCalls)
}

func TestDuplicateCallbackIsIdempotent(t *testing.T) {
	f := newFixture(t, &entity.BINInfo{Country: "tr"})

	result, err := f.orch.CreatePayment(context.Background(), payRequest())
	require.NoError(t, err)

	fields := url.Values{}
	fields.Set("mdstatus", "1")
	first, err := f.orch.ProcessCallback(context.Background(), result.TransactionID, fields)
	require.NoError(t, err)
	firstLogs := len(first.Logs)

	second, err := f.orch.ProcessCallback(context.Background(), result.TransactionID, fields)
	require.NoError(t, err)

	assert.Equal(t, entity.StatusSuccess, second.Status)
	assert.Equal(t, first.Result, second.Result, "result is unchanged")
	assert.Equal(t, firstLogs, len(second.Logs), "no new log entries appended")
	assert.Equal(t, 1, f.script.provisionCalls, "provision runs once")
}

func TestCallbackDenialPersistsDiagnostics(t *testing.T) {
	f := newFixture(t, &entity.BINInfo{Country: "tr"})
	f.script.denyCallback = true

	result, err := f.orch.CreatePayment(context.Background(), payRequest())
	require.NoError(t, err)

	fields := url.Values{}
	fields.Set("mdstatus", "1")
	tx, err := f.orch.ProcessCallback(context.Background(), result.TransactionID, fields)
	require.Error(t, err)

	assert.Equal(t, entity.StatusFailed, tx.Status)
	require.NotNil(t, tx.Result)
	assert.False(t, tx.Result.Success)
	assert.Equal(t, "12", tx.Result.Code)
	assert.Equal(t, "Red-Kart hatali", tx.Result.Message)
}

func TestCallbackInvalidStatusFails(t *testing.T) {
	f := newFixture(t, &entity.BINInfo{Country: "tr"})

	result, err := f.orch.CreatePayment(context.Background(), payRequest())
	require.NoError(t, err)

	fields := url.Values{}
	fields.Set("mdstatus", "0")
	tx, err := f.orch.ProcessCallback(context.Background(), result.TransactionID, fields)
	require.Error(t, err)
	assert.Equal(t, entity.StatusFailed, tx.Status)
	assert.Equal(t, 0, f.script.provisionCalls)
}

func TestCallbackUnknownTransaction(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.orch.ProcessCallback(context.Background(), "missing", url.Values{})
	assert.True(t, apperr.IsNotFound(err))
}

func TestRefundStampsOriginal(t *testing.T) {
	f := newFixture(t, &entity.BINInfo{Country: "tr"})

	result, err := f.orch.CreatePayment(context.Background(), payRequest())
	require.NoError(t, err)
	fields := url.Values{}
	fields.Set("mdstatus", "1")
	_, err = f.orch.ProcessCallback(context.Background(), result.TransactionID, fields)
	require.NoError(t, err)

	child, err := f.orch.Refund(context.Background(), result.TransactionID, 50)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusSuccess, child.Status)
	assert.Equal(t, result.TransactionID, child.RefundOf)
	assert.Equal(t, 50.0, child.Amount)

	original, _ := f.transactions.FindByID(context.Background(), result.TransactionID)
	assert.Equal(t, entity.StatusSuccess, original.Status)
	assert.NotNil(t, original.RefundedAt)
}

func TestCancelMarksOriginalCancelled(t *testing.T) {
	f := newFixture(t, &entity.BINInfo{Country: "tr"})

	result, err := f.orch.CreatePayment(context.Background(), payRequest())
	require.NoError(t, err)
	fields := url.Values{}
	fields.Set("mdstatus", "1")
	_, err = f.orch.ProcessCallback(context.Background(), result.TransactionID, fields)
	require.NoError(t, err)

	child, err := f.orch.Cancel(context.Background(), result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusSuccess, child.Status)

	original, _ := f.transactions.FindByID(context.Background(), result.TransactionID)
	assert.Equal(t, entity.StatusCancelled, original.Status)
	assert.NotNil(t, original.CancelledAt)
}

func TestRefundRequiresSuccess(t *testing.T) {
	f := newFixture(t, &entity.BINInfo{Country: "tr"})

	result, err := f.orch.CreatePayment(context.Background(), payRequest())
	require.NoError(t, err)

	_, err = f.orch.Refund(context.Background(), result.TransactionID, 50)
	assert.Equal(t, apperr.KindState, apperr.KindOf(err))
}

func TestQueryBinInstallments(t *testing.T) {
	f := newFixture(t, &entity.BINInfo{
		Bank: "Garanti", BankCode: "garanti", Brand: "visa",
		Type: "credit", Family: "bonus", Country: "tr",
	})

	result, err := f.orch.QueryBin(context.Background(), "acme", "428220", 150, entity.CurrencyTRY)
	require.NoError(t, err)

	assert.Equal(t, "garanti", result.BankCode)
	assert.Equal(t, f.terminal.ID, result.POS.ID)
	require.Len(t, result.Installments, 6)
	assert.Equal(t, 1, result.Installments[0].Count)
	assert.Equal(t, 150.0, result.Installments[0].Amount)
	assert.Equal(t, 6, result.Installments[5].Count)
}

func TestQueryBinInstallmentsCollapse(t *testing.T) {
	f := newFixture(t, &entity.BINInfo{BankCode: "garanti", Type: "credit", Country: "tr"})

	// below the terminal threshold only single payment is offered
	result, err := f.orch.QueryBin(context.Background(), "acme", "428220", 50, entity.CurrencyTRY)
	require.NoError(t, err)
	assert.Len(t, result.Installments, 1)

	// debit cards never get installments
	f2 := newFixture(t, &entity.BINInfo{BankCode: "garanti", Type: "debit", Country: "tr"})
	result, err = f2.orch.QueryBin(context.Background(), "acme", "428220", 150, entity.CurrencyTRY)
	require.NoError(t, err)
	assert.Len(t, result.Installments, 1)

	// non-TRY collapses to single payment
	f3 := newFixture(t, &entity.BINInfo{BankCode: "garanti", Type: "credit", Country: "de"})
	result, err = f3.orch.QueryBin(context.Background(), "acme", "428220", 150, entity.CurrencyUSD)
	require.NoError(t, err)
	assert.Len(t, result.Installments, 1)
}

func TestTransactionStatusProjection(t *testing.T) {
	f := newFixture(t, &entity.BINInfo{Country: "tr"})

	result, err := f.orch.CreatePayment(context.Background(), payRequest())
	require.NoError(t, err)

	pub, err := f.orch.TransactionStatus(context.Background(), result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, "4282 20** **** 8016", pub.Card.Masked)
	assert.Equal(t, 42822090, pub.Card.BIN)

	_, err = f.orch.TransactionStatus(context.Background(), "missing")
	assert.True(t, apperr.IsNotFound(err))
}
