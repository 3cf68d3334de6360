package orchestrator

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/emreis/sanalpos/binlookup"
	"github.com/emreis/sanalpos/entity"
	"github.com/emreis/sanalpos/infra/apperr"
	"github.com/emreis/sanalpos/infra/logger"
	"github.com/emreis/sanalpos/provider"
	"github.com/emreis/sanalpos/selector"
	"github.com/emreis/sanalpos/store"
)

// Orchestrator drives the payment state machine: it resolves the BIN, selects
// the acquirer terminal, creates the transaction and dispatches the
// provider adapter through initialize, form, callback and provision.
type Orchestrator struct {
	terminals       store.TerminalStore
	transactions    store.TransactionStore
	bins            *binlookup.Cache
	selector        *selector.Selector
	registry        *provider.Registry
	callbackBaseURL string

	// per-transaction locks serialize init/callback/provision so duplicate
	// callbacks cannot race the state machine
	locks sync.Map
}

// New creates the orchestrator
func New(terminals store.TerminalStore, transactions store.TransactionStore, bins *binlookup.Cache, registry *provider.Registry, callbackBaseURL string) *Orchestrator {
	return &Orchestrator{
		terminals:       terminals,
		transactions:    transactions,
		bins:            bins,
		selector:        selector.New(terminals),
		registry:        registry,
		callbackBaseURL: callbackBaseURL,
	}
}

func (o *Orchestrator) lock(txID string) func() {
	value, _ := o.locks.LoadOrStore(txID, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (o *Orchestrator) adapter(term *entity.Terminal) (provider.Provider, error) {
	return o.registry.Create(term.Provider, provider.Deps{
		Terminals:       o.terminals,
		Transactions:    o.transactions,
		CallbackBaseURL: o.callbackBaseURL,
	})
}

// InstallmentOption is one entry of the installment plan offered for a BIN
type InstallmentOption struct {
	Count  int     `json:"count"`
	Amount float64 `json:"amount"`
}

// POSView is the terminal summary exposed by BIN queries
type POSView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	BankCode string `json:"bankCode"`
	Provider string `json:"provider"`
}

// BinQueryResult is the flattened BIN query response
type BinQueryResult struct {
	Bank         string              `json:"bank"`
	BankCode     string              `json:"bankCode"`
	CardType     string              `json:"cardType"`
	CardFamily   string              `json:"cardFamily"`
	Brand        string              `json:"brand"`
	Country      string              `json:"country"`
	POS          POSView             `json:"pos"`
	Installments []InstallmentOption `json:"installments"`
}

// QueryBin resolves issuer information for a BIN, selects the acquirer and
// computes the installment options for the amount.
func (o *Orchestrator) QueryBin(ctx context.Context, company, bin string, amount float64, currency entity.Currency) (*BinQueryResult, error) {
	if !entity.ValidCurrency(currency) {
		return nil, apperr.Newf(apperr.KindValidation, "unknown currency %q", currency)
	}

	info, err := o.bins.Resolve(ctx, bin)
	if err != nil {
		return nil, err
	}

	term, err := o.selector.Select(ctx, company, currency, info)
	if err != nil {
		return nil, err
	}

	return &BinQueryResult{
		Bank:       info.Bank,
		BankCode:   info.BankCode,
		CardType:   info.Type,
		CardFamily: info.Family,
		Brand:      info.Brand,
		Country:    info.Country,
		POS: POSView{
			ID:       term.ID,
			Name:     term.Name,
			BankCode: string(term.BankCode),
			Provider: term.Provider,
		},
		Installments: installmentOptions(term, currency, info.Type, amount),
	}, nil
}

// installmentOptions always offers single payment; TRY credit cards on
// installment-enabled terminals above the threshold get counts up to the
// terminal maximum. Per-count commission application is an extension point:
// rates are stored on the terminal but the reported amount stays the total.
func installmentOptions(term *entity.Terminal, currency entity.Currency, cardType string, amount float64) []InstallmentOption {
	options := []InstallmentOption{{Count: 1, Amount: amount}}

	if currency != entity.CurrencyTRY || cardType != "credit" {
		return options
	}
	if !term.Installment.Enabled || amount < term.Installment.MinAmount {
		return options
	}

	for i := 2; i <= term.Installment.MaxCount; i++ {
		options = append(options, InstallmentOption{Count: i, Amount: amount})
	}
	return options
}

// CardRequest carries the clear card fields of a pay request
type CardRequest struct {
	Holder string `json:"holder" validate:"required"`
	Number string `json:"number" validate:"required,min=12,max=19"`
	Expiry string `json:"expiry" validate:"required"`
	CVV    string `json:"cvv" validate:"required,min=3,max=4"`
}

// CustomerRequest carries the optional customer snapshot
type CustomerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	IP    string `json:"ip"`
}

// CreatePaymentRequest is the pay-intent input
type CreatePaymentRequest struct {
	Company     string          `json:"company"`
	POSID       string          `json:"posId"`
	Amount      float64         `json:"amount" validate:"required,gt=0"`
	Currency    entity.Currency `json:"currency" validate:"required"`
	Installment int             `json:"installment"`
	Card        CardRequest     `json:"card" validate:"required"`
	Customer    CustomerRequest `json:"customer"`
	ExternalID  string          `json:"externalId"`
}

// CreatePaymentResult is returned on a successfully initialized payment
type CreatePaymentResult struct {
	TransactionID string `json:"transactionId"`
	FormURL       string `json:"formUrl"`
}

// CreatePayment validates the pay intent, routes it to a terminal, creates
// the transaction and runs the adapter's 3-D initialization.
func (o *Orchestrator) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error) {
	if err := validateCreateRequest(req); err != nil {
		return nil, err
	}

	binInfo := o.resolveBin(ctx, req.Card.Number)

	// domestic cards may only pay in lira
	if req.Currency != entity.CurrencyTRY && binInfo != nil && binInfo.Country == "tr" {
		return nil, apperr.New(apperr.KindValidation, "foreign currency payments are not available for domestic cards")
	}

	term, err := o.resolveTerminal(ctx, req, binInfo)
	if err != nil {
		return nil, err
	}

	tx := &entity.Transaction{
		TerminalID:  term.ID,
		Company:     term.Company,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Installment: req.Installment,
		Card: entity.Card{
			Holder: req.Card.Holder,
			Number: req.Card.Number,
			Expiry: req.Card.Expiry,
			CVV:    req.Card.CVV,
		},
		Customer: entity.CustomerInfo{
			Name:  req.Customer.Name,
			Email: req.Customer.Email,
			Phone: req.Customer.Phone,
			IP:    req.Customer.IP,
		},
		ExternalID: req.ExternalID,
	}
	if binInfo != nil {
		tx.BIN = *binInfo
	}

	if err := o.transactions.Create(ctx, tx); err != nil {
		return nil, err
	}

	unlock := o.lock(tx.ID)
	defer unlock()

	adapter, err := o.adapter(term)
	if err != nil {
		return nil, o.persistFailure(ctx, tx, err)
	}

	if err := adapter.Initialize(ctx, tx, term); err != nil {
		return nil, o.persistFailure(ctx, tx, err)
	}

	if err := o.transactions.UpdateStatusFrom(ctx, tx.ID, entity.StatusPending, entity.StatusProcessing); err != nil {
		return nil, err
	}

	logger.Info("payment initialized", logger.LogContext{
		Provider:      term.Provider,
		TransactionID: tx.ID,
		Company:       tx.Company,
	})

	return &CreatePaymentResult{
		TransactionID: tx.ID,
		FormURL:       fmt.Sprintf("%s/payment/%s/form", o.callbackBaseURL, tx.ID),
	}, nil
}

func validateCreateRequest(req CreatePaymentRequest) error {
	if req.Amount <= 0 {
		return apperr.New(apperr.KindValidation, "amount must be greater than zero")
	}
	if !entity.ValidCurrency(req.Currency) {
		return apperr.Newf(apperr.KindValidation, "unknown currency %q", req.Currency)
	}
	if req.Card.Holder == "" || req.Card.Number == "" || req.Card.Expiry == "" || req.Card.CVV == "" {
		return apperr.New(apperr.KindValidation, "card holder, number, expiry and cvv are required")
	}
	return nil
}

// resolveBin is best-effort: a terminal may still be chosen explicitly when
// the upstream resolver is unavailable.
func (o *Orchestrator) resolveBin(ctx context.Context, pan string) *entity.BINInfo {
	bin := pan
	if len(bin) > 8 {
		bin = bin[:8]
	}
	info, err := o.bins.Resolve(ctx, bin)
	if err != nil {
		logger.Warn("bin resolution failed", logger.LogContext{
			Fields: map[string]any{"error": err.Error()},
		})
		return nil
	}
	return info
}

func (o *Orchestrator) resolveTerminal(ctx context.Context, req CreatePaymentRequest, binInfo *entity.BINInfo) (*entity.Terminal, error) {
	if req.POSID != "" {
		term, err := o.terminals.FindByID(ctx, req.POSID)
		if err != nil {
			return nil, err
		}
		if !term.Status {
			return nil, apperr.Newf(apperr.KindValidation, "terminal %s is not active", term.ID)
		}
		if !term.SupportsCurrency(req.Currency) {
			return nil, apperr.Newf(apperr.KindValidation, "terminal %s does not support %s", term.ID, req.Currency)
		}
		return term, nil
	}
	return o.selector.Select(ctx, req.Company, req.Currency, binInfo)
}

// PaymentForm renders the ACS redirect document for a processing transaction
func (o *Orchestrator) PaymentForm(ctx context.Context, txID string) (string, error) {
	tx, err := o.transactions.FindByID(ctx, txID)
	if err != nil {
		return "", err
	}
	if tx.Status != entity.StatusProcessing {
		return "", apperr.Newf(apperr.KindState, "transaction %s is not awaiting 3D verification", txID)
	}

	term, err := o.terminals.FindByID(ctx, tx.TerminalID)
	if err != nil {
		return "", err
	}
	adapter, err := o.adapter(term)
	if err != nil {
		return "", err
	}
	return adapter.FormHTML(ctx, tx, term)
}

// ProcessCallback handles the bank's POST for a transaction. It is
// idempotent: a terminal-state transaction short-circuits to the persisted
// outcome without touching the adapter.
func (o *Orchestrator) ProcessCallback(ctx context.Context, txID string, fields url.Values) (*entity.Transaction, error) {
	unlock := o.lock(txID)
	defer unlock()

	tx, err := o.transactions.FindByID(ctx, txID)
	if err != nil {
		return nil, err
	}

	if tx.Status.Terminal() {
		return tx, nil
	}
	if tx.Status != entity.StatusProcessing {
		return tx, apperr.Newf(apperr.KindState, "transaction %s is not awaiting callback", txID)
	}

	term, err := o.terminals.FindByID(ctx, tx.TerminalID)
	if err != nil {
		return tx, err
	}
	adapter, err := o.adapter(term)
	if err != nil {
		return tx, o.persistFailure(ctx, tx, err)
	}

	if err := adapter.ProcessCallback(ctx, tx, term, fields); err != nil {
		err = o.persistFailure(ctx, tx, err)
		return o.reload(ctx, tx), err
	}

	return o.reload(ctx, tx), nil
}

// Refund runs an inverse financial operation as a child transaction and
// stamps the original with its refund time.
func (o *Orchestrator) Refund(ctx context.Context, originalID string, amount float64) (*entity.Transaction, error) {
	return o.reverse(ctx, originalID, amount, false)
}

// Cancel voids the original transaction through a child transaction; the
// original ends cancelled.
func (o *Orchestrator) Cancel(ctx context.Context, originalID string) (*entity.Transaction, error) {
	return o.reverse(ctx, originalID, 0, true)
}

func (o *Orchestrator) reverse(ctx context.Context, originalID string, amount float64, cancel bool) (*entity.Transaction, error) {
	unlock := o.lock(originalID)
	defer unlock()

	original, err := o.transactions.FindByID(ctx, originalID)
	if err != nil {
		return nil, err
	}
	if original.Status != entity.StatusSuccess {
		return nil, apperr.Newf(apperr.KindState, "transaction %s is not refundable", originalID)
	}

	term, err := o.terminals.FindByID(ctx, original.TerminalID)
	if err != nil {
		return nil, err
	}
	adapter, err := o.adapter(term)
	if err != nil {
		return nil, err
	}

	if cancel || amount <= 0 {
		amount = original.Amount
	}

	child := &entity.Transaction{
		TerminalID:  term.ID,
		Company:     original.Company,
		Amount:      amount,
		Currency:    original.Currency,
		Installment: 1,
		Customer:    original.Customer,
		RefundOf:    original.ID,
	}
	if err := o.transactions.Create(ctx, child); err != nil {
		return nil, err
	}

	if cancel {
		err = adapter.Cancel(ctx, child, original, term)
	} else {
		err = adapter.Refund(ctx, child, original, term)
	}
	if err != nil {
		return nil, o.persistFailure(ctx, child, err)
	}

	now := time.Now().UTC()
	if cancel {
		original.Status = entity.StatusCancelled
		original.CancelledAt = &now
	} else {
		original.RefundedAt = &now
	}
	if err := o.transactions.SaveSecure(ctx, original); err != nil {
		return nil, err
	}

	return o.reload(ctx, child), nil
}

// TransactionStatus projects the public view of a transaction
func (o *Orchestrator) TransactionStatus(ctx context.Context, txID string) (*entity.PublicTransaction, error) {
	tx, err := o.transactions.FindByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	pub := tx.Public()
	return &pub, nil
}

// persistFailure records the terminal failure outcome before the error is
// surfaced to the caller.
func (o *Orchestrator) persistFailure(ctx context.Context, tx *entity.Transaction, cause error) error {
	code := apperr.CodeOf(cause)
	if code == "" {
		code = string(apperr.KindOf(cause))
	}
	if code == "" {
		code = "ERROR"
	}

	now := time.Now().UTC()
	tx.Status = entity.StatusFailed
	tx.CompletedAt = &now
	tx.Result = &entity.Result{
		Success: false,
		Code:    code,
		Message: apperr.MessageOf(cause),
	}

	if err := o.transactions.SaveSecure(ctx, tx); err != nil {
		logger.Error("failed to persist failure outcome", err, logger.LogContext{
			TransactionID: tx.ID,
		})
	}
	return cause
}

func (o *Orchestrator) reload(ctx context.Context, tx *entity.Transaction) *entity.Transaction {
	fresh, err := o.transactions.FindByID(ctx, tx.ID)
	if err != nil {
		return tx
	}
	return fresh
}
