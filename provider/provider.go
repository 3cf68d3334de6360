package provider

import (
	"context"
	"fmt"
	"net/url"

	"github.com/emreis/sanalpos/entity"
	"github.com/emreis/sanalpos/infra/apperr"
	"github.com/emreis/sanalpos/infra/logger"
	"github.com/emreis/sanalpos/store"
)

// Capabilities advertises which operations an adapter implements
type Capabilities struct {
	ThreeD   bool `json:"threeD"`
	Direct   bool `json:"direct"`
	Refund   bool `json:"refund"`
	Cancel   bool `json:"cancel"`
	Status   bool `json:"status"`
	History  bool `json:"history"`
	PreAuth  bool `json:"preAuth"`
	PostAuth bool `json:"postAuth"`
}

// Provider is the contract every acquirer adapter satisfies. Adapters mutate
// the passed transaction and persist adapter-owned state through the
// transaction store; bank refusals surface as provider_error values carrying
// the acquirer's native code.
type Provider interface {
	// Initialize prepares the 3-D flow and persists the adapter-opaque form
	// data into the transaction's secure bundle.
	Initialize(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) error

	// FormHTML returns the auto-submitting document that forwards the
	// cardholder's browser to the issuer ACS.
	FormHTML(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) (string, error)

	// ProcessCallback verifies the bank POST against the acquirer's accepted
	// 3-D status set and, on pass, runs the provision.
	ProcessCallback(ctx context.Context, tx *entity.Transaction, term *entity.Terminal, fields url.Values) error

	// ProcessProvision sends the financial authorization.
	ProcessProvision(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) error

	// DirectPayment posts a single non-3-D authorization.
	DirectPayment(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) error

	Refund(ctx context.Context, tx, original *entity.Transaction, term *entity.Terminal) error
	Cancel(ctx context.Context, tx, original *entity.Transaction, term *entity.Terminal) error

	Status(ctx context.Context, term *entity.Terminal, orderID string) (map[string]string, error)
	History(ctx context.Context, term *entity.Terminal, orderID string) (map[string]string, error)

	PreAuth(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) error
	PostAuth(ctx context.Context, tx, preAuthTx *entity.Transaction, term *entity.Terminal) error

	Capabilities() Capabilities
}

// Deps carries the collaborators adapters need
type Deps struct {
	Terminals       store.TerminalStore
	Transactions    store.TransactionStore
	CallbackBaseURL string
}

// Factory creates a Provider instance wired with its dependencies
type Factory func(Deps) Provider

// Base holds the shared adapter state and helpers. Concrete adapters embed it.
type Base struct {
	Deps
	Tag string
}

// NewBase creates the shared adapter base
func NewBase(tag string, deps Deps) Base {
	return Base{Deps: deps, Tag: tag}
}

// CallbackURL builds the bank-facing return URL for a transaction
func (b *Base) CallbackURL(txID string) string {
	return fmt.Sprintf("%s/payment/%s/callback", b.CallbackBaseURL, txID)
}

// Credentials derives the clear credential view of the terminal
func (b *Base) Credentials(term *entity.Terminal) (*entity.DecryptedCredentials, error) {
	return b.Terminals.Credentials(term)
}

// Card derives the clear card view of the transaction
func (b *Base) Card(tx *entity.Transaction) (entity.Card, error) {
	return b.Transactions.DecryptedCard(tx)
}

// Log appends an exchange log entry; persistence failures are logged and do
// not abort the payment.
func (b *Base) Log(ctx context.Context, txID string, typ entity.LogType, request, response any) {
	if err := b.Transactions.AppendLog(ctx, txID, entity.LogEntry{
		Type:     typ,
		Request:  request,
		Response: response,
	}); err != nil {
		logger.Warn("failed to append transaction log", logger.LogContext{
			Provider:      b.Tag,
			TransactionID: txID,
			Fields:        map[string]any{"error": err.Error(), "type": typ},
		})
	}
}

// NotSupported returns the error adapters use for unimplemented operations
func (b *Base) NotSupported(op string) error {
	return apperr.Newf(apperr.KindNotImplemented, "%s: %s is not supported", b.Tag, op)
}
