package store

import (
	"context"

	"github.com/emreis/sanalpos/entity"
	"github.com/emreis/sanalpos/infra/codec"
	"github.com/emreis/sanalpos/infra/crypto"
)

// TerminalStore persists merchant-acquirer terminal bindings
type TerminalStore interface {
	Create(ctx context.Context, t *entity.Terminal) error
	FindByID(ctx context.Context, id string) (*entity.Terminal, error)
	// FindForSelection returns active terminals of the company supporting the
	// currency, ordered by descending priority then insertion order.
	FindForSelection(ctx context.Context, company string, currency entity.Currency) ([]*entity.Terminal, error)
	List(ctx context.Context, company string) ([]*entity.Terminal, error)
	Update(ctx context.Context, t *entity.Terminal) error
	// SetDefaultForCurrency clears the currency from the company's other
	// terminals and marks the target as its default.
	SetDefaultForCurrency(ctx context.Context, id string, currency entity.Currency) error
	Delete(ctx context.Context, id string) error
	// Credentials derives the clear credential view for a terminal. The
	// result is per-call and never written back.
	Credentials(t *entity.Terminal) (*entity.DecryptedCredentials, error)
}

// TransactionStore persists payment attempts
type TransactionStore interface {
	// Create encrypts the card, derives the masked view and numeric BIN, and
	// persists the transaction with status pending.
	Create(ctx context.Context, tx *entity.Transaction) error
	FindByID(ctx context.Context, id string) (*entity.Transaction, error)
	// AppendLog appends one entry to the transaction's exchange log.
	AppendLog(ctx context.Context, id string, e entity.LogEntry) error
	// UpdateStatus sets only the status field.
	UpdateStatus(ctx context.Context, id string, status entity.TransactionStatus) error
	// UpdateStatusFrom sets status only when the persisted status equals
	// from; returns a state error otherwise.
	UpdateStatusFrom(ctx context.Context, id string, from, to entity.TransactionStatus) error
	// SaveSecure re-persists the whole mutable adapter-owned subtree of tx:
	// the secure bundle, result, status, order id and completion timestamps.
	SaveSecure(ctx context.Context, tx *entity.Transaction) error
	ClearCVV(ctx context.Context, id string) error
	// DecryptedCard derives the clear card view without mutating tx.
	DecryptedCard(tx *entity.Transaction) (entity.Card, error)
}

// encryptCardFields encrypts the sensitive card fields in place and derives
// the masked view and numeric BIN from the clear number.
func encryptCardFields(cipher *crypto.FieldCipher, card *entity.Card) error {
	if !crypto.IsEncrypted(card.Number) && card.Number != "" {
		card.Masked = codec.MaskPAN(card.Number)
		card.BIN = codec.BIN(card.Number)
	}
	for _, field := range []*string{&card.Holder, &card.Number, &card.Expiry, &card.CVV} {
		enc, err := cipher.Encrypt(*field)
		if err != nil {
			return err
		}
		*field = enc
	}
	return nil
}

func decryptCardFields(cipher *crypto.FieldCipher, card entity.Card) (entity.Card, error) {
	out := card
	for _, field := range []*string{&out.Holder, &out.Number, &out.Expiry, &out.CVV} {
		dec, err := cipher.Decrypt(*field)
		if err != nil {
			return entity.Card{}, err
		}
		*field = dec
	}
	return out, nil
}

// encryptTerminalSecrets encrypts credential fields that arrive in clear
func encryptTerminalSecrets(cipher *crypto.FieldCipher, t *entity.Terminal) error {
	for _, field := range []*string{
		&t.Credentials.Password,
		&t.Credentials.SecretKey,
		&t.Credentials.Extra,
		&t.ThreeD.StoreKey,
	} {
		enc, err := cipher.Encrypt(*field)
		if err != nil {
			return err
		}
		*field = enc
	}
	return nil
}

func decryptTerminalSecrets(cipher *crypto.FieldCipher, t *entity.Terminal) (*entity.DecryptedCredentials, error) {
	out := &entity.DecryptedCredentials{
		MerchantID: t.Credentials.MerchantID,
		TerminalID: t.Credentials.TerminalID,
		Username:   t.Credentials.Username,
	}
	var err error
	if out.Password, err = cipher.Decrypt(t.Credentials.Password); err != nil {
		return nil, err
	}
	if out.SecretKey, err = cipher.Decrypt(t.Credentials.SecretKey); err != nil {
		return nil, err
	}
	if out.Extra, err = cipher.Decrypt(t.Credentials.Extra); err != nil {
		return nil, err
	}
	if out.StoreKey, err = cipher.Decrypt(t.ThreeD.StoreKey); err != nil {
		return nil, err
	}
	return out, nil
}
