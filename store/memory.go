package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emreis/sanalpos/entity"
	"github.com/emreis/sanalpos/infra/apperr"
	"github.com/emreis/sanalpos/infra/crypto"
)

// MemoryTerminalStore is an in-memory TerminalStore used by tests and local
// runs without MongoDB.
type MemoryTerminalStore struct {
	mu        sync.RWMutex
	terminals map[string]*entity.Terminal
	order     []string
	cipher    *crypto.FieldCipher
}

// NewMemoryTerminalStore creates an empty in-memory terminal store
func NewMemoryTerminalStore(cipher *crypto.FieldCipher) *MemoryTerminalStore {
	return &MemoryTerminalStore{
		terminals: make(map[string]*entity.Terminal),
		cipher:    cipher,
	}
}

func cloneTerminal(t *entity.Terminal) *entity.Terminal {
	raw, _ := json.Marshal(t)
	var out entity.Terminal
	_ = json.Unmarshal(raw, &out)
	// encrypted fields are stripped from JSON, carry them over
	out.Credentials.Password = t.Credentials.Password
	out.Credentials.SecretKey = t.Credentials.SecretKey
	out.Credentials.Extra = t.Credentials.Extra
	out.ThreeD.StoreKey = t.ThreeD.StoreKey
	return &out
}

func (s *MemoryTerminalStore) Create(_ context.Context, t *entity.Terminal) error {
	if err := validateTerminal(t); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.terminals {
		if existing.Company == t.Company && existing.BankCode == t.BankCode {
			return apperr.Newf(apperr.KindConflict, "terminal for company %s at bank %s already exists", t.Company, t.BankCode)
		}
	}

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.CreatedAt = time.Now().UTC()
	if err := encryptTerminalSecrets(s.cipher, t); err != nil {
		return err
	}

	s.terminals[t.ID] = cloneTerminal(t)
	s.order = append(s.order, t.ID)
	return nil
}

func (s *MemoryTerminalStore) FindByID(_ context.Context, id string) (*entity.Terminal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.terminals[id]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "terminal %s not found", id)
	}
	return cloneTerminal(t), nil
}

func (s *MemoryTerminalStore) FindForSelection(_ context.Context, company string, currency entity.Currency) ([]*entity.Terminal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entity.Terminal
	for _, id := range s.order {
		t, ok := s.terminals[id]
		if !ok {
			continue
		}
		if t.Company == company && t.Status && t.SupportsCurrency(currency) {
			out = append(out, cloneTerminal(t))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out, nil
}

func (s *MemoryTerminalStore) List(_ context.Context, company string) ([]*entity.Terminal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entity.Terminal
	for _, id := range s.order {
		t, ok := s.terminals[id]
		if !ok {
			continue
		}
		if t.Company == company {
			out = append(out, cloneTerminal(t))
		}
	}
	return out, nil
}

func (s *MemoryTerminalStore) Update(_ context.Context, t *entity.Terminal) error {
	if err := validateTerminal(t); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.terminals[t.ID]; !ok {
		return apperr.Newf(apperr.KindNotFound, "terminal %s not found", t.ID)
	}
	if err := encryptTerminalSecrets(s.cipher, t); err != nil {
		return err
	}
	t.UpdatedAt = time.Now().UTC()
	s.terminals[t.ID] = cloneTerminal(t)
	return nil
}

func (s *MemoryTerminalStore) SetDefaultForCurrency(_ context.Context, id string, currency entity.Currency) error {
	if !entity.ValidCurrency(currency) {
		return apperr.Newf(apperr.KindValidation, "unknown currency %q", currency)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.terminals[id]
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "terminal %s not found", id)
	}
	if !target.SupportsCurrency(currency) {
		return apperr.Newf(apperr.KindValidation, "terminal %s does not support %s", id, currency)
	}

	for _, t := range s.terminals {
		if t.Company != target.Company || t.ID == id {
			continue
		}
		var kept []entity.Currency
		for _, c := range t.DefaultForCurrencies {
			if c != currency {
				kept = append(kept, c)
			}
		}
		t.DefaultForCurrencies = kept
	}

	if !target.DefaultFor(currency) {
		target.DefaultForCurrencies = append(target.DefaultForCurrencies, currency)
	}
	return nil
}

func (s *MemoryTerminalStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.terminals[id]; !ok {
		return apperr.Newf(apperr.KindNotFound, "terminal %s not found", id)
	}
	delete(s.terminals, id)
	return nil
}

func (s *MemoryTerminalStore) Credentials(t *entity.Terminal) (*entity.DecryptedCredentials, error) {
	return decryptTerminalSecrets(s.cipher, t)
}

// MemoryTransactionStore is an in-memory TransactionStore used by tests
type MemoryTransactionStore struct {
	mu           sync.RWMutex
	transactions map[string]*entity.Transaction
	cipher       *crypto.FieldCipher
}

// NewMemoryTransactionStore creates an empty in-memory transaction store
func NewMemoryTransactionStore(cipher *crypto.FieldCipher) *MemoryTransactionStore {
	return &MemoryTransactionStore{
		transactions: make(map[string]*entity.Transaction),
		cipher:       cipher,
	}
}

func cloneTransaction(tx *entity.Transaction) *entity.Transaction {
	raw, _ := json.Marshal(tx)
	var out entity.Transaction
	_ = json.Unmarshal(raw, &out)
	out.Card = tx.Card
	out.Secure = entity.SecureBundle{
		Provider:    tx.Secure.Provider,
		HTMLContent: tx.Secure.HTMLContent,
		MD:          tx.Secure.MD,
		ECI:         tx.Secure.ECI,
		CAVV:        tx.Secure.CAVV,
		XID:         tx.Secure.XID,
	}
	if tx.Secure.FormData != nil {
		out.Secure.FormData = make(map[string]string, len(tx.Secure.FormData))
		for k, v := range tx.Secure.FormData {
			out.Secure.FormData[k] = v
		}
	}
	if tx.Secure.Decrypted != nil {
		out.Secure.Decrypted = make(map[string]string, len(tx.Secure.Decrypted))
		for k, v := range tx.Secure.Decrypted {
			out.Secure.Decrypted[k] = v
		}
	}
	out.Logs = append([]entity.LogEntry(nil), tx.Logs...)
	return &out
}

func (s *MemoryTransactionStore) Create(_ context.Context, tx *entity.Transaction) error {
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.Installment < 1 {
		tx.Installment = 1
	}
	tx.Status = entity.StatusPending
	tx.CreatedAt = time.Now().UTC()

	if err := encryptCardFields(s.cipher, &tx.Card); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[tx.ID] = cloneTransaction(tx)
	return nil
}

func (s *MemoryTransactionStore) FindByID(_ context.Context, id string) (*entity.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "transaction %s not found", id)
	}
	return cloneTransaction(tx), nil
}

func (s *MemoryTransactionStore) AppendLog(_ context.Context, id string, e entity.LogEntry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "transaction %s not found", id)
	}
	tx.Logs = append(tx.Logs, e)
	return nil
}

func (s *MemoryTransactionStore) UpdateStatus(_ context.Context, id string, status entity.TransactionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "transaction %s not found", id)
	}
	tx.Status = status
	return nil
}

func (s *MemoryTransactionStore) UpdateStatusFrom(_ context.Context, id string, from, to entity.TransactionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "transaction %s not found", id)
	}
	if tx.Status != from {
		return apperr.Newf(apperr.KindState, "transaction %s is not in status %s", id, from)
	}
	tx.Status = to
	return nil
}

func (s *MemoryTransactionStore) SaveSecure(_ context.Context, tx *entity.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.transactions[tx.ID]
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "transaction %s not found", tx.ID)
	}

	clone := cloneTransaction(tx)
	stored.Secure = clone.Secure
	stored.Status = tx.Status
	stored.OrderID = tx.OrderID
	if tx.Result != nil {
		r := *tx.Result
		stored.Result = &r
	}
	if tx.CompletedAt != nil {
		stored.CompletedAt = tx.CompletedAt
	}
	if tx.RefundedAt != nil {
		stored.RefundedAt = tx.RefundedAt
	}
	if tx.CancelledAt != nil {
		stored.CancelledAt = tx.CancelledAt
	}
	return nil
}

func (s *MemoryTransactionStore) ClearCVV(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "transaction %s not found", id)
	}
	tx.Card.CVV = ""
	return nil
}

func (s *MemoryTransactionStore) DecryptedCard(tx *entity.Transaction) (entity.Card, error) {
	return decryptCardFields(s.cipher, tx.Card)
}
