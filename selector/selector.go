package selector

import (
	"context"

	"github.com/emreis/sanalpos/entity"
	"github.com/emreis/sanalpos/infra/apperr"
	"github.com/emreis/sanalpos/store"
)

// Selector picks the acquirer terminal for a payment using an ordered rule
// chain: on-us routing, card-family match, default-for-currency, then highest
// priority. Candidates arrive sorted by priority so ties inside a rule break
// on priority, then insertion order.
type Selector struct {
	terminals store.TerminalStore
}

// New creates a selector over the terminal store
func New(terminals store.TerminalStore) *Selector {
	return &Selector{terminals: terminals}
}

// Select returns the terminal to route the payment through, or a not_found
// error when the company has no suitable terminal.
func (s *Selector) Select(ctx context.Context, company string, currency entity.Currency, bin *entity.BINInfo) (*entity.Terminal, error) {
	candidates, err := s.terminals.FindForSelection(ctx, company, currency)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, apperr.New(apperr.KindNotFound, "no suitable terminal")
	}

	if bin != nil && bin.BankCode != "" {
		for _, t := range candidates {
			if string(t.BankCode) == bin.BankCode {
				return t, nil
			}
		}
	}

	if bin != nil && bin.Family != "" {
		for _, t := range candidates {
			if t.SupportsCardFamily(bin.Family) {
				return t, nil
			}
		}
	}

	for _, t := range candidates {
		if t.DefaultFor(currency) {
			return t, nil
		}
	}

	return candidates[0], nil
}
