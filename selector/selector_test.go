package selector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emreis/sanalpos/entity"
	"github.com/emreis/sanalpos/infra/apperr"
	"github.com/emreis/sanalpos/infra/crypto"
	"github.com/emreis/sanalpos/store"
)

func seedTerminal(t *testing.T, s store.TerminalStore, name string, bank entity.BankCode, priority int, defaults []entity.Currency, families []string) *entity.Terminal {
	t.Helper()
	term := &entity.Terminal{
		Company:               "acme",
		Name:                  name,
		BankCode:              bank,
		Provider:              entity.ProviderPayten,
		Currencies:            []entity.Currency{entity.CurrencyTRY, entity.CurrencyUSD},
		DefaultForCurrencies:  defaults,
		Priority:              priority,
		Status:                true,
		SupportedCardFamilies: families,
	}
	require.NoError(t, s.Create(context.Background(), term))
	return term
}

func TestSelectOnUsBeatsPriority(t *testing.T) {
	ts := store.NewMemoryTerminalStore(crypto.NewFieldCipher("k"))
	a := seedTerminal(t, ts, "A", entity.BankGaranti, 0, []entity.Currency{entity.CurrencyTRY}, nil)
	seedTerminal(t, ts, "B", entity.BankIsbank, 10, nil, nil)

	sel := New(ts)
	got, err := sel.Select(context.Background(), "acme", entity.CurrencyTRY, &entity.BINInfo{BankCode: "garanti"})
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID, "same-bank routing wins over priority")
}

func TestSelectCardFamily(t *testing.T) {
	ts := store.NewMemoryTerminalStore(crypto.NewFieldCipher("k"))
	seedTerminal(t, ts, "A", entity.BankGaranti, 5, nil, nil)
	b := seedTerminal(t, ts, "B", entity.BankIsbank, 0, nil, []string{"Bonus"})

	sel := New(ts)
	got, err := sel.Select(context.Background(), "acme", entity.CurrencyTRY, &entity.BINInfo{Family: "bonus"})
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID, "family match is case-insensitive")
}

func TestSelectDefaultForCurrency(t *testing.T) {
	ts := store.NewMemoryTerminalStore(crypto.NewFieldCipher("k"))
	seedTerminal(t, ts, "A", entity.BankGaranti, 5, nil, nil)
	b := seedTerminal(t, ts, "B", entity.BankIsbank, 0, []entity.Currency{entity.CurrencyTRY}, nil)

	sel := New(ts)
	got, err := sel.Select(context.Background(), "acme", entity.CurrencyTRY, nil)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
}

func TestSelectPriorityFallback(t *testing.T) {
	ts := store.NewMemoryTerminalStore(crypto.NewFieldCipher("k"))
	seedTerminal(t, ts, "A", entity.BankGaranti, 1, nil, nil)
	b := seedTerminal(t, ts, "B", entity.BankIsbank, 9, nil, nil)

	sel := New(ts)
	got, err := sel.Select(context.Background(), "acme", entity.CurrencyTRY, &entity.BINInfo{})
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
}

func TestSelectDeterministicOnTie(t *testing.T) {
	ts := store.NewMemoryTerminalStore(crypto.NewFieldCipher("k"))
	a := seedTerminal(t, ts, "A", entity.BankGaranti, 5, nil, nil)
	seedTerminal(t, ts, "B", entity.BankIsbank, 5, nil, nil)

	sel := New(ts)
	for i := 0; i < 5; i++ {
		got, err := sel.Select(context.Background(), "acme", entity.CurrencyTRY, nil)
		require.NoError(t, err)
		assert.Equal(t, a.ID, got.ID, "tie breaks on insertion order")
	}
}

func TestSelectNoCandidates(t *testing.T) {
	ts := store.NewMemoryTerminalStore(crypto.NewFieldCipher("k"))
	sel := New(ts)

	_, err := sel.Select(context.Background(), "acme", entity.CurrencyTRY, nil)
	assert.True(t, apperr.IsNotFound(err))
}
