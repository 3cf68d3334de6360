package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusSuccess.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransition(StatusProcessing))
	assert.True(t, StatusPending.CanTransition(StatusFailed))
	assert.True(t, StatusProcessing.CanTransition(StatusSuccess))
	assert.True(t, StatusProcessing.CanTransition(StatusFailed))
	assert.True(t, StatusSuccess.CanTransition(StatusCancelled))

	assert.False(t, StatusPending.CanTransition(StatusSuccess))
	assert.False(t, StatusFailed.CanTransition(StatusProcessing))
	assert.False(t, StatusSuccess.CanTransition(StatusPending))
	assert.False(t, StatusCancelled.CanTransition(StatusSuccess))
}

func TestPublicProjection(t *testing.T) {
	tx := Transaction{
		ID:     "tx-1",
		Status: StatusSuccess,
		Amount: 150,
		Card: Card{
			Holder: "ciphertext",
			Number: "ciphertext",
			CVV:    "ciphertext",
			Masked: "4282 20** **** 8016",
			BIN:    42822090,
		},
	}

	pub := tx.Public()
	assert.Equal(t, "4282 20** **** 8016", pub.Card.Masked)
	assert.Equal(t, 42822090, pub.Card.BIN)
}

func TestTerminalCurrencyHelpers(t *testing.T) {
	term := Terminal{
		Currencies:            []Currency{CurrencyTRY, CurrencyUSD},
		DefaultForCurrencies:  []Currency{CurrencyTRY},
		SupportedCardFamilies: []string{"Bonus", "World"},
	}

	assert.True(t, term.SupportsCurrency(CurrencyTRY))
	assert.False(t, term.SupportsCurrency(CurrencyGBP))
	assert.True(t, term.DefaultFor(CurrencyTRY))
	assert.False(t, term.DefaultFor(CurrencyUSD))
	assert.True(t, term.SupportsCardFamily("bonus"))
	assert.True(t, term.SupportsCardFamily("WORLD"))
	assert.False(t, term.SupportsCardFamily("axess"))
}
