package provider

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emreis/sanalpos/entity"
	"github.com/emreis/sanalpos/infra/apperr"
	"github.com/emreis/sanalpos/infra/codec"
)

func TestRegistryUnknownTag(t *testing.T) {
	r := NewRegistry()

	_, err := r.Create("nope", Deps{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotImplemented, apperr.KindOf(err))
}

func TestRegistryCreate(t *testing.T) {
	r := NewRegistry()
	r.Register("fake", func(deps Deps) Provider { return nil })

	_, err := r.Create("fake", Deps{})
	assert.NoError(t, err)
	assert.Contains(t, r.Tags(), "fake")
}

func TestCurrencyTables(t *testing.T) {
	assert.Equal(t, "949", NumericCurrencyCode(entity.CurrencyTRY))
	assert.Equal(t, "840", NumericCurrencyCode(entity.CurrencyUSD))
	assert.Equal(t, "978", NumericCurrencyCode(entity.CurrencyEUR))
	assert.Equal(t, "826", NumericCurrencyCode(entity.CurrencyGBP))

	assert.Equal(t, "TL", AlphaCurrencyCode(entity.CurrencyTRY))
	assert.Equal(t, "US", AlphaCurrencyCode(entity.CurrencyUSD))
	assert.Equal(t, "EU", AlphaCurrencyCode(entity.CurrencyEUR))
	assert.Equal(t, "PU", AlphaCurrencyCode(entity.CurrencyGBP))
}

func TestAutoSubmitForm(t *testing.T) {
	doc := AutoSubmitForm("https://gate.example/3d", []codec.FormPair{
		{Key: "first", Value: "1"},
		{Key: "second", Value: `a"b`},
	})

	assert.Contains(t, doc, `action="https://gate.example/3d"`)
	assert.Contains(t, doc, `name="first" value="1"`)
	assert.Contains(t, doc, "a&#34;b", "values are HTML-escaped")
	assert.Contains(t, doc, "document.threeDForm.submit()")

	// field order must be preserved
	first := strings.Index(doc, `name="first"`)
	second := strings.Index(doc, `name="second"`)
	assert.Less(t, first, second)
}

func TestBaseCallbackURL(t *testing.T) {
	b := NewBase("fake", Deps{CallbackBaseURL: "https://pay.example.com"})
	assert.Equal(t, "https://pay.example.com/payment/tx-9/callback", b.CallbackURL("tx-9"))
}
