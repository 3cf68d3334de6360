package garanti

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emreis/sanalpos/entity"
	"github.com/emreis/sanalpos/infra/apperr"
	"github.com/emreis/sanalpos/infra/crypto"
	"github.com/emreis/sanalpos/provider"
	"github.com/emreis/sanalpos/store"
)

func testDeps(t *testing.T) (provider.Deps, *entity.Terminal, *entity.Transaction) {
	t.Helper()
	cipher := crypto.NewFieldCipher("test-key")
	terminals := store.NewMemoryTerminalStore(cipher)
	transactions := store.NewMemoryTransactionStore(cipher)

	term := &entity.Terminal{
		Company:    "acme",
		Name:       "garanti main",
		BankCode:   entity.BankGaranti,
		Provider:   entity.ProviderGaranti,
		Currencies: []entity.Currency{entity.CurrencyTRY},
		Status:     true,
		Credentials: entity.Credentials{
			MerchantID: "7000679",
			TerminalID: "30691298",
			Username:   "PROVAUT",
			Password:   "123qweASD/",
		},
		ThreeD: entity.ThreeDConfig{Enabled: true, StoreKey: "12345678"},
	}
	require.NoError(t, terminals.Create(context.Background(), term))

	tx := &entity.Transaction{
		ID:          "tx-1",
		TerminalID:  term.ID,
		Company:     "acme",
		OrderID:     "ORDER1234567890",
		Amount:      150.00,
		Currency:    entity.CurrencyTRY,
		Installment: 1,
		Card: entity.Card{
			Holder: "John Doe",
			Number: "4282209004348016",
			Expiry: "03/28",
			CVV:    "358",
		},
		Customer: entity.CustomerInfo{Email: "john@example.com", IP: "127.0.0.1"},
	}
	require.NoError(t, transactions.Create(context.Background(), tx))

	return provider.Deps{
		Terminals:       terminals,
		Transactions:    transactions,
		CallbackBaseURL: "https://pay.example.com",
	}, term, tx
}

func TestHashedPassword(t *testing.T) {
	got := hashedPassword("123qweASD/", "30691298")
	assert.Equal(t, "1639636D00AB5EF0B3CE073BB222BFAAC2C2C38D", got)
}

func TestSecure3DHashGolden(t *testing.T) {
	hp := hashedPassword("123qweASD/", "30691298")
	callback := "https://pay.example.com/payment/tx-1/callback"

	got := secure3DHash("30691298", "ORDER1234567890", "15000", "949", callback, callback, "", "12345678", hp)
	assert.Equal(t,
		"00DC011C1BB845FE369C23210F5974FC39D1B74EA9F2EDFAA60EA677555503B754057F6B0C35E911443D9AD61435ED43486B7220CB8ABAB4C355D7E3D4725D6B",
		got)
}

func TestProvisionHashGolden(t *testing.T) {
	hp := hashedPassword("123qweASD/", "30691298")

	got := provisionHash("ORDER1234567890", "30691298", "", "15000", "949", hp)
	assert.Equal(t,
		"29D11B6283F700FB5FBA9E34CB3ADA13B51A35A8F05839207DDF3114EB55F746BD6CBEFC0415B341E8BEDC6B14FAF58B44BC52ABAE801112A453D16F5D0BE9D3",
		got)
}

func TestInitializePersistsFormData(t *testing.T) {
	deps, term, tx := testDeps(t)
	adapter := New(deps).(*Adapter)

	require.NoError(t, adapter.Initialize(context.Background(), tx, term))

	stored, err := deps.Transactions.FindByID(context.Background(), tx.ID)
	require.NoError(t, err)

	form := stored.Secure.FormData
	assert.Equal(t, "PROD", form["mode"])
	assert.Equal(t, "512", form["apiversion"])
	assert.Equal(t, "30691298", form["terminalid"])
	assert.Equal(t, "15000", form["txnamount"])
	assert.Equal(t, "949", form["txncurrencycode"])
	assert.Equal(t, "sales", form["txntype"])
	assert.Equal(t, "https://pay.example.com/payment/tx-1/callback", form["successurl"])
	assert.Equal(t,
		"00DC011C1BB845FE369C23210F5974FC39D1B74EA9F2EDFAA60EA677555503B754057F6B0C35E911443D9AD61435ED43486B7220CB8ABAB4C355D7E3D4725D6B",
		form["secure3dhash"])

	require.Len(t, stored.Logs, 1)
	assert.Equal(t, entity.LogInit, stored.Logs[0].Type)
}

func TestFormHTML(t *testing.T) {
	deps, term, tx := testDeps(t)
	adapter := New(deps).(*Adapter)

	require.NoError(t, adapter.Initialize(context.Background(), tx, term))

	doc, err := adapter.FormHTML(context.Background(), tx, term)
	require.NoError(t, err)

	assert.Contains(t, doc, gateProdURL)
	assert.Contains(t, doc, `name="cardnumber" value="4282209004348016"`)
	assert.Contains(t, doc, `name="cardexpiredatemonth" value="03"`)
	assert.Contains(t, doc, `name="cardexpiredateyear" value="28"`)
	assert.Contains(t, doc, `name="secure3dhash"`)
	assert.True(t, strings.Contains(doc, "document.threeDForm.submit()"))
}

func TestFormHTMLWithoutFormData(t *testing.T) {
	deps, term, tx := testDeps(t)
	adapter := New(deps).(*Adapter)

	_, err := adapter.FormHTML(context.Background(), tx, term)
	assert.Equal(t, apperr.KindState, apperr.KindOf(err))
}

func TestCallbackRejectsBadMDStatus(t *testing.T) {
	deps, term, tx := testDeps(t)
	adapter := New(deps).(*Adapter)
	require.NoError(t, adapter.Initialize(context.Background(), tx, term))

	fields := url.Values{}
	fields.Set("mdstatus", "7")
	fields.Set("mderrormessage", "kart dogrulanamadi")

	err := adapter.ProcessCallback(context.Background(), tx, term, fields)
	require.Error(t, err)
	assert.Equal(t, apperr.KindProvider, apperr.KindOf(err))
	assert.Equal(t, "7", apperr.CodeOf(err))
	assert.Equal(t, "kart dogrulanamadi", apperr.MessageOf(err))
}

func TestModeFollowsTestFlag(t *testing.T) {
	deps, term, _ := testDeps(t)
	adapter := New(deps).(*Adapter)

	assert.Equal(t, "PROD", adapter.mode(term))
	term.TestMode = true
	assert.Equal(t, "test", adapter.mode(term))
	assert.Equal(t, gateTestURL, adapter.gateURL(term))
}
