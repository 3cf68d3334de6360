package payten

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emreis/sanalpos/entity"
	"github.com/emreis/sanalpos/infra/apperr"
	"github.com/emreis/sanalpos/infra/crypto"
	"github.com/emreis/sanalpos/provider"
	"github.com/emreis/sanalpos/store"
)

func TestHashVer3Golden(t *testing.T) {
	params := map[string]string{
		"clientid": "100200127",
		"oid":      "ORD|1",
		"amount":   "150.00",
		"rnd":      "rand123",
		"HASH":     "x",
		"Encoding": "utf-8",
	}

	got := hashVer3(params, "TEST1234")
	assert.Equal(t, "c1k/ffHod34Lvoix5lbuRQscapLX6VnlQDC/EtotNviWSdiP2Cnfz+4wn2/NuoLxQqRrEYhexhH3JbLQ0qdQQg==", got)
}

func TestEscapeVer3(t *testing.T) {
	assert.Equal(t, "a\\|b", escapeVer3("a|b"))
	assert.Equal(t, "a\\\\b", escapeVer3("a\\b"))
}

func testDeps(t *testing.T, apiURL string) (provider.Deps, *entity.Terminal, *entity.Transaction) {
	t.Helper()
	cipher := crypto.NewFieldCipher("test-key")
	terminals := store.NewMemoryTerminalStore(cipher)
	transactions := store.NewMemoryTransactionStore(cipher)

	term := &entity.Terminal{
		Company:    "acme",
		Name:       "halkbank nestpay",
		BankCode:   entity.BankHalkbank,
		Provider:   entity.ProviderPayten,
		Currencies: []entity.Currency{entity.CurrencyTRY},
		Status:     true,
		Credentials: entity.Credentials{
			MerchantID: "100200127",
			Username:   "apiuser",
			Password:   "apipass",
		},
		ThreeD: entity.ThreeDConfig{Enabled: true, StoreKey: "TEST1234"},
	}
	if apiURL != "" {
		term.Credentials.Extra = fmt.Sprintf(`{"apiUrl":%q}`, apiURL)
	}
	require.NoError(t, terminals.Create(context.Background(), term))

	tx := &entity.Transaction{
		ID:          "tx-payten-1",
		TerminalID:  term.ID,
		Company:     "acme",
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

func TestInitializeAndForm(t *testing.T) {
	deps, term, tx := testDeps(t, "")
	adapter := New(deps).(*Adapter)

	require.NoError(t, adapter.Initialize(context.Background(), tx, term))

	stored, _ := deps.Transactions.FindByID(context.Background(), tx.ID)
	form := stored.Secure.FormData
	assert.Equal(t, "100200127", form["clientid"])
	assert.Equal(t, "3d_pay", form["storetype"])
	assert.Equal(t, "ver3", form["hashAlgorithm"])
	assert.Equal(t, "150.00", form["amount"])
	assert.NotEmpty(t, form["oid"])
	assert.NotEmpty(t, form["rnd"])

	doc, err := adapter.FormHTML(context.Background(), tx, term)
	require.NoError(t, err)
	assert.Contains(t, doc, `name="pan" value="4282209004348016"`)
	assert.Contains(t, doc, `name="HASH"`)
	assert.Contains(t, doc, gateProdURL)
}

func TestCallbackRejectsBadMDStatus(t *testing.T) {
	deps, term, tx := testDeps(t, "")
	adapter := New(deps).(*Adapter)
	require.NoError(t, adapter.Initialize(context.Background(), tx, term))

	fields := url.Values{}
	fields.Set("mdStatus", "0")
	fields.Set("mdErrorMsg", "dogrulama basarisiz")

	err := adapter.ProcessCallback(context.Background(), tx, term, fields)
	require.Error(t, err)
	assert.Equal(t, apperr.KindProvider, apperr.KindOf(err))
	assert.Equal(t, "0", apperr.CodeOf(err))
}

func TestAcceptedMDStatusesOverride(t *testing.T) {
	deps, term, _ := testDeps(t, "")
	adapter := New(deps).(*Adapter)

	assert.Equal(t, map[string]bool{"1": true}, adapter.acceptedMDStatuses(term))

	term.ThreeD.AcceptedMDStatuses = []string{"1", "2", "3", "4"}
	accepted := adapter.acceptedMDStatuses(term)
	assert.True(t, accepted["2"])
	assert.True(t, accepted["4"])
}

func TestProvisionDenialCarriesBankDiagnostics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.NotEmpty(t, r.PostForm.Get("DATA"))
		w.Write([]byte(`<CC5Response><Response>Error</Response><ProcReturnCode>12</ProcReturnCode><ErrMsg>Red-Kart hatali</ErrMsg></CC5Response>`))
	}))
	defer server.Close()

	deps, term, tx := testDeps(t, server.URL)
	adapter := New(deps).(*Adapter)
	require.NoError(t, adapter.Initialize(context.Background(), tx, term))

	tx.Secure.MD = "md-value"
	err := adapter.ProcessProvision(context.Background(), tx, term)
	require.Error(t, err)
	assert.Equal(t, apperr.KindProvider, apperr.KindOf(err))
	assert.Equal(t, "12", apperr.CodeOf(err))
	assert.Equal(t, "Red-Kart hatali", apperr.MessageOf(err))
}

func TestProvisionApproval(t *testing.T) {
	var sentXML string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		sentXML = r.PostForm.Get("DATA")
		w.Write([]byte(`<CC5Response><Response>Approved</Response><ProcReturnCode>00</ProcReturnCode><AuthCode>A12345</AuthCode><HostRefNum>REF678</HostRefNum></CC5Response>`))
	}))
	defer server.Close()

	deps, term, tx := testDeps(t, server.URL)
	adapter := New(deps).(*Adapter)
	require.NoError(t, adapter.Initialize(context.Background(), tx, term))

	tx.Secure.MD = "md-value"
	tx.Secure.XID = "xid-value"
	tx.Secure.ECI = "05"
	tx.Secure.CAVV = "cavv-value"
	require.NoError(t, adapter.ProcessProvision(context.Background(), tx, term))

	// the 3D completion request carries the verification triplet, never a
	// card number and never the MD token in the Number field
	assert.NotContains(t, sentXML, "<Number>")
	assert.Contains(t, sentXML, "<PayerTxnId>xid-value</PayerTxnId>")
	assert.Contains(t, sentXML, "<PayerSecurityLevel>05</PayerSecurityLevel>")
	assert.Contains(t, sentXML, "<PayerAuthenticationCode>cavv-value</PayerAuthenticationCode>")

	stored, _ := deps.Transactions.FindByID(context.Background(), tx.ID)
	assert.Equal(t, entity.StatusSuccess, stored.Status)
	require.NotNil(t, stored.Result)
	assert.True(t, stored.Result.Success)
	assert.Equal(t, "A12345", stored.Result.AuthCode)
	assert.Equal(t, "REF678", stored.Result.RefNumber)
	assert.Empty(t, stored.Card.CVV, "cvv is cleared on success")
	assert.NotNil(t, stored.CompletedAt)
}
