package iyzico

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emreis/sanalpos/entity"
	"github.com/emreis/sanalpos/infra/apperr"
	"github.com/emreis/sanalpos/infra/codec"
	"github.com/emreis/sanalpos/infra/crypto"
	"github.com/emreis/sanalpos/provider"
)

const (
	apiSandboxURL    = "https://sandbox-api.iyzipay.com"
	apiProductionURL = "https://api.iyzipay.com"

	endpoint3DInit     = "/payment/3dsecure/initialize"
	endpoint3DComplete = "/payment/3dsecure/auth"
	endpointPayment    = "/payment/auth"
	endpointCancel     = "/payment/cancel"
	endpointRefund     = "/payment/refund"
	endpointRetrieve   = "/payment/detail"

	statusSuccess = "success"

	defaultLocale = "tr"
)

// Adapter implements the iyzico aggregator protocol: JSON over HTTPS with the
// IYZWS authorization header computed over the request's PKI string.
type Adapter struct {
	provider.Base
	client *provider.HTTPClient
}

// New creates the iyzico adapter
func New(deps provider.Deps) provider.Provider {
	return &Adapter{
		Base:   provider.NewBase(entity.ProviderIyzico, deps),
		client: provider.NewHTTPClient(provider.HTTPClientConfig{}),
	}
}

func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		ThreeD: true, Direct: true, Refund: true, Cancel: true, Status: true,
	}
}

func (a *Adapter) baseURL(term *entity.Terminal) string {
	if term.TestMode {
		return apiSandboxURL
	}
	return apiProductionURL
}

// Authorization builds the IYZWS header value:
// sha1 over apiKey + randomString + secretKey + pkiString, base64-encoded.
func Authorization(apiKey, secretKey, randomString, pkiString string) string {
	hash := crypto.SHA1PackBase64(apiKey + randomString + secretKey + pkiString)
	return "IYZWS " + apiKey + ":" + hash
}

func pairsToMap(pairs []codec.PKIPair) map[string]any {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		switch v := p.Value.(type) {
		case string:
			if v != "" {
				out[p.Key] = v
			}
		case int:
			out[p.Key] = v
		case []codec.PKIPair:
			if len(v) > 0 {
				out[p.Key] = pairsToMap(v)
			}
		case [][]codec.PKIPair:
			items := make([]map[string]any, 0, len(v))
			for _, item := range v {
				items = append(items, pairsToMap(item))
			}
			out[p.Key] = items
		}
	}
	return out
}

func iyzicoCurrency(c entity.Currency) string {
	return strings.ToUpper(string(c))
}

func (a *Adapter) paymentPairs(tx *entity.Transaction, card entity.Card, threeD bool) ([]codec.PKIPair, error) {
	month, year, err := codec.ParseExpiry(card.Expiry)
	if err != nil {
		return nil, err
	}

	price := codec.FormatAmount2(tx.Amount)
	buyerName := tx.Customer.Name
	buyerSurname := buyerName
	if idx := strings.LastIndex(buyerName, " "); idx > 0 {
		buyerSurname = buyerName[idx+1:]
		buyerName = buyerName[:idx]
	}
	if buyerName == "" {
		buyerName = card.Holder
		buyerSurname = card.Holder
	}

	pairs := []codec.PKIPair{
		{Key: "locale", Value: defaultLocale},
		{Key: "conversationId", Value: tx.ID},
		{Key: "price", Value: price},
		{Key: "paidPrice", Value: price},
		{Key: "installment", Value: tx.Installment},
		{Key: "paymentChannel", Value: "WEB"},
		{Key: "basketId", Value: tx.OrderID},
		{Key: "paymentGroup", Value: "PRODUCT"},
		{Key: "paymentCard", Value: []codec.PKIPair{
			{Key: "cardHolderName", Value: card.Holder},
			{Key: "cardNumber", Value: card.Number},
			{Key: "expireYear", Value: "20" + year},
			{Key: "expireMonth", Value: month},
			{Key: "cvc", Value: card.CVV},
			{Key: "registerCard", Value: 0},
		}},
		{Key: "buyer", Value: []codec.PKIPair{
			{Key: "id", Value: tx.ID},
			{Key: "name", Value: buyerName},
			{Key: "surname", Value: buyerSurname},
			{Key: "gsmNumber", Value: tx.Customer.Phone},
			{Key: "email", Value: tx.Customer.Email},
			{Key: "identityNumber", Value: "74300864791"},
			{Key: "registrationAddress", Value: "N/A"},
			{Key: "ip", Value: tx.Customer.IP},
			{Key: "city", Value: "Istanbul"},
			{Key: "country", Value: "Turkey"},
		}},
		{Key: "shippingAddress", Value: []codec.PKIPair{
			{Key: "address", Value: "N/A"},
			{Key: "contactName", Value: tx.Customer.Name},
			{Key: "city", Value: "Istanbul"},
			{Key: "country", Value: "Turkey"},
		}},
		{Key: "billingAddress", Value: []codec.PKIPair{
			{Key: "address", Value: "N/A"},
			{Key: "contactName", Value: tx.Customer.Name},
			{Key: "city", Value: "Istanbul"},
			{Key: "country", Value: "Turkey"},
		}},
		{Key: "basketItems", Value: [][]codec.PKIPair{{
			{Key: "id", Value: tx.OrderID},
			{Key: "name", Value: "Payment"},
			{Key: "category1", Value: "General"},
			{Key: "itemType", Value: "VIRTUAL"},
			{Key: "price", Value: price},
		}}},
		{Key: "currency", Value: iyzicoCurrency(tx.Currency)},
	}

	if threeD {
		pairs = append(pairs, codec.PKIPair{Key: "callbackUrl", Value: a.CallbackURL(tx.ID)})
	}
	return pairs, nil
}

func (a *Adapter) Initialize(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) error {
	card, err := a.Card(tx)
	if err != nil {
		return err
	}

	if tx.OrderID == "" {
		tx.OrderID = strings.ReplaceAll(uuid.New().String(), "-", "")
	}

	pairs, err := a.paymentPairs(tx, card, true)
	if err != nil {
		return err
	}

	resp, err := a.send(ctx, tx, term, entity.LogInit, endpoint3DInit, pairs)
	if err != nil {
		return err
	}

	if resp["status"] != statusSuccess {
		return apperr.WithCode(apperr.KindProvider, stringValue(resp, "errorCode"), errorMessage(resp))
	}

	htmlContent, _ := resp["threeDSHtmlContent"].(string)
	if htmlContent == "" {
		return apperr.New(apperr.KindProvider, "iyzico: initialize response carried no 3D content")
	}

	tx.Secure = entity.SecureBundle{
		Provider:    entity.ProviderIyzico,
		HTMLContent: htmlContent,
		FormData:    map[string]string{"paymentId": stringValue(resp, "paymentId")},
	}

	return a.Transactions.SaveSecure(ctx, tx)
}

func (a *Adapter) FormHTML(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) (string, error) {
	if tx.Secure.HTMLContent == "" {
		return "", apperr.New(apperr.KindState, "iyzico: transaction has no 3-D form data")
	}

	a.Log(ctx, tx.ID, entity.Log3DForm, nil, nil)

	// the gateway delivers the ACS document base64-encoded
	if decoded, err := base64.StdEncoding.DecodeString(tx.Secure.HTMLContent); err == nil {
		return string(decoded), nil
	}
	return tx.Secure.HTMLContent, nil
}

func (a *Adapter) ProcessCallback(ctx context.Context, tx *entity.Transaction, term *entity.Terminal, fields url.Values) error {
	a.Log(ctx, tx.ID, entity.Log3DCallback, flatten(fields), nil)

	if status := fields.Get("status"); status != statusSuccess {
		code := fields.Get("mdStatus")
		if code == "" {
			code = status
		}
		return apperr.WithCode(apperr.KindProvider, code, "3D verification failed")
	}

	if paymentID := fields.Get("paymentId"); paymentID != "" {
		if tx.Secure.FormData == nil {
			tx.Secure.FormData = map[string]string{}
		}
		tx.Secure.FormData["paymentId"] = paymentID
	}
	tx.Secure.MD = fields.Get("conversationData")
	if err := a.Transactions.SaveSecure(ctx, tx); err != nil {
		return err
	}

	return a.ProcessProvision(ctx, tx, term)
}

func (a *Adapter) ProcessProvision(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) error {
	pairs := []codec.PKIPair{
		{Key: "locale", Value: defaultLocale},
		{Key: "conversationId", Value: tx.ID},
		{Key: "paymentId", Value: tx.Secure.FormData["paymentId"]},
	}
	if tx.Secure.MD != "" {
		pairs = append(pairs, codec.PKIPair{Key: "conversationData", Value: tx.Secure.MD})
	}

	resp, err := a.send(ctx, tx, term, entity.LogProvision, endpoint3DComplete, pairs)
	if err != nil {
		return err
	}

	if resp["status"] != statusSuccess {
		return apperr.WithCode(apperr.KindProvider, stringValue(resp, "errorCode"), errorMessage(resp))
	}

	return a.finalize(ctx, tx, resp)
}

func (a *Adapter) DirectPayment(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) error {
	card, err := a.Card(tx)
	if err != nil {
		return err
	}

	if tx.OrderID == "" {
		tx.OrderID = strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	tx.Secure.Provider = entity.ProviderIyzico

	pairs, err := a.paymentPairs(tx, card, false)
	if err != nil {
		return err
	}

	resp, err := a.send(ctx, tx, term, entity.LogProvision, endpointPayment, pairs)
	if err != nil {
		return err
	}

	if resp["status"] != statusSuccess {
		return apperr.WithCode(apperr.KindProvider, stringValue(resp, "errorCode"), errorMessage(resp))
	}

	return a.finalize(ctx, tx, resp)
}

func (a *Adapter) Refund(ctx context.Context, tx, original *entity.Transaction, term *entity.Terminal) error {
	transactionID := ""
	if original.Result != nil {
		transactionID = original.Result.RefNumber
	}

	pairs := []codec.PKIPair{
		{Key: "locale", Value: defaultLocale},
		{Key: "conversationId", Value: tx.ID},
		{Key: "paymentTransactionId", Value: transactionID},
		{Key: "price", Value: codec.FormatAmount2(tx.Amount)},
		{Key: "ip", Value: original.Customer.IP},
		{Key: "currency", Value: iyzicoCurrency(original.Currency)},
	}

	resp, err := a.send(ctx, tx, term, entity.LogRefund, endpointRefund, pairs)
	if err != nil {
		return err
	}
	if resp["status"] != statusSuccess {
		return apperr.WithCode(apperr.KindProvider, stringValue(resp, "errorCode"), errorMessage(resp))
	}

	tx.OrderID = original.OrderID
	return a.finalize(ctx, tx, resp)
}

func (a *Adapter) Cancel(ctx context.Context, tx, original *entity.Transaction, term *entity.Terminal) error {
	paymentID := original.Secure.FormData["paymentId"]

	pairs := []codec.PKIPair{
		{Key: "locale", Value: defaultLocale},
		{Key: "conversationId", Value: tx.ID},
		{Key: "paymentId", Value: paymentID},
		{Key: "ip", Value: original.Customer.IP},
	}

	resp, err := a.send(ctx, tx, term, entity.LogCancel, endpointCancel, pairs)
	if err != nil {
		return err
	}
	if resp["status"] != statusSuccess {
		return apperr.WithCode(apperr.KindProvider, stringValue(resp, "errorCode"), errorMessage(resp))
	}

	tx.OrderID = original.OrderID
	return a.finalize(ctx, tx, resp)
}

func (a *Adapter) Status(ctx context.Context, term *entity.Terminal, orderID string) (map[string]string, error) {
	pairs := []codec.PKIPair{
		{Key: "locale", Value: defaultLocale},
		{Key: "conversationId", Value: uuid.New().String()},
		{Key: "paymentId", Value: orderID},
	}

	resp, err := a.request(ctx, term, endpointRetrieve, pairs)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"status":        stringValue(resp, "status"),
		"paymentStatus": stringValue(resp, "paymentStatus"),
		"paymentId":     stringValue(resp, "paymentId"),
		"errorCode":     stringValue(resp, "errorCode"),
		"errorMessage":  stringValue(resp, "errorMessage"),
	}, nil
}

func (a *Adapter) History(ctx context.Context, term *entity.Terminal, orderID string) (map[string]string, error) {
	return nil, a.NotSupported("order history")
}

func (a *Adapter) PreAuth(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) error {
	return a.NotSupported("pre-authorization")
}

func (a *Adapter) PostAuth(ctx context.Context, tx, preAuthTx *entity.Transaction, term *entity.Terminal) error {
	return a.NotSupported("post-authorization")
}

func (a *Adapter) send(ctx context.Context, tx *entity.Transaction, term *entity.Terminal, logType entity.LogType, endpoint string, pairs []codec.PKIPair) (map[string]any, error) {
	resp, err := a.request(ctx, term, endpoint, pairs)
	if err != nil {
		a.Log(ctx, tx.ID, entity.LogError, map[string]string{"endpoint": endpoint}, err.Error())
		return nil, err
	}

	a.Log(ctx, tx.ID, logType, map[string]string{"endpoint": endpoint}, map[string]string{
		"status":       stringValue(resp, "status"),
		"errorCode":    stringValue(resp, "errorCode"),
		"errorMessage": stringValue(resp, "errorMessage"),
		"paymentId":    stringValue(resp, "paymentId"),
	})
	return resp, nil
}

func (a *Adapter) request(ctx context.Context, term *entity.Terminal, endpoint string, pairs []codec.PKIPair) (map[string]any, error) {
	creds, err := a.Credentials(term)
	if err != nil {
		return nil, err
	}
	apiKey := creds.MerchantID
	secretKey := creds.SecretKey

	body, err := json.Marshal(pairsToMap(pairs))
	if err != nil {
		return nil, err
	}

	randomString := strconv.FormatInt(time.Now().UnixNano()/int64(time.Millisecond), 10)
	headers := map[string]string{
		"Accept":        "application/json",
		"Authorization": Authorization(apiKey, secretKey, randomString, codec.PKIString(pairs)),
		"x-iyzi-rnd":    randomString,
	}

	raw, err := a.client.PostJSON(ctx, a.baseURL(term)+endpoint, body, headers)
	if err != nil {
		return nil, err
	}

	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, apperr.Wrap(apperr.KindProvider, err, "iyzico: malformed response")
	}
	return resp, nil
}

func (a *Adapter) finalize(ctx context.Context, tx *entity.Transaction, resp map[string]any) error {
	now := time.Now().UTC()
	tx.Status = entity.StatusSuccess
	tx.CompletedAt = &now
	tx.Result = &entity.Result{
		Success:   true,
		Code:      stringValue(resp, "phase"),
		Message:   "Payment successful",
		AuthCode:  stringValue(resp, "authCode"),
		RefNumber: stringValue(resp, "paymentId"),
	}

	if err := a.Transactions.SaveSecure(ctx, tx); err != nil {
		return err
	}
	return a.Transactions.ClearCVV(ctx, tx.ID)
}

func stringValue(resp map[string]any, key string) string {
	switch v := resp[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func errorMessage(resp map[string]any) string {
	if msg := stringValue(resp, "errorMessage"); msg != "" {
		return msg
	}
	return "payment failed"
}

func flatten(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for k := range values {
		out[k] = values.Get(k)
	}
	return out
}
