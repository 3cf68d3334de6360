package qnb

import (
	"context"
	"fmt"
	"net/url"
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
	gateTestURL = "https://vpostest.qnbfinansbank.com/Gateway/Default.aspx"
	gateProdURL = "https://vpos.qnbfinansbank.com/Gateway/Default.aspx"
	apiTestURL  = "https://vpostest.qnbfinansbank.com/Gateway/XmlGate.aspx"
	apiProdURL  = "https://vpos.qnbfinansbank.com/Gateway/XmlGate.aspx"

	mbrID = "5"

	txnAuth    = "Auth"
	txnPreAuth = "PreAuth"
	txnPostAuth = "PostAuth"
	txnVoid    = "Void"
	txnRefund  = "Refund"
	txnInquiry = "OrderInquiry"

	secure3DModel = "3DModelPayment"
	secureNon     = "NonSecure"
)

// accepted3DStatuses is the 3DStatus set QNB treats as verified
var accepted3DStatuses = map[string]bool{"1": true}

// Adapter implements the QNB Finansbank PayFor protocol
type Adapter struct {
	provider.Base
	client *provider.HTTPClient
}

// New creates the QNB adapter
func New(deps provider.Deps) provider.Provider {
	return &Adapter{
		Base:   provider.NewBase(entity.ProviderQNB, deps),
		client: provider.NewHTTPClient(provider.HTTPClientConfig{}),
	}
}

func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		ThreeD: true, Direct: true, Refund: true, Cancel: true,
		Status: true, PreAuth: true, PostAuth: true,
	}
}

func (a *Adapter) gateURL(term *entity.Terminal) string {
	if term.TestMode {
		return gateTestURL
	}
	return gateProdURL
}

func (a *Adapter) apiURL(term *entity.Terminal) string {
	if term.TestMode {
		return apiTestURL
	}
	return apiProdURL
}

// microtimeRnd renders the historical PHP microtime shape the gateway
// validated against: "<fractional>.<8 digits> <unix seconds>".
func microtimeRnd() string {
	now := time.Now()
	return fmt.Sprintf("0.%08d %d", now.Nanosecond()/10, now.Unix())
}

// requestHash signs the 3-D form: base64 over the sha1 digest bytes of
// MbrId + orderId + amount + okUrl + failUrl + txnType + installment + rnd +
// merchant password.
func requestHash(orderID, amount, okURL, failURL, installment, rnd, password string) string {
	return crypto.SHA1PackBase64(mbrID + orderID + amount + okURL + failURL + txnAuth + installment + rnd + password)
}

func installmentCode(count int) string {
	if count <= 1 {
		return "0"
	}
	return fmt.Sprintf("%d", count)
}

func (a *Adapter) Initialize(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) error {
	creds, err := a.Credentials(term)
	if err != nil {
		return err
	}

	if tx.OrderID == "" {
		tx.OrderID = strings.ReplaceAll(uuid.New().String(), "-", "")
	}

	amount := codec.FormatAmount2(tx.Amount)
	installment := installmentCode(tx.Installment)
	callback := a.CallbackURL(tx.ID)
	rnd := microtimeRnd()

	tx.Secure = entity.SecureBundle{
		Provider: entity.ProviderQNB,
		FormData: map[string]string{
			"MbrId":            mbrID,
			"MerchantId":       creds.MerchantID,
			"OrderId":          tx.OrderID,
			"SecureType":       secure3DModel,
			"TxnType":          txnAuth,
			"PurchAmount":      amount,
			"Currency":         provider.NumericCurrencyCode(tx.Currency),
			"InstallmentCount": installment,
			"OkUrl":            callback,
			"FailUrl":          callback,
			"Rnd":              rnd,
			"Hash":             requestHash(tx.OrderID, amount, callback, callback, installment, rnd, creds.Password),
			"Lang":             "tr",
		},
	}

	a.Log(ctx, tx.ID, entity.LogInit, map[string]string{
		"orderId": tx.OrderID, "purchAmount": amount, "rnd": rnd,
	}, nil)

	return a.Transactions.SaveSecure(ctx, tx)
}

var formFieldOrder = []string{
	"MbrId", "MerchantId", "OrderId", "SecureType", "TxnType",
	"PurchAmount", "Currency", "InstallmentCount", "OkUrl", "FailUrl",
	"Rnd", "Hash", "Lang",
}

func (a *Adapter) FormHTML(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) (string, error) {
	if len(tx.Secure.FormData) == 0 {
		return "", apperr.New(apperr.KindState, "qnb: transaction has no 3-D form data")
	}

	card, err := a.Card(tx)
	if err != nil {
		return "", err
	}
	month, year, err := codec.ParseExpiry(card.Expiry)
	if err != nil {
		return "", err
	}

	fields := make([]codec.FormPair, 0, len(formFieldOrder)+3)
	for _, key := range formFieldOrder {
		if v, ok := tx.Secure.FormData[key]; ok {
			fields = append(fields, codec.FormPair{Key: key, Value: v})
		}
	}
	fields = append(fields,
		codec.FormPair{Key: "Pan", Value: card.Number},
		codec.FormPair{Key: "Expiry", Value: month + year},
		codec.FormPair{Key: "Cvv2", Value: card.CVV},
	)

	a.Log(ctx, tx.ID, entity.Log3DForm, map[string]string{"gate": a.gateURL(term)}, nil)

	return provider.AutoSubmitForm(a.gateURL(term), fields), nil
}

func (a *Adapter) ProcessCallback(ctx context.Context, tx *entity.Transaction, term *entity.Terminal, fields url.Values) error {
	a.Log(ctx, tx.ID, entity.Log3DCallback, flatten(fields), nil)

	threeDStatus := fields.Get("3DStatus")
	if !accepted3DStatuses[threeDStatus] {
		message := fields.Get("ErrMsg")
		if message == "" {
			message = "3D verification failed"
		}
		return apperr.WithCode(apperr.KindProvider, threeDStatus, message)
	}

	if tx.Secure.FormData == nil {
		tx.Secure.FormData = map[string]string{}
	}
	tx.Secure.FormData["requestGuid"] = fields.Get("RequestGuid")
	tx.Secure.FormData["paymentId"] = fields.Get("PaymentId")
	tx.Secure.MD = fields.Get("MD")
	tx.Secure.ECI = fields.Get("Eci")
	tx.Secure.CAVV = fields.Get("Cavv")
	if err := a.Transactions.SaveSecure(ctx, tx); err != nil {
		return err
	}

	return a.ProcessProvision(ctx, tx, term)
}

func (a *Adapter) ProcessProvision(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) error {
	creds, err := a.Credentials(term)
	if err != nil {
		return err
	}

	pairs := []codec.FormPair{
		{Key: "MbrId", Value: mbrID},
		{Key: "MerchantId", Value: creds.MerchantID},
		{Key: "UserCode", Value: creds.Username},
		{Key: "UserPass", Value: creds.Password},
		{Key: "OrderId", Value: tx.OrderID},
		{Key: "SecureType", Value: secure3DModel},
		{Key: "TxnType", Value: txnAuth},
		{Key: "PurchAmount", Value: codec.FormatAmount2(tx.Amount)},
		{Key: "Currency", Value: provider.NumericCurrencyCode(tx.Currency)},
		{Key: "InstallmentCount", Value: installmentCode(tx.Installment)},
		{Key: "RequestGuid", Value: tx.Secure.FormData["requestGuid"]},
		{Key: "PaymentId", Value: tx.Secure.FormData["paymentId"]},
	}

	resp, err := a.send(ctx, tx, term, entity.LogProvision, pairs)
	if err != nil {
		return err
	}

	if resp["ProcReturnCode"] != "00" {
		return apperr.WithCode(apperr.KindProvider, resp["ProcReturnCode"], denialMessage(resp))
	}

	return a.finalize(ctx, tx, resp)
}

func (a *Adapter) DirectPayment(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) error {
	return a.cardPayment(ctx, tx, term, txnAuth, entity.LogProvision)
}

func (a *Adapter) PreAuth(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) error {
	return a.cardPayment(ctx, tx, term, txnPreAuth, entity.LogPreAuth)
}

func (a *Adapter) cardPayment(ctx context.Context, tx *entity.Transaction, term *entity.Terminal, txnType string, logType entity.LogType) error {
	creds, err := a.Credentials(term)
	if err != nil {
		return err
	}
	card, err := a.Card(tx)
	if err != nil {
		return err
	}
	month, year, err := codec.ParseExpiry(card.Expiry)
	if err != nil {
		return err
	}

	if tx.OrderID == "" {
		tx.OrderID = strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	tx.Secure.Provider = entity.ProviderQNB

	pairs := []codec.FormPair{
		{Key: "MbrId", Value: mbrID},
		{Key: "MerchantId", Value: creds.MerchantID},
		{Key: "UserCode", Value: creds.Username},
		{Key: "UserPass", Value: creds.Password},
		{Key: "OrderId", Value: tx.OrderID},
		{Key: "SecureType", Value: secureNon},
		{Key: "TxnType", Value: txnType},
		{Key: "PurchAmount", Value: codec.FormatAmount2(tx.Amount)},
		{Key: "Currency", Value: provider.NumericCurrencyCode(tx.Currency)},
		{Key: "InstallmentCount", Value: installmentCode(tx.Installment)},
		{Key: "Pan", Value: card.Number},
		{Key: "Expiry", Value: month + year},
		{Key: "Cvv2", Value: card.CVV},
		{Key: "MOTO", Value: "0"},
	}

	resp, err := a.send(ctx, tx, term, logType, pairs)
	if err != nil {
		return err
	}

	if resp["ProcReturnCode"] != "00" {
		return apperr.WithCode(apperr.KindProvider, resp["ProcReturnCode"], denialMessage(resp))
	}

	return a.finalize(ctx, tx, resp)
}

func (a *Adapter) PostAuth(ctx context.Context, tx, preAuthTx *entity.Transaction, term *entity.Terminal) error {
	creds, err := a.Credentials(term)
	if err != nil {
		return err
	}

	tx.OrderID = preAuthTx.OrderID
	pairs := []codec.FormPair{
		{Key: "MbrId", Value: mbrID},
		{Key: "MerchantId", Value: creds.MerchantID},
		{Key: "UserCode", Value: creds.Username},
		{Key: "UserPass", Value: creds.Password},
		{Key: "OrgOrderId", Value: preAuthTx.OrderID},
		{Key: "SecureType", Value: secureNon},
		{Key: "TxnType", Value: txnPostAuth},
		{Key: "PurchAmount", Value: codec.FormatAmount2(tx.Amount)},
		{Key: "Currency", Value: provider.NumericCurrencyCode(tx.Currency)},
	}

	resp, err := a.send(ctx, tx, term, entity.LogPostAuth, pairs)
	if err != nil {
		return err
	}
	if resp["ProcReturnCode"] != "00" {
		return apperr.WithCode(apperr.KindProvider, resp["ProcReturnCode"], denialMessage(resp))
	}

	return a.finalize(ctx, tx, resp)
}

func (a *Adapter) Refund(ctx context.Context, tx, original *entity.Transaction, term *entity.Terminal) error {
	return a.reversal(ctx, tx, original, term, txnRefund, entity.LogRefund)
}

func (a *Adapter) Cancel(ctx context.Context, tx, original *entity.Transaction, term *entity.Terminal) error {
	return a.reversal(ctx, tx, original, term, txnVoid, entity.LogCancel)
}

func (a *Adapter) reversal(ctx context.Context, tx, original *entity.Transaction, term *entity.Terminal, txnType string, logType entity.LogType) error {
	creds, err := a.Credentials(term)
	if err != nil {
		return err
	}

	pairs := []codec.FormPair{
		{Key: "MbrId", Value: mbrID},
		{Key: "MerchantId", Value: creds.MerchantID},
		{Key: "UserCode", Value: creds.Username},
		{Key: "UserPass", Value: creds.Password},
		{Key: "OrgOrderId", Value: original.OrderID},
		{Key: "SecureType", Value: secureNon},
		{Key: "TxnType", Value: txnType},
		{Key: "Currency", Value: provider.NumericCurrencyCode(original.Currency)},
	}
	if txnType == txnRefund {
		pairs = append(pairs, codec.FormPair{Key: "PurchAmount", Value: codec.FormatAmount2(tx.Amount)})
	}

	resp, err := a.send(ctx, tx, term, logType, pairs)
	if err != nil {
		return err
	}
	if resp["ProcReturnCode"] != "00" {
		return apperr.WithCode(apperr.KindProvider, resp["ProcReturnCode"], denialMessage(resp))
	}

	tx.OrderID = original.OrderID
	return a.finalize(ctx, tx, resp)
}

func (a *Adapter) Status(ctx context.Context, term *entity.Terminal, orderID string) (map[string]string, error) {
	creds, err := a.Credentials(term)
	if err != nil {
		return nil, err
	}

	pairs := []codec.FormPair{
		{Key: "MbrId", Value: mbrID},
		{Key: "MerchantId", Value: creds.MerchantID},
		{Key: "UserCode", Value: creds.Username},
		{Key: "UserPass", Value: creds.Password},
		{Key: "OrgOrderId", Value: orderID},
		{Key: "SecureType", Value: "Inquiry"},
		{Key: "TxnType", Value: txnInquiry},
		{Key: "Lang", Value: "tr"},
	}

	raw, err := a.client.PostForm(ctx, a.apiURL(term), codec.FormURLEncode(pairs), nil)
	if err != nil {
		return nil, err
	}
	return ParseSemicolonPairs(string(raw)), nil
}

func (a *Adapter) History(ctx context.Context, term *entity.Terminal, orderID string) (map[string]string, error) {
	return nil, a.NotSupported("order history")
}

// ParseSemicolonPairs decodes the gateway's "k=v;;k=v" response encoding
func ParseSemicolonPairs(body string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(strings.TrimSpace(body), ";;") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		}
	}
	return out
}

func (a *Adapter) send(ctx context.Context, tx *entity.Transaction, term *entity.Terminal, logType entity.LogType, pairs []codec.FormPair) (map[string]string, error) {
	raw, err := a.client.PostForm(ctx, a.apiURL(term), codec.FormURLEncode(pairs), nil)
	if err != nil {
		a.Log(ctx, tx.ID, entity.LogError, loggablePairs(pairs), err.Error())
		return nil, err
	}

	resp := ParseSemicolonPairs(string(raw))
	a.Log(ctx, tx.ID, logType, loggablePairs(pairs), map[string]string{
		"procReturnCode": resp["ProcReturnCode"],
		"authCode":       resp["AuthCode"],
		"errMsg":         resp["ErrMsg"],
	})
	return resp, nil
}

func (a *Adapter) finalize(ctx context.Context, tx *entity.Transaction, resp map[string]string) error {
	now := time.Now().UTC()
	tx.Status = entity.StatusSuccess
	tx.CompletedAt = &now
	tx.Result = &entity.Result{
		Success:   true,
		Code:      resp["ProcReturnCode"],
		Message:   resp["ErrMsg"],
		AuthCode:  resp["AuthCode"],
		RefNumber: resp["HostRefNum"],
	}

	if err := a.Transactions.SaveSecure(ctx, tx); err != nil {
		return err
	}
	return a.Transactions.ClearCVV(ctx, tx.ID)
}

func denialMessage(resp map[string]string) string {
	if resp["ErrMsg"] != "" {
		return resp["ErrMsg"]
	}
	return "transaction declined"
}

func loggablePairs(pairs []codec.FormPair) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		switch p.Key {
		case "Pan", "Cvv2", "Expiry", "UserPass":
			continue
		}
		out[p.Key] = p.Value
	}
	return out
}

func flatten(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for k := range values {
		out[k] = values.Get(k)
	}
	return out
}
