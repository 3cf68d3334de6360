package garanti

import (
	"context"
	"encoding/xml"
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
	gateTestURL = "https://sanalposprovtest.garanti.com.tr/servlet/gt3dengine"
	gateProdURL = "https://sanalposprov.garanti.com.tr/servlet/gt3dengine"
	apiTestURL  = "https://sanalposprovtest.garanti.com.tr/VPServlet"
	apiProdURL  = "https://sanalposprov.garanti.com.tr/VPServlet"

	apiVersion = "512"

	txnSales    = "sales"
	txnRefund   = "refund"
	txnVoid     = "void"
	txnPreAuth  = "preauth"
	txnPostAuth = "postauth"
	txnInquiry  = "orderinq"
	txnHistory  = "orderhistoryinq"

	// cardholder present codes: 0 direct, 13 3-D secured
	presentCodeDirect = "0"
	presentCode3D     = "13"
)

// accepted3DStatuses is the mdstatus set Garanti treats as fully verified
var accepted3DStatuses = map[string]bool{"1": true}

// Adapter implements the Garanti virtual POS protocol, API version 512
type Adapter struct {
	provider.Base
	client *provider.HTTPClient
}

// New creates the Garanti adapter
func New(deps provider.Deps) provider.Provider {
	return &Adapter{
		Base:   provider.NewBase(entity.ProviderGaranti, deps),
		client: provider.NewHTTPClient(provider.HTTPClientConfig{}),
	}
}

func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		ThreeD: true, Direct: true, Refund: true, Cancel: true,
		Status: true, History: true, PreAuth: true, PostAuth: true,
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

func (a *Adapter) mode(term *entity.Terminal) string {
	if term.TestMode {
		return "test"
	}
	return "PROD"
}

// hashedPassword is the inner hash of the Garanti chain:
// upper(sha1(password + "0" + terminalId))
func hashedPassword(password, terminalID string) string {
	return crypto.SHA1HexUpper(password + "0" + terminalID)
}

// secure3DHash signs the 3-D form per the v512 contract
func secure3DHash(terminalID, orderID, amount, currency, successURL, errorURL, installment, storeKey, hp string) string {
	return crypto.SHA512HexUpper(terminalID + orderID + amount + currency + successURL + errorURL + txnSales + installment + storeKey + hp)
}

// provisionHash signs the API request; cardNumber stays empty for 3-D completion
func provisionHash(orderID, terminalID, cardNumber, amount, currency, hp string) string {
	return crypto.SHA512HexUpper(orderID + terminalID + cardNumber + amount + currency + hp)
}

func (a *Adapter) Initialize(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) error {
	creds, err := a.Credentials(term)
	if err != nil {
		return err
	}

	if tx.OrderID == "" {
		tx.OrderID = strings.ReplaceAll(uuid.New().String(), "-", "")
	}

	amount := codec.FormatAmountCents(tx.Amount)
	currency := provider.NumericCurrencyCode(tx.Currency)
	installment := codec.InstallmentOrEmpty(tx.Installment)
	callback := a.CallbackURL(tx.ID)

	hp := hashedPassword(creds.Password, creds.TerminalID)
	hash := secure3DHash(creds.TerminalID, tx.OrderID, amount, currency, callback, callback, installment, creds.StoreKey, hp)

	tx.Secure = entity.SecureBundle{
		Provider: entity.ProviderGaranti,
		FormData: map[string]string{
			"mode":                  a.mode(term),
			"apiversion":            apiVersion,
			"secure3dsecuritylevel": "3D",
			"terminalprovuserid":    creds.Username,
			"terminaluserid":        creds.Username,
			"terminalmerchantid":    creds.MerchantID,
			"terminalid":            creds.TerminalID,
			"orderid":               tx.OrderID,
			"txntype":               txnSales,
			"txnamount":             amount,
			"txncurrencycode":       currency,
			"txninstallmentcount":   installment,
			"successurl":            callback,
			"errorurl":              callback,
			"customeremailaddress":  tx.Customer.Email,
			"customeripaddress":     tx.Customer.IP,
			"secure3dhash":          hash,
		},
	}

	a.Log(ctx, tx.ID, entity.LogInit, map[string]string{
		"orderid": tx.OrderID, "txnamount": amount, "secure3dhash": hash,
	}, nil)

	return a.Transactions.SaveSecure(ctx, tx)
}

// formFieldOrder fixes the field order of the gate form
var formFieldOrder = []string{
	"mode", "apiversion", "secure3dsecuritylevel",
	"terminalprovuserid", "terminaluserid", "terminalmerchantid", "terminalid",
	"orderid", "txntype", "txnamount", "txncurrencycode", "txninstallmentcount",
	"successurl", "errorurl", "customeremailaddress", "customeripaddress",
	"secure3dhash",
}

func (a *Adapter) FormHTML(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) (string, error) {
	if len(tx.Secure.FormData) == 0 {
		return "", apperr.New(apperr.KindState, "garanti: transaction has no 3-D form data")
	}

	card, err := a.Card(tx)
	if err != nil {
		return "", err
	}
	month, year, err := codec.ParseExpiry(card.Expiry)
	if err != nil {
		return "", err
	}

	fields := make([]codec.FormPair, 0, len(formFieldOrder)+4)
	for _, key := range formFieldOrder {
		if v, ok := tx.Secure.FormData[key]; ok {
			fields = append(fields, codec.FormPair{Key: key, Value: v})
		}
	}
	fields = append(fields,
		codec.FormPair{Key: "cardnumber", Value: card.Number},
		codec.FormPair{Key: "cardexpiredatemonth", Value: month},
		codec.FormPair{Key: "cardexpiredateyear", Value: year},
		codec.FormPair{Key: "cardcvv2", Value: card.CVV},
	)

	a.Log(ctx, tx.ID, entity.Log3DForm, map[string]string{"gate": a.gateURL(term)}, nil)

	return provider.AutoSubmitForm(a.gateURL(term), fields), nil
}

func (a *Adapter) ProcessCallback(ctx context.Context, tx *entity.Transaction, term *entity.Terminal, fields url.Values) error {
	mdStatus := fields.Get("mdstatus")

	a.Log(ctx, tx.ID, entity.Log3DCallback, flatten(fields), nil)

	if !accepted3DStatuses[mdStatus] {
		message := fields.Get("mderrormessage")
		if message == "" {
			message = "3D verification failed"
		}
		return apperr.WithCode(apperr.KindProvider, mdStatus, message)
	}

	tx.Secure.MD = fields.Get("md")
	tx.Secure.ECI = fields.Get("eci")
	tx.Secure.CAVV = fields.Get("cavv")
	tx.Secure.XID = fields.Get("xid")
	if err := a.Transactions.SaveSecure(ctx, tx); err != nil {
		return err
	}

	return a.ProcessProvision(ctx, tx, term)
}

type terminalNode struct {
	ProvUserID string `xml:"ProvUserID"`
	HashData   string `xml:"HashData"`
	UserID     string `xml:"UserID"`
	ID         string `xml:"ID"`
	MerchantID string `xml:"MerchantID"`
}

type customerNode struct {
	IPAddress    string `xml:"IPAddress"`
	EmailAddress string `xml:"EmailAddress"`
}

type cardNode struct {
	Number     string `xml:"Number"`
	ExpireDate string `xml:"ExpireDate"`
	CVV2       string `xml:"CVV2"`
}

type orderNode struct {
	OrderID string `xml:"OrderID"`
}

type secure3DNode struct {
	AuthenticationCode string `xml:"AuthenticationCode"`
	SecurityLevel      string `xml:"SecurityLevel"`
	TxnID              string `xml:"TxnID"`
	Md                 string `xml:"Md"`
}

type transactionNode struct {
	Type                  string        `xml:"Type"`
	InstallmentCnt        string        `xml:"InstallmentCnt"`
	Amount                string        `xml:"Amount,omitempty"`
	CurrencyCode          string        `xml:"CurrencyCode,omitempty"`
	CardholderPresentCode string        `xml:"CardholderPresentCode"`
	MotoInd               string        `xml:"MotoInd"`
	OriginalRetrefNum     string        `xml:"OriginalRetrefNum,omitempty"`
	Secure3D              *secure3DNode `xml:"Secure3D,omitempty"`
}

type gvpsRequest struct {
	XMLName     xml.Name        `xml:"GVPSRequest"`
	Mode        string          `xml:"Mode"`
	Version     string          `xml:"Version"`
	Terminal    terminalNode    `xml:"Terminal"`
	Customer    customerNode    `xml:"Customer"`
	Card        cardNode        `xml:"Card"`
	Order       orderNode       `xml:"Order"`
	Transaction transactionNode `xml:"Transaction"`
}

type gvpsResponse struct {
	XMLName     xml.Name `xml:"GVPSResponse"`
	Transaction struct {
		Response struct {
			Source     string `xml:"Source"`
			Code       string `xml:"Code"`
			ReasonCode string `xml:"ReasonCode"`
			Message    string `xml:"Message"`
			ErrorMsg   string `xml:"ErrorMsg"`
			SysErrMsg  string `xml:"SysErrMsg"`
		} `xml:"Response"`
		RetrefNum string `xml:"RetrefNum"`
		AuthCode  string `xml:"AuthCode"`
	} `xml:"Transaction"`
}

func (a *Adapter) ProcessProvision(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) error {
	creds, err := a.Credentials(term)
	if err != nil {
		return err
	}

	amount := codec.FormatAmountCents(tx.Amount)
	currency := provider.NumericCurrencyCode(tx.Currency)
	hp := hashedPassword(creds.Password, creds.TerminalID)

	req := gvpsRequest{
		Mode:    a.mode(term),
		Version: apiVersion,
		Terminal: terminalNode{
			ProvUserID: creds.Username,
			HashData:   provisionHash(tx.OrderID, creds.TerminalID, "", amount, currency, hp),
			UserID:     creds.Username,
			ID:         creds.TerminalID,
			MerchantID: creds.MerchantID,
		},
		Customer: customerNode{IPAddress: tx.Customer.IP, EmailAddress: tx.Customer.Email},
		Order:    orderNode{OrderID: tx.OrderID},
		Transaction: transactionNode{
			Type:                  txnSales,
			InstallmentCnt:        codec.InstallmentOrEmpty(tx.Installment),
			Amount:                amount,
			CurrencyCode:          currency,
			CardholderPresentCode: presentCode3D,
			MotoInd:               "N",
			Secure3D: &secure3DNode{
				AuthenticationCode: tx.Secure.CAVV,
				SecurityLevel:      tx.Secure.ECI,
				TxnID:              tx.Secure.XID,
				Md:                 tx.Secure.MD,
			},
		},
	}

	resp, err := a.send(ctx, tx, term, entity.LogProvision, req)
	if err != nil {
		return err
	}

	if resp.Transaction.Response.Message != "Approved" {
		return apperr.WithCode(apperr.KindProvider,
			resp.Transaction.Response.ReasonCode, denialMessage(resp))
	}

	return a.finalize(ctx, tx, resp)
}

func (a *Adapter) DirectPayment(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) error {
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
	tx.Secure.Provider = entity.ProviderGaranti

	amount := codec.FormatAmountCents(tx.Amount)
	currency := provider.NumericCurrencyCode(tx.Currency)
	hp := hashedPassword(creds.Password, creds.TerminalID)

	req := gvpsRequest{
		Mode:    a.mode(term),
		Version: apiVersion,
		Terminal: terminalNode{
			ProvUserID: creds.Username,
			HashData:   provisionHash(tx.OrderID, creds.TerminalID, card.Number, amount, currency, hp),
			UserID:     creds.Username,
			ID:         creds.TerminalID,
			MerchantID: creds.MerchantID,
		},
		Customer: customerNode{IPAddress: tx.Customer.IP, EmailAddress: tx.Customer.Email},
		Card:     cardNode{Number: card.Number, ExpireDate: month + year, CVV2: card.CVV},
		Order:    orderNode{OrderID: tx.OrderID},
		Transaction: transactionNode{
			Type:                  txnSales,
			InstallmentCnt:        codec.InstallmentOrEmpty(tx.Installment),
			Amount:                amount,
			CurrencyCode:          currency,
			CardholderPresentCode: presentCodeDirect,
			MotoInd:               "H",
		},
	}

	resp, err := a.send(ctx, tx, term, entity.LogProvision, req)
	if err != nil {
		return err
	}

	if resp.Transaction.Response.Message != "Approved" {
		return apperr.WithCode(apperr.KindProvider,
			resp.Transaction.Response.ReasonCode, denialMessage(resp))
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

	amount := codec.FormatAmountCents(tx.Amount)
	currency := provider.NumericCurrencyCode(original.Currency)
	hp := hashedPassword(creds.Password, creds.TerminalID)

	var refNumber string
	if original.Result != nil {
		refNumber = original.Result.RefNumber
	}

	req := gvpsRequest{
		Mode:    a.mode(term),
		Version: apiVersion,
		Terminal: terminalNode{
			ProvUserID: creds.Username,
			HashData:   provisionHash(original.OrderID, creds.TerminalID, "", amount, currency, hp),
			UserID:     creds.Username,
			ID:         creds.TerminalID,
			MerchantID: creds.MerchantID,
		},
		Customer: customerNode{IPAddress: original.Customer.IP, EmailAddress: original.Customer.Email},
		Order:    orderNode{OrderID: original.OrderID},
		Transaction: transactionNode{
			Type:                  txnType,
			Amount:                amount,
			CurrencyCode:          currency,
			CardholderPresentCode: presentCodeDirect,
			MotoInd:               "N",
			OriginalRetrefNum:     refNumber,
		},
	}

	resp, err := a.send(ctx, tx, term, logType, req)
	if err != nil {
		return err
	}

	if resp.Transaction.Response.Message != "Approved" {
		return apperr.WithCode(apperr.KindProvider,
			resp.Transaction.Response.ReasonCode, denialMessage(resp))
	}

	tx.OrderID = original.OrderID
	return a.finalize(ctx, tx, resp)
}

func (a *Adapter) Status(ctx context.Context, term *entity.Terminal, orderID string) (map[string]string, error) {
	return a.inquiry(ctx, term, orderID, txnInquiry)
}

func (a *Adapter) History(ctx context.Context, term *entity.Terminal, orderID string) (map[string]string, error) {
	return a.inquiry(ctx, term, orderID, txnHistory)
}

func (a *Adapter) inquiry(ctx context.Context, term *entity.Terminal, orderID, txnType string) (map[string]string, error) {
	creds, err := a.Credentials(term)
	if err != nil {
		return nil, err
	}

	hp := hashedPassword(creds.Password, creds.TerminalID)
	req := gvpsRequest{
		Mode:    a.mode(term),
		Version: apiVersion,
		Terminal: terminalNode{
			ProvUserID: creds.Username,
			HashData:   provisionHash(orderID, creds.TerminalID, "", "", "", hp),
			UserID:     creds.Username,
			ID:         creds.TerminalID,
			MerchantID: creds.MerchantID,
		},
		Order: orderNode{OrderID: orderID},
		Transaction: transactionNode{
			Type:                  txnType,
			CardholderPresentCode: presentCodeDirect,
			MotoInd:               "N",
		},
	}

	body, err := codec.MarshalXML(req, "ISO-8859-9")
	if err != nil {
		return nil, err
	}
	raw, err := a.client.PostForm(ctx, a.apiURL(term), "data="+url.QueryEscape(body), nil)
	if err != nil {
		return nil, err
	}

	var resp gvpsResponse
	if err := codec.UnmarshalXML(raw, &resp); err != nil {
		return nil, apperr.Wrap(apperr.KindProvider, err, "garanti: malformed inquiry response")
	}

	return map[string]string{
		"message":    resp.Transaction.Response.Message,
		"reasonCode": resp.Transaction.Response.ReasonCode,
		"authCode":   resp.Transaction.AuthCode,
		"refNumber":  resp.Transaction.RetrefNum,
	}, nil
}

func (a *Adapter) PreAuth(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) error {
	return a.authPhase(ctx, tx, term, txnPreAuth, "", entity.LogPreAuth)
}

func (a *Adapter) PostAuth(ctx context.Context, tx, preAuthTx *entity.Transaction, term *entity.Terminal) error {
	tx.OrderID = preAuthTx.OrderID
	return a.authPhase(ctx, tx, term, txnPostAuth, preAuthTx.OrderID, entity.LogPostAuth)
}

func (a *Adapter) authPhase(ctx context.Context, tx *entity.Transaction, term *entity.Terminal, txnType, orderID string, logType entity.LogType) error {
	creds, err := a.Credentials(term)
	if err != nil {
		return err
	}
	card, err := a.Card(tx)
	if err != nil {
		return err
	}

	if orderID == "" {
		if tx.OrderID == "" {
			tx.OrderID = strings.ReplaceAll(uuid.New().String(), "-", "")
		}
		orderID = tx.OrderID
	}

	amount := codec.FormatAmountCents(tx.Amount)
	currency := provider.NumericCurrencyCode(tx.Currency)
	hp := hashedPassword(creds.Password, creds.TerminalID)

	node := cardNode{}
	hashCard := ""
	if txnType == txnPreAuth {
		month, year, expErr := codec.ParseExpiry(card.Expiry)
		if expErr != nil {
			return expErr
		}
		node = cardNode{Number: card.Number, ExpireDate: month + year, CVV2: card.CVV}
		hashCard = card.Number
	}

	req := gvpsRequest{
		Mode:    a.mode(term),
		Version: apiVersion,
		Terminal: terminalNode{
			ProvUserID: creds.Username,
			HashData:   provisionHash(orderID, creds.TerminalID, hashCard, amount, currency, hp),
			UserID:     creds.Username,
			ID:         creds.TerminalID,
			MerchantID: creds.MerchantID,
		},
		Customer: customerNode{IPAddress: tx.Customer.IP, EmailAddress: tx.Customer.Email},
		Card:     node,
		Order:    orderNode{OrderID: orderID},
		Transaction: transactionNode{
			Type:                  txnType,
			InstallmentCnt:        codec.InstallmentOrEmpty(tx.Installment),
			Amount:                amount,
			CurrencyCode:          currency,
			CardholderPresentCode: presentCodeDirect,
			MotoInd:               "H",
		},
	}

	resp, err := a.send(ctx, tx, term, logType, req)
	if err != nil {
		return err
	}

	if resp.Transaction.Response.Message != "Approved" {
		return apperr.WithCode(apperr.KindProvider,
			resp.Transaction.Response.ReasonCode, denialMessage(resp))
	}

	return a.finalize(ctx, tx, resp)
}

func (a *Adapter) send(ctx context.Context, tx *entity.Transaction, term *entity.Terminal, logType entity.LogType, req gvpsRequest) (*gvpsResponse, error) {
	body, err := codec.MarshalXML(req, "ISO-8859-9")
	if err != nil {
		return nil, err
	}

	raw, err := a.client.PostForm(ctx, a.apiURL(term), "data="+url.QueryEscape(body), nil)
	if err != nil {
		a.Log(ctx, tx.ID, entity.LogError, loggableRequest(req), err.Error())
		return nil, err
	}

	var resp gvpsResponse
	if err := codec.UnmarshalXML(raw, &resp); err != nil {
		a.Log(ctx, tx.ID, entity.LogError, loggableRequest(req), string(raw))
		return nil, apperr.Wrap(apperr.KindProvider, err, "garanti: malformed response")
	}

	a.Log(ctx, tx.ID, logType, loggableRequest(req), map[string]string{
		"message":    resp.Transaction.Response.Message,
		"reasonCode": resp.Transaction.Response.ReasonCode,
		"authCode":   resp.Transaction.AuthCode,
		"refNumber":  resp.Transaction.RetrefNum,
	})

	return &resp, nil
}

func (a *Adapter) finalize(ctx context.Context, tx *entity.Transaction, resp *gvpsResponse) error {
	now := time.Now().UTC()
	tx.Status = entity.StatusSuccess
	tx.CompletedAt = &now
	tx.Result = &entity.Result{
		Success:   true,
		Code:      resp.Transaction.Response.Code,
		Message:   resp.Transaction.Response.Message,
		AuthCode:  resp.Transaction.AuthCode,
		RefNumber: resp.Transaction.RetrefNum,
	}

	if err := a.Transactions.SaveSecure(ctx, tx); err != nil {
		return err
	}
	return a.Transactions.ClearCVV(ctx, tx.ID)
}

func denialMessage(resp *gvpsResponse) string {
	if resp.Transaction.Response.ErrorMsg != "" {
		return resp.Transaction.Response.ErrorMsg
	}
	if resp.Transaction.Response.SysErrMsg != "" {
		return resp.Transaction.Response.SysErrMsg
	}
	return "transaction declined"
}

// loggableRequest strips card data before the request lands in the log
func loggableRequest(req gvpsRequest) map[string]string {
	return map[string]string{
		"mode":    req.Mode,
		"type":    req.Transaction.Type,
		"orderId": req.Order.OrderID,
		"amount":  req.Transaction.Amount,
	}
}

func flatten(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for k := range values {
		out[k] = values.Get(k)
	}
	return out
}
