package payten

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emreis/sanalpos/entity"
	"github.com/emreis/sanalpos/infra/apperr"
	"github.com/emreis/sanalpos/infra/codec"
	"github.com/emreis/sanalpos/infra/crypto"
	"github.com/emreis/sanalpos/provider"
)

// NestPay serves several banks behind one protocol (Halkbank, İş Bankası,
// Ziraat, TEB, ING, Şekerbank). The asseco endpoints are the common default;
// bank-specific hosts arrive through the terminal's extra credentials.
const (
	gateTestURL = "https://entegrasyon.asseco-see.com.tr/fim/est3Dgate"
	gateProdURL = "https://sanalpos.asseco-see.com.tr/fim/est3Dgate"
	apiTestURL  = "https://entegrasyon.asseco-see.com.tr/fim/api"
	apiProdURL  = "https://sanalpos.asseco-see.com.tr/fim/api"

	typeAuth         = "Auth"
	typePreAuth      = "PreAuth"
	typePostAuth     = "PostAuth"
	typeVoid         = "Void"
	typeCredit       = "Credit"
	typeOrderInquiry = "OrderInquiry"
	typeOrderHistory = "OrderHistory"
)

// defaultAcceptedMDStatuses is the conservative default; terminals that
// tolerate half-secure verification widen it through their 3-D config.
var defaultAcceptedMDStatuses = []string{"1"}

// extraConfig is the typed view of the terminal's extra credentials
type extraConfig struct {
	GateURL string `json:"gateUrl"`
	APIURL  string `json:"apiUrl"`
}

// Adapter implements the Payten/NestPay protocol
type Adapter struct {
	provider.Base
	client *provider.HTTPClient
}

// New creates the Payten adapter
func New(deps provider.Deps) provider.Provider {
	return &Adapter{
		Base:   provider.NewBase(entity.ProviderPayten, deps),
		client: provider.NewHTTPClient(provider.HTTPClientConfig{}),
	}
}

func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		ThreeD: true, Direct: true, Refund: true, Cancel: true,
		Status: true, History: true, PreAuth: true, PostAuth: true,
	}
}

func (a *Adapter) endpoints(term *entity.Terminal, creds *entity.DecryptedCredentials) (gate, api string) {
	gate, api = gateProdURL, apiProdURL
	if term.TestMode {
		gate, api = gateTestURL, apiTestURL
	}
	if creds.Extra != "" {
		var extra extraConfig
		if err := json.Unmarshal([]byte(creds.Extra), &extra); err == nil {
			if extra.GateURL != "" {
				gate = extra.GateURL
			}
			if extra.APIURL != "" {
				api = extra.APIURL
			}
		}
	}
	return gate, api
}

// hashVer3 computes the NestPay ver3 hash: keys sorted case-insensitively,
// each value escaped (\ then |) and joined with |, the store key appended,
// then base64 over the sha512 digest bytes.
func hashVer3(params map[string]string, storeKey string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		lower := strings.ToLower(k)
		if lower != "hash" && lower != "encoding" {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return strings.ToLower(keys[i]) < strings.ToLower(keys[j])
	})

	var hashVal strings.Builder
	for _, key := range keys {
		hashVal.WriteString(escapeVer3(params[key]))
		hashVal.WriteString("|")
	}
	hashVal.WriteString(escapeVer3(storeKey))

	return crypto.SHA512PackBase64(hashVal.String())
}

func escapeVer3(value string) string {
	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	return strings.ReplaceAll(escaped, "|", "\\|")
}

func (a *Adapter) acceptedMDStatuses(term *entity.Terminal) map[string]bool {
	statuses := term.ThreeD.AcceptedMDStatuses
	if len(statuses) == 0 {
		statuses = defaultAcceptedMDStatuses
	}
	out := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		out[s] = true
	}
	return out
}

func (a *Adapter) Initialize(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) error {
	creds, err := a.Credentials(term)
	if err != nil {
		return err
	}

	if tx.OrderID == "" {
		tx.OrderID = strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	callback := a.CallbackURL(tx.ID)

	tx.Secure = entity.SecureBundle{
		Provider: entity.ProviderPayten,
		FormData: map[string]string{
			"clientid":      creds.MerchantID,
			"storetype":     "3d_pay",
			"islemtipi":     typeAuth,
			"hashAlgorithm": "ver3",
			"amount":        codec.FormatAmount2(tx.Amount),
			"currency":      provider.NumericCurrencyCode(tx.Currency),
			"oid":           tx.OrderID,
			"taksit":        codec.InstallmentOrEmpty(tx.Installment),
			"okUrl":         callback,
			"failUrl":       callback,
			"rnd":           uuid.New().String(),
			"lang":          "tr",
		},
	}

	a.Log(ctx, tx.ID, entity.LogInit, map[string]string{
		"oid": tx.OrderID, "amount": codec.FormatAmount2(tx.Amount),
	}, nil)

	return a.Transactions.SaveSecure(ctx, tx)
}

var formFieldOrder = []string{
	"clientid", "storetype", "islemtipi", "hashAlgorithm",
	"amount", "currency", "oid", "taksit", "okUrl", "failUrl", "rnd", "lang",
}

func (a *Adapter) FormHTML(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) (string, error) {
	if len(tx.Secure.FormData) == 0 {
		return "", apperr.New(apperr.KindState, "payten: transaction has no 3-D form data")
	}

	creds, err := a.Credentials(term)
	if err != nil {
		return "", err
	}
	card, err := a.Card(tx)
	if err != nil {
		return "", err
	}
	month, year, err := codec.ParseExpiry(card.Expiry)
	if err != nil {
		return "", err
	}

	// the ver3 hash covers every posted field, so card fields join the set
	// before signing
	params := make(map[string]string, len(tx.Secure.FormData)+4)
	for k, v := range tx.Secure.FormData {
		params[k] = v
	}
	params["pan"] = card.Number
	params["Ecom_Payment_Card_ExpDate_Month"] = month
	params["Ecom_Payment_Card_ExpDate_Year"] = year
	params["cv2"] = card.CVV
	params["HASH"] = hashVer3(params, creds.StoreKey)

	fields := make([]codec.FormPair, 0, len(params))
	for _, key := range formFieldOrder {
		if v, ok := params[key]; ok {
			fields = append(fields, codec.FormPair{Key: key, Value: v})
		}
	}
	fields = append(fields,
		codec.FormPair{Key: "pan", Value: params["pan"]},
		codec.FormPair{Key: "Ecom_Payment_Card_ExpDate_Month", Value: month},
		codec.FormPair{Key: "Ecom_Payment_Card_ExpDate_Year", Value: year},
		codec.FormPair{Key: "cv2", Value: params["cv2"]},
		codec.FormPair{Key: "HASH", Value: params["HASH"]},
	)

	gate, _ := a.endpoints(term, creds)
	a.Log(ctx, tx.ID, entity.Log3DForm, map[string]string{"gate": gate}, nil)

	return provider.AutoSubmitForm(gate, fields), nil
}

func (a *Adapter) ProcessCallback(ctx context.Context, tx *entity.Transaction, term *entity.Terminal, fields url.Values) error {
	creds, err := a.Credentials(term)
	if err != nil {
		return err
	}

	posted := flatten(fields)
	a.Log(ctx, tx.ID, entity.Log3DCallback, posted, nil)

	if received := fields.Get("HASH"); received != "" {
		if hashVer3(posted, creds.StoreKey) != received {
			return apperr.New(apperr.KindCrypto, "payten: callback hash mismatch")
		}
	}

	mdStatus := fields.Get("mdStatus")
	if !a.acceptedMDStatuses(term)[mdStatus] {
		message := fields.Get("mdErrorMsg")
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

type cc5Request struct {
	XMLName                 xml.Name `xml:"CC5Request"`
	Name                    string   `xml:"Name"`
	Password                string   `xml:"Password"`
	ClientID                string   `xml:"ClientId"`
	Type                    string   `xml:"Type"`
	IPAddress               string   `xml:"IPAddress,omitempty"`
	Email                   string   `xml:"Email,omitempty"`
	OrderID                 string   `xml:"OrderId"`
	Total                   string   `xml:"Total,omitempty"`
	Currency                string   `xml:"Currency,omitempty"`
	Taksit                  string   `xml:"Taksit,omitempty"`
	Number                  string   `xml:"Number,omitempty"`
	Expires                 string   `xml:"Expires,omitempty"`
	Cvv2Val                 string   `xml:"Cvv2Val,omitempty"`
	PayerTxnID              string   `xml:"PayerTxnId,omitempty"`
	PayerSecurityLevel      string   `xml:"PayerSecurityLevel,omitempty"`
	PayerAuthenticationCode string   `xml:"PayerAuthenticationCode,omitempty"`
}

type cc5Response struct {
	XMLName        xml.Name `xml:"CC5Response"`
	OrderID        string   `xml:"OrderId"`
	Response       string   `xml:"Response"`
	AuthCode       string   `xml:"AuthCode"`
	HostRefNum     string   `xml:"HostRefNum"`
	ProcReturnCode string   `xml:"ProcReturnCode"`
	TransID        string   `xml:"TransId"`
	ErrMsg         string   `xml:"ErrMsg"`
}

func (a *Adapter) ProcessProvision(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) error {
	creds, err := a.Credentials(term)
	if err != nil {
		return err
	}

	req := cc5Request{
		Name:                    creds.Username,
		Password:                creds.Password,
		ClientID:                creds.MerchantID,
		Type:                    typeAuth,
		IPAddress:               tx.Customer.IP,
		Email:                   tx.Customer.Email,
		OrderID:                 tx.OrderID,
		Total:                   codec.FormatAmount2(tx.Amount),
		Currency:                provider.NumericCurrencyCode(tx.Currency),
		Taksit:                  codec.InstallmentOrEmpty(tx.Installment),
		PayerTxnID:              tx.Secure.XID,
		PayerSecurityLevel:      tx.Secure.ECI,
		PayerAuthenticationCode: tx.Secure.CAVV,
	}

	resp, err := a.send(ctx, tx, term, creds, entity.LogProvision, req)
	if err != nil {
		return err
	}

	if resp.Response != "Approved" {
		return apperr.WithCode(apperr.KindProvider, resp.ProcReturnCode, denialMessage(resp))
	}

	return a.finalize(ctx, tx, resp)
}

func (a *Adapter) DirectPayment(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) error {
	return a.cardPayment(ctx, tx, term, typeAuth, entity.LogProvision)
}

func (a *Adapter) PreAuth(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) error {
	return a.cardPayment(ctx, tx, term, typePreAuth, entity.LogPreAuth)
}

func (a *Adapter) cardPayment(ctx context.Context, tx *entity.Transaction, term *entity.Terminal, reqType string, logType entity.LogType) error {
	creds, err := a.Credentials(term)
	if err != nil {
		return err
	}
	card, err := a.Card(tx)
	if err != nil {
		return err
	}
	if _, _, err := codec.ParseExpiry(card.Expiry); err != nil {
		return err
	}

	if tx.OrderID == "" {
		tx.OrderID = strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	tx.Secure.Provider = entity.ProviderPayten

	req := cc5Request{
		Name:      creds.Username,
		Password:  creds.Password,
		ClientID:  creds.MerchantID,
		Type:      reqType,
		IPAddress: tx.Customer.IP,
		Email:     tx.Customer.Email,
		OrderID:   tx.OrderID,
		Total:     codec.FormatAmount2(tx.Amount),
		Currency:  provider.NumericCurrencyCode(tx.Currency),
		Taksit:    codec.InstallmentOrEmpty(tx.Installment),
		Number:    card.Number,
		Expires:   card.Expiry,
		Cvv2Val:   card.CVV,
	}

	resp, err := a.send(ctx, tx, term, creds, logType, req)
	if err != nil {
		return err
	}

	if resp.Response != "Approved" {
		return apperr.WithCode(apperr.KindProvider, resp.ProcReturnCode, denialMessage(resp))
	}

	return a.finalize(ctx, tx, resp)
}

func (a *Adapter) PostAuth(ctx context.Context, tx, preAuthTx *entity.Transaction, term *entity.Terminal) error {
	creds, err := a.Credentials(term)
	if err != nil {
		return err
	}

	tx.OrderID = preAuthTx.OrderID
	req := cc5Request{
		Name:     creds.Username,
		Password: creds.Password,
		ClientID: creds.MerchantID,
		Type:     typePostAuth,
		OrderID:  preAuthTx.OrderID,
		Total:    codec.FormatAmount2(tx.Amount),
		Currency: provider.NumericCurrencyCode(tx.Currency),
	}

	resp, err := a.send(ctx, tx, term, creds, entity.LogPostAuth, req)
	if err != nil {
		return err
	}

	if resp.Response != "Approved" {
		return apperr.WithCode(apperr.KindProvider, resp.ProcReturnCode, denialMessage(resp))
	}

	return a.finalize(ctx, tx, resp)
}

func (a *Adapter) Refund(ctx context.Context, tx, original *entity.Transaction, term *entity.Terminal) error {
	return a.reversal(ctx, tx, original, term, typeCredit, entity.LogRefund)
}

func (a *Adapter) Cancel(ctx context.Context, tx, original *entity.Transaction, term *entity.Terminal) error {
	return a.reversal(ctx, tx, original, term, typeVoid, entity.LogCancel)
}

func (a *Adapter) reversal(ctx context.Context, tx, original *entity.Transaction, term *entity.Terminal, reqType string, logType entity.LogType) error {
	creds, err := a.Credentials(term)
	if err != nil {
		return err
	}

	req := cc5Request{
		Name:     creds.Username,
		Password: creds.Password,
		ClientID: creds.MerchantID,
		Type:     reqType,
		OrderID:  original.OrderID,
	}
	if reqType == typeCredit {
		req.Total = codec.FormatAmount2(tx.Amount)
		req.Currency = provider.NumericCurrencyCode(original.Currency)
	}

	resp, err := a.send(ctx, tx, term, creds, logType, req)
	if err != nil {
		return err
	}

	if resp.Response != "Approved" {
		return apperr.WithCode(apperr.KindProvider, resp.ProcReturnCode, denialMessage(resp))
	}

	tx.OrderID = original.OrderID
	return a.finalize(ctx, tx, resp)
}

func (a *Adapter) Status(ctx context.Context, term *entity.Terminal, orderID string) (map[string]string, error) {
	return a.inquiry(ctx, term, orderID, typeOrderInquiry)
}

func (a *Adapter) History(ctx context.Context, term *entity.Terminal, orderID string) (map[string]string, error) {
	return a.inquiry(ctx, term, orderID, typeOrderHistory)
}

func (a *Adapter) inquiry(ctx context.Context, term *entity.Terminal, orderID, reqType string) (map[string]string, error) {
	creds, err := a.Credentials(term)
	if err != nil {
		return nil, err
	}

	req := cc5Request{
		Name:     creds.Username,
		Password: creds.Password,
		ClientID: creds.MerchantID,
		Type:     reqType,
		OrderID:  orderID,
	}

	body, err := codec.MarshalXML(req, "UTF-8")
	if err != nil {
		return nil, err
	}
	_, api := a.endpoints(term, creds)
	raw, err := a.client.PostForm(ctx, api, "DATA="+url.QueryEscape(body), nil)
	if err != nil {
		return nil, err
	}

	var resp cc5Response
	if err := codec.UnmarshalXML(raw, &resp); err != nil {
		return nil, apperr.Wrap(apperr.KindProvider, err, "payten: malformed inquiry response")
	}

	return map[string]string{
		"response":       resp.Response,
		"procReturnCode": resp.ProcReturnCode,
		"authCode":       resp.AuthCode,
		"refNumber":      resp.HostRefNum,
		"transId":        resp.TransID,
		"errMsg":         resp.ErrMsg,
	}, nil
}

func (a *Adapter) send(ctx context.Context, tx *entity.Transaction, term *entity.Terminal, creds *entity.DecryptedCredentials, logType entity.LogType, req cc5Request) (*cc5Response, error) {
	body, err := codec.MarshalXML(req, "UTF-8")
	if err != nil {
		return nil, err
	}

	_, api := a.endpoints(term, creds)
	raw, err := a.client.PostForm(ctx, api, "DATA="+url.QueryEscape(body), nil)
	if err != nil {
		a.Log(ctx, tx.ID, entity.LogError, loggableRequest(req), err.Error())
		return nil, err
	}

	var resp cc5Response
	if err := codec.UnmarshalXML(raw, &resp); err != nil {
		a.Log(ctx, tx.ID, entity.LogError, loggableRequest(req), string(raw))
		return nil, apperr.Wrap(apperr.KindProvider, err, "payten: malformed response")
	}

	a.Log(ctx, tx.ID, logType, loggableRequest(req), map[string]string{
		"response":       resp.Response,
		"procReturnCode": resp.ProcReturnCode,
		"authCode":       resp.AuthCode,
		"hostRefNum":     resp.HostRefNum,
		"errMsg":         resp.ErrMsg,
	})

	return &resp, nil
}

func (a *Adapter) finalize(ctx context.Context, tx *entity.Transaction, resp *cc5Response) error {
	now := time.Now().UTC()
	tx.Status = entity.StatusSuccess
	tx.CompletedAt = &now
	tx.Result = &entity.Result{
		Success:   true,
		Code:      resp.ProcReturnCode,
		Message:   resp.Response,
		AuthCode:  resp.AuthCode,
		RefNumber: resp.HostRefNum,
	}

	if err := a.Transactions.SaveSecure(ctx, tx); err != nil {
		return err
	}
	return a.Transactions.ClearCVV(ctx, tx.ID)
}

func denialMessage(resp *cc5Response) string {
	if resp.ErrMsg != "" {
		return resp.ErrMsg
	}
	return "transaction declined"
}

func loggableRequest(req cc5Request) map[string]string {
	return map[string]string{
		"type":    req.Type,
		"orderId": req.OrderID,
		"total":   req.Total,
	}
}

func flatten(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for k := range values {
		out[k] = values.Get(k)
	}
	return out
}
