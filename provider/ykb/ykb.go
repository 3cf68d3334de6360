package ykb

import (
	"context"
	"encoding/hex"
	"encoding/json"
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
	apiTestURL  = "https://setmpos.ykb.com/PosnetWebService/XML"
	apiProdURL  = "https://posnet.yapikredi.com.tr/PosnetWebService/XML"
	gateTestURL = "https://setmpos.ykb.com/3DSWebService/YKBPaymentService"
	gateProdURL = "https://posnet.yapikredi.com.tr/3DSWebService/YKBPaymentService"

	orderIDWidth = 20
)

// accepted3DStatuses is the tds_md_status set POSNET treats as verified
var accepted3DStatuses = map[string]bool{"1": true, "2": true, "4": true, "9": true}

// merchantPacketFields is the field order of the decrypted MerchantPacket
var merchantPacketFields = []string{
	"mid", "tid", "pay", "instcount", "xid",
	"totalPoint", "totalPointAmount", "weburl", "hostip", "port",
	"tds_tx_status", "tds_md_status", "tds_md_errormessage", "trantime", "currency",
}

// extraConfig is the typed view of the terminal's extra credentials
type extraConfig struct {
	PosnetID string `json:"posnetId"`
}

// Adapter implements the YKB POSNET protocol
type Adapter struct {
	provider.Base
	client *provider.HTTPClient
}

// New creates the YKB adapter
func New(deps provider.Deps) provider.Provider {
	return &Adapter{
		Base:   provider.NewBase(entity.ProviderYKB, deps),
		client: provider.NewHTTPClient(provider.HTTPClientConfig{}),
	}
}

func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		ThreeD: true, Refund: true, Cancel: true, Status: true,
	}
}

func (a *Adapter) apiURL(term *entity.Terminal) string {
	if term.TestMode {
		return apiTestURL
	}
	return apiProdURL
}

func (a *Adapter) gateURL(term *entity.Terminal) string {
	if term.TestMode {
		return gateTestURL
	}
	return gateProdURL
}

func (a *Adapter) posnetID(creds *entity.DecryptedCredentials) string {
	if creds.Extra == "" {
		return ""
	}
	var extra extraConfig
	if err := json.Unmarshal([]byte(creds.Extra), &extra); err != nil {
		return ""
	}
	return extra.PosnetID
}

type oosRequestData struct {
	PosnetID       string `xml:"posnetid"`
	XID            string `xml:"XID"`
	Amount         string `xml:"amount"`
	CurrencyCode   string `xml:"currencyCode"`
	Installment    string `xml:"installment"`
	TranType       string `xml:"tranType"`
	CardHolderName string `xml:"cardHolderName"`
	CCNo           string `xml:"ccno"`
	ExpDate        string `xml:"expDate"`
	CVC            string `xml:"cvc"`
}

type oosTranData struct {
	BankData string `xml:"bankData"`
	MAC      string `xml:"mac"`
}

type returnData struct {
	Amount       string `xml:"amount"`
	CurrencyCode string `xml:"currencyCode"`
	HostLogKey   string `xml:"hostLogKey"`
	AuthCode     string `xml:"authCode,omitempty"`
}

type statusData struct {
	OrderID string `xml:"orderID"`
}

type posnetRequest struct {
	XMLName        xml.Name        `xml:"posnetRequest"`
	MID            string          `xml:"mid"`
	TID            string          `xml:"tid"`
	OOSRequestData *oosRequestData `xml:"oosRequestData,omitempty"`
	OOSTranData    *oosTranData    `xml:"oosTranData,omitempty"`
	Return         *returnData     `xml:"return,omitempty"`
	Reverse        *statusData     `xml:"reverse,omitempty"`
	Agreement      *statusData     `xml:"agreement,omitempty"`
}

type posnetResponse struct {
	XMLName                xml.Name `xml:"posnetResponse"`
	Approved               string   `xml:"approved"`
	RespCode               string   `xml:"respCode"`
	RespText               string   `xml:"respText"`
	AuthCode               string   `xml:"authCode"`
	HostLogKey             string   `xml:"hostLogKey"`
	OOSRequestDataResponse struct {
		Data1 string `xml:"data1"`
		Data2 string `xml:"data2"`
		Sign  string `xml:"sign"`
	} `xml:"oosRequestDataResponse"`
}

func (a *Adapter) Initialize(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) error {
	creds, err := a.Credentials(term)
	if err != nil {
		return err
	}
	card, err := a.Card(tx)
	if err != nil {
		return err
	}
	expDate, err := codec.ExpiryYYMM(card.Expiry)
	if err != nil {
		return err
	}

	if tx.OrderID == "" {
		tx.OrderID = codec.PadOrderID(uuid.New().String()[:8]+timeSuffix(), orderIDWidth)
	}
	tx.OrderID = codec.PadOrderID(tx.OrderID, orderIDWidth)

	req := posnetRequest{
		MID: creds.MerchantID,
		TID: creds.TerminalID,
		OOSRequestData: &oosRequestData{
			PosnetID:       a.posnetID(creds),
			XID:            tx.OrderID,
			Amount:         codec.FormatAmountCents(tx.Amount),
			CurrencyCode:   provider.AlphaCurrencyCode(tx.Currency),
			Installment:    codec.InstallmentTwoDigit(tx.Installment),
			TranType:       "Sale",
			CardHolderName: card.Holder,
			CCNo:           card.Number,
			ExpDate:        expDate,
			CVC:            card.CVV,
		},
	}

	resp, err := a.send(ctx, tx, term, entity.LogInit, req)
	if err != nil {
		return err
	}
	if resp.Approved != "1" {
		return apperr.WithCode(apperr.KindProvider, resp.RespCode, denialMessage(resp))
	}

	tx.Secure = entity.SecureBundle{
		Provider: entity.ProviderYKB,
		FormData: map[string]string{
			"data1": resp.OOSRequestDataResponse.Data1,
			"data2": resp.OOSRequestDataResponse.Data2,
			"sign":  resp.OOSRequestDataResponse.Sign,
		},
	}

	return a.Transactions.SaveSecure(ctx, tx)
}

func (a *Adapter) FormHTML(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) (string, error) {
	if len(tx.Secure.FormData) == 0 {
		return "", apperr.New(apperr.KindState, "ykb: transaction has no 3-D form data")
	}

	creds, err := a.Credentials(term)
	if err != nil {
		return "", err
	}

	fields := []codec.FormPair{
		{Key: "mid", Value: creds.MerchantID},
		{Key: "posnetID", Value: a.posnetID(creds)},
		{Key: "posnetData", Value: tx.Secure.FormData["data1"]},
		{Key: "posnetData2", Value: tx.Secure.FormData["data2"]},
		{Key: "digest", Value: tx.Secure.FormData["sign"]},
		{Key: "merchantReturnURL", Value: a.CallbackURL(tx.ID)},
		{Key: "lang", Value: "tr"},
		{Key: "url", Value: a.CallbackBaseURL},
	}

	a.Log(ctx, tx.ID, entity.Log3DForm, map[string]string{"gate": a.gateURL(term)}, nil)

	return provider.AutoSubmitForm(a.gateURL(term), fields), nil
}

// packetKey derives the Triple-DES key from the store key: the first 24
// characters of the uppercase MD5 hex read as UTF-8 bytes.
func packetKey(storeKey string) []byte {
	return []byte(crypto.MD5HexUpper(storeKey)[:24])
}

// DecryptMerchantPacket decodes the POSNET callback packet. The first 16 hex
// characters are the CBC IV; the remainder is ciphertext. Historical bank
// frames append 8 or 16 extra hex characters, so three extraction variants
// are tried and the first plaintext that parses into at least twelve
// semicolon fields wins.
func DecryptMerchantPacket(packet, storeKey string) (map[string]string, error) {
	packet = strings.TrimSpace(packet)
	if len(packet) <= 16 {
		return nil, apperr.New(apperr.KindCrypto, "ykb: merchant packet shorter than IV")
	}

	iv, err := hex.DecodeString(packet[:16])
	if err != nil {
		return nil, apperr.New(apperr.KindCrypto, "ykb: merchant packet IV is not hex")
	}
	remainder := packet[16:]

	key := packetKey(storeKey)
	variants := []string{remainder}
	if len(remainder) > 8 {
		variants = append(variants, remainder[:len(remainder)-8])
	}
	if len(remainder) > 16 {
		variants = append(variants, remainder[:len(remainder)-16])
	}

	for _, variant := range variants {
		data, decErr := hex.DecodeString(variant)
		if decErr != nil || len(data) == 0 || len(data)%8 != 0 {
			continue
		}
		plain, decErr := crypto.TDESCBCDecrypt(data, key, iv)
		if decErr != nil {
			continue
		}
		text := strings.TrimRight(string(plain), "\x00\x01\x02\x03\x04\x05\x06\x07\x08")
		if !strings.Contains(text, ";") {
			continue
		}
		parts := strings.Split(text, ";")
		if len(parts) < 12 {
			continue
		}

		out := make(map[string]string, len(merchantPacketFields))
		for i, name := range merchantPacketFields {
			if i < len(parts) {
				out[name] = parts[i]
			}
		}
		return out, nil
	}

	return nil, apperr.New(apperr.KindCrypto, "ykb: merchant packet could not be decrypted")
}

func (a *Adapter) ProcessCallback(ctx context.Context, tx *entity.Transaction, term *entity.Terminal, fields url.Values) error {
	creds, err := a.Credentials(term)
	if err != nil {
		return err
	}

	a.Log(ctx, tx.ID, entity.Log3DCallback, flatten(fields), nil)

	decrypted, err := DecryptMerchantPacket(fields.Get("MerchantPacket"), creds.StoreKey)
	if err != nil {
		return err
	}

	tx.Secure.Decrypted = decrypted
	tx.Secure.XID = decrypted["xid"]
	if bank := fields.Get("BankPacket"); bank != "" {
		if tx.Secure.FormData == nil {
			tx.Secure.FormData = map[string]string{}
		}
		tx.Secure.FormData["bankData"] = bank
	}
	if err := a.Transactions.SaveSecure(ctx, tx); err != nil {
		return err
	}

	mdStatus := decrypted["tds_md_status"]
	if !accepted3DStatuses[mdStatus] {
		message := decrypted["tds_md_errormessage"]
		if message == "" {
			message = "3D verification failed"
		}
		return apperr.WithCode(apperr.KindProvider, mdStatus, message)
	}

	return a.ProcessProvision(ctx, tx, term)
}

// provisionMAC builds the oosTranData MAC. Any "+" in the base64 outputs is
// escaped to %2B, which the POSNET validator expects.
func provisionMAC(xid, amount, currency, mid, tid, storeKey string) string {
	hashedStoreKey := crypto.SHA256Base64(storeKey + ";" + tid)
	mac := crypto.SHA256Base64(xid + ";" + amount + ";" + currency + ";" + mid + ";" + hashedStoreKey)
	return strings.ReplaceAll(mac, "+", "%2B")
}

func (a *Adapter) ProcessProvision(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) error {
	creds, err := a.Credentials(term)
	if err != nil {
		return err
	}

	amount := codec.FormatAmountCents(tx.Amount)
	currency := provider.AlphaCurrencyCode(tx.Currency)

	req := posnetRequest{
		MID: creds.MerchantID,
		TID: creds.TerminalID,
		OOSTranData: &oosTranData{
			BankData: tx.Secure.FormData["bankData"],
			MAC:      provisionMAC(tx.Secure.XID, amount, currency, creds.MerchantID, creds.TerminalID, creds.StoreKey),
		},
	}

	resp, err := a.send(ctx, tx, term, entity.LogProvision, req)
	if err != nil {
		return err
	}

	if resp.Approved != "1" {
		return apperr.WithCode(apperr.KindProvider, resp.RespCode, denialMessage(resp))
	}

	return a.finalize(ctx, tx, resp)
}

func (a *Adapter) DirectPayment(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) error {
	return a.NotSupported("direct payment")
}

func (a *Adapter) Refund(ctx context.Context, tx, original *entity.Transaction, term *entity.Terminal) error {
	creds, err := a.Credentials(term)
	if err != nil {
		return err
	}

	var refNumber string
	if original.Result != nil {
		refNumber = original.Result.RefNumber
	}

	req := posnetRequest{
		MID: creds.MerchantID,
		TID: creds.TerminalID,
		Return: &returnData{
			Amount:       codec.FormatAmountCents(tx.Amount),
			CurrencyCode: provider.AlphaCurrencyCode(original.Currency),
			HostLogKey:   refNumber,
		},
	}

	resp, err := a.send(ctx, tx, term, entity.LogRefund, req)
	if err != nil {
		return err
	}
	if resp.Approved != "1" {
		return apperr.WithCode(apperr.KindProvider, resp.RespCode, denialMessage(resp))
	}

	tx.OrderID = original.OrderID
	return a.finalize(ctx, tx, resp)
}

func (a *Adapter) Cancel(ctx context.Context, tx, original *entity.Transaction, term *entity.Terminal) error {
	creds, err := a.Credentials(term)
	if err != nil {
		return err
	}

	req := posnetRequest{
		MID:     creds.MerchantID,
		TID:     creds.TerminalID,
		Reverse: &statusData{OrderID: codec.PadOrderID(original.OrderID, orderIDWidth)},
	}

	resp, err := a.send(ctx, tx, term, entity.LogCancel, req)
	if err != nil {
		return err
	}
	if resp.Approved != "1" {
		return apperr.WithCode(apperr.KindProvider, resp.RespCode, denialMessage(resp))
	}

	tx.OrderID = original.OrderID
	return a.finalize(ctx, tx, resp)
}

func (a *Adapter) Status(ctx context.Context, term *entity.Terminal, orderID string) (map[string]string, error) {
	creds, err := a.Credentials(term)
	if err != nil {
		return nil, err
	}

	req := posnetRequest{
		MID:       creds.MerchantID,
		TID:       creds.TerminalID,
		Agreement: &statusData{OrderID: codec.PadOrderID(orderID, orderIDWidth)},
	}

	body, err := codec.MarshalXML(req, "ISO-8859-9")
	if err != nil {
		return nil, err
	}
	raw, err := a.client.PostForm(ctx, a.apiURL(term), "xmldata="+url.QueryEscape(body), nil)
	if err != nil {
		return nil, err
	}

	var resp posnetResponse
	if err := codec.UnmarshalXML(raw, &resp); err != nil {
		return nil, apperr.Wrap(apperr.KindProvider, err, "ykb: malformed status response")
	}

	return map[string]string{
		"approved":   resp.Approved,
		"respCode":   resp.RespCode,
		"respText":   resp.RespText,
		"authCode":   resp.AuthCode,
		"hostLogKey": resp.HostLogKey,
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

func (a *Adapter) send(ctx context.Context, tx *entity.Transaction, term *entity.Terminal, logType entity.LogType, req posnetRequest) (*posnetResponse, error) {
	body, err := codec.MarshalXML(req, "ISO-8859-9")
	if err != nil {
		return nil, err
	}

	raw, err := a.client.PostForm(ctx, a.apiURL(term), "xmldata="+url.QueryEscape(body), nil)
	if err != nil {
		a.Log(ctx, tx.ID, entity.LogError, loggableRequest(req), err.Error())
		return nil, err
	}

	var resp posnetResponse
	if err := codec.UnmarshalXML(raw, &resp); err != nil {
		a.Log(ctx, tx.ID, entity.LogError, loggableRequest(req), string(raw))
		return nil, apperr.Wrap(apperr.KindProvider, err, "ykb: malformed response")
	}

	a.Log(ctx, tx.ID, logType, loggableRequest(req), map[string]string{
		"approved": resp.Approved,
		"respCode": resp.RespCode,
		"respText": resp.RespText,
	})

	return &resp, nil
}

func (a *Adapter) finalize(ctx context.Context, tx *entity.Transaction, resp *posnetResponse) error {
	now := time.Now().UTC()
	tx.Status = entity.StatusSuccess
	tx.CompletedAt = &now
	tx.Result = &entity.Result{
		Success:   true,
		Code:      resp.RespCode,
		Message:   resp.RespText,
		AuthCode:  resp.AuthCode,
		RefNumber: resp.HostLogKey,
	}

	if err := a.Transactions.SaveSecure(ctx, tx); err != nil {
		return err
	}
	return a.Transactions.ClearCVV(ctx, tx.ID)
}

func denialMessage(resp *posnetResponse) string {
	if resp.RespText != "" {
		return resp.RespText
	}
	return "transaction declined"
}

func loggableRequest(req posnetRequest) map[string]string {
	out := map[string]string{"mid": req.MID, "tid": req.TID}
	if req.OOSRequestData != nil {
		out["xid"] = req.OOSRequestData.XID
		out["amount"] = req.OOSRequestData.Amount
	}
	if req.OOSTranData != nil {
		out["op"] = "oosTranData"
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

func timeSuffix() string {
	return time.Now().UTC().Format("0102150405")
}
