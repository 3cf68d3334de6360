package vakifbank

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
	"github.com/emreis/sanalpos/provider"
)

const (
	enrollmentTestURL = "https://3dsecuretest.vakifbank.com.tr/MPIAPI/MPI_Enrollment.aspx"
	enrollmentProdURL = "https://3dsecure.vakifbank.com.tr/MPIAPI/MPI_Enrollment.aspx"
	apiTestURL        = "https://onlineodemetest.vakifbank.com.tr:4443/VposService/v3/Vposreq.aspx"
	apiProdURL        = "https://onlineodeme.vakifbank.com.tr:4443/VposService/v3/Vposreq.aspx"
)

// Adapter implements the VakıfBank VPOS protocol with its two-call 3-D flow:
// VerifyEnrollment against the MPI, then the ACS redirect, then VposRequest.
type Adapter struct {
	provider.Base
	client *provider.HTTPClient
}

// New creates the VakıfBank adapter
func New(deps provider.Deps) provider.Provider {
	return &Adapter{
		Base:   provider.NewBase(entity.ProviderVakifbank, deps),
		client: provider.NewHTTPClient(provider.HTTPClientConfig{}),
	}
}

func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		ThreeD: true, Direct: true, Refund: true, Cancel: true, Status: true,
	}
}

func (a *Adapter) enrollmentURL(term *entity.Terminal) string {
	if term.TestMode {
		return enrollmentTestURL
	}
	return enrollmentProdURL
}

func (a *Adapter) apiURL(term *entity.Terminal) string {
	if term.TestMode {
		return apiTestURL
	}
	return apiProdURL
}

type veRes struct {
	Status string `xml:"Status"`
	PaReq  string `xml:"PaReq"`
	TermURL string `xml:"TermUrl"`
	MD     string `xml:"MD"`
	ACSUrl string `xml:"ACSUrl"`
}

type enrollmentResponse struct {
	XMLName xml.Name `xml:"IPaySecure"`
	Message struct {
		VERes veRes `xml:"VERes"`
	} `xml:"Message"`
	VerifyEnrollmentRequestID string `xml:"VerifyEnrollmentRequestId"`
	MessageErrorCode          string `xml:"MessageErrorCode"`
	ErrorMessage              string `xml:"ErrorMessage"`
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
	expiry, err := codec.ExpiryYYMM(card.Expiry)
	if err != nil {
		return err
	}

	if tx.OrderID == "" {
		tx.OrderID = strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	requestID := uuid.New().String()
	callback := a.CallbackURL(tx.ID)

	pairs := []codec.FormPair{
		{Key: "MerchantId", Value: creds.MerchantID},
		{Key: "MerchantPassword", Value: creds.Password},
		{Key: "VerifyEnrollmentRequestId", Value: requestID},
		{Key: "Pan", Value: card.Number},
		{Key: "ExpiryDate", Value: expiry},
		{Key: "PurchaseAmount", Value: codec.FormatAmount2(tx.Amount)},
		{Key: "Currency", Value: provider.NumericCurrencyCode(tx.Currency)},
		{Key: "BrandName", Value: provider.BrandCode(tx.BIN.Brand)},
		{Key: "IsRecurring", Value: "false"},
		{Key: "SessionInfo", Value: tx.ID},
		{Key: "SuccessUrl", Value: callback},
		{Key: "FailureUrl", Value: callback},
	}
	if inst := codec.InstallmentOrEmpty(tx.Installment); inst != "" {
		pairs = append(pairs, codec.FormPair{Key: "InstallmentCount", Value: inst})
	}

	raw, err := a.client.PostForm(ctx, a.enrollmentURL(term), codec.FormURLEncode(pairs), nil)
	if err != nil {
		a.Log(ctx, tx.ID, entity.LogError, map[string]string{"op": "VerifyEnrollment"}, err.Error())
		return err
	}

	var resp enrollmentResponse
	if err := codec.UnmarshalXML(raw, &resp); err != nil {
		a.Log(ctx, tx.ID, entity.LogError, map[string]string{"op": "VerifyEnrollment"}, string(raw))
		return apperr.Wrap(apperr.KindProvider, err, "vakifbank: malformed enrollment response")
	}

	a.Log(ctx, tx.ID, entity.LogInit, map[string]string{
		"verifyEnrollmentRequestId": requestID,
		"purchaseAmount":            codec.FormatAmount2(tx.Amount),
	}, map[string]string{"status": resp.Message.VERes.Status})

	if resp.Message.VERes.Status != "Y" {
		code := resp.MessageErrorCode
		if code == "" {
			code = resp.Message.VERes.Status
		}
		message := resp.ErrorMessage
		if message == "" {
			message = "cardholder not enrolled for 3D secure"
		}
		return apperr.WithCode(apperr.KindProvider, code, message)
	}

	tx.Secure = entity.SecureBundle{
		Provider: entity.ProviderVakifbank,
		FormData: map[string]string{
			"acsUrl":  resp.Message.VERes.ACSUrl,
			"paReq":   resp.Message.VERes.PaReq,
			"termUrl": resp.Message.VERes.TermURL,
			"md":      resp.Message.VERes.MD,
		},
		MD: resp.Message.VERes.MD,
	}

	return a.Transactions.SaveSecure(ctx, tx)
}

func (a *Adapter) FormHTML(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) (string, error) {
	if len(tx.Secure.FormData) == 0 {
		return "", apperr.New(apperr.KindState, "vakifbank: transaction has no 3-D form data")
	}

	termURL := tx.Secure.FormData["termUrl"]
	if termURL == "" {
		termURL = a.CallbackURL(tx.ID)
	}

	fields := []codec.FormPair{
		{Key: "PaReq", Value: tx.Secure.FormData["paReq"]},
		{Key: "TermUrl", Value: termURL},
		{Key: "MD", Value: tx.Secure.FormData["md"]},
	}

	a.Log(ctx, tx.ID, entity.Log3DForm, map[string]string{"acsUrl": tx.Secure.FormData["acsUrl"]}, nil)

	return provider.AutoSubmitForm(tx.Secure.FormData["acsUrl"], fields), nil
}

func (a *Adapter) ProcessCallback(ctx context.Context, tx *entity.Transaction, term *entity.Terminal, fields url.Values) error {
	a.Log(ctx, tx.ID, entity.Log3DCallback, flatten(fields), nil)

	if status := fields.Get("Status"); status != "Y" {
		message := fields.Get("ErrorMessage")
		if message == "" {
			message = "3D verification failed"
		}
		return apperr.WithCode(apperr.KindProvider, status, message)
	}

	tx.Secure.ECI = fields.Get("Eci")
	tx.Secure.CAVV = fields.Get("Cavv")
	if md := fields.Get("MD"); md != "" {
		tx.Secure.MD = md
	}
	if err := a.Transactions.SaveSecure(ctx, tx); err != nil {
		return err
	}

	return a.ProcessProvision(ctx, tx, term)
}

type vposRequest struct {
	XMLName                 xml.Name `xml:"VposRequest"`
	MerchantID              string   `xml:"MerchantId"`
	Password                string   `xml:"Password"`
	TerminalNo              string   `xml:"TerminalNo"`
	TransactionType         string   `xml:"TransactionType"`
	TransactionID           string   `xml:"TransactionId"`
	ReferenceTransactionID  string   `xml:"ReferenceTransactionId,omitempty"`
	CurrencyAmount          string   `xml:"CurrencyAmount,omitempty"`
	CurrencyCode            string   `xml:"CurrencyCode,omitempty"`
	NumberOfInstallments    string   `xml:"NumberOfInstallments,omitempty"`
	Pan                     string   `xml:"Pan,omitempty"`
	Expiry                  string   `xml:"Expiry,omitempty"`
	CVV                     string   `xml:"Cvv,omitempty"`
	ECI                     string   `xml:"ECI,omitempty"`
	CAVV                    string   `xml:"CAVV,omitempty"`
	MpiTransactionID        string   `xml:"MpiTransactionId,omitempty"`
	TransactionDeviceSource string   `xml:"TransactionDeviceSource"`
	ClientIP                string   `xml:"ClientIp,omitempty"`
}

type vposResponse struct {
	XMLName       xml.Name `xml:"VposResponse"`
	ResultCode    string   `xml:"ResultCode"`
	ResultDetail  string   `xml:"ResultDetail"`
	AuthCode      string   `xml:"AuthCode"`
	TransactionID string   `xml:"TransactionId"`
	Rrn           string   `xml:"Rrn"`
}

func (a *Adapter) ProcessProvision(ctx context.Context, tx *entity.Transaction, term *entity.Terminal) error {
	creds, err := a.Credentials(term)
	if err != nil {
		return err
	}
	card, err := a.Card(tx)
	if err != nil {
		return err
	}
	expiry, err := codec.ExpiryYYYYMM(card.Expiry)
	if err != nil {
		return err
	}

	req := vposRequest{
		MerchantID:              creds.MerchantID,
		Password:                creds.Password,
		TerminalNo:              creds.TerminalID,
		TransactionType:         "Sale",
		TransactionID:           tx.OrderID,
		CurrencyAmount:          codec.FormatAmount2(tx.Amount),
		CurrencyCode:            provider.NumericCurrencyCode(tx.Currency),
		NumberOfInstallments:    codec.InstallmentOrEmpty(tx.Installment),
		Pan:                     card.Number,
		Expiry:                  expiry,
		ECI:                     tx.Secure.ECI,
		CAVV:                    tx.Secure.CAVV,
		MpiTransactionID:        tx.Secure.MD,
		TransactionDeviceSource: "0",
		ClientIP:                tx.Customer.IP,
	}

	resp, err := a.send(ctx, tx, term, entity.LogProvision, req)
	if err != nil {
		return err
	}

	if resp.ResultCode != "0000" {
		return apperr.WithCode(apperr.KindProvider, resp.ResultCode, denialMessage(resp))
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
	expiry, err := codec.ExpiryYYYYMM(card.Expiry)
	if err != nil {
		return err
	}

	if tx.OrderID == "" {
		tx.OrderID = strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	tx.Secure.Provider = entity.ProviderVakifbank

	req := vposRequest{
		MerchantID:              creds.MerchantID,
		Password:                creds.Password,
		TerminalNo:              creds.TerminalID,
		TransactionType:         "Sale",
		TransactionID:           tx.OrderID,
		CurrencyAmount:          codec.FormatAmount2(tx.Amount),
		CurrencyCode:            provider.NumericCurrencyCode(tx.Currency),
		NumberOfInstallments:    codec.InstallmentOrEmpty(tx.Installment),
		Pan:                     card.Number,
		Expiry:                  expiry,
		CVV:                     card.CVV,
		TransactionDeviceSource: "0",
		ClientIP:                tx.Customer.IP,
	}

	resp, err := a.send(ctx, tx, term, entity.LogProvision, req)
	if err != nil {
		return err
	}

	if resp.ResultCode != "0000" {
		return apperr.WithCode(apperr.KindProvider, resp.ResultCode, denialMessage(resp))
	}

	return a.finalize(ctx, tx, resp)
}

func (a *Adapter) Refund(ctx context.Context, tx, original *entity.Transaction, term *entity.Terminal) error {
	return a.reversal(ctx, tx, original, term, "Refund", entity.LogRefund)
}

func (a *Adapter) Cancel(ctx context.Context, tx, original *entity.Transaction, term *entity.Terminal) error {
	return a.reversal(ctx, tx, original, term, "Cancel", entity.LogCancel)
}

func (a *Adapter) reversal(ctx context.Context, tx, original *entity.Transaction, term *entity.Terminal, txnType string, logType entity.LogType) error {
	creds, err := a.Credentials(term)
	if err != nil {
		return err
	}

	req := vposRequest{
		MerchantID:              creds.MerchantID,
		Password:                creds.Password,
		TerminalNo:              creds.TerminalID,
		TransactionType:         txnType,
		TransactionID:           tx.ID,
		ReferenceTransactionID:  original.OrderID,
		TransactionDeviceSource: "0",
		ClientIP:                original.Customer.IP,
	}
	if txnType == "Refund" {
		req.CurrencyAmount = codec.FormatAmount2(tx.Amount)
	}

	resp, err := a.send(ctx, tx, term, logType, req)
	if err != nil {
		return err
	}
	if resp.ResultCode != "0000" {
		return apperr.WithCode(apperr.KindProvider, resp.ResultCode, denialMessage(resp))
	}

	tx.OrderID = original.OrderID
	return a.finalize(ctx, tx, resp)
}

func (a *Adapter) Status(ctx context.Context, term *entity.Terminal, orderID string) (map[string]string, error) {
	creds, err := a.Credentials(term)
	if err != nil {
		return nil, err
	}

	req := vposRequest{
		MerchantID:              creds.MerchantID,
		Password:                creds.Password,
		TerminalNo:              creds.TerminalID,
		TransactionType:         "Status",
		TransactionID:           orderID,
		ReferenceTransactionID:  orderID,
		TransactionDeviceSource: "0",
	}

	body, err := codec.MarshalXML(req, "UTF-8")
	if err != nil {
		return nil, err
	}
	raw, err := a.client.PostForm(ctx, a.apiURL(term), "prmstr="+url.QueryEscape(body), nil)
	if err != nil {
		return nil, err
	}

	var resp vposResponse
	if err := codec.UnmarshalXML(raw, &resp); err != nil {
		return nil, apperr.Wrap(apperr.KindProvider, err, "vakifbank: malformed status response")
	}

	return map[string]string{
		"resultCode":    resp.ResultCode,
		"resultDetail":  resp.ResultDetail,
		"authCode":      resp.AuthCode,
		"transactionId": resp.TransactionID,
		"rrn":           resp.Rrn,
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

func (a *Adapter) send(ctx context.Context, tx *entity.Transaction, term *entity.Terminal, logType entity.LogType, req vposRequest) (*vposResponse, error) {
	body, err := codec.MarshalXML(req, "UTF-8")
	if err != nil {
		return nil, err
	}

	raw, err := a.client.PostForm(ctx, a.apiURL(term), "prmstr="+url.QueryEscape(body), nil)
	if err != nil {
		a.Log(ctx, tx.ID, entity.LogError, loggableRequest(req), err.Error())
		return nil, err
	}

	var resp vposResponse
	if err := codec.UnmarshalXML(raw, &resp); err != nil {
		a.Log(ctx, tx.ID, entity.LogError, loggableRequest(req), string(raw))
		return nil, apperr.Wrap(apperr.KindProvider, err, "vakifbank: malformed response")
	}

	a.Log(ctx, tx.ID, logType, loggableRequest(req), map[string]string{
		"resultCode":   resp.ResultCode,
		"resultDetail": resp.ResultDetail,
		"authCode":     resp.AuthCode,
	})

	return &resp, nil
}

func (a *Adapter) finalize(ctx context.Context, tx *entity.Transaction, resp *vposResponse) error {
	now := time.Now().UTC()
	tx.Status = entity.StatusSuccess
	tx.CompletedAt = &now
	tx.Result = &entity.Result{
		Success:   true,
		Code:      resp.ResultCode,
		Message:   resp.ResultDetail,
		AuthCode:  resp.AuthCode,
		RefNumber: resp.Rrn,
	}

	if err := a.Transactions.SaveSecure(ctx, tx); err != nil {
		return err
	}
	return a.Transactions.ClearCVV(ctx, tx.ID)
}

func denialMessage(resp *vposResponse) string {
	if resp.ResultDetail != "" {
		return resp.ResultDetail
	}
	return "transaction declined"
}

func loggableRequest(req vposRequest) map[string]string {
	return map[string]string{
		"transactionType": req.TransactionType,
		"transactionId":   req.TransactionID,
		"currencyAmount":  req.CurrencyAmount,
	}
}

func flatten(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for k := range values {
		out[k] = values.Get(k)
	}
	return out
}
