package entity

import (
	"time"
)

// TransactionStatus is the state of a payment attempt. Transitions are
// monotonic: pending -> processing -> success | failed; success may later
// become cancelled through a void.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusProcessing TransactionStatus = "processing"
	StatusSuccess    TransactionStatus = "success"
	StatusFailed     TransactionStatus = "failed"
	StatusCancelled  TransactionStatus = "cancelled"
)

// Terminal reports whether s admits no further state transitions
func (s TransactionStatus) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next follows the state graph
func (s TransactionStatus) CanTransition(next TransactionStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusSuccess || next == StatusFailed
	case StatusSuccess:
		return next == StatusCancelled
	}
	return false
}

// Card carries the transaction's card fields. Holder, Number, Expiry and CVV
// are encrypted at rest; only Masked and BIN appear in public projections.
type Card struct {
	Holder string `bson:"holder,omitempty" json:"-"`
	Number string `bson:"number,omitempty" json:"-"`
	Expiry string `bson:"expiry,omitempty" json:"-"`
	CVV    string `bson:"cvv,omitempty" json:"-"`
	Masked string `bson:"masked" json:"masked"`
	BIN    int    `bson:"bin" json:"bin"`
}

// BINInfo is the resolved issuer snapshot taken at payment creation
type BINInfo struct {
	Bank     string `bson:"bank,omitempty" json:"bank,omitempty"`
	BankCode string `bson:"bankCode,omitempty" json:"bankCode,omitempty"`
	Brand    string `bson:"brand,omitempty" json:"brand,omitempty"`
	Type     string `bson:"type,omitempty" json:"type,omitempty"`
	Family   string `bson:"family,omitempty" json:"family,omitempty"`
	Country  string `bson:"country,omitempty" json:"country,omitempty"`
}

// CustomerInfo is the buyer snapshot
type CustomerInfo struct {
	Name  string `bson:"name,omitempty" json:"name,omitempty"`
	Email string `bson:"email,omitempty" json:"email,omitempty"`
	Phone string `bson:"phone,omitempty" json:"phone,omitempty"`
	IP    string `bson:"ip,omitempty" json:"ip,omitempty"`
}

// SecureBundle is the adapter-private 3-D state. Its shape varies by
// provider, so it is persisted verbatim as one subtree and never diffed
// field by field.
type SecureBundle struct {
	Provider    string            `bson:"provider,omitempty" json:"-"`
	FormData    map[string]string `bson:"formData,omitempty" json:"-"`
	Decrypted   map[string]string `bson:"decrypted,omitempty" json:"-"`
	HTMLContent string            `bson:"htmlContent,omitempty" json:"-"`
	MD          string            `bson:"md,omitempty" json:"-"`
	ECI         string            `bson:"eci,omitempty" json:"-"`
	CAVV        string            `bson:"cavv,omitempty" json:"-"`
	XID         string            `bson:"xid,omitempty" json:"-"`
}

// Result is the terminal outcome of the financial exchange
type Result struct {
	Success   bool   `bson:"success" json:"success"`
	Code      string `bson:"code,omitempty" json:"code,omitempty"`
	Message   string `bson:"message,omitempty" json:"message,omitempty"`
	AuthCode  string `bson:"authCode,omitempty" json:"authCode,omitempty"`
	RefNumber string `bson:"refNumber,omitempty" json:"refNumber,omitempty"`
}

// LogType tags a transaction log entry
type LogType string

const (
	LogInit       LogType = "init"
	Log3DForm     LogType = "3d_form"
	Log3DCallback LogType = "3d_callback"
	LogProvision  LogType = "provision"
	LogRefund     LogType = "refund"
	LogCancel     LogType = "cancel"
	LogStatus     LogType = "status"
	LogPreAuth    LogType = "pre_auth"
	LogPostAuth   LogType = "post_auth"
	LogError      LogType = "error"
)

// LogEntry is one element of the transaction's append-only exchange log
type LogEntry struct {
	Type     LogType   `bson:"type" json:"type"`
	Request  any       `bson:"request,omitempty" json:"request,omitempty"`
	Response any       `bson:"response,omitempty" json:"response,omitempty"`
	At       time.Time `bson:"at" json:"at"`
}

// Transaction is a single payment attempt
type Transaction struct {
	ID          string            `bson:"_id" json:"id"`
	TerminalID  string            `bson:"terminalId" json:"terminalId"`
	Company     string            `bson:"company" json:"company"`
	OrderID     string            `bson:"orderId" json:"orderId"`
	Amount      float64           `bson:"amount" json:"amount"`
	Currency    Currency          `bson:"currency" json:"currency"`
	Installment int               `bson:"installment" json:"installment"`
	Card        Card              `bson:"card" json:"card"`
	BIN         BINInfo           `bson:"binInfo,omitempty" json:"binInfo,omitempty"`
	Customer    CustomerInfo      `bson:"customer,omitempty" json:"customer,omitempty"`
	Status      TransactionStatus `bson:"status" json:"status"`
	Secure      SecureBundle      `bson:"secure,omitempty" json:"-"`
	Result      *Result           `bson:"result,omitempty" json:"result,omitempty"`
	Logs        []LogEntry        `bson:"logs,omitempty" json:"-"`
	ExternalID  string            `bson:"externalId,omitempty" json:"externalId,omitempty"`
	RefundOf    string            `bson:"refundOf,omitempty" json:"refundOf,omitempty"`
	CreatedAt   time.Time         `bson:"createdAt" json:"createdAt"`
	CompletedAt *time.Time        `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
	RefundedAt  *time.Time        `bson:"refundedAt,omitempty" json:"refundedAt,omitempty"`
	CancelledAt *time.Time        `bson:"cancelledAt,omitempty" json:"cancelledAt,omitempty"`
}

// PublicCard is the card projection safe for API responses
type PublicCard struct {
	Masked string `json:"masked"`
	BIN    int    `json:"bin"`
}

// PublicTransaction is the projection served by the status endpoints. No
// encrypted field reaches it.
type PublicTransaction struct {
	ID          string            `json:"id"`
	Status      TransactionStatus `json:"status"`
	Amount      float64           `json:"amount"`
	Currency    Currency          `json:"currency"`
	Installment int               `json:"installment"`
	Card        PublicCard        `json:"card"`
	Result      *Result           `json:"result,omitempty"`
	ExternalID  string            `json:"externalId,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
}

// Public returns the external projection of the transaction
func (t *Transaction) Public() PublicTransaction {
	return PublicTransaction{
		ID:          t.ID,
		Status:      t.Status,
		Amount:      t.Amount,
		Currency:    t.Currency,
		Installment: t.Installment,
		Card:        PublicCard{Masked: t.Card.Masked, BIN: t.Card.BIN},
		Result:      t.Result,
		ExternalID:  t.ExternalID,
		CreatedAt:   t.CreatedAt,
		CompletedAt: t.CompletedAt,
	}
}
