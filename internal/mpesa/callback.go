package mpesa

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Result codes that matter to reconciliation.
const (
	ResultSuccess         = 0
	ResultCancelledByUser = 1032
)

// ErrMalformedCallback is returned when a callback body lacks the STK shape.
var ErrMalformedCallback = errors.New("mpesa: malformed stk callback")

// CallbackEnvelope is the body Daraja POSTs to the callback URL.
type CallbackEnvelope struct {
	Body struct {
		STKCallback *STKCallback `json:"stkCallback"`
	} `json:"Body"`
}

type STKCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        int               `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

type CallbackMetadata struct {
	Item []MetadataItem `json:"Item"`
}

type MetadataItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value,omitempty"`
}

// Callback is a parsed STK callback with its metadata flattened.
type Callback struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Amount            string
	ReceiptNumber     string
	PhoneNumber       string
	TransactionDate   *time.Time
	Raw               []byte
}

// Status classifies the result code.
func (c Callback) Status() ResultStatus {
	return ClassifyResult(c.ResultCode)
}

// ResultStatus is the terminal outcome of an STK push.
type ResultStatus string

const (
	StatusSuccessful ResultStatus = "successful"
	StatusFailed     ResultStatus = "failed"
	StatusCancelled  ResultStatus = "cancelled"
)

// ClassifyResult maps a Daraja result code onto a terminal status.
func ClassifyResult(code int) ResultStatus {
	switch code {
	case ResultSuccess:
		return StatusSuccessful
	case ResultCancelledByUser:
		return StatusCancelled
	default:
		return StatusFailed
	}
}

// ParseCallback validates and flattens a raw callback body.
func ParseCallback(raw []byte) (Callback, error) {
	var env CallbackEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Callback{}, ErrMalformedCallback
	}
	cb := env.Body.STKCallback
	if cb == nil || strings.TrimSpace(cb.CheckoutRequestID) == "" {
		return Callback{}, ErrMalformedCallback
	}
	out := Callback{
		MerchantRequestID: cb.MerchantRequestID,
		CheckoutRequestID: strings.TrimSpace(cb.CheckoutRequestID),
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
		Raw:               raw,
	}
	if cb.CallbackMetadata == nil {
		return out, nil
	}
	for _, item := range cb.CallbackMetadata.Item {
		value := scalar(item.Value)
		switch item.Name {
		case "Amount":
			out.Amount = value
		case "MpesaReceiptNumber":
			out.ReceiptNumber = value
		case "PhoneNumber":
			out.PhoneNumber = value
		case "TransactionDate":
			if ts, err := time.ParseInLocation("20060102150405", value, eat); err == nil {
				out.TransactionDate = &ts
			}
		}
	}
	return out, nil
}

// scalar renders a metadata value, which may be a JSON number or string.
func scalar(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		return unquoted
	}
	return s
}
