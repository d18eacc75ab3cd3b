package invoice

import (
	"invoicematch/internal/extraction"
	"invoicematch/internal/match"
	"invoicematch/internal/model"
)

// Response status tags.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Fixed messages for outcomes not owned by the credential ledger.
const (
	MessageSuccess        = "Invoice processed successfully"
	MessageFailed         = "Failed to process invoice"
	MessageInvalidRequest = "Please provide both companyID and username."
	MessageUnavailable    = "The product catalog is temporarily unavailable. Please try again later."
	MessageCanceled       = "The request was canceled."
)

// Response is the only shape returned to callers.
type Response struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Data    *InvoiceData `json:"data,omitempty"`
}

// InvoiceData is the payload of a successful response.
type InvoiceData struct {
	extraction.Header
	Products     []Product         `json:"products"`
	Usage        model.UsageReport `json:"usage"`
	RequestID    string            `json:"request_id"`
	QuotaWarning string            `json:"quota_warning,omitempty"`
}

// Product is an extracted line item with its catalog resolution.
type Product struct {
	extraction.LineItem
	match.ItemMatch
}

// Kind classifies how a request ended.
type Kind string

const (
	KindOK         Kind = "ok"
	KindInvalid    Kind = "invalid_request"
	KindCredential Kind = "credential"
	KindFatal      Kind = "fatal"
	KindExhausted  Kind = "exhausted"
	KindCanceled   Kind = "canceled"
	KindInternal   Kind = "internal"
)

// Outcome pairs the caller-visible response with internal detail that is
// logged but never serialized.
type Outcome struct {
	Response   Response
	Kind       Kind
	Diagnostic string
	RequestID  string
}

func failure(kind Kind, message, diagnostic string) *Outcome {
	return &Outcome{
		Response:   Response{Status: StatusError, Message: message},
		Kind:       kind,
		Diagnostic: diagnostic,
	}
}
