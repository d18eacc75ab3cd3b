// Package extraction turns an invoice document into header fields, line
// items and a usage report by calling a remote model.
package extraction

import (
	"context"
	"strings"

	"invoicematch/internal/model"
)

// Document is an uploaded invoice.
type Document struct {
	Filename string
	MIMEType string
	Data     []byte
}

// Header holds the invoice-level fields.
type Header struct {
	OrderNo         string `json:"order_no"`
	InvoiceNo       string `json:"invoice_no"`
	DeliveryNote    string `json:"delivery_note"`
	VehicleNo       string `json:"vehicle_no"`
	Transporter     string `json:"transporter"`
	Date            string `json:"date"`
	DealerName      string `json:"dealer_name"`
	PWSNo           string `json:"pws_no"`
	CompanyName     string `json:"company_name"`
	TransactionType string `json:"transaction_type"`
	TransactionDate string `json:"transaction_date"`
	DueDate         string `json:"due_date"`
	InvoiceMiti     string `json:"invoice_miti"`
	InvoiceDate     string `json:"invoice_date"`
}

// LineItem is one product row.
type LineItem struct {
	SKU      string  `json:"sku"`
	SKUCode  string  `json:"sku_code"`
	Brand    string  `json:"brand"`
	Quantity float64 `json:"quantity"`
	Shortage float64 `json:"shortage"`
	Breakage float64 `json:"breakage"`
	Leakage  float64 `json:"leakage"`
	Batch    string  `json:"batch"`
	SNo      string  `json:"sno"`
	Rate     float64 `json:"rate"`
	Discount float64 `json:"discount"`
	MRP      float64 `json:"mrp"`
	VAT      float64 `json:"vat"`
	HSCode   string  `json:"hscode"`
	AltQty   float64 `json:"altQty"`
	Unit     string  `json:"unit"`
}

// Result is a successful extraction.
type Result struct {
	Header Header
	Items  []LineItem
	Usage  model.UsageReport
}

// Extractor calls the remote model with the given credential secret.
type Extractor interface {
	Extract(ctx context.Context, secret string, doc Document) (*Result, error)
}

var supportedTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"image/webp":      true,
	"image/heic":      true,
	"image/heif":      true,
}

// ValidateDocument rejects documents the model cannot read.
func ValidateDocument(doc Document) error {
	if len(doc.Data) == 0 {
		return &Error{Kind: KindInvalidInput, Message: "invalid file: document is empty"}
	}
	mime := strings.ToLower(strings.TrimSpace(strings.Split(doc.MIMEType, ";")[0]))
	if !supportedTypes[mime] {
		return &Error{Kind: KindInvalidInput, Message: "unsupported content type " + doc.MIMEType}
	}
	return nil
}
