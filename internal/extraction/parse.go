package extraction

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

const notRecognized = "not a recognized document type"

// column aliases, keyed by normalized field name.
var (
	colSKU      = []string{"sku", "description", "skuname"}
	colSKUCode  = []string{"skucode", "itemcode", "productcode"}
	colQuantity = []string{"quantity", "qty"}
	colShortage = []string{"shortage"}
	colBreakage = []string{"breakage"}
	colLeakage  = []string{"leakage"}
	colBatch    = []string{"batch", "batchno"}
	colSNo      = []string{"sno", "serialno"}
	colRate     = []string{"rate"}
	colDiscount = []string{"discount"}
	colMRP      = []string{"mrp", "mrpvalue"}
	colVAT      = []string{"vat", "vatvalue"}
	colHSCode   = []string{"hscode"}
	colAltQty   = []string{"altqty", "altquantity"}
	colUnit     = []string{"unit", "unitofmeasure", "uom"}
)

// normalizeKey folds "HS Code", "hs_code" and "hsCode" to "hscode".
func normalizeKey(k string) string {
	k = strings.ReplaceAll(k, " ", "")
	k = strings.ReplaceAll(k, "_", "")
	return strings.ToLower(k)
}

// ParseResponse reads the model's columnar JSON. Product columns are padded
// to the longest column and zipped into line items.
func ParseResponse(raw string) (Header, []LineItem, error) {
	body, ok := jsonObject(raw)
	if !ok {
		return Header{}, nil, &Error{Kind: KindMalformed, Message: "malformed model response: no JSON object found"}
	}

	fields := make(map[string]gjson.Result)
	gjson.Parse(body).ForEach(func(key, value gjson.Result) bool {
		nk := normalizeKey(key.String())
		if _, seen := fields[nk]; !seen {
			fields[nk] = value
		}
		return true
	})

	_, hasSKU := lookup(fields, colSKU)
	_, hasInvoice := fields["invoiceno"]
	_, hasCompany := fields["companyname"]
	if !hasSKU || (!hasInvoice && !hasCompany) {
		return Header{}, nil, &Error{Kind: KindNotRecognized, Message: notRecognized + ": missing required fields"}
	}

	header := Header{
		OrderNo:         str(fields["orderno"]),
		InvoiceNo:       str(fields["invoiceno"]),
		DeliveryNote:    str(fields["deliverynote"]),
		VehicleNo:       str(fields["vehicleno"]),
		Transporter:     str(fields["transporter"]),
		Date:            str(fields["date"]),
		DealerName:      str(fields["dealername"]),
		PWSNo:           str(fields["pwsno"]),
		CompanyName:     str(fields["companyname"]),
		TransactionType: str(fields["transactiontype"]),
		TransactionDate: str(fields["transactiondate"]),
		DueDate:         str(fields["duedate"]),
		InvoiceMiti:     str(fields["invoicemiti"]),
		InvoiceDate:     str(fields["invoicedate"]),
	}

	cols := [][]gjson.Result{}
	column := func(aliases []string) []gjson.Result {
		r, _ := lookup(fields, aliases)
		c := values(r)
		cols = append(cols, c)
		return c
	}
	sku := column(colSKU)
	skuCode := column(colSKUCode)
	quantity := column(colQuantity)
	shortage := column(colShortage)
	breakage := column(colBreakage)
	leakage := column(colLeakage)
	batch := column(colBatch)
	sno := column(colSNo)
	rate := column(colRate)
	discount := column(colDiscount)
	mrp := column(colMRP)
	vat := column(colVAT)
	hscode := column(colHSCode)
	altQty := column(colAltQty)
	unit := column(colUnit)

	n := 0
	for _, c := range cols {
		n = max(n, len(c))
	}

	items := make([]LineItem, n)
	for i := range items {
		item := LineItem{
			SKU:      strings.TrimSpace(strAt(sku, i)),
			SKUCode:  strAt(skuCode, i),
			Quantity: numAt(quantity, i),
			Shortage: numAt(shortage, i),
			Breakage: numAt(breakage, i),
			Leakage:  numAt(leakage, i),
			Batch:    strAt(batch, i),
			SNo:      strAt(sno, i),
			Rate:     numAt(rate, i),
			Discount: numAt(discount, i),
			MRP:      numAt(mrp, i),
			VAT:      numAt(vat, i),
			HSCode:   strAt(hscode, i),
			AltQty:   numAt(altQty, i),
			Unit:     strAt(unit, i),
		}
		if f := strings.Fields(item.SKU); len(f) > 0 {
			item.Brand = f[0]
		}
		items[i] = item
	}
	return header, items, nil
}

// jsonObject returns raw, or the outermost {...} span inside it, when that
// is valid JSON. Models sometimes wrap JSON in prose or code fences.
func jsonObject(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if gjson.Valid(raw) && gjson.Parse(raw).IsObject() {
		return raw, true
	}
	start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", false
	}
	body := raw[start : end+1]
	if !gjson.Valid(body) {
		return "", false
	}
	return body, true
}

func lookup(fields map[string]gjson.Result, aliases []string) (gjson.Result, bool) {
	for _, a := range aliases {
		if r, ok := fields[a]; ok && r.Type != gjson.Null {
			return r, true
		}
	}
	return gjson.Result{}, false
}

// values treats a scalar as a one-element column.
func values(r gjson.Result) []gjson.Result {
	switch {
	case !r.Exists() || r.Type == gjson.Null:
		return nil
	case r.IsArray():
		return r.Array()
	default:
		return []gjson.Result{r}
	}
}

func str(r gjson.Result) string {
	if r.Type == gjson.Null {
		return ""
	}
	return strings.TrimSpace(r.String())
}

func strAt(col []gjson.Result, i int) string {
	if i >= len(col) {
		return ""
	}
	return str(col[i])
}

func numAt(col []gjson.Result, i int) float64 {
	if i >= len(col) {
		return 0
	}
	r := col[i]
	switch r.Type {
	case gjson.Number:
		return r.Float()
	case gjson.String:
		s := strings.NewReplacer(",", "", " ", "").Replace(r.Str)
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}
