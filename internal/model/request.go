package model

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	money "github.com/rezonia/sdi-gateway/internal/decimal"
)

var vatIDPattern = regexp.MustCompile(`^[0-9]{11}$`)

// InvoiceRequest is the invoice creation payload. It carries everything the
// document builder needs beyond the persisted record: full addresses, line
// items, the tax summary and optional payment terms.
type InvoiceRequest struct {
	Number string    `json:"number"`
	Date   time.Time `json:"date"`

	Supplier PartyRequest `json:"supplier"`
	Customer PartyRequest `json:"customer"`

	Lines      []LineRequest   `json:"lines"`
	TaxSummary *TaxSummary     `json:"tax_summary"`
	Payment    *PaymentRequest `json:"payment,omitempty"`
}

// PartyRequest identifies one side of the invoice with its fiscal identity
// and registered address.
type PartyRequest struct {
	Name    string `json:"name"`
	VATID   string `json:"vat_id,omitempty"`
	TaxCode string `json:"tax_code,omitempty"`

	Address  string `json:"address"`
	ZIP      string `json:"zip"`
	City     string `json:"city"`
	Province string `json:"province"`
	Country  string `json:"country"`

	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`

	// Recipient-only routing: a 7-char code, or PEC for certified mail
	RoutingCode string `json:"routing_code,omitempty"`
	PEC         string `json:"pec,omitempty"`
}

// LineRequest is one invoice line item
type LineRequest struct {
	Number      int             `json:"number"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Unit        string          `json:"unit"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	VATRate     decimal.Decimal `json:"vat_rate"`
}

// TaxSummary aggregates the taxable base and tax for the document
type TaxSummary struct {
	VATRate       decimal.Decimal `json:"vat_rate"`
	TaxableAmount decimal.Decimal `json:"taxable_amount"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	Nature        string          `json:"nature,omitempty"`
}

// PaymentRequest holds optional payment terms (TP01..TP03 / MP01..MP23 codes)
type PaymentRequest struct {
	Terms   string        `json:"terms"`
	Detail  PaymentDetail `json:"detail"`
}

// PaymentDetail is one payment installment
type PaymentDetail struct {
	Method  string          `json:"method"`
	DueDate time.Time       `json:"due_date"`
	Amount  decimal.Decimal `json:"amount"`
	IBAN    string          `json:"iban,omitempty"`
	Bank    string          `json:"bank,omitempty"`
}

// Total returns taxable + tax from the summary
func (r *InvoiceRequest) Total() decimal.Decimal {
	if r.TaxSummary == nil {
		return decimal.Zero
	}
	return r.TaxSummary.TaxableAmount.Add(r.TaxSummary.TaxAmount)
}

// Validate checks the request before any state is created. It returns a
// *ValidationError on the first violated rule.
func (r *InvoiceRequest) Validate() error {
	if r.Number == "" {
		return NewValidationError("number", nil, "invoice number is required")
	}
	if r.Date.IsZero() {
		return NewValidationError("date", nil, "invoice date is required")
	}
	if err := r.Supplier.validate("supplier", true); err != nil {
		return err
	}
	if err := r.Customer.validate("customer", false); err != nil {
		return err
	}
	if len(r.Lines) == 0 {
		return NewValidationError("lines", nil, "at least one line item is required")
	}
	for _, line := range r.Lines {
		if line.Description == "" {
			return NewValidationError("lines.description", line.Number, "line description is required")
		}
		if !line.Quantity.IsPositive() {
			return NewValidationError("lines.quantity", line.Quantity.String(), "quantity must be positive")
		}
		if line.UnitPrice.IsNegative() {
			return NewValidationError("lines.unit_price", line.UnitPrice.String(), "unit price must not be negative")
		}
	}
	if r.TaxSummary == nil {
		return NewValidationError("tax_summary", nil, "tax summary is required")
	}
	if !r.TaxSummary.TaxableAmount.IsPositive() {
		return NewValidationError("tax_summary.taxable_amount", r.TaxSummary.TaxableAmount.String(), "taxable amount must be positive")
	}
	if r.TaxSummary.TaxAmount.IsNegative() {
		return NewValidationError("tax_summary.tax_amount", r.TaxSummary.TaxAmount.String(), "tax amount must not be negative")
	}

	// Amount consistency: the summary must agree with the line items
	totals := make([]decimal.Decimal, 0, len(r.Lines))
	for _, line := range r.Lines {
		totals = append(totals, money.Mul(line.Quantity, line.UnitPrice))
	}
	if !money.Sum(totals).Equal(r.TaxSummary.TaxableAmount) {
		return NewValidationError("tax_summary.taxable_amount", r.TaxSummary.TaxableAmount.String(), "taxable amount does not match the line totals")
	}
	if !r.TaxSummary.TaxAmount.Equal(money.CalculateVAT(r.TaxSummary.TaxableAmount, r.TaxSummary.VATRate)) {
		return NewValidationError("tax_summary.tax_amount", r.TaxSummary.TaxAmount.String(), "tax amount does not match the taxable amount and rate")
	}
	return nil
}

func (p *PartyRequest) validate(field string, vatRequired bool) error {
	if p.Name == "" {
		return NewValidationError(field+".name", nil, "name is required")
	}
	if vatRequired && !vatIDPattern.MatchString(p.VATID) {
		return NewValidationError(field+".vat_id", p.VATID, "VAT number must be 11 digits")
	}
	if p.VATID != "" && !vatIDPattern.MatchString(p.VATID) {
		return NewValidationError(field+".vat_id", p.VATID, "VAT number must be 11 digits")
	}
	if !vatRequired && p.VATID == "" && p.TaxCode == "" {
		return NewValidationError(field+".tax_code", nil, "tax code or VAT number is required")
	}
	if p.Address == "" || p.ZIP == "" || p.City == "" {
		return NewValidationError(field+".address", nil, "address, zip and city are required")
	}
	if len(p.Province) != 2 {
		return NewValidationError(field+".province", p.Province, "province must be 2 characters")
	}
	if len(p.Country) != 2 {
		return NewValidationError(field+".country", p.Country, "country must be 2 characters")
	}
	if p.RoutingCode != "" && len(p.RoutingCode) != 7 {
		return NewValidationError(field+".routing_code", p.RoutingCode, "routing code must be 7 characters")
	}
	return nil
}
