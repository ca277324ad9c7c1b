package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle status of an invoice within the transmission
// pipeline. Transitions are monotonic: a stage can only be entered after its
// precursor completed, and StatusFailed is reachable from any non-terminal
// state and recoverable by retrying the failed stage.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusGenerated Status = "GENERATED"
	StatusSigned    Status = "SIGNED"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusAccepted  Status = "ACCEPTED"
	StatusRejected  Status = "REJECTED"
	StatusDiscarded Status = "DISCARDED"
	StatusFailed    Status = "FAILED"
)

// ParseStatus parses a status string (case-sensitive, the stored form)
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusDraft, StatusGenerated, StatusSigned, StatusSent,
		StatusDelivered, StatusAccepted, StatusRejected, StatusDiscarded, StatusFailed:
		return Status(s), true
	}
	return "", false
}

// Terminal reports whether no further pipeline stage applies to the status.
// Notifications may still accumulate against a terminal invoice.
func (s Status) Terminal() bool {
	switch s {
	case StatusAccepted, StatusRejected, StatusDiscarded:
		return true
	}
	return false
}

// Invoice is the central entity: one electronic invoice tracked from
// creation through transmission to the exchange hub and back through
// delivery/acceptance notifications.
type Invoice struct {
	ID     int64  `json:"id"`
	Number string `json:"number"`

	Date time.Time `json:"date"`

	SupplierTaxCode string `json:"supplier_tax_code"`
	SupplierVATID   string `json:"supplier_vat_id"`
	SupplierName    string `json:"supplier_name"`

	CustomerTaxCode string `json:"customer_tax_code"`
	CustomerVATID   string `json:"customer_vat_id,omitempty"`
	CustomerName    string `json:"customer_name"`

	// RoutingCode addresses the recipient channel at the hub; the reserved
	// value "0000000" means delivery via certified mail (PEC) instead.
	RoutingCode string `json:"routing_code,omitempty"`
	PEC         string `json:"pec,omitempty"`

	TaxableAmount decimal.Decimal `json:"taxable_amount"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	TotalAmount   decimal.Decimal `json:"total_amount"`

	Status Status `json:"status"`

	DocumentPath string `json:"document_path,omitempty"`
	SignedPath   string `json:"signed_path,omitempty"`

	// SdiID is the authority-assigned transmission identifier, set once on
	// successful transmission.
	SdiID string `json:"sdi_id,omitempty"`

	SentAt      *time.Time `json:"sent_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`

	// ErrorNote is overwritten on each failure and cleared by the next
	// successful transition.
	ErrorNote string `json:"error_note,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Touch updates the last-modified timestamp. The coordinator calls this on
// every write; CreatedAt is set once and never changes.
func (inv *Invoice) Touch() {
	inv.UpdatedAt = time.Now().UTC()
}

// Deletable reports whether the invoice may be deleted. Only drafts and
// failed invoices can go; anything that reached the hub stays.
func (inv *Invoice) Deletable() bool {
	return inv.Status == StatusDraft || inv.Status == StatusFailed
}
