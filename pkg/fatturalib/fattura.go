// Package fatturalib provides a public API for the FatturaPA transmission
// pipeline types.
//
// This package exposes the core entities tracked by the gateway: invoices,
// their lifecycle statuses and the notifications the exchange hub sends
// back after transmission.
//
// Example usage:
//
//	if invoice.Status == fatturalib.StatusDelivered {
//	    fmt.Println("delivered at", invoice.DeliveredAt)
//	}
package fatturalib

import "github.com/rezonia/sdi-gateway/internal/model"

// Re-export core types for public API
type (
	Invoice          = model.Invoice
	InvoiceRequest   = model.InvoiceRequest
	PartyRequest     = model.PartyRequest
	LineRequest      = model.LineRequest
	TaxSummary       = model.TaxSummary
	PaymentRequest   = model.PaymentRequest
	PaymentDetail    = model.PaymentDetail
	Notification     = model.Notification
	Status           = model.Status
	NotificationKind = model.NotificationKind
)

// Re-export lifecycle statuses
const (
	StatusDraft     = model.StatusDraft
	StatusGenerated = model.StatusGenerated
	StatusSigned    = model.StatusSigned
	StatusSent      = model.StatusSent
	StatusDelivered = model.StatusDelivered
	StatusAccepted  = model.StatusAccepted
	StatusRejected  = model.StatusRejected
	StatusDiscarded = model.StatusDiscarded
	StatusFailed    = model.StatusFailed
)

// Re-export notification kinds
const (
	KindDeliveryReceipt         = model.KindDeliveryReceipt
	KindNonDelivery             = model.KindNonDelivery
	KindDiscard                 = model.KindDiscard
	KindOutcome                 = model.KindOutcome
	KindTransmissionAttestation = model.KindTransmissionAttestation
	KindExpiry                  = model.KindExpiry
)

// Re-export error types
type (
	ValidationError   = model.ValidationError
	NotFoundError     = model.NotFoundError
	BuildError        = model.BuildError
	SignatureError    = model.SignatureError
	TransmissionError = model.TransmissionError
	StateError        = model.StateError
)

// ParseStatus parses a stored status string
func ParseStatus(s string) (Status, bool) {
	return model.ParseStatus(s)
}

// ParseNotificationKind parses a stored notification kind string
func ParseNotificationKind(s string) (NotificationKind, bool) {
	return model.ParseNotificationKind(s)
}
