package model

import "time"

// NotificationKind classifies an inbound SdI notification.
type NotificationKind string

const (
	// KindDeliveryReceipt (RC): the hub delivered the invoice to the recipient
	KindDeliveryReceipt NotificationKind = "DELIVERY_RECEIPT"
	// KindNonDelivery (MC): the hub could not deliver the invoice
	KindNonDelivery NotificationKind = "NON_DELIVERY"
	// KindDiscard (NS): the hub discarded the invoice after validation
	KindDiscard NotificationKind = "DISCARD"
	// KindOutcome (NE): the recipient accepted or rejected the invoice
	KindOutcome NotificationKind = "OUTCOME"
	// KindTransmissionAttestation (AT): attestation of transmission with
	// impossibility of delivery
	KindTransmissionAttestation NotificationKind = "TRANSMISSION_ATTESTATION"
	// KindExpiry (DT): acceptance terms expired, invoice deemed accepted
	KindExpiry NotificationKind = "EXPIRY"
)

// ParseNotificationKind parses a notification kind string
func ParseNotificationKind(s string) (NotificationKind, bool) {
	switch NotificationKind(s) {
	case KindDeliveryReceipt, KindNonDelivery, KindDiscard, KindOutcome,
		KindTransmissionAttestation, KindExpiry:
		return NotificationKind(s), true
	}
	return "", false
}

// Notification is an immutable audit record of one inbound SdI notification,
// correlated to its invoice by the authority-assigned identifier. An invoice
// may accumulate multiple notifications over its lifetime.
type Notification struct {
	ID        int64            `json:"id"`
	InvoiceID int64            `json:"invoice_id"`
	Kind      NotificationKind `json:"kind"`
	SdiID     string           `json:"sdi_id"`

	ReceivedAt time.Time `json:"received_at"`
	Message    string    `json:"message,omitempty"`

	// PayloadPath points at the raw notification payload persisted to disk
	PayloadPath string `json:"payload_path,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
