package server

import (
	"github.com/rezonia/sdi-gateway/internal/model"
)

// NotificationRequest is the inbound notification intake payload. The hub's
// forwarder posts the notification metadata; the payload itself is fetched
// back over the retrieval channel.
type NotificationRequest struct {
	SdiID    string `json:"sdi_id"`
	FileName string `json:"file_name"`
	Kind     string `json:"kind"`
	Message  string `json:"message,omitempty"`
}

// InvoiceResponse wraps one invoice
type InvoiceResponse struct {
	Invoice *model.Invoice `json:"invoice"`
}

// InvoiceListResponse wraps a list of invoices
type InvoiceListResponse struct {
	Invoices []*model.Invoice `json:"invoices"`
	Count    int              `json:"count"`
}

// NotificationListResponse wraps an invoice's notification audit trail
type NotificationListResponse struct {
	Notifications []*model.Notification `json:"notifications"`
	Count         int                   `json:"count"`
}

// ErrorResponse is the standard error response
type ErrorResponse struct {
	Error string `json:"error"`
}
