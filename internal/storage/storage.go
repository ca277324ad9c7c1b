// Package storage defines the persistence interfaces for invoices and
// notifications, with in-memory and PostgreSQL implementations.
package storage

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rezonia/sdi-gateway/internal/model"
)

// InvoiceStore persists invoice records. Implementations must make Save
// atomic per record; the coordinator serializes concurrent writes to the
// same invoice on top of this.
type InvoiceStore interface {
	// Save inserts the invoice when ID is zero, otherwise updates it.
	// Returns the stored record with its assigned ID.
	Save(ctx context.Context, inv *model.Invoice) (*model.Invoice, error)

	FindByID(ctx context.Context, id int64) (*model.Invoice, error)
	FindByNumber(ctx context.Context, number string) (*model.Invoice, error)
	FindBySdiID(ctx context.Context, sdiID string) (*model.Invoice, error)
	FindByStatus(ctx context.Context, status model.Status) ([]*model.Invoice, error)
	FindByTotalRange(ctx context.Context, from, to decimal.Decimal) ([]*model.Invoice, error)
	List(ctx context.Context) ([]*model.Invoice, error)

	ExistsByNumber(ctx context.Context, number string) (bool, error)

	Delete(ctx context.Context, id int64) error
}

// NotificationStore persists notification records. Notifications are an
// append-only audit trail: there is no update or delete.
type NotificationStore interface {
	Save(ctx context.Context, n *model.Notification) (*model.Notification, error)

	FindByInvoiceID(ctx context.Context, invoiceID int64) ([]*model.Notification, error)
	FindBySdiID(ctx context.Context, sdiID string) ([]*model.Notification, error)
	FindByKind(ctx context.Context, kind model.NotificationKind) ([]*model.Notification, error)
}
