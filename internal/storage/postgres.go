package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	// database/sql driver
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/rezonia/sdi-gateway/internal/model"
)

// Schema is the DDL for the two tables. Applied by the operator or by
// calling EnsureSchema at startup.
const Schema = `
CREATE TABLE IF NOT EXISTS invoices (
    id                BIGSERIAL PRIMARY KEY,
    number            TEXT NOT NULL UNIQUE,
    date              DATE NOT NULL,
    supplier_tax_code TEXT NOT NULL,
    supplier_vat_id   TEXT NOT NULL,
    supplier_name     TEXT NOT NULL,
    customer_tax_code TEXT NOT NULL,
    customer_vat_id   TEXT,
    customer_name     TEXT NOT NULL,
    routing_code      TEXT,
    pec               TEXT,
    taxable_amount    NUMERIC(12,2) NOT NULL,
    tax_amount        NUMERIC(12,2) NOT NULL,
    total_amount      NUMERIC(12,2) NOT NULL,
    status            TEXT NOT NULL,
    document_path     TEXT,
    signed_path       TEXT,
    sdi_id            TEXT,
    sent_at           TIMESTAMPTZ,
    delivered_at      TIMESTAMPTZ,
    error_note        TEXT,
    created_at        TIMESTAMPTZ NOT NULL,
    updated_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS invoices_status_idx ON invoices (status);
CREATE INDEX IF NOT EXISTS invoices_sdi_id_idx ON invoices (sdi_id);

CREATE TABLE IF NOT EXISTS notifications (
    id           BIGSERIAL PRIMARY KEY,
    invoice_id   BIGINT NOT NULL REFERENCES invoices (id),
    kind         TEXT NOT NULL,
    sdi_id       TEXT NOT NULL,
    received_at  TIMESTAMPTZ NOT NULL,
    message      TEXT,
    payload_path TEXT,
    created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS notifications_invoice_id_idx ON notifications (invoice_id);
CREATE INDEX IF NOT EXISTS notifications_sdi_id_idx ON notifications (sdi_id);
`

// EnsureSchema creates the tables if they do not exist
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

const invoiceColumns = `id, number, date, supplier_tax_code, supplier_vat_id, supplier_name,
customer_tax_code, customer_vat_id, customer_name, routing_code, pec,
taxable_amount, tax_amount, total_amount, status, document_path, signed_path,
sdi_id, sent_at, delivered_at, error_note, created_at, updated_at`

// PostgresInvoiceStore persists invoices in PostgreSQL
type PostgresInvoiceStore struct {
	db *sql.DB
}

// NewPostgresInvoiceStore constructs a PostgreSQL-backed invoice store
func NewPostgresInvoiceStore(db *sql.DB) *PostgresInvoiceStore {
	return &PostgresInvoiceStore{db: db}
}

// Save inserts the invoice when ID is zero, otherwise updates it
func (s *PostgresInvoiceStore) Save(ctx context.Context, inv *model.Invoice) (*model.Invoice, error) {
	stored := *inv

	if stored.ID == 0 {
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = time.Now().UTC()
		}
		if stored.UpdatedAt.IsZero() {
			stored.UpdatedAt = stored.CreatedAt
		}
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO invoices (number, date, supplier_tax_code, supplier_vat_id, supplier_name,
				customer_tax_code, customer_vat_id, customer_name, routing_code, pec,
				taxable_amount, tax_amount, total_amount, status, document_path, signed_path,
				sdi_id, sent_at, delivered_at, error_note, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
			RETURNING id`,
			stored.Number, stored.Date, stored.SupplierTaxCode, stored.SupplierVATID, stored.SupplierName,
			stored.CustomerTaxCode, nullString(stored.CustomerVATID), stored.CustomerName,
			nullString(stored.RoutingCode), nullString(stored.PEC),
			stored.TaxableAmount, stored.TaxAmount, stored.TotalAmount, string(stored.Status),
			nullString(stored.DocumentPath), nullString(stored.SignedPath), nullString(stored.SdiID),
			nullTime(stored.SentAt), nullTime(stored.DeliveredAt), nullString(stored.ErrorNote),
			stored.CreatedAt, stored.UpdatedAt,
		).Scan(&stored.ID)
		if err != nil {
			return nil, fmt.Errorf("inserting invoice: %w", err)
		}
		return &stored, nil
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE invoices SET status = $2, document_path = $3, signed_path = $4, sdi_id = $5,
			sent_at = $6, delivered_at = $7, error_note = $8, updated_at = $9
		WHERE id = $1`,
		stored.ID, string(stored.Status),
		nullString(stored.DocumentPath), nullString(stored.SignedPath), nullString(stored.SdiID),
		nullTime(stored.SentAt), nullTime(stored.DeliveredAt), nullString(stored.ErrorNote),
		stored.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("updating invoice: %w", err)
	}
	return &stored, nil
}

// FindByID looks an invoice up by primary key
func (s *PostgresInvoiceStore) FindByID(ctx context.Context, id int64) (*model.Invoice, error) {
	return s.queryOne(ctx, "id = $1", strconv.FormatInt(id, 10), id)
}

// FindByNumber looks an invoice up by business number
func (s *PostgresInvoiceStore) FindByNumber(ctx context.Context, number string) (*model.Invoice, error) {
	return s.queryOne(ctx, "number = $1", number, number)
}

// FindBySdiID looks an invoice up by its authority-assigned identifier
func (s *PostgresInvoiceStore) FindBySdiID(ctx context.Context, sdiID string) (*model.Invoice, error) {
	return s.queryOne(ctx, "sdi_id = $1", sdiID, sdiID)
}

// FindByStatus returns all invoices in a status, ordered by ID
func (s *PostgresInvoiceStore) FindByStatus(ctx context.Context, status model.Status) ([]*model.Invoice, error) {
	return s.queryMany(ctx, "status = $1", string(status))
}

// FindByTotalRange returns invoices with a total inside [from, to]
func (s *PostgresInvoiceStore) FindByTotalRange(ctx context.Context, from, to decimal.Decimal) ([]*model.Invoice, error) {
	return s.queryMany(ctx, "total_amount BETWEEN $1 AND $2", from, to)
}

// List returns every invoice, ordered by ID
func (s *PostgresInvoiceStore) List(ctx context.Context) ([]*model.Invoice, error) {
	return s.queryMany(ctx, "TRUE")
}

// ExistsByNumber reports whether an invoice with the number exists
func (s *PostgresInvoiceStore) ExistsByNumber(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM invoices WHERE number = $1)`, number).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking invoice number: %w", err)
	}
	return exists, nil
}

// Delete removes an invoice by ID
func (s *PostgresInvoiceStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting invoice: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting invoice: %w", err)
	}
	if affected == 0 {
		return model.NewNotFoundError("invoice", strconv.FormatInt(id, 10))
	}
	return nil
}

func (s *PostgresInvoiceStore) queryOne(ctx context.Context, where, key string, arg interface{}) (*model.Invoice, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE `+where, arg)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewNotFoundError("invoice", key)
	}
	if err != nil {
		return nil, fmt.Errorf("querying invoice: %w", err)
	}
	return inv, nil
}

func (s *PostgresInvoiceStore) queryMany(ctx context.Context, where string, args ...interface{}) ([]*model.Invoice, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying invoices: %w", err)
	}
	defer rows.Close()

	var result []*model.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning invoice: %w", err)
		}
		result = append(result, inv)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInvoice(row rowScanner) (*model.Invoice, error) {
	var (
		inv          model.Invoice
		status       string
		customerVAT  sql.NullString
		routingCode  sql.NullString
		pec          sql.NullString
		documentPath sql.NullString
		signedPath   sql.NullString
		sdiID        sql.NullString
		errorNote    sql.NullString
		sentAt       sql.NullTime
		deliveredAt  sql.NullTime
	)

	err := row.Scan(&inv.ID, &inv.Number, &inv.Date,
		&inv.SupplierTaxCode, &inv.SupplierVATID, &inv.SupplierName,
		&inv.CustomerTaxCode, &customerVAT, &inv.CustomerName, &routingCode, &pec,
		&inv.TaxableAmount, &inv.TaxAmount, &inv.TotalAmount, &status,
		&documentPath, &signedPath, &sdiID, &sentAt, &deliveredAt, &errorNote,
		&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}

	inv.Status = model.Status(status)
	inv.CustomerVATID = customerVAT.String
	inv.RoutingCode = routingCode.String
	inv.PEC = pec.String
	inv.DocumentPath = documentPath.String
	inv.SignedPath = signedPath.String
	inv.SdiID = sdiID.String
	inv.ErrorNote = errorNote.String
	if sentAt.Valid {
		inv.SentAt = &sentAt.Time
	}
	if deliveredAt.Valid {
		inv.DeliveredAt = &deliveredAt.Time
	}
	return &inv, nil
}

// PostgresNotificationStore persists notifications in PostgreSQL
type PostgresNotificationStore struct {
	db *sql.DB
}

// NewPostgresNotificationStore constructs a PostgreSQL-backed notification store
func NewPostgresNotificationStore(db *sql.DB) *PostgresNotificationStore {
	return &PostgresNotificationStore{db: db}
}

// Save appends a notification record
func (s *PostgresNotificationStore) Save(ctx context.Context, n *model.Notification) (*model.Notification, error) {
	stored := *n
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO notifications (invoice_id, kind, sdi_id, received_at, message, payload_path, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id`,
		stored.InvoiceID, string(stored.Kind), stored.SdiID, stored.ReceivedAt,
		nullString(stored.Message), nullString(stored.PayloadPath), stored.CreatedAt,
	).Scan(&stored.ID)
	if err != nil {
		return nil, fmt.Errorf("inserting notification: %w", err)
	}
	return &stored, nil
}

// FindByInvoiceID returns all notifications for an invoice
func (s *PostgresNotificationStore) FindByInvoiceID(ctx context.Context, invoiceID int64) ([]*model.Notification, error) {
	return s.queryMany(ctx, "invoice_id = $1", invoiceID)
}

// FindBySdiID returns all notifications for an authority identifier
func (s *PostgresNotificationStore) FindBySdiID(ctx context.Context, sdiID string) ([]*model.Notification, error) {
	return s.queryMany(ctx, "sdi_id = $1", sdiID)
}

// FindByKind returns all notifications of a kind
func (s *PostgresNotificationStore) FindByKind(ctx context.Context, kind model.NotificationKind) ([]*model.Notification, error) {
	return s.queryMany(ctx, "kind = $1", string(kind))
}

func (s *PostgresNotificationStore) queryMany(ctx context.Context, where string, args ...interface{}) ([]*model.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_id, kind, sdi_id, received_at, message, payload_path, created_at
		FROM notifications WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var result []*model.Notification
	for rows.Next() {
		var (
			n           model.Notification
			kind        string
			message     sql.NullString
			payloadPath sql.NullString
		)
		if err := rows.Scan(&n.ID, &n.InvoiceID, &kind, &n.SdiID, &n.ReceivedAt,
			&message, &payloadPath, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		n.Kind = model.NotificationKind(kind)
		n.Message = message.String
		n.PayloadPath = payloadPath.String
		result = append(result, &n)
	}
	return result, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
