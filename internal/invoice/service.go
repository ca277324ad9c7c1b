// Package invoice coordinates the transmission lifecycle: create, generate,
// sign, send, and reconcile inbound notifications against stored invoices.
package invoice

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rezonia/sdi-gateway/internal/fatturapa"
	"github.com/rezonia/sdi-gateway/internal/model"
	"github.com/rezonia/sdi-gateway/internal/sdi"
	"github.com/rezonia/sdi-gateway/internal/signature"
	"github.com/rezonia/sdi-gateway/internal/storage"
)

// notificationsDir is where raw notification payloads are persisted,
// relative to the storage root.
const notificationsDir = "notifications"

// Coordinator drives invoices through the pipeline. Every stage persists its
// outcome before returning: on a stage failure the invoice is moved to
// FAILED with the error recorded, then the error is returned to the caller.
//
// Writes to the same invoice are serialized with a per-invoice lock, so a
// stage retry and a notification arriving concurrently cannot interleave.
type Coordinator struct {
	invoices      storage.InvoiceStore
	notifications storage.NotificationStore
	builder       *fatturapa.Builder
	signer        *signature.Engine
	client        *sdi.Client
	storagePath   string
	logger        *logrus.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewCoordinator wires the pipeline stages together
func NewCoordinator(
	invoices storage.InvoiceStore,
	notifications storage.NotificationStore,
	builder *fatturapa.Builder,
	signer *signature.Engine,
	client *sdi.Client,
	storagePath string,
	logger *logrus.Logger,
) *Coordinator {
	return &Coordinator{
		invoices:      invoices,
		notifications: notifications,
		builder:       builder,
		signer:        signer,
		client:        client,
		storagePath:   storagePath,
		logger:        logger,
		locks:         make(map[int64]*sync.Mutex),
	}
}

func (c *Coordinator) lockFor(id int64) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[id] = lock
	}
	return lock
}

// Create validates the request and persists a new draft invoice. Nothing is
// written to disk and nothing leaves the process.
func (c *Coordinator) Create(ctx context.Context, req *model.InvoiceRequest) (*model.Invoice, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	exists, err := c.invoices.ExistsByNumber(ctx, req.Number)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, model.NewValidationError("number", req.Number, "invoice number already exists")
	}

	now := time.Now().UTC()
	inv := &model.Invoice{
		Number:          req.Number,
		Date:            req.Date,
		SupplierTaxCode: req.Supplier.TaxCode,
		SupplierVATID:   req.Supplier.VATID,
		SupplierName:    req.Supplier.Name,
		CustomerTaxCode: req.Customer.TaxCode,
		CustomerVATID:   req.Customer.VATID,
		CustomerName:    req.Customer.Name,
		RoutingCode:     req.Customer.RoutingCode,
		PEC:             req.Customer.PEC,
		TaxableAmount:   req.TaxSummary.TaxableAmount,
		TaxAmount:       req.TaxSummary.TaxAmount,
		TotalAmount:     req.Total(),
		Status:          model.StatusDraft,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	saved, err := c.invoices.Save(ctx, inv)
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"id":     saved.ID,
		"number": saved.Number,
	}).Info("invoice created")
	return saved, nil
}

// GenerateDocument assembles the canonical XML document for an invoice and
// moves it to GENERATED. Allowed from any status: regeneration overwrites the
// previous document.
func (c *Coordinator) GenerateDocument(ctx context.Context, id int64, req *model.InvoiceRequest) (*model.Invoice, error) {
	lock := c.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	inv, err := c.invoices.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	path, err := c.builder.Build(req, inv)
	if err != nil {
		return nil, c.fail(ctx, inv, err)
	}

	inv.DocumentPath = path
	inv.Status = model.StatusGenerated
	inv.ErrorNote = ""
	inv.Touch()
	return c.invoices.Save(ctx, inv)
}

// Sign produces the signed envelope for a generated document and moves the
// invoice to SIGNED.
func (c *Coordinator) Sign(ctx context.Context, id int64) (*model.Invoice, error) {
	lock := c.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	inv, err := c.invoices.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.DocumentPath == "" {
		return nil, model.NewStateError("sign", inv.Status, "no document has been generated")
	}

	signedPath, err := c.signer.Sign(inv.DocumentPath)
	if err != nil {
		return nil, c.fail(ctx, inv, err)
	}

	inv.SignedPath = signedPath
	inv.Status = model.StatusSigned
	inv.ErrorNote = ""
	inv.Touch()
	return c.invoices.Save(ctx, inv)
}

// Send transmits the signed envelope to the hub and moves the invoice to
// SENT, recording the authority-assigned identifier. An invoice that already
// reached the hub cannot be sent again.
func (c *Coordinator) Send(ctx context.Context, id int64) (*model.Invoice, error) {
	lock := c.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	inv, err := c.invoices.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.SdiID != "" || inv.Status == model.StatusSent || inv.Status == model.StatusDelivered || inv.Status.Terminal() {
		return nil, model.NewStateError("send", inv.Status, "invoice was already transmitted")
	}
	if inv.SignedPath == "" {
		return nil, model.NewStateError("send", inv.Status, "no signed document available")
	}

	sdiID, err := c.client.Transmit(ctx, inv.SignedPath, filepath.Base(inv.SignedPath))
	if err != nil {
		return nil, c.fail(ctx, inv, err)
	}

	now := time.Now().UTC()
	inv.SdiID = sdiID
	inv.SentAt = &now
	inv.Status = model.StatusSent
	inv.ErrorNote = ""
	inv.Touch()
	return c.invoices.Save(ctx, inv)
}

// RunPipeline creates an invoice and drives it through generation, signing
// and transmission in one call. It stops at the first failing stage; the
// invoice is left in the state the failing stage recorded.
func (c *Coordinator) RunPipeline(ctx context.Context, req *model.InvoiceRequest) (*model.Invoice, error) {
	inv, err := c.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	if inv, err = c.GenerateDocument(ctx, inv.ID, req); err != nil {
		return inv, err
	}
	if inv, err = c.Sign(ctx, inv.ID); err != nil {
		return inv, err
	}
	return c.Send(ctx, inv.ID)
}

// Reconcile handles an inbound notification: it resolves the invoice by its
// authority identifier, fetches and persists the raw payload, records the
// notification and applies the lifecycle effect of its kind.
func (c *Coordinator) Reconcile(ctx context.Context, sdiID, fileName string, kind model.NotificationKind, message string) (*model.Invoice, error) {
	inv, err := c.invoices.FindBySdiID(ctx, sdiID)
	if err != nil {
		return nil, err
	}

	lock := c.lockFor(inv.ID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: a concurrent notification may have advanced
	// the invoice between the lookup and here.
	if inv, err = c.invoices.FindByID(ctx, inv.ID); err != nil {
		return nil, err
	}

	payloadPath := ""
	payload, err := c.client.FetchNotification(ctx, sdiID, fileName)
	if err != nil {
		// The payload is an audit artifact; the lifecycle effect still
		// applies when retrieval fails.
		c.logger.WithError(err).WithFields(logrus.Fields{
			"sdi_id": sdiID,
			"file":   fileName,
		}).Warn("notification payload retrieval failed")
	} else {
		payloadPath, err = c.storePayload(fileName, payload)
		if err != nil {
			c.logger.WithError(err).Warn("persisting notification payload failed")
			payloadPath = ""
		}
	}

	notification := &model.Notification{
		InvoiceID:   inv.ID,
		Kind:        kind,
		SdiID:       sdiID,
		ReceivedAt:  time.Now().UTC(),
		Message:     message,
		PayloadPath: payloadPath,
	}
	if _, err := c.notifications.Save(ctx, notification); err != nil {
		return nil, err
	}

	c.applyNotification(inv, kind, message)
	inv.Touch()

	c.logger.WithFields(logrus.Fields{
		"id":     inv.ID,
		"sdi_id": sdiID,
		"kind":   kind,
		"status": inv.Status,
	}).Info("notification reconciled")
	return c.invoices.Save(ctx, inv)
}

// applyNotification maps a notification kind onto the invoice lifecycle
func (c *Coordinator) applyNotification(inv *model.Invoice, kind model.NotificationKind, message string) {
	switch kind {
	case model.KindDeliveryReceipt:
		inv.Status = model.StatusDelivered
		if inv.DeliveredAt == nil {
			now := time.Now().UTC()
			inv.DeliveredAt = &now
		}
		inv.ErrorNote = ""
	case model.KindOutcome:
		if strings.Contains(strings.ToLower(message), "accettata") {
			inv.Status = model.StatusAccepted
			inv.ErrorNote = ""
		} else {
			inv.Status = model.StatusRejected
			inv.ErrorNote = message
		}
	case model.KindDiscard:
		inv.Status = model.StatusDiscarded
		inv.ErrorNote = message
	case model.KindNonDelivery, model.KindTransmissionAttestation:
		inv.Status = model.StatusFailed
		inv.ErrorNote = message
	case model.KindExpiry:
		// Silence past the acceptance term counts as acceptance
		inv.Status = model.StatusAccepted
		inv.ErrorNote = ""
	}
}

// Delete removes a draft or failed invoice and best-effort removes its
// on-disk artifacts.
func (c *Coordinator) Delete(ctx context.Context, id int64) error {
	lock := c.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	inv, err := c.invoices.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !inv.Deletable() {
		return model.NewStateError("delete", inv.Status, "only draft and failed invoices can be deleted")
	}

	if err := c.invoices.Delete(ctx, id); err != nil {
		return err
	}

	// Drop the lock entry so the map does not grow with deleted invoices. A
	// goroutine still waiting on the old mutex just finds the record gone.
	c.mu.Lock()
	delete(c.locks, id)
	c.mu.Unlock()

	for _, path := range []string{inv.DocumentPath, inv.SignedPath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			c.logger.WithError(err).WithField("path", path).Warn("removing invoice artifact failed")
		}
	}

	c.logger.WithFields(logrus.Fields{
		"id":     id,
		"number": inv.Number,
	}).Info("invoice deleted")
	return nil
}

// Get returns one invoice by ID
func (c *Coordinator) Get(ctx context.Context, id int64) (*model.Invoice, error) {
	return c.invoices.FindByID(ctx, id)
}

// GetByNumber returns one invoice by business number
func (c *Coordinator) GetByNumber(ctx context.Context, number string) (*model.Invoice, error) {
	return c.invoices.FindByNumber(ctx, number)
}

// List returns all invoices
func (c *Coordinator) List(ctx context.Context) ([]*model.Invoice, error) {
	return c.invoices.List(ctx)
}

// ByStatus returns all invoices in a status
func (c *Coordinator) ByStatus(ctx context.Context, status model.Status) ([]*model.Invoice, error) {
	return c.invoices.FindByStatus(ctx, status)
}

// ByTotalRange returns invoices with a total inside [from, to]
func (c *Coordinator) ByTotalRange(ctx context.Context, from, to decimal.Decimal) ([]*model.Invoice, error) {
	return c.invoices.FindByTotalRange(ctx, from, to)
}

// Notifications returns the audit trail for one invoice
func (c *Coordinator) Notifications(ctx context.Context, invoiceID int64) ([]*model.Notification, error) {
	return c.notifications.FindByInvoiceID(ctx, invoiceID)
}

// fail records a stage failure on the invoice and returns the original
// error. The failed save is logged but never masks the stage error.
func (c *Coordinator) fail(ctx context.Context, inv *model.Invoice, stageErr error) error {
	inv.Status = model.StatusFailed
	inv.ErrorNote = stageErr.Error()
	inv.Touch()
	if _, err := c.invoices.Save(ctx, inv); err != nil {
		c.logger.WithError(err).WithField("id", inv.ID).Error("recording stage failure failed")
	}
	c.logger.WithError(stageErr).WithFields(logrus.Fields{
		"id":     inv.ID,
		"number": inv.Number,
	}).Error("pipeline stage failed")
	return stageErr
}

func (c *Coordinator) storePayload(fileName string, payload []byte) (string, error) {
	dir := filepath.Join(c.storagePath, notificationsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, filepath.Base(fileName))
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
