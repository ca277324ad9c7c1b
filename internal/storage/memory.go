package storage

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rezonia/sdi-gateway/internal/model"
)

// MemoryInvoiceStore is an in-memory InvoiceStore for tests and single-node
// development. For production use PostgresInvoiceStore.
type MemoryInvoiceStore struct {
	mu       sync.RWMutex
	invoices map[int64]*model.Invoice
	nextID   int64
}

// NewMemoryInvoiceStore creates an empty in-memory invoice store
func NewMemoryInvoiceStore() *MemoryInvoiceStore {
	return &MemoryInvoiceStore{
		invoices: make(map[int64]*model.Invoice),
		nextID:   1,
	}
}

// Save inserts or updates an invoice. The stored copy is detached from the
// caller's pointer.
func (s *MemoryInvoiceStore) Save(ctx context.Context, inv *model.Invoice) (*model.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *inv
	if stored.ID == 0 {
		stored.ID = s.nextID
		s.nextID++
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = time.Now().UTC()
		}
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	s.invoices[stored.ID] = &stored

	result := stored
	return &result, nil
}

// FindByID looks an invoice up by primary key
func (s *MemoryInvoiceStore) FindByID(ctx context.Context, id int64) (*model.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[id]
	if !ok {
		return nil, model.NewNotFoundError("invoice", intKey(id))
	}
	result := *inv
	return &result, nil
}

// FindByNumber looks an invoice up by business number
func (s *MemoryInvoiceStore) FindByNumber(ctx context.Context, number string) (*model.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inv := range s.invoices {
		if inv.Number == number {
			result := *inv
			return &result, nil
		}
	}
	return nil, model.NewNotFoundError("invoice", number)
}

// FindBySdiID looks an invoice up by its authority-assigned identifier
func (s *MemoryInvoiceStore) FindBySdiID(ctx context.Context, sdiID string) (*model.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inv := range s.invoices {
		if inv.SdiID == sdiID {
			result := *inv
			return &result, nil
		}
	}
	return nil, model.NewNotFoundError("invoice", sdiID)
}

// FindByStatus returns all invoices in the given status, ordered by ID
func (s *MemoryInvoiceStore) FindByStatus(ctx context.Context, status model.Status) ([]*model.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.Invoice
	for _, inv := range s.invoices {
		if inv.Status == status {
			copied := *inv
			result = append(result, &copied)
		}
	}
	sortByID(result)
	return result, nil
}

// FindByTotalRange returns invoices with from <= total <= to, ordered by ID
func (s *MemoryInvoiceStore) FindByTotalRange(ctx context.Context, from, to decimal.Decimal) ([]*model.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.Invoice
	for _, inv := range s.invoices {
		if inv.TotalAmount.GreaterThanOrEqual(from) && inv.TotalAmount.LessThanOrEqual(to) {
			copied := *inv
			result = append(result, &copied)
		}
	}
	sortByID(result)
	return result, nil
}

// List returns every invoice, ordered by ID
func (s *MemoryInvoiceStore) List(ctx context.Context) ([]*model.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*model.Invoice, 0, len(s.invoices))
	for _, inv := range s.invoices {
		copied := *inv
		result = append(result, &copied)
	}
	sortByID(result)
	return result, nil
}

// ExistsByNumber reports whether an invoice with the number exists
func (s *MemoryInvoiceStore) ExistsByNumber(ctx context.Context, number string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inv := range s.invoices {
		if inv.Number == number {
			return true, nil
		}
	}
	return false, nil
}

// Delete removes an invoice by ID
func (s *MemoryInvoiceStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.invoices[id]; !ok {
		return model.NewNotFoundError("invoice", intKey(id))
	}
	delete(s.invoices, id)
	return nil
}

// MemoryNotificationStore is an in-memory NotificationStore
type MemoryNotificationStore struct {
	mu            sync.RWMutex
	notifications []*model.Notification
	nextID        int64
}

// NewMemoryNotificationStore creates an empty in-memory notification store
func NewMemoryNotificationStore() *MemoryNotificationStore {
	return &MemoryNotificationStore{nextID: 1}
}

// Save appends a notification record
func (s *MemoryNotificationStore) Save(ctx context.Context, n *model.Notification) (*model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *n
	stored.ID = s.nextID
	s.nextID++
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.notifications = append(s.notifications, &stored)

	result := stored
	return &result, nil
}

// FindByInvoiceID returns all notifications for an invoice
func (s *MemoryNotificationStore) FindByInvoiceID(ctx context.Context, invoiceID int64) ([]*model.Notification, error) {
	return s.filter(func(n *model.Notification) bool { return n.InvoiceID == invoiceID })
}

// FindBySdiID returns all notifications for an authority identifier
func (s *MemoryNotificationStore) FindBySdiID(ctx context.Context, sdiID string) ([]*model.Notification, error) {
	return s.filter(func(n *model.Notification) bool { return n.SdiID == sdiID })
}

// FindByKind returns all notifications of a kind
func (s *MemoryNotificationStore) FindByKind(ctx context.Context, kind model.NotificationKind) ([]*model.Notification, error) {
	return s.filter(func(n *model.Notification) bool { return n.Kind == kind })
}

func (s *MemoryNotificationStore) filter(keep func(*model.Notification) bool) ([]*model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.Notification
	for _, n := range s.notifications {
		if keep(n) {
			copied := *n
			result = append(result, &copied)
		}
	}
	return result, nil
}

func sortByID(invoices []*model.Invoice) {
	sort.Slice(invoices, func(i, j int) bool { return invoices[i].ID < invoices[j].ID })
}

func intKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
