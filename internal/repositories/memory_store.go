package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/escrowdesk/backend/internal/apperr"
	"github.com/escrowdesk/backend/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryDealStore keeps deals in process. One mutex serialises every row,
// which is stricter than the per-row lock DealRepo takes.
type MemoryDealStore struct {
	mu     sync.Mutex
	deals  map[int64]*models.Deal
	nextID int64
	now    func() time.Time
}

func NewMemoryDealStore() *MemoryDealStore {
	return &MemoryDealStore{
		deals: make(map[int64]*models.Deal),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func cloneDeal(d *models.Deal) *models.Deal {
	c := *d
	c.Buyer = cloneParty(d.Buyer)
	c.Seller = cloneParty(d.Seller)
	c.ResolutionWinner = cloneString(d.ResolutionWinner)
	c.Secrets = models.SecretHalves{
		BuyerHalf:  cloneString(d.Secrets.BuyerHalf),
		SellerHalf: cloneString(d.Secrets.SellerHalf),
	}
	if d.DepositRequestedAt != nil {
		t := *d.DepositRequestedAt
		c.DepositRequestedAt = &t
	}
	return &c
}

func cloneParty(p models.Party) models.Party {
	var c models.Party
	if p.TelegramID != nil {
		id := *p.TelegramID
		c.TelegramID = &id
	}
	c.Username = cloneString(p.Username)
	return c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func (m *MemoryDealStore) Create(_ context.Context, d *models.Deal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	now := m.now()
	d.ID = m.nextID
	d.CreatedAt = now
	d.UpdatedAt = now
	m.deals[d.ID] = cloneDeal(d)
	return nil
}

func (m *MemoryDealStore) GetByID(_ context.Context, id int64) (*models.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.deals[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return cloneDeal(d), nil
}

func (m *MemoryDealStore) UpdateStatus(_ context.Context, id int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.deals[id]
	if !ok {
		return apperr.ErrNotFound
	}
	d.Status = status
	d.UpdatedAt = m.now()
	return nil
}

func (m *MemoryDealStore) UpdateBalance(_ context.Context, id int64, balance string) error {
	v, err := decimal.NewFromString(balance)
	if err != nil {
		return apperr.Validation("escrow_balance", err.Error())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.deals[id]
	if !ok {
		return apperr.ErrNotFound
	}
	d.EscrowBalance = v
	d.UpdatedAt = m.now()
	return nil
}

func (m *MemoryDealStore) SetSecrets(_ context.Context, id int64, buyerHalf, sellerHalf string) (models.SecretHalves, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.deals[id]
	if !ok {
		return models.SecretHalves{}, apperr.ErrNotFound
	}
	if !d.Secrets.Issued() {
		d.Secrets = models.SecretHalves{BuyerHalf: &buyerHalf, SellerHalf: &sellerHalf}
		d.UpdatedAt = m.now()
	}
	return models.SecretHalves{
		BuyerHalf:  cloneString(d.Secrets.BuyerHalf),
		SellerHalf: cloneString(d.Secrets.SellerHalf),
	}, nil
}

// sorted returns copies of the matching deals, newest first.
func (m *MemoryDealStore) sorted(match func(d *models.Deal) bool) []models.Deal {
	var out []models.Deal
	for _, d := range m.deals {
		if match(d) {
			out = append(out, *cloneDeal(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (m *MemoryDealStore) ListByParticipant(_ context.Context, telegramID int64, handle string) ([]models.Deal, error) {
	c := models.Caller{TelegramID: telegramID, Username: handle}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(d *models.Deal) bool { return d.IsParticipant(c) }), nil
}

func (m *MemoryDealStore) ListAll(_ context.Context, f DealFilter) ([]models.Deal, error) {
	m.mu.Lock()
	all := m.sorted(func(d *models.Deal) bool { return f.Status == nil || d.Status == *f.Status })
	m.mu.Unlock()

	if f.Offset >= len(all) {
		return nil, nil
	}
	all = all[f.Offset:]
	if n := f.limit(); len(all) > n {
		all = all[:n]
	}
	return all, nil
}

func (m *MemoryDealStore) ListAwaitingVerification(_ context.Context) ([]models.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.sorted(func(d *models.Deal) bool {
		return d.Status == models.DealStatusPendingDeposit && d.DepositRequestedAt != nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].DepositRequestedAt.Before(*out[j].DepositRequestedAt) })
	return out, nil
}

func (m *MemoryDealStore) Mutate(_ context.Context, id int64, fn func(d *models.Deal) error) (*models.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.deals[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	work := cloneDeal(stored)
	if err := fn(work); err != nil {
		return nil, err
	}

	// Only the transition-owned columns are persisted.
	stored.Status = work.Status
	stored.EscrowBalance = work.EscrowBalance
	stored.ResolutionWinner = cloneString(work.ResolutionWinner)
	stored.DepositRequestedAt = nil
	if work.DepositRequestedAt != nil {
		t := *work.DepositRequestedAt
		stored.DepositRequestedAt = &t
	}
	stored.UpdatedAt = m.now()
	return cloneDeal(stored), nil
}

// MemoryAuditStore is the in-process counterpart of AuditRepo.
type MemoryAuditStore struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (m *MemoryAuditStore) Log(_ context.Context, entry models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MemoryAuditStore) GetByDeal(_ context.Context, dealID int64, limit, offset int) ([]models.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.AuditLog
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].DealID == dealID {
			out = append(out, m.entries[i])
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
