package repositories

import (
	"context"

	"github.com/escrowdesk/backend/internal/models"
)

// DealStore is the durable table of deals. Mutators return apperr.ErrNotFound for unknown ids.
type DealStore interface {
	Create(ctx context.Context, d *models.Deal) error
	GetByID(ctx context.Context, id int64) (*models.Deal, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
	UpdateBalance(ctx context.Context, id int64, balance string) error
	// SetSecrets stores both halves only if the deal has none yet and returns
	// whatever halves are persisted afterwards.
	SetSecrets(ctx context.Context, id int64, buyerHalf, sellerHalf string) (models.SecretHalves, error)
	ListByParticipant(ctx context.Context, telegramID int64, handle string) ([]models.Deal, error)
	ListAll(ctx context.Context, f DealFilter) ([]models.Deal, error)
	ListAwaitingVerification(ctx context.Context) ([]models.Deal, error)
	// Mutate loads the deal under a row lock, applies fn and persists status,
	// balance, winner and deposit timestamp when fn returns nil.
	Mutate(ctx context.Context, id int64, fn func(d *models.Deal) error) (*models.Deal, error)
}

type AuditStore interface {
	Log(ctx context.Context, entry models.AuditLog) error
	GetByDeal(ctx context.Context, dealID int64, limit, offset int) ([]models.AuditLog, error)
}

type DealFilter struct {
	Status *string
	Limit  int
	Offset int
}

func (f DealFilter) limit() int {
	if f.Limit <= 0 || f.Limit > 500 {
		return 100
	}
	return f.Limit
}
