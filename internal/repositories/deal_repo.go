package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/escrowdesk/backend/internal/apperr"
	"github.com/escrowdesk/backend/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const dealColumns = `
	id, buyer_id, buyer_username, seller_id, seller_username,
	amount::text, currency, description, status, escrow_balance::text,
	resolution_winner, deposit_requested_at, secret_buyer_half, secret_seller_half,
	created_at, updated_at`

type DealRepo struct {
	pool *pgxpool.Pool
}

func NewDealRepo(pool *pgxpool.Pool) *DealRepo {
	return &DealRepo{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeal(row rowScanner) (*models.Deal, error) {
	var d models.Deal
	var amount, balance string
	err := row.Scan(&d.ID, &d.Buyer.TelegramID, &d.Buyer.Username, &d.Seller.TelegramID, &d.Seller.Username,
		&amount, &d.Currency, &d.Description, &d.Status, &balance,
		&d.ResolutionWinner, &d.DepositRequestedAt, &d.Secrets.BuyerHalf, &d.Secrets.SellerHalf,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	if d.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("deal %d amount: %w", d.ID, err)
	}
	if d.EscrowBalance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("deal %d escrow_balance: %w", d.ID, err)
	}
	return &d, nil
}

func collectDeals(rows pgx.Rows) ([]models.Deal, error) {
	defer rows.Close()

	var deals []models.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, *d)
	}
	return deals, rows.Err()
}

// Create inserts d and reloads the stored amount so callers see what GET returns.
func (r *DealRepo) Create(ctx context.Context, d *models.Deal) error {
	var amount, balance string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO deals (buyer_id, buyer_username, seller_id, seller_username,
		                   amount, currency, description, status, escrow_balance)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9::numeric)
		RETURNING id, amount::text, escrow_balance::text, created_at, updated_at
	`, d.Buyer.TelegramID, d.Buyer.Username, d.Seller.TelegramID, d.Seller.Username,
		d.Amount.String(), d.Currency, d.Description, d.Status, d.EscrowBalance.String(),
	).Scan(&d.ID, &amount, &balance, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return err
	}
	if d.Amount, err = decimal.NewFromString(amount); err != nil {
		return fmt.Errorf("deal %d amount: %w", d.ID, err)
	}
	if d.EscrowBalance, err = decimal.NewFromString(balance); err != nil {
		return fmt.Errorf("deal %d escrow_balance: %w", d.ID, err)
	}
	return nil
}

func (r *DealRepo) GetByID(ctx context.Context, id int64) (*models.Deal, error) {
	return scanDeal(r.pool.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = $1`, id))
}

func (r *DealRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE deals SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (r *DealRepo) UpdateBalance(ctx context.Context, id int64, balance string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE deals SET escrow_balance = $1::numeric, updated_at = now() WHERE id = $2
	`, balance, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (r *DealRepo) SetSecrets(ctx context.Context, id int64, buyerHalf, sellerHalf string) (models.SecretHalves, error) {
	var s models.SecretHalves
	_, err := r.pool.Exec(ctx, `
		UPDATE deals SET secret_buyer_half = $2, secret_seller_half = $3, updated_at = now()
		WHERE id = $1
		  AND (COALESCE(secret_buyer_half, '') = '' OR COALESCE(secret_seller_half, '') = '')
	`, id, buyerHalf, sellerHalf)
	if err != nil {
		return s, err
	}
	err = r.pool.QueryRow(ctx, `
		SELECT secret_buyer_half, secret_seller_half FROM deals WHERE id = $1
	`, id).Scan(&s.BuyerHalf, &s.SellerHalf)
	if errors.Is(err, pgx.ErrNoRows) {
		return s, apperr.ErrNotFound
	}
	return s, err
}

func (r *DealRepo) ListByParticipant(ctx context.Context, telegramID int64, handle string) ([]models.Deal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+dealColumns+` FROM deals
		WHERE ($1::bigint > 0 AND (buyer_id = $1 OR seller_id = $1))
		   OR ($2::text <> '' AND (buyer_username = $2 OR seller_username = $2))
		ORDER BY id DESC
	`, telegramID, handle)
	if err != nil {
		return nil, err
	}
	return collectDeals(rows)
}

func (r *DealRepo) ListAll(ctx context.Context, f DealFilter) ([]models.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals`
	args := []any{}
	argIdx := 1

	if f.Status != nil {
		query += fmt.Sprintf(" WHERE status = $%d", argIdx)
		args = append(args, *f.Status)
		argIdx++
	}
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, f.limit(), f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectDeals(rows)
}

func (r *DealRepo) ListAwaitingVerification(ctx context.Context) ([]models.Deal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+dealColumns+` FROM deals
		WHERE status = $1 AND deposit_requested_at IS NOT NULL
		ORDER BY deposit_requested_at
	`, models.DealStatusPendingDeposit)
	if err != nil {
		return nil, err
	}
	return collectDeals(rows)
}

func (r *DealRepo) Mutate(ctx context.Context, id int64, fn func(d *models.Deal) error) (*models.Deal, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := scanDeal(tx.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}

	if err := fn(d); err != nil {
		return nil, err
	}

	err = tx.QueryRow(ctx, `
		UPDATE deals
		SET status = $1, escrow_balance = $2::numeric, resolution_winner = $3,
		    deposit_requested_at = $4, updated_at = now()
		WHERE id = $5
		RETURNING updated_at
	`, d.Status, d.EscrowBalance.String(), d.ResolutionWinner, d.DepositRequestedAt, id,
	).Scan(&d.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("deal update failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return d, nil
}
