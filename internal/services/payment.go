package services

import (
	"context"
	"fmt"
	"time"

	"github.com/escrowdesk/backend/internal/apperr"
	"github.com/escrowdesk/backend/internal/models"
	"github.com/escrowdesk/backend/internal/ton"
	"github.com/shopspring/decimal"
)

// PaymentInfo tells the buyer where to send the deposit and when it will be checked.
type PaymentInfo struct {
	DealID             int64           `json:"deal_id"`
	Address            string          `json:"address"`
	Memo               string          `json:"memo"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	Status             string          `json:"status"`
	DepositRequestedAt *time.Time      `json:"deposit_requested_at,omitempty"`
	CheckDueAt         *time.Time      `json:"check_due_at,omitempty"`
}

// ValidateDepositAddress checks that addr is a well-formed TON address.
// Nothing is sent to or read from the network.
func ValidateDepositAddress(addr string) error {
	if addr == "" {
		return apperr.Validation("deposit_address", "not configured")
	}
	if _, err := ton.ParseDepositAddress(addr); err != nil {
		return apperr.Validation("deposit_address", err.Error())
	}
	return nil
}

func DepositMemo(dealID int64) string {
	return fmt.Sprintf("deal:%d", dealID)
}

func (s *DealService) GetPaymentInfo(ctx context.Context, id int64) (*PaymentInfo, error) {
	deal, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if deal.Status != models.DealStatusPendingDeposit {
		return nil, &apperr.IllegalTransitionError{
			Op:     "payment_info",
			Status: deal.Status,
			Reason: "deposit instructions exist only while a deposit is pending",
		}
	}

	info := &PaymentInfo{
		DealID:             deal.ID,
		Address:            s.deposit.Address,
		Memo:               DepositMemo(deal.ID),
		Amount:             deal.Amount,
		Currency:           deal.Currency,
		Status:             deal.Status,
		DepositRequestedAt: deal.DepositRequestedAt,
	}
	if deal.DepositRequestedAt != nil {
		due := deal.DepositRequestedAt.Add(s.deposit.VerifyDelay)
		info.CheckDueAt = &due
	}
	return info, nil
}
