package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Deal statuses
const (
	DealStatusNew            = "NEW"
	DealStatusPendingDeposit = "PENDING_DEPOSIT"
	DealStatusFunded         = "FUNDED"
	DealStatusDelivered      = "DELIVERED"
	DealStatusReleased       = "RELEASED"
	DealStatusDisputed       = "DISPUTED"
	DealStatusResolved       = "RESOLVED"
	DealStatusCanceled       = "CANCELED"
)

// AllDealStatuses lists every persisted status token.
var AllDealStatuses = []string{
	DealStatusNew, DealStatusPendingDeposit, DealStatusFunded, DealStatusDelivered,
	DealStatusReleased, DealStatusDisputed, DealStatusResolved, DealStatusCanceled,
}

// Operations that move a deal between statuses.
const (
	OpInitiateDeposit = "initiate_deposit"
	OpVerifyDeposit   = "verify_deposit"
	OpRetryDeposit    = "retry_deposit"
	OpMarkDelivered   = "mark_delivered"
	OpRelease         = "release"
	OpOpenDispute     = "open_dispute"
	OpResolve         = "resolve"
	OpCancel          = "cancel"
)

// Valid state transitions: from -> []to
var ValidDealTransitions = map[string][]string{
	DealStatusNew:            {DealStatusPendingDeposit, DealStatusCanceled},
	DealStatusPendingDeposit: {DealStatusFunded, DealStatusCanceled},
	DealStatusFunded:         {DealStatusDelivered, DealStatusDisputed, DealStatusResolved, DealStatusCanceled},
	DealStatusDelivered:      {DealStatusReleased, DealStatusDisputed, DealStatusResolved, DealStatusCanceled},
	DealStatusDisputed:       {DealStatusDelivered, DealStatusResolved, DealStatusCanceled},
	DealStatusReleased:       {},
	DealStatusResolved:       {},
	DealStatusCanceled:       {},
}

// OperationSources maps each operation to the statuses it may be invoked from.
var OperationSources = map[string][]string{
	OpInitiateDeposit: {DealStatusNew},
	OpVerifyDeposit:   {DealStatusPendingDeposit},
	OpRetryDeposit:    {DealStatusPendingDeposit},
	OpMarkDelivered:   {DealStatusFunded, DealStatusDisputed},
	OpRelease:         {DealStatusDelivered},
	OpOpenDispute:     {DealStatusFunded, DealStatusDelivered},
	OpResolve:         {DealStatusDisputed, DealStatusFunded, DealStatusDelivered},
	OpCancel: {
		DealStatusNew, DealStatusPendingDeposit, DealStatusFunded,
		DealStatusDelivered, DealStatusDisputed,
	},
}

func IsValidTransition(from, to string) bool {
	allowed, ok := ValidDealTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// CanApply reports whether op may be invoked on a deal in status.
func CanApply(op, status string) bool {
	for _, s := range OperationSources[op] {
		if s == status {
			return true
		}
	}
	return false
}

func IsTerminal(status string) bool {
	allowed, ok := ValidDealTransitions[status]
	return ok && len(allowed) == 0
}

func IsValidStatus(status string) bool {
	_, ok := ValidDealTransitions[status]
	return ok
}

// Resolution winners
const (
	WinnerBuyer  = "buyer"
	WinnerSeller = "seller"
)

type Deal struct {
	ID                 int64           `json:"id"`
	Buyer              Party           `json:"buyer"`
	Seller             Party           `json:"seller"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	Description        string          `json:"description"`
	Status             string          `json:"status"`
	EscrowBalance      decimal.Decimal `json:"escrow_balance"`
	ResolutionWinner   *string         `json:"resolution_winner,omitempty"`
	DepositRequestedAt *time.Time      `json:"deposit_requested_at,omitempty"`
	Secrets            SecretHalves    `json:"-"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// SecretHalves holds the two participation tokens of a deal. Both are nil until issued.
type SecretHalves struct {
	BuyerHalf  *string
	SellerHalf *string
}

func (s SecretHalves) Issued() bool {
	return s.BuyerHalf != nil && *s.BuyerHalf != "" && s.SellerHalf != nil && *s.SellerHalf != ""
}

// RoleOf returns the side the caller is on. Buyer takes precedence when the caller is both.
func (d *Deal) RoleOf(c Caller) (string, bool) {
	switch {
	case d.Buyer.Matches(c):
		return WinnerBuyer, true
	case d.Seller.Matches(c):
		return WinnerSeller, true
	}
	return "", false
}

func (d *Deal) IsParticipant(c Caller) bool {
	_, ok := d.RoleOf(c)
	return ok
}
