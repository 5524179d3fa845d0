package dto

import (
	"strings"

	"github.com/escrowdesk/backend/internal/models"
	"github.com/shopspring/decimal"
)

type AuthTelegramRequest struct {
	InitData string `json:"init_data"`
}

// PartyRequest names one side of a deal. Username "me" stands for the caller.
type PartyRequest struct {
	TelegramID int64  `json:"telegram_id,omitempty"`
	Username   string `json:"username,omitempty"`
}

func (p PartyRequest) isMe() bool {
	return p.TelegramID == 0 && models.NormalizeHandle(p.Username) == "me"
}

// Party resolves the request against the caller.
func (p PartyRequest) Party(caller models.Caller) models.Party {
	switch {
	case p.isMe():
		return models.ResolvedParty(caller.TelegramID, caller.Username)
	case p.TelegramID > 0:
		return models.ResolvedParty(p.TelegramID, p.Username)
	case models.NormalizeHandle(p.Username) != "":
		return models.HandleParty(p.Username)
	}
	return models.Party{}
}

type CreateDealRequest struct {
	Buyer       *PartyRequest `json:"buyer,omitempty"` // defaults to the caller
	Seller      PartyRequest  `json:"seller"`
	Amount      string        `json:"amount"`
	Currency    string        `json:"currency"`
	Description string        `json:"description"`
}

// Input converts the request into service input. Amount parse errors are
// reported by the caller; a zero amount fails service validation.
func (r CreateDealRequest) Input(caller models.Caller) (models.NewDealInput, error) {
	buyer := PartyRequest{Username: "me"}
	if r.Buyer != nil {
		buyer = *r.Buyer
	}

	var amount decimal.Decimal
	if s := strings.TrimSpace(r.Amount); s != "" {
		v, err := decimal.NewFromString(s)
		if err != nil {
			return models.NewDealInput{}, err
		}
		amount = v
	}

	return models.NewDealInput{
		Buyer:       buyer.Party(caller),
		Seller:      r.Seller.Party(caller),
		Amount:      amount,
		Currency:    r.Currency,
		Description: r.Description,
	}, nil
}

type ResolveRequest struct {
	Winner string `json:"winner"` // buyer / seller
}
