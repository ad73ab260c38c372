package event

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RateUpdate is an exchange-rate publication for one settlement currency.
// The processor fans it out as a ChangeRates command to every open
// settlement in that currency.
type RateUpdate struct {
	UpdateID       uuid.UUID        `json:"update_id"`
	Currency       string           `json:"currency"`
	SettlementRate decimal.Decimal  `json:"settlement_rate"`
	CityRate       *decimal.Decimal `json:"city_rate,omitempty"`
	IssuedAt       time.Time        `json:"issued_at"`
}

// CommandFor derives the ChangeRates command for one settlement. The command
// id is a name-based UUID of the update and the settlement, so redelivery of
// the same update is deduplicated.
func (u *RateUpdate) CommandFor(settlementID uuid.UUID) *ChangeRates {
	return &ChangeRates{
		Meta: Meta{
			CommandID:    uuid.NewSHA1(u.UpdateID, settlementID[:]),
			SettlementID: settlementID,
			Expected:     AnyVersion,
			Issued:       u.IssuedAt,
		},
		SettlementRate: u.SettlementRate,
		CityRate:       u.CityRate,
	}
}
