package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DropsPerXRP converts between the ledger's minor unit and XRP.
const DropsPerXRP = 1_000_000

// DefaultReserveDrops is the static activation threshold (10 XRP).
const DefaultReserveDrops int64 = 10 * DropsPerXRP

// -----------------------------------------------------------------------------

// MAccountBalance is the native balance of one ledger account.
type MAccountBalance struct {
	Address          string    `json:"address"`
	AmountMinorUnits int64     `json:"amount_drops"`
	IsActivated      bool      `json:"is_activated"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// -----------------------------------------------------------------------------

// Amount returns the balance in XRP
func (b MAccountBalance) Amount() decimal.Decimal {
	return DropsToXRP(b.AmountMinorUnits)
}

// DropsToXRP converts drops to XRP without float rounding
func DropsToXRP(drops int64) decimal.Decimal {
	return decimal.New(drops, 0).Div(decimal.New(DropsPerXRP, 0))
}

// XRPToDrops converts an XRP amount to drops, truncating anything below one drop
func XRPToDrops(xrp decimal.Decimal) int64 {
	return xrp.Mul(decimal.New(DropsPerXRP, 0)).Truncate(0).IntPart()
}

// -----------------------------------------------------------------------------

// MLedgerTransaction is the subset of a streamed or historical transaction
// the observer cares about.
type MLedgerTransaction struct {
	Hash            string `json:"hash"`
	TransactionType string `json:"transaction_type"`
	Account         string `json:"account"`
	Destination     string `json:"destination,omitempty"`
	// Amount in drops for native payments, empty for issued currencies
	AmountDrops    string `json:"amount_drops,omitempty"`
	Fee            string `json:"fee,omitempty"`
	LedgerIndex    int64  `json:"ledger_index"`
	Validated      bool   `json:"validated"`
	EngineResult   string `json:"engine_result,omitempty"`
	CloseTimestamp int64  `json:"close_timestamp,omitempty"`
}

// Involves reports whether address is the sender or the receiver
func (t MLedgerTransaction) Involves(address string) bool {
	return address != "" && (t.Account == address || t.Destination == address)
}
