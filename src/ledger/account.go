package ledger

import (
	"context"
	"strconv"
	"time"

	"cove-observer/src/helpers"
	"cove-observer/src/interfaces"
	"cove-observer/src/models"

	"github.com/tidwall/gjson"
)

// CodeAccountNotFound is returned by account_info for unfunded accounts
const CodeAccountNotFound = "actNotFound"

// -----------------------------------------------------------------------------

// FetchBalance runs account_info against the validated ledger. An account the
// ledger does not know has a zero, non-activated balance.
func FetchBalance(ctx context.Context, conn interfaces.ILedgerConnection, reserve *ReservePolicy, address string) (models.MAccountBalance, error) {
	if err := helpers.ValidateClassicAddress(address); err != nil {
		return models.MAccountBalance{}, err
	}

	bal := models.MAccountBalance{Address: address, UpdatedAt: time.Now()}
	result, err := conn.Request(ctx, "account_info", map[string]interface{}{
		"account":      address,
		"ledger_index": "validated",
	})
	if helpers.HasCode(err, CodeAccountNotFound) {
		return bal, nil
	}
	if err != nil {
		return bal, err
	}

	raw := gjson.GetBytes(result, "account_data.Balance")
	if !raw.Exists() {
		return bal, helpers.NewValidationError("account_info without account_data.Balance", nil)
	}
	drops, err := strconv.ParseInt(raw.String(), 10, 64)
	if err != nil {
		return bal, helpers.NewValidationError("bad account balance", err)
	}

	bal.AmountMinorUnits = drops
	bal.IsActivated = reserve.IsActivated(drops)
	return bal, nil
}

// -----------------------------------------------------------------------------

// FetchTransactions returns the newest validated transactions of address
func FetchTransactions(ctx context.Context, conn interfaces.ILedgerConnection, address string, limit int) ([]models.MLedgerTransaction, error) {
	if err := helpers.ValidateClassicAddress(address); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 20
	}

	result, err := conn.Request(ctx, "account_tx", map[string]interface{}{
		"account":          address,
		"ledger_index_min": -1,
		"ledger_index_max": -1,
		"limit":            limit,
		"forward":          false,
	})
	if helpers.HasCode(err, CodeAccountNotFound) {
		return []models.MLedgerTransaction{}, nil
	}
	if err != nil {
		return nil, err
	}
	return parseAccountTx(result), nil
}
