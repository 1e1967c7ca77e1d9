package ledger

import (
	"encoding/json"
	"errors"
	"time"

	"cove-observer/src/helpers"
	"cove-observer/src/models"

	"github.com/tidwall/gjson"
)

// rippleEpochOffset is the number of seconds between 1970-01-01 and 2000-01-01
const rippleEpochOffset = 946684800

// -----------------------------------------------------------------------------
// response frames
// -----------------------------------------------------------------------------

type response struct {
	result json.RawMessage
	err    error
}

// parseResponse turns {"id":..,"status":..,"result":..} into a result or a
// RequestFailed error carrying the server error token.
func parseResponse(command string, msg gjson.Result) response {
	if msg.Get("status").String() == "success" {
		return response{result: json.RawMessage(msg.Get("result").Raw)}
	}

	code := msg.Get("error").String()
	text := msg.Get("error_message").String()
	if text == "" {
		text = msg.Get("error_exception").String()
	}
	if text == "" {
		text = code
	}
	return response{err: &helpers.RequestError{
		Kind:    helpers.RequestFailed,
		Command: command,
		Code:    code,
		Cause:   errors.New(text),
	}}
}

// -----------------------------------------------------------------------------
// transactions
// -----------------------------------------------------------------------------

// parseStreamTransaction reads a "transaction" stream message
func parseStreamTransaction(msg gjson.Result) models.MLedgerTransaction {
	tx := msg.Get("transaction")
	if !tx.Exists() {
		tx = msg.Get("tx_json")
	}
	out := transactionFrom(tx)
	if out.Hash == "" {
		out.Hash = msg.Get("hash").String()
	}
	out.LedgerIndex = msg.Get("ledger_index").Int()
	out.Validated = msg.Get("validated").Bool()
	out.EngineResult = msg.Get("engine_result").String()
	return out
}

// parseAccountTx reads result.transactions of an account_tx response. Both
// the {tx, meta} and the {tx_json, hash} layouts are understood.
func parseAccountTx(result []byte) []models.MLedgerTransaction {
	items := gjson.GetBytes(result, "transactions").Array()
	out := make([]models.MLedgerTransaction, 0, len(items))
	for _, item := range items {
		tx := item.Get("tx")
		if !tx.Exists() {
			tx = item.Get("tx_json")
		}
		t := transactionFrom(tx)
		if t.Hash == "" {
			t.Hash = item.Get("hash").String()
		}
		if t.LedgerIndex == 0 {
			t.LedgerIndex = item.Get("ledger_index").Int()
		}
		t.Validated = item.Get("validated").Bool()
		t.EngineResult = item.Get("meta.TransactionResult").String()
		out = append(out, t)
	}
	return out
}

func transactionFrom(tx gjson.Result) models.MLedgerTransaction {
	t := models.MLedgerTransaction{
		Hash:            tx.Get("hash").String(),
		TransactionType: tx.Get("TransactionType").String(),
		Account:         tx.Get("Account").String(),
		Destination:     tx.Get("Destination").String(),
		LedgerIndex:     tx.Get("ledger_index").Int(),
	}

	// issued currency amounts are objects, only XRP drops are strings
	amount := tx.Get("Amount")
	if !amount.Exists() {
		amount = tx.Get("DeliverMax")
	}
	if amount.Type == gjson.String {
		t.AmountDrops = amount.String()
	}
	t.Fee = tx.Get("Fee").String()
	if date := tx.Get("date"); date.Exists() {
		t.CloseTimestamp = time.Unix(date.Int()+rippleEpochOffset, 0).UTC().UnixMilli()
	}
	return t
}
