package interfaces

import (
	"context"
	"encoding/json"

	"cove-observer/src/models"
	"cove-observer/src/utils"
)

// -----------------------------------------------------------------------------
// ILedgerConnection is the request/subscription surface of a ledger
// connection manager.
// -----------------------------------------------------------------------------

type ILedgerConnection interface {

	// IsConnected reports whether requests can currently be sent
	IsConnected() bool

	// -----------------------------------------------------------------------------

	// Request sends one command and returns its result object. Failures are
	// *helpers.RequestError.
	Request(ctx context.Context, command string, params map[string]interface{}) (json.RawMessage, error)

	// -----------------------------------------------------------------------------

	// Subscribe registers a server side subscription that survives reconnects
	Subscribe(ctx context.Context, sub models.MSubscription) error

	// -----------------------------------------------------------------------------

	// Unsubscribe drops the subscription locally and on the server
	Unsubscribe(ctx context.Context, sub models.MSubscription) error

	// -----------------------------------------------------------------------------

	// Events carries connected, disconnected, error and transaction events
	Events() *utils.EventBus[models.MEvent]
}

// -----------------------------------------------------------------------------
// IBalanceService watches account balances.
// -----------------------------------------------------------------------------

type IBalanceService interface {
	GetBalance(ctx context.Context, address string) (models.MAccountBalance, error)
	Subscribe(ctx context.Context, address string, onUpdate func(models.MAccountBalance)) (func(), error)
	Transactions(ctx context.Context, address string, limit int) ([]models.MLedgerTransaction, error)
	Watched() []string
	Latest(address string) (models.MAccountBalance, bool)
	ReserveDrops() int64
	RefreshReserve(ctx context.Context) error
	CheckSend(ctx context.Context, address string, amountDrops int64) (models.MAccountBalance, error)
}

// -----------------------------------------------------------------------------
// ILedgerMonitor is what the outer surfaces need from the connection manager.
// -----------------------------------------------------------------------------

type ILedgerMonitor interface {
	Status() models.MLedgerStatus
	CurrentEndpoint() (models.MNetworkEndpoint, bool)
	Connect(ctx context.Context, endpoint models.MNetworkEndpoint) error
}
