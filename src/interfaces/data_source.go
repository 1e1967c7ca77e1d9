package interfaces

import (
	"context"

	"cove-observer/src/models"
	"cove-observer/src/utils"
)

// -----------------------------------------------------------------------------
// IExchangeAdapter owns one streaming connection to a price source.
// -----------------------------------------------------------------------------

type IExchangeAdapter interface {

	// Name returns the unique identifier of the source
	Name() string

	// -----------------------------------------------------------------------------

	// Connect starts the connection in the background. Calling it while a
	// connection is open or being opened does nothing.
	Connect(ctx context.Context) error

	// -----------------------------------------------------------------------------

	// Disconnect closes the socket, cancels any pending retry and stops
	// reconnecting until Connect is called again.
	Disconnect() error

	// -----------------------------------------------------------------------------

	// GetLastData returns the freshest composite tick, if any
	GetLastData() (models.MPriceTick, bool)

	// -----------------------------------------------------------------------------

	// State reports the current connection phase
	State() models.ConnectionState

	// -----------------------------------------------------------------------------

	// Events carries price, connected, disconnected, error and
	// maxRetriesReached events
	Events() *utils.EventBus[models.MEvent]
}
