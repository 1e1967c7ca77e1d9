package interfaces

import (
	"context"

	"cove-observer/src/models"
)

// -----------------------------------------------------------------------------
// IPriceCache stores the latest values for other processes to read.
// -----------------------------------------------------------------------------

type IPriceCache interface {
	SetTick(ctx context.Context, tick models.MPriceTick) error
	GetTick(ctx context.Context, source string) (models.MPriceTick, bool, error)
	SetBalance(ctx context.Context, balance models.MAccountBalance) error
	GetBalance(ctx context.Context, address string) (models.MAccountBalance, bool, error)
	Close() error
}
