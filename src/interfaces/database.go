package interfaces

import (
	"context"
	"time"

	"cove-observer/src/models"
)

// -----------------------------------------------------------------------------
// IDatabase defines the contract for storage operations.
// -----------------------------------------------------------------------------

type IDatabase interface {

	// -----------------------------------------------------------------------------

	// Initialize sets up the database schema and tables.
	Initialize() error

	// -----------------------------------------------------------------------------

	// SaveTicksBulk inserts a batch of price ticks.
	SaveTicksBulk(ctx context.Context, ticks []models.MPriceTick) error

	// -----------------------------------------------------------------------------

	// SaveBalance upserts the latest known balance of an account.
	SaveBalance(ctx context.Context, balance models.MAccountBalance) error

	// -----------------------------------------------------------------------------

	// LoadRecentTicks returns up to limit newest ticks of a source, oldest first.
	LoadRecentTicks(ctx context.Context, source string, limit int) ([]models.MPriceTick, error)

	// -----------------------------------------------------------------------------

	// LoadBalance returns the stored balance of an account, if any.
	LoadBalance(ctx context.Context, address string) (models.MAccountBalance, bool, error)

	// -----------------------------------------------------------------------------

	// CleanupOldData removes ticks older than the cutoff.
	CleanupOldData(ctx context.Context, before time.Time) (int64, error)

	// -----------------------------------------------------------------------------

	// Close the database connection
	Close() error
}
