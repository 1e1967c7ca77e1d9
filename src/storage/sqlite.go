package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"cove-observer/src/helpers"
	"cove-observer/src/logger"
	"cove-observer/src/models"

	_ "modernc.org/sqlite"
)

// SQLite batch constants
const (
	sqliteMaxVars   = 32000
	sqliteBatchSize = sqliteMaxVars / paramsPerTick
)

// -----------------------------------------------------------------------------

type AsyncSQLiteDB struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewAsyncSQLiteDB(cfg *models.MConfig, log *logger.Logger) (*AsyncSQLiteDB, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &AsyncSQLiteDB{
		Config: cfg,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) Initialize() error {
	dsn := d.Config.Storage.DBPath

	// Open DB
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return helpers.NewDatabaseError("open sqlite", err)
	}

	if err := db.Ping(); err != nil {
		return helpers.NewDatabaseError("ping sqlite", err)
	}

	// one connection, sqlite serialises writers anyway
	db.SetMaxOpenConns(1)
	d.DB = db

	// PRAGMA optimizations
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}

	return d.createTables()
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) createTables() error {
	// SQLite types: INTEGER for int64, REAL for float64, TEXT for string
	query := `
		CREATE TABLE IF NOT EXISTS price_ticks (
			source TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			open REAL,
			high REAL,
			low REAL,
			close REAL,
			volume REAL,
			bid REAL,
			ask REAL,
			last_price REAL,
			vwap REAL,
			daily_change REAL,
			daily_change_percent REAL,
			num_trades INTEGER,
			PRIMARY KEY (source, timestamp)
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return helpers.NewDatabaseError("create price_ticks", err)
	}

	query = `
		CREATE TABLE IF NOT EXISTS balances (
			address TEXT PRIMARY KEY,
			amount_drops INTEGER NOT NULL,
			is_activated INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return helpers.NewDatabaseError("create balances", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) SaveTicksBulk(ctx context.Context, ticks []models.MPriceTick) error {
	for start := 0; start < len(ticks); start += sqliteBatchSize {
		end := start + sqliteBatchSize
		if end > len(ticks) {
			end = len(ticks)
		}
		if err := d.saveBatch(ctx, ticks[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (d *AsyncSQLiteDB) saveBatch(ctx context.Context, ticks []models.MPriceTick) error {
	if len(ticks) == 0 {
		return nil
	}

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return helpers.NewDatabaseError("begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT OR REPLACE INTO price_ticks (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tickColumns))
	if err != nil {
		return helpers.NewDatabaseError("prepare tick insert", err)
	}
	defer stmt.Close()

	for _, t := range ticks {
		if _, err := stmt.ExecContext(ctx, tickArgs(t)...); err != nil {
			return helpers.NewDatabaseError("insert tick", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return helpers.NewDatabaseError("commit ticks", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) SaveBalance(ctx context.Context, b models.MAccountBalance) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO balances (address, amount_drops, is_activated, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (address) DO UPDATE SET
			amount_drops = excluded.amount_drops,
			is_activated = excluded.is_activated,
			updated_at = excluded.updated_at
	`, b.Address, b.AmountMinorUnits, b.IsActivated, b.UpdatedAt.UnixMilli())
	if err != nil {
		return helpers.NewDatabaseError("save balance", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) LoadRecentTicks(ctx context.Context, source string, limit int) ([]models.MPriceTick, error) {
	rows, err := d.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM price_ticks
		WHERE source = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, tickColumns), source, limit)
	if err != nil {
		return nil, helpers.NewDatabaseError("load ticks", err)
	}
	return scanTicks(rows)
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) LoadBalance(ctx context.Context, address string) (models.MAccountBalance, bool, error) {
	row := d.DB.QueryRowContext(ctx,
		"SELECT address, amount_drops, is_activated, updated_at FROM balances WHERE address = ?", address)
	return scanBalance(row)
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) CleanupOldData(ctx context.Context, before time.Time) (int64, error) {
	cutoff := before.UnixMilli()
	d.Logger.Info("Cleaning up ticks older than %s (timestamp < %d)...", before.UTC().Format(time.RFC3339), cutoff)

	res, err := d.DB.ExecContext(ctx, "DELETE FROM price_ticks WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, helpers.NewDatabaseError("cleanup price_ticks", err)
	}
	n, _ := res.RowsAffected()

	d.Logger.Info("Cleanup completed, %d ticks removed", n)
	return n, nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
