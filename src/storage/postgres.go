package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cove-observer/src/helpers"
	"cove-observer/src/logger"
	"cove-observer/src/models"

	_ "github.com/lib/pq"
)

// -----------------------------------------------------------------------------

type PostgresDB struct {
	Config *models.MConfig
	DB     *sql.DB
	Schema string
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

// NewPostgresDB keeps every table in a schema named after the executable
func NewPostgresDB(cfg *models.MConfig, log *logger.Logger) (*PostgresDB, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable name: %w", err)
	}
	name := filepath.Base(exe)
	name = strings.TrimSuffix(name, filepath.Ext(name))

	return &PostgresDB{
		Config: cfg,
		Schema: name,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Initialize() error {
	dsn := d.Config.Storage.DBConnectionString
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return helpers.NewDatabaseError("open postgres", err)
	}

	if err := db.Ping(); err != nil {
		return helpers.NewDatabaseError("ping postgres", err)
	}

	d.DB = db

	// Create Schema
	if _, err := d.DB.Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, d.Schema)); err != nil {
		return helpers.NewDatabaseError(fmt.Sprintf("create schema %s", d.Schema), err)
	}

	if err := d.createTables(); err != nil {
		return err
	}

	d.Logger.Info("PostgresDB initialized successfully (Schema: %s)", d.Schema)
	return nil
}

func (d *PostgresDB) table(name string) string {
	return fmt.Sprintf(`"%s"."%s"`, d.Schema, name)
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) createTables() error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			source TEXT NOT NULL,
			timestamp BIGINT NOT NULL,
			open DOUBLE PRECISION,
			high DOUBLE PRECISION,
			low DOUBLE PRECISION,
			close DOUBLE PRECISION,
			volume DOUBLE PRECISION,
			bid DOUBLE PRECISION,
			ask DOUBLE PRECISION,
			last_price DOUBLE PRECISION,
			vwap DOUBLE PRECISION,
			daily_change DOUBLE PRECISION,
			daily_change_percent DOUBLE PRECISION,
			num_trades BIGINT,
			PRIMARY KEY (source, timestamp)
		);
	`, d.table("price_ticks"))
	if _, err := d.DB.Exec(query); err != nil {
		return helpers.NewDatabaseError("create price_ticks", err)
	}

	query = fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			address TEXT PRIMARY KEY,
			amount_drops BIGINT NOT NULL,
			is_activated BOOLEAN NOT NULL,
			updated_at BIGINT NOT NULL
		);
	`, d.table("balances"))
	if _, err := d.DB.Exec(query); err != nil {
		return helpers.NewDatabaseError("create balances", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) SaveTicksBulk(ctx context.Context, ticks []models.MPriceTick) error {
	if len(ticks) == 0 {
		return nil
	}

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return helpers.NewDatabaseError("begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (source, timestamp) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			bid = EXCLUDED.bid,
			ask = EXCLUDED.ask,
			last_price = EXCLUDED.last_price,
			vwap = EXCLUDED.vwap,
			daily_change = EXCLUDED.daily_change,
			daily_change_percent = EXCLUDED.daily_change_percent,
			num_trades = EXCLUDED.num_trades
	`, d.table("price_ticks"), tickColumns))
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

func (d *PostgresDB) SaveBalance(ctx context.Context, b models.MAccountBalance) error {
	_, err := d.DB.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (address, amount_drops, is_activated, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO UPDATE SET
			amount_drops = EXCLUDED.amount_drops,
			is_activated = EXCLUDED.is_activated,
			updated_at = EXCLUDED.updated_at
	`, d.table("balances")), b.Address, b.AmountMinorUnits, b.IsActivated, b.UpdatedAt.UnixMilli())
	if err != nil {
		return helpers.NewDatabaseError("save balance", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) LoadRecentTicks(ctx context.Context, source string, limit int) ([]models.MPriceTick, error) {
	rows, err := d.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE source = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`, tickColumns, d.table("price_ticks")), source, limit)
	if err != nil {
		return nil, helpers.NewDatabaseError("load ticks", err)
	}
	return scanTicks(rows)
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) LoadBalance(ctx context.Context, address string) (models.MAccountBalance, bool, error) {
	row := d.DB.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT address, amount_drops, is_activated, updated_at FROM %s WHERE address = $1", d.table("balances")), address)
	return scanBalance(row)
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) CleanupOldData(ctx context.Context, before time.Time) (int64, error) {
	cutoff := before.UnixMilli()
	d.Logger.Info("Cleaning up ticks older than %s (timestamp < %d)...", before.UTC().Format(time.RFC3339), cutoff)

	res, err := d.DB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE timestamp < $1`, d.table("price_ticks")), cutoff)
	if err != nil {
		return 0, helpers.NewDatabaseError("cleanup price_ticks", err)
	}
	n, _ := res.RowsAffected()

	d.Logger.Info("Cleanup completed, %d ticks removed", n)
	return n, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
