package storage

import (
	"database/sql"
	"fmt"
	"time"

	"cove-observer/src/helpers"
	"cove-observer/src/interfaces"
	"cove-observer/src/logger"
	"cove-observer/src/models"
)

// tickColumns is the column order used by every insert and select
const tickColumns = "source, timestamp, open, high, low, close, volume, bid, ask, last_price, vwap, daily_change, daily_change_percent, num_trades"

const paramsPerTick = 14

// -----------------------------------------------------------------------------

// NewDatabase picks the backend named by the storage config
func NewDatabase(cfg *models.MConfig, log *logger.Logger) (interfaces.IDatabase, error) {
	switch cfg.Storage.DBType {
	case "", "sqlite":
		return NewAsyncSQLiteDB(cfg, log)
	case "postgres":
		return NewPostgresDB(cfg, log)
	default:
		return nil, fmt.Errorf("unsupported db_type '%s'", cfg.Storage.DBType)
	}
}

// -----------------------------------------------------------------------------

func tickArgs(t models.MPriceTick) []interface{} {
	return []interface{}{
		t.SourceID, t.Timestamp, t.Open, t.High, t.Low, t.Close, t.Volume,
		nullFloat(t.Bid), nullFloat(t.Ask), nullFloat(t.LastPrice), nullFloat(t.Vwap),
		nullFloat(t.DailyChange), nullFloat(t.DailyChangePercent), nullInt(t.NumTrades),
	}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return models.Float(v.Float64)
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return models.Int(v.Int64)
}

// scanTicks reads rows selected with tickColumns, newest first, and returns
// them oldest first
func scanTicks(rows *sql.Rows) ([]models.MPriceTick, error) {
	defer rows.Close()

	var out []models.MPriceTick
	for rows.Next() {
		var (
			t                         models.MPriceTick
			bid, ask, last, vwap      sql.NullFloat64
			dailyChange, dailyPercent sql.NullFloat64
			trades                    sql.NullInt64
		)
		if err := rows.Scan(&t.SourceID, &t.Timestamp, &t.Open, &t.High, &t.Low, &t.Close, &t.Volume,
			&bid, &ask, &last, &vwap, &dailyChange, &dailyPercent, &trades); err != nil {
			return nil, helpers.NewDatabaseError("scan tick", err)
		}
		t.Bid, t.Ask, t.LastPrice, t.Vwap = floatPtr(bid), floatPtr(ask), floatPtr(last), floatPtr(vwap)
		t.DailyChange, t.DailyChangePercent = floatPtr(dailyChange), floatPtr(dailyPercent)
		t.NumTrades = intPtr(trades)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, helpers.NewDatabaseError("read ticks", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func scanBalance(row *sql.Row) (models.MAccountBalance, bool, error) {
	var (
		b       models.MAccountBalance
		updated int64
	)
	err := row.Scan(&b.Address, &b.AmountMinorUnits, &b.IsActivated, &updated)
	if err == sql.ErrNoRows {
		return models.MAccountBalance{}, false, nil
	}
	if err != nil {
		return models.MAccountBalance{}, false, helpers.NewDatabaseError("load balance", err)
	}
	b.UpdatedAt = time.UnixMilli(updated).UTC()
	return b, true, nil
}
