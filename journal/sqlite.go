package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/quantfold/ledger/ledger"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

// AppendFill inserts the fill, ignoring a duplicate execution id so retries
// and duplicate broker deliveries can never double-count.
func (j *SQLite) AppendFill(ctx context.Context, f ledger.Fill) (bool, error) {
	res, err := j.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO fills
		(execution_id, order_id, account, strategy, instrument, quantity, price, commission, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ExecutionID, f.OrderID, f.Account, f.Strategy, f.Instrument,
		f.Quantity, f.Price, f.Commission, f.Time,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (j *SQLite) UpsertPositionRow(ctx context.Context, p ledger.Position) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO positions
		(account, strategy, instrument, quantity, avg_cost, market_price, realized_pl, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account, strategy, instrument)
		DO UPDATE SET quantity = excluded.quantity,
		              avg_cost = excluded.avg_cost,
		              market_price = excluded.market_price,
		              realized_pl = excluded.realized_pl,
		              updated_at = excluded.updated_at`,
		p.Account, p.Strategy, p.Instrument, p.Quantity, p.AvgCost,
		p.MarketPrice, p.RealizedPL, p.UpdatedAt,
	)
	return err
}

// WriteSnapshot commits all rows of one snapshot version in a single
// transaction, so readers never see a half-merged view. The live positions
// table is updated in the same transaction: after a restart the book is
// hydrated from positions, and the merged state (unattributed residual,
// zeroed closed rows) has to survive there, not only in the version history.
func (j *SQLite) WriteSnapshot(ctx context.Context, account, version string, rows []ledger.Position) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, p := range rows {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO snapshots
			(version, account, strategy, instrument, quantity, avg_cost, market_price, realized_pl, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			version, account, p.Strategy, p.Instrument, p.Quantity,
			p.AvgCost, p.MarketPrice, p.RealizedPL, now,
		); err != nil {
			return fmt.Errorf("snapshot row %s/%s: %w", p.Strategy, p.Instrument, err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO positions
			(account, strategy, instrument, quantity, avg_cost, market_price, realized_pl, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (account, strategy, instrument)
			DO UPDATE SET quantity = excluded.quantity,
			              avg_cost = excluded.avg_cost,
			              market_price = excluded.market_price,
			              realized_pl = excluded.realized_pl,
			              updated_at = excluded.updated_at`,
			account, p.Strategy, p.Instrument, p.Quantity, p.AvgCost,
			p.MarketPrice, p.RealizedPL, p.UpdatedAt,
		); err != nil {
			return fmt.Errorf("position row %s/%s: %w", p.Strategy, p.Instrument, err)
		}
	}

	return tx.Commit()
}

func (j *SQLite) ArchiveOrders(ctx context.Context, orders []ledger.OrderState) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, o := range orders {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO orders
			(order_id, account, strategy, instrument, status, requested_qty, filled_qty, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (order_id)
			DO UPDATE SET status = excluded.status,
			              filled_qty = excluded.filled_qty,
			              updated_at = excluded.updated_at`,
			o.OrderID, o.Account, o.Strategy, o.Instrument, string(o.Status),
			o.RequestedQuantity, o.FilledQuantity, o.UpdatedAt,
		); err != nil {
			return fmt.Errorf("archive order %s: %w", o.OrderID, err)
		}
	}

	return tx.Commit()
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
