package journal

import (
	"context"
	"database/sql"
	"time"

	"github.com/quantfold/ledger/ledger"
)

// LatestSnapshot returns the newest snapshot version and its rows. Version
// ids are ULIDs, so lexical max is also the newest.
func (j *SQLite) LatestSnapshot(ctx context.Context, account string) (string, []ledger.Position, error) {
	var version string
	err := j.db.QueryRowContext(ctx,
		`SELECT version FROM snapshots WHERE account = ? ORDER BY version DESC LIMIT 1`,
		account).Scan(&version)
	if err == sql.ErrNoRows {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, err
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT strategy, instrument, quantity, avg_cost, market_price, realized_pl, created_at
		FROM snapshots
		WHERE account = ? AND version = ?
		ORDER BY strategy, instrument`, account, version)
	if err != nil {
		return "", nil, err
	}
	defer rows.Close()

	var out []ledger.Position
	for rows.Next() {
		p := ledger.Position{Account: account}
		if err := rows.Scan(
			&p.Strategy,
			&p.Instrument,
			&p.Quantity,
			&p.AvgCost,
			&p.MarketPrice,
			&p.RealizedPL,
			&p.UpdatedAt,
		); err != nil {
			return "", nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return "", nil, err
	}
	return version, out, nil
}

// ListPositionRows returns the live position rows for an account, ordered by
// (strategy, instrument).
func (j *SQLite) ListPositionRows(ctx context.Context, account string) ([]ledger.Position, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT strategy, instrument, quantity, avg_cost, market_price, realized_pl, updated_at
		FROM positions
		WHERE account = ?
		ORDER BY strategy, instrument`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Position
	for rows.Next() {
		p := ledger.Position{Account: account}
		if err := rows.Scan(
			&p.Strategy,
			&p.Instrument,
			&p.Quantity,
			&p.AvgCost,
			&p.MarketPrice,
			&p.RealizedPL,
			&p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListFills returns fills with time within [from, to), oldest first. An empty
// strategy matches every strategy.
func (j *SQLite) ListFills(ctx context.Context, account, strategy string, from, to time.Time) ([]ledger.Fill, error) {
	q := `
		SELECT execution_id, order_id, strategy, instrument, quantity, price, commission, time
		FROM fills
		WHERE account = ? AND time >= ? AND time < ?`
	args := []any{account, from, to}
	if strategy != "" {
		q += ` AND strategy = ?`
		args = append(args, strategy)
	}
	q += ` ORDER BY time ASC, execution_id ASC`

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Fill
	for rows.Next() {
		f := ledger.Fill{Account: account}
		if err := rows.Scan(
			&f.ExecutionID,
			&f.OrderID,
			&f.Strategy,
			&f.Instrument,
			&f.Quantity,
			&f.Price,
			&f.Commission,
			&f.Time,
		); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListExecutionIDs returns every recorded execution id for an account. Used
// on startup to rebuild the in-memory idempotency set.
func (j *SQLite) ListExecutionIDs(ctx context.Context, account string) ([]string, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT execution_id FROM fills WHERE account = ?`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UnattributedReport returns the unattributed rows of the latest snapshot.
func (j *SQLite) UnattributedReport(ctx context.Context, account string) ([]ledger.Position, error) {
	_, rows, err := j.LatestSnapshot(ctx, account)
	if err != nil {
		return nil, err
	}
	var out []ledger.Position
	for _, p := range rows {
		if p.Strategy == ledger.StrategyUnattributed {
			out = append(out, p)
		}
	}
	return out, nil
}

// PruneSnapshots deletes all but the newest keep versions for an account.
func (j *SQLite) PruneSnapshots(ctx context.Context, account string, keep int) error {
	if keep < 1 {
		keep = 1
	}
	_, err := j.db.ExecContext(ctx, `
		DELETE FROM snapshots
		WHERE account = ? AND version NOT IN (
			SELECT DISTINCT version FROM snapshots
			WHERE account = ?
			ORDER BY version DESC
			LIMIT ?
		)`, account, account, keep)
	return err
}
