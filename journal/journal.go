// Package journal is the durable ledger store: append-only fills, live
// position rows, versioned attributed snapshots, and the terminal-order
// archive, keyed by account/strategy/instrument.
package journal

import (
	"context"
	"time"

	"github.com/quantfold/ledger/ledger"
)

type Store interface {
	// AppendFill inserts an immutable fill record, keyed on execution id.
	// Returns false when the execution id was already present.
	AppendFill(ctx context.Context, f ledger.Fill) (bool, error)

	// UpsertPositionRow writes the live position row for one
	// (account, strategy, instrument) key.
	UpsertPositionRow(ctx context.Context, p ledger.Position) error

	// ListPositionRows returns the live position rows for an account.
	ListPositionRows(ctx context.Context, account string) ([]ledger.Position, error)

	// WriteSnapshot persists one attributed snapshot version and updates
	// the live position rows to match, in one transaction. All rows for
	// the account commit together or not at all.
	WriteSnapshot(ctx context.Context, account, version string, rows []ledger.Position) error

	// LatestSnapshot returns the newest snapshot version for an account and
	// its rows. A missing snapshot returns an empty version and no rows.
	LatestSnapshot(ctx context.Context, account string) (string, []ledger.Position, error)

	// ArchiveOrders stores terminal order states.
	ArchiveOrders(ctx context.Context, orders []ledger.OrderState) error

	// ListFills returns fills for a strategy with time within [from, to),
	// oldest first. An empty strategy matches all strategies.
	ListFills(ctx context.Context, account, strategy string, from, to time.Time) ([]ledger.Fill, error)

	// ListExecutionIDs returns every recorded execution id for an account.
	ListExecutionIDs(ctx context.Context, account string) ([]string, error)

	// UnattributedReport returns the unattributed rows of the latest
	// snapshot, ordered by instrument.
	UnattributedReport(ctx context.Context, account string) ([]ledger.Position, error)

	// PruneSnapshots deletes all but the newest keep versions.
	PruneSnapshots(ctx context.Context, account string, keep int) error

	Close() error
}
