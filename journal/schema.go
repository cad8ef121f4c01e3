package journal

const Schema = `
CREATE TABLE IF NOT EXISTS fills (
	execution_id TEXT PRIMARY KEY,
	order_id TEXT NOT NULL,
	account TEXT NOT NULL,
	strategy TEXT NOT NULL,
	instrument TEXT NOT NULL,
	quantity REAL NOT NULL,
	price REAL NOT NULL,
	commission REAL NOT NULL,
	time DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fills_strategy_time ON fills(account, strategy, time);

CREATE TABLE IF NOT EXISTS positions (
	account TEXT NOT NULL,
	strategy TEXT NOT NULL,
	instrument TEXT NOT NULL,
	quantity REAL NOT NULL,
	avg_cost REAL NOT NULL,
	market_price REAL NOT NULL,
	realized_pl REAL NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (account, strategy, instrument)
);

CREATE TABLE IF NOT EXISTS snapshots (
	version TEXT NOT NULL,
	account TEXT NOT NULL,
	strategy TEXT NOT NULL,
	instrument TEXT NOT NULL,
	quantity REAL NOT NULL,
	avg_cost REAL NOT NULL,
	market_price REAL NOT NULL,
	realized_pl REAL NOT NULL,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (version, strategy, instrument)
);

CREATE INDEX IF NOT EXISTS idx_snapshots_account_version ON snapshots(account, version);

CREATE TABLE IF NOT EXISTS orders (
	order_id TEXT PRIMARY KEY,
	account TEXT NOT NULL,
	strategy TEXT NOT NULL,
	instrument TEXT NOT NULL,
	status TEXT NOT NULL,
	requested_qty REAL NOT NULL,
	filled_qty REAL NOT NULL,
	updated_at DATETIME NOT NULL
);
`
