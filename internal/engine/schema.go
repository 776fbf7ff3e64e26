package engine

// 金额列一律以十进制字符串存储，避免浮点误差进入账务。
const schema = `
CREATE TABLE IF NOT EXISTS wallets (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	capital_tier TEXT NOT NULL DEFAULT '',
	initial_balance TEXT NOT NULL,
	current_balance TEXT NOT NULL,
	reserved_balance TEXT NOT NULL DEFAULT '0',
	halted INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	wallet_id TEXT NOT NULL REFERENCES wallets(id),
	ticker TEXT NOT NULL,
	market TEXT NOT NULL,
	side TEXT NOT NULL,
	type TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	filled_quantity INTEGER NOT NULL DEFAULT 0,
	limit_price TEXT,
	stop_price TEXT,
	avg_fill_price TEXT,
	reserved_amount TEXT NOT NULL DEFAULT '0',
	status TEXT NOT NULL,
	reject_reason TEXT,
	reject_detail TEXT,
	signal_json TEXT,
	submitted_at TIMESTAMP,
	filled_at TIMESTAMP,
	cancelled_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_wallet_status ON orders(wallet_id, status);
CREATE INDEX IF NOT EXISTS idx_orders_ticker ON orders(ticker);

CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	order_id TEXT NOT NULL REFERENCES orders(id),
	wallet_id TEXT NOT NULL REFERENCES wallets(id),
	ticker TEXT NOT NULL,
	market TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	fill_price TEXT NOT NULL,
	slippage_bps TEXT NOT NULL DEFAULT '0',
	commission TEXT NOT NULL DEFAULT '0',
	gross_amount TEXT NOT NULL,
	net_amount TEXT NOT NULL,
	quote_bid TEXT,
	quote_ask TEXT,
	quote_mid TEXT,
	filled_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_wallet ON trades(wallet_id, filled_at);
CREATE INDEX IF NOT EXISTS idx_trades_order ON trades(order_id);

CREATE TABLE IF NOT EXISTS positions (
	id TEXT PRIMARY KEY,
	wallet_id TEXT NOT NULL REFERENCES wallets(id),
	ticker TEXT NOT NULL,
	market TEXT NOT NULL,
	quantity INTEGER NOT NULL DEFAULT 0,
	avg_entry_price TEXT NOT NULL DEFAULT '0',
	total_cost TEXT NOT NULL DEFAULT '0',
	realized_pnl TEXT NOT NULL DEFAULT '0',
	opened_at TIMESTAMP NOT NULL,
	closed_at TIMESTAMP,
	updated_at TIMESTAMP NOT NULL,
	UNIQUE(wallet_id, ticker, market)
);
CREATE INDEX IF NOT EXISTS idx_positions_wallet ON positions(wallet_id);

CREATE TABLE IF NOT EXISTS market_data (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ticker TEXT NOT NULL,
	market TEXT NOT NULL,
	price TEXT NOT NULL,
	bid TEXT,
	ask TEXT,
	volume INTEGER,
	provider TEXT NOT NULL,
	quote_time TIMESTAMP NOT NULL,
	fetched_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_market_data_ticker ON market_data(ticker, fetched_at);
`

func (e *Engine) initSchema() error {
	_, err := e.store.DB().Exec(schema)
	return err
}
