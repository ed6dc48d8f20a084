package database

// schema is the engine's full DDL. Amounts, rates and prices are stored as
// decimal strings to keep them exact; price triggers carry an additional
// REAL shadow column so the (pair, direction, price) indexes support ordered
// range scans, with the exact value re-checked after the scan.
const schema = `
CREATE TABLE IF NOT EXISTS vaults (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	owner TEXT NOT NULL,
	label TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	started_at INTEGER,
	status TEXT NOT NULL,
	balance_denom TEXT NOT NULL,
	balance_amount TEXT NOT NULL,
	deposited_amount TEXT NOT NULL,
	swap_amount TEXT NOT NULL,
	target_denom TEXT NOT NULL,
	pair_address TEXT NOT NULL,
	interval_kind TEXT NOT NULL,
	interval_seconds INTEGER NOT NULL DEFAULT 0,
	slippage_tolerance TEXT,
	minimum_receive_amount TEXT,
	destinations TEXT NOT NULL,
	swapped_amount TEXT NOT NULL,
	received_amount TEXT NOT NULL,
	escrowed_amount TEXT NOT NULL,
	escrow_level TEXT NOT NULL,
	swap_adjustment_strategy TEXT,
	performance_assessment_strategy TEXT
);

CREATE INDEX IF NOT EXISTS idx_vaults_owner ON vaults(owner, id);
CREATE INDEX IF NOT EXISTS idx_vaults_status ON vaults(status);

CREATE TABLE IF NOT EXISTS triggers_time (
	vault_id INTEGER PRIMARY KEY,
	target_time INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_triggers_time_target ON triggers_time(target_time);

CREATE TABLE IF NOT EXISTS triggers_price (
	vault_id INTEGER PRIMARY KEY,
	pair_address TEXT NOT NULL,
	direction TEXT NOT NULL,
	target_price TEXT NOT NULL,
	target_price_num REAL NOT NULL,
	order_handle TEXT
);

CREATE INDEX IF NOT EXISTS idx_triggers_price_scan
	ON triggers_price(pair_address, direction, target_price_num);

CREATE TABLE IF NOT EXISTS events (
	vault_id INTEGER NOT NULL,
	seq INTEGER NOT NULL,
	timestamp INTEGER NOT NULL,
	block_height INTEGER NOT NULL,
	type TEXT NOT NULL,
	data TEXT NOT NULL,
	PRIMARY KEY (vault_id, seq)
);

CREATE TABLE IF NOT EXISTS swap_cache (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	vault_id INTEGER NOT NULL,
	payload BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS automation_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	vault_id INTEGER NOT NULL,
	payload BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_automation_queue_vault ON automation_queue(vault_id, id);

CREATE TABLE IF NOT EXISTS custom_fees (
	denom TEXT PRIMARY KEY,
	rate TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pairs (
	address TEXT PRIMARY KEY,
	base_denom TEXT NOT NULL,
	quote_denom TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS data_fixes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	resource_id INTEGER NOT NULL,
	timestamp INTEGER NOT NULL,
	block_height INTEGER NOT NULL,
	data TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_data_fixes_resource ON data_fixes(resource_id, id);

CREATE TABLE IF NOT EXISTS engine_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
