package db

// Times are stored as unix milliseconds and booleans as 0/1 so both dialects
// share the same queries.

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS markets (
    market_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    venue TEXT NOT NULL DEFAULT '',
    event_name TEXT NOT NULL DEFAULT '',
    country TEXT NOT NULL DEFAULT '',
    start_time INTEGER NOT NULL,
    played INTEGER,
    error_code TEXT,
    decided_at INTEGER,
    first_seen_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_markets_start ON markets(start_time);
CREATE INDEX IF NOT EXISTS idx_markets_decided ON markets(decided_at);

CREATE TABLE IF NOT EXISTS runners (
    selection_id INTEGER PRIMARY KEY,
    market_id TEXT NOT NULL,
    name TEXT NOT NULL,
    sort_priority INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS book_snapshots (
    market_id TEXT NOT NULL,
    captured_at INTEGER NOT NULL,
    status TEXT NOT NULL,
    in_play INTEGER NOT NULL DEFAULT 0,
    payload TEXT NOT NULL,
    PRIMARY KEY (market_id, captured_at)
);

CREATE TABLE IF NOT EXISTS winners (
    market_id TEXT PRIMARY KEY,
    selection_id INTEGER NOT NULL,
    source TEXT NOT NULL,
    declared_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS instructions (
    bet_id TEXT PRIMARY KEY,
    market_id TEXT NOT NULL,
    strategy_ref TEXT NOT NULL,
    selection_id INTEGER NOT NULL,
    side TEXT NOT NULL,
    order_type TEXT NOT NULL,
    size REAL NOT NULL,
    price REAL NOT NULL DEFAULT 0,
    placed_at INTEGER NOT NULL,
    settled INTEGER NOT NULL DEFAULT 0,
    live INTEGER NOT NULL DEFAULT 0,
    customer_ref TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_instructions_unsettled ON instructions(settled, live);

CREATE TABLE IF NOT EXISTS orders (
    bet_id TEXT PRIMARY KEY,
    market_id TEXT NOT NULL,
    selection_id INTEGER NOT NULL,
    strategy_ref TEXT NOT NULL,
    side TEXT NOT NULL,
    order_type TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT '',
    size_settled REAL NOT NULL DEFAULT 0,
    price_matched REAL NOT NULL DEFAULT 0,
    placed_at INTEGER NOT NULL,
    settled_at INTEGER,
    outcome TEXT NOT NULL DEFAULT '',
    profit REAL,
    simulated INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_orders_strategy_settled ON orders(strategy_ref, settled_at);

CREATE TABLE IF NOT EXISTS strategy_states (
    strategy_ref TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    stake_pos INTEGER NOT NULL DEFAULT 0,
    weight_pos INTEGER NOT NULL DEFAULT 0,
    bets_at_max_stake INTEGER NOT NULL DEFAULT 0,
    days_at_max_weight INTEGER NOT NULL DEFAULT 0,
    loss_streak INTEGER NOT NULL DEFAULT 0,
    lost_stake_sum REAL NOT NULL DEFAULT 0,
    group_pos INTEGER NOT NULL DEFAULT 0,
    halted INTEGER NOT NULL DEFAULT 0,
    stop_loss INTEGER NOT NULL DEFAULT 0,
    active INTEGER NOT NULL DEFAULT 1,
    live INTEGER NOT NULL DEFAULT 0,
    version INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS statistics (
    strategy_ref TEXT PRIMARY KEY,
    daily REAL NOT NULL DEFAULT 0,
    weekly REAL NOT NULL DEFAULT 0,
    monthly REAL NOT NULL DEFAULT 0,
    yearly REAL NOT NULL DEFAULT 0,
    lifetime REAL NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS account_funds (
    wallet TEXT PRIMARY KEY,
    available REAL NOT NULL DEFAULT 0,
    exposure REAL NOT NULL DEFAULT 0,
    retained_commission REAL NOT NULL DEFAULT 0,
    exposure_limit REAL NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS markets (
    market_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    venue TEXT NOT NULL DEFAULT '',
    event_name TEXT NOT NULL DEFAULT '',
    country TEXT NOT NULL DEFAULT '',
    start_time BIGINT NOT NULL,
    played INTEGER,
    error_code TEXT,
    decided_at BIGINT,
    first_seen_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_markets_start ON markets(start_time);
CREATE INDEX IF NOT EXISTS idx_markets_decided ON markets(decided_at);

CREATE TABLE IF NOT EXISTS runners (
    selection_id BIGINT PRIMARY KEY,
    market_id TEXT NOT NULL,
    name TEXT NOT NULL,
    sort_priority INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS book_snapshots (
    market_id TEXT NOT NULL,
    captured_at BIGINT NOT NULL,
    status TEXT NOT NULL,
    in_play INTEGER NOT NULL DEFAULT 0,
    payload TEXT NOT NULL,
    PRIMARY KEY (market_id, captured_at)
);

CREATE TABLE IF NOT EXISTS winners (
    market_id TEXT PRIMARY KEY,
    selection_id BIGINT NOT NULL,
    source TEXT NOT NULL,
    declared_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS instructions (
    bet_id TEXT PRIMARY KEY,
    market_id TEXT NOT NULL,
    strategy_ref TEXT NOT NULL,
    selection_id BIGINT NOT NULL,
    side TEXT NOT NULL,
    order_type TEXT NOT NULL,
    size DOUBLE PRECISION NOT NULL,
    price DOUBLE PRECISION NOT NULL DEFAULT 0,
    placed_at BIGINT NOT NULL,
    settled INTEGER NOT NULL DEFAULT 0,
    live INTEGER NOT NULL DEFAULT 0,
    customer_ref TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_instructions_unsettled ON instructions(settled, live);

CREATE TABLE IF NOT EXISTS orders (
    bet_id TEXT PRIMARY KEY,
    market_id TEXT NOT NULL,
    selection_id BIGINT NOT NULL,
    strategy_ref TEXT NOT NULL,
    side TEXT NOT NULL,
    order_type TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT '',
    size_settled DOUBLE PRECISION NOT NULL DEFAULT 0,
    price_matched DOUBLE PRECISION NOT NULL DEFAULT 0,
    placed_at BIGINT NOT NULL,
    settled_at BIGINT,
    outcome TEXT NOT NULL DEFAULT '',
    profit DOUBLE PRECISION,
    simulated INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_orders_strategy_settled ON orders(strategy_ref, settled_at);

CREATE TABLE IF NOT EXISTS strategy_states (
    strategy_ref TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    stake_pos INTEGER NOT NULL DEFAULT 0,
    weight_pos INTEGER NOT NULL DEFAULT 0,
    bets_at_max_stake INTEGER NOT NULL DEFAULT 0,
    days_at_max_weight INTEGER NOT NULL DEFAULT 0,
    loss_streak INTEGER NOT NULL DEFAULT 0,
    lost_stake_sum DOUBLE PRECISION NOT NULL DEFAULT 0,
    group_pos INTEGER NOT NULL DEFAULT 0,
    halted INTEGER NOT NULL DEFAULT 0,
    stop_loss INTEGER NOT NULL DEFAULT 0,
    active INTEGER NOT NULL DEFAULT 1,
    live INTEGER NOT NULL DEFAULT 0,
    version INTEGER NOT NULL DEFAULT 0,
    updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS statistics (
    strategy_ref TEXT PRIMARY KEY,
    daily DOUBLE PRECISION NOT NULL DEFAULT 0,
    weekly DOUBLE PRECISION NOT NULL DEFAULT 0,
    monthly DOUBLE PRECISION NOT NULL DEFAULT 0,
    yearly DOUBLE PRECISION NOT NULL DEFAULT 0,
    lifetime DOUBLE PRECISION NOT NULL DEFAULT 0,
    updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS account_funds (
    wallet TEXT PRIMARY KEY,
    available DOUBLE PRECISION NOT NULL DEFAULT 0,
    exposure DOUBLE PRECISION NOT NULL DEFAULT 0,
    retained_commission DOUBLE PRECISION NOT NULL DEFAULT 0,
    exposure_limit DOUBLE PRECISION NOT NULL DEFAULT 0,
    updated_at BIGINT NOT NULL
);
`
