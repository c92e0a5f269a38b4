package journal

const Schema = `
CREATE TABLE IF NOT EXISTS events (
	event_id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	position_id INTEGER NOT NULL,
	account TEXT NOT NULL,
	principal TEXT NOT NULL,
	reward TEXT NOT NULL,
	lock_seconds INTEGER NOT NULL,
	rate_bps INTEGER NOT NULL,
	time DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS reserve (
	time DATETIME NOT NULL,
	pool_balance TEXT NOT NULL,
	total_pending_reward TEXT NOT NULL,
	total_staked TEXT NOT NULL,
	historical_staked TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_position ON events(position_id);
CREATE INDEX IF NOT EXISTS idx_events_time ON events(time);
CREATE INDEX IF NOT EXISTS idx_reserve_time ON reserve(time);
`
