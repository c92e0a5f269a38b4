package journal

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
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
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordEvent(e EventRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO events
		(event_id, kind, position_id, account, principal, reward, lock_seconds, rate_bps, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EventID, string(e.Kind), int64(e.PositionID), e.Account, dec(e.Principal), dec(e.Reward),
		int64(e.LockDuration.Seconds()), int64(e.RateBps), e.Time.UTC(),
	)
	return err
}

func (j *SQLite) RecordReserve(s ReserveSnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO reserve
		(time, pool_balance, total_pending_reward, total_staked, historical_staked)
		VALUES (?, ?, ?, ?, ?)`,
		s.Time.UTC(), dec(s.PoolBalance), dec(s.TotalPendingReward), dec(s.TotalStaked), dec(s.HistoricalStaked),
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
