package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

const eventColumns = `event_id, kind, position_id, account, principal, reward, lock_seconds, rate_bps, time`

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (EventRecord, error) {
	var (
		rec                 EventRecord
		kind                string
		positionID          int64
		principal, reward   string
		lockSeconds, rateBp int64
	)
	if err := row.Scan(&rec.EventID, &kind, &positionID, &rec.Account, &principal, &reward,
		&lockSeconds, &rateBp, &rec.Time); err != nil {
		return EventRecord{}, err
	}

	p, err := uint256.FromDecimal(principal)
	if err != nil {
		return EventRecord{}, fmt.Errorf("event %s principal: %w", rec.EventID, err)
	}
	r, err := uint256.FromDecimal(reward)
	if err != nil {
		return EventRecord{}, fmt.Errorf("event %s reward: %w", rec.EventID, err)
	}

	rec.Kind = EventKind(kind)
	rec.PositionID = uint64(positionID)
	rec.Principal = p
	rec.Reward = r
	rec.LockDuration = time.Duration(lockSeconds) * time.Second
	rec.RateBps = uint32(rateBp)
	return rec, nil
}

func (j *SQLite) queryEvents(query string, args ...any) ([]EventRecord, error) {
	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		rec, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetEvent returns a single event by id.
func (j *SQLite) GetEvent(eventID string) (EventRecord, error) {
	row := j.db.QueryRow(`SELECT `+eventColumns+` FROM events WHERE event_id = ?`, eventID)
	rec, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return EventRecord{}, fmt.Errorf("event %q not found", eventID)
		}
		return EventRecord{}, err
	}
	return rec, nil
}

// ListEventsForPosition returns a position's history in order.
func (j *SQLite) ListEventsForPosition(positionID uint64) ([]EventRecord, error) {
	return j.queryEvents(`SELECT `+eventColumns+` FROM events
		WHERE position_id = ?
		ORDER BY time ASC, event_id ASC`, int64(positionID))
}

// ListEventsBetween returns events whose time is within [start, end).
func (j *SQLite) ListEventsBetween(start, end time.Time) ([]EventRecord, error) {
	return j.queryEvents(`SELECT `+eventColumns+` FROM events
		WHERE time >= ? AND time < ?
		ORDER BY time ASC, event_id ASC`, start.UTC(), end.UTC())
}

// LatestReserve returns the most recent reserve snapshot.
func (j *SQLite) LatestReserve() (ReserveSnapshot, error) {
	var (
		s                           ReserveSnapshot
		pool, pending, staked, hist string
	)
	err := j.db.QueryRow(`
		SELECT time, pool_balance, total_pending_reward, total_staked, historical_staked
		FROM reserve
		ORDER BY time DESC, rowid DESC
		LIMIT 1`).Scan(&s.Time, &pool, &pending, &staked, &hist)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ReserveSnapshot{}, fmt.Errorf("no reserve snapshots")
		}
		return ReserveSnapshot{}, err
	}

	for _, f := range []struct {
		dst **uint256.Int
		src string
	}{
		{&s.PoolBalance, pool},
		{&s.TotalPendingReward, pending},
		{&s.TotalStaked, staked},
		{&s.HistoricalStaked, hist},
	} {
		v, err := uint256.FromDecimal(f.src)
		if err != nil {
			return ReserveSnapshot{}, fmt.Errorf("reserve snapshot: %w", err)
		}
		*f.dst = v
	}
	return s, nil
}
