package journal

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"
)

type CSV struct {
	events  *csv.Writer
	reserve *csv.Writer
	ef, rf  *os.File
}

func NewCSV(eventsPath, reservePath string) (*CSV, error) {
	ef, err := os.Create(eventsPath)
	if err != nil {
		return nil, err
	}
	rf, err := os.Create(reservePath)
	if err != nil {
		_ = ef.Close()
		return nil, err
	}

	ew := csv.NewWriter(ef)
	rw := csv.NewWriter(rf)

	if err := ew.Write([]string{"event_id", "kind", "position_id", "account", "principal", "reward", "lock_seconds", "rate_bps", "time"}); err != nil {
		return nil, err
	}
	if err := rw.Write([]string{"time", "pool_balance", "total_pending_reward", "total_staked", "historical_staked"}); err != nil {
		return nil, err
	}

	ew.Flush()
	if err := ew.Error(); err != nil {
		return nil, err
	}
	rw.Flush()
	if err := rw.Error(); err != nil {
		return nil, err
	}

	return &CSV{events: ew, reserve: rw, ef: ef, rf: rf}, nil
}

func (j *CSV) RecordEvent(e EventRecord) error {
	err := j.events.Write([]string{
		e.EventID,
		string(e.Kind),
		strconv.FormatUint(e.PositionID, 10),
		e.Account,
		dec(e.Principal),
		dec(e.Reward),
		strconv.FormatInt(int64(e.LockDuration/time.Second), 10),
		strconv.FormatUint(uint64(e.RateBps), 10),
		e.Time.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	j.events.Flush()
	return j.events.Error()
}

func (j *CSV) RecordReserve(s ReserveSnapshot) error {
	err := j.reserve.Write([]string{
		s.Time.UTC().Format(time.RFC3339),
		dec(s.PoolBalance),
		dec(s.TotalPendingReward),
		dec(s.TotalStaked),
		dec(s.HistoricalStaked),
	})
	if err != nil {
		return err
	}
	j.reserve.Flush()
	return j.reserve.Error()
}

func (j *CSV) Close() error {
	j.events.Flush()
	if err := j.events.Error(); err != nil {
		return err
	}
	j.reserve.Flush()
	if err := j.reserve.Error(); err != nil {
		return err
	}

	if err := j.ef.Close(); err != nil {
		return err
	}
	return j.rf.Close()
}
