package ledger

import (
	"github.com/holiman/uint256"

	"github.com/rustyeddy/stakeledger/stakeerr"
)

// Snapshot is the slice of ledger state one operation on one position can
// touch. Restore puts it back exactly.
type Snapshot struct {
	position   *Position
	account    Account
	hadAccount bool

	totalStaked      *uint256.Int
	historicalStaked *uint256.Int
	openCount        int
}

func (l *Ledger) Snapshot(id uint64) (Snapshot, error) {
	p, ok := l.positions[id]
	if !ok {
		return Snapshot{}, stakeerr.Wrap(stakeerr.ErrPositionNotFound, "position %d", id)
	}
	acct, had := l.accounts[p.Owner]
	s := Snapshot{
		position:         p.clone(),
		hadAccount:       had,
		totalStaked:      l.totalStaked.Clone(),
		historicalStaked: l.historicalStaked.Clone(),
		openCount:        l.openCount,
	}
	if had {
		s.account = acct.clone()
	}
	return s, nil
}

func (l *Ledger) Restore(s Snapshot) {
	if s.position == nil {
		return
	}
	l.positions[s.position.ID] = s.position.clone()
	if s.hadAccount {
		l.accounts[s.position.Owner] = s.account.clone()
	} else {
		delete(l.accounts, s.position.Owner)
	}
	l.totalStaked = s.totalStaked.Clone()
	l.historicalStaked = s.historicalStaked.Clone()
	l.openCount = s.openCount
}
