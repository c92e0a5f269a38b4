package policy

import (
	"sync"

	"github.com/rustyeddy/stakeledger/ledger"
)

// AccessList is an in-memory Authorization.
type AccessList struct {
	mu            sync.RWMutex
	admins        map[ledger.AccountID]struct{}
	whitelist     map[ledger.AccountID]struct{}
	blacklist     map[ledger.AccountID]struct{}
	whitelistOnly bool
}

func NewAccessList(admins ...ledger.AccountID) *AccessList {
	a := &AccessList{
		admins:    make(map[ledger.AccountID]struct{}),
		whitelist: make(map[ledger.AccountID]struct{}),
		blacklist: make(map[ledger.AccountID]struct{}),
	}
	for _, id := range admins {
		a.admins[id] = struct{}{}
	}
	return a
}

func (a *AccessList) IsAdmin(id ledger.AccountID) bool       { return a.has(a.admins, id) }
func (a *AccessList) IsWhitelisted(id ledger.AccountID) bool { return a.has(a.whitelist, id) }
func (a *AccessList) IsBlacklisted(id ledger.AccountID) bool { return a.has(a.blacklist, id) }

func (a *AccessList) WhitelistOnlyModeActive() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.whitelistOnly
}

func (a *AccessList) has(set map[ledger.AccountID]struct{}, id ledger.AccountID) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := set[id]
	return ok
}

func (a *AccessList) Whitelist(ids ...ledger.AccountID) { a.set(a.whitelist, true, ids) }
func (a *AccessList) Unwhitelist(ids ...ledger.AccountID) { a.set(a.whitelist, false, ids) }
func (a *AccessList) Blacklist(ids ...ledger.AccountID) { a.set(a.blacklist, true, ids) }
func (a *AccessList) Unblacklist(ids ...ledger.AccountID) { a.set(a.blacklist, false, ids) }

func (a *AccessList) SetWhitelistOnly(v bool) {
	a.mu.Lock()
	a.whitelistOnly = v
	a.mu.Unlock()
}

func (a *AccessList) set(set map[ledger.AccountID]struct{}, add bool, ids []ledger.AccountID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range ids {
		if add {
			set[id] = struct{}{}
		} else {
			delete(set, id)
		}
	}
}
