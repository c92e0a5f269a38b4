package journal

import (
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/stakeledger/amount"
)

// FormatEventOrg renders an EventRecord as an Org-mode block with the
// facts in a PROPERTIES drawer.
func FormatEventOrg(e EventRecord, decimals int32) string {
	var b strings.Builder

	if e.PositionID != 0 {
		fmt.Fprintf(&b, "** %s: position %d (%s)\n", e.Kind, e.PositionID, shortID(e.EventID))
	} else {
		fmt.Fprintf(&b, "** %s (%s)\n", e.Kind, shortID(e.EventID))
	}
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":EVENT_ID: %s\n", e.EventID)
	fmt.Fprintf(&b, ":KIND: %s\n", e.Kind)
	if e.PositionID != 0 {
		fmt.Fprintf(&b, ":POSITION_ID: %d\n", e.PositionID)
		fmt.Fprintf(&b, ":LOCK_DAYS: %d\n", int64(e.LockDuration/(24*time.Hour)))
		fmt.Fprintf(&b, ":RATE_BPS: %d\n", e.RateBps)
	}
	if e.Account != "" {
		fmt.Fprintf(&b, ":ACCOUNT: %s\n", e.Account)
	}
	fmt.Fprintf(&b, ":PRINCIPAL: %s\n", amount.Format(e.Principal, decimals))
	fmt.Fprintf(&b, ":REWARD: %s\n", amount.Format(e.Reward, decimals))
	fmt.Fprintf(&b, ":TIME: %s\n", e.Time.UTC().Format(time.RFC3339))
	b.WriteString(":END:\n")

	return b.String()
}

// FormatEventsOrg renders several events separated by blank lines.
func FormatEventsOrg(events []EventRecord, decimals int32) string {
	var b strings.Builder
	for i, e := range events {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(FormatEventOrg(e, decimals))
	}
	return b.String()
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[:8]
}
