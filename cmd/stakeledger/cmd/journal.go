package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/stakeledger/amount"
	"github.com/rustyeddy/stakeledger/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the audit journal",
	Long: `Query and display ledger events from a SQLite journal.

Subcommands:
  event    - Get a single event by ID
  position - List every event of a position
  today    - List events recorded today
  day      - List events recorded on a specific day
  reserve  - Show the latest reserve snapshot

Examples:
  stakeledger journal event 01J9Z...
  stakeledger journal position 7
  stakeledger journal day 2025-01-15`,
}

var journalEventCmd = &cobra.Command{
	Use:   "event <event-id>",
	Short: "Get details of a specific event",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalEvent,
}

var journalPositionCmd = &cobra.Command{
	Use:   "position <position-id>",
	Short: "List the history of a position",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalPosition,
}

var journalTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List events recorded today",
	Args:  cobra.NoArgs,
	RunE:  runJournalToday,
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List events recorded on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalDay,
}

var journalReserveCmd = &cobra.Command{
	Use:   "reserve",
	Short: "Show the latest reserve snapshot",
	Args:  cobra.NoArgs,
	RunE:  runJournalReserve,
}

var (
	journalDBPath   string
	journalDecimals int32
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalEventCmd)
	journalCmd.AddCommand(journalPositionCmd)
	journalCmd.AddCommand(journalTodayCmd)
	journalCmd.AddCommand(journalDayCmd)
	journalCmd.AddCommand(journalReserveCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "./stakeledger.sqlite", "path to SQLite journal DB")
	journalCmd.PersistentFlags().Int32Var(&journalDecimals, "decimals", amount.DefaultDecimals, "token decimals for display")
}

func openJournal() (*journal.SQLite, error) {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return j, nil
}

func runJournalEvent(cmd *cobra.Command, args []string) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	rec, err := j.GetEvent(args[0])
	if err != nil {
		return fmt.Errorf("get event: %w", err)
	}

	fmt.Println(journal.FormatEventOrg(rec, journalDecimals))
	return nil
}

func runJournalPosition(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("position id: %w", err)
	}

	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	recs, err := j.ListEventsForPosition(id)
	if err != nil {
		return fmt.Errorf("query events: %w", err)
	}

	fmt.Println(journal.FormatEventsOrg(recs, journalDecimals))
	return nil
}

func runJournalToday(cmd *cobra.Command, args []string) error {
	return listDay(time.Now().In(time.Local).Format("2006-01-02"))
}

func runJournalDay(cmd *cobra.Command, args []string) error {
	return listDay(args[0])
}

func listDay(day string) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	start, end, err := dayBounds(time.Local, day)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}

	recs, err := j.ListEventsBetween(start, end)
	if err != nil {
		return fmt.Errorf("query events: %w", err)
	}

	fmt.Println(journal.FormatEventsOrg(recs, journalDecimals))
	return nil
}

func runJournalReserve(cmd *cobra.Command, args []string) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	s, err := j.LatestReserve()
	if err != nil {
		return fmt.Errorf("query reserve: %w", err)
	}

	fmt.Printf("As of %s\n", s.Time.UTC().Format(time.RFC3339))
	fmt.Printf("  Pool balance:      %s\n", amount.Format(s.PoolBalance, journalDecimals))
	fmt.Printf("  Pending reward:    %s\n", amount.Format(s.TotalPendingReward, journalDecimals))
	fmt.Printf("  Total staked:      %s\n", amount.Format(s.TotalStaked, journalDecimals))
	fmt.Printf("  Historical staked: %s\n", amount.Format(s.HistoricalStaked, journalDecimals))
	return nil
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	return start, end, nil
}
