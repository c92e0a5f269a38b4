package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  `Display the current version of the stakeledger CLI.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("stakeledger version %s\n", version)
		fmt.Println("Time-locked staking ledger with a solvency-checked reward pool")
		fmt.Println("https://github.com/rustyeddy/stakeledger")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
