package main

import (
	"os"

	"github.com/rustyeddy/stakeledger/cmd/stakeledger/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
