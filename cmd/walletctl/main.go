package main

import (
	"os"

	"lv-walletledger/cmd/walletctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
