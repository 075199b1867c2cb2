package main

import (
	"os"

	"trustpipe/cmd/trustpipe/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
