package main

import (
	"fmt"
	"os"

	"git.handmade.network/hmn/sqlrt/src/cmd"
	_ "git.handmade.network/hmn/sqlrt/src/migration"
)

func main() {
	if err := cmd.RootCommand.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}
