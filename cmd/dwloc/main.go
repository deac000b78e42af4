package main

import (
	"os"

	"github.com/dwloc/dwloc/cmd/dwloc/cmds"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
