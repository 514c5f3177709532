package main

import (
	"os"

	"github.com/apisec-lab/catsdb/app/cmd"
)

func main() {
	if err := cmd.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
