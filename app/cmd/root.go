package cmd

import (
	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:   "catsdb",
	Short: "catsdb normalizes API fuzzer results into a queryable store",
	Long:  "catsdb parses per-test fuzzer result files into a normalized SQLite database and tags known-benign false positives",
}
