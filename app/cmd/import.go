package cmd

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/apisec-lab/catsdb/ingest"
	"github.com/apisec-lab/catsdb/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	inputDir     string
	outputPath   string
	batchSize    int
	createSchema bool
)

func ensureDir(dir string) error {
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		return err
	}

	return os.MkdirAll(dir, os.ModePerm)
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a directory of per-test result files into the store",
	Run: func(cmd *cobra.Command, args []string) {
		stopWithErr := func(err error) {
			log.Fatal(err)
		}

		logger, err := zap.NewProduction()
		if err != nil {
			stopWithErr(err)
		}
		defer logger.Sync()
		sugar := logger.Sugar()

		fi, err := os.Stat(inputDir)
		if err != nil {
			stopWithErr(fmt.Errorf("input directory: %w", err))
		}
		if !fi.IsDir() {
			stopWithErr(fmt.Errorf("input path is not a directory: %s", inputDir))
		}

		if dir := filepath.Dir(outputPath); dir != "." {
			if err := ensureDir(dir); err != nil {
				stopWithErr(err)
			}
		}

		_, statErr := os.Stat(outputPath)
		newStore := os.IsNotExist(statErr)

		st, err := store.NewStore(outputPath)
		if err != nil {
			stopWithErr(err)
		}
		defer st.Close()

		if createSchema || newStore {
			if err := st.InitSchema(); err != nil {
				stopWithErr(err)
			}
			sugar.Infow("schema_created", "output", outputPath)
		}

		pipeline := ingest.NewPipeline(st,
			ingest.WithLogger(sugar),
			ingest.WithBatchSize(batchSize),
		)

		stats, err := pipeline.Run(inputDir)
		if err != nil {
			if errors.Is(err, ingest.ErrNoInputFiles) {
				sugar.Warnw("no_input_files", "input", inputDir)
				return
			}

			stopWithErr(err)
		}

		// Reporting is best effort: skipped and failed records were already
		// counted, and a reporting error must not change the exit code.
		if err := st.Analyze(); err != nil {
			sugar.Errorw("analyze_failed", "err", err.Error())
		}

		summary, err := st.Summarize()
		if err != nil {
			sugar.Errorw("summary_failed", "err", err.Error())
			return
		}

		printSummary(sugar, stats, summary)
	},
}

func printSummary(log *zap.SugaredLogger, stats ingest.Stats, sum *store.Summary) {
	log.Infow("import_summary",
		"found", stats.Found,
		"saved", stats.Saved,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"tests", sum.Tests,
		"fuzzers", sum.Fuzzers,
		"paths", sum.Paths,
		"servers", sum.Servers,
		"http_methods", sum.HTTPMethods,
		"request_headers", sum.RequestHeaders,
		"response_headers", sum.ResponseHeaders,
		"db_size_bytes", sum.SizeBytes,
	)

	for _, rc := range sum.ResultCounts {
		log.Infow("result_distribution", "result", rc.Result, "count", rc.Count)
	}

	log.Infow("false_positives",
		"count", sum.FalsePositives,
		"rate_pct", fmt.Sprintf("%.2f", sum.FalsePositiveRate),
	)

	for _, rc := range sum.RuleCounts {
		log.Infow("false_positives_by_rule", "rule", rc.Rule, "count", rc.Count)
	}
}

func init() {
	importCmd.Flags().StringVarP(&inputDir, "input", "i", "", "Directory containing per-test result JSON files")
	importCmd.Flags().StringVarP(&outputPath, "output", "o", filepath.Join("results", "cats-results.db"), "SQLite database output path")
	importCmd.Flags().IntVar(&batchSize, "batch-size", 100, "Amount of records committed per transaction")
	importCmd.Flags().BoolVar(&createSchema, "create-schema", false, "Create the database schema even if the output already exists")
	importCmd.MarkFlagRequired("input")

	RootCmd.AddCommand(importCmd)
}
