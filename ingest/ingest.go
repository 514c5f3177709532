// Package ingest turns a directory of per-test fuzzer result files into
// rows in the normalized store, classifying each record on the way in.
package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/apisec-lab/catsdb"
	"github.com/apisec-lab/catsdb/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrNoInputFiles = errors.New("no test result files found")

const progressInterval = 1000

type PipelineOpt func(p *Pipeline)

func WithLogger(logger *zap.SugaredLogger) PipelineOpt {
	return func(p *Pipeline) { p.log = logger }
}

func WithBatchSize(n int) PipelineOpt {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func WithClassifier(c *catsdb.Classifier) PipelineOpt {
	return func(p *Pipeline) { p.classifier = c }
}

// Stats counts the per-record outcomes of a run. Skipped covers files that
// failed to parse or validate; Failed covers valid records whose insert
// did not commit.
type Stats struct {
	Found   int
	Saved   int
	Failed  int
	Skipped int
}

// Pipeline is the single-writer batch ingester. Batching bounds how much
// work one hard failure can lose and amortizes commit overhead; it has no
// bearing on the logical end state.
type Pipeline struct {
	store      *store.Store
	classifier *catsdb.Classifier
	log        *zap.SugaredLogger
	batchSize  int
	runID      string
}

func NewPipeline(s *store.Store, opts ...PipelineOpt) *Pipeline {
	p := &Pipeline{
		store:      s,
		classifier: catsdb.NewClassifier(),
		log:        zap.NewNop().Sugar(),
		batchSize:  100,
		runID:      uuid.New().String()[0:8],
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Run processes every per-test file in dir. Records are ingested in
// ascending test-sequence order regardless of directory enumeration order,
// so repeated runs over unchanged input produce identical stores.
func (p *Pipeline) Run(dir string) (Stats, error) {
	files, err := discover(dir)
	if err != nil {
		return Stats{}, err
	}

	if len(files) == 0 {
		return Stats{}, ErrNoInputFiles
	}

	if err := p.store.LoadDimensions(); err != nil {
		return Stats{}, err
	}

	p.log.Infow("ingestion_started",
		"run_id", p.runID,
		"files", len(files),
		"batch_size", p.batchSize,
		"cached_dimensions", p.store.DimensionCacheSize(),
	)

	stats := Stats{Found: len(files)}

	var batch []*catsdb.TestRecord
	for i, file := range files {
		rec, err := catsdb.ParseRecordFile(filepath.Join(dir, file))
		if err != nil {
			stats.Skipped++
			p.log.Warnw("record_skipped",
				"run_id", p.runID,
				"file", file,
				"err", err.Error(),
			)
		} else {
			p.prepare(rec, file)
			batch = append(batch, rec)
		}

		last := i == len(files)-1
		if len(batch) >= p.batchSize || (last && len(batch) > 0) {
			p.flush(batch, &stats)
			batch = batch[:0]
		}

		if (i+1)%progressInterval == 0 || last {
			p.log.Infow("ingestion_progress",
				"run_id", p.runID,
				"seen", i+1,
				"total", len(files),
				"saved", stats.Saved,
				"failed", stats.Failed,
				"skipped", stats.Skipped,
			)
		}
	}

	p.log.Infow("ingestion_finished",
		"run_id", p.runID,
		"saved", stats.Saved,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
	)

	return stats, nil
}

// prepare fills the derived fields: ordering key, provenance, and the
// classification outcome.
func (p *Pipeline) prepare(rec *catsdb.TestRecord, file string) {
	rec.TestNumber = catsdb.ExtractTestNumber(rec.TestID)
	rec.SourceFile = file
	rec.IsFalsePositive, rec.FPRule = p.classifier.Classify(rec)
}

// flush commits one batch. Record-level failures are counted and logged;
// a batch-level failure counts every in-flight record as failed and the
// run moves on to the next batch.
func (p *Pipeline) flush(batch []*catsdb.TestRecord, stats *Stats) {
	res, err := p.store.SaveBatch(batch)
	if err != nil {
		p.log.Errorw("batch_failed",
			"run_id", p.runID,
			"records", len(batch),
			"err", err.Error(),
		)
	}

	stats.Saved += res.Saved
	stats.Failed += len(res.Failed)

	if err == nil {
		for _, re := range res.Failed {
			p.log.Errorw("record_failed",
				"run_id", p.runID,
				"file", re.SourceFile,
				"err", re.Err.Error(),
			)
		}
	}
}

// discover lists the per-test files sorted by their embedded sequence
// number; filesystem enumeration order is unspecified and never used.
func discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		name := e.Name()
		if strings.HasPrefix(name, "Test") && strings.HasSuffix(name, ".json") {
			files = append(files, name)
		}
	}

	sort.Slice(files, func(i, j int) bool {
		ni := catsdb.ExtractTestNumber(strings.TrimSuffix(files[i], ".json"))
		nj := catsdb.ExtractTestNumber(strings.TrimSuffix(files[j], ".json"))
		if ni != nj {
			return ni < nj
		}

		return files[i] < files[j]
	})

	return files, nil
}
