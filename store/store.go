package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/apisec-lab/catsdb"
	_ "github.com/mattn/go-sqlite3"
)

// Store is the normalized result store: dimension tables for reusable
// lookup values, fact tables for per-test rows, and read-only analytical
// views on top. Fact rows are written once during ingestion and never
// mutated afterward.
type Store struct {
	db   *sql.DB
	path string
	dims *dimensions
}

func NewStore(dbpath string) (*Store, error) {
	// Pragmas ride on the DSN so every connection the pool opens gets
	// them, not just the one that served an Exec.
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL&_cache_size=-64000",
		dbpath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	// Single writer. Ingestion is strictly sequential and SQLite allows
	// one write transaction at a time anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", dbpath, err)
	}

	if _, err := db.Exec("PRAGMA temp_store = MEMORY"); err != nil {
		db.Close()
		return nil, fmt.Errorf("temp_store: %w", err)
	}

	return &Store{db: db, path: dbpath, dims: newDimensions()}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// InitSchema creates tables, indexes, and views. All DDL is
// create-if-not-exists, so calling it on an existing store is a no-op.
func (s *Store) InitSchema() error {
	for _, schema := range []string{
		dimensionSchema,
		factSchema,
		indexSchema,
		viewSchema,
	} {
		if _, err := s.db.Exec(schema); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return nil
}

// LoadDimensions seeds the in-memory dimension cache from any pre-existing
// rows, so repeated runs against the same store never duplicate entries.
func (s *Store) LoadDimensions() error {
	return s.dims.preload(s.db)
}

// DimensionCacheSize reports the number of memoized dimension rows.
func (s *Store) DimensionCacheSize() int {
	return s.dims.size()
}

// RecordError ties a failed insert back to its source file.
type RecordError struct {
	SourceFile string
	Err        error
}

func (re RecordError) Error() string {
	return fmt.Sprintf("%s: %s", re.SourceFile, re.Err)
}

// BatchResult reports the per-record outcome of one committed batch.
// Saved counts are commit-confirmed: when the surrounding transaction
// fails, every record in the batch is reported as failed, even those whose
// individual inserts had gone through.
type BatchResult struct {
	Saved  int
	Failed []RecordError
}

// SaveBatch persists a batch of records inside a single transaction. Each
// record runs under a savepoint: a failing record is rolled back alone and
// its siblings still commit. An error escaping the per-record guard aborts
// the whole batch.
//
// Dimension lookups run before the record's savepoint opens. Dimension rows
// are append-only and harmless to keep for a record that later fails, and
// resolving them outside the savepoint keeps the in-memory cache consistent
// with what the transaction will commit.
func (s *Store) SaveBatch(records []*catsdb.TestRecord) (BatchResult, error) {
	failAll := func(err error) (BatchResult, error) {
		var res BatchResult
		for _, r := range records {
			res.Failed = append(res.Failed, RecordError{r.SourceFile, err})
		}

		return res, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return failAll(err)
	}

	journal := s.dims.journal()
	abort := func(err error) (BatchResult, error) {
		tx.Rollback()
		journal.evict()
		return failAll(err)
	}

	txs := txStore{tx: tx, dims: s.dims, journal: journal}

	var res BatchResult
	for _, rec := range records {
		ids, err := txs.resolveDims(rec)
		if err != nil {
			res.Failed = append(res.Failed, RecordError{rec.SourceFile, err})
			continue
		}

		if _, err := tx.Exec("savepoint record"); err != nil {
			return abort(err)
		}

		if err := txs.insertTest(rec, ids); err != nil {
			if _, rbErr := tx.Exec("rollback to record"); rbErr != nil {
				return abort(rbErr)
			}
			tx.Exec("release record")
			res.Failed = append(res.Failed, RecordError{rec.SourceFile, err})
			continue
		}

		if _, err := tx.Exec("release record"); err != nil {
			return abort(err)
		}

		res.Saved++
	}

	if err := tx.Commit(); err != nil {
		return abort(err)
	}

	return res, nil
}

type txStore struct {
	tx      *sql.Tx
	dims    *dimensions
	journal *dimJournal
}

// dimIDs carries the surrogate ids a record's fact rows reference.
type dimIDs struct {
	resultType int64
	fuzzer     int64
	server     int64
	path       int64
	reqMethod  int64
	respMethod int64
}

func (s txStore) resolveDims(rec *catsdb.TestRecord) (dimIDs, error) {
	var ids dimIDs
	var err error

	if ids.resultType, err = s.dims.resultTypeID(s.tx, s.journal, rec.Result); err != nil {
		return ids, err
	}

	if ids.fuzzer, err = s.dims.fuzzerID(s.tx, s.journal, rec.Fuzzer); err != nil {
		return ids, err
	}

	if ids.server, err = s.dims.serverID(s.tx, s.journal, rec.Server); err != nil {
		return ids, err
	}

	if ids.path, err = s.dims.pathID(s.tx, s.journal, rec.Path, rec.ContractPath); err != nil {
		return ids, err
	}

	if ids.reqMethod, err = s.dims.methodID(s.tx, s.journal, rec.Request.Method); err != nil {
		return ids, err
	}

	if ids.respMethod, err = s.dims.methodID(s.tx, s.journal, rec.Response.Method); err != nil {
		return ids, err
	}

	return ids, nil
}

func (s txStore) insertTest(rec *catsdb.TestRecord, ids dimIDs) error {
	// An empty rule binds as NULL so the table's CHECK rejects any record
	// whose flag and rule disagree, in either direction.
	var fpRule interface{}
	if rec.FPRule != "" {
		fpRule = rec.FPRule
	}

	insertq := insertQuery("fact_tests",
		"test_id",
		"test_number",
		"trace_id",
		"scenario",
		"expected_result",
		"result_type_id",
		"fuzzer_id",
		"server_id",
		"path_id",
		"result_reason",
		"result_details",
		"source_file",
		"is_false_positive",
		"fp_rule",
	)

	result, err := s.tx.Exec(insertq,
		rec.TestID,
		rec.TestNumber,
		rec.TraceID,
		rec.Scenario,
		rec.ExpectedResult,
		ids.resultType,
		ids.fuzzer,
		ids.server,
		ids.path,
		nullable(rec.ResultReason),
		nullable(rec.ResultDetails),
		rec.SourceFile,
		rec.IsFalsePositive,
		fpRule,
	)
	if err != nil {
		return fmt.Errorf("fact_tests: %w", err)
	}

	testID, err := result.LastInsertId()
	if err != nil {
		return err
	}

	requestID, err := s.insertRequest(rec.Request, testID, ids.reqMethod)
	if err != nil {
		return err
	}

	if err := s.insertHeaders("fact_request_headers", "request_id", requestID, rec.Request.Headers); err != nil {
		return err
	}

	responseID, err := s.insertResponse(rec.Response, testID, ids.respMethod)
	if err != nil {
		return err
	}

	return s.insertHeaders("fact_response_headers", "response_id", responseID, rec.Response.Headers)
}

func (s txStore) insertRequest(req *catsdb.TestRequest, testID, methodID int64) (int64, error) {
	insertq := insertQuery("fact_requests",
		"test_id",
		"http_method_id",
		"url",
		"timestamp",
	)

	result, err := s.tx.Exec(insertq, testID, methodID, req.URL, req.Timestamp)
	if err != nil {
		return 0, fmt.Errorf("fact_requests: %w", err)
	}

	return result.LastInsertId()
}

func (s txStore) insertResponse(resp *catsdb.TestResponse, testID, methodID int64) (int64, error) {
	insertq := insertQuery("fact_responses",
		"test_id",
		"http_method_id",
		"response_code",
		"response_time_ms",
		"num_words",
		"num_lines",
		"content_length_bytes",
		"content_type",
	)

	result, err := s.tx.Exec(insertq,
		testID,
		methodID,
		resp.Code,
		resp.TimeMs.Int64(),
		resp.Words.Int64(),
		resp.Lines.Int64(),
		resp.ContentLength.Int64(),
		nullable(resp.ContentType),
	)
	if err != nil {
		return 0, fmt.Errorf("fact_responses: %w", err)
	}

	return result.LastInsertId()
}

func (s txStore) insertHeaders(table, parentField string, parentID int64, headers []catsdb.Header) error {
	insertq := insertQuery(table, parentField, "header_key", "header_value", "header_order")

	stmt, err := s.tx.Prepare(insertq)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, h := range headers {
		if _, err := stmt.Exec(parentID, h.Key, h.Value, i); err != nil {
			return fmt.Errorf("%s: %w", table, err)
		}
	}

	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}

	return s
}

func insertQuery(table string, fields ...string) string {
	var qmarks string
	for range fields {
		qmarks += "?,"
	}
	qmarks = qmarks[0 : len(qmarks)-1]

	return fmt.Sprintf("insert into %s(%s) values(%s)", table, strings.Join(fields, ","), qmarks)
}
