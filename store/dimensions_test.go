package store

import (
	"path/filepath"
	"testing"

	"github.com/apisec-lab/catsdb"
)

func TestResolveReusesSurrogateIDs(t *testing.T) {
	tt := []struct {
		name    string
		resolve func(s *Store, q queryer) (int64, error)
		count   string
	}{
		{
			name: "result type",
			resolve: func(s *Store, q queryer) (int64, error) {
				return s.dims.resultTypeID(q, nil, "error")
			},
			count: "select count(*) from dim_result_types",
		},
		{
			name: "fuzzer",
			resolve: func(s *Store, q queryer) (int64, error) {
				return s.dims.fuzzerID(q, nil, "VeryLargeStrings")
			},
			count: "select count(*) from dim_fuzzers",
		},
		{
			name: "server",
			resolve: func(s *Store, q queryer) (int64, error) {
				return s.dims.serverID(q, nil, "http://localhost:8080")
			},
			count: "select count(*) from dim_servers",
		},
		{
			name: "path with contract",
			resolve: func(s *Store, q queryer) (int64, error) {
				return s.dims.pathID(q, nil, "/threat_models/{id}", "/threat_models/{id}")
			},
			count: "select count(*) from dim_paths",
		},
		{
			name: "http method",
			resolve: func(s *Store, q queryer) (int64, error) {
				return s.dims.methodID(q, nil, "POST")
			},
			count: "select count(*) from dim_http_methods",
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestStore(t, filepath.Join(t.TempDir(), "dims.db"))

			first, err := tc.resolve(s, s.db)
			if err != nil {
				t.Fatalf("unexpected error on first resolve: %s", err)
			}

			if first == 0 {
				t.Fatalf("expected id to be greater than zero")
			}

			second, err := tc.resolve(s, s.db)
			if err != nil {
				t.Fatalf("unexpected error on second resolve: %s", err)
			}

			if first != second {
				t.Fatalf("expected id to be reused, got %d and %d", first, second)
			}

			var n int
			if err := s.db.QueryRow(tc.count).Scan(&n); err != nil {
				t.Fatalf("unable to count rows: %s", err)
			}

			if n != 1 {
				t.Fatalf("expected a single dimension row, got %d", n)
			}
		})
	}
}

func TestResolveSurvivesColdCache(t *testing.T) {
	dbpath := filepath.Join(t.TempDir(), "coldcache.db")
	s := newTestStore(t, dbpath)

	id, err := s.dims.fuzzerID(s.db, nil, "HappyPath")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	// Fresh store handle against the same database: the empty cache must
	// rebuild from existing rows instead of duplicating them.
	s2, err := NewStore(dbpath)
	if err != nil {
		t.Fatalf("unable to reopen store: %s", err)
	}
	defer s2.Close()

	if err := s2.LoadDimensions(); err != nil {
		t.Fatalf("unable to preload dimensions: %s", err)
	}

	id2, err := s2.dims.fuzzerID(s2.db, nil, "HappyPath")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if id != id2 {
		t.Fatalf("expected surrogate id to survive reopen, got %d and %d", id, id2)
	}

	var n int
	if err := s2.db.QueryRow("select count(*) from dim_fuzzers").Scan(&n); err != nil {
		t.Fatalf("unable to count fuzzers: %s", err)
	}

	if n != 1 {
		t.Fatalf("expected a single fuzzer row, got %d", n)
	}
}

func TestJournalEvictsRolledBackKeys(t *testing.T) {
	s := newTestStore(t, filepath.Join(t.TempDir(), "journal.db"))

	tx, err := s.db.Begin()
	if err != nil {
		t.Fatalf("unable to begin transaction: %s", err)
	}

	j := s.dims.journal()
	if _, err := s.dims.fuzzerID(tx, j, "RolledBackFuzzer"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if err := tx.Rollback(); err != nil {
		t.Fatalf("unable to roll back: %s", err)
	}
	j.evict()

	if n := s.dims.size(); n != 0 {
		t.Fatalf("expected an empty cache after eviction, got %d entries", n)
	}

	// The key resolves again from scratch and the table holds it once.
	id, err := s.dims.fuzzerID(s.db, nil, "RolledBackFuzzer")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if id == 0 {
		t.Fatalf("expected id to be greater than zero")
	}

	var n int
	if err := s.db.QueryRow("select count(*) from dim_fuzzers").Scan(&n); err != nil {
		t.Fatalf("unable to count fuzzers: %s", err)
	}

	if n != 1 {
		t.Fatalf("expected a single fuzzer row, got %d", n)
	}
}

func TestPreloadSeedsCache(t *testing.T) {
	dbpath := filepath.Join(t.TempDir(), "preload.db")
	s := newTestStore(t, dbpath)

	if _, err := s.SaveBatch([]*catsdb.TestRecord{testRecord(1, catsdb.ResultSuccess, 200)}); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	s2, err := NewStore(dbpath)
	if err != nil {
		t.Fatalf("unable to reopen store: %s", err)
	}
	defer s2.Close()

	if s2.DimensionCacheSize() != 0 {
		t.Fatalf("expected an empty cache before preload")
	}

	if err := s2.LoadDimensions(); err != nil {
		t.Fatalf("unable to preload: %s", err)
	}

	// result type, fuzzer, server, path, method
	if n := s2.DimensionCacheSize(); n != 5 {
		t.Fatalf("expected 5 cached dimension rows, got %d", n)
	}
}
