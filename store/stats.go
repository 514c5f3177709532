package store

import (
	"database/sql"
	"fmt"
	"os"
)

// ResultCount is one per-result-type tally.
type ResultCount struct {
	Result string
	Count  int64
}

// RuleCount is one per-rule false-positive tally.
type RuleCount struct {
	Rule  string
	Count int64
}

// Summary holds the post-run aggregate statistics, computed from the
// analytical views.
type Summary struct {
	Tests             int64
	ResultCounts      []ResultCount
	FalsePositives    int64
	FalsePositiveRate float64
	RuleCounts        []RuleCount
	ResultTypes       int64
	Fuzzers           int64
	Servers           int64
	Paths             int64
	HTTPMethods       int64
	RequestHeaders    int64
	ResponseHeaders   int64
	SizeBytes         int64
}

// Summarize queries the store for the end-of-run report. Read-only.
func (s *Store) Summarize() (*Summary, error) {
	var sum Summary

	for _, c := range []struct {
		table string
		dst   *int64
	}{
		{"fact_tests", &sum.Tests},
		{"dim_result_types", &sum.ResultTypes},
		{"dim_fuzzers", &sum.Fuzzers},
		{"dim_servers", &sum.Servers},
		{"dim_paths", &sum.Paths},
		{"dim_http_methods", &sum.HTTPMethods},
		{"fact_request_headers", &sum.RequestHeaders},
		{"fact_response_headers", &sum.ResponseHeaders},
	} {
		if err := s.db.QueryRow("select count(*) from " + c.table).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("count %s: %w", c.table, err)
		}
	}

	resultCounts, err := s.resultDistribution()
	if err != nil {
		return nil, err
	}
	sum.ResultCounts = resultCounts

	if err := s.db.QueryRow(
		"select count(*) from fact_tests where is_false_positive = 1",
	).Scan(&sum.FalsePositives); err != nil {
		return nil, err
	}

	if sum.Tests > 0 {
		sum.FalsePositiveRate = 100 * float64(sum.FalsePositives) / float64(sum.Tests)
	}

	ruleCounts, err := s.falsePositivesByRule()
	if err != nil {
		return nil, err
	}
	sum.RuleCounts = ruleCounts

	if fi, err := os.Stat(s.path); err == nil {
		sum.SizeBytes = fi.Size()
	}

	return &sum, nil
}

func (s *Store) resultDistribution() ([]ResultCount, error) {
	rows, err := s.db.Query(`
		select rt.name, count(*)
		from fact_tests t
		join dim_result_types rt on t.result_type_id = rt.id
		group by rt.name
		order by rt.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []ResultCount
	for rows.Next() {
		var rc ResultCount
		if err := rows.Scan(&rc.Result, &rc.Count); err != nil {
			return nil, err
		}

		counts = append(counts, rc)
	}

	return counts, rows.Err()
}

func (s *Store) falsePositivesByRule() ([]RuleCount, error) {
	rows, err := s.db.Query("select fp_rule, count from false_positive_rule_view")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []RuleCount
	for rows.Next() {
		var rule sql.NullString
		var rc RuleCount
		if err := rows.Scan(&rule, &rc.Count); err != nil {
			return nil, err
		}

		rc.Rule = rule.String
		counts = append(counts, rc)
	}

	return counts, rows.Err()
}

// Analyze refreshes the query optimizer statistics. Best run once after a
// full ingestion.
func (s *Store) Analyze() error {
	_, err := s.db.Exec("ANALYZE")
	return err
}
