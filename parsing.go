package catsdb

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var ErrMissingFields = errors.New("record is missing required fields")

var testNumberRe = regexp.MustCompile(`\d+`)

// ExtractTestNumber pulls the embedded numeric sequence out of a test id
// ("Test 10002") or a file stem ("Test10002"). Records without one sort
// first as zero.
func ExtractTestNumber(s string) int {
	m := testNumberRe.FindString(s)
	if m == "" {
		return 0
	}

	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}

	return n
}

// ParseRecordFile reads and validates a single per-test JSON document. A
// decoding failure or a missing required field makes the file skippable,
// never fatal.
func ParseRecordFile(path string) (*TestRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var rec TestRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	if err := rec.Validate(); err != nil {
		return nil, err
	}

	return &rec, nil
}

// Validate checks the required top-level fields and names every missing one.
func (r *TestRecord) Validate() error {
	var missing []string

	for field, present := range map[string]bool{
		"testId":         r.TestID != "",
		"traceId":        r.TraceID != "",
		"scenario":       r.Scenario != "",
		"expectedResult": r.ExpectedResult != "",
		"result":         r.Result != "",
		"fuzzer":         r.Fuzzer != "",
		"path":           r.Path != "",
		"server":         r.Server != "",
		"request":        r.Request != nil,
		"response":       r.Response != nil,
	} {
		if !present {
			missing = append(missing, field)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %s", ErrMissingFields, strings.Join(missing, ", "))
	}

	return nil
}
