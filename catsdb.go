package catsdb

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Result classifications emitted by the fuzzer.
const (
	ResultSuccess = "success"
	ResultWarn    = "warn"
	ResultError   = "error"
)

// Header is a single request or response header. Headers are kept as an
// ordered list, not a map: duplicates and ordering are significant for
// protocol analysis.
type Header struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type TestRequest struct {
	Method    string   `json:"httpMethod"`
	URL       string   `json:"url"`
	Timestamp string   `json:"timestamp"`
	Headers   []Header `json:"headers"`
}

type TestResponse struct {
	Method        string          `json:"httpMethod"`
	Code          int             `json:"responseCode"`
	TimeMs        LooseInt        `json:"responseTimeInMs"`
	Words         LooseInt        `json:"numberOfWordsInResponse"`
	Lines         LooseInt        `json:"numberOfLinesInResponse"`
	ContentLength LooseInt        `json:"contentLengthInBytes"`
	ContentType   string          `json:"responseContentType"`
	Headers       []Header        `json:"headers"`
	Body          json.RawMessage `json:"responseBody"`
}

// BodyText returns the raw response body as searchable text.
func (tr *TestResponse) BodyText() string {
	return string(tr.Body)
}

// TestRecord is one per-test result document produced by the fuzzer. The
// document is validated once at the ingestion boundary; the classifier and
// the store both work from this type.
type TestRecord struct {
	TestID         string        `json:"testId"`
	TraceID        string        `json:"traceId"`
	Scenario       string        `json:"scenario"`
	ExpectedResult string        `json:"expectedResult"`
	Result         string        `json:"result"`
	Fuzzer         string        `json:"fuzzer"`
	Path           string        `json:"path"`
	ContractPath   string        `json:"contractPath"`
	Server         string        `json:"server"`
	ResultReason   string        `json:"resultReason"`
	ResultDetails  string        `json:"resultDetails"`
	Request        *TestRequest  `json:"request"`
	Response       *TestResponse `json:"response"`

	// Derived during ingestion, not part of the input document.
	TestNumber      int    `json:"-"`
	SourceFile      string `json:"-"`
	IsFalsePositive bool   `json:"-"`
	FPRule          string `json:"-"`
}

// LooseInt tolerates the fuzzer's loose numeric encoding: plain numbers,
// floats, quoted numbers, null, and the empty string all decode.
type LooseInt int64

func (li *LooseInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*li = 0
		return nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("numeric field: %q", s)
	}

	*li = LooseInt(f)
	return nil
}

func (li LooseInt) Int64() int64 { return int64(li) }
