package catsdb_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apisec-lab/catsdb"
)

func TestExtractTestNumber(t *testing.T) {
	tt := []struct {
		name string
		in   string
		num  int
	}{
		{name: "spaced id", in: "Test 10002", num: 10002},
		{name: "file stem", in: "Test214", num: 214},
		{name: "no digits", in: "Testcase", num: 0},
		{name: "empty", in: "", num: 0},
		{name: "digits only", in: "42", num: 42},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			if n := catsdb.ExtractTestNumber(tc.in); n != tc.num {
				t.Fatalf("expected %d, got %d", tc.num, n)
			}
		})
	}
}

const validRecord = `{
  "testId": "Test 12",
  "traceId": "trace-12",
  "scenario": "send a random string in the name field",
  "expectedResult": "should return 2xx",
  "result": "error",
  "fuzzer": "VeryLargeStrings",
  "path": "/threat_models",
  "contractPath": "/threat_models",
  "server": "http://localhost:8080",
  "resultReason": "unexpected response code: 400",
  "request": {
    "httpMethod": "POST",
    "url": "http://localhost:8080/threat_models",
    "timestamp": "2025-01-02T10:00:00Z",
    "headers": [
      {"key": "Content-Type", "value": "application/json"},
      {"key": "Accept", "value": "application/json"}
    ]
  },
  "response": {
    "httpMethod": "POST",
    "responseCode": 400,
    "responseTimeInMs": "83",
    "numberOfWordsInResponse": 10,
    "numberOfLinesInResponse": 1,
    "contentLengthInBytes": null,
    "responseContentType": "application/json",
    "headers": [{"key": "Content-Type", "value": "application/json"}],
    "responseBody": {"error": "value too long"}
  }
}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("unable to write test file: %s", err)
	}

	return path
}

func TestParseRecordFile(t *testing.T) {
	dir := t.TempDir()

	path := writeFile(t, dir, "Test 12.json", validRecord)

	rec, err := catsdb.ParseRecordFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if rec.TestID != "Test 12" {
		t.Fatalf("unexpected test id: %s", rec.TestID)
	}

	if rec.Result != catsdb.ResultError {
		t.Fatalf("unexpected result: %s", rec.Result)
	}

	if n := len(rec.Request.Headers); n != 2 {
		t.Fatalf("expected 2 request headers, got %d", n)
	}

	if rec.Request.Headers[0].Key != "Content-Type" {
		t.Fatalf("header order not preserved: %s", rec.Request.Headers[0].Key)
	}

	if rec.Response.TimeMs.Int64() != 83 {
		t.Fatalf("expected quoted response time to decode, got %d", rec.Response.TimeMs.Int64())
	}

	if rec.Response.ContentLength.Int64() != 0 {
		t.Fatalf("expected null byte count to decode as zero, got %d", rec.Response.ContentLength.Int64())
	}

	if !strings.Contains(rec.Response.BodyText(), "value too long") {
		t.Fatalf("expected raw body to be retained, got %q", rec.Response.BodyText())
	}
}

func TestParseRecordFileInvalid(t *testing.T) {
	dir := t.TempDir()

	tt := []struct {
		name    string
		content string
	}{
		{name: "malformed json", content: `{"testId": "Test 1",`},
		{
			name: "missing fields",
			content: `{
			  "testId": "Test 2",
			  "result": "warn",
			  "request": {"httpMethod": "GET", "url": "u", "timestamp": "t"}
			}`,
		},
		{name: "wrong shape", content: `[1, 2, 3]`},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, dir, "Test1.json", tc.content)

			if _, err := catsdb.ParseRecordFile(path); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}

func TestValidateNamesMissingFields(t *testing.T) {
	rec := &catsdb.TestRecord{
		TestID: "Test 3",
		Result: "warn",
	}

	err := rec.Validate()
	if err == nil {
		t.Fatalf("expected an error")
	}

	for _, field := range []string{"traceId", "scenario", "fuzzer", "request", "response"} {
		if !strings.Contains(err.Error(), field) {
			t.Fatalf("expected error to name %q, got: %s", field, err)
		}
	}
}
