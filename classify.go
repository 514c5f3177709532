package catsdb

import "strings"

// Rule is a named, deterministic predicate explaining why a warn/error
// result is a false positive. Rules are registered in priority order and
// the first match wins.
type Rule struct {
	ID    string
	Match func(r *TestRecord) bool
}

// Classifier evaluates an ordered rule list against one record at a time.
// It holds no mutable state; classification is a pure function of the
// record and the rule list.
type Classifier struct {
	rules []Rule
}

func NewClassifier(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}

	return &Classifier{rules: rules}
}

// Classify reports whether the record's outcome is a known-benign false
// positive and, if so, which rule explains it. Success results are never
// classified. Unrecognized shapes match no rule and stay genuine findings.
func (c *Classifier) Classify(r *TestRecord) (bool, string) {
	if r.Result != ResultWarn && r.Result != ResultError {
		return false, ""
	}

	for _, rule := range c.rules {
		if rule.Match(r) {
			return true, rule.ID
		}
	}

	return false, ""
}

// Rule identifiers. Stable strings: they are persisted in the store and
// keyed on by the reporting views.
const (
	RuleRateLimited        = "rate-limit-429"
	RuleExpectedAuth       = "expected-auth-rejection"
	RuleZeroWidthInput     = "zero-width-input-rejected"
	RuleUnicodeScriptInput = "unicode-script-input-rejected"
	RuleHangulFiller       = "hangul-filler-rejected"
	RuleBidiOverride       = "bidi-override-rejected"
	RuleZalgoText          = "zalgo-text-rejected"
	RuleFullwidthChars     = "fullwidth-chars-rejected"
	RuleSpecialChars       = "special-chars-rejected"
	RuleWhitespacePadding  = "whitespace-padding-rejected"
	RuleBoundaryNumbers    = "boundary-number-rejected"
	RuleOversizedPayload   = "oversized-payload-rejected"
	RuleMalformedJSON      = "malformed-json-rejected"
	RuleEmptyValues        = "empty-value-rejected"
	RuleInjectionProbe     = "injection-probe-rejected"
	RuleAdversarialFuzzer  = "adversarial-fuzzer-rejected"
	RuleRandomNotFound     = "random-resource-not-found"
	RuleExpectedNotFound   = "expected-not-found"
	RuleIDORAdminEndpoint  = "idor-admin-endpoint"
	RuleIDORListEndpoint   = "idor-list-endpoint"
	RuleIDOROptionalField  = "idor-optional-association"
	RuleUnsupportedMethod  = "unsupported-method-rejected"
	RuleTransferEncoding   = "unsupported-transfer-encoding"
	RuleHarnessFault       = "harness-connection-fault"
	RuleHeaderContract     = "response-header-contract"
	RuleContentTypeCont    = "content-type-contract"
	RuleDuplicateName      = "duplicate-name-conflict"
	RuleDeleteChallenge    = "delete-challenge-required"
	RuleReservedIdent      = "reserved-identifier-rejected"
	RulePathParamPattern   = "path-parameter-pattern"
	RuleXSSJSONAPI         = "xss-reflection-json-api"
	RuleSQLJSONAPI         = "sql-injection-json-api"
	RuleNoSQLJSONAPI       = "nosql-injection-json-api"
	RuleCommandJSONAPI     = "command-injection-json-api"
)

var authVocabulary = []string{
	"unauthorized", "forbidden", "invalidtoken", "invalidgrant",
	"authenticationfailed", "authenticationerror", "authorizationerror",
	"invalid_token", "invalid_grant", "access_denied",
	"unexpected response code: 401", "unexpected response code: 403",
}

var notFoundVocabulary = []string{
	"not found", "does not exist", "no such",
}

var reflectionVocabulary = []string{"reflected", "potential"}

var connectionVocabulary = []string{
	"connection refused", "connection reset", "unexpected eof",
	"read timed out", "timeout awaiting response",
}

var adversarialNamePatterns = []string{
	"injection", "overflow", "chars", "unicode", "malformed",
	"hangul", "zalgo", "bidirectional", "fullwidth", "abugida",
}

var notFoundFuzzers = set(
	"RandomResourcesFuzzer", "InsecureDirectObjectReferences",
	"RandomForeignKeyReference", "NonExistentResource",
)

var methodFuzzers = set("HttpMethods", "NonRestHttpMethods", "CustomHttpMethods")

// Scenario fields whose foreign ids the API may ignore when they do not
// resolve: the association is optional for these resources.
var optionalAssociationFields = []string{"threat_model_id", "webhook_id", "addon_id"}

// DefaultRules is the hand-maintained taxonomy of known benign outcomes,
// ordered by priority. New rules are appended as predicate/identifier
// pairs; existing entries are never mutated.
func DefaultRules() []Rule {
	return []Rule{
		// Rate limiting is protective infrastructure, not API logic.
		{RuleRateLimited, func(r *TestRecord) bool {
			return r.code() == 429
		}},

		{RuleExpectedAuth, func(r *TestRecord) bool {
			return (r.code() == 401 || r.code() == 403) &&
				containsAny(r.reasonText(), authVocabulary)
		}},

		// 400s from fuzzers that intentionally send adversarial input: the
		// API rejecting them is the API doing its job.
		rejected400(RuleZeroWidthInput,
			"ZeroWidthCharsInValuesFields", "ZeroWidthCharsInNamesFields"),
		rejected400(RuleUnicodeScriptInput,
			"HangulCharsInStringFields", "ArabicCharsInStringFields",
			"AbugidasInStringFields"),
		rejected400(RuleHangulFiller, "HangulFillerFields"),
		rejected400(RuleBidiOverride, "BidirectionalOverrideFields"),
		rejected400(RuleZalgoText, "ZalgoTextInFields"),
		rejected400(RuleFullwidthChars, "FullwidthBracketsFields"),
		rejected400(RuleSpecialChars,
			"SpecialCharsInStringFields", "ControlCharsInStringFields",
			"EmojisInStringFields"),
		rejected400(RuleWhitespacePadding,
			"TrailingSpacesInFields", "LeadingSpacesInFields"),
		rejected400(RuleBoundaryNumbers,
			"ExtremeNegativeNumbersInNumericFields",
			"ExtremePositiveNumbersInNumericFields"),
		rejected400(RuleOversizedPayload,
			"VeryLargeStrings", "VeryLargeUnicodeStrings",
			"OverflowArraySizeFields"),
		rejected400(RuleMalformedJSON,
			"MalformedJson", "InvalidJsonInRequestBody", "DuplicateKeysFields"),
		rejected400(RuleEmptyValues,
			"NullValuesInFields", "EmptyStringsInFields"),
		rejected400(RuleInjectionProbe,
			"SQLInjection", "XSSInjection", "PathTraversal"),

		{RuleAdversarialFuzzer, func(r *TestRecord) bool {
			return r.code() == 400 &&
				containsAny(strings.ToLower(r.Fuzzer), adversarialNamePatterns)
		}},

		{RuleRandomNotFound, func(r *TestRecord) bool {
			_, ok := notFoundFuzzers[r.Fuzzer]
			return r.code() == 404 && ok
		}},
		{RuleExpectedNotFound, func(r *TestRecord) bool {
			if r.code() != 404 {
				return false
			}
			if strings.Contains(r.reasonText(), "unexpected response code: 404") {
				return true
			}
			return containsAny(strings.ToLower(r.bodyText()), notFoundVocabulary)
		}},

		// The object-reference fuzzer swaps id fields for foreign values.
		// Admin endpoints grant full access by design, list endpoints
		// return empty sets for non-matching filters, and optional
		// association fields ignore unknown ids.
		{RuleIDORAdminEndpoint, func(r *TestRecord) bool {
			return r.Fuzzer == "InsecureDirectObjectReferences" &&
				strings.HasPrefix(r.Path, "/admin/")
		}},
		{RuleIDORListEndpoint, func(r *TestRecord) bool {
			return r.Fuzzer == "InsecureDirectObjectReferences" &&
				r.code() == 200 &&
				strings.Contains(strings.ToLower(r.Path), "list")
		}},
		{RuleIDOROptionalField, func(r *TestRecord) bool {
			if r.Fuzzer != "InsecureDirectObjectReferences" {
				return false
			}
			code := r.code()
			if code != 200 && code != 201 && code != 204 {
				return false
			}
			method := r.method()
			if method != "POST" && method != "PUT" {
				return false
			}
			return containsAny(strings.ToLower(r.Scenario), optionalAssociationFields)
		}},

		{RuleUnsupportedMethod, func(r *TestRecord) bool {
			_, ok := methodFuzzers[r.Fuzzer]
			return ok && (r.code() == 400 || r.code() == 405)
		}},
		{RuleTransferEncoding, func(r *TestRecord) bool {
			return r.code() == 501 &&
				(strings.Contains(r.Fuzzer, "TransferEncoding") ||
					strings.Contains(r.reasonText(), "transfer-encoding"))
		}},
		// 999 is the harness's synthetic code for requests that never got
		// a response. A missing code alone is not enough: it only counts
		// as a harness fault when the reason names a transport failure.
		{RuleHarnessFault, func(r *TestRecord) bool {
			return r.code() == 999 ||
				containsAny(r.reasonText(), connectionVocabulary)
		}},

		// Contract checks flag documentation accuracy, not defects.
		{RuleHeaderContract, func(r *TestRecord) bool {
			return r.Fuzzer == "ResponseHeadersMatchContractHeaders"
		}},
		{RuleContentTypeCont, func(r *TestRecord) bool {
			return r.Fuzzer == "ResponseContentTypeMatchesContract"
		}},

		// Domain conflict/state responses the fuzzer provokes with its own
		// test values.
		{RuleDuplicateName, func(r *TestRecord) bool {
			return r.code() == 409 &&
				containsAny(r.reasonText()+" "+strings.ToLower(r.bodyText()),
					[]string{"already exists", "duplicate", "name is taken"})
		}},
		{RuleDeleteChallenge, func(r *TestRecord) bool {
			return r.method() == "DELETE" &&
				(r.code() == 400 || r.code() == 409) &&
				containsAny(r.reasonText()+" "+strings.ToLower(r.bodyText()),
					[]string{"confirmation", "challenge"})
		}},
		{RuleReservedIdent, func(r *TestRecord) bool {
			code := r.code()
			return (code == 400 || code == 409 || code == 422) &&
				strings.Contains(r.reasonText()+" "+strings.ToLower(r.bodyText()), "reserved")
		}},
		{RulePathParamPattern, func(r *TestRecord) bool {
			code := r.code()
			return (code == 400 || code == 404) &&
				containsAny(r.reasonText(),
					[]string{"does not match the pattern", "pattern mismatch",
						"invalid path parameter"})
		}},

		// The service is a pure JSON API: it never renders HTML and never
		// executes stored payloads, so echoing attacker strings back as
		// JSON data is correct behavior, not exploitation.
		injectionJSONAPI(RuleXSSJSONAPI, "XssInjectionInStringFields"),
		injectionJSONAPI(RuleSQLJSONAPI, "SqlInjectionInStringFields"),
		injectionJSONAPI(RuleNoSQLJSONAPI, "NoSqlInjectionInStringFields"),
		injectionJSONAPI(RuleCommandJSONAPI, "CommandInjectionInStringFields"),
	}
}

func rejected400(id string, fuzzers ...string) Rule {
	members := set(fuzzers...)

	return Rule{id, func(r *TestRecord) bool {
		_, ok := members[r.Fuzzer]
		return r.code() == 400 && ok
	}}
}

func injectionJSONAPI(id, fuzzer string) Rule {
	return Rule{id, func(r *TestRecord) bool {
		return r.Fuzzer == fuzzer &&
			containsAny(r.reasonText(), reflectionVocabulary)
	}}
}

func set(names ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}

	return m
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}

	return false
}

func (r *TestRecord) code() int {
	if r.Response == nil {
		return 0
	}

	return r.Response.Code
}

func (r *TestRecord) method() string {
	if r.Request == nil {
		return ""
	}

	return r.Request.Method
}

func (r *TestRecord) bodyText() string {
	if r.Response == nil {
		return ""
	}

	return r.Response.BodyText()
}

func (r *TestRecord) reasonText() string {
	return strings.ToLower(r.ResultReason + " " + r.ResultDetails)
}
