package store

const (
	dimensionSchema = `
create table if not exists dim_result_types (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);

create table if not exists dim_fuzzers (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);

create table if not exists dim_servers (
    id INTEGER PRIMARY KEY,
    base_url TEXT NOT NULL UNIQUE
);

create table if not exists dim_paths (
    id INTEGER PRIMARY KEY,
    path TEXT NOT NULL,
    contract_path TEXT NOT NULL DEFAULT '',
    UNIQUE (path, contract_path)
);

create table if not exists dim_http_methods (
    id INTEGER PRIMARY KEY,
    method TEXT NOT NULL UNIQUE
);`

	factSchema = `
create table if not exists fact_tests (
    id INTEGER PRIMARY KEY,
    test_id TEXT NOT NULL UNIQUE,
    test_number INTEGER NOT NULL,
    trace_id TEXT NOT NULL,
    scenario TEXT NOT NULL,
    expected_result TEXT NOT NULL,
    result_type_id INTEGER references dim_result_types(id) NOT NULL,
    fuzzer_id INTEGER references dim_fuzzers(id) NOT NULL,
    server_id INTEGER references dim_servers(id) NOT NULL,
    path_id INTEGER references dim_paths(id) NOT NULL,
    result_reason TEXT,
    result_details TEXT,
    source_file TEXT NOT NULL,
    is_false_positive INTEGER NOT NULL DEFAULT 0,
    fp_rule TEXT,
    CHECK (((is_false_positive = 1) = (fp_rule IS NOT NULL)) AND fp_rule <> '')
);

create table if not exists fact_requests (
    id INTEGER PRIMARY KEY,
    test_id INTEGER references fact_tests(id) NOT NULL UNIQUE,
    http_method_id INTEGER references dim_http_methods(id) NOT NULL,
    url TEXT NOT NULL,
    timestamp TEXT NOT NULL
);

create table if not exists fact_responses (
    id INTEGER PRIMARY KEY,
    test_id INTEGER references fact_tests(id) NOT NULL UNIQUE,
    http_method_id INTEGER references dim_http_methods(id) NOT NULL,
    response_code INTEGER NOT NULL,
    response_time_ms INTEGER,
    num_words INTEGER,
    num_lines INTEGER,
    content_length_bytes INTEGER,
    content_type TEXT
);

create table if not exists fact_request_headers (
    request_id INTEGER references fact_requests(id) NOT NULL,
    header_key TEXT NOT NULL,
    header_value TEXT NOT NULL,
    header_order INTEGER NOT NULL
);

create table if not exists fact_response_headers (
    response_id INTEGER references fact_responses(id) NOT NULL,
    header_key TEXT NOT NULL,
    header_value TEXT NOT NULL,
    header_order INTEGER NOT NULL
);`

	indexSchema = `
create index if not exists idx_tests_result_type on fact_tests(result_type_id);
create index if not exists idx_tests_fuzzer on fact_tests(fuzzer_id);
create index if not exists idx_tests_path on fact_tests(path_id);
create index if not exists idx_tests_test_number on fact_tests(test_number);
create index if not exists idx_tests_result_fuzzer on fact_tests(result_type_id, fuzzer_id);
create index if not exists idx_tests_fuzzer_path on fact_tests(fuzzer_id, path_id);
create index if not exists idx_tests_false_positive on fact_tests(is_false_positive);
create index if not exists idx_tests_fp_rule on fact_tests(fp_rule);

create index if not exists idx_requests_test_id on fact_requests(test_id);
create index if not exists idx_requests_method on fact_requests(http_method_id);

create index if not exists idx_responses_test_id on fact_responses(test_id);
create index if not exists idx_responses_code on fact_responses(response_code);
create index if not exists idx_responses_time on fact_responses(response_time_ms);
create index if not exists idx_responses_code_time on fact_responses(response_code, response_time_ms);

create index if not exists idx_req_headers_request_id on fact_request_headers(request_id);
create index if not exists idx_req_headers_key on fact_request_headers(header_key);
create index if not exists idx_resp_headers_response_id on fact_response_headers(response_id);
create index if not exists idx_resp_headers_key on fact_response_headers(header_key);`

	viewSchema = `
create view if not exists test_results_view as
select
    t.test_id,
    t.test_number,
    t.trace_id,
    rt.name as result,
    f.name as fuzzer,
    p.path,
    p.contract_path,
    s.base_url as server,
    m.method as http_method,
    r.response_code,
    r.response_time_ms,
    t.scenario,
    t.expected_result,
    t.result_reason,
    t.source_file,
    t.is_false_positive,
    t.fp_rule
from fact_tests t
join dim_result_types rt on t.result_type_id = rt.id
join dim_fuzzers f on t.fuzzer_id = f.id
join dim_paths p on t.path_id = p.id
join dim_servers s on t.server_id = s.id
join fact_requests req on t.id = req.test_id
join dim_http_methods m on req.http_method_id = m.id
join fact_responses r on t.id = r.test_id;

create view if not exists test_results_filtered_view as
select *
from test_results_view
where is_false_positive = 0;

create view if not exists false_positive_rule_view as
select
    fp_rule,
    count(*) as count
from fact_tests
where is_false_positive = 1
group by fp_rule
order by count desc;

create view if not exists classification_stats_view as
select
    rt.name as result,
    t.is_false_positive,
    count(*) as count
from fact_tests t
join dim_result_types rt on t.result_type_id = rt.id
group by rt.name, t.is_false_positive;

create view if not exists fuzzer_stats_view as
select
    f.name as fuzzer,
    rt.name as result,
    count(*) as count,
    round(100.0 * count(*) / sum(count(*)) over (partition by f.name), 2) as percentage,
    avg(r.response_time_ms) as avg_response_time_ms
from fact_tests t
join dim_fuzzers f on t.fuzzer_id = f.id
join dim_result_types rt on t.result_type_id = rt.id
join fact_responses r on t.id = r.test_id
group by f.name, rt.name;

create view if not exists path_error_analysis_view as
select
    p.path,
    m.method as http_method,
    count(*) as total_tests,
    sum(case when rt.name = 'error' then 1 else 0 end) as errors,
    sum(case when rt.name = 'warn' then 1 else 0 end) as warnings,
    sum(case when rt.name = 'success' then 1 else 0 end) as successes,
    round(100.0 * sum(case when rt.name = 'error' then 1 else 0 end) / count(*), 2) as error_rate
from fact_tests t
join dim_paths p on t.path_id = p.id
join dim_result_types rt on t.result_type_id = rt.id
join fact_requests req on t.id = req.test_id
join dim_http_methods m on req.http_method_id = m.id
group by p.path, m.method;

create view if not exists response_code_stats_view as
select
    r.response_code,
    rt.name as result,
    count(*) as count,
    avg(r.response_time_ms) as avg_time_ms,
    min(r.response_time_ms) as min_time_ms,
    max(r.response_time_ms) as max_time_ms
from fact_responses r
join fact_tests t on r.test_id = t.id
join dim_result_types rt on t.result_type_id = rt.id
group by r.response_code, rt.name
order by r.response_code;`
)
