package store

import (
	"database/sql"
	"fmt"
	"strings"

	gocache "github.com/patrickmn/go-cache"
)

// queryer is satisfied by *sql.DB and *sql.Tx, so dimension lookups can run
// through whichever is active.
type queryer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// dimensions maps natural keys to surrogate ids with get-or-create
// semantics. The cache is never the source of truth: it can be rebuilt at
// any time from the dimension tables, and preload does exactly that so
// repeated runs against the same store reuse existing rows.
type dimensions struct {
	c *gocache.Cache
}

func newDimensions() *dimensions {
	return &dimensions{c: gocache.New(gocache.NoExpiration, 0)}
}

// dimJournal records cache keys memoized during one transaction. When the
// transaction rolls back, the inserted dimension rows disappear with it, so
// the journal evicts their cached ids to keep the cache truthful.
type dimJournal struct {
	d    *dimensions
	keys []string
}

func (d *dimensions) journal() *dimJournal {
	return &dimJournal{d: d}
}

func (j *dimJournal) evict() {
	for _, key := range j.keys {
		j.d.c.Delete(key)
	}
	j.keys = nil
}

func dimKey(table string, values ...interface{}) string {
	parts := make([]string, 0, len(values)+1)
	parts = append(parts, table)
	for _, v := range values {
		parts = append(parts, fmt.Sprintf("%v", v))
	}

	return strings.Join(parts, "\x00")
}

// resolve returns the surrogate id for a natural key, inserting the
// dimension row on first use. INSERT OR IGNORE followed by SELECT keeps it
// idempotent when the key already exists. A non-nil journal collects the
// keys of freshly memoized rows so a transaction rollback can evict them.
func (d *dimensions) resolve(q queryer, j *dimJournal, table string, fields []string, values ...interface{}) (int64, error) {
	key := dimKey(table, values...)
	if cached, ok := d.c.Get(key); ok {
		return cached.(int64), nil
	}

	var qmarks, conds []string
	for _, f := range fields {
		qmarks = append(qmarks, "?")
		conds = append(conds, fmt.Sprintf("%s = ?", f))
	}

	insertq := fmt.Sprintf("insert or ignore into %s(%s) values(%s)",
		table, strings.Join(fields, ","), strings.Join(qmarks, ","))
	if _, err := q.Exec(insertq, values...); err != nil {
		return 0, fmt.Errorf("%s: insert: %w", table, err)
	}

	selectq := fmt.Sprintf("select id from %s where %s limit 1",
		table, strings.Join(conds, " and "))

	var id int64
	if err := q.QueryRow(selectq, values...).Scan(&id); err != nil {
		return 0, fmt.Errorf("%s: select: %w", table, err)
	}

	d.c.Set(key, id, gocache.NoExpiration)
	if j != nil {
		j.keys = append(j.keys, key)
	}

	return id, nil
}

func (d *dimensions) resultTypeID(q queryer, j *dimJournal, name string) (int64, error) {
	return d.resolve(q, j, "dim_result_types", []string{"name"}, name)
}

func (d *dimensions) fuzzerID(q queryer, j *dimJournal, name string) (int64, error) {
	return d.resolve(q, j, "dim_fuzzers", []string{"name"}, name)
}

func (d *dimensions) serverID(q queryer, j *dimJournal, baseURL string) (int64, error) {
	return d.resolve(q, j, "dim_servers", []string{"base_url"}, baseURL)
}

func (d *dimensions) pathID(q queryer, j *dimJournal, path, contractPath string) (int64, error) {
	return d.resolve(q, j, "dim_paths", []string{"path", "contract_path"}, path, contractPath)
}

func (d *dimensions) methodID(q queryer, j *dimJournal, method string) (int64, error) {
	return d.resolve(q, j, "dim_http_methods", []string{"method"}, method)
}

// preload seeds the cache from all dimension tables. Cardinality is low
// (tens to low hundreds of rows per table), so a full load is cheap and
// removes a query per ingested record.
func (d *dimensions) preload(db *sql.DB) error {
	for _, tbl := range []struct {
		name   string
		fields []string
	}{
		{"dim_result_types", []string{"name"}},
		{"dim_fuzzers", []string{"name"}},
		{"dim_servers", []string{"base_url"}},
		{"dim_paths", []string{"path", "contract_path"}},
		{"dim_http_methods", []string{"method"}},
	} {
		if err := d.preloadTable(db, tbl.name, tbl.fields); err != nil {
			return err
		}
	}

	return nil
}

func (d *dimensions) preloadTable(db *sql.DB, table string, fields []string) error {
	q := fmt.Sprintf("select id, %s from %s", strings.Join(fields, ", "), table)
	rows, err := db.Query(q)
	if err != nil {
		return fmt.Errorf("%s: preload: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		values := make([]string, len(fields))
		dest := make([]interface{}, 0, len(fields)+1)
		dest = append(dest, &id)
		for i := range values {
			dest = append(dest, &values[i])
		}

		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("%s: preload scan: %w", table, err)
		}

		args := make([]interface{}, len(values))
		for i, v := range values {
			args[i] = v
		}

		d.c.Set(dimKey(table, args...), id, gocache.NoExpiration)
	}

	return rows.Err()
}

// size reports how many dimension rows are memoized.
func (d *dimensions) size() int {
	return d.c.ItemCount()
}
