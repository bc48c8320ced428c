package postgres

import "fmt"

// query accumulates a SELECT with positional arguments.
type query struct {
	sql  string
	args []any
}

func newQuery(base string) *query {
	return &query{sql: base}
}

// where appends " AND <cond>", where cond holds a single %s placeholder for
// the next positional argument.
func (q *query) where(cond string, arg any) {
	q.args = append(q.args, arg)
	q.sql += " AND " + fmt.Sprintf(cond, fmt.Sprintf("$%d", len(q.args)))
}

func (q *query) raw(s string) {
	q.sql += s
}

// page appends LIMIT/OFFSET when set.
func (q *query) page(limit, offset int) {
	if limit > 0 {
		q.args = append(q.args, limit)
		q.sql += fmt.Sprintf(" LIMIT $%d", len(q.args))
	}
	if offset > 0 {
		q.args = append(q.args, offset)
		q.sql += fmt.Sprintf(" OFFSET $%d", len(q.args))
	}
}
