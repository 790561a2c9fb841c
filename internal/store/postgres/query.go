package postgres

import (
	"fmt"

	"github.com/alanyoungcy/optionbot/internal/domain"
)

// listQuery accumulates a filtered, paginated SELECT with positional args.
type listQuery struct {
	sql     string
	args    []any
	timeCol string
}

func newListQuery(base, timeCol string) *listQuery {
	return &listQuery{sql: base, timeCol: timeCol}
}

func (q *listQuery) arg(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

func (q *listQuery) window(opts domain.ListOpts) {
	if opts.Since != nil {
		q.sql += " AND " + q.timeCol + " >= " + q.arg(*opts.Since)
	}
	if opts.Until != nil {
		q.sql += " AND " + q.timeCol + " <= " + q.arg(*opts.Until)
	}
}

func (q *listQuery) page(orderBy string, opts domain.ListOpts) {
	q.sql += " ORDER BY " + orderBy
	if opts.Limit > 0 {
		q.sql += " LIMIT " + q.arg(opts.Limit)
	}
	if opts.Offset > 0 {
		q.sql += " OFFSET " + q.arg(opts.Offset)
	}
}
