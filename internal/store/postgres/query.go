package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/vaultkeeper/internal/domain"
)

// listQuery appends filters, ordering and pagination to a SELECT. Equality
// filters come first, then the time window from opts.
type listQuery struct {
	sb      strings.Builder
	args    []any
	timeCol string
}

func newListQuery(base, timeCol string) *listQuery {
	q := &listQuery{timeCol: timeCol}
	q.sb.WriteString(base)
	q.sb.WriteString(" WHERE 1=1")
	return q
}

func (q *listQuery) arg(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

func (q *listQuery) where(col string, v any) *listQuery {
	fmt.Fprintf(&q.sb, " AND %s = %s", col, q.arg(v))
	return q
}

func (q *listQuery) before(v any) *listQuery {
	fmt.Fprintf(&q.sb, " AND %s < %s", q.timeCol, q.arg(v))
	return q
}

func (q *listQuery) window(opts domain.ListOpts) *listQuery {
	if opts.Since != nil {
		fmt.Fprintf(&q.sb, " AND %s >= %s", q.timeCol, q.arg(*opts.Since))
	}
	if opts.Until != nil {
		fmt.Fprintf(&q.sb, " AND %s <= %s", q.timeCol, q.arg(*opts.Until))
	}
	return q
}

func (q *listQuery) page(opts domain.ListOpts, order string) *listQuery {
	fmt.Fprintf(&q.sb, " ORDER BY %s %s", q.timeCol, order)
	if opts.Limit > 0 {
		fmt.Fprintf(&q.sb, " LIMIT %s", q.arg(opts.Limit))
	}
	if opts.Offset > 0 {
		fmt.Fprintf(&q.sb, " OFFSET %s", q.arg(opts.Offset))
	}
	return q
}

func (q *listQuery) String() string { return q.sb.String() }
