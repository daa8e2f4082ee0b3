package postgres

import (
	"fmt"
	"strings"
)

// queryBuilder accumulates AND-ed conditions with positional arguments.
// Each "?" in a condition is replaced by the next $n placeholder.
type queryBuilder struct {
	conditions []string
	args       []any
}

func (q *queryBuilder) where(cond string, args ...any) {
	for _, a := range args {
		q.args = append(q.args, a)
		cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(q.args)), 1)
	}
	q.conditions = append(q.conditions, cond)
}

// eq adds "col = value" when value is non-empty.
func (q *queryBuilder) eq(col, value string) {
	if value != "" {
		q.where(col+" = ?", value)
	}
}

// clause returns " WHERE ..." or "" when there are no conditions.
func (q *queryBuilder) clause() string {
	if len(q.conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.conditions, " AND ")
}

// page appends LIMIT and OFFSET placeholders and returns the SQL suffix.
func (q *queryBuilder) page(limit, offset int) string {
	q.args = append(q.args, limit, offset)
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(q.args)-1, len(q.args))
}
