package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

// whereBuilder accumulates AND-ed conditions with positional arguments.
type whereBuilder struct {
	conds []string
	args  []any
}

// add appends a condition; each "?" in cond is replaced by the next $n.
func (w *whereBuilder) add(cond string, args ...any) {
	for _, a := range args {
		w.args = append(w.args, a)
		cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(w.args)), 1)
	}
	w.conds = append(w.conds, cond)
}

func (w *whereBuilder) window(column string, opts domain.ListOpts) {
	if opts.Since != nil {
		w.add(column+" >= ?", *opts.Since)
	}
	if opts.Until != nil {
		w.add(column+" <= ?", *opts.Until)
	}
}

func (w *whereBuilder) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// page appends LIMIT/OFFSET for opts.
func (w *whereBuilder) page(opts domain.ListOpts) string {
	var sb strings.Builder
	if opts.Limit > 0 {
		w.args = append(w.args, opts.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(w.args))
	}
	if opts.Offset > 0 {
		w.args = append(w.args, opts.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(w.args))
	}
	return sb.String()
}
