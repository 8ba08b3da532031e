// Package query provides a small structured SQL builder used by the
// store layer. Clauses are collected as explicit lists (joins, predicates,
// order terms) and rendered to text exactly once, so clause ordering and
// separators cannot be corrupted by conditional string concatenation.
// Placeholders are written as `?` in fragments and rewritten to positional
// `$n` parameters at the time the fragment is added.
package query

import (
	"fmt"
	"strings"
)

// Builder accumulates the parts of a single SELECT statement.
type Builder struct {
	selects []string
	from    string
	joins   []string
	preds   []string
	args    []interface{}
	idx     int
	orderBy []string

	limit     int
	offset    int
	hasPaging bool
}

// New creates a builder selecting from the given table (with alias),
// e.g. New("event ev").
func New(from string) *Builder {
	return &Builder{from: from}
}

// Select appends columns to the select list.
func (b *Builder) Select(cols ...string) *Builder {
	b.selects = append(b.selects, cols...)
	return b
}

// Join appends a complete join clause, e.g.
// "inner join enrollment en on en.id = ev.enrollmentid".
func (b *Builder) Join(clause string, args ...interface{}) *Builder {
	b.joins = append(b.joins, b.bind(clause, args))
	return b
}

// Where appends a predicate fragment. Fragments are AND-ed together.
// Each `?` in the fragment is replaced by the next positional parameter.
func (b *Builder) Where(fragment string, args ...interface{}) *Builder {
	b.preds = append(b.preds, b.bind(fragment, args))
	return b
}

// OrderBy appends an order term. dir is normalized to asc/desc; anything
// else falls back to asc.
func (b *Builder) OrderBy(expr, dir string) *Builder {
	d := strings.ToLower(strings.TrimSpace(dir))
	if d != "desc" {
		d = "asc"
	}
	b.orderBy = append(b.orderBy, expr+" "+d)
	return b
}

// Paging sets a limit/offset pair. Calling it with limit <= 0 is a no-op
// so callers can pass through a "skip paging" request unchanged.
func (b *Builder) Paging(limit, offset int) *Builder {
	if limit <= 0 {
		return b
	}
	b.limit = limit
	b.offset = offset
	b.hasPaging = true
	return b
}

// HasPredicates reports whether any Where fragment has been added.
func (b *Builder) HasPredicates() bool {
	return len(b.preds) > 0
}

func (b *Builder) bind(fragment string, args []interface{}) string {
	if n := strings.Count(fragment, "?"); n != len(args) {
		panic(fmt.Sprintf("query: fragment %q has %d placeholders but %d args", fragment, n, len(args)))
	}
	var sb strings.Builder
	for _, r := range fragment {
		if r == '?' {
			b.idx++
			fmt.Fprintf(&sb, "$%d", b.idx)
			continue
		}
		sb.WriteRune(r)
	}
	b.args = append(b.args, args...)
	return sb.String()
}

func (b *Builder) renderBody(sb *strings.Builder) {
	sb.WriteString(" from ")
	sb.WriteString(b.from)
	for _, j := range b.joins {
		sb.WriteString(" ")
		sb.WriteString(j)
	}
	if len(b.preds) > 0 {
		sb.WriteString(" where ")
		sb.WriteString(strings.Join(b.preds, " and "))
	}
}

// SQL renders the full statement with order and paging clauses.
func (b *Builder) SQL() (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString("select ")
	if len(b.selects) == 0 {
		sb.WriteString("*")
	} else {
		sb.WriteString(strings.Join(b.selects, ", "))
	}
	b.renderBody(&sb)
	if len(b.orderBy) > 0 {
		sb.WriteString(" order by ")
		sb.WriteString(strings.Join(b.orderBy, ", "))
	}
	if b.hasPaging {
		fmt.Fprintf(&sb, " limit %d offset %d", b.limit, b.offset)
	}
	return sb.String(), b.args
}

// CountSQL renders a count statement over the same from/join/predicate
// set, dropping the select list, order terms, and paging.
func (b *Builder) CountSQL() (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString("select count(*)")
	b.renderBody(&sb)
	return sb.String(), b.args
}
