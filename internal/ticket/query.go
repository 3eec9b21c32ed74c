// Package ticket holds the routing core: the permission-scoped listing query
// and the ticket state machine.
package ticket

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/otaviofarias/ticketstream/internal/models"
)

// DefaultPageSize is the fixed page size of the ticket listing.
const DefaultPageSize = 40

// QueueSelector is the parsed form of the queueIds request parameter. The
// NO_QUEUE sentinel becomes IncludeUnassigned instead of a fake ID, so "queue
// is unset" can sit next to real queue IDs in one filter.
type QueueSelector struct {
	IDs               []uuid.UUID
	IncludeUnassigned bool
}

// ParseQueueSelector parses raw queueIds values ("NO_QUEUE" or queue UUIDs).
func ParseQueueSelector(raw []string) (QueueSelector, error) {
	var sel QueueSelector
	for _, v := range raw {
		if v == models.NoQueue {
			sel.IncludeUnassigned = true
			continue
		}
		id, err := uuid.Parse(v)
		if err != nil {
			return QueueSelector{}, fmt.Errorf("invalid queue id %q: %w", v, err)
		}
		sel.IDs = append(sel.IDs, id)
	}
	return sel, nil
}

// ListFilter is the immutable input to the query builder. Handlers populate
// it from the request; ShowAllGranted comes from the permission gate, and
// ActorQueueIDs from the acting user's queue memberships (only consulted by
// the unread-only step).
type ListFilter struct {
	TenantID uuid.UUID
	ActorID  uuid.UUID

	Queues QueueSelector

	Status     string
	CategoryID *uuid.UUID
	Date       *time.Time
	SearchText string

	ShowAll        bool
	ShowAllGranted bool

	UnreadOnly        bool
	ActorQueueIDs     []uuid.UUID
	PendingAnswerOnly bool

	IsTask     bool
	TaskFilter string // "", "expiring", "expired"
	SearchTask string

	Page int

	// Now anchors the task due-date windows; the zero value means time.Now().
	Now time.Time
}

// Query is the rendered output: positional SQL for the row page and the
// total count, sharing one argument list.
type Query struct {
	SQL      string
	CountSQL string
	Args     []any
	Limit    int
	Offset   int
}

// frag is a SQL fragment with `?` placeholders and its own arguments.
// Fragments are renumbered to $N only at render time, so a step that
// replaces earlier fragments never leaves orphaned arguments behind.
type frag struct {
	sql  string
	args []any
}

func f(sql string, args ...any) frag { return frag{sql: sql, args: args} }

func (fr frag) empty() bool { return fr.sql == "" }

// predicateSet is the accumulating query state. Each field is one named
// predicate; steps narrow, replace, or clear fields and return the new set.
// Keeping the slots named makes the overwrite rules (date replaces
// everything, task mode drops the queue slot) explicit instead of
// accidental.
type predicateSet struct {
	tenant        frag
	owner         frag // (user_id = actor OR status = 'pending')
	forcedOwner   frag // user_id IN (actor, NULL), applied when show-all is denied
	queue         frag
	status        frag
	category      frag
	search        frag
	dateWindow    frag
	unread        frag
	pendingAnswer frag
	task          frag
}

func (p predicateSet) fragments() []frag {
	return []frag{
		p.tenant, p.owner, p.forcedOwner, p.queue, p.status, p.category,
		p.search, p.dateWindow, p.unread, p.pendingAnswer, p.task,
	}
}

type step struct {
	name  string
	apply func(p predicateSet, flt ListFilter) predicateSet
}

// steps is the ordered pipeline. Order matters: later steps may replace what
// earlier ones built (notably applyDateWindow, which discards everything
// before it except the tenant match).
var steps = []step{
	{"base", applyBase},
	{"status", applyStatus},
	{"category", applyCategory},
	{"search", applySearch},
	{"dateWindow", applyDateWindow},
	{"unreadOnly", applyUnreadOnly},
	{"visibility", applyVisibility},
	{"pendingAnswer", applyPendingAnswer},
	{"taskMode", applyTaskMode},
}

// applyBase installs the always-on predicate: tenant match, actor-or-pending
// ownership, and queue membership.
func applyBase(p predicateSet, flt ListFilter) predicateSet {
	p.tenant = f("t.tenant_id = ?", flt.TenantID)
	p.owner = f("(t.user_id = ? OR t.status = 'pending')", flt.ActorID)
	p.queue = queueFrag(flt.Queues)
	return p
}

func applyStatus(p predicateSet, flt ListFilter) predicateSet {
	if flt.Status == "" {
		return p
	}
	p.status = f("t.status = ?", flt.Status)
	return p
}

func applyCategory(p predicateSet, flt ListFilter) predicateSet {
	if flt.CategoryID == nil {
		return p
	}
	p.category = f("t.category_id = ?", *flt.CategoryID)
	return p
}

// applySearch matches contact name, contact number, message body, or channel
// name, case-insensitively. Message bodies are matched through EXISTS so a
// ticket with three matching messages still counts as one row.
func applySearch(p predicateSet, flt ListFilter) predicateSet {
	if flt.SearchText == "" {
		return p
	}
	needle := "%" + strings.ToLower(strings.TrimSpace(flt.SearchText)) + "%"
	p.search = f(`(lower(c.name) LIKE ? OR c.number LIKE ?
		OR EXISTS (SELECT 1 FROM messages m WHERE m.ticket_id = t.id AND lower(m.body) LIKE ?)
		OR lower(w.name) LIKE ?)`,
		needle, needle, needle, needle)
	return p
}

// applyDateWindow replaces every predicate built so far with tenant plus an
// exact-day window on creation time. Dropping status/category/search is
// intentional and clients depend on it; a regression test pins it.
func applyDateWindow(p predicateSet, flt ListFilter) predicateSet {
	if flt.Date == nil {
		return p
	}
	day := flt.Date.Truncate(24 * time.Hour)
	next := day.Add(24 * time.Hour)
	return predicateSet{
		tenant:     f("t.tenant_id = ?", flt.TenantID),
		dateWindow: f("t.created_at >= ? AND t.created_at < ?", day, next),
	}
}

// applyUnreadOnly rebuilds the set from scratch: actor-or-pending ownership,
// the actor's own queues plus unassigned, and a positive unread counter.
// Like the date window it is a wholesale replacement, so status, category
// and search do not survive it.
func applyUnreadOnly(p predicateSet, flt ListFilter) predicateSet {
	if !flt.UnreadOnly {
		return p
	}
	return predicateSet{
		tenant: f("t.tenant_id = ?", flt.TenantID),
		owner:  f("(t.user_id = ? OR t.status = 'pending')", flt.ActorID),
		queue:  queueFrag(QueueSelector{IDs: flt.ActorQueueIDs, IncludeUnassigned: true}),
		unread: f("t.unread_messages > ?", 0),
	}
}

// applyVisibility resolves the show-all permission. Granted and requested:
// the ownership restriction disappears entirely (tenant, queue, status,
// category and search still apply). Denied: ownership is force-narrowed to
// the actor or unclaimed tickets regardless of what was requested.
func applyVisibility(p predicateSet, flt ListFilter) predicateSet {
	if flt.ShowAll && flt.ShowAllGranted {
		// Rebuild without any ownership restriction. Status, category and
		// search are re-applied; the date window and unread predicates do
		// not survive the rebuild.
		np := predicateSet{
			tenant: f("t.tenant_id = ?", flt.TenantID),
			queue:  queueFrag(flt.Queues),
		}
		np = applyStatus(np, flt)
		np = applyCategory(np, flt)
		np = applySearch(np, flt)
		return np
	}
	if !flt.ShowAllGranted {
		p.forcedOwner = f("(t.user_id = ? OR t.user_id IS NULL)", flt.ActorID)
		if p.queue.empty() {
			p.queue = queueFrag(flt.Queues)
		}
	}
	return p
}

func applyPendingAnswer(p predicateSet, flt ListFilter) predicateSet {
	if !flt.PendingAnswerOnly {
		return p
	}
	p.pendingAnswer = f("t.last_message_from_me = ?", false)
	return p
}

// applyTaskMode drops the queue predicate and requires an open task matching
// the task-specific filters. Task ownership follows the same show-all rule
// as ticket ownership.
func applyTaskMode(p predicateSet, flt ListFilter) predicateSet {
	if !flt.IsTask {
		return p
	}
	p.queue = frag{}

	now := flt.Now
	if now.IsZero() {
		now = time.Now()
	}

	var taskConds []string
	var taskArgs []any
	switch {
	case flt.TaskFilter == "expiring":
		start := now.Truncate(24 * time.Hour)
		taskConds = append(taskConds, "tk.due_date >= ? AND tk.due_date <= ?")
		taskArgs = append(taskArgs, start, now)
	case flt.TaskFilter == "expired":
		taskConds = append(taskConds, "tk.due_date <= ?")
		taskArgs = append(taskArgs, now)
	case !(flt.ShowAll && flt.ShowAllGranted):
		taskConds = append(taskConds, "tk.user_id = ?")
		taskArgs = append(taskArgs, flt.ActorID)
	}
	if flt.SearchTask != "" {
		// Last-wins, like the date window: a description search replaces the
		// due-date/ownership predicate instead of narrowing it.
		taskConds = []string{"lower(tk.description) LIKE ?"}
		taskArgs = []any{"%" + strings.ToLower(strings.TrimSpace(flt.SearchTask)) + "%"}
	}

	cond := "tk.ticket_id = t.id AND tk.finalized_at IS NULL"
	if len(taskConds) > 0 {
		cond += " AND " + strings.Join(taskConds, " AND ")
	}
	p.task = f("EXISTS (SELECT 1 FROM tasks tk WHERE "+cond+")", taskArgs...)
	return p
}

func queueFrag(sel QueueSelector) frag {
	switch {
	case len(sel.IDs) > 0 && sel.IncludeUnassigned:
		return f("(t.queue_id = ANY(?) OR t.queue_id IS NULL)", sel.IDs)
	case len(sel.IDs) > 0:
		return f("t.queue_id = ANY(?)", sel.IDs)
	case sel.IncludeUnassigned:
		return f("t.queue_id IS NULL")
	default:
		// An empty selector matches nothing: no queues requested means no
		// tickets, not all tickets.
		return f("FALSE")
	}
}

const selectColumns = `t.id, t.tenant_id, t.status, t.user_id, t.queue_id, t.contact_id,
	t.channel_id, t.category_id, t.unread_messages, t.last_message_from_me,
	t.created_at, t.updated_at,
	c.id, c.name, c.number,
	w.id, w.name, w.status, w.deleted,
	q.id, q.name, q.color`

const fromClause = `FROM tickets t
	JOIN contacts c ON c.id = t.contact_id
	JOIN channels w ON w.id = t.channel_id
	LEFT JOIN queues q ON q.id = t.queue_id`

// BuildListQuery runs the predicate pipeline over flt and renders the final
// SQL. Ordering is most-recently-updated first with the ID as deterministic
// tiebreaker; pagination is offset-based with the fixed page size.
func BuildListQuery(flt ListFilter) Query {
	var p predicateSet
	for _, s := range steps {
		p = s.apply(p, flt)
	}

	where, args := render(p.fragments())

	page := flt.Page
	if page < 1 {
		page = 1
	}
	offset := DefaultPageSize * (page - 1)

	countSQL := "SELECT count(*) " + fromClause + " WHERE " + where

	limitPh := placeholder(len(args) + 1)
	offsetPh := placeholder(len(args) + 2)
	sql := "SELECT " + selectColumns + " " + fromClause + " WHERE " + where +
		" ORDER BY t.updated_at DESC, t.id DESC LIMIT " + limitPh + " OFFSET " + offsetPh

	return Query{
		SQL:      sql,
		CountSQL: countSQL,
		Args:     args,
		Limit:    DefaultPageSize,
		Offset:   offset,
	}
}

// render joins the non-empty fragments with AND and renumbers their `?`
// placeholders into a single positional sequence.
func render(frags []frag) (string, []any) {
	var conds []string
	var args []any
	for _, fr := range frags {
		if fr.empty() {
			continue
		}
		sql := fr.sql
		for _, a := range fr.args {
			sql = strings.Replace(sql, "?", placeholder(len(args)+1), 1)
			args = append(args, a)
		}
		conds = append(conds, sql)
	}
	if len(conds) == 0 {
		return "TRUE", nil
	}
	return strings.Join(conds, " AND "), args
}

func placeholder(n int) string { return fmt.Sprintf("$%d", n) }
