package event

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitaltrack/vitaltrack/internal/domain/meta"
	"github.com/vitaltrack/vitaltrack/internal/platform/db"
	"github.com/vitaltrack/vitaltrack/internal/platform/query"
	"github.com/vitaltrack/vitaltrack/pkg/pagination"
	"github.com/vitaltrack/vitaltrack/pkg/uid"
)

type storePG struct {
	pool *pgxpool.Pool
}

// NewStore creates a PostgreSQL-backed event store.
func NewStore(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *storePG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if conn := db.ConnFromContext(ctx); conn != nil {
		return conn
	}
	return s.pool
}

// sortableColumns is the whitelist of order fields. inner is the
// expression ordered on inside the event subquery, outer the alias the
// wrapping note-join query re-orders on.
var sortableColumns = map[string]struct{ inner, outer string }{
	"event":                {"ev.uid", "ev_uid"},
	"created":              {"ev.created", "created"},
	"lastUpdated":          {"ev.last_updated", "last_updated"},
	"storedBy":             {"ev.stored_by", "stored_by"},
	"completedBy":          {"ev.completed_by", "completed_by"},
	"completedDate":        {"ev.completed_date", "completed_date"},
	"dueDate":              {"ev.due_date", "due_date"},
	"eventDate":            {"ev.event_date", "event_date"},
	"orgUnit":              {"ou.uid", "ou_identifier"},
	"orgUnitName":          {"ou.name", "ou_name"},
	"status":               {"ev.status", "ev_status"},
	"programStage":         {"ps.uid", "ps_identifier"},
	"program":              {"p.uid", "p_identifier"},
	"attributeOptionCombo": {"coc.uid", "coc_identifier"},
	"deleted":              {"ev.deleted", "deleted"},
	"assignedUser":         {"au.uid", "au_uid"},
}

// identExpr renders the select expression for one dimension's identifier
// under the requested scheme. Translated identifiers render NULL when the
// mapping is absent; the row scan turns that into a fatal error.
func identExpr(tableAlias string, scheme IDScheme) (string, error) {
	switch scheme.Kind {
	case "", IDSchemeUID:
		return tableAlias + ".uid", nil
	case IDSchemeCode:
		return "nullif(" + tableAlias + ".code, '')", nil
	case IDSchemeAttribute:
		if !uid.IsValid(scheme.Attribute) {
			return "", clientErrorf("identifier scheme attribute %q is not a valid uid", scheme.Attribute)
		}
		return tableAlias + ".attribute_values #>> '{" + scheme.Attribute + ",value}'", nil
	}
	return "", clientErrorf("unknown identifier scheme %q", scheme.Kind)
}

// dataValueExpr renders the JSONB path expression for one data element's
// stored value.
func dataValueExpr(dataElement string) (string, error) {
	if !uid.IsValid(dataElement) {
		return "", clientErrorf("data element %q is not a valid uid", dataElement)
	}
	return "ev.data_values #>> '{" + dataElement + ",value}'", nil
}

// buildEventQuery assembles the event subquery: every scope, security,
// item and date predicate, the resolved order terms, and paging. The
// returned outer list mirrors the order terms by outer alias so a
// wrapping query can re-apply them after joining notes.
func buildEventQuery(p *SearchParams) (b *query.Builder, outerOrder []string, err error) {
	pIdent, err := identExpr("p", p.IDSchemes.Program)
	if err != nil {
		return nil, nil, err
	}
	psIdent, err := identExpr("ps", p.IDSchemes.ProgramStage)
	if err != nil {
		return nil, nil, err
	}
	ouIdent, err := identExpr("ou", p.IDSchemes.OrgUnit)
	if err != nil {
		return nil, nil, err
	}
	cocIdent, err := identExpr("coc", p.IDSchemes.AttributeOptionCombo)
	if err != nil {
		return nil, nil, err
	}

	b = query.New("event ev").
		Select(
			"ev.id as ev_id",
			"ev.uid as ev_uid",
			"ev.status as ev_status",
			pIdent+" as p_identifier",
			psIdent+" as ps_identifier",
			"en.uid as en_uid",
			"coalesce(te.uid, '') as te_uid",
			ouIdent+" as ou_identifier",
			"ou.name as ou_name",
			cocIdent+" as coc_identifier",
			"ev.event_date",
			"ev.due_date",
			"ev.completed_date",
			"ev.completed_by",
			"ev.stored_by",
			"ev.created",
			"ev.created_at_client",
			"ev.last_updated",
			"ev.last_updated_at_client",
			"ev.geometry",
			"au.uid as au_uid",
			"ev.data_values",
			"ev.deleted",
			"en.follow_up",
		).
		Join("inner join enrollment en on en.id = ev.enrollment_id").
		Join("inner join program p on p.id = en.program_id").
		Join("inner join program_stage ps on ps.id = ev.program_stage_id").
		Join("inner join org_unit ou on ou.id = ev.org_unit_id").
		Join("inner join category_option_combo coc on coc.id = ev.attribute_option_combo_id").
		Join("left join tracked_entity te on te.id = en.tracked_entity_id").
		Join("left join app_user au on au.id = ev.assigned_user_id")

	if err := applyPredicates(b, p); err != nil {
		return nil, nil, err
	}
	if err := applyItemFilters(b, p); err != nil {
		return nil, nil, err
	}

	outerOrder, err = applyOrder(b, p)
	if err != nil {
		return nil, nil, err
	}

	if !p.Paging.SkipPaging {
		b.Paging(p.Paging.Limit(), p.Paging.Offset())
	}
	return b, outerOrder, nil
}

func applyPredicates(b *query.Builder, p *SearchParams) error {
	if p.EventUID != "" {
		b.Where("ev.uid = ?", p.EventUID)
	}
	if p.Program != "" {
		b.Where("p.uid = ?", p.Program)
	}
	if p.ProgramStage != "" {
		b.Where("ps.uid = ?", p.ProgramStage)
	}
	if p.Enrollment != "" {
		b.Where("en.uid = ?", p.Enrollment)
	}
	if p.TrackedEntity != "" {
		b.Where("te.uid = ?", p.TrackedEntity)
	}
	if p.EnrollmentStatus != "" {
		b.Where("en.status = ?", string(p.EnrollmentStatus))
	}
	if p.FollowUp != nil {
		b.Where("en.follow_up = ?", *p.FollowUp)
	}
	if p.AttributeOptionCombo != "" {
		b.Where("coc.uid = ?", p.AttributeOptionCombo)
	}

	switch p.OrgUnitMode {
	case OrgUnitSelected, "":
		if p.OrgUnit != "" {
			b.Where("ou.uid = ?", p.OrgUnit)
		}
	case OrgUnitChildren:
		b.Where("ou.path like ?", p.OrgUnitPath+"%")
		b.Where("(ou.level = ? or ou.level = ?)", p.OrgUnitLevel, p.OrgUnitLevel+1)
	case OrgUnitDescendants:
		b.Where("ou.path like ?", p.OrgUnitPath+"%")
	case OrgUnitAccessible:
		if len(p.OrgUnitPaths) == 0 {
			b.Where("1 = 0")
		} else {
			var frags []string
			var args []interface{}
			for _, path := range p.OrgUnitPaths {
				frags = append(frags, "ou.path like ?")
				args = append(args, path+"%")
			}
			b.Where("("+strings.Join(frags, " or ")+")", args...)
		}
	}

	switch p.Status {
	case "":
	case StatusVisited:
		b.Where("ev.status = ?", string(StatusActive))
		b.Where("ev.event_date is not null")
	case StatusOverdue:
		b.Where("ev.event_date is null")
		b.Where("ev.due_date < ?", time.Now())
		b.Where("ev.status = ?", string(StatusSchedule))
	default:
		b.Where("ev.status = ?", string(p.Status))
	}

	// Event-date windows fall back to the due date for scheduled events
	// that have no execution date yet.
	if p.StartDate != nil {
		b.Where("coalesce(ev.event_date, ev.due_date) >= ?", *p.StartDate)
	}
	if p.EndDate != nil {
		b.Where("coalesce(ev.event_date, ev.due_date) < ?", p.EndDate.AddDate(0, 0, 1))
	}
	if p.DueDateStart != nil {
		b.Where("ev.due_date >= ?", *p.DueDateStart)
	}
	if p.DueDateEnd != nil {
		b.Where("ev.due_date < ?", p.DueDateEnd.AddDate(0, 0, 1))
	}
	if p.LastUpdatedStart != nil {
		b.Where("ev.last_updated >= ?", *p.LastUpdatedStart)
	}
	if p.LastUpdatedEnd != nil {
		b.Where("ev.last_updated < ?", p.LastUpdatedEnd.AddDate(0, 0, 1))
	}
	if p.LastUpdatedDuration > 0 {
		b.Where("ev.last_updated >= ?", time.Now().Add(-p.LastUpdatedDuration))
	}

	if p.SyncOnly {
		b.Where("(ev.last_synchronized is null or ev.last_updated > ev.last_synchronized)")
	}
	if p.SkipChangedBefore != nil {
		b.Where("ev.last_updated >= ?", *p.SkipChangedBefore)
	}

	switch p.AssignedUserMode {
	case AssignedUserCurrent:
		b.Where("au.uid = ?", p.CurrentUserUID)
	case AssignedUserProvided:
		b.Where("au.uid = any(?)", p.AssignedUsers)
	case AssignedUserNone:
		b.Where("ev.assigned_user_id is null")
	case AssignedUserAny:
		b.Where("ev.assigned_user_id is not null")
	}

	if !p.IncludeDeleted {
		b.Where("ev.deleted is false")
	}

	applySecurity(b, p)
	return nil
}

// applySecurity restricts a non-superuser to programs and stages they can
// read, and to events whose attribute option combo is fully covered by
// their accessible category options. Visibility is all-or-nothing per
// combo: the count of the combo's options must equal the count of those
// options the caller can see.
func applySecurity(b *query.Builder, p *SearchParams) {
	if p.Superuser {
		return
	}
	b.Where("p.uid = any(?)", p.AccessiblePrograms)
	b.Where("ps.uid = any(?)", p.AccessibleStages)

	if p.AttributeOptionCombo == "" {
		b.Where(`(coc.is_default or
		(select count(*) from category_option_combo_options l where l.combo_id = coc.id)
		= (select count(*) from category_option_combo_options l
		   inner join category_option co on co.id = l.option_id
		   where l.combo_id = coc.id and co.uid = any(?)))`, p.AccessibleCategoryOptions)
	}
}

// applyItemFilters adds one predicate per item filter. Items with an
// option set join its values so comparisons run against option codes;
// numeric value types compare as numerics and are not lower-cased.
func applyItemFilters(b *query.Builder, p *SearchParams) error {
	for i, item := range p.Items {
		valueExpr, err := dataValueExpr(item.DataElement)
		if err != nil {
			return err
		}
		if len(item.Filters) == 0 {
			continue
		}

		operand := "lower(" + valueExpr + ")"
		if item.Numeric() {
			operand = "cast(" + valueExpr + " as numeric)"
		}
		if item.OptionSetUID != "" && !item.Numeric() {
			alias := fmt.Sprintf("ov%d", i)
			b.Join(fmt.Sprintf(
				"inner join option_value %s on %s.option_set_id = ? and lower(%s.code) = lower(%s)",
				alias, alias, alias, valueExpr), item.OptionSetID)
			operand = "lower(" + alias + ".code)"
		}

		for _, f := range item.Filters {
			if err := applyFilter(b, operand, item, f); err != nil {
				return err
			}
		}
	}
	return nil
}

func applyFilter(b *query.Builder, operand string, item QueryItem, f QueryFilter) error {
	switch f.Operator {
	case OpIn:
		values := f.InValues()
		placeholders := make([]string, len(values))
		args := make([]interface{}, len(values))
		for i, v := range values {
			placeholders[i] = "?"
			if item.Numeric() {
				args[i] = v
			} else {
				args[i] = strings.ToLower(v)
			}
		}
		b.Where(operand+" in ("+strings.Join(placeholders, ", ")+")", args...)
	case OpLike:
		b.Where(operand+" like ?", "%"+strings.ToLower(f.Value)+"%")
	default:
		if item.Numeric() {
			b.Where(operand+" "+f.Operator.SQL()+" cast(? as numeric)", f.Value)
		} else {
			b.Where(operand+" "+f.Operator.SQL()+" ?", strings.ToLower(f.Value))
		}
	}
	return nil
}

// applyOrder resolves the requested order terms against the whitelist,
// falling back to last-updated descending. Fields naming a requested
// data element order on its stored value. Data-element terms order on
// the JSONB expression directly so the select list keeps its fixed
// shape; the outer list re-evaluates the expression against the
// subquery's data_values column.
func applyOrder(b *query.Builder, p *SearchParams) ([]string, error) {
	var outer []string
	for _, o := range p.Order {
		if col, ok := sortableColumns[o.Field]; ok {
			b.OrderBy(col.inner, o.Direction)
			outer = append(outer, col.outer+" "+normalizeDir(o.Direction))
			continue
		}
		if item, ok := findItem(p.Items, o.Field); ok {
			expr, err := dataValueExpr(item.DataElement)
			if err != nil {
				return nil, err
			}
			b.OrderBy(expr, o.Direction)
			outer = append(outer, "evt.data_values #>> '{"+item.DataElement+",value}' "+normalizeDir(o.Direction))
			continue
		}
		return nil, clientErrorf("order by field %q is not supported", o.Field)
	}
	if len(outer) == 0 {
		b.OrderBy("ev.last_updated", "desc")
		outer = append(outer, "last_updated desc")
	}
	return outer, nil
}

func normalizeDir(dir string) string {
	if strings.EqualFold(strings.TrimSpace(dir), "desc") {
		return "desc"
	}
	return "asc"
}

func findItem(items []QueryItem, dataElement string) (QueryItem, bool) {
	for _, item := range items {
		if item.DataElement == dataElement {
			return item, true
		}
	}
	return QueryItem{}, false
}

func (s *storePG) GetEvents(ctx context.Context, p *SearchParams) ([]*Event, error) {
	inner, outerOrder, err := buildEventQuery(p)
	if err != nil {
		return nil, err
	}
	innerSQL, args := inner.SQL()

	sql := "select evt.*, n.uid as note_uid, n.note_text, n.stored_by as note_stored_by, " +
		"n.created as note_created, n.sort_order as note_sort_order " +
		"from (" + innerSQL + ") evt " +
		"left join event_note n on n.event_id = evt.ev_id " +
		"order by " + strings.Join(outerOrder, ", ") + ", evt.ev_id, n.sort_order"

	rows, err := s.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events, err := foldEventRows(rows, p)
	if err != nil {
		return nil, err
	}
	if err := s.translateDataElements(ctx, events, p.IDSchemes.DataElement); err != nil {
		return nil, err
	}
	return events, nil
}

// foldEventRows merges the note-joined rows into one Event per UID.
// The accumulator preserves first-seen order, so the outer order by
// carries through to the result.
func foldEventRows(rows pgx.Rows, p *SearchParams) ([]*Event, error) {
	var ordered []*Event
	byUID := make(map[string]*Event)

	for rows.Next() {
		var (
			evID                               int64
			evUID, evStatus                    string
			pIdent, psIdent, ouIdent, cocIdent *string
			enUID, teUID, ouName               string
			eventDate, dueDate, completedDate  *time.Time
			completedBy, storedBy              *string
			created, createdAtClient           *time.Time
			lastUpdated, lastUpdatedAtClient   *time.Time
			geometry                           []byte
			auUID                              *string
			rawValues                          []byte
			deleted, followUp                  bool
			noteUID, noteText, noteStoredBy    *string
			noteCreated                        *time.Time
			noteSortOrder                      *int
		)
		if err := rows.Scan(
			&evID, &evUID, &evStatus, &pIdent, &psIdent, &enUID, &teUID,
			&ouIdent, &ouName, &cocIdent, &eventDate, &dueDate, &completedDate,
			&completedBy, &storedBy, &created, &createdAtClient, &lastUpdated,
			&lastUpdatedAtClient, &geometry, &auUID, &rawValues, &deleted, &followUp,
			&noteUID, &noteText, &noteStoredBy, &noteCreated, &noteSortOrder,
		); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}

		ev, seen := byUID[evUID]
		if !seen {
			program, err := requireIdent("program", evUID, pIdent)
			if err != nil {
				return nil, err
			}
			stage, err := requireIdent("program stage", evUID, psIdent)
			if err != nil {
				return nil, err
			}
			orgUnit, err := requireIdent("organisation unit", evUID, ouIdent)
			if err != nil {
				return nil, err
			}
			combo, err := requireIdent("attribute option combo", evUID, cocIdent)
			if err != nil {
				return nil, err
			}

			values, err := UnmarshalDataValues(rawValues)
			if err != nil {
				return nil, err
			}
			values = shapeDataValues(values, p)

			ev = &Event{
				ID:                   evID,
				UID:                  evUID,
				Status:               Status(evStatus),
				Program:              program,
				ProgramStage:         stage,
				Enrollment:           enUID,
				TrackedEntity:        teUID,
				OrgUnit:              orgUnit,
				OrgUnitName:          ouName,
				AttributeOptionCombo: combo,
				EventDate:            eventDate,
				DueDate:              dueDate,
				CompletedDate:        completedDate,
				CompletedBy:          strVal(completedBy),
				StoredBy:             strVal(storedBy),
				Created:              created,
				CreatedAtClient:      createdAtClient,
				LastUpdated:          lastUpdated,
				LastUpdatedAtClient:  lastUpdatedAtClient,
				Geometry:             geometry,
				AssignedUser:         strVal(auUID),
				DataValues:           values,
				Deleted:              deleted,
				FollowUp:             followUp,
			}
			byUID[evUID] = ev
			ordered = append(ordered, ev)
		}

		if noteUID != nil {
			n := Note{UID: *noteUID, Text: strVal(noteText), StoredBy: strVal(noteStoredBy), Created: noteCreated}
			if noteSortOrder != nil {
				n.SortOrder = *noteSortOrder
			}
			ev.MergeNote(n)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return ordered, nil
}

// shapeDataValues applies the output-shaping flags: sync queries drop
// values flagged skip-synchronization, and unless all data elements were
// requested the map is cut down to the requested items.
func shapeDataValues(values map[string]DataValue, p *SearchParams) map[string]DataValue {
	if p.SyncOnly {
		for de, dv := range values {
			if dv.SkipSynchronization {
				delete(values, de)
			}
		}
	}
	if !p.IncludeAllDataElements && len(p.Items) > 0 {
		keep := make(map[string]bool, len(p.Items))
		for _, item := range p.Items {
			keep[item.DataElement] = true
		}
		for de := range values {
			if !keep[de] {
				delete(values, de)
			}
		}
	}
	return values
}

func requireIdent(dimension, eventUID string, v *string) (string, error) {
	if v == nil || *v == "" {
		return "", fmt.Errorf("identifier for %s is missing for event %s under the requested scheme: %w",
			dimension, eventUID, meta.ErrConfig)
	}
	return *v, nil
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// translateDataElements remaps data value keys when the data element
// identifier scheme is not UID. An unresolvable key aborts the query.
func (s *storePG) translateDataElements(ctx context.Context, events []*Event, scheme IDScheme) error {
	if scheme.IsUID() {
		return nil
	}
	uidSet := make(map[string]bool)
	for _, ev := range events {
		for de := range ev.DataValues {
			uidSet[de] = true
		}
	}
	if len(uidSet) == 0 {
		return nil
	}
	mapping, err := s.dataElementIdentifiers(ctx, keys(uidSet), scheme)
	if err != nil {
		return err
	}
	for _, ev := range events {
		translated := make(map[string]DataValue, len(ev.DataValues))
		for de, dv := range ev.DataValues {
			ident, ok := mapping[de]
			if !ok || ident == "" {
				return fmt.Errorf("identifier for data element %s is missing under the requested scheme: %w",
					de, meta.ErrConfig)
			}
			translated[ident] = dv
		}
		ev.DataValues = translated
	}
	return nil
}

func (s *storePG) dataElementIdentifiers(ctx context.Context, uids []string, scheme IDScheme) (map[string]string, error) {
	expr, err := identExpr("de", scheme)
	if err != nil {
		return nil, err
	}
	rows, err := s.conn(ctx).Query(ctx,
		"select de.uid, "+expr+" from data_element de where de.uid = any($1)", uids)
	if err != nil {
		return nil, fmt.Errorf("query data element identifiers: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string, len(uids))
	for rows.Next() {
		var u string
		var ident *string
		if err := rows.Scan(&u, &ident); err != nil {
			return nil, fmt.Errorf("scan data element identifier: %w", err)
		}
		out[u] = strVal(ident)
	}
	return out, rows.Err()
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// buildGridQuery assembles the flat columnar variant: the static columns
// plus one value column per requested item, same predicates and order,
// no note join and no folding.
func buildGridQuery(p *SearchParams) (*query.Builder, error) {
	pIdent, err := identExpr("p", p.IDSchemes.Program)
	if err != nil {
		return nil, err
	}
	psIdent, err := identExpr("ps", p.IDSchemes.ProgramStage)
	if err != nil {
		return nil, err
	}
	ouIdent, err := identExpr("ou", p.IDSchemes.OrgUnit)
	if err != nil {
		return nil, err
	}
	cocIdent, err := identExpr("coc", p.IDSchemes.AttributeOptionCombo)
	if err != nil {
		return nil, err
	}

	b := query.New("event ev")
	if !p.SkipEventID {
		b.Select("ev.uid")
	}
	b.Select(
		"en.uid",
		"ev.created",
		"ev.last_updated",
		"ev.stored_by",
		"ev.completed_by",
		"ev.completed_date",
		"ev.event_date",
		"ev.due_date",
		ouIdent,
		"ou.name",
		"ev.status",
		psIdent,
		pIdent,
		cocIdent,
		"ev.deleted",
		"ev.geometry",
	).
		Join("inner join enrollment en on en.id = ev.enrollment_id").
		Join("inner join program p on p.id = en.program_id").
		Join("inner join program_stage ps on ps.id = ev.program_stage_id").
		Join("inner join org_unit ou on ou.id = ev.org_unit_id").
		Join("inner join category_option_combo coc on coc.id = ev.attribute_option_combo_id").
		Join("left join tracked_entity te on te.id = en.tracked_entity_id").
		Join("left join app_user au on au.id = ev.assigned_user_id")

	for _, item := range p.Items {
		expr, err := dataValueExpr(item.DataElement)
		if err != nil {
			return nil, err
		}
		b.Select(expr)
	}

	if err := applyPredicates(b, p); err != nil {
		return nil, err
	}
	if err := applyItemFilters(b, p); err != nil {
		return nil, err
	}
	if _, err := applyOrder(b, p); err != nil {
		return nil, err
	}
	if !p.Paging.SkipPaging {
		b.Paging(p.Paging.Limit(), p.Paging.Offset())
	}
	return b, nil
}

func (s *storePG) GetEventRows(ctx context.Context, p *SearchParams) (*Grid, error) {
	b, err := buildGridQuery(p)
	if err != nil {
		return nil, err
	}
	sql, args := b.SQL()

	rows, err := s.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query event grid: %w", err)
	}
	defer rows.Close()

	headers := append([]string(nil), GridStaticHeaders...)
	if p.SkipEventID {
		headers = headers[1:]
	}
	itemUIDs := make([]string, len(p.Items))
	for i, item := range p.Items {
		itemUIDs[i] = item.DataElement
	}
	if !p.IDSchemes.DataElement.IsUID() && len(itemUIDs) > 0 {
		mapping, err := s.dataElementIdentifiers(ctx, itemUIDs, p.IDSchemes.DataElement)
		if err != nil {
			return nil, err
		}
		for i, u := range itemUIDs {
			ident := mapping[u]
			if ident == "" {
				return nil, fmt.Errorf("identifier for data element %s is missing under the requested scheme: %w",
					u, meta.ErrConfig)
			}
			itemUIDs[i] = ident
		}
	}
	headers = append(headers, itemUIDs...)

	grid := &Grid{Headers: headers, Width: len(headers)}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read grid row: %w", err)
		}
		grid.Rows = append(grid.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grid rows: %w", err)
	}
	grid.Height = len(grid.Rows)
	return grid, nil
}

func (s *storePG) CountEvents(ctx context.Context, p *SearchParams) (int, error) {
	b, _, err := buildEventQuery(p)
	if err != nil {
		return 0, err
	}
	sql, args := b.CountSQL()

	var count int
	if err := s.conn(ctx).QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

func (s *storePG) GetEvent(ctx context.Context, uid string) (*Event, error) {
	p := &SearchParams{
		EventUID:  uid,
		Superuser: true,
		Paging:    pagination.Params{SkipPaging: true},
	}
	events, err := s.GetEvents(ctx, p)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrNotFound
	}
	return events[0], nil
}

const eventInsertCols = `uid, enrollment_id, program_stage_id, org_unit_id,
	attribute_option_combo_id, status, event_date, due_date, completed_date,
	completed_by, stored_by, created, created_at_client, last_updated,
	last_updated_at_client, assigned_user_id, geometry, data_values, deleted`

func (s *storePG) InsertEvent(ctx context.Context, rec *EventRecord) error {
	raw, err := MarshalDataValues(rec.DataValues)
	if err != nil {
		return err
	}
	_, err = s.conn(ctx).Exec(ctx, `INSERT INTO event (`+eventInsertCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), $12, now(), $13, $14, $15, $16, false)`,
		rec.UID, rec.EnrollmentID, rec.StageID, rec.OrgUnitID, rec.AOCID,
		string(rec.Status), rec.EventDate, rec.DueDate, rec.CompletedDate,
		nullStr(rec.CompletedBy), nullStr(rec.StoredBy),
		rec.CreatedAtClient, rec.LastUpdatedAtClient, rec.AssignedUserID,
		rec.Geometry, raw)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", rec.UID, err)
	}
	return nil
}

func (s *storePG) UpdateEvent(ctx context.Context, rec *EventRecord) error {
	raw, err := MarshalDataValues(rec.DataValues)
	if err != nil {
		return err
	}
	tag, err := s.conn(ctx).Exec(ctx, `UPDATE event SET
		enrollment_id = $2, program_stage_id = $3, org_unit_id = $4,
		attribute_option_combo_id = $5, status = $6, event_date = $7,
		due_date = $8, completed_date = $9, completed_by = $10,
		stored_by = $11, last_updated = now(), last_updated_at_client = $12,
		assigned_user_id = $13, geometry = $14, data_values = $15
		WHERE uid = $1 AND deleted IS FALSE`,
		rec.UID, rec.EnrollmentID, rec.StageID, rec.OrgUnitID, rec.AOCID,
		string(rec.Status), rec.EventDate, rec.DueDate, rec.CompletedDate,
		nullStr(rec.CompletedBy), nullStr(rec.StoredBy),
		rec.LastUpdatedAtClient, rec.AssignedUserID, rec.Geometry, raw)
	if err != nil {
		return fmt.Errorf("update event %s: %w", rec.UID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *storePG) SoftDeleteEvent(ctx context.Context, uid string) (bool, error) {
	tag, err := s.conn(ctx).Exec(ctx,
		"UPDATE event SET deleted = true, last_updated = now() WHERE uid = $1 AND deleted IS FALSE", uid)
	if err != nil {
		return false, fmt.Errorf("soft delete event %s: %w", uid, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *storePG) NoteMaxSortOrder(ctx context.Context, eventUID string) (int, error) {
	var max int
	err := s.conn(ctx).QueryRow(ctx, `SELECT coalesce(max(n.sort_order), 0)
		FROM event_note n INNER JOIN event ev ON ev.id = n.event_id
		WHERE ev.uid = $1`, eventUID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("query note sort order for event %s: %w", eventUID, err)
	}
	return max, nil
}

func (s *storePG) ExistingNoteUIDs(ctx context.Context, uids []string) (map[string]bool, error) {
	if len(uids) == 0 {
		return map[string]bool{}, nil
	}
	rows, err := s.conn(ctx).Query(ctx, "SELECT uid FROM event_note WHERE uid = ANY($1)", uids)
	if err != nil {
		return nil, fmt.Errorf("query existing note uids: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan note uid: %w", err)
		}
		out[u] = true
	}
	return out, rows.Err()
}

func (s *storePG) InsertNotes(ctx context.Context, eventUID string, notes []Note) error {
	if len(notes) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, n := range notes {
		batch.Queue(`INSERT INTO event_note (uid, event_id, note_text, stored_by, created, sort_order)
			VALUES ($1, (SELECT id FROM event WHERE uid = $2), $3, $4, coalesce($5, now()), $6)`,
			n.UID, eventUID, n.Text, nullStr(n.StoredBy), n.Created, n.SortOrder)
	}

	var br pgx.BatchResults
	switch c := s.conn(ctx).(type) {
	case pgx.Tx:
		br = c.SendBatch(ctx, batch)
	case *pgxpool.Conn:
		br = c.SendBatch(ctx, batch)
	default:
		br = s.pool.SendBatch(ctx, batch)
	}
	defer br.Close()

	for range notes {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert note for event %s: %w", eventUID, err)
		}
	}
	return nil
}

func (s *storePG) TouchTrackedEntities(ctx context.Context, uids []string, ts time.Time) error {
	if len(uids) == 0 {
		return nil
	}
	sorted := append([]string(nil), uids...)
	sort.Strings(sorted)

	// SKIP LOCKED: a row held by a concurrent import is left for that
	// import's own flush rather than waited on.
	_, err := s.conn(ctx).Exec(ctx, `UPDATE tracked_entity SET last_updated = $1
		WHERE id IN (
			SELECT id FROM tracked_entity WHERE uid = ANY($2)
			ORDER BY uid FOR UPDATE SKIP LOCKED
		)`, ts, sorted)
	if err != nil {
		return fmt.Errorf("touch tracked entities: %w", err)
	}
	return nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
