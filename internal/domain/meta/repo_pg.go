package meta

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitaltrack/vitaltrack/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepo creates a PostgreSQL-backed reference-data repository.
func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if conn := db.ConnFromContext(ctx); conn != nil {
		return conn
	}
	return r.pool
}

const ouCols = "id, uid, coalesce(code, ''), name, path, level"

func (r *repoPG) OrgUnitsByUID(ctx context.Context, uids []string) ([]*OrganisationUnit, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	rows, err := r.conn(ctx).Query(ctx,
		"SELECT "+ouCols+" FROM org_unit WHERE uid = ANY($1)", uids)
	if err != nil {
		return nil, fmt.Errorf("query org units: %w", err)
	}
	defer rows.Close()

	var out []*OrganisationUnit
	for rows.Next() {
		ou := &OrganisationUnit{}
		if err := rows.Scan(&ou.ID, &ou.UID, &ou.Code, &ou.Name, &ou.Path, &ou.Level); err != nil {
			return nil, fmt.Errorf("scan org unit: %w", err)
		}
		out = append(out, ou)
	}
	return out, rows.Err()
}

func (r *repoPG) ProgramsByUID(ctx context.Context, uids []string) ([]*Program, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT p.id, p.uid, coalesce(p.code, ''), p.name, p.program_type,
		       coalesce(cc.uid, ''), p.complete_events_expiry_days,
		       p.expiry_days, coalesce(p.expiry_period_type, '')
		FROM program p
		LEFT JOIN category_combo cc ON cc.id = p.category_combo_id
		WHERE p.uid = ANY($1)`, uids)
	if err != nil {
		return nil, fmt.Errorf("query programs: %w", err)
	}

	programs := make(map[int64]*Program)
	var out []*Program
	var ids []int64
	for rows.Next() {
		p := &Program{Stages: make(map[string]*ProgramStage)}
		var pt string
		if err := rows.Scan(&p.ID, &p.UID, &p.Code, &p.Name, &pt,
			&p.CategoryComboUID, &p.CompleteEventsExpiryDays,
			&p.ExpiryDays, (*string)(&p.ExpiryPeriodType)); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan program: %w", err)
		}
		p.Type = ProgramType(pt)
		programs[p.ID] = p
		out = append(out, p)
		ids = append(ids, p.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}

	if err := r.loadStages(ctx, programs, ids); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repoPG) loadStages(ctx context.Context, programs map[int64]*Program, programIDs []int64) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT ps.id, ps.uid, coalesce(ps.code, ''), ps.name, ps.program_id, ps.repeatable, p.uid
		FROM program_stage ps
		INNER JOIN program p ON p.id = ps.program_id
		WHERE ps.program_id = ANY($1)`, programIDs)
	if err != nil {
		return fmt.Errorf("query program stages: %w", err)
	}

	stages := make(map[int64]*ProgramStage)
	var stageIDs []int64
	for rows.Next() {
		ps := &ProgramStage{DataElements: make(map[string]*DataElement)}
		var programID int64
		if err := rows.Scan(&ps.ID, &ps.UID, &ps.Code, &ps.Name, &programID, &ps.Repeatable, &ps.ProgramUID); err != nil {
			rows.Close()
			return fmt.Errorf("scan program stage: %w", err)
		}
		if p, ok := programs[programID]; ok {
			p.Stages[ps.UID] = ps
		}
		stages[ps.ID] = ps
		stageIDs = append(stageIDs, ps.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(stageIDs) == 0 {
		return nil
	}

	deRows, err := r.conn(ctx).Query(ctx, `
		SELECT psde.stage_id, de.id, de.uid, coalesce(de.code, ''), de.value_type,
		       os.id, os.uid
		FROM program_stage_data_element psde
		INNER JOIN data_element de ON de.id = psde.data_element_id
		LEFT JOIN option_set os ON os.id = de.option_set_id
		WHERE psde.stage_id = ANY($1)`, stageIDs)
	if err != nil {
		return fmt.Errorf("query stage data elements: %w", err)
	}
	defer deRows.Close()

	for deRows.Next() {
		var stageID int64
		de := &DataElement{}
		var osID *int64
		var osUID *string
		if err := deRows.Scan(&stageID, &de.ID, &de.UID, &de.Code, (*string)(&de.ValueType), &osID, &osUID); err != nil {
			return fmt.Errorf("scan data element: %w", err)
		}
		if osID != nil {
			de.OptionSet = &OptionSet{ID: *osID, UID: *osUID}
		}
		if ps, ok := stages[stageID]; ok {
			ps.DataElements[de.UID] = de
		}
	}
	return deRows.Err()
}

func (r *repoPG) DataElementsByUID(ctx context.Context, uids []string) ([]*DataElement, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT de.id, de.uid, coalesce(de.code, ''), de.value_type, os.id, os.uid
		FROM data_element de
		LEFT JOIN option_set os ON os.id = de.option_set_id
		WHERE de.uid = ANY($1)`, uids)
	if err != nil {
		return nil, fmt.Errorf("query data elements: %w", err)
	}
	defer rows.Close()

	var out []*DataElement
	for rows.Next() {
		de := &DataElement{}
		var osID *int64
		var osUID *string
		if err := rows.Scan(&de.ID, &de.UID, &de.Code, (*string)(&de.ValueType), &osID, &osUID); err != nil {
			return nil, fmt.Errorf("scan data element: %w", err)
		}
		if osID != nil {
			de.OptionSet = &OptionSet{ID: *osID, UID: *osUID}
		}
		out = append(out, de)
	}
	return out, rows.Err()
}

func (r *repoPG) EnrollmentsByUID(ctx context.Context, uids []string) ([]*Enrollment, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT en.id, en.uid, p.uid, coalesce(te.uid, ''), ou.uid,
		       en.status, en.follow_up, en.enrollment_date, en.completed_date
		FROM enrollment en
		INNER JOIN program p ON p.id = en.program_id
		LEFT JOIN tracked_entity te ON te.id = en.tracked_entity_id
		INNER JOIN org_unit ou ON ou.id = en.org_unit_id
		WHERE en.uid = ANY($1)`, uids)
	if err != nil {
		return nil, fmt.Errorf("query enrollments: %w", err)
	}
	defer rows.Close()

	var out []*Enrollment
	for rows.Next() {
		en := &Enrollment{}
		if err := rows.Scan(&en.ID, &en.UID, &en.ProgramUID, &en.TrackedEntityUID, &en.OrgUnitUID,
			(*string)(&en.Status), &en.FollowUp, &en.EnrollmentDate, &en.CompletedDate); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		out = append(out, en)
	}
	return out, rows.Err()
}

func (r *repoPG) UsersByUID(ctx context.Context, uids []string) ([]*User, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	rows, err := r.conn(ctx).Query(ctx,
		"SELECT id, uid, username FROM app_user WHERE uid = ANY($1)", uids)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.ID, &u.UID, &u.Username); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *repoPG) UserByUsername(ctx context.Context, username string) (*User, error) {
	u := &User{}
	err := r.conn(ctx).QueryRow(ctx,
		"SELECT id, uid, username FROM app_user WHERE username = $1", username).
		Scan(&u.ID, &u.UID, &u.Username)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user by username: %w", err)
	}
	return u, nil
}

func (r *repoPG) TrackedEntitiesByUID(ctx context.Context, uids []string) ([]*TrackedEntity, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	rows, err := r.conn(ctx).Query(ctx,
		"SELECT id, uid FROM tracked_entity WHERE uid = ANY($1)", uids)
	if err != nil {
		return nil, fmt.Errorf("query tracked entities: %w", err)
	}
	defer rows.Close()

	var out []*TrackedEntity
	for rows.Next() {
		te := &TrackedEntity{}
		if err := rows.Scan(&te.ID, &te.UID); err != nil {
			return nil, fmt.Errorf("scan tracked entity: %w", err)
		}
		out = append(out, te)
	}
	return out, rows.Err()
}

func (r *repoPG) CategoryOptionsByUID(ctx context.Context, uids []string) ([]*CategoryOption, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	rows, err := r.conn(ctx).Query(ctx,
		"SELECT id, uid, coalesce(code, ''), start_date, end_date FROM category_option WHERE uid = ANY($1)", uids)
	if err != nil {
		return nil, fmt.Errorf("query category options: %w", err)
	}
	defer rows.Close()

	var out []*CategoryOption
	for rows.Next() {
		co := &CategoryOption{}
		if err := rows.Scan(&co.ID, &co.UID, &co.Code, &co.StartDate, &co.EndDate); err != nil {
			return nil, fmt.Errorf("scan category option: %w", err)
		}
		out = append(out, co)
	}
	return out, rows.Err()
}

const aocSelect = `
	SELECT coc.id, coc.uid, coalesce(coc.code, ''), coc.is_default, cc.uid,
	       coalesce(array_agg(co.uid) FILTER (WHERE co.uid IS NOT NULL), '{}')
	FROM category_option_combo coc
	INNER JOIN category_combo cc ON cc.id = coc.category_combo_id
	LEFT JOIN category_option_combo_options link ON link.combo_id = coc.id
	LEFT JOIN category_option co ON co.id = link.option_id`

func scanAOCs(rows pgx.Rows) ([]*CategoryOptionCombo, error) {
	defer rows.Close()
	var out []*CategoryOptionCombo
	for rows.Next() {
		coc := &CategoryOptionCombo{}
		if err := rows.Scan(&coc.ID, &coc.UID, &coc.Code, &coc.Default,
			&coc.CategoryComboUID, &coc.OptionUIDs); err != nil {
			return nil, fmt.Errorf("scan category option combo: %w", err)
		}
		out = append(out, coc)
	}
	return out, rows.Err()
}

func (r *repoPG) CategoryOptionCombosByUID(ctx context.Context, uids []string) ([]*CategoryOptionCombo, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	rows, err := r.conn(ctx).Query(ctx,
		aocSelect+" WHERE coc.uid = ANY($1) GROUP BY coc.id, coc.uid, coc.code, coc.is_default, cc.uid", uids)
	if err != nil {
		return nil, fmt.Errorf("query category option combos: %w", err)
	}
	return scanAOCs(rows)
}

func (r *repoPG) CategoryOptionComboByOptions(ctx context.Context, categoryComboUID string, optionUIDs []string) (*CategoryOptionCombo, error) {
	rows, err := r.conn(ctx).Query(ctx,
		aocSelect+" WHERE cc.uid = $1 GROUP BY coc.id, coc.uid, coc.code, coc.is_default, cc.uid", categoryComboUID)
	if err != nil {
		return nil, fmt.Errorf("query combos for category combo %s: %w", categoryComboUID, err)
	}
	combos, err := scanAOCs(rows)
	if err != nil {
		return nil, err
	}

	want := append([]string(nil), optionUIDs...)
	sort.Strings(want)
	for _, coc := range combos {
		got := append([]string(nil), coc.OptionUIDs...)
		sort.Strings(got)
		if equalStrings(want, got) {
			return coc, nil
		}
	}
	return nil, ErrNotFound
}

func (r *repoPG) DefaultCategoryOptionCombo(ctx context.Context) (*CategoryOptionCombo, error) {
	rows, err := r.conn(ctx).Query(ctx,
		aocSelect+" WHERE coc.is_default GROUP BY coc.id, coc.uid, coc.code, coc.is_default, cc.uid LIMIT 1")
	if err != nil {
		return nil, fmt.Errorf("query default category option combo: %w", err)
	}
	combos, err := scanAOCs(rows)
	if err != nil {
		return nil, err
	}
	if len(combos) == 0 {
		return nil, fmt.Errorf("default category option combo is missing: %w", ErrConfig)
	}
	return combos[0], nil
}

func (r *repoPG) ExistingEventUIDs(ctx context.Context, uids []string) (map[string]bool, error) {
	if len(uids) == 0 {
		return map[string]bool{}, nil
	}
	// deleted rows included: a soft-deleted UID still blocks re-use
	rows, err := r.conn(ctx).Query(ctx,
		"SELECT uid FROM event WHERE uid = ANY($1)", uids)
	if err != nil {
		return nil, fmt.Errorf("query existing event uids: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scan event uid: %w", err)
		}
		out[uid] = true
	}
	return out, rows.Err()
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
