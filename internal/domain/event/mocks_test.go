package event

import (
	"context"
	"sort"
	"time"

	"github.com/vitaltrack/vitaltrack/internal/domain/meta"
)

// mockStore is a map-backed Store used by the service and importer tests.
type mockStore struct {
	events  map[string]*Event
	deleted map[string]bool
	notes   map[string][]Note
	maxSort map[string]int

	queryResult []*Event
	count       int

	lastParams *SearchParams
	lastInsert *EventRecord
	lastUpdate *EventRecord
	inserted   []string
	updated    []string
	touched    [][]string

	failWith error
}

func newMockStore() *mockStore {
	return &mockStore{
		events:  make(map[string]*Event),
		deleted: make(map[string]bool),
		notes:   make(map[string][]Note),
		maxSort: make(map[string]int),
	}
}

func (m *mockStore) GetEvents(_ context.Context, p *SearchParams) ([]*Event, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	m.lastParams = p
	out := m.queryResult
	if !p.Paging.SkipPaging {
		off := p.Paging.Offset()
		if off > len(out) {
			off = len(out)
		}
		out = out[off:]
		if len(out) > p.Paging.Limit() {
			out = out[:p.Paging.Limit()]
		}
	}
	return out, nil
}

func (m *mockStore) GetEventRows(_ context.Context, p *SearchParams) (*Grid, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	m.lastParams = p
	grid := &Grid{Headers: append([]string(nil), GridStaticHeaders...)}
	rows := m.queryResult
	if !p.Paging.SkipPaging && len(rows) > p.Paging.Limit() {
		rows = rows[:p.Paging.Limit()]
	}
	for _, ev := range rows {
		grid.Rows = append(grid.Rows, []interface{}{ev.UID})
	}
	grid.Width = len(grid.Headers)
	grid.Height = len(grid.Rows)
	return grid, nil
}

func (m *mockStore) CountEvents(context.Context, *SearchParams) (int, error) {
	if m.failWith != nil {
		return 0, m.failWith
	}
	return m.count, nil
}

func (m *mockStore) GetEvent(_ context.Context, uid string) (*Event, error) {
	ev, ok := m.events[uid]
	if !ok || m.deleted[uid] {
		return nil, ErrNotFound
	}
	return ev, nil
}

func (m *mockStore) InsertEvent(_ context.Context, rec *EventRecord) error {
	if m.failWith != nil {
		return m.failWith
	}
	m.lastInsert = rec
	m.inserted = append(m.inserted, rec.UID)
	m.events[rec.UID] = &Event{UID: rec.UID, Status: rec.Status, CompletedDate: rec.CompletedDate}
	return nil
}

func (m *mockStore) UpdateEvent(_ context.Context, rec *EventRecord) error {
	if m.failWith != nil {
		return m.failWith
	}
	if _, ok := m.events[rec.UID]; !ok || m.deleted[rec.UID] {
		return ErrNotFound
	}
	m.lastUpdate = rec
	m.updated = append(m.updated, rec.UID)
	m.events[rec.UID] = &Event{UID: rec.UID, Status: rec.Status, CompletedDate: rec.CompletedDate}
	return nil
}

func (m *mockStore) SoftDeleteEvent(_ context.Context, uid string) (bool, error) {
	if m.failWith != nil {
		return false, m.failWith
	}
	if _, ok := m.events[uid]; !ok || m.deleted[uid] {
		return false, nil
	}
	m.deleted[uid] = true
	return true, nil
}

func (m *mockStore) NoteMaxSortOrder(_ context.Context, eventUID string) (int, error) {
	return m.maxSort[eventUID], nil
}

func (m *mockStore) ExistingNoteUIDs(_ context.Context, uids []string) (map[string]bool, error) {
	out := make(map[string]bool)
	persisted := make(map[string]bool)
	for _, notes := range m.notes {
		for _, n := range notes {
			persisted[n.UID] = true
		}
	}
	for _, u := range uids {
		if persisted[u] {
			out[u] = true
		}
	}
	return out, nil
}

func (m *mockStore) InsertNotes(_ context.Context, eventUID string, notes []Note) error {
	m.notes[eventUID] = append(m.notes[eventUID], notes...)
	for _, n := range notes {
		if n.SortOrder > m.maxSort[eventUID] {
			m.maxSort[eventUID] = n.SortOrder
		}
	}
	return nil
}

func (m *mockStore) TouchTrackedEntities(_ context.Context, uids []string, _ time.Time) error {
	sorted := append([]string(nil), uids...)
	sort.Strings(sorted)
	m.touched = append(m.touched, sorted)
	return nil
}

// mockMeta is a map-backed reference-data repository.
type mockMeta struct {
	orgUnits     map[string]*meta.OrganisationUnit
	programs     map[string]*meta.Program
	dataElements map[string]*meta.DataElement
	enrollments  map[string]*meta.Enrollment
	users        map[string]*meta.User
	tracked      map[string]*meta.TrackedEntity
	options      map[string]*meta.CategoryOption
	combos       map[string]*meta.CategoryOptionCombo
	defaultCombo *meta.CategoryOptionCombo
	eventUIDs    map[string]bool

	failWith error
}

func newMockMeta() *mockMeta {
	return &mockMeta{
		orgUnits:     make(map[string]*meta.OrganisationUnit),
		programs:     make(map[string]*meta.Program),
		dataElements: make(map[string]*meta.DataElement),
		enrollments:  make(map[string]*meta.Enrollment),
		users:        make(map[string]*meta.User),
		tracked:      make(map[string]*meta.TrackedEntity),
		options:      make(map[string]*meta.CategoryOption),
		combos:       make(map[string]*meta.CategoryOptionCombo),
		eventUIDs:    make(map[string]bool),
	}
}

func (m *mockMeta) OrgUnitsByUID(_ context.Context, uids []string) ([]*meta.OrganisationUnit, error) {
	var out []*meta.OrganisationUnit
	for _, u := range uids {
		if ou, ok := m.orgUnits[u]; ok {
			out = append(out, ou)
		}
	}
	return out, nil
}

func (m *mockMeta) ProgramsByUID(_ context.Context, uids []string) ([]*meta.Program, error) {
	var out []*meta.Program
	for _, u := range uids {
		if p, ok := m.programs[u]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockMeta) DataElementsByUID(_ context.Context, uids []string) ([]*meta.DataElement, error) {
	var out []*meta.DataElement
	for _, u := range uids {
		if de, ok := m.dataElements[u]; ok {
			out = append(out, de)
		}
	}
	return out, nil
}

func (m *mockMeta) EnrollmentsByUID(_ context.Context, uids []string) ([]*meta.Enrollment, error) {
	var out []*meta.Enrollment
	for _, u := range uids {
		if en, ok := m.enrollments[u]; ok {
			out = append(out, en)
		}
	}
	return out, nil
}

func (m *mockMeta) UsersByUID(_ context.Context, uids []string) ([]*meta.User, error) {
	var out []*meta.User
	for _, u := range uids {
		if usr, ok := m.users[u]; ok {
			out = append(out, usr)
		}
	}
	return out, nil
}

func (m *mockMeta) UserByUsername(_ context.Context, username string) (*meta.User, error) {
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, meta.ErrNotFound
}

func (m *mockMeta) TrackedEntitiesByUID(_ context.Context, uids []string) ([]*meta.TrackedEntity, error) {
	var out []*meta.TrackedEntity
	for _, u := range uids {
		if te, ok := m.tracked[u]; ok {
			out = append(out, te)
		}
	}
	return out, nil
}

func (m *mockMeta) CategoryOptionsByUID(_ context.Context, uids []string) ([]*meta.CategoryOption, error) {
	var out []*meta.CategoryOption
	for _, u := range uids {
		if co, ok := m.options[u]; ok {
			out = append(out, co)
		}
	}
	return out, nil
}

func (m *mockMeta) CategoryOptionCombosByUID(_ context.Context, uids []string) ([]*meta.CategoryOptionCombo, error) {
	var out []*meta.CategoryOptionCombo
	for _, u := range uids {
		if coc, ok := m.combos[u]; ok {
			out = append(out, coc)
		}
	}
	return out, nil
}

func (m *mockMeta) CategoryOptionComboByOptions(_ context.Context, categoryComboUID string, optionUIDs []string) (*meta.CategoryOptionCombo, error) {
	want := append([]string(nil), optionUIDs...)
	sort.Strings(want)
	for _, coc := range m.combos {
		if coc.CategoryComboUID != categoryComboUID {
			continue
		}
		got := append([]string(nil), coc.OptionUIDs...)
		sort.Strings(got)
		if len(got) == len(want) {
			match := true
			for i := range got {
				if got[i] != want[i] {
					match = false
				}
			}
			if match {
				return coc, nil
			}
		}
	}
	return nil, meta.ErrNotFound
}

func (m *mockMeta) DefaultCategoryOptionCombo(context.Context) (*meta.CategoryOptionCombo, error) {
	if m.defaultCombo == nil {
		return nil, meta.ErrConfig
	}
	return m.defaultCombo, nil
}

func (m *mockMeta) ExistingEventUIDs(_ context.Context, uids []string) (map[string]bool, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	out := make(map[string]bool)
	for _, u := range uids {
		if m.eventUIDs[u] {
			out[u] = true
		}
	}
	return out, nil
}
