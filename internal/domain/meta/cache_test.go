package meta

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
)

// mockRepo is a map-backed Repository used by the cache and resolver
// tests. queries counts repository round-trips per method so tests can
// assert cache hits.
type mockRepo struct {
	orgUnits     map[string]*OrganisationUnit
	programs     map[string]*Program
	dataElements map[string]*DataElement
	enrollments  map[string]*Enrollment
	users        map[string]*User
	tracked      map[string]*TrackedEntity
	options      map[string]*CategoryOption
	combos       map[string]*CategoryOptionCombo
	defaultCombo *CategoryOptionCombo
	eventUIDs    map[string]bool

	queries map[string]int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		orgUnits:     make(map[string]*OrganisationUnit),
		programs:     make(map[string]*Program),
		dataElements: make(map[string]*DataElement),
		enrollments:  make(map[string]*Enrollment),
		users:        make(map[string]*User),
		tracked:      make(map[string]*TrackedEntity),
		options:      make(map[string]*CategoryOption),
		combos:       make(map[string]*CategoryOptionCombo),
		eventUIDs:    make(map[string]bool),
		queries:      make(map[string]int),
	}
}

func (m *mockRepo) OrgUnitsByUID(_ context.Context, uids []string) ([]*OrganisationUnit, error) {
	m.queries["orgUnits"]++
	var out []*OrganisationUnit
	for _, uid := range uids {
		if ou, ok := m.orgUnits[uid]; ok {
			out = append(out, ou)
		}
	}
	return out, nil
}

func (m *mockRepo) ProgramsByUID(_ context.Context, uids []string) ([]*Program, error) {
	m.queries["programs"]++
	var out []*Program
	for _, uid := range uids {
		if p, ok := m.programs[uid]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockRepo) DataElementsByUID(_ context.Context, uids []string) ([]*DataElement, error) {
	m.queries["dataElements"]++
	var out []*DataElement
	for _, uid := range uids {
		if de, ok := m.dataElements[uid]; ok {
			out = append(out, de)
		}
	}
	return out, nil
}

func (m *mockRepo) EnrollmentsByUID(_ context.Context, uids []string) ([]*Enrollment, error) {
	m.queries["enrollments"]++
	var out []*Enrollment
	for _, uid := range uids {
		if en, ok := m.enrollments[uid]; ok {
			out = append(out, en)
		}
	}
	return out, nil
}

func (m *mockRepo) UsersByUID(_ context.Context, uids []string) ([]*User, error) {
	m.queries["users"]++
	var out []*User
	for _, uid := range uids {
		if u, ok := m.users[uid]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *mockRepo) UserByUsername(_ context.Context, username string) (*User, error) {
	m.queries["userByUsername"]++
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) TrackedEntitiesByUID(_ context.Context, uids []string) ([]*TrackedEntity, error) {
	m.queries["tracked"]++
	var out []*TrackedEntity
	for _, uid := range uids {
		if te, ok := m.tracked[uid]; ok {
			out = append(out, te)
		}
	}
	return out, nil
}

func (m *mockRepo) CategoryOptionsByUID(_ context.Context, uids []string) ([]*CategoryOption, error) {
	m.queries["options"]++
	var out []*CategoryOption
	for _, uid := range uids {
		if co, ok := m.options[uid]; ok {
			out = append(out, co)
		}
	}
	return out, nil
}

func (m *mockRepo) CategoryOptionCombosByUID(_ context.Context, uids []string) ([]*CategoryOptionCombo, error) {
	m.queries["combos"]++
	var out []*CategoryOptionCombo
	for _, uid := range uids {
		if coc, ok := m.combos[uid]; ok {
			out = append(out, coc)
		}
	}
	return out, nil
}

func (m *mockRepo) CategoryOptionComboByOptions(_ context.Context, categoryComboUID string, optionUIDs []string) (*CategoryOptionCombo, error) {
	m.queries["comboByOptions"]++
	want := append([]string(nil), optionUIDs...)
	sort.Strings(want)
	for _, coc := range m.combos {
		if coc.CategoryComboUID != categoryComboUID {
			continue
		}
		got := append([]string(nil), coc.OptionUIDs...)
		sort.Strings(got)
		if strings.Join(got, ";") == strings.Join(want, ";") {
			return coc, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) DefaultCategoryOptionCombo(_ context.Context) (*CategoryOptionCombo, error) {
	m.queries["defaultCombo"]++
	if m.defaultCombo == nil {
		return nil, ErrConfig
	}
	return m.defaultCombo, nil
}

func (m *mockRepo) ExistingEventUIDs(_ context.Context, uids []string) (map[string]bool, error) {
	m.queries["existingEvents"]++
	out := make(map[string]bool)
	for _, uid := range uids {
		if m.eventUIDs[uid] {
			out[uid] = true
		}
	}
	return out, nil
}

func TestCacheHitAvoidsSecondQuery(t *testing.T) {
	repo := newMockRepo()
	repo.orgUnits["ou1"] = &OrganisationUnit{UID: "ou1", Name: "Clinic A"}
	cache := NewRefCache(repo)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ou, err := cache.OrgUnit(ctx, "ou1")
		if err != nil {
			t.Fatalf("OrgUnit: %v", err)
		}
		if ou.Name != "Clinic A" {
			t.Fatalf("wrong org unit: %+v", ou)
		}
	}
	if repo.queries["orgUnits"] != 1 {
		t.Errorf("expected 1 repository query, got %d", repo.queries["orgUnits"])
	}
}

func TestCacheMissReturnsNotFound(t *testing.T) {
	cache := NewRefCache(newMockRepo())
	_, err := cache.OrgUnit(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestClearEmptiesCaches(t *testing.T) {
	repo := newMockRepo()
	repo.orgUnits["ou1"] = &OrganisationUnit{UID: "ou1"}
	cache := NewRefCache(repo)
	ctx := context.Background()

	if _, err := cache.OrgUnit(ctx, "ou1"); err != nil {
		t.Fatal(err)
	}
	cache.Clear()
	if _, err := cache.OrgUnit(ctx, "ou1"); err != nil {
		t.Fatal(err)
	}
	if repo.queries["orgUnits"] != 2 {
		t.Errorf("expected a fresh query after Clear, got %d queries", repo.queries["orgUnits"])
	}
}

func TestPreloadForBatchCascadesPrograms(t *testing.T) {
	repo := newMockRepo()
	de := &DataElement{UID: "de1", ValueType: ValueTypeNumber}
	stage := &ProgramStage{UID: "ps1", ProgramUID: "p1", DataElements: map[string]*DataElement{"de1": de}}
	repo.programs["p1"] = &Program{UID: "p1", Stages: map[string]*ProgramStage{"ps1": stage}}
	cache := NewRefCache(repo)

	err := cache.PreloadForBatch(context.Background(), BatchRefs{Programs: []string{"p1", "p1", ""}})
	if err != nil {
		t.Fatalf("PreloadForBatch: %v", err)
	}

	if _, err := cache.Stage("ps1"); err != nil {
		t.Errorf("stage not cached by program preload: %v", err)
	}
	if repo.queries["programs"] != 1 {
		t.Errorf("duplicate uids should collapse to one bulk query, got %d", repo.queries["programs"])
	}
}

func TestComboOptionsKeyOrderIndependent(t *testing.T) {
	a := comboOptionsKey("cc1", []string{"o2", "o1", "o3"})
	b := comboOptionsKey("cc1", []string{"o3", "o1", "o2"})
	if a != b {
		t.Errorf("keys differ for same option set: %q vs %q", a, b)
	}
	c := comboOptionsKey("cc2", []string{"o1", "o2", "o3"})
	if a == c {
		t.Error("keys must differ across category combos")
	}
}
