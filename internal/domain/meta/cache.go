package meta

import (
	"context"
	"fmt"
	"sort"
	"strings"

	gocache "github.com/patrickmn/go-cache"
)

// RefCache is a request- or batch-scoped bundle of identifier caches.
// Each cache is created empty, populated lazily or via PreloadForBatch,
// and emptied by Clear. A RefCache is never shared across requests, so
// no additional locking is layered on top of the cache instances.
type RefCache struct {
	repo Repository

	orgUnits        *gocache.Cache
	programs        *gocache.Cache
	stages          *gocache.Cache
	dataElements    *gocache.Cache
	enrollments     *gocache.Cache
	users           *gocache.Cache
	usersByName     *gocache.Cache
	trackedEntities *gocache.Cache
	categoryOptions *gocache.Cache
	combos          *gocache.Cache
	combosByOptions *gocache.Cache

	defaultCombo *CategoryOptionCombo
}

func newStore() *gocache.Cache {
	return gocache.New(gocache.NoExpiration, 0)
}

// NewRefCache creates an empty cache bundle over the given repository.
func NewRefCache(repo Repository) *RefCache {
	return &RefCache{
		repo:            repo,
		orgUnits:        newStore(),
		programs:        newStore(),
		stages:          newStore(),
		dataElements:    newStore(),
		enrollments:     newStore(),
		users:           newStore(),
		usersByName:     newStore(),
		trackedEntities: newStore(),
		categoryOptions: newStore(),
		combos:          newStore(),
		combosByOptions: newStore(),
	}
}

// Clear empties every cache. Called at the flush threshold during large
// imports and at the end of a request.
func (c *RefCache) Clear() {
	for _, store := range []*gocache.Cache{
		c.orgUnits, c.programs, c.stages, c.dataElements, c.enrollments,
		c.users, c.usersByName, c.trackedEntities, c.categoryOptions,
		c.combos, c.combosByOptions,
	} {
		store.Flush()
	}
	c.defaultCombo = nil
}

// BatchRefs collects the distinct identifiers referenced by one import
// sub-batch, so the caches can be filled with bulk reads instead of
// per-item queries.
type BatchRefs struct {
	OrgUnits    []string
	Programs    []string
	Enrollments []string
	Users       []string
}

// PreloadForBatch bulk-loads the referenced objects. Programs cascade to
// their stages and data elements.
func (c *RefCache) PreloadForBatch(ctx context.Context, refs BatchRefs) error {
	ous, err := c.repo.OrgUnitsByUID(ctx, dedupe(refs.OrgUnits))
	if err != nil {
		return fmt.Errorf("preload org units: %w", err)
	}
	for _, ou := range ous {
		c.orgUnits.SetDefault(ou.UID, ou)
	}

	programs, err := c.repo.ProgramsByUID(ctx, dedupe(refs.Programs))
	if err != nil {
		return fmt.Errorf("preload programs: %w", err)
	}
	for _, p := range programs {
		c.storeProgram(p)
	}

	enrollments, err := c.repo.EnrollmentsByUID(ctx, dedupe(refs.Enrollments))
	if err != nil {
		return fmt.Errorf("preload enrollments: %w", err)
	}
	for _, en := range enrollments {
		c.enrollments.SetDefault(en.UID, en)
	}

	users, err := c.repo.UsersByUID(ctx, dedupe(refs.Users))
	if err != nil {
		return fmt.Errorf("preload users: %w", err)
	}
	for _, u := range users {
		c.users.SetDefault(u.UID, u)
		c.usersByName.SetDefault(u.Username, u)
	}
	return nil
}

func (c *RefCache) storeProgram(p *Program) {
	c.programs.SetDefault(p.UID, p)
	for _, ps := range p.Stages {
		c.stages.SetDefault(ps.UID, ps)
		for _, de := range ps.DataElements {
			c.dataElements.SetDefault(de.UID, de)
		}
	}
}

// OrgUnit resolves an organisation unit, hitting the repository on a miss.
func (c *RefCache) OrgUnit(ctx context.Context, uid string) (*OrganisationUnit, error) {
	if v, ok := c.orgUnits.Get(uid); ok {
		return v.(*OrganisationUnit), nil
	}
	ous, err := c.repo.OrgUnitsByUID(ctx, []string{uid})
	if err != nil {
		return nil, err
	}
	if len(ous) == 0 {
		return nil, fmt.Errorf("org unit %s: %w", uid, ErrNotFound)
	}
	c.orgUnits.SetDefault(uid, ous[0])
	return ous[0], nil
}

// Program resolves a program (with stages and data elements).
func (c *RefCache) Program(ctx context.Context, uid string) (*Program, error) {
	if v, ok := c.programs.Get(uid); ok {
		return v.(*Program), nil
	}
	programs, err := c.repo.ProgramsByUID(ctx, []string{uid})
	if err != nil {
		return nil, err
	}
	if len(programs) == 0 {
		return nil, fmt.Errorf("program %s: %w", uid, ErrNotFound)
	}
	c.storeProgram(programs[0])
	return programs[0], nil
}

// Stage resolves a program stage from the stages already loaded through
// their programs. Stages are never fetched standalone: an unknown stage
// UID here means the referenced program did not declare it.
func (c *RefCache) Stage(uid string) (*ProgramStage, error) {
	if v, ok := c.stages.Get(uid); ok {
		return v.(*ProgramStage), nil
	}
	return nil, fmt.Errorf("program stage %s: %w", uid, ErrNotFound)
}

// DataElement resolves a data element by UID, independent of any program
// stage.
func (c *RefCache) DataElement(ctx context.Context, uid string) (*DataElement, error) {
	if v, ok := c.dataElements.Get(uid); ok {
		return v.(*DataElement), nil
	}
	des, err := c.repo.DataElementsByUID(ctx, []string{uid})
	if err != nil {
		return nil, err
	}
	if len(des) == 0 {
		return nil, fmt.Errorf("data element %s: %w", uid, ErrNotFound)
	}
	c.dataElements.SetDefault(uid, des[0])
	return des[0], nil
}

// Enrollment resolves an enrollment by UID.
func (c *RefCache) Enrollment(ctx context.Context, uid string) (*Enrollment, error) {
	if v, ok := c.enrollments.Get(uid); ok {
		return v.(*Enrollment), nil
	}
	ens, err := c.repo.EnrollmentsByUID(ctx, []string{uid})
	if err != nil {
		return nil, err
	}
	if len(ens) == 0 {
		return nil, fmt.Errorf("enrollment %s: %w", uid, ErrNotFound)
	}
	c.enrollments.SetDefault(uid, ens[0])
	return ens[0], nil
}

// User resolves a user by UID.
func (c *RefCache) User(ctx context.Context, uid string) (*User, error) {
	if v, ok := c.users.Get(uid); ok {
		return v.(*User), nil
	}
	users, err := c.repo.UsersByUID(ctx, []string{uid})
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("user %s: %w", uid, ErrNotFound)
	}
	c.users.SetDefault(uid, users[0])
	c.usersByName.SetDefault(users[0].Username, users[0])
	return users[0], nil
}

// UserByUsername resolves a user by username.
func (c *RefCache) UserByUsername(ctx context.Context, username string) (*User, error) {
	if v, ok := c.usersByName.Get(username); ok {
		return v.(*User), nil
	}
	u, err := c.repo.UserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	c.users.SetDefault(u.UID, u)
	c.usersByName.SetDefault(username, u)
	return u, nil
}

// TrackedEntity resolves a tracked entity by UID.
func (c *RefCache) TrackedEntity(ctx context.Context, uid string) (*TrackedEntity, error) {
	if v, ok := c.trackedEntities.Get(uid); ok {
		return v.(*TrackedEntity), nil
	}
	tes, err := c.repo.TrackedEntitiesByUID(ctx, []string{uid})
	if err != nil {
		return nil, err
	}
	if len(tes) == 0 {
		return nil, fmt.Errorf("tracked entity %s: %w", uid, ErrNotFound)
	}
	c.trackedEntities.SetDefault(uid, tes[0])
	return tes[0], nil
}

// CategoryOption resolves a category option by UID.
func (c *RefCache) CategoryOption(ctx context.Context, uid string) (*CategoryOption, error) {
	if v, ok := c.categoryOptions.Get(uid); ok {
		return v.(*CategoryOption), nil
	}
	opts, err := c.repo.CategoryOptionsByUID(ctx, []string{uid})
	if err != nil {
		return nil, err
	}
	if len(opts) == 0 {
		return nil, fmt.Errorf("category option %s: %w", uid, ErrNotFound)
	}
	c.categoryOptions.SetDefault(uid, opts[0])
	return opts[0], nil
}

// CategoryOptionCombo resolves a combo by UID.
func (c *RefCache) CategoryOptionCombo(ctx context.Context, uid string) (*CategoryOptionCombo, error) {
	if v, ok := c.combos.Get(uid); ok {
		return v.(*CategoryOptionCombo), nil
	}
	combos, err := c.repo.CategoryOptionCombosByUID(ctx, []string{uid})
	if err != nil {
		return nil, err
	}
	if len(combos) == 0 {
		return nil, fmt.Errorf("category option combo %s: %w", uid, ErrNotFound)
	}
	c.combos.SetDefault(uid, combos[0])
	return combos[0], nil
}

// comboOptionsKey builds an order-independent cache key from the category
// combo and the option set.
func comboOptionsKey(categoryComboUID string, optionUIDs []string) string {
	sorted := append([]string(nil), optionUIDs...)
	sort.Strings(sorted)
	return categoryComboUID + ":" + strings.Join(sorted, ";")
}

// CategoryOptionComboByOptions resolves the combo matching exactly the
// given options within the category combo.
func (c *RefCache) CategoryOptionComboByOptions(ctx context.Context, categoryComboUID string, optionUIDs []string) (*CategoryOptionCombo, error) {
	key := comboOptionsKey(categoryComboUID, optionUIDs)
	if v, ok := c.combosByOptions.Get(key); ok {
		return v.(*CategoryOptionCombo), nil
	}
	coc, err := c.repo.CategoryOptionComboByOptions(ctx, categoryComboUID, optionUIDs)
	if err != nil {
		return nil, err
	}
	c.combosByOptions.SetDefault(key, coc)
	c.combos.SetDefault(coc.UID, coc)
	return coc, nil
}

// DefaultCategoryOptionCombo resolves the system default combo. Its
// absence is a configuration error, not bad input.
func (c *RefCache) DefaultCategoryOptionCombo(ctx context.Context) (*CategoryOptionCombo, error) {
	if c.defaultCombo != nil {
		return c.defaultCombo, nil
	}
	coc, err := c.repo.DefaultCategoryOptionCombo(ctx)
	if err != nil {
		return nil, err
	}
	c.defaultCombo = coc
	return coc, nil
}

func dedupe(ss []string) []string {
	seen := make(map[string]bool, len(ss))
	var out []string
	for _, s := range ss {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
