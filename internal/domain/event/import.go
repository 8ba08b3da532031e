package event

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/vitaltrack/vitaltrack/internal/domain/meta"
	"github.com/vitaltrack/vitaltrack/internal/platform/auth"
	"github.com/vitaltrack/vitaltrack/internal/platform/db"
	"github.com/vitaltrack/vitaltrack/pkg/uid"
)

// Strategy selects how submitted events map onto persisted ones.
type Strategy string

const (
	StrategyCreate          Strategy = "CREATE"
	StrategyUpdate          Strategy = "UPDATE"
	StrategyCreateAndUpdate Strategy = "CREATE_AND_UPDATE"
	StrategyDelete          Strategy = "DELETE"
	StrategySync            Strategy = "SYNC"
)

// ImportOptions control one import run.
type ImportOptions struct {
	Strategy Strategy
	DryRun   bool
}

// Importer is the batch import pipeline. Events are processed in
// sub-batches: references are bulk-preloaded per batch, tracked-entity
// touches are coalesced per batch, and the reference caches are cleared
// between batches so a long import cannot pin stale metadata.
type Importer struct {
	store Store
	repo  meta.Repository
	pool  *pgxpool.Pool
	log   zerolog.Logger

	batchSize int
	now       func() time.Time
}

func NewImporter(store Store, repo meta.Repository, pool *pgxpool.Pool, batchSize int, log zerolog.Logger) *Importer {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Importer{
		store:     store,
		repo:      repo,
		pool:      pool,
		log:       log,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// ImportEvents runs the pipeline over the submitted events. Per-item
// failures become ERROR summaries and never abort the run; a runtime
// failure (store or configuration) appends one final ERROR summary and
// stops, preserving the outcomes recorded so far.
func (i *Importer) ImportEvents(ctx context.Context, events []*Event, opts ImportOptions) *ImportSummaries {
	summaries := NewImportSummaries()
	defer func() { recordImportCounts(summaries.Counts) }()
	if opts.Strategy == "" {
		opts.Strategy = StrategyCreateAndUpdate
	}

	// UIDs are settled up front so summaries can always reference the
	// submitted event, even when it fails validation later.
	uids := make([]string, 0, len(events))
	for _, ev := range events {
		if ev.UID == "" {
			ev.UID = uid.New()
		}
		uids = append(uids, ev.UID)
	}

	existing, err := i.repo.ExistingEventUIDs(ctx, uids)
	if err != nil {
		summaries.Add(importFailed(err))
		return summaries
	}

	cache := meta.NewRefCache(i.repo)
	for start := 0; start < len(events); start += i.batchSize {
		batch := events[start:min(start+i.batchSize, len(events))]
		if err := i.runBatch(ctx, cache, batch, existing, opts, summaries); err != nil {
			i.log.Error().Err(err).Int("offset", start).Msg("event import aborted")
			summaries.Add(importFailed(err))
			return summaries
		}
		cache.Clear()
	}
	return summaries
}

// DeleteEvent soft-deletes one event. Deleting an absent or already
// deleted event is not an error: the outcome reads SUCCESS with the item
// counted as ignored.
func (i *Importer) DeleteEvent(ctx context.Context, eventUID string) *ImportSummary {
	found, err := i.store.SoftDeleteEvent(ctx, eventUID)
	if err != nil {
		return importFailed(err)
	}
	s := successSummary(eventUID)
	if found {
		s.Counts.Deleted = 1
	} else {
		s.Counts.Ignored = 1
		s.Description = fmt.Sprintf("Event %s does not exist or was already deleted", eventUID)
	}
	return s
}

func importFailed(err error) *ImportSummary {
	return errorSummary("", "The import process failed: %s", err)
}

func (i *Importer) runBatch(ctx context.Context, cache *meta.RefCache, batch []*Event,
	existing map[string]bool, opts ImportOptions, summaries *ImportSummaries) error {

	run := func(ctx context.Context) error {
		return i.processBatch(ctx, cache, batch, existing, opts, summaries)
	}
	if i.pool != nil && !opts.DryRun {
		return db.WithTx(ctx, i.pool, run)
	}
	return run(ctx)
}

func (i *Importer) processBatch(ctx context.Context, cache *meta.RefCache, batch []*Event,
	existing map[string]bool, opts ImportOptions, summaries *ImportSummaries) error {

	if err := cache.PreloadForBatch(ctx, batchRefs(batch)); err != nil {
		return err
	}
	resolver := meta.NewResolver(cache)

	pendingTE := make(map[string]bool)
	for _, ev := range batch {
		summary, teUID, err := i.processEvent(ctx, cache, resolver, ev, existing, opts)
		if err != nil {
			return err
		}
		summaries.Add(summary)
		if teUID != "" && summary.Status != ImportError {
			pendingTE[teUID] = true
		}
	}

	// One coalesced last-updated bump per batch instead of one per event.
	if !opts.DryRun && len(pendingTE) > 0 {
		uids := make([]string, 0, len(pendingTE))
		for te := range pendingTE {
			uids = append(uids, te)
		}
		if err := i.store.TouchTrackedEntities(ctx, uids, i.now()); err != nil {
			return err
		}
	}
	return nil
}

func batchRefs(events []*Event) meta.BatchRefs {
	var refs meta.BatchRefs
	for _, ev := range events {
		refs.OrgUnits = append(refs.OrgUnits, ev.OrgUnit)
		refs.Programs = append(refs.Programs, ev.Program)
		refs.Enrollments = append(refs.Enrollments, ev.Enrollment)
		if ev.AssignedUser != "" {
			refs.Users = append(refs.Users, ev.AssignedUser)
		}
	}
	return refs
}

func (i *Importer) processEvent(ctx context.Context, cache *meta.RefCache, resolver *meta.Resolver,
	ev *Event, existing map[string]bool, opts ImportOptions) (*ImportSummary, string, error) {

	if !uid.IsValid(ev.UID) {
		return errorSummary(ev.UID, "Event.event %s is not a valid identifier", ev.UID), "", nil
	}

	switch opts.Strategy {
	case StrategyDelete:
		if opts.DryRun {
			s := successSummary(ev.UID)
			s.Counts.Deleted = 1
			return s, "", nil
		}
		return i.DeleteEvent(ctx, ev.UID), "", nil

	case StrategyCreate:
		if existing[ev.UID] {
			return i.duplicate(ev), "", nil
		}
		return i.saveEvent(ctx, cache, resolver, ev, false, opts)

	case StrategyUpdate:
		if !existing[ev.UID] {
			return errorSummary(ev.UID, "Event %s does not exist", ev.UID), "", nil
		}
		return i.saveEvent(ctx, cache, resolver, ev, true, opts)

	case StrategyCreateAndUpdate, StrategySync:
		return i.saveEvent(ctx, cache, resolver, ev, existing[ev.UID], opts)
	}
	return errorSummary(ev.UID, "unknown import strategy %s", opts.Strategy), "", nil
}

func (i *Importer) duplicate(ev *Event) *ImportSummary {
	return errorSummary(ev.UID, "Event %s already exists or was deleted earlier", ev.UID)
}

// saveEvent validates, resolves and persists one event. The returned
// error is reserved for runtime failures; everything caller-induced is
// reported on the summary.
func (i *Importer) saveEvent(ctx context.Context, cache *meta.RefCache, resolver *meta.Resolver,
	ev *Event, isUpdate bool, opts ImportOptions) (*ImportSummary, string, error) {

	user := auth.UserFromContext(ctx)
	now := i.now()
	summary := successSummary(ev.UID)

	program, err := cache.Program(ctx, ev.Program)
	if err != nil {
		if errors.Is(err, meta.ErrNotFound) {
			return errorSummary(ev.UID, "Event.program does not point to a valid program: %s", ev.Program), "", nil
		}
		return nil, "", err
	}
	if user != nil && !user.Superuser && !user.AccessiblePrograms[program.UID] {
		return errorSummary(ev.UID, "User has no access to program: %s", program.UID), "", nil
	}

	stageUID := ev.ProgramStage
	if stageUID == "" && !program.Registration() && len(program.Stages) == 1 {
		for _, ps := range program.Stages {
			stageUID = ps.UID
		}
	}
	stage, ok := program.Stages[stageUID]
	if !ok {
		return errorSummary(ev.UID, "Event.programStage does not point to a valid programStage: %s", ev.ProgramStage), "", nil
	}

	en, err := cache.Enrollment(ctx, ev.Enrollment)
	if err != nil {
		if errors.Is(err, meta.ErrNotFound) {
			return errorSummary(ev.UID, "Event.enrollment does not point to a valid enrollment: %s", ev.Enrollment), "", nil
		}
		return nil, "", err
	}
	if en.ProgramUID != program.UID {
		return errorSummary(ev.UID, "Enrollment %s does not belong to program %s", en.UID, program.UID), "", nil
	}
	switch en.Status {
	case meta.EnrollmentCancelled:
		return errorSummary(ev.UID, "Enrollment %s is cancelled, events cannot be added", en.UID), "", nil
	case meta.EnrollmentCompleted:
		if !user.HasAuthority(auth.AuthorityUncomplete) {
			return errorSummary(ev.UID, "Enrollment %s is completed, events cannot be added", en.UID), "", nil
		}
		// Even with the authority, events may only be backdated into a
		// completed enrollment: the event's creation timestamp must not
		// fall after the enrollment's completion date.
		created := now
		if ev.Created != nil {
			created = *ev.Created
		}
		if en.CompletedDate != nil && created.After(*en.CompletedDate) {
			return errorSummary(ev.UID, "Enrollment %s was completed before this event was created", en.UID), "", nil
		}
	}

	ou, err := cache.OrgUnit(ctx, ev.OrgUnit)
	if err != nil {
		if errors.Is(err, meta.ErrNotFound) {
			return errorSummary(ev.UID, "Event.orgUnit does not point to a valid organisation unit: %s", ev.OrgUnit), "", nil
		}
		return nil, "", err
	}
	if user != nil && !user.Superuser && !inCaptureScope(user.OrgUnitPaths, ou.Path) {
		return errorSummary(ev.UID, "User has no create access to organisation unit: %s", ou.UID), "", nil
	}

	// VISITED is accepted as legacy input for ACTIVE; OVERDUE is derived
	// and never stored.
	st := ev.Status
	switch st {
	case "":
		st = StatusActive
	case StatusVisited:
		st = StatusActive
	case StatusOverdue:
		return errorSummary(ev.UID, "Event status %s cannot be stored", st), "", nil
	default:
		if !st.Valid() {
			return errorSummary(ev.UID, "Event status %s is not valid", st), "", nil
		}
	}

	eventDate := ev.EventDate
	if eventDate == nil && (st == StatusActive || st == StatusCompleted) {
		return errorSummary(ev.UID, "Event date is required for %s events", st), "", nil
	}
	dueDate := ev.DueDate
	if dueDate == nil {
		dueDate = eventDate
	}

	refDate := eventDate
	if refDate == nil {
		refDate = dueDate
	}
	if user != nil && !user.HasAuthority(auth.AuthorityEditExpired) &&
		refDate != nil && program.ExpiryPeriodType.Expired(*refDate, now, program.ExpiryDays) {
		return errorSummary(ev.UID, "The program's expiry date has passed. It is not possible to make changes to this event"), "", nil
	}

	var current *Event
	if isUpdate {
		current, err = i.store.GetEvent(ctx, ev.UID)
		if errors.Is(err, ErrNotFound) {
			// The UID exists but only as a soft-deleted row.
			return i.duplicate(ev), "", nil
		}
		if err != nil {
			return nil, "", err
		}
		if current.Status == StatusCompleted && program.CompleteEventsExpiryDays > 0 &&
			user != nil && !user.HasAuthority(auth.AuthorityEditExpired) {
			// The persisted row can lack a completed date; fall back to
			// the payload's, and refuse the edit when neither resolves.
			completed := current.CompletedDate
			if completed == nil {
				completed = ev.CompletedDate
			}
			if completed == nil {
				return errorSummary(ev.UID, "Event needs to have completed date"), "", nil
			}
			if now.After(completed.AddDate(0, 0, program.CompleteEventsExpiryDays)) {
				return errorSummary(ev.UID, "The event's completeness date has expired. Not possible to make changes to this event"), "", nil
			}
		}
	}

	coc, err := resolver.ResolveAttributeOptionCombo(ctx,
		program.CategoryComboUID, splitOptions(ev.AttributeCategoryOptions), ev.AttributeOptionCombo)
	if err != nil {
		if errors.Is(err, meta.ErrConfig) {
			return nil, "", err
		}
		return errorSummary(ev.UID, "%s", err.Error()), "", nil
	}
	if eventDate != nil {
		if err := resolver.ValidateOptionDates(ctx, coc, *eventDate); err != nil {
			return errorSummary(ev.UID, "%s", err.Error()), "", nil
		}
	}

	var assignedID *int64
	if ev.AssignedUser != "" {
		au, err := cache.User(ctx, ev.AssignedUser)
		switch {
		case errors.Is(err, meta.ErrNotFound):
			summary.Status = ImportWarning
			summary.AddConflict("assignedUser", fmt.Sprintf("Assigned user %s does not exist", ev.AssignedUser))
		case err != nil:
			return nil, "", err
		default:
			assignedID = &au.ID
		}
	}

	storedBy := ev.StoredBy
	if storedBy == "" {
		storedBy = callerUsername(user)
	}
	values := i.validateDataValues(ev, stage, storedBy, now, summary)

	completedDate, completedBy := ev.CompletedDate, ev.CompletedBy
	if st == StatusCompleted {
		if completedDate == nil {
			completedDate = &now
		}
		if completedBy == "" {
			completedBy = callerUsername(user)
		}
	} else {
		if current != nil && current.Status == StatusCompleted && !user.HasAuthority(auth.AuthorityUncomplete) {
			return errorSummary(ev.UID, "User is not authorized to un-complete events"), "", nil
		}
		completedDate, completedBy = nil, ""
	}

	rec := &EventRecord{
		UID:                 ev.UID,
		EnrollmentID:        en.ID,
		StageID:             stage.ID,
		OrgUnitID:           ou.ID,
		AOCID:               coc.ID,
		AssignedUserID:      assignedID,
		Status:              st,
		EventDate:           eventDate,
		DueDate:             dueDate,
		CompletedDate:       completedDate,
		CompletedBy:         completedBy,
		StoredBy:            storedBy,
		CreatedAtClient:     ev.CreatedAtClient,
		LastUpdatedAtClient: ev.LastUpdatedAtClient,
		Geometry:            ev.Geometry,
		DataValues:          values,
	}

	if !opts.DryRun {
		if isUpdate {
			err = i.store.UpdateEvent(ctx, rec)
		} else {
			err = i.store.InsertEvent(ctx, rec)
		}
		if err != nil {
			return nil, "", err
		}
		if err := i.saveNotes(ctx, ev.UID, ev.Notes, storedBy, now); err != nil {
			return nil, "", err
		}
	}

	if isUpdate {
		summary.Counts.Updated = 1
	} else {
		summary.Counts.Imported = 1
	}
	return summary, en.TrackedEntityUID, nil
}

// validateDataValues keeps the values that belong to the stage and parse
// under their declared type. Rejected values become conflicts on the
// summary, not item failures.
func (i *Importer) validateDataValues(ev *Event, stage *meta.ProgramStage,
	storedBy string, now time.Time, summary *ImportSummary) map[string]DataValue {

	values := make(map[string]DataValue, len(ev.DataValues))
	for de, dv := range ev.DataValues {
		if dv.Value == "" {
			continue
		}
		decl, ok := stage.DataElements[de]
		if !ok {
			summary.Status = ImportWarning
			summary.AddConflict("dataElement", fmt.Sprintf("%s is not a valid data element for stage %s", de, stage.UID))
			continue
		}
		if decl.ValueType.IsNumeric() {
			if _, err := strconv.ParseFloat(dv.Value, 64); err != nil {
				summary.Status = ImportWarning
				summary.AddConflict("dataElement", fmt.Sprintf("value %q for data element %s is not numeric", dv.Value, de))
				continue
			}
		}
		if dv.StoredBy == "" {
			dv.StoredBy = storedBy
		}
		ts := now
		if dv.Created == nil {
			dv.Created = &ts
		}
		dv.LastUpdated = &ts
		values[de] = dv
	}
	return values
}

// saveNotes appends the submitted notes that are new to the event. Notes
// are never updated or removed: a note UID already persisted is skipped,
// and sort order continues from the highest persisted value.
func (i *Importer) saveNotes(ctx context.Context, eventUID string, notes []Note, storedBy string, now time.Time) error {
	if len(notes) == 0 {
		return nil
	}

	var provided []string
	for _, n := range notes {
		if n.UID != "" {
			provided = append(provided, n.UID)
		}
	}
	existing, err := i.store.ExistingNoteUIDs(ctx, provided)
	if err != nil {
		return err
	}
	maxOrder, err := i.store.NoteMaxSortOrder(ctx, eventUID)
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	order := maxOrder
	var toInsert []Note
	for _, n := range notes {
		if n.Text == "" {
			continue
		}
		if n.UID != "" && (existing[n.UID] || seen[n.UID]) {
			continue
		}
		if n.UID == "" || !uid.IsValid(n.UID) {
			n.UID = uid.New()
		}
		seen[n.UID] = true
		if n.StoredBy == "" {
			n.StoredBy = storedBy
		}
		if n.Created == nil {
			n.Created = &now
		}
		order++
		n.SortOrder = order
		toInsert = append(toInsert, n)
	}
	return i.store.InsertNotes(ctx, eventUID, toInsert)
}

func inCaptureScope(paths []string, ouPath string) bool {
	for _, p := range paths {
		if strings.HasPrefix(ouPath, p) {
			return true
		}
	}
	return false
}

func splitOptions(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ";") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func callerUsername(u *auth.User) string {
	if u != nil && u.Username != "" {
		return u.Username
	}
	return "system-process"
}
