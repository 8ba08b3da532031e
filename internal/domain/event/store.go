package event

import (
	"context"
	"encoding/json"
	"time"
)

// Grid is the flat, columnar search result: static columns followed by
// one column per requested data element.
type Grid struct {
	Headers []string        `json:"headers"`
	Rows    [][]interface{} `json:"rows"`
	Width   int             `json:"width"`
	Height  int             `json:"height"`
}

// GridStaticHeaders are the fixed leading columns of the grid variant.
var GridStaticHeaders = []string{
	"event", "enrollment", "created", "lastUpdated", "storedBy",
	"completedBy", "completedDate", "eventDate", "dueDate",
	"orgUnit", "orgUnitName", "status", "programStage", "program",
	"attributeOptionCombo", "deleted", "geometry",
}

// EventRecord is the resolved, persistence-ready shape of one event.
// The importer resolves caller-supplied UIDs to the numeric references
// before handing records to the store.
type EventRecord struct {
	UID string

	EnrollmentID   int64
	StageID        int64
	OrgUnitID      int64
	AOCID          int64
	AssignedUserID *int64

	Status        Status
	EventDate     *time.Time
	DueDate       *time.Time
	CompletedDate *time.Time
	CompletedBy   string
	StoredBy      string

	CreatedAtClient     *time.Time
	LastUpdatedAtClient *time.Time

	Geometry   json.RawMessage
	DataValues map[string]DataValue
	Deleted    bool
}

// Store is the persistence port of the event engine.
type Store interface {
	// GetEvents runs the object-graph search: paged events with their
	// data values and notes folded in.
	GetEvents(ctx context.Context, p *SearchParams) ([]*Event, error)

	// GetEventRows runs the grid variant: flat rows, no folding.
	GetEventRows(ctx context.Context, p *SearchParams) (*Grid, error)

	// CountEvents counts the rows matching the same predicates, without
	// order or paging clauses.
	CountEvents(ctx context.Context, p *SearchParams) (int, error)

	// GetEvent fetches a single event by UID.
	GetEvent(ctx context.Context, uid string) (*Event, error)

	InsertEvent(ctx context.Context, rec *EventRecord) error
	UpdateEvent(ctx context.Context, rec *EventRecord) error

	// SoftDeleteEvent marks an event deleted. It reports whether a live
	// row was found.
	SoftDeleteEvent(ctx context.Context, uid string) (bool, error)

	NoteMaxSortOrder(ctx context.Context, eventUID string) (int, error)
	ExistingNoteUIDs(ctx context.Context, uids []string) (map[string]bool, error)
	InsertNotes(ctx context.Context, eventUID string, notes []Note) error

	// TouchTrackedEntities bumps last-updated on the given tracked
	// entities as one coalesced write. UIDs are sorted and rows already
	// locked by a concurrent writer are skipped rather than waited on.
	TouchTrackedEntities(ctx context.Context, uids []string, ts time.Time) error
}
