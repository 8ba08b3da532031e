// Package event implements the event query engine and the batch import
// pipeline: a structured search over persisted events with security
// filtering, identifier-scheme translation and paging, and an import
// orchestrator with per-item failure isolation.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a single requested event does not exist.
var ErrNotFound = errors.New("event not found")

// ClientError marks bad caller input (malformed filters, unknown
// identifiers, invalid dates). Handlers map it to a 400 response.
type ClientError struct {
	msg string
}

func (e *ClientError) Error() string { return e.msg }

func clientErrorf(format string, args ...interface{}) error {
	return &ClientError{msg: fmt.Sprintf(format, args...)}
}

// IsClientError reports whether err is caller-input related.
func IsClientError(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce)
}

// Status is the lifecycle status of an event. VISITED and OVERDUE are
// derived query statuses and are never stored.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusSchedule  Status = "SCHEDULE"
	StatusSkipped   Status = "SKIPPED"
	StatusVisited   Status = "VISITED"
	StatusOverdue   Status = "OVERDUE"
)

// Valid reports whether s is a status an event can carry or be queried by.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusSchedule, StatusSkipped,
		StatusVisited, StatusOverdue:
		return true
	}
	return false
}

// DataValue is a single typed value recorded for a data element. The data
// element UID is the key of the owning map and not repeated here.
type DataValue struct {
	Value               string     `json:"value"`
	Created             *time.Time `json:"created,omitempty"`
	LastUpdated         *time.Time `json:"lastUpdated,omitempty"`
	StoredBy            string     `json:"storedBy,omitempty"`
	ProvidedElsewhere   bool       `json:"providedElsewhere,omitempty"`
	SkipSynchronization bool       `json:"skipSynchronization,omitempty"`
}

// Note is a free-text annotation on an event. Notes are append-only.
type Note struct {
	UID       string     `json:"note,omitempty"`
	Text      string     `json:"value"`
	StoredBy  string     `json:"storedBy,omitempty"`
	Created   *time.Time `json:"storedDate,omitempty"`
	SortOrder int        `json:"-"`
}

// Event is a point-in-time observation recorded for a program stage,
// scoped to an enrollment, organisation unit and attribute option combo.
type Event struct {
	ID  int64  `json:"-"`
	UID string `json:"event,omitempty"`

	Status                   Status `json:"status,omitempty"`
	Program                  string `json:"program,omitempty"`
	ProgramStage             string `json:"programStage,omitempty"`
	Enrollment               string `json:"enrollment,omitempty"`
	TrackedEntity            string `json:"trackedEntityInstance,omitempty"`
	OrgUnit                  string `json:"orgUnit,omitempty"`
	OrgUnitName              string `json:"orgUnitName,omitempty"`
	AttributeOptionCombo     string `json:"attributeOptionCombo,omitempty"`
	AttributeCategoryOptions string `json:"attributeCategoryOptions,omitempty"`

	EventDate     *time.Time `json:"eventDate,omitempty"`
	DueDate       *time.Time `json:"dueDate,omitempty"`
	CompletedDate *time.Time `json:"completedDate,omitempty"`
	CompletedBy   string     `json:"completedBy,omitempty"`

	StoredBy            string     `json:"storedBy,omitempty"`
	Created             *time.Time `json:"created,omitempty"`
	CreatedAtClient     *time.Time `json:"createdAtClient,omitempty"`
	LastUpdated         *time.Time `json:"lastUpdated,omitempty"`
	LastUpdatedAtClient *time.Time `json:"lastUpdatedAtClient,omitempty"`

	Geometry     json.RawMessage `json:"geometry,omitempty"`
	AssignedUser string          `json:"assignedUser,omitempty"`

	DataValues map[string]DataValue `json:"dataValues,omitempty"`
	Notes      []Note               `json:"notes,omitempty"`

	Deleted bool `json:"deleted"`

	// FollowUp mirrors the owning enrollment's follow-up flag on read.
	FollowUp bool `json:"followup,omitempty"`
}

// MergeNote appends a note fragment from a joined row, deduplicating by
// note UID.
func (e *Event) MergeNote(n Note) {
	if n.UID == "" && n.Text == "" {
		return
	}
	for _, existing := range e.Notes {
		if existing.UID != "" && existing.UID == n.UID {
			return
		}
	}
	e.Notes = append(e.Notes, n)
}

// MarshalDataValues serializes the data value map to its persisted JSONB
// form, keyed by data element UID.
func MarshalDataValues(values map[string]DataValue) ([]byte, error) {
	if values == nil {
		values = map[string]DataValue{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("serialize data values: %w", err)
	}
	return b, nil
}

// UnmarshalDataValues parses the persisted JSONB form back into a map.
func UnmarshalDataValues(raw []byte) (map[string]DataValue, error) {
	if len(raw) == 0 {
		return map[string]DataValue{}, nil
	}
	var out map[string]DataValue
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse data values: %w", err)
	}
	return out, nil
}
