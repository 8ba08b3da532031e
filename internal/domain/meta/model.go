// Package meta holds the reference data the event engine resolves against:
// organisation units, programs and their stages, data elements, category
// option combos, users, tracked entities and enrollments. Lookups go
// through request-scoped caches backed by bulk repository reads.
package meta

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a referenced object does not exist.
var ErrNotFound = errors.New("not found")

// ErrConfig marks configuration-level inconsistencies (missing default
// category option combo, broken identifier mappings). These abort the
// whole operation rather than a single item.
var ErrConfig = errors.New("configuration error")

type ProgramType string

const (
	WithRegistration    ProgramType = "WITH_REGISTRATION"
	WithoutRegistration ProgramType = "WITHOUT_REGISTRATION"
)

// ValueType is a data element's declared value type. It decides whether
// filter comparisons are textual (case-insensitive) or numeric.
type ValueType string

const (
	ValueTypeText                  ValueType = "TEXT"
	ValueTypeLongText              ValueType = "LONG_TEXT"
	ValueTypeNumber                ValueType = "NUMBER"
	ValueTypeInteger               ValueType = "INTEGER"
	ValueTypeIntegerPositive       ValueType = "INTEGER_POSITIVE"
	ValueTypeIntegerNegative       ValueType = "INTEGER_NEGATIVE"
	ValueTypeIntegerZeroOrPositive ValueType = "INTEGER_ZERO_OR_POSITIVE"
	ValueTypePercentage            ValueType = "PERCENTAGE"
	ValueTypeUnitInterval          ValueType = "UNIT_INTERVAL"
	ValueTypeBoolean               ValueType = "BOOLEAN"
	ValueTypeDate                  ValueType = "DATE"
	ValueTypeDateTime              ValueType = "DATETIME"
)

// IsNumeric reports whether values of this type compare numerically.
func (v ValueType) IsNumeric() bool {
	switch v {
	case ValueTypeNumber, ValueTypeInteger, ValueTypeIntegerPositive,
		ValueTypeIntegerNegative, ValueTypeIntegerZeroOrPositive,
		ValueTypePercentage, ValueTypeUnitInterval:
		return true
	}
	return false
}

type OrganisationUnit struct {
	ID    int64
	UID   string
	Code  string
	Name  string
	Path  string
	Level int
}

type OptionSet struct {
	ID  int64
	UID string
}

type DataElement struct {
	ID        int64
	UID       string
	Code      string
	ValueType ValueType
	OptionSet *OptionSet
}

type ProgramStage struct {
	ID           int64
	UID          string
	Code         string
	Name         string
	ProgramUID   string
	Repeatable   bool
	DataElements map[string]*DataElement
}

type Program struct {
	ID               int64
	UID              string
	Code             string
	Name             string
	Type             ProgramType
	CategoryComboUID string

	// Expiry configuration. CompleteEventsExpiryDays locks completed
	// events N days after their completion date; ExpiryPeriodType plus
	// ExpiryDays locks events once the period containing their reference
	// date has been closed for ExpiryDays days.
	CompleteEventsExpiryDays int
	ExpiryDays               int
	ExpiryPeriodType         PeriodType

	Stages map[string]*ProgramStage
}

// Registration reports whether the program tracks entities through
// enrollments (as opposed to single-event programs).
func (p *Program) Registration() bool {
	return p.Type == WithRegistration
}

type CategoryOption struct {
	ID        int64
	UID       string
	Code      string
	StartDate *time.Time
	EndDate   *time.Time
}

type CategoryOptionCombo struct {
	ID               int64
	UID              string
	Code             string
	Default          bool
	CategoryComboUID string
	OptionUIDs       []string
}

type User struct {
	ID       int64
	UID      string
	Username string
}

type TrackedEntity struct {
	ID  int64
	UID string
}

type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "ACTIVE"
	EnrollmentCompleted EnrollmentStatus = "COMPLETED"
	EnrollmentCancelled EnrollmentStatus = "CANCELLED"
)

type Enrollment struct {
	ID               int64
	UID              string
	ProgramUID       string
	TrackedEntityUID string
	OrgUnitUID       string
	Status           EnrollmentStatus
	FollowUp         bool
	EnrollmentDate   *time.Time
	CompletedDate    *time.Time
}
