package event

import (
	"strconv"
	"strings"
	"time"

	"github.com/vitaltrack/vitaltrack/internal/domain/meta"
	"github.com/vitaltrack/vitaltrack/pkg/pagination"
)

// OrgUnitMode controls how the org-unit scope expands over the hierarchy.
type OrgUnitMode string

const (
	OrgUnitSelected    OrgUnitMode = "SELECTED"
	OrgUnitChildren    OrgUnitMode = "CHILDREN"
	OrgUnitDescendants OrgUnitMode = "DESCENDANTS"
	OrgUnitAccessible  OrgUnitMode = "ACCESSIBLE"
)

// AssignedUserMode controls filtering on the event's assigned user.
type AssignedUserMode string

const (
	AssignedUserCurrent  AssignedUserMode = "CURRENT"
	AssignedUserProvided AssignedUserMode = "PROVIDED"
	AssignedUserNone     AssignedUserMode = "NONE"
	AssignedUserAny      AssignedUserMode = "ANY"
)

// IDScheme selects which identifier form is emitted for one dimension.
type IDScheme struct {
	Kind      IDSchemeKind
	Attribute string // attribute UID when Kind == IDSchemeAttribute
}

type IDSchemeKind string

const (
	IDSchemeUID       IDSchemeKind = "UID"
	IDSchemeCode      IDSchemeKind = "CODE"
	IDSchemeAttribute IDSchemeKind = "ATTRIBUTE"
)

// ParseIDScheme parses "UID", "CODE" or "ATTRIBUTE:<uid>" (case-insensitive).
// Empty input yields the UID scheme.
func ParseIDScheme(s string) (IDScheme, error) {
	if s == "" {
		return IDScheme{Kind: IDSchemeUID}, nil
	}
	upper := strings.ToUpper(s)
	switch {
	case upper == "UID":
		return IDScheme{Kind: IDSchemeUID}, nil
	case upper == "CODE":
		return IDScheme{Kind: IDSchemeCode}, nil
	case strings.HasPrefix(upper, "ATTRIBUTE:"):
		attr := s[len("ATTRIBUTE:"):]
		if attr == "" {
			return IDScheme{}, clientErrorf("identifier scheme %q is missing the attribute", s)
		}
		return IDScheme{Kind: IDSchemeAttribute, Attribute: attr}, nil
	}
	return IDScheme{}, clientErrorf("unknown identifier scheme %q", s)
}

// IsUID reports whether the scheme is the native UID scheme.
func (s IDScheme) IsUID() bool {
	return s.Kind == "" || s.Kind == IDSchemeUID
}

// IDSchemes holds the per-dimension identifier scheme selection.
type IDSchemes struct {
	Program              IDScheme
	ProgramStage         IDScheme
	OrgUnit              IDScheme
	AttributeOptionCombo IDScheme
	DataElement          IDScheme
}

// OrderParam is a single field+direction ordering term. Fields are
// resolved against the sortable-column whitelist at query-build time.
type OrderParam struct {
	Field     string
	Direction string // "asc" or "desc"
}

// QueryOperator is a filter comparison operator.
type QueryOperator string

const (
	OpEQ   QueryOperator = "EQ"
	OpNE   QueryOperator = "NE"
	OpGT   QueryOperator = "GT"
	OpGE   QueryOperator = "GE"
	OpLT   QueryOperator = "LT"
	OpLE   QueryOperator = "LE"
	OpLike QueryOperator = "LIKE"
	OpIn   QueryOperator = "IN"
)

var operatorSQL = map[QueryOperator]string{
	OpEQ:   "=",
	OpNE:   "!=",
	OpGT:   ">",
	OpGE:   ">=",
	OpLT:   "<",
	OpLE:   "<=",
	OpLike: "like",
	OpIn:   "in",
}

// ParseOperator parses a filter operator, case-insensitively.
func ParseOperator(s string) (QueryOperator, error) {
	op := QueryOperator(strings.ToUpper(s))
	if _, ok := operatorSQL[op]; !ok {
		return "", clientErrorf("unknown filter operator %q", s)
	}
	return op, nil
}

// SQL returns the operator's SQL form.
func (op QueryOperator) SQL() string { return operatorSQL[op] }

// QueryFilter is one operator+value predicate on a query item.
type QueryFilter struct {
	Operator QueryOperator
	Value    string
}

// InValues splits an IN filter's value on ';'.
func (f QueryFilter) InValues() []string {
	return strings.Split(f.Value, ";")
}

// QueryItem is a single filterable/projectable data element with zero or
// more predicates.
type QueryItem struct {
	DataElement  string
	ValueType    meta.ValueType
	OptionSetUID string
	OptionSetID  int64
	Filters      []QueryFilter
}

// Numeric reports whether the item's values compare numerically.
func (q QueryItem) Numeric() bool { return q.ValueType.IsNumeric() }

// ParseFilterParam parses the wire form of a query item:
// "<dataElement>[:<operator>:<value>[:<operator>:<value>...]]".
// An operator without a value is malformed input.
func ParseFilterParam(s string) (QueryItem, error) {
	parts := strings.Split(s, ":")
	if parts[0] == "" {
		return QueryItem{}, clientErrorf("query item or filter is invalid: %q", s)
	}
	item := QueryItem{DataElement: parts[0]}
	rest := parts[1:]
	if len(rest)%2 != 0 {
		return QueryItem{}, clientErrorf("query item or filter is invalid: %q", s)
	}
	for i := 0; i < len(rest); i += 2 {
		op, err := ParseOperator(rest[i])
		if err != nil {
			return QueryItem{}, err
		}
		item.Filters = append(item.Filters, QueryFilter{Operator: op, Value: rest[i+1]})
	}
	return item, nil
}

// SearchParams describes one event search. It is built by the caller,
// validated once, and treated as immutable afterwards.
type SearchParams struct {
	EventUID      string
	Program       string
	ProgramStage  string
	OrgUnit       string
	OrgUnitMode   OrgUnitMode
	TrackedEntity string
	Enrollment    string
	Status        Status

	// Resolved org-unit scope, filled by the service before the query is
	// built. Path/level drive the CHILDREN and DESCENDANTS modes.
	OrgUnitPath  string
	OrgUnitLevel int

	EnrollmentStatus     meta.EnrollmentStatus
	FollowUp             *bool
	AttributeOptionCombo string
	CategoryCombo        string
	CategoryOptions      []string

	StartDate        *time.Time
	EndDate          *time.Time
	DueDateStart     *time.Time
	DueDateEnd       *time.Time
	LastUpdatedStart *time.Time
	LastUpdatedEnd   *time.Time

	// LastUpdatedDuration is a "now minus duration" shorthand; mutually
	// exclusive with the explicit last-updated range.
	LastUpdatedDuration time.Duration

	// Synchronization queries only: events changed since the given
	// instant, with skip-sync data values stripped from the output.
	SyncOnly          bool
	SkipChangedBefore *time.Time

	AssignedUserMode AssignedUserMode
	AssignedUsers    []string

	Paging pagination.Params
	Order  []OrderParam
	Items  []QueryItem

	// Output shaping.
	IncludeAllDataElements bool
	IncludeAttributes      bool
	IncludeDeleted         bool
	// SkipEventID drops the event UID column from grid output.
	SkipEventID bool
	IDSchemes   IDSchemes

	// Security scope, filled from the resolved user. Empty sets with
	// Superuser=false mean "no access".
	Superuser                 bool
	CurrentUserUID            string
	AccessiblePrograms        []string
	AccessibleStages          []string
	AccessibleCategoryOptions []string
	OrgUnitPaths              []string
}

// ParseDuration parses the compact duration form used by the
// lastUpdatedDuration parameter: "<n>d", "<n>h", "<n>m" or "<n>s".
func ParseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, clientErrorf("duration %q is not valid", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, clientErrorf("duration %q is not valid", s)
	}
	switch s[len(s)-1] {
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 's':
		return time.Duration(n) * time.Second, nil
	}
	return 0, clientErrorf("duration %q is not valid", s)
}

// Validate rejects inconsistent search specifications before any query
// is built.
func (p *SearchParams) Validate() error {
	switch p.OrgUnitMode {
	case "", OrgUnitAccessible:
		// org unit optional
	case OrgUnitSelected, OrgUnitChildren, OrgUnitDescendants:
		if p.OrgUnit == "" {
			return clientErrorf("at least one organisation unit must be specified when ouMode is %s", p.OrgUnitMode)
		}
	default:
		return clientErrorf("unknown organisation unit selection mode %q", p.OrgUnitMode)
	}

	if p.Status != "" && !p.Status.Valid() {
		return clientErrorf("unknown event status %q", p.Status)
	}

	if p.LastUpdatedDuration > 0 && (p.LastUpdatedStart != nil || p.LastUpdatedEnd != nil) {
		return clientErrorf("last updated duration and last updated start/end dates are mutually exclusive")
	}

	switch p.AssignedUserMode {
	case "", AssignedUserCurrent, AssignedUserNone, AssignedUserAny:
		if len(p.AssignedUsers) > 0 && p.AssignedUserMode != AssignedUserProvided {
			return clientErrorf("assigned users can only be specified with assignedUserMode PROVIDED")
		}
	case AssignedUserProvided:
		if len(p.AssignedUsers) == 0 {
			return clientErrorf("at least one assigned user must be specified with assignedUserMode PROVIDED")
		}
	default:
		return clientErrorf("unknown assigned user selection mode %q", p.AssignedUserMode)
	}

	for _, item := range p.Items {
		if item.DataElement == "" {
			return clientErrorf("query item is missing its data element")
		}
	}
	return nil
}
