package meta

import "context"

// Repository is the bulk-lookup port the caches are populated from.
// Every method takes a set of identifiers and returns the objects that
// exist; absence is not an error at this layer.
type Repository interface {
	OrgUnitsByUID(ctx context.Context, uids []string) ([]*OrganisationUnit, error)

	// ProgramsByUID loads programs together with their stages and the
	// stages' data elements (cascading load, one round-trip per level).
	ProgramsByUID(ctx context.Context, uids []string) ([]*Program, error)

	// DataElementsByUID loads data elements standalone, outside any
	// program stage context. Search query items resolve through this.
	DataElementsByUID(ctx context.Context, uids []string) ([]*DataElement, error)

	EnrollmentsByUID(ctx context.Context, uids []string) ([]*Enrollment, error)
	UsersByUID(ctx context.Context, uids []string) ([]*User, error)
	UserByUsername(ctx context.Context, username string) (*User, error)
	TrackedEntitiesByUID(ctx context.Context, uids []string) ([]*TrackedEntity, error)

	CategoryOptionsByUID(ctx context.Context, uids []string) ([]*CategoryOption, error)
	CategoryOptionCombosByUID(ctx context.Context, uids []string) ([]*CategoryOptionCombo, error)

	// CategoryOptionComboByOptions finds the combo within the given
	// category combo whose option set equals exactly the given options.
	CategoryOptionComboByOptions(ctx context.Context, categoryComboUID string, optionUIDs []string) (*CategoryOptionCombo, error)

	// DefaultCategoryOptionCombo returns the system default combo.
	DefaultCategoryOptionCombo(ctx context.Context) (*CategoryOptionCombo, error)

	// ExistingEventUIDs reports which of the given event UIDs are already
	// persisted, soft-deleted rows included.
	ExistingEventUIDs(ctx context.Context, uids []string) (map[string]bool, error)
}
