package event

import "fmt"

// ImportStatus is the outcome class of an import item or batch.
type ImportStatus string

const (
	ImportSuccess ImportStatus = "SUCCESS"
	ImportWarning ImportStatus = "WARNING"
	ImportError   ImportStatus = "ERROR"
)

// Conflict names one object that failed validation and why.
type Conflict struct {
	Object string `json:"object"`
	Value  string `json:"value"`
}

// Counts are the per-item import counters. Aggregate counters are the
// arithmetic sum of their members.
type Counts struct {
	Imported int `json:"imported"`
	Updated  int `json:"updated"`
	Deleted  int `json:"deleted"`
	Ignored  int `json:"ignored"`
}

func (c *Counts) add(other Counts) {
	c.Imported += other.Imported
	c.Updated += other.Updated
	c.Deleted += other.Deleted
	c.Ignored += other.Ignored
}

// ImportSummary is the outcome of importing one event. Reference is the
// event UID and is always set, so multi-status responses can be
// correlated with the submitted batch.
type ImportSummary struct {
	Status      ImportStatus `json:"status"`
	Reference   string       `json:"reference,omitempty"`
	Description string       `json:"description,omitempty"`
	Conflicts   []Conflict   `json:"conflicts,omitempty"`
	Counts      Counts       `json:"importCount"`
}

func successSummary(reference string) *ImportSummary {
	return &ImportSummary{Status: ImportSuccess, Reference: reference}
}

func errorSummary(reference, format string, args ...interface{}) *ImportSummary {
	return &ImportSummary{
		Status:      ImportError,
		Reference:   reference,
		Description: fmt.Sprintf(format, args...),
		Counts:      Counts{Ignored: 1},
	}
}

// AddConflict records a named conflict on the summary.
func (s *ImportSummary) AddConflict(object, value string) {
	s.Conflicts = append(s.Conflicts, Conflict{Object: object, Value: value})
}

// ImportSummaries is the ordered collection of per-item outcomes, one per
// submitted event, in input order.
type ImportSummaries struct {
	Status    ImportStatus     `json:"status"`
	Counts    Counts           `json:"importCount"`
	Summaries []*ImportSummary `json:"importSummaries"`
}

func NewImportSummaries() *ImportSummaries {
	return &ImportSummaries{Status: ImportSuccess}
}

// Add appends a summary and folds its counters and status into the
// aggregate. ERROR dominates WARNING dominates SUCCESS.
func (is *ImportSummaries) Add(s *ImportSummary) *ImportSummary {
	is.Summaries = append(is.Summaries, s)
	is.Counts.add(s.Counts)
	switch {
	case s.Status == ImportError:
		is.Status = ImportError
	case s.Status == ImportWarning && is.Status != ImportError:
		is.Status = ImportWarning
	}
	return s
}
