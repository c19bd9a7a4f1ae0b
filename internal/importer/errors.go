package importer

import (
	"errors"
	"fmt"
)

// ErrNoCatalogID is the named precondition failure for a catalog sync
// attempted on an artist with no catalog identifier (enrichment failed
// in phase 1, or the artist has no catalog presence).
var ErrNoCatalogID = errors.New("artist has no catalog identifier")

// PhaseError tags a failure with the phase that produced it, so callers
// and status records can tell "show sync failed" from other causes.
type PhaseError struct {
	Phase int
	Task  string
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("phase %d %s failed: %v", e.Phase, e.Task, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}
