package collector

import (
	"errors"
	"fmt"
)

// Call types carried by ExternalCallError.
const (
	CallSearch  = "search"
	CallDetails = "details"
)

// ExternalCallError is a failed search or detail call. The engine does not
// retry it; the run ends as FAILED with the unit and call recorded here.
type ExternalCallError struct {
	Call string
	Unit SearchUnit
	Err  error
}

func (e *ExternalCallError) Error() string {
	return fmt.Sprintf("%s call failed for unit %s: %v", e.Call, e.Unit.Key(), e.Err)
}

func (e *ExternalCallError) Unwrap() error {
	return e.Err
}

// IsExternalCallFailure returns true if err wraps an ExternalCallError.
func IsExternalCallFailure(err error) bool {
	var callErr *ExternalCallError
	return errors.As(err, &callErr)
}
