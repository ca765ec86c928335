package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/inkletter/inkletter/pkg/graph"
)

var (
	// ErrWorkflowNotFound mirrors the persistence sentinel at the service
	// boundary.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrInvalidStatus is returned for unknown status transitions.
	ErrInvalidStatus = errors.New("invalid workflow status")

	// ErrWorkflowDeleted rejects operations on soft-deleted workflows.
	ErrWorkflowDeleted = errors.New("workflow has been deleted")
)

// ValidationFailedError aggregates the structural problems that blocked an
// activation or an edit of an active workflow.
type ValidationFailedError struct {
	Problems []graph.ValidationError
}

func (e *ValidationFailedError) Error() string {
	messages := make([]string, len(e.Problems))
	for i, problem := range e.Problems {
		messages[i] = problem.Error()
	}

	return fmt.Sprintf("workflow validation failed: %s", strings.Join(messages, "; "))
}

// IsValidationError reports whether err carries graph validation problems and
// returns them if so.
func IsValidationError(err error) (*ValidationFailedError, bool) {
	var validationErr *ValidationFailedError
	if errors.As(err, &validationErr) {
		return validationErr, true
	}

	return nil, false
}
