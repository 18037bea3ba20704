package extraction

import "errors"

var (
	// ErrOracle wraps failures from the extraction oracle, including
	// unsupported files and unknown vendors
	ErrOracle = errors.New("oracle error")
	// ErrStorage wraps persistence failures that survived a retry
	ErrStorage = errors.New("storage error")
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidReview is returned when a manual review request is not acceptable
	ErrInvalidReview = errors.New("invalid review")
)

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
