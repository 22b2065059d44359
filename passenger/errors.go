package passenger

import "errors"

var (
	// ErrDataError marks a value that cannot be mapped onto the passenger schema:
	// an unmapped category, an unparseable cell or a missing column.
	ErrDataError = errors.New("data error")
	// ErrInvalidQuery marks a prediction query outside the declared input bounds.
	ErrInvalidQuery = errors.New("invalid query")
)
