package dataset

import (
	"errors"

	"titanic/passenger"
)

var (
	// ErrSourceUnavailable is returned when the dataset cannot be fetched or opened.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrInsufficientData is returned when cleaning leaves nothing to fit on.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrDataError aliases passenger.ErrDataError so callers of this package
	// can match every load failure against one import.
	ErrDataError = passenger.ErrDataError
)
