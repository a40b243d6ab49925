package rack

import "errors"

var (
	// ErrRackNotFound is returned when a rack ID does not exist.
	ErrRackNotFound = errors.New("rack not found")

	// ErrRackExists is returned when creating a rack whose ID is taken.
	ErrRackExists = errors.New("rack already exists")

	// ErrInvalidRack is returned when rack fields fail validation.
	ErrInvalidRack = errors.New("invalid rack")
)
