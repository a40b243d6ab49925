package rack

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	maxIDLength       = 64
	maxNameLength     = 100
	maxLocationLength = 200
)

// Rack IDs appear as an MQTT topic level, so wildcards and separators are
// excluded.
var idRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ValidateID checks that id can be used as a rack identifier.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalidRack)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: id exceeds %d characters", ErrInvalidRack, maxIDLength)
	}
	if !idRegex.MatchString(id) {
		return fmt.Errorf("%w: id must be alphanumeric with '-' or '_'", ErrInvalidRack)
	}
	return nil
}

// Validate checks every field of a rack.
func Validate(r *Rack) error {
	if r == nil {
		return fmt.Errorf("%w: rack is nil", ErrInvalidRack)
	}
	if err := ValidateID(r.ID); err != nil {
		return err
	}
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidRack)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidRack, maxNameLength)
	}
	if r.Location != nil && len(*r.Location) > maxLocationLength {
		return fmt.Errorf("%w: location exceeds %d characters", ErrInvalidRack, maxLocationLength)
	}
	return nil
}
