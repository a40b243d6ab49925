package ingress

import "errors"

var (
	// ErrDecode is returned when a payload is not a valid reading document.
	ErrDecode = errors.New("ingress: malformed reading")

	// ErrTopicMismatch is returned when the rack in the topic differs from
	// the rack in the payload.
	ErrTopicMismatch = errors.New("ingress: topic and payload rack differ")

	// ErrDuplicate is returned for a reading already seen within the
	// de-duplication window.
	ErrDuplicate = errors.New("ingress: duplicate reading")

	// ErrOutOfOrder is returned for a reading observed before the latest
	// reading already accepted for the same rack.
	ErrOutOfOrder = errors.New("ingress: reading out of order")

	// ErrRackInactive is returned for readings of a deactivated rack.
	ErrRackInactive = errors.New("ingress: rack inactive")
)
