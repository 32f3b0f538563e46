package mission

import "github.com/pkg/errors"

var (
	ErrEmptyStructures     = errors.New("no inspection points")
	ErrEmptyPhotoOffsets   = errors.New("no photo offsets")
	ErrTooManyStructures   = errors.New("too many inspection points")
	ErrTooManyPhotoOffsets = errors.New("too many photo offsets")
	ErrInvalidCoordinate   = errors.New("invalid coordinate")
	ErrInvalidHeight       = errors.New("invalid structure height")
	ErrInvalidGimbalPitch  = errors.New("invalid gimbal pitch")
	ErrNoHome              = errors.New("no home position")
)

// IsPlanningError reports whether err was caused by one of the planning
// sentinels above.
func IsPlanningError(err error) bool {
	switch errors.Cause(err) {
	case ErrEmptyStructures, ErrEmptyPhotoOffsets, ErrTooManyStructures, ErrTooManyPhotoOffsets,
		ErrInvalidCoordinate, ErrInvalidHeight, ErrInvalidGimbalPitch, ErrNoHome:
		return true
	}
	return false
}
