package referenceframe

import (
	"github.com/pkg/errors"
)

var (
	// ErrUnknownFrame is returned when a frame name has not been added to the buffer.
	ErrUnknownFrame = errors.New("unknown frame")
	// ErrNoTransform is returned when a transform between two frames cannot be computed at the
	// requested time, either because the frames are not connected or because no pose is known
	// close enough to that time.
	ErrNoTransform = errors.New("no transform available")
)

// NewUnknownFrameError returns an error naming the missing frame.
func NewUnknownFrameError(name string) error {
	return errors.Wrapf(ErrUnknownFrame, "%q", name)
}

// NewParentFrameMissingError returns an error indicating that a frame is missing a parent.
func NewParentFrameMissingError(name string) error {
	return errors.Errorf("frame %q needs a parent frame", name)
}
