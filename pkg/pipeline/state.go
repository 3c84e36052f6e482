package pipeline

import (
	"errors"
	"fmt"
	"image"

	"github.com/menta2k/region-classifier/pkg/geometry"
	"github.com/menta2k/region-classifier/pkg/types"
)

var (
	// ErrNoSelection is returned by RequestAnalyze without a completed crop
	ErrNoSelection = errors.New("pipeline: no completed selection")
	// ErrCaptureFailed wraps failures of the capture source
	ErrCaptureFailed = errors.New("pipeline: capture failed")
	// ErrClassificationFailed wraps export, encode and classifier failures
	ErrClassificationFailed = errors.New("pipeline: classification failed")
	// ErrBusy is returned when a capture or analysis is already in flight
	ErrBusy = errors.New("pipeline: operation already in progress")
	// ErrStaleResult is returned when the image changed while classifying
	ErrStaleResult = errors.New("pipeline: result belongs to a replaced image")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("pipeline: controller closed")
	// ErrInvalidTransform rejects non-positive scales and out-of-range rotations
	ErrInvalidTransform = errors.New("pipeline: invalid transform")
	// ErrTransformDisabled is returned when transforms are switched off
	ErrTransformDisabled = errors.New("pipeline: transforms are disabled")
)

// State is the controller's position in the capture/select/analyze cycle
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateSelecting
	StatePreviewing
	StateAnalyzing
	StateResulted
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateSelecting:
		return "selecting"
	case StatePreviewing:
		return "previewing"
	case StateAnalyzing:
		return "analyzing"
	case StateResulted:
		return "resulted"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Snapshot is a read-only copy of the controller state for presentation.
// Source and Preview are shared and must not be modified.
type Snapshot struct {
	State     State
	Source    *types.SourceImage
	Display   geometry.Display
	Crop      types.Crop // completed selection, percent units
	Draft     types.Crop // in-progress drag, as supplied
	Transform types.Transform
	Aspect    types.Aspect
	Preview   *image.NRGBA
	Result    *types.Classification
	Err       error
}

// HasSelection reports whether a completed, non-empty crop exists
func (s Snapshot) HasSelection() bool {
	return s.Source != nil && !s.Crop.Empty()
}

// PixelCrop returns the completed crop in display pixels
func (s Snapshot) PixelCrop() (types.Crop, error) {
	return geometry.ToPixelCrop(s.Crop, s.Display.Width, s.Display.Height)
}

// SourceRect returns the completed crop in source pixels
func (s Snapshot) SourceRect() (types.Rect, error) {
	return geometry.SourceRect(s.Crop, s.Display)
}
