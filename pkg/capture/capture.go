// Package capture produces the source rasters the pipeline works on.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/kbinani/screenshot"

	"github.com/menta2k/region-classifier/pkg/processing"
)

// ErrNoDisplay is returned when the requested display does not exist
var ErrNoDisplay = errors.New("capture: display not available")

// Source yields one image per call
type Source interface {
	Capture(ctx context.Context) (image.Image, error)
}

// SourceFunc adapts a function to Source
type SourceFunc func(ctx context.Context) (image.Image, error)

// Capture calls f
func (f SourceFunc) Capture(ctx context.Context) (image.Image, error) {
	return f(ctx)
}

// ScreenSource grabs a whole display, or a sub-rectangle of it
type ScreenSource struct {
	Display int
	Bounds  image.Rectangle // empty means the full display
}

// NewScreenSource captures display n (0 is the primary display)
func NewScreenSource(display int) *ScreenSource {
	return &ScreenSource{Display: display}
}

// Capture takes a screenshot
func (s *ScreenSource) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := screenshot.NumActiveDisplays()
	if s.Display < 0 || s.Display >= n {
		return nil, fmt.Errorf("%w: index %d of %d", ErrNoDisplay, s.Display, n)
	}

	rect := screenshot.GetDisplayBounds(s.Display)
	if !s.Bounds.Empty() {
		rect = s.Bounds.Add(rect.Min).Intersect(rect)
		if rect.Empty() {
			return nil, fmt.Errorf("capture: bounds %v outside display %d", s.Bounds, s.Display)
		}
	}

	img, err := screenshot.CaptureRect(rect)
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return img, nil
}

// Displays lists the bounds of every active display
func Displays() []image.Rectangle {
	n := screenshot.NumActiveDisplays()
	out := make([]image.Rectangle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, screenshot.GetDisplayBounds(i))
	}
	return out
}

// FileSource loads an image from a path or http(s) URL on every capture
type FileSource struct {
	Location  string
	processor *processing.Processor
}

// NewFileSource creates a source backed by a file path or URL
func NewFileSource(location string) *FileSource {
	return &FileSource{Location: location, processor: processing.NewProcessor()}
}

// Capture loads the image
func (f *FileSource) Capture(ctx context.Context) (image.Image, error) {
	if f.Location == "" {
		return nil, errors.New("capture: no file or URL configured")
	}
	img, err := f.processor.LoadImageSmart(ctx, f.Location)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", f.Location, err)
	}
	return img, nil
}

// Static always returns the same image; useful for tests and one-shot runs
func Static(img image.Image) Source {
	return SourceFunc(func(ctx context.Context) (image.Image, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return img, nil
	})
}
