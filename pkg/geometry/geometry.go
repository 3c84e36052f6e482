// Package geometry converts crop selections between percent, display-pixel
// and source-pixel coordinate spaces.
//
// A crop drawn by the user lives in display space: the image as it is laid
// out on screen, possibly smaller than the captured raster. Rendering needs
// the same rectangle in source space, the natural resolution of the capture.
// The chain is always
//
//	percent crop --ToPixelCrop--> display-pixel crop --ToSourceSpace--> source rect
//
// and every conversion refuses to run before the display size is known.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/menta2k/region-classifier/pkg/types"
)

var (
	// ErrNotReady is returned when the display or media size is not laid out yet
	ErrNotReady = errors.New("geometry: display size not known")
	// ErrInvalidAspect is returned for non-positive aspect ratios
	ErrInvalidAspect = errors.New("geometry: aspect ratio must be positive")
	// ErrUnitMismatch is returned when a crop is in the wrong or an unknown unit
	ErrUnitMismatch = errors.New("geometry: unexpected crop unit")
)

// aspectFill is the share of the limiting dimension an aspect crop covers
const aspectFill = 0.9

// Display describes the natural size of the source and the size it is shown at
type Display struct {
	NaturalWidth  float64 `json:"natural_width"`
	NaturalHeight float64 `json:"natural_height"`
	Width         float64 `json:"width"`
	Height        float64 `json:"height"`
}

// Ready reports whether all four dimensions are positive
func (d Display) Ready() bool {
	return d.NaturalWidth > 0 && d.NaturalHeight > 0 && d.Width > 0 && d.Height > 0
}

// Scale returns the natural/display ratio on each axis
func (d Display) Scale() (float64, float64, error) {
	if !d.Ready() {
		return 0, 0, ErrNotReady
	}
	return d.NaturalWidth / d.Width, d.NaturalHeight / d.Height, nil
}

// CenterAspectCrop returns a percent crop centred in the media whose
// width/height equals ratio in percent units. The crop covers 90% of the
// limiting dimension.
func CenterAspectCrop(mediaWidth, mediaHeight, ratio float64) (types.Crop, error) {
	if mediaWidth <= 0 || mediaHeight <= 0 {
		return types.Crop{}, ErrNotReady
	}
	if ratio <= 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return types.Crop{}, ErrInvalidAspect
	}

	w := aspectFill * 100
	h := w / ratio
	if h > aspectFill*100 {
		h = aspectFill * 100
		w = h * ratio
	}

	return types.Crop{
		Unit:   types.UnitPercent,
		X:      (100 - w) / 2,
		Y:      (100 - h) / 2,
		Width:  w,
		Height: h,
	}, nil
}

// ToPixelCrop converts a crop to display pixels. Pixel crops are returned unchanged.
func ToPixelCrop(c types.Crop, displayWidth, displayHeight float64) (types.Crop, error) {
	if displayWidth <= 0 || displayHeight <= 0 {
		return types.Crop{}, ErrNotReady
	}
	switch c.Unit {
	case types.UnitPixel:
		return c, nil
	case types.UnitPercent:
		return types.Crop{
			Unit:   types.UnitPixel,
			X:      c.X / 100 * displayWidth,
			Y:      c.Y / 100 * displayHeight,
			Width:  c.Width / 100 * displayWidth,
			Height: c.Height / 100 * displayHeight,
		}, nil
	default:
		return types.Crop{}, fmt.Errorf("%w: %q", ErrUnitMismatch, c.Unit)
	}
}

// ToPercentCrop converts a crop to percent of the display. Percent crops are returned unchanged.
func ToPercentCrop(c types.Crop, displayWidth, displayHeight float64) (types.Crop, error) {
	if displayWidth <= 0 || displayHeight <= 0 {
		return types.Crop{}, ErrNotReady
	}
	switch c.Unit {
	case types.UnitPercent:
		return c, nil
	case types.UnitPixel:
		return types.Crop{
			Unit:   types.UnitPercent,
			X:      c.X / displayWidth * 100,
			Y:      c.Y / displayHeight * 100,
			Width:  c.Width / displayWidth * 100,
			Height: c.Height / displayHeight * 100,
		}, nil
	default:
		return types.Crop{}, fmt.Errorf("%w: %q", ErrUnitMismatch, c.Unit)
	}
}

// ToSourceSpace scales a display-pixel crop into source pixels
func ToSourceSpace(pixelCrop types.Crop, scaleX, scaleY float64) (types.Rect, error) {
	if pixelCrop.Unit != types.UnitPixel {
		return types.Rect{}, fmt.Errorf("%w: want %q, got %q", ErrUnitMismatch, types.UnitPixel, pixelCrop.Unit)
	}
	if scaleX <= 0 || scaleY <= 0 {
		return types.Rect{}, ErrNotReady
	}
	return types.Rect{
		X:      pixelCrop.X * scaleX,
		Y:      pixelCrop.Y * scaleY,
		Width:  pixelCrop.Width * scaleX,
		Height: pixelCrop.Height * scaleY,
	}, nil
}

// SourceRect runs the full percent/pixel -> source chain for a display
func SourceRect(c types.Crop, d Display) (types.Rect, error) {
	sx, sy, err := d.Scale()
	if err != nil {
		return types.Rect{}, err
	}
	px, err := ToPixelCrop(c, d.Width, d.Height)
	if err != nil {
		return types.Rect{}, err
	}
	return ToSourceSpace(px, sx, sy)
}

// ClampCrop keeps a crop inside its coordinate space: x+width never exceeds
// 100 (percent) or the display width (pixel), same for y+height.
func ClampCrop(c types.Crop, displayWidth, displayHeight float64) (types.Crop, error) {
	maxW, maxH, err := extent(c.Unit, displayWidth, displayHeight)
	if err != nil {
		return types.Crop{}, err
	}

	c.X = clamp(c.X, 0, maxW)
	c.Y = clamp(c.Y, 0, maxH)
	c.Width = clamp(c.Width, 0, maxW-c.X)
	c.Height = clamp(c.Height, 0, maxH-c.Y)
	return c, nil
}

// ConstrainAspect shrinks a crop around its centre until width/height
// equals ratio in the crop's own unit, then slides it back inside its
// space. The result keeps the unit of the input.
func ConstrainAspect(c types.Crop, ratio, displayWidth, displayHeight float64) (types.Crop, error) {
	if ratio <= 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return types.Crop{}, ErrInvalidAspect
	}
	maxW, maxH, err := extent(c.Unit, displayWidth, displayHeight)
	if err != nil {
		return types.Crop{}, err
	}
	if c.Empty() {
		return c, nil
	}

	cx := c.X + c.Width/2
	cy := c.Y + c.Height/2
	w, h := c.Width, c.Height
	if w/h > ratio {
		w = h * ratio
	} else {
		h = w / ratio
	}
	if w > maxW {
		w = maxW
		h = w / ratio
	}
	if h > maxH {
		h = maxH
		w = h * ratio
	}

	c.Width, c.Height = w, h
	c.X = clamp(cx-w/2, 0, maxW-w)
	c.Y = clamp(cy-h/2, 0, maxH-h)
	return c, nil
}

// extent is the size of the coordinate space a crop unit lives in
func extent(u types.Unit, displayWidth, displayHeight float64) (float64, float64, error) {
	switch u {
	case types.UnitPercent:
		return 100, 100, nil
	case types.UnitPixel:
		if displayWidth <= 0 || displayHeight <= 0 {
			return 0, 0, ErrNotReady
		}
		return displayWidth, displayHeight, nil
	default:
		return 0, 0, fmt.Errorf("%w: %q", ErrUnitMismatch, u)
	}
}

// RoundHalfUp rounds to the nearest integer, halves away from zero for positives
func RoundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
