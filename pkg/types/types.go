package types

import (
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// Unit selects the coordinate space a Crop is expressed in
type Unit string

const (
	// UnitPercent crops are relative to the display size, each value in [0,100]
	UnitPercent Unit = "%"
	// UnitPixel crops are in display pixels
	UnitPixel Unit = "px"
)

// Crop is a rectangular selection in percent or display-pixel units
type Crop struct {
	Unit   Unit    `json:"unit"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Empty reports whether the crop has no area
func (c Crop) Empty() bool {
	return c.Width <= 0 || c.Height <= 0
}

// Rect is a real-valued rectangle in source-image pixels
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Transform is the scale/rotation applied to the displayed image
type Transform struct {
	Scale         float64 `json:"scale"`
	RotateDegrees float64 `json:"rotate"`
}

// IdentityTransform leaves the image untouched
func IdentityTransform() Transform {
	return Transform{Scale: 1}
}

// IsIdentity reports whether t neither scales nor rotates
func (t Transform) IsIdentity() bool {
	return t.Scale == 1 && t.RotateDegrees == 0
}

// Aspect is an optional width/height ratio; the zero value is free
type Aspect struct {
	Ratio float64 `json:"ratio"`
}

// Free leaves the crop unconstrained
var Free = Aspect{}

// Locked reports whether a ratio is enforced
func (a Aspect) Locked() bool {
	return a.Ratio > 0
}

// SourceImage is an immutable captured raster with a unique identity
type SourceImage struct {
	ID         uuid.UUID
	Image      *image.NRGBA
	Width      int
	Height     int
	CapturedAt time.Time
}

// NewSourceImage copies img into a fresh NRGBA raster so later changes
// to img cannot leak into the pipeline
func NewSourceImage(img image.Image) *SourceImage {
	nrgba := imaging.Clone(img)
	b := nrgba.Bounds()
	return &SourceImage{
		ID:         uuid.New(),
		Image:      nrgba,
		Width:      b.Dx(),
		Height:     b.Dy(),
		CapturedAt: time.Now(),
	}
}

// Label is one ranked classifier answer
type Label struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Classification holds the ranked labels for one exported region
type Classification struct {
	SourceID uuid.UUID `json:"source_id"`
	Region   Rect      `json:"region"`
	Labels   []Label   `json:"labels"`
}

// Top returns the best label, or false when there are none
func (c Classification) Top() (Label, bool) {
	if len(c.Labels) == 0 {
		return Label{}, false
	}
	return c.Labels[0], true
}

// EncodeConfig defines how rasters are encoded for transport and storage
type EncodeConfig struct {
	Format string
	MaxDim int
}
