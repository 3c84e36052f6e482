package raster

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"golang.org/x/image/draw"

	"github.com/menta2k/region-classifier/pkg/geometry"
	"github.com/menta2k/region-classifier/pkg/types"
)

// ErrInvalidCrop is returned when the source-space region has no area
var ErrInvalidCrop = errors.New("raster: crop has no area")

// Mode selects between bounded preview renders and full-resolution exports
type Mode int

const (
	// Preview renders are shrunk to fit the configured maximum size
	Preview Mode = iota
	// Export renders keep the natural resolution of the region
	Export
)

func (m Mode) String() string {
	switch m {
	case Preview:
		return "preview"
	case Export:
		return "export"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Config holds configuration for the rasterizer
type Config struct {
	PreviewMaxWidth     int
	PreviewMaxHeight    int
	PreviewInterpolator string
	ExportInterpolator  string
	Background          color.NRGBA
}

// DefaultConfig returns the defaults used by New
func DefaultConfig() Config {
	return Config{
		PreviewMaxWidth:     300,
		PreviewMaxHeight:    300,
		PreviewInterpolator: "bilinear",
		ExportInterpolator:  "catmullrom",
	}
}

// Rasterizer renders a transformed source region into a new raster
type Rasterizer struct {
	config  Config
	preview draw.Interpolator
	export  draw.Interpolator
}

// New creates a Rasterizer with default configuration
func New() *Rasterizer {
	r, _ := NewWithConfig(DefaultConfig())
	return r
}

// NewWithConfig creates a Rasterizer with custom configuration
func NewWithConfig(config Config) (*Rasterizer, error) {
	preview, err := ParseInterpolator(config.PreviewInterpolator)
	if err != nil {
		return nil, err
	}
	export, err := ParseInterpolator(config.ExportInterpolator)
	if err != nil {
		return nil, err
	}
	return &Rasterizer{config: config, preview: preview, export: export}, nil
}

// ParseInterpolator maps a config name to an x/image/draw interpolator.
// The empty string selects nearest neighbour.
func ParseInterpolator(name string) (draw.Interpolator, error) {
	switch strings.ToLower(name) {
	case "", "nearest":
		return draw.NearestNeighbor, nil
	case "bilinear":
		return draw.ApproxBiLinear, nil
	case "bilinear-exact":
		return draw.BiLinear, nil
	case "catmullrom":
		return draw.CatmullRom, nil
	default:
		return nil, fmt.Errorf("raster: unknown interpolator %q", name)
	}
}

// Job is one unit of rasterization work. A newer Job replaces an older one;
// jobs are never mutated.
type Job struct {
	Source    *types.SourceImage
	Region    types.Rect
	Transform types.Transform
	Mode      Mode
}

// Run renders the job
func (r *Rasterizer) Run(job Job) (*image.NRGBA, error) {
	if job.Source == nil || job.Source.Image == nil {
		return nil, fmt.Errorf("raster: job has no source image")
	}
	return r.Render(job.Source.Image, job.Region, job.Transform, job.Mode)
}

// Render scales and rotates src about its centre, then copies region (in
// source pixels) to the origin of a new raster. Pixels that fall outside the
// source are left as background.
func (r *Rasterizer) Render(src image.Image, region types.Rect, t types.Transform, mode Mode) (*image.NRGBA, error) {
	if !(region.Width > 0) || !(region.Height > 0) || math.IsInf(region.Width, 0) || math.IsInf(region.Height, 0) {
		return nil, fmt.Errorf("%w: %vx%v", ErrInvalidCrop, region.Width, region.Height)
	}
	if !(t.Scale > 0) {
		return nil, fmt.Errorf("raster: scale must be positive, got %v", t.Scale)
	}

	w, h, err := r.OutputSize(region, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %vx%v rounds to nothing", err, region.Width, region.Height)
	}
	k := r.outputScale(region, mode)

	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	if r.config.Background.A != 0 {
		draw.Draw(dst, dst.Bounds(), image.NewUniform(r.config.Background), image.Point{}, draw.Src)
	}

	b := src.Bounds()
	s2d := geometry.Translate(-float64(b.Min.X), -float64(b.Min.Y)).
		Then(geometry.SourceToOutput(float64(b.Dx()), float64(b.Dy()), region, t, k))

	// whole-pixel shifts are plain copies so exports stay pixel exact
	if dx, dy, ok := s2d.IntegerTranslation(); ok {
		draw.Draw(dst, dst.Bounds(), src, image.Pt(-dx, -dy), draw.Src)
		return dst, nil
	}

	interp := r.export
	if mode == Preview {
		interp = r.preview
	}
	interp.Transform(dst, s2d.Aff3(), src, b, draw.Src, nil)
	return dst, nil
}

// outputScale is 1 for exports and shrinks previews to fit the configured box
func (r *Rasterizer) outputScale(region types.Rect, mode Mode) float64 {
	if mode != Preview {
		return 1
	}
	k := 1.0
	if r.config.PreviewMaxWidth > 0 {
		k = math.Min(k, float64(r.config.PreviewMaxWidth)/region.Width)
	}
	if r.config.PreviewMaxHeight > 0 {
		k = math.Min(k, float64(r.config.PreviewMaxHeight)/region.Height)
	}
	return k
}

// OutputSize reports the raster size Render would produce without rendering
func (r *Rasterizer) OutputSize(region types.Rect, mode Mode) (int, int, error) {
	if !(region.Width > 0) || !(region.Height > 0) {
		return 0, 0, ErrInvalidCrop
	}
	k := r.outputScale(region, mode)
	w := geometry.RoundHalfUp(region.Width * k)
	h := geometry.RoundHalfUp(region.Height * k)
	if mode == Preview {
		w, h = max(w, 1), max(h, 1)
	}
	if w <= 0 || h <= 0 {
		return 0, 0, ErrInvalidCrop
	}
	return w, h, nil
}
