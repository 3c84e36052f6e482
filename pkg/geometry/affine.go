package geometry

import (
	"math"

	"golang.org/x/image/math/f64"
	"gonum.org/v1/gonum/mat"

	"github.com/menta2k/region-classifier/pkg/types"
)

// Affine is a 2D affine transform stored as a 3x3 homogeneous matrix.
// Use the constructors; the zero value is not usable.
type Affine struct {
	m *mat.Dense
}

func newAffine(a, b, c, d, e, f float64) Affine {
	return Affine{m: mat.NewDense(3, 3, []float64{
		a, b, c,
		d, e, f,
		0, 0, 1,
	})}
}

// Identity returns the identity transform
func Identity() Affine {
	return newAffine(1, 0, 0, 0, 1, 0)
}

// Translate moves points by (tx, ty)
func Translate(tx, ty float64) Affine {
	return newAffine(1, 0, tx, 0, 1, ty)
}

// Scale scales points about the origin
func Scale(sx, sy float64) Affine {
	return newAffine(sx, 0, 0, 0, sy, 0)
}

// Rotate rotates points about the origin, clockwise on a y-down raster
func Rotate(degrees float64) Affine {
	s, c := sincos(degrees)
	return newAffine(c, -s, 0, s, c, 0)
}

// Then returns the transform that applies a first and next second
func (a Affine) Then(next Affine) Affine {
	var out mat.Dense
	out.Mul(next.m, a.m)
	return Affine{m: &out}
}

// Apply maps a point through the transform
func (a Affine) Apply(x, y float64) (float64, float64) {
	return a.m.At(0, 0)*x + a.m.At(0, 1)*y + a.m.At(0, 2),
		a.m.At(1, 0)*x + a.m.At(1, 1)*y + a.m.At(1, 2)
}

// Aff3 returns the matrix in the layout golang.org/x/image/draw expects
func (a Affine) Aff3() f64.Aff3 {
	return f64.Aff3{
		a.m.At(0, 0), a.m.At(0, 1), a.m.At(0, 2),
		a.m.At(1, 0), a.m.At(1, 1), a.m.At(1, 2),
	}
}

// IntegerTranslation reports whether the transform only shifts by whole pixels
func (a Affine) IntegerTranslation() (int, int, bool) {
	m := a.Aff3()
	if m[0] != 1 || m[1] != 0 || m[3] != 0 || m[4] != 1 {
		return 0, 0, false
	}
	if m[2] != math.Trunc(m[2]) || m[5] != math.Trunc(m[5]) {
		return 0, 0, false
	}
	return int(m[2]), int(m[5]), true
}

// SourceToOutput builds the source->output mapping used by the rasterizer:
// the source is scaled and rotated about its own centre, the region origin
// is moved to (0,0) and the result is scaled by k for previews.
func SourceToOutput(srcWidth, srcHeight float64, region types.Rect, t types.Transform, k float64) Affine {
	cx, cy := srcWidth/2, srcHeight/2
	return Translate(-cx, -cy).
		Then(Scale(t.Scale, t.Scale)).
		Then(Rotate(t.RotateDegrees)).
		Then(Translate(cx, cy)).
		Then(Translate(-region.X, -region.Y)).
		Then(Scale(k, k))
}

// sincos snaps quarter turns so 90/180/270 degree rotations stay pixel exact
func sincos(degrees float64) (float64, float64) {
	r := math.Mod(degrees, 360)
	if r < 0 {
		r += 360
	}
	switch r {
	case 0:
		return 0, 1
	case 90:
		return 1, 0
	case 180:
		return 0, -1
	case 270:
		return -1, 0
	}
	return math.Sincos(r * math.Pi / 180)
}
