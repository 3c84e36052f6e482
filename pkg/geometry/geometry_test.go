package geometry

import (
	"errors"
	"math"
	"testing"

	"github.com/menta2k/region-classifier/pkg/types"
)

const eps = 1e-6

func nearly(a, b float64) bool {
	return math.Abs(a-b) < eps
}

func sameCrop(a, b types.Crop) bool {
	return a.Unit == b.Unit && nearly(a.X, b.X) && nearly(a.Y, b.Y) &&
		nearly(a.Width, b.Width) && nearly(a.Height, b.Height)
}

func TestToPixelCropIdempotent(t *testing.T) {
	crops := []types.Crop{
		{Unit: types.UnitPixel, X: 0, Y: 0, Width: 10, Height: 10},
		{Unit: types.UnitPixel, X: 12.5, Y: 3.25, Width: 100, Height: 40},
		{Unit: types.UnitPixel, X: 599, Y: 449, Width: 1, Height: 1},
	}
	sizes := [][2]float64{{600, 450}, {1, 1}, {1920.5, 1080}}

	for _, c := range crops {
		for _, sz := range sizes {
			got, err := ToPixelCrop(c, sz[0], sz[1])
			if err != nil {
				t.Fatalf("ToPixelCrop(%+v) failed: %v", c, err)
			}
			if got != c {
				t.Errorf("pixel crop changed: %+v -> %+v", c, got)
			}
		}
	}
}

func TestPercentRoundTrip(t *testing.T) {
	crops := []types.Crop{
		{Unit: types.UnitPercent, X: 10, Y: 10, Width: 50, Height: 50},
		{Unit: types.UnitPercent, X: 0, Y: 0, Width: 100, Height: 100},
		{Unit: types.UnitPercent, X: 33.333, Y: 12.1, Width: 7.7, Height: 80.9},
	}
	sizes := [][2]float64{{600, 450}, {333, 777}, {1, 3}}

	for _, c := range crops {
		for _, sz := range sizes {
			px, err := ToPixelCrop(c, sz[0], sz[1])
			if err != nil {
				t.Fatalf("ToPixelCrop failed: %v", err)
			}
			back, err := ToPercentCrop(px, sz[0], sz[1])
			if err != nil {
				t.Fatalf("ToPercentCrop failed: %v", err)
			}
			if !sameCrop(back, c) {
				t.Errorf("round trip at %v: %+v -> %+v", sz, c, back)
			}
		}
	}
}

func TestCenterAspectCrop(t *testing.T) {
	cases := []struct {
		w, h, ratio float64
	}{
		{600, 450, 1},
		{600, 450, 16.0 / 9.0},
		{450, 600, 16.0 / 9.0},
		{1920, 1080, 0.25},
		{100, 100, 4},
		{1000, 500, 1},
	}

	for _, tc := range cases {
		c, err := CenterAspectCrop(tc.w, tc.h, tc.ratio)
		if err != nil {
			t.Fatalf("CenterAspectCrop(%v, %v, %v) failed: %v", tc.w, tc.h, tc.ratio, err)
		}
		if c.Unit != types.UnitPercent {
			t.Errorf("expected percent unit, got %q", c.Unit)
		}
		if !nearly(c.X+c.Width/2, 50) || !nearly(c.Y+c.Height/2, 50) {
			t.Errorf("crop not centred: %+v", c)
		}

		if got := c.Width / c.Height; math.Abs(got-tc.ratio) > 1e-6 {
			t.Errorf("CenterAspectCrop(%v, %v, %v): ratio %v, want %v", tc.w, tc.h, tc.ratio, got, tc.ratio)
		}
		if !nearly(c.Width, 90) && !nearly(c.Height, 90) {
			t.Errorf("expected 90%% of the limiting side, got %+v", c)
		}
		if c.Width > 90+eps || c.Height > 90+eps {
			t.Errorf("crop exceeds 90%%: %+v", c)
		}
	}
}

func TestCenterAspectCropWideMedia(t *testing.T) {
	c, err := CenterAspectCrop(1000, 500, 1)
	if err != nil {
		t.Fatalf("CenterAspectCrop failed: %v", err)
	}
	want := types.Crop{Unit: types.UnitPercent, X: 5, Y: 5, Width: 90, Height: 90}
	if !sameCrop(c, want) {
		t.Errorf("expected %+v, got %+v", want, c)
	}
}

func TestCenterAspectCropErrors(t *testing.T) {
	if _, err := CenterAspectCrop(0, 100, 1); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
	if _, err := CenterAspectCrop(100, 100, 0); !errors.Is(err, ErrInvalidAspect) {
		t.Errorf("expected ErrInvalidAspect, got %v", err)
	}
}

func TestConversionsNotReady(t *testing.T) {
	c := types.Crop{Unit: types.UnitPercent, Width: 10, Height: 10}
	if _, err := ToPixelCrop(c, 0, 100); !errors.Is(err, ErrNotReady) {
		t.Errorf("ToPixelCrop: expected ErrNotReady, got %v", err)
	}
	if _, err := ToPercentCrop(c, 100, 0); !errors.Is(err, ErrNotReady) {
		t.Errorf("ToPercentCrop: expected ErrNotReady, got %v", err)
	}
	px := types.Crop{Unit: types.UnitPixel, Width: 10, Height: 10}
	if _, err := ToSourceSpace(px, 0, 1); !errors.Is(err, ErrNotReady) {
		t.Errorf("ToSourceSpace: expected ErrNotReady, got %v", err)
	}
	if _, _, err := (Display{NaturalWidth: 10, NaturalHeight: 10}).Scale(); !errors.Is(err, ErrNotReady) {
		t.Errorf("Scale: expected ErrNotReady, got %v", err)
	}
}

func TestToSourceSpaceRejectsPercent(t *testing.T) {
	c := types.Crop{Unit: types.UnitPercent, Width: 10, Height: 10}
	if _, err := ToSourceSpace(c, 2, 2); !errors.Is(err, ErrUnitMismatch) {
		t.Errorf("expected ErrUnitMismatch, got %v", err)
	}
}

func TestSourceRectScenario(t *testing.T) {
	d := Display{NaturalWidth: 1200, NaturalHeight: 900, Width: 600, Height: 450}
	c := types.Crop{Unit: types.UnitPercent, X: 10, Y: 10, Width: 50, Height: 50}

	px, err := ToPixelCrop(c, d.Width, d.Height)
	if err != nil {
		t.Fatalf("ToPixelCrop failed: %v", err)
	}
	want := types.Crop{Unit: types.UnitPixel, X: 60, Y: 45, Width: 300, Height: 225}
	if !sameCrop(px, want) {
		t.Errorf("pixel crop %+v, want %+v", px, want)
	}

	r, err := SourceRect(c, d)
	if err != nil {
		t.Fatalf("SourceRect failed: %v", err)
	}
	if !nearly(r.X, 120) || !nearly(r.Y, 90) || !nearly(r.Width, 600) || !nearly(r.Height, 450) {
		t.Errorf("unexpected source rect %+v", r)
	}
}

func TestClampCrop(t *testing.T) {
	c, err := ClampCrop(types.Crop{Unit: types.UnitPercent, X: 80, Y: -5, Width: 50, Height: 30}, 0, 0)
	if err != nil {
		t.Fatalf("ClampCrop failed: %v", err)
	}
	if c.X != 80 || c.Y != 0 || c.Width != 20 || c.Height != 30 {
		t.Errorf("unexpected clamp result %+v", c)
	}

	c, err = ClampCrop(types.Crop{Unit: types.UnitPixel, X: 590, Y: 10, Width: 50, Height: 500}, 600, 450)
	if err != nil {
		t.Fatalf("ClampCrop failed: %v", err)
	}
	if c.X+c.Width > 600 || c.Y+c.Height > 450 {
		t.Errorf("pixel crop escapes display: %+v", c)
	}
}

func TestConstrainAspect(t *testing.T) {
	in := types.Crop{Unit: types.UnitPixel, X: 100, Y: 100, Width: 200, Height: 100}
	out, err := ConstrainAspect(in, 1, 600, 450)
	if err != nil {
		t.Fatalf("ConstrainAspect failed: %v", err)
	}
	if !nearly(out.Width, 100) || !nearly(out.Height, 100) {
		t.Errorf("expected 100x100, got %+v", out)
	}
	if !nearly(out.X+out.Width/2, 200) || !nearly(out.Y+out.Height/2, 150) {
		t.Errorf("centre moved: %+v", out)
	}

	pct := types.Crop{Unit: types.UnitPercent, X: 0, Y: 0, Width: 100, Height: 100}
	out, err = ConstrainAspect(pct, 16.0/9.0, 600, 450)
	if err != nil {
		t.Fatalf("ConstrainAspect failed: %v", err)
	}
	if out.Unit != types.UnitPercent {
		t.Errorf("unit changed to %q", out.Unit)
	}
	if math.Abs(out.Width/out.Height-16.0/9.0) > 1e-6 {
		t.Errorf("ratio not enforced: %+v", out)
	}
	if out.Y < -eps || out.Y+out.Height > 100+eps {
		t.Errorf("crop escapes media: %+v", out)
	}

	edge := types.Crop{Unit: types.UnitPercent, X: 0, Y: 0, Width: 100, Height: 50}
	out, err = ConstrainAspect(edge, 1, 400, 200)
	if err != nil {
		t.Fatalf("ConstrainAspect failed: %v", err)
	}
	if !sameCrop(out, types.Crop{Unit: types.UnitPercent, X: 25, Y: 0, Width: 50, Height: 50}) {
		t.Errorf("expected {25 0 50 50}, got %+v", out)
	}

	if _, err := ConstrainAspect(in, 0, 600, 450); !errors.Is(err, ErrInvalidAspect) {
		t.Errorf("expected ErrInvalidAspect, got %v", err)
	}
}

func TestRoundHalfUp(t *testing.T) {
	cases := map[float64]int{0.4: 0, 0.5: 1, 1.49: 1, 199.5: 200, 600: 600}
	for in, want := range cases {
		if got := RoundHalfUp(in); got != want {
			t.Errorf("RoundHalfUp(%v) = %d, want %d", in, got, want)
		}
	}
}

func BenchmarkSourceRect(b *testing.B) {
	d := Display{NaturalWidth: 3840, NaturalHeight: 2160, Width: 960, Height: 540}
	c := types.Crop{Unit: types.UnitPercent, X: 10, Y: 10, Width: 50, Height: 50}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		SourceRect(c, d)
	}
}
