// Package regionclassifier captures an image, lets a caller select a
// rectangular region of it (optionally scaled, rotated and aspect-locked)
// and sends the natural-resolution pixels of that region to an image
// classification service.
//
// Basic usage:
//
//	cls, err := regionclassifier.NewClassifier(regionclassifier.ClassifierOptions{
//		Backend: regionclassifier.BackendOllama,
//		URL:     "http://localhost:11434",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	rc := regionclassifier.New(cls, pipeline.DefaultOptions())
//	img, err := rc.LoadImage(ctx, "screenshot.png")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	result, err := rc.ClassifyRegion(ctx, img, regionclassifier.Selection{
//		Crop: types.Crop{Unit: types.UnitPercent, X: 10, Y: 10, Width: 50, Height: 50},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(result.Labels)
//
// Interactive front ends use pipeline.Controller directly: it owns the
// selection state, renders debounced previews and rejects results that
// arrive for an image that has since been replaced.
//
// The package consists of these main components:
//
//  1. Geometry (pkg/geometry): percent, display-pixel and source-pixel conversions and affine transforms
//  2. Raster (pkg/raster): preview and export rendering of a transformed region
//  3. Debounce (pkg/debounce): trailing-edge single-slot scheduling
//  4. Pipeline (pkg/pipeline): the capture/select/analyze state machine
//  5. Backends (pkg/huggingface, pkg/ollama, pkg/llamacpp): classifier clients
package regionclassifier

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/menta2k/region-classifier/pkg/capture"
	"github.com/menta2k/region-classifier/pkg/classification"
	"github.com/menta2k/region-classifier/pkg/client"
	"github.com/menta2k/region-classifier/pkg/geometry"
	"github.com/menta2k/region-classifier/pkg/huggingface"
	"github.com/menta2k/region-classifier/pkg/llamacpp"
	"github.com/menta2k/region-classifier/pkg/ollama"
	"github.com/menta2k/region-classifier/pkg/pipeline"
	"github.com/menta2k/region-classifier/pkg/processing"
	"github.com/menta2k/region-classifier/pkg/raster"
	"github.com/menta2k/region-classifier/pkg/types"
)

// Version of the region classifier library
const Version = "1.0.0"

// Classifier backends
const (
	BackendHuggingFace = "huggingface"
	BackendOllama      = "ollama"
	BackendLlamaCpp    = "llamacpp"
)

// ClassifierOptions selects and configures a classification backend
type ClassifierOptions struct {
	Backend string
	URL     string
	Model   string
	Token   string
	Prompt  string        // chat backends only; empty uses the default prompt
	TopK    int           // 0 keeps every label
	Timeout time.Duration // 0 leaves the backend default
}

// NewClassifier builds the configured backend wrapped in a label ranker
func NewClassifier(opts ClassifierOptions) (client.Classifier, error) {
	var backend client.Classifier
	switch strings.ToLower(opts.Backend) {
	case "", BackendHuggingFace:
		c, err := huggingface.NewClient(opts.URL, opts.Model, opts.Token)
		if err != nil {
			return nil, err
		}
		backend = c
	case BackendOllama:
		url := opts.URL
		if url == "" {
			url = "http://localhost:11434"
		}
		c, err := ollama.NewClient(url, opts.Model)
		if err != nil {
			return nil, err
		}
		if opts.Prompt != "" {
			c = c.WithPrompt(opts.Prompt)
		}
		backend = c
	case BackendLlamaCpp:
		c, err := llamacpp.NewClient(opts.URL, opts.Model)
		if err != nil {
			return nil, err
		}
		if opts.Prompt != "" {
			c = c.WithPrompt(opts.Prompt)
		}
		backend = c
	default:
		return nil, fmt.Errorf("unknown classifier backend %q", opts.Backend)
	}

	if opts.Timeout > 0 {
		inner := backend
		timeout := opts.Timeout
		backend = client.ClassifierFunc(func(ctx context.Context, img []byte) ([]types.Label, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return inner.Classify(ctx, img)
		})
	}
	return classification.NewRanker(backend, opts.TopK), nil
}

// Selection describes a region of an image as a user would draw it
type Selection struct {
	Crop types.Crop
	// DisplayWidth and DisplayHeight are the size the image was shown at
	// when Crop was drawn; zero means natural size.
	DisplayWidth  float64
	DisplayHeight float64
	Transform     types.Transform
}

// RegionClassifier provides a one-shot interface over the pipeline
type RegionClassifier struct {
	classifier client.Classifier
	processor  *processing.Processor
	opts       pipeline.Options
}

// New creates a RegionClassifier
func New(classifier client.Classifier, opts pipeline.Options) *RegionClassifier {
	return &RegionClassifier{
		classifier: classifier,
		processor:  processing.NewProcessor(),
		opts:       opts,
	}
}

// LoadImage loads an image from a file path or URL
func (rc *RegionClassifier) LoadImage(ctx context.Context, source string) (image.Image, error) {
	return rc.processor.LoadImageSmart(ctx, source)
}

// SaveImage saves an image, choosing the format from the extension
func (rc *RegionClassifier) SaveImage(img image.Image, path string) error {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return rc.processor.SaveImage(img, path, format, 95)
}

// SourceRect maps a selection onto source pixels of img
func (rc *RegionClassifier) SourceRect(img image.Image, sel Selection) (types.Rect, error) {
	return geometry.SourceRect(sel.Crop, display(img, sel))
}

// RenderRegion produces the natural-resolution export raster of a selection
func (rc *RegionClassifier) RenderRegion(img image.Image, sel Selection) (*image.NRGBA, types.Rect, error) {
	region, err := rc.SourceRect(img, sel)
	if err != nil {
		return nil, types.Rect{}, err
	}
	out, err := rc.render(img, region, transform(sel))
	if err != nil {
		return nil, types.Rect{}, err
	}
	return out, region, nil
}

func (rc *RegionClassifier) render(img image.Image, region types.Rect, t types.Transform) (*image.NRGBA, error) {
	r, err := raster.NewWithConfig(rc.opts.Raster)
	if err != nil {
		return nil, err
	}
	return r.Render(img, region, t, raster.Export)
}

// ClassifyRegion runs one capture/select/analyze cycle for img
func (rc *RegionClassifier) ClassifyRegion(ctx context.Context, img image.Image, sel Selection) (*types.Classification, error) {
	c, err := pipeline.NewController(capture.Static(img), rc.classifier, rc.opts)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if err := c.RequestCapture(ctx); err != nil {
		return nil, err
	}
	d := display(img, sel)
	if err := c.SetDisplaySize(d.Width, d.Height); err != nil {
		return nil, err
	}
	if err := c.UpdateTransform(transform(sel)); err != nil {
		return nil, err
	}
	if err := c.UpdateCrop(sel.Crop); err != nil {
		return nil, fmt.Errorf("invalid selection: %w", err)
	}
	return c.RequestAnalyze(ctx)
}

// Report is what ProcessImageFile writes next to the exported region
type Report struct {
	Version string                `json:"version"`
	Input   string                `json:"input"`
	Export  string                `json:"export,omitempty"`
	Result  *types.Classification `json:"result"`
}

// ProcessImageFile loads an image, classifies the selection and writes the
// export raster plus a JSON report into outputDir. The saved raster covers
// result.Region, the clamped and aspect-fitted region that was classified.
func (rc *RegionClassifier) ProcessImageFile(ctx context.Context, inputPath, outputDir string, sel Selection) (*Report, error) {
	img, err := rc.LoadImage(ctx, inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}

	result, err := rc.ClassifyRegion(ctx, img, sel)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	base := getBaseName(inputPath)
	report := &Report{Version: Version, Input: inputPath, Result: result}

	export, err := rc.render(img, result.Region, transform(sel))
	if err != nil {
		return nil, err
	}
	report.Export = filepath.Join(outputDir, base+"_region.png")
	if err := rc.SaveImage(export, report.Export); err != nil {
		return nil, fmt.Errorf("failed to save region: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(outputDir, base+"_labels.json"), data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write report: %w", err)
	}
	return report, nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}

func display(img image.Image, sel Selection) geometry.Display {
	b := img.Bounds()
	d := geometry.Display{
		NaturalWidth:  float64(b.Dx()),
		NaturalHeight: float64(b.Dy()),
		Width:         sel.DisplayWidth,
		Height:        sel.DisplayHeight,
	}
	if d.Width == 0 && d.Height == 0 {
		d.Width, d.Height = d.NaturalWidth, d.NaturalHeight
	}
	return d
}

func transform(sel Selection) types.Transform {
	if sel.Transform.Scale == 0 && sel.Transform.RotateDegrees == 0 {
		return types.IdentityTransform()
	}
	return sel.Transform
}

// getBaseName extracts the base filename without extension
func getBaseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
