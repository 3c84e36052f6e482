// Package pipeline ties capture, selection, preview rendering and
// classification together behind a single state machine.
//
// All mutable state is owned by Controller and guarded by one mutex.
// Previews are rendered on the debounce scheduler's goroutine; exports and
// classifier calls run on the caller's goroutine with the lock released.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
	"time"

	"github.com/menta2k/region-classifier/internal/logger"
	"github.com/menta2k/region-classifier/pkg/capture"
	"github.com/menta2k/region-classifier/pkg/classification"
	"github.com/menta2k/region-classifier/pkg/client"
	"github.com/menta2k/region-classifier/pkg/debounce"
	"github.com/menta2k/region-classifier/pkg/geometry"
	"github.com/menta2k/region-classifier/pkg/processing"
	"github.com/menta2k/region-classifier/pkg/raster"
	"github.com/menta2k/region-classifier/pkg/types"
)

// Options configures a Controller
type Options struct {
	Aspect         types.Aspect
	AllowTransform bool
	Debounce       time.Duration
	Raster         raster.Config
	Encode         types.EncodeConfig
	TopK           int // 0 keeps every label
}

// DefaultOptions returns free aspect, transforms enabled, 100ms debounce
// and lossless PNG transport at natural resolution
func DefaultOptions() Options {
	return Options{
		Aspect:         types.Free,
		AllowTransform: true,
		Debounce:       debounce.DefaultDelay,
		Raster:         raster.DefaultConfig(),
		Encode:         types.EncodeConfig{Format: processing.FormatPNG},
		TopK:           classification.DefaultTopK,
	}
}

// Controller is the region-selection-to-classification state machine
type Controller struct {
	source     capture.Source
	classifier client.Classifier
	rasterizer *raster.Rasterizer
	processor  *processing.Processor
	opts       Options
	previews   *debounce.Scheduler[raster.Job]

	mu        sync.Mutex
	state     State
	image     *types.SourceImage
	display   geometry.Display
	crop      types.Crop
	draft     types.Crop
	transform types.Transform
	aspect    types.Aspect
	preview   *image.NRGBA
	installed raster.Job // job the current preview was rendered from
	result    *types.Classification
	lastErr   error
	capturing bool
	analyzing bool
	closed    bool
	subs      map[int]chan Snapshot
	nextSub   int
}

// NewController creates a controller in the Idle state
func NewController(source capture.Source, classifier client.Classifier, opts Options) (*Controller, error) {
	if source == nil {
		return nil, errors.New("pipeline: capture source is required")
	}
	if classifier == nil {
		return nil, errors.New("pipeline: classifier is required")
	}
	if opts.Aspect.Ratio < 0 {
		return nil, geometry.ErrInvalidAspect
	}

	r, err := raster.NewWithConfig(opts.Raster)
	if err != nil {
		return nil, fmt.Errorf("failed to create rasterizer: %w", err)
	}

	c := &Controller{
		source:     source,
		classifier: classifier,
		rasterizer: r,
		processor:  processing.NewProcessor(),
		opts:       opts,
		state:      StateIdle,
		transform:  types.IdentityTransform(),
		aspect:     opts.Aspect,
		subs:       map[int]chan Snapshot{},
	}
	c.previews = debounce.New(opts.Debounce, c.renderPreview)
	return c, nil
}

// RequestCapture acquires a new source image. On success the selection and
// transform are reset and any pending preview for the old image is dropped.
// On failure the previous image and selection are kept.
func (c *Controller) RequestCapture(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.capturing {
		c.mu.Unlock()
		return ErrBusy
	}
	c.capturing = true
	c.setStateLocked(StateCapturing)
	c.mu.Unlock()

	img, err := c.source.Capture(ctx)
	if err == nil && (img == nil || img.Bounds().Empty()) {
		err = errors.New("capture returned an empty image")
	}
	var src *types.SourceImage
	if err == nil {
		src = types.NewSourceImage(img)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.capturing = false
	if c.closed {
		return ErrClosed
	}
	if err != nil {
		c.lastErr = fmt.Errorf("%w: %w", ErrCaptureFailed, err)
		logger.Warn("capture failed: %v", err)
		c.setStateLocked(StateError)
		return c.lastErr
	}

	c.previews.Cancel()
	c.image = src
	w, h := float64(src.Width), float64(src.Height)
	c.display = geometry.Display{NaturalWidth: w, NaturalHeight: h, Width: w, Height: h}
	c.crop = types.Crop{}
	c.draft = types.Crop{}
	c.transform = types.IdentityTransform()
	c.preview = nil
	c.installed = raster.Job{}
	c.result = nil
	c.lastErr = nil
	logger.Info("captured image %s (%dx%d)", src.ID, src.Width, src.Height)

	if c.aspect.Locked() {
		if crop, err := geometry.CenterAspectCrop(w, h, c.aspect.Ratio); err == nil {
			c.crop = crop
			c.schedulePreviewLocked()
		}
	}
	c.setStateLocked(StateSelecting)
	return nil
}

// SetDisplaySize records the size the image is currently shown at. Zero
// sizes mark the display as not laid out yet.
func (c *Controller) SetDisplaySize(width, height float64) error {
	if width < 0 || height < 0 || math.IsNaN(width) || math.IsNaN(height) {
		return fmt.Errorf("pipeline: invalid display size %vx%v", width, height)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.display.Width = width
	c.display.Height = height

	// crops are stored in percent, so only a missing preview needs work
	if c.preview == nil {
		c.schedulePreviewLocked()
	}
	c.publishLocked()
	return nil
}

// DragCrop records an in-progress selection. It never triggers a render.
func (c *Controller) DragCrop(crop types.Crop) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.draft = crop
	c.publishLocked()
	return nil
}

// UpdateCrop sets the completed selection and schedules a preview. Pixel
// crops are interpreted in display space. With an aspect lock the stored
// percent crop is fitted to the ratio around its centre. An empty crop clears the
// selection and returns raster.ErrInvalidCrop.
func (c *Controller) UpdateCrop(crop types.Crop) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.image == nil {
		return geometry.ErrNotReady
	}

	pct, err := geometry.ToPercentCrop(crop, c.display.Width, c.display.Height)
	if err != nil {
		return err
	}
	if pct, err = geometry.ClampCrop(pct, c.display.Width, c.display.Height); err != nil {
		return err
	}
	c.draft = types.Crop{}

	if pct.Empty() {
		c.crop = types.Crop{}
		c.previews.Cancel()
		c.preview = nil
		c.installed = raster.Job{}
		c.markSelectingLocked()
		c.publishLocked()
		return raster.ErrInvalidCrop
	}

	if c.aspect.Locked() {
		if pct, err = geometry.ConstrainAspect(pct, c.aspect.Ratio, c.display.Width, c.display.Height); err != nil {
			return err
		}
	}

	c.crop = pct
	c.markSelectingLocked()
	c.schedulePreviewLocked()
	c.publishLocked()
	return nil
}

// UpdateTransform sets the scale and rotation applied to the source
func (c *Controller) UpdateTransform(t types.Transform) error {
	if !c.opts.AllowTransform && !t.IsIdentity() {
		return ErrTransformDisabled
	}
	if !(t.Scale > 0) || math.IsInf(t.Scale, 0) || math.IsNaN(t.RotateDegrees) ||
		t.RotateDegrees < -180 || t.RotateDegrees > 180 {
		return fmt.Errorf("%w: scale %v, rotate %v", ErrInvalidTransform, t.Scale, t.RotateDegrees)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.transform = t
	if c.image != nil {
		c.markSelectingLocked()
		c.schedulePreviewLocked()
	}
	c.publishLocked()
	return nil
}

// ToggleAspect switches between a fixed ratio and free selection. Turning
// a ratio on replaces the selection with a centred crop of that ratio.
func (c *Controller) ToggleAspect(a types.Aspect) error {
	if a.Ratio < 0 || math.IsNaN(a.Ratio) || math.IsInf(a.Ratio, 0) {
		return geometry.ErrInvalidAspect
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.aspect = a

	if a.Locked() && c.image != nil {
		crop, err := geometry.CenterAspectCrop(c.display.Width, c.display.Height, a.Ratio)
		if err != nil {
			c.publishLocked()
			return err
		}
		c.crop = crop
		c.markSelectingLocked()
		c.schedulePreviewLocked()
	}
	c.publishLocked()
	return nil
}

// RequestAnalyze renders the selection at natural resolution, encodes it
// losslessly and classifies it. Only one analysis runs at a time. A result
// for an image replaced during the call is dropped with ErrStaleResult.
func (c *Controller) RequestAnalyze(ctx context.Context) (*types.Classification, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.analyzing {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	if c.image == nil || c.crop.Empty() {
		c.lastErr = ErrNoSelection
		c.publishLocked()
		c.mu.Unlock()
		return nil, ErrNoSelection
	}
	region, err := geometry.SourceRect(c.crop, c.display)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}

	c.previews.Cancel()
	job := raster.Job{Source: c.image, Region: region, Transform: c.transform, Mode: raster.Export}
	c.analyzing = true
	c.setStateLocked(StateAnalyzing)
	c.mu.Unlock()

	labels, err := c.export(ctx, job)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.analyzing = false
	if c.closed {
		return nil, ErrClosed
	}
	if c.image == nil || c.image.ID != job.Source.ID {
		logger.Info("discarding classification for replaced image %s", job.Source.ID)
		return nil, ErrStaleResult
	}
	defer c.refreshPreviewLocked()

	if err != nil {
		c.lastErr = err
		logger.Warn("analysis failed: %v", err)
		c.setStateLocked(StateError)
		return nil, err
	}

	res := &types.Classification{
		SourceID: job.Source.ID,
		Region:   region,
		Labels:   classification.Normalize(labels, c.opts.TopK),
	}
	c.result = res
	c.lastErr = nil
	if top, ok := res.Top(); ok {
		logger.Info("classified %s: %s (%.3f)", job.Source.ID, top.Label, top.Score)
	}
	c.setStateLocked(StateResulted)
	return res, nil
}

// export runs with the lock released; it only reads the immutable job
func (c *Controller) export(ctx context.Context, job raster.Job) ([]types.Label, error) {
	out, err := c.rasterizer.Run(job)
	if err != nil {
		return nil, fmt.Errorf("export render: %w", err)
	}
	data, err := c.processor.EncodeForClassifier(out, c.opts.Encode)
	if err != nil {
		return nil, fmt.Errorf("export encode: %w", err)
	}
	logger.Debug("exported %dx%d region of %s (%d bytes)", out.Bounds().Dx(), out.Bounds().Dy(), job.Source.ID, len(data))

	labels, err := c.classifier.Classify(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrClassificationFailed, err)
	}
	return labels, nil
}

// Snapshot returns the current state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe returns a channel that always holds the latest snapshot.
// Slow readers skip intermediate snapshots. The returned function
// unsubscribes and closes the channel.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.snapshotLocked()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

// WaitPreview blocks until no preview render is pending or running
func (c *Controller) WaitPreview(ctx context.Context) error {
	return c.previews.Wait(ctx)
}

// Close stops the preview scheduler, closes subscriptions and releases
// the held rasters. Calls after Close return ErrClosed.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.previews.Close()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.preview = nil
	c.image = nil
	c.result = nil
}

// renderPreview is the scheduler callback
func (c *Controller) renderPreview(ctx context.Context, job raster.Job) {
	if ctx.Err() != nil {
		return
	}
	out, err := c.rasterizer.Run(job)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.image == nil || c.image.ID != job.Source.ID || c.crop.Empty() {
		logger.Debug("dropping preview for %s", job.Source.ID)
		return
	}
	if err != nil {
		logger.Warn("preview render failed: %v", err)
		return
	}

	c.preview = out
	c.installed = job
	if c.state == StateSelecting {
		c.state = StatePreviewing
	}
	c.publishLocked()
}

func (c *Controller) schedulePreviewLocked() {
	job, ok := c.previewJobLocked()
	if !ok {
		c.previews.Cancel()
		return
	}
	c.previews.Submit(job)
}

// refreshPreviewLocked re-queues a preview that an analysis cancelled
func (c *Controller) refreshPreviewLocked() {
	job, ok := c.previewJobLocked()
	if !ok || c.previews.Pending() {
		return
	}
	if c.installed.Source == job.Source && c.installed.Region == job.Region && c.installed.Transform == job.Transform {
		return
	}
	c.previews.Submit(job)
}

func (c *Controller) previewJobLocked() (raster.Job, bool) {
	if c.image == nil || c.crop.Empty() {
		return raster.Job{}, false
	}
	region, err := geometry.SourceRect(c.crop, c.display)
	if err != nil {
		logger.Debug("preview skipped: %v", err)
		return raster.Job{}, false
	}
	return raster.Job{Source: c.image, Region: region, Transform: c.transform, Mode: raster.Preview}, true
}

// markSelectingLocked re-enters Selecting after an edit; in-flight
// captures and analyses keep their state
func (c *Controller) markSelectingLocked() {
	switch c.state {
	case StatePreviewing, StateResulted, StateError, StateIdle:
		c.state = StateSelecting
	}
}

func (c *Controller) setStateLocked(s State) {
	if c.state != s {
		logger.Debug("pipeline: %s -> %s", c.state, s)
	}
	c.state = s
	c.publishLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		State:     c.state,
		Source:    c.image,
		Display:   c.display,
		Crop:      c.crop,
		Draft:     c.draft,
		Transform: c.transform,
		Aspect:    c.aspect,
		Preview:   c.preview,
		Result:    c.result,
		Err:       c.lastErr,
	}
}

// publishLocked replaces whatever snapshot a subscriber has not read yet
func (c *Controller) publishLocked() {
	if len(c.subs) == 0 {
		return
	}
	s := c.snapshotLocked()
	for _, ch := range c.subs {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- s
		}
	}
}
