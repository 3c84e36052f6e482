package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	regionclassifier "github.com/menta2k/region-classifier"
	"github.com/menta2k/region-classifier/internal/config"
	"github.com/menta2k/region-classifier/internal/logger"
	"github.com/menta2k/region-classifier/internal/utils"
	"github.com/menta2k/region-classifier/pkg/capture"
	"github.com/menta2k/region-classifier/pkg/pipeline"
	"github.com/menta2k/region-classifier/pkg/processing"
	"github.com/menta2k/region-classifier/pkg/raster"
	"github.com/menta2k/region-classifier/pkg/types"
)

func main() {
	var configPath, in, outDir, cropSpec, unit, displaySpec, aspectSpec string
	var backend, model, url, token, prompt, sendFmt, logPath string
	var display, topK, sendSize int
	var scale, rotate float64
	var debug, overlay, savePreview, writeConfig, listDisplays bool

	flag.StringVar(&configPath, "config", config.GetConfigPath(), "configuration file (used if it exists)")
	flag.StringVar(&in, "in", "", "image path or URL; \"screen\" captures a display")
	flag.IntVar(&display, "display", -1, "display index for screen capture")
	flag.StringVar(&outDir, "out", "", "output directory")
	flag.BoolVar(&listDisplays, "list-displays", false, "print the active displays and exit")

	flag.StringVar(&cropSpec, "crop", "", "selection x,y,width,height")
	flag.StringVar(&unit, "unit", "%", "selection unit: % or px")
	flag.StringVar(&displaySpec, "size", "", "size the image is shown at, WxH (default natural size)")
	flag.StringVar(&aspectSpec, "aspect", "", "lock aspect ratio, e.g. 16:9 or 1.5")
	flag.Float64Var(&scale, "scale", 1, "scale applied about the image centre")
	flag.Float64Var(&rotate, "rotate", 0, "clockwise rotation in degrees (-180..180)")

	flag.StringVar(&backend, "backend", "", "classifier backend: huggingface, ollama or llamacpp")
	flag.StringVar(&model, "model", "", "model name")
	flag.StringVar(&url, "url", "", "classifier server URL")
	flag.StringVar(&token, "token", os.Getenv("HF_TOKEN"), "API token (Hugging Face)")
	flag.StringVar(&prompt, "prompt", "", "instruction sent with the image (ollama, llamacpp)")
	flag.IntVar(&topK, "top", -1, "number of labels to keep, 0=all")
	flag.StringVar(&sendFmt, "sendfmt", "", "lossless format sent to the classifier: png|webp")
	flag.IntVar(&sendSize, "sendsize", -1, "max long side sent to the classifier (px), 0=natural")

	flag.BoolVar(&savePreview, "preview", false, "also save the bounded preview raster")
	flag.BoolVar(&overlay, "overlay", false, "save a debug overlay of the selection on the source")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.StringVar(&logPath, "log", "", "log file (default: stderr)")
	flag.BoolVar(&writeConfig, "write-config", false, "write the effective configuration to -config and exit")

	flag.Parse()

	if listDisplays {
		for i, b := range capture.Displays() {
			fmt.Printf("%d: %dx%d at %d,%d\n", i, b.Dx(), b.Dy(), b.Min.X, b.Min.Y)
		}
		return
	}

	cfg := config.Default()
	if utils.FileExists(configPath) {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	// flags win over the config file
	if in != "" {
		cfg.Capture.Source = in
	}
	if display >= 0 {
		cfg.Capture.Display = display
	}
	if outDir != "" {
		cfg.Output.Dir = outDir
	}
	if backend != "" {
		cfg.Classifier.Backend = backend
	}
	if model != "" {
		cfg.Classifier.Model = model
	}
	if url != "" {
		cfg.Classifier.URL = url
	}
	if token != "" {
		cfg.Classifier.Token = token
	}
	if prompt != "" {
		cfg.Classifier.Prompt = prompt
	}
	if topK >= 0 {
		cfg.Classifier.TopK = topK
	}
	if sendFmt != "" {
		cfg.Export.Format = sendFmt
	}
	if sendSize >= 0 {
		cfg.Export.MaxDim = sendSize
	}
	if aspectSpec != "" {
		ratio, err := parseAspect(aspectSpec)
		if err != nil {
			log.Fatal(err)
		}
		cfg.Selection.Aspect = ratio
	}
	cfg.Output.SavePreview = cfg.Output.SavePreview || savePreview
	cfg.Output.DebugOverlay = cfg.Output.DebugOverlay || overlay

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if writeConfig {
		if err := cfg.SaveToFile(configPath); err != nil {
			log.Fatal(err)
		}
		log.Printf("wrote %s", configPath)
		return
	}

	if logPath != "" {
		if err := logger.Setup(logPath); err != nil {
			log.Fatal(err)
		}
		defer logger.Close()
	} else {
		logger.SetOutput(os.Stderr)
	}
	logger.SetDebug(debug)

	if cropSpec == "" && cfg.Selection.Aspect == 0 {
		log.Fatalf("usage: %s -in image.png|URL|screen -crop x,y,w,h [-unit %%|px] [-size WxH] [-aspect 16:9] [-scale 1] [-rotate 0] [-backend huggingface|ollama|llamacpp] [-out dir]", filepath.Base(os.Args[0]))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, cropSpec, unit, displaySpec, types.Transform{Scale: scale, RotateDegrees: rotate}); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, cropSpec, unit, displaySpec string, transform types.Transform) error {
	opts, err := pipelineOptions(cfg)
	if err != nil {
		return err
	}

	cls, err := regionclassifier.NewClassifier(regionclassifier.ClassifierOptions{
		Backend: cfg.Classifier.Backend,
		URL:     cfg.Classifier.URL,
		Model:   cfg.Classifier.Model,
		Token:   cfg.Classifier.Token,
		Prompt:  cfg.Classifier.Prompt,
		TopK:    cfg.Classifier.TopK,
		Timeout: time.Duration(cfg.Classifier.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create classifier: %w", err)
	}

	var source capture.Source
	var stem string
	if cfg.Capture.Source == "" || cfg.Capture.Source == "screen" {
		source = capture.NewScreenSource(cfg.Capture.Display)
		stem = fmt.Sprintf("screen%d_%s", cfg.Capture.Display, time.Now().Format("20060102_150405"))
	} else {
		source = capture.NewFileSource(cfg.Capture.Source)
		if !strings.Contains(cfg.Capture.Source, "://") && !utils.IsImageFile(cfg.Capture.Source) {
			logger.Warn("%s does not have an image extension, trying to decode anyway", cfg.Capture.Source)
		}
		base := filepath.Base(cfg.Capture.Source)
		stem = strings.TrimSuffix(base, filepath.Ext(base))
	}

	ctrl, err := pipeline.NewController(source, cls, opts)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	if err := ctrl.RequestCapture(ctx); err != nil {
		return err
	}
	snap := ctrl.Snapshot()
	log.Printf("captured %dx%d", snap.Source.Width, snap.Source.Height)

	if displaySpec != "" {
		w, h, err := parseSize(displaySpec)
		if err != nil {
			return err
		}
		if err := ctrl.SetDisplaySize(w, h); err != nil {
			return err
		}
	}
	if err := ctrl.UpdateTransform(transform); err != nil {
		return err
	}
	if cropSpec != "" {
		crop, err := parseCrop(cropSpec, unit)
		if err != nil {
			return err
		}
		if err := ctrl.UpdateCrop(crop); err != nil {
			return fmt.Errorf("invalid selection: %w", err)
		}
	}

	if err := ctrl.WaitPreview(ctx); err != nil {
		return err
	}
	snap = ctrl.Snapshot()
	region, err := snap.SourceRect()
	if err != nil {
		return err
	}
	log.Printf("selection %.2f,%.2f %.2fx%.2f%% -> source %.1f,%.1f %.1fx%.1f",
		snap.Crop.X, snap.Crop.Y, snap.Crop.Width, snap.Crop.Height,
		region.X, region.Y, region.Width, region.Height)

	result, err := ctrl.RequestAnalyze(ctx)
	if err != nil {
		return err
	}
	for i, l := range result.Labels {
		log.Printf("%d. %-30s %.4f", i+1, l.Label, l.Score)
	}

	return writeOutputs(cfg, opts, stem, ctrl.Snapshot(), result)
}

func writeOutputs(cfg *config.Config, opts pipeline.Options, stem string, snap pipeline.Snapshot, result *types.Classification) error {
	out := cfg.Output
	if err := utils.EnsureDir(out.Dir); err != nil {
		return err
	}
	processor := processing.NewProcessor()

	save := func(kind string, img image.Image, write func(path string) error) {
		path := utils.OutputPath(out.Dir, out.Prefix, stem, kind, cfg.Export.Format)
		if err := write(path); err != nil {
			log.Printf("save %s failed: %v", path, err)
			return
		}
		size := ""
		if info, err := os.Stat(path); err == nil {
			size = utils.FormatFileSize(info.Size())
		}
		log.Printf("wrote %s (%dx%d, %s)", path, img.Bounds().Dx(), img.Bounds().Dy(), size)
	}

	if out.SaveExport {
		r, err := raster.NewWithConfig(opts.Raster)
		if err != nil {
			return err
		}
		export, err := r.Render(snap.Source.Image, result.Region, snap.Transform, raster.Export)
		if err != nil {
			return err
		}
		save("export", export, func(path string) error {
			return processor.SaveImage(export, path, cfg.Export.Format, 100)
		})
	}
	if out.SavePreview && snap.Preview != nil {
		save("preview", snap.Preview, func(path string) error {
			return processor.SaveImage(snap.Preview, path, cfg.Export.Format, 100)
		})
	}
	if out.DebugOverlay {
		dbg := processor.CreateDebugOverlay(snap.Source.Image, result.Region)
		save("overlay", dbg, func(path string) error {
			return processor.SaveImage(dbg, path, cfg.Export.Format, 100)
		})
	}

	jsonPath := utils.OutputPath(out.Dir, out.Prefix, stem, "labels", "json")
	if err := writeLabels(jsonPath, result); err != nil {
		return err
	}
	log.Printf("wrote %s", jsonPath)
	return nil
}

func pipelineOptions(cfg *config.Config) (pipeline.Options, error) {
	bg, err := cfg.Export.BackgroundColor()
	if err != nil {
		return pipeline.Options{}, err
	}
	opts := pipeline.DefaultOptions()
	opts.Aspect = types.Aspect{Ratio: cfg.Selection.Aspect}
	opts.AllowTransform = cfg.Selection.AllowTransform
	opts.Debounce = time.Duration(cfg.Selection.DebounceMS) * time.Millisecond
	opts.Raster = raster.Config{
		PreviewMaxWidth:     cfg.Preview.MaxWidth,
		PreviewMaxHeight:    cfg.Preview.MaxHeight,
		PreviewInterpolator: cfg.Preview.Interpolator,
		ExportInterpolator:  cfg.Export.Interpolator,
		Background:          bg,
	}
	opts.Encode = types.EncodeConfig{Format: cfg.Export.Format, MaxDim: cfg.Export.MaxDim}
	// the classifier ranker already truncates
	opts.TopK = 0
	return opts, nil
}

// writeLabels stores the classification as indented JSON
func writeLabels(path string, result *types.Classification) error {
	js, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode labels: %w", err)
	}
	return os.WriteFile(path, js, 0o644)
}

func parseCrop(value, unit string) (types.Crop, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 4 {
		return types.Crop{}, fmt.Errorf("crop %q: want x,y,width,height", value)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return types.Crop{}, fmt.Errorf("crop %q: %w", value, err)
		}
		v[i] = f
	}

	var u types.Unit
	switch unit {
	case "%", "percent":
		u = types.UnitPercent
	case "px", "pixel":
		u = types.UnitPixel
	default:
		return types.Crop{}, errors.New("unit must be % or px")
	}
	return types.Crop{Unit: u, X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}

func parseSize(value string) (float64, float64, error) {
	w, h, ok := strings.Cut(strings.ToLower(value), "x")
	if !ok {
		return 0, 0, fmt.Errorf("size %q: want WxH", value)
	}
	fw, err1 := strconv.ParseFloat(w, 64)
	fh, err2 := strconv.ParseFloat(h, 64)
	if err1 != nil || err2 != nil || fw <= 0 || fh <= 0 {
		return 0, 0, fmt.Errorf("size %q: want positive WxH", value)
	}
	return fw, fh, nil
}

func parseAspect(value string) (float64, error) {
	if value == "free" {
		return 0, nil
	}
	if a, b, ok := strings.Cut(value, ":"); ok {
		fa, err1 := strconv.ParseFloat(a, 64)
		fb, err2 := strconv.ParseFloat(b, 64)
		if err1 != nil || err2 != nil || fa <= 0 || fb <= 0 {
			return 0, fmt.Errorf("aspect %q: want W:H", value)
		}
		return fa / fb, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("aspect %q: want a positive ratio", value)
	}
	return f, nil
}
