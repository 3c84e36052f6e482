package config

import (
	"encoding/json"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds the application configuration
type Config struct {
	Capture    CaptureConfig    `json:"capture"`
	Selection  SelectionConfig  `json:"selection"`
	Preview    PreviewConfig    `json:"preview"`
	Export     ExportConfig     `json:"export"`
	Classifier ClassifierConfig `json:"classifier"`
	Output     OutputConfig     `json:"output"`
}

// CaptureConfig selects where source images come from
type CaptureConfig struct {
	Source  string `json:"source"` // "screen", a file path or an http(s) URL
	Display int    `json:"display"`
}

// SelectionConfig holds crop and transform behaviour
type SelectionConfig struct {
	Aspect         float64 `json:"aspect"` // 0 = free
	AllowTransform bool    `json:"allow_transform"`
	DebounceMS     int     `json:"debounce_ms"`
}

// PreviewConfig bounds the live preview raster
type PreviewConfig struct {
	MaxWidth     int    `json:"max_width"`
	MaxHeight    int    `json:"max_height"`
	Interpolator string `json:"interpolator"`
}

// ExportConfig controls the raster sent to the classifier
type ExportConfig struct {
	Format       string `json:"format"`
	MaxDim       int    `json:"max_dim"` // 0 keeps natural resolution
	Interpolator string `json:"interpolator"`
	Background   string `json:"background"` // #RRGGBBAA
}

// ClassifierConfig selects and configures the classification backend
type ClassifierConfig struct {
	Backend        string `json:"backend"`
	URL            string `json:"url"`
	Model          string `json:"model"`
	Token          string `json:"token"`
	Prompt         string `json:"prompt,omitempty"` // ollama and llamacpp only
	TopK           int    `json:"top_k"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	Dir          string `json:"dir"`
	Prefix       string `json:"prefix"`
	SavePreview  bool   `json:"save_preview"`
	SaveExport   bool   `json:"save_export"`
	DebugOverlay bool   `json:"debug_overlay"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			Source:  "screen",
			Display: 0,
		},
		Selection: SelectionConfig{
			Aspect:         0,
			AllowTransform: true,
			DebounceMS:     100,
		},
		Preview: PreviewConfig{
			MaxWidth:     300,
			MaxHeight:    300,
			Interpolator: "bilinear",
		},
		Export: ExportConfig{
			Format:       "png",
			MaxDim:       0,
			Interpolator: "catmullrom",
			Background:   "#00000000",
		},
		Classifier: ClassifierConfig{
			Backend:        "huggingface",
			TopK:           5,
			TimeoutSeconds: 300,
		},
		Output: OutputConfig{
			Dir:         "./output",
			Prefix:      "region_",
			SaveExport:  true,
			SavePreview: false,
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Missing fields keep
// their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Capture.Display < 0 {
		return fmt.Errorf("capture.display must not be negative")
	}

	if c.Selection.Aspect < 0 {
		return fmt.Errorf("selection.aspect must be 0 (free) or positive")
	}

	if c.Selection.DebounceMS < 0 {
		return fmt.Errorf("selection.debounce_ms must not be negative")
	}

	if c.Preview.MaxWidth < 1 || c.Preview.MaxHeight < 1 {
		return fmt.Errorf("preview.max_width and preview.max_height must be positive")
	}

	switch strings.ToLower(c.Export.Format) {
	case "png", "webp":
	default:
		return fmt.Errorf("export.format must be png or webp, got %q", c.Export.Format)
	}

	if c.Export.MaxDim < 0 {
		return fmt.Errorf("export.max_dim must not be negative")
	}

	if _, err := c.Export.BackgroundColor(); err != nil {
		return err
	}

	switch c.Classifier.Backend {
	case "huggingface", "ollama", "llamacpp":
	default:
		return fmt.Errorf("classifier.backend must be huggingface, ollama or llamacpp, got %q", c.Classifier.Backend)
	}

	if c.Classifier.TopK < 0 {
		return fmt.Errorf("classifier.top_k must not be negative")
	}

	if c.Classifier.TimeoutSeconds < 0 {
		return fmt.Errorf("classifier.timeout_seconds must not be negative")
	}

	return nil
}

// BackgroundColor parses Background as #RGB, #RRGGBB or #RRGGBBAA.
// An empty value is fully transparent.
func (e ExportConfig) BackgroundColor() (color.NRGBA, error) {
	s := strings.TrimPrefix(strings.TrimSpace(e.Background), "#")
	if s == "" {
		return color.NRGBA{}, nil
	}
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) == 6 {
		s += "ff"
	}
	if len(s) != 8 {
		return color.NRGBA{}, fmt.Errorf("export.background %q is not a hex colour", e.Background)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("export.background %q is not a hex colour: %w", e.Background, err)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "region-classifier", "config.json")
}
