package classification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/menta2k/region-classifier/pkg/client"
	"github.com/menta2k/region-classifier/pkg/types"
)

// DefaultTopK is how many labels are kept when no limit is configured
const DefaultTopK = 5

// DefaultPrompt asks a vision chat model to behave like an image classifier
const DefaultPrompt = `You are an image classifier.

Return JSON only:
{
  "labels": [
    {"label": "string", "score": 0.0}
  ]
}

HARD RULES
- Give up to 5 labels for what the image shows, most likely first.
- score is your confidence in [0,1]; scores need not sum to 1.
- Labels: lowercase, concise, no punctuation or duplicates.
- If the image is unreadable, return {"labels":[]}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// ErrNoLabels is returned when a response carries no usable label list
var ErrNoLabels = errors.New("classification: no labels in response")

var (
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLine     = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// Ranker wraps a classifier and normalises what it returns
type Ranker struct {
	client client.Classifier
	topK   int
}

// NewRanker creates a ranker keeping at most topK labels (0 keeps all)
func NewRanker(c client.Classifier, topK int) *Ranker {
	return &Ranker{client: c, topK: topK}
}

// Classify runs the wrapped classifier and ranks its labels
func (r *Ranker) Classify(ctx context.Context, image []byte) ([]types.Label, error) {
	labels, err := r.client.Classify(ctx, image)
	if err != nil {
		return nil, err
	}
	return Normalize(labels, r.topK), nil
}

// Normalize trims and deduplicates labels, clamps scores into [0,1] and
// sorts by score descending. Ties keep their original order.
func Normalize(labels []types.Label, topK int) []types.Label {
	seen := map[string]int{}
	out := make([]types.Label, 0, len(labels))
	for _, l := range labels {
		name := strings.TrimSpace(l.Label)
		if name == "" {
			continue
		}
		score := l.Score
		if math.IsNaN(score) {
			score = 0
		}
		score = math.Max(0, math.Min(1, score))

		key := strings.ToLower(name)
		if i, ok := seen[key]; ok {
			if score > out[i].Score {
				out[i].Score = score
			}
			continue
		}
		seen[key] = len(out)
		out = append(out, types.Label{Label: name, Score: score})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// ParseLabels extracts labels from a model or API response. It accepts a
// bare array of {label, score}, an object with a "labels" array, and the
// nested array some image-classification endpoints return for batches.
func ParseLabels(raw string) ([]types.Label, error) {
	raw = SanitizeModelJSON(raw)
	if raw == "" {
		return nil, ErrNoLabels
	}

	var flat []types.Label
	if err := json.Unmarshal([]byte(raw), &flat); err == nil {
		return flat, nil
	}

	var nested [][]types.Label
	if err := json.Unmarshal([]byte(raw), &nested); err == nil {
		if len(nested) == 0 {
			return nil, ErrNoLabels
		}
		return nested[0], nil
	}

	var wrapped struct {
		Labels *[]types.Label `json:"labels"`
	}
	if err := json.Unmarshal([]byte(raw), &wrapped); err != nil {
		return nil, fmt.Errorf("classification: parse response: %w", err)
	}
	if wrapped.Labels == nil {
		return nil, ErrNoLabels
	}
	return *wrapped.Labels, nil
}

// SanitizeModelJSON removes code fences, comments and trailing commas and
// keeps only the outermost JSON object or array.
func SanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = reBlock.ReplaceAllString(raw, "")
	raw = reLine.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	start := strings.IndexAny(raw, "{[")
	if start < 0 {
		return ""
	}
	closer := "}"
	if raw[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(raw, closer)
	if end <= start {
		return ""
	}
	return strings.TrimSpace(raw[start : end+1])
}
