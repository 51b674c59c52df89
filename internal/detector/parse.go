package detector

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"ui-annotator/internal/models"
)

const maxElements = 50

var systemPrompt = fmt.Sprintf(
	"You identify user-interface elements in screenshots of web and mobile apps. "+
		"Detect up to %d elements of these types: %s. "+
		"For every element output an object with the keys x, y, width, height and tag. "+
		"Coordinates are relative to the image on a 0 to 1000 scale for each axis: "+
		"(x, y) is the top-left corner, width and height the extent. "+
		"Respond with a JSON object whose single key \"annotations\" holds the array. "+
		`Example: {"annotations": [{"x": 100, "y": 200, "width": 120, "height": 40, "tag": "button"}]}`,
	maxElements, tagList())

const userPrompt = "Here is the image"

var ErrMalformedOutput = errors.New("model output is not a valid annotation list")

func tagList() string {
	names := make([]string, len(models.Tags))
	for i, t := range models.Tags {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

var (
	reBlockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment  = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailing     = regexp.MustCompile(`,(\s*[}\]])`)
)

// sanitizeModelJSON strips code fences, comments and trailing commas and
// keeps the outermost object or array.
func sanitizeModelJSON(raw string) string {
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

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	open, close := "{", "}"
	if i, j := strings.Index(raw, "["), strings.Index(raw, "{"); i >= 0 && (j < 0 || i < j) {
		open, close = "[", "]"
	}
	if start := strings.Index(raw, open); start >= 0 {
		if end := strings.LastIndex(raw, close); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

type rawAnnotation struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Tag    string  `json:"tag"`
	Label  string  `json:"label"`
}

// ParseAnnotations reads model output into normalized annotations. Boxes
// are clipped to the 0..1000 square; empty ones are dropped. Unknown tags
// become button and keep the model's word as label.
func ParseAnnotations(raw string) ([]models.Annotation, error) {
	cleaned := sanitizeModelJSON(raw)

	var items []rawAnnotation
	if strings.HasPrefix(cleaned, "[") {
		if err := json.Unmarshal([]byte(cleaned), &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
		}
	} else {
		var wrapper struct {
			Annotations *[]rawAnnotation `json:"annotations"`
		}
		if err := json.Unmarshal([]byte(cleaned), &wrapper); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
		}
		if wrapper.Annotations == nil {
			return nil, fmt.Errorf("%w: missing annotations key", ErrMalformedOutput)
		}
		items = *wrapper.Annotations
	}

	out := make([]models.Annotation, 0, len(items))
	for _, it := range items {
		x0 := clampScale(it.X)
		y0 := clampScale(it.Y)
		x1 := clampScale(it.X + it.Width)
		y1 := clampScale(it.Y + it.Height)
		if x1 <= x0 || y1 <= y0 {
			continue
		}

		a := models.Annotation{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0, Label: it.Label}
		tag := models.Tag(strings.ToLower(strings.TrimSpace(it.Tag)))
		if tag.Valid() {
			a.Tag = tag
		} else {
			a.Tag = models.TagButton
			if a.Label == "" {
				a.Label = it.Tag
			}
		}
		out = append(out, a)
		if len(out) == maxElements {
			break
		}
	}
	return out, nil
}

func clampScale(v float64) float64 {
	return math.Min(math.Max(v, 0), models.NormalizedScale)
}
