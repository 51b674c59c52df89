// Package evaluate scores predicted boxes against hand-drawn ground truth
// using IoU matching and per-tag precision, recall and F1.
package evaluate

import (
	"log"
	"math"
	"sort"

	"ui-annotator/internal/export"
	"ui-annotator/internal/models"
)

const DefaultIoUThreshold = 0.5

// IoU is the intersection over union of two boxes, 0 when they do not
// overlap.
func IoU(a, b models.BoundingBox) float64 {
	x1 := math.Max(a.X, b.X)
	y1 := math.Max(a.Y, b.Y)
	x2 := math.Min(a.X+a.Width, b.X+b.Width)
	y2 := math.Min(a.Y+a.Height, b.Y+b.Height)
	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	inter := (x2 - x1) * (y2 - y1)
	union := a.Width*a.Height + b.Width*b.Height - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

type Pair struct {
	Truth      models.BoundingBox
	Prediction models.BoundingBox
	IoU        float64
}

type MatchResult struct {
	TruePositives  []Pair
	FalsePositives []models.BoundingBox
	FalseNegatives []models.BoundingBox
}

// Match pairs each prediction, in order, with the unmatched ground truth box
// of the same tag that overlaps it most, provided the overlap reaches
// threshold. Ties go to the earlier ground truth box.
func Match(truth, preds []models.BoundingBox, threshold float64) MatchResult {
	var res MatchResult
	used := make([]bool, len(truth))

	for _, p := range preds {
		best, bestIoU := -1, 0.0
		for i, t := range truth {
			if used[i] || t.Tag != p.Tag {
				continue
			}
			iou := IoU(p, t)
			if iou > bestIoU && iou >= threshold {
				best, bestIoU = i, iou
			}
		}
		if best < 0 {
			res.FalsePositives = append(res.FalsePositives, p)
			continue
		}
		used[best] = true
		res.TruePositives = append(res.TruePositives, Pair{Truth: truth[best], Prediction: p, IoU: bestIoU})
	}
	for i, t := range truth {
		if !used[i] {
			res.FalseNegatives = append(res.FalseNegatives, t)
		}
	}
	return res
}

// Counts is the confusion tally of one tag.
type Counts struct {
	TP int `json:"tp"`
	FP int `json:"fp"`
	FN int `json:"fn"`
}

func (c Counts) GroundTruth() int { return c.TP + c.FN }

func (c Counts) add(o Counts) Counts {
	return Counts{TP: c.TP + o.TP, FP: c.FP + o.FP, FN: c.FN + o.FN}
}

// Metrics returns precision, recall and F1. Each is 0 when its denominator
// is 0.
func Metrics(c Counts) (precision, recall, f1 float64) {
	if c.TP+c.FP > 0 {
		precision = float64(c.TP) / float64(c.TP+c.FP)
	}
	if c.TP+c.FN > 0 {
		recall = float64(c.TP) / float64(c.TP+c.FN)
	}
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return precision, recall, f1
}

// Result is the per-tag tally of one evaluation run.
type Result struct {
	Tags   map[models.Tag]Counts
	Images int
}

func (r Result) SortedTags() []models.Tag {
	tags := make([]models.Tag, 0, len(r.Tags))
	for t := range r.Tags {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

func (r Result) Overall() Counts {
	var total Counts
	for _, c := range r.Tags {
		total = total.add(c)
	}
	return total
}

// Evaluate matches predictions against ground truth image by image. Both
// maps are keyed by image name; an image present on one side only counts
// all its boxes as misses or false alarms.
func Evaluate(truth, preds map[string][]models.BoundingBox, threshold float64) Result {
	res := Result{Tags: make(map[models.Tag]Counts)}
	names := make(map[string]bool, len(truth)+len(preds))
	for n := range truth {
		names[n] = true
	}
	for n := range preds {
		names[n] = true
	}

	for name := range names {
		gt, pr := truth[name], preds[name]
		if len(gt) == 0 && len(pr) == 0 {
			continue
		}
		res.Images++
		m := Match(gt, pr, threshold)
		for _, p := range m.TruePositives {
			c := res.Tags[p.Truth.Tag]
			c.TP++
			res.Tags[p.Truth.Tag] = c
		}
		for _, b := range m.FalsePositives {
			c := res.Tags[b.Tag]
			c.FP++
			res.Tags[b.Tag] = c
		}
		for _, b := range m.FalseNegatives {
			c := res.Tags[b.Tag]
			c.FN++
			res.Tags[b.Tag] = c
		}
		log.Printf("[EVAL] %s: %d truth, %d predicted, %d matched", name, len(gt), len(pr), len(m.TruePositives))
	}
	return res
}

// BoxesBySource indexes documents by image name, keeping only boxes drawn
// by source.
func BoxesBySource(docs []export.Document, source models.Source) map[string][]models.BoundingBox {
	out := make(map[string][]models.BoundingBox, len(docs))
	for _, d := range docs {
		var boxes []models.BoundingBox
		for _, b := range d.Annotations {
			if b.Source == source {
				boxes = append(boxes, b)
			}
		}
		out[d.ImageName] = boxes
	}
	return out
}
