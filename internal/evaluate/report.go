package evaluate

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"text/tabwriter"

	"ui-annotator/internal/export"
	"ui-annotator/internal/models"
)

// LoadDir reads every *.json export document in dir. Files that fail to
// parse are logged and skipped.
func LoadDir(dir string) ([]export.Document, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", dir, err)
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var docs []export.Document
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			log.Printf("[EVAL] Skipping %s: %v", p, err)
			continue
		}
		var doc export.Document
		if err := json.Unmarshal(raw, &doc); err != nil || doc.ImageName == "" {
			log.Printf("[EVAL] Skipping %s: not an annotation export", p)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// WriteTable prints the per-tag table followed by an OVERALL row. FP and FN
// columns are included when showErrors is set.
func WriteTable(w io.Writer, res Result, showErrors bool) error {
	if len(res.Tags) == 0 {
		_, err := fmt.Fprintln(w, "No annotations found")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if showErrors {
		fmt.Fprintln(tw, "Tag\tGT\tTP\tFP\tFN\tPrecision\tRecall\tF1")
	} else {
		fmt.Fprintln(tw, "Tag\tGT\tTP\tPrecision\tRecall\tF1")
	}
	row := func(name string, c Counts) {
		p, r, f := Metrics(c)
		if showErrors {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%.3f\t%.3f\t%.3f\n", name, c.GroundTruth(), c.TP, c.FP, c.FN, p, r, f)
		} else {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%.3f\t%.3f\t%.3f\n", name, c.GroundTruth(), c.TP, p, r, f)
		}
	}
	for _, t := range res.SortedTags() {
		row(string(t), res.Tags[t])
	}
	row("OVERALL", res.Overall())
	return tw.Flush()
}

type Params struct {
	TruthDir     string  `json:"ground_truth_dir"`
	PredDir      string  `json:"predictions_dir"`
	IoUThreshold float64 `json:"iou_threshold"`
}

type TagReport struct {
	GroundTruth    int     `json:"total_ground_truth"`
	TruePositives  int     `json:"true_positives"`
	FalsePositives int     `json:"false_positives"`
	FalseNegatives int     `json:"false_negatives"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1_score"`
}

// Report is the JSON form of an evaluation run.
type Report struct {
	Params  Params                   `json:"evaluation_params"`
	PerTag  map[models.Tag]TagReport `json:"per_tag_metrics"`
	Overall TagReport                `json:"overall_metrics"`
}

func NewReport(res Result, params Params) Report {
	rep := Report{Params: params, PerTag: make(map[models.Tag]TagReport, len(res.Tags))}
	for t, c := range res.Tags {
		rep.PerTag[t] = tagReport(c)
	}
	rep.Overall = tagReport(res.Overall())
	return rep
}

func tagReport(c Counts) TagReport {
	p, r, f := Metrics(c)
	return TagReport{
		GroundTruth:    c.GroundTruth(),
		TruePositives:  c.TP,
		FalsePositives: c.FP,
		FalseNegatives: c.FN,
		Precision:      round4(p),
		Recall:         round4(r),
		F1:             round4(f),
	}
}

func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }

// WriteReport writes rep as indented JSON to path.
func WriteReport(path string, rep Report) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	raw, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
