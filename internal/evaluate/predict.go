package evaluate

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ui-annotator/internal/export"
	"ui-annotator/internal/geometry"
	"ui-annotator/internal/jobs"
	"ui-annotator/internal/models"
	"ui-annotator/pkg/imaging"
)

const (
	DefaultConcurrency = 5
	MaxImages          = 1000
)

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true}

// Predictor is the synchronous prediction call of the backend client.
type Predictor interface {
	Predict(ctx context.Context, filename string, data []byte, model string) (*models.PredictionResponse, error)
}

// FindImages walks dir for image files, sorted by path and capped at limit.
func FindImages(dir string, limit int) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && imageExts[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	sort.Strings(paths)
	if limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}
	return paths, nil
}

// Prediction is the outcome for one image file.
type Prediction struct {
	Path     string
	Document export.Document
	Err      error
}

// BatchPredictor runs the backend over a directory of images.
type BatchPredictor struct {
	Client      Predictor
	Model       string
	Concurrency int
	now         func() time.Time
}

func NewBatchPredictor(client Predictor, model string) *BatchPredictor {
	return &BatchPredictor{Client: client, Model: model, Concurrency: DefaultConcurrency, now: time.Now}
}

// Run predicts every path. A failure is recorded on its Prediction and does
// not stop the others. Results keep the order of paths.
func (bp *BatchPredictor) Run(ctx context.Context, paths []string) []Prediction {
	out := make([]Prediction, len(paths))
	var done int
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	limit := bp.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	g.SetLimit(limit)
	for i, p := range paths {
		g.Go(func() error {
			doc, err := bp.predictOne(gctx, p)
			out[i] = Prediction{Path: p, Document: doc, Err: err}
			if err != nil {
				log.Printf("[EVAL] Prediction failed for %s: %v", p, err)
			}
			mu.Lock()
			done++
			log.Printf("[EVAL] Progress: %d/%d", done, len(paths))
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return out
}

func (bp *BatchPredictor) predictOne(ctx context.Context, path string) (export.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return export.Document{}, err
	}
	name := filepath.Base(path)
	resp, err := bp.Client.Predict(ctx, name, data, bp.Model)
	if err != nil {
		return export.Document{}, err
	}
	dims := resp.ImageDimensions
	if dims == nil || dims.Width <= 0 || dims.Height <= 0 {
		w, h, err := imaging.DecodeDimensions(data)
		if err != nil {
			return export.Document{}, err
		}
		dims = &models.Dimensions{Width: w, Height: h}
	}
	return PredictionDocument(name, *dims, resp.Annotations, bp.now()), nil
}

// PredictionDocument converts backend annotations on the normalized axis into
// an export document in whole pixels with ids pred-1, pred-2 and so on.
func PredictionDocument(imageName string, dims models.Dimensions, annotations []models.Annotation, now time.Time) export.Document {
	boxes := make([]models.BoundingBox, 0, len(annotations))
	for i, a := range annotations {
		boxes = append(boxes, models.BoundingBox{
			ID:     fmt.Sprintf("pred-%d", i+1),
			X:      math.Trunc(geometry.Denormalize(a.X, dims.Width)),
			Y:      math.Trunc(geometry.Denormalize(a.Y, dims.Height)),
			Width:  math.Trunc(geometry.Denormalize(a.Width, dims.Width)),
			Height: math.Trunc(geometry.Denormalize(a.Height, dims.Height)),
			Tag:    jobs.NormalizeTag(a.Tag, a.Label),
			Source: models.SourcePrediction,
		})
	}
	return export.Build(imageName, &dims, boxes, now)
}

// Save writes one <stem>_annotations.json per successful prediction into dir
// and returns how many were written.
func Save(dir string, preds []Prediction) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	saved := 0
	for _, p := range preds {
		if p.Err != nil {
			continue
		}
		path := filepath.Join(dir, export.EntryName(p.Document.ImageName))
		f, err := os.Create(path)
		if err != nil {
			return saved, fmt.Errorf("failed to create %s: %w", path, err)
		}
		err = export.WriteJSON(f, p.Document)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return saved, err
		}
		saved++
	}
	return saved, nil
}
