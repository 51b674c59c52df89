// Package export builds the per-image annotation document and packages many
// of them into a zip archive.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"ui-annotator/internal/models"
)

type Metadata struct {
	TotalAnnotations int                `json:"totalAnnotations"`
	TagCounts        map[models.Tag]int `json:"tagCounts"`
	ExportedAt       time.Time          `json:"exportedAt"`
}

type Document struct {
	ImageName       string               `json:"imageName"`
	ImageDimensions *models.Dimensions   `json:"imageDimensions"`
	Annotations     []models.BoundingBox `json:"annotations"`
	Metadata        Metadata             `json:"metadata"`
}

// Build assembles the export document for one image.
func Build(imageName string, dims *models.Dimensions, boxes []models.BoundingBox, now time.Time) Document {
	if boxes == nil {
		boxes = []models.BoundingBox{}
	}
	counts := make(map[models.Tag]int)
	for _, b := range boxes {
		counts[b.Tag]++
	}
	return Document{
		ImageName:       imageName,
		ImageDimensions: dims,
		Annotations:     boxes,
		Metadata: Metadata{
			TotalAnnotations: len(boxes),
			TagCounts:        counts,
			ExportedAt:       now.UTC(),
		},
	}
}

// EntryName is the file name a document gets inside an archive or download.
func EntryName(imageName string) string {
	base := filepath.Base(imageName)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." {
		stem = "image"
	}
	return stem + "_annotations.json"
}

// ArchiveName names a batch archive after its creation time.
func ArchiveName(now time.Time) string {
	return "batch_results_" + now.UTC().Format("2006-01-02T15-04-05") + ".zip"
}

func WriteJSON(w io.Writer, doc Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode export for %s: %w", doc.ImageName, err)
	}
	return nil
}

// WriteZip writes one JSON entry per document. Entries whose names collide
// get a numeric suffix.
func WriteZip(w io.Writer, docs []Document) error {
	zw := zip.NewWriter(w)
	used := make(map[string]int)

	for _, doc := range docs {
		name := EntryName(doc.ImageName)
		if n := used[name]; n > 0 {
			used[name]++
			name = fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ".json"), n, ".json")
		} else {
			used[name] = 1
		}

		hdr := &zip.FileHeader{Name: name, Method: zip.Deflate}
		hdr.Modified = doc.Metadata.ExportedAt
		f, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", name, err)
		}
		if err := WriteJSON(f, doc); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	return nil
}
