package images

import (
	"log"

	"ui-annotator/pkg/imaging"
)

const (
	DefaultMaxFiles    = 100
	DefaultMaxFileSize = imaging.MaxUploadSize
)

// Guard filters files before they are submitted to the backend.
type Guard struct {
	MaxFiles    int
	MaxFileSize int
}

func DefaultGuard() Guard {
	return Guard{MaxFiles: DefaultMaxFiles, MaxFileSize: DefaultMaxFileSize}
}

// Filter keeps image files within the size limit, up to MaxFiles of them, and
// reports how many were skipped.
func (g Guard) Filter(files []File) (accepted []File, skipped int) {
	for _, f := range files {
		contentType := f.ContentType
		if contentType == "" {
			contentType = imaging.DetectContentType(f.Data)
		}
		switch {
		case !imaging.IsImageType(contentType):
			log.Printf("[IMAGES] skipping %s: not an image (%s)", f.Name, contentType)
			skipped++
		case g.MaxFileSize > 0 && len(f.Data) > g.MaxFileSize:
			log.Printf("[IMAGES] skipping %s: %d bytes exceeds limit", f.Name, len(f.Data))
			skipped++
		case g.MaxFiles > 0 && len(accepted) >= g.MaxFiles:
			skipped++
		default:
			accepted = append(accepted, f)
		}
	}
	return accepted, skipped
}
