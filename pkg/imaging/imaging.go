package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"

	dimaging "github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// MaxUploadSize is the largest image accepted for upload or prediction.
const MaxUploadSize = 10 << 20

var allowedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// DetectContentType sniffs the image type from the leading bytes.
func DetectContentType(data []byte) string {
	if len(data) > 512 {
		data = data[:512]
	}
	return http.DetectContentType(data)
}

// IsImageType reports whether contentType is one of the accepted image types.
func IsImageType(contentType string) bool {
	return allowedTypes[contentType]
}

// ValidateImage checks size and sniffed type of an uploaded image.
func ValidateImage(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty image")
	}
	if len(data) > MaxUploadSize {
		return fmt.Errorf("image is %d bytes, limit is %d", len(data), MaxUploadSize)
	}
	contentType := DetectContentType(data)
	if !IsImageType(contentType) {
		return fmt.Errorf("invalid file type: %s, only JPEG, PNG, GIF and WebP allowed", contentType)
	}
	return nil
}

// DecodeDimensions reads the natural size without decoding pixel data.
func DecodeDimensions(data []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, fmt.Errorf("image has no extent")
	}
	return cfg.Width, cfg.Height, nil
}

// Decode returns the full image, EXIF orientation applied.
func Decode(data []byte) (image.Image, error) {
	img, err := dimaging.Decode(bytes.NewReader(data), dimaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// PrepareForModel shrinks the image to fit maxDim on its longest side and
// re-encodes it as JPEG. Images already small enough are only re-encoded.
func PrepareForModel(data []byte, maxDim int) ([]byte, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	if maxDim > 0 && (b.Dx() > maxDim || b.Dy() > maxDim) {
		img = dimaging.Fit(img, maxDim, maxDim, dimaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := dimaging.Encode(&buf, img, dimaging.JPEG, dimaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
