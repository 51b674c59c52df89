package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ui-annotator/internal/images"
)

var ErrUnknownURL = errors.New("display URL was not issued here")

// ObjectStore is the part of MinIOClient the display URLs need.
type ObjectStore interface {
	UploadBytes(ctx context.Context, objectName string, data []byte, contentType string) error
	DeleteFile(ctx context.Context, objectName string) error
	GetPresignedURL(ctx context.Context, objectName string, ttl time.Duration) (string, error)
}

// DisplayURLs serves workspace images from object storage. Creating a URL
// uploads the file and presigns it; revoking deletes the object.
type DisplayURLs struct {
	store  ObjectStore
	prefix string
	TTL    time.Duration

	mu      sync.Mutex
	objects map[string]string
}

func NewDisplayURLs(store ObjectStore, prefix string) *DisplayURLs {
	return &DisplayURLs{
		store:   store,
		prefix:  prefix,
		TTL:     DefaultPresignTTL,
		objects: make(map[string]string),
	}
}

func (d *DisplayURLs) CreateURL(ctx context.Context, f images.File) (string, error) {
	name := GenerateObjectName(d.prefix, f.Name)
	if err := d.store.UploadBytes(ctx, name, f.Data, f.ContentType); err != nil {
		return "", err
	}
	url, err := d.store.GetPresignedURL(ctx, name, d.TTL)
	if err != nil {
		if delErr := d.store.DeleteFile(ctx, name); delErr != nil {
			return "", errors.Join(err, delErr)
		}
		return "", err
	}

	d.mu.Lock()
	d.objects[url] = name
	d.mu.Unlock()
	return url, nil
}

func (d *DisplayURLs) RevokeURL(ctx context.Context, url string) error {
	d.mu.Lock()
	name, ok := d.objects[url]
	delete(d.objects, url)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownURL, url)
	}
	return d.store.DeleteFile(ctx, name)
}

// Outstanding is the number of URLs created and not yet revoked.
func (d *DisplayURLs) Outstanding() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.objects)
}
