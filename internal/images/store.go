// Package images keeps the loaded image files, the current index and the one
// display URL that is live for the current image.
package images

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrIndexOutOfRange = errors.New("image index out of range")

type File struct {
	Name        string
	Data        []byte
	ContentType string
}

// URLProvider hands out a display URL for a file and takes it back.
type URLProvider interface {
	CreateURL(ctx context.Context, f File) (string, error)
	RevokeURL(ctx context.Context, url string) error
}

type Store struct {
	mu        sync.RWMutex
	urls      URLProvider
	files     []File
	index     int
	url       string
	completed int
}

func NewStore(urls URLProvider) *Store {
	return &Store{urls: urls}
}

// Load replaces the file list and shows the first file. Any previous URL is
// released first.
func (s *Store) Load(ctx context.Context, files []File) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.releaseLocked(ctx); err != nil {
		return err
	}
	s.files = append([]File(nil), files...)
	s.index = 0
	s.completed = 0
	if len(s.files) == 0 {
		return nil
	}
	return s.showLocked(ctx, 0)
}

// Navigate makes index current. An out of range index changes nothing.
func (s *Store) Navigate(ctx context.Context, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.files) {
		return ErrIndexOutOfRange
	}
	if err := s.releaseLocked(ctx); err != nil {
		return err
	}
	s.index = index
	return s.showLocked(ctx, index)
}

func (s *Store) showLocked(ctx context.Context, index int) error {
	url, err := s.urls.CreateURL(ctx, s.files[index])
	if err != nil {
		return fmt.Errorf("failed to create display URL for %s: %w", s.files[index].Name, err)
	}
	s.url = url
	return nil
}

func (s *Store) releaseLocked(ctx context.Context) error {
	if s.url == "" {
		return nil
	}
	if err := s.urls.RevokeURL(ctx, s.url); err != nil {
		return fmt.Errorf("failed to release display URL: %w", err)
	}
	s.url = ""
	return nil
}

// CurrentFile returns the file at the current index.
func (s *Store) CurrentFile() (File, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.index < 0 || s.index >= len(s.files) {
		return File{}, false
	}
	return s.files[s.index], true
}

func (s *Store) CurrentURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.url
}

func (s *Store) Index() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

// Files returns the loaded files in order.
func (s *Store) Files() []File {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]File(nil), s.files...)
}

// File looks a loaded file up by name.
func (s *Store) File(name string) (File, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.files {
		if f.Name == name {
			return f, true
		}
	}
	return File{}, false
}

func (s *Store) MarkCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed++
}

func (s *Store) Completed() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completed
}

// Reset releases the display URL and forgets every file.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.releaseLocked(ctx)
	s.url = ""
	s.files = nil
	s.index = 0
	s.completed = 0
	return err
}
