// Package annotation owns the bounding boxes of the active image, the
// highlight state and the per-image archive of saved box sequences.
package annotation

import (
	"sync"

	"github.com/google/uuid"

	"ui-annotator/internal/models"
)

// Patch carries the fields Update should change; nil fields are left alone.
type Patch struct {
	X      *float64
	Y      *float64
	Width  *float64
	Height *float64
	Tag    *models.Tag
}

// Store is safe for concurrent use. Callers only ever receive copies of the
// box sequences.
type Store struct {
	mu          sync.RWMutex
	active      []models.BoundingBox
	activeName  string
	archive     map[string][]models.BoundingBox
	highlighted string
	dimensions  map[string]models.Dimensions
	newID       func() string
}

func NewStore() *Store {
	return &Store{
		archive:    make(map[string][]models.BoundingBox),
		dimensions: make(map[string]models.Dimensions),
		newID:      func() string { return uuid.New().String() },
	}
}

// Add appends box with a fresh id and returns the id.
func (s *Store) Add(box models.BoundingBox) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	box.ID = s.newID()
	if box.Source == "" {
		box.Source = models.SourceUser
	}
	s.active = append(s.active, box)
	return box.ID
}

// Update merges p into the box with the given id. Any change forces the box's
// source to user. It returns false when no such box exists or the patch would
// leave the box without a positive extent.
func (s *Store) Update(id string, p Patch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	b := s.active[i]
	if p.X != nil {
		b.X = *p.X
	}
	if p.Y != nil {
		b.Y = *p.Y
	}
	if p.Width != nil {
		b.Width = *p.Width
	}
	if p.Height != nil {
		b.Height = *p.Height
	}
	if p.Tag != nil {
		b.Tag = *p.Tag
	}
	if b.Width <= 0 || b.Height <= 0 || b.X < 0 || b.Y < 0 {
		return false
	}
	if p.X != nil || p.Y != nil || p.Width != nil || p.Height != nil || p.Tag != nil {
		b.Source = models.SourceUser
	}
	s.active[i] = b
	return true
}

// Move repositions a box; used by the canvas while dragging.
func (s *Store) Move(id string, x, y float64) bool {
	return s.Update(id, Patch{X: &x, Y: &y})
}

// Remove deletes the box and clears the highlight if it pointed at it.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	s.active = append(s.active[:i:i], s.active[i+1:]...)
	if s.highlighted == id {
		s.highlighted = ""
	}
	return true
}

func (s *Store) SetHighlighted(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.highlighted = id
}

func (s *Store) Highlighted() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.highlighted
}

// AddPredictions appends boxes that already carry ids and a prediction source.
func (s *Store) AddPredictions(boxes []models.BoundingBox) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = append(s.active, boxes...)
}

// IngestForImage delivers asynchronous results for the named image. If that
// image is the active one the boxes join the working set, otherwise they are
// appended to its archive entry.
func (s *Store) IngestForImage(name string, boxes []models.BoundingBox) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name == s.activeName && s.activeName != "" {
		s.active = append(s.active, boxes...)
		return
	}
	s.archive[name] = append(cloneBoxes(s.archive[name]), boxes...)
}

func (s *Store) SnapshotForImage(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshotLocked(name)
}

func (s *Store) RestoreForImage(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restoreLocked(name)
}

// SwitchImage snapshots the active set under from and restores to, with no
// other mutation able to interleave. An empty from skips the snapshot.
func (s *Store) SwitchImage(from, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if from != "" {
		s.snapshotLocked(from)
	}
	s.restoreLocked(to)
}

func (s *Store) snapshotLocked(name string) {
	s.archive[name] = cloneBoxes(s.active)
}

func (s *Store) restoreLocked(name string) {
	s.active = cloneBoxes(s.archive[name])
	s.activeName = name
	s.highlighted = ""
}

// ActiveImage is the name the working set belongs to.
func (s *Store) ActiveImage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeName
}

func (s *Store) Boxes() []models.BoundingBox {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneBoxes(s.active)
}

func (s *Store) Box(id string) (models.BoundingBox, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return s.active[i], true
	}
	return models.BoundingBox{}, false
}

// Archived returns the saved boxes for name.
func (s *Store) Archived(name string) ([]models.BoundingBox, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	boxes, ok := s.archive[name]
	return cloneBoxes(boxes), ok
}

// BoxesFor returns the live working set for the active image and the archive
// entry for any other.
func (s *Store) BoxesFor(name string) []models.BoundingBox {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if name == s.activeName {
		return cloneBoxes(s.active)
	}
	return cloneBoxes(s.archive[name])
}

// Counts reports the number of boxes per image name, the active image
// counted from its working set.
func (s *Store) Counts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int, len(s.archive)+1)
	for name, boxes := range s.archive {
		counts[name] = len(boxes)
	}
	if s.activeName != "" {
		counts[s.activeName] = len(s.active)
	}
	return counts
}

func (s *Store) SetDimensions(name string, d models.Dimensions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dimensions[name] = d
}

func (s *Store) Dimensions(name string) (models.Dimensions, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dimensions[name]
	return d, ok
}

// Reset clears the working set, the archive, the highlight and the
// dimension cache.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = nil
	s.activeName = ""
	s.archive = make(map[string][]models.BoundingBox)
	s.highlighted = ""
	s.dimensions = make(map[string]models.Dimensions)
}

func (s *Store) indexOf(id string) int {
	for i := range s.active {
		if s.active[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneBoxes(boxes []models.BoundingBox) []models.BoundingBox {
	if boxes == nil {
		return []models.BoundingBox{}
	}
	out := make([]models.BoundingBox, len(boxes))
	copy(out, boxes)
	return out
}
