package annotation

import (
	"fmt"
	"reflect"
	"testing"

	"ui-annotator/internal/models"
)

func newTestStore() *Store {
	s := NewStore()
	n := 0
	s.newID = func() string {
		n++
		return fmt.Sprintf("box-%d", n)
	}
	return s
}

func userBox(x, y, w, h float64) models.BoundingBox {
	return models.BoundingBox{X: x, Y: y, Width: w, Height: h, Tag: models.TagButton, Source: models.SourceUser}
}

func TestAddAssignsFreshIDs(t *testing.T) {
	s := newTestStore()
	a := s.Add(userBox(0, 0, 10, 10))
	b := s.Add(userBox(5, 5, 10, 10))
	if a == b || a == "" {
		t.Fatalf("Expected distinct ids, got %q and %q", a, b)
	}
	boxes := s.Boxes()
	if len(boxes) != 2 || boxes[0].ID != a || boxes[1].ID != b {
		t.Errorf("Expected insertion order [%s %s], got %+v", a, b, boxes)
	}
}

func TestUpdatePromotesPrediction(t *testing.T) {
	s := newTestStore()
	s.AddPredictions([]models.BoundingBox{{ID: "p1", X: 1, Y: 1, Width: 20, Height: 30, Tag: models.TagInput, Source: models.SourcePrediction}})

	tag := models.TagLink
	if !s.Update("p1", Patch{Tag: &tag}) {
		t.Fatal("Update returned false for existing box")
	}
	got, _ := s.Box("p1")
	if got.Source != models.SourceUser || got.Tag != models.TagLink {
		t.Errorf("Expected user/link, got %s/%s", got.Source, got.Tag)
	}
	if got.Width != 20 || got.Height != 30 {
		t.Errorf("Extent changed: %vx%v", got.Width, got.Height)
	}
}

func TestUpdateMissingBoxIsNoop(t *testing.T) {
	s := newTestStore()
	x := 3.0
	if s.Update("nope", Patch{X: &x}) {
		t.Error("Expected false for unknown id")
	}
}

func TestUpdateRejectsNonPositiveExtent(t *testing.T) {
	s := newTestStore()
	id := s.Add(userBox(0, 0, 10, 10))
	zero := 0.0
	if s.Update(id, Patch{Width: &zero}) {
		t.Error("Expected zero width to be rejected")
	}
	got, _ := s.Box(id)
	if got.Width != 10 {
		t.Errorf("Box mutated despite rejection: %+v", got)
	}
}

func TestRemoveClearsHighlight(t *testing.T) {
	s := newTestStore()
	id := s.Add(userBox(0, 0, 10, 10))
	s.SetHighlighted(id)
	if !s.Remove(id) {
		t.Fatal("Remove returned false")
	}
	if s.Highlighted() != "" {
		t.Errorf("Expected highlight cleared, got %q", s.Highlighted())
	}
	if len(s.Boxes()) != 0 {
		t.Error("Expected empty working set")
	}
}

func TestNavigateAwayAndBackRestoresBoxes(t *testing.T) {
	s := newTestStore()
	s.SwitchImage("", "a.png")
	s.Add(userBox(1, 2, 30, 40))
	s.Add(userBox(50, 60, 15, 25))
	before := s.Boxes()

	s.SwitchImage("a.png", "b.png")
	if len(s.Boxes()) != 0 {
		t.Fatalf("Expected empty set for b.png, got %d", len(s.Boxes()))
	}
	s.Add(userBox(9, 9, 11, 11))

	s.SwitchImage("b.png", "a.png")
	if !reflect.DeepEqual(before, s.Boxes()) {
		t.Errorf("Expected %+v, got %+v", before, s.Boxes())
	}
	if counts := s.Counts(); counts["a.png"] != 2 || counts["b.png"] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := newTestStore()
	s.RestoreForImage("a.png")
	id := s.Add(userBox(1, 1, 10, 10))
	s.SnapshotForImage("a.png")
	s.Move(id, 50, 50)

	archived, ok := s.Archived("a.png")
	if !ok || archived[0].X != 1 {
		t.Errorf("Archive shares memory with working set: %+v", archived)
	}
}

func TestIngestForImage(t *testing.T) {
	s := newTestStore()
	s.SwitchImage("", "active.png")
	pred := models.BoundingBox{ID: "p", X: 1, Y: 1, Width: 5, Height: 5, Tag: models.TagIcon, Source: models.SourcePrediction}

	s.IngestForImage("active.png", []models.BoundingBox{pred})
	if len(s.Boxes()) != 1 {
		t.Errorf("Expected active ingestion, got %d boxes", len(s.Boxes()))
	}

	s.IngestForImage("other.png", []models.BoundingBox{pred, pred})
	archived, _ := s.Archived("other.png")
	if len(archived) != 2 {
		t.Errorf("Expected 2 archived boxes, got %d", len(archived))
	}

	s.SwitchImage("active.png", "other.png")
	if len(s.Boxes()) != 2 {
		t.Errorf("Expected archived predictions restored, got %d", len(s.Boxes()))
	}
}

func TestReset(t *testing.T) {
	s := newTestStore()
	s.SwitchImage("", "a.png")
	id := s.Add(userBox(0, 0, 10, 10))
	s.SetHighlighted(id)
	s.SetDimensions("a.png", models.Dimensions{Width: 10, Height: 10})
	s.SnapshotForImage("a.png")

	s.Reset()
	if len(s.Boxes()) != 0 || s.Highlighted() != "" {
		t.Error("working set or highlight survived reset")
	}
	if _, ok := s.Archived("a.png"); ok {
		t.Error("archive survived reset")
	}
	if _, ok := s.Dimensions("a.png"); ok {
		t.Error("dimension cache survived reset")
	}
}
