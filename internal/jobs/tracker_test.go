package jobs

import (
	"errors"
	"testing"

	"ui-annotator/internal/models"
)

func TestCompletionWaitsForSlowestJob(t *testing.T) {
	var calls []Outcome
	tr := NewTracker(func(out Outcome) { calls = append(calls, out) })
	tr.Track("job-1", "a.png")
	tr.Track("job-2", "b.png")
	tr.Track("job-3", "c.png")
	tr.Seal()

	for _, id := range []string{"job-1", "job-3"} {
		if tr.Observe(id, models.JobCompleted, "", "") != ActionFetch {
			t.Fatalf("Expected fetch for %s", id)
		}
		tr.Resolve(id, &models.JobResult{TaskID: id}, 1, nil)
	}
	if len(calls) != 0 {
		t.Fatal("completion fired before job-2 was terminal")
	}
	if done, total := tr.Progress(); done != 2 || total != 3 {
		t.Errorf("Expected progress 2/3, got %d/%d", done, total)
	}

	tr.Observe("job-2", models.JobProcessing, "50%", "")
	if len(calls) != 0 {
		t.Fatal("completion fired on a non-terminal status")
	}
	tr.Observe("job-2", models.JobFailed, "", "model crashed")

	if len(calls) != 1 {
		t.Fatalf("Expected exactly one completion, got %d", len(calls))
	}
	if len(calls[0].Succeeded) != 2 || len(calls[0].Failed) != 1 {
		t.Errorf("Expected 2 succeeded and 1 failed, got %+v", calls[0])
	}
	if calls[0].Failed[0].Error != "model crashed" {
		t.Errorf("Expected failure message, got %q", calls[0].Failed[0].Error)
	}
}

func TestTerminalStatesAreAbsorbing(t *testing.T) {
	fired := 0
	tr := NewTracker(func(Outcome) { fired++ })
	tr.Track("job-1", "a.png")
	tr.Seal()

	if tr.Observe("job-1", models.JobCompleted, "", "") != ActionFetch {
		t.Fatal("Expected fetch on first completion")
	}
	if tr.Observe("job-1", models.JobCompleted, "", "") != ActionNone {
		t.Error("Expected duplicate completion to be ignored")
	}
	tr.Resolve("job-1", &models.JobResult{}, 3, nil)
	tr.Resolve("job-1", nil, 0, errors.New("late failure"))
	tr.Observe("job-1", models.JobFailed, "", "late")
	tr.Observe("job-1", models.JobProcessing, "", "")

	entries := tr.Entries()
	if entries[0].Status != models.JobCompleted || entries[0].Boxes != 3 {
		t.Errorf("terminal entry was modified: %+v", entries[0])
	}
	if fired != 1 {
		t.Errorf("Expected one completion, got %d", fired)
	}
}

func TestCompletionWaitsForSeal(t *testing.T) {
	fired := 0
	tr := NewTracker(func(Outcome) { fired++ })
	tr.Track("job-1", "a.png")
	tr.Observe("job-1", models.JobFailed, "", "")
	if fired != 0 {
		t.Fatal("completion fired before the batch was sealed")
	}
	tr.Seal()
	if fired != 1 {
		t.Errorf("Expected completion on seal, got %d", fired)
	}
}

func TestSubmissionFailuresCount(t *testing.T) {
	var got Outcome
	tr := NewTracker(func(out Outcome) { got = out })
	tr.FailSubmission("a.png", errors.New("connection refused"))
	tr.FailSubmission("b.png", errors.New("connection refused"))
	tr.Seal()

	if !tr.Done() || len(got.Failed) != 2 {
		t.Errorf("Expected immediate completion with 2 failures, got %+v", got)
	}
	if tr.Observe("anything", models.JobCompleted, "", "") != ActionNone {
		t.Error("Expected unknown job to be ignored")
	}
}

func TestUnknownStatusFailsJob(t *testing.T) {
	var got Outcome
	fired := 0
	tr := NewTracker(func(out Outcome) { got = out; fired++ })
	tr.Track("job-1", "a.png")
	tr.Seal()

	if tr.Observe("job-1", models.JobStatus("queued"), "", "") != ActionNone {
		t.Error("Expected no fetch for an unknown status")
	}
	if fired != 1 || len(got.Failed) != 1 {
		t.Fatalf("Expected the batch to finish with one failure, got %+v", got)
	}
	if got.Failed[0].Error != `unknown job status "queued"` {
		t.Errorf("unexpected error %q", got.Failed[0].Error)
	}
	if len(tr.Pending()) != 0 {
		t.Errorf("Expected nothing left to poll, got %v", tr.Pending())
	}
}
