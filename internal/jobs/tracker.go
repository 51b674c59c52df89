// Package jobs drives predictions against the backend: the synchronous
// single-image predict and batches of asynchronous jobs observed by polling
// or by push events.
package jobs

import (
	"fmt"
	"sync"

	"ui-annotator/internal/models"
)

// Action tells the caller of Observe what to do next.
type Action int

const (
	ActionNone Action = iota
	// ActionFetch means the job just completed and its result must be
	// fetched and handed to Resolve. It is returned once per job.
	ActionFetch
)

// Entry is one file of a batch.
type Entry struct {
	JobID    string            `json:"jobId,omitempty"`
	FileName string            `json:"fileName"`
	Status   models.JobStatus  `json:"status"`
	Progress string            `json:"progress,omitempty"`
	Error    string            `json:"error,omitempty"`
	Boxes    int               `json:"boxes"`
	Result   *models.JobResult `json:"-"`

	claimed  bool
	resolved bool
}

// Outcome is delivered once, when every entry of a batch is terminal.
type Outcome struct {
	Succeeded []Entry
	Failed    []Entry
}

// Tracker is the job id to status table of one batch. Terminal states are
// absorbing and the completion callback fires exactly once, after Seal and
// once every entry is resolved.
type Tracker struct {
	mu         sync.Mutex
	entries    []*Entry
	byID       map[string]*Entry
	resolved   int
	sealed     bool
	done       bool
	onComplete func(Outcome)
}

func NewTracker(onComplete func(Outcome)) *Tracker {
	return &Tracker{byID: make(map[string]*Entry), onComplete: onComplete}
}

// Track registers a submitted job in state pending.
func (t *Tracker) Track(jobID, fileName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byID[jobID]; ok || t.sealed {
		return
	}
	e := &Entry{JobID: jobID, FileName: fileName, Status: models.JobPending}
	t.entries = append(t.entries, e)
	t.byID[jobID] = e
}

// FailSubmission records a file whose upload never produced a job.
func (t *Tracker) FailSubmission(fileName string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return
	}
	t.entries = append(t.entries, &Entry{
		FileName: fileName,
		Status:   models.JobFailed,
		Error:    fmt.Sprintf("submission failed: %v", err),
		claimed:  true,
		resolved: true,
	})
	t.resolved++
}

// Seal closes the batch to new entries. Completion may fire from here when
// nothing is left outstanding.
func (t *Tracker) Seal() {
	t.mu.Lock()
	t.sealed = true
	out, fire := t.completeLocked()
	t.mu.Unlock()
	t.fire(out, fire)
}

// Observe applies a status report for jobID. Reports for unknown jobs and
// for jobs already completed or failed are ignored. A status outside the
// known set fails the job.
func (t *Tracker) Observe(jobID string, status models.JobStatus, progress, errMsg string) Action {
	t.mu.Lock()
	e, ok := t.byID[jobID]
	if !ok || e.claimed || e.resolved {
		t.mu.Unlock()
		return ActionNone
	}

	switch status {
	case models.JobPending, models.JobProcessing:
		e.Status = status
		if progress != "" {
			e.Progress = progress
		}
		t.mu.Unlock()
		return ActionNone
	case models.JobCompleted:
		e.claimed = true
		t.mu.Unlock()
		return ActionFetch
	case models.JobFailed:
		if errMsg == "" {
			errMsg = "job failed"
		}
	default:
		errMsg = fmt.Sprintf("unknown job status %q", status)
	}

	t.resolveLocked(e, nil, errMsg)
	out, fire := t.completeLocked()
	t.mu.Unlock()
	t.fire(out, fire)
	return ActionNone
}

// Resolve finishes a claimed job with its result, or marks it failed when
// err is non-nil. Later calls for the same job are ignored.
func (t *Tracker) Resolve(jobID string, result *models.JobResult, boxes int, err error) {
	t.mu.Lock()
	e, ok := t.byID[jobID]
	if !ok || e.resolved {
		t.mu.Unlock()
		return
	}
	e.claimed = true
	if err != nil {
		t.resolveLocked(e, nil, err.Error())
	} else {
		t.resolveLocked(e, result, "")
		e.Boxes = boxes
	}
	out, fire := t.completeLocked()
	t.mu.Unlock()
	t.fire(out, fire)
}

func (t *Tracker) resolveLocked(e *Entry, result *models.JobResult, errMsg string) {
	e.resolved = true
	e.claimed = true
	e.Progress = ""
	if errMsg != "" {
		e.Status = models.JobFailed
		e.Error = errMsg
	} else {
		e.Status = models.JobCompleted
		e.Result = result
	}
	t.resolved++
}

func (t *Tracker) completeLocked() (Outcome, bool) {
	if t.done || !t.sealed || t.resolved < len(t.entries) {
		return Outcome{}, false
	}
	t.done = true

	var out Outcome
	for _, e := range t.entries {
		if e.Status == models.JobCompleted {
			out.Succeeded = append(out.Succeeded, *e)
		} else {
			out.Failed = append(out.Failed, *e)
		}
	}
	return out, true
}

func (t *Tracker) fire(out Outcome, fire bool) {
	if fire && t.onComplete != nil {
		t.onComplete(out)
	}
}

// Pending lists jobs that still need status checks.
func (t *Tracker) Pending() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []string
	for _, e := range t.entries {
		if !e.claimed && !e.resolved {
			ids = append(ids, e.JobID)
		}
	}
	return ids
}

// FileName returns the source file of a job.
func (t *Tracker) FileName(jobID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byID[jobID]
	if !ok {
		return "", false
	}
	return e.FileName, true
}

// Progress is the number of terminal entries over the total.
func (t *Tracker) Progress() (done, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resolved, len(t.entries)
}

func (t *Tracker) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

func (t *Tracker) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = *e
	}
	return out
}
