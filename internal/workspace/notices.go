package workspace

import (
	"sync"
	"time"

	"ui-annotator/internal/canvas"
)

const (
	NoticePredictionAdded   canvas.NoticeKind = "prediction_added"
	NoticePredictionFailed  canvas.NoticeKind = "prediction_failed"
	NoticePredictionTimeout canvas.NoticeKind = "prediction_timeout"
	NoticeBatchCompleted    canvas.NoticeKind = "batch_completed"
	NoticeFilesSkipped      canvas.NoticeKind = "files_skipped"
)

const maxNotices = 100

type Notice struct {
	canvas.Notice
	At time.Time `json:"at"`
}

// Notices buffers user-facing messages until the client collects them. The
// oldest are dropped beyond maxNotices.
type Notices struct {
	mu    sync.Mutex
	items []Notice
	now   func() time.Time
}

func NewNotices() *Notices {
	return &Notices{now: time.Now}
}

func (n *Notices) Notify(c canvas.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, Notice{Notice: c, At: n.now()})
	if over := len(n.items) - maxNotices; over > 0 {
		n.items = append(n.items[:0:0], n.items[over:]...)
	}
}

// Drain returns the buffered notices and empties the buffer.
func (n *Notices) Drain() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.items
	n.items = nil
	if out == nil {
		out = []Notice{}
	}
	return out
}
