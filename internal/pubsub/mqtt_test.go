package pubsub

import (
	"errors"
	"sort"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"ui-annotator/internal/models"
)

type doneToken struct {
	mqtt.Token
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }

func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeClient struct {
	mqtt.Client
	open    bool
	subErr  error
	filters []map[string]byte
}

func (f *fakeClient) IsConnected() bool      { return f.open }
func (f *fakeClient) IsConnectionOpen() bool { return f.open }

func (f *fakeClient) SubscribeMultiple(filters map[string]byte, _ mqtt.MessageHandler) mqtt.Token {
	f.filters = append(f.filters, filters)
	return doneToken{err: f.subErr}
}

func (f *fakeClient) Unsubscribe(...string) mqtt.Token { return doneToken{} }

func TestJobTopic(t *testing.T) {
	if got := JobTopic("annotator/", "abc"); got != "annotator/jobs/abc" {
		t.Errorf("Expected annotator/jobs/abc, got %s", got)
	}
}

func TestDispatchRoutesByJob(t *testing.T) {
	c := NewConn(Options{TopicPrefix: "annotator"})
	var got []models.JobEvent
	c.mu.Lock()
	c.handlers["job-1"] = func(ev models.JobEvent) { got = append(got, ev) }
	c.mu.Unlock()

	c.dispatch("annotator/jobs/job-1", []byte(`{"job_id":"job-1","status":"processing","data":{"progress":"10%"}}`))
	c.dispatch("annotator/jobs/job-1", []byte(`{"status":"completed"}`))
	c.dispatch("annotator/jobs/job-2", []byte(`{"job_id":"job-2","status":"completed"}`))
	c.dispatch("annotator/jobs/job-1", nil)
	c.dispatch("annotator/jobs/job-1", []byte(`{not json`))

	if len(got) != 2 {
		t.Fatalf("Expected 2 events for job-1, got %d", len(got))
	}
	if got[0].Data["progress"] != "10%" {
		t.Errorf("Expected progress payload, got %v", got[0].Data)
	}
	if got[1].JobID != "job-1" || got[1].Status != models.JobCompleted {
		t.Errorf("Expected job id taken from topic, got %+v", got[1])
	}
}

func TestSubscribeWithoutConnection(t *testing.T) {
	c := NewConn(Options{})
	err := c.Subscribe([]string{"job-1"}, func(models.JobEvent) {})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
	if err := c.Unsubscribe([]string{"job-1"}); err != nil {
		t.Errorf("Expected unsubscribe to succeed offline, got %v", err)
	}
	if ids := c.trackedIDs(); len(ids) != 0 {
		t.Errorf("Expected no tracked ids, got %v", ids)
	}
}

func TestSubscribeFailureForgetsJobs(t *testing.T) {
	c := NewConn(Options{TopicPrefix: "annotator"})
	c.client = &fakeClient{open: true, subErr: errors.New("not authorized")}

	err := c.Subscribe([]string{"job-1", "job-2"}, func(models.JobEvent) {})
	if err == nil || err.Error() != "not authorized" {
		t.Fatalf("Expected the subscribe error, got %v", err)
	}
	if ids := c.trackedIDs(); len(ids) != 0 {
		t.Errorf("Expected no tracked ids after a failed subscribe, got %v", ids)
	}
}

func TestReconnectRestoresSubscriptions(t *testing.T) {
	c := NewConn(Options{TopicPrefix: "annotator", QoS: 1})
	client := &fakeClient{}
	c.client = client

	// Offline subscriptions are kept for the next connect.
	if err := c.Subscribe([]string{"job-1", "job-2"}, func(models.JobEvent) {}); err != nil {
		t.Fatal(err)
	}
	if err := c.Subscribe([]string{"job-3"}, func(models.JobEvent) {}); err != nil {
		t.Fatal(err)
	}
	if err := c.Unsubscribe([]string{"job-2"}); err != nil {
		t.Fatal(err)
	}
	if len(client.filters) != 0 {
		t.Fatalf("Expected no subscribe calls while offline, got %v", client.filters)
	}

	client.open = true
	c.restore(client)

	if len(client.filters) != 1 {
		t.Fatalf("Expected one resubscribe call, got %d", len(client.filters))
	}
	var topics []string
	for topic, qos := range client.filters[0] {
		if qos != 1 {
			t.Errorf("Expected QoS 1 for %s, got %d", topic, qos)
		}
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	if len(topics) != 2 || topics[0] != "annotator/jobs/job-1" || topics[1] != "annotator/jobs/job-3" {
		t.Errorf("Expected job-1 and job-3 restored, got %v", topics)
	}

	c.Unsubscribe([]string{"job-1", "job-3"})
	empty := &fakeClient{open: true}
	c.restore(empty)
	if len(empty.filters) != 0 {
		t.Errorf("Expected nothing to restore, got %v", empty.filters)
	}
}
