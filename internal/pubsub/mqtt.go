// Package pubsub carries job status events over MQTT. Each job has its own
// topic, <prefix>/jobs/<jobId>; the job server publishes retained events and
// the workspace subscribes to the jobs it tracks.
package pubsub

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"ui-annotator/internal/models"
)

var ErrNotConnected = errors.New("mqtt client not connected")

type Options struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// Conn owns one MQTT client. Subscriptions are remembered and restored on
// every (re)connect.
type Conn struct {
	opts   Options
	client mqtt.Client

	mu       sync.Mutex
	handlers map[string]func(models.JobEvent)
}

func NewConn(opts Options) *Conn {
	if opts.ClientID == "" {
		opts.ClientID = "ui-annotator-" + uuid.New().String()
	}
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "ui-annotator"
	}
	return &Conn{opts: opts, handlers: make(map[string]func(models.JobEvent))}
}

// JobTopic is the topic carrying events for jobID.
func JobTopic(prefix, jobID string) string {
	return strings.TrimRight(prefix, "/") + "/jobs/" + jobID
}

func (c *Conn) topic(jobID string) string { return JobTopic(c.opts.TopicPrefix, jobID) }

func (c *Conn) Connect() error {
	log.Println("[MQTT] connecting to", c.opts.Broker, "with client ID:", c.opts.ClientID)
	opts := mqtt.NewClientOptions().AddBroker(c.opts.Broker).SetClientID(c.opts.ClientID)
	if c.opts.Username != "" {
		opts.SetUsername(c.opts.Username)
		opts.SetPassword(c.opts.Password)
	}
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(5 * time.Second)
	opts.SetConnectTimeout(30 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetOrderMatters(true)

	opts.OnConnect = c.restore
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Println("[MQTT] connection lost:", err)
	}

	c.client = mqtt.NewClient(opts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT: %w", token.Error())
	}
	return nil
}

// restore subscribes again to every tracked job after a (re)connect.
func (c *Conn) restore(client mqtt.Client) {
	ids := c.trackedIDs()
	log.Printf("[MQTT] connected, restoring %d subscriptions", len(ids))
	if len(ids) == 0 {
		return
	}
	if err := c.subscribeTopics(client, ids); err != nil {
		log.Println("[MQTT] resubscribe failed:", err)
	}
}

func (c *Conn) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
	log.Println("[MQTT] disconnected")
}

// Subscribe routes events for ids to handler.
func (c *Conn) Subscribe(ids []string, handler func(models.JobEvent)) error {
	if c.client == nil {
		return ErrNotConnected
	}
	c.mu.Lock()
	for _, id := range ids {
		c.handlers[id] = handler
	}
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		// Restored by OnConnect once the connection is back.
		return nil
	}
	if err := c.subscribeTopics(c.client, ids); err != nil {
		c.forget(ids)
		return err
	}
	return nil
}

func (c *Conn) forget(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.handlers, id)
	}
}

func (c *Conn) subscribeTopics(client mqtt.Client, ids []string) error {
	filters := make(map[string]byte, len(ids))
	for _, id := range ids {
		filters[c.topic(id)] = c.opts.QoS
	}
	token := client.SubscribeMultiple(filters, func(_ mqtt.Client, m mqtt.Message) {
		c.dispatch(m.Topic(), m.Payload())
	})
	token.Wait()
	return token.Error()
}

func (c *Conn) Unsubscribe(ids []string) error {
	c.forget(ids)

	if c.client == nil || !c.client.IsConnectionOpen() {
		return nil
	}
	topics := make([]string, len(ids))
	for i, id := range ids {
		topics[i] = c.topic(id)
	}
	token := c.client.Unsubscribe(topics...)
	token.Wait()
	return token.Error()
}

func (c *Conn) trackedIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.handlers))
	for id := range c.handlers {
		ids = append(ids, id)
	}
	return ids
}

// dispatch decodes one message and hands it to the job's handler. Empty
// payloads are cleared retained messages.
func (c *Conn) dispatch(topic string, payload []byte) {
	if len(payload) == 0 {
		return
	}
	var ev models.JobEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Println("[MQTT] error parsing event on", topic, string(payload))
		return
	}
	if ev.JobID == "" {
		ev.JobID = topic[strings.LastIndex(topic, "/")+1:]
	}

	c.mu.Lock()
	h := c.handlers[ev.JobID]
	c.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// PublishJobEvent publishes ev as the retained state of its job topic, so a
// subscriber that arrives late still sees the latest transition.
func (c *Conn) PublishJobEvent(ev models.JobEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode job event: %w", err)
	}
	return c.publish(c.topic(ev.JobID), payload)
}

// ClearJob removes the retained event of a deleted job.
func (c *Conn) ClearJob(jobID string) error {
	return c.publish(c.topic(jobID), nil)
}

func (c *Conn) publish(topic string, payload []byte) error {
	if c.client == nil || !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	token := c.client.Publish(topic, c.opts.QoS, true, payload)
	token.Wait()
	return token.Error()
}
