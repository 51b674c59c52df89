// Package config reads service settings from the environment. Call
// godotenv.Load first so a local .env file is honoured.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"ui-annotator/internal/images"
	"ui-annotator/internal/pubsub"
)

// MQTT settings shared by both services. An empty broker disables the push
// channel.
type MQTT struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

func (m MQTT) Enabled() bool { return m.Broker != "" }

func (m MQTT) Options(clientID string) pubsub.Options {
	return pubsub.Options{
		Broker:      m.Broker,
		ClientID:    clientID,
		Username:    m.Username,
		Password:    m.Password,
		TopicPrefix: m.TopicPrefix,
		QoS:         m.QoS,
	}
}

// Workspace configures cmd/server.
type Workspace struct {
	Port           string
	BackendURL     string
	DefaultModel   string
	PredictTimeout time.Duration
	PollInterval   time.Duration
	MaxFiles       int
	MaxFileSize    int

	// DisplayStore is "memory" for in-process blob URLs or "minio" for
	// presigned object URLs.
	DisplayStore string
	BlobPrefix   string

	// ServiceSecret signs tokens presented to the job server. Empty sends
	// no Authorization header.
	ServiceSecret string

	MQTT MQTT
}

// JobServer configures cmd/jobserver.
type JobServer struct {
	Port             string
	OllamaHost       string
	ModelConfigPath  string
	Workers          int
	QueueSize        int
	MaxImageDim      int
	Retention        time.Duration
	JanitorInterval  time.Duration
	DetectionTimeout time.Duration

	// JWTSecret enables bearer token checks on /api/v1 when set.
	JWTSecret string

	MQTT MQTT
}

func LoadWorkspace() *Workspace {
	return &Workspace{
		Port:           getEnv("PORT", "8080"),
		BackendURL:     getEnv("BACKEND_URL", "http://localhost:8000"),
		DefaultModel:   getEnv("DEFAULT_MODEL", ""),
		PredictTimeout: getDuration("PREDICT_TIMEOUT", 60*time.Second),
		PollInterval:   getDuration("POLL_INTERVAL", 2*time.Second),
		MaxFiles:       getInt("MAX_FILES", images.DefaultMaxFiles),
		MaxFileSize:    getInt("MAX_FILE_SIZE", images.DefaultMaxFileSize),
		DisplayStore:   getEnv("DISPLAY_STORE", "memory"),
		BlobPrefix:     getEnv("BLOB_PREFIX", "/api/blobs"),
		ServiceSecret:  os.Getenv("SERVICE_SECRET"),
		MQTT:           loadMQTT(),
	}
}

func LoadJobServer() *JobServer {
	return &JobServer{
		Port:             getEnv("PORT", "8000"),
		OllamaHost:       getEnv("OLLAMA_HOST", "http://localhost:11434"),
		ModelConfigPath:  getEnv("MODEL_CONFIG", "model_config.yaml"),
		Workers:          getInt("WORKERS", 2),
		QueueSize:        getInt("QUEUE_SIZE", 100),
		MaxImageDim:      getInt("MAX_IMAGE_DIM", 1568),
		Retention:        getDuration("JOB_RETENTION", 7*24*time.Hour),
		JanitorInterval:  getDuration("JANITOR_INTERVAL", time.Hour),
		DetectionTimeout: getDuration("DETECTION_TIMEOUT", 5*time.Minute),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		MQTT:             loadMQTT(),
	}
}

func loadMQTT() MQTT {
	return MQTT{
		Broker:      os.Getenv("MQTT_BROKER"),
		Username:    os.Getenv("MQTT_USERNAME"),
		Password:    os.Getenv("MQTT_PASSWORD"),
		TopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "ui-annotator"),
		QoS:         byte(getInt("MQTT_QOS", 1)),
	}
}

// Validate reports settings the workspace cannot start with.
func (c *Workspace) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("BACKEND_URL must be set")
	}
	if c.DisplayStore != "memory" && c.DisplayStore != "minio" {
		return fmt.Errorf("DISPLAY_STORE must be memory or minio, got %q", c.DisplayStore)
	}
	if c.MaxFiles < 1 {
		return fmt.Errorf("MAX_FILES must be positive")
	}
	return nil
}

func (c *JobServer) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be positive")
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("QUEUE_SIZE must be positive")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		log.Printf("Invalid %s=%q, using %d", key, val, defaultVal)
		return defaultVal
	}
	return n
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		log.Printf("Invalid %s=%q, using %s", key, val, defaultVal)
		return defaultVal
	}
	return d
}
