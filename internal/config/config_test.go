package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadWorkspaceDefaults(t *testing.T) {
	t.Setenv("BACKEND_URL", "")
	t.Setenv("POLL_INTERVAL", "")
	t.Setenv("MQTT_BROKER", "")

	c := LoadWorkspace()
	if c.BackendURL != "http://localhost:8000" {
		t.Errorf("Expected default backend URL, got %s", c.BackendURL)
	}
	if c.PollInterval != 2*time.Second {
		t.Errorf("Expected 2s poll interval, got %s", c.PollInterval)
	}
	if c.MQTT.Enabled() {
		t.Error("Expected MQTT to be disabled without a broker")
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got %v", err)
	}
}

func TestLoadWorkspaceOverrides(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "500ms")
	t.Setenv("MAX_FILES", "not-a-number")
	t.Setenv("DISPLAY_STORE", "disk")
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")

	c := LoadWorkspace()
	if c.PollInterval != 500*time.Millisecond {
		t.Errorf("Expected 500ms, got %s", c.PollInterval)
	}
	if c.MaxFiles != 100 {
		t.Errorf("Expected the default after a bad value, got %d", c.MaxFiles)
	}
	if !c.MQTT.Enabled() || c.MQTT.Options("id").Broker != "tcp://broker:1883" {
		t.Errorf("unexpected MQTT settings %+v", c.MQTT)
	}
	if err := c.Validate(); err == nil {
		t.Error("Expected an unknown display store to fail validation")
	}
}

func TestLoadJobServer(t *testing.T) {
	t.Setenv("WORKERS", "4")
	t.Setenv("JOB_RETENTION", "")

	c := LoadJobServer()
	if c.Workers != 4 {
		t.Errorf("Expected 4 workers, got %d", c.Workers)
	}
	if c.Retention != 7*24*time.Hour {
		t.Errorf("Expected a 7 day retention, got %s", c.Retention)
	}
	if err := c.Validate(); err != nil {
		t.Error(err)
	}
}

const sampleCatalog = `
models:
  llava:
    name: LLaVA 13B
    model_code: llava:13b
  qwen-vl:
    name: Qwen2.5 VL
    model_code: qwen2.5vl:7b
    default: true
  moondream: {}
`

func TestParseCatalog(t *testing.T) {
	c, err := ParseCatalog([]byte(sampleCatalog))
	if err != nil {
		t.Fatal(err)
	}

	list := c.Models()
	if len(list) != 3 || list[0].ID != "llava" || list[1].ID != "moondream" {
		t.Fatalf("unexpected model list %+v", list)
	}
	if list[1].Name != "moondream" {
		t.Errorf("Expected the id as fallback name, got %s", list[1].Name)
	}
	if c.Default() != "qwen-vl" {
		t.Errorf("Expected qwen-vl as default, got %s", c.Default())
	}

	id, e, err := c.Resolve("")
	if err != nil || id != "qwen-vl" || e.ModelCode != "qwen2.5vl:7b" {
		t.Errorf("unexpected resolve result %s %+v %v", id, e, err)
	}
	if _, _, err := c.Resolve("gpt"); err == nil {
		t.Error("Expected an unknown model to fail")
	}
	if e, _ := c.Lookup("moondream"); e.ModelCode != "moondream" {
		t.Errorf("Expected the id as model code, got %s", e.ModelCode)
	}
}

func TestParseCatalogEmpty(t *testing.T) {
	if _, err := ParseCatalog([]byte("models: {}\n")); !errors.Is(err, ErrNoModels) {
		t.Errorf("Expected ErrNoModels, got %v", err)
	}
}
