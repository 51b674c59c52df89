// Package detector asks a vision model served by Ollama for the UI elements
// in a screenshot.
package detector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"

	"ui-annotator/internal/geometry"
	"ui-annotator/internal/models"
	"ui-annotator/pkg/imaging"
)

const (
	DefaultMaxImageDim = 1568
	DefaultTimeout     = 5 * time.Minute
)

var ErrEmptyResponse = errors.New("model returned empty response")

// ChatClient is the part of the Ollama API client the detector uses.
type ChatClient interface {
	Chat(ctx context.Context, req *api.ChatRequest, fn api.ChatResponseFunc) error
	Heartbeat(ctx context.Context) error
}

// Detection holds annotations on the 0..1000 axis of each image dimension.
type Detection struct {
	Annotations []models.Annotation
	Dimensions  models.Dimensions
}

// Pixels converts the detection to the image's pixel coordinates.
func (d Detection) Pixels() []models.Annotation {
	out := make([]models.Annotation, len(d.Annotations))
	for i, a := range d.Annotations {
		a.X = geometry.Denormalize(a.X, d.Dimensions.Width)
		a.Y = geometry.Denormalize(a.Y, d.Dimensions.Height)
		a.Width = geometry.Denormalize(a.Width, d.Dimensions.Width)
		a.Height = geometry.Denormalize(a.Height, d.Dimensions.Height)
		out[i] = a
	}
	return out
}

type Detector struct {
	client      ChatClient
	MaxImageDim int
	Timeout     time.Duration
	Temperature float64
}

// NewOllama connects to an Ollama host such as http://localhost:11434.
func NewOllama(host string) (*Detector, error) {
	parsed, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	base := &url.URL{Scheme: parsed.Scheme, Host: parsed.Host}
	return New(api.NewClient(base, http.DefaultClient)), nil
}

func New(client ChatClient) *Detector {
	return &Detector{
		client:      client,
		MaxImageDim: DefaultMaxImageDim,
		Timeout:     DefaultTimeout,
		Temperature: 0.1,
	}
}

// Detect runs model over one image.
func (d *Detector) Detect(ctx context.Context, model string, data []byte) (*Detection, error) {
	width, height, err := imaging.DecodeDimensions(data)
	if err != nil {
		return nil, err
	}
	prepared, err := imaging.PrepareForModel(data, d.MaxImageDim)
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok && d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	stream := false
	req := &api.ChatRequest{
		Model: model,
		Messages: []api.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt, Images: []api.ImageData{api.ImageData(prepared)}},
		},
		Stream:  &stream,
		Format:  json.RawMessage(`"json"`),
		Options: map[string]any{"temperature": d.Temperature},
	}

	var content string
	err = d.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content += resp.Message.Content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat error: %w", err)
	}
	if content == "" {
		return nil, ErrEmptyResponse
	}

	annotations, err := ParseAnnotations(content)
	if err != nil {
		log.Printf("[DETECTOR] unparseable response from %s: %.200s", model, content)
		return nil, err
	}
	return &Detection{
		Annotations: annotations,
		Dimensions:  models.Dimensions{Width: width, Height: height},
	}, nil
}

// Ping checks that the Ollama host answers.
func (d *Detector) Ping(ctx context.Context) error {
	return d.client.Heartbeat(ctx)
}
