package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type staticToken string

func (s staticToken) Token() (string, error) { return string(s), nil }

func TestPredictSendsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/predict" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			t.Errorf("Expected bearer token, got %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Error(err)
			return
		}
		if got := r.FormValue("model_name"); got != "gpt-4o" {
			t.Errorf("Expected model_name gpt-4o, got %q", got)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Error(err)
			return
		}
		data, _ := io.ReadAll(f)
		if hdr.Filename != "shot.png" || string(data) != "pixels" {
			t.Errorf("unexpected upload %s %q", hdr.Filename, data)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"annotations":[{"x":500,"y":250,"width":100,"height":50,"tag":"button"}],"processing_time":0.4}`)
	}))
	defer srv.Close()

	c := New(srv.URL, WithTokenSource(staticToken("secret-token")))
	resp, err := c.Predict(context.Background(), "shot.png", []byte("pixels"), "gpt-4o")
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Annotations) != 1 || resp.Annotations[0].X != 500 {
		t.Errorf("unexpected annotations %+v", resp.Annotations)
	}
}

func TestAPIErrorCarriesDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		io.WriteString(w, `{"detail":"Unsupported model"}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Predict(context.Background(), "a.png", []byte("x"), "nope")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Message != "Unsupported model" {
		t.Errorf("unexpected error %+v", apiErr)
	}
}

func TestTimeoutIsDistinct(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := New(srv.URL, WithTimeout(50*time.Millisecond)).Predict(context.Background(), "a.png", []byte("x"), "m")
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
}

func TestMalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/status/job-1":
			io.WriteString(w, `{"task_id": "job-1", "status": `)
		default:
			io.WriteString(w, `{"message":"no id here"}`)
		}
	}))
	defer srv.Close()
	c := New(srv.URL)

	if _, err := c.Status(context.Background(), "job-1"); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("Expected ErrMalformedResponse for truncated JSON, got %v", err)
	}
	if _, err := c.Upload(context.Background(), "a.png", []byte("x"), ""); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("Expected ErrMalformedResponse without task_id, got %v", err)
	}
}

func TestStatusAndResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/status/job-7":
			io.WriteString(w, `{"task_id":"job-7","status":"completed","created_at":"2024-01-01T00:00:00Z"}`)
		case "/api/v1/results/job-7":
			io.WriteString(w, `{"task_id":"job-7","image":"a.png","analysis":{"annotations":[{"x":1,"y":2,"width":3,"height":4,"label":"link"}],"total_elements":1},"model_used":"m","processing_time":1.5,"completed_at":"2024-01-01T00:00:05Z"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	c := New(srv.URL)

	st, err := c.Status(context.Background(), "job-7")
	if err != nil || st.Status != "completed" {
		t.Fatalf("Expected completed, got %+v (%v)", st, err)
	}
	res, err := c.Result(context.Background(), "job-7")
	if err != nil {
		t.Fatal(err)
	}
	if res.Image != "a.png" || len(res.Analysis.Annotations) != 1 || res.Analysis.Annotations[0].Label != "link" {
		t.Errorf("unexpected result %+v", res)
	}
}
