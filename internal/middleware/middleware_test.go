package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"ui-annotator/internal/auth"
)

func newRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORSMiddleware())
	r.GET("/open", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/closed", AuthMiddleware(secret), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("service"))
	})
	return r
}

func TestCORSPreflight(t *testing.T) {
	r := newRouter("s")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/open", nil))

	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS headers on the preflight")
	}
}

func TestAuthMiddleware(t *testing.T) {
	r := newRouter("s3cret")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/closed", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without a token, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/closed", nil)
	req.Header.Set("Authorization", "Bearer nope")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for a bad token, got %d", w.Code)
	}

	token, err := auth.GenerateToken([]byte("s3cret"), "workspace", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/closed", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "workspace" {
		t.Errorf("Expected 200 with the service name, got %d %q", w.Code, w.Body.String())
	}
}
