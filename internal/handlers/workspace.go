package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ui-annotator/internal/annotation"
	"ui-annotator/internal/backend"
	"ui-annotator/internal/canvas"
	"ui-annotator/internal/export"
	"ui-annotator/internal/images"
	"ui-annotator/internal/jobs"
	"ui-annotator/internal/models"
	"ui-annotator/internal/workspace"
	"ui-annotator/pkg/imaging"
)

// BackendInfo is the read-only part of the prediction backend the workspace
// exposes to its client.
type BackendInfo interface {
	Models(ctx context.Context) ([]models.ModelInfo, error)
	Health(ctx context.Context) (*models.HealthResponse, error)
}

// readFiles collects every multipart file under "files" (or "file").
func readFiles(c *gin.Context) ([]images.File, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, err
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		headers = form.File["file"]
	}

	files := make([]images.File, 0, len(headers))
	for _, fh := range headers {
		data, err := readFormFile(fh)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
		}
		files = append(files, images.File{
			Name:        fh.Filename,
			Data:        data,
			ContentType: imaging.DetectContentType(data),
		})
	}
	return files, nil
}

func LoadImages(ws *workspace.Workspace) gin.HandlerFunc {
	return func(c *gin.Context) {
		files, err := readFiles(c)
		if err != nil || len(files) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No image files provided"})
			return
		}

		skipped, err := ws.LoadImages(c.Request.Context(), files)
		if errors.Is(err, workspace.ErrNoImages) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No valid images provided", "skipped": skipped})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"skipped": skipped, "state": ws.State()})
	}
}

func SelectImage(ws *workspace.Workspace) gin.HandlerFunc {
	return func(c *gin.Context) {
		index, err := strconv.Atoi(c.Param("index"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid image index"})
			return
		}
		err = ws.Navigate(c.Request.Context(), index)
		if errors.Is(err, images.ErrIndexOutOfRange) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Image not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, ws.State())
	}
}

func GetState(ws *workspace.Workspace) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, ws.State())
	}
}

// ServeBlob serves an image registered with the in-memory display URLs.
func ServeBlob(blobs *images.BlobRegistry) gin.HandlerFunc {
	return func(c *gin.Context) {
		f, ok := blobs.Get(c.Param("handle"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Image not found"})
			return
		}
		contentType := f.ContentType
		if contentType == "" {
			contentType = imaging.DetectContentType(f.Data)
		}
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, contentType, f.Data)
	}
}

type pointerRequest struct {
	Type          canvas.EventType `json:"type" binding:"required"`
	X             float64          `json:"x"`
	Y             float64          `json:"y"`
	Buttons       int              `json:"buttons"`
	DisplayWidth  float64          `json:"displayWidth"`
	DisplayHeight float64          `json:"displayHeight"`
}

func PointerEvent(ws *workspace.Workspace) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req pointerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		switch req.Type {
		case canvas.PointerDown, canvas.PointerMove, canvas.PointerUp, canvas.PointerLeave:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown event type %q", req.Type)})
			return
		}

		ev := canvas.Event{Type: req.Type, X: req.X, Y: req.Y, Buttons: req.Buttons}
		c.JSON(http.StatusOK, ws.Pointer(ev, req.DisplayWidth, req.DisplayHeight))
	}
}

func Frame(ws *workspace.Workspace) gin.HandlerFunc {
	return func(c *gin.Context) {
		var buf bytes.Buffer
		err := ws.Frame(&buf)
		if errors.Is(err, workspace.ErrNoImages) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No image loaded"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, "image/png", buf.Bytes())
	}
}

func SetTag(ws *workspace.Workspace) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Tag models.Tag `json:"tag" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := ws.SetTag(req.Tag); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"tag": req.Tag})
	}
}

type boxPatch struct {
	X      *float64    `json:"x"`
	Y      *float64    `json:"y"`
	Width  *float64    `json:"width"`
	Height *float64    `json:"height"`
	Tag    *models.Tag `json:"tag"`
}

func UpdateBox(ws *workspace.Workspace) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req boxPatch
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		box, err := ws.UpdateBox(c.Param("id"), annotation.Patch{
			X: req.X, Y: req.Y, Width: req.Width, Height: req.Height, Tag: req.Tag,
		})
		switch {
		case errors.Is(err, workspace.ErrBoxNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Annotation not found"})
		case err != nil:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, box)
		}
	}
}

func DeleteBox(ws *workspace.Workspace) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := ws.RemoveBox(c.Param("id")); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Annotation not found"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func Highlight(ws *workspace.Workspace) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			ID string `json:"id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := ws.Highlight(req.ID); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Annotation not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"highlighted": req.ID})
	}
}

func Predict(ws *workspace.Workspace) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Model string `json:"model"`
		}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		boxes, err := ws.Predict(c.Request.Context(), req.Model)
		switch {
		case errors.Is(err, jobs.ErrNoImage), errors.Is(err, jobs.ErrDimensionsUnknown):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, jobs.ErrPredictionInFlight):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		case errors.Is(err, backend.ErrTimeout):
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Prediction timed out"})
		case err != nil:
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, gin.H{"added": len(boxes), "boxes": boxes})
		}
	}
}

func SubmitBatch(ws *workspace.Workspace) gin.HandlerFunc {
	return func(c *gin.Context) {
		var files []images.File
		if c.ContentType() == "multipart/form-data" {
			var err error
			if files, err = readFiles(c); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		st, err := ws.SubmitBatch(c.Request.Context(), files, c.PostForm("model_name"))
		switch {
		case errors.Is(err, workspace.ErrNoImages), errors.Is(err, jobs.ErrNothingToSubmit):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "skipped": st.Skipped})
		case err != nil:
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusAccepted, batchResponse(st))
		}
	}
}

func batchResponse(st jobs.BatchStatus) gin.H {
	return gin.H{
		"entries":  st.Entries,
		"done":     st.Done,
		"total":    st.Total,
		"skipped":  st.Skipped,
		"finished": st.Finished,
		"progress": st.Progress(),
	}
}

func GetBatch(ws *workspace.Workspace) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, ok := ws.BatchStatus()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "No batch submitted"})
			return
		}
		c.JSON(http.StatusOK, batchResponse(st))
	}
}

func writeArchive(c *gin.Context, docs []export.Document) {
	var buf bytes.Buffer
	if err := export.WriteZip(&buf, docs); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", export.ArchiveName(time.Now())))
	c.Data(http.StatusOK, "application/zip", buf.Bytes())
}

// ExportBatch zips the documents of every image the last batch completed.
func ExportBatch(ws *workspace.Workspace) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, ok := ws.BatchStatus()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "No batch submitted"})
			return
		}
		completed := make(map[string]bool)
		for _, e := range st.Entries {
			if e.Status == models.JobCompleted {
				completed[e.FileName] = true
			}
		}

		var docs []export.Document
		for _, doc := range ws.ExportAll() {
			if completed[doc.ImageName] {
				docs = append(docs, doc)
			}
		}
		if len(docs) == 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "No completed results to export"})
			return
		}
		writeArchive(c, docs)
	}
}

func ExportCurrent(ws *workspace.Workspace) gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, err := ws.ExportCurrent()
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "No image loaded"})
			return
		}
		var buf bytes.Buffer
		if err := export.WriteJSON(&buf, doc); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", export.EntryName(doc.ImageName)))
		c.Data(http.StatusOK, "application/json", buf.Bytes())
	}
}

func ExportAll(ws *workspace.Workspace) gin.HandlerFunc {
	return func(c *gin.Context) {
		docs := ws.ExportAll()
		if len(docs) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "No images loaded"})
			return
		}
		writeArchive(c, docs)
	}
}

func Notifications(ws *workspace.Workspace) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"notifications": ws.Notifications()})
	}
}

func Reset(ws *workspace.Workspace) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := ws.Reset(c.Request.Context()); err != nil {
			log.Printf("[WORKSPACE] reset: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func BackendModels(b BackendInfo) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := b.Models(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, models.ModelsResponse{Models: list})
	}
}

func BackendHealth(b BackendInfo) gin.HandlerFunc {
	return func(c *gin.Context) {
		h, err := b.Health(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unreachable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, h)
	}
}
