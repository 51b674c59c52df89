// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"ui-annotator/internal/annotation"
	"ui-annotator/internal/auth"
	"ui-annotator/internal/backend"
	"ui-annotator/internal/config"
	"ui-annotator/internal/handlers"
	"ui-annotator/internal/images"
	"ui-annotator/internal/jobs"
	"ui-annotator/internal/middleware"
	"ui-annotator/internal/pubsub"
	"ui-annotator/internal/storage"
	"ui-annotator/internal/workspace"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.LoadWorkspace()
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Display URLs for the current image
	var urls images.URLProvider
	blobs := images.NewBlobRegistry(cfg.BlobPrefix)
	if cfg.DisplayStore == "minio" {
		minioClient, err := storage.NewMinIOClient(ctx)
		if err != nil {
			log.Fatal("Failed to initialize MinIO client:", err)
		}
		urls = storage.NewDisplayURLs(minioClient, "display")
	} else {
		urls = blobs
	}

	opts := []backend.Option{backend.WithTimeout(cfg.PredictTimeout)}
	if cfg.ServiceSecret != "" {
		opts = append(opts, backend.WithTokenSource(auth.NewServiceSigner(cfg.ServiceSecret, "workspace")))
	}
	client := backend.New(cfg.BackendURL, opts...)

	// Job events arrive over MQTT when a broker is configured, otherwise the
	// orchestrator polls.
	var sub jobs.Subscriber
	var conn *pubsub.Conn
	if cfg.MQTT.Enabled() {
		conn = pubsub.NewConn(cfg.MQTT.Options(""))
		if err := conn.Connect(); err != nil {
			log.Println("MQTT unavailable, falling back to polling:", err)
			conn = nil
		} else {
			sub = conn
		}
	}

	guard := images.Guard{MaxFiles: cfg.MaxFiles, MaxFileSize: cfg.MaxFileSize}
	imgs := images.NewStore(urls)
	boxes := annotation.NewStore()
	orch := jobs.New(client, imgs, boxes, sub)
	orch.PollInterval = cfg.PollInterval
	orch.Guard = guard

	ws := workspace.New(imgs, boxes, orch, workspace.NewNotices())
	ws.DefaultModel = cfg.DefaultModel
	ws.Guard = guard

	// Initialize Gin router
	r := gin.Default()
	r.Use(middleware.CORSMiddleware())

	api := r.Group("/api")
	{
		api.GET("/state", handlers.GetState(ws))
		api.POST("/images", handlers.LoadImages(ws))
		api.POST("/images/:index/select", handlers.SelectImage(ws))
		api.GET("/blobs/:handle", handlers.ServeBlob(blobs))

		api.POST("/canvas/events", handlers.PointerEvent(ws))
		api.GET("/canvas/frame.png", handlers.Frame(ws))
		api.PUT("/canvas/tag", handlers.SetTag(ws))

		api.PATCH("/boxes/:id", handlers.UpdateBox(ws))
		api.DELETE("/boxes/:id", handlers.DeleteBox(ws))
		api.PUT("/highlight", handlers.Highlight(ws))

		api.POST("/predict", handlers.Predict(ws))
		api.POST("/batch", handlers.SubmitBatch(ws))
		api.GET("/batch", handlers.GetBatch(ws))
		api.GET("/batch/export", handlers.ExportBatch(ws))

		api.GET("/export", handlers.ExportCurrent(ws))
		api.GET("/export/all", handlers.ExportAll(ws))

		api.GET("/notifications", handlers.Notifications(ws))
		api.POST("/reset", handlers.Reset(ws))

		api.GET("/models", handlers.BackendModels(client))
		api.GET("/health", handlers.BackendHealth(client))
	}

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server:", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Println("Server shutdown:", err)
	}
	ws.Close()
	if err := imgs.Reset(shutdownCtx); err != nil {
		log.Println("Failed to release display URLs:", err)
	}
	if conn != nil {
		conn.Disconnect()
	}
}
