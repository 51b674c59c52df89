// cmd/jobserver/main.go
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

	"ui-annotator/internal/config"
	"ui-annotator/internal/database"
	"ui-annotator/internal/detector"
	"ui-annotator/internal/handlers"
	"ui-annotator/internal/middleware"
	"ui-annotator/internal/pubsub"
	"ui-annotator/internal/storage"
	"ui-annotator/internal/worker"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.LoadJobServer()
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.InitDB()
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Auto-migrate models
	if err := database.MigrateDB(db); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}
	jobStore := database.NewJobStore(db)

	minioClient, err := storage.NewMinIOClient(ctx)
	if err != nil {
		log.Fatal("Failed to initialize MinIO client:", err)
	}

	catalog, err := config.LoadCatalog(cfg.ModelConfigPath)
	if err != nil {
		log.Fatal("Failed to load model config:", err)
	}

	det, err := detector.NewOllama(cfg.OllamaHost)
	if err != nil {
		log.Fatal("Failed to initialize detector:", err)
	}
	det.MaxImageDim = cfg.MaxImageDim
	det.Timeout = cfg.DetectionTimeout
	if err := det.Ping(ctx); err != nil {
		log.Println("Ollama is not reachable yet:", err)
	}

	// Job events are published over MQTT when a broker is configured.
	var publisher worker.Publisher
	var retained worker.RetainedClearer
	var conn *pubsub.Conn
	if cfg.MQTT.Enabled() {
		conn = pubsub.NewConn(cfg.MQTT.Options(""))
		if err := conn.Connect(); err != nil {
			log.Println("MQTT unavailable, job events will not be pushed:", err)
			conn = nil
		} else {
			publisher, retained = conn, conn
		}
	}

	pool := worker.NewPool(jobStore, minioClient, det, publisher, cfg.Workers, cfg.QueueSize)
	pool.ModelCode = func(id string) string {
		if e, ok := catalog.Lookup(id); ok {
			return e.ModelCode
		}
		return id
	}
	pool.Start(ctx)

	janitor := worker.NewJanitor(jobStore, minioClient, retained)
	janitor.Retention = cfg.Retention
	go janitor.Run(ctx, cfg.JanitorInterval)

	// Initialize Gin router
	r := gin.Default()
	r.Use(middleware.CORSMiddleware())

	r.GET("/health", handlers.JobServerHealth(pool, jobStore))

	api := r.Group("/api/v1")
	if cfg.JWTSecret != "" {
		api.Use(middleware.AuthMiddleware(cfg.JWTSecret))
	}
	{
		api.POST("/predict", handlers.PredictImage(det, catalog))
		api.POST("/upload", handlers.UploadImage(jobStore, minioClient, pool, catalog))
		api.GET("/status/:id", handlers.GetStatus(jobStore))
		api.GET("/results/:id", handlers.GetResult(jobStore))
		api.GET("/models", handlers.ListModels(catalog))
	}

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		log.Printf("Job server starting on port %s", cfg.Port)
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
	pool.Stop()
	if conn != nil {
		conn.Disconnect()
	}
}
