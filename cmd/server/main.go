package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/gofrs/flock"

	"github.com/tonwerk/abschrift/internal/cleanup"
	"github.com/tonwerk/abschrift/internal/config"
	"github.com/tonwerk/abschrift/internal/estimate"
	"github.com/tonwerk/abschrift/internal/handlers"
	"github.com/tonwerk/abschrift/internal/media"
	"github.com/tonwerk/abschrift/internal/queue"
	"github.com/tonwerk/abschrift/internal/store"
	"github.com/tonwerk/abschrift/internal/transcription"
	"github.com/tonwerk/abschrift/internal/worker"
	"github.com/tonwerk/abschrift/internal/workspace"
)

func main() {
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("Failed to load config: %v", err)
		}
		log.Println("No config file found, using defaults")
		cfg = config.Default()
	}

	// One worker process per deployment: the queue claim is only safe with
	// a single loop, so refuse to start next to another instance.
	lock := flock.New(cfg.Storage.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		log.Fatalf("Failed to acquire worker lock: %v", err)
	}
	if !locked {
		log.Fatalf("Another instance is already running (lock: %s)", cfg.Storage.LockFile)
	}
	defer lock.Unlock()

	if err := cleanup.EnsureScratchDir(cfg.Storage.ScratchDir); err != nil {
		log.Fatalf("Failed to create scratch directory: %v", err)
	}
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	// Custom logger setup
	logBuffer := &LogBuffer{lines: make([]string, 0, 1000)}
	log.SetOutput(io.MultiWriter(os.Stdout, logBuffer))

	log.Println("Initializing components...")

	jobStore, err := store.Open(cfg.Storage.Database)
	if err != nil {
		log.Fatalf("Failed to open job store: %v", err)
	}
	defer jobStore.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if requeued, err := jobStore.ResetStuckProcessing(ctx); err != nil {
		log.Printf("WARNING: could not reset stuck jobs: %v", err)
	} else if requeued > 0 {
		log.Printf("Re-queued %d jobs left in-flight by a previous run", requeued)
	}

	layout := workspace.New(cfg.Storage.DataDir)
	estimator := estimate.New(media.ProbeDuration, cfg.Worker.Networked, cfg.Worker.LowPowerDevice)
	view := queue.NewView(jobStore, layout, estimator)
	transcriber := transcription.NewWhisperTranscriber(cfg.Whisper.Model, cfg.Whisper.Device, cfg.Whisper.Threads)

	// Supervisor: the worker asks to be recycled after each file on
	// low-power devices; build a fresh one instead of exiting the process.
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		for {
			w := worker.New(cfg, jobStore, layout, view, estimator, transcriber)
			err := w.Run(ctx)
			if errors.Is(err, worker.ErrRecycleRequested) {
				log.Println("Supervisor: recycling worker")
				continue
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Supervisor: worker stopped: %v", err)
			}
			return
		}
	}()

	cleanupScheduler := cleanup.NewScheduler(
		cfg.Storage.ScratchDir,
		cfg.Cleanup.IntervalMinutes,
		cfg.Cleanup.MaxAgeHours,
	)
	cleanupScheduler.Start()
	defer cleanupScheduler.Stop()

	app := fiber.New(fiber.Config{
		BodyLimit: cfg.Limits.MaxFileSizeMB * 1024 * 1024,
	})

	app.Use(fiberrecover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	uploadHandler := handlers.NewUploadHandler(jobStore, layout, cfg.Limits.MaxFileSizeMB)
	queueHandler := handlers.NewQueueHandler(view, jobStore, layout)
	artifactHandler := handlers.NewArtifactHandler(layout)
	controlHandler := handlers.NewControlHandler(layout)
	wsHandler := handlers.NewWSHandler(view)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	app.Post("/users/:user/files", uploadHandler.Handle)
	app.Get("/users/:user/queue", queueHandler.List)
	app.Delete("/users/:user/files/:name", queueHandler.Delete)
	app.Get("/users/:user/files/:name/srt", artifactHandler.SRT)
	app.Get("/users/:user/files/:name/transcript", artifactHandler.Transcript)
	app.Get("/users/:user/files/:name/meta", artifactHandler.Meta)
	app.Get("/users/:user/hotwords", controlHandler.GetHotwords)
	app.Put("/users/:user/hotwords", controlHandler.SetHotwords)
	app.Get("/users/:user/language", controlHandler.GetLanguage)
	app.Put("/users/:user/language", controlHandler.SetLanguage)

	app.Get("/ws/queue/:user", websocket.New(wsHandler.Handle))

	app.Get("/logs", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"logs": logBuffer.GetLogs()})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Server starting on %s", addr)
	log.Println("Endpoints:")
	log.Println("   POST   /users/:user/files                   - Upload media file or ZIP batch")
	log.Println("   GET    /users/:user/queue                   - Queue and progress view")
	log.Println("   DELETE /users/:user/files/:name             - Remove a queued file")
	log.Println("   GET    /users/:user/files/:name/srt         - Download subtitles")
	log.Println("   GET    /users/:user/files/:name/transcript  - Download transcript")
	log.Println("   GET    /ws/queue/:user                      - Live queue updates")
	log.Println("   GET    /health, /logs")

	// Graceful shutdown
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("Shutting down gracefully...")
		cancel()
		app.Shutdown()
	}()

	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
	<-workerDone
}

// LogBuffer captures logs in memory
type LogBuffer struct {
	lines []string
	mu    sync.Mutex
}

func (lb *LogBuffer) Write(p []byte) (n int, err error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.lines = append(lb.lines, string(p))

	// Keep last 1000 lines
	if len(lb.lines) > 1000 {
		lb.lines = lb.lines[len(lb.lines)-1000:]
	}

	return len(p), nil
}

func (lb *LogBuffer) GetLogs() []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	logs := make([]string, len(lb.lines))
	copy(logs, lb.lines)
	return logs
}
