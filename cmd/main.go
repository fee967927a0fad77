package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"

	"github.com/clipforge/clipforge/internal/api/v1/handlers"
	"github.com/clipforge/clipforge/internal/api/v1/routes"
	"github.com/clipforge/clipforge/internal/constants"
	"github.com/clipforge/clipforge/internal/db"
	"github.com/clipforge/clipforge/internal/db/repos"
	"github.com/clipforge/clipforge/internal/logger"
	"github.com/clipforge/clipforge/internal/media"
	"github.com/clipforge/clipforge/internal/pipeline"
	"github.com/clipforge/clipforge/internal/remote"
	"github.com/clipforge/clipforge/internal/services"
)

func main() {
	_ = godotenv.Load()
	logger.InitializeAndConfigure()

	database, err := db.New(db.Options{})
	if err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}
	if err := db.Migrate(database); err != nil {
		logger.Fatalf("failed to run migrations: %v", err)
	}

	workDir := os.Getenv(constants.EnvWorkDir)
	if workDir == "" {
		workDir = "./data"
	}
	workDir, err = filepath.Abs(workDir)
	if err != nil {
		logger.Fatalf("failed to resolve work dir: %v", err)
	}
	for _, dir := range []string{
		filepath.Join(workDir, "videos"),
		filepath.Join(workDir, "clips"),
		filepath.Join(workDir, "results"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Fatalf("failed to create %s: %v", dir, err)
		}
	}

	jobRepo := repos.NewJobRepository(database)

	client := remote.NewClient(remote.ClientOptions{
		APIURL: os.Getenv(constants.EnvFleetAPIURL),
		APIKey: os.Getenv(constants.EnvFleetAPIKey),
	})
	manager := remote.NewManager(client, remote.ManagerOptions{
		InstanceID:       os.Getenv(constants.EnvInstanceID),
		CacheFile:        os.Getenv(constants.EnvInstanceCacheFile),
		AutoStopDisabled: os.Getenv(constants.EnvAutoStopDisabled) == "true",
	})
	transfer := remote.NewTransfer(manager)
	gpuHost := remote.NewGPUHost(manager)

	gpuConcurrency := pipeline.DefaultGPUConcurrency
	if raw := os.Getenv(constants.EnvGPUConcurrency); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			gpuConcurrency = n
		} else {
			logger.Warnf("ignoring invalid %s=%q", constants.EnvGPUConcurrency, raw)
		}
	}

	var offload *pipeline.GPUOffload
	if os.Getenv(constants.EnvCutOffload) == "true" {
		offload = &pipeline.GPUOffload{
			Manager:  manager,
			Transfer: transfer,
			GPUHost:  gpuHost,
		}
	}

	clock := pipeline.RealClock()
	cut := pipeline.NewCutPipeline(
		jobRepo,
		media.NewYTDLPFetcher(),
		media.NewWhisperTranscriber(os.Getenv(constants.EnvWhisperModel)),
		media.NewLLMSelector(
			os.Getenv(constants.EnvLLMAPIURL),
			os.Getenv(constants.EnvLLMAPIKey),
			os.Getenv(constants.EnvLLMModel),
		),
		media.NewFFmpegCutter(),
		clock,
		filepath.Join(workDir, "videos"),
		filepath.Join(workDir, "clips"),
		offload,
	)
	upscale := pipeline.NewUpscalePipeline(
		jobRepo, manager, transfer, gpuHost, media.NewFFprobeProber(), clock,
		filepath.Join(workDir, "results"),
	)

	engine := pipeline.NewEngine(jobRepo, manager, cut, upscale, pipeline.Options{
		GPUConcurrency: gpuConcurrency,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	if err := engine.Start(ctx, &wg); err != nil {
		logger.Fatalf("failed to start engine: %v", err)
	}

	jobService := services.NewJobService(jobRepo, engine, workDir)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})
	routes.RegisterRoutes(app,
		handlers.NewJobHandler(jobService),
		handlers.NewInstanceHandler(manager, engine),
	)

	addr := os.Getenv(constants.EnvListenAddr)
	if addr == "" {
		addr = ":8080"
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		_ = app.Shutdown()
	}()

	if err := app.Listen(addr); err != nil {
		logger.Errorf("server stopped: %v", err)
	}
	wg.Wait()
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
