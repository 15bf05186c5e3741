package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gradeflow-api/internal/config"
	"github.com/noah-isme/gradeflow-api/internal/database"
	"github.com/noah-isme/gradeflow-api/internal/events"
	"github.com/noah-isme/gradeflow-api/internal/extract"
	"github.com/noah-isme/gradeflow-api/internal/grading"
	"github.com/noah-isme/gradeflow-api/internal/handler"
	"github.com/noah-isme/gradeflow-api/internal/lms"
	"github.com/noah-isme/gradeflow-api/internal/middleware"
	"github.com/noah-isme/gradeflow-api/internal/repository"
	"github.com/noah-isme/gradeflow-api/internal/router"
	"github.com/noah-isme/gradeflow-api/pkg/ai"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = nats.Connect(cfg.NATSURL)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Close()
	}

	grader, err := buildGrader(cfg, logger)
	if err != nil {
		log.Fatalf("failed to build grader: %v", err)
	}

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := grader.Ping(pingCtx); err != nil {
		cancelPing()
		log.Fatalf("grading provider is not reachable: %v", err)
	}
	cancelPing()

	validate := validator.New(validator.WithRequiredStructEnabled())

	retryState := grading.NewRetryState()
	retryController := grading.NewRetryController(retryState, grading.RetryConfig{
		MaxRetries:       cfg.MaxRetries,
		BaseDelay:        cfg.RetryBaseDelay,
		MaxDelay:         cfg.RetryMaxDelay,
		BreakerThreshold: cfg.BreakerThreshold,
	}, logger)

	agent := grading.NewAgent(grader, retryController, logger)
	extractor := extract.NewEngineClient(extract.EngineConfig{
		BaseURL: cfg.ExtractorURL,
		Timeout: cfg.ExtractorTimeout,
		Logger:  logger,
	})
	pipeline := grading.NewPipeline(extractor, agent, logger)

	jobRepo := repository.NewJobRepository(db)
	reportCache := repository.NewReportCache(redisClient, cfg.ReportCacheTTL)
	publisher := events.NewPublisher(natsConn, "gradeflow.jobs", logger)

	coordinator := grading.NewCoordinator(pipeline, retryState, jobRepo, publisher, grading.CoordinatorConfig{
		Concurrency:      cfg.WorkerConcurrency,
		PassingThreshold: cfg.PassingThreshold,
		BreakerThreshold: cfg.BreakerThreshold,
	}, logger)

	lmsClient := lms.NewClient(lms.ClientConfig{
		BaseURL: cfg.LMSBaseURL,
		Token:   cfg.LMSToken,
		Logger:  logger,
	})

	gradingHandler := handler.NewGradingHandler(coordinator, lmsClient, jobRepo, reportCache, validate, cfg.DefaultStrictness, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		GradingHandler: gradingHandler,
		JWTMiddleware:  middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, coordinator)
}

func buildGrader(cfg config.Config, logger zerolog.Logger) (ai.Grader, error) {
	switch cfg.AIProvider {
	case "anthropic":
		return ai.NewAnthropicGrader(ai.AnthropicConfig{APIKey: cfg.AnthropicAPIKey})
	default:
		return ai.NewOpenAIGrader(ai.OpenAIConfig{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.OpenAIModel,
			Logger: logger,
		})
	}
}

func waitForShutdown(app *fiber.App, coordinator *grading.Coordinator) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelDrain()

	if err := coordinator.Drain(drainCtx); err != nil {
		log.Printf("jobs still running at shutdown: %v", err)
	}

	log.Println("server stopped")
}
