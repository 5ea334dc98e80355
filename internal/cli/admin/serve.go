package admin

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"github.com/swoopinfo/swoopkb/internal/api/handlers"
	"github.com/swoopinfo/swoopkb/internal/config"
	"github.com/swoopinfo/swoopkb/internal/database"
	"github.com/swoopinfo/swoopkb/internal/jobs"
	"github.com/swoopinfo/swoopkb/internal/openrouter"
	"github.com/swoopinfo/swoopkb/internal/repository"
	"github.com/swoopinfo/swoopkb/internal/server"
	"github.com/swoopinfo/swoopkb/internal/service"
	"github.com/swoopinfo/swoopkb/internal/storage"
	"github.com/swoopinfo/swoopkb/internal/telemetry"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and background workers",
		Long:  "Start the swoopkb API server, generation worker, and QA scheduler",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize Sentry with tracing if SENTRY_DSN is set
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}

		// Default to 10% sampling in production, 100% in development
		sampleRate := 0.1
		if environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              dsn,
			Environment:      environment,
			TracesSampleRate: sampleRate,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	pool, err := database.NewPool(ctx, database.Config{
		URL:      cfg.DatabaseURL,
		MaxConns: 10,
		MinConns: 2,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	// Run migrations unless --no-migrate flag is set
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	chunkRepo := repository.NewChunkRepository(pool)
	jobRepo := repository.NewGenerationJobRepository(pool)
	qaRunRepo := repository.NewQARunRepository(pool)

	var s3Client *storage.S3Client
	if cfg.HasS3() {
		s3Config := storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		}
		s3Client, err = storage.NewS3Client(ctx, s3Config)
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)
	}

	var orClient *openrouter.Client
	var semantic service.SemanticChecker
	var embedder service.EmbeddingClient
	if cfg.HasOpenRouter() {
		orClient = openrouter.NewClient(openrouter.Config{
			APIKey:          cfg.OpenRouterAPIKey,
			BaseURL:         cfg.OpenRouterBaseURL,
			GenerationModel: cfg.GenerationModel,
			QAModel:         cfg.QAModel,
			EmbeddingModel:  cfg.EmbeddingModel,
		})
		semantic = orClient
		embedder = orClient
	} else {
		log.Println("OPENROUTER_API_KEY not set: generation disabled, QA is rules-only")
	}

	qaSvc := service.NewQAService(semantic)
	promoter := service.NewPromoterService(chunkRepo, jobRepo, cfg.MaxRegenerationAttempts)
	resolver := service.NewResolverService(chunkRepo, jobRepo, repository.NewTxRunner(pool), cfg.DailyGenerationLimit)

	var generationWorker *jobs.Worker
	if orClient != nil {
		var diagrams service.DiagramStore
		if s3Client != nil {
			diagrams = s3Client
		}
		generationSvc := service.NewGenerationService(
			chunkRepo, jobRepo, orClient, embedder, diagrams, qaSvc, promoter, cfg.GenerationTimeout)
		processor := jobs.NewGenerationWorker(jobRepo, generationSvc, cfg.GenerationBatchSize)
		generationWorker = jobs.NewWorker("generation", processor, cfg.GenerationPollInterval)
		go generationWorker.Start(ctx)
		log.Println("generation worker started")
	}

	scheduler := jobs.NewQAScheduler(chunkRepo, qaRunRepo, qaSvc, promoter, cfg.ReviewInterval, cfg.ReviewBatchSize)
	schedulerWorker := jobs.NewWorker("qa-scheduler", scheduler, cfg.ReviewPollInterval)
	go schedulerWorker.Start(ctx)
	log.Println("qa scheduler started")

	var signer handlers.DiagramURLSigner
	if s3Client != nil {
		signer = s3Client
	}
	chunkHandler := handlers.NewChunkHandler(resolver, signer)
	qaHandler := handlers.NewQAHandler(scheduler, qaRunRepo)

	router := server.NewRouter(server.RouterConfig{
		AdminToken:   cfg.AdminToken,
		ChunkHandler: chunkHandler,
		QAHandler:    qaHandler,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	schedulerWorker.Stop()
	if generationWorker != nil {
		generationWorker.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

func runMigrations(databaseURL string) error {
	// Create a sql.DB connection for golang-migrate
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	// Create postgres driver instance
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	// Create migrate instance with file source
	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	// Run migrations
	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Get migration version and status
	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
