package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vod-orchestrator/config"
	"vod-orchestrator/constant"
	jobHandler "vod-orchestrator/handler"
	"vod-orchestrator/pkg/rabbitmq"
	"vod-orchestrator/repository"
	"vod-orchestrator/service"
)

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("NewRabbitMQConn")
		return
	}

	jobsPublisher, err := rabbitmq.NewPublisher(conn, cfg.Queue, cfg.Queue.JobsExchange)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to set up jobs publisher")
		return
	}
	eventsPublisher, err := rabbitmq.NewPublisher(conn, cfg.Queue, cfg.Queue.EventsExchange)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to set up events publisher")
		return
	}

	repo := repository.NewRepo(cfg.DB)
	store := repository.NewExecutionStore(repo.GetDB())

	jobs := service.NewJobClient(jobsPublisher, cfg.Pipeline.JobAttempts)
	events := service.NewEventPublisher(eventsPublisher)
	objects := service.NewObjectStore(cfg.Storage, cfg.MinIOBucket)
	cache := service.NewPlaylistCache(cfg.Storage, cfg.MinIOBucket, cfg.Pipeline.PlaylistPrefix)

	ingestionService := service.NewIngestionService(repo, objects, jobs, events, cache, store, cfg.Pipeline)
	uploadService := service.NewUploadService(repo, jobs, events, store, cfg.Pipeline)
	playlistService := service.NewPlaylistService(repo, cache, cfg.Pipeline.MediaBaseURL)

	serviceDeps := jobHandler.ServiceDependencies{
		Jobs: jobs,
	}

	// Start job results consumer
	resultsConsumer := rabbitmq.NewConsumer(conn, cfg.Queue, rabbitmq.QueueSpec{
		Exchange:      cfg.Queue.JobsExchange,
		Queue:         "pipeline_job_results_queue",
		RoutingKey:    "job.result",
		DeadLetter:    true,
		DLXName:       cfg.Queue.JobsExchange + "_dlx",
		DLQName:       "pipeline_job_results_queue_dlq",
		DLQRoutingKey: "dlq.job.result",
	}, cfg.Server.Workers, jobHandler.JobResultHandler)
	go func() {
		err := resultsConsumer.Consume(ctx, serviceDeps)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("Job results consumer error")
		}
	}()

	// Resume executions checkpointed by a previous process
	resumeInterrupted(ctx, "stream_ingestion", ingestionService.Interrupted, ingestionService.Run)
	resumeInterrupted(ctx, "upload_drain", uploadService.Interrupted, uploadService.Run)

	r := gin.Default()
	addHealth(r)
	jobHandler.New(ctx, store, ingestionService, uploadService, playlistService).Register(r)

	handler := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("start http server")
		if err := handler.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")
	if err := handler.Shutdown(ctx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

func resumeInterrupted(
	ctx context.Context,
	definition string,
	list func(ctx context.Context) ([]uuid.UUID, error),
	run func(ctx context.Context, id uuid.UUID) error,
) {
	ids, err := list(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("definition", definition).Msg("failed to list interrupted executions")
		return
	}
	for _, id := range ids {
		zerolog.Ctx(ctx).Info().Str("definition", definition).Str("execution_id", id.String()).Msg("resuming interrupted execution")
		go func(id uuid.UUID) {
			if err := run(ctx, id); err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Str("definition", definition).Str("execution_id", id.String()).Msg("resumed execution failed")
			}
		}(id)
	}
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Log to standard output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
