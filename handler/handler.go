package handler

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"vod-orchestrator/dto"
	"vod-orchestrator/pkg/workflow"
	"vod-orchestrator/repository"
	"vod-orchestrator/service"
)

type ServiceDependencies struct {
	Jobs *service.QueueJobClient
}

// JobResultHandler feeds deliveries from the job results queue into the job
// client's correlation registry.
func JobResultHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	return deps.Jobs.HandleResult(ctx, msg)
}

// Handler exposes the orchestration endpoints. Executions started here run
// on runCtx, not the request context, so they outlive the HTTP response.
type Handler struct {
	runCtx    context.Context
	store     workflow.Store
	ingestion *service.IngestionService
	uploads   *service.UploadService
	playlist  service.PlaylistService
}

func New(
	runCtx context.Context,
	store workflow.Store,
	ingestion *service.IngestionService,
	uploads *service.UploadService,
	playlist service.PlaylistService,
) *Handler {
	return &Handler{
		runCtx:    runCtx,
		store:     store,
		ingestion: ingestion,
		uploads:   uploads,
		playlist:  playlist,
	}
}

func (h *Handler) Register(r *gin.Engine) {
	r.POST("/ingestion/streams/:id/start", h.startIngestion)
	r.POST("/uploads/queue", h.queueUploads)
	r.POST("/uploads/drain", h.drainUploads)
	r.GET("/executions/:id", h.executionStatus)
	r.GET("/playlist/:file", h.renderPlaylist)
}

func (h *Handler) startIngestion(c *gin.Context) {
	streamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(400, gin.H{"error": "invalid stream id"})
		return
	}

	var req dto.StartIngestionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
	}

	executionID, err := h.ingestion.Start(c.Request.Context(), streamID, req)
	if err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}

	go func() {
		if err := h.ingestion.Run(h.runCtx, executionID); err != nil {
			zerolog.Ctx(h.runCtx).Error().Err(err).Str("execution_id", executionID.String()).Msg("ingestion execution failed")
		}
	}()

	c.JSON(202, dto.StartIngestionResponse{ExecutionID: executionID})
}

func (h *Handler) queueUploads(c *gin.Context) {
	var req dto.QueueUploadsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}
	if len(req.EpisodeIDs) == 0 {
		c.JSON(400, gin.H{"error": "episodeIds is required"})
		return
	}

	queued, err := h.uploads.QueueEpisodes(c.Request.Context(), req)
	if err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}

	started := h.startDrain(c)

	c.JSON(200, dto.QueueUploadsResponse{Queued: queued, DrainStarted: started})
}

func (h *Handler) drainUploads(c *gin.Context) {
	started := h.startDrain(c)
	c.JSON(202, gin.H{"drainStarted": started})
}

// startDrain kicks off a drain execution in the background. When a drain is
// already in flight this is a no-op; the running drain picks up nothing new,
// but a later drain will.
func (h *Handler) startDrain(c *gin.Context) bool {
	executionID, started, err := h.uploads.Drain(c.Request.Context())
	if err != nil {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("failed to start upload drain")
		return false
	}
	if !started {
		return false
	}

	go func() {
		if err := h.uploads.Run(h.runCtx, executionID); err != nil {
			zerolog.Ctx(h.runCtx).Error().Err(err).Str("execution_id", executionID.String()).Msg("upload drain execution failed")
		}
	}()
	return true
}

func (h *Handler) executionStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(400, gin.H{"error": "invalid execution id"})
		return
	}

	exec, err := h.store.Get(c.Request.Context(), id)
	if errors.Is(err, workflow.ErrNotFound) {
		c.JSON(404, gin.H{"error": "execution not found"})
		return
	}
	if err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}

	c.JSON(200, dto.ExecutionStatusResponse{
		ExecutionID:  exec.ID,
		Definition:   exec.Definition,
		Status:       exec.Status,
		Step:         exec.Step,
		ErrorMessage: exec.ErrorMessage,
	})
}

func (h *Handler) renderPlaylist(c *gin.Context) {
	file := c.Param("file")
	if !strings.HasSuffix(file, ".m3u8") {
		c.JSON(404, gin.H{"error": "not found"})
		return
	}
	streamID, err := uuid.Parse(strings.TrimSuffix(file, ".m3u8"))
	if err != nil {
		c.JSON(400, gin.H{"error": "invalid stream id"})
		return
	}

	body, err := h.playlist.Render(c.Request.Context(), streamID)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(404, gin.H{"error": "stream has no clips"})
		return
	}
	if err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}

	c.Data(200, "application/vnd.apple.mpegurl", []byte(body))
}
