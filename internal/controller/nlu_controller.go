package controller

import (
	"bufio"
	"context"

	"trip-planner-be/internal/dto"
	"trip-planner-be/internal/pkg/logger"
	"trip-planner-be/internal/pkg/serverutils"
	"trip-planner-be/pkg/planner/executor"
	"trip-planner-be/pkg/planner/stream"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// PipelineStreamer is the primary pipeline, normally *executor.Executor.
type PipelineStreamer interface {
	Stream(ctx context.Context, req executor.Request) <-chan stream.Event
}

type SessionDeleter interface {
	Delete(id string) bool
}

type INluController interface {
	RegisterRoutes(api fiber.Router, middleware ...fiber.Handler)
	Stream(ctx *fiber.Ctx) error
	DeleteSession(ctx *fiber.Ctx) error
}

type nluController struct {
	pipeline PipelineStreamer
	sessions SessionDeleter
	logger   logger.ILogger
}

func NewNluController(pipeline PipelineStreamer, sessions SessionDeleter, log logger.ILogger) INluController {
	return &nluController{
		pipeline: pipeline,
		sessions: sessions,
		logger:   log,
	}
}

func (c *nluController) RegisterRoutes(api fiber.Router, middleware ...fiber.Handler) {
	h := api.Group("/nlu/v1")
	for _, m := range middleware {
		h.Use(m)
	}
	h.Post("stream", c.Stream)
	h.Delete("session/:id", c.DeleteSession)
}

// Stream runs one pipeline turn and writes its events as SSE frames, then
// the [DONE] sentinel. A request without session_id starts a new session;
// its id is in the end event.
func (c *nluController) Stream(ctx *fiber.Ctx) error {
	var req dto.NluStreamRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}
	if req.SessionId == "" {
		req.SessionId = uuid.NewString()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	events := c.pipeline.Stream(runCtx, executor.Request{Text: req.Text, SessionID: req.SessionId})

	setSSEHeaders(ctx)
	ctx.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		for ev := range events {
			if err := stream.WriteSSE(w, ev); err != nil {
				c.logger.Warn("NLU_SSE", "Client went away", map[string]interface{}{
					"session_id": req.SessionId,
					"error":      err.Error(),
				})
				return
			}
		}
		stream.WriteDone(w)
	})
	return nil
}

func (c *nluController) DeleteSession(ctx *fiber.Ctx) error {
	id := ctx.Params("id")
	if !c.sessions.Delete(id) {
		return fiber.NewError(fiber.StatusNotFound, "Session not found")
	}
	return ctx.JSON(serverutils.SuccessResponse("Success delete session", fiber.Map{"session_id": id}))
}
