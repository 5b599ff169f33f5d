package controller

import (
	"bufio"
	"context"
	"encoding/json"

	"trip-planner-be/internal/dto"
	"trip-planner-be/internal/pkg/logger"
	"trip-planner-be/internal/pkg/serverutils"
	"trip-planner-be/internal/service"
	internalWS "trip-planner-be/internal/websocket"
	"trip-planner-be/pkg/planner/orchestrator"
	"trip-planner-be/pkg/planner/stream"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

type IPlannerController interface {
	RegisterRoutes(api fiber.Router, jwtMiddleware fiber.Handler)
	StreamPlan(ctx *fiber.Ctx) error
	Plan(ctx *fiber.Ctx) error
	GetHistory(ctx *fiber.Ctx) error
	ResetHistory(ctx *fiber.Ctx) error
	ServeWs(ctx *fiber.Ctx) error
}

type plannerController struct {
	plannerService service.IPlannerService
	hub            *internalWS.Hub
	logger         logger.ILogger
}

// NewPlannerController wires the HTTP surface of the planner. hub may be
// nil, which disables the websocket route.
func NewPlannerController(plannerService service.IPlannerService, hub *internalWS.Hub, log logger.ILogger) IPlannerController {
	c := &plannerController{
		plannerService: plannerService,
		hub:            hub,
		logger:         log,
	}
	if hub != nil {
		hub.OnMessage(c.handleWsMessage)
	}
	return c
}

func (c *plannerController) RegisterRoutes(api fiber.Router, jwtMiddleware fiber.Handler) {
	h := api.Group("/planner/v1", jwtMiddleware)
	h.Post("plan/stream", c.StreamPlan)
	h.Post("plan", c.Plan)
	h.Get("history", c.GetHistory)
	h.Delete("history", c.ResetHistory)
	if c.hub != nil {
		h.Get("ws", c.ServeWs)
	}
}

func (c *plannerController) parsePlanRequest(ctx *fiber.Ctx) (uuid.UUID, *dto.PlanRequest, error) {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return uuid.Nil, nil, err
	}

	var req dto.PlanRequest
	if err := ctx.BodyParser(&req); err != nil {
		return uuid.Nil, nil, fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return uuid.Nil, nil, err
	}
	return userId, &req, nil
}

// StreamPlan answers with text/event-stream frames of fragments followed by
// the [DONE] sentinel.
func (c *plannerController) StreamPlan(ctx *fiber.Ctx) error {
	userId, req, err := c.parsePlanRequest(ctx)
	if err != nil {
		return err
	}

	// The turn outlives the handler; it is cancelled when the client goes
	// away and a write fails.
	runCtx, cancel := context.WithCancel(context.Background())
	planStream, err := c.plannerService.StreamPlan(runCtx, userId, req)
	if err != nil {
		cancel()
		return err
	}

	setSSEHeaders(ctx)
	ctx.Set("X-Chat-Session-Id", planStream.ChatSessionId.String())

	ctx.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		for fragment := range planStream.StreamPayload {
			if err := stream.WriteSSE(w, fragment); err != nil {
				c.logger.Warn("PLANNER_SSE", "Client went away", map[string]interface{}{
					"chat_session_id": planStream.ChatSessionId.String(),
					"error":           err.Error(),
				})
				return
			}
		}
		stream.WriteDone(w)
	})
	return nil
}

func (c *plannerController) Plan(ctx *fiber.Ctx) error {
	userId, req, err := c.parsePlanRequest(ctx)
	if err != nil {
		return err
	}

	res, err := c.plannerService.Plan(ctx.UserContext(), userId, req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success plan trip", res))
}

func (c *plannerController) GetHistory(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}

	res, err := c.plannerService.GetHistory(ctx.UserContext(), userId)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get history", res))
}

func (c *plannerController) ResetHistory(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}

	res, err := c.plannerService.ResetHistory(ctx.UserContext(), userId)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success reset history", res))
}

// ServeWs upgrades to a websocket. Every text frame is a plan request;
// fragments go to all of the user's connections.
func (c *plannerController) ServeWs(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	if !websocket.IsWebSocketUpgrade(ctx) {
		return fiber.ErrUpgradeRequired
	}
	return websocket.New(func(conn *websocket.Conn) {
		c.hub.Serve(conn, userId)
	})(ctx)
}

func (c *plannerController) handleWsMessage(ctx context.Context, userId uuid.UUID, data []byte) {
	var req dto.PlanRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendWs(ctx, userId, orchestrator.Fragment{Type: orchestrator.FragmentError, Message: "Invalid request body"})
		return
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		c.sendWs(ctx, userId, orchestrator.Fragment{Type: orchestrator.FragmentError, Message: err.Error()})
		return
	}

	planStream, err := c.plannerService.StreamPlan(ctx, userId, &req)
	if err != nil {
		c.sendWs(ctx, userId, orchestrator.Fragment{Type: orchestrator.FragmentError, Message: err.Error()})
		return
	}

	go func() {
		for fragment := range planStream.StreamPayload {
			c.sendWs(context.Background(), userId, fragment)
		}
	}()
}

func (c *plannerController) sendWs(ctx context.Context, userId uuid.UUID, fragment orchestrator.Fragment) {
	if err := c.hub.Send(ctx, userId, fragment); err != nil {
		c.logger.Warn("PLANNER_WS", "Failed to deliver fragment", map[string]interface{}{
			"user_id": userId.String(),
			"error":   err.Error(),
		})
	}
}

func setSSEHeaders(ctx *fiber.Ctx) {
	ctx.Set("Content-Type", "text/event-stream")
	ctx.Set("Cache-Control", "no-cache")
	ctx.Set("Connection", "keep-alive")
	ctx.Set("X-Accel-Buffering", "no")
}
