package handler

import (
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/deckforge/api/internal/middleware"
	"github.com/deckforge/api/internal/model"
	"github.com/deckforge/api/internal/service"
	ws "github.com/deckforge/api/internal/websocket"
	"github.com/deckforge/api/pkg/response"
)

type DeckHandler struct {
	service   *service.DeckService
	hub       *ws.Hub
	validator *validator.Validate
}

func NewDeckHandler(svc *service.DeckService, hub *ws.Hub, v *validator.Validate) *DeckHandler {
	return &DeckHandler{
		service:   svc,
		hub:       hub,
		validator: v,
	}
}

// Submit handles POST /api/decks
// @Summary      Submit deck generation job
// @Description  Queue an asynchronous deck generation or revision job
// @Tags         Decks
// @Accept       json
// @Produce      json
// @Param        request body model.DeckSubmitRequest true "Deck request"
// @Success      202 {object} model.DeckSubmitResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/decks [post]
func (h *DeckHandler) Submit(c *fiber.Ctx) error {
	var req model.DeckSubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Submit(c.UserContext(), middleware.GetUserID(c), &req)
	if err != nil {
		return serviceError(c, err)
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/decks/:jobId
// @Summary      Get deck job status
// @Description  Get progress, units and media of a deck job
// @Tags         Decks
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.DeckStatusResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/decks/{jobId} [get]
func (h *DeckHandler) Status(c *fiber.Ctx) error {
	result, err := h.service.Status(c.UserContext(), middleware.GetUserID(c), c.Params("jobId"))
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, result)
}

// Revise handles POST /api/decks/:jobId/revise
// @Summary      Revise a finished deck
// @Description  Queue a revision of one unit or the whole deck of a completed job
// @Tags         Decks
// @Accept       json
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Param        request body model.DeckReviseRequest true "Revision request"
// @Success      202 {object} model.DeckSubmitResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/decks/{jobId}/revise [post]
func (h *DeckHandler) Revise(c *fiber.Ctx) error {
	var req model.DeckReviseRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Revise(c.UserContext(), middleware.GetUserID(c), c.Params("jobId"), &req)
	if err != nil {
		return serviceError(c, err)
	}

	return response.Accepted(c, result)
}

// Cancel handles POST /api/decks/:jobId/cancel
// @Summary      Cancel deck job
// @Description  Cancel a queued job, or stop a running one at its next batch
// @Tags         Decks
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.DeckCancelResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/decks/{jobId}/cancel [post]
func (h *DeckHandler) Cancel(c *fiber.Ctx) error {
	result, err := h.service.Cancel(c.UserContext(), middleware.GetUserID(c), c.Params("jobId"))
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, result)
}

// Watch checks ownership before the websocket upgrade and stores the job
// for Stream.
func (h *DeckHandler) Watch(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	job, err := h.service.Job(c.UserContext(), middleware.GetUserID(c), c.Params("jobId"))
	if err != nil {
		return serviceError(c, err)
	}

	c.Locals("job", job)
	return c.Next()
}

// Stream serves GET /ws/decks/:jobId after Watch.
func (h *DeckHandler) Stream() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		job, ok := conn.Locals("job").(*model.Job)
		if !ok {
			conn.Close()
			return
		}
		h.hub.HandleConnection(conn, job)
	})
}

func serviceError(c *fiber.Ctx, err error) error {
	var vErr *model.ValidationError
	var rlErr *model.RateLimitError

	switch {
	case errors.As(err, &vErr):
		return response.ValidationError(c, vErr.Error(), fiber.Map{vErr.Field: vErr.Message})
	case errors.As(err, &rlErr):
		return response.RateLimited(c, rlErr.RetryAfter)
	case errors.Is(err, model.ErrJobNotFound):
		return response.NotFound(c, "Job not found")
	case errors.Is(err, model.ErrJobTerminal):
		return response.Conflict(c, "Job already finished")
	default:
		slog.Error("deck request failed", "path", c.Path(), "error", err)
		return response.ServiceError(c, "Internal error")
	}
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
