package serverutils

import (
	"errors"

	"trip-planner-be/pkg/planner"
	"trip-planner-be/pkg/store"

	"github.com/gofiber/fiber/v2"
)

// ErrorHandlerMiddleware turns errors returned by handlers into the
// standard envelope.
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		code, message := StatusFor(err)
		resp := ErrorResponse(code, message)

		var verr *ValidationError
		if errors.As(err, &verr) {
			return ctx.Status(code).JSON(BaseResponse[map[string]string]{
				Code:    code,
				Message: message,
				Data:    verr.Fields,
			})
		}
		return ctx.Status(code).JSON(resp)
	}
}

// StatusFor maps domain errors onto HTTP status codes.
func StatusFor(err error) (int, string) {
	var fe *fiber.Error
	var verr *ValidationError
	switch {
	case errors.As(err, &fe):
		return fe.Code, fe.Message
	case errors.As(err, &verr):
		return fiber.StatusBadRequest, "Validation failed"
	case errors.Is(err, store.ErrSessionBusy):
		return fiber.StatusConflict, err.Error()
	case errors.Is(err, planner.ErrFallbackFailed):
		return fiber.StatusBadGateway, err.Error()
	case errors.Is(err, planner.ErrPipelineTimeout):
		return fiber.StatusGatewayTimeout, err.Error()
	default:
		return fiber.StatusInternalServerError, err.Error()
	}
}
