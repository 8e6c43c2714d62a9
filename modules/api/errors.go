package api

import (
	"errors"
	"log"

	domain "github.com/example/support-chat/domain/chat"
	"github.com/gofiber/fiber/v2"
)

// ErrRateLimited is returned when a connection sends faster than allowed.
var ErrRateLimited = errors.New("rate limit exceeded")

// errorCode maps err to the code carried by REST bodies and socket acks.
func errorCode(err error) string {
	if errors.Is(err, ErrRateLimited) {
		return "rate_limited"
	}
	return domain.Code(err)
}

// errorBody builds the client facing description of err. Internal errors are logged
// and reported without detail.
func errorBody(err error) ErrorBody {
	code := errorCode(err)
	if code == "internal_error" {
		log.Printf("[api] Internal error: %v", err)
		return ErrorBody{Code: code, Message: "internal error"}
	}
	return ErrorBody{Code: code, Message: err.Error()}
}

func httpStatus(code string) int {
	switch code {
	case "unauthenticated":
		return fiber.StatusUnauthorized
	case "forbidden", "not_an_admin":
		return fiber.StatusForbidden
	case "not_found":
		return fiber.StatusNotFound
	case "invalid_payload":
		return fiber.StatusBadRequest
	case "invalid_state", "already_assigned", "cannot_reopen", "closed_chat":
		return fiber.StatusConflict
	case "rate_limited":
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}

// writeError sends err as an ErrorResponse with the matching HTTP status.
func writeError(c *fiber.Ctx, err error) error {
	body := errorBody(err)
	return c.Status(httpStatus(body.Code)).JSON(ErrorResponse{
		Error:   body.Code,
		Message: body.Message,
	})
}

// customErrorHandler handles Fiber errors.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   "server_error",
		Message: message,
	})
}
