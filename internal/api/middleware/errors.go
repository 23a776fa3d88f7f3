package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/guiofsaints/procureflow-sub000/internal/errx"
)

// ErrorBody is the JSON shape of every error response
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failure without internal causes
type ErrorDetail struct {
	Kind     string `json:"kind"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

// ErrorHandler renders errors as ErrorBody. Typed failures keep their
// kind and status; raw causes are never sent.
func ErrorHandler(c *fiber.Ctx, err error) error {
	status, detail := describe(err)
	return c.Status(status).JSON(ErrorBody{Error: detail})
}

func describe(err error) (int, ErrorDetail) {
	if e, ok := errx.As(err); ok {
		return e.Kind.HTTPStatus(), ErrorDetail{
			Kind:     string(e.Kind),
			Category: string(e.Category()),
			Message:  e.PublicMessage(),
		}
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, ErrorDetail{
			Kind:     statusKind(fe.Code),
			Category: "http",
			Message:  fe.Message,
		}
	}

	return fiber.StatusInternalServerError, ErrorDetail{
		Kind:     "internal",
		Category: "http",
		Message:  "internal server error",
	}
}

// statusKind turns "Too Many Requests" into "too_many_requests"
func statusKind(code int) string {
	return strings.ReplaceAll(strings.ToLower(utils.StatusMessage(code)), " ", "_")
}
