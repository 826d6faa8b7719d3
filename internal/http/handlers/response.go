// Package handlers provides HTTP handler implementations for the public API.
//
// This file holds the response helpers. Every failure goes through fail()
// so the envelope is uniform; failErr() translates service errors into
// status and code:
//
//	AdmissionDenied  429 too_many_requests (+ Retry-After)
//	Unauthenticated  401 unauthorized
//	Unauthorized     403 forbidden
//	ChatNotFound     404 not_found
//	TurnInFlight     409 turn_in_flight
//	Upstream         502 upstream_failed
//	EmptyPrompt      400 bad_request
//	TooLong          400 prompt_too_long
package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-stream/internal/http/middleware"
	"github.com/tbourn/go-chat-stream/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"chat not found"`
}

// fail aborts the request with a structured error. 5xx responses are logged
// with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	resp := errorBody(c, code, msg)
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail() for the router's fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func errorBody(c *gin.Context, code, msg string) ErrorResponse {
	return ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}
}

// statusFor maps a service error onto an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrAdmissionDenied):
		return http.StatusTooManyRequests, ErrCodeRateLimited
	case errors.Is(err, services.ErrUnauthenticated):
		return http.StatusUnauthorized, ErrCodeUnauthorized
	case errors.Is(err, services.ErrUnauthorized):
		return http.StatusForbidden, ErrCodeForbidden
	case errors.Is(err, services.ErrChatNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, services.ErrTurnInFlight):
		return http.StatusConflict, ErrCodeTurnInFlight
	case errors.Is(err, services.ErrUpstream):
		return http.StatusBadGateway, ErrCodeUpstreamFailed
	case errors.Is(err, services.ErrTooLong):
		return http.StatusBadRequest, ErrCodePromptTooLong
	case errors.Is(err, services.ErrEmptyPrompt), errors.Is(err, services.ErrInvalidChat):
		return http.StatusBadRequest, ErrCodeBadRequest
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// failErr writes the envelope for a service error. Internal errors are not
// echoed to the client.
func failErr(c *gin.Context, err error) {
	status, code := statusFor(err)

	var denied *services.AdmissionDeniedError
	if errors.As(err, &denied) && denied.RetryAfter > 0 {
		secs := int(math.Ceil(denied.RetryAfter.Seconds()))
		c.Header("Retry-After", strconv.Itoa(secs))
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "internal server error"
	}
	fail(c, status, code, msg)
}

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
