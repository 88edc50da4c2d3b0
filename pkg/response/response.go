package response

import (
	"errors"
	"net/http"
	"time"

	"salvage-settlement/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SuccessResponse is the standard success envelope.
type SuccessResponse struct {
	Data      interface{} `json:"data"`
	Meta      *PageMeta   `json:"meta,omitempty"`
	RequestID string      `json:"request_id"`
	Timestamp string      `json:"timestamp"`
}

// PageMeta describes a paginated list.
type PageMeta struct {
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// OK sends a 200 response with data.
func OK(c *gin.Context, data interface{}) {
	send(c, http.StatusOK, data, nil)
}

// Created sends a 201 response with data.
func Created(c *gin.Context, data interface{}) {
	send(c, http.StatusCreated, data, nil)
}

// Accepted sends a 202 response, used when a sweep or side effect was queued.
func Accepted(c *gin.Context, data interface{}) {
	send(c, http.StatusAccepted, data, nil)
}

// Page sends a 200 response with list data and pagination metadata.
func Page(c *gin.Context, data interface{}, total int64, limit, offset int) {
	send(c, http.StatusOK, data, &PageMeta{Total: total, Limit: limit, Offset: offset})
}

func send(c *gin.Context, status int, data interface{}, meta *PageMeta) {
	id, ts := stamp(c)
	c.JSON(status, SuccessResponse{Data: data, Meta: meta, RequestID: id, Timestamp: ts})
}

// Error writes the envelope for err. Anything that is not an *apperror.AppError
// is reported as SYS_000 without leaking its text.
func Error(c *gin.Context, err error) {
	status, body := http.StatusInternalServerError, ErrorResponse{
		ErrorCode: "SYS_000",
		Message:   "Internal server error",
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status, body.ErrorCode, body.Message = appErr.HTTPStatus, appErr.Code, appErr.Message
	}
	body.RequestID, body.Timestamp = stamp(c)
	c.JSON(status, body)
}

// stamp returns the request ID set by the RequestID middleware (a fresh one
// when absent) and the current UTC time.
func stamp(c *gin.Context) (string, string) {
	id := c.GetString("request_id")
	if id == "" {
		id = uuid.NewString()
	}
	return id, time.Now().UTC().Format(time.RFC3339)
}
