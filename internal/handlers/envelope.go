package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/face-gateway/internal/logging"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Envelope is the single response shape of /verify and /detect. The HTTP
// status line is always 200; StatusCode carries the outcome.
type Envelope struct {
	Status     string `json:"status"`
	StatusCode int    `json:"status_code"`
	Data       any    `json:"data"`
}

func respondSuccess(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Envelope{Status: StatusSuccess, StatusCode: http.StatusOK, Data: data})
}

// respondError attaches err, annotated with operation, for the access log
// and writes the error envelope. Callers only ever see err's own text.
func respondError(c *gin.Context, operation string, err error) {
	c.Error(logging.NewOperationError(operation, requestIDFrom(c), err)) //nolint:errcheck
	c.JSON(http.StatusOK, Envelope{Status: StatusError, StatusCode: http.StatusBadRequest, Data: err.Error()})
}
