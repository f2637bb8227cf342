// Package queryapi exposes the read-only snapshot/fleet/history surface
// plus the operator-command admin routes over a thin gin-gonic/gin HTTP
// layer. It never mutates estimator state directly: admin routes call
// into internal/estimator.Coordinator's own exported reset methods, which
// take their own lock.
//
// Grounded on internal/tracking/handler.go's response envelope
// (SuccessResponse/ErrorResponse/PaginatedResponse) and route style.
package queryapi

import "github.com/gin-gonic/gin"

// SuccessResponse wraps a successful response payload.
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Message string      `json:"message,omitempty"`
}

// ErrorResponse wraps a failed response.
type ErrorResponse struct {
	Success bool   `json:"success" example:"false"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, SuccessResponse{Success: true, Data: data})
}

func fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{Success: false, Error: code, Message: message})
}
