package utils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourorg/chart-datafeed/internal/model"
)

// ErrorResponse is the body of every failed API call
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode,omitempty"`
}

// SendErrorResponse sends a standardized error response
func SendErrorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, ErrorResponse{Error: message})
}

// ErrorBody maps an error to its status code and response body. Errors that
// are not datafeed errors become a generic 500.
func ErrorBody(err error) (int, ErrorResponse) {
	var coded model.CodedError
	if errors.As(err, &coded) {
		return coded.StatusCode(), ErrorResponse{Error: coded.Error(), ErrorCode: coded.Code()}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"}
}

// SendDatafeedError sends the response for an error returned by the datafeed
func SendDatafeedError(c *gin.Context, err error) {
	status, body := ErrorBody(err)
	c.JSON(status, body)
}
