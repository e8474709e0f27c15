package utils

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// JSONResponse is the envelope of every local API answer.
type JSONResponse struct {
	Status  bool        `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func RespondJSON(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(code, JSONResponse{
		Status:  code >= 200 && code < 300,
		Message: message,
		Data:    data,
	})
}

// RespondError answers with err as the message. Upstream failures (5xx) are
// logged, client mistakes are not.
func RespondError(c *gin.Context, code int, err error) {
	if code >= 500 {
		ErrorLogger.WithFields(logrus.Fields{
			"component": "http",
			"route":     c.FullPath(),
			"status":    code,
		}).Error(err)
	}
	c.JSON(code, JSONResponse{
		Status:  false,
		Message: err.Error(),
	})
}
