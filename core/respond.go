package core

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"dugsi-admin/telemetry"
)

const genericFailure = "Something went wrong. Please try again."

// Respond writes result with status 200.
func Respond(c *gin.Context, result ActionResult) {
	c.JSON(http.StatusOK, result)
}

// RespondError maps err onto a status code and a failed ActionResult.
// Unexpected errors are captured under tag and replaced with a generic message.
func RespondError(c *gin.Context, tag string, err error) {
	code, result := classify(err)
	if code == http.StatusInternalServerError {
		telemetry.Capture(tag, err, map[string]interface{}{
			"path":       c.FullPath(),
			"method":     c.Request.Method,
			"request_id": c.GetString("request_id"),
		})
	}
	c.JSON(code, result)
}

func classify(err error) (int, ActionResult) {
	var vErrs validator.ValidationErrors
	if errors.As(err, &vErrs) {
		fields := TranslateErrors(vErrs)
		res := Fail(fields[0].Error)
		res.Fields = fields
		return http.StatusBadRequest, res
	}
	if vErr, ok := AsValidation(err); ok {
		res := Fail(vErr.Error())
		res.Fields = vErr.Fields
		return http.StatusBadRequest, res
	}
	if pErr, ok := AsProvider(err); ok {
		return http.StatusBadGateway, Fail(pErr.Error())
	}
	switch {
	case IsNotFound(err):
		return http.StatusNotFound, Fail(UserMessage(err))
	case IsConflict(err):
		return http.StatusConflict, Fail(UserMessage(err))
	}
	return http.StatusInternalServerError, Fail(genericFailure)
}
