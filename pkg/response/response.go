package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeBusinessError = 1000
)

const (
	CodePlanNotFound      = 1001
	CodeEntryNotFound     = 1002
	CodeDuplicatePlan     = 1003
	CodePlanLocked        = 1004
	CodePlanNotEditable   = 1005
	CodeInvalidTransition = 1006
	CodeMissingApprover   = 1007
	CodeMissingBudgetID   = 1008
	CodeInvalidStatus     = 1009
	CodeValidation        = 1010

	CodeEventNotRequeueable = 1011
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Details *Details    `json:"details,omitempty"`
}

// Details 领域错误的上下文，调用方据此提示用户
type Details struct {
	Error   string   `json:"error"`
	Field   string   `json:"field,omitempty"`
	Current string   `json:"current,omitempty"`
	Target  string   `json:"target,omitempty"`
	Allowed []string `json:"allowed,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    CodeSuccess,
		Message: "created",
		Data:    data,
	})
}

func Error(c *gin.Context, status, code int, message string, details *Details) {
	c.AbortWithStatusJSON(status, Response{
		Code:    code,
		Message: message,
		Details: details,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, CodeParamError, message, nil)
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, CodeUnauthorized, message, nil)
}

// ServerError 不把内部错误细节返回给调用方
func ServerError(c *gin.Context) {
	Error(c, http.StatusInternalServerError, CodeServerError, "服务器内部错误", nil)
}
