package handler

import (
	"errors"
	"net/http"
	"strconv"

	v1 "pvemigrate/api/v1"
	"pvemigrate/pkg/jwt"
	"pvemigrate/pkg/log"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	logger *log.Logger
}

func NewHandler(
	logger *log.Logger,
) *Handler {
	return &Handler{
		logger: logger,
	}
}

func GetUserIdFromCtx(ctx *gin.Context) string {
	v, exists := ctx.Get("claims")
	if !exists {
		return ""
	}
	claims, ok := v.(*jwt.MyCustomClaims)
	if !ok {
		return ""
	}
	return claims.UserId
}

// vmidParam 解析路径中的 :vmid
func vmidParam(ctx *gin.Context) (uint32, bool) {
	vmid, err := strconv.ParseUint(ctx.Param("vmid"), 10, 32)
	if err != nil || vmid == 0 {
		return 0, false
	}
	return uint32(vmid), true
}

// statusOf 业务错误对应的 HTTP 状态码
func statusOf(err error) int {
	switch {
	case errors.Is(err, v1.ErrBadRequest), errors.Is(err, v1.ErrInvalidMigration):
		return http.StatusBadRequest
	case errors.Is(err, v1.ErrUnauthorized), errors.Is(err, v1.ErrInvalidTunnelTicket):
		return http.StatusUnauthorized
	case errors.Is(err, v1.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, v1.ErrNotFound), errors.Is(err, v1.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, v1.ErrTaskNotRunning), errors.Is(err, v1.ErrTunnelBusy), errors.Is(err, v1.ErrVMLocked):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
