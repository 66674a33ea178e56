package handler

import (
	"net/http"

	v1 "pvemigrate/api/v1"
	"pvemigrate/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type TunnelHandler struct {
	*Handler
	tunnelService service.TunnelService
}

func NewTunnelHandler(handler *Handler, tunnelService service.TunnelService) *TunnelHandler {
	return &TunnelHandler{
		Handler:       handler,
		tunnelService: tunnelService,
	}
}

// Version godoc
// @Summary 节点版本和隧道协议版本
// @Tags 迁移隧道模块
// @Produce json
// @Security Bearer
// @Success 200 {object} v1.VersionResponse
// @Router /api/v1/version [get]
func (h *TunnelHandler) Version(ctx *gin.Context) {
	v1.HandleSuccess(ctx, h.tunnelService.Version(ctx))
}

// CreateTunnel godoc
// @Summary 为传入的迁移创建隧道
// @Tags 迁移隧道模块
// @Produce json
// @Security Bearer
// @Param vmid path int true "虚拟机ID"
// @Success 200 {object} v1.CreateTunnelResponse
// @Router /api/v1/qemu/{vmid}/mtunnel [post]
func (h *TunnelHandler) CreateTunnel(ctx *gin.Context) {
	vmid, ok := vmidParam(ctx)
	if !ok {
		v1.HandleError(ctx, http.StatusBadRequest, v1.ErrBadRequest, nil)
		return
	}

	data, err := h.tunnelService.CreateTunnel(ctx, vmid)
	if err != nil {
		h.logger.WithContext(ctx).Error("tunnelService.CreateTunnel error", zap.Error(err))
		v1.HandleError(ctx, statusOf(err), err, nil)
		return
	}

	v1.HandleSuccess(ctx, data)
}

// TunnelWebsocket godoc
// @Summary 迁移隧道 WebSocket，控制通道或转发的 socket
// @Tags 迁移隧道模块
// @Security Bearer
// @Param vmid path int true "虚拟机ID"
// @Param ticket query string true "隧道票据"
// @Param socket query string true "socket 路径"
// @Router /api/v1/qemu/{vmid}/mtunnelwebsocket [get]
func (h *TunnelHandler) TunnelWebsocket(ctx *gin.Context) {
	vmid, ok := vmidParam(ctx)
	if !ok {
		v1.HandleError(ctx, http.StatusBadRequest, v1.ErrBadRequest, nil)
		return
	}
	req := new(v1.TunnelWebsocketRequest)
	if err := ctx.ShouldBindQuery(req); err != nil {
		v1.HandleError(ctx, http.StatusBadRequest, v1.ErrBadRequest, nil)
		return
	}
	if err := h.tunnelService.VerifyTicket(ctx, vmid, req.Ticket, req.Socket); err != nil {
		v1.HandleError(ctx, statusOf(err), err, nil)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  8192,
		WriteBufferSize: 8192,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		return
	}

	if err := h.tunnelService.ServeWebsocket(ctx.Request.Context(), vmid, req.Socket, conn); err != nil {
		h.logger.WithContext(ctx).Warn("tunnel websocket closed with error", zap.Uint32("vmid", vmid), zap.Error(err))
	}
}
