package handler

import (
	"net/http"

	v1 "pvemigrate/api/v1"
	"pvemigrate/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type MigrateHandler struct {
	*Handler
	migrateService service.MigrateService
}

func NewMigrateHandler(handler *Handler, migrateService service.MigrateService) *MigrateHandler {
	return &MigrateHandler{
		Handler:        handler,
		migrateService: migrateService,
	}
}

// MigrateVM godoc
// @Summary 迁移虚拟机到集群中的另一个节点
// @Tags 迁移模块
// @Accept json
// @Produce json
// @Security Bearer
// @Param vmid path int true "虚拟机ID"
// @Param request body v1.MigrateVMRequest true "迁移请求"
// @Success 200 {object} v1.MigrateVMResponse
// @Router /api/v1/qemu/{vmid}/migrate [post]
func (h *MigrateHandler) MigrateVM(ctx *gin.Context) {
	vmid, ok := vmidParam(ctx)
	if !ok {
		v1.HandleError(ctx, http.StatusBadRequest, v1.ErrBadRequest, nil)
		return
	}
	req := new(v1.MigrateVMRequest)
	if err := ctx.ShouldBindJSON(req); err != nil {
		v1.HandleError(ctx, http.StatusBadRequest, v1.ErrBadRequest, nil)
		return
	}

	taskID, err := h.migrateService.Migrate(ctx, vmid, GetUserIdFromCtx(ctx), req)
	if err != nil {
		h.logger.WithContext(ctx).Error("migrateService.Migrate error", zap.Error(err))
		v1.HandleError(ctx, statusOf(err), err, nil)
		return
	}

	v1.HandleSuccess(ctx, v1.MigrateVMData{TaskID: taskID})
}

// ListTasks godoc
// @Summary 获取迁移任务列表
// @Tags 迁移模块
// @Accept json
// @Produce json
// @Security Bearer
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(20)
// @Param vmid query int false "虚拟机ID"
// @Param status query string false "任务状态"
// @Success 200 {object} v1.ListTasksResponse
// @Router /api/v1/tasks [get]
func (h *MigrateHandler) ListTasks(ctx *gin.Context) {
	req := new(v1.ListTasksRequest)
	if err := ctx.ShouldBindQuery(req); err != nil {
		v1.HandleError(ctx, http.StatusBadRequest, v1.ErrBadRequest, nil)
		return
	}

	data, err := h.migrateService.ListTasks(ctx, req)
	if err != nil {
		h.logger.WithContext(ctx).Error("migrateService.ListTasks error", zap.Error(err))
		v1.HandleError(ctx, statusOf(err), err, nil)
		return
	}

	v1.HandleSuccess(ctx, data)
}

// GetTask godoc
// @Summary 获取迁移任务状态
// @Tags 迁移模块
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path string true "任务ID"
// @Success 200 {object} v1.GetTaskResponse
// @Router /api/v1/tasks/{id} [get]
func (h *MigrateHandler) GetTask(ctx *gin.Context) {
	task, err := h.migrateService.GetTask(ctx, ctx.Param("id"))
	if err != nil {
		h.logger.WithContext(ctx).Error("migrateService.GetTask error", zap.Error(err))
		v1.HandleError(ctx, statusOf(err), err, nil)
		return
	}

	v1.HandleSuccess(ctx, task)
}

// GetTaskLog godoc
// @Summary 获取迁移任务日志
// @Tags 迁移模块
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path string true "任务ID"
// @Param start query int false "起始行号" default(0)
// @Param limit query int false "返回行数" default(50)
// @Success 200 {object} v1.GetTaskLogResponse
// @Router /api/v1/tasks/{id}/log [get]
func (h *MigrateHandler) GetTaskLog(ctx *gin.Context) {
	req := new(v1.GetTaskLogRequest)
	if err := ctx.ShouldBindQuery(req); err != nil {
		v1.HandleError(ctx, http.StatusBadRequest, v1.ErrBadRequest, nil)
		return
	}

	// 设置默认值
	if req.Start < 0 {
		req.Start = 0
	}
	if req.Limit <= 0 {
		req.Limit = 50
	}
	// 限制最大返回行数
	if req.Limit > 1000 {
		req.Limit = 1000
	}

	data, err := h.migrateService.GetTaskLog(ctx, ctx.Param("id"), req)
	if err != nil {
		h.logger.WithContext(ctx).Error("migrateService.GetTaskLog error", zap.Error(err))
		v1.HandleError(ctx, statusOf(err), err, nil)
		return
	}

	v1.HandleSuccess(ctx, data)
}

// StopTask godoc
// @Summary 取消运行中的迁移任务
// @Tags 迁移模块
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path string true "任务ID"
// @Success 200 {object} v1.Response
// @Router /api/v1/tasks/{id} [delete]
func (h *MigrateHandler) StopTask(ctx *gin.Context) {
	if err := h.migrateService.StopTask(ctx, ctx.Param("id")); err != nil {
		h.logger.WithContext(ctx).Error("migrateService.StopTask error", zap.Error(err))
		v1.HandleError(ctx, statusOf(err), err, nil)
		return
	}

	v1.HandleSuccess(ctx, nil)
}
