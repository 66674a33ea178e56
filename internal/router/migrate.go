package router

import (
	"pvemigrate/internal/middleware"

	"github.com/gin-gonic/gin"
)

func InitMigrateRouter(
	deps RouterDeps,
	r *gin.RouterGroup,
) {
	// Strict permission routing group
	strictAuthRouter := r.Group("/").Use(middleware.StrictAuth(deps.JWT, deps.Logger))
	{
		strictAuthRouter.POST("/qemu/:vmid/migrate", deps.MigrateHandler.MigrateVM)

		strictAuthRouter.GET("/tasks", deps.MigrateHandler.ListTasks)
		strictAuthRouter.GET("/tasks/:id", deps.MigrateHandler.GetTask)
		strictAuthRouter.GET("/tasks/:id/log", deps.MigrateHandler.GetTaskLog)
		strictAuthRouter.DELETE("/tasks/:id", deps.MigrateHandler.StopTask)
	}
}
