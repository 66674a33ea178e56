package router

import (
	"pvemigrate/internal/middleware"

	"github.com/gin-gonic/gin"
)

func InitTunnelRouter(
	deps RouterDeps,
	r *gin.RouterGroup,
) {
	// Strict permission routing group
	strictAuthRouter := r.Group("/").Use(middleware.StrictAuth(deps.JWT, deps.Logger))
	{
		strictAuthRouter.GET("/version", deps.TunnelHandler.Version)
		strictAuthRouter.POST("/qemu/:vmid/mtunnel", deps.TunnelHandler.CreateTunnel)
		strictAuthRouter.GET("/qemu/:vmid/mtunnelwebsocket", deps.TunnelHandler.TunnelWebsocket)
	}
}
