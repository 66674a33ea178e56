package router

import (
	"pvemigrate/internal/handler"
	"pvemigrate/pkg/jwt"
	"pvemigrate/pkg/log"

	"github.com/spf13/viper"
)

type RouterDeps struct {
	Logger         *log.Logger
	Config         *viper.Viper
	JWT            *jwt.JWT
	MigrateHandler *handler.MigrateHandler
	TunnelHandler  *handler.TunnelHandler
}
