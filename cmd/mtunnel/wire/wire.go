//go:build wireinject
// +build wireinject

package wire

import (
	"pvemigrate/internal/collab"
	"pvemigrate/internal/mtunnel"
	"pvemigrate/internal/repository"
	"pvemigrate/internal/service"
	"pvemigrate/internal/storagesync"
	"pvemigrate/pkg/jwt"
	"pvemigrate/pkg/log"
	"pvemigrate/pkg/qmp"

	"github.com/google/wire"
	"github.com/spf13/viper"
)

var repositorySet = wire.NewSet(
	repository.NewDB,
	repository.NewRedis,
	repository.NewRepository,
	repository.NewVMConfigRepository,
	wire.Bind(new(collab.ConfigStore), new(repository.VMConfigRepository)),
)

var nodeSet = wire.NewSet(
	service.NewMonitor,
	service.NewSupervisor,
	service.NewStorage,
	wire.Bind(new(storagesync.Monitor), new(*qmp.Client)),
)

var tunnelSet = wire.NewSet(
	mtunnel.NewConfig,
	mtunnel.NewHandler,
	wire.Struct(new(mtunnel.Deps), "*"),
	wire.Bind(new(mtunnel.TicketIssuer), new(*jwt.JWT)),
)

// NewWire 为 vmid 建立目标端隧道处理器
func NewWire(*viper.Viper, *log.Logger, uint32) (*mtunnel.Handler, func(), error) {
	panic(wire.Build(
		repositorySet,
		nodeSet,
		tunnelSet,
		jwt.NewJwt,
	))
}
