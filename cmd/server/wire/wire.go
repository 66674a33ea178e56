//go:build wireinject
// +build wireinject

package wire

import (
	"pvemigrate/internal/collab"
	"pvemigrate/internal/handler"
	"pvemigrate/internal/job"
	"pvemigrate/internal/migrate"
	"pvemigrate/internal/mtunnel"
	"pvemigrate/internal/repository"
	"pvemigrate/internal/router"
	"pvemigrate/internal/server"
	"pvemigrate/internal/service"
	"pvemigrate/internal/storagesync"
	"pvemigrate/pkg/app"
	"pvemigrate/pkg/jwt"
	"pvemigrate/pkg/log"
	"pvemigrate/pkg/qmp"
	"pvemigrate/pkg/server/http"
	"pvemigrate/pkg/sid"

	"github.com/google/wire"
	"github.com/spf13/viper"
)

var repositorySet = wire.NewSet(
	repository.NewDB,
	repository.NewRedis,
	repository.NewRepository,
	repository.NewTransaction,
	repository.NewMigrateTaskRepository,
	repository.NewTaskLogRepository,
	repository.NewVMConfigRepository,
	repository.NewReplicationRepository,
	repository.NewGuestLock,
	wire.Bind(new(collab.ConfigStore), new(repository.VMConfigRepository)),
	wire.Bind(new(collab.Replication), new(repository.ReplicationRepository)),
)

var nodeSet = wire.NewSet(
	service.NewMonitor,
	service.NewSupervisor,
	service.NewStorage,
	wire.Bind(new(storagesync.Monitor), new(*qmp.Client)),
)

var migrateSet = wire.NewSet(
	storagesync.NewConfig,
	storagesync.NewEngine,
	migrate.NewConfig,
	migrate.NewMigrator,
	service.NewTunnelOpener,
	service.NewPhaseRecorder,
	wire.Struct(new(migrate.Deps), "*"),
	wire.Bind(new(service.Migrator), new(*migrate.Migrator)),
)

var tunnelSet = wire.NewSet(
	mtunnel.NewConfig,
	wire.Struct(new(mtunnel.Deps), "*"),
	wire.Bind(new(mtunnel.TicketIssuer), new(*jwt.JWT)),
)

var serviceSet = wire.NewSet(
	service.NewService,
	service.NewMigrateService,
	service.NewTunnelService,
)

var handlerSet = wire.NewSet(
	handler.NewHandler,
	handler.NewMigrateHandler,
	handler.NewTunnelHandler,
)

var jobSet = wire.NewSet(
	job.NewJob,
	job.NewTaskJob,
)
var serverSet = wire.NewSet(
	server.NewHTTPServer,
	server.NewJobServer,
	server.NewTaskServer,
)

// build App
func newApp(
	httpServer *http.Server,
	jobServer *server.JobServer,
	taskServer *server.TaskServer,
) *app.App {
	return app.NewApp(
		app.WithServer(httpServer, jobServer, taskServer),
		app.WithName("pvemigrate-server"),
	)
}

func NewWire(*viper.Viper, *log.Logger) (*app.App, func(), error) {
	panic(wire.Build(
		repositorySet,
		nodeSet,
		migrateSet,
		tunnelSet,
		serviceSet,
		handlerSet,
		jobSet,
		serverSet,
		wire.Struct(new(router.RouterDeps), "*"),
		sid.NewSid,
		jwt.NewJwt,
		newApp,
	))
}
