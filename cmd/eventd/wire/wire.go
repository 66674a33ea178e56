//go:build wireinject && linux
// +build wireinject,linux

package wire

import (
	"pvemigrate/internal/eventd"
	"pvemigrate/internal/server"
	"pvemigrate/pkg/app"
	"pvemigrate/pkg/log"

	"github.com/google/wire"
	"github.com/spf13/viper"
)

var eventdSet = wire.NewSet(
	eventd.NewConfig,
	eventd.NewDaemon,
)

var serverSet = wire.NewSet(
	server.NewEventdServer,
)

func newApp(
	eventdServer *server.EventdServer,
) *app.App {
	return app.NewApp(
		app.WithServer(eventdServer),
		app.WithName("pvemigrate-eventd"),
	)
}

func NewWire(*viper.Viper, *log.Logger) (*app.App, func(), error) {
	panic(wire.Build(
		eventdSet,
		serverSet,
		newApp,
	))
}
