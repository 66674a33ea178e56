//go:build linux

package main

import (
	"context"
	"flag"

	"pvemigrate/cmd/eventd/wire"
	"pvemigrate/pkg/config"
	"pvemigrate/pkg/log"

	"go.uber.org/zap"
)

func main() {
	var envConf = flag.String("conf", "config/local.yml", "config path, eg: -conf ./config/local.yml")
	var socket = flag.String("socket", "", "listen socket, overrides eventd.socket")
	var killTimeout = flag.Duration("kill-timeout", 0, "time to wait before SIGKILL, overrides eventd.kill_timeout")
	flag.Parse()
	conf := config.NewConfig(*envConf)
	if *socket != "" {
		conf.Set("eventd.socket", *socket)
	}
	if *killTimeout > 0 {
		conf.Set("eventd.kill_timeout", *killTimeout)
	}

	logger := log.NewLog(conf)

	app, cleanup, err := wire.NewWire(conf, logger)
	defer cleanup()
	if err != nil {
		panic(err)
	}
	logger.Info("eventd start", zap.String("socket", conf.GetString("eventd.socket")))
	if err = app.Run(context.Background()); err != nil {
		panic(err)
	}
}
