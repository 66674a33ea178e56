package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"pvemigrate/cmd/mtunnel/wire"
	"pvemigrate/pkg/config"
	"pvemigrate/pkg/log"
	"pvemigrate/pkg/tunnel"

	"go.uber.org/zap"
)

// 由源节点经 ssh 启动，stdin/stdout 为隧道通道
func main() {
	var envConf = flag.String("conf", "config/local.yml", "config path, eg: -conf ./config/local.yml")
	var vmid = flag.Uint("vmid", 0, "VM being migrated to this node")
	flag.Parse()
	if *vmid == 0 || *vmid > 1<<32-1 {
		flag.Usage()
		os.Exit(2)
	}
	conf := config.NewConfig(*envConf)
	conf.Set("log.output", "stderr")

	logger := log.NewLog(conf)

	handler, cleanup, err := wire.NewWire(conf, logger, uint32(*vmid))
	defer cleanup()
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	conn := tunnel.NewStreamLineConn(os.Stdin, os.Stdout, os.Stdin)
	if err := handler.Serve(ctx, conn); err != nil {
		logger.Error("migration tunnel failed", zap.Uint("vmid", *vmid), zap.Error(err))
		cleanup()
		os.Exit(1)
	}
}
