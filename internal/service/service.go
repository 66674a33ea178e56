package service

import (
	"pvemigrate/internal/repository"
	"pvemigrate/pkg/jwt"
	"pvemigrate/pkg/log"
	"pvemigrate/pkg/qmp"
	"pvemigrate/pkg/sid"

	"github.com/spf13/viper"
)

type Service struct {
	logger *log.Logger
	sid    *sid.Sid
	jwt    *jwt.JWT
	tm     repository.Transaction
	node   string
}

func NewService(
	tm repository.Transaction,
	logger *log.Logger,
	sid *sid.Sid,
	jwt *jwt.JWT,
	conf *viper.Viper,
) *Service {
	return &Service{
		logger: logger,
		sid:    sid,
		jwt:    jwt,
		tm:     tm,
		node:   conf.GetString("node.name"),
	}
}

// NewMonitor 本节点虚拟机的 QMP/QGA 客户端
func NewMonitor(conf *viper.Viper, logger *log.Logger) *qmp.Client {
	return qmp.NewClient(conf.GetString("node.run_dir"), qmp.WithLogger(logger))
}
