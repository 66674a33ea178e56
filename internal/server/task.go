package server

import (
	"context"
	"time"

	"pvemigrate/internal/service"
	"pvemigrate/pkg/log"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// TaskServer 退出时取消运行中的迁移并等待回滚
type TaskServer struct {
	log            *log.Logger
	migrateService service.MigrateService
	timeout        time.Duration
}

func NewTaskServer(
	log *log.Logger,
	migrateService service.MigrateService,
	conf *viper.Viper,
) *TaskServer {
	timeout := conf.GetDuration("migrate.shutdown_timeout")
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &TaskServer{log: log, migrateService: migrateService, timeout: timeout}
}

func (t *TaskServer) Start(ctx context.Context) error {
	t.log.Info("task server started")
	return nil
}

func (t *TaskServer) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	if err := t.migrateService.Shutdown(ctx); err != nil {
		t.log.Error("running migrations did not finish rollback", zap.Error(err))
		return err
	}
	t.log.Info("task server stop...")
	return nil
}
