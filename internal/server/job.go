package server

import (
	"context"
	"time"

	"pvemigrate/internal/job"
	"pvemigrate/pkg/log"

	"github.com/go-co-op/gocron"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type JobServer struct {
	log       *log.Logger
	scheduler *gocron.Scheduler
	taskJob   job.TaskJob
	cron      string
}

func NewJobServer(
	log *log.Logger,
	taskJob job.TaskJob,
	conf *viper.Viper,
) *JobServer {
	return &JobServer{
		log:       log,
		taskJob:   taskJob,
		cron:      conf.GetString("job.prune_cron"),
		scheduler: gocron.NewScheduler(time.Local),
	}
}

func (j *JobServer) Start(ctx context.Context) error {
	gocron.SetPanicHandler(func(jobName string, recoverData interface{}) {
		j.log.Error("JobServer Panic", zap.String("job", jobName), zap.Any("recover", recoverData))
	})

	if err := j.taskJob.Recover(ctx); err != nil {
		j.log.Error("recover migrate tasks error", zap.Error(err))
	}

	_, err := j.scheduler.CronWithSeconds(j.cron).Do(func() {
		if err := j.taskJob.Prune(ctx); err != nil {
			j.log.Error("prune migrate tasks error", zap.Error(err))
		}
		if err := j.taskJob.CheckLocks(ctx); err != nil {
			j.log.Error("check config locks error", zap.Error(err))
		}
	})
	if err != nil {
		j.log.Error("JobServer schedule error", zap.Error(err))
		return err
	}
	j.scheduler.StartBlocking()
	return nil
}

func (j *JobServer) Stop(ctx context.Context) error {
	j.scheduler.Stop()
	j.log.Info("JobServer stop...")
	return nil
}
