package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"pvemigrate/internal/model"
	"pvemigrate/internal/repository"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// taskLogSink 把任务日志逐行写入 task_log 表
type taskLogSink struct {
	repo   repository.TaskLogRepository
	taskID string
	// 写库失败时的去处
	fallback *zap.Logger

	mu  sync.Mutex
	seq int
}

func (s *taskLogSink) append(level zapcore.Level, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	err := s.repo.Append(context.Background(), &model.TaskLog{
		TaskID: s.taskID,
		Seq:    s.seq,
		Level:  level.String(),
		Line:   line,
	})
	if err != nil {
		s.fallback.Warn("failed to persist task log line", zap.String("task_id", s.taskID), zap.Error(err))
	}
	return nil
}

// taskLogCore 每条日志格式化为一行，写入 taskLogSink
type taskLogCore struct {
	zapcore.LevelEnabler
	enc  zapcore.Encoder
	sink *taskLogSink
}

func newTaskLogCore(sink *taskLogSink, level zapcore.LevelEnabler) zapcore.Core {
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:          "ts",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeTime:       taskLogTime,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	})
	return &taskLogCore{LevelEnabler: level, enc: enc, sink: sink}
}

func taskLogTime(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05"))
}

func (c *taskLogCore) With(fields []zapcore.Field) zapcore.Core {
	enc := c.enc.Clone()
	for _, f := range fields {
		f.AddTo(enc)
	}
	return &taskLogCore{LevelEnabler: c.LevelEnabler, enc: enc, sink: c.sink}
}

func (c *taskLogCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *taskLogCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	// 结束行 TASK OK / TASK WARNINGS / TASK ERROR: 原样写入
	if strings.HasPrefix(ent.Message, "TASK ") {
		return c.sink.append(ent.Level, ent.Message)
	}
	if ent.Level >= zapcore.WarnLevel {
		ent.Message = strings.ToUpper(ent.Level.String()) + ": " + ent.Message
	}
	buf, err := c.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	line := strings.TrimSuffix(buf.String(), "\n")
	buf.Free()
	return c.sink.append(ent.Level, line)
}

func (c *taskLogCore) Sync() error {
	return nil
}

// newTaskLogger 同时写节点日志和任务日志的 logger
func newTaskLogger(base *zap.Logger, repo repository.TaskLogRepository, taskID string, vmid uint32) *zap.Logger {
	sink := &taskLogSink{repo: repo, taskID: taskID, fallback: base}
	// task_id 和 vmid 只出现在节点日志中
	node := base.With(zap.String("task_id", taskID), zap.Uint32("vmid", vmid))
	return node.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, newTaskLogCore(sink, zapcore.InfoLevel))
	}))
}
