package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"pvemigrate/internal/collab"
	"pvemigrate/pkg/log"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// ExecSupervisor 通过 qm 命令管理本节点的 qemu 进程，pid 文件位于 run_dir
type ExecSupervisor struct {
	runDir string
	qm     string
	procFS string
	logger *log.Logger
	run    runFunc
}

func NewSupervisor(conf *viper.Viper, logger *log.Logger) collab.Supervisor {
	return newExecSupervisor(conf, logger, execRun)
}

func newExecSupervisor(conf *viper.Viper, logger *log.Logger, run runFunc) *ExecSupervisor {
	qm := conf.GetString("node.qm_cmd")
	if qm == "" {
		qm = "/usr/sbin/qm"
	}
	return &ExecSupervisor{
		runDir: conf.GetString("node.run_dir"),
		qm:     qm,
		procFS: "/proc",
		logger: logger,
		run:    run,
	}
}

func (s *ExecSupervisor) pidFile(vmid uint32) string {
	return filepath.Join(s.runDir, fmt.Sprintf("%d.pid", vmid))
}

func (s *ExecSupervisor) IsRunning(ctx context.Context, vmid uint32) (int, error) {
	data, err := os.ReadFile(s.pidFile(vmid))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file for VM %d", vmid)
	}
	// 进程存在但无权发信号也算运行中
	if err := unix.Kill(pid, 0); err != nil && !errors.Is(err, unix.EPERM) {
		if errors.Is(err, unix.ESRCH) {
			return 0, nil
		}
		return 0, err
	}
	return pid, nil
}

func (s *ExecSupervisor) qmCmd(ctx context.Context, args ...string) error {
	start := time.Now()
	out, err := s.run(ctx, s.qm, args...)
	s.logger.WithContext(ctx).Debug("qm command finished",
		zap.Strings("args", args), zap.Duration("elapsed", time.Since(start)))
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return fmt.Errorf("qm %s failed: %w", args[0], err)
		}
		return fmt.Errorf("qm %s failed: %s: %w", args[0], msg, err)
	}
	return nil
}

func (s *ExecSupervisor) Start(ctx context.Context, vmid uint32, params collab.StartParams) error {
	args := []string{"start", strconv.FormatUint(uint64(vmid), 10), "--skiplock", "1"}
	if params.MigratedFrom != "" {
		args = append(args, "--migratedfrom", params.MigratedFrom)
	}
	if params.StateURI != "" {
		args = append(args, "--stateuri", params.StateURI)
	}
	if params.MigrationType != "" {
		args = append(args, "--migration_type", params.MigrationType)
	}
	if params.Network != "" {
		args = append(args, "--migration_network", params.Network)
	}
	return s.qmCmd(ctx, args...)
}

func (s *ExecSupervisor) Stop(ctx context.Context, vmid uint32, opts collab.StopOptions) error {
	args := []string{"stop", strconv.FormatUint(uint64(vmid), 10)}
	if opts.SkipLock {
		args = append(args, "--skiplock", "1")
	}
	if opts.KeepActive {
		args = append(args, "--keepActive", "1")
	}
	if opts.MigratedFrom != "" {
		args = append(args, "--migratedfrom", opts.MigratedFrom)
	}
	if opts.Timeout > 0 {
		args = append(args, "--timeout", strconv.Itoa(int(opts.Timeout/time.Second)))
	}
	return s.qmCmd(ctx, args...)
}

func (s *ExecSupervisor) CommandLine(ctx context.Context, vmid uint32) ([]string, error) {
	pid, err := s.IsRunning(ctx, vmid)
	if err != nil {
		return nil, err
	}
	if pid == 0 {
		return nil, fmt.Errorf("VM %d not running", vmid)
	}
	data, err := os.ReadFile(filepath.Join(s.procFS, strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return nil, err
	}
	var args []string
	for _, a := range bytes.Split(bytes.TrimRight(data, "\x00"), []byte{0}) {
		args = append(args, string(a))
	}
	return args, nil
}
