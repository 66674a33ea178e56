package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"pvemigrate/internal/collab"
	"pvemigrate/pkg/log"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runCall struct {
	name string
	args []string
}

type fakeRun struct {
	calls []runCall
	out   []byte
	err   error
}

func (f *fakeRun) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, runCall{name: name, args: args})
	return f.out, f.err
}

func newTestSupervisor(t *testing.T, run *fakeRun) *ExecSupervisor {
	dir := t.TempDir()
	conf := newTestConfig(t, fmt.Sprintf(`
node:
  run_dir: %s
  qm_cmd: /opt/qm
`, dir))
	return newExecSupervisor(conf, log.NewNop(), run.run)
}

func TestExecSupervisor_IsRunning(t *testing.T) {
	s := newTestSupervisor(t, &fakeRun{})
	ctx := context.Background()

	pid, err := s.IsRunning(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, pid)

	require.NoError(t, os.WriteFile(s.pidFile(100), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644))
	pid, err = s.IsRunning(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, os.WriteFile(s.pidFile(101), []byte("garbage"), 0o644))
	_, err = s.IsRunning(ctx, 101)
	assert.Error(t, err)
}

func TestExecSupervisor_Start(t *testing.T) {
	run := &fakeRun{}
	s := newTestSupervisor(t, run)

	require.NoError(t, s.Start(context.Background(), 100, collab.StartParams{
		MigratedFrom:  "pve1",
		StateURI:      "unix",
		MigrationType: "secure",
		Network:       "10.0.0.0/24",
	}))
	require.Len(t, run.calls, 1)
	assert.Equal(t, "/opt/qm", run.calls[0].name)
	assert.Equal(t, []string{
		"start", "100", "--skiplock", "1",
		"--migratedfrom", "pve1",
		"--stateuri", "unix",
		"--migration_type", "secure",
		"--migration_network", "10.0.0.0/24",
	}, run.calls[0].args)
}

func TestExecSupervisor_Stop(t *testing.T) {
	run := &fakeRun{}
	s := newTestSupervisor(t, run)

	require.NoError(t, s.Stop(context.Background(), 100, collab.StopOptions{
		SkipLock:     true,
		KeepActive:   true,
		MigratedFrom: "pve1",
		Timeout:      90 * time.Second,
	}))
	assert.Equal(t, []string{
		"stop", "100", "--skiplock", "1", "--keepActive", "1", "--migratedfrom", "pve1", "--timeout", "90",
	}, run.calls[0].args)

	require.NoError(t, s.Stop(context.Background(), 101, collab.StopOptions{}))
	assert.Equal(t, []string{"stop", "101"}, run.calls[1].args)
}

func TestExecSupervisor_CommandError(t *testing.T) {
	run := &fakeRun{out: []byte("VM 100 already running\n"), err: errors.New("exit status 255")}
	s := newTestSupervisor(t, run)

	err := s.Start(context.Background(), 100, collab.StartParams{})
	require.Error(t, err)
	assert.Equal(t, "qm start failed: VM 100 already running: exit status 255", err.Error())
}

func TestExecSupervisor_CommandLine(t *testing.T) {
	s := newTestSupervisor(t, &fakeRun{})
	s.procFS = t.TempDir()
	pid := os.Getpid()

	_, err := s.CommandLine(context.Background(), 100)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(s.pidFile(100), []byte(strconv.Itoa(pid)), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(s.procFS, strconv.Itoa(pid)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.procFS, strconv.Itoa(pid), "cmdline"),
		[]byte("/usr/bin/kvm\x00-id\x00100\x00-machine\x00pc-i440fx-8.1\x00"), 0o644))

	args, err := s.CommandLine(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"/usr/bin/kvm", "-id", "100", "-machine", "pc-i440fx-8.1"}, args)
}
