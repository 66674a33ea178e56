package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pvemigrate/internal/collab"
	"pvemigrate/internal/collab/collabtest"
	"pvemigrate/internal/storagesync"
	"pvemigrate/pkg/log"
	"pvemigrate/pkg/qmp"
	"pvemigrate/pkg/tunnel"
	mock_collab "pvemigrate/test/mocks/collab"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const (
	volDisk0  = "local:100/vm-100-disk-0.qcow2"
	volShared = "shared:100/vm-100-disk-1.raw"
)

type monitorCall struct {
	name string
	args map[string]interface{}
}

// fakeVM 模拟源端 qemu 的监控通道
type fakeVM struct {
	mu       sync.Mutex
	status   string
	calls    []monitorCall
	jobs     map[string]bool
	jobPolls int
	// migrateStates query-migrate 依次返回，最后一个重复
	migrateStates []string
	queries       int
	onQuery       func(n int)
}

func newFakeVM(states ...string) *fakeVM {
	return &fakeVM{status: "running", jobs: make(map[string]bool), migrateStates: states}
}

func (v *fakeVM) Cmd(ctx context.Context, peer qmp.Peer, name string, args interface{}, opts ...qmp.CmdOption) (json.RawMessage, error) {
	var a map[string]interface{}
	if args != nil {
		b, _ := json.Marshal(args)
		_ = json.Unmarshal(b, &a)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, monitorCall{name: name, args: a})

	switch name {
	case "query-status":
		return json.RawMessage(fmt.Sprintf(`{"status":%q,"running":%t}`, v.status, v.status == "running")), nil
	case "cont":
		v.status = "running"
	case "drive-mirror":
		v.jobs[a["job-id"].(string)] = true
	case "block-job-cancel":
		delete(v.jobs, a["device"].(string))
	case "query-block-jobs":
		v.jobPolls++
		var out []string
		for id := range v.jobs {
			out = append(out, fmt.Sprintf(`{"device":%q,"type":"mirror","len":4096,"offset":4096,"ready":true,"status":"ready","actively-synced":true}`, id))
		}
		return json.RawMessage("[" + strings.Join(out, ",") + "]"), nil
	case "query-block":
		return json.RawMessage(`[]`), nil
	case "query-migrate":
		v.queries++
		if v.onQuery != nil {
			v.onQuery(v.queries)
		}
		state := v.migrateStates[0]
		if len(v.migrateStates) > 1 {
			v.migrateStates = v.migrateStates[1:]
		}
		switch {
		case strings.HasPrefix(state, `{"status":"completed"`):
			v.status = "postmigrate"
		case strings.HasPrefix(state, `{"status":"failed"`):
			v.status = "postmigrate"
		}
		return json.RawMessage(state), nil
	}
	return json.RawMessage(`{}`), nil
}

func (v *fakeVM) find(name string) []monitorCall {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []monitorCall
	for _, c := range v.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

func active(remaining, transferred int64) string {
	return fmt.Sprintf(`{"status":"active","ram":{"remaining":%d,"transferred":%d,"total":1073741824,"mbps":800}}`, remaining, transferred)
}

const completed = `{"status":"completed","downtime":42,"total-time":3000,"ram":{"transferred":1073741824,"remaining":0,"total":1073741824}}`

// fakeTarget 模拟目标端的隧道命令处理
type fakeTarget struct {
	dir string

	mu        sync.Mutex
	cmds      []string
	params    map[string][]json.RawMessage
	fail      map[string]error
	finished  []bool
	listeners []net.Listener
	imports   map[string][]byte
	current   string
	done      chan struct{}
}

func newFakeTarget(dir string) *fakeTarget {
	return &fakeTarget{
		dir:     dir,
		params:  make(map[string][]json.RawMessage),
		fail:    make(map[string]error),
		imports: make(map[string][]byte),
	}
}

func (f *fakeTarget) Write(ctx context.Context, cmd string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	raw, _ := json.Marshal(params)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	f.params[cmd] = append(f.params[cmd], raw)
	if err := f.fail[cmd]; err != nil {
		return nil, err
	}

	switch cmd {
	case "bwlimit":
		return json.Marshal(collab.BWLimitResult{})
	case "disk":
		var p collab.DiskParams
		_ = json.Unmarshal(raw, &p)
		return json.Marshal(collab.DiskResult{VolID: p.Storage + ":100/vm-100-disk-10." + p.Format})
	case "start":
		var p collab.StartParams
		_ = json.Unmarshal(raw, &p)
		res := collab.StartResult{
			Migrate: collab.MigrateEndpoint{Proto: "unix", Addr: filepath.Join(f.dir, "100.migrate")},
			NBD:     make(map[string]collab.NBDEndpoint),
		}
		for drive, req := range p.NBD {
			res.NBD[drive] = collab.NBDEndpoint{
				URI:    storagesync.NBDUnixURI(filepath.Join(f.dir, "100_nbd.migrate"), drive),
				VolID:  req.VolID,
				Bitmap: req.Bitmap,
			}
		}
		return json.Marshal(res)
	case "disk-import":
		var p storagesync.DiskImportParams
		_ = json.Unmarshal(raw, &p)
		f.current = p.VolID
		f.done = make(chan struct{})
		return json.Marshal(storagesync.DiskImportResult{Socket: "/run/qemu-server/100.storage"})
	case "query-disk-import":
		select {
		case <-f.done:
			_, name, _ := strings.Cut(f.current, ":")
			return json.Marshal(storagesync.DiskImportStatus{Status: storagesync.ImportComplete, VolID: "target:" + name})
		default:
			return json.Marshal(storagesync.DiskImportStatus{Status: storagesync.ImportPending})
		}
	}
	return json.RawMessage(`{}`), nil
}

func (f *fakeTarget) ForwardUnixSocket(ctx context.Context, local, remote string) error {
	os.Remove(local)
	ln, err := net.Listen("unix", local)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.listeners = append(f.listeners, ln)
	volid, done := f.current, f.done
	f.mu.Unlock()

	if !strings.HasSuffix(local, ".storage") {
		go func() {
			for {
				conn, err := ln.Accept()
				if err != nil {
					return
				}
				conn.Close()
			}
		}()
		return nil
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		size, err := storagesync.ReadSizeHeader(conn)
		if err != nil {
			return
		}
		data, _ := io.ReadAll(io.LimitReader(conn, size))
		f.mu.Lock()
		f.imports[volid] = data
		f.mu.Unlock()
		close(done)
	}()
	return nil
}

func (f *fakeTarget) Finish(ctx context.Context, graceful bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, graceful)
	for _, ln := range f.listeners {
		ln.Close()
	}
	return nil
}

func (f *fakeTarget) Proto() string     { return tunnel.ProtoWebsocket }
func (f *fakeTarget) Version() int      { return tunnel.ProtocolVersion }
func (f *fakeTarget) Sockets() []string { return nil }

func (f *fakeTarget) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cmds...)
}

type fakeOpener struct {
	tun    tunnel.Tunnel
	err    error
	opened int
}

func (o *fakeOpener) Open(ctx context.Context, task *collab.MigrationTask) (tunnel.Tunnel, error) {
	o.opened++
	if o.err != nil {
		return nil, o.err
	}
	return o.tun, nil
}

type env struct {
	t        *testing.T
	dir      string
	storage  *collabtest.Storage
	configs  *collabtest.ConfigStore
	repl     *collabtest.Replication
	vm       *fakeVM
	target   *fakeTarget
	opener   *fakeOpener
	sup      *mock_collab.MockSupervisor
	locker   *mock_collab.MockLocker
	logs     *observer.ObservedLogs
	m        *Migrator
	unlocked bool
}

func vmConfig() *collab.VMConfig {
	return &collab.VMConfig{
		VMID:      100,
		Node:      "node1",
		MemoryMiB: 1024,
		Drives: map[string]collab.Drive{
			"scsi0": {Key: "scsi0", VolID: volDisk0, Size: 4096, Format: "qcow2"},
			"scsi1": {Key: "scsi1", VolID: volShared, Size: 8192, Format: "raw"},
		},
		Nets: map[string]collab.NetDevice{
			"net0": {Model: "virtio", MAC: "BC:24:11:00:00:01", Bridge: "vmbr0"},
		},
	}
}

func newEnv(t *testing.T, cfg *collab.VMConfig, running bool, states ...string) *env {
	dir, err := os.MkdirTemp("", "mig")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	ctrl := gomock.NewController(t)
	e := &env{
		t:       t,
		dir:     dir,
		storage: collabtest.NewStorage(dir),
		configs: collabtest.NewConfigStore(cfg),
		repl:    &collabtest.Replication{},
		vm:      newFakeVM(states...),
		target:  newFakeTarget(dir),
		sup:     mock_collab.NewMockSupervisor(ctrl),
		locker:  mock_collab.NewMockLocker(ctrl),
	}
	e.opener = &fakeOpener{tun: e.target}
	e.storage.AddStore(collab.StorageInfo{ID: "local", Type: "dir", Enabled: true})
	e.storage.AddStore(collab.StorageInfo{ID: "target", Type: "dir", Enabled: true, Nodes: []string{"node2"}})
	e.storage.AddStore(collab.StorageInfo{ID: "shared", Type: "nfs", Shared: true, Enabled: true})
	require.NoError(t, e.storage.AddVolume(collab.VolumeInfo{VolID: volDisk0, Format: "qcow2", Owner: 100}, []byte(strings.Repeat("x", 4096))))

	pid := 0
	if running {
		pid = 4242
	}
	e.sup.EXPECT().IsRunning(gomock.Any(), uint32(100)).Return(pid, nil).AnyTimes()
	e.locker.EXPECT().Lock(gomock.Any(), uint32(100), "t1", gomock.Any()).
		Return(func(context.Context) error { e.unlocked = true; return nil }, nil).AnyTimes()

	core, logs := observer.New(zap.InfoLevel)
	e.logs = logs
	logger := &log.Logger{Logger: zap.New(core)}

	engine := storagesync.NewEngine(e.storage, e.repl, e.vm, logger, storagesync.Config{
		RunDir:             dir,
		JobPoll:            5 * time.Millisecond,
		ImportPoll:         5 * time.Millisecond,
		SocketWaitRetries:  50,
		SocketWaitInterval: 5 * time.Millisecond,
		CancelTimeout:      time.Second,
	})
	e.m = NewMigrator(Deps{
		Monitor:     e.vm,
		Engine:      engine,
		Supervisor:  e.sup,
		Configs:     e.configs,
		Locker:      e.locker,
		Storage:     e.storage,
		Replication: e.repl,
		Tunnels:     e.opener,
	}, logger, Config{
		RunDir:             dir,
		PollInterval:       5 * time.Millisecond,
		MinPollInterval:    time.Millisecond,
		LogEvery:           1,
		StallThreshold:     5,
		Downtime:           100 * time.Millisecond,
		MaxDowntime:        30 * time.Second,
		SocketWaitRetries:  50,
		SocketWaitInterval: 5 * time.Millisecond,
	})
	return e
}

func newTask(opts collab.Options) *collab.MigrationTask {
	return collab.NewMigrationTask("t1", 100, "node1", "node2", opts)
}

func (e *env) downtimeChanges() []float64 {
	var out []float64
	for _, c := range e.vm.find("migrate-set-parameters") {
		if len(c.args) == 1 {
			out = append(out, c.args["downtime-limit"].(float64))
		}
	}
	return out
}

func TestMigrate_OnlineSharedAndLocalDisk(t *testing.T) {
	e := newEnv(t, vmConfig(), true, `{"status":"setup"}`, active(1<<30, 1<<20), active(1<<29, 1<<29), completed)
	e.sup.EXPECT().Stop(gomock.Any(), uint32(100), collab.StopOptions{SkipLock: true}).Return(nil)

	task := newTask(collab.Options{Online: true, WithLocalDisks: true, MigrationType: collab.TypeWebsocket, BridgeMap: map[string]string{"vmbr0": "vmbr1"}})
	require.NoError(t, e.m.Migrate(context.Background(), task))

	assert.Equal(t, collab.PhaseDone, task.Phase)
	assert.False(t, task.Errors)
	require.Len(t, task.Volumes, 1)
	assert.Equal(t, collab.ModeOnline, task.Volumes[volDisk0].Mode)

	mirrors := e.vm.find("drive-mirror")
	require.Len(t, mirrors, 1)
	assert.Equal(t, "drive-scsi0", mirrors[0].args["device"])
	assert.Equal(t, "full", mirrors[0].args["sync"])

	cancels := e.vm.find("block-job-cancel")
	require.Len(t, cancels, 1)
	assert.NotContains(t, cancels[0].args, "force")

	migrate := e.vm.find("migrate")
	require.Len(t, migrate, 1)
	assert.Equal(t, "unix:"+filepath.Join(e.dir, "100.migrate"), migrate[0].args["uri"])
	assert.Empty(t, e.vm.find("migrate_cancel"))

	assert.Equal(t, []string{"config", "disk", "start", "resume", "unlock"}, e.target.commands())
	assert.Equal(t, []bool{true}, e.target.finished)

	var sent collab.ConfigParams
	require.NoError(t, json.Unmarshal(e.target.params["config"][0], &sent))
	assert.Equal(t, "vmbr1", sent.Config.Nets["net0"].Bridge)
	assert.Equal(t, "node2", sent.Config.Node)
	assert.Equal(t, "migrate", sent.Config.Lock)

	assert.Equal(t, []string{volDisk0}, e.storage.Freed())
	stored := e.configs.Get(100)
	assert.Equal(t, "node2", stored.Node)
	assert.Empty(t, stored.Lock)
	assert.True(t, e.unlocked)
	assert.Equal(t, "local:100/vm-100-disk-10.qcow2", task.TargetDrives["scsi0"].VolID)
}

func TestMigrate_SnapshotRejectedBeforeTunnel(t *testing.T) {
	cfg := vmConfig()
	cfg.Snapshots = map[string]collab.Snapshot{
		"s1": {Name: "s1", Drives: map[string]collab.Drive{"scsi0": {Key: "scsi0", VolID: volDisk0}}},
	}
	e := newEnv(t, cfg, true, completed)

	err := e.m.Migrate(context.Background(), newTask(collab.Options{Online: true, WithLocalDisks: true}))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), "snapshot")
	assert.Zero(t, e.opener.opened)
	assert.Empty(t, e.vm.find("drive-mirror"))
	assert.Empty(t, e.configs.Get(100).Lock)
	assert.True(t, e.unlocked)
}

func TestMigrate_OfflineSnapshotsCarried(t *testing.T) {
	cfg := vmConfig()
	cfg.Snapshots = map[string]collab.Snapshot{
		"s1": {Name: "s1", Drives: map[string]collab.Drive{"scsi0": {Key: "scsi0", VolID: volDisk0}}},
	}
	e := newEnv(t, cfg, false, completed)

	task := newTask(collab.Options{TargetStorage: map[string]string{"local": "target"}})
	require.NoError(t, e.m.Migrate(context.Background(), task))

	var p storagesync.DiskImportParams
	require.Len(t, e.target.params["disk-import"], 1)
	require.NoError(t, json.Unmarshal(e.target.params["disk-import"][0], &p))
	assert.Equal(t, collab.ExportQcow2Size, p.ExportFormat)
	assert.True(t, p.WithSnapshots)
	assert.Equal(t, strings.Repeat("x", 4096), string(e.target.imports[volDisk0]))
	assert.Equal(t, "node2", e.configs.Get(100).Node)
}

func TestMigrate_RawSnapshotRejectedBeforeTunnel(t *testing.T) {
	const volRaw = "local:100/vm-100-disk-1.raw"
	cfg := vmConfig()
	cfg.Unused = []string{volRaw}
	cfg.Snapshots = map[string]collab.Snapshot{
		"s1": {Name: "s1", Drives: map[string]collab.Drive{"scsi2": {Key: "scsi2", VolID: volRaw}}},
	}
	e := newEnv(t, cfg, false, completed)
	require.NoError(t, e.storage.AddVolume(collab.VolumeInfo{VolID: volRaw, Size: 4096, Format: "raw", Owner: 100}, nil))

	err := e.m.Migrate(context.Background(), newTask(collab.Options{}))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), "can't be exported with snapshots")
	assert.Zero(t, e.opener.opened)
	assert.Empty(t, e.target.commands())
	assert.Empty(t, e.configs.Get(100).Lock)
}

func TestMigrate_FSTrimOnlyAfterCopy(t *testing.T) {
	cfg := vmConfig()
	cfg.FSTrimClonedDisks = true
	e := newEnv(t, cfg, true, completed)
	e.sup.EXPECT().Stop(gomock.Any(), uint32(100), gomock.Any()).Return(nil)
	require.NoError(t, e.m.Migrate(context.Background(), newTask(collab.Options{Online: true, WithLocalDisks: true})))
	assert.Contains(t, e.target.commands(), "fstrim")

	// 只有已复制的未挂载卷，没有数据需要传输
	cfg = vmConfig()
	cfg.FSTrimClonedDisks = true
	delete(cfg.Drives, "scsi0")
	cfg.Unused = []string{volDisk0}
	e = newEnv(t, cfg, true, completed)
	e.repl.Volumes = map[string]collab.ReplicatedVolume{volDisk0: {VolID: volDisk0}}
	e.sup.EXPECT().Stop(gomock.Any(), uint32(100), gomock.Any()).Return(nil)
	task := newTask(collab.Options{Online: true})
	require.NoError(t, e.m.Migrate(context.Background(), task))
	require.Len(t, task.Volumes, 1)
	assert.True(t, task.Volumes[volDisk0].Replicated)
	assert.NotContains(t, e.target.commands(), "fstrim")
	assert.Empty(t, e.target.params["disk-import"])
}

func TestMigrate_IncompatibleTunnelVersion(t *testing.T) {
	e := newEnv(t, vmConfig(), true, completed)
	e.opener.err = fmt.Errorf("negotiate: %w", tunnel.ErrIncompatibleVersion)

	err := e.m.Migrate(context.Background(), newTask(collab.Options{Online: true, WithLocalDisks: true}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, tunnel.ErrIncompatibleVersion))
	var terr *TransportError
	assert.ErrorAs(t, err, &terr)
	assert.Empty(t, e.target.commands())
	assert.Empty(t, e.vm.find("migrate"))
}

func TestMigrate_ConvergenceStallDoublesDowntime(t *testing.T) {
	states := []string{`{"status":"setup"}`}
	for i := 1; i <= 13; i++ {
		states = append(states, active(1<<30, int64(i)<<20))
	}
	states = append(states, completed)
	e := newEnv(t, vmConfig(), true, states...)
	e.sup.EXPECT().Stop(gomock.Any(), uint32(100), gomock.Any()).Return(nil)

	require.NoError(t, e.m.Migrate(context.Background(), newTask(collab.Options{Online: true, WithLocalDisks: true})))

	assert.Equal(t, []float64{200, 400}, e.downtimeChanges())
	increased := e.logs.FilterMessage("auto-increased downtime to continue migration").All()
	require.Len(t, increased, 2)
	assert.EqualValues(t, 200, increased[0].ContextMap()["downtime_ms"])
	assert.EqualValues(t, 400, increased[1].ContextMap()["downtime_ms"])
}

func TestMigrate_ShrinkingRemainderKeepsDowntime(t *testing.T) {
	var states []string
	for i := 0; i < 12; i++ {
		states = append(states, active(int64(100-i)<<20, int64(i)<<20))
	}
	states = append(states, completed)
	e := newEnv(t, vmConfig(), true, states...)
	e.sup.EXPECT().Stop(gomock.Any(), uint32(100), gomock.Any()).Return(nil)

	require.NoError(t, e.m.Migrate(context.Background(), newTask(collab.Options{Online: true, WithLocalDisks: true})))
	assert.Empty(t, e.downtimeChanges())
}

func TestMigrate_DowntimeCappedAtMax(t *testing.T) {
	states := []string{}
	for i := 0; i < 25; i++ {
		states = append(states, active(1<<30, 1<<20))
	}
	states = append(states, completed)
	e := newEnv(t, vmConfig(), true, states...)
	e.m.conf.MaxDowntime = 300 * time.Millisecond
	e.sup.EXPECT().Stop(gomock.Any(), uint32(100), gomock.Any()).Return(nil)

	require.NoError(t, e.m.Migrate(context.Background(), newTask(collab.Options{Online: true, WithLocalDisks: true})))
	assert.Equal(t, []float64{200, 300}, e.downtimeChanges())
	assert.NotEmpty(t, e.logs.FilterMessage("migration not converging, downtime limit already at maximum").All())
}

func assertRolledBack(t *testing.T, e *env) {
	t.Helper()
	assert.Len(t, e.vm.find("migrate_cancel"), 1)
	cancels := e.vm.find("block-job-cancel")
	require.Len(t, cancels, 1)
	assert.Equal(t, true, cancels[0].args["force"])
	assert.Equal(t, "running", e.vm.status)
	assert.Contains(t, e.target.commands(), "stop")
	assert.NotContains(t, e.target.commands(), "resume")
	assert.Equal(t, []bool{false}, e.target.finished)

	stored := e.configs.Get(100)
	assert.Equal(t, "node1", stored.Node)
	assert.Empty(t, stored.Lock)
	assert.Empty(t, e.storage.Freed())
	assert.True(t, e.unlocked)
}

func TestMigrate_FailedStatusRollsBack(t *testing.T) {
	e := newEnv(t, vmConfig(), true, active(1<<30, 1<<20), `{"status":"failed","error-desc":"connection reset"}`)

	err := e.m.Migrate(context.Background(), newTask(collab.Options{Online: true, WithLocalDisks: true}))
	var cerr *ConvergenceError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "failed", cerr.Status)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Len(t, e.vm.find("cont"), 1)
	assertRolledBack(t, e)
}

func TestMigrate_CancelBeforeCompleted(t *testing.T) {
	e := newEnv(t, vmConfig(), true, active(1<<30, 1<<20))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.vm.onQuery = func(n int) {
		if n == 3 {
			cancel()
		}
	}

	err := e.m.Migrate(ctx, newTask(collab.Options{Online: true, WithLocalDisks: true}))
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, e.vm.find("cont"))
	assertRolledBack(t, e)
}

func TestMigrate_TargetStartFailure(t *testing.T) {
	e := newEnv(t, vmConfig(), true, completed)
	e.target.fail["start"] = &tunnel.RemoteError{Cmd: "start", Msg: "not enough memory"}

	err := e.m.Migrate(context.Background(), newTask(collab.Options{Online: true, WithLocalDisks: true}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not enough memory")
	assert.Empty(t, e.vm.find("migrate_cancel"))
	assert.Empty(t, e.vm.find("drive-mirror"))
	assert.NotContains(t, e.target.commands(), "stop")
	assert.Equal(t, []bool{false}, e.target.finished)
	assert.Empty(t, e.configs.Get(100).Lock)
}

func TestMigrate_OfflineVM(t *testing.T) {
	e := newEnv(t, vmConfig(), false, completed)

	task := newTask(collab.Options{Online: true, TargetStorage: map[string]string{"local": "target"}})
	require.NoError(t, e.m.Migrate(context.Background(), task))

	assert.False(t, task.Opts.Online)
	assert.Equal(t, []string{"bwlimit", "disk-import", "query-disk-import", "config", "unlock"}, dedup(e.target.commands()))
	assert.Equal(t, strings.Repeat("x", 4096), string(e.target.imports[volDisk0]))

	var sent collab.ConfigParams
	require.NoError(t, json.Unmarshal(e.target.params["config"][0], &sent))
	assert.Equal(t, "target:100/vm-100-disk-0.qcow2", sent.Config.Drives["scsi0"].VolID)
	assert.Equal(t, volShared, sent.Config.Drives["scsi1"].VolID)

	assert.Empty(t, e.vm.calls)
	assert.Equal(t, []string{volDisk0}, e.storage.Freed())
	assert.Equal(t, "node2", e.configs.Get(100).Node)
}

func dedup(in []string) []string {
	var out []string
	for _, s := range in {
		if len(out) == 0 || out[len(out)-1] != s {
			out = append(out, s)
		}
	}
	return out
}

func TestMigrate_PausedVMStaysPaused(t *testing.T) {
	e := newEnv(t, vmConfig(), true, completed)
	e.vm.status = "paused"
	e.sup.EXPECT().Stop(gomock.Any(), uint32(100), gomock.Any()).Return(nil)

	task := newTask(collab.Options{Online: true, WithLocalDisks: true})
	require.NoError(t, e.m.Migrate(context.Background(), task))
	assert.Equal(t, "paused", task.SourceStatus)
	assert.NotContains(t, e.target.commands(), "resume")
}

func TestMigrate_FinalizeErrorsAreWarnings(t *testing.T) {
	e := newEnv(t, vmConfig(), true, completed)
	e.configs.MoveErr = errors.New("cluster filesystem read-only")
	e.target.fail["unlock"] = errors.New("unlock failed")
	e.sup.EXPECT().Stop(gomock.Any(), uint32(100), gomock.Any()).Return(nil)

	task := newTask(collab.Options{Online: true, WithLocalDisks: true})
	require.NoError(t, e.m.Migrate(context.Background(), task))
	assert.True(t, task.Errors)
	assert.Equal(t, collab.PhaseDone, task.Phase)
	assert.Empty(t, e.storage.Freed())
	assert.Contains(t, e.target.commands(), "resume")
	assert.NotEmpty(t, e.logs.FilterMessage("migration finished with problems").All())
}

func TestMigrate_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		running bool
		mutate  func(cfg *collab.VMConfig)
		opts    collab.Options
		msg     string
	}{
		{name: "locked", mutate: func(cfg *collab.VMConfig) { cfg.Lock = "backup" }, opts: collab.Options{}, msg: "locked (backup)"},
		{name: "running without online", running: true, mutate: func(cfg *collab.VMConfig) {}, opts: collab.Options{}, msg: "without --online"},
		{name: "local devices", mutate: func(cfg *collab.VMConfig) { cfg.HostPCI = []string{"0000:01:00.0"} }, opts: collab.Options{}, msg: "local devices"},
		{name: "vnc clipboard", running: true, mutate: func(cfg *collab.VMConfig) { cfg.Clipboard = "vnc" }, opts: collab.Options{Online: true, WithLocalDisks: true}, msg: "clipboard"},
		{name: "wrong node", mutate: func(cfg *collab.VMConfig) { cfg.Node = "node3" }, opts: collab.Options{}, msg: "not on node"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := vmConfig()
			tt.mutate(cfg)
			e := newEnv(t, cfg, tt.running, completed)

			err := e.m.Migrate(context.Background(), newTask(tt.opts))
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, err.Error(), tt.msg)
			assert.Zero(t, e.opener.opened)
		})
	}
}

func TestMigrate_GuestLockHeld(t *testing.T) {
	ctrl := gomock.NewController(t)
	locker := mock_collab.NewMockLocker(ctrl)
	locker.EXPECT().Lock(gomock.Any(), uint32(100), "t1", gomock.Any()).Return(nil, collab.ErrLocked)

	m := NewMigrator(Deps{Locker: locker}, log.NewNop(), Config{})
	err := m.Migrate(context.Background(), newTask(collab.Options{}))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestXBZRLECacheSize(t *testing.T) {
	const mib = 1024 * 1024
	assert.Equal(t, int64(64*mib), xbzrleCacheSize(512*mib, 64*mib))
	assert.Equal(t, int64(512*mib), xbzrleCacheSize(8192*mib, 64*mib))
	assert.Equal(t, int64(256*mib), xbzrleCacheSize(4096*mib, 64*mib))
}

func TestMigrateURI(t *testing.T) {
	r := &run{task: &collab.MigrationTask{Tunnel: &collab.TunnelInfo{Proto: "tcp", Addr: "fd00::2", Port: 60000}}}
	uri, err := r.migrateURI()
	require.NoError(t, err)
	assert.Equal(t, "tcp:[fd00::2]:60000", uri)

	r.task.Tunnel = &collab.TunnelInfo{Proto: "rdma"}
	_, err = r.migrateURI()
	assert.Error(t, err)
}
