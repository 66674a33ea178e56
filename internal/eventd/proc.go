//go:build linux

package eventd

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

func peerPID(conn net.Conn) (int, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return 0, fmt.Errorf("not a unix socket: %T", conn)
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var cred *unix.Ucred
	var serr error
	if err := raw.Control(func(fd uintptr) {
		cred, serr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return 0, err
	}
	if serr != nil {
		return 0, serr
	}
	return int(cred.Pid), nil
}

func sendSignal(pid, pidfd int, sig unix.Signal) error {
	if pidfd >= 0 {
		return unix.PidfdSendSignal(pidfd, sig, nil, 0)
	}
	return unix.Kill(pid, sig)
}

func vmidFromCgroup(procFS string, pid int) (uint32, error) {
	f, err := os.Open(filepath.Join(procFS, strconv.Itoa(pid), "cgroup"))
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return parseCgroupVMID(f)
}

// parseCgroupVMID 从 /proc/<pid>/cgroup 的 /qemu.slice/<vmid>.scope 条目取 vmid
func parseCgroupVMID(r io.Reader) (uint32, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		i := strings.LastIndex(line, ":")
		if i < 0 {
			continue
		}
		path := line[i+1:]
		if !strings.HasPrefix(path, "/qemu.slice/") {
			continue
		}
		name := path[strings.LastIndex(path, "/")+1:]
		id, ok := strings.CutSuffix(name, ".scope")
		if !ok || id == "" || id[0] == '-' {
			continue
		}
		vmid, err := strconv.ParseUint(id, 10, 32)
		if err != nil || vmid == 0 {
			continue
		}
		return uint32(vmid), nil
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("no matching qemu.slice cgroup entry")
}
