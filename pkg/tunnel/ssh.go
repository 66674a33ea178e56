package tunnel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"pvemigrate/pkg/log"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

type SSHConfig struct {
	Host       string
	Port       int
	User       string
	KeyFile    string
	KnownHosts string
	// Helper 远端执行的隧道程序
	Helper  string
	Timeout time.Duration
}

// ErrNoKnownHosts 没有 known_hosts 时不连接，不跳过主机密钥校验
var ErrNoKnownHosts = errors.New("tunnel: ssh known_hosts not configured")

func (c SSHConfig) clientConfig() (*ssh.ClientConfig, error) {
	if c.KnownHosts == "" {
		return nil, ErrNoKnownHosts
	}
	hostKeyCallback, err := knownhosts.New(c.KnownHosts)
	if err != nil {
		return nil, fmt.Errorf("load known hosts: %w", err)
	}
	key, err := os.ReadFile(c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key: %w", err)
	}
	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.Timeout,
	}, nil
}

// OpenSSH 在目标节点上启动隧道程序，控制命令走会话的 stdin/stdout，
// 转发的 socket 走 ssh 的 streamlocal 通道。
func OpenSSH(ctx context.Context, cfg SSHConfig, vmid uint32, logger *log.Logger) (*Channel, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	conf, err := cfg.clientConfig()
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	sc, chans, reqs, err := ssh.NewClientConn(raw, addr, conf)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	client := ssh.NewClient(sc, chans, reqs)

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ssh session: %w", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		client.Close()
		return nil, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		client.Close()
		return nil, err
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		client.Close()
		return nil, err
	}
	go logStderr(stderr, logger.With(zap.String("host", cfg.Host)))

	cmd := fmt.Sprintf("%s --vmid %d", cfg.Helper, vmid)
	if err := session.Start(cmd); err != nil {
		client.Close()
		return nil, fmt.Errorf("start '%s' on %s: %w", cmd, cfg.Host, err)
	}

	dial := func(ctx context.Context, remote string) (io.ReadWriteCloser, error) {
		return client.Dial("unix", remote)
	}
	onClose := func() error {
		session.Close()
		return client.Close()
	}
	ch := NewChannel(ProtoSSH, NewStreamLineConn(stdout, stdin, stdin), dial, onClose, logger)
	if err := ch.Negotiate(ctx); err != nil {
		ch.abort()
		return nil, err
	}
	return ch, nil
}

func logStderr(r io.Reader, logger *zap.Logger) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		logger.Info("tunnel: " + sc.Text())
	}
}
